package modelengine

import (
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/liamcoop/rtc/expression"
	"github.com/liamcoop/rtc/modelstore"
	"github.com/liamcoop/rtc/rtcerr"
	"github.com/liamcoop/rtc/rtcxml"
	"github.com/liamcoop/rtc/rules"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

// weirBundle encodes a group that opens Gate1 by 1.2 times the water level
// while the level is above 2.5
func weirBundle(t *testing.T) rtcxml.Bundle {
	t.Helper()
	g := rules.NewControlGroup("Weir")
	for _, err := range []error{
		g.AddInput(&rules.Input{Name: "WaterLevel", Location: "Station1", Quantity: "Water level"}),
		g.AddOutput(&rules.Output{Name: "Gate1", Location: "Gate1", Quantity: "Crest level"}),
		g.AddCondition(&rules.StandardCondition{
			Name:      "HighWater",
			Input:     "WaterLevel",
			Operator:  rules.Greater,
			Threshold: expression.NewConstant(2.5),
		}),
		g.AddRule(&rules.FactorRule{
			RuleBase: rules.RuleBase{Name: "PumpRule", Output: "Gate1", Conditions: []string{"HighWater"}},
			Input:    "WaterLevel",
			Factor:   expression.NewConstant(1.2),
		}),
	} {
		if err != nil {
			t.Fatalf("building group failed: %v", err)
		}
	}

	b, err := rtcxml.New().EncodeBundle([]*rules.ControlGroup{g})
	if err != nil {
		t.Fatalf("EncodeBundle() failed: %v", err)
	}
	return *b
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func newManager(t *testing.T) (*Manager, *modelstore.InMemoryStore) {
	t.Helper()
	store := modelstore.NewInMemoryStore()
	return NewManager(store), store
}

// TestCreateAndStep verifies a created model steps its gated rule
func TestCreateAndStep(t *testing.T) {
	m, _ := newManager(t)

	me, err := m.Create("Weir model", "", weirBundle(t))
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if !me.Valid() || me.Diagnostics.HasErrors() {
		t.Fatalf("model should be clean: reports %v, diagnostics %v", me.Reports, me.Diagnostics)
	}

	results, err := m.Step(me.Model.ID, t0, expression.Bindings{"WaterLevel": 3})
	if err != nil {
		t.Fatalf("Step() failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 group result, got %d", len(results))
	}
	if got := results[0].Result.Outputs["Gate1"]; !approx(got, 3.6) {
		t.Errorf("Gate1 = %v, want 3.6", got)
	}

	results, _ = m.Step(me.Model.ID, t0.Add(time.Hour), expression.Bindings{"WaterLevel": 2})
	if results[0].Result.Rules[0].Active {
		t.Error("PumpRule should be inactive at 2.0")
	}

	if err := m.Reset(me.Model.ID); err != nil {
		t.Fatalf("Reset() failed: %v", err)
	}
	en, _ := me.Engine("Weir")
	if got := en.Outputs()["Gate1"]; got != 0 {
		t.Errorf("Gate1 after Reset() = %v, want 0", got)
	}
}

// TestGroupBindings verifies qualified bindings override plain ones
func TestGroupBindings(t *testing.T) {
	got := groupBindings("Weir", expression.Bindings{
		"WaterLevel":       1,
		"Weir/WaterLevel":  3,
		"Pumps/WaterLevel": 9,
		"Discharge":        4,
	})
	want := expression.Bindings{"WaterLevel": 3, "Discharge": 4}
	if len(got) != len(want) || got["WaterLevel"] != 3 || got["Discharge"] != 4 {
		t.Errorf("groupBindings() = %v, want %v", got, want)
	}
}

func isInvalidModel(err error) bool {
	return errors.Is(err, ErrInvalidModel)
}

// TestCreateRejectsInvalidInput verifies names and documents are checked before storing
func TestCreateRejectsInvalidInput(t *testing.T) {
	m, store := newManager(t)

	tests := []struct {
		name   string
		model  string
		bundle rtcxml.Bundle
		check  func(error) bool
	}{
		{"empty name", "", weirBundle(t), isInvalidModel},
		{"bad name", "weir/1", weirBundle(t), isInvalidModel},
		{"no tools config", "Weir", rtcxml.Bundle{}, isInvalidModel},
		{"malformed tools config", "Weir", rtcxml.Bundle{ToolsConfig: []byte("<rtcToolsConfig>")}, func(err error) bool {
			var malformed *rtcerr.MalformedXMLError
			return errors.As(err, &malformed)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Create(tt.model, "", tt.bundle)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !tt.check(err) {
				t.Errorf("unexpected error type: %v", err)
			}
		})
	}

	if list, _ := store.List(); len(list) != 0 {
		t.Errorf("rejected models should not be stored, found %d", len(list))
	}
}

// TestCreateDuplicateName verifies model names are unique
func TestCreateDuplicateName(t *testing.T) {
	m, _ := newManager(t)
	if _, err := m.Create("Weir", "", weirBundle(t)); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	_, err := m.Create("Weir", "", weirBundle(t))
	var dup *rtcerr.DuplicateNameError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateNameError, got %v", err)
	}
	if len(m.List()) != 1 {
		t.Errorf("expected 1 loaded model, got %d", len(m.List()))
	}
}

// TestUpdateSwapsEngines verifies an update replaces the engines and keeps the id
func TestUpdateSwapsEngines(t *testing.T) {
	m, _ := newManager(t)
	me, err := m.Create("Weir", "", weirBundle(t))
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	old, _ := me.Engine("Weir")

	b := weirBundle(t)
	b.ToolsConfig = []byte(strings.Replace(string(b.ToolsConfig), "<factor>1.2</factor>", "<factor>2</factor>", 1))
	updated, err := m.Update(me.Model.ID, "Weir", "doubled", b)
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if updated.Model.ID != me.Model.ID || updated.Model.Description != "doubled" {
		t.Errorf("unexpected updated model: %+v", updated.Model)
	}
	if en, _ := updated.Engine("Weir"); en == old {
		t.Error("Update() should build a new engine")
	}

	results, _ := m.Step(me.Model.ID, t0, expression.Bindings{"WaterLevel": 3})
	if got := results[0].Result.Outputs["Gate1"]; got != 6 {
		t.Errorf("Gate1 = %v, want 6", got)
	}

	if _, err := m.Update("missing", "Weir", "", b); !rtcerr.IsNotFound(err) {
		t.Errorf("Update() of a missing model = %v, want ErrNotFound", err)
	}
}

// TestGetLoadsFromStore verifies models stored elsewhere are loaded on demand
func TestGetLoadsFromStore(t *testing.T) {
	store := modelstore.NewInMemoryStore()
	model := &modelstore.Model{ID: "m1", Name: "Weir", Bundle: weirBundle(t)}
	if err := store.Add(model); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	cache := modelstore.NewInMemoryCache(modelstore.DefaultCacheConfig())
	m := NewManager(store, WithCache(cache))
	if len(m.List()) != 0 {
		t.Fatal("nothing should be loaded yet")
	}

	me, err := m.Get("m1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if len(me.Groups) != 1 || me.Groups[0].Name != "Weir" {
		t.Errorf("unexpected groups: %v", me.Groups)
	}
	if cache.Len() != 1 {
		t.Errorf("decoded model should be cached, cache holds %d", cache.Len())
	}

	if _, err := m.Get("m2"); !rtcerr.IsNotFound(err) {
		t.Errorf("Get() of a missing model = %v, want ErrNotFound", err)
	}
}

// TestLoadAll verifies broken models are skipped and reported
func TestLoadAll(t *testing.T) {
	store := modelstore.NewInMemoryStore()
	for _, model := range []*modelstore.Model{
		{ID: "good", Name: "Good", Bundle: weirBundle(t)},
		{ID: "bad", Name: "Bad", Bundle: rtcxml.Bundle{ToolsConfig: []byte("<broken")}},
	} {
		if err := store.Add(model); err != nil {
			t.Fatalf("Add() failed: %v", err)
		}
	}

	m := NewManager(store)
	err := m.LoadAll()
	if err == nil || !strings.Contains(err.Error(), "bad") {
		t.Errorf("LoadAll() should report the broken model, got %v", err)
	}
	list := m.List()
	if len(list) != 1 || list[0].Model.ID != "good" {
		t.Errorf("expected only the good model to load, got %d", len(list))
	}
}

// TestDelete verifies deletion removes the model, its engines and its cache entry
func TestDelete(t *testing.T) {
	cache := modelstore.NewInMemoryCache(modelstore.DefaultCacheConfig())
	m := NewManager(modelstore.NewInMemoryStore(), WithCache(cache))
	me, err := m.Create("Weir", "", weirBundle(t))
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	if err := m.Delete(me.Model.ID); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, err := m.Get(me.Model.ID); !rtcerr.IsNotFound(err) {
		t.Errorf("Get() after Delete() = %v, want ErrNotFound", err)
	}
	if cache.Len() != 0 {
		t.Errorf("cache should be empty, holds %d", cache.Len())
	}
	if err := m.Delete(me.Model.ID); !rtcerr.IsNotFound(err) {
		t.Errorf("second Delete() = %v, want ErrNotFound", err)
	}
}

// TestExport verifies exported documents decode to the same groups
func TestExport(t *testing.T) {
	m, _ := newManager(t)
	me, err := m.Create("Weir", "", weirBundle(t))
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	b, err := m.Export(me.Model.ID)
	if err != nil {
		t.Fatalf("Export() failed: %v", err)
	}
	groups, diags, err := rtcxml.New().DecodeBundle(b)
	if err != nil || diags.HasErrors() {
		t.Fatalf("DecodeBundle() = %v, %v", diags, err)
	}
	if !groups[0].Equal(me.Groups[0]) {
		t.Errorf("export does not round trip:\n%s", groups[0].Diff(me.Groups[0]))
	}
}

// TestConcurrentSteps verifies steps and updates can run at the same time
func TestConcurrentSteps(t *testing.T) {
	m, _ := newManager(t)
	me, err := m.Create("Weir", "", weirBundle(t))
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	id := me.Model.ID
	b := weirBundle(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			if _, err := m.Step(id, t0.Add(time.Duration(i)*time.Hour), expression.Bindings{"WaterLevel": 3}); err != nil {
				t.Errorf("Step() failed: %v", err)
			}
		}(i)
		go func() {
			defer wg.Done()
			if _, err := m.Update(id, "Weir", "", b); err != nil {
				t.Errorf("Update() failed: %v", err)
			}
		}()
	}
	wg.Wait()
}

func TestValidateName(t *testing.T) {
	for _, name := range []string{"Weir", "weir model 2", "_x", "Polder-North.v2"} {
		if err := ValidateName(name); err != nil {
			t.Errorf("ValidateName(%q) = %v", name, err)
		}
	}
	for _, name := range []string{"", " Weir", "Weir ", "a/b", "-x", strings.Repeat("a", MaxNameLength+1)} {
		if err := ValidateName(name); err == nil {
			t.Errorf("ValidateName(%q) should fail", name)
		}
	}
}

func TestValidateBundle(t *testing.T) {
	if err := ValidateBundle(rtcxml.Bundle{ToolsConfig: []byte("<a/>")}); err != nil {
		t.Errorf("ValidateBundle() = %v", err)
	}
	big := rtcxml.Bundle{ToolsConfig: []byte("<a/>"), TimeSeries: make([]byte, MaxDocumentBytes+1)}
	if err := ValidateBundle(big); err == nil {
		t.Error("expected an error for an oversized document")
	}
}

func TestValidateGroups(t *testing.T) {
	if err := validateGroups(nil); err == nil {
		t.Error("expected an error for a model without groups")
	}
	groups := make([]*rules.ControlGroup, MaxGroups+1)
	for i := range groups {
		groups[i] = rules.NewControlGroup("G")
	}
	if err := validateGroups(groups); err == nil {
		t.Error("expected an error for too many groups")
	}
}
