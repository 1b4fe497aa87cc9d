package rtcxml

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/liamcoop/rtc/expression"
	"github.com/liamcoop/rtc/rtcerr"
	"github.com/liamcoop/rtc/rules"
	"github.com/liamcoop/rtc/timeseries"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func hourly(t *testing.T, values ...float64) *timeseries.Series {
	t.Helper()
	s := timeseries.New(timeseries.Numeric, time.Hour)
	for i, v := range values {
		if err := s.Add(t0.Add(time.Duration(i)*time.Hour), v); err != nil {
			t.Fatalf("building series failed: %v", err)
		}
	}
	return s
}

func hourlyBool(t *testing.T, values ...bool) *timeseries.Series {
	t.Helper()
	s := timeseries.New(timeseries.Boolean, time.Hour)
	for i, v := range values {
		if err := s.AddBool(t0.Add(time.Duration(i)*time.Hour), v); err != nil {
			t.Fatalf("building series failed: %v", err)
		}
	}
	return s
}

func build(t *testing.T, g *rules.ControlGroup, steps ...error) *rules.ControlGroup {
	t.Helper()
	for _, err := range steps {
		if err != nil {
			t.Fatalf("building group %s failed: %v", g.Name, err)
		}
	}
	return g
}

// scenarioGroup gates a factor rule on Gate1 with a water level above 2.5
func scenarioGroup(t *testing.T) *rules.ControlGroup {
	g := rules.NewControlGroup("Weir")
	return build(t, g,
		g.AddInput(&rules.Input{Name: "WaterLevel", Location: "Station1", Quantity: "Water level", Unit: "m"}),
		g.AddOutput(&rules.Output{Name: "Gate1", Location: "Gate1", Quantity: "Crest level", Unit: "m"}),
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
	)
}

// fixtureGroups covers every rule, condition and expression variant
func fixtureGroups(t *testing.T) []*rules.ControlGroup {
	t.Helper()

	setpoint := rules.SeriesSetPoint(hourly(t, 2, 2.5, 3), timeseries.Linear)
	setpoint.Extrapolation = timeseries.Periodic

	weir := rules.NewControlGroup("Weir")
	build(t, weir,
		weir.AddInput(&rules.Input{Name: "WaterLevel", Location: "Station1", Quantity: "Water level", Unit: "m"}),
		weir.AddInput(&rules.Input{Name: "Discharge", Location: "Station2", Quantity: "Discharge"}),
		weir.AddOutput(&rules.Output{Name: "Gate1", Location: "Gate1", Quantity: "Crest level", Unit: "m", InitialValue: 0.75}),
		weir.AddOutput(&rules.Output{Name: "Gate2", Location: "Gate2", Quantity: "Crest level", Unit: "m"}),
		weir.AddOutput(&rules.Output{Name: "Pump", Location: "Pump1", Quantity: "Capacity", InitialValue: -1.5}),
		weir.AddOutput(&rules.Output{Name: "Valve", Location: "Valve1", Quantity: "Opening"}),
		weir.AddOutput(&rules.Output{Name: "Sluice", Location: "Sluice1", Quantity: "Opening"}),
		weir.AddOutput(&rules.Output{Name: "Culvert", Location: "Culvert1", Quantity: "Opening"}),
		weir.AddOutput(&rules.Output{Name: "Ramp", Location: "Weir2", Quantity: "Crest level"}),
		weir.AddOutput(&rules.Output{Name: "Gate3", Location: "Gate3", Quantity: "Crest level", InitialValue: 100.001}),

		weir.AddExpression(&rules.MathematicalExpression{
			Name: "Offset",
			Root: expression.NewBranch(expression.Add,
				expression.NewParameter("WaterLevel"),
				expression.NewBranch(expression.Multiply,
					expression.NewConstant(3),
					expression.NewBranch(expression.Max, expression.NewParameter("Discharge"), expression.NewConstant(0)))),
		}),
		weir.AddExpression(&rules.MathematicalExpression{Name: "Alias", Root: expression.NewParameter("Offset")}),
		weir.AddExpression(&rules.MathematicalExpression{Name: "Fixed", Root: expression.NewConstant(-0.25)}),

		weir.AddCondition(&rules.StandardCondition{
			Name:      "HighWater",
			Input:     "WaterLevel",
			Operator:  rules.Greater,
			Threshold: expression.NewConstant(2.5),
		}),
		weir.AddCondition(&rules.StandardCondition{
			Name:      "AboveOffset",
			Input:     "WaterLevel",
			Operator:  rules.GreaterEqual,
			Threshold: expression.NewParameter("Offset"),
			Reference: rules.Explicit,
		}),
		weir.AddCondition(&rules.DirectionalCondition{Name: "Rising", Input: "WaterLevel", Operator: rules.Greater}),
		weir.AddCondition(&rules.TimeCondition{
			Name:          "Season",
			Series:        hourlyBool(t, true, false, true),
			Extrapolation: timeseries.Periodic,
		}),

		weir.AddRule(&rules.FactorRule{
			RuleBase: rules.RuleBase{Name: "PumpRule", Output: "Gate1", Conditions: []string{"HighWater"}},
			Input:    "WaterLevel",
			Factor:   expression.NewConstant(1.2),
		}),
		weir.AddRule(&rules.FactorRule{
			RuleBase: rules.RuleBase{Name: "Scaled", Output: "Gate2", Conditions: []string{"Rising", "HighWater"}},
			Input:    "Discharge",
			Factor:   expression.NewParameter("Offset"),
		}),
		weir.AddRule(&rules.HydraulicRule{
			RuleBase:      rules.RuleBase{Name: "Table", Output: "Pump"},
			Input:         "Discharge",
			Table:         []rules.LookupPoint{{X: 0, Y: 0}, {X: 10, Y: 2.5}, {X: 20, Y: 3}},
			Interpolation: timeseries.Linear,
			TimeLag:       2,
		}),
		weir.AddRule(&rules.HydraulicRule{
			RuleBase:      rules.RuleBase{Name: "Steps", Output: "Culvert", Conditions: []string{"AboveOffset"}},
			Input:         "Alias",
			Table:         []rules.LookupPoint{{X: -1, Y: 0}, {X: 1, Y: 1}},
			Interpolation: timeseries.Block,
		}),
		weir.AddRule(&rules.PIDRule{
			RuleBase:        rules.RuleBase{Name: "Pid", Output: "Valve", Conditions: []string{"Season"}},
			Input:           "WaterLevel",
			SetPoint:        setpoint,
			Kp:              0.5,
			Ki:              0.1,
			SettingMax:      10,
			SettingMaxSpeed: 0.2,
		}),
		weir.AddRule(&rules.PIDRule{
			RuleBase:   rules.RuleBase{Name: "FixedPid", Output: "Valve"},
			Input:      "WaterLevel",
			SetPoint:   rules.ConstantSetPoint(2),
			Kp:         1,
			Kd:         0.05,
			SettingMin: -1,
			SettingMax: 1,
		}),
		weir.AddRule(&rules.IntervalRule{
			RuleBase:     rules.RuleBase{Name: "Band", Output: "Sluice", Conditions: []string{"AboveOffset"}},
			Input:        "WaterLevel",
			SetPoint:     rules.SignalSetPoint("Offset"),
			SettingBelow: 0,
			SettingAbove: 1,
			MaxStep:      0.1,
			Deadband:     5,
			DeadbandType: rules.DeadbandRelative,
		}),
		weir.AddRule(&rules.IntervalRule{
			RuleBase:     rules.RuleBase{Name: "FixedBand", Output: "Sluice"},
			Input:        "WaterLevel",
			SetPoint:     rules.ConstantSetPoint(2.2),
			SettingBelow: 0.5,
			SettingAbove: 2,
			Deadband:     0.1,
		}),
		weir.AddRule(&rules.RelativeTimeRule{
			RuleBase:      rules.RuleBase{Name: "Ramp", Output: "Ramp", Conditions: []string{"AboveOffset"}},
			Table:         []rules.TimePoint{{Offset: 0, Value: 1}, {Offset: 30 * time.Minute, Value: 2}, {Offset: time.Hour, Value: 4}},
			FromValue:     true,
			MaximumPeriod: 2 * time.Hour,
			Interpolation: timeseries.Linear,
		}),
		weir.AddRule(&rules.TimeRule{
			RuleBase:      rules.RuleBase{Name: "Schedule", Output: "Gate3"},
			Series:        hourly(t, 1, 1.5, 2),
			Interpolation: timeseries.Block,
			Extrapolation: timeseries.Periodic,
		}),
	)

	pumps := rules.NewControlGroup("Pumps")
	build(t, pumps,
		pumps.AddInput(&rules.Input{Name: "Level", Location: "Basin", Quantity: "Water level", Unit: "m"}),
		pumps.AddOutput(&rules.Output{Name: "P1", Location: "Pump2", Quantity: "Capacity", InitialValue: 1.5}),
		pumps.AddCondition(&rules.StandardCondition{
			Name:      "Low",
			Input:     "Level",
			Operator:  rules.Less,
			Threshold: expression.NewConstant(0.5),
		}),
		pumps.AddRule(&rules.FactorRule{
			RuleBase: rules.RuleBase{Name: "Stop", Output: "P1", Conditions: []string{"Low"}},
			Input:    "Level",
			Factor:   expression.NewConstant(0),
		}),
	)

	return []*rules.ControlGroup{weir, pumps}
}

func assertGroupsEqual(t *testing.T, want, got []*rules.ControlGroup) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d groups, got %d", len(want), len(got))
	}
	for i := range want {
		if !want[i].Equal(got[i]) {
			t.Errorf("group %s changed in round trip: %s", want[i].Name, want[i].Diff(got[i]))
		}
	}
}

// TestRoundTrip verifies every variant survives a write and a read
func TestRoundTrip(t *testing.T) {
	groups := fixtureGroups(t)
	dir := t.TempDir()

	if err := Write(groups, dir); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	back, diags, err := Read(dir)
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if len(diags) != 0 {
		t.Errorf("expected no diagnostics, got %v", diags)
	}
	assertGroupsEqual(t, groups, back)

	for _, name := range []string{ToolsConfigFile, DataConfigFile, TimeSeriesFile, StateFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected %s to be written: %v", name, err)
		}
	}
}

// TestRoundTripIsStable verifies writing a read configuration reproduces the same bytes
func TestRoundTripIsStable(t *testing.T) {
	first, err := New().EncodeBundle(fixtureGroups(t))
	if err != nil {
		t.Fatalf("EncodeBundle() failed: %v", err)
	}
	groups, _, err := New().DecodeBundle(first)
	if err != nil {
		t.Fatalf("DecodeBundle() failed: %v", err)
	}
	second, err := New().EncodeBundle(groups)
	if err != nil {
		t.Fatalf("EncodeBundle() of decoded groups failed: %v", err)
	}

	if !bytes.Equal(first.ToolsConfig, second.ToolsConfig) {
		t.Errorf("tools config changed:\n%s\n---\n%s", first.ToolsConfig, second.ToolsConfig)
	}
	if !bytes.Equal(first.DataConfig, second.DataConfig) {
		t.Error("data config changed")
	}
	if !bytes.Equal(first.TimeSeries, second.TimeSeries) {
		t.Error("time series changed")
	}
	if !bytes.Equal(first.State, second.State) {
		t.Error("state changed")
	}
}

// TestScenario verifies the weir scenario survives a round trip and still
// drives Gate1 once the water level exceeds 2.5
func TestScenario(t *testing.T) {
	dir := t.TempDir()
	if err := Write([]*rules.ControlGroup{scenarioGroup(t)}, dir); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}

	tools, err := os.ReadFile(filepath.Join(dir, ToolsConfigFile))
	if err != nil {
		t.Fatalf("reading tools config failed: %v", err)
	}
	for _, want := range []string{
		`<factor id="[FactorRule]Weir/PumpRule">`,
		`<factor>1.2</factor>`,
		`<x1Series ref="IMPLICIT">[Input]Weir/WaterLevel</x1Series>`,
		`<relationalOperator>Greater</relationalOperator>`,
		`<x2Value>2.5</x2Value>`,
		`<ruleReference>[FactorRule]Weir/PumpRule</ruleReference>`,
		`<status>[Status]Weir/HighWater</status>`,
	} {
		if !strings.Contains(string(tools), want) {
			t.Errorf("tools config lacks %s", want)
		}
	}

	groups, _, err := Read(dir)
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
	if report := groups[0].Validate(); !report.OK() {
		t.Fatalf("decoded group is invalid: %v", report.Err())
	}

	engine, err := rules.NewEngine(groups[0])
	if err != nil {
		t.Fatalf("NewEngine() failed: %v", err)
	}
	low := engine.Step(t0, expression.Bindings{"WaterLevel": 2})
	if low.Outputs["Gate1"] != 0 {
		t.Errorf("Gate1 should keep its initial value below the threshold, got %v", low.Outputs["Gate1"])
	}
	high := engine.Step(t0.Add(time.Hour), expression.Bindings{"WaterLevel": 3})
	if got := high.Outputs["Gate1"]; math.Abs(got-3.6) > 1e-9 {
		t.Errorf("Gate1 = %v, want 3.6", got)
	}
}

// TestOutputIsLocaleIndependent verifies documents are identical under en-US and nl-NL
func TestOutputIsLocaleIndependent(t *testing.T) {
	render := func(locale string) *Bundle {
		t.Setenv("LANG", locale)
		t.Setenv("LC_ALL", locale)
		t.Setenv("LC_NUMERIC", locale)
		b, err := New().EncodeBundle(fixtureGroups(t))
		if err != nil {
			t.Fatalf("EncodeBundle() failed: %v", err)
		}
		return b
	}

	us := render("en_US.UTF-8")
	nl := render("nl_NL.UTF-8")
	docs := []struct {
		name   string
		us, nl []byte
	}{
		{ToolsConfigFile, us.ToolsConfig, nl.ToolsConfig},
		{DataConfigFile, us.DataConfig, nl.DataConfig},
		{TimeSeriesFile, us.TimeSeries, nl.TimeSeries},
		{StateFile, us.State, nl.State},
	}
	for _, d := range docs {
		if !bytes.Equal(d.us, d.nl) {
			t.Errorf("%s differs between locales", d.name)
		}
	}
	if !bytes.Contains(us.State, []byte("100.001")) {
		t.Errorf("state should carry 100.001 with a decimal point:\n%s", us.State)
	}
}

// TestReadMissingDirectory verifies a missing directory fails without groups
func TestReadMissingDirectory(t *testing.T) {
	groups, diags, err := Read(filepath.Join(t.TempDir(), "absent"))
	if !errors.Is(err, rtcerr.ErrDirectoryNotFound) {
		t.Fatalf("expected ErrDirectoryNotFound, got %v", err)
	}
	if groups != nil || diags != nil {
		t.Errorf("expected no groups and no diagnostics, got %v and %v", groups, diags)
	}
}

// TestWriteMissingDirectory verifies writing needs an existing directory
func TestWriteMissingDirectory(t *testing.T) {
	err := Write([]*rules.ControlGroup{scenarioGroup(t)}, filepath.Join(t.TempDir(), "absent"))
	if !errors.Is(err, rtcerr.ErrDirectoryNotFound) {
		t.Fatalf("expected ErrDirectoryNotFound, got %v", err)
	}
}

// TestReadMissingToolsConfig verifies an empty directory is an error
func TestReadMissingToolsConfig(t *testing.T) {
	_, _, err := Read(t.TempDir())
	if !errors.Is(err, rtcerr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// TestObserverSeesDiagnostics verifies WithObserver receives every diagnostic
func TestObserverSeesDiagnostics(t *testing.T) {
	b, err := New().EncodeBundle([]*rules.ControlGroup{scenarioGroup(t)})
	if err != nil {
		t.Fatalf("EncodeBundle() failed: %v", err)
	}
	b.State = nil

	var seen []Diagnostic
	codec := New(WithObserver(func(d Diagnostic) { seen = append(seen, d) }))
	_, diags, err := codec.DecodeBundle(b)
	if err != nil {
		t.Fatalf("DecodeBundle() failed: %v", err)
	}
	if len(seen) != len(diags) || len(seen) == 0 {
		t.Fatalf("observer saw %d diagnostics, read returned %d", len(seen), len(diags))
	}
	if seen[0].Document != StateFile || seen[0].Severity != SeverityWarning {
		t.Errorf("unexpected diagnostic: %v", seen[0])
	}
}

// TestRoundTripKeepsMissingValueData verifies a schedule holding the
// default missing value is read back whole
func TestRoundTripKeepsMissingValueData(t *testing.T) {
	g := rules.NewControlGroup("Weir")
	build(t, g,
		g.AddOutput(&rules.Output{Name: "Gate1", Location: "Gate1", Quantity: "Crest level"}),
		g.AddRule(&rules.TimeRule{
			RuleBase:      rules.RuleBase{Name: "Schedule", Output: "Gate1"},
			Series:        hourly(t, 1, -999, 3),
			Interpolation: timeseries.Linear,
			Extrapolation: timeseries.Constant,
		}),
	)

	b, err := New().EncodeBundle([]*rules.ControlGroup{g})
	if err != nil {
		t.Fatalf("EncodeBundle() failed: %v", err)
	}
	back, diags, err := New().DecodeBundle(b)
	if err != nil {
		t.Fatalf("DecodeBundle() failed: %v", err)
	}
	if diags.HasErrors() {
		t.Errorf("unexpected errors: %v", diags)
	}
	assertGroupsEqual(t, []*rules.ControlGroup{g}, back)
}
