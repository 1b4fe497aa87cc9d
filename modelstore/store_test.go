package modelstore

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/liamcoop/rtc/rtcerr"
	"github.com/liamcoop/rtc/rtcxml"
)

func newModel(name string) *Model {
	return &Model{
		ID:     uuid.NewString(),
		Name:   name,
		Bundle: rtcxml.Bundle{ToolsConfig: []byte("<rtcToolsConfig/>")},
	}
}

// TestStoreInterface verifies both stores satisfy Store
func TestStoreInterface(t *testing.T) {
	var _ Store = (*InMemoryStore)(nil)
	var _ Store = (*PostgresStore)(nil)
	var _ DecodedCache = (*InMemoryCache)(nil)
}

// TestInMemoryStoreAdd verifies an added model can be read back with timestamps set
func TestInMemoryStoreAdd(t *testing.T) {
	store := NewInMemoryStore()
	m := newModel("Weir")

	if err := store.Add(m); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	got, err := store.Get(m.ID)
	if err != nil {
		t.Fatalf("Get() failed after Add(): %v", err)
	}
	if got.Name != "Weir" {
		t.Errorf("Name = %s, want Weir", got.Name)
	}
	if got.CreatedAt.IsZero() || !got.CreatedAt.Equal(got.UpdatedAt) {
		t.Errorf("timestamps not set: created %v, updated %v", got.CreatedAt, got.UpdatedAt)
	}
}

// TestInMemoryStoreAddDuplicate verifies ids and names are unique
func TestInMemoryStoreAddDuplicate(t *testing.T) {
	store := NewInMemoryStore()
	m := newModel("Weir")
	if err := store.Add(m); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	if err := store.Add(&Model{ID: m.ID, Name: "Other"}); err == nil {
		t.Error("expected error for duplicate ID")
	}

	err := store.Add(newModel("weir"))
	var dup *rtcerr.DuplicateNameError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateNameError, got %v", err)
	}
	if dup.Kind != "model" || dup.Name != "weir" {
		t.Errorf("unexpected duplicate error: %+v", dup)
	}
}

// TestInMemoryStoreGetMissing verifies missing ids report ErrNotFound
func TestInMemoryStoreGetMissing(t *testing.T) {
	store := NewInMemoryStore()

	_, err := store.Get("nope")
	if !rtcerr.IsNotFound(err) {
		t.Errorf("Get() = %v, want ErrNotFound", err)
	}
	if err := store.Update(newModel("x")); !rtcerr.IsNotFound(err) {
		t.Errorf("Update() = %v, want ErrNotFound", err)
	}
	if err := store.Delete("nope"); !rtcerr.IsNotFound(err) {
		t.Errorf("Delete() = %v, want ErrNotFound", err)
	}
}

// TestInMemoryStoreUpdate verifies updates keep CreatedAt and advance UpdatedAt
func TestInMemoryStoreUpdate(t *testing.T) {
	store := NewInMemoryStore()
	m := newModel("Weir")
	if err := store.Add(m); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	created := m.CreatedAt

	time.Sleep(2 * time.Millisecond)
	updated := &Model{ID: m.ID, Name: "Weir", Description: "v2", Bundle: m.Bundle}
	if err := store.Update(updated); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	got, _ := store.Get(m.ID)
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt changed from %v to %v", created, got.CreatedAt)
	}
	if !got.UpdatedAt.After(created) {
		t.Errorf("UpdatedAt %v should be after %v", got.UpdatedAt, created)
	}
	if got.Description != "v2" {
		t.Errorf("Description = %q, want v2", got.Description)
	}
}

// TestInMemoryStoreUpdateNameClash verifies a rename onto another model's name fails
func TestInMemoryStoreUpdateNameClash(t *testing.T) {
	store := NewInMemoryStore()
	a, b := newModel("A"), newModel("B")
	for _, m := range []*Model{a, b} {
		if err := store.Add(m); err != nil {
			t.Fatalf("Add() failed: %v", err)
		}
	}

	err := store.Update(&Model{ID: b.ID, Name: "A"})
	var dup *rtcerr.DuplicateNameError
	if !errors.As(err, &dup) {
		t.Errorf("expected DuplicateNameError, got %v", err)
	}
}

// TestInMemoryStoreListAndDelete verifies List order and Delete
func TestInMemoryStoreListAndDelete(t *testing.T) {
	store := NewInMemoryStore()
	names := []string{"First", "Second", "Third"}
	var ids []string
	for _, name := range names {
		m := newModel(name)
		if err := store.Add(m); err != nil {
			t.Fatalf("Add() failed: %v", err)
		}
		ids = append(ids, m.ID)
		time.Sleep(time.Millisecond)
	}

	list, err := store.List()
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	for i, m := range list {
		if m.Name != names[i] {
			t.Errorf("List()[%d] = %s, want %s", i, m.Name, names[i])
		}
	}

	if err := store.Delete(ids[1]); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	list, _ = store.List()
	if len(list) != 2 {
		t.Errorf("expected 2 models after Delete(), got %d", len(list))
	}
}

// TestInMemoryStoreConcurrentAccess verifies the store is safe for concurrent use
func TestInMemoryStoreConcurrentAccess(t *testing.T) {
	store := NewInMemoryStore()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m := newModel(uuid.NewString())
			if err := store.Add(m); err != nil {
				t.Errorf("Add() failed: %v", err)
				return
			}
			if _, err := store.Get(m.ID); err != nil {
				t.Errorf("Get() failed: %v", err)
			}
			_, _ = store.List()
		}()
	}
	wg.Wait()

	list, _ := store.List()
	if len(list) != 50 {
		t.Errorf("expected 50 models, got %d", len(list))
	}
}
