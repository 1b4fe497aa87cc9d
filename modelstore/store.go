// Package modelstore persists RTC models. A model is a named set of
// control groups kept in its exchange-document form, so whatever was
// uploaded can be exported again byte for byte.
package modelstore

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/liamcoop/rtc/rtcerr"
	"github.com/liamcoop/rtc/rtcxml"
)

// Model is one stored control configuration
type Model struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Bundle      rtcxml.Bundle `json:"bundle"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// Store manages model persistence and retrieval
type Store interface {
	// Add a new model. Ids and names are unique.
	Add(m *Model) error

	// Get a model by ID
	Get(id string) (*Model, error)

	// List all models, oldest first
	List() ([]*Model, error)

	// Update an existing model
	Update(m *Model) error

	// Delete a model
	Delete(id string) error
}

func notFound(id string) error {
	return fmt.Errorf("model %s: %w", id, rtcerr.ErrNotFound)
}

func duplicate(name string) error {
	return &rtcerr.DuplicateNameError{Kind: "model", Name: name}
}

// InMemoryStore implements Store using an in-memory map
type InMemoryStore struct {
	models map[string]*Model
	mu     sync.RWMutex
}

// NewInMemoryStore creates a new in-memory model store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		models: make(map[string]*Model),
	}
}

// nameTaken reports whether another model already uses name
func (s *InMemoryStore) nameTaken(name, except string) bool {
	for id, m := range s.models {
		if id != except && strings.EqualFold(m.Name, name) {
			return true
		}
	}
	return false
}

// Add adds a new model and sets its timestamps
func (s *InMemoryStore) Add(m *Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.models[m.ID]; exists {
		return fmt.Errorf("model with ID %s already exists", m.ID)
	}
	if s.nameTaken(m.Name, "") {
		return duplicate(m.Name)
	}

	now := time.Now()
	m.CreatedAt = now
	m.UpdatedAt = now
	s.models[m.ID] = m
	return nil
}

// Get retrieves a model by ID
func (s *InMemoryStore) Get(id string) (*Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, exists := s.models[id]
	if !exists {
		return nil, notFound(id)
	}
	return m, nil
}

// List returns every model ordered by creation time
func (s *InMemoryStore) List() ([]*Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*Model, 0, len(s.models))
	for _, m := range s.models {
		list = append(list, m)
	}
	slices.SortFunc(list, func(a, b *Model) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return list, nil
}

// Update replaces an existing model, keeping its CreatedAt timestamp
func (s *InMemoryStore) Update(m *Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.models[m.ID]
	if !exists {
		return notFound(m.ID)
	}
	if s.nameTaken(m.Name, m.ID) {
		return duplicate(m.Name)
	}

	m.CreatedAt = existing.CreatedAt
	m.UpdatedAt = time.Now()
	s.models[m.ID] = m
	return nil
}

// Delete removes a model from the store
func (s *InMemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.models[id]; !exists {
		return notFound(id)
	}

	delete(s.models, id)
	return nil
}
