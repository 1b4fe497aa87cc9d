// Package modelengine keeps one step engine per control group of every
// stored model. Models are decoded once, validated, and swapped atomically
// when they change.
package modelengine

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/liamcoop/rtc/expression"
	"github.com/liamcoop/rtc/internal/logger"
	"github.com/liamcoop/rtc/modelstore"
	"github.com/liamcoop/rtc/rtcerr"
	"github.com/liamcoop/rtc/rtcxml"
	"github.com/liamcoop/rtc/rules"
)

// ErrInvalidModel marks a model rejected by the name, size or engine checks
var ErrInvalidModel = errors.New("invalid model")

// ModelEngine is a loaded model: its decoded groups, the findings of the
// decode and of validation, and an engine per group
type ModelEngine struct {
	Model       *modelstore.Model
	Groups      []*rules.ControlGroup
	Diagnostics rtcxml.Diagnostics
	Reports     []rules.Report
	engines     map[string]*rules.Engine
}

// Engine returns the engine of the named group
func (me *ModelEngine) Engine(group string) (*rules.Engine, bool) {
	en, ok := me.engines[group]
	return en, ok
}

// Valid reports whether every group validated without issues
func (me *ModelEngine) Valid() bool {
	for _, r := range me.Reports {
		if !r.OK() {
			return false
		}
	}
	return true
}

// Manager manages the engines of all models
type Manager struct {
	engines map[string]*ModelEngine
	store   modelstore.Store
	cache   modelstore.DecodedCache
	codec   *rtcxml.Codec
	logger  *slog.Logger
	mu      sync.RWMutex
}

// Option configures a Manager
type Option func(*Manager)

// WithCache replaces the default in-memory decoded model cache
func WithCache(c modelstore.DecodedCache) Option {
	return func(m *Manager) { m.cache = c }
}

// WithLogger sets the logger of the manager and its codec
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a manager over store
func NewManager(store modelstore.Store, opts ...Option) *Manager {
	m := &Manager{
		engines: make(map[string]*ModelEngine),
		store:   store,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.cache == nil {
		m.cache = modelstore.NewInMemoryCache(modelstore.DefaultCacheConfig())
	}
	m.codec = rtcxml.New(
		rtcxml.WithLogger(m.logger),
		rtcxml.WithObserver(func(d rtcxml.Diagnostic) {
			var sv *rtcerr.SchemaValidationError
			logger.CountDiagnostic(d.Severity == rtcxml.SeverityError, errors.As(d.Err, &sv))
		}),
	)
	return m
}

// decode returns the groups of m, from the cache when it holds the same
// version
func (m *Manager) decode(model *modelstore.Model) (*modelstore.Decoded, error) {
	if d, ok := m.cache.Get(model.ID); ok && d.Version.Equal(model.UpdatedAt) {
		return d, nil
	}

	groups, diags, err := m.codec.DecodeBundle(&model.Bundle)
	if err != nil {
		return nil, err
	}
	d := &modelstore.Decoded{Groups: groups, Diagnostics: diags, Version: model.UpdatedAt}
	m.cache.Set(model.ID, d)
	return d, nil
}

// build decodes, validates and creates an engine for every group of model
func (m *Manager) build(model *modelstore.Model, d *modelstore.Decoded) (*ModelEngine, error) {
	if err := validateGroups(d.Groups); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidModel, err)
	}

	me := &ModelEngine{
		Model:       model,
		Groups:      d.Groups,
		Diagnostics: d.Diagnostics,
		engines:     make(map[string]*rules.Engine, len(d.Groups)),
	}
	for _, g := range d.Groups {
		me.Reports = append(me.Reports, g.Validate())
		en, err := rules.NewEngine(g)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidModel, err)
		}
		me.engines[g.Name] = en
	}
	return me, nil
}

// load builds and registers the engine of a stored model
func (m *Manager) load(model *modelstore.Model) (*ModelEngine, error) {
	d, err := m.decode(model)
	if err != nil {
		return nil, err
	}
	me, err := m.build(model, d)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.engines[model.ID] = me
	m.mu.Unlock()
	return me, nil
}

// LoadAll loads every stored model. A model that fails to load is logged
// and skipped; the failures are returned together.
func (m *Manager) LoadAll() error {
	models, err := m.store.List()
	if err != nil {
		return fmt.Errorf("failed to list models: %w", err)
	}

	var errs []error
	for _, model := range models {
		if _, err := m.load(model); err != nil {
			m.logger.Error("failed to load model", "model", model.ID, "name", model.Name, "error", err)
			errs = append(errs, fmt.Errorf("model %s: %w", model.ID, err))
		}
	}
	m.logger.Info("models loaded", "count", len(models)-len(errs), "failed", len(errs))
	return errors.Join(errs...)
}

// prepare checks and decodes a candidate model before it is stored
func (m *Manager) prepare(model *modelstore.Model) (*ModelEngine, error) {
	if err := errors.Join(
		ValidateName(model.Name),
		validateDescription(model.Description),
		ValidateBundle(model.Bundle),
	); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidModel, err)
	}

	groups, diags, err := m.codec.DecodeBundle(&model.Bundle)
	if err != nil {
		return nil, err
	}
	return m.build(model, &modelstore.Decoded{Groups: groups, Diagnostics: diags})
}

// Create decodes and stores a new model and starts its engines. Decode
// diagnostics and validation issues do not prevent creation; they are
// returned on the ModelEngine.
func (m *Manager) Create(name, description string, b rtcxml.Bundle) (*ModelEngine, error) {
	model := &modelstore.Model{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		Bundle:      b,
	}
	me, err := m.prepare(model)
	if err != nil {
		return nil, err
	}

	if err := m.store.Add(model); err != nil {
		return nil, err
	}
	m.cache.Set(model.ID, &modelstore.Decoded{Groups: me.Groups, Diagnostics: me.Diagnostics, Version: model.UpdatedAt})

	m.mu.Lock()
	m.engines[model.ID] = me
	m.mu.Unlock()

	m.logger.Info("model created", "model", model.ID, "name", name, "groups", len(me.Groups), "diagnostics", len(me.Diagnostics))
	return me, nil
}

// Update replaces the bundle of a model. The new engines are built before
// the old ones are swapped out, so steps in flight finish on the old model.
func (m *Manager) Update(id, name, description string, b rtcxml.Bundle) (*ModelEngine, error) {
	if _, err := m.store.Get(id); err != nil {
		return nil, err
	}

	model := &modelstore.Model{ID: id, Name: name, Description: description, Bundle: b}
	me, err := m.prepare(model)
	if err != nil {
		return nil, err
	}
	if err := m.store.Update(model); err != nil {
		return nil, err
	}
	m.cache.Set(id, &modelstore.Decoded{Groups: me.Groups, Diagnostics: me.Diagnostics, Version: model.UpdatedAt})

	m.mu.Lock()
	m.engines[id] = me
	m.mu.Unlock()

	m.logger.Info("model updated", "model", id, "name", name, "groups", len(me.Groups))
	return me, nil
}

// Get returns the engine of a model, loading it from the store when this
// manager has not seen it yet
func (m *Manager) Get(id string) (*ModelEngine, error) {
	m.mu.RLock()
	me, ok := m.engines[id]
	m.mu.RUnlock()
	if ok {
		return me, nil
	}

	model, err := m.store.Get(id)
	if err != nil {
		return nil, err
	}
	return m.load(model)
}

// List returns the loaded models ordered by creation time
func (m *Manager) List() []*ModelEngine {
	m.mu.RLock()
	list := make([]*ModelEngine, 0, len(m.engines))
	for _, me := range m.engines {
		list = append(list, me)
	}
	m.mu.RUnlock()

	slices.SortFunc(list, func(a, b *ModelEngine) int {
		if c := a.Model.CreatedAt.Compare(b.Model.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Model.ID, b.Model.ID)
	})
	return list
}

// Delete removes a model from the store and drops its engines
func (m *Manager) Delete(id string) error {
	if err := m.store.Delete(id); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.engines, id)
	m.mu.Unlock()
	m.cache.Invalidate(id)

	m.logger.Info("model deleted", "model", id)
	return nil
}

// GroupStep is the outcome of one group in a model step
type GroupStep struct {
	Group  string
	Result *rules.StepResult
}

// Step evaluates every group of a model at t. Plain binding names apply to
// every group; "Group/Name" keys apply to one group and win over plain
// names.
func (m *Manager) Step(id string, t time.Time, bindings expression.Bindings) ([]GroupStep, error) {
	me, err := m.Get(id)
	if err != nil {
		return nil, err
	}

	steps := make([]GroupStep, 0, len(me.Groups))
	for _, g := range me.Groups {
		res := me.engines[g.Name].Step(t, groupBindings(g.Name, bindings))
		for _, rr := range res.Rules {
			if rr.Error != nil {
				logger.RuleFailure(me.Model.ID, g.Name, rr.Rule, rr.Error)
			}
		}
		steps = append(steps, GroupStep{Group: g.Name, Result: res})
	}
	return steps, nil
}

func groupBindings(group string, all expression.Bindings) expression.Bindings {
	out := make(expression.Bindings, len(all))
	prefix := group + "/"
	for k, v := range all {
		if !strings.Contains(k, "/") {
			out[k] = v
		}
	}
	for k, v := range all {
		if name, ok := strings.CutPrefix(k, prefix); ok {
			out[name] = v
		}
	}
	return out
}

// Reset returns every engine of a model to its initial state
func (m *Manager) Reset(id string) error {
	me, err := m.Get(id)
	if err != nil {
		return err
	}
	for _, en := range me.engines {
		en.Reset()
	}
	return nil
}

// Export encodes the decoded groups of a model back into exchange documents
func (m *Manager) Export(id string) (*rtcxml.Bundle, error) {
	me, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return m.codec.EncodeBundle(me.Groups)
}
