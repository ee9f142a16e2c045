package meta

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kitaindia/slim3/datastore/record"
	"github.com/kitaindia/slim3/utils/cleaner"
	"github.com/kitaindia/slim3/utils/log"
)

// RegistryConfig configures a Registry
type RegistryConfig struct {
	Logger *zap.Logger
	// Cleaner, when set, receives the registry's cache-reset action so
	// an external lifecycle hook can clear stale descriptors at the end
	// of each isolated execution scope
	Cleaner *cleaner.Cleaner
}

// Registry is the process-wide cache of resolved descriptors. Factories
// register once at startup under the descriptor name derived by
// MetaName; resolved instances populate lazily with first-writer-wins
// semantics and are safe for concurrent lookup without locking.
type Registry struct {
	logger  *zap.Logger
	cleaner *cleaner.Cleaner

	mu          sync.Mutex
	factories   map[string]func() *ModelMeta
	initialized bool

	cache sync.Map
}

// NewRegistry creates an empty registry
func NewRegistry(config RegistryConfig) *Registry {
	return &Registry{
		logger:    log.Default(config.Logger),
		cleaner:   config.Cleaner,
		factories: map[string]func() *ModelMeta{},
	}
}

// Register installs a descriptor factory under its descriptor name,
// as derived by MetaName from the model type name. Generated descriptor
// packages call this from an init-time registration hook.
func (registry *Registry) Register(metaName string, factory func() *ModelMeta) {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	registry.factories[metaName] = factory
}

// ensureInitialized hooks the cache reset into the lifecycle cleaner.
// It runs again after every Reset so a repopulated cache is cleared on
// the next scope boundary too.
func (registry *Registry) ensureInitialized() {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	if registry.initialized {
		return
	}

	if registry.cleaner != nil {
		registry.cleaner.Add(registry.Reset)
	}

	registry.initialized = true
}

// Resolve returns the descriptor for the fully-qualified model type
// name, constructing and caching it on first lookup. When two callers
// race to construct one, the first registration wins and the loser's
// instance is discarded.
func (registry *Registry) Resolve(modelName string) (*ModelMeta, error) {
	registry.ensureInitialized()

	if cached, ok := registry.cache.Load(modelName); ok {
		return cached.(*ModelMeta), nil
	}

	metaName := MetaName(modelName)

	registry.mu.Lock()
	factory := registry.factories[metaName]
	registry.mu.Unlock()

	if factory == nil {
		return nil, fmt.Errorf("%w: no factory named %q for model %q", ErrNoSuchMeta, metaName, modelName)
	}

	m := factory()

	if m == nil {
		return nil, fmt.Errorf("%w: factory %q produced no descriptor", ErrNoSuchMeta, metaName)
	}

	winner, loaded := registry.cache.LoadOrStore(modelName, m)

	if !loaded {
		registry.logger.Debug("model metadata resolved",
			zap.String("model", modelName),
			zap.String("kind", m.Kind))
	}

	return winner.(*ModelMeta), nil
}

// ResolveModel resolves the descriptor for a model instance's type
func (registry *Registry) ResolveModel(model any) (*ModelMeta, error) {
	if model == nil {
		return nil, ErrNilModel
	}

	return registry.Resolve(NameOf(model))
}

// ResolvePolymorphic returns the descriptor to materialize rec with.
// A record with no class-hierarchy property is not polymorphic and
// materializes as base. Otherwise the hierarchy's last entry names the
// most derived type; its descriptor is resolved and must be assignable
// to base's model type.
func (registry *Registry) ResolvePolymorphic(base *ModelMeta, rec *record.Record) (*ModelMeta, error) {
	hierarchy := rec.StringList(record.ClassHierarchyProperty)

	if len(hierarchy) == 0 {
		return base, nil
	}

	leaf := hierarchy[len(hierarchy)-1]
	m, err := registry.Resolve(leaf)

	if err != nil {
		return nil, err
	}

	if !m.assignableTo(base) {
		return nil, fmt.Errorf("%w: record type %s does not descend from %s",
			ErrNotAssignable, m.ModelName, base.ModelName)
	}

	return m, nil
}

// Reset clears every cached descriptor and marks the registry
// uninitialized; the next Resolve repopulates lazily and re-registers
// the lifecycle hook. It is invoked by the lifecycle cleaner, not by
// application code.
func (registry *Registry) Reset() {
	registry.cache.Range(func(key, _ any) bool {
		registry.cache.Delete(key)

		return true
	})

	registry.mu.Lock()
	registry.initialized = false
	registry.mu.Unlock()
}
