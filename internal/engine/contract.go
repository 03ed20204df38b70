// Package engine implements the schema-driven data-access operations: generic
// CRUD, translated queries, deep population, cascading saves and optimistic
// concurrency, all expressed against the uniform storage adapter contract.
package engine

import (
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/datagate/internal/adapter"
	"github.com/kailas-cloud/datagate/internal/cache"
	"github.com/kailas-cloud/datagate/internal/convert"
	"github.com/kailas-cloud/datagate/internal/domain"
	"github.com/kailas-cloud/datagate/internal/hook"
	"github.com/kailas-cloud/datagate/internal/schema"
)

// SchemaResolver resolves collection definitions and virtual-field targets.
type SchemaResolver interface {
	Resolve(id domain.CollectionIdentity) (*schema.Definition, error)
	ResolveVirtualTarget(owner *schema.Definition, prop *schema.Property) (string, error)
}

// Adapters resolves the storage adapter serving an identity.
type Adapters interface {
	For(id domain.CollectionIdentity) (adapter.Adapter, error)
}

// Options carries the engine's optional collaborators.
type Options struct {
	Convert  *convert.Pipeline
	Hooks    *hook.Registry
	Cache    cache.Cache
	CacheTTL time.Duration
	Logger   *zap.Logger
	// MaxParallel bounds the fan-out of chunked and one-by-one deep fetches.
	MaxParallel int
}

// Engine is the operation surface. Safe for concurrent use.
type Engine struct {
	schemas     SchemaResolver
	adapters    Adapters
	convert     *convert.Pipeline
	hooks       *hook.Registry
	cache       cache.Cache
	cacheTTL    time.Duration
	logger      *zap.Logger
	maxParallel int
}

// New wires an engine. Schemas and adapters are required; everything in opts
// has a working default.
func New(schemas SchemaResolver, adapters Adapters, opts Options) *Engine {
	e := &Engine{
		schemas:     schemas,
		adapters:    adapters,
		convert:     opts.Convert,
		hooks:       opts.Hooks,
		cache:       opts.Cache,
		cacheTTL:    opts.CacheTTL,
		logger:      opts.Logger,
		maxParallel: opts.MaxParallel,
	}
	if e.convert == nil {
		e.convert = convert.NewPipeline(nil, nil, nil, nil)
	}
	if e.cache == nil {
		e.cache = cache.Nop{}
	}
	if e.cacheTTL <= 0 {
		e.cacheTTL = time.Minute
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.maxParallel <= 0 {
		e.maxParallel = 8
	}
	return e
}

// resolve looks up the definition and adapter for an identity.
func (e *Engine) resolve(id domain.CollectionIdentity) (*schema.Definition, adapter.Adapter, error) {
	def, err := e.schemas.Resolve(id)
	if err != nil {
		return nil, nil, err
	}
	a, err := e.adapters.For(id)
	if err != nil {
		return nil, nil, err
	}
	return def, a, nil
}
