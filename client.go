// Package datagate is the embedded SDK entry point: the same schema-driven
// data-access engine the HTTP server exposes, wired in-process over the
// configured storage backends.
package datagate

import (
	"context"
	"errors"
	"fmt"

	"github.com/kailas-cloud/datagate/internal/adapter"
	"github.com/kailas-cloud/datagate/internal/cache"
	"github.com/kailas-cloud/datagate/internal/domain"
	"github.com/kailas-cloud/datagate/internal/engine"
	"github.com/kailas-cloud/datagate/internal/schema"
)

// Public aliases so callers never import internal packages.
type (
	Row                = domain.Row
	Filter             = domain.Filter
	CollectionIdentity = domain.CollectionIdentity
	QueryFormat        = domain.QueryFormat
	FindJoin           = domain.FindJoin
	DeepSpec           = domain.DeepSpec
	ArrayOperation     = domain.ArrayOperation
	SaveOptions        = domain.SaveOptions
	UpdateOptions      = domain.UpdateOptions
	MasterSaveOptions  = domain.MasterSaveOptions
	EngineError        = domain.EngineError
)

// Client is the datagate SDK entry point.
type Client struct {
	engine   *engine.Engine
	adapters *adapter.Registry
	cache    cache.Cache
}

// New creates a Client and connects every configured backend.
func New(opts ...Option) (*Client, error) {
	cfg := &clientConfig{}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.err != nil {
		return nil, cfg.err
	}
	if len(cfg.backends) == 0 {
		return nil, errors.New("datagate: at least one backend required (use WithMemoryBackend, WithMongoBackend or WithPostgresBackend)")
	}

	schemas, err := buildSchemas(cfg)
	if err != nil {
		return nil, err
	}

	adapters := adapter.NewRegistry()
	ctx := context.Background()
	for _, b := range cfg.backends {
		a, err := b.build(ctx)
		if err != nil {
			adapters.CloseAll()
			return nil, fmt.Errorf("datagate: connect %s/%s: %w", b.instance, b.database, err)
		}
		adapters.Register(b.instance, b.database, a, b.maxConcurrent)
	}

	resultCache := cfg.cache
	if resultCache == nil {
		resultCache = cache.Nop{}
	}

	eng := engine.New(schemas, adapters, engine.Options{
		Convert:     cfg.convert,
		Hooks:       cfg.hooks,
		Cache:       resultCache,
		CacheTTL:    cfg.cacheTTL,
		Logger:      cfg.logger,
		MaxParallel: cfg.maxParallel,
	})

	return &Client{engine: eng, adapters: adapters, cache: resultCache}, nil
}

func buildSchemas(cfg *clientConfig) (*schema.Registry, error) {
	if cfg.schemaDir != "" {
		logger := cfg.logger
		return schema.NewRegistry(cfg.schemaDir, logger)
	}
	if len(cfg.schemas) > 0 {
		return schema.NewStaticRegistry(cfg.schemas...), nil
	}
	return nil, errors.New("datagate: schemas required (use WithSchemaDir or WithSchemas)")
}

// Close releases every backend connection and the cache.
func (c *Client) Close() {
	c.adapters.CloseAll()
	if c.cache != nil {
		c.cache.Close()
	}
}

// Ping checks connectivity of the backend serving the identity.
func (c *Client) Ping(ctx context.Context, id CollectionIdentity) error {
	a, err := c.adapters.For(id)
	if err != nil {
		return err
	}
	if err := a.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Collection returns an operation handle for one collection.
func (c *Client) Collection(instance, database, collection string) *Collection {
	return &Collection{
		engine: c.engine,
		id: CollectionIdentity{
			Instance:   instance,
			Database:   database,
			Collection: collection,
		},
	}
}

// Collection is a per-collection operation handle. Cheap to construct; safe
// for concurrent use.
type Collection struct {
	engine *engine.Engine
	id     CollectionIdentity
}

// NoCycle returns a handle that truncates relationship cycles instead of
// failing deep reads.
func (col *Collection) NoCycle() *Collection {
	c := *col
	c.id.NoCycle = true
	return &c
}

// SkipHooks returns a handle that bypasses registered hooks.
func (col *Collection) SkipHooks() *Collection {
	c := *col
	c.id.SkipHooks = true
	return &c
}

// Identity returns the addressed collection coordinates.
func (col *Collection) Identity() CollectionIdentity { return col.id }

// Get fetches one row by primary key, optionally deep-populated.
func (col *Collection) Get(ctx context.Context, key any, deep ...DeepSpec) (Row, error) {
	return result(col.engine.GetByID(ctx, col.id, key, deep))
}

// All fetches every row of the collection.
func (col *Collection) All(ctx context.Context) ([]Row, error) {
	return result(col.engine.GetAll(ctx, col.id))
}

// Query starts a fluent read query.
func (col *Collection) Query() *QueryBuilder {
	return &QueryBuilder{col: col}
}

// Save inserts or replaces the given rows.
func (col *Collection) Save(ctx context.Context, rows []Row, opts SaveOptions) ([]Row, error) {
	return result(col.engine.SaveSingleOrMultiple(ctx, col.id, rows, opts))
}

// MasterSave cascades embedded parents and virtual children around each row.
func (col *Collection) MasterSave(ctx context.Context, rows []Row, opts MasterSaveOptions) ([]Row, error) {
	return result(col.engine.MasterSave(ctx, col.id, rows, opts))
}

// Update merges set into the row addressed by key.
func (col *Collection) Update(ctx context.Context, key any, set Row, opts UpdateOptions) (Row, error) {
	return result(col.engine.UpdateByID(ctx, col.id, key, set, opts))
}

// Replace swaps the full row addressed by key.
func (col *Collection) Replace(ctx context.Context, key any, row Row, opts UpdateOptions) (Row, error) {
	return result(col.engine.ReplaceByID(ctx, col.id, key, row, opts))
}

// UpdateMany merges set into every row matching find. Returns the count.
func (col *Collection) UpdateMany(ctx context.Context, find Filter, set Row) (int64, error) {
	return result(col.engine.UpdateMany(ctx, col.id, find, set))
}

// Remove deletes the row addressed by key.
func (col *Collection) Remove(ctx context.Context, key any) error {
	_, err := result(col.engine.RemoveByID(ctx, col.id, key))
	return err
}

// RemoveMany deletes every row matching find. Returns the count.
func (col *Collection) RemoveMany(ctx context.Context, find Filter) (int64, error) {
	return result(col.engine.RemoveByQuery(ctx, col.id, find))
}

// Aggregate runs a backend-native aggregation pipeline.
func (col *Collection) Aggregate(ctx context.Context, pipeline []Row) ([]Row, error) {
	return result(col.engine.Aggregate(ctx, col.id, pipeline))
}

// ArrayOps applies mongo-style array mutations.
func (col *Collection) ArrayOps(ctx context.Context, ops []ArrayOperation) (int64, error) {
	return result(col.engine.ArrayOperations(ctx, col.id, ops))
}

// result unwraps an engine envelope into the Go error convention.
func result[T any](resp domain.Response[T]) (T, error) {
	if resp.Success {
		return resp.Data, nil
	}
	var zero T
	if len(resp.Errors) > 0 {
		return zero, &ResponseError{StatusCode: resp.StatusCode, Errors: resp.Errors}
	}
	return zero, &ResponseError{StatusCode: resp.StatusCode}
}

// ResponseError carries the failed envelope's classification for SDK callers.
type ResponseError struct {
	StatusCode int
	Errors     []EngineError
}

func (e *ResponseError) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("datagate: status %d: %s", e.StatusCode, e.Errors[0].Error())
	}
	return fmt.Sprintf("datagate: status %d", e.StatusCode)
}
