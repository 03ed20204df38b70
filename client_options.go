package datagate

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/datagate/internal/adapter"
	"github.com/kailas-cloud/datagate/internal/adapter/memory"
	mongoAdapter "github.com/kailas-cloud/datagate/internal/adapter/mongo"
	postgresAdapter "github.com/kailas-cloud/datagate/internal/adapter/postgres"
	"github.com/kailas-cloud/datagate/internal/cache"
	cacheRedis "github.com/kailas-cloud/datagate/internal/cache/redis"
	"github.com/kailas-cloud/datagate/internal/convert"
	"github.com/kailas-cloud/datagate/internal/hook"
	"github.com/kailas-cloud/datagate/internal/schema"
)

type backendSpec struct {
	instance      string
	database      string
	maxConcurrent int
	build         func(ctx context.Context) (adapter.Adapter, error)
}

type clientConfig struct {
	backends    []backendSpec
	schemaDir   string
	schemas     []*schema.Definition
	cache       cache.Cache
	cacheTTL    time.Duration
	convert     *convert.Pipeline
	hooks       *hook.Registry
	logger      *zap.Logger
	maxParallel int
	err         error
}

// Option configures the Client.
type Option func(*clientConfig)

// WithMemoryBackend serves instance/database from an in-process store.
func WithMemoryBackend(instance, database string) Option {
	return func(c *clientConfig) {
		c.backends = append(c.backends, backendSpec{
			instance: instance,
			database: database,
			build: func(context.Context) (adapter.Adapter, error) {
				return memory.New(), nil
			},
		})
	}
}

// WithMongoBackend serves instance/database from a MongoDB database.
func WithMongoBackend(instance, database, uri, backendDB string) Option {
	return func(c *clientConfig) {
		c.backends = append(c.backends, backendSpec{
			instance: instance,
			database: database,
			build: func(ctx context.Context) (adapter.Adapter, error) {
				return mongoAdapter.New(ctx, mongoAdapter.Config{URI: uri, Database: backendDB})
			},
		})
	}
}

// WithPostgresBackend serves instance/database from a PostgreSQL database.
func WithPostgresBackend(instance, database, connString string) Option {
	return func(c *clientConfig) {
		c.backends = append(c.backends, backendSpec{
			instance: instance,
			database: database,
			build: func(ctx context.Context) (adapter.Adapter, error) {
				return postgresAdapter.New(ctx, connString)
			},
		})
	}
}

// WithMaxConcurrent bounds in-flight storage calls of the most recently
// added backend.
func WithMaxConcurrent(n int) Option {
	return func(c *clientConfig) {
		if len(c.backends) == 0 {
			c.err = fmt.Errorf("datagate: WithMaxConcurrent must follow a backend option")
			return
		}
		c.backends[len(c.backends)-1].maxConcurrent = n
	}
}

// WithSchemaDir loads collection definitions from
// <dir>/<instance>/<database>/<collection>.yaml.
func WithSchemaDir(dir string) Option {
	return func(c *clientConfig) { c.schemaDir = dir }
}

// WithSchemas installs in-memory collection definitions.
func WithSchemas(defs ...*schema.Definition) Option {
	return func(c *clientConfig) { c.schemas = append(c.schemas, defs...) }
}

// WithMemoryCache caches read results in process memory.
func WithMemoryCache(ttl time.Duration) Option {
	return func(c *clientConfig) {
		c.cache = cache.NewMemory()
		c.cacheTTL = ttl
	}
}

// WithRedisCache caches read results in Redis.
func WithRedisCache(addrs []string, password string, ttl time.Duration) Option {
	return func(c *clientConfig) {
		store, err := cacheRedis.NewStore(cacheRedis.Config{Addrs: addrs, Password: password})
		if err != nil {
			c.err = fmt.Errorf("datagate: redis cache: %w", err)
			return
		}
		c.cache = store
		c.cacheTTL = ttl
	}
}

// WithConvert installs the conversion pipeline carrying ciphers, hashers and
// named strategies.
func WithConvert(p *convert.Pipeline) Option {
	return func(c *clientConfig) { c.convert = p }
}

// WithHooks installs the pre/post hook registry.
func WithHooks(h *hook.Registry) Option {
	return func(c *clientConfig) { c.hooks = h }
}

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *clientConfig) { c.logger = l }
}

// WithMaxParallel bounds the fan-out of deep-population fetches.
func WithMaxParallel(n int) Option {
	return func(c *clientConfig) { c.maxParallel = n }
}
