package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kailas-cloud/datagate/internal/adapter"
	"github.com/kailas-cloud/datagate/internal/adapter/memory"
	mongoAdapter "github.com/kailas-cloud/datagate/internal/adapter/mongo"
	postgresAdapter "github.com/kailas-cloud/datagate/internal/adapter/postgres"
	"github.com/kailas-cloud/datagate/internal/cache"
	cacheRedis "github.com/kailas-cloud/datagate/internal/cache/redis"
	"github.com/kailas-cloud/datagate/internal/config"
	"github.com/kailas-cloud/datagate/internal/convert"
	"github.com/kailas-cloud/datagate/internal/engine"
	logpkg "github.com/kailas-cloud/datagate/internal/logger"
	"github.com/kailas-cloud/datagate/internal/metrics"
	"github.com/kailas-cloud/datagate/internal/schema"
	chiTransport "github.com/kailas-cloud/datagate/internal/transport/chi"
	"github.com/kailas-cloud/datagate/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting datagate API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("schema_dir", cfg.Schema.Dir),
		zap.String("cache_driver", cfg.Cache.Driver),
	)

	ctx := context.Background()

	// Storage adapters per configured instance/database
	adapters := adapter.NewRegistry()
	defer adapters.CloseAll()
	var backends []adapter.Adapter
	for instName, inst := range cfg.Instances {
		for dbName, db := range inst.Databases {
			a, err := buildAdapter(ctx, dbName, db)
			if err != nil {
				logger.Fatal("Failed to create storage adapter",
					zap.String("instance", instName),
					zap.String("database", dbName),
					zap.Error(err))
			}
			maxConcurrent := db.MaxConcurrent
			if maxConcurrent <= 0 {
				maxConcurrent = cfg.Engine.MaxConcurrentPerBackend
			}
			adapters.Register(instName, dbName, a, maxConcurrent)
			backends = append(backends, a)
			logger.Info("Storage adapter ready",
				zap.String("instance", instName),
				zap.String("database", dbName),
				zap.String("driver", a.Name()))
		}
	}

	// Result cache
	resultCache, err := buildCache(cfg.Cache)
	if err != nil {
		logger.Fatal("Failed to create cache", zap.Error(err))
	}
	defer resultCache.Close()

	// Collection schemas
	schemas, err := schema.NewRegistry(cfg.Schema.Dir, logger)
	if err != nil {
		logger.Fatal("Failed to load schemas", zap.Error(err))
	}

	// Named strategies referenced by schema files
	strategies := convert.NewRegistry()
	strategies.RegisterDefaultProvider("now", func(context.Context) (any, error) {
		return time.Now().UTC(), nil
	})

	eng := engine.New(schemas, adapters, engine.Options{
		Convert:     convert.NewPipeline(nil, sha256Hasher{}, nil, strategies),
		Cache:       resultCache,
		CacheTTL:    time.Duration(cfg.Cache.TTLSec) * time.Second,
		Logger:      logger,
		MaxParallel: cfg.Engine.MaxConcurrentPerBackend,
	})

	server := chiTransport.NewServer(eng, logger).
		WithHealthCheck(func(ctx context.Context) error {
			for _, a := range backends {
				if err := a.Ping(ctx); err != nil {
					return fmt.Errorf("%s: %w", a.Name(), err)
				}
			}
			return nil
		})

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiMiddleware.Timeout(time.Duration(cfg.Engine.RequestTimeoutSec) * time.Second))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Register(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

func buildAdapter(ctx context.Context, dbName string, db config.DatabaseConfig) (adapter.Adapter, error) {
	switch db.Driver {
	case "memory":
		return memory.New(), nil
	case "mongo":
		backendDB := db.Database
		if backendDB == "" {
			backendDB = dbName
		}
		return mongoAdapter.New(ctx, mongoAdapter.Config{URI: db.URI, Database: backendDB})
	case "postgres":
		return postgresAdapter.New(ctx, db.URI)
	default:
		return nil, fmt.Errorf("unknown database driver %q", db.Driver)
	}
}

func buildCache(cfg config.CacheConfig) (cache.Cache, error) {
	switch cfg.Driver {
	case "", "none":
		return cache.Nop{}, nil
	case "memory":
		return cache.NewMemory(), nil
	case "redis":
		return cacheRedis.NewStore(cacheRedis.Config{
			Addrs:    cfg.Addrs,
			Username: cfg.Username,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
	default:
		return nil, fmt.Errorf("unknown cache driver %q", cfg.Driver)
	}
}

// sha256Hasher implements convert.Hasher for the "sha256" hash conversion.
// With a secret it produces an HMAC, without one a plain digest.
type sha256Hasher struct{}

func (sha256Hasher) Hash(_ context.Context, value, algorithm, secret string) (string, error) {
	if algorithm != "sha256" {
		return "", fmt.Errorf("unsupported hash algorithm %q", algorithm)
	}
	if secret != "" {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write([]byte(value))
		return hex.EncodeToString(mac.Sum(nil)), nil
	}
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:]), nil
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())

			// Set X-Request-ID in response header
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line, one line per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
