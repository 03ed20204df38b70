package adapter

import (
	"context"
	"fmt"
	"sync"

	"github.com/kailas-cloud/datagate/internal/domain"
)

// Registry maps instance/database coordinates to adapters and bounds the
// concurrency of each one. Deep population fans out reads; the semaphore is
// the backpressure point that keeps that fan-out within pool capacity.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register installs an adapter for an instance/database pair, wrapping it
// with a concurrency bound (maxConcurrent <= 0 means unbounded).
func (r *Registry) Register(instance, database string, a Adapter, maxConcurrent int) {
	if maxConcurrent > 0 {
		a = &limited{inner: a, sem: make(chan struct{}, maxConcurrent)}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[instance+"/"+database] = a
}

// For resolves the adapter serving an identity.
func (r *Registry) For(id domain.CollectionIdentity) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[id.Instance+"/"+id.Database]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrAdapterNotFound, id.Instance, id.Database)
	}
	return a, nil
}

// CloseAll closes every registered adapter. Wrapped adapters registered for
// several databases are closed once per registration; drivers tolerate that.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.adapters {
		a.Close()
	}
	r.adapters = make(map[string]Adapter)
}

// limited bounds concurrent calls into one adapter.
type limited struct {
	inner Adapter
	sem   chan struct{}
}

func (l *limited) acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *limited) release() { <-l.sem }

func (l *limited) Name() string { return l.inner.Name() }

func (l *limited) FindOne(ctx context.Context, collection string, q Query) (domain.Row, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.release()
	return l.inner.FindOne(ctx, collection, q)
}

func (l *limited) FindMany(ctx context.Context, collection string, q Query) ([]domain.Row, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.release()
	return l.inner.FindMany(ctx, collection, q)
}

func (l *limited) Insert(ctx context.Context, collection string, rows []domain.Row) ([]domain.Row, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.release()
	return l.inner.Insert(ctx, collection, rows)
}

func (l *limited) UpdateByID(ctx context.Context, collection string, key Key, set domain.Row) (domain.Row, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.release()
	return l.inner.UpdateByID(ctx, collection, key, set)
}

func (l *limited) ReplaceByID(ctx context.Context, collection string, key Key, row domain.Row) (domain.Row, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.release()
	return l.inner.ReplaceByID(ctx, collection, key, row)
}

func (l *limited) DeleteByID(ctx context.Context, collection string, key Key) (bool, error) {
	if err := l.acquire(ctx); err != nil {
		return false, err
	}
	defer l.release()
	return l.inner.DeleteByID(ctx, collection, key)
}

func (l *limited) UpdateMany(
	ctx context.Context, collection string, filter domain.Filter, set domain.Row,
) (int64, error) {
	if err := l.acquire(ctx); err != nil {
		return 0, err
	}
	defer l.release()
	return l.inner.UpdateMany(ctx, collection, filter, set)
}

func (l *limited) DeleteMany(ctx context.Context, collection string, filter domain.Filter) (int64, error) {
	if err := l.acquire(ctx); err != nil {
		return 0, err
	}
	defer l.release()
	return l.inner.DeleteMany(ctx, collection, filter)
}

func (l *limited) Aggregate(
	ctx context.Context, collection string, pipeline []domain.AggregateStage,
) ([]domain.Row, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.release()
	return l.inner.Aggregate(ctx, collection, pipeline)
}

func (l *limited) Count(ctx context.Context, collection string, filter domain.Filter) (int64, error) {
	if err := l.acquire(ctx); err != nil {
		return 0, err
	}
	defer l.release()
	return l.inner.Count(ctx, collection, filter)
}

func (l *limited) Distinct(
	ctx context.Context, collection, field string, filter domain.Filter,
) ([]any, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.release()
	return l.inner.Distinct(ctx, collection, field, filter)
}

func (l *limited) ApplyArrayOps(
	ctx context.Context, collection string, ops []domain.ArrayOperation,
) (int64, error) {
	if err := l.acquire(ctx); err != nil {
		return 0, err
	}
	defer l.release()
	return l.inner.ApplyArrayOps(ctx, collection, ops)
}

func (l *limited) NextSequence(ctx context.Context, name string, start, step int64) (int64, error) {
	if err := l.acquire(ctx); err != nil {
		return 0, err
	}
	defer l.release()
	return l.inner.NextSequence(ctx, name, start, step)
}

func (l *limited) Ping(ctx context.Context) error {
	if err := l.acquire(ctx); err != nil {
		return err
	}
	defer l.release()
	return l.inner.Ping(ctx)
}

func (l *limited) Close() { l.inner.Close() }
