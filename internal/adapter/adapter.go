// Package adapter defines the uniform storage contract every backend driver
// implements, plus the backend-agnostic filter matcher and array-mutation
// semantics shared by drivers that have no native equivalent.
package adapter

import (
	"context"
	"errors"

	"github.com/kailas-cloud/datagate/internal/domain"
)

// ErrUnsupported signals an operation the backend cannot express.
var ErrUnsupported = errors.New("operation not supported by adapter")

// Query is the backend-agnostic read request handed to an adapter.
type Query struct {
	Filter domain.Filter
	Sort   map[string]int
	Skip   int64
	Limit  int64
	Select map[string]int
}

// Key addresses a single row by its primary-key field and value.
type Key struct {
	Field string
	Value any
}

// Adapter is the contract one backend driver implements for one engine
// family. All calls are context-first; drivers own their connection pools.
type Adapter interface {
	Name() string

	FindOne(ctx context.Context, collection string, q Query) (domain.Row, error)
	FindMany(ctx context.Context, collection string, q Query) ([]domain.Row, error)
	Insert(ctx context.Context, collection string, rows []domain.Row) ([]domain.Row, error)
	UpdateByID(ctx context.Context, collection string, key Key, set domain.Row) (domain.Row, error)
	ReplaceByID(ctx context.Context, collection string, key Key, row domain.Row) (domain.Row, error)
	DeleteByID(ctx context.Context, collection string, key Key) (bool, error)
	UpdateMany(ctx context.Context, collection string, filter domain.Filter, set domain.Row) (int64, error)
	DeleteMany(ctx context.Context, collection string, filter domain.Filter) (int64, error)
	Aggregate(ctx context.Context, collection string, pipeline []domain.AggregateStage) ([]domain.Row, error)
	Count(ctx context.Context, collection string, filter domain.Filter) (int64, error)
	Distinct(ctx context.Context, collection, field string, filter domain.Filter) ([]any, error)

	// ApplyArrayOps applies every operation to the rows its Find matches,
	// atomically per row. Returns the number of modified rows.
	ApplyArrayOps(ctx context.Context, collection string, ops []domain.ArrayOperation) (int64, error)

	// NextSequence returns the next value of a named engine-maintained
	// counter, initializing it at start and advancing by step.
	NextSequence(ctx context.Context, name string, start, step int64) (int64, error)

	Ping(ctx context.Context) error
	Close()
}
