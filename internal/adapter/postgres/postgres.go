// Package postgres implements the storage adapter contract for PostgreSQL.
// Each collection maps to one table holding a JSONB document per row, which
// keeps the relational backend behind the same document-shaped contract
// without a SQL dialect compiler.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kailas-cloud/datagate/internal/adapter"
	"github.com/kailas-cloud/datagate/internal/domain"
)

const countersTable = "__datagate_counters"

// Adapter serves one PostgreSQL database through a pgx pool.
type Adapter struct {
	pool *pgxpool.Pool

	mu     sync.Mutex
	tables map[string]bool

	countersInit sync.Once
}

// New connects a pool using a pgx connection string.
func New(ctx context.Context, connString string) (*Adapter, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Adapter{pool: pool, tables: make(map[string]bool)}, nil
}

// Name implements adapter.Adapter.
func (a *Adapter) Name() string { return "postgres" }

// ensureTable lazily creates the backing table for a collection.
func (a *Adapter) ensureTable(ctx context.Context, collection string) error {
	a.mu.Lock()
	ok := a.tables[collection]
	a.mu.Unlock()
	if ok {
		return nil
	}
	_, err := a.pool.Exec(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (doc JSONB NOT NULL)`, quoteIdent(collection)))
	if err != nil {
		return fmt.Errorf("ensure table %s: %w", collection, err)
	}
	a.mu.Lock()
	a.tables[collection] = true
	a.mu.Unlock()
	return nil
}

// FindOne returns the first matching row or ErrRecordNotFound.
func (a *Adapter) FindOne(ctx context.Context, collection string, q adapter.Query) (domain.Row, error) {
	q.Limit = 1
	rows, err := a.FindMany(ctx, collection, q)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, domain.ErrRecordNotFound
	}
	return rows[0], nil
}

// FindMany translates the filter to a jsonb WHERE clause, pushing sort and
// skip/limit into SQL. Projection is applied in-process.
func (a *Adapter) FindMany(ctx context.Context, collection string, q adapter.Query) ([]domain.Row, error) {
	if err := a.ensureTable(ctx, collection); err != nil {
		return nil, err
	}
	where, args, err := buildWhere(q.Filter, 1)
	if err != nil {
		return nil, err
	}

	sql := "SELECT doc FROM " + quoteIdent(collection) + where + buildOrder(q.Sort)
	if q.Limit > 0 {
		sql += fmt.Sprintf(" LIMIT %d", q.Limit)
	}
	if q.Skip > 0 {
		sql += fmt.Sprintf(" OFFSET %d", q.Skip)
	}

	pgRows, err := a.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres find %s: %w", collection, err)
	}
	defer pgRows.Close()

	var out []domain.Row
	for pgRows.Next() {
		var raw []byte
		if err := pgRows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("postgres scan %s: %w", collection, err)
		}
		var row domain.Row
		if err := json.Unmarshal(raw, &row); err != nil {
			return nil, fmt.Errorf("postgres decode %s: %w", collection, err)
		}
		out = append(out, adapter.Project(row, q.Select))
	}
	if err := pgRows.Err(); err != nil {
		return nil, fmt.Errorf("postgres rows %s: %w", collection, err)
	}
	return out, nil
}

// Insert writes documents.
func (a *Adapter) Insert(ctx context.Context, collection string, rows []domain.Row) ([]domain.Row, error) {
	if err := a.ensureTable(ctx, collection); err != nil {
		return nil, err
	}
	batch := &pgx.Batch{}
	sql := "INSERT INTO " + quoteIdent(collection) + " (doc) VALUES ($1)"
	for _, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			return nil, fmt.Errorf("postgres encode %s: %w", collection, err)
		}
		batch.Queue(sql, data)
	}
	if err := a.pool.SendBatch(ctx, batch).Close(); err != nil {
		return nil, fmt.Errorf("postgres insert %s: %w", collection, err)
	}
	return rows, nil
}

// UpdateByID shallow-merges set into the row addressed by key.
func (a *Adapter) UpdateByID(
	ctx context.Context, collection string, key adapter.Key, set domain.Row,
) (domain.Row, error) {
	if err := a.ensureTable(ctx, collection); err != nil {
		return nil, err
	}
	data, err := json.Marshal(set)
	if err != nil {
		return nil, fmt.Errorf("postgres encode set: %w", err)
	}
	sql := "UPDATE " + quoteIdent(collection) +
		" SET doc = doc || $1::jsonb WHERE doc->>" + quoteLiteral(key.Field) + " = $2 RETURNING doc"
	var raw []byte
	err = a.pool.QueryRow(ctx, sql, data, fmt.Sprintf("%v", key.Value)).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s=%v in %s", domain.ErrRecordNotFound, key.Field, key.Value, collection)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres updateById %s: %w", collection, err)
	}
	var row domain.Row
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, fmt.Errorf("postgres decode %s: %w", collection, err)
	}
	return row, nil
}

// ReplaceByID replaces the whole document, keeping the key field value.
func (a *Adapter) ReplaceByID(
	ctx context.Context, collection string, key adapter.Key, row domain.Row,
) (domain.Row, error) {
	if err := a.ensureTable(ctx, collection); err != nil {
		return nil, err
	}
	replacement := make(domain.Row, len(row)+1)
	for k, v := range row {
		replacement[k] = v
	}
	replacement[key.Field] = key.Value

	data, err := json.Marshal(replacement)
	if err != nil {
		return nil, fmt.Errorf("postgres encode row: %w", err)
	}
	sql := "UPDATE " + quoteIdent(collection) +
		" SET doc = $1::jsonb WHERE doc->>" + quoteLiteral(key.Field) + " = $2 RETURNING doc"
	var raw []byte
	err = a.pool.QueryRow(ctx, sql, data, fmt.Sprintf("%v", key.Value)).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s=%v in %s", domain.ErrRecordNotFound, key.Field, key.Value, collection)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres replaceById %s: %w", collection, err)
	}
	var out domain.Row
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("postgres decode %s: %w", collection, err)
	}
	return out, nil
}

// DeleteByID removes the row addressed by key.
func (a *Adapter) DeleteByID(ctx context.Context, collection string, key adapter.Key) (bool, error) {
	if err := a.ensureTable(ctx, collection); err != nil {
		return false, err
	}
	sql := "DELETE FROM " + quoteIdent(collection) + " WHERE doc->>" + quoteLiteral(key.Field) + " = $1"
	tag, err := a.pool.Exec(ctx, sql, fmt.Sprintf("%v", key.Value))
	if err != nil {
		return false, fmt.Errorf("postgres deleteById %s: %w", collection, err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateMany shallow-merges set into every matching row.
func (a *Adapter) UpdateMany(
	ctx context.Context, collection string, filter domain.Filter, set domain.Row,
) (int64, error) {
	if err := a.ensureTable(ctx, collection); err != nil {
		return 0, err
	}
	where, args, err := buildWhere(filter, 2)
	if err != nil {
		return 0, err
	}
	data, err := json.Marshal(set)
	if err != nil {
		return 0, fmt.Errorf("postgres encode set: %w", err)
	}
	args = append([]any{data}, args...)
	sql := "UPDATE " + quoteIdent(collection) + " SET doc = doc || $1::jsonb" + where
	tag, err := a.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("postgres updateMany %s: %w", collection, err)
	}
	return tag.RowsAffected(), nil
}

// DeleteMany removes every matching row.
func (a *Adapter) DeleteMany(ctx context.Context, collection string, filter domain.Filter) (int64, error) {
	if err := a.ensureTable(ctx, collection); err != nil {
		return 0, err
	}
	where, args, err := buildWhere(filter, 1)
	if err != nil {
		return 0, err
	}
	tag, err := a.pool.Exec(ctx, "DELETE FROM "+quoteIdent(collection)+where, args...)
	if err != nil {
		return 0, fmt.Errorf("postgres deleteMany %s: %w", collection, err)
	}
	return tag.RowsAffected(), nil
}

// Aggregate fetches matching rows and evaluates the portable pipeline
// in-process. A leading $match stage is pushed down into SQL.
func (a *Adapter) Aggregate(
	ctx context.Context, collection string, pipeline []domain.AggregateStage,
) ([]domain.Row, error) {
	q := adapter.Query{}
	rest := pipeline
	if len(pipeline) > 0 {
		if match, ok := pipeline[0]["$match"].(map[string]any); ok && len(pipeline[0]) == 1 {
			q.Filter = match
			rest = pipeline[1:]
		}
	}
	rows, err := a.FindMany(ctx, collection, q)
	if err != nil {
		return nil, err
	}
	return adapter.RunPipeline(rows, rest)
}

// Count returns the number of matching rows.
func (a *Adapter) Count(ctx context.Context, collection string, filter domain.Filter) (int64, error) {
	if err := a.ensureTable(ctx, collection); err != nil {
		return 0, err
	}
	where, args, err := buildWhere(filter, 1)
	if err != nil {
		return 0, err
	}
	var n int64
	err = a.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+quoteIdent(collection)+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres count %s: %w", collection, err)
	}
	return n, nil
}

// Distinct returns the unique values of a field across matching rows.
func (a *Adapter) Distinct(
	ctx context.Context, collection, field string, filter domain.Filter,
) ([]any, error) {
	if err := a.ensureTable(ctx, collection); err != nil {
		return nil, err
	}
	where, args, err := buildWhere(filter, 1)
	if err != nil {
		return nil, err
	}
	sql := "SELECT DISTINCT doc#>" + pathLiteral(field) + " FROM " + quoteIdent(collection) + where
	pgRows, err := a.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres distinct %s.%s: %w", collection, field, err)
	}
	defer pgRows.Close()

	var out []any
	for pgRows.Next() {
		var raw []byte
		if err := pgRows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("postgres distinct scan: %w", err)
		}
		if raw == nil {
			continue
		}
		var val any
		if err := json.Unmarshal(raw, &val); err != nil {
			return nil, fmt.Errorf("postgres distinct decode: %w", err)
		}
		out = append(out, val)
	}
	return out, pgRows.Err()
}

// Ping checks connectivity.
func (a *Adapter) Ping(ctx context.Context) error { return a.pool.Ping(ctx) }

// Close releases the pool.
func (a *Adapter) Close() { a.pool.Close() }
