// Package memory is the in-process storage adapter. It carries the reference
// semantics of the adapter contract and backs unit tests and embedded use.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/kailas-cloud/datagate/internal/adapter"
	"github.com/kailas-cloud/datagate/internal/domain"
)

// Store is an in-memory adapter. Safe for concurrent use.
type Store struct {
	mu          sync.RWMutex
	collections map[string][]domain.Row
	counters    map[string]int64
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		collections: make(map[string][]domain.Row),
		counters:    make(map[string]int64),
	}
}

// Name implements adapter.Adapter.
func (s *Store) Name() string { return "memory" }

// Seed loads rows into a collection, replacing its contents. Test helper.
func (s *Store) Seed(collection string, rows []domain.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cloned := make([]domain.Row, len(rows))
	for i, r := range rows {
		cloned[i] = cloneRow(r)
	}
	s.collections[collection] = cloned
}

// FindOne returns the first matching row or ErrRecordNotFound.
func (s *Store) FindOne(ctx context.Context, collection string, q adapter.Query) (domain.Row, error) {
	q.Limit = 1
	rows, err := s.FindMany(ctx, collection, q)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, domain.ErrRecordNotFound
	}
	return rows[0], nil
}

// FindMany returns matching rows with sort/skip/limit/select applied.
func (s *Store) FindMany(_ context.Context, collection string, q adapter.Query) ([]domain.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Row
	for _, row := range s.collections[collection] {
		if q.Filter == nil || adapter.Match(row, q.Filter) {
			out = append(out, cloneRow(row))
		}
	}
	adapter.SortRows(out, q.Sort)
	out = adapter.Window(out, q.Skip, q.Limit)
	for i := range out {
		out[i] = adapter.Project(out[i], q.Select)
	}
	return out, nil
}

// Insert appends rows and returns them as stored.
func (s *Store) Insert(_ context.Context, collection string, rows []domain.Row) ([]domain.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]domain.Row, 0, len(rows))
	for _, row := range rows {
		cloned := cloneRow(row)
		s.collections[collection] = append(s.collections[collection], cloned)
		stored = append(stored, cloneRow(cloned))
	}
	return stored, nil
}

// UpdateByID merges set into the row addressed by key.
func (s *Store) UpdateByID(
	_ context.Context, collection string, key adapter.Key, set domain.Row,
) (domain.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range s.collections[collection] {
		if keyMatches(row, key) {
			for k, v := range set {
				adapter.SetPath(row, k, v)
			}
			return cloneRow(row), nil
		}
	}
	return nil, fmt.Errorf("%w: %s=%v in %s", domain.ErrRecordNotFound, key.Field, key.Value, collection)
}

// ReplaceByID replaces the whole row addressed by key.
func (s *Store) ReplaceByID(
	_ context.Context, collection string, key adapter.Key, row domain.Row,
) (domain.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.collections[collection]
	for i, existing := range rows {
		if keyMatches(existing, key) {
			replacement := cloneRow(row)
			replacement[key.Field] = existing[key.Field]
			rows[i] = replacement
			return cloneRow(replacement), nil
		}
	}
	return nil, fmt.Errorf("%w: %s=%v in %s", domain.ErrRecordNotFound, key.Field, key.Value, collection)
}

// DeleteByID removes the row addressed by key. Returns whether a row existed.
func (s *Store) DeleteByID(_ context.Context, collection string, key adapter.Key) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.collections[collection]
	for i, row := range rows {
		if keyMatches(row, key) {
			s.collections[collection] = append(rows[:i:i], rows[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// UpdateMany merges set into every matching row.
func (s *Store) UpdateMany(
	_ context.Context, collection string, filter domain.Filter, set domain.Row,
) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, row := range s.collections[collection] {
		if filter == nil || adapter.Match(row, filter) {
			for k, v := range set {
				adapter.SetPath(row, k, v)
			}
			n++
		}
	}
	return n, nil
}

// DeleteMany removes every matching row.
func (s *Store) DeleteMany(_ context.Context, collection string, filter domain.Filter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.collections[collection]
	kept := rows[:0:0]
	var n int64
	for _, row := range rows {
		if filter == nil || adapter.Match(row, filter) {
			n++
			continue
		}
		kept = append(kept, row)
	}
	s.collections[collection] = kept
	return n, nil
}

// Count returns the number of matching rows.
func (s *Store) Count(_ context.Context, collection string, filter domain.Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, row := range s.collections[collection] {
		if filter == nil || adapter.Match(row, filter) {
			n++
		}
	}
	return n, nil
}

// Distinct returns the unique values of a field across matching rows, in
// first-seen order.
func (s *Store) Distinct(
	_ context.Context, collection, field string, filter domain.Filter,
) ([]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []any
	for _, row := range s.collections[collection] {
		if filter != nil && !adapter.Match(row, filter) {
			continue
		}
		val, ok := adapter.LookupPath(row, field)
		if !ok {
			continue
		}
		seen := false
		for _, existing := range out {
			if fmt.Sprintf("%v", existing) == fmt.Sprintf("%v", val) {
				seen = true
				break
			}
		}
		if !seen {
			out = append(out, val)
		}
	}
	return out, nil
}

// ApplyArrayOps applies each operation to the rows its Find matches, atomic
// per row under the store lock.
func (s *Store) ApplyArrayOps(
	_ context.Context, collection string, ops []domain.ArrayOperation,
) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var modified int64
	for _, op := range ops {
		for _, row := range s.collections[collection] {
			if op.Find != nil && !adapter.Match(row, op.Find) {
				continue
			}
			cur, _ := adapter.LookupPath(row, op.Path)
			arr, _ := cur.([]any)
			next, changed, err := adapter.ApplyToArray(arr, op)
			if err != nil {
				return modified, err
			}
			if changed {
				adapter.SetPath(row, op.Path, next)
				modified++
			}
		}
	}
	return modified, nil
}

// NextSequence advances a named counter.
func (s *Store) NextSequence(_ context.Context, name string, start, step int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if step == 0 {
		step = 1
	}
	cur, ok := s.counters[name]
	if !ok {
		s.counters[name] = start
		return start, nil
	}
	cur += step
	s.counters[name] = cur
	return cur, nil
}

// Ping implements adapter.Adapter.
func (s *Store) Ping(context.Context) error { return nil }

// Close implements adapter.Adapter.
func (s *Store) Close() {}

func keyMatches(row domain.Row, key adapter.Key) bool {
	val, ok := adapter.LookupPath(row, key.Field)
	return ok && fmt.Sprintf("%v", val) == fmt.Sprintf("%v", key.Value)
}


func cloneRow(row domain.Row) domain.Row {
	if row == nil {
		return nil
	}
	out := make(domain.Row, len(row))
	for k, v := range row {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return map[string]any(cloneRow(val))
	case []any:
		out := make([]any, len(val))
		for i, el := range val {
			out[i] = cloneValue(el)
		}
		return out
	default:
		return v
	}
}
