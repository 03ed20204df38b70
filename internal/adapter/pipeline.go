package adapter

import (
	"fmt"
	"sort"

	"github.com/kailas-cloud/datagate/internal/domain"
)

// SortRows orders rows in place by mongo-style field directions.
func SortRows(rows []domain.Row, by map[string]int) {
	if len(by) == 0 {
		return
	}
	keys := make([]string, 0, len(by))
	for k := range by {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sort.SliceStable(rows, func(i, j int) bool {
		for _, k := range keys {
			a, _ := LookupPath(rows[i], k)
			b, _ := LookupPath(rows[j], k)
			c, ok := compare(a, b)
			if !ok || c == 0 {
				continue
			}
			if by[k] < 0 {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// Window applies skip/limit to an already-sorted slice.
func Window(rows []domain.Row, skip, limit int64) []domain.Row {
	if skip > 0 {
		if skip >= int64(len(rows)) {
			return nil
		}
		rows = rows[skip:]
	}
	if limit > 0 && limit < int64(len(rows)) {
		rows = rows[:limit]
	}
	return rows
}

// Project applies a mongo-style select map: values 1 include, 0 exclude.
// Inclusive and exclusive modes cannot be mixed; any non-zero value makes
// the projection inclusive.
func Project(row domain.Row, sel map[string]int) domain.Row {
	if len(sel) == 0 {
		return row
	}
	inclusive := false
	for _, v := range sel {
		if v != 0 {
			inclusive = true
			break
		}
	}
	if inclusive {
		out := domain.Row{}
		for k, v := range sel {
			if v == 0 {
				continue
			}
			if val, ok := LookupPath(row, k); ok {
				SetPath(out, k, val)
			}
		}
		return out
	}
	for k := range sel {
		delete(row, k)
	}
	return row
}

// RunPipeline evaluates a reduced aggregation pipeline over in-memory rows:
// $match, $sort, $skip, $limit, $project and $group with
// $sum/$avg/$min/$max/$count accumulators. This is the portable fallback for
// backends without a native pipeline engine.
func RunPipeline(rows []domain.Row, pipeline []domain.AggregateStage) ([]domain.Row, error) {
	for _, stage := range pipeline {
		if len(stage) != 1 {
			return nil, fmt.Errorf("%w: aggregate stage must have exactly one operator", ErrUnsupported)
		}
		for name, arg := range stage {
			var err error
			rows, err = applyStage(rows, name, arg)
			if err != nil {
				return nil, err
			}
		}
	}
	return rows, nil
}

func applyStage(rows []domain.Row, name string, arg any) ([]domain.Row, error) {
	switch name {
	case "$match":
		filter, ok := arg.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: $match wants a filter", ErrUnsupported)
		}
		out := rows[:0:0]
		for _, row := range rows {
			if Match(row, filter) {
				out = append(out, row)
			}
		}
		return out, nil
	case "$sort":
		by, ok := toDirectionMap(arg)
		if !ok {
			return nil, fmt.Errorf("%w: $sort wants field directions", ErrUnsupported)
		}
		SortRows(rows, by)
		return rows, nil
	case "$skip":
		return Window(rows, toInt64(arg), 0), nil
	case "$limit":
		return Window(rows, 0, toInt64(arg)), nil
	case "$project":
		sel, ok := toDirectionMap(arg)
		if !ok {
			return nil, fmt.Errorf("%w: $project wants field flags", ErrUnsupported)
		}
		for i := range rows {
			rows[i] = Project(rows[i], sel)
		}
		return rows, nil
	case "$group":
		spec, ok := arg.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: $group wants a spec", ErrUnsupported)
		}
		return group(rows, spec)
	default:
		return nil, fmt.Errorf("%w: aggregate stage %s", ErrUnsupported, name)
	}
}

type groupBucket struct {
	row    domain.Row
	counts map[string]int64
	sums   map[string]float64
}

// group implements $group with _id as a field reference ("$field" or nil)
// and accumulators over field references.
func group(rows []domain.Row, spec map[string]any) ([]domain.Row, error) {
	idRef, _ := spec["_id"].(string)

	order := []string{}
	buckets := map[string]*groupBucket{}

	for _, row := range rows {
		var key any
		if idRef != "" {
			key, _ = LookupPath(row, fieldRef(idRef))
		}
		hash := fmt.Sprintf("%v", key)
		b, ok := buckets[hash]
		if !ok {
			b = &groupBucket{
				row:    domain.Row{"_id": key},
				counts: map[string]int64{},
				sums:   map[string]float64{},
			}
			buckets[hash] = b
			order = append(order, hash)
		}

		for out, accAny := range spec {
			if out == "_id" {
				continue
			}
			acc, ok := accAny.(map[string]any)
			if !ok || len(acc) != 1 {
				return nil, fmt.Errorf("%w: $group accumulator %s", ErrUnsupported, out)
			}
			for op, ref := range acc {
				if err := b.accumulate(out, op, ref, row); err != nil {
					return nil, err
				}
			}
		}
	}

	out := make([]domain.Row, 0, len(order))
	for _, hash := range order {
		out = append(out, buckets[hash].row)
	}
	return out, nil
}

func (b *groupBucket) accumulate(out, op string, ref any, row domain.Row) error {
	switch op {
	case "$count":
		cur, _ := b.row[out].(int64)
		b.row[out] = cur + 1
	case "$sum":
		f, _ := toFloat(refValue(row, ref))
		cur, _ := b.row[out].(float64)
		b.row[out] = cur + f
	case "$avg":
		f, _ := toFloat(refValue(row, ref))
		b.sums[out] += f
		b.counts[out]++
		b.row[out] = b.sums[out] / float64(b.counts[out])
	case "$min":
		val := refValue(row, ref)
		cur, exists := b.row[out]
		if c, ok := compare(val, cur); !exists || (ok && c < 0) {
			b.row[out] = val
		}
	case "$max":
		val := refValue(row, ref)
		cur, exists := b.row[out]
		if c, ok := compare(val, cur); !exists || (ok && c > 0) {
			b.row[out] = val
		}
	default:
		return fmt.Errorf("%w: $group operator %s", ErrUnsupported, op)
	}
	return nil
}

func refValue(row domain.Row, ref any) any {
	s, ok := ref.(string)
	if !ok {
		return ref
	}
	if v, found := LookupPath(row, fieldRef(s)); found {
		return v
	}
	return nil
}

func fieldRef(s string) string {
	if len(s) > 0 && s[0] == '$' {
		return s[1:]
	}
	return s
}

func toDirectionMap(arg any) (map[string]int, bool) {
	switch m := arg.(type) {
	case map[string]int:
		return m, true
	case map[string]any:
		out := make(map[string]int, len(m))
		for k, v := range m {
			out[k] = int(toInt64(v))
		}
		return out, true
	default:
		return nil, false
	}
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}
