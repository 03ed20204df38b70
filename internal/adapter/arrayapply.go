package adapter

import (
	"fmt"
	"sort"

	"github.com/kailas-cloud/datagate/internal/domain"
)

// ApplyToArray applies one array operation to an array value and returns the
// new array plus a changed flag. This is the portable semantics used by
// backends without native array operators; the mongo adapter maps the same
// operations onto $push/$pull/... directly.
func ApplyToArray(arr []any, op domain.ArrayOperation) ([]any, bool, error) {
	if err := op.Validate(); err != nil {
		return nil, false, err
	}
	switch op.Operation {
	case domain.ArrayPush:
		return applyPush(arr, op, false)
	case domain.ArrayAddToSet:
		return applyPush(arr, op, true)
	case domain.ArrayPull:
		return applyPull(arr, func(el any) bool { return MatchValue(el, map[string]any(op.QueryToRemove)) })
	case domain.ArrayPullAll:
		return applyPull(arr, func(el any) bool {
			for _, v := range op.DataToPull {
				if equal(el, v) {
					return true
				}
			}
			return false
		})
	case domain.ArrayPop:
		if len(arr) == 0 {
			return arr, false, nil
		}
		if op.Direction == -1 {
			return arr[1:], true, nil
		}
		return arr[:len(arr)-1], true, nil
	case domain.ArraySet:
		return applySet(arr, op)
	default:
		return nil, false, fmt.Errorf("%w: %q", domain.ErrInvalidOperation, op.Operation)
	}
}

func applyPush(arr []any, op domain.ArrayOperation, dedup bool) ([]any, bool, error) {
	elems := toSlice(op.DataToPush)
	if dedup {
		filtered := elems[:0:0]
		for _, el := range elems {
			present := false
			for _, existing := range arr {
				if equal(existing, el) {
					present = true
					break
				}
			}
			if !present {
				filtered = append(filtered, el)
			}
		}
		elems = filtered
	}
	if len(elems) == 0 {
		return arr, false, nil
	}

	out := make([]any, 0, len(arr)+len(elems))
	pos := len(arr)
	if op.Position != nil && !dedup {
		pos = clamp(*op.Position, 0, len(arr))
	}
	out = append(out, arr[:pos]...)
	out = append(out, elems...)
	out = append(out, arr[pos:]...)

	if len(op.Sort) > 0 && !dedup {
		sortElements(out, op.Sort)
	}
	if op.Slice != nil && !dedup {
		out = sliceArray(out, *op.Slice)
	}
	return out, true, nil
}

func applyPull(arr []any, remove func(any) bool) ([]any, bool, error) {
	out := make([]any, 0, len(arr))
	for _, el := range arr {
		if !remove(el) {
			out = append(out, el)
		}
	}
	return out, len(out) != len(arr), nil
}

func applySet(arr []any, op domain.ArrayOperation) ([]any, bool, error) {
	matched := false
	out := make([]any, len(arr))
	for i, el := range arr {
		if len(op.ArrayFilters) == 0 || MatchValue(el, map[string]any(op.ArrayFilters)) {
			out[i] = op.DataToSet
			matched = true
			continue
		}
		out[i] = el
	}
	if !matched {
		if !op.Upsert {
			return arr, false, nil
		}
		out = append(out, op.DataToSet)
	}
	return out, true, nil
}

// sortElements orders array elements in place. A single ordering entry with
// an empty key sorts scalar elements by their own value; otherwise keys are
// element fields.
func sortElements(arr []any, by map[string]int) {
	keys := make([]string, 0, len(by))
	for k := range by {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sort.SliceStable(arr, func(i, j int) bool {
		for _, k := range keys {
			dir := by[k]
			var a, b any
			if k == "" {
				a, b = arr[i], arr[j]
			} else {
				am, _ := arr[i].(map[string]any)
				bm, _ := arr[j].(map[string]any)
				a, b = am[k], bm[k]
			}
			c, ok := compare(a, b)
			if !ok || c == 0 {
				continue
			}
			if dir < 0 {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// sliceArray keeps the first n elements for positive n, the last -n for
// negative n ($slice semantics).
func sliceArray(arr []any, n int) []any {
	switch {
	case n >= 0 && n < len(arr):
		return arr[:n]
	case n < 0 && -n < len(arr):
		return arr[len(arr)+n:]
	default:
		return arr
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
