package adapter

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/kailas-cloud/datagate/internal/domain"
)

// Match evaluates a backend-agnostic filter against a row. This is the
// reference semantics; native backends translate the same operator set.
func Match(row domain.Row, filter domain.Filter) bool {
	for key, cond := range filter {
		switch key {
		case "$and":
			for _, sub := range toFilters(cond) {
				if !Match(row, sub) {
					return false
				}
			}
		case "$or":
			subs := toFilters(cond)
			if len(subs) == 0 {
				continue
			}
			ok := false
			for _, sub := range subs {
				if Match(row, sub) {
					ok = true
					break
				}
			}
			if !ok {
				return false
			}
		case "$nor":
			for _, sub := range toFilters(cond) {
				if Match(row, sub) {
					return false
				}
			}
		default:
			val, exists := LookupPath(row, key)
			if !matchValue(val, exists, cond) {
				return false
			}
		}
	}
	return true
}

// MatchValue evaluates a condition against a bare value, used for filters on
// array elements ($pull, arrayFilters).
func MatchValue(value any, cond any) bool {
	if m, ok := cond.(map[string]any); ok {
		if hasOperators(m) {
			return matchValue(value, true, m)
		}
		elem, ok := value.(map[string]any)
		if !ok {
			return false
		}
		return Match(elem, m)
	}
	return equal(value, cond)
}

func matchValue(val any, exists bool, cond any) bool {
	ops, isMap := cond.(map[string]any)
	if !isMap || !hasOperators(ops) {
		// Implicit equality. Arrays match when any element equals, mirroring
		// document-store semantics.
		return exists && (equal(val, cond) || elementEqual(val, cond))
	}
	for op, arg := range ops {
		if !applyOperator(val, exists, op, arg) {
			return false
		}
	}
	return true
}

func applyOperator(val any, exists bool, op string, arg any) bool {
	switch op {
	case "$eq":
		return exists && (equal(val, arg) || elementEqual(val, arg))
	case "$ne":
		return !exists || !equal(val, arg)
	case "$gt":
		c, ok := compare(val, arg)
		return ok && c > 0
	case "$gte":
		c, ok := compare(val, arg)
		return ok && c >= 0
	case "$lt":
		c, ok := compare(val, arg)
		return ok && c < 0
	case "$lte":
		c, ok := compare(val, arg)
		return ok && c <= 0
	case "$in":
		for _, candidate := range toSlice(arg) {
			if equal(val, candidate) || elementEqual(val, candidate) {
				return true
			}
		}
		return false
	case "$nin":
		for _, candidate := range toSlice(arg) {
			if equal(val, candidate) || elementEqual(val, candidate) {
				return false
			}
		}
		return true
	case "$exists":
		want, _ := arg.(bool)
		return exists == want
	case "$regex":
		pattern, ok := arg.(string)
		if !ok {
			return false
		}
		s, ok := val.(string)
		if !ok {
			return false
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(s)
	case "$not":
		return !matchValue(val, exists, arg)
	default:
		// Unknown operator keys are treated as nested document equality.
		return false
	}
}

func hasOperators(m map[string]any) bool {
	for k := range m {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}

func toFilters(v any) []domain.Filter {
	var out []domain.Filter
	for _, item := range toSlice(v) {
		if f, ok := item.(map[string]any); ok {
			out = append(out, f)
		}
	}
	return out
}

func toSlice(v any) []any {
	switch s := v.(type) {
	case []any:
		return s
	case nil:
		return nil
	default:
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Slice {
			out := make([]any, rv.Len())
			for i := range out {
				out[i] = rv.Index(i).Interface()
			}
			return out
		}
		return []any{v}
	}
}

// elementEqual reports whether val is an array containing an element equal
// to want.
func elementEqual(val, want any) bool {
	arr, ok := val.([]any)
	if !ok {
		return false
	}
	for _, el := range arr {
		if equal(el, want) {
			return true
		}
	}
	return false
}

// LookupPath resolves a dot-separated path inside a row.
func LookupPath(row domain.Row, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = map[string]any(row)
	for _, part := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// SetPath writes a value at a dot-separated path, creating intermediate maps.
func SetPath(row domain.Row, path string, value any) {
	parts := strings.Split(path, ".")
	cur := map[string]any(row)
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
}

// Equal is numeric-aware deep equality, exported for drivers and tests.
func Equal(a, b any) bool { return equal(a, b) }

// Compare orders two values, exported for drivers and tests.
func Compare(a, b any) (int, bool) { return compare(a, b) }

// equal is numeric-aware deep equality: 2 == 2.0 across int/float kinds.
func equal(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

// compare orders two values. Numbers order numerically, strings
// lexicographically. Returns false for incomparable pairs.
func compare(a, b any) (int, bool) {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		default:
			return 0, true
		}
	}
	sa, ok := a.(string)
	if !ok {
		return 0, false
	}
	sb, ok := b.(string)
	if !ok {
		return 0, false
	}
	return strings.Compare(sa, sb), true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
