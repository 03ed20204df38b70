package postgres

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kailas-cloud/datagate/internal/adapter"
	"github.com/kailas-cloud/datagate/internal/domain"
)

// whereBuilder renders the backend-agnostic operator set into jsonb
// predicates. Only the documented operator subset is supported; anything
// else fails with ErrUnsupported rather than silently mismatching.
type whereBuilder struct {
	args []any
	next int
}

// buildWhere renders a filter to " WHERE ..." (or "") with $N placeholders
// starting at startIdx.
func buildWhere(filter domain.Filter, startIdx int) (string, []any, error) {
	if len(filter) == 0 {
		return "", nil, nil
	}
	b := &whereBuilder{next: startIdx}
	clause, err := b.renderFilter(filter)
	if err != nil {
		return "", nil, err
	}
	if clause == "" {
		return "", nil, nil
	}
	return " WHERE " + clause, b.args, nil
}

func (b *whereBuilder) renderFilter(filter domain.Filter) (string, error) {
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, key := range keys {
		cond := filter[key]
		switch key {
		case "$and", "$or", "$nor":
			subs, ok := cond.([]any)
			if !ok {
				return "", fmt.Errorf("%w: %s wants an array", adapter.ErrUnsupported, key)
			}
			var rendered []string
			for _, sub := range subs {
				f, ok := sub.(map[string]any)
				if !ok {
					return "", fmt.Errorf("%w: %s element", adapter.ErrUnsupported, key)
				}
				r, err := b.renderFilter(f)
				if err != nil {
					return "", err
				}
				rendered = append(rendered, "("+r+")")
			}
			switch key {
			case "$and":
				parts = append(parts, strings.Join(rendered, " AND "))
			case "$or":
				parts = append(parts, "("+strings.Join(rendered, " OR ")+")")
			case "$nor":
				parts = append(parts, "NOT ("+strings.Join(rendered, " OR ")+")")
			}
		default:
			p, err := b.renderField(key, cond)
			if err != nil {
				return "", err
			}
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " AND "), nil
}

func (b *whereBuilder) renderField(path string, cond any) (string, error) {
	ops, isMap := cond.(map[string]any)
	if !isMap || !hasOperators(ops) {
		return b.renderOp(path, "$eq", cond)
	}
	var parts []string
	opKeys := make([]string, 0, len(ops))
	for op := range ops {
		opKeys = append(opKeys, op)
	}
	sort.Strings(opKeys)
	for _, op := range opKeys {
		p, err := b.renderOp(path, op, ops[op])
		if err != nil {
			return "", err
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, " AND "), nil
}

func (b *whereBuilder) renderOp(path, op string, arg any) (string, error) {
	text := "doc#>>" + pathLiteral(path)
	switch op {
	case "$eq":
		return text + " = " + b.bindText(arg), nil
	case "$ne":
		return "(" + text + " IS NULL OR " + text + " <> " + b.bindText(arg) + ")", nil
	case "$gt", "$gte", "$lt", "$lte":
		cmp := map[string]string{"$gt": ">", "$gte": ">=", "$lt": "<", "$lte": "<="}[op]
		if isNumeric(arg) {
			return "(" + text + ")::numeric " + cmp + " " + b.bind(arg), nil
		}
		return text + " " + cmp + " " + b.bindText(arg), nil
	case "$in", "$nin":
		vals, ok := arg.([]any)
		if !ok {
			return "", fmt.Errorf("%w: %s wants an array", adapter.ErrUnsupported, op)
		}
		texts := make([]string, len(vals))
		for i, v := range vals {
			texts[i] = fmt.Sprintf("%v", v)
		}
		placeholder := b.bind(texts)
		if op == "$in" {
			return text + " = ANY(" + placeholder + ")", nil
		}
		return "(" + text + " IS NULL OR NOT (" + text + " = ANY(" + placeholder + ")))", nil
	case "$exists":
		want, _ := arg.(bool)
		if want {
			return text + " IS NOT NULL", nil
		}
		return text + " IS NULL", nil
	case "$regex":
		return text + " ~ " + b.bind(arg), nil
	default:
		return "", fmt.Errorf("%w: operator %s in SQL filter", adapter.ErrUnsupported, op)
	}
}

// bindText binds an argument coerced to its text form, matching the #>>
// extraction on the left-hand side.
func (b *whereBuilder) bindText(arg any) string {
	return b.bind(fmt.Sprintf("%v", arg))
}

func (b *whereBuilder) bind(arg any) string {
	b.args = append(b.args, arg)
	p := fmt.Sprintf("$%d", b.next)
	b.next++
	return p
}

func buildOrder(by map[string]int) string {
	if len(by) == 0 {
		return ""
	}
	keys := make([]string, 0, len(by))
	for k := range by {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(by))
	for _, k := range keys {
		dir := "ASC"
		if by[k] < 0 {
			dir = "DESC"
		}
		parts = append(parts, "doc#>>"+pathLiteral(k)+" "+dir)
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}

func hasOperators(m map[string]any) bool {
	for k := range m {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}

func isNumeric(v any) bool {
	switch v.(type) {
	case int, int32, int64, float32, float64:
		return true
	default:
		return false
	}
}

// pathLiteral renders a dotted path as a jsonb path array literal.
func pathLiteral(path string) string {
	parts := strings.Split(path, ".")
	for i, p := range parts {
		parts[i] = strings.ReplaceAll(p, "'", "''")
	}
	return "'{" + strings.Join(parts, ",") + "}'"
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
