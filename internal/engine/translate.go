package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/kailas-cloud/datagate/internal/adapter"
	"github.com/kailas-cloud/datagate/internal/domain"
	"github.com/kailas-cloud/datagate/internal/schema"
)

// buildQuery turns the generic query format into an adapter query: virtual
// fields are rejected from find clauses, find_join constraints are resolved
// into id sets, and filter values are coerced to their schema types.
func (e *Engine) buildQuery(
	ctx context.Context, def *schema.Definition, q domain.QueryFormat,
) (adapter.Query, error) {
	if err := rejectVirtualFind(def, q.Find); err != nil {
		return adapter.Query{}, err
	}

	find := copyFilter(q.Find)
	find = e.coerceFind(def, find)

	var err error
	for _, join := range q.FindJoin {
		find, err = e.applyFindJoin(ctx, def, find, join)
		if err != nil {
			return adapter.Query{}, err
		}
	}

	return adapter.Query{
		Filter: find,
		Sort:   q.Sort,
		Skip:   q.Skip,
		Limit:  q.Limit,
		Select: q.Select,
	}, nil
}

// rejectVirtualFind fails when any find path resolves to a virtual field.
// Virtual fields exist only after population; matching on them would silently
// return nothing.
func rejectVirtualFind(def *schema.Definition, find domain.Filter) error {
	for key, cond := range find {
		switch key {
		case "$and", "$or", "$nor":
			subs, ok := cond.([]any)
			if !ok {
				continue
			}
			for _, sub := range subs {
				if f, ok := sub.(map[string]any); ok {
					if err := rejectVirtualFind(def, f); err != nil {
						return err
					}
				}
			}
		default:
			if strings.HasPrefix(key, "$") {
				continue
			}
			root, _, _ := strings.Cut(key, ".")
			if p, ok := def.Fields[root]; ok && p.Kind == schema.KindVirtual {
				return fmt.Errorf("%w: %q", domain.ErrVirtualFieldInFind, key)
			}
		}
	}
	return nil
}

// coerceFind aligns filter values with schema field types so string dates
// compare against stored time values.
func (e *Engine) coerceFind(def *schema.Definition, find domain.Filter) domain.Filter {
	for key, cond := range find {
		if strings.HasPrefix(key, "$") {
			subs, ok := cond.([]any)
			if !ok {
				continue
			}
			for _, sub := range subs {
				if f, ok := sub.(map[string]any); ok {
					e.coerceFind(def, f)
				}
			}
			continue
		}
		prop, err := def.Field(key)
		if err != nil {
			continue
		}
		if ops, ok := cond.(map[string]any); ok && hasOperatorKeys(ops) {
			for op, arg := range ops {
				if vals, ok := arg.([]any); ok {
					coerced := make([]any, len(vals))
					for i, v := range vals {
						coerced[i] = e.convert.CoerceFilterValue(prop, v)
					}
					ops[op] = coerced
					continue
				}
				ops[op] = e.convert.CoerceFilterValue(prop, arg)
			}
			continue
		}
		find[key] = e.convert.CoerceFilterValue(prop, cond)
	}
	return find
}

// applyFindJoin runs one join query and folds the resulting id set into the
// primary find as an $in constraint.
func (e *Engine) applyFindJoin(
	ctx context.Context, def *schema.Definition, find domain.Filter, join domain.FindJoin,
) (domain.Filter, error) {
	target := join.Target
	if target.Collection == "" {
		return nil, fmt.Errorf("%w: find_join requires a collection", domain.ErrInvalidOperation)
	}
	if target.Instance == "" {
		target.Instance = def.Identity.Instance
	}
	if target.Database == "" {
		target.Database = def.Identity.Database
	}

	targetDef, targetAdapter, err := e.resolve(target)
	if err != nil {
		return nil, err
	}

	idField := join.FindIDSource
	if idField == "" {
		idField = join.FindKeyTarget
	}
	if idField == "" {
		idField, err = joinPrimaryKey(targetDef, join.SourceTablePrimaryKey)
		if err != nil {
			return nil, err
		}
	}

	matches, err := targetAdapter.FindMany(ctx, target.Collection, adapter.Query{
		Filter: join.Find,
		Select: map[string]int{idField: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("find_join on %s: %w", target.Collection, err)
	}

	// Dedupe before merging; join matches routinely repeat ids and the $in
	// set must stay bounded by the number of distinct values.
	seen := make(map[string]struct{}, len(matches))
	ids := make([]any, 0, len(matches))
	for _, row := range matches {
		v, ok := adapter.LookupPath(row, idField)
		if !ok || v == nil {
			continue
		}
		k := fmt.Sprintf("%v", v)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		ids = append(ids, v)
	}

	sourceKey := join.SourceKey
	if sourceKey == "" {
		sourceKey, err = def.PrimaryKey()
		if err != nil {
			return nil, err
		}
	}

	return mergeIn(find, sourceKey, ids), nil
}

// joinPrimaryKey resolves the join collection's id field, falling back to the
// explicit override when the schema declares none or several primary keys.
func joinPrimaryKey(def *schema.Definition, override string) (string, error) {
	pk, err := def.PrimaryKey()
	if err != nil {
		if override != "" {
			return override, nil
		}
		return "", err
	}
	return pk, nil
}

// mergeIn adds an $in constraint, preserving any existing condition on the
// same field by lifting both into $and.
func mergeIn(find domain.Filter, key string, ids []any) domain.Filter {
	constraint := map[string]any{"$in": ids}
	existing, ok := find[key]
	if !ok {
		find[key] = constraint
		return find
	}
	and, _ := find["$and"].([]any)
	and = append(and,
		map[string]any{key: existing},
		map[string]any{key: constraint},
	)
	delete(find, key)
	find["$and"] = and
	return find
}

func copyFilter(f domain.Filter) domain.Filter {
	out := make(domain.Filter, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

func hasOperatorKeys(m map[string]any) bool {
	for k := range m {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}
