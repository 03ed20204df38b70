package engine

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/kailas-cloud/datagate/internal/adapter"
	"github.com/kailas-cloud/datagate/internal/domain"
	"github.com/kailas-cloud/datagate/internal/metrics"
	"github.com/kailas-cloud/datagate/internal/schema"
)

// masterState tracks one cascading save: every touched collection for cache
// invalidation, and the identity stack for cycle detection.
type masterState struct {
	opts    domain.MasterSaveOptions
	touched map[string]domain.CollectionIdentity
}

// MasterSave persists a row tree in one walk: embedded relationship children
// are saved first and their keys wired into the parent, the parent is
// upserted, then virtual children are stamped with the back-reference and
// saved last. There is no rollback; a failure mid-walk reports the failing
// branch path and leaves completed writes in place.
func (e *Engine) MasterSave(
	ctx context.Context, id domain.CollectionIdentity, rows []domain.Row, opts domain.MasterSaveOptions,
) domain.Response[[]domain.Row] {
	start := time.Now()
	var opErr error
	defer func() { metrics.ObserveOperation("masterSave", id.Collection, start, opErr) }()

	run, short, err := e.runPre(ctx, id, "masterSave", rows)
	if err != nil {
		opErr = err
		return domain.FailErr[[]domain.Row](err)
	}
	if short != nil {
		out, _ := short.Response.([]domain.Row)
		return domain.OK(out).WithWarnings(run.warnings...)
	}
	if replaced, ok := run.req.Payload.([]domain.Row); ok {
		rows = replaced
	}

	state := &masterState{opts: opts, touched: make(map[string]domain.CollectionIdentity)}

	saved := make([]domain.Row, 0, len(rows))
	for _, row := range rows {
		result, fieldErrs, err := e.masterSaveRow(ctx, state, id, row,
			[]string{id.Collection}, []string{id.String()})
		if len(fieldErrs) > 0 {
			opErr = domain.ErrInvalidOperation
			return failFields[[]domain.Row](fieldErrs)
		}
		if err != nil {
			opErr = err
			return domain.FailErr[[]domain.Row](err)
		}
		saved = append(saved, result)
	}

	for _, touched := range state.touched {
		e.invalidate(ctx, touched)
	}

	warnings := e.runPost(ctx, run, saved)
	return domain.OK(saved).WithWarnings(warnings...)
}

// masterSaveRow saves one node of the tree. path is the field breadcrumb for
// error reporting; stack holds the (collection, join key) hops of the active
// branch, seeded with the root identity as a breadcrumb only.
func (e *Engine) masterSaveRow(
	ctx context.Context,
	state *masterState,
	id domain.CollectionIdentity,
	row domain.Row,
	path []string,
	stack []string,
) (domain.Row, []domain.EngineError, error) {
	def, a, err := e.resolve(id)
	if err != nil {
		return nil, nil, wrapPath(path, err)
	}
	state.touched[id.String()] = id

	// Children first: embedded relationship documents become stored rows and
	// their referenced column replaces the embedded value on the parent.
	if fieldErrs, err := e.saveEmbeddedParents(ctx, state, def, row, path, stack); err != nil || len(fieldErrs) > 0 {
		return nil, fieldErrs, err
	}

	// Virtual children are lifted off the payload before the parent write;
	// they are not parent columns.
	virtuals := extractVirtualPayloads(def, row)

	saved, fieldErrs, err := e.masterUpsert(ctx, def, a, row, state.opts)
	if len(fieldErrs) > 0 {
		return nil, annotatePath(fieldErrs, path), nil
	}
	if err != nil {
		return nil, nil, wrapPath(path, err)
	}

	if fieldErrs, err := e.saveVirtualChildren(ctx, state, def, saved, virtuals, path, stack); err != nil || len(fieldErrs) > 0 {
		return nil, fieldErrs, err
	}

	return saved, nil, nil
}

// saveEmbeddedParents recursively saves relationship fields whose value is an
// embedded document and wires the resulting key back into the parent field.
func (e *Engine) saveEmbeddedParents(
	ctx context.Context,
	state *masterState,
	def *schema.Definition,
	row domain.Row,
	path []string,
	stack []string,
) ([]domain.EngineError, error) {
	for _, name := range sortedFieldNames(def.Fields) {
		prop := def.Fields[name]
		if prop.Kind != schema.KindRelationship || prop.Rel == nil {
			continue
		}
		child, ok := row[name].(map[string]any)
		if !ok {
			continue
		}

		target := prop.Rel.Target(def.Identity)
		target.NoCycle = def.Identity.NoCycle
		target.SkipHooks = def.Identity.SkipHooks

		childPath := append(append([]string{}, path...), name)

		column := prop.Rel.Column
		if column == "" {
			childDef, err := e.schemas.Resolve(target)
			if err != nil {
				return nil, wrapPath(childPath, err)
			}
			column, err = childDef.PrimaryKey()
			if err != nil {
				return nil, wrapPath(childPath, err)
			}
		}

		hop := target.String() + "#" + column
		if truncated, err := checkCycle(stack, hop, target, def.Identity.NoCycle, childPath); err != nil {
			return nil, err
		} else if truncated {
			continue
		}

		savedChild, fieldErrs, err := e.masterSaveRow(ctx, state, target, child,
			childPath, append(append([]string{}, stack...), hop))
		if len(fieldErrs) > 0 || err != nil {
			return fieldErrs, err
		}
		row[name] = savedChild[column]
	}
	return nil, nil
}

// saveVirtualChildren stamps the back-reference onto each virtual child, saves
// it, and attaches the results to the saved parent row.
func (e *Engine) saveVirtualChildren(
	ctx context.Context,
	state *masterState,
	def *schema.Definition,
	parent domain.Row,
	virtuals map[string]any,
	path []string,
	stack []string,
) ([]domain.EngineError, error) {
	for _, name := range sortedKeys(virtuals) {
		prop := def.Fields[name]
		payload := virtuals[name]
		childPath := append(append([]string{}, path...), name)

		target := prop.Rel.Target(def.Identity)
		target.NoCycle = def.Identity.NoCycle
		target.SkipHooks = def.Identity.SkipHooks

		sourceField := ""
		if prop.Virtual != nil {
			sourceField = prop.Virtual.SourceLinker
		}
		if sourceField == "" {
			pk, err := def.PrimaryKey()
			if err != nil {
				return nil, wrapPath(childPath, err)
			}
			sourceField = pk
		}
		targetKey, err := e.schemas.ResolveVirtualTarget(def, prop)
		if err != nil {
			return nil, wrapPath(childPath, err)
		}

		hop := target.String() + "#" + targetKey
		if truncated, err := checkCycle(stack, hop, target, def.Identity.NoCycle, childPath); err != nil {
			return nil, err
		} else if truncated {
			continue
		}

		children := asRowSlice(payload)
		savedChildren := make([]any, 0, len(children))
		childStack := append(append([]string{}, stack...), hop)
		for _, child := range children {
			child[targetKey] = parent[sourceField]
			savedChild, fieldErrs, err := e.masterSaveRow(ctx, state, target, child, childPath, childStack)
			if len(fieldErrs) > 0 || err != nil {
				return fieldErrs, err
			}
			savedChildren = append(savedChildren, savedChild)
		}

		if prop.IsMultiple {
			parent[name] = savedChildren
		} else if len(savedChildren) > 0 {
			parent[name] = savedChildren[0]
		}
	}
	return nil, nil
}

// masterUpsert writes one node: key resolution, conversions, validations,
// the concurrency guard when updating, then insert or replace.
func (e *Engine) masterUpsert(
	ctx context.Context,
	def *schema.Definition,
	a adapter.Adapter,
	row domain.Row,
	opts domain.MasterSaveOptions,
) (domain.Row, []domain.EngineError, error) {
	pk, err := e.ensureKey(ctx, def, a, row)
	if err != nil {
		return nil, nil, err
	}
	keyValue, hasKey := row[pk]

	var excludeField string
	var excludeValue any
	if hasKey {
		excludeField, excludeValue = pk, keyValue
	}
	fieldErrs, err := e.prepareRow(ctx, def, a, row, false, opts.SkipValidation, excludeField, excludeValue)
	if err != nil || len(fieldErrs) > 0 {
		return nil, fieldErrs, err
	}

	if !hasKey || keyValue == nil {
		inserted, err := a.Insert(ctx, def.Identity.Collection, []domain.Row{row})
		if err != nil {
			return nil, nil, err
		}
		return inserted[0], nil, nil
	}

	adapterKey := adapter.Key{Field: pk, Value: keyValue}
	_, findErr := a.FindOne(ctx, def.Identity.Collection, adapter.Query{
		Filter: domain.Filter{pk: keyValue},
	})
	if errors.Is(findErr, domain.ErrRecordNotFound) {
		inserted, err := a.Insert(ctx, def.Identity.Collection, []domain.Row{row})
		if err != nil {
			return nil, nil, err
		}
		return inserted[0], nil, nil
	}
	if findErr != nil {
		return nil, nil, findErr
	}

	if err := e.applyGuard(ctx, def, a, adapterKey, row, opts.SkipGuard()); err != nil {
		return nil, nil, err
	}
	replaced, err := a.ReplaceByID(ctx, def.Identity.Collection, adapterKey, row)
	if err != nil {
		return nil, nil, err
	}
	return replaced, nil, nil
}

// checkCycle reports whether re-entering the target through the same join
// column closes a cycle. The root node is not a visited hop, so a single
// self-referential branch saves normally. With noCycle the branch is
// truncated (skipped) instead of failing.
func checkCycle(stack []string, hop string, target domain.CollectionIdentity, noCycle bool, path []string) (bool, error) {
	for _, seen := range stack {
		if seen != hop {
			continue
		}
		if noCycle || target.NoCycle {
			return true, nil
		}
		return false, &domain.CycleError{Path: append(append([]string{}, path...), hop)}
	}
	return false, nil
}

// extractVirtualPayloads removes virtual-field payloads from the row and
// returns them keyed by field name.
func extractVirtualPayloads(def *schema.Definition, row domain.Row) map[string]any {
	out := make(map[string]any)
	for name, prop := range def.Fields {
		if prop.Kind != schema.KindVirtual {
			continue
		}
		if payload, ok := row[name]; ok {
			out[name] = payload
			delete(row, name)
		}
	}
	return out
}

func asRowSlice(payload any) []domain.Row {
	switch v := payload.(type) {
	case []any:
		out := make([]domain.Row, 0, len(v))
		for _, item := range v {
			if row, ok := item.(map[string]any); ok {
				out = append(out, row)
			}
		}
		return out
	case []domain.Row:
		return v
	case map[string]any:
		return []domain.Row{v}
	default:
		return nil
	}
}

func wrapPath(path []string, err error) error {
	var pe *domain.PathError
	if errors.As(err, &pe) {
		return err
	}
	return &domain.PathError{Path: append([]string{}, path...), Err: err}
}

func annotatePath(errs []domain.EngineError, path []string) []domain.EngineError {
	for i := range errs {
		if len(errs[i].Path) == 0 {
			errs[i].Path = append([]string{}, path...)
		}
	}
	return errs
}

func sortedFieldNames(fields map[string]*schema.Property) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
