package engine

import (
	"context"
	"errors"
	"time"

	"github.com/kailas-cloud/datagate/internal/adapter"
	"github.com/kailas-cloud/datagate/internal/domain"
	"github.com/kailas-cloud/datagate/internal/metrics"
	"github.com/kailas-cloud/datagate/internal/schema"
)

// SaveSingleOrMultiple upserts the given rows: rows carrying a primary-key
// value replace the stored row (insert on miss), rows without one are
// inserted with a generated key where the schema declares a generator.
func (e *Engine) SaveSingleOrMultiple(
	ctx context.Context, id domain.CollectionIdentity, rows []domain.Row, opts domain.SaveOptions,
) domain.Response[[]domain.Row] {
	start := time.Now()
	var opErr error
	defer func() { metrics.ObserveOperation("save", id.Collection, start, opErr) }()

	def, a, err := e.resolve(id)
	if err != nil {
		opErr = err
		return domain.FailErr[[]domain.Row](err)
	}

	run, short, err := e.runPre(ctx, id, "save", rows)
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

	saved := make([]domain.Row, 0, len(rows))
	for _, row := range rows {
		result, fieldErrs, err := e.saveOne(ctx, def, a, row, opts.SkipValidation)
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

	e.invalidate(ctx, id)

	if err := e.finishRead(ctx, def, saved, opts.Deep, id.NoCycle); err != nil {
		opErr = err
		return domain.FailErr[[]domain.Row](err)
	}

	warnings := e.runPost(ctx, run, saved)
	return domain.OK(saved).WithWarnings(warnings...)
}

// saveOne prepares and upserts a single row.
func (e *Engine) saveOne(
	ctx context.Context,
	def *schema.Definition,
	a adapter.Adapter,
	row domain.Row,
	skipValidation bool,
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
	fieldErrs, err := e.prepareRow(ctx, def, a, row, false, skipValidation, excludeField, excludeValue)
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

	replaced, err := a.ReplaceByID(ctx, def.Identity.Collection, adapter.Key{Field: pk, Value: keyValue}, row)
	if errors.Is(err, domain.ErrRecordNotFound) {
		inserted, insErr := a.Insert(ctx, def.Identity.Collection, []domain.Row{row})
		if insErr != nil {
			return nil, nil, insErr
		}
		return inserted[0], nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return replaced, nil, nil
}

// UpdateByID merges set into the row addressed by key, honoring the
// optimistic-concurrency guard unless skipped.
func (e *Engine) UpdateByID(
	ctx context.Context, id domain.CollectionIdentity, key any, set domain.Row, opts domain.UpdateOptions,
) domain.Response[domain.Row] {
	start := time.Now()
	var opErr error
	defer func() { metrics.ObserveOperation("updateById", id.Collection, start, opErr) }()

	def, a, err := e.resolve(id)
	if err != nil {
		opErr = err
		return domain.FailErr[domain.Row](err)
	}
	pk, err := def.PrimaryKey()
	if err != nil {
		opErr = err
		return domain.FailErr[domain.Row](err)
	}

	run, short, err := e.runPre(ctx, id, "updateById", set)
	if err != nil {
		opErr = err
		return domain.FailErr[domain.Row](err)
	}
	if short != nil {
		row, _ := short.Response.(domain.Row)
		return domain.OK(row).WithWarnings(run.warnings...)
	}
	if replaced, ok := run.req.Payload.(domain.Row); ok {
		set = replaced
	}

	delete(set, pk)
	fieldErrs, err := e.prepareRow(ctx, def, a, set, true, opts.SkipValidation, pk, key)
	if len(fieldErrs) > 0 {
		opErr = domain.ErrInvalidOperation
		return failFields[domain.Row](fieldErrs)
	}
	if err != nil {
		opErr = err
		return domain.FailErr[domain.Row](err)
	}

	adapterKey := adapter.Key{Field: pk, Value: key}
	if err := e.applyGuard(ctx, def, a, adapterKey, set, opts.SkipGuard()); err != nil {
		opErr = err
		return domain.FailErr[domain.Row](err)
	}

	row, err := a.UpdateByID(ctx, id.Collection, adapterKey, set)
	if err != nil {
		opErr = err
		return domain.FailErr[domain.Row](err)
	}

	e.invalidate(ctx, id)
	if err := e.finishRead(ctx, def, []domain.Row{row}, nil, id.NoCycle); err != nil {
		opErr = err
		return domain.FailErr[domain.Row](err)
	}
	warnings := e.runPost(ctx, run, row)
	return domain.OK(row).WithWarnings(warnings...)
}

// ReplaceByID swaps the whole stored row for the submitted one, honoring the
// concurrency guard unless skipped.
func (e *Engine) ReplaceByID(
	ctx context.Context, id domain.CollectionIdentity, key any, row domain.Row, opts domain.UpdateOptions,
) domain.Response[domain.Row] {
	start := time.Now()
	var opErr error
	defer func() { metrics.ObserveOperation("replaceById", id.Collection, start, opErr) }()

	def, a, err := e.resolve(id)
	if err != nil {
		opErr = err
		return domain.FailErr[domain.Row](err)
	}
	pk, err := def.PrimaryKey()
	if err != nil {
		opErr = err
		return domain.FailErr[domain.Row](err)
	}

	run, short, err := e.runPre(ctx, id, "replaceById", row)
	if err != nil {
		opErr = err
		return domain.FailErr[domain.Row](err)
	}
	if short != nil {
		out, _ := short.Response.(domain.Row)
		return domain.OK(out).WithWarnings(run.warnings...)
	}
	if replaced, ok := run.req.Payload.(domain.Row); ok {
		row = replaced
	}

	fieldErrs, err := e.prepareRow(ctx, def, a, row, false, opts.SkipValidation, pk, key)
	if len(fieldErrs) > 0 {
		opErr = domain.ErrInvalidOperation
		return failFields[domain.Row](fieldErrs)
	}
	if err != nil {
		opErr = err
		return domain.FailErr[domain.Row](err)
	}

	adapterKey := adapter.Key{Field: pk, Value: key}
	if err := e.applyGuard(ctx, def, a, adapterKey, row, opts.SkipGuard()); err != nil {
		opErr = err
		return domain.FailErr[domain.Row](err)
	}

	stored, err := a.ReplaceByID(ctx, id.Collection, adapterKey, row)
	if err != nil {
		opErr = err
		return domain.FailErr[domain.Row](err)
	}

	e.invalidate(ctx, id)
	if err := e.finishRead(ctx, def, []domain.Row{stored}, nil, id.NoCycle); err != nil {
		opErr = err
		return domain.FailErr[domain.Row](err)
	}
	warnings := e.runPost(ctx, run, stored)
	return domain.OK(stored).WithWarnings(warnings...)
}

// UpdateMany merges set into every matching row. The concurrency guard does
// not apply to bulk updates; there is no single stored version to compare.
func (e *Engine) UpdateMany(
	ctx context.Context, id domain.CollectionIdentity, find domain.Filter, set domain.Row,
) domain.Response[int64] {
	start := time.Now()
	var opErr error
	defer func() { metrics.ObserveOperation("updateMany", id.Collection, start, opErr) }()

	def, a, err := e.resolve(id)
	if err != nil {
		opErr = err
		return domain.FailErr[int64](err)
	}

	run, short, err := e.runPre(ctx, id, "updateMany", set)
	if err != nil {
		opErr = err
		return domain.FailErr[int64](err)
	}
	if short != nil {
		n, _ := short.Response.(int64)
		return domain.OK(n).WithWarnings(run.warnings...)
	}
	if replaced, ok := run.req.Payload.(domain.Row); ok {
		set = replaced
	}

	if err := rejectVirtualFind(def, find); err != nil {
		opErr = err
		return domain.FailErr[int64](err)
	}
	fieldErrs, err := e.prepareRow(ctx, def, a, set, true, true, "", nil)
	if len(fieldErrs) > 0 {
		opErr = domain.ErrInvalidOperation
		return failFields[int64](fieldErrs)
	}
	if err != nil {
		opErr = err
		return domain.FailErr[int64](err)
	}

	n, err := a.UpdateMany(ctx, id.Collection, e.coerceFind(def, copyFilter(find)), set)
	if err != nil {
		opErr = err
		return domain.FailErr[int64](err)
	}

	e.invalidate(ctx, id)
	warnings := e.runPost(ctx, run, n)
	return domain.OK(n).WithWarnings(warnings...)
}

// RemoveByID deletes one row by primary key. Missing rows report not found.
func (e *Engine) RemoveByID(
	ctx context.Context, id domain.CollectionIdentity, key any,
) domain.Response[bool] {
	start := time.Now()
	var opErr error
	defer func() { metrics.ObserveOperation("removeById", id.Collection, start, opErr) }()

	def, a, err := e.resolve(id)
	if err != nil {
		opErr = err
		return domain.FailErr[bool](err)
	}
	pk, err := def.PrimaryKey()
	if err != nil {
		opErr = err
		return domain.FailErr[bool](err)
	}

	run, short, err := e.runPre(ctx, id, "removeById", key)
	if err != nil {
		opErr = err
		return domain.FailErr[bool](err)
	}
	if short != nil {
		ok, _ := short.Response.(bool)
		return domain.OK(ok).WithWarnings(run.warnings...)
	}

	removed, err := a.DeleteByID(ctx, id.Collection, adapter.Key{Field: pk, Value: key})
	if err != nil {
		opErr = err
		return domain.FailErr[bool](err)
	}
	if !removed {
		opErr = domain.ErrRecordNotFound
		return domain.FailErr[bool](domain.ErrRecordNotFound)
	}

	e.invalidate(ctx, id)
	warnings := e.runPost(ctx, run, removed)
	return domain.OK(true).WithWarnings(warnings...)
}

// RemoveByQuery deletes every matching row and reports the count.
func (e *Engine) RemoveByQuery(
	ctx context.Context, id domain.CollectionIdentity, find domain.Filter,
) domain.Response[int64] {
	start := time.Now()
	var opErr error
	defer func() { metrics.ObserveOperation("removeByQuery", id.Collection, start, opErr) }()

	def, a, err := e.resolve(id)
	if err != nil {
		opErr = err
		return domain.FailErr[int64](err)
	}

	run, short, err := e.runPre(ctx, id, "removeByQuery", find)
	if err != nil {
		opErr = err
		return domain.FailErr[int64](err)
	}
	if short != nil {
		n, _ := short.Response.(int64)
		return domain.OK(n).WithWarnings(run.warnings...)
	}
	if replaced, ok := run.req.Payload.(domain.Filter); ok {
		find = replaced
	}

	if err := rejectVirtualFind(def, find); err != nil {
		opErr = err
		return domain.FailErr[int64](err)
	}

	n, err := a.DeleteMany(ctx, id.Collection, e.coerceFind(def, copyFilter(find)))
	if err != nil {
		opErr = err
		return domain.FailErr[int64](err)
	}

	e.invalidate(ctx, id)
	warnings := e.runPost(ctx, run, n)
	return domain.OK(n).WithWarnings(warnings...)
}
