package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/kailas-cloud/datagate/internal/domain"
	"github.com/kailas-cloud/datagate/internal/metrics"
	"github.com/kailas-cloud/datagate/internal/schema"
)

// ArrayOperations applies mongo-style array mutations to every matched row.
// Each operation is validated against the schema (the path must resolve to an
// array field) before any storage call happens.
func (e *Engine) ArrayOperations(
	ctx context.Context, id domain.CollectionIdentity, ops []domain.ArrayOperation,
) domain.Response[int64] {
	start := time.Now()
	var opErr error
	defer func() { metrics.ObserveOperation("arrayOperations", id.Collection, start, opErr) }()

	def, a, err := e.resolve(id)
	if err != nil {
		opErr = err
		return domain.FailErr[int64](err)
	}

	run, short, err := e.runPre(ctx, id, "arrayOperations", ops)
	if err != nil {
		opErr = err
		return domain.FailErr[int64](err)
	}
	if short != nil {
		n, _ := short.Response.(int64)
		return domain.OK(n).WithWarnings(run.warnings...)
	}
	if replaced, ok := run.req.Payload.([]domain.ArrayOperation); ok {
		ops = replaced
	}

	for i := range ops {
		if err := ops[i].Validate(); err != nil {
			opErr = err
			return domain.FailErr[int64](err)
		}
		prop, err := def.Field(ops[i].Path)
		if err != nil {
			opErr = err
			return domain.FailErr[int64](err)
		}
		if prop.Kind != schema.KindArray {
			opErr = fmt.Errorf("%w: %q is not an array field", domain.ErrInvalidOperation, ops[i].Path)
			return domain.FailErr[int64](opErr)
		}
		if err := rejectVirtualFind(def, ops[i].Find); err != nil {
			opErr = err
			return domain.FailErr[int64](err)
		}
		ops[i].Find = e.coerceFind(def, copyFilter(ops[i].Find))
	}

	n, err := a.ApplyArrayOps(ctx, id.Collection, ops)
	if err != nil {
		opErr = err
		return domain.FailErr[int64](err)
	}

	e.invalidate(ctx, id)
	warnings := e.runPost(ctx, run, n)
	return domain.OK(n).WithWarnings(warnings...)
}
