package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/datagate/internal/adapter"
	"github.com/kailas-cloud/datagate/internal/cache"
	"github.com/kailas-cloud/datagate/internal/domain"
	"github.com/kailas-cloud/datagate/internal/metrics"
	"github.com/kailas-cloud/datagate/internal/schema"
)

// cachedResult is the serialized shape of a cached read.
type cachedResult struct {
	Rows       []domain.Row `json:"rows"`
	TotalCount *int64       `json:"totalCount,omitempty"`
}

// GetAll returns every row of a collection.
func (e *Engine) GetAll(ctx context.Context, id domain.CollectionIdentity) domain.Response[[]domain.Row] {
	return e.Query(ctx, id, domain.QueryFormat{})
}

// GetByID fetches one row by primary key, optionally deep-populated.
func (e *Engine) GetByID(
	ctx context.Context, id domain.CollectionIdentity, key any, deep []domain.DeepSpec,
) domain.Response[domain.Row] {
	start := time.Now()
	var opErr error
	defer func() { metrics.ObserveOperation("getById", id.Collection, start, opErr) }()

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

	run, short, err := e.runPre(ctx, id, "getById", key)
	if err != nil {
		opErr = err
		return domain.FailErr[domain.Row](err)
	}
	if short != nil {
		row, _ := short.Response.(domain.Row)
		return domain.OK(row).WithWarnings(run.warnings...)
	}
	if replaced := run.req.Payload; replaced != nil {
		key = replaced
	}

	row, err := a.FindOne(ctx, id.Collection, adapter.Query{Filter: domain.Filter{pk: key}})
	if err != nil {
		opErr = err
		return domain.FailErr[domain.Row](err)
	}

	if err := e.finishRead(ctx, def, []domain.Row{row}, deep, id.NoCycle); err != nil {
		opErr = err
		return domain.FailErr[domain.Row](err)
	}

	warnings := e.runPost(ctx, run, row)
	return domain.OK(row).WithWarnings(warnings...)
}

// Query runs the generic query format: find/find_join/sort/window/select plus
// deep population and the optional total count.
func (e *Engine) Query(
	ctx context.Context, id domain.CollectionIdentity, q domain.QueryFormat,
) domain.Response[[]domain.Row] {
	start := time.Now()
	var opErr error
	defer func() { metrics.ObserveOperation("query", id.Collection, start, opErr) }()

	def, a, err := e.resolve(id)
	if err != nil {
		opErr = err
		return domain.FailErr[[]domain.Row](err)
	}

	run, short, err := e.runPre(ctx, id, "query", q)
	if err != nil {
		opErr = err
		return domain.FailErr[[]domain.Row](err)
	}
	if short != nil {
		rows, _ := short.Response.([]domain.Row)
		return domain.OK(rows).WithWarnings(run.warnings...)
	}
	if replaced, ok := run.req.Payload.(domain.QueryFormat); ok {
		q = replaced
	}

	key := cache.Key(id, "query", q)
	if cached, ok := e.cacheGet(ctx, key); ok {
		resp := domain.OK(cached.Rows).WithWarnings(e.runPost(ctx, run, cached.Rows)...)
		if cached.TotalCount != nil {
			resp = resp.WithTotalCount(*cached.TotalCount)
		}
		return resp
	}

	aq, err := e.buildQuery(ctx, def, q)
	if err != nil {
		opErr = err
		return domain.FailErr[[]domain.Row](err)
	}

	rows, err := a.FindMany(ctx, id.Collection, aq)
	if err != nil {
		opErr = err
		return domain.FailErr[[]domain.Row](err)
	}
	if rows == nil {
		rows = []domain.Row{}
	}

	if err := e.finishRead(ctx, def, rows, q.Deep, id.NoCycle); err != nil {
		opErr = err
		return domain.FailErr[[]domain.Row](err)
	}

	result := cachedResult{Rows: rows}
	if q.GetTotalCount {
		total, err := a.Count(ctx, id.Collection, aq.Filter)
		if err != nil {
			opErr = err
			return domain.FailErr[[]domain.Row](err)
		}
		result.TotalCount = &total
	}
	e.cacheSet(ctx, key, result)

	warnings := e.runPost(ctx, run, rows)
	resp := domain.OK(rows).WithWarnings(warnings...)
	if result.TotalCount != nil {
		resp = resp.WithTotalCount(*result.TotalCount)
	}
	return resp
}

// QueryByStream pages through the result set and hands each batch to fn.
// Deep population applies per batch; results are never cached.
func (e *Engine) QueryByStream(
	ctx context.Context,
	id domain.CollectionIdentity,
	q domain.QueryFormat,
	batchSize int64,
	fn func(rows []domain.Row) error,
) error {
	if batchSize <= 0 {
		batchSize = domain.DefaultChunkSize
	}
	def, a, err := e.resolve(id)
	if err != nil {
		return err
	}
	aq, err := e.buildQuery(ctx, def, q)
	if err != nil {
		return err
	}

	remaining := aq.Limit
	skip := aq.Skip
	for {
		step := batchSize
		if remaining > 0 && remaining < step {
			step = remaining
		}
		rows, err := a.FindMany(ctx, id.Collection, adapter.Query{
			Filter: aq.Filter,
			Sort:   aq.Sort,
			Skip:   skip,
			Limit:  step,
			Select: aq.Select,
		})
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		if err := e.finishRead(ctx, def, rows, q.Deep, id.NoCycle); err != nil {
			return err
		}
		if err := fn(rows); err != nil {
			return err
		}
		skip += int64(len(rows))
		if remaining > 0 {
			remaining -= int64(len(rows))
			if remaining <= 0 {
				return nil
			}
		}
		if int64(len(rows)) < step {
			return nil
		}
	}
}

// Count returns the number of rows matching the query's find/find_join.
func (e *Engine) Count(
	ctx context.Context, id domain.CollectionIdentity, q domain.QueryFormat,
) domain.Response[int64] {
	start := time.Now()
	var opErr error
	defer func() { metrics.ObserveOperation("count", id.Collection, start, opErr) }()

	def, a, err := e.resolve(id)
	if err != nil {
		opErr = err
		return domain.FailErr[int64](err)
	}
	aq, err := e.buildQuery(ctx, def, q)
	if err != nil {
		opErr = err
		return domain.FailErr[int64](err)
	}
	n, err := a.Count(ctx, id.Collection, aq.Filter)
	if err != nil {
		opErr = err
		return domain.FailErr[int64](err)
	}
	return domain.OK(n)
}

// Distinct returns the unique values of a field across matching rows. Order
// accepts asc/desc/1/-1/yes/no; anything not explicitly descending sorts
// ascending.
func (e *Engine) Distinct(
	ctx context.Context, id domain.CollectionIdentity, field string, q domain.QueryFormat, order string,
) domain.Response[[]any] {
	start := time.Now()
	var opErr error
	defer func() { metrics.ObserveOperation("distinct", id.Collection, start, opErr) }()

	def, a, err := e.resolve(id)
	if err != nil {
		opErr = err
		return domain.FailErr[[]any](err)
	}
	if _, err := def.Field(field); err != nil {
		opErr = err
		return domain.FailErr[[]any](err)
	}
	aq, err := e.buildQuery(ctx, def, q)
	if err != nil {
		opErr = err
		return domain.FailErr[[]any](err)
	}

	values, err := a.Distinct(ctx, id.Collection, field, aq.Filter)
	if err != nil {
		opErr = err
		return domain.FailErr[[]any](err)
	}

	// Tokens are case-insensitive; anything not explicitly descending sorts
	// ascending.
	switch strings.ToLower(order) {
	case "desc", "-1", "0", "no":
		sort.SliceStable(values, func(i, j int) bool {
			c, ok := adapter.Compare(values[i], values[j])
			return ok && c > 0
		})
	default:
		sort.SliceStable(values, func(i, j int) bool {
			c, ok := adapter.Compare(values[i], values[j])
			return ok && c < 0
		})
	}
	return domain.OK(values)
}

// Aggregate runs a backend-native pipeline.
func (e *Engine) Aggregate(
	ctx context.Context, id domain.CollectionIdentity, pipeline []domain.AggregateStage,
) domain.Response[[]domain.Row] {
	start := time.Now()
	var opErr error
	defer func() { metrics.ObserveOperation("aggregate", id.Collection, start, opErr) }()

	_, a, err := e.resolve(id)
	if err != nil {
		opErr = err
		return domain.FailErr[[]domain.Row](err)
	}

	key := cache.Key(id, "aggregate", pipeline)
	if cached, ok := e.cacheGet(ctx, key); ok {
		return domain.OK(cached.Rows)
	}

	rows, err := a.Aggregate(ctx, id.Collection, pipeline)
	if err != nil {
		opErr = err
		return domain.FailErr[[]domain.Row](err)
	}
	if rows == nil {
		rows = []domain.Row{}
	}
	e.cacheSet(ctx, key, cachedResult{Rows: rows})
	return domain.OK(rows)
}

// finishRead applies deep population and read-side conversions to fetched rows.
func (e *Engine) finishRead(
	ctx context.Context,
	def *schema.Definition,
	rows []domain.Row,
	deep []domain.DeepSpec,
	noCycle bool,
) error {
	if len(deep) > 0 {
		if err := e.populate(ctx, def, rows, deep, []string{def.Identity.String()}, noCycle); err != nil {
			return err
		}
	}
	if err := e.applyReadConversions(ctx, def, rows); err != nil {
		return err
	}
	stripHidden(def, rows)
	return nil
}

func (e *Engine) cacheGet(ctx context.Context, key string) (cachedResult, bool) {
	data, err := e.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			e.logger.Warn("cache get failed", zap.Error(err))
		}
		metrics.CacheMiss()
		return cachedResult{}, false
	}
	var result cachedResult
	if err := json.Unmarshal(data, &result); err != nil {
		metrics.CacheMiss()
		return cachedResult{}, false
	}
	metrics.CacheHit()
	return result, true
}

func (e *Engine) cacheSet(ctx context.Context, key string, result cachedResult) {
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := e.cache.Set(ctx, key, data, e.cacheTTL); err != nil {
		e.logger.Warn("cache set failed", zap.Error(err))
	}
}

// invalidate drops cached reads after a write.
func (e *Engine) invalidate(ctx context.Context, id domain.CollectionIdentity) {
	if err := e.cache.InvalidateCollection(ctx, id); err != nil {
		e.logger.Warn("cache invalidation failed", zap.String("collection", id.String()), zap.Error(err))
	}
}
