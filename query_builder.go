package datagate

import "context"

// QueryBuilder is a fluent builder for collection reads.
type QueryBuilder struct {
	col *Collection
	q   QueryFormat
}

// Where merges conditions into the find clause. Values may use mongo-style
// operator maps: Where(Filter{"qty": Filter{"$gte": 2}}).
func (b *QueryBuilder) Where(find Filter) *QueryBuilder {
	if b.q.Find == nil {
		b.q.Find = Filter{}
	}
	for k, v := range find {
		b.q.Find[k] = v
	}
	return b
}

// Join adds a find_join: resolve ids from a related collection and constrain
// this query by them.
func (b *QueryBuilder) Join(j FindJoin) *QueryBuilder {
	b.q.FindJoin = append(b.q.FindJoin, j)
	return b
}

// Sort adds an ordering field, ascending unless desc.
func (b *QueryBuilder) Sort(field string, desc bool) *QueryBuilder {
	if b.q.Sort == nil {
		b.q.Sort = map[string]int{}
	}
	dir := 1
	if desc {
		dir = -1
	}
	b.q.Sort[field] = dir
	return b
}

// Skip offsets the result window.
func (b *QueryBuilder) Skip(n int64) *QueryBuilder {
	b.q.Skip = n
	return b
}

// Limit caps the result window.
func (b *QueryBuilder) Limit(n int64) *QueryBuilder {
	b.q.Limit = n
	return b
}

// Select restricts the returned fields (1 include, 0 exclude).
func (b *QueryBuilder) Select(fields map[string]int) *QueryBuilder {
	b.q.Select = fields
	return b
}

// Deep adds a population hop.
func (b *QueryBuilder) Deep(spec DeepSpec) *QueryBuilder {
	b.q.Deep = append(b.q.Deep, spec)
	return b
}

// WithTotalCount requests the window-independent match count alongside the
// rows.
func (b *QueryBuilder) WithTotalCount() *QueryBuilder {
	b.q.GetTotalCount = true
	return b
}

// Format returns the accumulated query.
func (b *QueryBuilder) Format() QueryFormat { return b.q }

// Do executes the query and returns the matching rows.
func (b *QueryBuilder) Do(ctx context.Context) ([]Row, error) {
	return result(b.col.engine.Query(ctx, b.col.id, b.q))
}

// DoWithTotal executes the query and returns the rows plus the total match
// count.
func (b *QueryBuilder) DoWithTotal(ctx context.Context) ([]Row, int64, error) {
	b.q.GetTotalCount = true
	resp := b.col.engine.Query(ctx, b.col.id, b.q)
	rows, err := result(resp)
	if err != nil {
		return nil, 0, err
	}
	var total int64
	if resp.TotalCount != nil {
		total = *resp.TotalCount
	}
	return rows, total, nil
}

// One executes the query with limit 1 and returns the first row, or nil when
// nothing matches.
func (b *QueryBuilder) One(ctx context.Context) (Row, error) {
	b.q.Limit = 1
	rows, err := result(b.col.engine.Query(ctx, b.col.id, b.q))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// Count returns the number of matching rows, ignoring skip/limit.
func (b *QueryBuilder) Count(ctx context.Context) (int64, error) {
	return result(b.col.engine.Count(ctx, b.col.id, b.q))
}

// Distinct returns the distinct values of field across the matching rows,
// sorted ascending unless order is "desc".
func (b *QueryBuilder) Distinct(ctx context.Context, field, order string) ([]any, error) {
	return result(b.col.engine.Distinct(ctx, b.col.id, field, b.q, order))
}

// Stream pages through the matching rows in batches, invoking fn per batch.
func (b *QueryBuilder) Stream(ctx context.Context, batchSize int64, fn func(rows []Row) error) error {
	return b.col.engine.QueryByStream(ctx, b.col.id, b.q, batchSize, fn)
}

// Deep starts a population-spec builder for one source field. Target
// coordinates and the join key default to the schema's relationship
// metadata.
func Deep(sKey string) *DeepBuilder {
	return &DeepBuilder{spec: DeepSpec{SKey: sKey}}
}

// DeepBuilder is a fluent builder for one hop of a population tree.
type DeepBuilder struct {
	spec DeepSpec
}

// From overrides the target collection.
func (b *DeepBuilder) From(instance, database, collection string) *DeepBuilder {
	b.spec.Target = CollectionIdentity{Instance: instance, Database: database, Collection: collection}
	return b
}

// Via overrides the target-side join key.
func (b *DeepBuilder) Via(tKey string) *DeepBuilder {
	b.spec.TKey = tKey
	return b
}

// Where filters the populated rows.
func (b *DeepBuilder) Where(find Filter) *DeepBuilder {
	b.spec.Find = find
	return b
}

// Sort orders the populated rows, ascending unless desc.
func (b *DeepBuilder) Sort(field string, desc bool) *DeepBuilder {
	if b.spec.Sort == nil {
		b.spec.Sort = map[string]int{}
	}
	dir := 1
	if desc {
		dir = -1
	}
	b.spec.Sort[field] = dir
	return b
}

// Window applies a per-parent skip/limit. Forces the one-query-per-parent
// fetch technique.
func (b *DeepBuilder) Window(skip, limit int64) *DeepBuilder {
	b.spec.Skip = skip
	b.spec.Limit = limit
	return b
}

// Select restricts the populated fields.
func (b *DeepBuilder) Select(fields map[string]int) *DeepBuilder {
	b.spec.Select = fields
	return b
}

// Multiple attaches an array of matches instead of the first match.
func (b *DeepBuilder) Multiple() *DeepBuilder {
	b.spec.IsMultiple = true
	return b
}

// Chunk sets the id-batch size for the chunked fetch technique.
func (b *DeepBuilder) Chunk(size int) *DeepBuilder {
	b.spec.ChunkSize = size
	return b
}

// Nested adds a child hop populated on the fetched rows.
func (b *DeepBuilder) Nested(child *DeepBuilder) *DeepBuilder {
	b.spec.Deep = append(b.spec.Deep, child.Spec())
	return b
}

// Spec returns the accumulated population spec.
func (b *DeepBuilder) Spec() DeepSpec { return b.spec }
