package engine

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/datagate/internal/adapter"
	"github.com/kailas-cloud/datagate/internal/domain"
	"github.com/kailas-cloud/datagate/internal/schema"
)

// link is one resolved relationship hop: which parent field feeds which
// target column, and how the matches attach back.
type link struct {
	spec        domain.DeepSpec
	target      domain.CollectionIdentity
	targetDef   *schema.Definition
	adapter     adapter.Adapter
	sourceField string
	targetKey   string
	isMultiple  bool
}

// populate resolves a deep-population tree in place. stack carries the
// (collection, join key) hop pairs of the active branch for cycle detection,
// seeded with the root identity as a breadcrumb only; noCycle truncates a
// detected cycle with an empty attach instead of failing.
func (e *Engine) populate(
	ctx context.Context,
	def *schema.Definition,
	rows []domain.Row,
	specs []domain.DeepSpec,
	stack []string,
	noCycle bool,
) error {
	if len(rows) == 0 {
		return nil
	}
	for _, spec := range specs {
		if err := e.populateOne(ctx, def, rows, spec, stack, noCycle); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) populateOne(
	ctx context.Context,
	def *schema.Definition,
	rows []domain.Row,
	spec domain.DeepSpec,
	stack []string,
	noCycle bool,
) error {
	ln, err := e.resolveLink(def, spec)
	if err != nil {
		return &domain.PathError{Path: append(append([]string{}, stack...), spec.SKey), Err: err}
	}

	// A cycle is the same (collection, join key) hop reappearing on the
	// active branch. The root result set is not a hop, so a first visit to
	// a self-referential relationship resolves normally.
	hop := ln.target.String() + "#" + ln.targetKey
	for _, seen := range stack {
		if seen != hop {
			continue
		}
		if noCycle || ln.target.NoCycle {
			attachEmpty(rows, spec.SKey, ln.isMultiple)
			return nil
		}
		return &domain.CycleError{Path: append(append([]string{}, stack...), hop)}
	}

	technique := spec.FetchingTechnique
	if technique == "" {
		technique = domain.FetchChunk
	}
	// Per-parent windows cannot be expressed in a batched $in query.
	if spec.Skip > 0 || spec.Limit > 0 {
		technique = domain.FetchOneByOne
	}

	var children []domain.Row
	switch technique {
	case domain.FetchOneByOne:
		children, err = e.fetchOneByOne(ctx, rows, ln)
	default:
		children, err = e.fetchChunked(ctx, rows, ln)
	}
	if err != nil {
		return &domain.PathError{Path: append(append([]string{}, stack...), spec.SKey), Err: err}
	}

	if len(spec.Deep) > 0 {
		childStack := append(append([]string{}, stack...), hop)
		if err := e.populate(ctx, ln.targetDef, children, spec.Deep, childStack, noCycle); err != nil {
			return err
		}
	}
	return nil
}

// resolveLink fills in the hop's target identity and key columns from the
// schema wherever the spec leaves them implicit.
func (e *Engine) resolveLink(def *schema.Definition, spec domain.DeepSpec) (*link, error) {
	prop := def.Fields[spec.SKey]

	target := spec.Target
	if target.Collection == "" {
		if prop == nil || prop.Rel == nil {
			return nil, fmt.Errorf("%w: %s has no relationship metadata for %q",
				domain.ErrSchemaKeyNotFound, def.Identity, spec.SKey)
		}
		target = prop.Rel.Target(def.Identity)
	} else {
		if target.Instance == "" {
			target.Instance = def.Identity.Instance
		}
		if target.Database == "" {
			target.Database = def.Identity.Database
		}
	}

	targetDef, targetAdapter, err := e.resolve(target)
	if err != nil {
		return nil, err
	}

	ln := &link{
		spec:        spec,
		target:      target,
		targetDef:   targetDef,
		adapter:     targetAdapter,
		sourceField: spec.SKey,
		targetKey:   spec.TKey,
		isMultiple:  spec.IsMultiple,
	}
	if prop != nil && prop.IsMultiple {
		ln.isMultiple = true
	}

	if prop != nil && prop.Kind == schema.KindVirtual {
		if prop.Virtual != nil && prop.Virtual.SourceLinker != "" {
			ln.sourceField = prop.Virtual.SourceLinker
		} else {
			pk, err := def.PrimaryKey()
			if err != nil {
				return nil, err
			}
			ln.sourceField = pk
		}
		if ln.targetKey == "" {
			ln.targetKey, err = e.schemas.ResolveVirtualTarget(def, prop)
			if err != nil {
				return nil, err
			}
		}
		return ln, nil
	}

	if ln.targetKey == "" {
		if prop != nil && prop.Rel != nil && prop.Rel.Column != "" {
			ln.targetKey = prop.Rel.Column
		} else {
			ln.targetKey, err = targetDef.PrimaryKey()
			if err != nil {
				return nil, err
			}
		}
	}
	return ln, nil
}

// fetchChunked batches distinct source values into $in queries and attaches
// the grouped matches. Chunks run concurrently up to the engine bound.
func (e *Engine) fetchChunked(
	ctx context.Context, rows []domain.Row, ln *link,
) ([]domain.Row, error) {
	values := make([]any, len(rows))
	seen := make(map[string]struct{})
	var distinct []any
	for i, row := range rows {
		v, ok := adapter.LookupPath(row, ln.sourceField)
		if !ok || v == nil {
			continue
		}
		values[i] = v
		k := fmt.Sprintf("%v", v)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		distinct = append(distinct, v)
	}
	if len(distinct) == 0 {
		attachEmpty(rows, ln.spec.SKey, ln.isMultiple)
		return nil, nil
	}

	size := ln.spec.EffectiveChunkSize()
	grouped := make(map[string][]domain.Row)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxParallel)
	for start := 0; start < len(distinct); start += size {
		end := start + size
		if end > len(distinct) {
			end = len(distinct)
		}
		chunk := distinct[start:end]
		g.Go(func() error {
			filter := copyFilter(ln.spec.Find)
			filter = mergeIn(filter, ln.targetKey, chunk)
			fetched, err := ln.adapter.FindMany(gctx, ln.target.Collection, adapter.Query{
				Filter: filter,
				Sort:   ln.spec.Sort,
				Select: withKeySelected(ln.spec.Select, ln.targetKey),
			})
			if err != nil {
				return err
			}
			mu.Lock()
			for _, child := range fetched {
				kv, ok := adapter.LookupPath(child, ln.targetKey)
				if !ok {
					continue
				}
				k := fmt.Sprintf("%v", kv)
				grouped[k] = append(grouped[k], child)
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var children []domain.Row
	for i, row := range rows {
		if values[i] == nil {
			attachEmpty(rows[i:i+1], ln.spec.SKey, ln.isMultiple)
			continue
		}
		matches := grouped[fmt.Sprintf("%v", values[i])]
		children = append(children, attach(row, ln.spec.SKey, matches, ln.isMultiple)...)
	}
	return children, nil
}

// fetchOneByOne issues one query per parent row, preserving parent order via
// indexed result slots. Required whenever sort/skip/limit apply per parent.
func (e *Engine) fetchOneByOne(
	ctx context.Context, rows []domain.Row, ln *link,
) ([]domain.Row, error) {
	results := make([][]domain.Row, len(rows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxParallel)
	for i := range rows {
		v, ok := adapter.LookupPath(rows[i], ln.sourceField)
		if !ok || v == nil {
			continue
		}
		idx, val := i, v
		g.Go(func() error {
			filter := copyFilter(ln.spec.Find)
			filter[ln.targetKey] = val
			limit := ln.spec.Limit
			if !ln.isMultiple && limit == 0 {
				limit = 1
			}
			fetched, err := ln.adapter.FindMany(gctx, ln.target.Collection, adapter.Query{
				Filter: filter,
				Sort:   ln.spec.Sort,
				Skip:   ln.spec.Skip,
				Limit:  limit,
				Select: withKeySelected(ln.spec.Select, ln.targetKey),
			})
			if err != nil {
				return err
			}
			results[idx] = fetched
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var children []domain.Row
	for i, row := range rows {
		children = append(children, attach(row, ln.spec.SKey, results[i], ln.isMultiple)...)
	}
	return children, nil
}

// attach writes the matches onto the parent row and returns them for
// recursion into deeper hops.
func attach(row domain.Row, field string, matches []domain.Row, isMultiple bool) []domain.Row {
	if isMultiple {
		out := make([]any, len(matches))
		for i, m := range matches {
			out[i] = m
		}
		row[field] = out
		return matches
	}
	if len(matches) == 0 {
		row[field] = nil
		return nil
	}
	row[field] = matches[0]
	return matches[:1]
}

func attachEmpty(rows []domain.Row, field string, isMultiple bool) {
	for _, row := range rows {
		if isMultiple {
			row[field] = []any{}
		} else {
			row[field] = nil
		}
	}
}

// withKeySelected makes sure an inclusive projection still carries the join
// key needed to group matches by parent.
func withKeySelected(sel map[string]int, key string) map[string]int {
	if len(sel) == 0 {
		return sel
	}
	inclusive := false
	for _, v := range sel {
		if v != 0 {
			inclusive = true
			break
		}
	}
	if !inclusive {
		return sel
	}
	if _, ok := sel[key]; ok {
		return sel
	}
	out := make(map[string]int, len(sel)+1)
	for k, v := range sel {
		out[k] = v
	}
	out[key] = 1
	return out
}
