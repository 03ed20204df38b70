package engine

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/datagate/internal/adapter"
	"github.com/kailas-cloud/datagate/internal/domain"
	"github.com/kailas-cloud/datagate/internal/schema"
)

// applyGuard enforces optimistic concurrency on a single-row write: the
// submitted version must equal the stored one, and the next version is
// stamped into set before the write proceeds. No-op when the schema has no
// concurrency field or the caller skipped the guard.
func (e *Engine) applyGuard(
	ctx context.Context,
	def *schema.Definition,
	a adapter.Adapter,
	key adapter.Key,
	set domain.Row,
	skip bool,
) error {
	field := def.ConcurrencyField()
	if field == "" || skip {
		return nil
	}

	stored, err := a.FindOne(ctx, def.Identity.Collection, adapter.Query{
		Filter: domain.Filter{key.Field: key.Value},
	})
	if err != nil {
		return err
	}

	submitted, ok := set[field]
	if !ok || !adapter.Equal(stored[field], submitted) {
		return &domain.ConcurrencyConflictError{
			Field:     field,
			Stored:    stored[field],
			Submitted: submitted,
		}
	}

	next, err := e.nextVersion(def.Fields[field], stored[field])
	if err != nil {
		return err
	}
	set[field] = next
	return nil
}

// nextVersion produces the follow-up concurrency token: a registered named
// generator when the schema declares one, otherwise monotonic +1.
func (e *Engine) nextVersion(prop *schema.Property, current any) (any, error) {
	if prop != nil && prop.VersionGenerator != "" {
		gen, err := e.convert.Strategies().VersionGenerator(prop.VersionGenerator)
		if err != nil {
			return nil, err
		}
		return gen(current)
	}
	switch v := current.(type) {
	case nil:
		return int64(1), nil
	case int:
		return int64(v) + 1, nil
	case int32:
		return int64(v) + 1, nil
	case int64:
		return v + 1, nil
	case float64:
		return v + 1, nil
	default:
		return nil, fmt.Errorf("%w: cannot advance version value %v (%T)",
			domain.ErrInvalidOperation, current, current)
	}
}
