package validate

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/kailas-cloud/datagate/internal/domain"
	"github.com/kailas-cloud/datagate/internal/schema"
)

// Counter is the storage slice unique checks need.
type Counter interface {
	Count(ctx context.Context, collection string, filter domain.Filter) (int64, error)
}

// Unique runs uniqueness and unique-combination checks against storage.
// excludeField/excludeValue carry the row's own key on updates so the row
// does not collide with itself; excludeField is empty on inserts.
func Unique(
	ctx context.Context,
	def *schema.Definition,
	row domain.Row,
	counter Counter,
	excludeField string,
	excludeValue any,
) ([]domain.EngineError, error) {
	names := make([]string, 0, len(def.Fields))
	for name := range def.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []domain.EngineError
	for _, name := range names {
		prop := def.Fields[name]
		value, present := row[name]
		if !present {
			continue
		}

		if prop.Validations.Unique {
			filter := domain.Filter{name: value}
			n, err := countExcluding(ctx, counter, def.Identity.Collection, filter, excludeField, excludeValue)
			if err != nil {
				return errs, err
			}
			if n > 0 {
				errs = append(errs, domain.EngineError{
					Type: domain.ErrTypeUnique, Field: name,
					Message: fmt.Sprintf("value %v already exists", value),
				})
			}
		}

		if combo := prop.Validations.UniqueCombination; len(combo) > 0 {
			filter := domain.Filter{name: value}
			fields := []string{name}
			for _, sibling := range combo {
				filter[sibling] = row[sibling]
				fields = append(fields, sibling)
			}
			n, err := countExcluding(ctx, counter, def.Identity.Collection, filter, excludeField, excludeValue)
			if err != nil {
				return errs, err
			}
			if n > 0 {
				sort.Strings(fields)
				errs = append(errs, domain.EngineError{
					Type: domain.ErrTypeUniqueCombination, Field: name,
					Message: fmt.Sprintf("combination of %s already exists", strings.Join(fields, ", ")),
				})
			}
		}
	}
	return errs, nil
}

func countExcluding(
	ctx context.Context,
	counter Counter,
	collection string,
	filter domain.Filter,
	excludeField string,
	excludeValue any,
) (int64, error) {
	if excludeField != "" {
		filter[excludeField] = map[string]any{"$ne": excludeValue}
	}
	return counter.Count(ctx, collection, filter)
}
