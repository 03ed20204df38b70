package engine

import (
	"context"
	"net/http"
	"sort"

	"github.com/kailas-cloud/datagate/internal/adapter"
	"github.com/kailas-cloud/datagate/internal/convert"
	"github.com/kailas-cloud/datagate/internal/domain"
	"github.com/kailas-cloud/datagate/internal/schema"
	"github.com/kailas-cloud/datagate/internal/validate"
)

// prepareRow runs conversions and validations over one payload row in place.
// partial skips required checks (update semantics); returned field errors are
// the complete violation list, not fail-fast.
func (e *Engine) prepareRow(
	ctx context.Context,
	def *schema.Definition,
	a adapter.Adapter,
	row domain.Row,
	partial bool,
	skipValidation bool,
	excludeField string,
	excludeValue any,
) ([]domain.EngineError, error) {
	if err := e.applyConversions(ctx, def.Fields, row); err != nil {
		return nil, err
	}
	if skipValidation {
		return nil, nil
	}
	errs := validate.Fields(ctx, def, row, e.convert.Strategies(), partial)
	uniqueErrs, err := validate.Unique(ctx, def, row,
		collectionCounter{a: a, collection: def.Identity.Collection}, excludeField, excludeValue)
	if err != nil {
		return nil, err
	}
	return append(errs, uniqueErrs...), nil
}

type collectionCounter struct {
	a          adapter.Adapter
	collection string
}

func (c collectionCounter) Count(ctx context.Context, _ string, filter domain.Filter) (int64, error) {
	return c.a.Count(ctx, c.collection, filter)
}

// applyConversions walks the field set and rewrites values per the schema,
// descending into nested objects and arrays of nested objects.
func (e *Engine) applyConversions(
	ctx context.Context, fields map[string]*schema.Property, row domain.Row,
) error {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		prop := fields[name]
		if prop.Kind == schema.KindVirtual {
			continue
		}
		value, present := row[name]

		switch prop.Kind {
		case schema.KindNested:
			if nested, ok := value.(map[string]any); ok {
				if err := e.applyConversions(ctx, prop.Fields, nested); err != nil {
					return err
				}
			}
			continue
		case schema.KindArray:
			if prop.Items == nil || prop.Items.Kind != schema.KindNested {
				break
			}
			if items, ok := value.([]any); ok {
				for _, item := range items {
					if nested, ok := item.(map[string]any); ok {
						if err := e.applyConversions(ctx, prop.Items.Fields, nested); err != nil {
							return err
						}
					}
				}
			}
			continue
		}

		converted, nowPresent, err := e.convert.ApplyWrite(ctx, prop, value, present)
		if err != nil {
			return err
		}
		if nowPresent {
			row[name] = converted
		}
	}
	return nil
}

// applyReadConversions post-processes fetched rows, decrypting fields flagged
// for user delivery.
func (e *Engine) applyReadConversions(
	ctx context.Context, def *schema.Definition, rows []domain.Row,
) error {
	for name, prop := range def.Fields {
		if prop.Conversions.Encrypt == "" || !prop.Conversions.SendToUser {
			continue
		}
		for _, row := range rows {
			value, ok := row[name]
			if !ok {
				continue
			}
			plain, err := e.convert.ApplyRead(ctx, prop, value)
			if err != nil {
				return err
			}
			row[name] = plain
		}
	}
	return nil
}

// ensureKey resolves the row's primary-key value before insert. Generation
// mechanisms win in order: backend-assigned keys stay absent, a declared
// generator fills missing values, an engine counter is the fallback.
// Generation applies only to absent or nil keys: a caller-supplied value is
// kept even when the schema declares autoGenerate or autoIncrement, which is
// what keeps save and master-save upserts addressable by key.
func (e *Engine) ensureKey(
	ctx context.Context,
	def *schema.Definition,
	a adapter.Adapter,
	row domain.Row,
) (string, error) {
	pk, err := def.PrimaryKey()
	if err != nil {
		return "", err
	}
	prop := def.Fields[pk]

	if prop.IsAutoIncrementByDB {
		delete(row, pk)
		return pk, nil
	}
	if v, ok := row[pk]; ok && v != nil {
		return pk, nil
	}
	if prop.AutoGenerate != schema.GenNone {
		value, err := convert.GenerateKey(prop.AutoGenerate)
		if err != nil {
			return "", err
		}
		row[pk] = value
		return pk, nil
	}
	if prop.AutoIncrement != nil {
		name := def.Identity.Collection + "." + pk
		value, err := a.NextSequence(ctx, name, prop.AutoIncrement.Start, prop.AutoIncrement.Step)
		if err != nil {
			return "", err
		}
		row[pk] = value
		return pk, nil
	}
	return pk, nil
}

// failFields builds the 400 envelope for collected field violations.
func failFields[T any](errs []domain.EngineError) domain.Response[T] {
	return domain.Fail[T](http.StatusBadRequest, errs...)
}

// stripHidden removes write-only fields (hashed, or encrypted without user
// delivery) before rows leave the engine.
func stripHidden(def *schema.Definition, rows []domain.Row) {
	for name, prop := range def.Fields {
		hidden := prop.Conversions.Hash != "" ||
			(prop.Conversions.Encrypt != "" && !prop.Conversions.SendToUser)
		if !hidden {
			continue
		}
		for _, row := range rows {
			delete(row, name)
		}
	}
}
