// Package validate checks payload rows against compiled schema definitions.
// All field checks run and collect errors; nothing is fail-fast, so one
// request surfaces every violation at once.
package validate

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	"github.com/kailas-cloud/datagate/internal/convert"
	"github.com/kailas-cloud/datagate/internal/domain"
	"github.com/kailas-cloud/datagate/internal/schema"
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Fields validates a row against a definition and returns every violation.
// partial skips required checks for absent fields (update semantics).
func Fields(
	ctx context.Context,
	def *schema.Definition,
	row domain.Row,
	strategies *convert.Registry,
	partial bool,
) []domain.EngineError {
	return fieldSet(ctx, def.Fields, row, strategies, partial, "")
}

func fieldSet(
	ctx context.Context,
	fields map[string]*schema.Property,
	row domain.Row,
	strategies *convert.Registry,
	partial bool,
	prefix string,
) []domain.EngineError {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []domain.EngineError
	for _, name := range names {
		prop := fields[name]
		if prop.Kind == schema.KindVirtual {
			continue
		}
		value, present := row[name]
		errs = append(errs, field(ctx, prop, value, present, strategies, partial, prefix+name)...)
	}
	return errs
}

func field(
	ctx context.Context,
	prop *schema.Property,
	value any,
	present bool,
	strategies *convert.Registry,
	partial bool,
	path string,
) []domain.EngineError {
	if !present || value == nil {
		if prop.Validations.Required && !partial {
			return []domain.EngineError{{
				Type:    domain.ErrTypeRequired,
				Field:   path,
				Message: "field is required",
			}}
		}
		return nil
	}

	var errs []domain.EngineError
	v := prop.Validations

	if num, ok := toFloat(value); ok {
		if v.Min != nil && num < *v.Min {
			errs = append(errs, domain.EngineError{
				Type: domain.ErrTypeMin, Field: path,
				Message: fmt.Sprintf("value %v is below minimum %v", value, *v.Min),
			})
		}
		if v.Max != nil && num > *v.Max {
			errs = append(errs, domain.EngineError{
				Type: domain.ErrTypeMax, Field: path,
				Message: fmt.Sprintf("value %v is above maximum %v", value, *v.Max),
			})
		}
	}

	if s, ok := value.(string); ok {
		if v.MinLength != nil && len(s) < *v.MinLength {
			errs = append(errs, domain.EngineError{
				Type: domain.ErrTypeMinLength, Field: path,
				Message: fmt.Sprintf("length %d is below minimum %d", len(s), *v.MinLength),
			})
		}
		if v.MaxLength != nil && len(s) > *v.MaxLength {
			errs = append(errs, domain.EngineError{
				Type: domain.ErrTypeMaxLength, Field: path,
				Message: fmt.Sprintf("length %d is above maximum %d", len(s), *v.MaxLength),
			})
		}
		if v.Email && !emailPattern.MatchString(s) {
			errs = append(errs, domain.EngineError{
				Type: domain.ErrTypeEmailNotValid, Field: path,
				Message: fmt.Sprintf("%q is not a valid email address", s),
			})
		}
	}

	if len(v.Enum) > 0 && !inEnum(value, v.Enum) {
		errs = append(errs, domain.EngineError{
			Type: domain.ErrTypeEnumValidation, Field: path,
			Message: fmt.Sprintf("value %v is not one of the allowed values", value),
		})
	}

	if v.Validator != "" && strategies != nil {
		fn, err := strategies.Validator(v.Validator)
		if err != nil {
			errs = append(errs, domain.EngineError{
				Type: domain.ErrTypeInvalidValue, Field: path, Message: err.Error(),
			})
		} else if err := fn(ctx, value); err != nil {
			errs = append(errs, domain.EngineError{
				Type: domain.ErrTypeInvalidValue, Field: path, Message: err.Error(),
			})
		}
	}

	switch prop.Kind {
	case schema.KindNested:
		if nested, ok := value.(map[string]any); ok {
			errs = append(errs, fieldSet(ctx, prop.Fields, nested, strategies, partial, path+".")...)
		}
	case schema.KindArray:
		if prop.Items == nil {
			break
		}
		if items, ok := value.([]any); ok {
			for i, item := range items {
				errs = append(errs, field(
					ctx, prop.Items, item, true, strategies, partial,
					fmt.Sprintf("%s.%d", path, i))...)
			}
		}
	}

	return errs
}

func inEnum(value any, enum []any) bool {
	for _, allowed := range enum {
		if fmt.Sprintf("%v", allowed) == fmt.Sprintf("%v", value) {
			return true
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
