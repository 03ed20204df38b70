package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType classifies engine errors for API consumers.
type ErrorType string

const (
	ErrTypeRequired               ErrorType = "required"
	ErrTypeMin                    ErrorType = "min"
	ErrTypeMax                    ErrorType = "max"
	ErrTypeMinLength              ErrorType = "minLength"
	ErrTypeMaxLength              ErrorType = "maxLength"
	ErrTypeUnique                 ErrorType = "unique"
	ErrTypeUniqueCombination      ErrorType = "uniqueCombination"
	ErrTypeInvalidValue           ErrorType = "invalidValue"
	ErrTypeSchemaKeyNotFound      ErrorType = "schemaKeyNotFound"
	ErrTypeSchemaNotFound         ErrorType = "schemaNotFound"
	ErrTypeEmailNotValid          ErrorType = "emailNotValid"
	ErrTypeEnumValidation         ErrorType = "enumValidation"
	ErrTypeVirtualFieldUsedInFind ErrorType = "virtualFieldUsedInFind"
	ErrTypeConcurrencyConflict    ErrorType = "concurrencyConflict"
	ErrTypeCycleDetected          ErrorType = "cycleDetected"
	ErrTypeAdapter                ErrorType = "adapterError"
)

var (
	// ErrSchemaNotFound signals an unknown instance/database/collection.
	ErrSchemaNotFound = errors.New("schema not found")
	// ErrSchemaKeyNotFound signals a field path missing from a resolved schema.
	ErrSchemaKeyNotFound = errors.New("schema key not found")
	// ErrRecordNotFound signals a missing row/document.
	ErrRecordNotFound = errors.New("record not found")
	// ErrVirtualFieldInFind signals a virtual field used inside a find clause,
	// or an ambiguous virtual-field target.
	ErrVirtualFieldInFind = errors.New("virtual field not resolvable in find")
	// ErrCycleDetected signals a relationship cycle on the active resolution path.
	ErrCycleDetected = errors.New("relationship cycle detected")
	// ErrConcurrencyConflict signals an optimistic locking conflict.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrAdapterNotFound signals a missing storage adapter for an instance/database.
	ErrAdapterNotFound = errors.New("storage adapter not found")
	// ErrInvalidOperation signals a malformed operation request.
	ErrInvalidOperation = errors.New("invalid operation")
)

// EngineError is the wire-level error item carried in a Response.
type EngineError struct {
	Type    ErrorType `json:"type"`
	Field   string    `json:"field,omitempty"`
	Message string    `json:"message"`
	// Path is the call-sequence breadcrumb for multi-step operations
	// (deep population, master save).
	Path []string `json:"path,omitempty"`
}

func (e EngineError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Type, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ConcurrencyConflictError wraps ErrConcurrencyConflict with the stored and
// submitted version values so callers can refresh and retry.
type ConcurrencyConflictError struct {
	Field     string
	Stored    any
	Submitted any
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("%s on %q: stored=%v submitted=%v",
		ErrConcurrencyConflict.Error(), e.Field, e.Stored, e.Submitted)
}

func (e *ConcurrencyConflictError) Unwrap() error { return ErrConcurrencyConflict }

// CycleError wraps ErrCycleDetected with the resolution path that closed the
// cycle, e.g. ["core/app/orders", "core/app/order_items#order_id"].
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s: %s", ErrCycleDetected.Error(), strings.Join(e.Path, " -> "))
}

func (e *CycleError) Unwrap() error { return ErrCycleDetected }

// PathError attaches a call-sequence breadcrumb to a failure inside a
// multi-step operation, pointing at the deepest failing branch.
type PathError struct {
	Path []string
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("at %s: %v", strings.Join(e.Path, "."), e.Err)
}

func (e *PathError) Unwrap() error { return e.Err }

// TypeOf maps an error to its wire classification.
func TypeOf(err error) ErrorType {
	switch {
	case errors.Is(err, ErrSchemaNotFound):
		return ErrTypeSchemaNotFound
	case errors.Is(err, ErrSchemaKeyNotFound):
		return ErrTypeSchemaKeyNotFound
	case errors.Is(err, ErrVirtualFieldInFind):
		return ErrTypeVirtualFieldUsedInFind
	case errors.Is(err, ErrCycleDetected):
		return ErrTypeCycleDetected
	case errors.Is(err, ErrConcurrencyConflict):
		return ErrTypeConcurrencyConflict
	default:
		return ErrTypeAdapter
	}
}
