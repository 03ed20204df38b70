package domain

import (
	"errors"
	"net/http"
)

// Response is the standard envelope shared by every engine operation.
// Success is false iff Errors is non-empty; StatusCode is always set.
type Response[T any] struct {
	Data       T             `json:"data"`
	TotalCount *int64        `json:"totalCount,omitempty"`
	Errors     []EngineError `json:"errors,omitempty"`
	Warnings   []string      `json:"warnings,omitempty"`
	Meta       Row           `json:"meta,omitempty"`
	StatusCode int           `json:"statusCode"`
	Success    bool          `json:"success"`
}

// OK builds a success envelope.
func OK[T any](data T) Response[T] {
	return Response[T]{Data: data, StatusCode: http.StatusOK, Success: true}
}

// Fail builds a failure envelope from engine errors.
func Fail[T any](status int, errs ...EngineError) Response[T] {
	return Response[T]{StatusCode: status, Success: false, Errors: errs}
}

// FailErr builds a failure envelope from a plain error, classifying it.
func FailErr[T any](err error) Response[T] {
	return Fail[T](StatusOf(err), EngineError{
		Type:    TypeOf(err),
		Message: err.Error(),
		Path:    pathOf(err),
	})
}

// WithTotalCount attaches a total count to the envelope.
func (r Response[T]) WithTotalCount(n int64) Response[T] {
	r.TotalCount = &n
	return r
}

// WithWarnings appends warnings without changing the success flag.
func (r Response[T]) WithWarnings(w ...string) Response[T] {
	r.Warnings = append(r.Warnings, w...)
	return r
}

// WithMeta attaches one metadata entry.
func (r Response[T]) WithMeta(key string, value any) Response[T] {
	if r.Meta == nil {
		r.Meta = Row{}
	}
	r.Meta[key] = value
	return r
}

// StatusOf maps an error to an HTTP-ish status code for the envelope.
func StatusOf(err error) int {
	if errors.Is(err, ErrRecordNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, ErrInvalidOperation) {
		return http.StatusBadRequest
	}
	switch TypeOf(err) {
	case ErrTypeSchemaNotFound:
		return http.StatusNotFound
	case ErrTypeConcurrencyConflict:
		return http.StatusConflict
	case ErrTypeSchemaKeyNotFound, ErrTypeVirtualFieldUsedInFind, ErrTypeCycleDetected:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func pathOf(err error) []string {
	for e := err; e != nil; {
		if pe, ok := e.(*PathError); ok {
			return pe.Path
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			return nil
		}
		e = u.Unwrap()
	}
	return nil
}
