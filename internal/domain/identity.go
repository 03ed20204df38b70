// Package domain holds the request-scoped value objects of the data-access
// engine: collection identities, query formats, deep-population specs, array
// operations and the response envelope. Nothing in this package persists.
package domain

import "fmt"

// Row is a backend-agnostic record. Adapters translate their native row or
// document representation into this shape and back.
type Row = map[string]any

// Filter is a backend-agnostic find clause using mongo-style operator maps:
// {"qty": {"$gte": 2}, "$or": [...]}. Adapters translate it to their native
// query language; the memory adapter evaluates it directly.
type Filter = map[string]any

// CollectionIdentity addresses one collection/table in one database of one
// configured instance. Constructed per request, never persisted.
type CollectionIdentity struct {
	Instance   string `json:"instance"`
	Database   string `json:"database"`
	Collection string `json:"collection"`

	// NoCycle truncates circular relationship branches with an empty result
	// instead of failing the operation.
	NoCycle bool `json:"noCycle,omitempty"`
	// SkipHooks bypasses registered pre/post hooks for this request.
	SkipHooks bool `json:"skipHookRunning,omitempty"`
}

// String renders the identity as instance/database/collection.
func (c CollectionIdentity) String() string {
	return fmt.Sprintf("%s/%s/%s", c.Instance, c.Database, c.Collection)
}

// Valid reports whether all three coordinates are present.
func (c CollectionIdentity) Valid() bool {
	return c.Instance != "" && c.Database != "" && c.Collection != ""
}
