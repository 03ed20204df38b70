package domain

import "fmt"

// ArrayOpKind names one array mutation with mongo semantics.
type ArrayOpKind string

const (
	ArrayPush     ArrayOpKind = "push"
	ArrayAddToSet ArrayOpKind = "addToSet"
	ArrayPull     ArrayOpKind = "pull"
	ArrayPullAll  ArrayOpKind = "pullAll"
	ArrayPop      ArrayOpKind = "pop"
	ArraySet      ArrayOpKind = "set"
)

// ArrayOperation applies one mutation to one array field of every row matched
// by Find. Exactly one operation kind is active per entry; Direction is only
// valid for pop. Atomic per row from the caller's point of view.
type ArrayOperation struct {
	Operation ArrayOpKind `json:"operation"`
	// Path is the array field, dot-separated for nested fields.
	Path string `json:"path"`
	// Find selects the rows to mutate.
	Find Filter `json:"find,omitempty"`

	// push / addToSet payload. A slice pushes every element ($each).
	DataToPush any `json:"dataToPush,omitempty"`
	// Position/Slice/Sort refine a multi-value push ($position/$slice/$sort).
	Position *int           `json:"position,omitempty"`
	Slice    *int           `json:"slice,omitempty"`
	Sort     map[string]int `json:"sort,omitempty"`

	// pull: remove all elements matching this filter.
	QueryToRemove Filter `json:"queryToRemove,omitempty"`
	// pullAll: remove all elements exactly equal to any listed value.
	DataToPull []any `json:"dataToPull,omitempty"`

	// pop: -1 removes the first element, 1 the last.
	Direction int `json:"direction,omitempty"`

	// set: replace elements matched by ArrayFilters with DataToSet; when
	// Upsert is true and nothing matches, DataToSet is appended instead.
	DataToSet    any    `json:"dataToSet,omitempty"`
	ArrayFilters Filter `json:"arrayFilters,omitempty"`
	Upsert       bool   `json:"upsert,omitempty"`
}

// Validate checks the single-active-kind and direction invariants.
func (op ArrayOperation) Validate() error {
	if op.Path == "" {
		return fmt.Errorf("%w: array operation requires a path", ErrInvalidOperation)
	}
	switch op.Operation {
	case ArrayPush, ArrayAddToSet:
		if op.DataToPush == nil {
			return fmt.Errorf("%w: %s requires dataToPush", ErrInvalidOperation, op.Operation)
		}
	case ArrayPull:
		if len(op.QueryToRemove) == 0 {
			return fmt.Errorf("%w: pull requires queryToRemove", ErrInvalidOperation)
		}
	case ArrayPullAll:
		if len(op.DataToPull) == 0 {
			return fmt.Errorf("%w: pullAll requires dataToPull", ErrInvalidOperation)
		}
	case ArrayPop:
		if op.Direction != 1 && op.Direction != -1 {
			return fmt.Errorf("%w: pop direction must be 1 or -1, got %d", ErrInvalidOperation, op.Direction)
		}
	case ArraySet:
		if op.DataToSet == nil {
			return fmt.Errorf("%w: set requires dataToSet", ErrInvalidOperation)
		}
	default:
		return fmt.Errorf("%w: unknown array operation %q", ErrInvalidOperation, op.Operation)
	}
	if op.Direction != 0 && op.Operation != ArrayPop {
		return fmt.Errorf("%w: direction is only valid for pop", ErrInvalidOperation)
	}
	return nil
}
