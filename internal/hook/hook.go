// Package hook lets embedders observe and steer engine operations. Pre hooks
// run before storage access and may rewrite the payload or short-circuit the
// whole operation; post hooks see the outcome before it is returned.
package hook

import (
	"context"
	"sync"

	"github.com/kailas-cloud/datagate/internal/domain"
)

// Request carries the operation a hook runs against. Payload holds the
// operation input (query, rows, array ops) and may be replaced by pre hooks.
type Request struct {
	Operation string
	Identity  domain.CollectionIdentity
	Payload   any
	// Auth is the opaque caller identity handed in by the transport. The
	// engine never inspects it.
	Auth any
}

// State is the per-request scratch slot shared between the pre and post hooks
// of one operation. Annotate in a pre hook, read back in a post hook.
type State struct {
	mu         sync.Mutex
	annotation any
}

func (s *State) Annotate(v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.annotation = v
}

func (s *State) Annotation() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.annotation
}

// Result is what a pre hook returns. A nil Result means continue unchanged.
type Result struct {
	// ShortCircuit stops the operation; Response is returned to the caller
	// as-is.
	ShortCircuit bool
	Response     any
	// Payload, when non-nil, replaces the request payload for the rest of
	// the operation.
	Payload any
	// Warnings are appended to the operation's response.
	Warnings []string
}

// PreHook runs before storage access.
type PreHook func(ctx context.Context, state *State, req *Request) (*Result, error)

// PostHook runs after the operation produced its outcome. Errors from post
// hooks surface as warnings, not failures; the data change already happened.
type PostHook func(ctx context.Context, state *State, req *Request, outcome any) error

// Registry holds hooks keyed by collection identity. The empty key matches
// every collection.
type Registry struct {
	mu   sync.RWMutex
	pre  map[string][]PreHook
	post map[string][]PostHook
}

func NewRegistry() *Registry {
	return &Registry{
		pre:  make(map[string][]PreHook),
		post: make(map[string][]PostHook),
	}
}

// Global registers a hook pair for every collection; either may be nil.
func (r *Registry) Global(pre PreHook, post PostHook) {
	r.register("", pre, post)
}

// Collection registers a hook pair for one collection; either may be nil.
func (r *Registry) Collection(id domain.CollectionIdentity, pre PreHook, post PostHook) {
	r.register(id.String(), pre, post)
}

func (r *Registry) register(key string, pre PreHook, post PostHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if pre != nil {
		r.pre[key] = append(r.pre[key], pre)
	}
	if post != nil {
		r.post[key] = append(r.post[key], post)
	}
}

// RunPre executes global then collection-scoped pre hooks in registration
// order. The first short-circuit wins; payload replacements chain.
func (r *Registry) RunPre(
	ctx context.Context, state *State, req *Request,
) (*Result, []string, error) {
	r.mu.RLock()
	hooks := append(append([]PreHook(nil), r.pre[""]...), r.pre[req.Identity.String()]...)
	r.mu.RUnlock()

	var warnings []string
	for _, h := range hooks {
		res, err := h(ctx, state, req)
		if err != nil {
			return nil, warnings, err
		}
		if res == nil {
			continue
		}
		warnings = append(warnings, res.Warnings...)
		if res.Payload != nil {
			req.Payload = res.Payload
		}
		if res.ShortCircuit {
			return res, warnings, nil
		}
	}
	return nil, warnings, nil
}

// RunPost executes global then collection-scoped post hooks. Failures are
// collected as warnings.
func (r *Registry) RunPost(
	ctx context.Context, state *State, req *Request, outcome any,
) []string {
	r.mu.RLock()
	hooks := append(append([]PostHook(nil), r.post[""]...), r.post[req.Identity.String()]...)
	r.mu.RUnlock()

	var warnings []string
	for _, h := range hooks {
		if err := h(ctx, state, req, outcome); err != nil {
			warnings = append(warnings, "post hook: "+err.Error())
		}
	}
	return warnings
}
