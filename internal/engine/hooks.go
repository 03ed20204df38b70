package engine

import (
	"context"

	"github.com/kailas-cloud/datagate/internal/domain"
	"github.com/kailas-cloud/datagate/internal/hook"
)

// hookRun carries one operation's hook state from pre to post.
type hookRun struct {
	state    *hook.State
	req      *hook.Request
	warnings []string
	active   bool
}

// runPre executes pre hooks. The returned result, when non-nil, short-circuits
// the operation; the request's payload may have been replaced either way.
func (e *Engine) runPre(
	ctx context.Context, id domain.CollectionIdentity, op string, payload any,
) (*hookRun, *hook.Result, error) {
	run := &hookRun{
		state: &hook.State{},
		req: &hook.Request{
			Operation: op,
			Identity:  id,
			Payload:   payload,
			Auth:      AuthFromContext(ctx),
		},
	}
	if e.hooks == nil || id.SkipHooks {
		return run, nil, nil
	}
	run.active = true
	res, warnings, err := e.hooks.RunPre(ctx, run.state, run.req)
	run.warnings = warnings
	return run, res, err
}

// runPost executes post hooks and returns the accumulated warnings.
func (e *Engine) runPost(ctx context.Context, run *hookRun, outcome any) []string {
	if !run.active {
		return run.warnings
	}
	return append(run.warnings, e.hooks.RunPost(ctx, run.state, run.req, outcome)...)
}
