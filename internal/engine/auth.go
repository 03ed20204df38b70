package engine

import "context"

type authKey struct{}

// ContextWithAuth stores the transport-provided caller identity. The engine
// never inspects it; hooks receive it verbatim.
func ContextWithAuth(ctx context.Context, auth any) context.Context {
	return context.WithValue(ctx, authKey{}, auth)
}

// AuthFromContext returns the caller identity, nil when absent.
func AuthFromContext(ctx context.Context) any {
	return ctx.Value(authKey{})
}
