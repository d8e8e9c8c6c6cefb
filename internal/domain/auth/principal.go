package auth

import "context"

// SystemActor is recorded in status history for transitions driven by the
// payment gateway or background jobs rather than a user.
const SystemActor = "system"

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID string
	KeyID  string
}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored in ctx, if any.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok && p.UserID != ""
}
