package handlers

import (
	"context"

	"github.com/tessari/passport/internal/interfaces"
)

type principalKey struct{}

// WithPrincipal stores the authenticated principal on the request context.
// The server's auth middleware calls this once per request.
func WithPrincipal(ctx context.Context, principal *interfaces.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

// PrincipalFrom returns the authenticated principal, or nil when the request
// did not pass the auth middleware
func PrincipalFrom(ctx context.Context) *interfaces.Principal {
	principal, _ := ctx.Value(principalKey{}).(*interfaces.Principal)
	return principal
}
