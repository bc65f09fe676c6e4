// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithIdentity/IdentityFromContext for propagating auth info via context

package auth

import (
	"context"
)

// identityKey is the key type for storing the authenticated identity in context.Context.
type identityKey struct{}

// WithIdentity returns a new context with the authenticated identity attached.
func WithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext retrieves the authenticated identity from the context.
// Returns the empty string when the request was not authenticated.
func IdentityFromContext(ctx context.Context) string {
	identity, _ := ctx.Value(identityKey{}).(string)
	return identity
}
