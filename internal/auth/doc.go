// Package auth provides JWT authentication for the gateway HTTP API.
//
// Tokens are HS256-signed JWTs whose "sub" claim carries the caller's
// identity. HTTPAuthMiddleware verifies the bearer token and attaches the
// identity to the request context; handlers read it back with
// IdentityFromContext.
package auth
