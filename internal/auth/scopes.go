package auth

import (
	"context"
	"errors"
)

// Scopes understood by the presence API.
const (
	ScopePresenceWrite = "presence:write"
	ScopePresenceRead  = "presence:read"
)

// ErrForbidden is returned when the caller's token lacks the required scope.
var ErrForbidden = errors.New("insufficient scope")

type claimsKey struct{}

// WithClaims attaches the caller's group-scoped claims to ctx.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// FromContext retrieves claims stored by WithClaims.
func FromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*Claims)
	return claims, ok && claims != nil
}

// Allows reports whether the claims grant scope. Write access to a group's presence
// implies read access.
func (c *Claims) Allows(scope string) bool {
	if c.HasScope(scope) {
		return true
	}
	return scope == ScopePresenceRead && c.HasScope(ScopePresenceWrite)
}

// Authorize returns the caller's claims when they grant scope.
func Authorize(ctx context.Context, scope string) (*Claims, error) {
	claims, ok := FromContext(ctx)
	if !ok {
		return nil, ErrMissingToken
	}
	if !claims.Allows(scope) {
		return nil, ErrForbidden
	}
	return claims, nil
}
