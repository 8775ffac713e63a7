package middleware

import (
	"context"

	"github.com/vigilops/vigil-core/internal/tokens"
)

type contextKey string

const AuthContextKey contextKey = "auth_context"

// AuthContext is the authenticated caller's identity, injected by the
// JWT middleware for handlers and the audit trail.
type AuthContext struct {
	Subject string // operator or service name from the token
	Role    tokens.Role
	TokenID string // jti
}

func GetAuthContext(ctx context.Context) (*AuthContext, bool) {
	val, ok := ctx.Value(AuthContextKey).(*AuthContext)
	return val, ok
}

func WithAuthContext(ctx context.Context, ac *AuthContext) context.Context {
	return context.WithValue(ctx, AuthContextKey, ac)
}
