// Package contextkeys defines the context keys shared across the service,
// so the auth middleware, logging and audit trail agree on where request
// state lives.
package contextkeys

import "context"

// Key is a private key type; string-typed to stay printable in logs.
type Key string

const (
	// AuthKey holds the *auth.AuthContext the key middleware resolved.
	AuthKey Key = "auth_context"

	// RequestIDKey holds the request id for log correlation.
	RequestIDKey Key = "request_id"

	// UserIDKey holds the authenticated user's id, for enterer and
	// modifier attribution.
	UserIDKey Key = "user_id"
)

// WithAuth stores the resolved authentication context.
func WithAuth(ctx context.Context, authCtx interface{}) context.Context {
	return context.WithValue(ctx, AuthKey, authCtx)
}

// WithRequestID stores the request id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID stores the authenticated user's id.
func WithUserID(ctx context.Context, userID int) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetRequestID returns the request id; empty outside a request.
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetUserID returns the authenticated user's id; zero when unauthenticated.
func GetUserID(ctx context.Context) int {
	if userID, ok := ctx.Value(UserIDKey).(int); ok {
		return userID
	}
	return 0
}
