package middleware

import (
	"net/http"
	"strings"

	"github.com/dativebase/old/pkg/auth"
	"github.com/dativebase/old/pkg/contextkeys"
	"github.com/dativebase/old/pkg/httputil"
	"github.com/dativebase/old/pkg/model"
)

// AuthMiddleware resolves API keys to users
type AuthMiddleware struct {
	keys     *auth.KeyManager
	optional bool // If true, allow requests without auth
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(keys *auth.KeyManager, optional bool) *AuthMiddleware {
	return &AuthMiddleware{
		keys:     keys,
		optional: optional,
	}
}

// Handler wraps an HTTP handler with authentication
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Extract key from Authorization header
		// Format: "Bearer old_<key>"
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, model.ErrUnauthenticated.Error())
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			httputil.WriteUnauthorized(w, "invalid authorization header format")
			return
		}

		authCtx, err := m.keys.Authenticate(r.Context(), parts[1])
		if err != nil {
			httputil.WriteDomainError(w, err)
			return
		}

		ctx := contextkeys.WithAuth(r.Context(), authCtx)
		ctx = contextkeys.WithUserID(ctx, authCtx.User.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetAuthContext extracts auth context from request
func GetAuthContext(r *http.Request) *auth.AuthContext {
	ctx := r.Context().Value(contextkeys.AuthKey)
	if ctx == nil {
		return nil
	}
	authCtx, ok := ctx.(*auth.AuthContext)
	if !ok {
		return nil
	}
	return authCtx
}

// RequireWriter rejects requests from viewers and unauthenticated callers.
// Contributors and administrators pass.
func RequireWriter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCtx := GetAuthContext(r)
		if authCtx == nil {
			httputil.WriteUnauthorized(w, model.ErrUnauthenticated.Error())
			return
		}
		if !authCtx.CanWrite() {
			httputil.WriteForbidden(w, "You are not authorized to modify resources.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdministrator restricts a route to administrators.
func RequireAdministrator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCtx := GetAuthContext(r)
		if authCtx == nil {
			httputil.WriteUnauthorized(w, model.ErrUnauthenticated.Error())
			return
		}
		if !authCtx.IsAdministrator() {
			httputil.WriteForbidden(w, "administrator role is required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
