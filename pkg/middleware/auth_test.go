package middleware

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dativebase/old/pkg/auth"
	"github.com/dativebase/old/pkg/contextkeys"
	"github.com/dativebase/old/pkg/model"
	"github.com/dativebase/old/pkg/queryc"
	"github.com/dativebase/old/pkg/storage"
)

func newTestKeyManager(t *testing.T) (*auth.KeyManager, *storage.Store) {
	t.Helper()
	db, err := sql.Open("sqlite3_old", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s := storage.NewStore(db, queryc.SQLite, nil)
	require.NoError(t, s.CreateSchema(context.Background()))
	return auth.NewKeyManager(s, nil), s
}

func issueTestKey(t *testing.T, km *auth.KeyManager, s *storage.Store, username, role string) (string, *model.UserRef) {
	t.Helper()
	u := &model.UserRef{FirstName: "Test", LastName: "User", Role: role}
	require.NoError(t, s.CreateUser(context.Background(), username, u))
	key, err := km.IssueKey(context.Background(), u.ID)
	require.NoError(t, err)
	return key, u
}

func echoUserHandler(t *testing.T) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCtx := GetAuthContext(r)
		if authCtx != nil {
			assert.Equal(t, authCtx.User.ID, contextkeys.GetUserID(r.Context()))
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware_MissingHeader(t *testing.T) {
	km, _ := newTestKeyManager(t)
	handler := NewAuthMiddleware(km, false).Handler(echoUserHandler(t))

	req := httptest.NewRequest("GET", "/forms", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddleware_OptionalAllowsAnonymous(t *testing.T) {
	km, _ := newTestKeyManager(t)
	handler := NewAuthMiddleware(km, true).Handler(echoUserHandler(t))

	req := httptest.NewRequest("GET", "/forms", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthMiddleware_BadHeaderFormat(t *testing.T) {
	km, _ := newTestKeyManager(t)
	handler := NewAuthMiddleware(km, false).Handler(echoUserHandler(t))

	req := httptest.NewRequest("GET", "/forms", nil)
	req.Header.Set("Authorization", "Basic abc123")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddleware_UnknownKey(t *testing.T) {
	km, _ := newTestKeyManager(t)
	handler := NewAuthMiddleware(km, false).Handler(echoUserHandler(t))

	key, _, err := auth.GenerateKey()
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/forms", nil)
	req.Header.Set("Authorization", "Bearer "+key)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddleware_ValidKey(t *testing.T) {
	km, s := newTestKeyManager(t)
	key, u := issueTestKey(t, km, s, "alice", model.RoleContributor)

	var captured *auth.AuthContext
	handler := NewAuthMiddleware(km, false).Handler(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			captured = GetAuthContext(r)
			w.WriteHeader(http.StatusOK)
		}))

	req := httptest.NewRequest("GET", "/forms", nil)
	req.Header.Set("Authorization", "Bearer "+key)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, captured)
	assert.Equal(t, u.ID, captured.User.ID)
	assert.True(t, captured.CanWrite())
}

func TestRequireWriter(t *testing.T) {
	handler := RequireWriter(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("unauthenticated", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("POST", "/forms", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("viewer", func(t *testing.T) {
		req := setAuthContextForTest(httptest.NewRequest("POST", "/forms", nil),
			&auth.AuthContext{User: &model.UserRef{ID: 1, Role: model.RoleViewer}})
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("contributor", func(t *testing.T) {
		req := setAuthContextForTest(httptest.NewRequest("POST", "/forms", nil),
			&auth.AuthContext{User: &model.UserRef{ID: 2, Role: model.RoleContributor}})
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestRequireAdministrator(t *testing.T) {
	handler := RequireAdministrator(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("contributor denied", func(t *testing.T) {
		req := setAuthContextForTest(httptest.NewRequest("POST", "/users", nil),
			&auth.AuthContext{User: &model.UserRef{ID: 2, Role: model.RoleContributor}})
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("administrator allowed", func(t *testing.T) {
		req := setAuthContextForTest(httptest.NewRequest("POST", "/users", nil),
			&auth.AuthContext{User: &model.UserRef{ID: 1, Role: model.RoleAdministrator}})
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestReadOnlyMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("disabled passes writes", func(t *testing.T) {
		handler := ReadOnlyMiddleware(false)(next)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("POST", "/forms", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("enabled rejects writes", func(t *testing.T) {
		handler := ReadOnlyMiddleware(true)(next)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("POST", "/forms", nil))
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Contains(t, w.Body.String(), "read-only mode")
	})

	t.Run("enabled passes reads", func(t *testing.T) {
		handler := ReadOnlyMiddleware(true)(next)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("GET", "/forms", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}
