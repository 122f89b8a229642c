package api

import (
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dativebase/old/pkg/auth"
	"github.com/dativebase/old/pkg/model"
)

func TestUserCreateAdminOnly(t *testing.T) {
	env := newTestEnv(t)

	body := map[string]string{
		"username":   "dana",
		"first_name": "Dana",
		"last_name":  "Smith",
		"role":       model.RoleContributor,
	}

	rec := env.do(t, http.MethodPost, "/users", env.contributorKey, body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/users", env.adminKey, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var u model.UserRef
	decode(t, rec, &u)
	assert.NotZero(t, u.ID)
	assert.Equal(t, model.RoleContributor, u.Role)
}

func TestUserCreateValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/users", env.adminKey, map[string]string{
		"username": "eve", "role": "superuser",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/users", env.adminKey, map[string]string{
		"role": model.RoleViewer,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Duplicate username.
	rec = env.do(t, http.MethodPost, "/users", env.adminKey, map[string]string{
		"username": "viewer", "role": model.RoleViewer,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "already taken")
}

func TestUserListing(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/users", env.viewerKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var users []model.UserRef
	decode(t, rec, &users)
	assert.Len(t, users, 3)
}

func TestAPIKeySelfService(t *testing.T) {
	env := newTestEnv(t)

	// A user may rotate their own key.
	rec := env.do(t, http.MethodPost, fmt.Sprintf("/users/%d/apikey", env.viewer.ID), env.viewerKey, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var issued struct {
		APIKey string        `json:"api_key"`
		User   model.UserRef `json:"user"`
	}
	decode(t, rec, &issued)
	assert.True(t, strings.HasPrefix(issued.APIKey, auth.KeyPrefix))
	assert.Equal(t, env.viewer.ID, issued.User.ID)

	// The old key no longer authenticates; the new one does.
	rec = env.do(t, http.MethodGet, "/forms", env.viewerKey, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = env.do(t, http.MethodGet, "/forms", issued.APIKey, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIKeyAdminManagesOthers(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, fmt.Sprintf("/users/%d/apikey", env.viewer.ID), env.adminKey, nil)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodDelete, fmt.Sprintf("/users/%d/apikey", env.contributor.ID), env.adminKey, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// The revoked key is dead.
	rec = env.do(t, http.MethodGet, "/forms", env.contributorKey, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPIKeyForeignUserDenied(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, fmt.Sprintf("/users/%d/apikey", env.contributor.ID), env.viewerKey, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodDelete, fmt.Sprintf("/users/%d/apikey", env.contributor.ID), env.viewerKey, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Unauthenticated callers get 401.
	rec = env.do(t, http.MethodPost, fmt.Sprintf("/users/%d/apikey", env.contributor.ID), "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
