package api

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dativebase/old/pkg/model"
)

func TestSettingsRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPut, "/applicationsettings", env.adminKey, map[string]interface{}{
		"object_language_name": "Blackfoot",
		"metalanguage_name":    "English",
		"morpheme_delimiters":  "-,=",
		"unrestricted_users":   []int{env.viewer.ID},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/applicationsettings", env.viewerKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var as model.ApplicationSettings
	decode(t, rec, &as)
	assert.Equal(t, "Blackfoot", as.ObjectLanguageName)
	assert.Equal(t, "-,=", as.MorphemeDelimiters)
	assert.Equal(t, []int{env.viewer.ID}, as.UnrestrictedUserIDs)
}

func TestSettingsAdminOnly(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPut, "/applicationsettings", env.contributorKey,
		map[string]interface{}{"object_language_name": "Blackfoot"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSettingsRejectUnknownUnrestrictedUser(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPut, "/applicationsettings", env.adminKey, map[string]interface{}{
		"unrestricted_users": []int{999},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "There is no user with id 999")
}

// Listing a user in unrestricted_users lifts restricted-resource filtering
// for that user's subsequent requests.
func TestUnrestrictedListingGrantsVisibility(t *testing.T) {
	env := newTestEnv(t)
	restricted := env.createTestTag(t, model.RestrictedTagName)

	body := formBody("secret")
	body["tags"] = []int{restricted.ID}
	f := env.createTestForm(t, body)

	path := fmt.Sprintf("/forms/%d", f.ID)
	rec := env.do(t, http.MethodGet, path, env.viewerKey, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPut, "/applicationsettings", env.adminKey, map[string]interface{}{
		"unrestricted_users": []int{env.viewer.ID},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, path, env.viewerKey, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
