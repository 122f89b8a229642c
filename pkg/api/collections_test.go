package api

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dativebase/old/pkg/model"
)

func (e *testEnv) createTestCollection(t *testing.T, body map[string]interface{}) model.Collection {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/collections", e.contributorKey, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var c model.Collection
	decode(t, rec, &c)
	return c
}

func TestCollectionCreateExpandsContents(t *testing.T) {
	env := newTestEnv(t)
	f := env.createTestForm(t, formBody("chien"))

	c := env.createTestCollection(t, map[string]interface{}{
		"title":           "Dog stories",
		"markup_language": "markdown",
		"contents":        fmt.Sprintf("# Intro\n\nform[%d]\n", f.ID),
	})

	assert.Equal(t, []int{f.ID}, c.FormIDs)
	assert.Contains(t, c.HTML, "<h1")
	assert.Contains(t, c.ContentsUnpacked, fmt.Sprintf("form[%d]", f.ID))
}

func TestCollectionEmbedding(t *testing.T) {
	env := newTestEnv(t)
	a := env.createTestForm(t, formBody("chien"))
	b := env.createTestForm(t, formBody("chat"))

	inner := env.createTestCollection(t, map[string]interface{}{
		"title":    "inner",
		"contents": fmt.Sprintf("inner text form[%d]", a.ID),
	})
	outer := env.createTestCollection(t, map[string]interface{}{
		"title":    "outer",
		"contents": fmt.Sprintf("collection[%d] and form[%d]", inner.ID, b.ID),
	})

	assert.ElementsMatch(t, []int{a.ID, b.ID}, outer.FormIDs)
	assert.Contains(t, outer.ContentsUnpacked, "inner text")

	// Editing the inner collection re-expands the outer one.
	rec := env.do(t, http.MethodPut, fmt.Sprintf("/collections/%d", inner.ID), env.contributorKey,
		map[string]interface{}{
			"title":    "inner",
			"contents": fmt.Sprintf("rewritten form[%d]", a.ID),
		})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/collections/%d", outer.ID), env.viewerKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var refreshed model.Collection
	decode(t, rec, &refreshed)
	assert.Contains(t, refreshed.ContentsUnpacked, "rewritten")
	assert.NotContains(t, refreshed.ContentsUnpacked, "inner text")
}

func TestCollectionCircularReference(t *testing.T) {
	env := newTestEnv(t)

	a := env.createTestCollection(t, map[string]interface{}{"title": "a", "contents": "plain"})
	b := env.createTestCollection(t, map[string]interface{}{
		"title":    "b",
		"contents": fmt.Sprintf("collection[%d]", a.ID),
	})

	rec := env.do(t, http.MethodPut, fmt.Sprintf("/collections/%d", a.ID), env.contributorKey,
		map[string]interface{}{
			"title":    "a",
			"contents": fmt.Sprintf("collection[%d]", b.ID),
		})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCollectionMarkupValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/collections", env.contributorKey, map[string]interface{}{
		"title":           "x",
		"markup_language": "asciidoc",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/collections", env.contributorKey, map[string]interface{}{
		"contents": "no title",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFormDeletionCascadesToCollections(t *testing.T) {
	env := newTestEnv(t)
	keep := env.createTestForm(t, formBody("chien"))
	doomed := env.createTestForm(t, formBody("chat"))

	c := env.createTestCollection(t, map[string]interface{}{
		"title":    "both",
		"contents": fmt.Sprintf("keep form[%d] drop form[%d]", keep.ID, doomed.ID),
	})
	assert.ElementsMatch(t, []int{keep.ID, doomed.ID}, c.FormIDs)

	rec := env.do(t, http.MethodDelete, fmt.Sprintf("/forms/%d", doomed.ID), env.contributorKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/collections/%d", c.ID), env.viewerKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var refreshed model.Collection
	decode(t, rec, &refreshed)
	assert.Equal(t, []int{keep.ID}, refreshed.FormIDs)
	assert.NotContains(t, refreshed.Contents, fmt.Sprintf("form[%d]", doomed.ID))
}

func TestCollectionInheritsRestrictionFromReferents(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/tags", env.contributorKey, map[string]string{
		"name": model.RestrictedTagName,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var restricted model.Tag
	decode(t, rec, &restricted)

	body := formBody("secret")
	body["tags"] = []int{restricted.ID}
	secret := env.createTestForm(t, body)

	// An unrestricted writer may cite the form, but the collection then
	// carries the restricted tag itself.
	rec = env.do(t, http.MethodPost, "/collections", env.adminKey, map[string]interface{}{
		"title":    "fieldnotes",
		"contents": fmt.Sprintf("form[%d]", secret.ID),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var c model.Collection
	decode(t, rec, &c)

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/collections/%d", c.ID), env.viewerKey, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = env.do(t, http.MethodGet, fmt.Sprintf("/collections/%d", c.ID), env.adminKey, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCollectionRejectsInaccessibleReferents(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/tags", env.contributorKey, map[string]string{
		"name": model.RestrictedTagName,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var restricted model.Tag
	decode(t, rec, &restricted)

	body := formBody("secret")
	body["tags"] = []int{restricted.ID}
	secret := env.createTestForm(t, body)

	// The contributor is on the restricted side and may not cite the form.
	rec = env.do(t, http.MethodPost, "/collections", env.contributorKey, map[string]interface{}{
		"title":    "fieldnotes",
		"contents": fmt.Sprintf("form[%d]", secret.ID),
	})
	assert.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
}

func TestCollectionHistory(t *testing.T) {
	env := newTestEnv(t)
	c := env.createTestCollection(t, map[string]interface{}{"title": "v1"})

	rec := env.do(t, http.MethodPut, fmt.Sprintf("/collections/%d", c.ID), env.contributorKey,
		map[string]interface{}{"title": "v2"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/collections/%d/history", c.ID), env.viewerKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history struct {
		Collection       *model.Collection `json:"collection"`
		PreviousVersions []model.Backup    `json:"previous_versions"`
	}
	decode(t, rec, &history)
	require.NotNil(t, history.Collection)
	assert.Equal(t, "v2", history.Collection.Title)
	assert.Len(t, history.PreviousVersions, 1)
}
