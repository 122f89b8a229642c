package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dativebase/old/pkg/model"
)

func (e *testEnv) createTestCorpus(t *testing.T, body map[string]interface{}) model.Corpus {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/corpora", e.contributorKey, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var c model.Corpus
	decode(t, rec, &c)
	return c
}

func TestCorpusFromContent(t *testing.T) {
	env := newTestEnv(t)
	a := env.createTestForm(t, formBody("chien"))
	b := env.createTestForm(t, formBody("chat"))

	c := env.createTestCorpus(t, map[string]interface{}{
		"name":    "pets",
		"content": fmt.Sprintf("%d, %d, %d", b.ID, a.ID, b.ID),
	})
	// Duplicates collapse; first-occurrence order is kept.
	assert.Equal(t, []int{b.ID, a.ID}, c.FormIDs)
}

func TestCorpusFromFormSearch(t *testing.T) {
	env := newTestEnv(t)
	env.createTestForm(t, formBody("chien"))
	env.createTestForm(t, formBody("chat"))
	fs := env.createTestFormSearch(t, "dogs", `["Form", "transcription", "=", "chien"]`)

	c := env.createTestCorpus(t, map[string]interface{}{
		"name":        "dog corpus",
		"form_search": fs.ID,
	})
	require.Len(t, c.FormIDs, 1)

	// New matching forms join on the next sync.
	env.createTestForm(t, formBody("chien"))
	rec := env.do(t, http.MethodPut, fmt.Sprintf("/corpora/%d", c.ID), env.contributorKey,
		map[string]interface{}{
			"name":        "dog corpus",
			"description": "resynced",
			"form_search": fs.ID,
		})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated model.Corpus
	decode(t, rec, &updated)
	assert.Len(t, updated.FormIDs, 2)
}

func TestCorpusValidation(t *testing.T) {
	env := newTestEnv(t)
	fs := env.createTestFormSearch(t, "all", `["Form", "id", "__gt__", 0]`)

	// Content and form search are mutually exclusive.
	rec := env.do(t, http.MethodPost, "/corpora", env.contributorKey, map[string]interface{}{
		"name":        "both",
		"content":     "1,2",
		"form_search": fs.ID,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Malformed id list.
	rec = env.do(t, http.MethodPost, "/corpora", env.contributorKey, map[string]interface{}{
		"name":    "bad",
		"content": "1, two, 3",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Ids must name live forms.
	f := env.createTestForm(t, formBody("chien"))
	rec = env.do(t, http.MethodPost, "/corpora", env.contributorKey, map[string]interface{}{
		"name":    "dangling",
		"content": fmt.Sprintf("%d, 999", f.ID),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "999")
}

func TestCorpusContentRestrictedReferent(t *testing.T) {
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

	rec = env.do(t, http.MethodPost, "/corpora", env.contributorKey, map[string]interface{}{
		"name":    "forbidden",
		"content": fmt.Sprintf("%d", secret.ID),
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/corpora", env.adminKey, map[string]interface{}{
		"name":    "allowed",
		"content": fmt.Sprintf("%d", secret.ID),
	})
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestCorpusScopedSearch(t *testing.T) {
	env := newTestEnv(t)
	inCorpus := env.createTestForm(t, formBody("chien noir"))
	outside := env.createTestForm(t, formBody("chien blanc"))

	c := env.createTestCorpus(t, map[string]interface{}{
		"name":    "scoped",
		"content": fmt.Sprintf("%d", inCorpus.ID),
	})

	rec := env.do(t, http.MethodPost, fmt.Sprintf("/corpora/%d/search", c.ID), env.viewerKey,
		map[string]interface{}{
			"query": map[string]interface{}{
				"filter": json.RawMessage(`["Form", "transcription", "like", "%chien%"]`),
			},
		})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var matches []model.Form
	decode(t, rec, &matches)
	require.Len(t, matches, 1)
	assert.Equal(t, inCorpus.ID, matches[0].ID)
	assert.NotEqual(t, outside.ID, matches[0].ID)
}

func TestCorpusWriteToFileBadFormat(t *testing.T) {
	env := newTestEnv(t)
	f := env.createTestForm(t, formBody("chien"))
	c := env.createTestCorpus(t, map[string]interface{}{
		"name":    "x",
		"content": fmt.Sprintf("%d", f.ID),
	})

	rec := env.do(t, http.MethodPut, fmt.Sprintf("/corpora/%d/writetofile", c.ID), env.contributorKey,
		map[string]string{"format": "parquet"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCorpusWriteToFileQueues(t *testing.T) {
	env := newTestEnv(t)
	f := env.createTestForm(t, formBody("chien"))
	c := env.createTestCorpus(t, map[string]interface{}{
		"name":    "x",
		"content": fmt.Sprintf("%d", f.ID),
	})

	rec := env.do(t, http.MethodPut, fmt.Sprintf("/corpora/%d/writetofile", c.ID), env.contributorKey,
		map[string]string{"format": "transcriptions"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Corpus       model.Corpus `json:"corpus"`
		WriteAttempt string       `json:"write_attempt"`
	}
	decode(t, rec, &resp)
	assert.Equal(t, c.ID, resp.Corpus.ID)
	assert.NotEmpty(t, resp.WriteAttempt)
}

// Treebank search needs tgrep2 on the path; without it the endpoint
// reports the missing tool rather than failing obscurely.
func TestTreebankSearchWithoutTool(t *testing.T) {
	env := newTestEnv(t)
	f := env.createTestForm(t, formBody("chien"))
	c := env.createTestCorpus(t, map[string]interface{}{
		"name":    "x",
		"content": fmt.Sprintf("%d", f.ID),
	})

	rec := env.do(t, http.MethodPost, fmt.Sprintf("/corpora/%d/search_treebank", c.ID), env.viewerKey,
		map[string]string{"tgrep2pattern": "NP < DT"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, "SEARCH", fmt.Sprintf("/corpora/%d/tgrep2", c.ID), env.viewerKey,
		map[string]string{"tgrep2pattern": "NP < DT"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// A blank or absent tgrep2pattern is a validation error, not a tool one.
	rec = env.do(t, http.MethodPost, fmt.Sprintf("/corpora/%d/search_treebank", c.ID), env.viewerKey,
		map[string]string{"tgrep2pattern": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "tgrep2pattern")

	rec = env.do(t, http.MethodPost, fmt.Sprintf("/corpora/%d/search_treebank", c.ID), env.viewerKey,
		map[string]string{"pattern": "NP < DT"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "tgrep2pattern")
}

func TestCorpusWordCategorySequences(t *testing.T) {
	env := newTestEnv(t)

	n := env.createTestCategory(t, "N", "lexical")
	lexical := formBody("chien")
	lexical["morpheme_break"] = "chien"
	lexical["morpheme_gloss"] = "dog"
	lexical["syntactic_category"] = n.ID
	lex := env.createTestForm(t, lexical)

	c := env.createTestCorpus(t, map[string]interface{}{
		"name":    "x",
		"content": fmt.Sprintf("%d", lex.ID),
	})

	rec := env.do(t, http.MethodGet,
		fmt.Sprintf("/corpora/%d/get_word_category_sequences", c.ID), env.viewerKey, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "N")

	// min_count prunes sequences with too little support.
	rec = env.do(t, http.MethodGet,
		fmt.Sprintf("/corpora/%d/get_word_category_sequences?min_count=2", c.ID), env.viewerKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}
