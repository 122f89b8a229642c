package api

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dativebase/old/pkg/model"
)

const testPhonologyScript = `define phonology a -> b || _ #;`

func (e *testEnv) createTestPhonology(t *testing.T, name string) model.Phonology {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/phonologies", e.contributorKey, map[string]string{
		"name":   name,
		"script": testPhonologyScript,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var p model.Phonology
	decode(t, rec, &p)
	return p
}

func TestPhonologyCRUDAndHistory(t *testing.T) {
	env := newTestEnv(t)
	p := env.createTestPhonology(t, "devoicing")

	rec := env.do(t, http.MethodPut, fmt.Sprintf("/phonologies/%d", p.ID), env.contributorKey,
		map[string]string{
			"name":        "devoicing",
			"description": "word-final devoicing",
			"script":      testPhonologyScript,
		})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/phonologies/%d/history", p.ID), env.viewerKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history struct {
		Phonology        *model.Phonology `json:"phonology"`
		PreviousVersions []model.Backup   `json:"previous_versions"`
	}
	decode(t, rec, &history)
	require.NotNil(t, history.Phonology)
	assert.Len(t, history.PreviousVersions, 1)

	rec = env.do(t, http.MethodDelete, fmt.Sprintf("/phonologies/%d", p.ID), env.contributorKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodGet, fmt.Sprintf("/phonologies/%d", p.ID), env.viewerKey, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPhonologyScriptMustDefineRegex(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/phonologies", env.contributorKey, map[string]string{
		"name":   "broken",
		"script": "define other a -> b;",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "phonology")
}

// Compilation endpoints surface a missing foma as a client-visible error
// instead of queueing a job that can only fail.
func TestPhonologyCompileWithoutFoma(t *testing.T) {
	env := newTestEnv(t)
	p := env.createTestPhonology(t, "devoicing")

	rec := env.do(t, http.MethodPut, fmt.Sprintf("/phonologies/%d/compile", p.ID), env.contributorKey, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPhonologyServeCompiledBeforeCompile(t *testing.T) {
	env := newTestEnv(t)
	p := env.createTestPhonology(t, "devoicing")

	rec := env.do(t, http.MethodGet, fmt.Sprintf("/phonologies/%d/servecompiled", p.ID), env.viewerKey, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "has not been compiled")
}

func (e *testEnv) createTestMorphology(t *testing.T, name string, lexicon, rules int) model.Morphology {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/morphologies", e.contributorKey, map[string]interface{}{
		"name":           name,
		"rules_corpus":   rules,
		"lexicon_corpus": lexicon,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var m model.Morphology
	decode(t, rec, &m)
	return m
}

func (e *testEnv) grammarCorpora(t *testing.T) (lexicon, rules model.Corpus) {
	t.Helper()
	lexForm := formBody("chien")
	lexForm["morpheme_break"] = "chien"
	lexForm["morpheme_gloss"] = "dog"
	lex := e.createTestForm(t, lexForm)

	wordForm := formBody("chiens")
	wordForm["morpheme_break"] = "chien-s"
	wordForm["morpheme_gloss"] = "dog-PL"
	word := e.createTestForm(t, wordForm)

	lexicon = e.createTestCorpus(t, map[string]interface{}{
		"name":    "lexicon " + t.Name(),
		"content": fmt.Sprintf("%d", lex.ID),
	})
	rules = e.createTestCorpus(t, map[string]interface{}{
		"name":    "rules " + t.Name(),
		"content": fmt.Sprintf("%d", word.ID),
	})
	return lexicon, rules
}

func TestMorphologyCRUD(t *testing.T) {
	env := newTestEnv(t)
	lexicon, rules := env.grammarCorpora(t)
	m := env.createTestMorphology(t, "nominal", lexicon.ID, rules.ID)

	assert.Equal(t, model.ScriptTypeLexc, m.ScriptType)
	assert.Equal(t, model.RareDelimiter, m.RareDelimiter)

	rec := env.do(t, http.MethodGet, fmt.Sprintf("/morphologies/%d", m.ID), env.viewerKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodDelete, fmt.Sprintf("/morphologies/%d", m.ID), env.contributorKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMorphologyValidation(t *testing.T) {
	env := newTestEnv(t)
	lexicon, rules := env.grammarCorpora(t)

	// Needs a lexicon source.
	rec := env.do(t, http.MethodPost, "/morphologies", env.contributorKey, map[string]interface{}{
		"name":         "no lexicon",
		"rules_corpus": rules.ID,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// But extraction from the rules corpus can stand in for one.
	rec = env.do(t, http.MethodPost, "/morphologies", env.contributorKey, map[string]interface{}{
		"name":                                "extracting",
		"rules_corpus":                        rules.ID,
		"extract_morphemes_from_rules_corpus": true,
	})
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// Unknown script type.
	rec = env.do(t, http.MethodPost, "/morphologies", env.contributorKey, map[string]interface{}{
		"name":           "bad type",
		"script_type":    "xfst",
		"rules_corpus":   rules.ID,
		"lexicon_corpus": lexicon.ID,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMorphologyGenerateWithoutCompile(t *testing.T) {
	env := newTestEnv(t)
	lexicon, rules := env.grammarCorpora(t)
	m := env.createTestMorphology(t, "nominal", lexicon.ID, rules.ID)

	// Script generation alone needs no foma.
	rec := env.do(t, http.MethodPut, fmt.Sprintf("/morphologies/%d/generate", m.ID), env.contributorKey, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Morphology      model.Morphology `json:"morphology"`
		GenerateAttempt string           `json:"generate_attempt"`
	}
	decode(t, rec, &resp)
	assert.NotEmpty(t, resp.GenerateAttempt)
	assert.Equal(t, resp.GenerateAttempt, resp.Morphology.GenerateAttempt)

	// The nonce is on the row from the moment the job is accepted.
	rec = env.do(t, http.MethodGet, fmt.Sprintf("/morphologies/%d", m.ID), env.contributorKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var fetched model.Morphology
	decode(t, rec, &fetched)
	assert.Equal(t, resp.GenerateAttempt, fetched.GenerateAttempt)

	// Compiling does.
	rec = env.do(t, http.MethodPut, fmt.Sprintf("/morphologies/%d/generate_and_compile", m.ID), env.contributorKey, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func (e *testEnv) createTestLanguageModel(t *testing.T, name string, corpusID int) model.MorphemeLanguageModel {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/morphemelanguagemodels", e.contributorKey, map[string]interface{}{
		"name":   name,
		"corpus": corpusID,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var lm model.MorphemeLanguageModel
	decode(t, rec, &lm)
	return lm
}

func TestLanguageModelDefaults(t *testing.T) {
	env := newTestEnv(t)
	_, rules := env.grammarCorpora(t)
	lm := env.createTestLanguageModel(t, "trigram", rules.ID)

	assert.Equal(t, ToolkitMITLM, lm.Toolkit)
	assert.Equal(t, 3, lm.Order)
	assert.Equal(t, model.RareDelimiter, lm.RareDelimiter)
}

func TestLanguageModelValidation(t *testing.T) {
	env := newTestEnv(t)
	_, rules := env.grammarCorpora(t)

	rec := env.do(t, http.MethodPost, "/morphemelanguagemodels", env.contributorKey, map[string]interface{}{
		"name": "no corpus",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/morphemelanguagemodels", env.contributorKey, map[string]interface{}{
		"name":    "bad toolkit",
		"corpus":  rules.ID,
		"toolkit": "kenlm",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/morphemelanguagemodels", env.contributorKey, map[string]interface{}{
		"name":   "bad order",
		"corpus": rules.ID,
		"order":  9,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/morphemelanguagemodels", env.contributorKey, map[string]interface{}{
		"name":      "bad smoothing",
		"corpus":    rules.ID,
		"smoothing": "Laplace",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLanguageModelGenerateWithoutMITLM(t *testing.T) {
	env := newTestEnv(t)
	_, rules := env.grammarCorpora(t)
	lm := env.createTestLanguageModel(t, "trigram", rules.ID)

	rec := env.do(t, http.MethodPut,
		fmt.Sprintf("/morphemelanguagemodels/%d/generate", lm.ID), env.contributorKey, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet,
		fmt.Sprintf("/morphemelanguagemodels/%d/serve_arpa", lm.ID), env.viewerKey, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "has not been generated")
}

func TestLanguageModelGetProbabilitiesValidation(t *testing.T) {
	env := newTestEnv(t)
	_, rules := env.grammarCorpora(t)
	lm := env.createTestLanguageModel(t, "trigram", rules.ID)

	rec := env.do(t, http.MethodPut,
		fmt.Sprintf("/morphemelanguagemodels/%d/get_probabilities", lm.ID), env.viewerKey,
		map[string]interface{}{"morpheme_sequences": [][]string{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func (e *testEnv) createTestParser(t *testing.T) model.MorphologicalParser {
	t.Helper()
	lexicon, rules := e.grammarCorpora(t)
	phon := e.createTestPhonology(t, "parser phonology "+t.Name())
	morph := e.createTestMorphology(t, "parser morphology "+t.Name(), lexicon.ID, rules.ID)
	lm := e.createTestLanguageModel(t, "parser lm "+t.Name(), rules.ID)

	rec := e.do(t, http.MethodPost, "/morphologicalparsers", e.contributorKey, map[string]interface{}{
		"name":           "parser " + t.Name(),
		"phonology":      phon.ID,
		"morphology":     morph.ID,
		"language_model": lm.ID,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var p model.MorphologicalParser
	decode(t, rec, &p)
	return p
}

func TestParserCRUDAndHistory(t *testing.T) {
	env := newTestEnv(t)
	p := env.createTestParser(t)

	require.NotNil(t, p.Phonology)
	require.NotNil(t, p.Morphology)
	require.NotNil(t, p.LanguageModel)

	rec := env.do(t, http.MethodGet, fmt.Sprintf("/morphologicalparsers/%d", p.ID), env.viewerKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodDelete, fmt.Sprintf("/morphologicalparsers/%d", p.ID), env.contributorKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// History survives the deletion.
	rec = env.do(t, http.MethodGet, fmt.Sprintf("/morphologicalparsers/%d/history", p.ID), env.viewerKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history struct {
		Parser           *model.MorphologicalParser `json:"morphological_parser"`
		PreviousVersions []model.Backup             `json:"previous_versions"`
	}
	decode(t, rec, &history)
	assert.Nil(t, history.Parser)
	assert.NotEmpty(t, history.PreviousVersions)
}

func TestParserRequiresAllComponents(t *testing.T) {
	env := newTestEnv(t)
	phon := env.createTestPhonology(t, "lonely")

	rec := env.do(t, http.MethodPost, "/morphologicalparsers", env.contributorKey, map[string]interface{}{
		"name":      "incomplete",
		"phonology": phon.ID,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "morphology")
}

func TestParserCompileWithoutFoma(t *testing.T) {
	env := newTestEnv(t)
	p := env.createTestParser(t)

	rec := env.do(t, http.MethodPut,
		fmt.Sprintf("/morphologicalparsers/%d/generate_and_compile", p.ID), env.contributorKey, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet,
		fmt.Sprintf("/morphologicalparsers/%d/servecompiled", p.ID), env.viewerKey, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPut,
		fmt.Sprintf("/morphologicalparsers/%d/applyup", p.ID), env.contributorKey,
		map[string]interface{}{"transcriptions": []string{"chiens"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "has not been compiled")
}
