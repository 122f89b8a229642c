package morphology

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dativebase/old/pkg/layout"
	"github.com/dativebase/old/pkg/model"
)

func sampleLexicon() Lexicon {
	return Lexicon{
		"N":   {{Shape: "chien", Gloss: "dog"}, {Shape: "chat", Gloss: "cat"}},
		"Num": {{Shape: "s", Gloss: "PL"}},
	}
}

func TestParseBreakGlossCategory(t *testing.T) {
	morphemes := parseBreakGlossCategory("chien|dog|N-s|PL|Num mange|eat|V", nil)
	require.Len(t, morphemes, 3)
	assert.Equal(t, analyzedMorpheme{"chien", "dog", "N"}, morphemes[0])
	assert.Equal(t, analyzedMorpheme{"s", "PL", "Num"}, morphemes[1])
	assert.Equal(t, analyzedMorpheme{"mange", "eat", "V"}, morphemes[2])

	// Unanalyzed material is skipped, not misparsed.
	assert.Empty(t, parseBreakGlossCategory("blarg", nil))
}

func TestGenerateRegexScript(t *testing.T) {
	m := &model.Morphology{Name: "french", ScriptType: model.ScriptTypeRegex,
		RareDelimiter: model.RareDelimiter}
	script := GenerateScript(m, []string{"N-Num", "N"}, sampleLexicon(), nil)

	assert.Contains(t, script, "define CatN [{chien} | {chat}];")
	assert.Contains(t, script, "define CatNum [{s}];")
	assert.Contains(t, script, "define morphology [CatN {-} CatNum] | [CatN];")
}

func TestGenerateRegexScriptRichUpper(t *testing.T) {
	m := &model.Morphology{Name: "french", ScriptType: model.ScriptTypeRegex,
		RichUpper: true, RareDelimiter: model.RareDelimiter}
	script := GenerateScript(m, []string{"Num"}, sampleLexicon(), nil)
	assert.Contains(t, script, "{s"+model.RareDelimiter+"PL"+model.RareDelimiter+"Num}:{s}")
}

func TestGenerateRegexScriptUnknownCategory(t *testing.T) {
	m := &model.Morphology{Name: "f", ScriptType: model.ScriptTypeRegex,
		RareDelimiter: model.RareDelimiter}
	// V has no lexical entries: the rule is dropped without include_unknowns.
	script := GenerateScript(m, []string{"V-Agr", "N"}, sampleLexicon(), nil)
	assert.NotContains(t, script, "Agr")
	assert.Contains(t, script, "define morphology [CatN];")

	m.IncludeUnknowns = true
	script = GenerateScript(m, []string{"V-Agr", "N"}, sampleLexicon(), nil)
	assert.Contains(t, script, "define Unknown ?+;")
	assert.Contains(t, script, "[Unknown {-} Unknown] | [CatN]")
}

func TestGenerateLexcScript(t *testing.T) {
	m := &model.Morphology{Name: "french", ScriptType: model.ScriptTypeLexc,
		RareDelimiter: model.RareDelimiter}
	script := GenerateScript(m, []string{"N-Num"}, sampleLexicon(), nil)

	assert.Contains(t, script, "LEXICON Root")
	assert.Contains(t, script, "R1C1 ;  ! N-Num")
	assert.Contains(t, script, "LEXICON R1C1")
	assert.Contains(t, script, "chien R1C2 ;")
	assert.Contains(t, script, "LEXICON R1C2")
	assert.Contains(t, script, "LEXICON R1C3")
	assert.Contains(t, script, "s # ;")
}

func TestGenerateLexcMultichar(t *testing.T) {
	m := &model.Morphology{Name: "french", ScriptType: model.ScriptTypeLexc,
		RichUpper: true, RareDelimiter: model.RareDelimiter}
	script := GenerateScript(m, []string{"N"}, sampleLexicon(), nil)

	assert.Contains(t, script, "Multichar_Symbols")
	assert.Contains(t, script, model.RareDelimiter)
	assert.Contains(t, script, "dog")
	// Rich upper against plain lower.
	assert.Contains(t, script,
		"chien"+model.RareDelimiter+"dog"+model.RareDelimiter+"N:chien # ;")
}

func TestLexcEscape(t *testing.T) {
	assert.Equal(t, "a%:b", lexcEscape("a:b"))
	assert.Equal(t, "%<PL%>", lexcEscape("<PL>"))
	assert.Equal(t, "a%b", lexcEscape("a b"))
}

func TestLexiconSnapshotRoundTrip(t *testing.T) {
	l := layout.New(t.TempDir())
	e := NewEngine(nil, l, nil, nil)
	m := &model.Morphology{ID: 4}

	_, err := l.ResourceDir(layout.MorphologyDir, 4)
	require.NoError(t, err)
	require.NoError(t, e.writeLexicon(m, sampleLexicon()))

	_, err = os.Stat(l.LexiconPath(4))
	require.NoError(t, err)

	loaded, err := e.ReadLexicon(m)
	require.NoError(t, err)
	assert.Equal(t, sampleLexicon(), loaded)
}

func TestReadLexiconRequiresGenerate(t *testing.T) {
	e := NewEngine(nil, layout.New(t.TempDir()), nil, nil)
	_, err := e.ReadLexicon(&model.Morphology{ID: 9})
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestDedupePreservesOrder(t *testing.T) {
	assert.Equal(t, []string{"N-Num", "V", "N"}, dedupe([]string{"N-Num", "V", "N-Num", "N", "V"}))
}
