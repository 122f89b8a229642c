package langmodel

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dativebase/old/pkg/model"
)

const sampleARPA = `
\data\
ngram 1=5
ngram 2=2

\1-grams:
-1.0	<s>	-0.5
-1.0	</s>
-1.0	chien	-0.2
-1.0	s	-0.3
-2.0	<unk>

\2-grams:
-0.5	<s> chien
-0.4	chien s

\end\
`

func sampleTrie(t *testing.T) *Trie {
	t.Helper()
	grams, err := ParseARPA(strings.NewReader(sampleARPA))
	require.NoError(t, err)
	return NewTrie(grams)
}

func TestParseARPA(t *testing.T) {
	grams, err := ParseARPA(strings.NewReader(sampleARPA))
	require.NoError(t, err)
	require.Len(t, grams, 2)
	require.Len(t, grams[0], 5)
	require.Len(t, grams[1], 2)

	assert.Equal(t, []string{"<s>"}, grams[0][0].Tokens)
	assert.InDelta(t, -1.0, grams[0][0].LogProb, 1e-9)
	assert.InDelta(t, -0.5, grams[0][0].Backoff, 1e-9)

	// Entries without a backoff column default to zero.
	assert.InDelta(t, 0.0, grams[0][1].Backoff, 1e-9)

	assert.Equal(t, []string{"chien", "s"}, grams[1][1].Tokens)
	assert.InDelta(t, -0.4, grams[1][1].LogProb, 1e-9)
}

func TestParseARPARejectsGarbage(t *testing.T) {
	_, err := ParseARPA(strings.NewReader("\\data\\\n\\1-grams:\nnot-a-number\tx\n"))
	assert.Error(t, err)

	_, err = ParseARPA(strings.NewReader(""))
	assert.Error(t, err)

	// A bigram in the unigram section is a corrupt model.
	_, err = ParseARPA(strings.NewReader("\\data\\\n\\1-grams:\n-1.0\ta b\n"))
	assert.Error(t, err)
}

func TestConditionalLogProb(t *testing.T) {
	trie := sampleTrie(t)

	// Seen bigram.
	assert.InDelta(t, -0.5, trie.ConditionalLogProb([]string{"<s>"}, "chien"), 1e-9)

	// Unseen bigram backs off: weight of "chien" plus the unigram.
	assert.InDelta(t, -0.2+-1.0, trie.ConditionalLogProb([]string{"chien"}, "</s>"), 1e-9)

	// Unseen unigram falls back to <unk>.
	assert.InDelta(t, -2.0, trie.ConditionalLogProb(nil, "zebra"), 1e-9)

	// History longer than the model's order is truncated to the tail.
	assert.InDelta(t, -0.4,
		trie.ConditionalLogProb([]string{"<s>", "chien"}, "s"), 1e-9)
}

func TestConditionalLogProbNoUnknownToken(t *testing.T) {
	grams, err := ParseARPA(strings.NewReader(
		"\\data\\\n\\1-grams:\n-1.0\t<s>\n-1.0\t</s>\n-1.0\ta\n"))
	require.NoError(t, err)
	trie := NewTrie(grams)
	assert.InDelta(t, -99, trie.ConditionalLogProb(nil, "zebra"), 1e-9)
}

func TestSequenceLogProb(t *testing.T) {
	trie := sampleTrie(t)
	// P(chien|<s>) + P(s|chien) + backoff(s) + P(</s>)
	want := -0.5 + -0.4 + (-0.3 + -1.0)
	assert.InDelta(t, want, trie.SequenceLogProb([]string{"chien", "s"}), 1e-9)
}

func TestTrieGobRoundTrip(t *testing.T) {
	trie := sampleTrie(t)
	path := filepath.Join(t.TempDir(), "trie.gob")
	require.NoError(t, SaveTrie(trie, path))

	loaded, err := LoadTrie(path)
	require.NoError(t, err)
	assert.Equal(t, trie.Order, loaded.Order)
	assert.InDelta(t, trie.SequenceLogProb([]string{"chien", "s"}),
		loaded.SequenceLogProb([]string{"chien", "s"}), 1e-9)
}

func TestWordTokens(t *testing.T) {
	lm := &model.MorphemeLanguageModel{RareDelimiter: model.RareDelimiter}
	tokens := wordTokens("chien|dog|N-s|PL|Num", lm, nil)
	assert.Equal(t, []string{
		"chien" + model.RareDelimiter + "dog",
		"s" + model.RareDelimiter + "PL",
	}, tokens)

	lm.Categorial = true
	assert.Equal(t, []string{"N", "Num"}, wordTokens("chien|dog|N-s|PL|Num", lm, nil))

	// A word with any unanalyzed morpheme contributes nothing.
	assert.Nil(t, wordTokens("chien|dog|N-blarg|blarg|?", lm, nil))
	assert.Nil(t, wordTokens("blarg", lm, nil))
}

func TestParsePerplexity(t *testing.T) {
	p, err := parsePerplexity("908 words, 12 OOVs\nperp = 42.83\n")
	require.NoError(t, err)
	assert.InDelta(t, 42.83, p, 1e-9)

	p, err = parsePerplexity("Perplexity: 1.5e+02")
	require.NoError(t, err)
	assert.InDelta(t, 150, p, 1e-9)

	_, err = parsePerplexity("no numbers here")
	assert.Error(t, err)
}
