package parser

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dativebase/old/pkg/langmodel"
	"github.com/dativebase/old/pkg/layout"
	"github.com/dativebase/old/pkg/model"
)

func TestCacheKeyIncludesCompileAttempt(t *testing.T) {
	a := cacheKey(3, "attempt-1", "chiens")
	b := cacheKey(3, "attempt-2", "chiens")
	assert.NotEqual(t, a, b)
	assert.Equal(t, "parse:3:attempt-1:chiens", a)
}

func TestCacheLocalTier(t *testing.T) {
	c := NewCache(2, time.Minute, nil, nil)
	ctx := context.Background()

	_, ok := c.Get(ctx, 1, "a", "chiens")
	assert.False(t, ok)

	want := Outcome{Parse: "chien⦀dog-s⦀PL", Candidates: []string{"chien⦀dog-s⦀PL"}}
	c.Put(ctx, 1, "a", "chiens", want)
	got, ok := c.Get(ctx, 1, "a", "chiens")
	require.True(t, ok)
	assert.Equal(t, want, got)

	// A different compile attempt misses.
	_, ok = c.Get(ctx, 1, "b", "chiens")
	assert.False(t, ok)
}

func TestCacheRedisTier(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	c := NewCache(2, time.Minute, rdb, nil)
	ctx := context.Background()

	want := Outcome{Parse: "chien⦀dog", Candidates: []string{"chien⦀dog", "chat⦀cat"}}
	c.Put(ctx, 5, "a", "chien", want)

	// Drop the local tier: redis should still serve and repromote.
	c.Purge()
	got, ok := c.Get(ctx, 5, "a", "chien")
	require.True(t, ok)
	assert.Equal(t, want, got)

	mr.FlushAll()
	c.Purge()
	_, ok = c.Get(ctx, 5, "a", "chien")
	assert.False(t, ok)
}

func TestLMTokens(t *testing.T) {
	d := model.RareDelimiter
	lm := &model.MorphemeLanguageModel{RareDelimiter: d}
	candidate := "chien" + d + "dog" + d + "N-s" + d + "PL" + d + "Num"

	assert.Equal(t, []string{"chien" + d + "dog", "s" + d + "PL"},
		lmTokens(candidate, lm, d, nil))

	lm.Categorial = true
	assert.Equal(t, []string{"N", "Num"}, lmTokens(candidate, lm, d, nil))

	// Analyses without the rich structure pass through whole.
	assert.Equal(t, []string{"chien", "s"}, lmTokens("chien-s", lm, d, nil))
}

func newTestEngine(t *testing.T) (*Engine, *layout.Layout) {
	t.Helper()
	lay := layout.New(t.TempDir())
	lm := langmodel.NewEngine(nil, lay, nil, nil)
	return NewEngine(nil, lay, nil, nil, lm, NewCache(8, time.Minute, nil, nil), nil), lay
}

func TestRankPrefersLikelierAnalysis(t *testing.T) {
	e, lay := newTestEngine(t)
	d := model.RareDelimiter

	_, err := lay.ResourceDir(layout.LMDir, 7)
	require.NoError(t, err)
	grams := [][]langmodel.NGram{{
		{Tokens: []string{langmodel.StartToken}},
		{Tokens: []string{langmodel.EndToken}, LogProb: -1},
		{Tokens: []string{"chien" + d + "dog"}, LogProb: -0.5},
		{Tokens: []string{"chat" + d + "cat"}, LogProb: -3},
	}}
	require.NoError(t, langmodel.SaveTrie(langmodel.NewTrie(grams),
		lay.Path(layout.LMDir, 7, layout.TrieFile)))

	p := &model.MorphologicalParser{
		ID:            1,
		Morphology:    &model.Morphology{RareDelimiter: d},
		LanguageModel: &model.MorphemeLanguageModel{ID: 7, RareDelimiter: d},
	}
	out := e.rank(p, nil, []string{
		"chat" + d + "cat" + d + "N",
		"chien" + d + "dog" + d + "N",
	})
	assert.Equal(t, "chien"+d+"dog"+d+"N", out.Parse)
	assert.Len(t, out.Candidates, 2)
}

func TestRankWithoutModelFallsBackToFirst(t *testing.T) {
	e, _ := newTestEngine(t)
	p := &model.MorphologicalParser{
		ID:            2,
		Morphology:    &model.Morphology{RareDelimiter: model.RareDelimiter},
		LanguageModel: &model.MorphemeLanguageModel{ID: 99, RareDelimiter: model.RareDelimiter},
	}
	out := e.rank(p, nil, []string{"first", "second"})
	assert.Equal(t, "first", out.Parse)

	assert.Empty(t, e.rank(p, nil, nil).Parse)
}

func TestPersistedCacheSurvivesReload(t *testing.T) {
	e, lay := newTestEngine(t)
	p := &model.MorphologicalParser{ID: 3, CompileAttempt: "attempt-1"}
	_, err := lay.ResourceDir(layout.ParserDir, p.ID)
	require.NoError(t, err)

	want := Outcome{Parse: "chien⦀dog", Candidates: []string{"chien⦀dog"}}
	e.persistedPut(p, "chien", want)
	require.NoError(t, e.savePersisted(p))

	// A fresh engine reads the gob file back.
	e2 := NewEngine(nil, lay, nil, nil, nil, nil, nil)
	got, ok := e2.persistedGet(p, "chien")
	require.True(t, ok)
	assert.Equal(t, want, got)

	// A recompile invalidates persisted outcomes.
	p.CompileAttempt = "attempt-2"
	_, ok = e2.persistedGet(p, "chien")
	assert.False(t, ok)
}

func TestParseRequiresCompiledBinary(t *testing.T) {
	e, _ := newTestEngine(t)
	p := &model.MorphologicalParser{ID: 4}
	_, err := e.Parse(context.Background(), p, nil, []string{"chien"})
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
}
