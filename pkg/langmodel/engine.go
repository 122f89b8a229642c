package langmodel

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dativebase/old/pkg/layout"
	"github.com/dativebase/old/pkg/model"
	"github.com/dativebase/old/pkg/storage"
	"github.com/dativebase/old/pkg/toolkit"
	"github.com/dativebase/old/pkg/worker"
)

// perplexityTrials is how many random train/test splits a perplexity
// computation averages over.
const perplexityTrials = 5

// testSetFraction of sentences held out per trial.
const testSetFraction = 0.1

var perplexityRe = regexp.MustCompile(`(?i)perp\w*\s*[=:]\s*([0-9.eE+-]+)`)

// Engine estimates and serves morpheme language models.
type Engine struct {
	store  *storage.Store
	layout *layout.Layout
	mitlm  *toolkit.MITLM
	logger *logrus.Logger

	mu    sync.Mutex
	tries map[int]*Trie
}

// NewEngine creates a language model engine.
func NewEngine(store *storage.Store, l *layout.Layout, mitlm *toolkit.MITLM, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Engine{store: store, layout: l, mitlm: mitlm, logger: logger,
		tries: make(map[int]*Trie)}
}

// Sentences renders the LM's training sentences: one line per word of each
// corpus form, tokens being either categories or shape-gloss pairs joined
// by the rare delimiter.
func (e *Engine) Sentences(ctx context.Context, lm *model.MorphemeLanguageModel, delimiters []string) ([][]string, error) {
	ids := lm.Corpus.FormIDs
	if len(ids) == 0 {
		fetched, err := e.store.CorpusFormIDs(ctx, lm.Corpus.ID)
		if err != nil {
			return nil, err
		}
		ids = fetched
	}
	forms, err := e.store.FormsByIDs(ctx, ids, true)
	if err != nil {
		return nil, err
	}

	var sentences [][]string
	for i := range forms {
		for _, word := range strings.Fields(forms[i].BreakGlossCategory) {
			tokens := wordTokens(word, lm, delimiters)
			if len(tokens) > 0 {
				sentences = append(sentences, tokens)
			}
		}
	}
	return sentences, nil
}

// wordTokens converts one analyzed word ("chien|dog|N-s|PL|Num") into LM
// tokens. Words with unanalyzed morphemes are skipped entirely rather than
// polluting the counts.
func wordTokens(word string, lm *model.MorphemeLanguageModel, delimiters []string) []string {
	var tokens []string
	for _, part := range model.SplitMorphemes(word, delimiters) {
		fields := strings.Split(part, "|")
		if len(fields) != 3 || fields[2] == "?" {
			return nil
		}
		if lm.Categorial {
			tokens = append(tokens, fields[2])
		} else {
			tokens = append(tokens, fields[0]+lm.RareDelimiter+fields[1])
		}
	}
	return tokens
}

func (e *Engine) corpusPath(lm *model.MorphemeLanguageModel) string {
	return e.layout.Path(layout.LMDir, lm.ID, layout.CorpusFile)
}

// ARPAPath returns where the estimated model lives.
func (e *Engine) ARPAPath(lm *model.MorphemeLanguageModel) string {
	return e.layout.Path(layout.LMDir, lm.ID, layout.ARPAFile)
}

func (e *Engine) triePath(lm *model.MorphemeLanguageModel) string {
	return e.layout.Path(layout.LMDir, lm.ID, layout.TrieFile)
}

func writeSentences(path string, sentences [][]string) error {
	var b strings.Builder
	for _, s := range sentences {
		b.WriteString(strings.Join(s, " "))
		b.WriteString("\n")
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write LM corpus: %w", err)
	}
	return nil
}

// writeVocabulary derives a fixed vocabulary from the vocabulary
// morphology's lexical entries, so the model assigns mass to morphemes the
// morphology can produce even when the training corpus lacks them.
func (e *Engine) writeVocabulary(ctx context.Context, lm *model.MorphemeLanguageModel, delimiters []string) (string, error) {
	if lm.VocabularyMorphology == nil {
		return "", nil
	}
	ids, err := e.store.CorpusFormIDs(ctx, vocabularyCorpusID(lm.VocabularyMorphology))
	if err != nil {
		return "", err
	}
	forms, err := e.store.FormsByIDs(ctx, ids, true)
	if err != nil {
		return "", err
	}
	seen := make(map[string]bool)
	var vocab []string
	add := func(tok string) {
		if tok != "" && !seen[tok] {
			seen[tok] = true
			vocab = append(vocab, tok)
		}
	}
	for i := range forms {
		f := &forms[i]
		if len(model.SplitMorphemes(f.MorphemeBreak, delimiters)) != 1 {
			continue
		}
		if lm.Categorial {
			if f.SyntacticCategory != nil {
				add(f.SyntacticCategory.Name)
			}
		} else {
			add(f.MorphemeBreak + lm.RareDelimiter + f.MorphemeGloss)
		}
	}
	if len(vocab) == 0 {
		return "", nil
	}
	path := e.layout.Path(layout.LMDir, lm.ID, layout.VocabularyFile)
	if err := os.WriteFile(path, []byte(strings.Join(vocab, "\n")+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("failed to write LM vocabulary: %w", err)
	}
	return path, nil
}

func vocabularyCorpusID(m *model.Morphology) int {
	if m.LexiconCorpus != nil {
		return m.LexiconCorpus.ID
	}
	if m.RulesCorpus != nil {
		return m.RulesCorpus.ID
	}
	return 0
}

// Generate estimates the model: write the training corpus, run the
// toolkit, parse the ARPA output into a trie, and persist both.
func (e *Engine) Generate(ctx context.Context, lm *model.MorphemeLanguageModel, delimiters []string, attempt string) error {
	err := e.generate(ctx, lm, delimiters)
	message := "Language model generated."
	if err != nil {
		message = fmt.Sprintf("Language model generation failed: %s", err)
	}
	if storeErr := e.store.SetLanguageModelGenerateResult(ctx, lm.ID, err == nil,
		message, attempt); storeErr != nil {
		return storeErr
	}
	return err
}

func (e *Engine) generate(ctx context.Context, lm *model.MorphemeLanguageModel, delimiters []string) error {
	if lm.Toolkit != toolkit.ToolkitMITLM {
		return model.NewValidationError("toolkit",
			fmt.Sprintf("The toolkit %s is not supported.", lm.Toolkit))
	}
	if err := e.mitlm.Installed(); err != nil {
		return err
	}
	sentences, err := e.Sentences(ctx, lm, delimiters)
	if err != nil {
		return err
	}
	if len(sentences) == 0 {
		return model.NewValidationError("corpus",
			"The corpus of this language model contains no analyzed words")
	}
	if _, err := e.layout.ResourceDir(layout.LMDir, lm.ID); err != nil {
		return err
	}
	if err := writeSentences(e.corpusPath(lm), sentences); err != nil {
		return err
	}
	vocabPath, err := e.writeVocabulary(ctx, lm, delimiters)
	if err != nil {
		return err
	}
	if err := e.mitlm.Estimate(ctx, toolkit.EstimateParams{
		Order:      lm.Order,
		CorpusPath: e.corpusPath(lm),
		VocabPath:  vocabPath,
		Smoothing:  lm.Smoothing,
		ARPAPath:   e.ARPAPath(lm),
	}); err != nil {
		return err
	}

	f, err := os.Open(e.ARPAPath(lm))
	if err != nil {
		return fmt.Errorf("failed to open ARPA output: %w", err)
	}
	defer f.Close()
	grams, err := ParseARPA(f)
	if err != nil {
		return err
	}
	trie := NewTrie(grams)
	if err := SaveTrie(trie, e.triePath(lm)); err != nil {
		return err
	}

	e.mu.Lock()
	e.tries[lm.ID] = trie
	e.mu.Unlock()
	return nil
}

// GenerateJob wraps Generate for the background queue.
func (e *Engine) GenerateJob(lm *model.MorphemeLanguageModel, delimiters []string) worker.Job {
	attempt := uuid.NewString()
	return worker.Job{
		Name:    fmt.Sprintf("language model %d generate", lm.ID),
		Attempt: attempt,
		Run: func(ctx context.Context) error {
			return e.Generate(ctx, lm, delimiters, attempt)
		},
	}
}

// trie returns the in-memory trie, loading the persisted one on first use.
func (e *Engine) trie(lm *model.MorphemeLanguageModel) (*Trie, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.tries[lm.ID]; ok {
		return t, nil
	}
	t, err := LoadTrie(e.triePath(lm))
	if err != nil {
		return nil, model.NewValidationError("generate",
			fmt.Sprintf("Language model %d has not been generated yet.", lm.ID))
	}
	e.tries[lm.ID] = t
	return t, nil
}

// GetProbabilities scores morpheme sequences, returning log10 probabilities
// keyed by the space-joined sequence.
func (e *Engine) GetProbabilities(lm *model.MorphemeLanguageModel, sequences [][]string) (map[string]float64, error) {
	t, err := e.trie(lm)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(sequences))
	for _, seq := range sequences {
		out[strings.Join(seq, " ")] = t.SequenceLogProb(seq)
	}
	return out, nil
}

// Score exposes whole-sequence scoring for the parser's candidate ranking.
func (e *Engine) Score(lm *model.MorphemeLanguageModel, tokens []string) (float64, error) {
	t, err := e.trie(lm)
	if err != nil {
		return 0, err
	}
	return t.SequenceLogProb(tokens), nil
}

// ComputePerplexity estimates the model's quality by averaging held-out
// perplexity over several random train/test splits, run concurrently.
// Failed trials are skipped; all trials failing yields a nil perplexity.
func (e *Engine) ComputePerplexity(ctx context.Context, lm *model.MorphemeLanguageModel, delimiters []string, attempt string) error {
	perplexity, err := e.computePerplexity(ctx, lm, delimiters)
	if storeErr := e.store.SetLanguageModelPerplexity(ctx, lm.ID, perplexity, attempt); storeErr != nil {
		return storeErr
	}
	return err
}

func (e *Engine) computePerplexity(ctx context.Context, lm *model.MorphemeLanguageModel, delimiters []string) (*float64, error) {
	sentences, err := e.Sentences(ctx, lm, delimiters)
	if err != nil {
		return nil, err
	}
	if len(sentences) < perplexityTrials {
		return nil, model.NewValidationError("corpus",
			"The corpus is too small to compute perplexity")
	}
	dir, err := e.layout.ResourceDir(layout.LMDir, lm.ID)
	if err != nil {
		return nil, err
	}

	results := make([]float64, perplexityTrials)
	ok := make([]bool, perplexityTrials)
	g, gctx := errgroup.WithContext(ctx)
	for trial := 0; trial < perplexityTrials; trial++ {
		trial := trial
		g.Go(func() error {
			p, err := e.perplexityTrial(gctx, lm, dir, trial, sentences)
			if err != nil {
				e.logger.WithError(err).WithField("trial", trial).
					Warn("perplexity trial failed")
				return nil
			}
			results[trial] = p
			ok[trial] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sum, n := 0.0, 0
	for i, p := range results {
		if ok[i] && !math.IsNaN(p) && !math.IsInf(p, 0) {
			sum += p
			n++
		}
	}
	if n == 0 {
		return nil, nil
	}
	avg := sum / float64(n)
	return &avg, nil
}

func (e *Engine) perplexityTrial(ctx context.Context, lm *model.MorphemeLanguageModel, dir string, trial int, sentences [][]string) (float64, error) {
	rng := rand.New(rand.NewSource(int64(lm.ID)*31 + int64(trial)))
	shuffled := make([][]string, len(sentences))
	copy(shuffled, sentences)
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	split := len(shuffled) - int(float64(len(shuffled))*testSetFraction)
	if split <= 0 || split >= len(shuffled) {
		split = len(shuffled) - 1
	}

	trainPath := filepath.Join(dir, fmt.Sprintf("perplexity_train_%d.txt", trial))
	testPath := filepath.Join(dir, fmt.Sprintf("perplexity_test_%d.txt", trial))
	arpaPath := filepath.Join(dir, fmt.Sprintf("perplexity_lm_%d.arpa", trial))
	defer func() {
		os.Remove(trainPath)
		os.Remove(testPath)
		os.Remove(arpaPath)
	}()

	if err := writeSentences(trainPath, shuffled[:split]); err != nil {
		return 0, err
	}
	if err := writeSentences(testPath, shuffled[split:]); err != nil {
		return 0, err
	}
	if err := e.mitlm.Estimate(ctx, toolkit.EstimateParams{
		Order:      lm.Order,
		CorpusPath: trainPath,
		Smoothing:  lm.Smoothing,
		ARPAPath:   arpaPath,
	}); err != nil {
		return 0, err
	}
	out, err := e.mitlm.EvaluatePerplexity(ctx, arpaPath, testPath, lm.Order)
	if err != nil {
		return 0, err
	}
	return parsePerplexity(out)
}

// parsePerplexity pulls the perplexity figure out of evaluate-ngram output.
func parsePerplexity(out string) (float64, error) {
	match := perplexityRe.FindStringSubmatch(out)
	if match == nil {
		return 0, fmt.Errorf("no perplexity in toolkit output")
	}
	p, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0, fmt.Errorf("malformed perplexity %q: %w", match[1], err)
	}
	return p, nil
}

// PerplexityJob wraps ComputePerplexity for the background queue.
func (e *Engine) PerplexityJob(lm *model.MorphemeLanguageModel, delimiters []string) worker.Job {
	attempt := uuid.NewString()
	return worker.Job{
		Name:    fmt.Sprintf("language model %d perplexity", lm.ID),
		Attempt: attempt,
		Run: func(ctx context.Context) error {
			return e.ComputePerplexity(ctx, lm, delimiters, attempt)
		},
	}
}
