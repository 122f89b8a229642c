// Package parser composes a compiled phonology, a morphology and a morpheme
// language model into a morphophonological parser of surface word forms.
package parser

import (
	"archive/zip"
	"context"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/unicode/norm"

	"github.com/dativebase/old/pkg/langmodel"
	"github.com/dativebase/old/pkg/layout"
	"github.com/dativebase/old/pkg/model"
	"github.com/dativebase/old/pkg/morphology"
	"github.com/dativebase/old/pkg/phonology"
	"github.com/dativebase/old/pkg/storage"
	"github.com/dativebase/old/pkg/toolkit"
	"github.com/dativebase/old/pkg/worker"
)

// CompileTimeout bounds morphophonology compilation. Composition can blow
// up combinatorially, so it is far more generous than a phonology's.
const CompileTimeout = 30 * time.Minute

// RegexName is the foma definition the generated script must provide.
const RegexName = "morphophonology"

// persisted is the on-disk parse cache: outcomes valid for one compile
// attempt only.
type persisted struct {
	Attempt string
	Entries map[string]Outcome
}

// Engine generates, compiles and applies morphological parsers.
type Engine struct {
	store      *storage.Store
	layout     *layout.Layout
	foma       *toolkit.Foma
	morphology *morphology.Engine
	langmodel  *langmodel.Engine
	cache      *Cache
	logger     *logrus.Logger

	mu        sync.Mutex
	persisted map[int]*persisted
}

// NewEngine creates a parser engine.
func NewEngine(store *storage.Store, l *layout.Layout, foma *toolkit.Foma,
	morph *morphology.Engine, lm *langmodel.Engine, cache *Cache,
	logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cache == nil {
		cache = NewCache(0, 0, nil, logger)
	}
	return &Engine{
		store:      store,
		layout:     l,
		foma:       foma,
		morphology: morph,
		langmodel:  lm,
		cache:      cache,
		logger:     logger,
		persisted:  make(map[int]*persisted),
	}
}

// ScriptPath is where the generated morphophonology script lives.
func (e *Engine) ScriptPath(p *model.MorphologicalParser) string {
	return e.layout.ScriptPath(layout.ParserDir, p.ID)
}

// BinaryPath is where the compiled morphophonology FST lives.
func (e *Engine) BinaryPath(p *model.MorphologicalParser) string {
	return e.layout.BinaryPath(layout.ParserDir, p.ID)
}

// ApplyUp runs surface words up through the compiled morphophonology.
func (e *Engine) ApplyUp(ctx context.Context, p *model.MorphologicalParser, inputs []string) (map[string][]string, error) {
	if _, err := os.Stat(e.BinaryPath(p)); err != nil {
		return nil, model.NewValidationError("compile",
			fmt.Sprintf("Parser %d has not been compiled yet.", p.ID))
	}
	return e.foma.ApplyUp(ctx, e.BinaryPath(p), normalizeInputs(inputs))
}

// ApplyDown maps morpheme sequences down to surface words.
func (e *Engine) ApplyDown(ctx context.Context, p *model.MorphologicalParser, inputs []string) (map[string][]string, error) {
	if _, err := os.Stat(e.BinaryPath(p)); err != nil {
		return nil, model.NewValidationError("compile",
			fmt.Sprintf("Parser %d has not been compiled yet.", p.ID))
	}
	return e.foma.ApplyDown(ctx, e.BinaryPath(p), normalizeInputs(inputs))
}

func normalizeInputs(inputs []string) []string {
	out := make([]string, len(inputs))
	for i, in := range inputs {
		out[i] = norm.NFD.String(in)
	}
	return out
}

func (e *Engine) cachePath(p *model.MorphologicalParser) string {
	return e.layout.Path(layout.ParserDir, p.ID, layout.ParseCacheFile)
}

// Generate writes the morphophonology script: the phonology's definitions,
// the compiled morphology loaded from its binary, and their composition.
func (e *Engine) Generate(ctx context.Context, p *model.MorphologicalParser, attempt string) error {
	err := e.generate(ctx, p)
	message := "Parser script generated."
	if err != nil {
		message = fmt.Sprintf("Parser generation failed: %s", err)
	}
	if storeErr := e.store.SetParserGenerateResult(ctx, p.ID, err == nil,
		message, attempt); storeErr != nil {
		return storeErr
	}
	return err
}

func (e *Engine) generate(ctx context.Context, p *model.MorphologicalParser) error {
	if err := p.CheckComponentCompatibility(); err != nil {
		return err
	}
	morphologyBinary := e.morphology.BinaryPath(p.Morphology)
	if _, err := os.Stat(morphologyBinary); err != nil {
		return model.NewValidationError("morphology",
			fmt.Sprintf("Morphology %d has not been compiled yet.", p.Morphology.ID))
	}
	if _, err := e.layout.ResourceDir(layout.ParserDir, p.ID); err != nil {
		return err
	}

	var b strings.Builder
	b.WriteString(norm.NFD.String(p.Phonology.Script))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "load stack %s\n", morphologyBinary)
	b.WriteString("define morphology;\n\n")
	fmt.Fprintf(&b, "define %s morphology .o. %s;\n", RegexName, phonology.RegexName)

	if err := os.WriteFile(e.ScriptPath(p), []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write morphophonology script: %w", err)
	}
	return nil
}

// Compile compiles the morphophonology script to a binary FST and records
// the outcome, stamping a fresh compile attempt.
func (e *Engine) Compile(ctx context.Context, p *model.MorphologicalParser, attempt string) error {
	err := e.compile(ctx, p)
	message := model.CompileSucceededMessage
	var compiledAt *time.Time
	switch {
	case err == nil:
		now := time.Now().UTC()
		compiledAt = &now
	case err == toolkit.ErrTimeout:
		message = model.CompileTimeoutMessage
	default:
		message = fmt.Sprintf("Compilation process failed: %s", err)
	}
	if storeErr := e.store.SetParserCompileResult(ctx, p.ID, err == nil,
		message, attempt, compiledAt); storeErr != nil {
		return storeErr
	}
	return err
}

func (e *Engine) compile(ctx context.Context, p *model.MorphologicalParser) error {
	if err := e.foma.Installed(); err != nil {
		return err
	}
	return e.foma.CompileScript(ctx, e.ScriptPath(p), RegexName,
		e.BinaryPath(p), CompileTimeout)
}

// GenerateAndCompileJob queues generation, optionally followed by
// compilation, under a fresh attempt nonce.
func (e *Engine) GenerateAndCompileJob(p *model.MorphologicalParser, compile bool) worker.Job {
	attempt := uuid.NewString()
	return worker.Job{
		Name:    fmt.Sprintf("parser %d generate", p.ID),
		Attempt: attempt,
		Run: func(ctx context.Context) error {
			if err := e.Generate(ctx, p, attempt); err != nil {
				return err
			}
			if !compile {
				return nil
			}
			return e.Compile(ctx, p, attempt)
		},
	}
}

// Parse analyzes transcriptions, returning an outcome per input. Inputs are
// NFD-normalized first; results come from the cache where possible, and
// misses run through the transducer and are ranked by the language model.
func (e *Engine) Parse(ctx context.Context, p *model.MorphologicalParser, delimiters []string, transcriptions []string) (map[string]Outcome, error) {
	binary := e.BinaryPath(p)
	if _, err := os.Stat(binary); err != nil {
		return nil, model.NewValidationError("parse",
			fmt.Sprintf("Parser %d has not been compiled yet.", p.ID))
	}

	results := make(map[string]Outcome, len(transcriptions))
	var misses []string
	for _, raw := range transcriptions {
		in := norm.NFD.String(raw)
		if _, done := results[in]; done {
			continue
		}
		if out, ok := e.cache.Get(ctx, p.ID, p.CompileAttempt, in); ok {
			results[in] = out
			continue
		}
		if out, ok := e.persistedGet(p, in); ok {
			e.cache.Put(ctx, p.ID, p.CompileAttempt, in, out)
			results[in] = out
			continue
		}
		misses = append(misses, in)
	}
	if len(misses) == 0 {
		return results, nil
	}

	analyses, err := e.foma.ApplyUp(ctx, binary, misses)
	if err != nil {
		return nil, err
	}
	for _, in := range misses {
		out := e.rank(p, delimiters, analyses[in])
		results[in] = out
		e.cache.Put(ctx, p.ID, p.CompileAttempt, in, out)
		e.persistedPut(p, in, out)
	}
	if err := e.savePersisted(p); err != nil {
		e.logger.WithError(err).WithField("parser_id", p.ID).
			Warn("failed to persist parse cache")
	}
	return results, nil
}

// rank orders the transducer's candidate analyses by language model score
// and returns the best one as the parse.
func (e *Engine) rank(p *model.MorphologicalParser, delimiters []string, candidates []string) Outcome {
	out := Outcome{Candidates: candidates}
	if len(candidates) == 0 {
		return out
	}
	best, bestScore := candidates[0], 0.0
	scored := false
	for _, c := range candidates {
		tokens := lmTokens(c, p.LanguageModel, p.Morphology.RareDelimiter, delimiters)
		score, err := e.langmodel.Score(p.LanguageModel, tokens)
		if err != nil {
			// No generated model: fall back to the first candidate.
			break
		}
		if !scored || score > bestScore {
			best, bestScore, scored = c, score, true
		}
	}
	out.Parse = best
	return out
}

// lmTokens converts one rich analysis like "chien⦀dog⦀N-s⦀PL⦀Num" into the
// token sequence the language model was trained on.
func lmTokens(candidate string, lm *model.MorphemeLanguageModel, rareDelimiter string, delimiters []string) []string {
	var tokens []string
	for _, part := range model.SplitMorphemes(candidate, delimiters) {
		fields := strings.Split(part, rareDelimiter)
		switch {
		case lm.Categorial && len(fields) >= 3:
			tokens = append(tokens, fields[2])
		case !lm.Categorial && len(fields) >= 2:
			tokens = append(tokens, fields[0]+lm.RareDelimiter+fields[1])
		default:
			tokens = append(tokens, part)
		}
	}
	return tokens
}

func (e *Engine) persistedGet(p *model.MorphologicalParser, transcription string) (Outcome, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pc := e.loadPersistedLocked(p)
	if pc.Attempt != p.CompileAttempt {
		return Outcome{}, false
	}
	out, ok := pc.Entries[transcription]
	return out, ok
}

func (e *Engine) persistedPut(p *model.MorphologicalParser, transcription string, out Outcome) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pc := e.loadPersistedLocked(p)
	if pc.Attempt != p.CompileAttempt {
		pc.Attempt = p.CompileAttempt
		pc.Entries = make(map[string]Outcome)
	}
	pc.Entries[transcription] = out
}

// loadPersistedLocked returns the in-memory persisted cache for the parser,
// reading cache.gob on first use. Callers hold e.mu.
func (e *Engine) loadPersistedLocked(p *model.MorphologicalParser) *persisted {
	if pc, ok := e.persisted[p.ID]; ok {
		return pc
	}
	pc := &persisted{Attempt: p.CompileAttempt, Entries: make(map[string]Outcome)}
	if f, err := os.Open(e.cachePath(p)); err == nil {
		var loaded persisted
		if err := gob.NewDecoder(f).Decode(&loaded); err == nil && loaded.Entries != nil {
			pc = &loaded
		}
		f.Close()
	}
	e.persisted[p.ID] = pc
	return pc
}

func (e *Engine) savePersisted(p *model.MorphologicalParser) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	pc, ok := e.persisted[p.ID]
	if !ok {
		return nil
	}
	f, err := os.Create(e.cachePath(p))
	if err != nil {
		return err
	}
	defer f.Close()
	return gob.NewEncoder(f).Encode(pc)
}

// Export writes a self-contained zip of the parser's artifacts: the
// morphophonology script and binary, the language model files and the
// persisted parse cache.
func (e *Engine) Export(p *model.MorphologicalParser, w io.Writer) error {
	if _, err := os.Stat(e.BinaryPath(p)); err != nil {
		return model.NewValidationError("export",
			fmt.Sprintf("Parser %d has not been compiled yet.", p.ID))
	}
	zw := zip.NewWriter(w)
	files := []string{
		e.ScriptPath(p),
		e.BinaryPath(p),
		e.cachePath(p),
		e.langmodel.ARPAPath(p.LanguageModel),
		e.layout.Path(layout.LMDir, p.LanguageModel.ID, layout.TrieFile),
	}
	for _, path := range files {
		if err := addZipFile(zw, path); err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize parser export: %w", err)
	}
	return nil
}

// addZipFile adds one file under its base name, skipping absent optional
// artifacts like an unpersisted cache.
func addZipFile(zw *zip.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open %s for export: %w", path, err)
	}
	defer f.Close()
	entry, err := zw.Create(filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(entry, f)
	return err
}

// WatchBinaries purges the local parse cache whenever a compiled parser
// binary changes on disk, so processes sharing a filestore never serve
// outcomes from a stale transducer. Blocks until ctx is done.
func (e *Engine) WatchBinaries(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create parser watcher: %w", err)
	}
	defer watcher.Close()

	root := e.layout.FamilyDir(layout.ParserDir)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	if err := watcher.Add(root); err != nil {
		return fmt.Errorf("failed to watch %s: %w", root, err)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			if err := watcher.Add(filepath.Join(root, entry.Name())); err != nil {
				e.logger.WithError(err).Warn("failed to watch parser directory")
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := watcher.Add(event.Name); err != nil {
						e.logger.WithError(err).Warn("failed to watch parser directory")
					}
					continue
				}
			}
			if !strings.HasSuffix(filepath.Base(event.Name), layout.BinarySuffix) {
				continue
			}
			if event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) {
				e.logger.WithField("path", event.Name).
					Info("parser binary changed, purging parse cache")
				e.cache.Purge()
				e.mu.Lock()
				e.persisted = make(map[int]*persisted)
				e.mu.Unlock()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			e.logger.WithError(err).Warn("parser watcher error")
		}
	}
}
