// Package morphology derives foma scripts describing a language's
// morphotactics from corpora of analyzed forms, compiles them, and applies
// the resulting FSTs.
package morphology

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/unicode/norm"

	"github.com/dativebase/old/pkg/layout"
	"github.com/dativebase/old/pkg/model"
	"github.com/dativebase/old/pkg/storage"
	"github.com/dativebase/old/pkg/toolkit"
	"github.com/dativebase/old/pkg/worker"
)

// RegexName is the network a generated morphology script defines.
const RegexName = "morphology"

// UnknownClass is the lexc class admitting unknown morphemes when the
// morphology is built with include_unknowns.
const UnknownClass = "Unknown"

// Engine generates, compiles and applies morphologies.
type Engine struct {
	store  *storage.Store
	layout *layout.Layout
	foma   *toolkit.Foma
	logger *logrus.Logger
}

// NewEngine creates a morphology engine.
func NewEngine(store *storage.Store, l *layout.Layout, foma *toolkit.Foma, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Engine{store: store, layout: l, foma: foma, logger: logger}
}

// LexicalEntry is one morpheme admitted by a category class.
type LexicalEntry struct {
	Shape string
	Gloss string
}

// Lexicon maps category names to their morphemes.
type Lexicon map[string][]LexicalEntry

// Rules returns the morphology's category-sequence inventory: the explicit
// rules string when set, otherwise the distinct word category sequences of
// the rules corpus. Sequences containing an unknown category are skipped.
func (e *Engine) Rules(ctx context.Context, m *model.Morphology, delimiters []string) ([]string, error) {
	if strings.TrimSpace(m.Rules) != "" {
		return dedupe(strings.Fields(m.Rules)), nil
	}
	if m.RulesCorpus == nil {
		return nil, model.NewValidationError("rules",
			"A morphology requires either explicit rules or a rules corpus")
	}
	forms, err := e.corpusForms(ctx, m.RulesCorpus)
	if err != nil {
		return nil, err
	}
	var rules []string
	for i := range forms {
		bgc := forms[i].BreakGlossCategory
		if bgc == "" {
			continue
		}
		for _, word := range strings.Fields(bgc) {
			seq := (&model.Form{BreakGlossCategory: word}).CategorySequence(delimiters)
			if seq == "" || strings.Contains(seq, storage.UnknownCategory) {
				continue
			}
			rules = append(rules, seq)
		}
	}
	return dedupe(rules), nil
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	var out []string
	for _, item := range items {
		if !seen[item] {
			seen[item] = true
			out = append(out, item)
		}
	}
	return out
}

// BuildLexicon collects the morphemes admitted by each category: the
// monomorphemic forms of the lexicon corpus, plus, when configured, the
// aligned morphemes of the rules corpus's analyzed words.
func (e *Engine) BuildLexicon(ctx context.Context, m *model.Morphology, delimiters []string) (Lexicon, error) {
	lexicon := make(Lexicon)
	seen := make(map[string]bool)

	add := func(category string, entry LexicalEntry) {
		if category == "" || category == storage.UnknownCategory || entry.Shape == "" {
			return
		}
		key := category + "\x00" + entry.Shape + "\x00" + entry.Gloss
		if seen[key] {
			return
		}
		seen[key] = true
		lexicon[category] = append(lexicon[category], entry)
	}

	if m.LexiconCorpus != nil {
		forms, err := e.corpusForms(ctx, m.LexiconCorpus)
		if err != nil {
			return nil, err
		}
		for i := range forms {
			f := &forms[i]
			if f.SyntacticCategory == nil || strings.TrimSpace(f.MorphemeBreak) == "" {
				continue
			}
			// Only monomorphemic entries belong to the lexicon proper.
			if len(model.SplitMorphemes(f.MorphemeBreak, delimiters)) != 1 ||
				len(strings.Fields(f.MorphemeBreak)) != 1 {
				continue
			}
			add(f.SyntacticCategory.Name, LexicalEntry{
				Shape: norm.NFD.String(f.MorphemeBreak),
				Gloss: f.MorphemeGloss,
			})
		}
	}

	if m.ExtractMorphemesFromRulesCorpus && m.RulesCorpus != nil {
		forms, err := e.corpusForms(ctx, m.RulesCorpus)
		if err != nil {
			return nil, err
		}
		for i := range forms {
			for _, morpheme := range parseBreakGlossCategory(forms[i].BreakGlossCategory, delimiters) {
				add(morpheme.Category, LexicalEntry{Shape: norm.NFD.String(morpheme.Shape),
					Gloss: morpheme.Gloss})
			}
		}
	}

	if len(lexicon) == 0 {
		return nil, model.NewValidationError("lexicon_corpus",
			"No lexical items could be extracted for this morphology")
	}
	return lexicon, nil
}

type analyzedMorpheme struct {
	Shape    string
	Gloss    string
	Category string
}

// parseBreakGlossCategory splits an interleaved break_gloss_category string
// ("chien|dog|N-s|PL|Num mange|eat|V") into its analyzed morphemes.
func parseBreakGlossCategory(bgc string, delimiters []string) []analyzedMorpheme {
	var out []analyzedMorpheme
	for _, word := range strings.Fields(bgc) {
		for _, part := range model.SplitMorphemes(word, delimiters) {
			fields := strings.Split(part, "|")
			if len(fields) != 3 {
				continue
			}
			out = append(out, analyzedMorpheme{Shape: fields[0], Gloss: fields[1],
				Category: fields[2]})
		}
	}
	return out
}

func (e *Engine) corpusForms(ctx context.Context, c *model.Corpus) ([]model.Form, error) {
	ids := c.FormIDs
	if len(ids) == 0 {
		fetched, err := e.store.CorpusFormIDs(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		ids = fetched
	}
	return e.store.FormsByIDs(ctx, ids, true)
}

// upperSide renders a morpheme's upper-side representation: rich
// (shape⦀gloss⦀category) or plain shape.
func upperSide(m *model.Morphology, category string, entry LexicalEntry) string {
	if m.RichUpper {
		return entry.Shape + m.RareDelimiter + entry.Gloss + m.RareDelimiter + category
	}
	return entry.Shape
}

func lowerSide(m *model.Morphology, category string, entry LexicalEntry) string {
	if m.RichLower {
		return entry.Shape + m.RareDelimiter + entry.Gloss + m.RareDelimiter + category
	}
	return entry.Shape
}

// GenerateScript renders the morphology's foma script from its rules and
// lexicon, in the configured flavour.
func GenerateScript(m *model.Morphology, rules []string, lexicon Lexicon, delimiters []string) string {
	if m.ScriptType == model.ScriptTypeLexc {
		return generateLexc(m, rules, lexicon, delimiters)
	}
	return generateRegex(m, rules, lexicon, delimiters)
}

// generateRegex renders one define per category and a final morphology
// regex that unions the rule concatenations.
func generateRegex(m *model.Morphology, rules []string, lexicon Lexicon, delimiters []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", m.Name)
	b.WriteString("# Generated morphotactic network.\n\n")

	categories := sortedCategories(lexicon)
	defined := make(map[string]bool)
	for _, category := range categories {
		entries := lexicon[category]
		alts := make([]string, 0, len(entries))
		for _, entry := range entries {
			upper := quote(upperSide(m, category, entry))
			lower := quote(lowerSide(m, category, entry))
			if upper == lower {
				alts = append(alts, upper)
			} else {
				alts = append(alts, fmt.Sprintf("%s:%s", upper, lower))
			}
		}
		fmt.Fprintf(&b, "define %s [%s];\n", sanitize(category), strings.Join(alts, " | "))
		defined[category] = true
	}
	if m.IncludeUnknowns {
		fmt.Fprintf(&b, "define %s ?+;\n", UnknownClass)
		defined[UnknownClass] = true
	}

	var ruleTerms []string
	for _, rule := range rules {
		parts := model.SplitMorphemesKeep(rule, delimiters)
		var term []string
		ok := true
		for _, part := range parts {
			if isDelimiter(part, delimiters) {
				term = append(term, quote(part))
				continue
			}
			if !defined[part] {
				if !m.IncludeUnknowns {
					ok = false
					break
				}
				part = UnknownClass
			}
			term = append(term, sanitize(part))
		}
		if ok && len(term) > 0 {
			ruleTerms = append(ruleTerms, "["+strings.Join(term, " ")+"]")
		}
	}

	fmt.Fprintf(&b, "\ndefine %s %s;\n", RegexName, strings.Join(ruleTerms, " | "))
	return b.String()
}

// generateLexc renders a lexc program: one continuation-class chain per
// rule, one lexicon per category occurrence.
func generateLexc(m *model.Morphology, rules []string, lexicon Lexicon, delimiters []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "!!! %s !!!\n\n", m.Name)

	multichar := multicharSymbols(m, lexicon)
	if len(multichar) > 0 {
		b.WriteString("Multichar_Symbols\n")
		for _, sym := range multichar {
			fmt.Fprintf(&b, "  %s\n", sym)
		}
		b.WriteString("\n")
	}

	type class struct {
		name     string
		category string
		delim    string // set for delimiter classes
		next     string
	}
	var classes []class
	b.WriteString("LEXICON Root\n\n")
	for i, rule := range rules {
		parts := model.SplitMorphemesKeep(rule, delimiters)
		names := make([]string, len(parts))
		for j := range parts {
			names[j] = fmt.Sprintf("R%dC%d", i+1, j+1)
		}
		fmt.Fprintf(&b, "%s ;  ! %s\n", names[0], rule)
		for j, part := range parts {
			next := "#"
			if j+1 < len(parts) {
				next = names[j+1]
			}
			c := class{name: names[j], next: next}
			if isDelimiter(part, delimiters) {
				c.delim = part
			} else {
				c.category = part
			}
			classes = append(classes, c)
		}
	}
	b.WriteString("\n")

	for _, c := range classes {
		fmt.Fprintf(&b, "LEXICON %s\n\n", c.name)
		if c.delim != "" {
			fmt.Fprintf(&b, "%s %s ;\n\n", lexcEscape(c.delim), c.next)
			continue
		}
		entries := lexicon[c.category]
		if len(entries) == 0 && m.IncludeUnknowns {
			fmt.Fprintf(&b, "< ?+ > %s ;\n\n", c.next)
			continue
		}
		for _, entry := range entries {
			upper := lexcEscape(upperSide(m, c.category, entry))
			lower := lexcEscape(lowerSide(m, c.category, entry))
			if upper == lower {
				fmt.Fprintf(&b, "%s %s ;\n", upper, c.next)
			} else {
				fmt.Fprintf(&b, "%s:%s %s ;\n", upper, lower, c.next)
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

// multicharSymbols lists the symbols lexc must treat atomically: the rare
// delimiter plus every rich-representation token.
func multicharSymbols(m *model.Morphology, lexicon Lexicon) []string {
	if !m.RichUpper && !m.RichLower {
		return nil
	}
	set := map[string]bool{m.RareDelimiter: true}
	for category, entries := range lexicon {
		set[category] = len([]rune(category)) > 1
		for _, entry := range entries {
			if len([]rune(entry.Gloss)) > 1 {
				set[entry.Gloss] = true
			}
		}
	}
	var out []string
	for sym, multi := range set {
		if multi && sym != "" {
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out
}

func sortedCategories(lexicon Lexicon) []string {
	out := make([]string, 0, len(lexicon))
	for category := range lexicon {
		out = append(out, category)
	}
	sort.Strings(out)
	return out
}

func isDelimiter(s string, delimiters []string) bool {
	if len(delimiters) == 0 {
		delimiters = model.DefaultMorphemeDelimiters
	}
	for _, d := range delimiters {
		if s == d {
			return true
		}
	}
	return false
}

// quote renders a string literal for a foma regex.
func quote(s string) string {
	return "{" + s + "}"
}

// sanitize turns a category name into a safe foma identifier.
func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('x')
		}
	}
	return "Cat" + b.String()
}

// lexcEscape escapes the characters lexc reserves.
func lexcEscape(s string) string {
	r := strings.NewReplacer(
		"!", "%!", "<", "%<", ">", "%>", ";", "%;", ":", "%:",
		"#", "%#", " ", "%").Replace(s)
	return r
}

// ScriptPath returns where the generated script lives.
func (e *Engine) ScriptPath(m *model.Morphology) string {
	return e.layout.ScriptPath(layout.MorphologyDir, m.ID)
}

// BinaryPath returns where the compiled FST lives.
func (e *Engine) BinaryPath(m *model.Morphology) string {
	return e.layout.BinaryPath(layout.MorphologyDir, m.ID)
}

// Generate derives the script from the corpora and writes it to disk,
// recording the result on the morphology row.
func (e *Engine) Generate(ctx context.Context, m *model.Morphology, delimiters []string, attempt string) error {
	err := e.generate(ctx, m, delimiters)
	message := "Morphology script generated."
	if err != nil {
		message = fmt.Sprintf("Script generation failed: %s", err)
	}
	if storeErr := e.store.SetMorphologyGenerateResult(ctx, m.ID, err == nil, message,
		attempt); storeErr != nil {
		return storeErr
	}
	return err
}

func (e *Engine) generate(ctx context.Context, m *model.Morphology, delimiters []string) error {
	rules, err := e.Rules(ctx, m, delimiters)
	if err != nil {
		return err
	}
	if len(rules) == 0 {
		return model.NewValidationError("rules", "No morphotactic rules could be derived")
	}
	lexicon, err := e.BuildLexicon(ctx, m, delimiters)
	if err != nil {
		return err
	}
	if _, err := e.layout.ResourceDir(layout.MorphologyDir, m.ID); err != nil {
		return err
	}
	script := GenerateScript(m, rules, lexicon, delimiters)
	if err := os.WriteFile(e.ScriptPath(m), []byte(script), 0o644); err != nil {
		return fmt.Errorf("failed to write morphology script: %w", err)
	}
	return e.writeLexicon(m, lexicon)
}

// writeLexicon snapshots the extracted lexicon beside the script so parsers
// can load it without re-walking the corpora.
func (e *Engine) writeLexicon(m *model.Morphology, lexicon Lexicon) error {
	f, err := os.Create(e.layout.LexiconPath(m.ID))
	if err != nil {
		return fmt.Errorf("failed to create morphology lexicon: %w", err)
	}
	defer f.Close()
	if err := gob.NewEncoder(f).Encode(lexicon); err != nil {
		return fmt.Errorf("failed to encode morphology lexicon: %w", err)
	}
	return nil
}

// ReadLexicon loads the lexicon snapshot written at generate time.
func (e *Engine) ReadLexicon(m *model.Morphology) (Lexicon, error) {
	f, err := os.Open(e.layout.LexiconPath(m.ID))
	if err != nil {
		return nil, model.NewValidationError("generate",
			fmt.Sprintf("Morphology %d has no generated lexicon.", m.ID))
	}
	defer f.Close()
	var lexicon Lexicon
	if err := gob.NewDecoder(f).Decode(&lexicon); err != nil {
		return nil, fmt.Errorf("failed to decode morphology lexicon: %w", err)
	}
	return lexicon, nil
}

// Compile compiles the generated script. No timeout: a large lexc lexicon
// legitimately takes a long time, and the queue's single slot keeps the
// backlog bounded anyway.
func (e *Engine) Compile(ctx context.Context, m *model.Morphology, attempt string) error {
	succeeded, message := false, ""
	var compiledAt *time.Time

	err := e.compileScript(ctx, m)
	switch {
	case err == nil:
		succeeded = true
		message = model.CompileSucceededMessage
		now := time.Now().UTC()
		compiledAt = &now
	case errors.Is(err, toolkit.ErrTimeout):
		message = model.CompileTimeoutMessage
	default:
		message = fmt.Sprintf("Compilation process failed: %s", err)
	}
	if storeErr := e.store.SetMorphologyCompileResult(ctx, m.ID, succeeded, message,
		attempt, compiledAt); storeErr != nil {
		return storeErr
	}
	return err
}

func (e *Engine) compileScript(ctx context.Context, m *model.Morphology) error {
	scriptPath := e.ScriptPath(m)
	if _, err := os.Stat(scriptPath); err != nil {
		return model.NewValidationError("generate",
			fmt.Sprintf("Morphology %d has no generated script.", m.ID))
	}
	if m.ScriptType == model.ScriptTypeLexc {
		return e.foma.CompileLexc(ctx, scriptPath, e.BinaryPath(m))
	}
	return e.foma.CompileScript(ctx, scriptPath, RegexName, e.BinaryPath(m), 0)
}

// GenerateAndCompileJob runs generation then compilation on the background
// queue under a single attempt pair.
func (e *Engine) GenerateAndCompileJob(m *model.Morphology, delimiters []string, compile bool) worker.Job {
	attempt := uuid.NewString()
	return worker.Job{
		Name:    fmt.Sprintf("morphology %d generate", m.ID),
		Attempt: attempt,
		Run: func(ctx context.Context) error {
			if err := e.Generate(ctx, m, delimiters, attempt); err != nil {
				return err
			}
			if !compile {
				return nil
			}
			return e.Compile(ctx, m, uuid.NewString())
		},
	}
}

// ApplyUp maps surface words to morpheme analyses.
func (e *Engine) ApplyUp(ctx context.Context, m *model.Morphology, inputs []string) (map[string][]string, error) {
	if _, err := os.Stat(e.BinaryPath(m)); err != nil {
		return nil, model.NewValidationError("compile",
			fmt.Sprintf("Morphology %d has not been compiled yet.", m.ID))
	}
	return e.foma.ApplyUp(ctx, e.BinaryPath(m), normalizeAll(inputs))
}

// ApplyDown maps morpheme sequences to surface words.
func (e *Engine) ApplyDown(ctx context.Context, m *model.Morphology, inputs []string) (map[string][]string, error) {
	if _, err := os.Stat(e.BinaryPath(m)); err != nil {
		return nil, model.NewValidationError("compile",
			fmt.Sprintf("Morphology %d has not been compiled yet.", m.ID))
	}
	return e.foma.ApplyDown(ctx, e.BinaryPath(m), normalizeAll(inputs))
}

func normalizeAll(inputs []string) []string {
	out := make([]string, len(inputs))
	for i, in := range inputs {
		out[i] = norm.NFD.String(in)
	}
	return out
}
