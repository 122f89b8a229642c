package model

import "time"

// Compile status messages written by the background workers.
const (
	CompileSucceededMessage = "Compilation process terminated successfully and new binary file was written."
	CompileTimeoutMessage   = "Foma script compilation process timed out."
)

// Phonology is a user-edited foma script mapping underlying transcriptions
// to surface ones, compiled in the background to a binary FST.
type Phonology struct {
	ID               int        `json:"id"`
	UUID             string     `json:"UUID"`
	Name             string     `json:"name"`
	Description      string     `json:"description"`
	Script           string     `json:"script"`
	Enterer          *UserRef   `json:"enterer"`
	Modifier         *UserRef   `json:"modifier"`
	DatetimeEntered  time.Time  `json:"datetime_entered"`
	DatetimeModified time.Time  `json:"datetime_modified"`
	CompileSucceeded bool       `json:"compile_succeeded"`
	CompileMessage   string     `json:"compile_message"`
	CompileAttempt   string     `json:"compile_attempt"`
	DatetimeCompiled *time.Time `json:"datetime_compiled"`
}

// Morphology script flavours.
const (
	ScriptTypeRegex = "regex"
	ScriptTypeLexc  = "lexc"
)

// Morphology is a structural description of a language's morphotactics,
// derived from corpora of rules and lexical items into a foma script.
type Morphology struct {
	ID          int    `json:"id"`
	UUID        string `json:"UUID"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ScriptType  string `json:"script_type"`

	// Rules is an explicit whitespace-separated list of category sequences
	// like "V-Agr N-Num"; RulesCorpus supplies them implicitly instead.
	Rules         string      `json:"rules"`
	RulesCorpus   *Corpus     `json:"rules_corpus"`
	LexiconCorpus *Corpus     `json:"lexicon_corpus"`

	RichUpper                       bool `json:"rich_upper"`
	RichLower                       bool `json:"rich_lower"`
	IncludeUnknowns                 bool `json:"include_unknowns"`
	ExtractMorphemesFromRulesCorpus bool `json:"extract_morphemes_from_rules_corpus"`

	// RareDelimiter is stored per-morphology so a parser can verify
	// component compatibility.
	RareDelimiter string `json:"rare_delimiter"`

	Enterer          *UserRef  `json:"enterer"`
	Modifier         *UserRef  `json:"modifier"`
	DatetimeEntered  time.Time `json:"datetime_entered"`
	DatetimeModified time.Time `json:"datetime_modified"`

	GenerateSucceeded bool       `json:"generate_succeeded"`
	GenerateMessage   string     `json:"generate_message"`
	GenerateAttempt   string     `json:"generate_attempt"`
	CompileSucceeded  bool       `json:"compile_succeeded"`
	CompileMessage    string     `json:"compile_message"`
	CompileAttempt    string     `json:"compile_attempt"`
	DatetimeCompiled  *time.Time `json:"datetime_compiled"`
}

// MorphemeLanguageModel is an n-gram model over morpheme (or category)
// sequences drawn from a training corpus.
type MorphemeLanguageModel struct {
	ID          int    `json:"id"`
	UUID        string `json:"UUID"`
	Name        string `json:"name"`
	Description string `json:"description"`

	Corpus              *Corpus     `json:"corpus"`
	VocabularyMorphology *Morphology `json:"vocabulary_morphology"`

	Toolkit    string `json:"toolkit"`
	Order      int    `json:"order"`
	Smoothing  string `json:"smoothing"`
	Categorial bool   `json:"categorial"`

	// RareDelimiter mirrors the morphology's; the parser compatibility
	// invariant compares the two when the LM is not categorial.
	RareDelimiter string `json:"rare_delimiter"`

	Enterer          *UserRef  `json:"enterer"`
	Modifier         *UserRef  `json:"modifier"`
	DatetimeEntered  time.Time `json:"datetime_entered"`
	DatetimeModified time.Time `json:"datetime_modified"`

	GenerateSucceeded bool     `json:"generate_succeeded"`
	GenerateMessage   string   `json:"generate_message"`
	GenerateAttempt   string   `json:"generate_attempt"`
	Perplexity        *float64 `json:"perplexity"`
	PerplexityAttempt string   `json:"perplexity_attempt"`
	PerplexityComputed bool    `json:"perplexity_computed"`
}

// MorphologicalParser composes a phonology, a morphology and a language
// model into a morphophonological parser of surface word forms.
type MorphologicalParser struct {
	ID          int    `json:"id"`
	UUID        string `json:"UUID"`
	Name        string `json:"name"`
	Description string `json:"description"`

	Phonology     *Phonology             `json:"phonology"`
	Morphology    *Morphology            `json:"morphology"`
	LanguageModel *MorphemeLanguageModel `json:"language_model"`

	Enterer          *UserRef  `json:"enterer"`
	Modifier         *UserRef  `json:"modifier"`
	DatetimeEntered  time.Time `json:"datetime_entered"`
	DatetimeModified time.Time `json:"datetime_modified"`

	GenerateSucceeded bool       `json:"generate_succeeded"`
	GenerateMessage   string     `json:"generate_message"`
	GenerateAttempt   string     `json:"generate_attempt"`
	CompileSucceeded  bool       `json:"compile_succeeded"`
	CompileMessage    string     `json:"compile_message"`
	CompileAttempt    string     `json:"compile_attempt"`
	DatetimeCompiled  *time.Time `json:"datetime_compiled"`
}

// CheckComponentCompatibility rejects component pairings that cannot
// score candidates coherently: a non-categorial LM must share the
// morphology's rare delimiter or candidate scoring would tokenize on
// the wrong boundary.
func (p *MorphologicalParser) CheckComponentCompatibility() error {
	if p.Morphology == nil || p.LanguageModel == nil {
		return nil
	}
	if p.LanguageModel.Categorial {
		return nil
	}
	if p.LanguageModel.RareDelimiter != p.Morphology.RareDelimiter {
		return NewValidationError("language_model",
			"The rare delimiter of the language model must match that of the morphology")
	}
	return nil
}
