package model

import (
	"strings"
	"time"
	"unicode/utf8"
)

// RareDelimiter separates morpheme form from gloss inside generated lexica.
// U+2980 TRIPLE VERTICAL BAR DELIMITER is chosen for being vanishingly rare
// in fieldwork transcriptions.
const RareDelimiter = "⦀"

// DefaultMorphemeDelimiters is the morpheme delimiter inventory applied when
// the application settings do not override it.
var DefaultMorphemeDelimiters = []string{"-", "="}

// SplitMorphemes splits a morpheme-delimited string into its morphemes,
// dropping the delimiters themselves.
func SplitMorphemes(s string, delimiters []string) []string {
	return splitWithDelimiters(s, delimiters, false)
}

// SplitMorphemesKeep splits like SplitMorphemes but keeps the delimiters as
// their own elements, so break and gloss strings can be re-aligned.
func SplitMorphemesKeep(s string, delimiters []string) []string {
	return splitWithDelimiters(s, delimiters, true)
}

func splitWithDelimiters(s string, delimiters []string, keep bool) []string {
	if len(delimiters) == 0 {
		delimiters = DefaultMorphemeDelimiters
	}
	var out []string
	var cur strings.Builder
	for i := 0; i < len(s); {
		matched := ""
		for _, d := range delimiters {
			if d != "" && strings.HasPrefix(s[i:], d) {
				matched = d
				break
			}
		}
		if matched != "" {
			out = append(out, cur.String())
			cur.Reset()
			if keep {
				out = append(out, matched)
			}
			i += len(matched)
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		cur.WriteRune(r)
		i += size
	}
	out = append(out, cur.String())
	return out
}

// Translation is one translation of a form, ordered within its parent.
type Translation struct {
	ID             int    `json:"id"`
	Transcription  string `json:"transcription"`
	Grammaticality string `json:"grammaticality"`
}

// Form is a glossed utterance, the basic datum of fieldwork.
type Form struct {
	ID                    int    `json:"id"`
	UUID                  string `json:"UUID"`
	Transcription         string `json:"transcription"`
	PhoneticTranscription string `json:"phonetic_transcription"`
	NarrowPhoneticTranscription string `json:"narrow_phonetic_transcription"`
	MorphemeBreak         string `json:"morpheme_break"`
	MorphemeGloss         string `json:"morpheme_gloss"`
	// BreakGlossCategory interleaves break, gloss and category per morpheme,
	// e.g. "chien|chien|N-s|PL|Num".
	BreakGlossCategory string `json:"break_gloss_category"`
	Grammaticality     string `json:"grammaticality"`
	Comments           string `json:"comments"`
	SpeakerComments    string `json:"speaker_comments"`
	Syntax             string `json:"syntax"`
	Semantics          string `json:"semantics"`
	Status             string `json:"status"`

	SyntacticCategory       *SyntacticCategory `json:"syntactic_category"`
	SyntacticCategoryString string             `json:"syntactic_category_string"`

	Translations []Translation `json:"translations"`
	Tags         []Tag         `json:"tags"`
	Files        []File        `json:"files"`

	Elicitor *UserRef `json:"elicitor"`
	Enterer  *UserRef `json:"enterer"`
	Verifier *UserRef `json:"verifier"`
	Modifier *UserRef `json:"modifier"`

	DateElicited     *time.Time `json:"date_elicited"`
	DatetimeEntered  time.Time  `json:"datetime_entered"`
	DatetimeModified time.Time  `json:"datetime_modified"`

	// MorphemeBreakIDs and MorphemeGlossIDs are the nested-list
	// cross-references into the global form inventory, serialized as JSON.
	MorphemeBreakIDs string `json:"morpheme_break_ids"`
	MorphemeGlossIDs string `json:"morpheme_gloss_ids"`
}

// HasTag reports whether the form carries a tag with the given name.
func (f *Form) HasTag(name string) bool {
	for _, t := range f.Tags {
		if t.Name == name {
			return true
		}
	}
	return false
}

// CategorySequence returns the dash-joined category sequence of the form's
// break_gloss_category field, e.g. "N-Num" for "chien|chien|N-s|PL|Num".
func (f *Form) CategorySequence(delimiters []string) string {
	parts := SplitMorphemesKeep(f.BreakGlossCategory, delimiters)
	var b strings.Builder
	for _, p := range parts {
		if isDelimiter(p, delimiters) {
			b.WriteString(p)
			continue
		}
		fields := strings.Split(p, "|")
		b.WriteString(fields[len(fields)-1])
	}
	return b.String()
}

// MorphemeSequence returns the space-joined morpheme shapes of the form's
// morpheme_break, delimiters dropped.
func (f *Form) MorphemeSequence(delimiters []string) []string {
	raw := SplitMorphemes(f.MorphemeBreak, delimiters)
	out := make([]string, 0, len(raw))
	for _, m := range raw {
		m = strings.TrimSpace(m)
		if m != "" {
			out = append(out, strings.Fields(m)...)
		}
	}
	return out
}

func isDelimiter(s string, delimiters []string) bool {
	if len(delimiters) == 0 {
		delimiters = DefaultMorphemeDelimiters
	}
	for _, d := range delimiters {
		if s == d {
			return true
		}
	}
	return false
}
