package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dativebase/old/pkg/model"
)

// UnknownCategory marks a morpheme with no matching lexical entry in the
// interleaved break_gloss_category and category-string fields.
const UnknownCategory = "?"

// morphemeMatch is one lexical form matching a morpheme shape or gloss.
type morphemeMatch struct {
	ID       int
	Break    string
	Gloss    string
	Category string
}

// reference is the wire triple stored inside morpheme_break_ids /
// morpheme_gloss_ids: [form id, counterpart string, category name].
type reference [3]interface{}

// ComputeMorphemeReferences fills a form's morpheme_break_ids,
// morpheme_gloss_ids, syntactic_category_string and break_gloss_category
// from the current lexicon: the set of monomorphemic forms whose break or
// gloss matches the form's morphemes exactly.
func (s *Store) ComputeMorphemeReferences(ctx context.Context, f *model.Form, delimiters []string) error {
	breakWords := strings.Fields(f.MorphemeBreak)
	glossWords := strings.Fields(f.MorphemeGloss)

	// Misaligned break and gloss get empty cross-references; validity of the
	// alignment itself is the caller's concern.
	aligned := len(breakWords) == len(glossWords) && len(breakWords) > 0
	if aligned {
		for i := range breakWords {
			b := model.SplitMorphemes(breakWords[i], delimiters)
			g := model.SplitMorphemes(glossWords[i], delimiters)
			if len(b) != len(g) {
				aligned = false
				break
			}
		}
	}
	if !aligned {
		f.MorphemeBreakIDs = "[]"
		f.MorphemeGlossIDs = "[]"
		f.BreakGlossCategory = ""
		f.SyntacticCategoryString = ""
		return nil
	}

	shapes, glosses := collectMorphemes(breakWords, glossWords, delimiters)
	byShape, byGloss, err := s.lexicalMatches(ctx, shapes, glosses)
	if err != nil {
		return err
	}

	var breakIDs, glossIDs [][][]reference
	var bgcWords, catWords []string

	for i := range breakWords {
		bParts := model.SplitMorphemesKeep(breakWords[i], delimiters)
		gParts := model.SplitMorphemesKeep(glossWords[i], delimiters)

		var wordBreakRefs, wordGlossRefs [][]reference
		var bgc, cats strings.Builder
		for j, shape := range bParts {
			gloss := gParts[j]
			if isMorphemeDelimiter(shape, delimiters) {
				bgc.WriteString(shape)
				cats.WriteString(shape)
				continue
			}

			perfect := intersect(byShape[shape], gloss)
			category := UnknownCategory
			if len(perfect) > 0 && perfect[0].Category != "" {
				category = perfect[0].Category
			}

			wordBreakRefs = append(wordBreakRefs, glossRefs(byShape[shape], gloss))
			wordGlossRefs = append(wordGlossRefs, breakRefs(byGloss[gloss], shape))

			bgc.WriteString(shape + "|" + gloss + "|" + category)
			cats.WriteString(category)
		}
		breakIDs = append(breakIDs, wordBreakRefs)
		glossIDs = append(glossIDs, wordGlossRefs)
		bgcWords = append(bgcWords, bgc.String())
		catWords = append(catWords, cats.String())
	}

	rawBreak, err := json.Marshal(breakIDs)
	if err != nil {
		return fmt.Errorf("failed to serialize morpheme break references: %w", err)
	}
	rawGloss, err := json.Marshal(glossIDs)
	if err != nil {
		return fmt.Errorf("failed to serialize morpheme gloss references: %w", err)
	}
	f.MorphemeBreakIDs = string(rawBreak)
	f.MorphemeGlossIDs = string(rawGloss)
	f.BreakGlossCategory = strings.Join(bgcWords, " ")
	f.SyntacticCategoryString = strings.Join(catWords, " ")
	return nil
}

func collectMorphemes(breakWords, glossWords, delimiters []string) (shapes, glosses []string) {
	seenShape := make(map[string]bool)
	seenGloss := make(map[string]bool)
	for i := range breakWords {
		for _, m := range model.SplitMorphemes(breakWords[i], delimiters) {
			if m != "" && !seenShape[m] {
				seenShape[m] = true
				shapes = append(shapes, m)
			}
		}
		for _, g := range model.SplitMorphemes(glossWords[i], delimiters) {
			if g != "" && !seenGloss[g] {
				seenGloss[g] = true
				glosses = append(glosses, g)
			}
		}
	}
	return shapes, glosses
}

func isMorphemeDelimiter(s string, delimiters []string) bool {
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

// intersect keeps the matches whose gloss equals the sought gloss; these are
// the perfect matches that determine the category.
func intersect(matches []morphemeMatch, gloss string) []morphemeMatch {
	var out []morphemeMatch
	for _, m := range matches {
		if m.Gloss == gloss {
			out = append(out, m)
		}
	}
	return out
}

// glossRefs renders the references for one morpheme shape: perfect matches
// when any exist, otherwise every form sharing the shape.
func glossRefs(matches []morphemeMatch, gloss string) []reference {
	pool := intersect(matches, gloss)
	if len(pool) == 0 {
		pool = matches
	}
	refs := make([]reference, 0, len(pool))
	for _, m := range pool {
		refs = append(refs, reference{m.ID, m.Gloss, categoryOrNil(m.Category)})
	}
	return refs
}

func breakRefs(matches []morphemeMatch, shape string) []reference {
	var pool []morphemeMatch
	for _, m := range matches {
		if m.Break == shape {
			pool = append(pool, m)
		}
	}
	if len(pool) == 0 {
		pool = matches
	}
	refs := make([]reference, 0, len(pool))
	for _, m := range pool {
		refs = append(refs, reference{m.ID, m.Break, categoryOrNil(m.Category)})
	}
	return refs
}

func categoryOrNil(category string) interface{} {
	if category == "" {
		return nil
	}
	return category
}

// lexicalMatches queries the monomorphemic forms whose break or gloss is one
// of the sought morphemes, indexed both ways.
func (s *Store) lexicalMatches(ctx context.Context, shapes, glosses []string) (map[string][]morphemeMatch, map[string][]morphemeMatch, error) {
	byShape := make(map[string][]morphemeMatch)
	byGloss := make(map[string][]morphemeMatch)
	if len(shapes) == 0 && len(glosses) == 0 {
		return byShape, byGloss, nil
	}

	args := make([]interface{}, 0, len(shapes)+len(glosses))
	var conds []string
	n := 1
	if len(shapes) > 0 {
		conds = append(conds, fmt.Sprintf("form.morpheme_break IN (%s)", s.phList(n, len(shapes))))
		for _, v := range shapes {
			args = append(args, v)
		}
		n += len(shapes)
	}
	if len(glosses) > 0 {
		conds = append(conds, fmt.Sprintf("form.morpheme_gloss IN (%s)", s.phList(n, len(glosses))))
		for _, v := range glosses {
			args = append(args, v)
		}
	}

	query := fmt.Sprintf(`SELECT form.id, form.morpheme_break, form.morpheme_gloss,
		COALESCE(sc.name, '')
		FROM form LEFT OUTER JOIN syntacticcategory sc ON sc.id = form.syntactic_category_id
		WHERE (%s) ORDER BY form.id`, strings.Join(conds, " OR "))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query lexical matches: %w", err)
	}
	defer rows.Close()

	wantShape := stringSet(shapes)
	wantGloss := stringSet(glosses)
	for rows.Next() {
		var m morphemeMatch
		if err := rows.Scan(&m.ID, &m.Break, &m.Gloss, &m.Category); err != nil {
			return nil, nil, fmt.Errorf("failed to scan lexical match: %w", err)
		}
		if wantShape[m.Break] {
			byShape[m.Break] = append(byShape[m.Break], m)
		}
		if wantGloss[m.Gloss] {
			byGloss[m.Gloss] = append(byGloss[m.Gloss], m)
		}
	}
	return byShape, byGloss, rows.Err()
}

func stringSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, item := range items {
		out[item] = true
	}
	return out
}

// FormIDsContainingMorpheme finds forms whose morpheme_break or
// morpheme_gloss contains the token, the candidate set for cross-reference
// propagation after a lexical form changes.
func (s *Store) FormIDsContainingMorpheme(ctx context.Context, morphemeBreak, morphemeGloss string, excludeID int) ([]int, error) {
	query := fmt.Sprintf(`SELECT id FROM form
		WHERE (morpheme_break LIKE %s OR morpheme_gloss LIKE %s) AND id != %s
		ORDER BY id`, s.ph(1), s.ph(2), s.ph(3))
	return s.queryIDs(ctx, query,
		"%"+morphemeBreak+"%", "%"+morphemeGloss+"%", excludeID)
}

// PersistMorphemeReferences writes only the computed cross-reference fields
// of a form, without touching datetime_modified. Used by the propagation
// job so that rebuilds do not masquerade as user edits.
func (s *Store) PersistMorphemeReferences(ctx context.Context, f *model.Form) error {
	query := fmt.Sprintf(`UPDATE form SET morpheme_break_ids = %s,
		morpheme_gloss_ids = %s, break_gloss_category = %s,
		syntactic_category_string = %s WHERE id = %s`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5))
	if _, err := s.db.ExecContext(ctx, query, f.MorphemeBreakIDs, f.MorphemeGlossIDs,
		f.BreakGlossCategory, f.SyntacticCategoryString, f.ID); err != nil {
		return fmt.Errorf("failed to persist morpheme references for form %d: %w", f.ID, err)
	}
	return nil
}
