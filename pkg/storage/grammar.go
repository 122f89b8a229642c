package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dativebase/old/pkg/model"
)

// --- phonologies ---

// CreatePhonology persists a new phonology with fresh attempt state.
func (s *Store) CreatePhonology(ctx context.Context, p *model.Phonology) error {
	if p.UUID == "" {
		p.UUID = uuid.NewString()
	}
	if p.CompileAttempt == "" {
		p.CompileAttempt = uuid.NewString()
	}
	now := s.now()
	p.DatetimeEntered = now
	p.DatetimeModified = now
	query := fmt.Sprintf(`INSERT INTO phonology
		(uuid, name, description, script, enterer_id, modifier_id, datetime_entered,
		 datetime_modified, compile_succeeded, compile_message, compile_attempt,
		 datetime_compiled) VALUES (%s)`, s.phList(1, 12))
	res, err := s.db.ExecContext(ctx, query, p.UUID, p.Name, p.Description, p.Script,
		userID(p.Enterer), userID(p.Modifier), p.DatetimeEntered, p.DatetimeModified,
		p.CompileSucceeded, p.CompileMessage, p.CompileAttempt,
		nullableTime(p.DatetimeCompiled))
	if err != nil {
		return fmt.Errorf("failed to create phonology: %w", err)
	}
	id, err := s.insertedID(ctx, res, "phonology")
	if err != nil {
		return err
	}
	p.ID = id
	return nil
}

// GetPhonology fetches a phonology by id.
func (s *Store) GetPhonology(ctx context.Context, id int) (*model.Phonology, error) {
	var p model.Phonology
	var enterer, modifier sql.NullInt64
	var compiled sql.NullTime
	query := fmt.Sprintf(`SELECT id, uuid, name, description, script, enterer_id,
		modifier_id, datetime_entered, datetime_modified, compile_succeeded,
		compile_message, compile_attempt, datetime_compiled
		FROM phonology WHERE id = %s`, s.ph(1))
	err := s.db.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.UUID, &p.Name,
		&p.Description, &p.Script, &enterer, &modifier, &p.DatetimeEntered,
		&p.DatetimeModified, &p.CompileSucceeded, &p.CompileMessage,
		&p.CompileAttempt, &compiled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &model.NotFoundError{Kind: "phonology", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch phonology %d: %w", id, err)
	}
	p.Enterer = userStub(enterer)
	p.Modifier = userStub(modifier)
	if compiled.Valid {
		t := compiled.Time
		p.DatetimeCompiled = &t
	}
	return &p, nil
}

// UpdatePhonology backs up the current state, rejects vacuous updates and
// applies the change. Compile state is the workers' alone; an accepted edit
// leaves it untouched until the next compile finishes.
func (s *Store) UpdatePhonology(ctx context.Context, p *model.Phonology) error {
	current, err := s.GetPhonology(ctx, p.ID)
	if err != nil {
		return err
	}
	if current.Name == p.Name && current.Description == p.Description &&
		current.Script == p.Script {
		return model.ErrVacuousUpdate
	}
	if err := s.writeBackup(ctx, model.KindPhonology, current.ID, current.UUID,
		current.DatetimeModified, current); err != nil {
		return err
	}
	p.UUID = current.UUID
	p.DatetimeModified = s.now()
	query := fmt.Sprintf(`UPDATE phonology SET name = %s, description = %s, script = %s,
		modifier_id = %s, datetime_modified = %s WHERE id = %s`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6))
	if _, err := s.db.ExecContext(ctx, query, p.Name, p.Description, p.Script,
		userID(p.Modifier), p.DatetimeModified, p.ID); err != nil {
		return fmt.Errorf("failed to update phonology %d: %w", p.ID, err)
	}
	return nil
}

// DeletePhonology backs up the pre-delete state and removes the phonology.
func (s *Store) DeletePhonology(ctx context.Context, id int) (*model.Phonology, error) {
	current, err := s.GetPhonology(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.writeBackup(ctx, model.KindPhonology, current.ID, current.UUID,
		current.DatetimeModified, current); err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM phonology WHERE id = %s", s.ph(1)), id); err != nil {
		return nil, fmt.Errorf("failed to delete phonology %d: %w", id, err)
	}
	return current, nil
}

// attemptColumns whitelists the nonce columns the request path may reset
// before a job is enqueued.
var attemptColumns = map[string]map[string]bool{
	"phonology":             {"compile_attempt": true},
	"morphology":            {"generate_attempt": true, "compile_attempt": true},
	"morphemelanguagemodel": {"generate_attempt": true, "perplexity_attempt": true},
	"morphologicalparser":   {"generate_attempt": true, "compile_attempt": true},
}

// SetAttempt writes a fresh attempt nonce to one resource row. The request
// path calls this before enqueuing so pollers observe the nonce change as
// soon as the job is accepted.
func (s *Store) SetAttempt(ctx context.Context, table, column string, id int, attempt string) error {
	if !attemptColumns[table][column] {
		return fmt.Errorf("no attempt column %s.%s", table, column)
	}
	query := fmt.Sprintf("UPDATE %s SET %s = %s WHERE id = %s",
		table, column, s.ph(1), s.ph(2))
	if _, err := s.db.ExecContext(ctx, query, attempt, id); err != nil {
		return fmt.Errorf("failed to set %s attempt: %w", table, err)
	}
	return nil
}

// SetPhonologyCompileResult records a finished compile. The fresh attempt
// nonce is what pollers watch for.
func (s *Store) SetPhonologyCompileResult(ctx context.Context, id int, succeeded bool, message, attempt string, compiledAt *time.Time) error {
	query := fmt.Sprintf(`UPDATE phonology SET compile_succeeded = %s,
		compile_message = %s, compile_attempt = %s, datetime_compiled = %s,
		datetime_modified = %s WHERE id = %s`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6))
	if _, err := s.db.ExecContext(ctx, query, succeeded, message, attempt,
		nullableTime(compiledAt), s.now(), id); err != nil {
		return fmt.Errorf("failed to record phonology compile result: %w", err)
	}
	return nil
}

// ListPhonologies pages through phonologies ordered by id.
func (s *Store) ListPhonologies(ctx context.Context, limit, offset int) ([]model.Phonology, int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM phonology").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count phonologies: %w", err)
	}
	query := "SELECT id FROM phonology ORDER BY id"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	}
	ids, err := s.queryIDs(ctx, query)
	if err != nil {
		return nil, 0, err
	}
	out := make([]model.Phonology, 0, len(ids))
	for _, id := range ids {
		p, err := s.GetPhonology(ctx, id)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *p)
	}
	return out, total, nil
}

// --- morphologies ---

// CreateMorphology persists a new morphology.
func (s *Store) CreateMorphology(ctx context.Context, m *model.Morphology) error {
	if m.UUID == "" {
		m.UUID = uuid.NewString()
	}
	if m.RareDelimiter == "" {
		m.RareDelimiter = model.RareDelimiter
	}
	if m.GenerateAttempt == "" {
		m.GenerateAttempt = uuid.NewString()
	}
	if m.CompileAttempt == "" {
		m.CompileAttempt = uuid.NewString()
	}
	now := s.now()
	m.DatetimeEntered = now
	m.DatetimeModified = now
	query := fmt.Sprintf(`INSERT INTO morphology
		(uuid, name, description, script_type, rules, rules_corpus_id, lexicon_corpus_id,
		 rich_upper, rich_lower, include_unknowns, extract_morphemes_from_rules_corpus,
		 rare_delimiter, enterer_id, modifier_id, datetime_entered, datetime_modified,
		 generate_succeeded, generate_message, generate_attempt, compile_succeeded,
		 compile_message, compile_attempt, datetime_compiled) VALUES (%s)`,
		s.phList(1, 23))
	res, err := s.db.ExecContext(ctx, query, m.UUID, m.Name, m.Description, m.ScriptType,
		m.Rules, corpusID(m.RulesCorpus), corpusID(m.LexiconCorpus),
		m.RichUpper, m.RichLower, m.IncludeUnknowns, m.ExtractMorphemesFromRulesCorpus,
		m.RareDelimiter, userID(m.Enterer), userID(m.Modifier),
		m.DatetimeEntered, m.DatetimeModified,
		m.GenerateSucceeded, m.GenerateMessage, m.GenerateAttempt,
		m.CompileSucceeded, m.CompileMessage, m.CompileAttempt,
		nullableTime(m.DatetimeCompiled))
	if err != nil {
		return fmt.Errorf("failed to create morphology: %w", err)
	}
	id, err := s.insertedID(ctx, res, "morphology")
	if err != nil {
		return err
	}
	m.ID = id
	return nil
}

func corpusID(c *model.Corpus) interface{} {
	if c == nil {
		return nil
	}
	return c.ID
}

// GetMorphology fetches a morphology with its corpus references hydrated to
// id-and-name stubs plus membership ids.
func (s *Store) GetMorphology(ctx context.Context, id int) (*model.Morphology, error) {
	var m model.Morphology
	var rulesCorpus, lexiconCorpus, enterer, modifier sql.NullInt64
	var compiled sql.NullTime
	query := fmt.Sprintf(`SELECT id, uuid, name, description, script_type, rules,
		rules_corpus_id, lexicon_corpus_id, rich_upper, rich_lower, include_unknowns,
		extract_morphemes_from_rules_corpus, rare_delimiter, enterer_id, modifier_id,
		datetime_entered, datetime_modified, generate_succeeded, generate_message,
		generate_attempt, compile_succeeded, compile_message, compile_attempt,
		datetime_compiled
		FROM morphology WHERE id = %s`, s.ph(1))
	err := s.db.QueryRowContext(ctx, query, id).Scan(&m.ID, &m.UUID, &m.Name,
		&m.Description, &m.ScriptType, &m.Rules, &rulesCorpus, &lexiconCorpus,
		&m.RichUpper, &m.RichLower, &m.IncludeUnknowns,
		&m.ExtractMorphemesFromRulesCorpus, &m.RareDelimiter, &enterer, &modifier,
		&m.DatetimeEntered, &m.DatetimeModified, &m.GenerateSucceeded,
		&m.GenerateMessage, &m.GenerateAttempt, &m.CompileSucceeded,
		&m.CompileMessage, &m.CompileAttempt, &compiled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &model.NotFoundError{Kind: "morphology", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch morphology %d: %w", id, err)
	}
	m.Enterer = userStub(enterer)
	m.Modifier = userStub(modifier)
	if compiled.Valid {
		t := compiled.Time
		m.DatetimeCompiled = &t
	}
	if rulesCorpus.Valid {
		c, err := s.GetCorpus(ctx, int(rulesCorpus.Int64))
		if err == nil {
			m.RulesCorpus = c
		}
	}
	if lexiconCorpus.Valid {
		c, err := s.GetCorpus(ctx, int(lexiconCorpus.Int64))
		if err == nil {
			m.LexiconCorpus = c
		}
	}
	return &m, nil
}

// UpdateMorphology backs up the current state, rejects vacuous updates and
// applies the change.
func (s *Store) UpdateMorphology(ctx context.Context, m *model.Morphology) error {
	current, err := s.GetMorphology(ctx, m.ID)
	if err != nil {
		return err
	}
	oldJSON, err := normalizedJSON(morphologyComparable(current))
	if err != nil {
		return err
	}
	newJSON, err := normalizedJSON(morphologyComparable(m))
	if err != nil {
		return err
	}
	if oldJSON == newJSON {
		return model.ErrVacuousUpdate
	}
	if err := s.writeBackup(ctx, model.KindMorphology, current.ID, current.UUID,
		current.DatetimeModified, current); err != nil {
		return err
	}
	m.UUID = current.UUID
	m.DatetimeModified = s.now()
	query := fmt.Sprintf(`UPDATE morphology SET name = %s, description = %s,
		script_type = %s, rules = %s, rules_corpus_id = %s, lexicon_corpus_id = %s,
		rich_upper = %s, rich_lower = %s, include_unknowns = %s,
		extract_morphemes_from_rules_corpus = %s, modifier_id = %s,
		datetime_modified = %s WHERE id = %s`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7), s.ph(8),
		s.ph(9), s.ph(10), s.ph(11), s.ph(12), s.ph(13))
	if _, err := s.db.ExecContext(ctx, query, m.Name, m.Description, m.ScriptType,
		m.Rules, corpusID(m.RulesCorpus), corpusID(m.LexiconCorpus),
		m.RichUpper, m.RichLower, m.IncludeUnknowns, m.ExtractMorphemesFromRulesCorpus,
		userID(m.Modifier), m.DatetimeModified, m.ID); err != nil {
		return fmt.Errorf("failed to update morphology %d: %w", m.ID, err)
	}
	return nil
}

func morphologyComparable(m *model.Morphology) map[string]interface{} {
	var rules, lexicon int
	if m.RulesCorpus != nil {
		rules = m.RulesCorpus.ID
	}
	if m.LexiconCorpus != nil {
		lexicon = m.LexiconCorpus.ID
	}
	return map[string]interface{}{
		"name": m.Name, "description": m.Description, "script_type": m.ScriptType,
		"rules": m.Rules, "rules_corpus": rules, "lexicon_corpus": lexicon,
		"rich_upper": m.RichUpper, "rich_lower": m.RichLower,
		"include_unknowns": m.IncludeUnknowns,
		"extract_morphemes_from_rules_corpus": m.ExtractMorphemesFromRulesCorpus,
	}
}

// DeleteMorphology backs up the pre-delete state and removes the morphology.
func (s *Store) DeleteMorphology(ctx context.Context, id int) (*model.Morphology, error) {
	current, err := s.GetMorphology(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.writeBackup(ctx, model.KindMorphology, current.ID, current.UUID,
		current.DatetimeModified, current); err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM morphology WHERE id = %s", s.ph(1)), id); err != nil {
		return nil, fmt.Errorf("failed to delete morphology %d: %w", id, err)
	}
	return current, nil
}

// SetMorphologyGenerateResult records a finished script generation.
func (s *Store) SetMorphologyGenerateResult(ctx context.Context, id int, succeeded bool, message, attempt string) error {
	query := fmt.Sprintf(`UPDATE morphology SET generate_succeeded = %s,
		generate_message = %s, generate_attempt = %s, datetime_modified = %s
		WHERE id = %s`, s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5))
	if _, err := s.db.ExecContext(ctx, query, succeeded, message, attempt, s.now(), id); err != nil {
		return fmt.Errorf("failed to record morphology generate result: %w", err)
	}
	return nil
}

// SetMorphologyCompileResult records a finished compile.
func (s *Store) SetMorphologyCompileResult(ctx context.Context, id int, succeeded bool, message, attempt string, compiledAt *time.Time) error {
	query := fmt.Sprintf(`UPDATE morphology SET compile_succeeded = %s,
		compile_message = %s, compile_attempt = %s, datetime_compiled = %s,
		datetime_modified = %s WHERE id = %s`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6))
	if _, err := s.db.ExecContext(ctx, query, succeeded, message, attempt,
		nullableTime(compiledAt), s.now(), id); err != nil {
		return fmt.Errorf("failed to record morphology compile result: %w", err)
	}
	return nil
}

// ListMorphologies pages through morphologies ordered by id.
func (s *Store) ListMorphologies(ctx context.Context, limit, offset int) ([]model.Morphology, int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM morphology").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count morphologies: %w", err)
	}
	query := "SELECT id FROM morphology ORDER BY id"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	}
	ids, err := s.queryIDs(ctx, query)
	if err != nil {
		return nil, 0, err
	}
	out := make([]model.Morphology, 0, len(ids))
	for _, id := range ids {
		m, err := s.GetMorphology(ctx, id)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *m)
	}
	return out, total, nil
}

// --- morpheme language models ---

// CreateLanguageModel persists a new morpheme language model.
func (s *Store) CreateLanguageModel(ctx context.Context, lm *model.MorphemeLanguageModel) error {
	if lm.UUID == "" {
		lm.UUID = uuid.NewString()
	}
	if lm.RareDelimiter == "" {
		lm.RareDelimiter = model.RareDelimiter
	}
	if lm.GenerateAttempt == "" {
		lm.GenerateAttempt = uuid.NewString()
	}
	if lm.PerplexityAttempt == "" {
		lm.PerplexityAttempt = uuid.NewString()
	}
	if lm.Corpus == nil {
		return model.NewValidationError("corpus", "A language model requires a corpus")
	}
	now := s.now()
	lm.DatetimeEntered = now
	lm.DatetimeModified = now
	query := fmt.Sprintf(`INSERT INTO morphemelanguagemodel
		(uuid, name, description, corpus_id, vocabulary_morphology_id, toolkit,
		 ngram_order, smoothing, categorial, rare_delimiter, enterer_id, modifier_id,
		 datetime_entered, datetime_modified, generate_succeeded, generate_message,
		 generate_attempt, perplexity, perplexity_attempt, perplexity_computed)
		VALUES (%s)`, s.phList(1, 20))
	res, err := s.db.ExecContext(ctx, query, lm.UUID, lm.Name, lm.Description,
		lm.Corpus.ID, morphologyID(lm.VocabularyMorphology), lm.Toolkit, lm.Order,
		lm.Smoothing, lm.Categorial, lm.RareDelimiter, userID(lm.Enterer),
		userID(lm.Modifier), lm.DatetimeEntered, lm.DatetimeModified,
		lm.GenerateSucceeded, lm.GenerateMessage, lm.GenerateAttempt,
		nullableFloat(lm.Perplexity), lm.PerplexityAttempt, lm.PerplexityComputed)
	if err != nil {
		return fmt.Errorf("failed to create language model: %w", err)
	}
	id, err := s.insertedID(ctx, res, "morphemelanguagemodel")
	if err != nil {
		return err
	}
	lm.ID = id
	return nil
}

func morphologyID(m *model.Morphology) interface{} {
	if m == nil {
		return nil
	}
	return m.ID
}

// GetLanguageModel fetches a language model with its corpus and vocabulary
// morphology references hydrated.
func (s *Store) GetLanguageModel(ctx context.Context, id int) (*model.MorphemeLanguageModel, error) {
	var lm model.MorphemeLanguageModel
	var corpus, vocab, enterer, modifier sql.NullInt64
	var perplexity sql.NullFloat64
	query := fmt.Sprintf(`SELECT id, uuid, name, description, corpus_id,
		vocabulary_morphology_id, toolkit, ngram_order, smoothing, categorial,
		rare_delimiter, enterer_id, modifier_id, datetime_entered, datetime_modified,
		generate_succeeded, generate_message, generate_attempt, perplexity,
		perplexity_attempt, perplexity_computed
		FROM morphemelanguagemodel WHERE id = %s`, s.ph(1))
	err := s.db.QueryRowContext(ctx, query, id).Scan(&lm.ID, &lm.UUID, &lm.Name,
		&lm.Description, &corpus, &vocab, &lm.Toolkit, &lm.Order, &lm.Smoothing,
		&lm.Categorial, &lm.RareDelimiter, &enterer, &modifier, &lm.DatetimeEntered,
		&lm.DatetimeModified, &lm.GenerateSucceeded, &lm.GenerateMessage,
		&lm.GenerateAttempt, &perplexity, &lm.PerplexityAttempt, &lm.PerplexityComputed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &model.NotFoundError{Kind: "language model", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch language model %d: %w", id, err)
	}
	lm.Enterer = userStub(enterer)
	lm.Modifier = userStub(modifier)
	if perplexity.Valid {
		v := perplexity.Float64
		lm.Perplexity = &v
	}
	if corpus.Valid {
		c, err := s.GetCorpus(ctx, int(corpus.Int64))
		if err == nil {
			lm.Corpus = c
		}
	}
	if vocab.Valid {
		m, err := s.GetMorphology(ctx, int(vocab.Int64))
		if err == nil {
			lm.VocabularyMorphology = m
		}
	}
	return &lm, nil
}

// UpdateLanguageModel backs up the current state, rejects vacuous updates
// and applies the change.
func (s *Store) UpdateLanguageModel(ctx context.Context, lm *model.MorphemeLanguageModel) error {
	current, err := s.GetLanguageModel(ctx, lm.ID)
	if err != nil {
		return err
	}
	oldJSON, err := normalizedJSON(languageModelComparable(current))
	if err != nil {
		return err
	}
	newJSON, err := normalizedJSON(languageModelComparable(lm))
	if err != nil {
		return err
	}
	if oldJSON == newJSON {
		return model.ErrVacuousUpdate
	}
	if err := s.writeBackup(ctx, model.KindMorphemeLanguageModel, current.ID,
		current.UUID, current.DatetimeModified, current); err != nil {
		return err
	}
	lm.UUID = current.UUID
	lm.DatetimeModified = s.now()
	query := fmt.Sprintf(`UPDATE morphemelanguagemodel SET name = %s, description = %s,
		corpus_id = %s, vocabulary_morphology_id = %s, toolkit = %s, ngram_order = %s,
		smoothing = %s, categorial = %s, modifier_id = %s, datetime_modified = %s
		WHERE id = %s`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7), s.ph(8),
		s.ph(9), s.ph(10), s.ph(11))
	if _, err := s.db.ExecContext(ctx, query, lm.Name, lm.Description,
		corpusID(lm.Corpus), morphologyID(lm.VocabularyMorphology), lm.Toolkit,
		lm.Order, lm.Smoothing, lm.Categorial, userID(lm.Modifier),
		lm.DatetimeModified, lm.ID); err != nil {
		return fmt.Errorf("failed to update language model %d: %w", lm.ID, err)
	}
	return nil
}

func languageModelComparable(lm *model.MorphemeLanguageModel) map[string]interface{} {
	var corpus, vocab int
	if lm.Corpus != nil {
		corpus = lm.Corpus.ID
	}
	if lm.VocabularyMorphology != nil {
		vocab = lm.VocabularyMorphology.ID
	}
	return map[string]interface{}{
		"name": lm.Name, "description": lm.Description, "corpus": corpus,
		"vocabulary_morphology": vocab, "toolkit": lm.Toolkit, "order": lm.Order,
		"smoothing": lm.Smoothing, "categorial": lm.Categorial,
	}
}

// DeleteLanguageModel backs up the pre-delete state and removes the model.
func (s *Store) DeleteLanguageModel(ctx context.Context, id int) (*model.MorphemeLanguageModel, error) {
	current, err := s.GetLanguageModel(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.writeBackup(ctx, model.KindMorphemeLanguageModel, current.ID,
		current.UUID, current.DatetimeModified, current); err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM morphemelanguagemodel WHERE id = %s", s.ph(1)), id); err != nil {
		return nil, fmt.Errorf("failed to delete language model %d: %w", id, err)
	}
	return current, nil
}

// SetLanguageModelGenerateResult records a finished estimate run.
func (s *Store) SetLanguageModelGenerateResult(ctx context.Context, id int, succeeded bool, message, attempt string) error {
	query := fmt.Sprintf(`UPDATE morphemelanguagemodel SET generate_succeeded = %s,
		generate_message = %s, generate_attempt = %s, datetime_modified = %s
		WHERE id = %s`, s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5))
	if _, err := s.db.ExecContext(ctx, query, succeeded, message, attempt, s.now(), id); err != nil {
		return fmt.Errorf("failed to record language model generate result: %w", err)
	}
	return nil
}

// SetLanguageModelPerplexity records a finished perplexity computation; a
// nil value means every trial failed.
func (s *Store) SetLanguageModelPerplexity(ctx context.Context, id int, perplexity *float64, attempt string) error {
	query := fmt.Sprintf(`UPDATE morphemelanguagemodel SET perplexity = %s,
		perplexity_attempt = %s, perplexity_computed = %s, datetime_modified = %s
		WHERE id = %s`, s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5))
	if _, err := s.db.ExecContext(ctx, query, nullableFloat(perplexity), attempt,
		perplexity != nil, s.now(), id); err != nil {
		return fmt.Errorf("failed to record perplexity: %w", err)
	}
	return nil
}

// ListLanguageModels pages through language models ordered by id.
func (s *Store) ListLanguageModels(ctx context.Context, limit, offset int) ([]model.MorphemeLanguageModel, int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM morphemelanguagemodel").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count language models: %w", err)
	}
	query := "SELECT id FROM morphemelanguagemodel ORDER BY id"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	}
	ids, err := s.queryIDs(ctx, query)
	if err != nil {
		return nil, 0, err
	}
	out := make([]model.MorphemeLanguageModel, 0, len(ids))
	for _, id := range ids {
		lm, err := s.GetLanguageModel(ctx, id)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *lm)
	}
	return out, total, nil
}

// --- morphological parsers ---

// CreateParser persists a new morphological parser after verifying the
// component compatibility invariant.
func (s *Store) CreateParser(ctx context.Context, p *model.MorphologicalParser) error {
	if err := p.CheckComponentCompatibility(); err != nil {
		return err
	}
	if p.Phonology == nil || p.Morphology == nil || p.LanguageModel == nil {
		return model.NewValidationError("components",
			"A parser requires a phonology, a morphology and a language model")
	}
	if p.UUID == "" {
		p.UUID = uuid.NewString()
	}
	if p.GenerateAttempt == "" {
		p.GenerateAttempt = uuid.NewString()
	}
	if p.CompileAttempt == "" {
		p.CompileAttempt = uuid.NewString()
	}
	now := s.now()
	p.DatetimeEntered = now
	p.DatetimeModified = now
	query := fmt.Sprintf(`INSERT INTO morphologicalparser
		(uuid, name, description, phonology_id, morphology_id, language_model_id,
		 enterer_id, modifier_id, datetime_entered, datetime_modified,
		 generate_succeeded, generate_message, generate_attempt, compile_succeeded,
		 compile_message, compile_attempt, datetime_compiled) VALUES (%s)`,
		s.phList(1, 17))
	res, err := s.db.ExecContext(ctx, query, p.UUID, p.Name, p.Description,
		p.Phonology.ID, p.Morphology.ID, p.LanguageModel.ID,
		userID(p.Enterer), userID(p.Modifier), p.DatetimeEntered, p.DatetimeModified,
		p.GenerateSucceeded, p.GenerateMessage, p.GenerateAttempt,
		p.CompileSucceeded, p.CompileMessage, p.CompileAttempt,
		nullableTime(p.DatetimeCompiled))
	if err != nil {
		return fmt.Errorf("failed to create parser: %w", err)
	}
	id, err := s.insertedID(ctx, res, "morphologicalparser")
	if err != nil {
		return err
	}
	p.ID = id
	return nil
}

// GetParser fetches a parser with its components hydrated.
func (s *Store) GetParser(ctx context.Context, id int) (*model.MorphologicalParser, error) {
	var p model.MorphologicalParser
	var phonology, morphology, languageModel, enterer, modifier sql.NullInt64
	var compiled sql.NullTime
	query := fmt.Sprintf(`SELECT id, uuid, name, description, phonology_id,
		morphology_id, language_model_id, enterer_id, modifier_id, datetime_entered,
		datetime_modified, generate_succeeded, generate_message, generate_attempt,
		compile_succeeded, compile_message, compile_attempt, datetime_compiled
		FROM morphologicalparser WHERE id = %s`, s.ph(1))
	err := s.db.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.UUID, &p.Name,
		&p.Description, &phonology, &morphology, &languageModel, &enterer, &modifier,
		&p.DatetimeEntered, &p.DatetimeModified, &p.GenerateSucceeded,
		&p.GenerateMessage, &p.GenerateAttempt, &p.CompileSucceeded,
		&p.CompileMessage, &p.CompileAttempt, &compiled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &model.NotFoundError{Kind: "morphological parser", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch parser %d: %w", id, err)
	}
	p.Enterer = userStub(enterer)
	p.Modifier = userStub(modifier)
	if compiled.Valid {
		t := compiled.Time
		p.DatetimeCompiled = &t
	}
	if phonology.Valid {
		ph, err := s.GetPhonology(ctx, int(phonology.Int64))
		if err == nil {
			p.Phonology = ph
		}
	}
	if morphology.Valid {
		m, err := s.GetMorphology(ctx, int(morphology.Int64))
		if err == nil {
			p.Morphology = m
		}
	}
	if languageModel.Valid {
		lm, err := s.GetLanguageModel(ctx, int(languageModel.Int64))
		if err == nil {
			p.LanguageModel = lm
		}
	}
	return &p, nil
}

// UpdateParser backs up the current state, rejects vacuous updates and
// applies the change, re-verifying component compatibility.
func (s *Store) UpdateParser(ctx context.Context, p *model.MorphologicalParser) error {
	if err := p.CheckComponentCompatibility(); err != nil {
		return err
	}
	current, err := s.GetParser(ctx, p.ID)
	if err != nil {
		return err
	}
	oldJSON, err := normalizedJSON(parserComparable(current))
	if err != nil {
		return err
	}
	newJSON, err := normalizedJSON(parserComparable(p))
	if err != nil {
		return err
	}
	if oldJSON == newJSON {
		return model.ErrVacuousUpdate
	}
	if err := s.writeBackup(ctx, model.KindMorphologicalParser, current.ID,
		current.UUID, current.DatetimeModified, current); err != nil {
		return err
	}
	p.UUID = current.UUID
	p.DatetimeModified = s.now()
	query := fmt.Sprintf(`UPDATE morphologicalparser SET name = %s, description = %s,
		phonology_id = %s, morphology_id = %s, language_model_id = %s,
		modifier_id = %s, datetime_modified = %s WHERE id = %s`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7), s.ph(8))
	if _, err := s.db.ExecContext(ctx, query, p.Name, p.Description,
		p.Phonology.ID, p.Morphology.ID, p.LanguageModel.ID,
		userID(p.Modifier), p.DatetimeModified, p.ID); err != nil {
		return fmt.Errorf("failed to update parser %d: %w", p.ID, err)
	}
	return nil
}

func parserComparable(p *model.MorphologicalParser) map[string]interface{} {
	var phonology, morphology, lm int
	if p.Phonology != nil {
		phonology = p.Phonology.ID
	}
	if p.Morphology != nil {
		morphology = p.Morphology.ID
	}
	if p.LanguageModel != nil {
		lm = p.LanguageModel.ID
	}
	return map[string]interface{}{
		"name": p.Name, "description": p.Description, "phonology": phonology,
		"morphology": morphology, "language_model": lm,
	}
}

// DeleteParser backs up the pre-delete state and removes the parser.
func (s *Store) DeleteParser(ctx context.Context, id int) (*model.MorphologicalParser, error) {
	current, err := s.GetParser(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.writeBackup(ctx, model.KindMorphologicalParser, current.ID,
		current.UUID, current.DatetimeModified, current); err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM morphologicalparser WHERE id = %s", s.ph(1)), id); err != nil {
		return nil, fmt.Errorf("failed to delete parser %d: %w", id, err)
	}
	return current, nil
}

// SetParserGenerateResult records a finished morphophonology generation.
func (s *Store) SetParserGenerateResult(ctx context.Context, id int, succeeded bool, message, attempt string) error {
	query := fmt.Sprintf(`UPDATE morphologicalparser SET generate_succeeded = %s,
		generate_message = %s, generate_attempt = %s, datetime_modified = %s
		WHERE id = %s`, s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5))
	if _, err := s.db.ExecContext(ctx, query, succeeded, message, attempt, s.now(), id); err != nil {
		return fmt.Errorf("failed to record parser generate result: %w", err)
	}
	return nil
}

// SetParserCompileResult records a finished morphophonology compile.
func (s *Store) SetParserCompileResult(ctx context.Context, id int, succeeded bool, message, attempt string, compiledAt *time.Time) error {
	query := fmt.Sprintf(`UPDATE morphologicalparser SET compile_succeeded = %s,
		compile_message = %s, compile_attempt = %s, datetime_compiled = %s,
		datetime_modified = %s WHERE id = %s`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6))
	if _, err := s.db.ExecContext(ctx, query, succeeded, message, attempt,
		nullableTime(compiledAt), s.now(), id); err != nil {
		return fmt.Errorf("failed to record parser compile result: %w", err)
	}
	return nil
}

// ListParsers pages through parsers ordered by id.
func (s *Store) ListParsers(ctx context.Context, limit, offset int) ([]model.MorphologicalParser, int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM morphologicalparser").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count parsers: %w", err)
	}
	query := "SELECT id FROM morphologicalparser ORDER BY id"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	}
	ids, err := s.queryIDs(ctx, query)
	if err != nil {
		return nil, 0, err
	}
	out := make([]model.MorphologicalParser, 0, len(ids))
	for _, id := range ids {
		p, err := s.GetParser(ctx, id)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *p)
	}
	return out, total, nil
}
