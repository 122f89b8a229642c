package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/dativebase/old/pkg/model"
)

// CreateCorpus persists a new corpus with its tags. The caller resolves the
// denormalized forms set first and passes it in FormIDs.
func (s *Store) CreateCorpus(ctx context.Context, c *model.Corpus) error {
	if c.UUID == "" {
		c.UUID = uuid.NewString()
	}
	now := s.now()
	c.DatetimeEntered = now
	c.DatetimeModified = now

	query := fmt.Sprintf(`INSERT INTO corpus
		(uuid, name, description, content, form_search_id, enterer_id, modifier_id,
		 datetime_entered, datetime_modified) VALUES (%s)`, s.phList(1, 9))
	res, err := s.db.ExecContext(ctx, query,
		c.UUID, c.Name, c.Description, c.Content, formSearchID(c.FormSearch),
		userID(c.Enterer), userID(c.Modifier), c.DatetimeEntered, c.DatetimeModified)
	if err != nil {
		return fmt.Errorf("failed to create corpus: %w", err)
	}
	id, err := s.insertedID(ctx, res, "corpus")
	if err != nil {
		return err
	}
	c.ID = id
	return s.writeCorpusRelations(ctx, c)
}

func formSearchID(fs *model.FormSearch) interface{} {
	if fs == nil {
		return nil
	}
	return fs.ID
}

func (s *Store) writeCorpusRelations(ctx context.Context, c *model.Corpus) error {
	if err := s.replaceAssociations(ctx, "corpustag", "corpus_id", "tag_id", c.ID, tagIDs(c.Tags)); err != nil {
		return err
	}
	return s.ReplaceCorpusForms(ctx, c.ID, c.FormIDs)
}

// ReplaceCorpusForms rewrites the denormalized membership of a corpus.
func (s *Store) ReplaceCorpusForms(ctx context.Context, corpusID int, formIDs []int) error {
	return s.replaceAssociations(ctx, "corpusform", "corpus_id", "form_id", corpusID, formIDs)
}

// GetCorpus fetches a corpus with its tags, file records and membership ids.
// The Forms slice is left unhydrated; callers needing entities use
// FormsByIDs with the viewer's visibility.
func (s *Store) GetCorpus(ctx context.Context, id int) (*model.Corpus, error) {
	var c model.Corpus
	var fsID, entererID, modifierID sql.NullInt64
	query := fmt.Sprintf(`SELECT id, uuid, name, description, content, form_search_id,
		enterer_id, modifier_id, datetime_entered, datetime_modified
		FROM corpus WHERE id = %s`, s.ph(1))
	err := s.db.QueryRowContext(ctx, query, id).Scan(&c.ID, &c.UUID, &c.Name,
		&c.Description, &c.Content, &fsID, &entererID, &modifierID,
		&c.DatetimeEntered, &c.DatetimeModified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &model.NotFoundError{Kind: "corpus", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch corpus %d: %w", id, err)
	}
	c.Enterer = userStub(entererID)
	c.Modifier = userStub(modifierID)
	if fsID.Valid {
		fs, err := s.GetFormSearch(ctx, int(fsID.Int64))
		if err != nil {
			var nf *model.NotFoundError
			if !errors.As(err, &nf) {
				return nil, err
			}
		} else {
			c.FormSearch = fs
		}
	}

	if err := s.attachCorpusTags(ctx, &c); err != nil {
		return nil, err
	}
	if err := s.attachCorpusFiles(ctx, &c); err != nil {
		return nil, err
	}
	ids, err := s.CorpusFormIDs(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	c.FormIDs = ids
	return &c, nil
}

// CorpusFormIDs returns the denormalized membership of a corpus, ordered.
func (s *Store) CorpusFormIDs(ctx context.Context, corpusID int) ([]int, error) {
	query := fmt.Sprintf(
		"SELECT form_id FROM corpusform WHERE corpus_id = %s ORDER BY form_id", s.ph(1))
	rows, err := s.db.QueryContext(ctx, query, corpusID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch corpus membership: %w", err)
	}
	defer rows.Close()
	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) attachCorpusTags(ctx context.Context, c *model.Corpus) error {
	query := fmt.Sprintf(`SELECT t.id, t.name, t.description, t.datetime_modified
		FROM corpustag ct JOIN tag t ON t.id = ct.tag_id
		WHERE ct.corpus_id = %s ORDER BY t.id`, s.ph(1))
	rows, err := s.db.QueryContext(ctx, query, c.ID)
	if err != nil {
		return fmt.Errorf("failed to fetch corpus tags: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var t model.Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.DatetimeModified); err != nil {
			return fmt.Errorf("failed to scan corpus tag: %w", err)
		}
		c.Tags = append(c.Tags, t)
	}
	return rows.Err()
}

func (s *Store) attachCorpusFiles(ctx context.Context, c *model.Corpus) error {
	query := fmt.Sprintf(`SELECT id, filename, format, creator_id, modifier_id,
		datetime_created, datetime_modified
		FROM corpusfile WHERE corpus_id = %s ORDER BY id`, s.ph(1))
	rows, err := s.db.QueryContext(ctx, query, c.ID)
	if err != nil {
		return fmt.Errorf("failed to fetch corpus file records: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var cf model.CorpusFile
		var creator, modifier sql.NullInt64
		if err := rows.Scan(&cf.ID, &cf.Filename, &cf.Format, &creator, &modifier,
			&cf.DatetimeCreated, &cf.DatetimeModified); err != nil {
			return fmt.Errorf("failed to scan corpus file record: %w", err)
		}
		cf.Creator = userStub(creator)
		cf.Modifier = userStub(modifier)
		c.Files = append(c.Files, cf)
	}
	return rows.Err()
}

func corpusComparable(c *model.Corpus) map[string]interface{} {
	tags := tagIDs(c.Tags)
	sort.Ints(tags)
	var fsID int
	if c.FormSearch != nil {
		fsID = c.FormSearch.ID
	}
	return map[string]interface{}{
		"name": c.Name, "description": c.Description, "content": c.Content,
		"form_search": fsID, "tag_ids": tags,
	}
}

// UpdateCorpus backs up the current state, rejects vacuous updates, and
// applies the change with the recomputed membership in FormIDs.
func (s *Store) UpdateCorpus(ctx context.Context, c *model.Corpus) error {
	current, err := s.GetCorpus(ctx, c.ID)
	if err != nil {
		return err
	}
	oldJSON, err := normalizedJSON(corpusComparable(current))
	if err != nil {
		return err
	}
	newJSON, err := normalizedJSON(corpusComparable(c))
	if err != nil {
		return err
	}
	if oldJSON == newJSON {
		return model.ErrVacuousUpdate
	}

	if err := s.writeBackup(ctx, model.KindCorpus, current.ID, current.UUID,
		current.DatetimeModified, current); err != nil {
		return err
	}

	c.UUID = current.UUID
	c.DatetimeEntered = current.DatetimeEntered
	c.DatetimeModified = s.now()
	query := fmt.Sprintf(`UPDATE corpus SET name = %s, description = %s, content = %s,
		form_search_id = %s, modifier_id = %s, datetime_modified = %s WHERE id = %s`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7))
	if _, err := s.db.ExecContext(ctx, query, c.Name, c.Description, c.Content,
		formSearchID(c.FormSearch), userID(c.Modifier), c.DatetimeModified, c.ID); err != nil {
		return fmt.Errorf("failed to update corpus %d: %w", c.ID, err)
	}
	return s.writeCorpusRelations(ctx, c)
}

// DeleteCorpus backs up the pre-delete state and removes the corpus and its
// associations. On-disk artifacts are the corpus engine's to remove.
func (s *Store) DeleteCorpus(ctx context.Context, id int) (*model.Corpus, error) {
	current, err := s.GetCorpus(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.writeBackup(ctx, model.KindCorpus, current.ID, current.UUID,
		current.DatetimeModified, current); err != nil {
		return nil, err
	}
	for _, query := range []string{
		fmt.Sprintf("DELETE FROM corpusform WHERE corpus_id = %s", s.ph(1)),
		fmt.Sprintf("DELETE FROM corpustag WHERE corpus_id = %s", s.ph(1)),
		fmt.Sprintf("DELETE FROM corpusfile WHERE corpus_id = %s", s.ph(1)),
		fmt.Sprintf("DELETE FROM corpus WHERE id = %s", s.ph(1)),
	} {
		if _, err := s.db.ExecContext(ctx, query, id); err != nil {
			return nil, fmt.Errorf("failed to delete corpus %d: %w", id, err)
		}
	}
	return current, nil
}

// ListCorpora pages through all corpora ordered by id, without membership
// hydration.
func (s *Store) ListCorpora(ctx context.Context, limit, offset int) ([]model.Corpus, int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM corpus").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count corpora: %w", err)
	}
	query := `SELECT id, uuid, name, description, content, form_search_id,
		enterer_id, modifier_id, datetime_entered, datetime_modified
		FROM corpus ORDER BY id`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list corpora: %w", err)
	}
	defer rows.Close()
	var out []model.Corpus
	for rows.Next() {
		var c model.Corpus
		var fsID, entererID, modifierID sql.NullInt64
		if err := rows.Scan(&c.ID, &c.UUID, &c.Name, &c.Description, &c.Content,
			&fsID, &entererID, &modifierID, &c.DatetimeEntered, &c.DatetimeModified); err != nil {
			return nil, 0, fmt.Errorf("failed to scan corpus: %w", err)
		}
		if fsID.Valid {
			c.FormSearch = &model.FormSearch{ID: int(fsID.Int64)}
		}
		c.Enterer = userStub(entererID)
		c.Modifier = userStub(modifierID)
		out = append(out, c)
	}
	return out, total, rows.Err()
}

// AddCorpusFile records one written artifact for a corpus, replacing any
// prior record of the same format.
func (s *Store) AddCorpusFile(ctx context.Context, corpusID int, cf *model.CorpusFile) error {
	if _, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM corpusfile WHERE corpus_id = %s AND format = %s",
			s.ph(1), s.ph(2)), corpusID, cf.Format); err != nil {
		return fmt.Errorf("failed to replace corpus file record: %w", err)
	}
	now := s.now()
	cf.DatetimeCreated = now
	cf.DatetimeModified = now
	query := fmt.Sprintf(`INSERT INTO corpusfile
		(corpus_id, filename, format, creator_id, modifier_id, datetime_created,
		 datetime_modified) VALUES (%s)`, s.phList(1, 7))
	res, err := s.db.ExecContext(ctx, query, corpusID, cf.Filename, cf.Format,
		userID(cf.Creator), userID(cf.Modifier), cf.DatetimeCreated, cf.DatetimeModified)
	if err != nil {
		return fmt.Errorf("failed to record corpus file: %w", err)
	}
	id, err := s.insertedID(ctx, res, "corpusfile")
	if err != nil {
		return err
	}
	cf.ID = id
	return nil
}

// GetCorpusFile fetches one artifact record of a corpus.
func (s *Store) GetCorpusFile(ctx context.Context, corpusID, fileID int) (*model.CorpusFile, error) {
	var cf model.CorpusFile
	var creator, modifier sql.NullInt64
	query := fmt.Sprintf(`SELECT id, filename, format, creator_id, modifier_id,
		datetime_created, datetime_modified
		FROM corpusfile WHERE corpus_id = %s AND id = %s`, s.ph(1), s.ph(2))
	err := s.db.QueryRowContext(ctx, query, corpusID, fileID).Scan(&cf.ID, &cf.Filename,
		&cf.Format, &creator, &modifier, &cf.DatetimeCreated, &cf.DatetimeModified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &model.NotFoundError{Kind: "corpus file", ID: fileID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch corpus file %d: %w", fileID, err)
	}
	cf.Creator = userStub(creator)
	cf.Modifier = userStub(modifier)
	return &cf, nil
}
