package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dativebase/old/pkg/model"
	"github.com/dativebase/old/pkg/queryc"
)

const formColumns = `form.id, form.uuid, form.transcription, form.phonetic_transcription,
	form.narrow_phonetic_transcription, form.morpheme_break, form.morpheme_gloss,
	form.break_gloss_category, form.grammaticality, form.comments, form.speaker_comments,
	form.syntax, form.semantics, form.status, form.syntactic_category_id,
	form.syntactic_category_string, form.elicitor_id, form.enterer_id, form.verifier_id,
	form.modifier_id, form.date_elicited, form.datetime_entered, form.datetime_modified,
	form.morpheme_break_ids, form.morpheme_gloss_ids`

// CreateForm persists a new form with its translations, tags and files.
func (s *Store) CreateForm(ctx context.Context, f *model.Form) error {
	if f.UUID == "" {
		f.UUID = uuid.NewString()
	}
	now := s.now()
	f.DatetimeEntered = now
	f.DatetimeModified = now

	query := fmt.Sprintf(`INSERT INTO form
		(uuid, transcription, phonetic_transcription, narrow_phonetic_transcription,
		 morpheme_break, morpheme_gloss, break_gloss_category, grammaticality, comments,
		 speaker_comments, syntax, semantics, status, syntactic_category_id,
		 syntactic_category_string, elicitor_id, enterer_id, verifier_id, modifier_id,
		 date_elicited, datetime_entered, datetime_modified, morpheme_break_ids,
		 morpheme_gloss_ids)
		VALUES (%s)`, s.phList(1, 24))

	res, err := s.db.ExecContext(ctx, query, s.formArgs(f)...)
	if err != nil {
		return fmt.Errorf("failed to create form: %w", err)
	}
	id, err := s.insertedID(ctx, res, "form")
	if err != nil {
		return err
	}
	f.ID = id

	if err := s.writeFormRelations(ctx, f); err != nil {
		return err
	}
	return nil
}

func (s *Store) formArgs(f *model.Form) []interface{} {
	return []interface{}{
		f.UUID, f.Transcription, f.PhoneticTranscription, f.NarrowPhoneticTranscription,
		f.MorphemeBreak, f.MorphemeGloss, f.BreakGlossCategory, f.Grammaticality,
		f.Comments, f.SpeakerComments, f.Syntax, f.Semantics, f.Status,
		refID(f.SyntacticCategory), f.SyntacticCategoryString,
		userID(f.Elicitor), userID(f.Enterer), userID(f.Verifier), userID(f.Modifier),
		nullableTime(f.DateElicited), f.DatetimeEntered, f.DatetimeModified,
		f.MorphemeBreakIDs, f.MorphemeGlossIDs,
	}
}

func refID(c *model.SyntacticCategory) interface{} {
	if c == nil {
		return nil
	}
	return c.ID
}

func userID(u *model.UserRef) interface{} {
	if u == nil {
		return nil
	}
	return u.ID
}

// insertedID retrieves the autoincrement id of an insert. lib/pq does not
// support LastInsertId, so postgres reads back the sequence.
func (s *Store) insertedID(ctx context.Context, res sql.Result, table string) (int, error) {
	if s.dialect.Name() == "postgres" {
		var id int
		err := s.db.QueryRowContext(ctx,
			fmt.Sprintf("SELECT currval(pg_get_serial_sequence('%s', 'id'))", table)).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("failed to read inserted id for %s: %w", table, err)
		}
		return id, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read inserted id for %s: %w", table, err)
	}
	return int(id), nil
}

func (s *Store) writeFormRelations(ctx context.Context, f *model.Form) error {
	if err := s.replaceAssociations(ctx, "formtag", "form_id", "tag_id", f.ID, tagIDs(f.Tags)); err != nil {
		return err
	}
	fileIDs := make([]int, len(f.Files))
	for i, file := range f.Files {
		fileIDs[i] = file.ID
	}
	if err := s.replaceAssociations(ctx, "formfile", "form_id", "file_id", f.ID, fileIDs); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM translation WHERE form_id = %s", s.ph(1)), f.ID); err != nil {
		return fmt.Errorf("failed to clear translations: %w", err)
	}
	for i := range f.Translations {
		tr := &f.Translations[i]
		query := fmt.Sprintf(
			"INSERT INTO translation (form_id, transcription, grammaticality, position) VALUES (%s)",
			s.phList(1, 4))
		res, err := s.db.ExecContext(ctx, query, f.ID, tr.Transcription, tr.Grammaticality, i)
		if err != nil {
			return fmt.Errorf("failed to create translation: %w", err)
		}
		if id, err := s.insertedID(ctx, res, "translation"); err == nil {
			tr.ID = id
		}
	}
	return nil
}

func tagIDs(tags []model.Tag) []int {
	ids := make([]int, len(tags))
	for i, t := range tags {
		ids[i] = t.ID
	}
	return ids
}

// replaceAssociations rewrites a many-to-many association for one owner row.
func (s *Store) replaceAssociations(ctx context.Context, table, ownerCol, refCol string, ownerID int, refIDs []int) error {
	if _, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE %s = %s", table, ownerCol, s.ph(1)), ownerID); err != nil {
		return fmt.Errorf("failed to clear %s: %w", table, err)
	}
	seen := make(map[int]bool)
	for _, id := range refIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, err := s.db.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO %s (%s, %s) VALUES (%s, %s)",
				table, ownerCol, refCol, s.ph(1), s.ph(2)), ownerID, id); err != nil {
			return fmt.Errorf("failed to write %s: %w", table, err)
		}
	}
	return nil
}

// GetForm fetches a form with its relations, enforcing restricted
// visibility for the viewing user.
func (s *Store) GetForm(ctx context.Context, id int, unrestricted bool) (*model.Form, error) {
	forms, err := s.FormsByIDs(ctx, []int{id}, true)
	if err != nil {
		return nil, err
	}
	if len(forms) == 0 {
		return nil, &model.NotFoundError{Kind: "form", ID: id}
	}
	f := &forms[0]
	if !unrestricted && f.HasTag(model.RestrictedTagName) {
		return nil, &model.UnauthorizedError{Kind: "form", ID: id}
	}
	return f, nil
}

// FormsByIDs fetches forms by explicit ids, chunked to respect the host's
// bound-parameter cap, with relations attached. Order follows ids when
// preserveOrder is set.
func (s *Store) FormsByIDs(ctx context.Context, ids []int, preserveOrder bool) ([]model.Form, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	byID := make(map[int]*model.Form, len(ids))
	var all []model.Form

	chunk := s.batchSize()
	for start := 0; start < len(ids); start += chunk {
		end := start + chunk
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]
		query := fmt.Sprintf("SELECT %s FROM form WHERE form.id IN (%s)",
			formColumns, s.phList(1, len(batch)))
		rows, err := s.db.QueryContext(ctx, query, intsToArgs(batch)...)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch forms: %w", err)
		}
		batchForms, err := scanForms(rows)
		rows.Close()
		if err != nil {
			return nil, err
		}
		all = append(all, batchForms...)
	}

	for i := range all {
		byID[all[i].ID] = &all[i]
	}
	if err := s.attachFormRelations(ctx, byID); err != nil {
		return nil, err
	}

	if !preserveOrder {
		return all, nil
	}
	ordered := make([]model.Form, 0, len(all))
	for _, id := range ids {
		if f, ok := byID[id]; ok {
			ordered = append(ordered, *f)
		}
	}
	return ordered, nil
}

type formScanRow struct {
	syntacticCategoryID sql.NullInt64
	elicitorID          sql.NullInt64
	entererID           sql.NullInt64
	verifierID          sql.NullInt64
	modifierID          sql.NullInt64
}

func scanForms(rows *sql.Rows) ([]model.Form, error) {
	var forms []model.Form
	for rows.Next() {
		var f model.Form
		var aux formScanRow
		var narrow sql.NullString
		var dateElicited sql.NullTime
		err := rows.Scan(&f.ID, &f.UUID, &f.Transcription, &f.PhoneticTranscription,
			&narrow, &f.MorphemeBreak, &f.MorphemeGloss, &f.BreakGlossCategory,
			&f.Grammaticality, &f.Comments, &f.SpeakerComments, &f.Syntax, &f.Semantics,
			&f.Status, &aux.syntacticCategoryID, &f.SyntacticCategoryString,
			&aux.elicitorID, &aux.entererID, &aux.verifierID, &aux.modifierID,
			&dateElicited, &f.DatetimeEntered, &f.DatetimeModified,
			&f.MorphemeBreakIDs, &f.MorphemeGlossIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to scan form: %w", err)
		}
		f.NarrowPhoneticTranscription = narrow.String
		if dateElicited.Valid {
			t := dateElicited.Time
			f.DateElicited = &t
		}
		if aux.syntacticCategoryID.Valid {
			f.SyntacticCategory = &model.SyntacticCategory{ID: int(aux.syntacticCategoryID.Int64)}
		}
		f.Elicitor = userStub(aux.elicitorID)
		f.Enterer = userStub(aux.entererID)
		f.Verifier = userStub(aux.verifierID)
		f.Modifier = userStub(aux.modifierID)
		forms = append(forms, f)
	}
	return forms, rows.Err()
}

func userStub(id sql.NullInt64) *model.UserRef {
	if !id.Valid {
		return nil
	}
	return &model.UserRef{ID: int(id.Int64)}
}

// attachFormRelations loads tags, files, translations, users and categories
// for the given forms in a bounded number of queries.
func (s *Store) attachFormRelations(ctx context.Context, byID map[int]*model.Form) error {
	if len(byID) == 0 {
		return nil
	}
	ids := make([]int, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	chunk := s.batchSize()
	for start := 0; start < len(ids); start += chunk {
		end := start + chunk
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]
		if err := s.attachFormTags(ctx, byID, batch); err != nil {
			return err
		}
		if err := s.attachFormTranslations(ctx, byID, batch); err != nil {
			return err
		}
		if err := s.attachFormFiles(ctx, byID, batch); err != nil {
			return err
		}
	}

	if err := s.resolveFormUsers(ctx, byID); err != nil {
		return err
	}
	return s.resolveFormCategories(ctx, byID)
}

func (s *Store) attachFormTags(ctx context.Context, byID map[int]*model.Form, batch []int) error {
	query := fmt.Sprintf(`SELECT ft.form_id, t.id, t.name, t.description, t.datetime_modified
		FROM formtag ft JOIN tag t ON t.id = ft.tag_id
		WHERE ft.form_id IN (%s) ORDER BY t.id`, s.phList(1, len(batch)))
	rows, err := s.db.QueryContext(ctx, query, intsToArgs(batch)...)
	if err != nil {
		return fmt.Errorf("failed to fetch form tags: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var formID int
		var t model.Tag
		if err := rows.Scan(&formID, &t.ID, &t.Name, &t.Description, &t.DatetimeModified); err != nil {
			return fmt.Errorf("failed to scan form tag: %w", err)
		}
		if f, ok := byID[formID]; ok {
			f.Tags = append(f.Tags, t)
		}
	}
	return rows.Err()
}

func (s *Store) attachFormTranslations(ctx context.Context, byID map[int]*model.Form, batch []int) error {
	query := fmt.Sprintf(`SELECT form_id, id, transcription, grammaticality
		FROM translation WHERE form_id IN (%s) ORDER BY form_id, position`,
		s.phList(1, len(batch)))
	rows, err := s.db.QueryContext(ctx, query, intsToArgs(batch)...)
	if err != nil {
		return fmt.Errorf("failed to fetch translations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var formID int
		var tr model.Translation
		if err := rows.Scan(&formID, &tr.ID, &tr.Transcription, &tr.Grammaticality); err != nil {
			return fmt.Errorf("failed to scan translation: %w", err)
		}
		if f, ok := byID[formID]; ok {
			f.Translations = append(f.Translations, tr)
		}
	}
	return rows.Err()
}

func (s *Store) attachFormFiles(ctx context.Context, byID map[int]*model.Form, batch []int) error {
	query := fmt.Sprintf(`SELECT ff.form_id, f.id, f.filename, f.mime_type, f.size, f.description,
		f.datetime_entered, f.datetime_modified
		FROM formfile ff JOIN file f ON f.id = ff.file_id
		WHERE ff.form_id IN (%s) ORDER BY f.id`, s.phList(1, len(batch)))
	rows, err := s.db.QueryContext(ctx, query, intsToArgs(batch)...)
	if err != nil {
		return fmt.Errorf("failed to fetch form files: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var formID int
		var file model.File
		if err := rows.Scan(&formID, &file.ID, &file.Filename, &file.MIMEType, &file.Size,
			&file.Description, &file.DatetimeEntered, &file.DatetimeModified); err != nil {
			return fmt.Errorf("failed to scan form file: %w", err)
		}
		if f, ok := byID[formID]; ok {
			f.Files = append(f.Files, file)
		}
	}
	return rows.Err()
}

func (s *Store) resolveFormUsers(ctx context.Context, byID map[int]*model.Form) error {
	wanted := make(map[int]bool)
	for _, f := range byID {
		for _, u := range []*model.UserRef{f.Elicitor, f.Enterer, f.Verifier, f.Modifier} {
			if u != nil {
				wanted[u.ID] = true
			}
		}
	}
	if len(wanted) == 0 {
		return nil
	}
	ids := make([]int, 0, len(wanted))
	for id := range wanted {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	users, err := s.UsersByIDs(ctx, ids)
	if err != nil {
		return err
	}
	for _, f := range byID {
		for _, u := range []*model.UserRef{f.Elicitor, f.Enterer, f.Verifier, f.Modifier} {
			if u == nil {
				continue
			}
			if full, ok := users[u.ID]; ok {
				*u = full
			}
		}
	}
	return nil
}

func (s *Store) resolveFormCategories(ctx context.Context, byID map[int]*model.Form) error {
	wanted := make(map[int]bool)
	for _, f := range byID {
		if f.SyntacticCategory != nil {
			wanted[f.SyntacticCategory.ID] = true
		}
	}
	if len(wanted) == 0 {
		return nil
	}
	ids := make([]int, 0, len(wanted))
	for id := range wanted {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	query := fmt.Sprintf(`SELECT id, name, type, description, datetime_modified
		FROM syntacticcategory WHERE id IN (%s)`, s.phList(1, len(ids)))
	rows, err := s.db.QueryContext(ctx, query, intsToArgs(ids)...)
	if err != nil {
		return fmt.Errorf("failed to fetch syntactic categories: %w", err)
	}
	defer rows.Close()
	cats := make(map[int]model.SyntacticCategory)
	for rows.Next() {
		var c model.SyntacticCategory
		if err := rows.Scan(&c.ID, &c.Name, &c.Type, &c.Description, &c.DatetimeModified); err != nil {
			return fmt.Errorf("failed to scan syntactic category: %w", err)
		}
		cats[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, f := range byID {
		if f.SyntacticCategory != nil {
			if c, ok := cats[f.SyntacticCategory.ID]; ok {
				*f.SyntacticCategory = c
			}
		}
	}
	return nil
}

// comparableForm is the shape used by the field-wise distinct check:
// volatile and computed fields are excluded, sets are order-normalized.
type comparableForm struct {
	Transcription               string
	PhoneticTranscription       string
	NarrowPhoneticTranscription string
	MorphemeBreak               string
	MorphemeGloss               string
	Grammaticality              string
	Comments                    string
	SpeakerComments             string
	Syntax                      string
	Semantics                   string
	Status                      string
	SyntacticCategoryID         int
	ElicitorID                  int
	VerifierID                  int
	DateElicited                *time.Time
	TagIDs                      []int
	FileIDs                     []int
	Translations                []model.Translation
}

func formComparable(f *model.Form) comparableForm {
	c := comparableForm{
		Transcription:               f.Transcription,
		PhoneticTranscription:       f.PhoneticTranscription,
		NarrowPhoneticTranscription: f.NarrowPhoneticTranscription,
		MorphemeBreak:               f.MorphemeBreak,
		MorphemeGloss:               f.MorphemeGloss,
		Grammaticality:              f.Grammaticality,
		Comments:                    f.Comments,
		SpeakerComments:             f.SpeakerComments,
		Syntax:                      f.Syntax,
		Semantics:                   f.Semantics,
		Status:                      f.Status,
		DateElicited:                f.DateElicited,
	}
	if f.SyntacticCategory != nil {
		c.SyntacticCategoryID = f.SyntacticCategory.ID
	}
	if f.Elicitor != nil {
		c.ElicitorID = f.Elicitor.ID
	}
	if f.Verifier != nil {
		c.VerifierID = f.Verifier.ID
	}
	c.TagIDs = tagIDs(f.Tags)
	sort.Ints(c.TagIDs)
	for _, file := range f.Files {
		c.FileIDs = append(c.FileIDs, file.ID)
	}
	sort.Ints(c.FileIDs)
	for _, tr := range f.Translations {
		c.Translations = append(c.Translations, model.Translation{
			Transcription: tr.Transcription, Grammaticality: tr.Grammaticality})
	}
	return c
}

// UpdateForm backs up the current state, rejects vacuous updates, and
// applies the change. The caller is expected to have recomputed the
// morpheme cross-references on the incoming form.
func (s *Store) UpdateForm(ctx context.Context, f *model.Form) error {
	current, err := s.GetForm(ctx, f.ID, true)
	if err != nil {
		return err
	}

	oldJSON, err := normalizedJSON(formComparable(current))
	if err != nil {
		return err
	}
	newJSON, err := normalizedJSON(formComparable(f))
	if err != nil {
		return err
	}
	if oldJSON == newJSON {
		return model.ErrVacuousUpdate
	}

	if err := s.writeBackup(ctx, model.KindForm, current.ID, current.UUID,
		current.DatetimeModified, current); err != nil {
		return err
	}

	f.UUID = current.UUID
	f.DatetimeEntered = current.DatetimeEntered
	f.DatetimeModified = s.now()

	query := fmt.Sprintf(`UPDATE form SET
		transcription = %s, phonetic_transcription = %s, narrow_phonetic_transcription = %s,
		morpheme_break = %s, morpheme_gloss = %s, break_gloss_category = %s,
		grammaticality = %s, comments = %s, speaker_comments = %s, syntax = %s,
		semantics = %s, status = %s, syntactic_category_id = %s,
		syntactic_category_string = %s, elicitor_id = %s, verifier_id = %s,
		modifier_id = %s, date_elicited = %s, datetime_modified = %s,
		morpheme_break_ids = %s, morpheme_gloss_ids = %s
		WHERE id = %s`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7), s.ph(8), s.ph(9),
		s.ph(10), s.ph(11), s.ph(12), s.ph(13), s.ph(14), s.ph(15), s.ph(16), s.ph(17),
		s.ph(18), s.ph(19), s.ph(20), s.ph(21), s.ph(22))
	_, err = s.db.ExecContext(ctx, query,
		f.Transcription, f.PhoneticTranscription, f.NarrowPhoneticTranscription,
		f.MorphemeBreak, f.MorphemeGloss, f.BreakGlossCategory, f.Grammaticality,
		f.Comments, f.SpeakerComments, f.Syntax, f.Semantics, f.Status,
		refID(f.SyntacticCategory), f.SyntacticCategoryString,
		userID(f.Elicitor), userID(f.Verifier), userID(f.Modifier),
		nullableTime(f.DateElicited), f.DatetimeModified,
		f.MorphemeBreakIDs, f.MorphemeGlossIDs, f.ID)
	if err != nil {
		return fmt.Errorf("failed to update form: %w", err)
	}

	return s.writeFormRelations(ctx, f)
}

// DeleteForm backs up the pre-delete state and removes the form with its
// owned relations.
func (s *Store) DeleteForm(ctx context.Context, id int) (*model.Form, error) {
	current, err := s.GetForm(ctx, id, true)
	if err != nil {
		return nil, err
	}
	if err := s.writeBackup(ctx, model.KindForm, current.ID, current.UUID,
		current.DatetimeModified, current); err != nil {
		return nil, err
	}

	for _, stmt := range []struct{ query string }{
		{fmt.Sprintf("DELETE FROM translation WHERE form_id = %s", s.ph(1))},
		{fmt.Sprintf("DELETE FROM formtag WHERE form_id = %s", s.ph(1))},
		{fmt.Sprintf("DELETE FROM formfile WHERE form_id = %s", s.ph(1))},
		{fmt.Sprintf("DELETE FROM corpusform WHERE form_id = %s", s.ph(1))},
		{fmt.Sprintf("DELETE FROM collectionform WHERE form_id = %s", s.ph(1))},
		{fmt.Sprintf("DELETE FROM form WHERE id = %s", s.ph(1))},
	} {
		if _, err := s.db.ExecContext(ctx, stmt.query, id); err != nil {
			return nil, fmt.Errorf("failed to delete form %d: %w", id, err)
		}
	}
	return current, nil
}

// SearchForms executes a compiled query. Restricted forms are filtered out
// in SQL for restricted viewers; limit 0 means no pagination.
func (s *Store) SearchForms(ctx context.Context, compiled *queryc.Compiled, unrestricted bool, limit, offset int) ([]model.Form, int64, error) {
	ids, total, err := s.searchIDs(ctx, "form", "formtag", "form_id", compiled, unrestricted, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	forms, err := s.FormsByIDs(ctx, ids, true)
	return forms, total, err
}

// searchIDs runs the id-projection of a compiled query against a resource
// table, with the restricted-visibility predicate applied in SQL.
func (s *Store) searchIDs(ctx context.Context, table, tagAssoc, tagLocalKey string, compiled *queryc.Compiled, unrestricted bool, limit, offset int) ([]int, int64, error) {
	conds := []string{compiled.Where}
	if clause := restrictionClause(table, tagAssoc, tagLocalKey, unrestricted); clause != "" {
		conds = append(conds, clause)
	}
	where := strings.Join(conds, " AND ")
	joins := strings.Join(compiled.Joins, " ")

	countQuery := fmt.Sprintf("SELECT COUNT(DISTINCT %s.id) FROM %s %s WHERE %s",
		table, table, joins, where)
	var total int64
	if err := s.db.QueryRowContext(ctx, countQuery, compiled.Args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count search results: %w", err)
	}

	query := fmt.Sprintf("SELECT %s.id FROM %s %s WHERE %s GROUP BY %s.id ORDER BY %s",
		table, table, joins, where, table, compiled.OrderBy)
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	}
	rows, err := s.db.QueryContext(ctx, query, compiled.Args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to execute search: %w", err)
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, 0, fmt.Errorf("failed to scan search result: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, total, rows.Err()
}

// ExistingFormIDs filters an id set down to those with live form rows.
func (s *Store) ExistingFormIDs(ctx context.Context, ids []int) ([]int, error) {
	if len(ids) == 0 {
		return ids, nil
	}
	existing := make(map[int]bool)
	chunk := s.batchSize()
	for start := 0; start < len(ids); start += chunk {
		end := start + chunk
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]
		query := fmt.Sprintf("SELECT id FROM form WHERE id IN (%s)",
			s.phList(1, len(batch)))
		rows, err := s.db.QueryContext(ctx, query, intsToArgs(batch)...)
		if err != nil {
			return nil, fmt.Errorf("failed to check form ids: %w", err)
		}
		for rows.Next() {
			var id int
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, err
			}
			existing[id] = true
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	out := make([]int, 0, len(existing))
	for _, id := range ids {
		if existing[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

// VisibleFormIDs filters an id set down to the forms the viewer may see.
func (s *Store) VisibleFormIDs(ctx context.Context, ids []int, unrestricted bool) ([]int, error) {
	if unrestricted || len(ids) == 0 {
		return ids, nil
	}
	visible := make(map[int]bool)
	chunk := s.batchSize()
	for start := 0; start < len(ids); start += chunk {
		end := start + chunk
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]
		query := fmt.Sprintf("SELECT form.id FROM form WHERE form.id IN (%s) AND %s",
			s.phList(1, len(batch)),
			restrictionClause("form", "formtag", "form_id", false))
		rows, err := s.db.QueryContext(ctx, query, intsToArgs(batch)...)
		if err != nil {
			return nil, fmt.Errorf("failed to filter restricted forms: %w", err)
		}
		for rows.Next() {
			var id int
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, err
			}
			visible[id] = true
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	out := make([]int, 0, len(visible))
	for _, id := range ids {
		if visible[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

// ListForms pages through forms ordered by id, with restricted forms
// filtered out for restricted viewers. Limit 0 means no pagination.
func (s *Store) ListForms(ctx context.Context, unrestricted bool, limit, offset int) ([]model.Form, int64, error) {
	where := "1 = 1"
	if clause := restrictionClause("form", "formtag", "form_id", unrestricted); clause != "" {
		where = clause
	}
	var total int64
	if err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM form WHERE %s", where)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count forms: %w", err)
	}
	query := fmt.Sprintf("SELECT id FROM form WHERE %s ORDER BY id", where)
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	}
	ids, err := s.queryIDs(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list forms: %w", err)
	}
	forms, err := s.FormsByIDs(ctx, ids, true)
	if err != nil {
		return nil, 0, err
	}
	return forms, total, nil
}

// AllFormIDs returns every form id, ordered. Used by the morpheme
// cross-reference rebuild job.
func (s *Store) AllFormIDs(ctx context.Context) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM form ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list form ids: %w", err)
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
