package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/dativebase/old/pkg/model"
	"github.com/dativebase/old/pkg/queryc"
)

// --- tags ---

// CreateTag persists a new tag.
func (s *Store) CreateTag(ctx context.Context, t *model.Tag) error {
	t.DatetimeModified = s.now()
	query := fmt.Sprintf(
		"INSERT INTO tag (name, description, datetime_modified) VALUES (%s)",
		s.phList(1, 3))
	res, err := s.db.ExecContext(ctx, query, t.Name, t.Description, t.DatetimeModified)
	if err != nil {
		return fmt.Errorf("failed to create tag: %w", err)
	}
	id, err := s.insertedID(ctx, res, "tag")
	if err != nil {
		return err
	}
	t.ID = id
	return nil
}

// GetTag fetches a tag by id.
func (s *Store) GetTag(ctx context.Context, id int) (*model.Tag, error) {
	var t model.Tag
	query := fmt.Sprintf(
		"SELECT id, name, description, datetime_modified FROM tag WHERE id = %s", s.ph(1))
	err := s.db.QueryRowContext(ctx, query, id).
		Scan(&t.ID, &t.Name, &t.Description, &t.DatetimeModified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &model.NotFoundError{Kind: "tag", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tag %d: %w", id, err)
	}
	return &t, nil
}

// TagByName fetches a tag by its unique name.
func (s *Store) TagByName(ctx context.Context, name string) (*model.Tag, error) {
	var t model.Tag
	query := fmt.Sprintf(
		"SELECT id, name, description, datetime_modified FROM tag WHERE name = %s", s.ph(1))
	err := s.db.QueryRowContext(ctx, query, name).
		Scan(&t.ID, &t.Name, &t.Description, &t.DatetimeModified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tag %q: %w", name, err)
	}
	return &t, nil
}

// UpdateTag rejects vacuous updates and applies the change. Renaming the
// restricted tag is not permitted since visibility filtering keys on it.
func (s *Store) UpdateTag(ctx context.Context, t *model.Tag) error {
	current, err := s.GetTag(ctx, t.ID)
	if err != nil {
		return err
	}
	if current.Name == model.RestrictedTagName && t.Name != model.RestrictedTagName {
		return model.NewValidationError("name", "The restricted tag cannot be renamed")
	}
	if current.Name == t.Name && current.Description == t.Description {
		return model.ErrVacuousUpdate
	}
	t.DatetimeModified = s.now()
	query := fmt.Sprintf(
		"UPDATE tag SET name = %s, description = %s, datetime_modified = %s WHERE id = %s",
		s.ph(1), s.ph(2), s.ph(3), s.ph(4))
	if _, err := s.db.ExecContext(ctx, query, t.Name, t.Description, t.DatetimeModified, t.ID); err != nil {
		return fmt.Errorf("failed to update tag %d: %w", t.ID, err)
	}
	return nil
}

// DeleteTag removes a tag and its associations. The restricted tag cannot
// be deleted.
func (s *Store) DeleteTag(ctx context.Context, id int) (*model.Tag, error) {
	current, err := s.GetTag(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Name == model.RestrictedTagName {
		return nil, model.NewValidationError("name", "The restricted tag cannot be deleted")
	}
	for _, table := range []string{"formtag", "filetag", "corpustag", "collectiontag"} {
		if _, err := s.db.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE tag_id = %s", table, s.ph(1)), id); err != nil {
			return nil, fmt.Errorf("failed to delete tag associations: %w", err)
		}
	}
	if _, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM tag WHERE id = %s", s.ph(1)), id); err != nil {
		return nil, fmt.Errorf("failed to delete tag %d: %w", id, err)
	}
	return current, nil
}

// ListTags pages through all tags ordered by id.
func (s *Store) ListTags(ctx context.Context, limit, offset int) ([]model.Tag, int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tag").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count tags: %w", err)
	}
	query := "SELECT id, name, description, datetime_modified FROM tag ORDER BY id"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list tags: %w", err)
	}
	defer rows.Close()
	var out []model.Tag
	for rows.Next() {
		var t model.Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.DatetimeModified); err != nil {
			return nil, 0, fmt.Errorf("failed to scan tag: %w", err)
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}

// --- users ---

// CreateUser persists a new user.
func (s *Store) CreateUser(ctx context.Context, username string, u *model.UserRef) error {
	query := fmt.Sprintf(
		"INSERT INTO users (username, first_name, last_name, role) VALUES (%s)",
		s.phList(1, 4))
	res, err := s.db.ExecContext(ctx, query, username, u.FirstName, u.LastName, u.Role)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	id, err := s.insertedID(ctx, res, "users")
	if err != nil {
		return err
	}
	u.ID = id
	return nil
}

// GetUser fetches a user by id.
func (s *Store) GetUser(ctx context.Context, id int) (*model.UserRef, error) {
	var u model.UserRef
	query := fmt.Sprintf(
		"SELECT id, first_name, last_name, role FROM users WHERE id = %s", s.ph(1))
	err := s.db.QueryRowContext(ctx, query, id).
		Scan(&u.ID, &u.FirstName, &u.LastName, &u.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &model.NotFoundError{Kind: "user", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user %d: %w", id, err)
	}
	return &u, nil
}

// UserByUsername fetches a user by login name; nil when absent.
func (s *Store) UserByUsername(ctx context.Context, username string) (*model.UserRef, error) {
	var u model.UserRef
	query := fmt.Sprintf(
		"SELECT id, first_name, last_name, role FROM users WHERE username = %s", s.ph(1))
	err := s.db.QueryRowContext(ctx, query, username).
		Scan(&u.ID, &u.FirstName, &u.LastName, &u.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user %q: %w", username, err)
	}
	return &u, nil
}

// UsersByIDs fetches users keyed by id.
func (s *Store) UsersByIDs(ctx context.Context, ids []int) (map[int]model.UserRef, error) {
	out := make(map[int]model.UserRef, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query := fmt.Sprintf(
		"SELECT id, first_name, last_name, role FROM users WHERE id IN (%s)",
		s.phList(1, len(ids)))
	rows, err := s.db.QueryContext(ctx, query, intsToArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch users: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var u model.UserRef
		if err := rows.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Role); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		out[u.ID] = u
	}
	return out, rows.Err()
}

// ListUsers pages through users ordered by id.
func (s *Store) ListUsers(ctx context.Context, limit, offset int) ([]model.UserRef, int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count users: %w", err)
	}
	query := "SELECT id, first_name, last_name, role FROM users ORDER BY id"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()
	var out []model.UserRef
	for rows.Next() {
		var u model.UserRef
		if err := rows.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Role); err != nil {
			return nil, 0, fmt.Errorf("failed to scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, total, rows.Err()
}

// SetUserAPIKey stores the hash of a user's issued API key. The plaintext
// key is never persisted.
func (s *Store) SetUserAPIKey(ctx context.Context, userID int, hash string) error {
	query := fmt.Sprintf(
		"UPDATE users SET api_key_hash = %s WHERE id = %s", s.ph(1), s.ph(2))
	res, err := s.db.ExecContext(ctx, query, hash, userID)
	if err != nil {
		return fmt.Errorf("failed to set API key for user %d: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to set API key for user %d: %w", userID, err)
	}
	if n == 0 {
		return &model.NotFoundError{Kind: "user", ID: userID}
	}
	return nil
}

// UserByAPIKeyHash fetches the user holding the hashed API key; nil when no
// user matches.
func (s *Store) UserByAPIKeyHash(ctx context.Context, hash string) (*model.UserRef, error) {
	if hash == "" {
		return nil, nil
	}
	var u model.UserRef
	query := fmt.Sprintf(
		"SELECT id, first_name, last_name, role FROM users WHERE api_key_hash = %s", s.ph(1))
	err := s.db.QueryRowContext(ctx, query, hash).
		Scan(&u.ID, &u.FirstName, &u.LastName, &u.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user by API key: %w", err)
	}
	return &u, nil
}

// --- syntactic categories ---

// CreateSyntacticCategory persists a new category.
func (s *Store) CreateSyntacticCategory(ctx context.Context, c *model.SyntacticCategory) error {
	c.DatetimeModified = s.now()
	query := fmt.Sprintf(
		"INSERT INTO syntacticcategory (name, type, description, datetime_modified) VALUES (%s)",
		s.phList(1, 4))
	res, err := s.db.ExecContext(ctx, query, c.Name, c.Type, c.Description, c.DatetimeModified)
	if err != nil {
		return fmt.Errorf("failed to create syntactic category: %w", err)
	}
	id, err := s.insertedID(ctx, res, "syntacticcategory")
	if err != nil {
		return err
	}
	c.ID = id
	return nil
}

// GetSyntacticCategory fetches a category by id.
func (s *Store) GetSyntacticCategory(ctx context.Context, id int) (*model.SyntacticCategory, error) {
	var c model.SyntacticCategory
	query := fmt.Sprintf(
		"SELECT id, name, type, description, datetime_modified FROM syntacticcategory WHERE id = %s",
		s.ph(1))
	err := s.db.QueryRowContext(ctx, query, id).
		Scan(&c.ID, &c.Name, &c.Type, &c.Description, &c.DatetimeModified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &model.NotFoundError{Kind: "syntactic category", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch syntactic category %d: %w", id, err)
	}
	return &c, nil
}

// UpdateSyntacticCategory rejects vacuous updates and applies the change.
func (s *Store) UpdateSyntacticCategory(ctx context.Context, c *model.SyntacticCategory) error {
	current, err := s.GetSyntacticCategory(ctx, c.ID)
	if err != nil {
		return err
	}
	if current.Name == c.Name && current.Type == c.Type && current.Description == c.Description {
		return model.ErrVacuousUpdate
	}
	c.DatetimeModified = s.now()
	query := fmt.Sprintf(
		"UPDATE syntacticcategory SET name = %s, type = %s, description = %s, datetime_modified = %s WHERE id = %s",
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5))
	if _, err := s.db.ExecContext(ctx, query,
		c.Name, c.Type, c.Description, c.DatetimeModified, c.ID); err != nil {
		return fmt.Errorf("failed to update syntactic category %d: %w", c.ID, err)
	}
	return nil
}

// DeleteSyntacticCategory removes a category; forms referencing it keep a
// NULL category and their morpheme cross-references are rebuilt by the
// caller.
func (s *Store) DeleteSyntacticCategory(ctx context.Context, id int) (*model.SyntacticCategory, error) {
	current, err := s.GetSyntacticCategory(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE form SET syntactic_category_id = NULL WHERE syntactic_category_id = %s",
			s.ph(1)), id); err != nil {
		return nil, fmt.Errorf("failed to detach forms from category %d: %w", id, err)
	}
	if _, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM syntacticcategory WHERE id = %s", s.ph(1)), id); err != nil {
		return nil, fmt.Errorf("failed to delete syntactic category %d: %w", id, err)
	}
	return current, nil
}

// ListSyntacticCategories pages through all categories ordered by id.
func (s *Store) ListSyntacticCategories(ctx context.Context, limit, offset int) ([]model.SyntacticCategory, int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM syntacticcategory").
		Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count syntactic categories: %w", err)
	}
	query := "SELECT id, name, type, description, datetime_modified FROM syntacticcategory ORDER BY id"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list syntactic categories: %w", err)
	}
	defer rows.Close()
	var out []model.SyntacticCategory
	for rows.Next() {
		var c model.SyntacticCategory
		if err := rows.Scan(&c.ID, &c.Name, &c.Type, &c.Description, &c.DatetimeModified); err != nil {
			return nil, 0, fmt.Errorf("failed to scan syntactic category: %w", err)
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

// --- files ---

const fileColumns = `file.id, file.filename, file.mime_type, file.size, file.description,
	file.parent_file_id, file.start_time, file.end_time, file.enterer_id,
	file.datetime_entered, file.datetime_modified`

// CreateFile persists a new file record with its tags.
func (s *Store) CreateFile(ctx context.Context, f *model.File) error {
	now := s.now()
	f.DatetimeEntered = now
	f.DatetimeModified = now
	query := fmt.Sprintf(`INSERT INTO file
		(filename, mime_type, size, description, parent_file_id, start_time, end_time,
		 enterer_id, datetime_entered, datetime_modified) VALUES (%s)`, s.phList(1, 10))
	res, err := s.db.ExecContext(ctx, query,
		f.Filename, f.MIMEType, f.Size, f.Description, nullableInt(f.ParentFile),
		nullableFloat(f.Start), nullableFloat(f.End), userID(f.Enterer),
		f.DatetimeEntered, f.DatetimeModified)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	id, err := s.insertedID(ctx, res, "file")
	if err != nil {
		return err
	}
	f.ID = id
	return s.replaceAssociations(ctx, "filetag", "file_id", "tag_id", f.ID, tagIDs(f.Tags))
}

// GetFile fetches a file with its tags, enforcing restricted visibility.
func (s *Store) GetFile(ctx context.Context, id int, unrestricted bool) (*model.File, error) {
	query := fmt.Sprintf("SELECT %s FROM file WHERE file.id = %s", fileColumns, s.ph(1))
	row := s.db.QueryRowContext(ctx, query, id)
	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &model.NotFoundError{Kind: "file", ID: id}
	}
	if err != nil {
		return nil, err
	}
	if err := s.attachFileTags(ctx, f); err != nil {
		return nil, err
	}
	if !unrestricted && f.HasTag(model.RestrictedTagName) {
		return nil, &model.UnauthorizedError{Kind: "file", ID: id}
	}
	return f, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFile(row rowScanner) (*model.File, error) {
	var f model.File
	var parent sql.NullInt64
	var start, end sql.NullFloat64
	var enterer sql.NullInt64
	err := row.Scan(&f.ID, &f.Filename, &f.MIMEType, &f.Size, &f.Description,
		&parent, &start, &end, &enterer, &f.DatetimeEntered, &f.DatetimeModified)
	if err != nil {
		return nil, err
	}
	if parent.Valid {
		p := int(parent.Int64)
		f.ParentFile = &p
	}
	if start.Valid {
		v := start.Float64
		f.Start = &v
	}
	if end.Valid {
		v := end.Float64
		f.End = &v
	}
	f.Enterer = userStub(enterer)
	return &f, nil
}

func (s *Store) attachFileTags(ctx context.Context, f *model.File) error {
	query := fmt.Sprintf(`SELECT t.id, t.name, t.description, t.datetime_modified
		FROM filetag ft JOIN tag t ON t.id = ft.tag_id
		WHERE ft.file_id = %s ORDER BY t.id`, s.ph(1))
	rows, err := s.db.QueryContext(ctx, query, f.ID)
	if err != nil {
		return fmt.Errorf("failed to fetch file tags: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var t model.Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.DatetimeModified); err != nil {
			return fmt.Errorf("failed to scan file tag: %w", err)
		}
		f.Tags = append(f.Tags, t)
	}
	return rows.Err()
}

// ListFiles pages through files ordered by id, with restricted files
// filtered out for restricted viewers.
func (s *Store) ListFiles(ctx context.Context, unrestricted bool, limit, offset int) ([]model.File, int64, error) {
	where := "1 = 1"
	if clause := restrictionClause("file", "filetag", "file_id", unrestricted); clause != "" {
		where = clause
	}
	var total int64
	if err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM file WHERE %s", where)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count files: %w", err)
	}
	query := fmt.Sprintf("SELECT %s FROM file WHERE %s ORDER BY file.id", fileColumns, where)
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()
	var out []model.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan file: %w", err)
		}
		out = append(out, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for i := range out {
		if err := s.attachFileTags(ctx, &out[i]); err != nil {
			return nil, 0, err
		}
	}
	return out, total, nil
}

// SearchFiles executes a compiled query against files. Restricted files are
// filtered out in SQL for restricted viewers.
func (s *Store) SearchFiles(ctx context.Context, compiled *queryc.Compiled, unrestricted bool, limit, offset int) ([]model.File, int64, error) {
	ids, total, err := s.searchIDs(ctx, "file", "filetag", "file_id",
		compiled, unrestricted, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	out := make([]model.File, 0, len(ids))
	for _, id := range ids {
		f, err := s.GetFile(ctx, id, true)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *f)
	}
	return out, total, nil
}

// UpdateFile rejects vacuous updates and applies the change.
func (s *Store) UpdateFile(ctx context.Context, f *model.File) error {
	current, err := s.GetFile(ctx, f.ID, true)
	if err != nil {
		return err
	}
	oldJSON, err := normalizedJSON(fileComparable(current))
	if err != nil {
		return err
	}
	newJSON, err := normalizedJSON(fileComparable(f))
	if err != nil {
		return err
	}
	if oldJSON == newJSON {
		return model.ErrVacuousUpdate
	}
	f.DatetimeEntered = current.DatetimeEntered
	f.DatetimeModified = s.now()
	query := fmt.Sprintf(`UPDATE file SET
		filename = %s, mime_type = %s, size = %s, description = %s, parent_file_id = %s,
		start_time = %s, end_time = %s, datetime_modified = %s WHERE id = %s`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7), s.ph(8), s.ph(9))
	if _, err := s.db.ExecContext(ctx, query,
		f.Filename, f.MIMEType, f.Size, f.Description, nullableInt(f.ParentFile),
		nullableFloat(f.Start), nullableFloat(f.End), f.DatetimeModified, f.ID); err != nil {
		return fmt.Errorf("failed to update file %d: %w", f.ID, err)
	}
	return s.replaceAssociations(ctx, "filetag", "file_id", "tag_id", f.ID, tagIDs(f.Tags))
}

func fileComparable(f *model.File) map[string]interface{} {
	ids := tagIDs(f.Tags)
	sort.Ints(ids)
	return map[string]interface{}{
		"filename": f.Filename, "mime_type": f.MIMEType, "size": f.Size,
		"description": f.Description, "parent_file": f.ParentFile,
		"start": f.Start, "end": f.End, "tag_ids": ids,
	}
}

// DeleteFile removes a file record and its associations.
func (s *Store) DeleteFile(ctx context.Context, id int) (*model.File, error) {
	current, err := s.GetFile(ctx, id, true)
	if err != nil {
		return nil, err
	}
	for _, table := range []string{"filetag", "formfile", "collectionfile"} {
		if _, err := s.db.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE file_id = %s", table, s.ph(1)), id); err != nil {
			return nil, fmt.Errorf("failed to delete file associations: %w", err)
		}
	}
	if _, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM file WHERE id = %s", s.ph(1)), id); err != nil {
		return nil, fmt.Errorf("failed to delete file %d: %w", id, err)
	}
	return current, nil
}

// TagFileRestricted adds the restricted tag to a file. Files attached to
// restricted forms inherit restriction this way.
func (s *Store) TagFileRestricted(ctx context.Context, fileID int) error {
	tag, err := s.TagByName(ctx, model.RestrictedTagName)
	if err != nil {
		return err
	}
	if tag == nil {
		tag = &model.Tag{Name: model.RestrictedTagName,
			Description: "Restricted-access resources."}
		if err := s.CreateTag(ctx, tag); err != nil {
			return err
		}
	}
	f, err := s.GetFile(ctx, fileID, true)
	if err != nil {
		return err
	}
	if f.HasTag(model.RestrictedTagName) {
		return nil
	}
	query := fmt.Sprintf("INSERT INTO filetag (file_id, tag_id) VALUES (%s, %s)",
		s.ph(1), s.ph(2))
	if _, err := s.db.ExecContext(ctx, query, fileID, tag.ID); err != nil {
		return fmt.Errorf("failed to restrict file %d: %w", fileID, err)
	}
	return nil
}

// RestrictedFormIDs returns which of the given form ids carry the
// restricted tag.
func (s *Store) RestrictedFormIDs(ctx context.Context, ids []int) ([]int, error) {
	return s.restrictedSubset(ctx, "formtag", "form_id", ids)
}

// RestrictedFileIDs returns which of the given file ids carry the
// restricted tag.
func (s *Store) RestrictedFileIDs(ctx context.Context, ids []int) ([]int, error) {
	return s.restrictedSubset(ctx, "filetag", "file_id", ids)
}

func (s *Store) restrictedSubset(ctx context.Context, assocTable, fkCol string, ids []int) ([]int, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	restricted := make(map[int]bool)
	chunk := s.batchSize()
	for start := 0; start < len(ids); start += chunk {
		end := start + chunk
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]
		query := fmt.Sprintf(`SELECT DISTINCT jt.%s FROM %s jt
			JOIN tag ON tag.id = jt.tag_id
			WHERE tag.name = 'restricted' AND jt.%s IN (%s)`,
			fkCol, assocTable, fkCol, s.phList(1, len(batch)))
		rows, err := s.db.QueryContext(ctx, query, intsToArgs(batch)...)
		if err != nil {
			return nil, fmt.Errorf("failed to find restricted referents: %w", err)
		}
		for rows.Next() {
			var id int
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, err
			}
			restricted[id] = true
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	out := make([]int, 0, len(restricted))
	for _, id := range ids {
		if restricted[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

// --- form searches ---

// CreateFormSearch validates nothing here; callers compile the search first.
func (s *Store) CreateFormSearch(ctx context.Context, fs *model.FormSearch) error {
	fs.DatetimeModified = s.now()
	query := fmt.Sprintf(`INSERT INTO formsearch
		(name, search, description, enterer_id, datetime_modified) VALUES (%s)`,
		s.phList(1, 5))
	res, err := s.db.ExecContext(ctx, query,
		fs.Name, fs.Search, fs.Description, userID(fs.Enterer), fs.DatetimeModified)
	if err != nil {
		return fmt.Errorf("failed to create form search: %w", err)
	}
	id, err := s.insertedID(ctx, res, "formsearch")
	if err != nil {
		return err
	}
	fs.ID = id
	return nil
}

// GetFormSearch fetches a saved search by id.
func (s *Store) GetFormSearch(ctx context.Context, id int) (*model.FormSearch, error) {
	var fs model.FormSearch
	var enterer sql.NullInt64
	query := fmt.Sprintf(`SELECT id, name, search, description, enterer_id, datetime_modified
		FROM formsearch WHERE id = %s`, s.ph(1))
	err := s.db.QueryRowContext(ctx, query, id).
		Scan(&fs.ID, &fs.Name, &fs.Search, &fs.Description, &enterer, &fs.DatetimeModified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &model.NotFoundError{Kind: "form search", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch form search %d: %w", id, err)
	}
	fs.Enterer = userStub(enterer)
	return &fs, nil
}

// UpdateFormSearch rejects vacuous updates and applies the change.
func (s *Store) UpdateFormSearch(ctx context.Context, fs *model.FormSearch) error {
	current, err := s.GetFormSearch(ctx, fs.ID)
	if err != nil {
		return err
	}
	if current.Name == fs.Name && current.Description == fs.Description &&
		sameJSON(current.Search, fs.Search) {
		return model.ErrVacuousUpdate
	}
	fs.DatetimeModified = s.now()
	query := fmt.Sprintf(`UPDATE formsearch SET name = %s, search = %s, description = %s,
		datetime_modified = %s WHERE id = %s`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5))
	if _, err := s.db.ExecContext(ctx, query,
		fs.Name, fs.Search, fs.Description, fs.DatetimeModified, fs.ID); err != nil {
		return fmt.Errorf("failed to update form search %d: %w", fs.ID, err)
	}
	return nil
}

// sameJSON compares two JSON texts structurally, so formatting differences
// do not defeat the vacuous-update check.
func sameJSON(a, b string) bool {
	var va, vb interface{}
	if json.Unmarshal([]byte(a), &va) != nil || json.Unmarshal([]byte(b), &vb) != nil {
		return a == b
	}
	ra, errA := json.Marshal(va)
	rb, errB := json.Marshal(vb)
	return errA == nil && errB == nil && string(ra) == string(rb)
}

// DeleteFormSearch removes a saved search. Corpora referencing it lose the
// reference but keep their denormalized forms.
func (s *Store) DeleteFormSearch(ctx context.Context, id int) (*model.FormSearch, error) {
	current, err := s.GetFormSearch(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE corpus SET form_search_id = NULL WHERE form_search_id = %s",
			s.ph(1)), id); err != nil {
		return nil, fmt.Errorf("failed to detach corpora from form search %d: %w", id, err)
	}
	if _, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM formsearch WHERE id = %s", s.ph(1)), id); err != nil {
		return nil, fmt.Errorf("failed to delete form search %d: %w", id, err)
	}
	return current, nil
}

// ListFormSearches pages through saved searches ordered by id.
func (s *Store) ListFormSearches(ctx context.Context, limit, offset int) ([]model.FormSearch, int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM formsearch").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count form searches: %w", err)
	}
	query := `SELECT id, name, search, description, enterer_id, datetime_modified
		FROM formsearch ORDER BY id`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list form searches: %w", err)
	}
	defer rows.Close()
	var out []model.FormSearch
	for rows.Next() {
		var fs model.FormSearch
		var enterer sql.NullInt64
		if err := rows.Scan(&fs.ID, &fs.Name, &fs.Search, &fs.Description, &enterer,
			&fs.DatetimeModified); err != nil {
			return nil, 0, fmt.Errorf("failed to scan form search: %w", err)
		}
		fs.Enterer = userStub(enterer)
		out = append(out, fs)
	}
	return out, total, rows.Err()
}

// --- application settings ---

// ApplicationSettings returns the most recent settings row, or defaults when
// none has been saved yet.
func (s *Store) ApplicationSettings(ctx context.Context) (*model.ApplicationSettings, error) {
	var as model.ApplicationSettings
	var unrestricted string
	query := `SELECT id, object_language_name, metalanguage_name, morpheme_delimiters,
		unrestricted_users, datetime_modified
		FROM applicationsettings ORDER BY id DESC LIMIT 1`
	err := s.db.QueryRowContext(ctx, query).Scan(&as.ID, &as.ObjectLanguageName,
		&as.MetalanguageName, &as.MorphemeDelimiters, &unrestricted, &as.DatetimeModified)
	if errors.Is(err, sql.ErrNoRows) {
		return &model.ApplicationSettings{MorphemeDelimiters: "-,="}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch application settings: %w", err)
	}
	if unrestricted != "" {
		if err := json.Unmarshal([]byte(unrestricted), &as.UnrestrictedUserIDs); err != nil {
			return nil, fmt.Errorf("corrupt unrestricted user list: %w", err)
		}
	}
	return &as, nil
}

// SaveApplicationSettings appends a new settings row; the most recent row
// is authoritative, older rows form the edit history.
func (s *Store) SaveApplicationSettings(ctx context.Context, as *model.ApplicationSettings) error {
	unrestricted, err := json.Marshal(as.UnrestrictedUserIDs)
	if err != nil {
		return fmt.Errorf("failed to serialize unrestricted user list: %w", err)
	}
	as.DatetimeModified = s.now()
	query := fmt.Sprintf(`INSERT INTO applicationsettings
		(object_language_name, metalanguage_name, morpheme_delimiters,
		 unrestricted_users, datetime_modified) VALUES (%s)`, s.phList(1, 5))
	res, err := s.db.ExecContext(ctx, query, as.ObjectLanguageName, as.MetalanguageName,
		as.MorphemeDelimiters, string(unrestricted), as.DatetimeModified)
	if err != nil {
		return fmt.Errorf("failed to save application settings: %w", err)
	}
	id, err := s.insertedID(ctx, res, "applicationsettings")
	if err != nil {
		return err
	}
	as.ID = id
	return nil
}

func nullableFloat(p *float64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}
