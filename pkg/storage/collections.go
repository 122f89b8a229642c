package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/dativebase/old/pkg/model"
	"github.com/dativebase/old/pkg/queryc"
)

const collectionColumns = `id, uuid, title, type, url, description, markup_language,
	contents, contents_unpacked, html, elicitor_id, enterer_id, modifier_id,
	datetime_entered, datetime_modified`

// CreateCollection persists a new collection; the caller has already
// expanded contents into ContentsUnpacked/HTML and resolved FormIDs.
func (s *Store) CreateCollection(ctx context.Context, c *model.Collection) error {
	if c.UUID == "" {
		c.UUID = uuid.NewString()
	}
	now := s.now()
	c.DatetimeEntered = now
	c.DatetimeModified = now
	query := fmt.Sprintf(`INSERT INTO collection
		(uuid, title, type, url, description, markup_language, contents,
		 contents_unpacked, html, elicitor_id, enterer_id, modifier_id,
		 datetime_entered, datetime_modified) VALUES (%s)`, s.phList(1, 14))
	res, err := s.db.ExecContext(ctx, query, c.UUID, c.Title, c.Type, c.URL,
		c.Description, c.MarkupLanguage, c.Contents, c.ContentsUnpacked, c.HTML,
		userID(c.Elicitor), userID(c.Enterer), userID(c.Modifier),
		c.DatetimeEntered, c.DatetimeModified)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	id, err := s.insertedID(ctx, res, "collection")
	if err != nil {
		return err
	}
	c.ID = id
	return s.writeCollectionRelations(ctx, c)
}

func (s *Store) writeCollectionRelations(ctx context.Context, c *model.Collection) error {
	if err := s.replaceAssociations(ctx, "collectiontag", "collection_id", "tag_id",
		c.ID, tagIDs(c.Tags)); err != nil {
		return err
	}
	fileIDs := make([]int, len(c.Files))
	for i, f := range c.Files {
		fileIDs[i] = f.ID
	}
	if err := s.replaceAssociations(ctx, "collectionfile", "collection_id", "file_id",
		c.ID, fileIDs); err != nil {
		return err
	}
	return s.replaceAssociations(ctx, "collectionform", "collection_id", "form_id",
		c.ID, c.FormIDs)
}

// GetCollection fetches a collection with tags, files and membership ids,
// enforcing restricted visibility.
func (s *Store) GetCollection(ctx context.Context, id int, unrestricted bool) (*model.Collection, error) {
	query := fmt.Sprintf("SELECT %s FROM collection WHERE id = %s", collectionColumns, s.ph(1))
	c, err := s.scanCollection(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &model.NotFoundError{Kind: "collection", ID: id}
	}
	if err != nil {
		return nil, err
	}
	if err := s.attachCollectionRelations(ctx, c); err != nil {
		return nil, err
	}
	if !unrestricted {
		for _, t := range c.Tags {
			if t.Name == model.RestrictedTagName {
				return nil, &model.UnauthorizedError{Kind: "collection", ID: id}
			}
		}
	}
	return c, nil
}

func (s *Store) scanCollection(row rowScanner) (*model.Collection, error) {
	var c model.Collection
	var elicitor, enterer, modifier sql.NullInt64
	err := row.Scan(&c.ID, &c.UUID, &c.Title, &c.Type, &c.URL, &c.Description,
		&c.MarkupLanguage, &c.Contents, &c.ContentsUnpacked, &c.HTML,
		&elicitor, &enterer, &modifier, &c.DatetimeEntered, &c.DatetimeModified)
	if err != nil {
		return nil, err
	}
	c.Elicitor = userStub(elicitor)
	c.Enterer = userStub(enterer)
	c.Modifier = userStub(modifier)
	return &c, nil
}

func (s *Store) attachCollectionRelations(ctx context.Context, c *model.Collection) error {
	tagQuery := fmt.Sprintf(`SELECT t.id, t.name, t.description, t.datetime_modified
		FROM collectiontag ct JOIN tag t ON t.id = ct.tag_id
		WHERE ct.collection_id = %s ORDER BY t.id`, s.ph(1))
	rows, err := s.db.QueryContext(ctx, tagQuery, c.ID)
	if err != nil {
		return fmt.Errorf("failed to fetch collection tags: %w", err)
	}
	for rows.Next() {
		var t model.Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.DatetimeModified); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan collection tag: %w", err)
		}
		c.Tags = append(c.Tags, t)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	fileQuery := fmt.Sprintf(`SELECT f.id, f.filename, f.mime_type, f.size, f.description,
		f.datetime_entered, f.datetime_modified
		FROM collectionfile cf JOIN file f ON f.id = cf.file_id
		WHERE cf.collection_id = %s ORDER BY f.id`, s.ph(1))
	rows, err = s.db.QueryContext(ctx, fileQuery, c.ID)
	if err != nil {
		return fmt.Errorf("failed to fetch collection files: %w", err)
	}
	for rows.Next() {
		var f model.File
		if err := rows.Scan(&f.ID, &f.Filename, &f.MIMEType, &f.Size, &f.Description,
			&f.DatetimeEntered, &f.DatetimeModified); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan collection file: %w", err)
		}
		c.Files = append(c.Files, f)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	formQuery := fmt.Sprintf(
		"SELECT form_id FROM collectionform WHERE collection_id = %s ORDER BY form_id", s.ph(1))
	rows, err = s.db.QueryContext(ctx, formQuery, c.ID)
	if err != nil {
		return fmt.Errorf("failed to fetch collection membership: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return err
		}
		c.FormIDs = append(c.FormIDs, id)
	}
	return rows.Err()
}

func collectionComparable(c *model.Collection) map[string]interface{} {
	tags := tagIDs(c.Tags)
	sort.Ints(tags)
	var files []int
	for _, f := range c.Files {
		files = append(files, f.ID)
	}
	sort.Ints(files)
	var elicitor int
	if c.Elicitor != nil {
		elicitor = c.Elicitor.ID
	}
	return map[string]interface{}{
		"title": c.Title, "type": c.Type, "url": c.URL, "description": c.Description,
		"markup_language": c.MarkupLanguage, "contents": c.Contents,
		"elicitor": elicitor, "tag_ids": tags, "file_ids": files,
	}
}

// UpdateCollection backs up the current state, rejects vacuous updates and
// applies the change. The membership set follows the re-expanded contents.
func (s *Store) UpdateCollection(ctx context.Context, c *model.Collection) error {
	current, err := s.GetCollection(ctx, c.ID, true)
	if err != nil {
		return err
	}
	oldJSON, err := normalizedJSON(collectionComparable(current))
	if err != nil {
		return err
	}
	newJSON, err := normalizedJSON(collectionComparable(c))
	if err != nil {
		return err
	}
	if oldJSON == newJSON {
		return model.ErrVacuousUpdate
	}
	if err := s.writeBackup(ctx, model.KindCollection, current.ID, current.UUID,
		current.DatetimeModified, current); err != nil {
		return err
	}
	return s.updateCollectionRow(ctx, c, current)
}

// ForceUpdateCollection applies a collection edit without the vacuous-update
// check. Cascaded edits triggered by a referent's deletion use it, since
// only the expansion products change.
func (s *Store) ForceUpdateCollection(ctx context.Context, c *model.Collection) error {
	current, err := s.GetCollection(ctx, c.ID, true)
	if err != nil {
		return err
	}
	if err := s.writeBackup(ctx, model.KindCollection, current.ID, current.UUID,
		current.DatetimeModified, current); err != nil {
		return err
	}
	return s.updateCollectionRow(ctx, c, current)
}

func (s *Store) updateCollectionRow(ctx context.Context, c, current *model.Collection) error {
	c.UUID = current.UUID
	c.DatetimeEntered = current.DatetimeEntered
	c.DatetimeModified = s.now()
	query := fmt.Sprintf(`UPDATE collection SET title = %s, type = %s, url = %s,
		description = %s, markup_language = %s, contents = %s, contents_unpacked = %s,
		html = %s, elicitor_id = %s, modifier_id = %s, datetime_modified = %s
		WHERE id = %s`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7), s.ph(8),
		s.ph(9), s.ph(10), s.ph(11), s.ph(12))
	if _, err := s.db.ExecContext(ctx, query, c.Title, c.Type, c.URL, c.Description,
		c.MarkupLanguage, c.Contents, c.ContentsUnpacked, c.HTML,
		userID(c.Elicitor), userID(c.Modifier), c.DatetimeModified, c.ID); err != nil {
		return fmt.Errorf("failed to update collection %d: %w", c.ID, err)
	}
	return s.writeCollectionRelations(ctx, c)
}

// DeleteCollection backs up the pre-delete state and removes the collection
// with its associations.
func (s *Store) DeleteCollection(ctx context.Context, id int) (*model.Collection, error) {
	current, err := s.GetCollection(ctx, id, true)
	if err != nil {
		return nil, err
	}
	if err := s.writeBackup(ctx, model.KindCollection, current.ID, current.UUID,
		current.DatetimeModified, current); err != nil {
		return nil, err
	}
	for _, query := range []string{
		fmt.Sprintf("DELETE FROM collectionform WHERE collection_id = %s", s.ph(1)),
		fmt.Sprintf("DELETE FROM collectiontag WHERE collection_id = %s", s.ph(1)),
		fmt.Sprintf("DELETE FROM collectionfile WHERE collection_id = %s", s.ph(1)),
		fmt.Sprintf("DELETE FROM collection WHERE id = %s", s.ph(1)),
	} {
		if _, err := s.db.ExecContext(ctx, query, id); err != nil {
			return nil, fmt.Errorf("failed to delete collection %d: %w", id, err)
		}
	}
	return current, nil
}

// ListCollections pages through collections ordered by id, with restricted
// ones filtered in SQL for restricted viewers.
func (s *Store) ListCollections(ctx context.Context, unrestricted bool, limit, offset int) ([]model.Collection, int64, error) {
	where := "1 = 1"
	if clause := restrictionClause("collection", "collectiontag", "collection_id", unrestricted); clause != "" {
		where = clause
	}
	var total int64
	if err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM collection WHERE %s", where)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count collections: %w", err)
	}
	query := fmt.Sprintf("SELECT %s FROM collection WHERE %s ORDER BY id",
		collectionColumns, where)
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list collections: %w", err)
	}
	defer rows.Close()
	var out []model.Collection
	for rows.Next() {
		c, err := s.scanCollection(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan collection: %w", err)
		}
		out = append(out, *c)
	}
	return out, total, rows.Err()
}

// SearchCollections executes a compiled query against collections.
// Restricted collections are filtered out in SQL for restricted viewers.
func (s *Store) SearchCollections(ctx context.Context, compiled *queryc.Compiled, unrestricted bool, limit, offset int) ([]model.Collection, int64, error) {
	ids, total, err := s.searchIDs(ctx, "collection", "collectiontag", "collection_id",
		compiled, unrestricted, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	out := make([]model.Collection, 0, len(ids))
	for _, id := range ids {
		c, err := s.GetCollection(ctx, id, true)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *c)
	}
	return out, total, nil
}

// CollectionsReferencingForm returns ids of collections whose membership
// includes the form; referent deletion cascades through them.
func (s *Store) CollectionsReferencingForm(ctx context.Context, formID int) ([]int, error) {
	query := fmt.Sprintf(
		"SELECT collection_id FROM collectionform WHERE form_id = %s ORDER BY collection_id",
		s.ph(1))
	return s.queryIDs(ctx, query, formID)
}

// CollectionsMentioningForm returns ids of collections whose contents text
// embeds a form[<id>] reference. Unlike CollectionsReferencingForm it
// survives the form's deletion, which clears the association rows.
func (s *Store) CollectionsMentioningForm(ctx context.Context, formID int) ([]int, error) {
	pattern := fmt.Sprintf("%%form[%d]%%", formID)
	query := fmt.Sprintf(
		"SELECT id FROM collection WHERE contents LIKE %s ORDER BY id", s.ph(1))
	return s.queryIDs(ctx, query, pattern)
}

// CollectionsReferencingCollection returns ids of collections whose contents
// embed the given collection, found by reference scan of contents.
func (s *Store) CollectionsReferencingCollection(ctx context.Context, collectionID int) ([]int, error) {
	bracketed := fmt.Sprintf("%%collection[%d]%%", collectionID)
	parenthesized := fmt.Sprintf("%%collection(%d)%%", collectionID)
	query := fmt.Sprintf(
		"SELECT id FROM collection WHERE contents LIKE %s OR contents LIKE %s ORDER BY id",
		s.ph(1), s.ph(2))
	return s.queryIDs(ctx, query, bracketed, parenthesized)
}

// TagCollectionRestricted adds the restricted tag to a collection.
// Collections citing restricted forms or files inherit restriction this
// way.
func (s *Store) TagCollectionRestricted(ctx context.Context, collectionID int) error {
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
	c, err := s.GetCollection(ctx, collectionID, true)
	if err != nil {
		return err
	}
	for _, t := range c.Tags {
		if t.Name == model.RestrictedTagName {
			return nil
		}
	}
	query := fmt.Sprintf("INSERT INTO collectiontag (collection_id, tag_id) VALUES (%s, %s)",
		s.ph(1), s.ph(2))
	if _, err := s.db.ExecContext(ctx, query, collectionID, tag.ID); err != nil {
		return fmt.Errorf("failed to restrict collection %d: %w", collectionID, err)
	}
	return nil
}

func (s *Store) queryIDs(ctx context.Context, query string, args ...interface{}) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ids: %w", err)
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
