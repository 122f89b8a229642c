package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dativebase/old/pkg/model"
)

// liveTables maps backup kinds onto the tables their live rows inhabit,
// for resolving a history request addressed by UUID.
var liveTables = map[string]string{
	model.KindForm:                  "form",
	model.KindCollection:            "collection",
	model.KindCorpus:                "corpus",
	model.KindPhonology:             "phonology",
	model.KindMorphology:            "morphology",
	model.KindMorphemeLanguageModel: "morphemelanguagemodel",
	model.KindMorphologicalParser:   "morphologicalparser",
}

// ResourceIDForUUID resolves a resource UUID to its live row's id.
func (s *Store) ResourceIDForUUID(ctx context.Context, kind, uuid string) (int, error) {
	table, ok := liveTables[kind]
	if !ok {
		return 0, fmt.Errorf("no live table for backup kind %q", kind)
	}
	var id int
	query := fmt.Sprintf("SELECT id FROM %s WHERE uuid = %s", table, s.ph(1))
	err := s.db.QueryRowContext(ctx, query, uuid).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, &model.NotFoundError{Kind: kind}
	}
	if err != nil {
		return 0, fmt.Errorf("failed to resolve %s uuid: %w", kind, err)
	}
	return id, nil
}

// writeBackup snapshots the current state of a resource before it is
// mutated. The backup row carries the pre-mutation datetime_modified.
func (s *Store) writeBackup(ctx context.Context, kind string, resourceID int, uuid string, datetimeModified time.Time, resource interface{}) error {
	b, err := model.NewBackup(kind, resourceID, uuid, datetimeModified, resource)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`INSERT INTO backup
		(kind, resource_id, uuid, snapshot, datetime_modified) VALUES (%s)`,
		s.phList(1, 5))
	if _, err := s.db.ExecContext(ctx, query,
		b.Kind, b.ResourceID, b.UUID, b.Snapshot, b.DatetimeModified); err != nil {
		return fmt.Errorf("failed to write %s backup: %w", kind, err)
	}
	s.logger.WithField("kind", kind).WithField("resource_id", resourceID).
		Debug("wrote backup row")
	return nil
}

// BackupsForUUID returns the history of a resource, most recent first.
// Because backups share the live row's UUID, the history survives deletion
// of the live row.
func (s *Store) BackupsForUUID(ctx context.Context, kind, uuid string) ([]model.Backup, error) {
	query := fmt.Sprintf(`SELECT id, kind, resource_id, uuid, snapshot, datetime_modified
		FROM backup WHERE kind = %s AND uuid = %s
		ORDER BY datetime_modified DESC, id DESC`, s.ph(1), s.ph(2))
	return s.queryBackups(ctx, query, kind, uuid)
}

// BackupsForResourceID returns the history of a resource by its live id.
func (s *Store) BackupsForResourceID(ctx context.Context, kind string, resourceID int) ([]model.Backup, error) {
	query := fmt.Sprintf(`SELECT id, kind, resource_id, uuid, snapshot, datetime_modified
		FROM backup WHERE kind = %s AND resource_id = %s
		ORDER BY datetime_modified DESC, id DESC`, s.ph(1), s.ph(2))
	return s.queryBackups(ctx, query, kind, resourceID)
}

// GetBackup fetches one backup row of the given kind.
func (s *Store) GetBackup(ctx context.Context, kind string, id int) (*model.Backup, error) {
	query := fmt.Sprintf(`SELECT id, kind, resource_id, uuid, snapshot, datetime_modified
		FROM backup WHERE kind = %s AND id = %s`, s.ph(1), s.ph(2))
	backups, err := s.queryBackups(ctx, query, kind, id)
	if err != nil {
		return nil, err
	}
	if len(backups) == 0 {
		return nil, &model.NotFoundError{Kind: kind + " backup", ID: id}
	}
	return &backups[0], nil
}

// ListBackups pages through all backups of one kind, most recent first.
func (s *Store) ListBackups(ctx context.Context, kind string, limit, offset int) ([]model.Backup, int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM backup WHERE kind = %s", s.ph(1)), kind).
		Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count %s backups: %w", kind, err)
	}
	query := fmt.Sprintf(`SELECT id, kind, resource_id, uuid, snapshot, datetime_modified
		FROM backup WHERE kind = %s ORDER BY id DESC`, s.ph(1))
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	}
	backups, err := s.queryBackups(ctx, query, kind)
	return backups, total, err
}

func (s *Store) queryBackups(ctx context.Context, query string, args ...interface{}) ([]model.Backup, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch backups: %w", err)
	}
	defer rows.Close()
	var out []model.Backup
	for rows.Next() {
		var b model.Backup
		if err := rows.Scan(&b.ID, &b.Kind, &b.ResourceID, &b.UUID, &b.Snapshot,
			&b.DatetimeModified); err != nil {
			return nil, fmt.Errorf("failed to scan backup: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
