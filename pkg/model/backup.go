package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Backup is a read-only snapshot of a live resource taken before every
// accepted update or delete. Backups share the live row's UUID, so history
// survives deletion of the live row.
type Backup struct {
	ID               int       `json:"id"`
	Kind             string    `json:"-"`
	ResourceID       int       `json:"resource_id"`
	UUID             string    `json:"UUID"`
	Snapshot         string    `json:"-"`
	DatetimeModified time.Time `json:"datetime_modified"`
}

// Backed-up resource kinds.
const (
	KindForm                  = "form"
	KindCollection            = "collection"
	KindCorpus                = "corpus"
	KindPhonology             = "phonology"
	KindMorphology            = "morphology"
	KindMorphemeLanguageModel = "morpheme language model"
	KindMorphologicalParser   = "morphological parser"
)

// NewBackup snapshots a resource into a backup row. The snapshot is the
// resource's full JSON serialization, user refs and relations included.
func NewBackup(kind string, resourceID int, uuid string, datetimeModified time.Time, resource interface{}) (*Backup, error) {
	raw, err := json.Marshal(resource)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot %s %d: %w", kind, resourceID, err)
	}
	return &Backup{
		Kind:             kind,
		ResourceID:       resourceID,
		UUID:             uuid,
		Snapshot:         string(raw),
		DatetimeModified: datetimeModified,
	}, nil
}

// MarshalJSON renders the backup as the snapshotted resource annotated with
// the backup row's own id and timestamps, which is the wire shape history
// endpoints return.
func (b *Backup) MarshalJSON() ([]byte, error) {
	var snap map[string]interface{}
	if err := json.Unmarshal([]byte(b.Snapshot), &snap); err != nil {
		return nil, fmt.Errorf("corrupt backup snapshot for %s %d: %w", b.Kind, b.ResourceID, err)
	}
	snap["backup_id"] = b.ID
	snap["UUID"] = b.UUID
	snap["datetime_modified"] = b.DatetimeModified
	return json.Marshal(snap)
}
