// Package models provides data model definitions for the FieldSync core.
package models

import "time"

// Photo represents cached photo metadata for a captured record. The photo
// bytes themselves live in the content-addressed blob store; this row
// carries the sync state and access time used by the eviction policy.
type Photo struct {
	ID           UUID       `db:"id" json:"id"`
	RecordID     UUID       `db:"record_id" json:"record_id"`
	ContentHash  string     `db:"content_hash" json:"content_hash"`
	SizeBytes    int64      `db:"size_bytes" json:"size_bytes"`
	SyncStatus   SyncStatus `db:"sync_status" json:"sync_status"`
	LastAccessed int64      `db:"last_accessed" json:"last_accessed"`
	CreatedAt    int64      `db:"created_at" json:"created_at"`
}

// TableName returns the table name for Photo.
func (Photo) TableName() string {
	return "photos"
}

// LastAccessedTime returns the LastAccessed as time.Time.
func (p *Photo) LastAccessedTime() time.Time {
	return time.Unix(p.LastAccessed, 0)
}

// MarkAccessed updates the LastAccessed timestamp.
func (p *Photo) MarkAccessed() {
	p.LastAccessed = time.Now().Unix()
}
