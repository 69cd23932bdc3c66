// Package models provides data model definitions for the FieldSync core.
package models

import (
	"database/sql/driver"
	"time"
)

// UUID is a wrapper around string for UUID v4 type safety.
type UUID string

// Value implements driver.Valuer for UUID.
func (u UUID) Value() (driver.Value, error) {
	return string(u), nil
}

// Scan implements sql.Scanner for UUID.
func (u *UUID) Scan(value interface{}) error {
	if value == nil {
		*u = ""
		return nil
	}
	switch v := value.(type) {
	case []byte:
		*u = UUID(v)
	case string:
		*u = UUID(v)
	}
	return nil
}

// String returns the string representation of the UUID.
func (u UUID) String() string {
	return string(u)
}

// SyncStatus represents the sync lifecycle state of a locally stored entity.
type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusFailed  SyncStatus = "failed"
)

// EntityType identifies the kind of entity a record holds.
type EntityType string

const (
	EntityAssessment EntityType = "assessment"
	EntityDeficiency EntityType = "deficiency"
	EntityPhoto      EntityType = "photo"
)

// Snapshot is a flat field-name to value view of a record at a point in
// time. It is the unit the delta and merge engines operate on.
type Snapshot map[string]interface{}

// Record represents a locally captured entity awaiting or past sync.
// Domain fields live in Fields; everything else is sync metadata and is
// never part of a delta or conflict.
type Record struct {
	ID         UUID       `db:"id" json:"id"`
	EntityType EntityType `db:"entity_type" json:"entity_type"`
	Fields     Snapshot   `db:"fields" json:"fields"`
	SyncStatus SyncStatus `db:"sync_status" json:"sync_status"`
	RetryCount int        `db:"retry_count" json:"retry_count"`
	SyncError  string     `db:"sync_error" json:"sync_error,omitempty"`
	Version    int64      `db:"version" json:"version"`
	CreatedAt  int64      `db:"created_at" json:"created_at"`
	UpdatedAt  int64      `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for Record.
func (Record) TableName() string {
	return "records"
}

// Snapshot returns the flat snapshot view of the record: a copy of the
// domain fields plus the metadata keys. Mutating the result does not
// affect the record.
func (r *Record) Snapshot() Snapshot {
	snap := make(Snapshot, len(r.Fields)+6)
	for k, v := range r.Fields {
		snap[k] = v
	}
	snap["id"] = string(r.ID)
	snap["createdAt"] = r.CreatedAt
	snap["updatedAt"] = r.UpdatedAt
	snap["syncStatus"] = string(r.SyncStatus)
	snap["retryCount"] = r.RetryCount
	if r.SyncError != "" {
		snap["syncError"] = r.SyncError
	}
	return snap
}

// CreatedAtTime returns the CreatedAt as time.Time.
func (r *Record) CreatedAtTime() time.Time {
	return time.Unix(r.CreatedAt, 0)
}

// UpdatedAtTime returns the UpdatedAt as time.Time.
func (r *Record) UpdatedAtTime() time.Time {
	return time.Unix(r.UpdatedAt, 0)
}

// Touch updates the UpdatedAt timestamp and bumps the version.
func (r *Record) Touch() {
	r.UpdatedAt = time.Now().Unix()
	r.Version++
}
