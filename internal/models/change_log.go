// Package models provides data model definitions for the FieldSync core.
package models

import "time"

// ChangeLog tracks record mutations for incremental sync and conflict
// detection.
type ChangeLog struct {
	ID        UUID   `db:"id" json:"id"`
	RecordID  UUID   `db:"record_id" json:"record_id"`
	Operation string `db:"operation" json:"operation"` // create, update, delete
	Version   int64  `db:"version" json:"version"`
	Timestamp int64  `db:"timestamp" json:"timestamp"`
}

// TableName returns the table name for ChangeLog.
func (ChangeLog) TableName() string {
	return "change_log"
}

// Time returns the Timestamp as time.Time.
func (c *ChangeLog) Time() time.Time {
	return time.Unix(c.Timestamp, 0)
}
