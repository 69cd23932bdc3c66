// Package models provides data model definitions for the FieldSync core.
package models

import (
	"encoding/json"
	"time"
)

// ConflictLog records fields that changed on both the local and server
// side of a record, flagged for manual arbitration.
type ConflictLog struct {
	ID              UUID            `db:"id" json:"id"`
	RecordID        UUID            `db:"record_id" json:"record_id"`
	Fields          json.RawMessage `db:"fields" json:"fields"` // JSON array of conflicting field names
	LocalTimestamp  int64           `db:"local_timestamp" json:"local_timestamp"`
	RemoteTimestamp int64           `db:"remote_timestamp" json:"remote_timestamp"`
	Resolution      string          `db:"resolution" json:"resolution"` // server_default, manual
	DetectedAt      int64           `db:"detected_at" json:"detected_at"`
	ResolvedAt      int64           `db:"resolved_at" json:"resolved_at"`
}

// TableName returns the table name for ConflictLog.
func (ConflictLog) TableName() string {
	return "conflict_log"
}

// DetectedAtTime returns the DetectedAt as time.Time.
func (c *ConflictLog) DetectedAtTime() time.Time {
	return time.Unix(c.DetectedAt, 0)
}

// FieldNames decodes the conflicting field list.
func (c *ConflictLog) FieldNames() ([]string, error) {
	var fields []string
	if len(c.Fields) == 0 {
		return fields, nil
	}
	if err := json.Unmarshal(c.Fields, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}
