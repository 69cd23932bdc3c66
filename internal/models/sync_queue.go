// Package models provides data model definitions for the FieldSync core.
package models

import "encoding/json"

// SyncQueueItem represents a pending local mutation awaiting replay
// against the server. Ordering invariant: higher Priority first, ties
// broken by older CreatedAt first.
type SyncQueueItem struct {
	ID          UUID            `db:"id" json:"id"`
	EntityType  EntityType      `db:"entity_type" json:"entity_type"`
	RecordID    UUID            `db:"record_id" json:"record_id"`
	Operation   string          `db:"operation" json:"operation"` // create, update, delete
	Payload     json.RawMessage `db:"payload" json:"payload"`
	Priority    int             `db:"priority" json:"priority"`
	RetryCount  int             `db:"retry_count" json:"retry_count"`
	MaxRetries  int             `db:"max_retries" json:"max_retries"`
	NextRetryAt int64           `db:"next_retry_at" json:"next_retry_at"`
	Status      string          `db:"status" json:"status"` // pending, in_progress, failed, completed
	LastError   string          `db:"last_error" json:"last_error,omitempty"`
	CreatedAt   int64           `db:"created_at" json:"created_at"`
	UpdatedAt   int64           `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for SyncQueueItem.
func (SyncQueueItem) TableName() string {
	return "sync_queue"
}
