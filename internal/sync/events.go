// Package sync provides the synchronization engine that replays queued
// offline mutations against the remote store and reconciles conflicts.
package sync

import "time"

// SyncEventType identifies a sync lifecycle event.
type SyncEventType string

const (
	SyncEventStarted      SyncEventType = "sync.started"
	SyncEventProgress     SyncEventType = "sync.progress"
	SyncEventUploadItem   SyncEventType = "sync.upload_item"
	SyncEventDownloadItem SyncEventType = "sync.download_item"
	SyncEventConflict     SyncEventType = "sync.conflict_detected"
	SyncEventCompleted    SyncEventType = "sync.completed"
	SyncEventFailed       SyncEventType = "sync.failed"
)

// SyncEvent is a notification emitted during synchronization, consumed by
// UI surfaces (status bar, websocket clients).
type SyncEvent struct {
	Type      SyncEventType `json:"type"`
	RecordID  string        `json:"record_id,omitempty"`
	Message   string        `json:"message,omitempty"`
	Processed int           `json:"processed,omitempty"`
	Total     int           `json:"total,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// SyncEventHandler receives sync events. Handlers must be safe for
// concurrent use; events are delivered asynchronously.
type SyncEventHandler interface {
	OnSyncEvent(event SyncEvent)
}

// SyncEventHandlerFunc adapts a function to SyncEventHandler.
type SyncEventHandlerFunc func(event SyncEvent)

// OnSyncEvent implements SyncEventHandler.
func (f SyncEventHandlerFunc) OnSyncEvent(event SyncEvent) {
	f(event)
}
