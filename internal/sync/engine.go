// Package sync provides the synchronization engine that replays queued
// offline mutations against the remote store and reconciles conflicts.
package sync

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/buildwise/fieldsync/internal/db"
	"github.com/buildwise/fieldsync/internal/logging"
	"github.com/buildwise/fieldsync/internal/models"
	"github.com/buildwise/fieldsync/internal/sync/conflict"
	"github.com/buildwise/fieldsync/internal/sync/queue"
)

// SyncStatus represents the current sync status.
type SyncStatus string

const (
	SyncStatusIdle    SyncStatus = "idle"
	SyncStatusSyncing SyncStatus = "syncing"
	SyncStatusFailed  SyncStatus = "failed"
)

// maxErrorHistory caps the in-memory sync error history.
const maxErrorHistory = 100

// LocalStore is the engine's view of the local record store.
type LocalStore interface {
	Queue() *queue.SyncQueue
	GetRecord(id models.UUID) (*models.Record, error)
	MarkSynced(id models.UUID, version int64, fields models.Snapshot) error
	MarkFailed(id models.UUID, cause error) error
	GetPhotoData(id models.UUID) ([]byte, error)
	MarkPhotoSynced(id models.UUID) error
}

// SyncErrorEntry is one recorded sync failure.
type SyncErrorEntry struct {
	RecordID  string
	Operation string
	Error     string
	Timestamp time.Time
}

// SyncResult represents the result of a sync operation.
type SyncResult struct {
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
	Pushed    int
	Pulled    int
	Conflicts int
	Failed    int
	Error     string
}

// SyncEngine replays the offline mutation queue against the remote store
// and pulls down server-side changes. One sync runs at a time; queued
// mutations are replayed serially in priority order.
type SyncEngine struct {
	local    LocalStore
	repo     db.SyncRepository
	remote   RemoteStore
	resolver *conflict.Resolver

	mu       gosync.Mutex
	status   SyncStatus
	lastSync *time.Time
	lastErr  error
	handler  SyncEventHandler
	errors   []SyncErrorEntry
}

// NewSyncEngine creates a new SyncEngine.
func NewSyncEngine(local LocalStore, repo db.SyncRepository, remote RemoteStore, resolver *conflict.Resolver) *SyncEngine {
	return &SyncEngine{
		local:    local,
		repo:     repo,
		remote:   remote,
		resolver: resolver,
		status:   SyncStatusIdle,
		errors:   make([]SyncErrorEntry, 0),
	}
}

// SetEventHandler sets the event handler for sync notifications.
func (e *SyncEngine) SetEventHandler(handler SyncEventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = handler
}

// Status returns the current sync status.
func (e *SyncEngine) Status() SyncStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// LastSync returns the timestamp of the last successful sync.
func (e *SyncEngine) LastSync() *time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSync
}

// PendingChanges returns the number of queued mutations awaiting replay.
func (e *SyncEngine) PendingChanges() int {
	if e.local == nil {
		return 0
	}
	return len(e.local.Queue().GetPending())
}

// LastError returns the last sync error.
func (e *SyncEngine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// GetErrorHistory returns a copy of the recorded sync failures.
func (e *SyncEngine) GetErrorHistory() []SyncErrorEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	history := make([]SyncErrorEntry, len(e.errors))
	copy(history, e.errors)
	return history
}

// ClearErrorHistory discards the recorded sync failures.
func (e *SyncEngine) ClearErrorHistory() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errors = e.errors[:0]
}

func (e *SyncEngine) recordError(recordID, operation string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.errors = append(e.errors, SyncErrorEntry{
		RecordID:  recordID,
		Operation: operation,
		Error:     err.Error(),
		Timestamp: time.Now(),
	})

	if len(e.errors) > maxErrorHistory {
		e.errors = e.errors[len(e.errors)-maxErrorHistory:]
	}
}

// emitEvent delivers an event to the handler asynchronously.
func (e *SyncEngine) emitEvent(event SyncEvent) {
	e.mu.Lock()
	handler := e.handler
	e.mu.Unlock()

	if handler == nil {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	go handler.OnSyncEvent(event)
}

// Sync performs a full sync cycle: replay queued mutations, then pull
// server-side changes. Only one sync runs at a time.
func (e *SyncEngine) Sync(ctx context.Context) (*SyncResult, error) {
	e.mu.Lock()
	if e.status == SyncStatusSyncing {
		e.mu.Unlock()
		return nil, fmt.Errorf("sync already in progress")
	}
	since := int64(0)
	if e.lastSync != nil {
		since = e.lastSync.Unix()
	}
	e.status = SyncStatusSyncing
	e.lastErr = nil
	e.mu.Unlock()

	result := &SyncResult{StartTime: time.Now()}
	e.emitEvent(SyncEvent{Type: SyncEventStarted})

	defer func() {
		result.EndTime = time.Now()
		result.Duration = result.EndTime.Sub(result.StartTime)

		e.mu.Lock()
		if e.lastErr != nil {
			e.status = SyncStatusFailed
			result.Error = e.lastErr.Error()
		} else {
			e.status = SyncStatusIdle
			end := result.EndTime
			e.lastSync = &end
		}
		e.mu.Unlock()

		if result.Error != "" {
			e.emitEvent(SyncEvent{Type: SyncEventFailed, Message: result.Error})
		} else {
			e.emitEvent(SyncEvent{
				Type:    SyncEventCompleted,
				Message: fmt.Sprintf("pushed %d, pulled %d, conflicts %d", result.Pushed, result.Pulled, result.Conflicts),
			})
		}
	}()

	if err := e.replayQueue(ctx, result); err != nil {
		e.mu.Lock()
		e.lastErr = fmt.Errorf("replay failed: %w", err)
		e.mu.Unlock()
		return result, e.LastError()
	}

	pulled, err := e.pullChanges(ctx, since, result)
	result.Pulled = pulled
	if err != nil {
		e.mu.Lock()
		e.lastErr = fmt.Errorf("pull failed: %w", err)
		e.mu.Unlock()
		return result, e.LastError()
	}

	return result, nil
}

// replayQueue drains ready queue items serially in priority order.
func (e *SyncEngine) replayQueue(ctx context.Context, result *SyncResult) error {
	q := e.local.Queue()
	total := len(q.GetPending())
	processed := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		item := q.Dequeue()
		if item == nil {
			return nil
		}

		processed++
		e.emitEvent(SyncEvent{
			Type:      SyncEventProgress,
			RecordID:  string(item.RecordID),
			Processed: processed,
			Total:     total,
		})

		if err := e.replayItem(ctx, item, result); err != nil {
			result.Failed++
			e.recordError(string(item.RecordID), item.Operation, err)

			// A parked item is a per-item outcome, not a replay-loop
			// error: persist it, mark the record, and move on. Only
			// infrastructure failures abort the loop.
			parked, ferr := q.Failed(item.ID, err)
			if ferr != nil {
				return ferr
			}
			if err := e.repo.SaveQueueItem(item); err != nil {
				return err
			}
			if item.EntityType != models.EntityPhoto {
				if merr := e.local.MarkFailed(item.RecordID, err); merr != nil {
					logging.Warn("Failed to record replay failure",
						map[string]interface{}{"record_id": item.RecordID, "error": merr.Error()})
				}
			}
			if parked {
				logging.Warn("Retry budget exhausted, mutation parked",
					map[string]interface{}{
						"record_id": item.RecordID,
						"operation": item.Operation,
					})
			}
			continue
		}

		result.Pushed++
		if err := q.Complete(item.ID); err != nil {
			return err
		}
		if err := e.repo.DeleteQueueItem(string(item.ID)); err != nil {
			return err
		}
	}
}

// replayItem pushes one queued mutation to the server.
func (e *SyncEngine) replayItem(ctx context.Context, item *models.SyncQueueItem, result *SyncResult) error {
	if item.EntityType == models.EntityPhoto {
		return e.uploadPhoto(ctx, item)
	}

	req, localFields, err := e.buildPushRequest(item)
	if err != nil {
		return err
	}

	e.emitEvent(SyncEvent{Type: SyncEventUploadItem, RecordID: string(item.RecordID)})

	server, err := e.remote.Push(ctx, req)

	var mismatch *BaseMismatchError
	if errors.As(err, &mismatch) {
		return e.resolveMismatch(ctx, item, localFields, mismatch, result)
	}
	if err != nil {
		return err
	}

	if item.Operation == string(queue.OperationDelete) {
		return nil
	}

	return e.local.MarkSynced(item.RecordID, server.Version, server.Fields)
}

// buildPushRequest assembles the wire request for a queued mutation and
// returns the local field snapshot the mutation represents.
func (e *SyncEngine) buildPushRequest(item *models.SyncQueueItem) (*PushRequest, models.Snapshot, error) {
	req := &PushRequest{
		RecordID:   item.RecordID,
		EntityType: item.EntityType,
		Operation:  item.Operation,
	}

	switch item.Operation {
	case string(queue.OperationCreate):
		rec, err := e.local.GetRecord(item.RecordID)
		if err != nil {
			return nil, nil, err
		}
		req.Fields = rec.Fields
		return req, rec.Fields, nil

	case string(queue.OperationUpdate):
		rec, err := e.local.GetRecord(item.RecordID)
		if err != nil {
			return nil, nil, err
		}
		var changes []FieldChange
		if len(item.Payload) > 0 {
			if err := json.Unmarshal(item.Payload, &changes); err != nil {
				return nil, nil, fmt.Errorf("failed to decode delta payload: %w", err)
			}
		}
		req.BaseVersion = rec.Version
		req.Changes = changes
		return req, rec.Fields, nil

	case string(queue.OperationDelete):
		// The record is already gone locally; an empty snapshot stands
		// in for "deleted" during merge.
		return req, models.Snapshot{}, nil

	default:
		return nil, nil, fmt.Errorf("unknown queue operation: %s", item.Operation)
	}
}

// resolveMismatch runs the three-way merge for a rejected push, logs any
// conflicting fields, and re-pushes the merged snapshot rebased onto the
// server's version.
func (e *SyncEngine) resolveMismatch(ctx context.Context, item *models.SyncQueueItem, localFields models.Snapshot, mismatch *BaseMismatchError, result *SyncResult) error {
	res, err := e.resolver.Resolve(&conflict.Conflict{
		RecordID:        item.RecordID,
		Local:           localFields,
		Server:          mismatch.Server.Fields,
		Base:            mismatch.Base,
		LocalTimestamp:  item.UpdatedAt,
		RemoteTimestamp: mismatch.Server.UpdatedAt,
	})
	if err != nil {
		return err
	}

	if res.Log != nil {
		result.Conflicts++
		if err := e.repo.CreateConflictLog(res.Log); err != nil {
			return err
		}
		e.emitEvent(SyncEvent{
			Type:     SyncEventConflict,
			RecordID: string(item.RecordID),
			Message:  fmt.Sprintf("conflicting fields: %v", res.Fields),
		})
	}

	server, err := e.remote.Push(ctx, &PushRequest{
		RecordID:    item.RecordID,
		EntityType:  item.EntityType,
		Operation:   string(queue.OperationUpdate),
		BaseVersion: mismatch.Server.Version,
		Fields:      res.Merged,
	})
	if err != nil {
		return err
	}

	if item.Operation == string(queue.OperationDelete) {
		// A delete that lost to concurrent server edits resurrects the
		// record locally with the merged state.
		return e.restoreRecord(item, server)
	}

	return e.local.MarkSynced(item.RecordID, server.Version, server.Fields)
}

// restoreRecord re-creates a locally deleted record from the server's
// canonical state.
func (e *SyncEngine) restoreRecord(item *models.SyncQueueItem, server *RemoteRecord) error {
	now := time.Now().Unix()
	rec := &models.Record{
		ID:         item.RecordID,
		EntityType: item.EntityType,
		Fields:     server.Fields,
		SyncStatus: models.SyncStatusSynced,
		Version:    server.Version,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return e.repo.CreateRecord(rec)
}

// uploadPhoto pushes one captured photo to the server.
func (e *SyncEngine) uploadPhoto(ctx context.Context, item *models.SyncQueueItem) error {
	photo, err := e.repo.GetPhoto(string(item.RecordID))
	if err != nil {
		return fmt.Errorf("failed to load photo metadata: %w", err)
	}

	data, err := e.local.GetPhotoData(photo.ID)
	if err != nil {
		return err
	}

	e.emitEvent(SyncEvent{Type: SyncEventUploadItem, RecordID: string(photo.ID)})

	if err := e.remote.UploadPhoto(ctx, photo.ID, photo.ContentHash, data); err != nil {
		return err
	}

	return e.local.MarkPhotoSynced(photo.ID)
}

// pullChanges applies server-side changes made since the last sync.
// Records with unsynced local edits are left alone; the push path owns
// their reconciliation.
func (e *SyncEngine) pullChanges(ctx context.Context, since int64, result *SyncResult) (int, error) {
	records, err := e.remote.List(ctx, since)
	if err != nil {
		return 0, err
	}

	pulled := 0
	for _, remote := range records {
		select {
		case <-ctx.Done():
			return pulled, ctx.Err()
		default:
		}

		local, err := e.repo.GetRecord(string(remote.ID))
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			e.recordError(string(remote.ID), "download", err)
			continue
		}

		switch {
		case errors.Is(err, sql.ErrNoRows):
			if remote.Deleted {
				continue
			}
			now := time.Now().Unix()
			rec := &models.Record{
				ID:         remote.ID,
				EntityType: remote.EntityType,
				Fields:     remote.Fields,
				SyncStatus: models.SyncStatusSynced,
				Version:    remote.Version,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if err := e.repo.CreateRecord(rec); err != nil {
				e.recordError(string(remote.ID), "download", err)
				continue
			}
			pulled++
			e.emitEvent(SyncEvent{Type: SyncEventDownloadItem, RecordID: string(remote.ID)})

		case local.SyncStatus == models.SyncStatusSynced:
			if remote.Deleted {
				if err := e.repo.DeleteRecord(string(remote.ID)); err != nil {
					e.recordError(string(remote.ID), "download", err)
				} else {
					pulled++
				}
				continue
			}
			if remote.Version <= local.Version {
				continue
			}
			local.Fields = remote.Fields
			local.Version = remote.Version
			local.UpdatedAt = time.Now().Unix()
			if err := e.repo.UpdateRecord(local); err != nil {
				e.recordError(string(remote.ID), "download", err)
				continue
			}
			pulled++
			e.emitEvent(SyncEvent{Type: SyncEventDownloadItem, RecordID: string(remote.ID)})

		default:
			// Local has unsynced edits; the next push reconciles them
			// against the server via base mismatch.
			logging.Debug("Skipping pull for locally modified record",
				map[string]interface{}{"record_id": remote.ID})
		}
	}

	return pulled, nil
}
