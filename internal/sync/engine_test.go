// Package sync tests for sync engine functionality.
package sync

import (
	"context"
	"errors"
	"strings"
	gosync "sync"
	"testing"
	"time"

	"github.com/buildwise/fieldsync/internal/db"
	"github.com/buildwise/fieldsync/internal/models"
	"github.com/buildwise/fieldsync/internal/store"
	"github.com/buildwise/fieldsync/internal/sync/conflict"
	"github.com/buildwise/fieldsync/internal/sync/queue"
)

// testEventHandler is a test implementation of SyncEventHandler.
type testEventHandler struct {
	mu     gosync.Mutex
	events []SyncEvent
}

func (h *testEventHandler) OnSyncEvent(event SyncEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
}

func (h *testEventHandler) all() []SyncEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]SyncEvent, len(h.events))
	copy(out, h.events)
	return out
}

func (h *testEventHandler) count(t SyncEventType) int {
	n := 0
	for _, ev := range h.all() {
		if ev.Type == t {
			n++
		}
	}
	return n
}

// mockRemote is a test implementation of RemoteStore.
type mockRemote struct {
	mu         gosync.Mutex
	records    map[models.UUID]*RemoteRecord
	photos     map[models.UUID][]byte
	mismatch   map[models.UUID]*BaseMismatchError
	listResp   []*RemoteRecord
	pushErr    error
	pushErrFor map[models.UUID]error
	photoErr   error
}

func newMockRemote() *mockRemote {
	return &mockRemote{
		records:    make(map[models.UUID]*RemoteRecord),
		photos:     make(map[models.UUID][]byte),
		mismatch:   make(map[models.UUID]*BaseMismatchError),
		pushErrFor: make(map[models.UUID]error),
	}
}

func (m *mockRemote) Push(ctx context.Context, req *PushRequest) (*RemoteRecord, error) {
	if m.pushErr != nil {
		return nil, m.pushErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err, ok := m.pushErrFor[req.RecordID]; ok {
		return nil, err
	}

	// A pending mismatch rejects any push not rebased onto the
	// server's current version.
	if mm, ok := m.mismatch[req.RecordID]; ok && req.BaseVersion != mm.Server.Version {
		return nil, mm
	}

	if req.Operation == string(queue.OperationDelete) {
		delete(m.records, req.RecordID)
		return &RemoteRecord{ID: req.RecordID, Deleted: true, Version: req.BaseVersion + 1}, nil
	}

	fields := req.Fields
	if fields == nil {
		fields = models.Snapshot{}
		if existing, ok := m.records[req.RecordID]; ok {
			for k, v := range existing.Fields {
				fields[k] = v
			}
		}
		for _, c := range req.Changes {
			if c.NewValue == nil {
				delete(fields, c.Field)
			} else {
				fields[c.Field] = c.NewValue
			}
		}
	}

	rec := &RemoteRecord{
		ID:         req.RecordID,
		EntityType: req.EntityType,
		Fields:     fields,
		Version:    req.BaseVersion + 1,
		UpdatedAt:  time.Now().Unix(),
	}
	m.records[req.RecordID] = rec
	return rec, nil
}

func (m *mockRemote) Fetch(ctx context.Context, id models.UUID) (*RemoteRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, errors.New("record not found")
	}
	return rec, nil
}

func (m *mockRemote) List(ctx context.Context, since int64) ([]*RemoteRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listResp, nil
}

func (m *mockRemote) UploadPhoto(ctx context.Context, photoID models.UUID, contentHash string, data []byte) error {
	if m.photoErr != nil {
		return m.photoErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.photos[photoID] = data
	return nil
}

func newTestEngine(t *testing.T) (*SyncEngine, *store.Store, *db.Repository, *mockRemote) {
	t.Helper()
	return newTestEngineWith(t, store.DefaultConfig())
}

func newTestEngineWith(t *testing.T, cfg store.Config) (*SyncEngine, *store.Store, *db.Repository, *mockRemote) {
	t.Helper()

	database, err := db.OpenInMemory()
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	migrator := db.NewMigrator(database.DB)
	if err := migrator.Initialize(); err != nil {
		t.Fatalf("Failed to initialize migrations: %v", err)
	}
	if err := migrator.Migrate(); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	repo := db.NewRepository(database.DB)
	local := store.New(repo, queue.NewSyncQueue(100, cfg.MaxRetries), store.NewPhotoBlobStore(t.TempDir()), cfg)
	remote := newMockRemote()
	engine := NewSyncEngine(local, repo, remote, conflict.NewResolver(conflict.ResolutionServerDefault))

	return engine, local, repo, remote
}

// TestNewSyncEngine verifies engine creation.
func TestNewSyncEngine(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)

	if engine.Status() != SyncStatusIdle {
		t.Errorf("status = %v, want SyncStatusIdle", engine.Status())
	}
	if engine.LastSync() != nil {
		t.Error("lastSync should be nil initially")
	}
	if engine.PendingChanges() != 0 {
		t.Error("pending should be 0 initially")
	}
	if engine.LastError() != nil {
		t.Error("lastErr should be nil initially")
	}
}

// TestSetEventHandler verifies event handler setting.
func TestSetEventHandler(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	handler := &testEventHandler{}

	engine.SetEventHandler(handler)
	engine.emitEvent(SyncEvent{Type: SyncEventStarted})

	time.Sleep(20 * time.Millisecond)

	events := handler.all()
	if len(events) != 1 {
		t.Fatalf("handler events count = %d, want 1", len(events))
	}
	if events[0].Type != SyncEventStarted {
		t.Errorf("event type = %v, want SyncEventStarted", events[0].Type)
	}
	if events[0].Timestamp.IsZero() {
		t.Error("event timestamp should be set automatically")
	}
}

// TestEmitEvent_nilHandler verifies nil handler doesn't cause panic.
func TestEmitEvent_nilHandler(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)

	engine.SetEventHandler(nil)
	engine.emitEvent(SyncEvent{Type: SyncEventStarted})

	time.Sleep(10 * time.Millisecond)
}

// TestSync_alreadyInProgress verifies error when sync is already running.
func TestSync_alreadyInProgress(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)

	engine.status = SyncStatusSyncing

	result, err := engine.Sync(context.Background())
	if err == nil {
		t.Fatal("Sync() should return error when already in progress")
	}
	if result != nil {
		t.Error("result should be nil on error")
	}
	if !strings.Contains(err.Error(), "already in progress") {
		t.Errorf("error message should mention 'already in progress', got: %v", err)
	}
}

// TestSync_pushCreate verifies a created record is replayed to the server
// and transitions to synced.
func TestSync_pushCreate(t *testing.T) {
	engine, local, _, remote := newTestEngine(t)
	handler := &testEventHandler{}
	engine.SetEventHandler(handler)

	rec, err := local.CreateRecord(models.EntityAssessment, models.Snapshot{"condition": "fair"})
	if err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}

	result, err := engine.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	if result.Pushed != 1 {
		t.Errorf("Pushed = %d, want 1", result.Pushed)
	}
	if result.Conflicts != 0 || result.Failed != 0 {
		t.Errorf("Unexpected conflicts/failures: %+v", result)
	}

	server, ok := remote.records[rec.ID]
	if !ok {
		t.Fatal("record should exist on server after sync")
	}
	if server.Fields["condition"] != "fair" {
		t.Errorf("server fields = %v", server.Fields)
	}

	got, err := local.GetRecord(rec.ID)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if got.SyncStatus != models.SyncStatusSynced {
		t.Errorf("status = %s, want synced", got.SyncStatus)
	}
	if got.Version != server.Version {
		t.Errorf("version = %d, want server version %d", got.Version, server.Version)
	}
	if engine.PendingChanges() != 0 {
		t.Errorf("pending = %d, want 0", engine.PendingChanges())
	}
	if engine.LastSync() == nil {
		t.Error("LastSync should be set after success")
	}

	time.Sleep(50 * time.Millisecond)
	if handler.count(SyncEventStarted) == 0 {
		t.Error("SyncEventStarted should have been emitted")
	}
	if handler.count(SyncEventCompleted) == 0 {
		t.Error("SyncEventCompleted should have been emitted")
	}
}

// TestSync_pushUpdateDelta verifies an update replays only the changed
// fields.
func TestSync_pushUpdateDelta(t *testing.T) {
	engine, local, _, remote := newTestEngine(t)

	rec, err := local.CreateRecord(models.EntityAssessment, models.Snapshot{"condition": "fair", "notes": "ok"})
	if err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}
	if _, err := engine.Sync(context.Background()); err != nil {
		t.Fatalf("Initial sync failed: %v", err)
	}

	if _, err := local.UpdateRecord(rec.ID, models.Snapshot{"condition": "poor", "notes": "ok"}); err != nil {
		t.Fatalf("UpdateRecord failed: %v", err)
	}

	result, err := engine.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	if result.Pushed != 1 {
		t.Errorf("Pushed = %d, want 1", result.Pushed)
	}

	server := remote.records[rec.ID]
	if server.Fields["condition"] != "poor" {
		t.Errorf("server condition = %v, want poor", server.Fields["condition"])
	}
	if server.Fields["notes"] != "ok" {
		t.Errorf("server notes = %v, want ok (unchanged field preserved)", server.Fields["notes"])
	}
}

// TestSync_pushDelete verifies a delete replays to the server.
func TestSync_pushDelete(t *testing.T) {
	engine, local, _, remote := newTestEngine(t)

	rec, err := local.CreateRecord(models.EntityDeficiency, models.Snapshot{"severity": "high"})
	if err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}
	if _, err := engine.Sync(context.Background()); err != nil {
		t.Fatalf("Initial sync failed: %v", err)
	}

	if err := local.DeleteRecord(rec.ID); err != nil {
		t.Fatalf("DeleteRecord failed: %v", err)
	}

	result, err := engine.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	if result.Pushed != 1 {
		t.Errorf("Pushed = %d, want 1", result.Pushed)
	}
	if _, ok := remote.records[rec.ID]; ok {
		t.Error("record should be deleted on server")
	}
}

// TestSync_baseMismatchMerge verifies the three-way merge path: a
// rejected push is merged against the server state, the conflict is
// logged, and the merged snapshot is re-pushed.
func TestSync_baseMismatchMerge(t *testing.T) {
	engine, local, repo, remote := newTestEngine(t)
	handler := &testEventHandler{}
	engine.SetEventHandler(handler)

	rec, err := local.CreateRecord(models.EntityAssessment, models.Snapshot{
		"condition": "fair",
		"notes":     "original",
	})
	if err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}
	if _, err := engine.Sync(context.Background()); err != nil {
		t.Fatalf("Initial sync failed: %v", err)
	}

	// Another device changed condition; this device changed notes and
	// condition. condition conflicts, notes merges cleanly.
	if _, err := local.UpdateRecord(rec.ID, models.Snapshot{
		"condition": "poor",
		"notes":     "updated locally",
	}); err != nil {
		t.Fatalf("UpdateRecord failed: %v", err)
	}

	base := models.Snapshot{"condition": "fair", "notes": "original"}
	remote.mismatch[rec.ID] = &BaseMismatchError{
		Server: &RemoteRecord{
			ID:         rec.ID,
			EntityType: models.EntityAssessment,
			Fields:     models.Snapshot{"condition": "good", "notes": "original"},
			Version:    5,
			UpdatedAt:  time.Now().Unix(),
		},
		Base: base,
	}

	result, err := engine.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	if result.Conflicts != 1 {
		t.Errorf("Conflicts = %d, want 1", result.Conflicts)
	}
	if result.Pushed != 1 {
		t.Errorf("Pushed = %d, want 1", result.Pushed)
	}

	// Server keeps its value for the conflicting field, takes the local
	// value for the clean one.
	server := remote.records[rec.ID]
	if server.Fields["condition"] != "good" {
		t.Errorf("server condition = %v, want good (server wins conflict)", server.Fields["condition"])
	}
	if server.Fields["notes"] != "updated locally" {
		t.Errorf("server notes = %v, want local change applied", server.Fields["notes"])
	}

	got, err := local.GetRecord(rec.ID)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if got.SyncStatus != models.SyncStatusSynced {
		t.Errorf("status = %s, want synced", got.SyncStatus)
	}
	if got.Fields["condition"] != "good" {
		t.Errorf("local condition = %v, want server value", got.Fields["condition"])
	}

	logs, err := repo.ListConflictLogs(string(rec.ID))
	if err != nil {
		t.Fatalf("ListConflictLogs failed: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("conflict logs = %d, want 1", len(logs))
	}
	names, err := logs[0].FieldNames()
	if err != nil {
		t.Fatalf("FieldNames failed: %v", err)
	}
	if len(names) != 1 || names[0] != "condition" {
		t.Errorf("conflicting fields = %v, want [condition]", names)
	}

	time.Sleep(50 * time.Millisecond)
	if handler.count(SyncEventConflict) == 0 {
		t.Error("SyncEventConflict should have been emitted")
	}
}

// TestSync_photoUpload verifies queued photos are uploaded and marked
// synced.
func TestSync_photoUpload(t *testing.T) {
	engine, local, repo, remote := newTestEngine(t)

	rec, err := local.CreateRecord(models.EntityAssessment, models.Snapshot{"condition": "fair"})
	if err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}
	data := []byte("roof damage jpeg")
	photo, err := local.AddPhoto(rec.ID, data)
	if err != nil {
		t.Fatalf("AddPhoto failed: %v", err)
	}

	result, err := engine.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	// Assessment replays before the photo (higher priority), both count.
	if result.Pushed != 2 {
		t.Errorf("Pushed = %d, want 2", result.Pushed)
	}

	uploaded, ok := remote.photos[photo.ID]
	if !ok {
		t.Fatal("photo should be uploaded")
	}
	if string(uploaded) != string(data) {
		t.Error("uploaded bytes should match")
	}

	stored, err := repo.GetPhoto(string(photo.ID))
	if err != nil {
		t.Fatalf("GetPhoto failed: %v", err)
	}
	if stored.SyncStatus != models.SyncStatusSynced {
		t.Errorf("photo status = %s, want synced", stored.SyncStatus)
	}
}

// TestSync_replayOrder verifies assessments replay before photos.
func TestSync_replayOrder(t *testing.T) {
	engine, local, _, remote := newTestEngine(t)

	rec, err := local.CreateRecord(models.EntityAssessment, models.Snapshot{"condition": "fair"})
	if err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}
	if _, err := local.AddPhoto(rec.ID, []byte("capture")); err != nil {
		t.Fatalf("AddPhoto failed: %v", err)
	}

	// The record must reach the server before its photo does; the mock
	// records arrival order implicitly: photo upload requires nothing,
	// so check via the record existing once the photo arrives.
	if _, err := engine.Sync(context.Background()); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	if _, ok := remote.records[rec.ID]; !ok {
		t.Error("assessment should be on server")
	}
	if len(remote.photos) != 1 {
		t.Errorf("photos on server = %d, want 1", len(remote.photos))
	}
}

// TestSync_pushFailureRetries verifies a failed replay increments retry
// state without losing the mutation.
func TestSync_pushFailureRetries(t *testing.T) {
	engine, local, _, remote := newTestEngine(t)
	remote.pushErr = errors.New("server unavailable")

	rec, err := local.CreateRecord(models.EntityAssessment, models.Snapshot{"condition": "fair"})
	if err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}

	result, err := engine.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync should not fail outright on per-item errors: %v", err)
	}

	if result.Failed != 1 {
		t.Errorf("Failed = %d, want 1", result.Failed)
	}
	if result.Pushed != 0 {
		t.Errorf("Pushed = %d, want 0", result.Pushed)
	}

	got, err := local.GetRecord(rec.ID)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if got.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", got.RetryCount)
	}
	if got.SyncStatus != models.SyncStatusPending {
		t.Errorf("status = %s, want pending until retry budget exhausts", got.SyncStatus)
	}

	// The mutation stays queued for a later attempt.
	if local.Queue().Size() != 1 {
		t.Errorf("queue size = %d, want 1", local.Queue().Size())
	}

	history := engine.GetErrorHistory()
	if len(history) != 1 {
		t.Fatalf("error history = %d, want 1", len(history))
	}
	if history[0].RecordID != string(rec.ID) {
		t.Errorf("history record id = %s, want %s", history[0].RecordID, rec.ID)
	}
}

// clearQueueBackoff makes every pending queue item immediately ready
// again, so a test can drive repeated replay attempts without waiting
// out the exponential backoff.
func clearQueueBackoff(t *testing.T, q *queue.SyncQueue) {
	t.Helper()
	for _, item := range q.List() {
		if item.Status != string(queue.QueueStatusPending) {
			continue
		}
		item.NextRetryAt = 0
		if err := q.Remove(item.ID); err != nil {
			t.Fatalf("Remove failed: %v", err)
		}
		if err := q.Restore(item); err != nil {
			t.Fatalf("Restore failed: %v", err)
		}
	}
}

// TestSync_retryExhaustionParksMutation drives one mutation through its
// whole retry budget: the sync cycle must keep completing, other queued
// items must keep replaying, and once the budget is gone the record ends
// failed, the persisted queue row reflects it, and the cleanup sweep
// collects the record.
func TestSync_retryExhaustionParksMutation(t *testing.T) {
	engine, local, repo, remote := newTestEngine(t)

	poisoned, err := local.CreateRecord(models.EntityAssessment, models.Snapshot{"condition": "fair"})
	if err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}
	healthy, err := local.CreateRecord(models.EntityDeficiency, models.Snapshot{"severity": "high"})
	if err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}
	remote.pushErrFor[poisoned.ID] = errors.New("server rejects payload")

	// First cycle: the poisoned item fails but the healthy one behind it
	// still replays.
	result, err := engine.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if result.Failed != 1 {
		t.Errorf("Failed = %d, want 1", result.Failed)
	}
	if result.Pushed != 1 {
		t.Errorf("Pushed = %d, want 1 (healthy item must still replay)", result.Pushed)
	}
	got, err := local.GetRecord(healthy.ID)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if got.SyncStatus != models.SyncStatusSynced {
		t.Errorf("healthy record status = %s, want synced", got.SyncStatus)
	}

	// Burn the rest of the budget.
	for i := 1; i < queue.DefaultMaxRetries; i++ {
		clearQueueBackoff(t, local.Queue())
		result, err = engine.Sync(context.Background())
		if err != nil {
			t.Fatalf("Sync on attempt %d failed: %v", i+1, err)
		}
		if result.Failed != 1 {
			t.Errorf("attempt %d: Failed = %d, want 1", i+1, result.Failed)
		}
	}

	got, err = local.GetRecord(poisoned.ID)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if got.SyncStatus != models.SyncStatusFailed {
		t.Errorf("record status = %s, want failed after budget exhausted", got.SyncStatus)
	}
	if got.RetryCount != queue.DefaultMaxRetries {
		t.Errorf("record retry count = %d, want %d", got.RetryCount, queue.DefaultMaxRetries)
	}

	stats := local.Queue().GetStats()
	if stats["failed"] != 1 {
		t.Errorf("queue failed count = %d, want 1", stats["failed"])
	}

	// The parked state must be persisted, or a restart would resurrect
	// the item and poison every future cycle.
	rows, err := repo.ListQueueItems()
	if err != nil {
		t.Fatalf("ListQueueItems failed: %v", err)
	}
	var row *models.SyncQueueItem
	for _, r := range rows {
		if r.RecordID == poisoned.ID {
			row = r
		}
	}
	if row == nil {
		t.Fatal("persisted queue row for poisoned record not found")
	}
	if row.Status != string(queue.QueueStatusFailed) {
		t.Errorf("persisted row status = %s, want failed", row.Status)
	}
	if row.RetryCount != queue.DefaultMaxRetries {
		t.Errorf("persisted row retry count = %d, want %d", row.RetryCount, queue.DefaultMaxRetries)
	}

	// A parked item no longer blocks the sync cycle.
	result, err = engine.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync after parking failed: %v", err)
	}
	if result.Failed != 0 {
		t.Errorf("Failed = %d, want 0 once the item is parked", result.Failed)
	}

	// The failed record is now the cleanup sweep's problem.
	ids, err := local.RunCleanup(time.Now())
	if err != nil {
		t.Fatalf("RunCleanup failed: %v", err)
	}
	found := false
	for _, id := range ids {
		if id == poisoned.ID {
			found = true
		}
	}
	if !found {
		t.Errorf("cleanup ids = %v, should include %s", ids, poisoned.ID)
	}
	if _, err := local.GetRecord(poisoned.ID); err == nil {
		t.Error("failed record should be gone after cleanup")
	}
}

// TestSync_retryExhaustionConfiguredBudget verifies the retry budget is
// single-sourced: with a non-default budget the queue item and the
// record run out of attempts together, so the record still ends failed
// and eligible for cleanup.
func TestSync_retryExhaustionConfiguredBudget(t *testing.T) {
	cfg := store.DefaultConfig()
	cfg.MaxRetries = 5
	engine, local, _, remote := newTestEngineWith(t, cfg)

	rec, err := local.CreateRecord(models.EntityAssessment, models.Snapshot{"condition": "fair"})
	if err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}
	remote.pushErrFor[rec.ID] = errors.New("server rejects payload")

	for i := 0; i < cfg.MaxRetries; i++ {
		if i > 0 {
			clearQueueBackoff(t, local.Queue())
		}
		result, err := engine.Sync(context.Background())
		if err != nil {
			t.Fatalf("Sync on attempt %d failed: %v", i+1, err)
		}
		if result.Failed != 1 {
			t.Errorf("attempt %d: Failed = %d, want 1", i+1, result.Failed)
		}

		got, err := local.GetRecord(rec.ID)
		if err != nil {
			t.Fatalf("GetRecord failed: %v", err)
		}
		if i < cfg.MaxRetries-1 && got.SyncStatus != models.SyncStatusPending {
			t.Errorf("attempt %d: record status = %s, want pending until budget exhausted", i+1, got.SyncStatus)
		}
	}

	got, err := local.GetRecord(rec.ID)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if got.SyncStatus != models.SyncStatusFailed {
		t.Errorf("record status = %s, want failed after %d attempts", got.SyncStatus, cfg.MaxRetries)
	}
	if got.RetryCount != cfg.MaxRetries {
		t.Errorf("record retry count = %d, want %d", got.RetryCount, cfg.MaxRetries)
	}
	if stats := local.Queue().GetStats(); stats["failed"] != 1 {
		t.Errorf("queue failed count = %d, want 1", stats["failed"])
	}

	ids, err := local.RunCleanup(time.Now())
	if err != nil {
		t.Fatalf("RunCleanup failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != rec.ID {
		t.Errorf("cleanup ids = %v, want [%s]", ids, rec.ID)
	}
}

// TestSync_pullNewRecord verifies server-side records are created
// locally as synced.
func TestSync_pullNewRecord(t *testing.T) {
	engine, local, _, remote := newTestEngine(t)

	remote.listResp = []*RemoteRecord{
		{
			ID:         "srv-1",
			EntityType: models.EntityAssessment,
			Fields:     models.Snapshot{"condition": "good"},
			Version:    3,
			UpdatedAt:  time.Now().Unix(),
		},
	}

	result, err := engine.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	if result.Pulled != 1 {
		t.Errorf("Pulled = %d, want 1", result.Pulled)
	}

	got, err := local.GetRecord("srv-1")
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if got.SyncStatus != models.SyncStatusSynced {
		t.Errorf("status = %s, want synced", got.SyncStatus)
	}
	if got.Version != 3 {
		t.Errorf("version = %d, want 3", got.Version)
	}
}

// TestSync_pullSkipsLocallyModified verifies the pull phase never
// overwrites unsynced local edits.
func TestSync_pullSkipsLocallyModified(t *testing.T) {
	engine, local, _, remote := newTestEngine(t)

	rec, err := local.CreateRecord(models.EntityAssessment, models.Snapshot{"condition": "fair"})
	if err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}
	if _, err := engine.Sync(context.Background()); err != nil {
		t.Fatalf("Initial sync failed: %v", err)
	}
	if _, err := local.UpdateRecord(rec.ID, models.Snapshot{"condition": "poor"}); err != nil {
		t.Fatalf("UpdateRecord failed: %v", err)
	}

	// Hold the local edit in the queue so it stays pending, and have
	// the server report a newer version for the same record.
	remote.mismatch[rec.ID] = &BaseMismatchError{
		Server: &RemoteRecord{ID: rec.ID, Fields: models.Snapshot{"condition": "good"}, Version: 9},
		Base:   models.Snapshot{"condition": "fair"},
	}
	remote.listResp = []*RemoteRecord{
		{ID: rec.ID, EntityType: models.EntityAssessment, Fields: models.Snapshot{"condition": "good"}, Version: 9},
	}

	if _, err := engine.Sync(context.Background()); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	got, err := local.GetRecord(rec.ID)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	// The push path already reconciled to the server's state; pull must
	// not have clobbered anything beyond that.
	if got.Version != 10 {
		t.Errorf("version = %d, want 10 (merged push onto server v9)", got.Version)
	}
}

// TestSync_pullDeleted verifies server-side deletions propagate to
// synced local records.
func TestSync_pullDeleted(t *testing.T) {
	engine, local, _, remote := newTestEngine(t)

	rec, err := local.CreateRecord(models.EntityAssessment, models.Snapshot{"condition": "fair"})
	if err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}
	if _, err := engine.Sync(context.Background()); err != nil {
		t.Fatalf("Initial sync failed: %v", err)
	}

	remote.listResp = []*RemoteRecord{
		{ID: rec.ID, EntityType: models.EntityAssessment, Deleted: true, Version: 2},
	}

	result, err := engine.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if result.Pulled != 1 {
		t.Errorf("Pulled = %d, want 1", result.Pulled)
	}

	if _, err := local.GetRecord(rec.ID); err == nil {
		t.Error("record should be deleted locally after server deletion")
	}
}

// TestGetErrorHistory verifies history copy semantics and capping.
func TestGetErrorHistory(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)

	history := engine.GetErrorHistory()
	if history == nil {
		t.Error("history should not be nil")
	}
	if len(history) != 0 {
		t.Errorf("history length = %d, want 0", len(history))
	}

	engine.recordError("item1", "upload", errors.New("test error"))
	engine.recordError("item2", "download", errors.New("another error"))

	history = engine.GetErrorHistory()
	if len(history) != 2 {
		t.Errorf("history length = %d, want 2", len(history))
	}

	// Verify it returns a copy, not the original slice.
	history[0] = SyncErrorEntry{}
	newHistory := engine.GetErrorHistory()
	if newHistory[0].RecordID != "item1" {
		t.Error("modifying returned history affected original")
	}

	for i := 0; i < 150; i++ {
		engine.recordError("item", "test", errors.New("test error"))
	}
	if len(engine.GetErrorHistory()) > maxErrorHistory {
		t.Errorf("history should be capped at %d", maxErrorHistory)
	}
}

// TestClearErrorHistory verifies error history clearing.
func TestClearErrorHistory(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)

	engine.recordError("item1", "upload", errors.New("test error"))
	engine.ClearErrorHistory()

	if len(engine.GetErrorHistory()) != 0 {
		t.Error("history should be empty after clear")
	}
}

// TestSync_contextCancellation verifies sync respects context
// cancellation during replay.
func TestSync_contextCancellation(t *testing.T) {
	engine, local, _, _ := newTestEngine(t)

	if _, err := local.CreateRecord(models.EntityAssessment, models.Snapshot{"condition": "fair"}); err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Sync(ctx)
	if err == nil {
		t.Fatal("Sync should fail with cancelled context")
	}
	if engine.Status() != SyncStatusFailed {
		t.Errorf("status = %s, want SyncStatusFailed", engine.Status())
	}
	if engine.LastError() == nil {
		t.Error("LastError should be set")
	}
}
