// Package store provides integration-style tests for the Store facade
// over an in-memory database.
package store

import (
	"bytes"
	"testing"
	"time"

	"github.com/buildwise/fieldsync/internal/db"
	apperrors "github.com/buildwise/fieldsync/internal/errors"
	"github.com/buildwise/fieldsync/internal/models"
	"github.com/buildwise/fieldsync/internal/sync/queue"
)

func newTestStore(t *testing.T) (*Store, *db.Repository) {
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
	cfg := DefaultConfig()
	s := New(repo, queue.NewSyncQueue(100, cfg.MaxRetries), NewPhotoBlobStore(t.TempDir()), cfg)
	return s, repo
}

// TestCreateRecordStartsPending tests that a new record is created
// pending with a queued create mutation.
func TestCreateRecordStartsPending(t *testing.T) {
	s, _ := newTestStore(t)

	rec, err := s.CreateRecord(models.EntityAssessment, models.Snapshot{"condition": "fair"})
	if err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}

	if rec.SyncStatus != models.SyncStatusPending {
		t.Errorf("Expected pending status, got %s", rec.SyncStatus)
	}
	if rec.Version != 1 {
		t.Errorf("Expected version 1, got %d", rec.Version)
	}

	if s.Queue().Size() != 1 {
		t.Errorf("Expected 1 queued mutation, got %d", s.Queue().Size())
	}

	got, err := s.GetRecord(rec.ID)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if got.Fields["condition"] != "fair" {
		t.Errorf("Expected persisted field, got %v", got.Fields)
	}
}

// TestUpdateRecordNoChange tests that an identical update enqueues
// nothing.
func TestUpdateRecordNoChange(t *testing.T) {
	s, _ := newTestStore(t)

	rec, err := s.CreateRecord(models.EntityAssessment, models.Snapshot{"condition": "fair"})
	if err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}
	before := s.Queue().Size()

	got, err := s.UpdateRecord(rec.ID, models.Snapshot{"condition": "fair"})
	if err != nil {
		t.Fatalf("UpdateRecord failed: %v", err)
	}

	if got.Version != rec.Version {
		t.Errorf("Expected version unchanged on no-op update")
	}
	if s.Queue().Size() != before {
		t.Errorf("Expected no new queue item for no-op update")
	}
}

// TestUpdateRecordEnqueuesDelta tests that a real change bumps the
// version and enqueues an update mutation.
func TestUpdateRecordEnqueuesDelta(t *testing.T) {
	s, _ := newTestStore(t)

	rec, err := s.CreateRecord(models.EntityAssessment, models.Snapshot{"condition": "fair", "notes": "ok"})
	if err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}

	got, err := s.UpdateRecord(rec.ID, models.Snapshot{"condition": "poor", "notes": "ok"})
	if err != nil {
		t.Fatalf("UpdateRecord failed: %v", err)
	}

	if got.Version != rec.Version+1 {
		t.Errorf("Expected version bump, got %d", got.Version)
	}
	if got.SyncStatus != models.SyncStatusPending {
		t.Errorf("Expected pending after update, got %s", got.SyncStatus)
	}
	if s.Queue().Size() != 2 {
		t.Errorf("Expected create + update queued, got %d", s.Queue().Size())
	}
}

// TestDeleteRecord tests local deletion with a queued delete mutation.
func TestDeleteRecord(t *testing.T) {
	s, _ := newTestStore(t)

	rec, err := s.CreateRecord(models.EntityDeficiency, models.Snapshot{"severity": "high"})
	if err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}

	if err := s.DeleteRecord(rec.ID); err != nil {
		t.Fatalf("DeleteRecord failed: %v", err)
	}

	_, err = s.GetRecord(rec.ID)
	if apperrors.CodeOf(err) != apperrors.ErrRecordNotFound {
		t.Errorf("Expected record not found, got %v", err)
	}
	if s.Queue().Size() != 2 {
		t.Errorf("Expected create + delete queued, got %d", s.Queue().Size())
	}
}

// TestGetRecordNotFound tests the not-found error code.
func TestGetRecordNotFound(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.GetRecord("missing")
	if apperrors.CodeOf(err) != apperrors.ErrRecordNotFound {
		t.Errorf("Expected %s, got %v", apperrors.ErrRecordNotFound, err)
	}
}

// TestMarkSynced tests the synced transition clearing retry state.
func TestMarkSynced(t *testing.T) {
	s, _ := newTestStore(t)

	rec, err := s.CreateRecord(models.EntityAssessment, models.Snapshot{"condition": "fair"})
	if err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}

	if err := s.MarkFailed(rec.ID, apperrors.New(apperrors.ErrSyncFailed, "network down")); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	if err := s.MarkSynced(rec.ID, 7, models.Snapshot{"condition": "good"}); err != nil {
		t.Fatalf("MarkSynced failed: %v", err)
	}

	got, err := s.GetRecord(rec.ID)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if got.SyncStatus != models.SyncStatusSynced {
		t.Errorf("Expected synced, got %s", got.SyncStatus)
	}
	if got.Version != 7 {
		t.Errorf("Expected server version 7, got %d", got.Version)
	}
	if got.RetryCount != 0 || got.SyncError != "" {
		t.Errorf("Expected retry state cleared, got count=%d error=%q", got.RetryCount, got.SyncError)
	}
	if got.Fields["condition"] != "good" {
		t.Errorf("Expected canonical server fields, got %v", got.Fields)
	}
}

// TestMarkFailedParksAfterBudget tests the pending-to-failed transition
// at the retry budget.
func TestMarkFailedParksAfterBudget(t *testing.T) {
	s, _ := newTestStore(t)

	rec, err := s.CreateRecord(models.EntityAssessment, models.Snapshot{"condition": "fair"})
	if err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}

	cause := apperrors.New(apperrors.ErrSyncFailed, "server rejected")
	for i := 0; i < DefaultConfig().MaxRetries; i++ {
		got, err := s.GetRecord(rec.ID)
		if err != nil {
			t.Fatalf("GetRecord failed: %v", err)
		}
		if i < DefaultConfig().MaxRetries && got.SyncStatus == models.SyncStatusFailed {
			t.Fatalf("Record failed early at retry %d", i)
		}
		if err := s.MarkFailed(rec.ID, cause); err != nil {
			t.Fatalf("MarkFailed failed: %v", err)
		}
	}

	got, err := s.GetRecord(rec.ID)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if got.SyncStatus != models.SyncStatusFailed {
		t.Errorf("Expected failed after budget, got %s", got.SyncStatus)
	}
	if got.RetryCount != DefaultConfig().MaxRetries {
		t.Errorf("Expected retry count %d, got %d", DefaultConfig().MaxRetries, got.RetryCount)
	}
	if got.SyncError == "" {
		t.Error("Expected sync error preserved")
	}
}

// TestPhotoLifecycle tests add, read-with-access-touch, and synced
// transition for photos.
func TestPhotoLifecycle(t *testing.T) {
	s, repo := newTestStore(t)

	rec, err := s.CreateRecord(models.EntityAssessment, models.Snapshot{"condition": "fair"})
	if err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}

	data := []byte("roof damage jpeg")
	photo, err := s.AddPhoto(rec.ID, data)
	if err != nil {
		t.Fatalf("AddPhoto failed: %v", err)
	}

	if photo.SyncStatus != models.SyncStatusPending {
		t.Errorf("Expected pending photo, got %s", photo.SyncStatus)
	}
	if photo.SizeBytes != int64(len(data)) {
		t.Errorf("Expected size %d, got %d", len(data), photo.SizeBytes)
	}

	got, err := s.GetPhotoData(photo.ID)
	if err != nil {
		t.Fatalf("GetPhotoData failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("Expected photo bytes round-trip")
	}

	if err := s.MarkPhotoSynced(photo.ID); err != nil {
		t.Fatalf("MarkPhotoSynced failed: %v", err)
	}
	stored, err := repo.GetPhoto(string(photo.ID))
	if err != nil {
		t.Fatalf("GetPhoto failed: %v", err)
	}
	if stored.SyncStatus != models.SyncStatusSynced {
		t.Errorf("Expected synced photo, got %s", stored.SyncStatus)
	}
}

// TestEvictPhotosSkipsPending tests that eviction removes only synced
// photos, oldest access first.
func TestEvictPhotosSkipsPending(t *testing.T) {
	s, repo := newTestStore(t)

	rec, err := s.CreateRecord(models.EntityAssessment, models.Snapshot{"condition": "fair"})
	if err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}

	pending, err := s.AddPhoto(rec.ID, []byte("pending capture"))
	if err != nil {
		t.Fatalf("AddPhoto failed: %v", err)
	}
	synced, err := s.AddPhoto(rec.ID, []byte("synced capture"))
	if err != nil {
		t.Fatalf("AddPhoto failed: %v", err)
	}
	if err := s.MarkPhotoSynced(synced.ID); err != nil {
		t.Fatalf("MarkPhotoSynced failed: %v", err)
	}

	evicted, err := s.EvictPhotos(5)
	if err != nil {
		t.Fatalf("EvictPhotos failed: %v", err)
	}

	if len(evicted) != 1 || evicted[0] != synced.ID {
		t.Errorf("Expected only synced photo evicted, got %v", evicted)
	}

	if _, err := repo.GetPhoto(string(pending.ID)); err != nil {
		t.Errorf("Expected pending photo to survive: %v", err)
	}
	if _, err := s.GetPhotoData(synced.ID); err == nil {
		t.Error("Expected evicted photo data gone")
	}
}

// TestRunCleanup tests the sweep over stale synced and exhausted failed
// records.
func TestRunCleanup(t *testing.T) {
	s, repo := newTestStore(t)

	stale, err := s.CreateRecord(models.EntityAssessment, models.Snapshot{"condition": "fair"})
	if err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}
	if err := s.MarkSynced(stale.ID, 2, nil); err != nil {
		t.Fatalf("MarkSynced failed: %v", err)
	}

	// Backdate past the TTL.
	rec, err := repo.GetRecord(string(stale.ID))
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	rec.UpdatedAt = time.Now().Add(-40 * 24 * time.Hour).Unix()
	if err := repo.UpdateRecord(rec); err != nil {
		t.Fatalf("UpdateRecord failed: %v", err)
	}

	fresh, err := s.CreateRecord(models.EntityAssessment, models.Snapshot{"condition": "good"})
	if err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}

	ids, err := s.RunCleanup(time.Now())
	if err != nil {
		t.Fatalf("RunCleanup failed: %v", err)
	}

	if len(ids) != 1 || ids[0] != stale.ID {
		t.Errorf("Expected only stale record removed, got %v", ids)
	}
	if _, err := s.GetRecord(fresh.ID); err != nil {
		t.Errorf("Expected pending record untouched: %v", err)
	}
}

// TestUsageCountsAllCategories tests usage accounting over the live
// database.
func TestUsageCountsAllCategories(t *testing.T) {
	s, repo := newTestStore(t)

	rec, err := s.CreateRecord(models.EntityAssessment, models.Snapshot{"condition": "fair"})
	if err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}
	if _, err := s.AddPhoto(rec.ID, []byte("capture")); err != nil {
		t.Fatalf("AddPhoto failed: %v", err)
	}
	if err := repo.PutCacheEntry(&models.CacheEntry{Key: "projects", SizeBytes: 64}); err != nil {
		t.Fatalf("PutCacheEntry failed: %v", err)
	}

	u, err := s.Usage()
	if err != nil {
		t.Fatalf("Usage failed: %v", err)
	}

	if u.AssessmentBytes == 0 {
		t.Error("Expected assessment bytes counted")
	}
	if u.PhotoBytes != int64(len("capture")) {
		t.Errorf("Expected photo bytes %d, got %d", len("capture"), u.PhotoBytes)
	}
	if u.CacheBytes != 64 {
		t.Errorf("Expected cache bytes 64, got %d", u.CacheBytes)
	}
	if u.TotalBytes != u.AssessmentBytes+u.PhotoBytes+u.DeficiencyBytes+u.CacheBytes {
		t.Error("Expected total to equal category sum")
	}
}

// TestRestoreQueue tests that persisted queue rows are reloaded at
// startup.
func TestRestoreQueue(t *testing.T) {
	s, repo := newTestStore(t)

	if _, err := s.CreateRecord(models.EntityAssessment, models.Snapshot{"condition": "fair"}); err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}

	// Simulate a restart with a fresh in-memory queue over the same rows.
	restarted := New(repo, queue.NewSyncQueue(100, DefaultConfig().MaxRetries), NewPhotoBlobStore(t.TempDir()), DefaultConfig())

	n, err := restarted.RestoreQueue()
	if err != nil {
		t.Fatalf("RestoreQueue failed: %v", err)
	}

	if n != 1 {
		t.Errorf("Expected 1 restored item, got %d", n)
	}
	if restarted.Queue().Size() != 1 {
		t.Errorf("Expected queue size 1 after restore, got %d", restarted.Queue().Size())
	}
}
