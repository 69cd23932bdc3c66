// Package store provides the local record store, storage accounting, and
// the eviction and cleanup policies that keep the field client inside its
// storage budget.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/buildwise/fieldsync/internal/db"
	apperrors "github.com/buildwise/fieldsync/internal/errors"
	"github.com/buildwise/fieldsync/internal/logging"
	"github.com/buildwise/fieldsync/internal/models"
	"github.com/buildwise/fieldsync/internal/sync/delta"
	"github.com/buildwise/fieldsync/internal/sync/queue"
	"github.com/buildwise/fieldsync/internal/uuid"
)

// Config bounds the store's resource usage.
type Config struct {
	MaxSizeMB  int // local storage budget
	MaxAgeDays int // TTL for synced records before cleanup
	MaxRetries int // retry budget before a record is parked as failed
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{
		MaxSizeMB:  500,
		MaxAgeDays: 30,
		MaxRetries: 3,
	}
}

// Store is the offline-capable local record store. Mutations are persisted
// as pending records and their field-level deltas are enqueued for replay.
// A Store is constructed with its dependencies and has no hidden global
// state.
type Store struct {
	repo  db.StoreRepository
	queue *queue.SyncQueue
	blobs *PhotoBlobStore
	cfg   Config
}

// New creates a Store over the given repository, queue, and blob store.
func New(repo db.StoreRepository, q *queue.SyncQueue, blobs *PhotoBlobStore, cfg Config) *Store {
	return &Store{
		repo:  repo,
		queue: q,
		blobs: blobs,
		cfg:   cfg,
	}
}

// Queue exposes the sync queue for the engine and scheduler.
func (s *Store) Queue() *queue.SyncQueue {
	return s.queue
}

// CreateRecord captures a new entity offline. The record starts pending
// and a create mutation carrying the full field set is enqueued.
func (s *Store) CreateRecord(entityType models.EntityType, fields models.Snapshot) (*models.Record, error) {
	now := time.Now().Unix()

	rec := &models.Record{
		ID:         models.UUID(uuid.New()),
		EntityType: entityType,
		Fields:     cloneSnapshot(fields),
		SyncStatus: models.SyncStatusPending,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.repo.CreateRecord(rec); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to persist record", err)
	}

	payload, err := json.Marshal(rec.Fields)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrRecordInvalid, "failed to encode fields", err)
	}

	if err := s.enqueue(rec, queue.OperationCreate, payload); err != nil {
		return nil, err
	}

	s.logChange(rec, "create")

	return rec, nil
}

// UpdateRecord applies new field values to a record. The delta between the
// stored and updated fields is computed; if nothing changed the record is
// returned untouched, otherwise the record goes back to pending and the
// delta is enqueued for replay.
func (s *Store) UpdateRecord(id models.UUID, fields models.Snapshot) (*models.Record, error) {
	rec, err := s.GetRecord(id)
	if err != nil {
		return nil, err
	}

	changes := delta.Compute(rec.Fields, fields)
	if len(changes) == 0 {
		return rec, nil
	}

	rec.Fields = cloneSnapshot(fields)
	rec.SyncStatus = models.SyncStatusPending
	rec.SyncError = ""
	rec.Touch()

	if err := s.repo.UpdateRecord(rec); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to update record", err)
	}

	payload, err := json.Marshal(changes)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrRecordInvalid, "failed to encode delta", err)
	}

	if err := s.enqueue(rec, queue.OperationUpdate, payload); err != nil {
		return nil, err
	}

	s.logChange(rec, "update")

	logging.Debug("Record updated",
		map[string]interface{}{
			"record_id":     rec.ID,
			"changed_count": len(changes),
		})

	return rec, nil
}

// DeleteRecord removes a record locally and enqueues a delete mutation.
func (s *Store) DeleteRecord(id models.UUID) error {
	rec, err := s.GetRecord(id)
	if err != nil {
		return err
	}

	if err := s.repo.DeleteRecord(string(id)); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to delete record", err)
	}

	if err := s.enqueue(rec, queue.OperationDelete, nil); err != nil {
		return err
	}

	s.logChange(rec, "delete")

	return nil
}

// GetRecord retrieves a record by ID.
func (s *Store) GetRecord(id models.UUID) (*models.Record, error) {
	rec, err := s.repo.GetRecord(string(id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.New(apperrors.ErrRecordNotFound, "record not found: "+string(id))
		}
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to load record", err)
	}
	return rec, nil
}

// ListBySyncStatus returns records in the given sync state.
func (s *Store) ListBySyncStatus(status models.SyncStatus) ([]*models.Record, error) {
	records, err := s.repo.ListRecordsBySyncStatus(status)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list records", err)
	}
	return records, nil
}

// MarkSynced transitions a record to synced with the server's canonical
// version, clearing the retry state.
func (s *Store) MarkSynced(id models.UUID, version int64, fields models.Snapshot) error {
	rec, err := s.GetRecord(id)
	if err != nil {
		return err
	}

	if fields != nil {
		rec.Fields = cloneSnapshot(fields)
	}
	rec.SyncStatus = models.SyncStatusSynced
	rec.RetryCount = 0
	rec.SyncError = ""
	rec.Version = version
	rec.UpdatedAt = time.Now().Unix()

	if err := s.repo.UpdateRecord(rec); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to mark record synced", err)
	}

	return nil
}

// MarkFailed records a failed replay attempt. The record transitions to
// failed once the retry budget is exhausted; until then it stays pending.
func (s *Store) MarkFailed(id models.UUID, cause error) error {
	rec, err := s.GetRecord(id)
	if err != nil {
		return err
	}

	rec.RetryCount++
	rec.SyncError = cause.Error()
	rec.UpdatedAt = time.Now().Unix()

	if rec.RetryCount >= s.cfg.MaxRetries {
		rec.SyncStatus = models.SyncStatusFailed
	}

	if err := s.repo.UpdateRecord(rec); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to mark record failed", err)
	}

	if rec.SyncStatus == models.SyncStatusFailed {
		logging.ErrorWithCode("Record parked as failed", string(apperrors.ErrRetriesExhausted), cause,
			map[string]interface{}{
				"record_id":   rec.ID,
				"retry_count": rec.RetryCount,
			})
	}

	return nil
}

// =====================================================
// Photos
// =====================================================

// AddPhoto stores photo bytes in the blob store and creates the pending
// metadata row.
func (s *Store) AddPhoto(recordID models.UUID, data []byte) (*models.Photo, error) {
	hash, err := s.blobs.Store(data)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to store photo blob", err)
	}

	now := time.Now().Unix()
	photo := &models.Photo{
		ID:           models.UUID(uuid.New()),
		RecordID:     recordID,
		ContentHash:  hash,
		SizeBytes:    int64(len(data)),
		SyncStatus:   models.SyncStatusPending,
		LastAccessed: now,
		CreatedAt:    now,
	}

	if err := s.repo.CreatePhoto(photo); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to persist photo", err)
	}

	payload, _ := json.Marshal(map[string]string{"photo_id": string(photo.ID), "content_hash": hash})

	item, err := s.queue.Enqueue(models.EntityPhoto, photo.ID, queue.OperationCreate, payload, queue.PriorityFor(models.EntityPhoto))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrQueueFull, "failed to enqueue photo upload", err)
	}
	if err := s.repo.SaveQueueItem(item); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to persist queue item", err)
	}

	return photo, nil
}

// GetPhotoData reads photo bytes by ID and refreshes its access time for
// the LRU eviction policy.
func (s *Store) GetPhotoData(id models.UUID) ([]byte, error) {
	photo, err := s.repo.GetPhoto(string(id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.New(apperrors.ErrPhotoNotFound, "photo not found: "+string(id))
		}
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to load photo", err)
	}

	data, err := s.blobs.Retrieve(photo.ContentHash)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrBlobCorrupted, "failed to read photo blob", err)
	}

	if err := s.repo.TouchPhotoAccess(string(id), time.Now().Unix()); err != nil {
		logging.Warn("Failed to touch photo access time",
			map[string]interface{}{"photo_id": id, "error": err.Error()})
	}

	return data, nil
}

// MarkPhotoSynced transitions a photo to synced after a successful upload.
func (s *Store) MarkPhotoSynced(id models.UUID) error {
	photo, err := s.repo.GetPhoto(string(id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.New(apperrors.ErrPhotoNotFound, "photo not found: "+string(id))
		}
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to load photo", err)
	}

	photo.SyncStatus = models.SyncStatusSynced
	if err := s.repo.UpdatePhoto(photo); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to mark photo synced", err)
	}

	return nil
}

// EvictPhotos removes up to count synced, least-recently-accessed photos
// from local storage. Pending photos are never evicted. Returns the ids of
// evicted photos.
func (s *Store) EvictPhotos(count int) ([]models.UUID, error) {
	photos, err := s.repo.ListPhotos()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list photos", err)
	}

	victims := LRUPhotos(photos, count)

	byID := make(map[models.UUID]*models.Photo, len(photos))
	for _, p := range photos {
		byID[p.ID] = p
	}

	evicted := make([]models.UUID, 0, len(victims))
	for _, id := range victims {
		photo := byID[id]

		if err := s.blobs.Delete(photo.ContentHash); err != nil {
			logging.Warn("Failed to delete photo blob",
				map[string]interface{}{"photo_id": id, "error": err.Error()})
			continue
		}
		if err := s.repo.DeletePhoto(string(id)); err != nil {
			return evicted, apperrors.Wrap(apperrors.ErrDatabase, "failed to delete photo row", err)
		}

		evicted = append(evicted, id)
	}

	if len(evicted) > 0 {
		logging.Info("Evicted cached photos",
			map[string]interface{}{"count": len(evicted)})
	}

	return evicted, nil
}

// =====================================================
// Cleanup and Usage
// =====================================================

// RunCleanup deletes synced records older than the TTL and failed records
// that exhausted their retries. Returns the ids of deleted records.
func (s *Store) RunCleanup(now time.Time) ([]models.UUID, error) {
	synced, err := s.repo.ListRecordsBySyncStatus(models.SyncStatusSynced)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list synced records", err)
	}
	failed, err := s.repo.ListRecordsBySyncStatus(models.SyncStatusFailed)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list failed records", err)
	}

	candidates := append(append([]*models.Record{}, synced...), failed...)
	ids := ItemsToCleanup(candidates, s.cfg.MaxAgeDays, s.cfg.MaxRetries, now)

	for _, id := range ids {
		if err := s.repo.DeleteRecord(string(id)); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to delete record", err)
		}
	}

	if len(ids) > 0 {
		logging.Info("Cleanup sweep removed stale records",
			map[string]interface{}{"count": len(ids)})
	}

	return ids, nil
}

// Usage reports local storage consumption against the configured budget.
func (s *Store) Usage() (*Usage, error) {
	assessRecords, err := s.repo.ListRecords(models.EntityAssessment)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list assessments", err)
	}
	defRecords, err := s.repo.ListRecords(models.EntityDeficiency)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list deficiencies", err)
	}
	photos, err := s.repo.ListPhotos()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list photos", err)
	}
	cache, err := s.repo.ListCacheEntries()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list cache entries", err)
	}

	assessments := make([]*models.Assessment, 0, len(assessRecords))
	for _, r := range assessRecords {
		assessments = append(assessments, &models.Assessment{ID: r.ID, SizeBytes: recordSize(r)})
	}
	deficiencies := make([]*models.Deficiency, 0, len(defRecords))
	for _, r := range defRecords {
		deficiencies = append(deficiencies, &models.Deficiency{ID: r.ID, SizeBytes: recordSize(r)})
	}

	return CalculateUsage(assessments, photos, deficiencies, cache, s.cfg.MaxSizeMB), nil
}

// RestoreQueue reloads persisted queue rows into the in-memory queue,
// called once at startup.
func (s *Store) RestoreQueue() (int, error) {
	items, err := s.repo.ListQueueItems()
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to load queue items", err)
	}

	restored := 0
	for _, item := range items {
		if item.Status == string(queue.QueueStatusCompleted) {
			continue
		}
		if err := s.queue.Restore(item); err != nil {
			return restored, apperrors.Wrap(apperrors.ErrQueueFull, "failed to restore queue item", err)
		}
		restored++
	}

	return restored, nil
}

// enqueue adds a record mutation to the in-memory queue and persists the
// row so pending work survives restarts.
func (s *Store) enqueue(rec *models.Record, op queue.Operation, payload []byte) error {
	item, err := s.queue.Enqueue(rec.EntityType, rec.ID, op, payload, queue.PriorityFor(rec.EntityType))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrQueueFull, "failed to enqueue mutation", err)
	}

	if err := s.repo.SaveQueueItem(item); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to persist queue item", err)
	}

	return nil
}

func (s *Store) logChange(rec *models.Record, op string) {
	entry := &models.ChangeLog{
		ID:        models.UUID(uuid.New()),
		RecordID:  rec.ID,
		Operation: op,
		Version:   rec.Version,
		Timestamp: time.Now().Unix(),
	}
	if err := s.repo.CreateChangeLog(entry); err != nil {
		logging.Warn("Failed to write change log",
			map[string]interface{}{"record_id": rec.ID, "error": err.Error()})
	}
}

func recordSize(r *models.Record) int64 {
	data, err := json.Marshal(r.Fields)
	if err != nil {
		return 0
	}
	return int64(len(data))
}

func cloneSnapshot(s models.Snapshot) models.Snapshot {
	cp := make(models.Snapshot, len(s))
	for k, v := range s {
		cp[k] = v
	}
	return cp
}
