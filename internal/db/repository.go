// Package db provides CRUD repository operations for FieldSync data models.
package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/buildwise/fieldsync/internal/models"
)

// Repository provides CRUD operations for all models.
// Statements are prepared on first use and cached for reuse.
type Repository struct {
	db *sql.DB

	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewRepository creates a new Repository instance.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// PrepareStmt gets or creates a prepared statement from cache.
func (r *Repository) PrepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		// Another goroutine already prepared this, close our duplicate.
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}

	return stmt, nil
}

// Close closes all cached prepared statements.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// =====================================================
// Record Operations
// =====================================================

// CreateRecord creates a new record.
func (r *Repository) CreateRecord(rec *models.Record) error {
	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("failed to marshal fields: %w", err)
	}

	stmt, err := r.PrepareStmt(`INSERT INTO records
		(id, entity_type, fields, sync_status, retry_count, sync_error, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}

	_, err = stmt.Exec(rec.ID, rec.EntityType, string(fields), rec.SyncStatus,
		rec.RetryCount, rec.SyncError, rec.Version, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create record: %w", err)
	}

	return nil
}

// GetRecord retrieves a record by ID. Returns sql.ErrNoRows when absent.
func (r *Repository) GetRecord(id string) (*models.Record, error) {
	stmt, err := r.PrepareStmt(`SELECT id, entity_type, fields, sync_status, retry_count, sync_error, version, created_at, updated_at
		FROM records WHERE id = ?`)
	if err != nil {
		return nil, err
	}

	return scanRecord(stmt.QueryRow(id))
}

// UpdateRecord updates an existing record.
func (r *Repository) UpdateRecord(rec *models.Record) error {
	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("failed to marshal fields: %w", err)
	}

	stmt, err := r.PrepareStmt(`UPDATE records SET
		entity_type = ?, fields = ?, sync_status = ?, retry_count = ?, sync_error = ?, version = ?, updated_at = ?
		WHERE id = ?`)
	if err != nil {
		return err
	}

	res, err := stmt.Exec(rec.EntityType, string(fields), rec.SyncStatus,
		rec.RetryCount, rec.SyncError, rec.Version, rec.UpdatedAt, rec.ID)
	if err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}

	return nil
}

// DeleteRecord deletes a record by ID.
func (r *Repository) DeleteRecord(id string) error {
	stmt, err := r.PrepareStmt("DELETE FROM records WHERE id = ?")
	if err != nil {
		return err
	}

	if _, err := stmt.Exec(id); err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}

	return nil
}

// ListRecordsBySyncStatus returns all records in the given sync state.
func (r *Repository) ListRecordsBySyncStatus(status models.SyncStatus) ([]*models.Record, error) {
	stmt, err := r.PrepareStmt(`SELECT id, entity_type, fields, sync_status, retry_count, sync_error, version, created_at, updated_at
		FROM records WHERE sync_status = ? ORDER BY updated_at ASC`)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query(status)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// ListRecords returns all records of an entity type.
func (r *Repository) ListRecords(entityType models.EntityType) ([]*models.Record, error) {
	stmt, err := r.PrepareStmt(`SELECT id, entity_type, fields, sync_status, retry_count, sync_error, version, created_at, updated_at
		FROM records WHERE entity_type = ? ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query(entityType)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*models.Record, error) {
	var rec models.Record
	var fields string

	err := row.Scan(&rec.ID, &rec.EntityType, &fields, &rec.SyncStatus,
		&rec.RetryCount, &rec.SyncError, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(fields), &rec.Fields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
	}

	return &rec, nil
}

func scanRecords(rows *sql.Rows) ([]*models.Record, error) {
	records := make([]*models.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// =====================================================
// Photo Operations
// =====================================================

// CreatePhoto creates a new photo metadata row.
func (r *Repository) CreatePhoto(p *models.Photo) error {
	stmt, err := r.PrepareStmt(`INSERT INTO photos
		(id, record_id, content_hash, size_bytes, sync_status, last_accessed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}

	_, err = stmt.Exec(p.ID, p.RecordID, p.ContentHash, p.SizeBytes, p.SyncStatus, p.LastAccessed, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create photo: %w", err)
	}

	return nil
}

// GetPhoto retrieves photo metadata by ID.
func (r *Repository) GetPhoto(id string) (*models.Photo, error) {
	stmt, err := r.PrepareStmt(`SELECT id, record_id, content_hash, size_bytes, sync_status, last_accessed, created_at
		FROM photos WHERE id = ?`)
	if err != nil {
		return nil, err
	}

	var p models.Photo
	err = stmt.QueryRow(id).Scan(&p.ID, &p.RecordID, &p.ContentHash, &p.SizeBytes,
		&p.SyncStatus, &p.LastAccessed, &p.CreatedAt)
	if err != nil {
		return nil, err
	}

	return &p, nil
}

// UpdatePhoto updates photo metadata.
func (r *Repository) UpdatePhoto(p *models.Photo) error {
	stmt, err := r.PrepareStmt(`UPDATE photos SET
		record_id = ?, content_hash = ?, size_bytes = ?, sync_status = ?, last_accessed = ?
		WHERE id = ?`)
	if err != nil {
		return err
	}

	if _, err := stmt.Exec(p.RecordID, p.ContentHash, p.SizeBytes, p.SyncStatus, p.LastAccessed, p.ID); err != nil {
		return fmt.Errorf("failed to update photo: %w", err)
	}

	return nil
}

// DeletePhoto deletes photo metadata by ID.
func (r *Repository) DeletePhoto(id string) error {
	stmt, err := r.PrepareStmt("DELETE FROM photos WHERE id = ?")
	if err != nil {
		return err
	}

	if _, err := stmt.Exec(id); err != nil {
		return fmt.Errorf("failed to delete photo: %w", err)
	}

	return nil
}

// ListPhotos returns all photo metadata rows.
func (r *Repository) ListPhotos() ([]*models.Photo, error) {
	stmt, err := r.PrepareStmt(`SELECT id, record_id, content_hash, size_bytes, sync_status, last_accessed, created_at
		FROM photos ORDER BY last_accessed ASC`)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query()
	if err != nil {
		return nil, fmt.Errorf("failed to list photos: %w", err)
	}
	defer rows.Close()

	return scanPhotos(rows)
}

// ListPhotosBySyncStatus returns photos in the given sync state.
func (r *Repository) ListPhotosBySyncStatus(status models.SyncStatus) ([]*models.Photo, error) {
	stmt, err := r.PrepareStmt(`SELECT id, record_id, content_hash, size_bytes, sync_status, last_accessed, created_at
		FROM photos WHERE sync_status = ? ORDER BY last_accessed ASC`)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query(status)
	if err != nil {
		return nil, fmt.Errorf("failed to list photos: %w", err)
	}
	defer rows.Close()

	return scanPhotos(rows)
}

// TouchPhotoAccess updates the last-accessed timestamp of a photo.
func (r *Repository) TouchPhotoAccess(id string, accessedAt int64) error {
	stmt, err := r.PrepareStmt("UPDATE photos SET last_accessed = ? WHERE id = ?")
	if err != nil {
		return err
	}

	if _, err := stmt.Exec(accessedAt, id); err != nil {
		return fmt.Errorf("failed to touch photo access: %w", err)
	}

	return nil
}

func scanPhotos(rows *sql.Rows) ([]*models.Photo, error) {
	photos := make([]*models.Photo, 0)
	for rows.Next() {
		var p models.Photo
		err := rows.Scan(&p.ID, &p.RecordID, &p.ContentHash, &p.SizeBytes,
			&p.SyncStatus, &p.LastAccessed, &p.CreatedAt)
		if err != nil {
			return nil, err
		}
		photos = append(photos, &p)
	}
	return photos, rows.Err()
}

// =====================================================
// Sync Queue Operations
// =====================================================

// SaveQueueItem inserts or replaces a persisted queue row.
func (r *Repository) SaveQueueItem(item *models.SyncQueueItem) error {
	stmt, err := r.PrepareStmt(`INSERT OR REPLACE INTO sync_queue
		(id, entity_type, record_id, operation, payload, priority, retry_count, max_retries, next_retry_at, status, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}

	payload := item.Payload
	if payload == nil {
		payload = json.RawMessage("[]")
	}

	_, err = stmt.Exec(item.ID, item.EntityType, item.RecordID, item.Operation, string(payload),
		item.Priority, item.RetryCount, item.MaxRetries, item.NextRetryAt, item.Status,
		item.LastError, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save queue item: %w", err)
	}

	return nil
}

// DeleteQueueItem removes a persisted queue row.
func (r *Repository) DeleteQueueItem(id string) error {
	stmt, err := r.PrepareStmt("DELETE FROM sync_queue WHERE id = ?")
	if err != nil {
		return err
	}

	if _, err := stmt.Exec(id); err != nil {
		return fmt.Errorf("failed to delete queue item: %w", err)
	}

	return nil
}

// ListQueueItems returns all persisted queue rows in replay order.
func (r *Repository) ListQueueItems() ([]*models.SyncQueueItem, error) {
	stmt, err := r.PrepareStmt(`SELECT id, entity_type, record_id, operation, payload, priority, retry_count, max_retries, next_retry_at, status, last_error, created_at, updated_at
		FROM sync_queue ORDER BY priority DESC, created_at ASC`)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query()
	if err != nil {
		return nil, fmt.Errorf("failed to list queue items: %w", err)
	}
	defer rows.Close()

	items := make([]*models.SyncQueueItem, 0)
	for rows.Next() {
		var item models.SyncQueueItem
		var payload string
		err := rows.Scan(&item.ID, &item.EntityType, &item.RecordID, &item.Operation, &payload,
			&item.Priority, &item.RetryCount, &item.MaxRetries, &item.NextRetryAt, &item.Status,
			&item.LastError, &item.CreatedAt, &item.UpdatedAt)
		if err != nil {
			return nil, err
		}
		item.Payload = json.RawMessage(payload)
		items = append(items, &item)
	}

	return items, rows.Err()
}

// =====================================================
// Conflict / Change Log Operations
// =====================================================

// CreateConflictLog creates a new conflict log entry.
func (r *Repository) CreateConflictLog(log *models.ConflictLog) error {
	stmt, err := r.PrepareStmt(`INSERT INTO conflict_log
		(id, record_id, fields, local_timestamp, remote_timestamp, resolution, detected_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}

	fields := log.Fields
	if fields == nil {
		fields = json.RawMessage("[]")
	}

	_, err = stmt.Exec(log.ID, log.RecordID, string(fields), log.LocalTimestamp,
		log.RemoteTimestamp, log.Resolution, log.DetectedAt, log.ResolvedAt)
	if err != nil {
		return fmt.Errorf("failed to create conflict log: %w", err)
	}

	return nil
}

// ListConflictLogs returns conflict entries for a record, newest first.
func (r *Repository) ListConflictLogs(recordID string) ([]*models.ConflictLog, error) {
	stmt, err := r.PrepareStmt(`SELECT id, record_id, fields, local_timestamp, remote_timestamp, resolution, detected_at, resolved_at
		FROM conflict_log WHERE record_id = ? ORDER BY detected_at DESC`)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query(recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conflict logs: %w", err)
	}
	defer rows.Close()

	logs := make([]*models.ConflictLog, 0)
	for rows.Next() {
		var log models.ConflictLog
		var fields string
		err := rows.Scan(&log.ID, &log.RecordID, &fields, &log.LocalTimestamp,
			&log.RemoteTimestamp, &log.Resolution, &log.DetectedAt, &log.ResolvedAt)
		if err != nil {
			return nil, err
		}
		log.Fields = json.RawMessage(fields)
		logs = append(logs, &log)
	}

	return logs, rows.Err()
}

// CreateChangeLog creates a new change log entry.
func (r *Repository) CreateChangeLog(log *models.ChangeLog) error {
	stmt, err := r.PrepareStmt(`INSERT INTO change_log
		(id, record_id, operation, version, timestamp)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}

	_, err = stmt.Exec(log.ID, log.RecordID, log.Operation, log.Version, log.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to create change log: %w", err)
	}

	return nil
}

// =====================================================
// Cache Entry Operations
// =====================================================

// PutCacheEntry inserts or replaces a cache accounting row.
func (r *Repository) PutCacheEntry(e *models.CacheEntry) error {
	stmt, err := r.PrepareStmt(`INSERT OR REPLACE INTO cache_entries (key, size_bytes, cached_at) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}

	if e.CachedAt == 0 {
		e.CachedAt = time.Now().Unix()
	}

	if _, err := stmt.Exec(e.Key, e.SizeBytes, e.CachedAt); err != nil {
		return fmt.Errorf("failed to put cache entry: %w", err)
	}

	return nil
}

// ListCacheEntries returns all cache accounting rows.
func (r *Repository) ListCacheEntries() ([]*models.CacheEntry, error) {
	stmt, err := r.PrepareStmt("SELECT key, size_bytes, cached_at FROM cache_entries ORDER BY cached_at ASC")
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query()
	if err != nil {
		return nil, fmt.Errorf("failed to list cache entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*models.CacheEntry, 0)
	for rows.Next() {
		var e models.CacheEntry
		if err := rows.Scan(&e.Key, &e.SizeBytes, &e.CachedAt); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}

	return entries, rows.Err()
}

// DeleteCacheEntry removes a cache accounting row.
func (r *Repository) DeleteCacheEntry(key string) error {
	stmt, err := r.PrepareStmt("DELETE FROM cache_entries WHERE key = ?")
	if err != nil {
		return err
	}

	if _, err := stmt.Exec(key); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}

	return nil
}
