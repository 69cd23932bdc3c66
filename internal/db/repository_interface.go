// Package db provides repository interfaces for FieldSync data models.
package db

import (
	"github.com/buildwise/fieldsync/internal/models"
)

// RecordRepository defines operations for record persistence.
// This interface allows mocking for testing and follows the Interface
// Segregation Principle.
type RecordRepository interface {
	// CreateRecord creates a new record.
	CreateRecord(rec *models.Record) error

	// GetRecord retrieves a record by ID.
	GetRecord(id string) (*models.Record, error)

	// UpdateRecord updates an existing record.
	UpdateRecord(rec *models.Record) error

	// DeleteRecord deletes a record by ID.
	DeleteRecord(id string) error

	// ListRecordsBySyncStatus returns records in the given sync state.
	ListRecordsBySyncStatus(status models.SyncStatus) ([]*models.Record, error)

	// ListRecords returns all records of an entity type.
	ListRecords(entityType models.EntityType) ([]*models.Record, error)
}

// PhotoRepository defines operations for photo metadata persistence.
type PhotoRepository interface {
	CreatePhoto(p *models.Photo) error
	GetPhoto(id string) (*models.Photo, error)
	UpdatePhoto(p *models.Photo) error
	DeletePhoto(id string) error
	ListPhotos() ([]*models.Photo, error)
	ListPhotosBySyncStatus(status models.SyncStatus) ([]*models.Photo, error)
	TouchPhotoAccess(id string, accessedAt int64) error
}

// QueueRepository defines operations for durable sync queue rows.
type QueueRepository interface {
	SaveQueueItem(item *models.SyncQueueItem) error
	DeleteQueueItem(id string) error
	ListQueueItems() ([]*models.SyncQueueItem, error)
}

// ConflictLogRepository defines operations for conflict log persistence.
type ConflictLogRepository interface {
	CreateConflictLog(log *models.ConflictLog) error
	ListConflictLogs(recordID string) ([]*models.ConflictLog, error)
}

// ChangeLogRepository defines operations for change log persistence.
type ChangeLogRepository interface {
	CreateChangeLog(log *models.ChangeLog) error
}

// CacheRepository defines operations for cache accounting rows.
type CacheRepository interface {
	PutCacheEntry(e *models.CacheEntry) error
	ListCacheEntries() ([]*models.CacheEntry, error)
	DeleteCacheEntry(key string) error
}

// StoreRepository combines the repositories the local store depends on.
type StoreRepository interface {
	RecordRepository
	PhotoRepository
	QueueRepository
	ChangeLogRepository
	CacheRepository
}

// SyncRepository combines the repositories the sync engine depends on.
type SyncRepository interface {
	RecordRepository
	PhotoRepository
	QueueRepository
	ConflictLogRepository
	ChangeLogRepository
}

// Ensure *Repository implements the interfaces at compile time.
var (
	_ RecordRepository      = (*Repository)(nil)
	_ PhotoRepository       = (*Repository)(nil)
	_ QueueRepository       = (*Repository)(nil)
	_ ConflictLogRepository = (*Repository)(nil)
	_ ChangeLogRepository   = (*Repository)(nil)
	_ CacheRepository       = (*Repository)(nil)
	_ StoreRepository       = (*Repository)(nil)
	_ SyncRepository        = (*Repository)(nil)
)
