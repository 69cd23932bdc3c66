// Package queue provides sync queue management for offline mutations.
// Replay order is highest priority first, oldest first within a priority,
// with exponential backoff on failed attempts.
package queue

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/buildwise/fieldsync/internal/models"
	"github.com/buildwise/fieldsync/internal/uuid"
)

// QueueStatus represents the status of a queued operation.
type QueueStatus string

const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusInProgress QueueStatus = "in_progress"
	QueueStatusFailed     QueueStatus = "failed"
	QueueStatusCompleted  QueueStatus = "completed"
)

// Operation represents a sync operation type.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// DefaultMaxRetries is the default per-item retry budget before an item
// is parked as failed.
const DefaultMaxRetries = 3

// PriorityFor returns the default replay priority for an entity type.
// Assessments carry scoring data the office depends on and go first;
// photos are large and least urgent.
func PriorityFor(entityType models.EntityType) int {
	switch entityType {
	case models.EntityAssessment:
		return 3
	case models.EntityDeficiency:
		return 2
	case models.EntityPhoto:
		return 1
	default:
		return 0
	}
}

// Sort returns the items in replay order: descending priority, then
// ascending creation time. The sort is stable and the input slice is not
// mutated.
func Sort(items []*models.SyncQueueItem) []*models.SyncQueueItem {
	sorted := make([]*models.SyncQueueItem, len(items))
	copy(sorted, items)

	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority > sorted[j].Priority
		}
		return sorted[i].CreatedAt < sorted[j].CreatedAt
	})

	return sorted
}

// SyncQueue manages pending sync operations with retry logic.
type SyncQueue struct {
	items      map[string]*models.SyncQueueItem
	mu         sync.RWMutex
	maxSize    int
	maxRetries int
}

// NewSyncQueue creates a new SyncQueue bounded to maxSize items.
// maxRetries is the retry budget stamped onto enqueued items; it must
// match the record-side budget so a parked item and its record exhaust
// together. A non-positive budget parks items on their first failure.
func NewSyncQueue(maxSize, maxRetries int) *SyncQueue {
	return &SyncQueue{
		items:      make(map[string]*models.SyncQueueItem),
		maxSize:    maxSize,
		maxRetries: maxRetries,
	}
}

// Enqueue adds a mutation to the queue with the given priority payload.
func (q *SyncQueue) Enqueue(entityType models.EntityType, recordID models.UUID, op Operation, payload []byte, priority int) (*models.SyncQueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.maxSize {
		return nil, fmt.Errorf("queue is full (max size: %d)", q.maxSize)
	}

	now := time.Now().Unix()

	item := &models.SyncQueueItem{
		ID:          models.UUID(uuid.New()),
		EntityType:  entityType,
		RecordID:    recordID,
		Operation:   string(op),
		Payload:     payload,
		Priority:    priority,
		RetryCount:  0,
		MaxRetries:  q.maxRetries,
		NextRetryAt: now,
		Status:      string(QueueStatusPending),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	q.items[string(item.ID)] = item

	return item, nil
}

// Restore loads a previously persisted item back into the queue, used when
// reloading pending work at startup.
func (q *SyncQueue) Restore(item *models.SyncQueueItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.maxSize {
		return fmt.Errorf("queue is full (max size: %d)", q.maxSize)
	}

	cp := *item
	// The budget follows the current configuration, not whatever the row
	// was persisted under, so the item and its record exhaust together.
	cp.MaxRetries = q.maxRetries
	// In-progress items from a previous run were interrupted mid-flight.
	if cp.Status == string(QueueStatusInProgress) {
		cp.Status = string(QueueStatusPending)
	}
	q.items[string(cp.ID)] = &cp

	return nil
}

// Dequeue retrieves the next ready operation in replay order and marks it
// in progress. Returns nil if no operation is ready.
func (q *SyncQueue) Dequeue() *models.SyncQueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now().Unix()

	ready := make([]*models.SyncQueueItem, 0)
	for _, item := range q.items {
		if item.Status == string(QueueStatusPending) && item.NextRetryAt <= now {
			ready = append(ready, item)
		}
	}

	if len(ready) == 0 {
		return nil
	}

	next := Sort(ready)[0]
	next.Status = string(QueueStatusInProgress)
	next.UpdatedAt = now

	return next
}

// Complete marks an operation as completed and removes it from the queue.
func (q *SyncQueue) Complete(id models.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[string(id)]
	if !ok {
		return fmt.Errorf("queue item %s not found", id)
	}

	item.Status = string(QueueStatusCompleted)
	item.UpdatedAt = time.Now().Unix()

	delete(q.items, string(id))

	return nil
}

// Failed records a failed attempt and schedules a retry if the budget
// allows, otherwise parks the item as failed. The returned bool reports
// whether the item was parked; a parked item stays in the queue until
// removed or reset by RetryAll.
func (q *SyncQueue) Failed(id models.UUID, cause error) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[string(id)]
	if !ok {
		return false, fmt.Errorf("queue item %s not found", id)
	}

	item.RetryCount++
	item.LastError = cause.Error()
	item.UpdatedAt = time.Now().Unix()

	if item.RetryCount >= item.MaxRetries {
		item.Status = string(QueueStatusFailed)
		return true, nil
	}

	item.NextRetryAt = time.Now().Unix() + calculateBackoff(item.RetryCount)
	item.Status = string(QueueStatusPending)

	return false, nil
}

// calculateBackoff calculates exponential backoff delay in seconds.
// Formula: 2^retry_count * 60, capped at 3600 seconds (1 hour).
func calculateBackoff(retryCount int) int64 {
	backoff := int64(1) << uint(retryCount)
	backoff = backoff * 60

	maxBackoff := int64(3600)
	if backoff > maxBackoff {
		backoff = maxBackoff
	}

	return backoff
}

// GetPending returns all ready pending operations in replay order.
func (q *SyncQueue) GetPending() []*models.SyncQueueItem {
	q.mu.RLock()
	defer q.mu.RUnlock()

	now := time.Now().Unix()

	var pending []*models.SyncQueueItem
	for _, item := range q.items {
		if item.Status == string(QueueStatusPending) && item.NextRetryAt <= now {
			pending = append(pending, item)
		}
	}

	return Sort(pending)
}

// GetStatus returns a copy of a specific item.
func (q *SyncQueue) GetStatus(id models.UUID) (*models.SyncQueueItem, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	item, ok := q.items[string(id)]
	if !ok {
		return nil, fmt.Errorf("queue item %s not found", id)
	}

	cp := *item
	return &cp, nil
}

// List returns copies of all items in the queue in replay order.
func (q *SyncQueue) List() []*models.SyncQueueItem {
	q.mu.RLock()
	defer q.mu.RUnlock()

	items := make([]*models.SyncQueueItem, 0, len(q.items))
	for _, item := range q.items {
		cp := *item
		items = append(items, &cp)
	}

	return Sort(items)
}

// Size returns the number of items in the queue.
func (q *SyncQueue) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.items)
}

// Remove removes a specific item from the queue.
func (q *SyncQueue) Remove(id models.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.items[string(id)]; !ok {
		return fmt.Errorf("queue item %s not found", id)
	}

	delete(q.items, string(id))
	return nil
}

// RetryAll resets all failed items to pending for immediate retry.
func (q *SyncQueue) RetryAll() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now().Unix()
	count := 0

	for _, item := range q.items {
		if item.Status == string(QueueStatusFailed) {
			item.Status = string(QueueStatusPending)
			item.RetryCount = 0
			item.NextRetryAt = now
			item.LastError = ""
			item.UpdatedAt = now
			count++
		}
	}

	return count
}

// GetStats returns queue statistics keyed by status.
func (q *SyncQueue) GetStats() map[string]int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	stats := map[string]int{
		"total":       0,
		"pending":     0,
		"in_progress": 0,
		"failed":      0,
		"completed":   0,
	}

	for _, item := range q.items {
		stats["total"]++
		switch QueueStatus(item.Status) {
		case QueueStatusPending:
			stats["pending"]++
		case QueueStatusInProgress:
			stats["in_progress"]++
		case QueueStatusFailed:
			stats["failed"]++
		case QueueStatusCompleted:
			stats["completed"]++
		}
	}

	return stats
}
