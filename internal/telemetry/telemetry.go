// Package telemetry collects local-only operational counters for sync and
// maintenance. Nothing leaves the device: counters live in process memory
// and are surfaced through the status command and the daemon event stream.
package telemetry

import (
	"sync"
	"time"
)

// Metrics is a snapshot of the collected counters.
type Metrics struct {
	SyncCycles        int64         `json:"sync_cycles"`
	SyncFailures      int64         `json:"sync_failures"`
	RecordsPushed     int64         `json:"records_pushed"`
	RecordsPulled     int64         `json:"records_pulled"`
	ConflictsDetected int64         `json:"conflicts_detected"`
	ItemsFailed       int64         `json:"items_failed"`
	RecordsCleaned    int64         `json:"records_cleaned"`
	PhotosEvicted     int64         `json:"photos_evicted"`
	LastSyncDuration  time.Duration `json:"last_sync_duration"`
	LastSyncAt        time.Time     `json:"last_sync_at"`
}

var (
	mu      sync.Mutex
	current Metrics
)

// RecordSyncCycle records the outcome of a completed sync cycle.
func RecordSyncCycle(pushed, pulled, conflicts, failed int, duration time.Duration) {
	mu.Lock()
	defer mu.Unlock()

	current.SyncCycles++
	current.RecordsPushed += int64(pushed)
	current.RecordsPulled += int64(pulled)
	current.ConflictsDetected += int64(conflicts)
	current.ItemsFailed += int64(failed)
	current.LastSyncDuration = duration
	current.LastSyncAt = time.Now()
}

// RecordSyncFailure records a sync cycle that did not complete.
func RecordSyncFailure() {
	mu.Lock()
	defer mu.Unlock()
	current.SyncFailures++
}

// RecordCleanup records records removed by the cleanup sweep.
func RecordCleanup(count int) {
	if count == 0 {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	current.RecordsCleaned += int64(count)
}

// RecordEviction records photos evicted to reclaim storage.
func RecordEviction(count int) {
	if count == 0 {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	current.PhotosEvicted += int64(count)
}

// Snapshot returns a copy of the current counters.
func Snapshot() Metrics {
	mu.Lock()
	defer mu.Unlock()
	return current
}

// Reset clears all counters, used by tests.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	current = Metrics{}
}
