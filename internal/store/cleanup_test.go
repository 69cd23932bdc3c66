// Package store provides unit tests for the cleanup sweep.
package store

import (
	"testing"
	"time"

	"github.com/buildwise/fieldsync/internal/models"
)

// TestItemsToCleanupStaleSynced tests TTL-based selection of synced
// records.
func TestItemsToCleanupStaleSynced(t *testing.T) {
	now := time.Now()

	records := []*models.Record{
		{ID: "stale", SyncStatus: models.SyncStatusSynced, UpdatedAt: now.Add(-40 * 24 * time.Hour).Unix()},
		{ID: "fresh", SyncStatus: models.SyncStatusSynced, UpdatedAt: now.Add(-1 * 24 * time.Hour).Unix()},
	}

	ids := ItemsToCleanup(records, 30, 3, now)

	if len(ids) != 1 || ids[0] != "stale" {
		t.Errorf("Expected [stale], got %v", ids)
	}
}

// TestItemsToCleanupExhaustedFailed tests retry-based selection of failed
// records.
func TestItemsToCleanupExhaustedFailed(t *testing.T) {
	now := time.Now()

	records := []*models.Record{
		{ID: "exhausted", SyncStatus: models.SyncStatusFailed, RetryCount: 3, UpdatedAt: now.Unix()},
		{ID: "retryable", SyncStatus: models.SyncStatusFailed, RetryCount: 1, UpdatedAt: now.Unix()},
	}

	ids := ItemsToCleanup(records, 30, 3, now)

	if len(ids) != 1 || ids[0] != "exhausted" {
		t.Errorf("Expected [exhausted], got %v", ids)
	}
}

// TestItemsToCleanupNeverTouchesPending tests that pending records are
// protected regardless of age.
func TestItemsToCleanupNeverTouchesPending(t *testing.T) {
	now := time.Now()

	records := []*models.Record{
		{
			ID:         "ancient-pending",
			SyncStatus: models.SyncStatusPending,
			RetryCount: 99,
			UpdatedAt:  now.Add(-365 * 24 * time.Hour).Unix(),
		},
	}

	ids := ItemsToCleanup(records, 1, 1, now)

	if len(ids) != 0 {
		t.Errorf("Expected pending record protected, got %v", ids)
	}
}

// TestItemsToCleanupUnion tests that both qualifying sets are returned.
func TestItemsToCleanupUnion(t *testing.T) {
	now := time.Now()

	records := []*models.Record{
		{ID: "stale-synced", SyncStatus: models.SyncStatusSynced, UpdatedAt: now.Add(-31 * 24 * time.Hour).Unix()},
		{ID: "dead-failed", SyncStatus: models.SyncStatusFailed, RetryCount: 5, UpdatedAt: now.Unix()},
		{ID: "pending", SyncStatus: models.SyncStatusPending, UpdatedAt: 0},
	}

	ids := ItemsToCleanup(records, 30, 3, now)

	if len(ids) != 2 {
		t.Fatalf("Expected 2 candidates, got %v", ids)
	}

	found := map[models.UUID]bool{}
	for _, id := range ids {
		found[id] = true
	}
	if !found["stale-synced"] || !found["dead-failed"] {
		t.Errorf("Expected both qualifying sets, got %v", ids)
	}
}

// TestItemsToCleanupBoundary tests the exact TTL boundary: age must
// exceed the TTL, not merely reach it.
func TestItemsToCleanupBoundary(t *testing.T) {
	// Truncate to whole seconds so the Unix() round-trip below keeps the
	// record exactly at the TTL rather than a fraction of a second past it.
	now := time.Now().Truncate(time.Second)

	records := []*models.Record{
		{ID: "exactly-at-ttl", SyncStatus: models.SyncStatusSynced, UpdatedAt: now.Add(-30 * 24 * time.Hour).Unix()},
	}

	ids := ItemsToCleanup(records, 30, 3, now)

	if len(ids) != 0 {
		t.Errorf("Expected record exactly at TTL to survive, got %v", ids)
	}
}

// TestItemsToCleanupEmpty tests totality over empty input.
func TestItemsToCleanupEmpty(t *testing.T) {
	if ids := ItemsToCleanup(nil, 30, 3, time.Now()); len(ids) != 0 {
		t.Errorf("Expected empty result, got %v", ids)
	}
}
