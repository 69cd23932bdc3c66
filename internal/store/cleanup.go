// Package store provides the local record store, storage accounting, and
// the eviction and cleanup policies that keep the field client inside its
// storage budget.
package store

import (
	"time"

	"github.com/buildwise/fieldsync/internal/models"
)

// ItemsToCleanup selects records eligible for garbage collection at the
// given instant:
//   - synced records whose last update is older than maxAgeDays
//   - failed records that have exhausted maxRetries
//
// Pending records are never selected regardless of age; they hold unsynced
// user work. The result carries no ordering guarantee beyond completeness.
func ItemsToCleanup(records []*models.Record, maxAgeDays, maxRetries int, now time.Time) []models.UUID {
	maxAge := time.Duration(maxAgeDays) * 24 * time.Hour

	ids := make([]models.UUID, 0)
	for _, r := range records {
		switch r.SyncStatus {
		case models.SyncStatusSynced:
			if now.Sub(r.UpdatedAtTime()) > maxAge {
				ids = append(ids, r.ID)
			}
		case models.SyncStatusFailed:
			if r.RetryCount >= maxRetries {
				ids = append(ids, r.ID)
			}
		}
	}

	return ids
}
