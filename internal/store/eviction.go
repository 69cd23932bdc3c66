// Package store provides the local record store, storage accounting, and
// the eviction and cleanup policies that keep the field client inside its
// storage budget.
package store

import (
	"sort"

	"github.com/buildwise/fieldsync/internal/models"
)

// LRUPhotos selects up to count synced photos for eviction, least recently
// accessed first. Photos that are still pending upload are never selected:
// unsynced local work is never discarded regardless of age or size
// pressure. The input slice is not mutated.
func LRUPhotos(photos []*models.Photo, count int) []models.UUID {
	if count <= 0 {
		return []models.UUID{}
	}

	synced := make([]*models.Photo, 0, len(photos))
	for _, p := range photos {
		if p.SyncStatus == models.SyncStatusSynced {
			synced = append(synced, p)
		}
	}

	sort.SliceStable(synced, func(i, j int) bool {
		return synced[i].LastAccessed < synced[j].LastAccessed
	})

	if count > len(synced) {
		count = len(synced)
	}

	ids := make([]models.UUID, 0, count)
	for _, p := range synced[:count] {
		ids = append(ids, p.ID)
	}

	return ids
}
