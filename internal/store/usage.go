// Package store provides the local record store, storage accounting, and
// the eviction and cleanup policies that keep the field client inside its
// storage budget.
package store

import "github.com/buildwise/fieldsync/internal/models"

// Usage aggregates local storage consumption per category against the
// configured budget.
type Usage struct {
	AssessmentBytes int64   `json:"assessment_bytes"`
	PhotoBytes      int64   `json:"photo_bytes"`
	DeficiencyBytes int64   `json:"deficiency_bytes"`
	CacheBytes      int64   `json:"cache_bytes"`
	TotalBytes      int64   `json:"total_bytes"`
	MaxSizeMB       int     `json:"max_size_mb"`
	PercentUsed     float64 `json:"percent_used"`
}

// OverBudget reports whether consumption exceeds the configured budget.
func (u *Usage) OverBudget() bool {
	return u.PercentUsed > 100
}

// CalculateUsage sums byte counts per category and derives the percentage
// of the budget consumed. PercentUsed is intentionally unclamped: a value
// above 100 signals that eviction or cleanup is due.
func CalculateUsage(assessments []*models.Assessment, photos []*models.Photo, deficiencies []*models.Deficiency, cache []*models.CacheEntry, maxSizeMB int) *Usage {
	u := &Usage{MaxSizeMB: maxSizeMB}

	for _, a := range assessments {
		u.AssessmentBytes += a.SizeBytes
	}
	for _, p := range photos {
		u.PhotoBytes += p.SizeBytes
	}
	for _, d := range deficiencies {
		u.DeficiencyBytes += d.SizeBytes
	}
	for _, c := range cache {
		u.CacheBytes += c.SizeBytes
	}

	u.TotalBytes = u.AssessmentBytes + u.PhotoBytes + u.DeficiencyBytes + u.CacheBytes

	if maxSizeMB > 0 {
		u.PercentUsed = float64(u.TotalBytes) / (float64(maxSizeMB) * 1024 * 1024) * 100
	}

	return u
}
