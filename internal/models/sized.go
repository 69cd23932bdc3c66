// Package models provides data model definitions for the FieldSync core.
package models

// Assessment is the sized view of a locally cached building assessment,
// used for storage accounting and scoring inputs.
type Assessment struct {
	ID               UUID    `db:"id" json:"id"`
	ProjectID        UUID    `db:"project_id" json:"project_id"`
	SizeBytes        int64   `db:"size_bytes" json:"size_bytes"`
	DeferredCost     float64 `db:"deferred_cost" json:"deferred_cost"`
	ReplacementValue float64 `db:"replacement_value" json:"replacement_value"`
}

// Deficiency is the sized view of a locally cached deficiency.
type Deficiency struct {
	ID            UUID    `db:"id" json:"id"`
	AssessmentID  UUID    `db:"assessment_id" json:"assessment_id"`
	SizeBytes     int64   `db:"size_bytes" json:"size_bytes"`
	Severity      int     `db:"severity" json:"severity"` // 1 (cosmetic) .. 5 (life safety)
	EstimatedCost float64 `db:"estimated_cost" json:"estimated_cost"`
}

// CacheEntry is a generic sized entry in the local response cache.
type CacheEntry struct {
	Key       string `db:"key" json:"key"`
	SizeBytes int64  `db:"size_bytes" json:"size_bytes"`
	CachedAt  int64  `db:"cached_at" json:"cached_at"`
}
