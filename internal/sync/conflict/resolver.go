// Package conflict turns field-level merge conflicts into resolutions and
// audit log entries for multi-device synchronization.
package conflict

import (
	"encoding/json"
	"time"

	"github.com/buildwise/fieldsync/internal/logging"
	"github.com/buildwise/fieldsync/internal/models"
	"github.com/buildwise/fieldsync/internal/sync/merge"
	"github.com/buildwise/fieldsync/internal/uuid"
)

// ResolutionStrategy defines how conflicting fields are resolved.
type ResolutionStrategy string

const (
	// ResolutionServerDefault keeps the server's value for every
	// conflicting field. Non-conflicting local changes still apply.
	ResolutionServerDefault ResolutionStrategy = "server_default"

	// ResolutionManual keeps the server's value provisionally and marks
	// the record for user review.
	ResolutionManual ResolutionStrategy = "manual"
)

// Resolver resolves merge conflicts during synchronization.
type Resolver struct {
	strategy ResolutionStrategy
}

// NewResolver creates a Resolver with the given strategy.
func NewResolver(strategy ResolutionStrategy) *Resolver {
	return &Resolver{
		strategy: strategy,
	}
}

// Conflict describes a detected divergence between a local record and its
// server counterpart.
type Conflict struct {
	RecordID        models.UUID
	Local           models.Snapshot
	Server          models.Snapshot
	Base            models.Snapshot
	LocalTimestamp  int64
	RemoteTimestamp int64
	DetectedAt      int64
}

// Resolution is the outcome of resolving one conflict: the merged field
// set to store locally, plus a log entry when any field actually
// conflicted.
type Resolution struct {
	Merged   models.Snapshot
	Fields   []string // conflicting field names, sorted
	Strategy ResolutionStrategy
	Log      *models.ConflictLog // nil when the merge was clean
}

// NeedsReview reports whether the resolution awaits user input.
func (r *Resolution) NeedsReview() bool {
	return r.Log != nil && r.Log.ResolvedAt == 0
}

// Resolve performs a three-way merge of the conflict's snapshots and
// applies the configured strategy to any conflicting fields.
func (r *Resolver) Resolve(c *Conflict) (*Resolution, error) {
	if c == nil || c.Local == nil || c.Server == nil {
		return nil, ErrInvalidConflict
	}

	result := merge.Merge(c.Local, c.Server, c.Base)

	res := &Resolution{
		Merged:   result.Merged,
		Fields:   result.Conflicts,
		Strategy: r.strategy,
	}

	if !result.HasConflicts() {
		return res, nil
	}

	fields, err := json.Marshal(result.Conflicts)
	if err != nil {
		return nil, err
	}

	detectedAt := c.DetectedAt
	if detectedAt == 0 {
		detectedAt = time.Now().Unix()
	}

	log := &models.ConflictLog{
		ID:              models.UUID(uuid.New()),
		RecordID:        c.RecordID,
		Fields:          fields,
		LocalTimestamp:  c.LocalTimestamp,
		RemoteTimestamp: c.RemoteTimestamp,
		Resolution:      string(r.strategy),
		DetectedAt:      detectedAt,
	}

	// Server-default resolutions are final the moment they are made.
	// Manual resolutions stay open until the user reviews them.
	if r.strategy == ResolutionServerDefault {
		log.ResolvedAt = detectedAt
	}

	res.Log = log

	logging.Warn("Concurrent edit conflict detected",
		map[string]interface{}{
			"record_id":        c.RecordID,
			"fields":           result.Conflicts,
			"local_timestamp":  c.LocalTimestamp,
			"remote_timestamp": c.RemoteTimestamp,
			"strategy":         r.strategy,
		})

	return res, nil
}

// DetectConflict reports whether a local record and the server's copy have
// diverged. Divergence means the local record carries unsynced changes
// while the server moved past the version the local edit was based on.
func (r *Resolver) DetectConflict(local *models.Record, serverVersion int64) bool {
	if local == nil {
		return false
	}
	if local.SyncStatus == models.SyncStatusSynced {
		return false
	}
	return serverVersion != local.Version
}

// ResolveMultiple resolves conflicts in batch, stopping at the first
// error.
func (r *Resolver) ResolveMultiple(conflicts []*Conflict) ([]*Resolution, error) {
	results := make([]*Resolution, 0, len(conflicts))

	for _, c := range conflicts {
		res, err := r.Resolve(c)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}

	return results, nil
}

// Errors
var (
	ErrInvalidConflict = &ConflictError{Message: "invalid conflict: local and server snapshots must be non-nil"}
)

// ConflictError represents a conflict resolution error.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// IsConflictError checks if an error is a ConflictError.
func IsConflictError(err error) bool {
	_, ok := err.(*ConflictError)
	return ok
}
