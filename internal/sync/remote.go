// Package sync provides the synchronization engine and remote transport.
package sync

import (
	"context"
	"fmt"

	"github.com/buildwise/fieldsync/internal/models"
)

// RemoteRecord is the server's canonical view of a record.
type RemoteRecord struct {
	ID         models.UUID       `json:"id"`
	EntityType models.EntityType `json:"entityType"`
	Fields     models.Snapshot   `json:"fields"`
	Version    int64             `json:"version"`
	UpdatedAt  int64             `json:"updatedAt"`
	Deleted    bool              `json:"deleted,omitempty"`
}

// PushRequest carries one queued mutation to the server. Creates send the
// full field set; updates send only the changed fields; deletes send
// neither.
type PushRequest struct {
	RecordID    models.UUID       `json:"recordId"`
	EntityType  models.EntityType `json:"entityType"`
	Operation   string            `json:"operation"`
	BaseVersion int64             `json:"baseVersion"`
	Fields      models.Snapshot   `json:"fields,omitempty"`
	Changes     []FieldChange     `json:"changes,omitempty"`
}

// FieldChange is one changed field in an update push. It mirrors the
// delta encoding used for queued update payloads.
type FieldChange struct {
	Field    string      `json:"field"`
	OldValue interface{} `json:"old_value,omitempty"`
	NewValue interface{} `json:"new_value,omitempty"`
}

// RemoteStore is the transport to the sync server.
type RemoteStore interface {
	// Push applies one mutation and returns the server's resulting
	// record. When the server has moved past the mutation's base
	// version it returns a *BaseMismatchError carrying the server's
	// current record and the snapshot the mutation was based on.
	Push(ctx context.Context, req *PushRequest) (*RemoteRecord, error)

	// Fetch returns the server's current record by ID.
	Fetch(ctx context.Context, id models.UUID) (*RemoteRecord, error)

	// List returns records changed on the server since the given unix
	// timestamp.
	List(ctx context.Context, since int64) ([]*RemoteRecord, error)

	// UploadPhoto uploads photo bytes keyed by content hash.
	UploadPhoto(ctx context.Context, photoID models.UUID, contentHash string, data []byte) error
}

// BaseMismatchError reports that a pushed mutation was based on a version
// the server has moved past. It carries everything a three-way merge
// needs: the server's current record and the common ancestor snapshot.
type BaseMismatchError struct {
	Server *RemoteRecord
	Base   models.Snapshot
}

// Error implements the error interface.
func (e *BaseMismatchError) Error() string {
	return fmt.Sprintf("base version mismatch: server at version %d", e.Server.Version)
}
