// Package delta computes field-level differences between two flat record
// snapshots. Deltas are the payload unit queued for replay against the
// server.
package delta

import (
	"bytes"
	"encoding/json"
	"reflect"
	"sort"

	"github.com/buildwise/fieldsync/internal/models"
)

// Change describes one differing non-metadata field between two snapshots.
// OldValue is nil when the field was added, NewValue is nil when the field
// was removed.
type Change struct {
	Field    string      `json:"field"`
	OldValue interface{} `json:"old_value,omitempty"`
	NewValue interface{} `json:"new_value,omitempty"`
}

// metadataFields are sync bookkeeping keys. They are never part of a delta
// or a conflict.
var metadataFields = map[string]bool{
	"id":         true,
	"createdAt":  true,
	"updatedAt":  true,
	"syncStatus": true,
	"retryCount": true,
	"syncError":  true,
}

// IsMetadataField reports whether a snapshot key is sync metadata.
func IsMetadataField(field string) bool {
	return metadataFields[field]
}

// Compute returns the field-level differences between two snapshots.
// The key set is the union of both snapshots minus metadata fields, and
// values are compared structurally (value semantics, not identity). The
// output is sorted by field name so repeated calls are deterministic.
// Compute never mutates its inputs and is total over well-formed snapshots.
func Compute(original, updated models.Snapshot) []Change {
	keys := unionKeys(original, updated)

	changes := make([]Change, 0)
	for _, key := range keys {
		oldVal, hadOld := original[key]
		newVal, hadNew := updated[key]

		if hadOld && hadNew && ValuesEqual(oldVal, newVal) {
			continue
		}
		if !hadOld && !hadNew {
			continue
		}

		changes = append(changes, Change{
			Field:    key,
			OldValue: oldVal,
			NewValue: newVal,
		})
	}

	return changes
}

// ValuesEqual compares two snapshot values structurally. Values whose
// canonical JSON serialization is byte-identical are equal even when the
// underlying instances differ.
func ValuesEqual(a, b interface{}) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}

	aj, aerr := json.Marshal(a)
	bj, berr := json.Marshal(b)
	if aerr == nil && berr == nil {
		return bytes.Equal(aj, bj)
	}

	// Non-serializable values fall back to structural comparison.
	return reflect.DeepEqual(a, b)
}

// unionKeys returns the sorted union of non-metadata keys of both snapshots.
func unionKeys(a, b models.Snapshot) []string {
	seen := make(map[string]bool, len(a)+len(b))
	for k := range a {
		if !metadataFields[k] {
			seen[k] = true
		}
	}
	for k := range b {
		if !metadataFields[k] {
			seen[k] = true
		}
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}
