// Package merge reconciles local and server versions of a record
// snapshot. With a common base it performs a three-way merge that
// distinguishes genuine conflicts from one-sided edits; without one it
// conservatively treats every differing field as a conflict.
package merge

import (
	"sort"

	"github.com/buildwise/fieldsync/internal/models"
	"github.com/buildwise/fieldsync/internal/sync/delta"
)

// Result holds the merged snapshot and the exact set of fields that need
// manual arbitration. Merged is always fully populated and usable as a
// fallback even when conflicts exist; conflicting fields retain the server
// value pending resolution.
type Result struct {
	Merged    models.Snapshot `json:"merged"`
	Conflicts []string        `json:"conflicts"`
}

// HasConflicts reports whether any field requires manual resolution.
func (r *Result) HasConflicts() bool {
	return len(r.Conflicts) > 0
}

// Merge reconciles local and server snapshots. base may be nil, in which
// case every differing non-metadata field is a conflict (two-way mode).
// The server value wins for untouched fields and is retained as the safe
// default for conflicting ones. Merge never mutates its inputs and never
// fails; ambiguity is represented as data in Conflicts.
func Merge(local, server, base models.Snapshot) Result {
	merged := make(models.Snapshot, len(server))
	for k, v := range server {
		merged[k] = v
	}

	conflicts := make([]string, 0)

	for _, key := range unionKeys(local, server) {
		localVal, inLocal := local[key]
		serverVal, inServer := server[key]

		if inLocal && inServer && delta.ValuesEqual(localVal, serverVal) {
			continue
		}
		if !inLocal && !inServer {
			continue
		}

		if base == nil {
			// Two-way merge: no ancestor to attribute the change to,
			// so any divergence requires arbitration.
			conflicts = append(conflicts, key)
			continue
		}

		baseVal, inBase := base[key]
		localChanged := !inLocal && inBase || inLocal && (!inBase || !delta.ValuesEqual(localVal, baseVal))
		serverChanged := !inServer && inBase || inServer && (!inBase || !delta.ValuesEqual(serverVal, baseVal))

		switch {
		case localChanged && serverChanged:
			conflicts = append(conflicts, key)
		case localChanged:
			if inLocal {
				merged[key] = localVal
			} else {
				delete(merged, key)
			}
		default:
			// Only the server changed (or neither side holds the key);
			// merged already carries the server state.
		}
	}

	sort.Strings(conflicts)

	return Result{Merged: merged, Conflicts: conflicts}
}

// unionKeys returns the sorted union of non-metadata keys of both snapshots.
func unionKeys(a, b models.Snapshot) []string {
	seen := make(map[string]bool, len(a)+len(b))
	for k := range a {
		if !delta.IsMetadataField(k) {
			seen[k] = true
		}
	}
	for k := range b {
		if !delta.IsMetadataField(k) {
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
