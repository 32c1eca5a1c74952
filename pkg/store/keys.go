// Package store wraps the single embedded github.com/dgraph-io/badger/v4
// database that backs every component of the service (§A.1), grounded in
// the teacher's pkg/resource/badger key-encoding and transaction-manager
// shape: fixed byte-sortable prefixes so range scans (manifest order,
// ancestry, job claim) are iterator walks rather than full scans.
package store

import (
	"fmt"
	"strings"
)

const (
	prefixRow        = "row:"
	prefixDataset     = "ds:"
	prefixDatasetName = "dsname:"
	prefixCommit      = "commit:"
	prefixSchema      = "schema:"
	prefixManifest    = "manifest:"
	prefixRef         = "ref:"
	prefixPermission  = "perm:"
	prefixJob         = "job:"
	prefixJobIndex    = "jobidx:"
	prefixEvent       = "event:"
	prefixSearchDoc   = "search:"
	prefixSearchPost  = "searchpost:"
	prefixTag         = "tag:"
)

func RowKey(hash string) []byte { return []byte(prefixRow + hash) }

func DatasetKey(id string) []byte { return []byte(prefixDataset + id) }

// DatasetNameKey enforces the (name, created_by) uniqueness constraint.
func DatasetNameKey(createdBy, name string) []byte {
	return []byte(prefixDatasetName + createdBy + "\x00" + name)
}

func CommitKey(datasetID, commitID string) []byte {
	return []byte(prefixCommit + datasetID + ":" + commitID)
}

// CommitPrefix scans all commits of a dataset.
func CommitPrefix(datasetID string) []byte {
	return []byte(prefixCommit + datasetID + ":")
}

func SchemaKey(commitID string) []byte { return []byte(prefixSchema + commitID) }

// ManifestKey is built so that a prefix scan over ManifestPrefix(commitID)
// yields entries in logical_row_id lexicographic order (spec §4.2/§4.8 use
// "lexicographic", not numeric, ordering).
func ManifestKey(commitID, logicalRowID string) []byte {
	return []byte(prefixManifest + commitID + ":" + logicalRowID)
}

func ManifestPrefix(commitID string) []byte {
	return []byte(prefixManifest + commitID + ":")
}

// ManifestTablePrefix scans a single logical table within a commit's
// manifest (table_key is the portion of logical_row_id before the colon).
func ManifestTablePrefix(commitID, tableKey string) []byte {
	return []byte(prefixManifest + commitID + ":" + tableKey + ":")
}

// LogicalRowIDFromManifestKey strips the manifest:<commit_id>: prefix.
func LogicalRowIDFromManifestKey(key []byte, commitID string) string {
	return strings.TrimPrefix(string(key), prefixManifest+commitID+":")
}

func RefKey(datasetID, name string) []byte {
	return []byte(prefixRef + datasetID + ":" + name)
}

func RefPrefix(datasetID string) []byte {
	return []byte(prefixRef + datasetID + ":")
}

func PermissionKey(datasetID, userID string) []byte {
	return []byte(prefixPermission + datasetID + ":" + userID)
}

func PermissionPrefix(datasetID string) []byte {
	return []byte(prefixPermission + datasetID + ":")
}

func JobKey(id string) []byte { return []byte(prefixJob + id) }

// JobIndexKey supports a race-free claim scan: one entry per (run_type,
// status) bucket, ordered by creation time so claim_next takes the oldest
// pending job first. seq must be a fixed-width, zero-padded monotonic
// counter so byte order equals creation order.
func JobIndexKey(runType, status, seq, jobID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s:%s:%s", prefixJobIndex, runType, status, seq, jobID))
}

func JobIndexPrefix(runType, status string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s:", prefixJobIndex, runType, status))
}

func EventKey(seq, eventID string) []byte {
	return []byte(prefixEvent + seq + ":" + eventID)
}

func SearchDocKey(datasetID string) []byte { return []byte(prefixSearchDoc + datasetID) }

func SearchPostingKey(token, datasetID string) []byte {
	return []byte(prefixSearchPost + token + ":" + datasetID)
}

func SearchPostingPrefix(token string) []byte {
	return []byte(prefixSearchPost + token + ":")
}

func TagKey(datasetID, tag string) []byte {
	return []byte(prefixTag + datasetID + ":" + tag)
}

func TagPrefix(datasetID string) []byte {
	return []byte(prefixTag + datasetID + ":")
}
