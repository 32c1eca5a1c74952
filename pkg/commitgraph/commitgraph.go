// Package commitgraph implements the immutable commit DAG of §4.2: commits
// chained by parent pointers, each with a manifest (logical_row_id ->
// row_hash) and a per-commit schema.
package commitgraph

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/sakganji/datasetd/pkg/apperr"
	"github.com/sakganji/datasetd/pkg/model"
	"github.com/sakganji/datasetd/pkg/store"
)

type Graph struct {
	db *store.Store
}

func New(db *store.Store) *Graph {
	return &Graph{db: db}
}

// CreateCommit writes a commit's manifest and schema in bulk, then
// atomically publishes the commit record in a single small transaction.
// Until that last write succeeds, GetCommit/ListAncestors cannot observe
// the commit at all, which is what makes the manifest bulk-write
// effectively atomic from a reader's point of view (P5): a reader only
// ever reaches the manifest keys by first resolving a commit id, and a
// commit id only resolves once this function returns success.
func (g *Graph) CreateCommit(ctx context.Context, datasetID, parent, message, authorID string, manifest []model.ManifestEntry, schema model.TableSchemas) (string, error) {
	now := time.Now().UTC()

	if parent != "" {
		parentCommit, err := g.GetCommit(ctx, datasetID, parent)
		if err != nil {
			return "", err
		}
		if parentCommit.DatasetID != datasetID {
			return "", apperr.Validation("parent commit belongs to a different dataset")
		}
		if parentCommit.CommittedAt.After(now) {
			return "", apperr.Validation("parent commit was committed after the new commit's authored_at")
		}
	}

	commitID := deriveCommitID(datasetID, parent, message, now)

	if err := writeManifestAndSchema(g.db, commitID, manifest, schema); err != nil {
		return "", err
	}

	commit := model.Commit{
		ID:             commitID,
		DatasetID:      datasetID,
		ParentCommitID: parent,
		Message:        message,
		AuthorID:       authorID,
		AuthoredAt:     now,
		CommittedAt:    now,
	}
	err := g.db.WithinUoW(func(uow *store.UnitOfWork) error {
		return store.PutJSON(uow.Txn(), store.CommitKey(datasetID, commitID), &commit)
	})
	if err != nil {
		return "", err
	}
	return commitID, nil
}

// deriveCommitID returns a digest of (dataset_id, parent_commit_id,
// message, authored_at) plus a uniqueness salt, so re-running the same
// import twice never collides on commit id even though the manifest
// content (row-hash multiset) is identical (P3). The salt is a fresh
// random UUID on every call, so the id cannot be recomputed from the
// commit's stored fields.
func deriveCommitID(datasetID, parent, message string, authoredAt time.Time) string {
	salt := uuid.NewString()
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%d\x00%s", datasetID, parent, message, authoredAt.UnixNano(), salt)
	return hex.EncodeToString(h.Sum(nil))
}

func writeManifestAndSchema(db *store.Store, commitID string, manifest []model.ManifestEntry, schema model.TableSchemas) error {
	wb := db.DB.NewWriteBatch()
	defer wb.Cancel()
	for _, e := range manifest {
		if err := wb.Set(store.ManifestKey(commitID, e.LogicalRowID), []byte(e.RowHash)); err != nil {
			return apperr.Wrap(err, "write manifest entry")
		}
	}
	schemaRec := model.CommitSchema{CommitID: commitID, Tables: schema}
	data, err := json.Marshal(&schemaRec)
	if err != nil {
		return apperr.Wrap(err, "encode schema")
	}
	if err := wb.Set(store.SchemaKey(commitID), data); err != nil {
		return apperr.Wrap(err, "write schema")
	}
	if err := wb.Flush(); err != nil {
		return apperr.Wrap(err, "flush manifest batch")
	}
	return nil
}

func (g *Graph) GetCommit(ctx context.Context, datasetID, commitID string) (*model.Commit, error) {
	var commit model.Commit
	err := g.db.View(func(txn *badger.Txn) error {
		return store.GetJSON(txn, store.CommitKey(datasetID, commitID), &commit)
	})
	if err != nil {
		if store.IsNotFound(err) {
			return nil, apperr.NotFound("commit %s not found", commitID)
		}
		return nil, apperr.Wrap(err, "read commit")
	}
	return &commit, nil
}

// ListAncestors walks parent pointers starting at commitID, applying
// offset/limit over the resulting chain. Tie-break "committed_at DESC,
// commit_id DESC" (§4.2) only bites when comparing distinct branch tips at
// the same timestamp; a single parent chain is already totally ordered by
// construction, so no secondary sort is needed here.
func (g *Graph) ListAncestors(ctx context.Context, datasetID, commitID string, offset, limit int) ([]model.Commit, error) {
	if offset < 0 || limit < 0 {
		return nil, apperr.Validation("offset and limit must be non-negative")
	}

	var chain []model.Commit
	cur := commitID
	for cur != "" {
		c, err := g.GetCommit(ctx, datasetID, cur)
		if err != nil {
			return nil, err
		}
		chain = append(chain, *c)
		cur = c.ParentCommitID
	}

	if offset >= len(chain) {
		return []model.Commit{}, nil
	}
	end := offset + limit
	if limit == 0 || end > len(chain) {
		end = len(chain)
	}
	return chain[offset:end], nil
}

func (g *Graph) GetSchema(ctx context.Context, commitID string) (*model.CommitSchema, error) {
	var schema model.CommitSchema
	err := g.db.View(func(txn *badger.Txn) error {
		return store.GetJSON(txn, store.SchemaKey(commitID), &schema)
	})
	if err != nil {
		if store.IsNotFound(err) {
			return nil, apperr.NotFound("schema for commit %s not found", commitID)
		}
		return nil, apperr.Wrap(err, "read schema")
	}
	return &schema, nil
}
