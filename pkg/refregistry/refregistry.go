// Package refregistry implements named, movable pointers into a dataset's
// commit DAG (§4.3). Every mutation goes through the store's
// badger-backed UnitOfWork, so a concurrent update to the same ref is
// caught by badger's transaction conflict detection rather than an
// explicit lock: two callers racing to advance "main" will see one
// commit succeed and the other retried/rejected, which is what gives
// UpdateRefCAS its compare-and-set guarantee (§4.3 R2).
package refregistry

import (
	"context"
	"encoding/json"

	"github.com/dgraph-io/badger/v4"
	"github.com/sakganji/datasetd/pkg/apperr"
	"github.com/sakganji/datasetd/pkg/model"
	"github.com/sakganji/datasetd/pkg/store"
)

type Registry struct {
	db *store.Store
}

func New(db *store.Store) *Registry {
	return &Registry{db: db}
}

// CreateRef creates a new named ref pointing at commitID. It fails if a
// ref with this name already exists in the dataset.
func (r *Registry) CreateRef(ctx context.Context, datasetID, name, commitID string) error {
	return r.db.WithinUoW(func(uow *store.UnitOfWork) error {
		var existing model.Ref
		err := store.GetJSON(uow.Txn(), store.RefKey(datasetID, name), &existing)
		if err == nil {
			return apperr.Conflict("ref %q already exists in dataset %s", name, datasetID)
		}
		if !store.IsNotFound(err) {
			return apperr.Wrap(err, "read ref")
		}
		ref := model.Ref{DatasetID: datasetID, Name: name, CommitID: commitID}
		return store.PutJSON(uow.Txn(), store.RefKey(datasetID, name), &ref)
	})
}

// UpdateRefCAS advances name to newCommitID only if it currently points at
// expectedCommitID, returning apperr.Conflict otherwise. The read and
// write happen inside the same badger transaction, so a concurrent
// UpdateRefCAS on the same ref is resolved by badger's SSI conflict
// check: at most one of two racing callers commits.
func (r *Registry) UpdateRefCAS(ctx context.Context, datasetID, name, expectedCommitID, newCommitID string) error {
	return r.db.WithinUoW(func(uow *store.UnitOfWork) error {
		var ref model.Ref
		err := store.GetJSON(uow.Txn(), store.RefKey(datasetID, name), &ref)
		if err != nil {
			if store.IsNotFound(err) {
				return apperr.NotFound("ref %q not found in dataset %s", name, datasetID)
			}
			return apperr.Wrap(err, "read ref")
		}
		if ref.CommitID != expectedCommitID {
			return apperr.Conflict("ref %q moved: expected %s, found %s", name, expectedCommitID, ref.CommitID)
		}
		ref.CommitID = newCommitID
		return store.PutJSON(uow.Txn(), store.RefKey(datasetID, name), &ref)
	})
}

// DeleteRef removes a ref. The dataset's main ref can never be deleted
// while the dataset exists (§4.3 I7); callers that want to remove "main"
// must delete the dataset instead.
func (r *Registry) DeleteRef(ctx context.Context, datasetID, name string) error {
	if name == model.MainRef {
		return apperr.Validation("the main ref cannot be deleted directly; delete the dataset instead")
	}
	return r.db.WithinUoW(func(uow *store.UnitOfWork) error {
		key := store.RefKey(datasetID, name)
		var existing model.Ref
		if err := store.GetJSON(uow.Txn(), key, &existing); err != nil {
			if store.IsNotFound(err) {
				return apperr.NotFound("ref %q not found in dataset %s", name, datasetID)
			}
			return apperr.Wrap(err, "read ref")
		}
		return uow.Txn().Delete(key)
	})
}

// Resolve returns the commit a ref currently points at.
func (r *Registry) Resolve(ctx context.Context, datasetID, name string) (*model.Ref, error) {
	var ref model.Ref
	err := r.db.View(func(txn *badger.Txn) error {
		return store.GetJSON(txn, store.RefKey(datasetID, name), &ref)
	})
	if err != nil {
		if store.IsNotFound(err) {
			return nil, apperr.NotFound("ref %q not found in dataset %s", name, datasetID)
		}
		return nil, apperr.Wrap(err, "read ref")
	}
	return &ref, nil
}

// ListRefs returns every ref defined on a dataset.
func (r *Registry) ListRefs(ctx context.Context, datasetID string) ([]model.Ref, error) {
	var refs []model.Ref
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		prefix := store.RefPrefix(datasetID)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var ref model.Ref
			item := it.Item()
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &ref)
			}); err != nil {
				return apperr.Wrap(err, "decode ref")
			}
			refs = append(refs, ref)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return refs, nil
}
