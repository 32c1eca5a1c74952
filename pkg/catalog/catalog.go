// Package catalog implements dataset lifecycle management (§4.1): create,
// rename, describe, tag and delete, plus the bootstrap steps every new
// dataset needs (an admin grant for its creator and a main ref).
package catalog

import (
	"context"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/sakganji/datasetd/pkg/apperr"
	"github.com/sakganji/datasetd/pkg/model"
	"github.com/sakganji/datasetd/pkg/store"
)

// Catalog writes the dataset record, its bootstrap admin grant, and its
// bootstrap main ref directly within its own Unit-of-Work rather than
// calling into pkg/refregistry, so dataset creation and deletion are each
// a single atomic transaction instead of three independent ones with a
// partial-failure window between them.
type Catalog struct {
	db *store.Store
}

func New(db *store.Store) *Catalog {
	return &Catalog{db: db}
}

// Create registers a new dataset, grants its creator admin access, and
// creates an empty main ref (§4.1 I1: every dataset has a main ref from
// the moment it exists, even before any commit has been made — main's
// CommitID is empty until the first import lands).
func (c *Catalog) Create(ctx context.Context, name, description, createdBy string, tags []string) (*model.Dataset, error) {
	if name == "" {
		return nil, apperr.Validation("dataset name must not be empty")
	}
	now := time.Now().UTC()
	ds := model.Dataset{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		Tags:        tags,
		CreatedBy:   createdBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := c.db.WithinUoW(func(uow *store.UnitOfWork) error {
		nameKey := store.DatasetNameKey(createdBy, name)
		var existing model.Dataset
		if err := store.GetJSON(uow.Txn(), nameKey, &existing); err == nil {
			return apperr.Conflict("dataset %q already exists for this owner", name)
		} else if !store.IsNotFound(err) {
			return apperr.Wrap(err, "check dataset name")
		}
		if err := store.PutJSON(uow.Txn(), store.DatasetKey(ds.ID), &ds); err != nil {
			return err
		}
		if err := store.PutJSON(uow.Txn(), nameKey, &ds); err != nil {
			return err
		}
		perm := model.Permission{DatasetID: ds.ID, UserID: createdBy, Kind: model.PermissionAdmin}
		if err := store.PutJSON(uow.Txn(), store.PermissionKey(ds.ID, createdBy), &perm); err != nil {
			return err
		}
		ref := model.Ref{DatasetID: ds.ID, Name: model.MainRef}
		if err := store.PutJSON(uow.Txn(), store.RefKey(ds.ID, model.MainRef), &ref); err != nil {
			return err
		}
		uow.Collect(model.Event{
			ID: uuid.NewString(), Type: "dataset.created", AggregateID: ds.ID,
			AggregateType: "dataset", UserID: createdBy, OccurredAt: now,
			Payload: map[string]any{"name": name},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &ds, nil
}

func (c *Catalog) Get(ctx context.Context, datasetID string) (*model.Dataset, error) {
	var ds model.Dataset
	err := c.db.View(func(txn *badger.Txn) error {
		return store.GetJSON(txn, store.DatasetKey(datasetID), &ds)
	})
	if err != nil {
		if store.IsNotFound(err) {
			return nil, apperr.NotFound("dataset %s not found", datasetID)
		}
		return nil, apperr.Wrap(err, "read dataset")
	}
	return &ds, nil
}

// Rename changes a dataset's display name and/or description; the
// dataset id and its existing refs/commits are untouched.
func (c *Catalog) Rename(ctx context.Context, datasetID, newName, newDescription string) error {
	return c.db.WithinUoW(func(uow *store.UnitOfWork) error {
		var ds model.Dataset
		if err := store.GetJSON(uow.Txn(), store.DatasetKey(datasetID), &ds); err != nil {
			if store.IsNotFound(err) {
				return apperr.NotFound("dataset %s not found", datasetID)
			}
			return apperr.Wrap(err, "read dataset")
		}
		oldNameKey := store.DatasetNameKey(ds.CreatedBy, ds.Name)
		if newName != "" {
			ds.Name = newName
		}
		if newDescription != "" {
			ds.Description = newDescription
		}
		ds.UpdatedAt = time.Now().UTC()
		if err := uow.Txn().Delete(oldNameKey); err != nil {
			return apperr.Wrap(err, "drop old dataset name index")
		}
		if err := store.PutJSON(uow.Txn(), store.DatasetNameKey(ds.CreatedBy, ds.Name), &ds); err != nil {
			return err
		}
		return store.PutJSON(uow.Txn(), store.DatasetKey(datasetID), &ds)
	})
}

// Delete removes a dataset and every ref and permission grant scoped to
// it (§4.1 I3: deleting a dataset cascades to its refs and grants).
// Commits and rows are left in place: content-addressed rows may be
// shared with other datasets' history, and orphaned commits are simply
// unreachable rather than corrupt.
func (c *Catalog) Delete(ctx context.Context, datasetID string) error {
	return c.db.WithinUoW(func(uow *store.UnitOfWork) error {
		var ds model.Dataset
		if err := store.GetJSON(uow.Txn(), store.DatasetKey(datasetID), &ds); err != nil {
			if store.IsNotFound(err) {
				return apperr.NotFound("dataset %s not found", datasetID)
			}
			return apperr.Wrap(err, "read dataset")
		}

		txn := uow.Txn()
		if err := deletePrefix(txn, store.RefPrefix(datasetID)); err != nil {
			return err
		}
		if err := deletePrefix(txn, store.PermissionPrefix(datasetID)); err != nil {
			return err
		}
		if err := txn.Delete(store.DatasetNameKey(ds.CreatedBy, ds.Name)); err != nil {
			return apperr.Wrap(err, "delete dataset name index")
		}
		if err := txn.Delete(store.DatasetKey(datasetID)); err != nil {
			return apperr.Wrap(err, "delete dataset")
		}
		uow.Collect(model.Event{
			ID: uuid.NewString(), Type: "dataset.deleted", AggregateID: datasetID,
			AggregateType: "dataset", OccurredAt: time.Now().UTC(),
		})
		return nil
	})
}

// deletePrefix removes every key under prefix within the same
// transaction. Scans happen on the same txn being mutated, so keys are
// collected before any delete call to avoid invalidating the iterator.
func deletePrefix(txn *badger.Txn, prefix []byte) error {
	var keys [][]byte
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		k := it.Item().KeyCopy(nil)
		keys = append(keys, k)
	}
	it.Close()
	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return apperr.Wrap(err, "delete key under prefix")
		}
	}
	return nil
}
