// Package permission implements dataset-scoped access control (§4.4).
// A missing grant and a missing dataset both surface to the caller as
// apperr.NotFound: Check never distinguishes "you can't see this" from
// "this doesn't exist", so an unauthorized caller cannot use an access
// check to probe for the existence of datasets they cannot read (§4.4 I8).
package permission

import (
	"context"
	"encoding/json"

	"github.com/dgraph-io/badger/v4"
	"github.com/sakganji/datasetd/pkg/apperr"
	"github.com/sakganji/datasetd/pkg/model"
	"github.com/sakganji/datasetd/pkg/store"
)

type Checker struct {
	db *store.Store
}

func New(db *store.Store) *Checker {
	return &Checker{db: db}
}

// Grant gives userID the given permission kind on a dataset, replacing
// any existing grant for that user.
func (c *Checker) Grant(ctx context.Context, datasetID, userID string, kind model.PermissionKind) error {
	return c.db.WithinUoW(func(uow *store.UnitOfWork) error {
		perm := model.Permission{DatasetID: datasetID, UserID: userID, Kind: kind}
		return store.PutJSON(uow.Txn(), store.PermissionKey(datasetID, userID), &perm)
	})
}

// Revoke removes any grant a user has on a dataset.
func (c *Checker) Revoke(ctx context.Context, datasetID, userID string) error {
	return c.db.WithinUoW(func(uow *store.UnitOfWork) error {
		return uow.Txn().Delete(store.PermissionKey(datasetID, userID))
	})
}

// Check verifies userID holds at least `required` access on datasetID.
// It returns apperr.NotFound both when the dataset has no grant for this
// user at all and when the grant held is weaker than required, so a
// caller without access learns nothing about whether the dataset exists.
func (c *Checker) Check(ctx context.Context, datasetID, userID string, required model.PermissionKind) error {
	var perm model.Permission
	err := c.db.View(func(txn *badger.Txn) error {
		return store.GetJSON(txn, store.PermissionKey(datasetID, userID), &perm)
	})
	if err != nil {
		if store.IsNotFound(err) {
			return apperr.NotFound("dataset %s not found", datasetID)
		}
		return apperr.Wrap(err, "read permission")
	}
	if !perm.Kind.Satisfies(required) {
		return apperr.NotFound("dataset %s not found", datasetID)
	}
	return nil
}

// ListGrants returns every permission grant on a dataset, used by admin
// callers managing dataset membership.
func (c *Checker) ListGrants(ctx context.Context, datasetID string) ([]model.Permission, error) {
	var grants []model.Permission
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		prefix := store.PermissionPrefix(datasetID)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var perm model.Permission
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &perm)
			}); err != nil {
				return apperr.Wrap(err, "decode permission")
			}
			grants = append(grants, perm)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return grants, nil
}
