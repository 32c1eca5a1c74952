package store

import (
	"errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/sakganji/datasetd/pkg/apperr"
	"github.com/sakganji/datasetd/pkg/model"
)

// UnitOfWork is the transactional envelope of §4.5: a badger transaction
// plus an in-memory event buffer that is only handed to the bus once the
// wrapping transaction commits.
type UnitOfWork struct {
	txn    *badger.Txn
	events []model.Event
}

func (u *UnitOfWork) Txn() *badger.Txn { return u.txn }

// Collect buffers e for publication after a successful commit. Rollback
// (the wrapping Update returning an error) discards the buffer.
func (u *UnitOfWork) Collect(e model.Event) {
	u.events = append(u.events, e)
}

const maxCommitRetries = 3

// WithinUoW runs fn inside a single badger transaction, following the
// teacher's db.Update(func(txn *badger.Txn) error {...}) shape: on success
// it commits and publishes every event fn collected; on error it rolls
// back (badger discards the transaction automatically) and drops the
// buffer. Conflicting concurrent transactions (badger.ErrConflict) are
// retried a bounded number of times before surfacing as a Transient
// failure, the embedded-KV analogue of "row-level lock + conditional
// update" called out in §4.6/§5.
func (s *Store) WithinUoW(fn func(*UnitOfWork) error) error {
	var lastErr error
	for attempt := 0; attempt < maxCommitRetries; attempt++ {
		uow := &UnitOfWork{}
		err := s.DB.Update(func(txn *badger.Txn) error {
			uow.txn = txn
			uow.events = nil
			return fn(uow)
		})
		if err == nil {
			for _, e := range uow.events {
				s.bus.Publish(e)
			}
			return nil
		}
		if errors.Is(err, badger.ErrConflict) {
			lastErr = apperr.Transient("concurrent update conflict, retried %d times", attempt+1)
			continue
		}
		if ae, ok := err.(*apperr.Error); ok {
			return ae
		}
		return apperr.Wrap(err, "transaction failed")
	}
	return lastErr
}

// PublishEvents collects and publishes events with no accompanying data
// mutation, for callers (e.g. the import pipeline) whose writes already
// happened inside their own UoW calls and that only need the at-least-once
// publish guarantee of §4.11 for a couple of summary events afterward.
func (s *Store) PublishEvents(events ...model.Event) error {
	return s.WithinUoW(func(uow *UnitOfWork) error {
		for _, e := range events {
			uow.Collect(e)
		}
		return nil
	})
}

// View runs a read-only operation; grounded in badger's own View/Update
// split so read paths never take a write lock.
func (s *Store) View(fn func(txn *badger.Txn) error) error {
	if err := s.DB.View(fn); err != nil {
		if ae, ok := err.(*apperr.Error); ok {
			return ae
		}
		return apperr.Wrap(err, "read transaction failed")
	}
	return nil
}
