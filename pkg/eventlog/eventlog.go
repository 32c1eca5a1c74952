// Package eventlog durably records every domain event published on the
// in-process bus (§4.11), acting as the audit-writer subscriber named in
// the spec's event-log component. Subscribers registered on events.Bus
// must be idempotent under at-least-once delivery: Handle records an
// event_id marker alongside each event, and a second delivery of the same
// event_id finds that marker and writes nothing.
package eventlog

import (
	"log"

	"github.com/sakganji/datasetd/pkg/model"
	"github.com/sakganji/datasetd/pkg/store"
)

// Persister writes every event it receives into the store under a
// sequence-ordered key so the audit trail can be scanned in occurrence
// order.
type Persister struct {
	db *store.Store
}

func NewPersister(db *store.Store) *Persister {
	return &Persister{db: db}
}

// Handle matches the events.Subscriber signature; register it with
// bus.Subscribe at the composition root.
func (p *Persister) Handle(e model.Event) {
	err := p.db.WithinUoW(func(uow *store.UnitOfWork) error {
		marker := []byte("eventid:" + e.ID)
		if _, err := uow.Txn().Get(marker); err == nil {
			return nil
		} else if !store.IsNotFound(err) {
			return err
		}
		seq, err := p.db.NextSeq("event")
		if err != nil {
			return err
		}
		if err := uow.Txn().Set(marker, []byte(seq)); err != nil {
			return err
		}
		return store.PutJSON(uow.Txn(), store.EventKey(seq, e.ID), &e)
	})
	if err != nil {
		// The event is already durable as far as the originating
		// operation is concerned (its own commit already succeeded);
		// losing the audit copy is logged, not escalated.
		log.Printf("[AUDIT] failed to persist event %s (%s): %v", e.ID, e.Type, err)
	}
}
