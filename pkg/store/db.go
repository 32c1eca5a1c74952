package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/sakganji/datasetd/pkg/events"
)

// Store owns the badger database and the event bus every Unit-of-Work
// publishes into after a successful commit.
type Store struct {
	DB  *badger.DB
	bus *events.Bus

	seqMu  sync.Mutex
	seqs   map[string]*badger.Sequence
}

// Options mirrors the subset of badger.Options the service exposes through
// configuration (§6 "Environment": storage backend).
type Options struct {
	Dir      string
	InMemory bool
}

func Open(opts Options, bus *events.Bus) (*Store, error) {
	var badgerOpts badger.Options
	if opts.InMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		badgerOpts = badger.DefaultOptions(opts.Dir)
	}
	badgerOpts = badgerOpts.WithLogger(nil)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	return &Store{DB: db, bus: bus, seqs: make(map[string]*badger.Sequence)}, nil
}

func (s *Store) Close() error {
	s.seqMu.Lock()
	for _, seq := range s.seqs {
		seq.Release()
	}
	s.seqMu.Unlock()
	return s.DB.Close()
}

// RunGC runs badger's value-log garbage collector on an interval until
// stop is closed, the same way the teacher's maintenance.go schedules
// periodic upkeep. Nothing in the service starts it.
func (s *Store) RunGC(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		again:
			if err := s.DB.RunValueLogGC(0.5); err == nil {
				goto again
			}
		}
	}
}
