// Package rowstore implements the content-addressed blob table of §4.1.
// Rows are insert-only and keyed by their canonical content hash; writing
// the same hash twice is a no-op because the value at that key is, by I4,
// always the same bytes.
package rowstore

import (
	"context"
	"encoding/json"

	"github.com/dgraph-io/badger/v4"
	"github.com/sakganji/datasetd/pkg/apperr"
	"github.com/sakganji/datasetd/pkg/hashcanon"
	"github.com/sakganji/datasetd/pkg/store"
)

type Store struct {
	db *store.Store
}

func New(db *store.Store) *Store {
	return &Store{db: db}
}

// PutRow hashes and stores a single row, returning its row_hash.
func (s *Store) PutRow(ctx context.Context, data map[string]any) (string, error) {
	hashes, err := s.PutRows(ctx, []map[string]any{data})
	if err != nil {
		return "", err
	}
	return hashes[0], nil
}

// PutRows hashes and bulk-inserts a batch of rows, returning one hash per
// input row in the same order. Badger's WriteBatch gives the "single bulk
// operation; per-row round-trips are disallowed" behavior §4.1 requires;
// since every key write is content-addressed and idempotent, a
// put-if-absent is simply a blind Set (P1, I4).
func (s *Store) PutRows(ctx context.Context, batch []map[string]any) ([]string, error) {
	hashes := make([]string, len(batch))
	canon := make([][]byte, len(batch))
	for i, row := range batch {
		canon[i] = hashcanon.Canonicalize(row)
		hashes[i] = hashcanon.HashBytes(canon[i])
	}

	wb := s.db.DB.NewWriteBatch()
	defer wb.Cancel()
	for i, c := range canon {
		if err := wb.Set(store.RowKey(hashes[i]), c); err != nil {
			return nil, apperr.Wrap(err, "write row batch")
		}
	}
	if err := wb.Flush(); err != nil {
		return nil, apperr.Wrap(err, "flush row batch")
	}
	return hashes, nil
}

// GetRows resolves a set of hashes to their canonical row payloads.
// Missing hashes are silently omitted: callers that need I2-equivalent
// strictness (every manifest hash resolves) check len(result) against
// len(hashes).
func (s *Store) GetRows(ctx context.Context, hashes []string) (map[string]map[string]any, error) {
	result := make(map[string]map[string]any, len(hashes))
	err := s.db.View(func(txn *badger.Txn) error {
		for _, h := range hashes {
			item, err := txn.Get(store.RowKey(h))
			if err != nil {
				if store.IsNotFound(err) {
					continue
				}
				return err
			}
			var row map[string]any
			if err := item.Value(func(data []byte) error {
				return json.Unmarshal(data, &row)
			}); err != nil {
				return err
			}
			result[h] = row
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
