package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// PutJSON marshals v and sets it under key within txn, mirroring the
// teacher's row_codec.go pattern of one small codec helper per value type
// instead of hand-rolled encoding at every call site.
func PutJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return txn.Set(key, data)
}

// GetJSON reads key within txn and unmarshals it into v. Returns
// badger.ErrKeyNotFound unchanged so callers can branch on it.
func GetJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(data []byte) error {
		return json.Unmarshal(data, v)
	})
}

// IsNotFound reports whether err is badger's not-found sentinel.
func IsNotFound(err error) bool {
	return errors.Is(err, badger.ErrKeyNotFound)
}

// NextSeq returns a zero-padded, lexicographically-sortable sequence
// number from a dedicated, lease-cached badger sequence, used to keep
// job-claim and event-log keys in creation order under plain byte
// comparison.
func (s *Store) NextSeq(name string) (string, error) {
	s.seqMu.Lock()
	seq, ok := s.seqs[name]
	if !ok {
		var err error
		seq, err = s.DB.GetSequence([]byte("seq:"+name), 1000)
		if err != nil {
			s.seqMu.Unlock()
			return "", fmt.Errorf("acquire sequence %s: %w", name, err)
		}
		s.seqs[name] = seq
	}
	s.seqMu.Unlock()

	n, err := seq.Next()
	if err != nil {
		return "", fmt.Errorf("advance sequence %s: %w", name, err)
	}
	return fmt.Sprintf("%020d", n), nil
}
