// Package storetest provides the in-memory badger store every component
// package's tests construct, following the teacher's in-memory-badger test
// fixture (pkg/resource/badger/datasource_test.go).
package storetest

import (
	"testing"

	"github.com/sakganji/datasetd/pkg/events"
	"github.com/sakganji/datasetd/pkg/store"
	"github.com/stretchr/testify/require"
)

// New returns a fresh in-memory Store and its event bus, torn down
// automatically at the end of the test.
func New(t *testing.T) (*store.Store, *events.Bus) {
	t.Helper()
	bus := events.NewBus()
	s, err := store.Open(store.Options{InMemory: true}, bus)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, bus
}
