package rowstore_test

import (
	"context"
	"testing"

	"github.com/sakganji/datasetd/pkg/rowstore"
	"github.com/sakganji/datasetd/pkg/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutRows_DedupAndRoundtrip(t *testing.T) {
	db, _ := storetest.New(t)
	rs := rowstore.New(db)
	ctx := context.Background()

	batch := []map[string]any{
		{"id": "1", "name": "alice"},
		{"id": "2", "name": "bob"},
		{"id": "1", "name": "alice"}, // duplicate payload
	}

	hashes, err := rs.PutRows(ctx, batch)
	require.NoError(t, err)
	require.Len(t, hashes, 3)
	assert.Equal(t, hashes[0], hashes[2], "identical payloads must hash identically (P1)")
	assert.NotEqual(t, hashes[0], hashes[1])

	got, err := rs.GetRows(ctx, []string{hashes[0], hashes[1]})
	require.NoError(t, err)
	assert.Equal(t, "alice", got[hashes[0]]["name"])
	assert.Equal(t, "bob", got[hashes[1]]["name"])
}

func TestPutRow_Deterministic(t *testing.T) {
	db, _ := storetest.New(t)
	rs := rowstore.New(db)
	ctx := context.Background()

	h1, err := rs.PutRow(ctx, map[string]any{"a": 1, "b": "x"})
	require.NoError(t, err)
	h2, err := rs.PutRow(ctx, map[string]any{"b": "x", "a": 1}) // different key order
	require.NoError(t, err)
	assert.Equal(t, h1, h2, "key order must not affect the canonical hash")
}

func TestGetRows_MissingHashOmitted(t *testing.T) {
	db, _ := storetest.New(t)
	rs := rowstore.New(db)
	ctx := context.Background()

	got, err := rs.GetRows(ctx, []string{"deadbeef"})
	require.NoError(t, err)
	assert.Empty(t, got)
}
