package query_test

import (
	"context"
	"testing"

	"github.com/sakganji/datasetd/pkg/commitgraph"
	"github.com/sakganji/datasetd/pkg/model"
	"github.com/sakganji/datasetd/pkg/query"
	"github.com/sakganji/datasetd/pkg/refregistry"
	"github.com/sakganji/datasetd/pkg/rowstore"
	"github.com/sakganji/datasetd/pkg/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*query.Service, *commitgraph.Graph, *refregistry.Registry, *rowstore.Store) {
	db, _ := storetest.New(t)
	graph := commitgraph.New(db)
	refs := refregistry.New(db)
	rows := rowstore.New(db)
	return query.New(db, graph, refs, rows), graph, refs, rows
}

func TestGetDataAtRef_PaginatedInOrder(t *testing.T) {
	q, graph, refs, rows := setup(t)
	ctx := context.Background()

	hashes, err := rows.PutRows(ctx, []map[string]any{
		{"id": "1"}, {"id": "2"}, {"id": "3"},
	})
	require.NoError(t, err)
	manifest := []model.ManifestEntry{
		{LogicalRowID: "primary:0001", RowHash: hashes[0]},
		{LogicalRowID: "primary:0002", RowHash: hashes[1]},
		{LogicalRowID: "primary:0003", RowHash: hashes[2]},
	}
	schema := model.TableSchemas{"primary": {Columns: []model.ColumnSchema{{Name: "id", Type: "string"}}}}
	commitID, err := graph.CreateCommit(ctx, "ds1", "", "import", "alice", manifest, schema)
	require.NoError(t, err)
	require.NoError(t, refs.CreateRef(ctx, "ds1", model.MainRef, commitID))

	page, err := q.GetDataAtRef(ctx, "ds1", model.MainRef, "primary", 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "primary:0002", page[0].LogicalRowID)
	assert.Equal(t, "2", page[0].Data["id"])
}

func TestListTablesAndOverview(t *testing.T) {
	q, graph, refs, rows := setup(t)
	ctx := context.Background()

	hashes, err := rows.PutRows(ctx, []map[string]any{{"id": "1"}, {"id": "2"}})
	require.NoError(t, err)
	manifest := []model.ManifestEntry{
		{LogicalRowID: "sheet1:0001", RowHash: hashes[0]},
		{LogicalRowID: "sheet2:0001", RowHash: hashes[1]},
	}
	schema := model.TableSchemas{
		"sheet1": {Columns: []model.ColumnSchema{{Name: "id", Type: "string"}}},
		"sheet2": {Columns: []model.ColumnSchema{{Name: "id", Type: "string"}}},
	}
	commitID, err := graph.CreateCommit(ctx, "ds1", "", "import", "alice", manifest, schema)
	require.NoError(t, err)
	require.NoError(t, refs.CreateRef(ctx, "ds1", model.MainRef, commitID))

	tables, err := q.ListTables(ctx, commitID)
	require.NoError(t, err)
	require.Len(t, tables, 2)
	assert.Equal(t, "sheet1", tables[0].Key)
	assert.Equal(t, 1, tables[0].RowCount)

	overview, err := q.GetOverview(ctx, "ds1")
	require.NoError(t, err)
	assert.Equal(t, model.MainRef, overview.DefaultRef)
	require.Len(t, overview.Refs, 1)
	assert.Equal(t, commitID, overview.Refs[0].CommitID)
	assert.Len(t, overview.Refs[0].Tables, 2)
}

func TestGetDataAtRef_EmptyMainRef(t *testing.T) {
	q, _, refs, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, refs.CreateRef(ctx, "ds1", model.MainRef, ""))

	rows, err := q.GetDataAtRef(ctx, "ds1", model.MainRef, "primary", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestGetDataAtCommit_NegativeOffsetRejected(t *testing.T) {
	q, graph, _, _ := setup(t)
	ctx := context.Background()

	commitID, err := graph.CreateCommit(ctx, "ds1", "", "import", "alice", nil, nil)
	require.NoError(t, err)

	_, err = q.GetDataAtCommit(ctx, "ds1", commitID, "primary", -1, 10)
	require.Error(t, err)
}
