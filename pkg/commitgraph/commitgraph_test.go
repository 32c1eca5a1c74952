package commitgraph_test

import (
	"context"
	"testing"

	"github.com/sakganji/datasetd/pkg/apperr"
	"github.com/sakganji/datasetd/pkg/commitgraph"
	"github.com/sakganji/datasetd/pkg/model"
	"github.com/sakganji/datasetd/pkg/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateCommit_RootAndChild(t *testing.T) {
	db, _ := storetest.New(t)
	g := commitgraph.New(db)
	ctx := context.Background()

	manifest := []model.ManifestEntry{
		{LogicalRowID: "primary:1", RowHash: "h1"},
		{LogicalRowID: "primary:2", RowHash: "h2"},
	}
	schema := model.TableSchemas{"primary": {Columns: []model.ColumnSchema{{Name: "id", Type: "string", Nullable: true}}}}

	root, err := g.CreateCommit(ctx, "ds1", "", "initial import", "u1", manifest, schema)
	require.NoError(t, err)
	assert.NotEmpty(t, root)

	got, err := g.GetCommit(ctx, "ds1", root)
	require.NoError(t, err)
	assert.Equal(t, "ds1", got.DatasetID)
	assert.Empty(t, got.ParentCommitID)

	gotSchema, err := g.GetSchema(ctx, root)
	require.NoError(t, err)
	assert.Contains(t, gotSchema.Tables, "primary")

	child, err := g.CreateCommit(ctx, "ds1", root, "second import", "u1", manifest, schema)
	require.NoError(t, err)
	assert.NotEqual(t, root, child)

	ancestors, err := g.ListAncestors(ctx, "ds1", child, 0, 0)
	require.NoError(t, err)
	require.Len(t, ancestors, 2)
	assert.Equal(t, child, ancestors[0].ID)
	assert.Equal(t, root, ancestors[1].ID)
}

func TestCreateCommit_UnknownParentFails(t *testing.T) {
	db, _ := storetest.New(t)
	g := commitgraph.New(db)
	ctx := context.Background()

	_, err := g.CreateCommit(ctx, "ds1", "missing", "msg", "u1", nil, nil)
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestListAncestors_Pagination(t *testing.T) {
	db, _ := storetest.New(t)
	g := commitgraph.New(db)
	ctx := context.Background()

	var parent string
	var ids []string
	for i := 0; i < 5; i++ {
		id, err := g.CreateCommit(ctx, "ds1", parent, "msg", "u1", nil, nil)
		require.NoError(t, err)
		ids = append(ids, id)
		parent = id
	}

	page, err := g.ListAncestors(ctx, "ds1", parent, 1, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[3], page[0].ID)
	assert.Equal(t, ids[2], page[1].ID)
}
