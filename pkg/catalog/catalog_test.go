package catalog_test

import (
	"context"
	"testing"

	"github.com/sakganji/datasetd/pkg/apperr"
	"github.com/sakganji/datasetd/pkg/catalog"
	"github.com/sakganji/datasetd/pkg/model"
	"github.com/sakganji/datasetd/pkg/permission"
	"github.com/sakganji/datasetd/pkg/refregistry"
	"github.com/sakganji/datasetd/pkg/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreate_BootstrapsAdminAndMainRef(t *testing.T) {
	db, _ := storetest.New(t)
	refs := refregistry.New(db)
	perms := permission.New(db)
	cat := catalog.New(db)
	ctx := context.Background()

	ds, err := cat.Create(ctx, "sales", "sales data", "alice", []string{"finance"})
	require.NoError(t, err)
	assert.NotEmpty(t, ds.ID)

	require.NoError(t, perms.Check(ctx, ds.ID, "alice", model.PermissionAdmin))

	ref, err := refs.Resolve(ctx, ds.ID, model.MainRef)
	require.NoError(t, err)
	assert.Empty(t, ref.CommitID)
}

func TestCreate_DuplicateNameRejected(t *testing.T) {
	db, _ := storetest.New(t)
	cat := catalog.New(db)
	ctx := context.Background()

	_, err := cat.Create(ctx, "sales", "", "alice", nil)
	require.NoError(t, err)

	_, err = cat.Create(ctx, "sales", "", "alice", nil)
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestDelete_CascadesRefsAndPermissions(t *testing.T) {
	db, _ := storetest.New(t)
	refs := refregistry.New(db)
	perms := permission.New(db)
	cat := catalog.New(db)
	ctx := context.Background()

	ds, err := cat.Create(ctx, "sales", "", "alice", nil)
	require.NoError(t, err)
	require.NoError(t, refs.CreateRef(ctx, ds.ID, "staging", "c1"))

	require.NoError(t, cat.Delete(ctx, ds.ID))

	_, err = cat.Get(ctx, ds.ID)
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = refs.Resolve(ctx, ds.ID, model.MainRef)
	require.Error(t, err)

	err = perms.Check(ctx, ds.ID, "alice", model.PermissionRead)
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestRename(t *testing.T) {
	db, _ := storetest.New(t)
	cat := catalog.New(db)
	ctx := context.Background()

	ds, err := cat.Create(ctx, "sales", "original", "alice", nil)
	require.NoError(t, err)

	require.NoError(t, cat.Rename(ctx, ds.ID, "sales-v2", ""))

	got, err := cat.Get(ctx, ds.ID)
	require.NoError(t, err)
	assert.Equal(t, "sales-v2", got.Name)
	assert.Equal(t, "original", got.Description)
}
