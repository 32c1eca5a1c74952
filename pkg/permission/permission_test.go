package permission_test

import (
	"context"
	"testing"

	"github.com/sakganji/datasetd/pkg/apperr"
	"github.com/sakganji/datasetd/pkg/model"
	"github.com/sakganji/datasetd/pkg/permission"
	"github.com/sakganji/datasetd/pkg/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheck_NoGrantLooksLikeNotFound(t *testing.T) {
	db, _ := storetest.New(t)
	c := permission.New(db)
	ctx := context.Background()

	err := c.Check(ctx, "ds1", "alice", model.PermissionRead)
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestCheck_WeakerGrantLooksLikeNotFound(t *testing.T) {
	db, _ := storetest.New(t)
	c := permission.New(db)
	ctx := context.Background()

	require.NoError(t, c.Grant(ctx, "ds1", "alice", model.PermissionRead))

	require.NoError(t, c.Check(ctx, "ds1", "alice", model.PermissionRead))

	err := c.Check(ctx, "ds1", "alice", model.PermissionWrite)
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestCheck_AdminSatisfiesAll(t *testing.T) {
	db, _ := storetest.New(t)
	c := permission.New(db)
	ctx := context.Background()

	require.NoError(t, c.Grant(ctx, "ds1", "alice", model.PermissionAdmin))
	require.NoError(t, c.Check(ctx, "ds1", "alice", model.PermissionRead))
	require.NoError(t, c.Check(ctx, "ds1", "alice", model.PermissionWrite))
	require.NoError(t, c.Check(ctx, "ds1", "alice", model.PermissionAdmin))
}

func TestRevoke(t *testing.T) {
	db, _ := storetest.New(t)
	c := permission.New(db)
	ctx := context.Background()

	require.NoError(t, c.Grant(ctx, "ds1", "alice", model.PermissionWrite))
	require.NoError(t, c.Revoke(ctx, "ds1", "alice"))

	err := c.Check(ctx, "ds1", "alice", model.PermissionRead)
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestListGrants(t *testing.T) {
	db, _ := storetest.New(t)
	c := permission.New(db)
	ctx := context.Background()

	require.NoError(t, c.Grant(ctx, "ds1", "alice", model.PermissionAdmin))
	require.NoError(t, c.Grant(ctx, "ds1", "bob", model.PermissionRead))

	grants, err := c.ListGrants(ctx, "ds1")
	require.NoError(t, err)
	assert.Len(t, grants, 2)
}
