package refregistry_test

import (
	"context"
	"testing"

	"github.com/sakganji/datasetd/pkg/apperr"
	"github.com/sakganji/datasetd/pkg/model"
	"github.com/sakganji/datasetd/pkg/refregistry"
	"github.com/sakganji/datasetd/pkg/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndResolveRef(t *testing.T) {
	db, _ := storetest.New(t)
	reg := refregistry.New(db)
	ctx := context.Background()

	require.NoError(t, reg.CreateRef(ctx, "ds1", model.MainRef, "c1"))

	ref, err := reg.Resolve(ctx, "ds1", model.MainRef)
	require.NoError(t, err)
	assert.Equal(t, "c1", ref.CommitID)

	err = reg.CreateRef(ctx, "ds1", model.MainRef, "c2")
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestUpdateRefCAS(t *testing.T) {
	db, _ := storetest.New(t)
	reg := refregistry.New(db)
	ctx := context.Background()

	require.NoError(t, reg.CreateRef(ctx, "ds1", model.MainRef, "c1"))

	require.NoError(t, reg.UpdateRefCAS(ctx, "ds1", model.MainRef, "c1", "c2"))
	ref, err := reg.Resolve(ctx, "ds1", model.MainRef)
	require.NoError(t, err)
	assert.Equal(t, "c2", ref.CommitID)

	err = reg.UpdateRefCAS(ctx, "ds1", model.MainRef, "c1", "c3")
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	ref, err = reg.Resolve(ctx, "ds1", model.MainRef)
	require.NoError(t, err)
	assert.Equal(t, "c2", ref.CommitID, "failed CAS must not move the ref")
}

func TestDeleteRef_MainProtected(t *testing.T) {
	db, _ := storetest.New(t)
	reg := refregistry.New(db)
	ctx := context.Background()

	require.NoError(t, reg.CreateRef(ctx, "ds1", model.MainRef, "c1"))
	err := reg.DeleteRef(ctx, "ds1", model.MainRef)
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestListRefs(t *testing.T) {
	db, _ := storetest.New(t)
	reg := refregistry.New(db)
	ctx := context.Background()

	require.NoError(t, reg.CreateRef(ctx, "ds1", model.MainRef, "c1"))
	require.NoError(t, reg.CreateRef(ctx, "ds1", "staging", "c1"))

	refs, err := reg.ListRefs(ctx, "ds1")
	require.NoError(t, err)
	assert.Len(t, refs, 2)

	require.NoError(t, reg.DeleteRef(ctx, "ds1", "staging"))
	refs, err = reg.ListRefs(ctx, "ds1")
	require.NoError(t, err)
	assert.Len(t, refs, 1)
}
