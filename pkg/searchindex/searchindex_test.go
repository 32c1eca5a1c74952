package searchindex_test

import (
	"testing"
	"time"

	"github.com/sakganji/datasetd/pkg/model"
	"github.com/sakganji/datasetd/pkg/searchindex"
	"github.com/sakganji/datasetd/pkg/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefreshAndSearch(t *testing.T) {
	db, _ := storetest.New(t)
	idx := searchindex.New(db)

	ds := model.Dataset{ID: "ds1", Name: "quarterly sales", Description: "revenue by region", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, idx.Refresh("ds1", ds))

	results, err := idx.Search("sales revenue")
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "ds1", results[0].DocID)

	got, err := idx.Get("ds1")
	require.NoError(t, err)
	assert.Equal(t, "quarterly sales", got.Name)
}

func TestRemove(t *testing.T) {
	db, _ := storetest.New(t)
	idx := searchindex.New(db)

	ds := model.Dataset{ID: "ds1", Name: "inventory", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, idx.Refresh("ds1", ds))
	require.NoError(t, idx.Remove("ds1"))

	_, err := idx.Get("ds1")
	require.Error(t, err)

	results, err := idx.Search("inventory")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRebuild(t *testing.T) {
	db, _ := storetest.New(t)
	idx := searchindex.New(db)

	ds := model.Dataset{ID: "ds1", Name: "customer churn", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, idx.Refresh("ds1", ds))

	fresh := searchindex.New(db)
	require.NoError(t, fresh.Rebuild())

	results, err := fresh.Search("churn")
	require.NoError(t, err)
	require.NotEmpty(t, results)
}
