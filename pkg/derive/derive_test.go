package derive_test

import (
	"context"
	"testing"

	"github.com/sakganji/datasetd/pkg/commitgraph"
	"github.com/sakganji/datasetd/pkg/derive"
	"github.com/sakganji/datasetd/pkg/jobs"
	"github.com/sakganji/datasetd/pkg/model"
	"github.com/sakganji/datasetd/pkg/query"
	"github.com/sakganji/datasetd/pkg/refregistry"
	"github.com/sakganji/datasetd/pkg/rowstore"
	"github.com/sakganji/datasetd/pkg/storetest"
	"github.com/stretchr/testify/require"
)

const testTable = "primary"

func newFixture(t *testing.T) (*derive.Service, *jobs.Registry, *refregistry.Registry, string) {
	t.Helper()
	db, _ := storetest.New(t)
	jobReg := jobs.New(db)
	graph := commitgraph.New(db)
	refs := refregistry.New(db)
	rows := rowstore.New(db)
	q := query.New(db, graph, refs, rows)
	svc := derive.New(db, jobReg, graph, refs, rows, q)

	ctx := context.Background()
	data := []map[string]any{
		{"name": "alice", "age": int64(30), "city": "nyc"},
		{"name": "bob", "age": int64(25), "city": "sf"},
		{"name": "carol", "age": int64(40), "city": "nyc"},
		{"name": "dan", "age": int64(35), "city": "sf"},
		{"name": "erin", "age": int64(22), "city": "nyc"},
		{"name": "frank", "age": int64(50), "city": "sf"},
	}
	hashes, err := rows.PutRows(ctx, data)
	require.NoError(t, err)

	manifest := make([]model.ManifestEntry, len(hashes))
	for i, h := range hashes {
		manifest[i] = model.ManifestEntry{LogicalRowID: testTable + ":" + pad(i), RowHash: h}
	}
	schema := model.TableSchemas{
		testTable: model.TableSchema{Columns: []model.ColumnSchema{
			{Name: "name", Type: "string", Nullable: true},
			{Name: "age", Type: "int64", Nullable: true},
			{Name: "city", Type: "string", Nullable: true},
		}},
	}
	commitID, err := graph.CreateCommit(ctx, "ds1", "", "seed", "user1", manifest, schema)
	require.NoError(t, err)
	require.NoError(t, refs.CreateRef(ctx, "ds1", model.MainRef, commitID))

	return svc, jobReg, refs, commitID
}

func pad(i int) string {
	digits := "000000000000"
	s := itoa(i)
	return digits[:len(digits)-len(s)] + s
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b []byte
	for i > 0 {
		b = append([]byte{byte('0' + i%10)}, b...)
		i /= 10
	}
	return string(b)
}

func TestSampling_Random(t *testing.T) {
	svc, jobReg, _, commitID := newFixture(t)
	ctx := context.Background()

	job, err := svc.EnqueueSampling(ctx, "ds1", commitID, "user1", map[string]any{
		"table_key":   testTable,
		"method":      "random",
		"sample_size": int64(3),
		"seed":        int64(42),
	})
	require.NoError(t, err)

	ok, err := svc.ProcessNext(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := jobReg.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, model.JobCompleted, got.Status)
	require.EqualValues(t, 3, got.OutputSummary["row_count"])
	require.NotEmpty(t, got.OutputSummary["commit_id"])
}

func TestSampling_CreatesDerivedRef(t *testing.T) {
	svc, jobReg, refs, commitID := newFixture(t)
	ctx := context.Background()

	job, err := svc.EnqueueSampling(ctx, "ds1", commitID, "user1", map[string]any{
		"table_key":   testTable,
		"method":      "systematic",
		"sample_size": int64(2),
		"dest_ref":    "sample/systematic",
	})
	require.NoError(t, err)

	ok, err := svc.ProcessNext(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := jobReg.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, model.JobCompleted, got.Status)

	ref, err := refs.Resolve(ctx, "ds1", "sample/systematic")
	require.NoError(t, err)
	require.Equal(t, got.OutputSummary["commit_id"], ref.CommitID)
}

func TestSampling_StratifiedRequiresColumn(t *testing.T) {
	svc, jobReg, _, commitID := newFixture(t)
	ctx := context.Background()

	job, err := svc.EnqueueSampling(ctx, "ds1", commitID, "user1", map[string]any{
		"table_key":   testTable,
		"method":      "stratified",
		"sample_size": int64(2),
	})
	require.NoError(t, err)

	ok, err := svc.ProcessNext(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := jobReg.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, model.JobFailed, got.Status)
	require.NotEmpty(t, got.ErrorMessage)
}

func TestProfile(t *testing.T) {
	svc, _, _, commitID := newFixture(t)
	ctx := context.Background()

	result, err := svc.Profile(ctx, "ds1", commitID, testTable)
	require.NoError(t, err)
	require.Equal(t, 6, result.RowCount)

	var ageCol *derive.ColumnProfile
	for i := range result.Columns {
		if result.Columns[i].Column == "age" {
			ageCol = &result.Columns[i]
		}
	}
	require.NotNil(t, ageCol)
	require.Equal(t, 0, ageCol.NullCount)
	require.NotNil(t, ageCol.Min)
	require.NotNil(t, ageCol.Max)
	require.InDelta(t, 22, *ageCol.Min, 0.001)
	require.InDelta(t, 50, *ageCol.Max, 0.001)
}

func TestPreview_FilterAndLimit(t *testing.T) {
	svc, _, _, commitID := newFixture(t)
	ctx := context.Background()

	result, err := svc.Preview(ctx, derive.PreviewRequest{
		DatasetID: "ds1",
		CommitID:  commitID,
		SQL:       "SELECT name, city FROM `primary` WHERE city = 'nyc' LIMIT 2",
	})
	require.NoError(t, err)
	require.Len(t, result.Rows, 2)
	require.ElementsMatch(t, []string{"name", "city"}, result.Columns)
	for _, row := range result.Rows {
		require.Equal(t, "nyc", row["city"])
	}
}

func TestPreview_RejectsNonSelect(t *testing.T) {
	svc, _, _, commitID := newFixture(t)
	ctx := context.Background()

	_, err := svc.Preview(ctx, derive.PreviewRequest{
		DatasetID: "ds1",
		CommitID:  commitID,
		SQL:       "DELETE FROM primary",
	})
	require.Error(t, err)
}
