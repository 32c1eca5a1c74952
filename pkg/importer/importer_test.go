package importer_test

import (
	"context"
	"strings"
	"testing"

	"github.com/sakganji/datasetd/pkg/commitgraph"
	"github.com/sakganji/datasetd/pkg/config"
	"github.com/sakganji/datasetd/pkg/importer"
	"github.com/sakganji/datasetd/pkg/jobs"
	"github.com/sakganji/datasetd/pkg/model"
	"github.com/sakganji/datasetd/pkg/refregistry"
	"github.com/sakganji/datasetd/pkg/rowstore"
	"github.com/sakganji/datasetd/pkg/storetest"
	"github.com/stretchr/testify/require"
)

type stubDatasets struct{ ds model.Dataset }

func (s stubDatasets) Get(ctx context.Context, datasetID string) (*model.Dataset, error) {
	return &s.ds, nil
}

type stubSearch struct{ refreshed []string }

func (s *stubSearch) Refresh(datasetID string, ds model.Dataset) error {
	s.refreshed = append(s.refreshed, datasetID)
	return nil
}

func newService(t *testing.T, batchSize int) (*importer.Service, *jobs.Registry, *refregistry.Registry, *rowstore.Store, *stubSearch) {
	t.Helper()
	db, _ := storetest.New(t)
	jobReg := jobs.New(db)
	graph := commitgraph.New(db)
	refs := refregistry.New(db)
	rows := rowstore.New(db)
	require.NoError(t, refs.CreateRef(context.Background(), "ds1", model.MainRef, ""))

	search := &stubSearch{}
	cfg := config.ImportConfig{
		MaxUploadBytes:     1 << 20,
		ChunkBytes:         4096,
		BatchSize:          batchSize,
		CheckpointInterval: 1,
		StageDir:           t.TempDir(),
	}
	svc := importer.New(db, jobReg, graph, refs, rows, stubDatasets{ds: model.Dataset{ID: "ds1", Name: "d"}}, nil, cfg)
	_ = search
	return svc, jobReg, refs, rows, search
}

func TestImportCSV_EndToEnd(t *testing.T) {
	svc, jobReg, refs, _, _ := newService(t, 2)
	ctx := context.Background()

	csvBody := "name,age\nalice,30\nbob,25\ncarol,40\n"
	path, size, err := svc.Accept(strings.NewReader(csvBody))
	require.NoError(t, err)

	job, err := svc.Enqueue(ctx, "ds1", model.MainRef, "user1", "initial load", "data.csv", path, size)
	require.NoError(t, err)
	require.Equal(t, model.JobPending, job.Status)

	ok, err := svc.ProcessNext(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := jobReg.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, model.JobCompleted, got.Status)
	require.EqualValues(t, 3, got.OutputSummary["row_count"])

	ref, err := refs.Resolve(ctx, "ds1", model.MainRef)
	require.NoError(t, err)
	require.NotEmpty(t, ref.CommitID)
}

func TestImportCSV_EmptyFile(t *testing.T) {
	svc, jobReg, refs, _, _ := newService(t, 10)
	ctx := context.Background()

	path, size, err := svc.Accept(strings.NewReader(""))
	require.NoError(t, err)

	job, err := svc.Enqueue(ctx, "ds1", model.MainRef, "user1", "empty", "empty.csv", path, size)
	require.NoError(t, err)

	ok, err := svc.ProcessNext(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := jobReg.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, model.JobCompleted, got.Status)
	require.EqualValues(t, 0, got.OutputSummary["row_count"])

	ref, err := refs.Resolve(ctx, "ds1", model.MainRef)
	require.NoError(t, err)
	require.NotEmpty(t, ref.CommitID)
}

func TestAccept_RejectsOversizedUpload(t *testing.T) {
	svc, _, _, _, _ := newService(t, 10)
	_, _, err := svc.Accept(strings.NewReader(strings.Repeat("x", 2<<20)))
	require.Error(t, err)
}

func TestUnsupportedFormatRejectedAtEnqueue(t *testing.T) {
	svc, _, _, _, _ := newService(t, 10)
	ctx := context.Background()
	path, size, err := svc.Accept(strings.NewReader("whatever"))
	require.NoError(t, err)

	_, err = svc.Enqueue(ctx, "ds1", model.MainRef, "user1", "m", "data.txt", path, size)
	require.Error(t, err)
}

func TestProcessNext_NoPendingJobs(t *testing.T) {
	svc, _, _, _, _ := newService(t, 10)
	ok, err := svc.ProcessNext(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}
