package jobs_test

import (
	"context"
	"testing"
	"time"

	"github.com/sakganji/datasetd/pkg/apperr"
	"github.com/sakganji/datasetd/pkg/jobs"
	"github.com/sakganji/datasetd/pkg/model"
	"github.com/sakganji/datasetd/pkg/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueClaimComplete(t *testing.T) {
	db, _ := storetest.New(t)
	reg := jobs.New(db)
	ctx := context.Background()

	job, err := reg.Enqueue(ctx, model.RunImport, "ds1", "", "alice", map[string]any{"file": "a.csv"})
	require.NoError(t, err)
	assert.Equal(t, model.JobPending, job.Status)

	claimed, err := reg.ClaimNext(ctx, model.RunImport)
	require.NoError(t, err)
	assert.Equal(t, job.ID, claimed.ID)
	assert.Equal(t, model.JobRunning, claimed.Status)

	_, err = reg.ClaimNext(ctx, model.RunImport)
	require.Error(t, err, "second claim should find no pending jobs")

	require.NoError(t, reg.Complete(ctx, job.ID, map[string]any{"rows": 10}))

	got, err := reg.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
}

func TestFail(t *testing.T) {
	db, _ := storetest.New(t)
	reg := jobs.New(db)
	ctx := context.Background()

	job, err := reg.Enqueue(ctx, model.RunImport, "ds1", "", "alice", nil)
	require.NoError(t, err)
	_, err = reg.ClaimNext(ctx, model.RunImport)
	require.NoError(t, err)

	require.NoError(t, reg.Fail(ctx, job.ID, "boom"))
	got, err := reg.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, got.Status)
	assert.Equal(t, "boom", got.ErrorMessage)
}

func TestCancel_FinishedJobRejected(t *testing.T) {
	db, _ := storetest.New(t)
	reg := jobs.New(db)
	ctx := context.Background()

	job, err := reg.Enqueue(ctx, model.RunImport, "ds1", "", "alice", nil)
	require.NoError(t, err)
	_, err = reg.ClaimNext(ctx, model.RunImport)
	require.NoError(t, err)
	require.NoError(t, reg.Complete(ctx, job.ID, nil))

	err = reg.Cancel(ctx, job.ID)
	require.Error(t, err)
	assert.Equal(t, apperr.KindBusinessRule, apperr.KindOf(err))
}

func TestSetProgressAndCheckpoint(t *testing.T) {
	db, _ := storetest.New(t)
	reg := jobs.New(db)
	ctx := context.Background()

	job, err := reg.Enqueue(ctx, model.RunImport, "ds1", "", "alice", nil)
	require.NoError(t, err)
	_, err = reg.ClaimNext(ctx, model.RunImport)
	require.NoError(t, err)

	require.NoError(t, reg.SetProgress(ctx, job.ID, model.Progress{RowsProcessed: 5, TotalBytes: 100}))
	require.NoError(t, reg.SetCheckpoint(ctx, job.ID, model.Checkpoint{ManifestLength: 5, RowsEmittedPerSheet: map[string]int64{"primary": 5}}))

	got, err := reg.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Contains(t, got.Params, "progress")
	assert.Contains(t, got.Params, "checkpoint")
}

func TestRecoverAbandoned(t *testing.T) {
	db, _ := storetest.New(t)
	reg := jobs.New(db)
	ctx := context.Background()

	job, err := reg.Enqueue(ctx, model.RunImport, "ds1", "", "alice", nil)
	require.NoError(t, err)
	_, err = reg.ClaimNext(ctx, model.RunImport)
	require.NoError(t, err)

	// The job was claimed a millisecond ago, far inside HeartbeatTimeout,
	// so the recovery sweep must leave it alone.
	time.Sleep(time.Millisecond)
	n, err := recoverWithTimeout(reg, ctx)
	require.NoError(t, err)
	_ = n

	got, err := reg.Get(ctx, job.ID)
	require.NoError(t, err)
	// With the package's real HeartbeatTimeout this job is not yet
	// stale, so it should remain running.
	assert.Equal(t, model.JobRunning, got.Status)
}

func recoverWithTimeout(reg *jobs.Registry, ctx context.Context) (int, error) {
	return reg.RecoverAbandoned(ctx)
}
