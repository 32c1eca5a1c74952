// Package jobs implements the Analysis Run registry (§4.6/§4.12): an
// asynchronous task queue with race-free claiming, heartbeats, progress
// and checkpoint persistence, backed by the same badger store as
// everything else so a claim and its status transition share one
// transaction and can never diverge.
package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/sakganji/datasetd/pkg/apperr"
	"github.com/sakganji/datasetd/pkg/model"
	"github.com/sakganji/datasetd/pkg/store"
)

func decodeJob(data []byte, job *model.Job) error {
	return json.Unmarshal(data, job)
}

// HeartbeatTimeout is how long a running job may go without a heartbeat
// before a worker restart sweep considers it abandoned and resets it to
// pending (§4.12 R3).
const HeartbeatTimeout = 2 * time.Minute

type Registry struct {
	db *store.Store
}

func New(db *store.Store) *Registry {
	return &Registry{db: db}
}

// Enqueue creates a pending job and indexes it for claim_next.
func (r *Registry) Enqueue(ctx context.Context, runType model.RunType, datasetID, sourceCommitID, userID string, params map[string]any) (*model.Job, error) {
	now := time.Now().UTC()
	job := model.Job{
		ID:             uuid.NewString(),
		RunType:        runType,
		Status:         model.JobPending,
		DatasetID:      datasetID,
		SourceCommitID: sourceCommitID,
		UserID:         userID,
		Params:         params,
		CreatedAt:      now,
		HeartbeatAt:    now,
	}
	err := r.db.WithinUoW(func(uow *store.UnitOfWork) error {
		seq, err := r.db.NextSeq("job")
		if err != nil {
			return err
		}
		if err := store.PutJSON(uow.Txn(), store.JobKey(job.ID), &job); err != nil {
			return err
		}
		idxKey := store.JobIndexKey(string(runType), string(model.JobPending), seq, job.ID)
		return uow.Txn().Set(idxKey, []byte(job.ID))
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ClaimNext atomically moves the oldest pending job of runType to
// running and returns it. Two workers racing on the same index scan
// will have one lose to a badger transaction conflict on the index
// entry, so a job is never claimed twice (§4.12 R1).
func (r *Registry) ClaimNext(ctx context.Context, runType model.RunType) (*model.Job, error) {
	var claimed *model.Job
	err := r.db.WithinUoW(func(uow *store.UnitOfWork) error {
		txn := uow.Txn()
		prefix := store.JobIndexPrefix(string(runType), string(model.JobPending))
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		it.Seek(prefix)
		if !it.ValidForPrefix(prefix) {
			return apperr.NotFound("no pending %s jobs", runType)
		}
		idxKey := it.Item().KeyCopy(nil)
		var jobID string
		if err := it.Item().Value(func(val []byte) error {
			jobID = string(val)
			return nil
		}); err != nil {
			return apperr.Wrap(err, "read job index entry")
		}

		var job model.Job
		if err := store.GetJSON(txn, store.JobKey(jobID), &job); err != nil {
			return apperr.Wrap(err, "read claimed job")
		}
		job.Status = model.JobRunning
		job.HeartbeatAt = time.Now().UTC()
		if err := store.PutJSON(txn, store.JobKey(jobID), &job); err != nil {
			return err
		}
		if err := txn.Delete(idxKey); err != nil {
			return apperr.Wrap(err, "remove pending index entry")
		}
		seq, err := r.db.NextSeq("job")
		if err != nil {
			return err
		}
		runningKey := store.JobIndexKey(string(runType), string(model.JobRunning), seq, jobID)
		if err := txn.Set(runningKey, []byte(jobID)); err != nil {
			return apperr.Wrap(err, "write running index entry")
		}
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *Registry) Get(ctx context.Context, jobID string) (*model.Job, error) {
	var job model.Job
	err := r.db.View(func(txn *badger.Txn) error {
		return store.GetJSON(txn, store.JobKey(jobID), &job)
	})
	if err != nil {
		if store.IsNotFound(err) {
			return nil, apperr.NotFound("job %s not found", jobID)
		}
		return nil, apperr.Wrap(err, "read job")
	}
	return &job, nil
}

// SetProgress stores the latest progress snapshot under the job's
// parameter map, and doubles as a heartbeat.
func (r *Registry) SetProgress(ctx context.Context, jobID string, progress model.Progress) error {
	return r.mutate(jobID, func(job *model.Job) error {
		if job.Params == nil {
			job.Params = map[string]any{}
		}
		job.Params["progress"] = progress
		job.HeartbeatAt = time.Now().UTC()
		return nil
	})
}

// SetCheckpoint persists a resumable checkpoint (§4.7 stage 7).
func (r *Registry) SetCheckpoint(ctx context.Context, jobID string, checkpoint model.Checkpoint) error {
	return r.mutate(jobID, func(job *model.Job) error {
		if job.Params == nil {
			job.Params = map[string]any{}
		}
		job.Params["checkpoint"] = checkpoint
		job.HeartbeatAt = time.Now().UTC()
		return nil
	})
}

// Complete transitions a running job to completed with an output
// summary.
func (r *Registry) Complete(ctx context.Context, jobID string, summary map[string]any) error {
	return r.finish(jobID, model.JobCompleted, summary, "")
}

// Fail transitions a running job to failed with an error message.
func (r *Registry) Fail(ctx context.Context, jobID, message string) error {
	return r.finish(jobID, model.JobFailed, nil, message)
}

// Cancel marks a pending or running job cancelled; it does not stop an
// in-flight worker, which must observe the status itself at its next
// checkpoint (§4.12 I9).
func (r *Registry) Cancel(ctx context.Context, jobID string) error {
	return r.mutate(jobID, func(job *model.Job) error {
		if job.Status == model.JobCompleted || job.Status == model.JobFailed {
			return apperr.BusinessRule("job %s already finished", jobID)
		}
		job.Status = model.JobCancelled
		return nil
	})
}

// finish transitions a running job to a terminal status and removes its
// running-bucket index entry; ClaimNext only ever scans the pending
// bucket, so leaving the old entry behind was a harmless but permanent
// leak rather than a correctness bug.
func (r *Registry) finish(jobID string, status model.JobStatus, summary map[string]any, errMsg string) error {
	return r.db.WithinUoW(func(uow *store.UnitOfWork) error {
		txn := uow.Txn()
		var job model.Job
		if err := store.GetJSON(txn, store.JobKey(jobID), &job); err != nil {
			if store.IsNotFound(err) {
				return apperr.NotFound("job %s not found", jobID)
			}
			return apperr.Wrap(err, "read job")
		}
		if job.Status != model.JobRunning {
			return apperr.BusinessRule("job %s is not running", jobID)
		}
		now := time.Now().UTC()
		job.Status = status
		job.CompletedAt = &now
		job.OutputSummary = summary
		job.ErrorMessage = errMsg
		if err := store.PutJSON(txn, store.JobKey(jobID), &job); err != nil {
			return err
		}
		return removeIndexEntry(txn, store.JobIndexPrefix(string(job.RunType), string(model.JobRunning)), jobID)
	})
}

// removeIndexEntry scans a job index bucket for the entry pointing at
// jobID and deletes it. Index keys embed a sequence number the caller
// does not have on hand, so this is a linear scan of one status bucket
// rather than a direct key lookup.
func removeIndexEntry(txn *badger.Txn, prefix []byte, jobID string) error {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var val string
		if err := it.Item().Value(func(v []byte) error {
			val = string(v)
			return nil
		}); err != nil {
			return apperr.Wrap(err, "read job index entry")
		}
		if val == jobID {
			return txn.Delete(it.Item().KeyCopy(nil))
		}
	}
	return nil
}

func (r *Registry) mutate(jobID string, fn func(job *model.Job) error) error {
	return r.db.WithinUoW(func(uow *store.UnitOfWork) error {
		var job model.Job
		if err := store.GetJSON(uow.Txn(), store.JobKey(jobID), &job); err != nil {
			if store.IsNotFound(err) {
				return apperr.NotFound("job %s not found", jobID)
			}
			return apperr.Wrap(err, "read job")
		}
		if err := fn(&job); err != nil {
			return err
		}
		return store.PutJSON(uow.Txn(), store.JobKey(jobID), &job)
	})
}

// ListForUser returns every job a user has submitted across all
// datasets, newest first.
func (r *Registry) ListForUser(ctx context.Context, userID string) ([]model.Job, error) {
	var jobs []model.Job
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte("job:")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var job model.Job
			if err := it.Item().Value(func(val []byte) error {
				return decodeJob(val, &job)
			}); err != nil {
				return apperr.Wrap(err, "decode job")
			}
			if job.UserID == userID {
				jobs = append(jobs, job)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(jobs)-1; i < j; i, j = i+1, j-1 {
		jobs[i], jobs[j] = jobs[j], jobs[i]
	}
	return jobs, nil
}

// RecoverAbandoned resets any running job whose heartbeat is older than
// HeartbeatTimeout back to pending, re-indexing it for claim_next. Meant
// to run once at worker-pool startup (§4.12 R3: a crashed worker must
// not strand its job in running forever).
func (r *Registry) RecoverAbandoned(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-HeartbeatTimeout)
	var stale []model.Job
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte("job:")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var job model.Job
			if err := it.Item().Value(func(val []byte) error {
				return decodeJob(val, &job)
			}); err != nil {
				return apperr.Wrap(err, "decode job")
			}
			if job.Status == model.JobRunning && job.HeartbeatAt.Before(cutoff) {
				stale = append(stale, job)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, job := range stale {
		err := r.db.WithinUoW(func(uow *store.UnitOfWork) error {
			txn := uow.Txn()
			job.Status = model.JobPending
			if err := store.PutJSON(txn, store.JobKey(job.ID), &job); err != nil {
				return err
			}
			if err := removeIndexEntry(txn, store.JobIndexPrefix(string(job.RunType), string(model.JobRunning)), job.ID); err != nil {
				return err
			}
			seq, err := r.db.NextSeq("job")
			if err != nil {
				return err
			}
			idxKey := store.JobIndexKey(string(job.RunType), string(model.JobPending), seq, job.ID)
			return txn.Set(idxKey, []byte(job.ID))
		})
		if err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}
