package importer

import (
	"context"
	"time"

	"github.com/sakganji/datasetd/pkg/workerpool"
)

// Runtime drives a fixed number of persistent claim loops over the
// service's generic worker pool: each loop claims, runs, and completes one
// import job at a time, backing off when the queue is empty (§4.7 stage
// 3, §A.3).
type Runtime struct {
	pool    *workerpool.Pool
	svc     *Service
	count   int
	backoff time.Duration
}

func NewRuntime(svc *Service, count int, backoff time.Duration) (*Runtime, error) {
	if count < 1 {
		count = 1
	}
	if backoff <= 0 {
		backoff = time.Second
	}
	cfg := workerpool.DefaultConfig()
	cfg.Size = count
	cfg.QueueSize = count
	pool, err := workerpool.New(cfg)
	if err != nil {
		return nil, err
	}
	return &Runtime{pool: pool, svc: svc, count: count, backoff: backoff}, nil
}

// Run recovers abandoned jobs once, then submits count persistent claim
// loops and blocks until ctx is cancelled.
func (rt *Runtime) Run(ctx context.Context) error {
	if _, err := rt.svc.jobs.RecoverAbandoned(ctx); err != nil {
		return err
	}
	if err := rt.pool.Start(); err != nil {
		return err
	}
	defer rt.pool.Close()

	for i := 0; i < rt.count; i++ {
		if _, err := rt.pool.Submit(ctx, rt.claimLoop); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return nil
}

func (rt *Runtime) claimLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		ok, err := rt.svc.ProcessNext(ctx)
		if err != nil || !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(rt.backoff):
			}
			continue
		}
	}
}
