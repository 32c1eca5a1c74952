package derive

import (
	"context"
	"time"

	"github.com/sakganji/datasetd/pkg/workerpool"
)

// Runtime drives a fixed number of persistent claim loops over the
// derived-op queues (sampling, profiling, preview), the same shape as
// importer.Runtime but polling three run types instead of one.
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

func (rt *Runtime) Run(ctx context.Context) error {
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
