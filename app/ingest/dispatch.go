package ingest

import (
	"context"
	"errors"
	"sync"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"
)

// dispatch runs fn for every unit on a pool of FanoutConcurrency workers. The API client
// still bounds in-flight requests on its own; the pool only bounds queued work.
//
// Dispatch stops when ctx is cancelled or fn returns an error. Units already started
// finish under a context that is not cancelled, so their writes and checkpoint complete.
// The first fn error is returned, otherwise ctx.Err() when the run was cancelled.
func (p *Pipeline) dispatch(ctx context.Context, endpoint string, units []Unit, fn func(ctx context.Context, u Unit) error) error {
	if len(units) == 0 {
		return nil
	}
	workers := p.FanoutConcurrency
	if workers <= 0 {
		workers = 10
	}
	if workers > len(units) {
		workers = len(units)
	}

	dctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu    sync.Mutex
		first error
	)
	pool := pond.NewPool(workers, pond.WithQueueSize(len(units)+1))
	defer pool.StopAndWait()
	group := pool.NewGroup()

	for _, u := range units {
		group.Submit(func() {
			if dctx.Err() != nil {
				return
			}
			if err := fn(context.WithoutCancel(dctx), u); err != nil {
				mu.Lock()
				if first == nil {
					first = err
				}
				mu.Unlock()
				cancel()
			}
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		p.Logger.Warn("dispatch tasks failed", zap.String("endpoint", endpoint), zap.Error(err))
	}

	mu.Lock()
	defer mu.Unlock()
	if first != nil {
		return first
	}
	return ctx.Err()
}
