package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/okian/matchengine/pkg/logger"
	"github.com/okian/matchengine/pkg/metrics"
)

// Pool manages multiple workers.
type Pool struct {
	workers []*TaskWorker

	mu      sync.Mutex
	group   *errgroup.Group
	started bool

	logger logger.Logger
}

// NewPool creates a pool of workerCount workers sharing deps. A count below
// one defaults to the number of CPUs.
func NewPool(workerCount int, deps Deps, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}

	pool := &Pool{
		workers: make([]*TaskWorker, workerCount),
		logger:  logger.Get().Named("worker-pool"),
	}
	for i := 0; i < workerCount; i++ {
		workerOpts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		pool.workers[i] = NewTaskWorker(deps, workerOpts...)
	}

	metrics.UpdateWorkerCount(workerCount)
	return pool
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return len(p.workers)
}

// Start starts all workers in the pool. Calling it twice is a no-op.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range p.workers {
		g.Go(func() error {
			return w.Run(gctx)
		})
	}
	p.group = g
	p.logger.Info(ctx, "worker pool started", logger.Int("workers", len(p.workers)))
}

// Shutdown stops every worker and waits for in-flight tasks, bounded by ctx.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	g := p.group
	p.mu.Unlock()

	for _, w := range p.workers {
		w.stopOnce.Do(func() { close(w.shutdown) })
	}
	if g == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		p.logger.Info(ctx, "worker pool stopped")
		return err
	case <-ctx.Done():
		p.logger.Warn(ctx, "worker pool shutdown timed out")
		return fmt.Errorf("worker pool shutdown: %w", ctx.Err())
	}
}
