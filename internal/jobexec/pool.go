package jobexec

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/SirClappington/jobexec/internal/domain"
)

// ErrPoolStopped is returned by Submit after Stop.
var ErrPoolStopped = errors.New("jobexec: pool stopped")

// DefaultCancelGrace is how long Stop waits for cancelled handlers to return.
const DefaultCancelGrace = 5 * time.Second

// Pool runs leased jobs on a bounded number of goroutines. Handlers get a
// context derived from the pool, not from the caller, so they keep running
// through lease expiry and are cancelled only when Stop runs out of time.
type Pool struct {
	exec   *Executor
	logger *zap.Logger
	size   int64
	sem    *semaphore.Weighted
	busy   atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc

	cancelGrace time.Duration

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithCancelGrace bounds how long Stop waits for handlers after cancelling
// them.
func WithCancelGrace(d time.Duration) PoolOption {
	return func(p *Pool) { p.cancelGrace = d }
}

func NewPool(size int, exec *Executor, logger *zap.Logger, opts ...PoolOption) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		exec:        exec,
		logger:      logger,
		size:        int64(size),
		sem:         semaphore.NewWeighted(int64(size)),
		ctx:         ctx,
		cancel:      cancel,
		cancelGrace: DefaultCancelGrace,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Free returns the number of idle worker slots.
func (p *Pool) Free() int { return int(p.size - p.busy.Load()) }

// Submit starts j if a slot is free. It never blocks; false means the pool
// is full and the caller still owns the lease.
func (p *Pool) Submit(j *domain.Job) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return false, ErrPoolStopped
	}
	if !p.sem.TryAcquire(1) {
		return false, nil
	}
	p.busy.Add(1)
	p.wg.Add(1)
	go func() {
		defer func() {
			p.busy.Add(-1)
			p.sem.Release(1)
			p.wg.Done()
		}()
		if err := p.exec.Execute(p.ctx, j); err != nil {
			p.logger.Error("job outcome not recorded", zap.String("job_id", j.ID), zap.Error(err))
		}
	}()
	return true, nil
}

// Stop refuses new jobs and waits for running ones. When ctx ends first the
// running handlers are cancelled and Stop returns ctx's error once they have
// returned, or after the cancel grace if some ignore their context.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.logger.Warn("shutdown timed out, cancelling running jobs", zap.Int64("running", p.busy.Load()))
		p.cancel()
	}

	grace := time.NewTimer(p.cancelGrace)
	defer grace.Stop()
	select {
	case <-done:
	case <-grace.C:
		// Their leases stay set and are recovered by a later sweep.
		p.logger.Error("handlers ignored cancellation, abandoning them", zap.Int64("running", p.busy.Load()))
	}
	return errors.Wrap(ctx.Err(), "jobexec: pool shutdown")
}
