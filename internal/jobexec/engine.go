// Package jobexec runs leased jobs. An Engine owns one lane per record kind;
// each lane has its own acquisition loop, expired-lease sweep and bounded
// worker pool, so a history backlog cannot starve live jobs.
package jobexec

import (
	"context"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/SirClappington/jobexec/internal/clock"
	"github.com/SirClappington/jobexec/internal/domain"
)

type lane struct {
	kind     domain.Kind
	acquirer *Acquirer
	sweeper  *Sweeper
	pool     *Pool
	hint     chan struct{}
}

// Engine drives acquisition, sweeping and execution for every kind.
type Engine struct {
	cfg    Config
	clock  clock.Clock
	logger *zap.Logger
	lanes  map[domain.Kind]*lane
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the system clock.
func WithClock(c clock.Clock) Option { return func(e *Engine) { e.clock = c } }

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.logger = l } }

func New(store domain.LeaseStore, registry *Registry, cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:    cfg,
		clock:  clock.System{},
		logger: zap.NewNop(),
		lanes:  make(map[domain.Kind]*lane, len(domain.Kinds)),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("owner", cfg.OwnerID))

	exec := NewExecutor(store, registry, e.clock, cfg.Backoff, cfg.OwnerID, e.logger)
	for _, kind := range domain.Kinds {
		pool := NewPool(cfg.workers(kind), exec, e.logger)
		e.lanes[kind] = &lane{
			kind:     kind,
			pool:     pool,
			acquirer: NewAcquirer(store, kind, cfg, e.clock, pool, e.logger),
			sweeper:  NewSweeper(store, kind, cfg.SweepPageSize, e.clock, e.logger),
			hint:     make(chan struct{}, 1),
		}
	}
	return e, nil
}

// Hint asks the lane of kind to run an acquisition cycle now. It never
// blocks; hints arriving while one is pending are merged.
func (e *Engine) Hint(kind domain.Kind) {
	l, ok := e.lanes[kind]
	if !ok {
		return
	}
	select {
	case l.hint <- struct{}{}:
	default:
	}
}

// Acquire runs a single acquisition cycle for kind.
func (e *Engine) Acquire(ctx context.Context, kind domain.Kind) (int, error) {
	l, ok := e.lanes[kind]
	if !ok {
		return 0, domain.ErrInvalidKind
	}
	return l.acquirer.Acquire(ctx)
}

// Sweep runs a single expired-lease sweep for kind.
func (e *Engine) Sweep(ctx context.Context, kind domain.Kind) (int, error) {
	l, ok := e.lanes[kind]
	if !ok {
		return 0, domain.ErrInvalidKind
	}
	return l.sweeper.Sweep(ctx)
}

// Run drives every lane until ctx is done, then stops the pools, giving
// running handlers up to ShutdownTimeout to finish.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting",
		zap.Int("workers", e.cfg.Workers),
		zap.Int("history_workers", e.cfg.HistoryWorkers),
		zap.Duration("lease", e.cfg.LeaseDuration))

	g, gctx := errgroup.WithContext(ctx)
	for _, l := range e.lanes {
		g.Go(func() error { return e.acquireLoop(gctx, l) })
		g.Go(func() error { return e.sweepLoop(gctx, l) })
	}
	err := g.Wait()

	return multierr.Append(err, e.Stop())
}

// Stop stops every pool within ShutdownTimeout.
func (e *Engine) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.ShutdownTimeout)
	defer cancel()

	var err error
	for _, kind := range domain.Kinds {
		err = multierr.Append(err, e.lanes[kind].pool.Stop(ctx))
	}
	e.logger.Info("engine stopped", zap.Error(err))
	return err
}

func (e *Engine) acquireLoop(ctx context.Context, l *lane) error {
	t := time.NewTicker(e.cfg.AcquireInterval)
	defer t.Stop()

	for {
		e.drain(ctx, l)
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		case <-l.hint:
		}
	}
}

// drain repeats acquisition while cycles come back full.
func (e *Engine) drain(ctx context.Context, l *lane) {
	for ctx.Err() == nil {
		n, err := l.acquirer.Acquire(ctx)
		if err != nil {
			e.logger.Error("acquisition cycle failed", zap.String("kind", string(l.kind)), zap.Error(err))
			return
		}
		if n < l.acquirer.PageSize() {
			return
		}
	}
}

func (e *Engine) sweepLoop(ctx context.Context, l *lane) error {
	t := time.NewTicker(e.cfg.SweepInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		n, err := l.sweeper.Sweep(ctx)
		if err != nil {
			e.logger.Error("sweep failed", zap.String("kind", string(l.kind)), zap.Error(err))
			continue
		}
		if n > 0 {
			// Cleared jobs are acquirable right away.
			e.Hint(l.kind)
		}
	}
}
