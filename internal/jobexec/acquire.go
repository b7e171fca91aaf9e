package jobexec

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/SirClappington/jobexec/internal/clock"
	"github.com/SirClappington/jobexec/internal/domain"
)

// Submitter accepts leased jobs for execution.
type Submitter interface {
	Free() int
	Submit(j *domain.Job) (bool, error)
}

// Acquirer leases due jobs of one kind and hands them to a Submitter.
type Acquirer struct {
	store    domain.LeaseStore
	kind     domain.Kind
	owner    string
	lease    time.Duration
	pageSize int
	clock    clock.Clock
	pool     Submitter
	logger   *zap.Logger

	contended atomic.Int64
}

func NewAcquirer(store domain.LeaseStore, kind domain.Kind, cfg Config, clk clock.Clock, pool Submitter, logger *zap.Logger) *Acquirer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Acquirer{
		store:    store,
		kind:     kind,
		owner:    cfg.OwnerID,
		lease:    cfg.LeaseDuration,
		pageSize: cfg.AcquirePageSize,
		clock:    clk,
		pool:     pool,
		logger:   logger.With(zap.String("kind", string(kind))),
	}
}

// PageSize is the most jobs one Acquire call leases.
func (a *Acquirer) PageSize() int { return a.pageSize }

// Contended counts jobs another instance leased first.
func (a *Acquirer) Contended() int64 { return a.contended.Load() }

// Acquire runs one cycle and returns how many jobs it leased. A store error
// ends the cycle; jobs leased before it keep running.
func (a *Acquirer) Acquire(ctx context.Context) (int, error) {
	page := min(a.pageSize, a.pool.Free())
	if page <= 0 {
		return 0, nil
	}

	now := a.clock.Now()
	jobs, err := a.store.FindAcquirableJobs(ctx, a.kind, now, page)
	if err != nil {
		return 0, errors.Wrap(err, "find acquirable jobs")
	}

	exp := now.Add(a.lease)
	leased := 0
	for _, j := range jobs {
		ok, err := a.store.TryLease(ctx, a.kind, j.ID, a.owner, exp)
		if err != nil {
			return leased, errors.Wrapf(err, "lease job %s", j.ID)
		}
		if !ok {
			a.contended.Add(1)
			a.logger.Debug("job leased by another owner", zap.String("job_id", j.ID))
			continue
		}
		j.Lease(a.owner, exp)
		leased++

		if ok, err := a.pool.Submit(j); !ok {
			// Give the job back rather than let it wait out the lease.
			if _, cerr := a.store.ClearLease(ctx, a.kind, j.ID); cerr != nil {
				a.logger.Warn("could not release unsubmitted job", zap.String("job_id", j.ID), zap.Error(cerr))
			}
			leased--
			if err != nil {
				return leased, err
			}
			break
		}
	}
	return leased, nil
}
