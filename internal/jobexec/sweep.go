package jobexec

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/SirClappington/jobexec/internal/clock"
	"github.com/SirClappington/jobexec/internal/domain"
)

// Sweeper returns jobs of one kind whose lease expired to the acquirable
// set. It never touches retries or due dates.
type Sweeper struct {
	store    domain.LeaseStore
	kind     domain.Kind
	pageSize int
	clock    clock.Clock
	logger   *zap.Logger
}

func NewSweeper(store domain.LeaseStore, kind domain.Kind, pageSize int, clk clock.Clock, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		store:    store,
		kind:     kind,
		pageSize: pageSize,
		clock:    clk,
		logger:   logger.With(zap.String("kind", string(kind))),
	}
}

// Sweep clears one page of expired leases and returns how many it cleared.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	jobs, err := s.store.FindExpiredJobs(ctx, s.kind, s.clock.Now(), s.pageSize)
	if err != nil {
		return 0, errors.Wrap(err, "find expired jobs")
	}

	cleared := 0
	for _, j := range jobs {
		ok, err := s.store.ClearLease(ctx, s.kind, j.ID)
		if err != nil {
			return cleared, errors.Wrapf(err, "clear lease of job %s", j.ID)
		}
		if ok {
			cleared++
			s.logger.Info("expired lease cleared",
				zap.String("job_id", j.ID), zap.String("owner", j.Owner()), zap.Timep("expired", j.LockExpirationTime))
		}
	}
	return cleared, nil
}
