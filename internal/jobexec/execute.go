package jobexec

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/SirClappington/jobexec/internal/backoff"
	"github.com/SirClappington/jobexec/internal/clock"
	"github.com/SirClappington/jobexec/internal/domain"
)

// minRetryDelay keeps a retried job from being due at the instant it failed
// when a strategy without a floor returns zero.
const minRetryDelay = time.Second

// panicError is a recovered handler panic with the stack captured at the
// point of recovery.
type panicError struct {
	value any
	stack []byte
}

func (p *panicError) Error() string { return fmt.Sprintf("panic: %v", p.value) }

// Executor runs one leased job and records its outcome.
type Executor struct {
	store    domain.LeaseStore
	registry *Registry
	clock    clock.Clock
	backoff  backoff.Strategy
	owner    string
	logger   *zap.Logger
}

func NewExecutor(store domain.LeaseStore, registry *Registry, clk clock.Clock, bo backoff.Strategy, owner string, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{store: store, registry: registry, clock: clk, backoff: bo, owner: owner, logger: logger}
}

// Execute runs the handler of j and applies the resulting outcome. Handler
// failures are not returned; only a failure to record the outcome is. A
// lease lost to another instance is logged and dropped.
func (e *Executor) Execute(ctx context.Context, j *domain.Job) error {
	log := e.logger.With(
		zap.String("job_id", j.ID),
		zap.String("kind", string(j.Kind)),
		zap.String("handler_type", j.HandlerType),
		zap.String("owner", e.owner),
	)

	started := e.clock.Now()
	runErr := e.run(ctx, j, log)
	now := e.clock.Now()

	o := e.outcome(j, started, now, runErr, log)
	switch o.Type {
	case domain.OutcomeRetry:
		log.Warn("job failed, retry scheduled",
			zap.Error(runErr), zap.Int("retries_left", j.Retries-1), zap.Time("due", o.DueDate))
	case domain.OutcomeDeadLetter:
		log.Error("job failed, retries exhausted", zap.Error(runErr))
	default:
		log.Debug("job finished", zap.Stringer("outcome", o.Type), zap.Duration("elapsed", now.Sub(started)))
	}

	err := e.store.ApplyOutcome(context.WithoutCancel(ctx), j.Kind, j.ID, o)
	switch {
	case errors.Is(err, domain.ErrLeaseLost):
		log.Warn("lease lost before outcome was recorded", zap.Stringer("outcome", o.Type))
		return nil
	case errors.Is(err, domain.ErrJobNotFound):
		// Another instance already finished it after a sweep.
		log.Warn("job gone before outcome was recorded", zap.Stringer("outcome", o.Type))
		return nil
	case err != nil:
		return errors.Wrapf(err, "record %s outcome of job %s", o.Type, j.ID)
	}
	return nil
}

func (e *Executor) run(ctx context.Context, j *domain.Job, log *zap.Logger) (err error) {
	h, err := e.registry.Lookup(j.HandlerType)
	if err != nil {
		return err
	}
	defer func() {
		if v := recover(); v != nil {
			err = &panicError{value: v, stack: debug.Stack()}
		}
	}()

	ec := ExecutionContext{
		JobID:               j.ID,
		Kind:                j.Kind,
		HandlerType:         j.HandlerType,
		TenantID:            j.TenantID,
		ExecutionID:         j.ExecutionID,
		ProcessInstanceID:   j.ProcessInstanceID,
		ProcessDefinitionID: j.ProcessDefinitionID,
		Attempt:             j.Attempts + 1,
		Owner:               e.owner,
		Logger:              log,
	}
	if j.LockExpirationTime != nil {
		ec.LeaseExpiration = *j.LockExpirationTime
	}
	return h.Execute(ctx, ec, j.Configuration)
}

func (e *Executor) outcome(j *domain.Job, started, now time.Time, runErr error, log *zap.Logger) domain.Outcome {
	o := domain.Outcome{Owner: e.owner, StartedAt: started, Now: now}

	if runErr == nil {
		switch {
		case j.Kind == domain.KindHistory:
			o.Type = domain.OutcomeArchive
		case j.Repeat != "":
			next, err := j.NextFire(now)
			if err != nil || next.IsZero() {
				log.Warn("repeat cycle has no next fire time, completing job",
					zap.String("repeat", j.Repeat), zap.Error(err))
				o.Type = domain.OutcomeComplete
				break
			}
			o.Type = domain.OutcomeReschedule
			o.DueDate = next
		case j.Archive:
			o.Type = domain.OutcomeArchive
		default:
			o.Type = domain.OutcomeComplete
		}
		return o
	}

	o.ExceptionMessage = runErr.Error()
	o.ExceptionStacktrace = stacktrace(runErr)
	if j.Retries-1 > 0 {
		o.Type = domain.OutcomeRetry
		delay := e.backoff.Delay(j.Attempts + 1)
		if delay <= 0 {
			delay = minRetryDelay
		}
		o.DueDate = now.Add(delay)
	} else {
		o.Type = domain.OutcomeDeadLetter
	}
	return o
}

// stacktrace renders err with any stack it carries: the recovery stack of a
// panic, or the pkg/errors frames via %+v.
func stacktrace(err error) string {
	var p *panicError
	if errors.As(err, &p) {
		return p.Error() + "\n\n" + string(p.stack)
	}
	return fmt.Sprintf("%+v", err)
}
