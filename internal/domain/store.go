package domain

import (
	"context"
	"time"
)

// LeaseStore is the contract the execution core consumes. Every method is a
// single atomic store operation; no call spans more than one record.
type LeaseStore interface {
	// FindAcquirableJobs returns up to maxResults unleased jobs with
	// DueDate <= now, oldest due first.
	FindAcquirableJobs(ctx context.Context, kind Kind, now time.Time, maxResults int) ([]*Job, error)

	// FindExpiredJobs returns up to maxResults leased jobs whose lease
	// expiration is strictly before now.
	FindExpiredJobs(ctx context.Context, kind Kind, now time.Time, maxResults int) ([]*Job, error)

	// TryLease sets owner and expiration only if the job is unleased at write
	// time. It returns false when another owner won the race or the job no
	// longer exists.
	TryLease(ctx context.Context, kind Kind, id, owner string, expiration time.Time) (bool, error)

	// ClearLease removes any lease from the job regardless of owner. It
	// returns false when there was nothing to clear.
	ClearLease(ctx context.Context, kind Kind, id string) (bool, error)

	// ApplyOutcome finalizes or reschedules a job. It returns ErrLeaseLost
	// when the job is leased by someone other than outcome.Owner and
	// ErrJobNotFound when the job is gone.
	ApplyOutcome(ctx context.Context, kind Kind, id string, outcome Outcome) error
}

// QueryStore exposes creation and the read side used by operators.
type QueryStore interface {
	CreateJob(ctx context.Context, j *Job) error
	GetJob(ctx context.Context, kind Kind, id string) (*Job, error)
	ListJobs(ctx context.Context, kind Kind, f Filter) ([]*Job, error)
	CountJobs(ctx context.Context, kind Kind, f Filter) (int64, error)

	ListDeadLetters(ctx context.Context, f Filter) ([]*DeadLetterJob, error)
	CountDeadLetters(ctx context.Context, f Filter) (int64, error)
	// ResubmitDeadLetter moves a dead-letter job back to its lane, unleased,
	// with the given retries and due date.
	ResubmitDeadLetter(ctx context.Context, id string, retries int, due time.Time) (*Job, error)

	ListHistoricJobs(ctx context.Context, f Filter) ([]*HistoricJob, error)
	CountHistoricJobs(ctx context.Context, f Filter) (int64, error)
}

// Store is implemented by every backend.
type Store interface {
	LeaseStore
	QueryStore

	Ping(ctx context.Context) error
	Close() error
}
