package domain

import (
	"time"

	"github.com/google/uuid"
)

// Kind selects the record set a job lives in. Live jobs and history jobs
// share one lifecycle but are stored and acquired independently.
type Kind string

const (
	KindJob     Kind = "job"
	KindHistory Kind = "history"
)

// Kinds lists every record kind in lane order.
var Kinds = []Kind{KindJob, KindHistory}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindJob || k == KindHistory
}

// ParseKind converts s into a Kind, defaulting to KindJob for "".
func ParseKind(s string) (Kind, error) {
	if s == "" {
		return KindJob, nil
	}
	k := Kind(s)
	if !k.Valid() {
		return "", ErrInvalidKind
	}
	return k, nil
}

// Job is a unit of deferred work.
//
// LockOwner and LockExpirationTime are set and cleared together; a job holds
// a lease iff LockOwner is non-nil.
type Job struct {
	ID                  string
	Kind                Kind
	HandlerType         string
	Configuration       []byte
	TenantID            string
	ExecutionID         string
	ProcessInstanceID   string
	ProcessDefinitionID string
	DueDate             time.Time
	LockOwner           *string
	LockExpirationTime  *time.Time
	Retries             int
	Attempts            int
	ExceptionMessage    string
	ExceptionStacktrace string
	Archive             bool
	Repeat              string
	CreateTime          time.Time
}

// Leased reports whether the job currently carries a lease.
func (j *Job) Leased() bool {
	return j.LockOwner != nil
}

// Acquirable reports whether the job may be leased at now.
func (j *Job) Acquirable(now time.Time) bool {
	return j.LockOwner == nil && !j.DueDate.After(now)
}

// Expired reports whether the job's lease has elapsed at now.
func (j *Job) Expired(now time.Time) bool {
	return j.LockOwner != nil && j.LockExpirationTime != nil && j.LockExpirationTime.Before(now)
}

// Owner returns the lock owner or "" when unleased.
func (j *Job) Owner() string {
	if j.LockOwner == nil {
		return ""
	}
	return *j.LockOwner
}

// Lease sets owner and expiration together.
func (j *Job) Lease(owner string, expiration time.Time) {
	o, e := owner, expiration
	j.LockOwner = &o
	j.LockExpirationTime = &e
}

// ClearLease removes owner and expiration together.
func (j *Job) ClearLease() {
	j.LockOwner = nil
	j.LockExpirationTime = nil
}

// Clone returns a deep copy so stores can hand out records without sharing
// pointers with their internal state.
func (j *Job) Clone() *Job {
	cp := *j
	if j.Configuration != nil {
		cp.Configuration = append([]byte(nil), j.Configuration...)
	}
	if j.LockOwner != nil {
		o := *j.LockOwner
		cp.LockOwner = &o
	}
	if j.LockExpirationTime != nil {
		e := *j.LockExpirationTime
		cp.LockExpirationTime = &e
	}
	return &cp
}

// Validate checks the fields a creator must supply.
func (j *Job) Validate() error {
	switch {
	case !j.Kind.Valid():
		return ErrInvalidKind
	case j.HandlerType == "":
		return invalidJob("handler type is required")
	case j.DueDate.IsZero():
		return invalidJob("due date is required")
	case j.Retries < 1:
		return ValidateRetries(j.Retries)
	case (j.LockOwner == nil) != (j.LockExpirationTime == nil):
		return invalidJob("lock owner and lock expiration must be set together")
	case j.Repeat != "":
		return ValidateRepeat(j.Repeat)
	}
	return nil
}

// ValidateRetries rejects retry budgets below one. A job with no retries left
// is dead-lettered, never stored live.
func ValidateRetries(n int) error {
	if n < 1 {
		return invalidJob("retries must be at least 1")
	}
	return nil
}

// Prepare fills the generated fields of a new job and validates it. New jobs
// are always created unleased.
func (j *Job) Prepare(now time.Time) error {
	if j.Leased() || j.LockExpirationTime != nil {
		return invalidJob("new jobs are created unleased")
	}
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.CreateTime.IsZero() {
		j.CreateTime = now
	}
	return j.Validate()
}

// HistoricJob is the archived form of a job that finished successfully.
type HistoricJob struct {
	Job
	StartTime time.Time
	EndTime   time.Time
}

// DeadLetterJob is a job that exhausted its retries. It is never acquired
// again unless resubmitted.
type DeadLetterJob struct {
	Job
	FailedAt time.Time
}
