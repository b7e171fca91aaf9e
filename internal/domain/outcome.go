package domain

import "time"

// OutcomeType is the transition applied to a leased job after execution.
type OutcomeType int

const (
	// OutcomeComplete deletes the job.
	OutcomeComplete OutcomeType = iota + 1
	// OutcomeArchive moves the job into the historic set.
	OutcomeArchive
	// OutcomeRetry decrements retries, clears the lease and pushes the due date.
	OutcomeRetry
	// OutcomeDeadLetter moves the job into the dead-letter set.
	OutcomeDeadLetter
	// OutcomeReschedule clears the lease and sets the next timer cycle.
	OutcomeReschedule
)

func (t OutcomeType) String() string {
	switch t {
	case OutcomeComplete:
		return "complete"
	case OutcomeArchive:
		return "archive"
	case OutcomeRetry:
		return "retry"
	case OutcomeDeadLetter:
		return "dead_letter"
	case OutcomeReschedule:
		return "reschedule"
	default:
		return "unknown"
	}
}

// Outcome describes how ApplyOutcome finalizes a job.
type Outcome struct {
	Type OutcomeType
	// Owner is the lock owner that executed the job. The outcome is only
	// applied while the job is leased by Owner or not leased at all.
	Owner string
	// StartedAt is when the attempt began; stored as the historic start time.
	StartedAt time.Time
	// Now is the completion or failure time.
	Now time.Time
	// DueDate is the next due date for OutcomeRetry and OutcomeReschedule.
	DueDate time.Time

	ExceptionMessage    string
	ExceptionStacktrace string
}

// Validate checks that the fields required by Type are present.
func (o Outcome) Validate() error {
	switch o.Type {
	case OutcomeComplete, OutcomeArchive, OutcomeDeadLetter:
	case OutcomeRetry, OutcomeReschedule:
		if o.DueDate.IsZero() {
			return ErrInvalidOutcome
		}
	default:
		return ErrInvalidOutcome
	}
	if o.Now.IsZero() {
		return ErrInvalidOutcome
	}
	return nil
}

// OwnedBy reports whether an outcome from owner may be applied to j.
func (j *Job) OwnedBy(owner string) bool {
	return j.LockOwner == nil || *j.LockOwner == owner
}

// ApplyTo mutates j in place for the outcomes that keep the job in its set
// (retry and reschedule). In-memory style stores share it so every backend
// produces the same record.
func (o Outcome) ApplyTo(j *Job) {
	switch o.Type {
	case OutcomeRetry:
		j.ClearLease()
		j.Retries--
		j.Attempts++
		j.DueDate = o.DueDate
		j.ExceptionMessage = o.ExceptionMessage
		j.ExceptionStacktrace = o.ExceptionStacktrace
	case OutcomeReschedule:
		j.ClearLease()
		j.DueDate = o.DueDate
		j.ExceptionMessage = ""
		j.ExceptionStacktrace = ""
	}
}

// Historic builds the archived record of j.
func (o Outcome) Historic(j *Job) *HistoricJob {
	h := &HistoricJob{Job: *j.Clone(), StartTime: o.StartedAt, EndTime: o.Now}
	h.ClearLease()
	if h.StartTime.IsZero() {
		h.StartTime = o.Now
	}
	return h
}

// DeadLetter builds the dead-letter record of j.
func (o Outcome) DeadLetter(j *Job) *DeadLetterJob {
	d := &DeadLetterJob{Job: *j.Clone(), FailedAt: o.Now}
	d.ClearLease()
	d.Retries = 0
	d.Attempts++
	d.ExceptionMessage = o.ExceptionMessage
	d.ExceptionStacktrace = o.ExceptionStacktrace
	return d
}
