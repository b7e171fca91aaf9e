package domain

import (
	"errors"
	"fmt"
)

var (
	ErrJobNotFound        = errors.New("jobexec: job not found")
	ErrDeadLetterNotFound = errors.New("jobexec: dead letter job not found")
	ErrJobAlreadyExists   = errors.New("jobexec: job already exists")

	// ErrLeaseLost is returned by ApplyOutcome when another owner holds the
	// lease, i.e. the sweep reset the job and a different instance took it.
	ErrLeaseLost = errors.New("jobexec: lease held by another owner")

	ErrInvalidKind    = errors.New("jobexec: invalid job kind")
	ErrInvalidJob     = errors.New("jobexec: invalid job")
	ErrInvalidFilter  = errors.New("jobexec: invalid filter")
	ErrInvalidOutcome = errors.New("jobexec: invalid outcome")
	ErrNoHandler      = errors.New("jobexec: no handler registered")
)

func invalidJob(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidJob, msg)
}

func invalidFilter(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidFilter, msg)
}
