package domain

import (
	"time"

	"github.com/robfig/cron/v3"
)

// Repeat cycles are cron expressions with an optional leading seconds field,
// or descriptors such as "@every 1h".
var repeatParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateRepeat reports whether expr is a usable repeat cycle.
func ValidateRepeat(expr string) error {
	if _, err := repeatParser.Parse(expr); err != nil {
		return invalidJob("repeat: " + err.Error())
	}
	return nil
}

// NextFire returns the next fire time of the job's repeat cycle after its
// current due date. Fire times already in the past at now are skipped. A
// zero time means the cycle has no further fire time.
func (j *Job) NextFire(now time.Time) (time.Time, error) {
	sched, err := repeatParser.Parse(j.Repeat)
	if err != nil {
		return time.Time{}, invalidJob("repeat: " + err.Error())
	}
	next := sched.Next(j.DueDate)
	if !next.IsZero() && !next.After(now) {
		next = sched.Next(now)
	}
	return next, nil
}
