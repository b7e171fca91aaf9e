package domain

import (
	"errors"
	"testing"
	"time"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func TestJobPredicates(t *testing.T) {
	tests := []struct {
		name       string
		due        time.Time
		leaseUntil *time.Time
		now        time.Time
		acquirable bool
		expired    bool
	}{
		{name: "due now unleased", due: t0, now: t0, acquirable: true},
		{name: "future unleased", due: t0.Add(time.Second), now: t0},
		{name: "leased not expired", due: t0, leaseUntil: ptr(t0.Add(time.Minute)), now: t0},
		{name: "leased expiring exactly now", due: t0, leaseUntil: ptr(t0), now: t0},
		{name: "leased expired", due: t0, leaseUntil: ptr(t0.Add(-time.Nanosecond)), now: t0, expired: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := &Job{ID: "j", Kind: KindJob, DueDate: tt.due}
			if tt.leaseUntil != nil {
				j.Lease("node-1", *tt.leaseUntil)
			}
			if got := j.Acquirable(tt.now); got != tt.acquirable {
				t.Errorf("Acquirable = %v, want %v", got, tt.acquirable)
			}
			if got := j.Expired(tt.now); got != tt.expired {
				t.Errorf("Expired = %v, want %v", got, tt.expired)
			}
			if (j.LockOwner == nil) != (j.LockExpirationTime == nil) {
				t.Errorf("lease fields out of sync: owner=%v expiration=%v", j.LockOwner, j.LockExpirationTime)
			}
		})
	}
}

func TestJobClone_DoesNotShareLease(t *testing.T) {
	j := &Job{ID: "j", Configuration: []byte("cfg")}
	j.Lease("a", t0)

	cp := j.Clone()
	*cp.LockOwner = "b"
	cp.Configuration[0] = 'X'

	if j.Owner() != "a" {
		t.Fatalf("original owner changed to %q", j.Owner())
	}
	if string(j.Configuration) != "cfg" {
		t.Fatalf("original configuration changed to %q", j.Configuration)
	}
}

func TestJobValidate(t *testing.T) {
	valid := Job{Kind: KindJob, HandlerType: "h", DueDate: t0, Retries: 3}

	tests := []struct {
		name   string
		mutate func(*Job)
		want   error
	}{
		{name: "valid", mutate: func(*Job) {}},
		{name: "bad kind", mutate: func(j *Job) { j.Kind = "nope" }, want: ErrInvalidKind},
		{name: "no handler", mutate: func(j *Job) { j.HandlerType = "" }, want: ErrInvalidJob},
		{name: "no due date", mutate: func(j *Job) { j.DueDate = time.Time{} }, want: ErrInvalidJob},
		{name: "negative retries", mutate: func(j *Job) { j.Retries = -1 }, want: ErrInvalidJob},
		{name: "zero retries", mutate: func(j *Job) { j.Retries = 0 }, want: ErrInvalidJob},
		{name: "one retry", mutate: func(j *Job) { j.Retries = 1 }},
		{name: "owner without expiration", mutate: func(j *Job) { o := "x"; j.LockOwner = &o }, want: ErrInvalidJob},
		{name: "repeat cycle", mutate: func(j *Job) { j.Repeat = "0 */5 * * * *" }},
		{name: "repeat descriptor", mutate: func(j *Job) { j.Repeat = "@every 1h" }},
		{name: "bad repeat", mutate: func(j *Job) { j.Repeat = "every tuesday" }, want: ErrInvalidJob},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := valid
			tt.mutate(&j)
			err := j.Validate()
			if tt.want == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestOutcome_ApplyRetry(t *testing.T) {
	j := &Job{ID: "j", Kind: KindJob, DueDate: t0, Retries: 3}
	j.Lease("node-1", t0.Add(time.Minute))

	o := Outcome{
		Type:             OutcomeRetry,
		Owner:            "node-1",
		Now:              t0,
		DueDate:          t0.Add(10 * time.Second),
		ExceptionMessage: "boom",
	}
	if err := o.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	o.ApplyTo(j)

	if j.Leased() || j.LockExpirationTime != nil {
		t.Fatal("retry must clear the lease")
	}
	if j.Retries != 2 || j.Attempts != 1 {
		t.Fatalf("retries=%d attempts=%d, want 2 and 1", j.Retries, j.Attempts)
	}
	if !j.DueDate.Equal(t0.Add(10*time.Second)) || j.ExceptionMessage != "boom" {
		t.Fatalf("unexpected job after retry: %+v", j)
	}
}

func TestOutcome_DeadLetterAndHistoric(t *testing.T) {
	j := &Job{ID: "j", Kind: KindHistory, DueDate: t0, Retries: 1}
	j.Lease("node-1", t0.Add(time.Minute))

	d := Outcome{Type: OutcomeDeadLetter, Now: t0, ExceptionMessage: "m", ExceptionStacktrace: "trace"}.DeadLetter(j)
	if d.Leased() || d.Retries != 0 || d.ExceptionStacktrace != "trace" || !d.FailedAt.Equal(t0) {
		t.Fatalf("unexpected dead letter: %+v", d)
	}
	if !j.Leased() {
		t.Fatal("building a dead letter must not mutate the source job")
	}

	h := Outcome{Type: OutcomeArchive, Now: t0.Add(time.Second)}.Historic(j)
	if h.Leased() || !h.StartTime.Equal(h.EndTime) || h.ID != "j" {
		t.Fatalf("unexpected historic job: %+v", h)
	}
}

func TestOutcome_ValidateRejectsMissingDueDate(t *testing.T) {
	for _, typ := range []OutcomeType{OutcomeRetry, OutcomeReschedule} {
		if err := (Outcome{Type: typ, Now: t0}).Validate(); !errors.Is(err, ErrInvalidOutcome) {
			t.Errorf("%s: got %v, want ErrInvalidOutcome", typ, err)
		}
	}
	if err := (Outcome{Now: t0}).Validate(); !errors.Is(err, ErrInvalidOutcome) {
		t.Errorf("zero type: got %v", err)
	}
}

func TestParseKind(t *testing.T) {
	if k, err := ParseKind(""); err != nil || k != KindJob {
		t.Fatalf("ParseKind(\"\") = %v, %v", k, err)
	}
	if k, err := ParseKind("history"); err != nil || k != KindHistory {
		t.Fatalf("ParseKind(history) = %v, %v", k, err)
	}
	if _, err := ParseKind("timer"); !errors.Is(err, ErrInvalidKind) {
		t.Fatalf("ParseKind(timer) err = %v", err)
	}
}

func TestJobPrepare(t *testing.T) {
	j := &Job{Kind: KindJob, HandlerType: "log", DueDate: t0, Retries: 1}
	if err := j.Prepare(t0); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if j.ID == "" {
		t.Error("Prepare did not generate an id")
	}
	if !j.CreateTime.Equal(t0) {
		t.Errorf("CreateTime = %v, want %v", j.CreateTime, t0)
	}

	leased := &Job{ID: "x", Kind: KindJob, HandlerType: "log", DueDate: t0, Retries: 1}
	leased.Lease("node-a", t0.Add(time.Minute))
	if err := leased.Prepare(t0); !errors.Is(err, ErrInvalidJob) {
		t.Errorf("Prepare(leased) = %v, want ErrInvalidJob", err)
	}
}

func TestJobNextFire(t *testing.T) {
	tests := []struct {
		name   string
		repeat string
		due    time.Time
		now    time.Time
		want   time.Time
	}{
		{
			name:   "next after due",
			repeat: "@every 1m",
			due:    t0,
			now:    t0.Add(10 * time.Second),
			want:   t0.Add(time.Minute),
		},
		{
			name:   "missed fires skipped",
			repeat: "0 0 * * * *",
			due:    t0,
			now:    t0.Add(3*time.Hour + time.Minute),
			want:   t0.Add(4 * time.Hour),
		},
		{
			name:   "minute field without seconds",
			repeat: "30 * * * *",
			due:    t0,
			now:    t0,
			want:   t0.Add(30 * time.Minute),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := &Job{Repeat: tt.repeat, DueDate: tt.due}
			got, err := j.NextFire(tt.now)
			if err != nil {
				t.Fatal(err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("NextFire = %v, want %v", got, tt.want)
			}
		})
	}
}

func ptr[T any](v T) *T { return &v }
