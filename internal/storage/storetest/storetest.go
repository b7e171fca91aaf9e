// Package storetest is a behavioural suite every domain.Store backend runs,
// so the leasing guarantees hold identically for memory, Postgres, Redis and
// MongoDB.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/SirClappington/jobexec/internal/domain"
)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) domain.Store

// T0 is the reference instant every fixture is built around. Whole seconds
// keep it exact on millisecond-precision backends.
var T0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s domain.Store)
	}{
		{"CreateAndGet", testCreateAndGet},
		{"FindAcquirableOrderAndPage", testFindAcquirable},
		{"TryLeaseMutualExclusion", testTryLeaseMutualExclusion},
		{"TryLeaseMissingJob", testTryLeaseMissing},
		{"ExpiryIsStrict", testExpiryIsStrict},
		{"ClearLeaseIdempotent", testClearLeaseIdempotent},
		{"OutcomeComplete", testOutcomeComplete},
		{"OutcomeArchive", testOutcomeArchive},
		{"OutcomeRetry", testOutcomeRetry},
		{"OutcomeDeadLetterAndResubmit", testOutcomeDeadLetter},
		{"OutcomeReschedule", testOutcomeReschedule},
		{"OutcomeOwnership", testOutcomeOwnership},
		{"KindsAreIsolated", testKindsIsolated},
		{"IDsAreNeverReused", testIDsNeverReused},
		{"JobQueries", testJobQueries},
		{"HistoricQueries", testHistoricQueries},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

// NewJob returns a valid unleased job due at due.
func NewJob(id string, kind domain.Kind, due time.Time) *domain.Job {
	return &domain.Job{
		ID:            id,
		Kind:          kind,
		HandlerType:   "test",
		Configuration: []byte(`{"n":1}`),
		DueDate:       due,
		Retries:       3,
		CreateTime:    T0.Add(-time.Hour),
	}
}

// CreateStampsWithClock checks that s, built with a clock frozen at at,
// stamps new jobs with that instant.
func CreateStampsWithClock(t *testing.T, s domain.Store, at time.Time) {
	t.Helper()
	ctx := context.Background()
	j := NewJob("stamped", domain.KindJob, T0)
	j.CreateTime = time.Time{}
	mustCreate(t, s, j)
	got, err := s.GetJob(ctx, domain.KindJob, "stamped")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if !got.CreateTime.Equal(at) {
		t.Fatalf("create time = %v, want %v", got.CreateTime, at)
	}
}

func mustCreate(t *testing.T, s domain.Store, jobs ...*domain.Job) {
	t.Helper()
	for _, j := range jobs {
		if err := s.CreateJob(context.Background(), j); err != nil {
			t.Fatalf("CreateJob(%s): %v", j.ID, err)
		}
	}
}

func mustLease(t *testing.T, s domain.Store, kind domain.Kind, id, owner string, exp time.Time) {
	t.Helper()
	ok, err := s.TryLease(context.Background(), kind, id, owner, exp)
	if err != nil || !ok {
		t.Fatalf("TryLease(%s) = %v, %v", id, ok, err)
	}
}

func ids(jobs []*domain.Job) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.ID
	}
	return out
}

func equalIDs(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func assertUnleased(t *testing.T, j *domain.Job) {
	t.Helper()
	if j.LockOwner != nil || j.LockExpirationTime != nil {
		t.Fatalf("job %s: expected no lease, got owner=%v expiration=%v", j.ID, j.LockOwner, j.LockExpirationTime)
	}
}

func testCreateAndGet(t *testing.T, s domain.Store) {
	ctx := context.Background()
	j := NewJob("create-1", domain.KindJob, T0)
	j.TenantID = "acme"
	j.ExecutionID = "exec-1"
	mustCreate(t, s, j)

	if err := s.CreateJob(ctx, NewJob("create-1", domain.KindJob, T0)); !errors.Is(err, domain.ErrJobAlreadyExists) {
		t.Fatalf("duplicate create: got %v, want ErrJobAlreadyExists", err)
	}

	got, err := s.GetJob(ctx, domain.KindJob, "create-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.TenantID != "acme" || got.ExecutionID != "exec-1" || got.Retries != 3 || string(got.Configuration) != `{"n":1}` {
		t.Fatalf("unexpected job: %+v", got)
	}
	if !got.DueDate.Equal(T0) {
		t.Fatalf("due date = %v, want %v", got.DueDate, T0)
	}
	assertUnleased(t, got)

	if _, err := s.GetJob(ctx, domain.KindJob, "missing"); !errors.Is(err, domain.ErrJobNotFound) {
		t.Fatalf("GetJob(missing): got %v, want ErrJobNotFound", err)
	}

	generated := NewJob("", domain.KindJob, T0)
	mustCreate(t, s, generated)
	if generated.ID == "" {
		t.Fatal("CreateJob must assign an id")
	}
}

func testFindAcquirable(t *testing.T, s domain.Store) {
	ctx := context.Background()
	mustCreate(t, s,
		NewJob("acq-late", domain.KindJob, T0.Add(-time.Second)),
		NewJob("acq-early", domain.KindJob, T0.Add(-time.Minute)),
		NewJob("acq-now", domain.KindJob, T0),
		NewJob("acq-future", domain.KindJob, T0.Add(time.Second)),
		NewJob("acq-leased", domain.KindJob, T0.Add(-time.Hour)),
	)
	mustLease(t, s, domain.KindJob, "acq-leased", "other", T0.Add(time.Minute))

	got, err := s.FindAcquirableJobs(ctx, domain.KindJob, T0, 10)
	if err != nil {
		t.Fatalf("FindAcquirableJobs: %v", err)
	}
	if want := []string{"acq-early", "acq-late", "acq-now"}; !equalIDs(ids(got), want) {
		t.Fatalf("got %v, want %v", ids(got), want)
	}

	page, err := s.FindAcquirableJobs(ctx, domain.KindJob, T0, 2)
	if err != nil {
		t.Fatalf("FindAcquirableJobs page: %v", err)
	}
	if want := []string{"acq-early", "acq-late"}; !equalIDs(ids(page), want) {
		t.Fatalf("page: got %v, want %v", ids(page), want)
	}
}

func testTryLeaseMutualExclusion(t *testing.T, s domain.Store) {
	mustCreate(t, s, NewJob("race", domain.KindJob, T0))

	const contenders = 16
	var (
		wg    sync.WaitGroup
		wins  atomic.Int32
		errCh = make(chan error, contenders)
	)
	for i := range contenders {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := s.TryLease(context.Background(), domain.KindJob, "race", fmt.Sprintf("node-%d", i), T0.Add(time.Minute))
			if err != nil {
				errCh <- err
				return
			}
			if ok {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("TryLease: %v", err)
	}
	if got := wins.Load(); got != 1 {
		t.Fatalf("%d contenders won the lease, want exactly 1", got)
	}

	j, err := s.GetJob(context.Background(), domain.KindJob, "race")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.LockOwner == nil || j.LockExpirationTime == nil || !j.LockExpirationTime.Equal(T0.Add(time.Minute)) {
		t.Fatalf("lease not recorded: owner=%v expiration=%v", j.LockOwner, j.LockExpirationTime)
	}
}

func testTryLeaseMissing(t *testing.T, s domain.Store) {
	ok, err := s.TryLease(context.Background(), domain.KindJob, "ghost", "node", T0)
	if err != nil || ok {
		t.Fatalf("TryLease(ghost) = %v, %v; want false, nil", ok, err)
	}
}

func testExpiryIsStrict(t *testing.T, s domain.Store) {
	ctx := context.Background()
	const lease = 5 * time.Minute
	mustCreate(t, s, NewJob("exp", domain.KindJob, T0))
	mustLease(t, s, domain.KindJob, "exp", "node", T0.Add(lease))

	for _, at := range []time.Time{T0, T0.Add(lease - time.Second), T0.Add(lease)} {
		got, err := s.FindExpiredJobs(ctx, domain.KindJob, at, 10)
		if err != nil {
			t.Fatalf("FindExpiredJobs: %v", err)
		}
		if len(got) != 0 {
			t.Fatalf("job expired prematurely at %v", at)
		}
	}

	got, err := s.FindExpiredJobs(ctx, domain.KindJob, T0.Add(lease+time.Second), 10)
	if err != nil {
		t.Fatalf("FindExpiredJobs: %v", err)
	}
	if !equalIDs(ids(got), []string{"exp"}) {
		t.Fatalf("got %v, want [exp]", ids(got))
	}
}

func testClearLeaseIdempotent(t *testing.T, s domain.Store) {
	ctx := context.Background()
	mustCreate(t, s, NewJob("clr", domain.KindJob, T0))

	if cleared, err := s.ClearLease(ctx, domain.KindJob, "clr"); err != nil || cleared {
		t.Fatalf("ClearLease on unleased job = %v, %v; want false, nil", cleared, err)
	}

	mustLease(t, s, domain.KindJob, "clr", "node", T0.Add(time.Minute))
	if cleared, err := s.ClearLease(ctx, domain.KindJob, "clr"); err != nil || !cleared {
		t.Fatalf("ClearLease = %v, %v; want true, nil", cleared, err)
	}
	if cleared, err := s.ClearLease(ctx, domain.KindJob, "clr"); err != nil || cleared {
		t.Fatalf("second ClearLease = %v, %v; want false, nil", cleared, err)
	}

	j, err := s.GetJob(ctx, domain.KindJob, "clr")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	assertUnleased(t, j)
	if j.Retries != 3 {
		t.Fatalf("clearing a lease must not touch retries, got %d", j.Retries)
	}

	acq, err := s.FindAcquirableJobs(ctx, domain.KindJob, T0, 10)
	if err != nil {
		t.Fatalf("FindAcquirableJobs: %v", err)
	}
	if !equalIDs(ids(acq), []string{"clr"}) {
		t.Fatalf("cleared job not acquirable: %v", ids(acq))
	}
	mustLease(t, s, domain.KindJob, "clr", "other", T0.Add(time.Minute))
}

func testOutcomeComplete(t *testing.T, s domain.Store) {
	ctx := context.Background()
	mustCreate(t, s, NewJob("done", domain.KindJob, T0))
	mustLease(t, s, domain.KindJob, "done", "node", T0.Add(time.Minute))

	err := s.ApplyOutcome(ctx, domain.KindJob, "done", domain.Outcome{Type: domain.OutcomeComplete, Owner: "node", Now: T0})
	if err != nil {
		t.Fatalf("ApplyOutcome: %v", err)
	}
	if _, err := s.GetJob(ctx, domain.KindJob, "done"); !errors.Is(err, domain.ErrJobNotFound) {
		t.Fatalf("completed job still present: %v", err)
	}
	if n, _ := s.CountHistoricJobs(ctx, domain.Filter{}); n != 0 {
		t.Fatalf("complete must not archive, historic count = %d", n)
	}

	err = s.ApplyOutcome(ctx, domain.KindJob, "done", domain.Outcome{Type: domain.OutcomeComplete, Owner: "node", Now: T0})
	if !errors.Is(err, domain.ErrJobNotFound) {
		t.Fatalf("second ApplyOutcome: got %v, want ErrJobNotFound", err)
	}
}

func testOutcomeArchive(t *testing.T, s domain.Store) {
	ctx := context.Background()
	j := NewJob("arch", domain.KindHistory, T0)
	j.TenantID = "acme"
	mustCreate(t, s, j)
	mustLease(t, s, domain.KindHistory, "arch", "node", T0.Add(time.Minute))

	err := s.ApplyOutcome(ctx, domain.KindHistory, "arch", domain.Outcome{
		Type: domain.OutcomeArchive, Owner: "node", StartedAt: T0, Now: T0.Add(2 * time.Second),
	})
	if err != nil {
		t.Fatalf("ApplyOutcome: %v", err)
	}
	if _, err := s.GetJob(ctx, domain.KindHistory, "arch"); !errors.Is(err, domain.ErrJobNotFound) {
		t.Fatalf("archived job still live: %v", err)
	}

	hist, err := s.ListHistoricJobs(ctx, domain.Filter{ID: "arch"})
	if err != nil {
		t.Fatalf("ListHistoricJobs: %v", err)
	}
	if len(hist) != 1 {
		t.Fatalf("got %d historic jobs, want 1", len(hist))
	}
	h := hist[0]
	if h.Kind != domain.KindHistory || h.TenantID != "acme" || !h.StartTime.Equal(T0) || !h.EndTime.Equal(T0.Add(2*time.Second)) {
		t.Fatalf("unexpected historic job: %+v", h)
	}
	assertUnleased(t, &h.Job)
}

func testOutcomeRetry(t *testing.T, s domain.Store) {
	ctx := context.Background()
	mustCreate(t, s, NewJob("retry", domain.KindJob, T0))
	mustLease(t, s, domain.KindJob, "retry", "node", T0.Add(time.Minute))

	err := s.ApplyOutcome(ctx, domain.KindJob, "retry", domain.Outcome{
		Type:                domain.OutcomeRetry,
		Owner:               "node",
		Now:                 T0,
		DueDate:             T0.Add(10 * time.Second),
		ExceptionMessage:    "boom",
		ExceptionStacktrace: "boom\n\tat handler",
	})
	if err != nil {
		t.Fatalf("ApplyOutcome: %v", err)
	}

	j, err := s.GetJob(ctx, domain.KindJob, "retry")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	assertUnleased(t, j)
	if j.Retries != 2 || j.Attempts != 1 {
		t.Fatalf("retries=%d attempts=%d, want 2 and 1", j.Retries, j.Attempts)
	}
	if !j.DueDate.Equal(T0.Add(10*time.Second)) || j.ExceptionMessage != "boom" || j.ExceptionStacktrace != "boom\n\tat handler" {
		t.Fatalf("unexpected job after retry: %+v", j)
	}

	if acq, _ := s.FindAcquirableJobs(ctx, domain.KindJob, T0, 10); len(acq) != 0 {
		t.Fatalf("retried job must not be due before its backoff, got %v", ids(acq))
	}
	if acq, _ := s.FindAcquirableJobs(ctx, domain.KindJob, T0.Add(10*time.Second), 10); len(acq) != 1 {
		t.Fatalf("retried job must be due after its backoff, got %v", ids(acq))
	}
}

func testOutcomeDeadLetter(t *testing.T, s domain.Store) {
	ctx := context.Background()
	j := NewJob("dead", domain.KindJob, T0)
	j.Retries = 1
	mustCreate(t, s, j)
	mustLease(t, s, domain.KindJob, "dead", "node", T0.Add(time.Minute))

	err := s.ApplyOutcome(ctx, domain.KindJob, "dead", domain.Outcome{
		Type: domain.OutcomeDeadLetter, Owner: "node", Now: T0.Add(time.Second),
		ExceptionMessage: "fatal", ExceptionStacktrace: "trace",
	})
	if err != nil {
		t.Fatalf("ApplyOutcome: %v", err)
	}

	far := T0.Add(24 * time.Hour)
	if acq, _ := s.FindAcquirableJobs(ctx, domain.KindJob, far, 10); len(acq) != 0 {
		t.Fatalf("dead letter still acquirable: %v", ids(acq))
	}
	if exp, _ := s.FindExpiredJobs(ctx, domain.KindJob, far, 10); len(exp) != 0 {
		t.Fatalf("dead letter still expirable: %v", ids(exp))
	}

	dead, err := s.ListDeadLetters(ctx, domain.Filter{})
	if err != nil {
		t.Fatalf("ListDeadLetters: %v", err)
	}
	if len(dead) != 1 {
		t.Fatalf("got %d dead letters, want 1", len(dead))
	}
	d := dead[0]
	if d.ID != "dead" || d.Retries != 0 || d.ExceptionMessage != "fatal" || d.ExceptionStacktrace != "trace" || !d.FailedAt.Equal(T0.Add(time.Second)) {
		t.Fatalf("unexpected dead letter: %+v", d)
	}
	assertUnleased(t, &d.Job)

	if _, err := s.ResubmitDeadLetter(ctx, "missing", 3, T0); !errors.Is(err, domain.ErrDeadLetterNotFound) {
		t.Fatalf("ResubmitDeadLetter(missing): got %v", err)
	}
	if _, err := s.ResubmitDeadLetter(ctx, "dead", 0, T0); !errors.Is(err, domain.ErrInvalidJob) {
		t.Fatalf("ResubmitDeadLetter(retries=0): got %v, want ErrInvalidJob", err)
	}
	back, err := s.ResubmitDeadLetter(ctx, "dead", 5, T0.Add(time.Hour))
	if err != nil {
		t.Fatalf("ResubmitDeadLetter: %v", err)
	}
	if back.Retries != 5 || !back.DueDate.Equal(T0.Add(time.Hour)) {
		t.Fatalf("unexpected resubmitted job: %+v", back)
	}
	if n, _ := s.CountDeadLetters(ctx, domain.Filter{}); n != 0 {
		t.Fatalf("dead letter count after resubmit = %d", n)
	}
	live, err := s.GetJob(ctx, domain.KindJob, "dead")
	if err != nil {
		t.Fatalf("GetJob after resubmit: %v", err)
	}
	assertUnleased(t, live)
	if live.Retries != 5 {
		t.Fatalf("retries after resubmit = %d, want 5", live.Retries)
	}
}

func testOutcomeReschedule(t *testing.T, s domain.Store) {
	ctx := context.Background()
	mustCreate(t, s, NewJob("cycle", domain.KindJob, T0))
	mustLease(t, s, domain.KindJob, "cycle", "node", T0.Add(time.Minute))

	next := T0.Add(time.Hour)
	err := s.ApplyOutcome(ctx, domain.KindJob, "cycle", domain.Outcome{
		Type: domain.OutcomeReschedule, Owner: "node", Now: T0, DueDate: next,
	})
	if err != nil {
		t.Fatalf("ApplyOutcome: %v", err)
	}
	j, err := s.GetJob(ctx, domain.KindJob, "cycle")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	assertUnleased(t, j)
	if !j.DueDate.Equal(next) || j.Retries != 3 {
		t.Fatalf("unexpected rescheduled job: %+v", j)
	}
}

func testOutcomeOwnership(t *testing.T, s domain.Store) {
	ctx := context.Background()
	mustCreate(t, s, NewJob("own", domain.KindJob, T0), NewJob("swept", domain.KindJob, T0))
	mustLease(t, s, domain.KindJob, "own", "winner", T0.Add(time.Minute))

	err := s.ApplyOutcome(ctx, domain.KindJob, "own", domain.Outcome{Type: domain.OutcomeComplete, Owner: "loser", Now: T0})
	if !errors.Is(err, domain.ErrLeaseLost) {
		t.Fatalf("foreign owner: got %v, want ErrLeaseLost", err)
	}
	if _, err := s.GetJob(ctx, domain.KindJob, "own"); err != nil {
		t.Fatalf("job removed by foreign owner: %v", err)
	}

	// A slow worker whose lease was swept may still finish the job.
	mustLease(t, s, domain.KindJob, "swept", "slow", T0.Add(time.Minute))
	if _, err := s.ClearLease(ctx, domain.KindJob, "swept"); err != nil {
		t.Fatalf("ClearLease: %v", err)
	}
	err = s.ApplyOutcome(ctx, domain.KindJob, "swept", domain.Outcome{Type: domain.OutcomeComplete, Owner: "slow", Now: T0})
	if err != nil {
		t.Fatalf("outcome after sweep: %v", err)
	}

	if err := s.ApplyOutcome(ctx, domain.KindJob, "own", domain.Outcome{Type: domain.OutcomeRetry, Owner: "winner", Now: T0}); !errors.Is(err, domain.ErrInvalidOutcome) {
		t.Fatalf("retry without due date: got %v, want ErrInvalidOutcome", err)
	}
}

func testKindsIsolated(t *testing.T, s domain.Store) {
	ctx := context.Background()
	mustCreate(t, s, NewJob("live", domain.KindJob, T0), NewJob("hist", domain.KindHistory, T0))

	live, err := s.FindAcquirableJobs(ctx, domain.KindJob, T0, 10)
	if err != nil {
		t.Fatalf("FindAcquirableJobs(job): %v", err)
	}
	hist, err := s.FindAcquirableJobs(ctx, domain.KindHistory, T0, 10)
	if err != nil {
		t.Fatalf("FindAcquirableJobs(history): %v", err)
	}
	if !equalIDs(ids(live), []string{"live"}) || !equalIDs(ids(hist), []string{"hist"}) {
		t.Fatalf("lanes leaked: live=%v history=%v", ids(live), ids(hist))
	}

	if ok, _ := s.TryLease(ctx, domain.KindJob, "hist", "node", T0.Add(time.Minute)); ok {
		t.Fatal("leased a history job through the live lane")
	}
}

// An id names one job for the life of the store, so a finished job's record
// can never be overwritten by, or collide with, a later job.
func testIDsNeverReused(t *testing.T, s domain.Store) {
	ctx := context.Background()
	finish := func(kind domain.Kind, id string, o domain.Outcome) {
		t.Helper()
		mustLease(t, s, kind, id, "node", T0.Add(time.Minute))
		o.Owner, o.Now = "node", T0.Add(time.Second)
		if err := s.ApplyOutcome(ctx, kind, id, o); err != nil {
			t.Fatalf("ApplyOutcome(%s): %v", id, err)
		}
	}

	mustCreate(t, s,
		NewJob("x", domain.KindJob, T0),
		NewJob("y", domain.KindJob, T0),
		NewJob("z", domain.KindHistory, T0),
		NewJob("c", domain.KindJob, T0),
	)
	finish(domain.KindJob, "x", domain.Outcome{Type: domain.OutcomeDeadLetter, ExceptionMessage: "first failure"})
	finish(domain.KindHistory, "z", domain.Outcome{Type: domain.OutcomeArchive, StartedAt: T0})
	finish(domain.KindJob, "c", domain.Outcome{Type: domain.OutcomeComplete})

	tests := []struct {
		id   string
		kind domain.Kind
	}{
		{"x", domain.KindJob},
		{"x", domain.KindHistory},
		{"y", domain.KindHistory},
		{"z", domain.KindHistory},
		{"z", domain.KindJob},
		{"c", domain.KindJob},
	}
	for _, tt := range tests {
		if err := s.CreateJob(ctx, NewJob(tt.id, tt.kind, T0)); !errors.Is(err, domain.ErrJobAlreadyExists) {
			t.Errorf("CreateJob(%s, %s) = %v, want ErrJobAlreadyExists", tt.kind, tt.id, err)
		}
	}

	dead, err := s.ListDeadLetters(ctx, domain.Filter{ID: "x"})
	if err != nil || len(dead) != 1 || dead[0].ExceptionMessage != "first failure" {
		t.Fatalf("dead letter after reuse attempts = %+v, %v", dead, err)
	}
	if n, _ := s.CountHistoricJobs(ctx, domain.Filter{ID: "z"}); n != 1 {
		t.Fatalf("historic count for z = %d, want 1", n)
	}
	if _, err := s.GetJob(ctx, domain.KindHistory, "y"); !errors.Is(err, domain.ErrJobNotFound) {
		t.Fatalf("GetJob(history, y) = %v, want ErrJobNotFound", err)
	}
	if n, _ := s.CountJobs(ctx, domain.KindJob, domain.Filter{}); n != 1 {
		t.Fatalf("live job count = %d, want 1", n)
	}
}

func testJobQueries(t *testing.T, s domain.Store) {
	ctx := context.Background()
	a := NewJob("q-a", domain.KindJob, T0)
	a.TenantID = "acme-eu"
	a.ProcessDefinitionID = "def-1"
	b := NewJob("q-b", domain.KindJob, T0.Add(time.Second))
	b.TenantID = "acme-us"
	c := NewJob("q-c", domain.KindJob, T0.Add(2*time.Second))
	c.ExecutionID = "exec-9"
	mustCreate(t, s, a, b, c)
	mustLease(t, s, domain.KindJob, "q-b", "node", T0.Add(time.Minute))

	tests := []struct {
		name string
		f    domain.Filter
		want []string
	}{
		{"all by due date", domain.Filter{}, []string{"q-a", "q-b", "q-c"}},
		{"descending", domain.Filter{Descending: true}, []string{"q-c", "q-b", "q-a"}},
		{"locked", domain.Filter{Lease: domain.LeaseLocked}, []string{"q-b"}},
		{"unlocked", domain.Filter{Lease: domain.LeaseUnlocked}, []string{"q-a", "q-c"}},
		{"tenant", domain.Filter{TenantID: "acme-us"}, []string{"q-b"}},
		{"tenant prefix", domain.Filter{TenantIDPrefix: "acme"}, []string{"q-a", "q-b"}},
		{"without tenant", domain.Filter{WithoutTenantID: true}, []string{"q-c"}},
		{"ids", domain.Filter{IDs: []string{"q-c", "q-a"}}, []string{"q-a", "q-c"}},
		{"definition", domain.Filter{ProcessDefinitionID: "def-1"}, []string{"q-a"}},
		{"execution", domain.Filter{ExecutionID: "exec-9"}, []string{"q-c"}},
		{"paged", domain.Filter{Limit: 1, Offset: 1}, []string{"q-b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListJobs(ctx, domain.KindJob, tt.f)
			if err != nil {
				t.Fatalf("ListJobs: %v", err)
			}
			if !equalIDs(ids(got), tt.want) {
				t.Fatalf("got %v, want %v", ids(got), tt.want)
			}
			if tt.f.Limit == 0 {
				n, err := s.CountJobs(ctx, domain.KindJob, tt.f)
				if err != nil {
					t.Fatalf("CountJobs: %v", err)
				}
				if n != int64(len(tt.want)) {
					t.Fatalf("count = %d, want %d", n, len(tt.want))
				}
			}
		})
	}

	if _, err := s.ListJobs(ctx, domain.KindJob, domain.Filter{SortBy: domain.SortByEndTime}); !errors.Is(err, domain.ErrInvalidFilter) {
		t.Fatalf("invalid sort: got %v, want ErrInvalidFilter", err)
	}
}

func testHistoricQueries(t *testing.T, s domain.Store) {
	ctx := context.Background()
	for i, tenant := range []string{"b", "a", ""} {
		id := fmt.Sprintf("h-%d", i)
		j := NewJob(id, domain.KindHistory, T0)
		j.TenantID = tenant
		mustCreate(t, s, j)
		mustLease(t, s, domain.KindHistory, id, "node", T0.Add(time.Minute))
		err := s.ApplyOutcome(ctx, domain.KindHistory, id, domain.Outcome{
			Type:      domain.OutcomeArchive,
			Owner:     "node",
			StartedAt: T0.Add(time.Duration(3-i) * time.Second),
			Now:       T0.Add(time.Duration(10+i) * time.Second),
		})
		if err != nil {
			t.Fatalf("archive %s: %v", id, err)
		}
	}

	tests := []struct {
		name string
		f    domain.Filter
		want []string
	}{
		{"default end time", domain.Filter{}, []string{"h-0", "h-1", "h-2"}},
		{"start time", domain.Filter{SortBy: domain.SortByStartTime}, []string{"h-2", "h-1", "h-0"}},
		{"tenant", domain.Filter{SortBy: domain.SortByTenantID}, []string{"h-2", "h-1", "h-0"}},
		{"without tenant", domain.Filter{WithoutTenantID: true}, []string{"h-2"}},
		{"tenant id", domain.Filter{TenantID: "a"}, []string{"h-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListHistoricJobs(ctx, tt.f)
			if err != nil {
				t.Fatalf("ListHistoricJobs: %v", err)
			}
			gotIDs := make([]string, len(got))
			for i, h := range got {
				gotIDs[i] = h.ID
			}
			if !equalIDs(gotIDs, tt.want) {
				t.Fatalf("got %v, want %v", gotIDs, tt.want)
			}
			n, err := s.CountHistoricJobs(ctx, tt.f)
			if err != nil || n != int64(len(tt.want)) {
				t.Fatalf("CountHistoricJobs = %d, %v", n, err)
			}
		})
	}

	if _, err := s.ListHistoricJobs(ctx, domain.Filter{Lease: domain.LeaseLocked}); !errors.Is(err, domain.ErrInvalidFilter) {
		t.Fatalf("lease filter on historic: got %v", err)
	}
}
