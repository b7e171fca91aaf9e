package jobexec_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/SirClappington/jobexec/internal/backoff"
	"github.com/SirClappington/jobexec/internal/domain"
	"github.com/SirClappington/jobexec/internal/jobexec"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

const owner = "node-a"

func testConfig() jobexec.Config {
	cfg := jobexec.DefaultConfig(owner)
	cfg.Backoff = backoff.Floor{Strategy: backoff.Fixed{Interval: 10 * time.Second}, Min: time.Second}
	return cfg
}

func newJob(id string, due time.Time) *domain.Job {
	return &domain.Job{ID: id, Kind: domain.KindJob, HandlerType: "test", DueDate: due, Retries: 3}
}

func create(t *testing.T, s domain.Store, jobs ...*domain.Job) {
	t.Helper()
	for _, j := range jobs {
		if err := s.CreateJob(context.Background(), j); err != nil {
			t.Fatalf("CreateJob(%s): %v", j.ID, err)
		}
	}
}

func get(t *testing.T, s domain.Store, id string) *domain.Job {
	t.Helper()
	j, err := s.GetJob(context.Background(), domain.KindJob, id)
	if err != nil {
		t.Fatalf("GetJob(%s): %v", id, err)
	}
	return j
}

func count(t *testing.T, s domain.Store, f domain.Filter) int64 {
	t.Helper()
	n, err := s.CountJobs(context.Background(), domain.KindJob, f)
	if err != nil {
		t.Fatalf("CountJobs: %v", err)
	}
	return n
}

// holdPool accepts jobs without running them.
type holdPool struct {
	mu   sync.Mutex
	size int
	jobs []*domain.Job
}

func (p *holdPool) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size - len(p.jobs)
}

func (p *holdPool) Submit(j *domain.Job) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.jobs) >= p.size {
		return false, nil
	}
	p.jobs = append(p.jobs, j)
	return true, nil
}

func registry(t *testing.T, h jobexec.HandlerFunc) *jobexec.Registry {
	t.Helper()
	r := jobexec.NewRegistry()
	if err := r.Register("test", h); err != nil {
		t.Fatal(err)
	}
	return r
}

func succeed(context.Context, jobexec.ExecutionContext, []byte) error { return nil }
