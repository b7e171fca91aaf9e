package jobexec_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/SirClappington/jobexec/internal/domain"
	"github.com/SirClappington/jobexec/internal/jobexec"
	"github.com/SirClappington/jobexec/internal/storage/memstore"
)

func TestEngine_RunsDueJobsOfBothKinds(t *testing.T) {
	s := memstore.New()
	done := make(chan string, 2)
	h := func(_ context.Context, ec jobexec.ExecutionContext, _ []byte) error {
		done <- ec.JobID
		return nil
	}

	cfg := testConfig()
	cfg.AcquireInterval = 10 * time.Millisecond
	cfg.SweepInterval = 10 * time.Millisecond
	eng, err := jobexec.New(s, registry(t, h), cfg)
	if err != nil {
		t.Fatal(err)
	}

	now := time.Now().UTC()
	hist := newJob("hist", now)
	hist.Kind = domain.KindHistory
	create(t, s, newJob("live", now), hist)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- eng.Run(ctx) }()

	seen := map[string]bool{}
	timeout := time.After(5 * time.Second)
	for len(seen) < 2 {
		select {
		case id := <-done:
			seen[id] = true
		case <-timeout:
			t.Fatalf("handlers ran for %v only", seen)
		}
	}

	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n, _ := s.CountJobs(context.Background(), domain.KindJob, domain.Filter{}); n != 0 {
		t.Errorf("live jobs left = %d", n)
	}
	if n, _ := s.CountHistoricJobs(context.Background(), domain.Filter{ID: "hist"}); n != 1 {
		t.Errorf("history job not archived")
	}
}

func TestEngine_HintAcquiresWithoutWaitingForTick(t *testing.T) {
	s := memstore.New()
	done := make(chan struct{}, 1)
	h := func(context.Context, jobexec.ExecutionContext, []byte) error {
		done <- struct{}{}
		return nil
	}

	cfg := testConfig()
	cfg.AcquireInterval = time.Hour
	cfg.SweepInterval = time.Hour
	eng, err := jobexec.New(s, registry(t, h), cfg)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- eng.Run(ctx) }()

	// Let the first, empty cycle pass before the job exists.
	time.Sleep(20 * time.Millisecond)
	create(t, s, newJob("poke", time.Now().UTC()))
	eng.Hint(domain.KindJob)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("hint did not trigger acquisition")
	}
	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestEngine_SingleCycles(t *testing.T) {
	s := memstore.New()
	eng, err := jobexec.New(s, registry(t, succeed), testConfig())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := eng.Acquire(context.Background(), "bogus"); err != domain.ErrInvalidKind {
		t.Errorf("Acquire(bogus) = %v", err)
	}
	if n, err := eng.Sweep(context.Background(), domain.KindJob); n != 0 || err != nil {
		t.Errorf("Sweep on empty store = %d, %v", n, err)
	}
	if err := eng.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*jobexec.Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*jobexec.Config) {}},
		{name: "no owner", mutate: func(c *jobexec.Config) { c.OwnerID = "" }, wantErr: true},
		{name: "zero lease", mutate: func(c *jobexec.Config) { c.LeaseDuration = 0 }, wantErr: true},
		{name: "zero page", mutate: func(c *jobexec.Config) { c.SweepPageSize = 0 }, wantErr: true},
		{name: "no history workers", mutate: func(c *jobexec.Config) { c.HistoryWorkers = 0 }, wantErr: true},
		{name: "no backoff", mutate: func(c *jobexec.Config) { c.Backoff = nil }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := jobexec.DefaultConfig(owner)
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRegistry(t *testing.T) {
	r := jobexec.NewRegistry()
	if err := r.Register("b", jobexec.HandlerFunc(succeed)); err != nil {
		t.Fatal(err)
	}
	if err := r.Register("a", jobexec.HandlerFunc(succeed)); err != nil {
		t.Fatal(err)
	}
	if err := r.Register("a", jobexec.HandlerFunc(succeed)); err == nil {
		t.Error("duplicate registration accepted")
	}
	if _, err := r.Lookup("zzz"); !errors.Is(err, domain.ErrNoHandler) {
		t.Errorf("Lookup(zzz) = %v", err)
	}
	if got := r.Types(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Types = %v", got)
	}
}
