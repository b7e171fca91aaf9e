package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/SirClappington/jobexec/internal/config"
	"github.com/SirClappington/jobexec/internal/domain"
	"github.com/SirClappington/jobexec/internal/storage/memstore"
)

func execute(t *testing.T, store domain.Store, args ...string) (string, error) {
	t.Helper()
	t.Setenv("STORE_BACKEND", config.BackendMemory)
	t.Setenv("DEFAULT_RETRIES", "5")

	root := newRootCmd(func(context.Context, config.Config) (domain.Store, error) { return store, nil })
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestEnqueue(t *testing.T) {
	store := memstore.New()
	out, err := execute(t, store, "enqueue", "log", "--id", "j1", "--tenant", "acme", "--config", `{"message":"hi"}`, "--due", "1h")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "j1" {
		t.Errorf("out = %q", out)
	}

	j, err := store.GetJob(context.Background(), domain.KindJob, "j1")
	if err != nil {
		t.Fatal(err)
	}
	if j.HandlerType != "log" || j.TenantID != "acme" || j.Retries != 5 || string(j.Configuration) != `{"message":"hi"}` {
		t.Errorf("job = %+v", j)
	}
	if d := time.Until(j.DueDate); d < 59*time.Minute || d > time.Hour {
		t.Errorf("due in %v", d)
	}
}

func TestEnqueue_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "no handler", args: []string{"enqueue"}},
		{name: "bad kind", args: []string{"enqueue", "log", "--kind", "timer"}},
		{name: "bad due", args: []string{"enqueue", "log", "--due", "tomorrow"}},
		{name: "bad repeat", args: []string{"enqueue", "log", "--repeat", "sometimes"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := execute(t, memstore.New(), tt.args...); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestDeadLettersAndResubmit(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	now := time.Now().UTC()
	if err := store.CreateJob(ctx, &domain.Job{ID: "d1", Kind: domain.KindHistory, HandlerType: "webhook", DueDate: now, Retries: 1}); err != nil {
		t.Fatal(err)
	}
	if err := store.ApplyOutcome(ctx, domain.KindHistory, "d1", domain.Outcome{Type: domain.OutcomeDeadLetter, Now: now, ExceptionMessage: "503"}); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, store, "deadletters")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "d1") || !strings.Contains(out, "webhook") || !strings.Contains(out, "503") {
		t.Errorf("listing = %q", out)
	}

	out, err = execute(t, store, "resubmit", "d1", "--retries", "2")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "retries=2") {
		t.Errorf("out = %q", out)
	}
	j, err := store.GetJob(ctx, domain.KindHistory, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if j.Retries != 2 || j.Leased() {
		t.Errorf("resubmitted = %+v", j)
	}

	if _, err := execute(t, store, "resubmit", "d1"); err == nil {
		t.Error("resubmitting twice should fail")
	}
}

func TestParseDue(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{in: "", want: now},
		{in: "90s", want: now.Add(90 * time.Second)},
		{in: "2024-03-02T08:00:00+02:00", want: time.Date(2024, 3, 2, 6, 0, 0, 0, time.UTC)},
		{in: "soon", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseDue(tt.in, now)
		if (err != nil) != tt.wantErr {
			t.Fatalf("parseDue(%q) err = %v", tt.in, err)
		}
		if !tt.wantErr && !got.Equal(tt.want) {
			t.Errorf("parseDue(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
