package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/SirClappington/jobexec/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	c, err := config.Load()
	if err != nil {
		t.Fatal(err)
	}
	if c.StoreBackend != config.BackendPostgres || c.LeaseDuration != 5*time.Minute ||
		c.AcquirePageSize != 10 || c.SweepPageSize != 3 || c.DefaultRetries != 3 {
		t.Errorf("defaults = %+v", c)
	}
	if c.OwnerID == "" {
		t.Error("owner id not generated")
	}

	ec, err := c.Executor()
	if err != nil {
		t.Fatal(err)
	}
	if got := ec.Backoff.Delay(2); got != 20*time.Second {
		t.Errorf("backoff attempt 2 = %v, want 20s", got)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "redis")
	t.Setenv("OWNER_ID", "node-7")
	t.Setenv("LEASE_DURATION", "30s")
	t.Setenv("BACKOFF_POLICY", "fixed")
	t.Setenv("BACKOFF_INITIAL", "3s")
	t.Setenv("WORKERS", "2")

	c, err := config.Load()
	if err != nil {
		t.Fatal(err)
	}
	ec, err := c.Executor()
	if err != nil {
		t.Fatal(err)
	}
	if ec.OwnerID != "node-7" || ec.LeaseDuration != 30*time.Second || ec.Workers != 2 {
		t.Errorf("executor config = %+v", ec)
	}
	if got := ec.Backoff.Delay(5); got != 3*time.Second {
		t.Errorf("fixed backoff = %v, want 3s", got)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name, key, value, want string
	}{
		{"backend", "STORE_BACKEND", "cassandra", "STORE_BACKEND"},
		{"policy", "BACKOFF_POLICY", "linear", "unknown policy"},
		{"floor", "BACKOFF_FLOOR", "0s", "floor"},
		{"workers", "WORKERS", "0", "worker"},
		{"retries", "DEFAULT_RETRIES", "0", "DEFAULT_RETRIES"},
		{"duration syntax", "LEASE_DURATION", "five minutes", "LeaseDuration"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := config.Load()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load = %v, want error mentioning %q", err, tt.want)
			}
		})
	}
}
