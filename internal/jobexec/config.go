package jobexec

import (
	"fmt"
	"time"

	"github.com/SirClappington/jobexec/internal/backoff"
	"github.com/SirClappington/jobexec/internal/domain"
)

// Config tunes one engine instance.
type Config struct {
	// OwnerID is written as the lock owner of every job this instance leases.
	OwnerID string

	LeaseDuration   time.Duration
	AcquireInterval time.Duration
	SweepInterval   time.Duration
	AcquirePageSize int
	SweepPageSize   int

	// Workers bounds concurrent live jobs, HistoryWorkers concurrent
	// history jobs.
	Workers        int
	HistoryWorkers int

	Backoff         backoff.Strategy
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the defaults used when the environment sets nothing.
func DefaultConfig(ownerID string) Config {
	return Config{
		OwnerID:         ownerID,
		LeaseDuration:   5 * time.Minute,
		AcquireInterval: 10 * time.Second,
		SweepInterval:   60 * time.Second,
		AcquirePageSize: 10,
		SweepPageSize:   3,
		Workers:         8,
		HistoryWorkers:  2,
		Backoff: backoff.Floor{
			Strategy: backoff.Exponential{Initial: 10 * time.Second, Max: 10 * time.Minute},
			Min:      time.Second,
		},
		ShutdownTimeout: 30 * time.Second,
	}
}

func (c Config) Validate() error {
	switch {
	case c.OwnerID == "":
		return fmt.Errorf("jobexec: owner id is required")
	case c.LeaseDuration <= 0:
		return fmt.Errorf("jobexec: lease duration must be positive")
	case c.AcquireInterval <= 0 || c.SweepInterval <= 0:
		return fmt.Errorf("jobexec: acquire and sweep intervals must be positive")
	case c.AcquirePageSize <= 0 || c.SweepPageSize <= 0:
		return fmt.Errorf("jobexec: page sizes must be positive")
	case c.Workers <= 0 || c.HistoryWorkers <= 0:
		return fmt.Errorf("jobexec: worker counts must be positive")
	case c.Backoff == nil:
		return fmt.Errorf("jobexec: backoff strategy is required")
	case c.ShutdownTimeout <= 0:
		return fmt.Errorf("jobexec: shutdown timeout must be positive")
	}
	return nil
}

func (c Config) workers(kind domain.Kind) int {
	if kind == domain.KindHistory {
		return c.HistoryWorkers
	}
	return c.Workers
}
