// Package backoff computes retry delays for failed jobs. Strategies are
// stateless and safe for concurrent use.
package backoff

import (
	"fmt"
	"math"
	"time"
)

// Strategy computes the delay before retry attempt n (1-indexed).
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Policy names accepted by FromPolicy.
const (
	PolicyFixed       = "fixed"
	PolicyExponential = "exponential"
)

// Fixed always waits Interval.
type Fixed struct {
	Interval time.Duration
}

func (f Fixed) Delay(int) time.Duration { return f.Interval }

// Exponential doubles the delay each attempt.
// Delay = min(Initial * 2^(attempt-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

func (e Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(e.Initial) * math.Pow(2, float64(attempt-1))
	if e.Max > 0 && d > float64(e.Max) {
		return e.Max
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Floor never lets a retry be due sooner than Min after the failure, so a
// retried job is never immediately acquirable again.
type Floor struct {
	Strategy
	Min time.Duration
}

func (f Floor) Delay(attempt int) time.Duration {
	return max(f.Strategy.Delay(attempt), f.Min)
}

// FromPolicy builds the named strategy wrapped in a floor.
func FromPolicy(policy string, initial, maxDelay, floor time.Duration) (Strategy, error) {
	if floor <= 0 {
		return nil, fmt.Errorf("backoff: floor must be positive, got %s", floor)
	}
	switch policy {
	case PolicyFixed:
		return Floor{Strategy: Fixed{Interval: initial}, Min: floor}, nil
	case PolicyExponential:
		return Floor{Strategy: Exponential{Initial: initial, Max: maxDelay}, Min: floor}, nil
	default:
		return nil, fmt.Errorf("backoff: unknown policy %q", policy)
	}
}
