// Package backoff computes retry delays for transiently failed downloads.
// Strategies are stateless and safe for concurrent use.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	// Attempt 1 is the first retry after the initial failure.
	Delay(attempt int) time.Duration
}

// Constant always returns the same delay regardless of attempt number.
type Constant struct {
	Interval time.Duration
}

func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// ExponentialWithJitter doubles a base delay each attempt and adds
// random jitter so that simultaneous failures do not retry in lockstep.
// Delay = Base * 2^(attempt-1) + rand[0, Base), capped at Max.
type ExponentialWithJitter struct {
	Base time.Duration
	Max  time.Duration
}

func NewExponentialWithJitter(base, maxDelay time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Base: base, Max: maxDelay}
}

func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(e.Base) * math.Pow(2, float64(attempt-1)))
	d += time.Duration(rand.Int64N(int64(e.Base) + 1)) //nolint:gosec // jitter intentionally uses non-crypto rand
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}
