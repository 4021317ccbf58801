// Package retry decides whether a failed task attempt is worth repeating.
package retry

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"

	"casawatch/internal/monitor"
)

// Decision is the policy's verdict for one failed attempt.
type Decision struct {
	// Retry is false when the task should give up.
	Retry bool
	// Delay is how long to wait before the next attempt.
	Delay time.Duration
}

// Policy maps (error kind, attempt number) to a retry decision. It is a
// pure decision function; the scheduler owns the actual waiting.
type Policy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// Config controls attempt budget and backoff shape.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// New builds a Policy, falling back to sane defaults for zero values.
func New(cfg Config) *Policy {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	return &Policy{
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		maxDelay:    cfg.MaxDelay,
	}
}

// MaxAttempts returns the attempt budget.
func (p *Policy) MaxAttempts() int { return p.maxAttempts }

// Decide returns the verdict for a failure of the given kind on the given
// attempt (1-based). Permanent kinds give up immediately with no delay.
func (p *Policy) Decide(kind monitor.ErrorKind, attempt int) Decision {
	if !kind.Transient() {
		return Decision{}
	}
	if attempt >= p.maxAttempts {
		return Decision{}
	}
	return Decision{Retry: true, Delay: p.backoff(attempt)}
}

// backoff grows strictly with the attempt number: the deterministic half
// doubles each time and the jitter half is bounded by it, so attempt n+1
// always waits longer than attempt n at its minimum.
func (p *Policy) backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	half := time.Duration(delay)
	jitter := randomJitter(half / 2)
	return half + jitter
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
