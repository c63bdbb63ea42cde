package net

import (
	"math/rand"
	"time"
)

// RetryPolicy is the pure leaf value type from spec §2: attempt budget,
// base delay, backoff factor, fuzz, per-try timeout.
type RetryPolicy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	BackoffFactor float64
	Fuzz          float64
	Timeout       time.Duration
}

// DelayForAttempt computes base*backoff^n, fuzzed by +/- Fuzz fraction,
// for the zero-indexed attempt n. Generalizes the teacher's Downloader,
// which used a fixed 200ms delay with no backoff or fuzz.
func (p RetryPolicy) DelayForAttempt(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	backoff := p.BackoffFactor
	if backoff <= 0 {
		backoff = 1
	}
	delay := float64(p.BaseDelay)
	for i := 0; i < n; i++ {
		delay *= backoff
	}
	if p.Fuzz > 0 {
		// delay in [delay*(1-fuzz), delay*(1+fuzz)]
		span := delay * p.Fuzz
		delay = delay - span + rand.Float64()*2*span
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
