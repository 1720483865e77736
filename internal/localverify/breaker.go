// Package localverify looks transactions up directly at provider-operated
// public receipt endpoints (the CBE receipt PDF service and the Telebirr
// receipt page). It is a best-effort fallback for when the verification API
// is unreachable, guarded by retry and a circuit breaker because these
// endpoints are slow and flaky.
package localverify

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while a breaker is cooling down after repeated
// failures.
var ErrCircuitOpen = errors.New("circuit open")

// ErrReceiptNotFound means the endpoint answered but has no receipt for the
// reference.
var ErrReceiptNotFound = errors.New("receipt not found")

// Breaker is a consecutive-failure circuit breaker. After threshold failures
// in a row it rejects calls until the reset window has passed.
type Breaker struct {
	mu        sync.Mutex
	enabled   bool
	threshold int
	reset     time.Duration
	failures  int
	openUntil time.Time
	now       func() time.Time
}

// NewBreaker creates a Breaker. A disabled breaker allows everything.
func NewBreaker(enabled bool, threshold int, reset time.Duration) *Breaker {
	if threshold < 1 {
		threshold = 1
	}
	if reset < time.Second {
		reset = time.Second
	}
	return &Breaker{
		enabled:   enabled,
		threshold: threshold,
		reset:     reset,
		now:       time.Now,
	}
}

// Allow returns ErrCircuitOpen while the breaker is open.
func (b *Breaker) Allow() error {
	if !b.enabled {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.now().Before(b.openUntil) {
		return ErrCircuitOpen
	}
	return nil
}

// RecordSuccess closes the breaker and clears the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.openUntil = time.Time{}
}

// RecordFailure counts one failure, opening the breaker at the threshold.
func (b *Breaker) RecordFailure() {
	if !b.enabled {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= b.threshold {
		b.openUntil = b.now().Add(b.reset)
	}
}

// RetryConfig bounds the retry loop around a receipt fetch.
type RetryConfig struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// fetchWithRetry runs fetch up to cfg.Attempts times, retrying only when
// retryIf accepts the error, with exponential backoff and full jitter
// between attempts.
func fetchWithRetry(ctx context.Context, cfg RetryConfig, fetch func() (*http.Response, error), retryIf func(error) bool) (*http.Response, error) {
	attempts := cfg.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := fetch()
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if attempt >= attempts || !retryIf(err) {
			return nil, err
		}

		delay := cfg.BaseDelay << (attempt - 1)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
		delay = time.Duration(rand.Float64() * float64(delay)) // full jitter
		if delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
		}
	}
	return nil, lastErr
}
