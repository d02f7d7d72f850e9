package nsq

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// linearCappedBackOff implements backoff.BackOff per the spec's reconnect
// formula (§4.2): the nth retry waits min(n × reconnectDelayFactor,
// maxReconnectDelay), rather than cenkalti/backoff's default geometric
// growth. Reusing the BackOff interface lets the reconnect loop drive
// itself with backoff.Retry/backoff.WithMaxRetries instead of a hand-rolled
// attempt counter, while keeping the exact spec'd delay shape.
type linearCappedBackOff struct {
	mu       sync.Mutex
	factor   time.Duration
	maxDelay time.Duration
	attempt  uint32
}

var _ backoff.BackOff = (*linearCappedBackOff)(nil)

func newLinearCappedBackOff(factor, maxDelay time.Duration) *linearCappedBackOff {
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	return &linearCappedBackOff{factor: factor, maxDelay: maxDelay}
}

func (b *linearCappedBackOff) NextBackOff() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempt++
	delay := time.Duration(b.attempt) * b.factor
	if delay > b.maxDelay {
		delay = b.maxDelay
	}
	return delay
}

func (b *linearCappedBackOff) Reset() {
	b.mu.Lock()
	b.attempt = 0
	b.mu.Unlock()
}

func (b *linearCappedBackOff) attemptCount() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempt
}

// reconnectBackOff bounds a linearCappedBackOff to maxConnectAttempts total
// tries and exposes it through backoff.BackOff so callers can drive it with
// backoff.Retry; once attempts are exhausted NextBackOff returns
// backoff.Stop and the caller transitions to Failure.
type reconnectBackOff struct {
	inner       *linearCappedBackOff
	maxAttempts uint32
}

func newReconnectBackOff(factor, maxDelay time.Duration, maxAttempts uint32) *reconnectBackOff {
	return &reconnectBackOff{inner: newLinearCappedBackOff(factor, maxDelay), maxAttempts: maxAttempts}
}

func (b *reconnectBackOff) NextBackOff() time.Duration {
	if b.exhausted() {
		return backoff.Stop
	}
	return b.inner.NextBackOff()
}

func (b *reconnectBackOff) Reset() { b.inner.Reset() }

func (b *reconnectBackOff) exhausted() bool {
	return b.maxAttempts > 0 && b.inner.attemptCount()+1 >= b.maxAttempts
}
