package app

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	ReconnectBase        = time.Second
	ReconnectCap         = 30 * time.Second
	MaxReconnectAttempts = 10
)

// Delay is the retry delay after the n-th (0-indexed) failure with default settings.
func Delay(n int) time.Duration {
	return delay(ReconnectBase, ReconnectCap, n)
}

func delay(base, limit time.Duration, n int) time.Duration {
	if n < 0 {
		n = 0
	}
	d := base
	for range n {
		if d >= limit {
			break
		}
		d *= 2
	}
	return min(d, limit)
}

// ReconnectionPolicy counts consecutive failed opens for one socket client.
// The counter resets only on a successful open.
type ReconnectionPolicy struct {
	mu       sync.Mutex
	base     time.Duration
	limit    time.Duration
	max      int
	attempts int
	bo       *backoff.ExponentialBackOff
}

func NewReconnectionPolicy(base, limit time.Duration, maxAttempts int) *ReconnectionPolicy {
	if base <= 0 {
		base = ReconnectBase
	}
	if limit < base {
		limit = base
	}
	if maxAttempts <= 0 {
		maxAttempts = MaxReconnectAttempts
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = base
	bo.MaxInterval = limit
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.Reset()
	return &ReconnectionPolicy{base: base, limit: limit, max: maxAttempts, bo: bo}
}

func DefaultReconnectionPolicy() *ReconnectionPolicy {
	return NewReconnectionPolicy(ReconnectBase, ReconnectCap, MaxReconnectAttempts)
}

func (p *ReconnectionPolicy) Delay(n int) time.Duration {
	return delay(p.base, p.limit, n)
}

// Failed records a failed open or a dropped connection. It returns the delay
// before the next attempt, or false once the attempt cap is reached.
func (p *ReconnectionPolicy) Failed() (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts++
	if p.attempts >= p.max {
		return 0, false
	}
	return p.bo.NextBackOff(), true
}

// Opened resets the counter after a successful open.
func (p *ReconnectionPolicy) Opened() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts = 0
	p.bo.Reset()
}

// Reset is a manual restart after the cap was reached.
func (p *ReconnectionPolicy) Reset() { p.Opened() }

func (p *ReconnectionPolicy) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

func (p *ReconnectionPolicy) MaxAttempts() int { return p.max }
