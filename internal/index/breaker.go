package index

import (
	"log"
	"sync"
	"time"
)

// Breaker is a per-backend circuit breaker with an explicit
// Closed/Open state. While open, callers skip the backend entirely
// instead of attempting a call that is likely to fail.
type Breaker struct {
	mu        sync.Mutex
	name      string
	failures  int
	threshold int
	cooldown  time.Duration
	openUntil time.Time
	onOpen    func()
}

// NewBreaker creates a breaker that opens after threshold consecutive
// failures and stays open for the cooldown duration.
func NewBreaker(name string, threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
	}
}

// IsOpen reports whether the breaker is currently open. Once the
// cooldown elapses the breaker allows a probe call; a failure there
// reopens it immediately.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures < b.threshold {
		return false
	}
	if time.Now().After(b.openUntil) {
		// Half-open: permit one probe without resetting the count, so a
		// single failure trips the breaker again.
		b.failures = b.threshold - 1
		return false
	}
	return true
}

// SetOnOpen registers a hook invoked each time the breaker opens. Set
// once at wiring time, before the breaker is shared.
func (b *Breaker) SetOnOpen(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onOpen = fn
}

// RecordFailure counts a backend failure and opens the breaker once the
// threshold is reached.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	var opened func()
	b.failures++
	if b.failures >= b.threshold {
		b.openUntil = time.Now().Add(b.cooldown)
		opened = b.onOpen
		log.Printf("⚡ [BREAKER] %s circuit opened for %v after %d failures", b.name, b.cooldown, b.failures)
	}
	b.mu.Unlock()

	if opened != nil {
		opened()
	}
}

// RecordSuccess resets the failure count and closes the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.openUntil = time.Time{}
}
