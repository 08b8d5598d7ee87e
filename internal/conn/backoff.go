package conn

import (
	"math/rand"
	"sync"
	"time"
)

// Backoff produces jittered exponential delays between Min and Max. The base
// delay doubles on every Next call and the returned delay is drawn uniformly
// between Min and the current base, so a fleet of restarts does not redial in
// lockstep.
type Backoff struct {
	Min time.Duration
	Max time.Duration

	mu      sync.Mutex
	attempt int
}

// Next returns the delay to wait before the next dial attempt.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	base := b.Min << b.attempt
	if base > b.Max || base <= 0 {
		base = b.Max
	} else {
		b.attempt++
	}

	if base <= b.Min {
		return b.Min
	}
	return b.Min + time.Duration(rand.Int63n(int64(base-b.Min)))
}

// Reset returns the backoff to its minimum delay. The manager calls this
// once a session reaches Open.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempt = 0
}
