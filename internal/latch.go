package internal

import (
	"context"
	"sync"
)

// Latch is a one-shot signal. Fire closes the latch exactly once no matter
// how many callers race to fire it; waiters observe the closure forever
// after.
type Latch struct {
	once sync.Once
	done chan struct{}
}

// NewLatch creates an unfired latch.
func NewLatch() *Latch {
	return &Latch{done: make(chan struct{})}
}

// Fire trips the latch. Subsequent calls are no-ops.
func (l *Latch) Fire() {
	l.once.Do(func() {
		close(l.done)
	})
}

// Fired reports whether the latch has been tripped.
func (l *Latch) Fired() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// Done returns a channel that is closed once the latch fires.
func (l *Latch) Done() <-chan struct{} {
	return l.done
}

// Wait blocks until the latch fires or the context is cancelled.
func (l *Latch) Wait(ctx context.Context) error {
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
