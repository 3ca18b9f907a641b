package server

import "sync"

// checkBarrier is the countdown that gates "sync complete". The client
// announces how many files it will check; every file-check match and every
// file-sync enqueue counts down once. The completion action fires exactly
// once, when the count reaches zero, and is responsible for waiting out any
// still-running write/install tasks before signalling the client.
type checkBarrier struct {
	mu        sync.Mutex
	remaining int
	fired     bool
	complete  func()
}

// newCheckBarrier installs a barrier of the given size. A size of zero (or
// less) fires the completion action immediately.
func newCheckBarrier(count int, complete func()) *checkBarrier {
	b := &checkBarrier{remaining: count, complete: complete}
	if count <= 0 {
		b.fired = true
		go complete()
	}
	return b
}

// Fired reports whether the completion action has been triggered. A fired
// barrier is spent; further decrements belong to the next check phase.
func (b *checkBarrier) Fired() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fired
}

// Done counts one file as settled. The completion action runs on its own
// goroutine so callers never block on it.
func (b *checkBarrier) Done() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.remaining--
	if b.remaining <= 0 && !b.fired {
		b.fired = true
		go b.complete()
	}
}
