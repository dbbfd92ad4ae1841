// Package arbiter implements the per-game lock described in spec §4.1:
// a "simple" (shared) mode that coexists with other simple holders, and
// a "host" (exclusive) mode that excludes everyone else. It is the
// serialization layer that keeps the engine from ever running
// concurrently with a modification of the same game (spec §1, item 2).
package arbiter

import (
	"context"
	"fmt"
	"sync"
)

// Mode selects which kind of admission a caller wants.
type Mode int

const (
	// Simple holders coexist with any number of other simple holders,
	// but never with a host holder.
	Simple Mode = iota
	// Host is mutually exclusive with any other holder, simple or host.
	Host
)

func (m Mode) String() string {
	if m == Host {
		return "host"
	}
	return "simple"
}

// Arbiter owns one lock per game id, created lazily on first use.
type Arbiter struct {
	mu    sync.Mutex
	games map[string]*gameLock
}

// New creates an empty Arbiter.
func New() *Arbiter {
	return &Arbiter{games: make(map[string]*gameLock)}
}

// gameLock is a writer-preferring fair reader/writer lock: a pending
// host acquisition blocks new simple acquisitions from jumping ahead of
// it (so a steady stream of simple callers can never starve a host
// caller), while simple acquisitions already admitted are allowed to
// finish undisturbed (spec §4.1 "Fairness").
type gameLock struct {
	mu           sync.Mutex
	cond         *sync.Cond
	activeSimple int
	hostHeld     bool
	pendingHost  int
}

func newGameLock() *gameLock {
	gl := &gameLock{}
	gl.cond = sync.NewCond(&gl.mu)
	return gl
}

func (a *Arbiter) lockFor(gameID string) *gameLock {
	a.mu.Lock()
	defer a.mu.Unlock()
	gl, ok := a.games[gameID]
	if !ok {
		gl = newGameLock()
		a.games[gameID] = gl
	}
	return gl
}

// Handle represents a held admission; releasing it twice is a no-op.
type Handle struct {
	once    sync.Once
	release func()
}

// Release gives up the held admission. Safe to call more than once.
func (h *Handle) Release() {
	h.once.Do(func() {
		if h.release != nil {
			h.release()
		}
	})
}

// Acquire blocks until admission in the given mode is possible for
// gameID, or ctx is cancelled. Re-entrant acquisition of the same game
// by the same logical caller is not supported and is a programmer
// error (spec §4.1 "Re-entrancy").
func (a *Arbiter) Acquire(ctx context.Context, gameID string, mode Mode) (*Handle, error) {
	gl := a.lockFor(gameID)

	// done is closed once this acquisition is admitted (or abandoned
	// on context cancellation), used to interrupt the cond.Wait loop
	// promptly when the caller gives up.
	done := make(chan struct{})
	abandoned := false

	go func() {
		select {
		case <-ctx.Done():
			gl.mu.Lock()
			abandoned = true
			gl.cond.Broadcast()
			gl.mu.Unlock()
		case <-done:
		}
	}()

	gl.mu.Lock()
	if mode == Host {
		gl.pendingHost++
		for (gl.hostHeld || gl.activeSimple > 0) && !abandoned {
			gl.cond.Wait()
		}
		gl.pendingHost--
		if abandoned {
			gl.mu.Unlock()
			close(done)
			return nil, ctx.Err()
		}
		gl.hostHeld = true
	} else {
		for (gl.hostHeld || gl.pendingHost > 0) && !abandoned {
			gl.cond.Wait()
		}
		if abandoned {
			gl.mu.Unlock()
			close(done)
			return nil, ctx.Err()
		}
		gl.activeSimple++
	}
	gl.mu.Unlock()
	close(done)

	return &Handle{release: func() {
		gl.mu.Lock()
		if mode == Host {
			gl.hostHeld = false
		} else {
			gl.activeSimple--
		}
		gl.cond.Broadcast()
		gl.mu.Unlock()
	}}, nil
}

// Status reports the current admission state of a game, used by
// CRONGET/CRONLIST-style introspection and by the invariant "a due-queue
// master/host entry is held in host mode" (spec §8).
type Status struct {
	HostHeld     bool
	ActiveSimple int
	PendingHost  int
}

// Status returns a snapshot for gameID. It does not block.
func (a *Arbiter) Status(gameID string) Status {
	gl := a.lockFor(gameID)
	gl.mu.Lock()
	defer gl.mu.Unlock()
	return Status{HostHeld: gl.hostHeld, ActiveSimple: gl.activeSimple, PendingHost: gl.pendingHost}
}

// IsHostHeld reports whether gameID is currently held in host mode —
// the exact predicate spec §8's testable property checks for every
// due-queue master/host entry.
func (a *Arbiter) IsHostHeld(gameID string) bool {
	return a.Status(gameID).HostHeld
}

// MustAcquire is a convenience for call sites that never cancel (e.g.
// the scheduler's own host acquisitions, which by design cannot be
// interrupted mid-run). It panics only if ctx is already done, which
// would indicate a programmer error at the call site.
func MustAcquire(ctx context.Context, a *Arbiter, gameID string, mode Mode) *Handle {
	h, err := a.Acquire(ctx, gameID, mode)
	if err != nil {
		panic(fmt.Sprintf("arbiter: unexpected cancellation acquiring %s mode for game %s: %v", mode, gameID, err))
	}
	return h
}
