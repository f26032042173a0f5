package turn

import (
	"context"
	"sync"
	"time"
)

// DebounceResult reports how an armed debounce wait ended.
type DebounceResult int

const (
	// Settled means the wait ran undisturbed and the turn may proceed.
	Settled DebounceResult = iota

	// Superseded means a newer request for the session armed over this wait,
	// or the client went away before it finished.
	Superseded
)

func (r DebounceResult) String() string {
	if r == Settled {
		return "settled"
	}
	return "superseded"
}

// Handle identifies one turn's upstream fetch so a newer turn can cancel it.
// Pointer identity is the guard: a clear only applies when the registered
// handle is the same allocation.
type Handle struct {
	cancel context.CancelFunc
}

// NewHandle wraps the cancel func for one turn's upstream context.
func NewHandle(cancel context.CancelFunc) *Handle {
	return &Handle{cancel: cancel}
}

// pendingWait is one armed debounce. Closing superseded wakes the waiter.
type pendingWait struct {
	superseded chan struct{}
}

// sessionState tracks what a session currently owns: at most one armed
// debounce wait and at most one in-flight upstream fetch.
type sessionState struct {
	inFlight *Handle
	pending  *pendingWait
}

// Coordinator serializes turn-taking per session. Barge-ins on a voice call
// arrive as fresh HTTP requests while the previous answer is still
// streaming; the coordinator guarantees that at any moment a session has at
// most one live upstream fetch and at most one armed debounce wait, and that
// the newest request always wins both slots.
//
// Session records are created on demand and swept once both slots empty, so
// the map stays bounded by the number of currently active sessions.
//
// All methods are safe for concurrent use.
type Coordinator struct {
	mu       sync.Mutex
	sessions map[string]*sessionState
}

// NewCoordinator creates an empty Coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{sessions: make(map[string]*sessionState)}
}

// AbortInFlight cancels the session's registered upstream fetch, if any.
// The aborted turn observes context.Canceled and winds down quietly.
func (c *Coordinator) AbortInFlight(sessionID string) {
	c.mu.Lock()
	var h *Handle
	if st := c.sessions[sessionID]; st != nil {
		h = st.inFlight
		st.inFlight = nil
		c.sweepLocked(sessionID)
	}
	c.mu.Unlock()

	if h != nil {
		h.cancel()
	}
}

// SupersedePending cancels the session's armed debounce wait, if any. The
// waiter returns Superseded.
func (c *Coordinator) SupersedePending(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.sessions[sessionID]
	if st == nil || st.pending == nil {
		return
	}
	close(st.pending.superseded)
	st.pending = nil
	c.sweepLocked(sessionID)
}

// ArmPending installs a fresh debounce wait for the session and blocks for
// wait. It returns Settled when the wait ran undisturbed; on settle, h is
// registered as the session's in-flight handle in the same critical section,
// so a newer turn's AbortInFlight can never slip between the two.
//
// Arming over an existing wait supersedes it. An in-flight fetch still
// registered at arm time is aborted: it belongs to an older turn that
// settled moments ago, and newer requests always win. Cancellation of ctx
// (the client hanging up mid-wait) also resolves Superseded.
func (c *Coordinator) ArmPending(ctx context.Context, sessionID string, wait time.Duration, h *Handle) DebounceResult {
	p := &pendingWait{superseded: make(chan struct{})}

	c.mu.Lock()
	st := c.sessions[sessionID]
	if st == nil {
		st = &sessionState{}
		c.sessions[sessionID] = st
	}
	if st.pending != nil {
		close(st.pending.superseded)
	}
	st.pending = p
	stray := st.inFlight
	st.inFlight = nil
	c.mu.Unlock()

	if stray != nil {
		stray.cancel()
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-p.superseded:
		return Superseded
	case <-ctx.Done():
		c.mu.Lock()
		if st.pending == p {
			st.pending = nil
			c.sweepLocked(sessionID)
		}
		c.mu.Unlock()
		return Superseded
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if st.pending != p {
		// A newer request claimed the session between the timer firing and
		// this lock acquisition.
		return Superseded
	}
	st.pending = nil
	st.inFlight = h
	return Settled
}

// ClearInFlight removes h as the session's registered fetch. It is a no-op
// unless the registered handle is h itself: a late finish of an aborted turn
// must not evict the newer turn's registration.
func (c *Coordinator) ClearInFlight(sessionID string, h *Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.sessions[sessionID]
	if st == nil || st.inFlight != h {
		return
	}
	st.inFlight = nil
	c.sweepLocked(sessionID)
}

// Len reports how many sessions currently hold coordinator state.
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// sweepLocked drops the session record once both slots are empty. The caller
// must hold mu.
func (c *Coordinator) sweepLocked(sessionID string) {
	if st, ok := c.sessions[sessionID]; ok && st.inFlight == nil && st.pending == nil {
		delete(c.sessions, sessionID)
	}
}
