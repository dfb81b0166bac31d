package services

import (
	"context"
	"sync"
	"time"
)

// SessionResult is the outcome reported back to the browser of one session
type SessionResult struct {
	SessionID     string `json:"sessionId"`
	State         string `json:"state"`
	Message       string `json:"message,omitempty"`
	TransactionID string `json:"transactionId,omitempty"`
	PaymentID     string `json:"paymentId,omitempty"`
}

type sessionFuture struct {
	done      chan struct{}
	result    SessionResult
	createdAt time.Time
}

// SessionRegistry keeps one result future per payment session. A session's
// callbacks resolve its own future only.
type SessionRegistry struct {
	mu        sync.Mutex
	futures   map[string]*sessionFuture
	observers []func(SessionResult)
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{futures: make(map[string]*sessionFuture)}
}

func (r *SessionRegistry) future(sessionID string) *sessionFuture {
	f, ok := r.futures[sessionID]
	if !ok {
		f = &sessionFuture{done: make(chan struct{}), createdAt: time.Now()}
		r.futures[sessionID] = f
	}
	return f
}

// Register creates the future for a new session
func (r *SessionRegistry) Register(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.future(sessionID)
}

// Resolve sets the session's result. Only the first call has an effect; it
// reports whether this call resolved the future.
func (r *SessionRegistry) Resolve(result SessionResult) bool {
	r.mu.Lock()
	f := r.future(result.SessionID)
	select {
	case <-f.done:
		r.mu.Unlock()
		return false
	default:
	}
	f.result = result
	close(f.done)
	observers := append(([]func(SessionResult))(nil), r.observers...)
	r.mu.Unlock()

	for _, fn := range observers {
		fn(result)
	}
	return true
}

// Await blocks until the session is resolved or ctx ends
func (r *SessionRegistry) Await(ctx context.Context, sessionID string) (SessionResult, error) {
	r.mu.Lock()
	f := r.future(sessionID)
	r.mu.Unlock()

	select {
	case <-f.done:
		return f.result, nil
	case <-ctx.Done():
		return SessionResult{}, ctx.Err()
	}
}

// Result returns the result without blocking
func (r *SessionRegistry) Result(sessionID string) (SessionResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.futures[sessionID]
	if !ok {
		return SessionResult{}, false
	}
	select {
	case <-f.done:
		return f.result, true
	default:
		return SessionResult{}, false
	}
}

// OnResolve registers fn to be called after every resolution
func (r *SessionRegistry) OnResolve(fn func(SessionResult)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}

// Prune drops futures older than maxAge and returns how many were dropped.
// Waiters on a dropped unresolved future keep waiting on their context.
func (r *SessionRegistry) Prune(maxAge time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	n := 0
	for id, f := range r.futures {
		if f.createdAt.Before(cutoff) {
			delete(r.futures, id)
			n++
		}
	}
	return n
}
