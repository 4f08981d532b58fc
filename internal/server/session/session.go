// Package session holds the server's single-slot TunnelSession: the
// record of whichever one client is currently authenticated, bound
// with CAS-like semantics since transitions are rare (spec.md §9
// "Single-peer slot").
package session

import (
	"context"
	"sync"
	"time"
)

// Session is the server's record of the currently-bound client.
type Session struct {
	ClientID    string
	Epoch       uint64
	RemoteAddr  string
	ConnectedAt time.Time

	// Outbound carries encoded TunnelMessage payloads to the writer
	// pump for this session. Bounded per spec.md §5 (default 256).
	Outbound chan []byte

	// done is closed exactly once, when the session is torn down, with
	// Reason set beforehand so readers of done never race the field.
	done     chan struct{}
	closeOne sync.Once
	Reason   string
}

// NewSession constructs a session with a bounded outbound queue.
func NewSession(clientID string, epoch uint64, remoteAddr string, outboundCap int) *Session {
	if outboundCap <= 0 {
		outboundCap = 256
	}
	return &Session{
		ClientID:    clientID,
		Epoch:       epoch,
		RemoteAddr:  remoteAddr,
		ConnectedAt: time.Now(),
		Outbound:    make(chan []byte, outboundCap),
		done:        make(chan struct{}),
	}
}

// Done returns a channel closed when the session terminates.
func (s *Session) Done() <-chan struct{} { return s.done }

// Terminate closes the session with reason, exactly once. Safe to call
// concurrently and more than once; only the first call's reason sticks.
func (s *Session) Terminate(reason string) {
	s.closeOne.Do(func() {
		s.Reason = reason
		close(s.done)
	})
}

// IsTerminated reports whether Terminate has already run.
func (s *Session) IsTerminated() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// PeerPolicy controls Bind's behavior when a session already exists.
type PeerPolicy string

const (
	PolicyRejectNew PeerPolicy = "reject_new"
	PolicySupersede PeerPolicy = "supersede"
)

// Registry holds the server's single TunnelSession slot.
type Registry struct {
	mu      sync.Mutex
	current *Session
	signal  chan struct{} // closed and replaced whenever a session binds
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{signal: make(chan struct{})}
}

// Bind attempts to occupy the slot with s.
//
// If the slot is empty, s is bound and nil is returned. If the slot is
// occupied: under PolicyRejectNew, Bind returns ErrAlreadyConnected and
// leaves the existing session untouched; under PolicySupersede, the
// existing session is terminated with reason "superseded" and s takes
// its place.
func (r *Registry) Bind(s *Session, policy PeerPolicy) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil {
		if policy != PolicySupersede {
			return ErrAlreadyConnected
		}
		r.current.Terminate("superseded")
	}

	r.current = s
	close(r.signal)
	r.signal = make(chan struct{})
	return nil
}

// Release clears the slot, but only if it is currently occupied by s —
// a session that has already been superseded must not evict its
// replacement when its own cleanup runs.
func (r *Registry) Release(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == s {
		r.current = nil
	}
}

// Current returns the bound session, if any.
func (r *Registry) Current() (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current, r.current != nil
}

// WaitForSession blocks until a session is bound or ctx is done,
// waking on the registry's single broadcast signal rather than
// polling (spec.md §4.5.1's "single condition-variable-style wake").
func (r *Registry) WaitForSession(ctx context.Context) (*Session, error) {
	for {
		r.mu.Lock()
		if r.current != nil {
			s := r.current
			r.mu.Unlock()
			return s, nil
		}
		ch := r.signal
		r.mu.Unlock()

		select {
		case <-ch:
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
