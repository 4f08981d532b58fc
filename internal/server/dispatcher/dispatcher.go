// Package dispatcher implements the server's request/response
// correlation machinery: it hands a forwarded HTTP request to the
// bound tunnel session and parks the caller until a matching response
// arrives, a deadline fires, or the session disappears.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hass-tunnel/ha-tunnel/internal/protocol"
	"github.com/hass-tunnel/ha-tunnel/internal/server/session"
)

// enqueueWait bounds how long Forward waits for room on a full
// outbound queue before giving up with KindBusy.
const enqueueWait = 500 * time.Millisecond

type pendingEntry struct {
	session *session.Session
	ch      chan protocol.HTTPResponse
}

// Dispatcher is the server's single correlation table plus the
// forward() entry point consumed by the ingress adapter (spec.md §4.5).
type Dispatcher struct {
	registry *session.Registry
	logger   *zap.Logger

	mu      sync.Mutex
	pending map[protocol.CorrelationID]*pendingEntry
}

// New constructs a Dispatcher bound to registry.
func New(registry *session.Registry, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		logger:   logger,
		pending:  make(map[protocol.CorrelationID]*pendingEntry),
	}
}

// Forward assigns a correlation id to req, sends it to the bound
// session, and blocks until a response arrives, deadline expires, or
// the session is lost. The PendingRequest entry is removed before
// Forward returns in every case, so a late or duplicate HttpResponse
// for the same correlation id is always dropped on arrival.
func (d *Dispatcher) Forward(ctx context.Context, req protocol.HTTPRequest, clientTimeout, requestTimeout time.Duration) (protocol.HTTPResponse, error) {
	waitCtx, cancel := context.WithTimeout(ctx, clientTimeout)
	sess, err := d.registry.WaitForSession(waitCtx)
	cancel()
	if err != nil {
		return protocol.HTTPResponse{}, newError(KindNoClient, err)
	}

	req.CorrelationID = protocol.NewCorrelationID()
	entry := &pendingEntry{session: sess, ch: make(chan protocol.HTTPResponse, 1)}

	d.mu.Lock()
	d.pending[req.CorrelationID] = entry
	d.mu.Unlock()
	defer d.remove(req.CorrelationID)

	encoded, err := protocol.Encode(protocol.HTTPRequestMessage(req))
	if err != nil {
		return protocol.HTTPResponse{}, newError(KindOversize, err)
	}

	select {
	case sess.Outbound <- encoded:
	case <-time.After(enqueueWait):
		return protocol.HTTPResponse{}, newError(KindBusy, nil)
	case <-sess.Done():
		return protocol.HTTPResponse{}, newError(KindDisconnected, nil)
	case <-ctx.Done():
		return protocol.HTTPResponse{}, newError(KindShutdown, ctx.Err())
	}

	select {
	case resp := <-entry.ch:
		return resp, nil
	case <-time.After(requestTimeout):
		return protocol.HTTPResponse{}, newError(KindTimeout, nil)
	case <-sess.Done():
		return protocol.HTTPResponse{}, newError(KindDisconnected, nil)
	case <-ctx.Done():
		return protocol.HTTPResponse{}, newError(KindShutdown, ctx.Err())
	}
}

// Deliver resolves the waiter for resp's correlation id, if one exists
// and was dispatched on sess. Unknown correlation ids (no waiter, or a
// waiter already resolved and removed), and responses arriving from a
// session other than the one the request was sent on, are dropped
// silently — this is the spec's required idempotence, not an error.
func (d *Dispatcher) Deliver(sess *session.Session, resp protocol.HTTPResponse) {
	d.mu.Lock()
	entry, ok := d.pending[resp.CorrelationID]
	if ok {
		delete(d.pending, resp.CorrelationID)
	}
	d.mu.Unlock()

	if !ok {
		d.logger.Debug("dropping response for unknown or already-resolved correlation id")
		return
	}
	if entry.session != sess {
		d.logger.Debug("dropping response delivered on a different session than it was sent on")
		return
	}

	select {
	case entry.ch <- resp:
	default:
		// entry.ch is buffered 1 and only ever written once per entry
		// (the entry was removed from the table above), so this send
		// does not block; if Forward has already returned, the
		// response is simply never read.
	}
}

// Pending returns the number of in-flight requests. Exposed for tests
// and diagnostics; not part of the forward() contract.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *Dispatcher) remove(id protocol.CorrelationID) {
	d.mu.Lock()
	delete(d.pending, id)
	d.mu.Unlock()
}
