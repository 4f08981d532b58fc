// Package conn runs the three long-lived goroutines spec.md §5
// assigns to each tunnel connection on the server side: a reader that
// decodes inbound frames and routes them, a writer that drains the
// session's outbound queue to the socket, and a heartbeat loop that
// pings the peer and declares it dead on silence.
//
// Grounded on the teacher's tunnel.Connection write pump
// (internal/server/tunnel/connection.go), generalized from a
// subdomain-keyed text-frame relay to this protocol's binary-framed
// TunnelMessage exchange and three-goroutine split.
package conn

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hass-tunnel/ha-tunnel/internal/pool"
	"github.com/hass-tunnel/ha-tunnel/internal/protocol"
	"github.com/hass-tunnel/ha-tunnel/internal/server/dispatcher"
	"github.com/hass-tunnel/ha-tunnel/internal/server/session"
	"github.com/hass-tunnel/ha-tunnel/internal/wsframe"
)

const (
	writeDeadline = 10 * time.Second
	closeGrace    = 2 * time.Second
)

// Conn drives one active tunnel connection after a successful
// handshake. It does not perform the handshake itself — see
// Server.handshake in internal/server/server.go — only the Active-state
// read/write/heartbeat loop.
type Conn struct {
	ws       *websocket.Conn
	sess     *session.Session
	registry *session.Registry
	dispatch *dispatcher.Dispatcher
	logger   *zap.Logger

	heartbeatInterval time.Duration
	bufPool           *pool.BufferPool

	mu            sync.Mutex
	lastActivity  time.Time
	expectedNonce uint64
	awaitingPong  bool
	missedPongs   int
}

// New wraps an authenticated WebSocket connection for the Active state.
func New(ws *websocket.Conn, sess *session.Session, registry *session.Registry, dispatch *dispatcher.Dispatcher, heartbeatInterval time.Duration, logger *zap.Logger) *Conn {
	return &Conn{
		ws:                ws,
		sess:              sess,
		registry:          registry,
		dispatch:          dispatch,
		logger:            logger,
		heartbeatInterval: heartbeatInterval,
		bufPool:           pool.NewBufferPool(),
		lastActivity:      time.Now(),
	}
}

// Run blocks until the connection terminates, for any reason: a
// transport error, a decode error, a received Close, a heartbeat
// timeout, or ctx cancellation (server shutdown).
func (c *Conn) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); c.writePump(runCtx) }()
	go func() { defer wg.Done(); c.heartbeatPump(runCtx) }()

	c.readLoop(runCtx)

	cancel()
	wg.Wait()

	c.registry.Release(c.sess)
	c.sess.Terminate("connection_closed")
	c.ws.Close()
}

func (c *Conn) readLoop(ctx context.Context) {
	for {
		msgType, data, release, err := wsframe.Read(c.ws, c.bufPool)
		if err != nil {
			c.logger.Debug("tunnel read error", zap.Error(err))
			c.sess.Terminate("transport_error")
			return
		}
		if msgType != websocket.BinaryMessage {
			release()
			c.logger.Warn("rejecting non-binary frame")
			c.sendClose("protocol_error", "text frames are not accepted")
			c.sess.Terminate("protocol_error")
			return
		}

		c.touch()

		msg, err := protocol.Decode(data)
		release()
		if err != nil {
			c.logger.Warn("decode error, closing connection", zap.Error(err))
			c.sendClose("protocol_error", err.Error())
			c.sess.Terminate("protocol_error")
			return
		}

		switch msg.Tag {
		case protocol.TagHTTPResponse:
			c.dispatch.Deliver(c.sess, *msg.HTTPResponse)
		case protocol.TagPong:
			c.handlePong(msg.Pong.Nonce)
		case protocol.TagPing:
			c.reply(protocol.PongMessage(protocol.Pong{Nonce: msg.Ping.Nonce}))
		case protocol.TagClose:
			reason := "shutdown"
			if msg.Close != nil && msg.Close.Code != "" {
				reason = msg.Close.Code
			}
			c.sess.Terminate(reason)
			return
		default:
			c.logger.Debug("dropping unexpected message on active connection", zap.Stringer("tag", msg.Tag))
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (c *Conn) writePump(ctx context.Context) {
	for {
		select {
		case payload, ok := <-c.sess.Outbound:
			if !ok {
				return
			}
			if err := c.write(payload); err != nil {
				c.logger.Debug("tunnel write error", zap.Error(err))
				c.sess.Terminate("transport_error")
				return
			}
		case <-c.sess.Done():
			c.flushClose()
			// Closing the socket unblocks readLoop so Run can return.
			c.ws.Close()
			return
		case <-ctx.Done():
			c.ws.Close()
			return
		}
	}
}

func (c *Conn) flushClose() {
	reason := c.sess.Reason
	if reason == "" {
		reason = "shutdown"
	}
	deadline := time.Now().Add(closeGrace)
	for {
		select {
		case payload, ok := <-c.sess.Outbound:
			if !ok {
				c.sendClose(reason, "")
				return
			}
			if time.Now().After(deadline) {
				c.sendClose(reason, "")
				return
			}
			_ = c.write(payload)
		default:
			c.sendClose(reason, "")
			return
		}
	}
}

func (c *Conn) heartbeatPump(ctx context.Context) {
	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			silentFor := time.Since(c.lastActivity)
			stillAwaiting := c.awaitingPong
			c.mu.Unlock()

			if silentFor > 2*c.heartbeatInterval {
				c.sess.Terminate("heartbeat_timeout")
				return
			}
			if stillAwaiting {
				c.mu.Lock()
				c.missedPongs++
				missed := c.missedPongs
				c.mu.Unlock()
				if missed >= 2 {
					c.sess.Terminate("heartbeat_timeout")
					return
				}
			}

			c.sendPing()
		case <-c.sess.Done():
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *Conn) sendPing() {
	nonce := randomNonce()
	c.mu.Lock()
	c.expectedNonce = nonce
	c.awaitingPong = true
	c.mu.Unlock()
	c.reply(protocol.PingMessage(protocol.Ping{Nonce: nonce}))
}

func (c *Conn) handlePong(nonce uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.awaitingPong || nonce != c.expectedNonce {
		// Unknown nonce: silently dropped (spec.md §8 idempotence).
		return
	}
	c.awaitingPong = false
	c.missedPongs = 0
}

func (c *Conn) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

func (c *Conn) write(payload []byte) error {
	c.ws.SetWriteDeadline(time.Now().Add(writeDeadline))
	return c.ws.WriteMessage(websocket.BinaryMessage, payload)
}

func (c *Conn) reply(msg protocol.Message) {
	encoded, err := protocol.Encode(msg)
	if err != nil {
		c.logger.Error("failed to encode outbound control message", zap.Error(err))
		return
	}
	if err := c.write(encoded); err != nil {
		c.logger.Debug("failed to write outbound control message", zap.Error(err))
	}
}

func (c *Conn) sendClose(code, reason string) {
	c.reply(protocol.CloseMessage(protocol.Close{Code: code, Reason: reason}))
}

func randomNonce() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	return binary.BigEndian.Uint64(b[:])
}
