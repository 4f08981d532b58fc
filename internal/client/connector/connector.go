// Package connector drives one tunnel connection from the client
// side: the Auth handshake, then the Active-state read loop that
// answers Pings, decodes forwarded HttpRequests, and hands them to the
// Request Forwarder, and the reader's own termination once the socket
// or the peer gives up. It is the client's mirror of the server's
// internal/server/conn package, minus the write pump — the reader
// replies to pings itself and forwarder results are written as they
// complete, all under one write mutex. A silence watchdog goroutine
// beside the reader takes the place of the server's heartbeat pump.
package connector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hass-tunnel/ha-tunnel/internal/auth"
	"github.com/hass-tunnel/ha-tunnel/internal/client/forwarder"
	"github.com/hass-tunnel/ha-tunnel/internal/pool"
	"github.com/hass-tunnel/ha-tunnel/internal/protocol"
	"github.com/hass-tunnel/ha-tunnel/internal/wsframe"
)

const (
	handshakeTimeout = 10 * time.Second
	writeDeadline    = 10 * time.Second
)

// Outcome classifies why a connection ended, so the reconnect
// supervisor can choose an ordinary backoff or the longer cooldown
// spec.md §4.7 mandates for a misconfigured secret or version.
type Outcome string

const (
	OutcomeTransportError     Outcome = "transport_error"
	OutcomeProtocolError      Outcome = "protocol_error"
	OutcomeHeartbeatTimeout   Outcome = "heartbeat_timeout"
	OutcomeServerClosed       Outcome = "server_closed"
	OutcomeAlreadyConnected   Outcome = "already_connected"
	OutcomeBadSecret          Outcome = "bad_secret"
	OutcomeUnsupportedVersion Outcome = "unsupported_version"
	OutcomeShutdown           Outcome = "shutdown"
)

// Connector owns one dial, handshake, and Active-state session.
type Connector struct {
	serverURL         string
	clientID          string
	secret            string
	fwd               *forwarder.Forwarder
	heartbeatInterval time.Duration
	logger            *zap.Logger
}

// New constructs a Connector. clientID identifies this client in the
// handshake's HMAC input and is otherwise opaque. heartbeatInterval is
// the client's configured heartbeat_interval (spec.md §4.4); the
// client declares the connection dead and forces a reconnect after
// 2×heartbeatInterval of silence, mirroring the server's own timeout.
func New(serverURL, clientID, secret string, fwd *forwarder.Forwarder, heartbeatInterval time.Duration, logger *zap.Logger) *Connector {
	return &Connector{serverURL: serverURL, clientID: clientID, secret: secret, fwd: fwd, heartbeatInterval: heartbeatInterval, logger: logger}
}

// Run dials the server, authenticates, and runs the Active loop until
// the connection ends for any reason. It returns the terminal Outcome
// so the caller's reconnect supervisor can decide its next backoff.
func (c *Connector) Run(ctx context.Context) Outcome {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, c.serverURL, nil)
	if err != nil {
		c.logger.Warn("dial failed", zap.Error(err))
		return OutcomeTransportError
	}
	defer ws.Close()

	outcome, ok := c.handshake(ws)
	if !ok {
		return outcome
	}

	return c.activeLoop(ctx, ws)
}

func (c *Connector) handshake(ws *websocket.Conn) (Outcome, bool) {
	now := time.Now()
	sig := auth.Sign(c.clientID, now.Unix(), c.secret)

	encoded, err := protocol.Encode(protocol.AuthMessage(protocol.Auth{
		ClientID:  c.clientID,
		Timestamp: now.Unix(),
		Signature: sig,
	}))
	if err != nil {
		c.logger.Error("failed to encode Auth", zap.Error(err))
		return OutcomeProtocolError, false
	}

	ws.SetWriteDeadline(time.Now().Add(handshakeTimeout))
	if err := ws.WriteMessage(websocket.BinaryMessage, encoded); err != nil {
		c.logger.Warn("failed to send Auth", zap.Error(err))
		return OutcomeTransportError, false
	}

	ws.SetReadDeadline(time.Now().Add(handshakeTimeout))
	msgType, data, err := ws.ReadMessage()
	if err != nil {
		c.logger.Warn("failed to read AuthResponse", zap.Error(err))
		return OutcomeTransportError, false
	}
	if msgType != websocket.BinaryMessage {
		return OutcomeProtocolError, false
	}

	msg, err := protocol.Decode(data)
	if err != nil || msg.Tag != protocol.TagAuthResponse {
		c.logger.Warn("malformed AuthResponse", zap.Error(err))
		return OutcomeProtocolError, false
	}

	resp := msg.AuthResponse
	if !resp.OK {
		c.logger.Warn("authentication rejected", zap.String("reason", resp.Reason))
		switch resp.Reason {
		case "bad_secret":
			return OutcomeBadSecret, false
		case "already_connected":
			return OutcomeAlreadyConnected, false
		case "unsupported_version":
			return OutcomeUnsupportedVersion, false
		default:
			return OutcomeProtocolError, false
		}
	}

	ws.SetReadDeadline(time.Time{})
	return "", true
}

func (c *Connector) activeLoop(ctx context.Context, ws *websocket.Conn) Outcome {
	var writeMu sync.Mutex
	write := func(msg protocol.Message) error {
		encoded, err := protocol.Encode(msg)
		if err != nil {
			return fmt.Errorf("connector: encode: %w", err)
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		ws.SetWriteDeadline(time.Now().Add(writeDeadline))
		return ws.WriteMessage(websocket.BinaryMessage, encoded)
	}

	var wg sync.WaitGroup
	outcomeCh := make(chan Outcome, 1)
	reportOnce := func(o Outcome) {
		select {
		case outcomeCh <- o:
		default:
		}
	}

	var activityMu sync.Mutex
	lastActivity := time.Now()
	touch := func() {
		activityMu.Lock()
		lastActivity = time.Now()
		activityMu.Unlock()
	}

	bufPool := pool.NewBufferPool()
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			msgType, data, release, err := wsframe.Read(ws, bufPool)
			if err != nil {
				c.logger.Debug("tunnel read error", zap.Error(err))
				reportOnce(OutcomeTransportError)
				return
			}
			if msgType != websocket.BinaryMessage {
				release()
				c.logger.Warn("rejecting non-binary frame from server")
				reportOnce(OutcomeProtocolError)
				return
			}

			msg, err := protocol.Decode(data)
			release()
			if err != nil {
				c.logger.Warn("decode error", zap.Error(err))
				reportOnce(OutcomeProtocolError)
				return
			}

			touch()

			switch msg.Tag {
			case protocol.TagHTTPRequest:
				req := *msg.HTTPRequest
				wg.Add(1)
				go func() {
					defer wg.Done()
					c.handleRequest(write, req)
				}()
			case protocol.TagPing:
				if err := write(protocol.PongMessage(protocol.Pong{Nonce: msg.Ping.Nonce})); err != nil {
					c.logger.Debug("failed to send Pong", zap.Error(err))
					reportOnce(OutcomeTransportError)
					return
				}
			case protocol.TagClose:
				reportOnce(OutcomeServerClosed)
				return
			default:
				c.logger.Debug("dropping unexpected message", zap.Stringer("tag", msg.Tag))
			}
		}
	}()

	watchdogDone := make(chan struct{})
	go func() {
		defer close(watchdogDone)
		ticker := time.NewTicker(c.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				activityMu.Lock()
				silentFor := time.Since(lastActivity)
				activityMu.Unlock()
				if silentFor > 2*c.heartbeatInterval {
					c.logger.Warn("no traffic from server, forcing reconnect", zap.Duration("silent_for", silentFor))
					reportOnce(OutcomeHeartbeatTimeout)
					ws.Close()
					return
				}
			case <-readDone:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	select {
	case o := <-outcomeCh:
		ws.Close()
		<-readDone
		<-watchdogDone
		wg.Wait()
		return o
	case <-ctx.Done():
		write(protocol.CloseMessage(protocol.Close{Code: "client_shutdown"}))
		ws.Close()
		<-readDone
		<-watchdogDone
		wg.Wait()
		return OutcomeShutdown
	}
}

// handleRequest submits req to the forwarder and writes back its
// result; if the forwarder's concurrency cap is saturated it writes an
// immediate 503 instead, matching spec.md §4.6's fail-fast behavior.
func (c *Connector) handleRequest(write func(protocol.Message) error, req protocol.HTTPRequest) {
	ok := c.fwd.Submit(req, func(resp protocol.HTTPResponse) {
		if err := write(protocol.HTTPResponseMessage(resp)); err != nil {
			c.logger.Debug("failed to write HttpResponse", zap.Error(err))
		}
	})
	if !ok {
		busy := protocol.HTTPResponse{CorrelationID: req.CorrelationID, Status: 503}
		if err := write(protocol.HTTPResponseMessage(busy)); err != nil {
			c.logger.Debug("failed to write busy HttpResponse", zap.Error(err))
		}
	}
}
