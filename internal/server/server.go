// Package server wires together the tunnel endpoint's handshake, the
// session registry, and the dispatcher into the GET /tunnel HTTP
// handler (spec.md §6), and exposes the Dispatcher for the ingress
// adapter, which is mounted separately by the server's cli package.
package server

import (
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hass-tunnel/ha-tunnel/internal/auth"
	"github.com/hass-tunnel/ha-tunnel/internal/protocol"
	"github.com/hass-tunnel/ha-tunnel/internal/server/conn"
	"github.com/hass-tunnel/ha-tunnel/internal/server/config"
	"github.com/hass-tunnel/ha-tunnel/internal/server/dispatcher"
	"github.com/hass-tunnel/ha-tunnel/internal/server/session"
)

const handshakeTimeout = 10 * time.Second

// Server owns the single-slot session registry and dispatcher for one
// running server process.
type Server struct {
	cfg      config.Config
	registry *session.Registry
	dispatch *dispatcher.Dispatcher
	logger   *zap.Logger
	upgrader websocket.Upgrader
	epoch    atomic.Uint64
}

// New constructs a Server from its configuration.
func New(cfg config.Config, logger *zap.Logger) *Server {
	registry := session.NewRegistry()
	return &Server{
		cfg:      cfg,
		registry: registry,
		dispatch: dispatcher.New(registry, logger),
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Dispatcher exposes the Dispatcher for the ingress adapter.
func (s *Server) Dispatcher() *dispatcher.Dispatcher { return s.dispatch }

// HandleTunnel upgrades the request to a WebSocket and runs the
// handshake, then the Active-state connection loop, per spec.md §4.2–§4.3.
func (s *Server) HandleTunnel(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("tunnel upgrade failed", zap.Error(err))
		return
	}

	sess, ok := s.handshake(ws, r.RemoteAddr)
	if !ok {
		ws.Close()
		return
	}

	peerPolicy := session.PolicyRejectNew
	if s.cfg.PeerPolicy == config.PeerPolicySupersede {
		peerPolicy = session.PolicySupersede
	}

	if err := s.registry.Bind(sess, peerPolicy); err != nil {
		s.sendAuthResponse(ws, false, "already_connected")
		ws.Close()
		return
	}

	s.sendAuthResponse(ws, true, "")

	heartbeatInterval := 30 * time.Second
	c := conn.New(ws, sess, s.registry, s.dispatch, heartbeatInterval, s.logger)
	c.Run(r.Context())
}

// handshake reads the client's Auth message and verifies it. It does
// not send AuthResponse itself — the caller decides the response once
// it also knows whether the single-peer slot is available.
func (s *Server) handshake(ws *websocket.Conn, remoteAddr string) (*session.Session, bool) {
	ws.SetReadDeadline(time.Now().Add(handshakeTimeout))
	msgType, data, err := ws.ReadMessage()
	if err != nil {
		s.logger.Debug("handshake read failed", zap.Error(err))
		return nil, false
	}
	if msgType != websocket.BinaryMessage {
		s.logger.Debug("handshake rejected: non-binary frame")
		return nil, false
	}

	msg, err := protocol.Decode(data)
	if err != nil {
		s.logger.Debug("handshake decode failed", zap.Error(err))
		if errors.Is(err, protocol.ErrUnsupportedVersion) {
			s.sendAuthResponse(ws, false, "unsupported_version")
		}
		return nil, false
	}
	if msg.Tag != protocol.TagAuth {
		s.logger.Debug("handshake rejected: first message was not Auth")
		return nil, false
	}

	a := msg.Auth
	if err := auth.Verify(a.ClientID, a.Timestamp, a.Signature, s.cfg.Secret, time.Now()); err != nil {
		reason := "auth_failed"
		if err == auth.ErrBadSignature {
			reason = "bad_secret"
		}
		s.sendAuthResponse(ws, false, reason)
		return nil, false
	}

	ws.SetReadDeadline(time.Time{})
	epoch := s.epoch.Add(1)
	return session.NewSession(a.ClientID, epoch, remoteAddr, s.cfg.OutboundQueueSize()), true
}

func (s *Server) sendAuthResponse(ws *websocket.Conn, ok bool, reason string) {
	encoded, err := protocol.Encode(protocol.AuthResponseMessage(protocol.AuthResponse{OK: ok, Reason: reason}))
	if err != nil {
		s.logger.Error("failed to encode AuthResponse", zap.Error(err))
		return
	}
	ws.SetWriteDeadline(time.Now().Add(handshakeTimeout))
	if err := ws.WriteMessage(websocket.BinaryMessage, encoded); err != nil {
		s.logger.Debug("failed to write AuthResponse", zap.Error(err))
	}
}
