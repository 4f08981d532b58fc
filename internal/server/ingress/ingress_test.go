package ingress

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hass-tunnel/ha-tunnel/internal/protocol"
	"github.com/hass-tunnel/ha-tunnel/internal/server/dispatcher"
	"github.com/hass-tunnel/ha-tunnel/internal/server/session"
)

func newTestHandler() (*Handler, *session.Registry) {
	reg := session.NewRegistry()
	return &Handler{
		Dispatch:       dispatcher.New(reg, zap.NewNop()),
		Logger:         zap.NewNop(),
		ClientTimeout:  200 * time.Millisecond,
		RequestTimeout: 200 * time.Millisecond,
	}, reg
}

func TestServeHTTP_HappyPath(t *testing.T) {
	h, reg := newTestHandler()
	sess := session.NewSession("client", 1, "10.0.0.1:1", 0)
	_ = reg.Bind(sess, session.PolicyRejectNew)

	go func() {
		select {
		case encoded := <-sess.Outbound:
			msg, err := protocol.Decode(encoded)
			if err != nil {
				t.Errorf("Decode() error = %v", err)
				return
			}
			resp, err := protocol.Encode(protocol.HTTPResponseMessage(protocol.HTTPResponse{
				CorrelationID: msg.HTTPRequest.CorrelationID,
				Status:        200,
				Headers:       []protocol.Header{{Name: "Content-Type", Value: "application/json"}},
				Body:          []byte(`{"ok":true}`),
			}))
			if err != nil {
				t.Errorf("Encode() error = %v", err)
				return
			}
			decoded, _ := protocol.Decode(resp)
			h.Dispatch.Deliver(sess, *decoded.HTTPResponse)
		case <-time.After(time.Second):
			t.Error("no request observed on outbound queue")
		}
	}()

	req := httptest.NewRequest(http.MethodPost, "/api/alexa/smart_home", bytes.NewReader([]byte(`{"x":1}`)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
	}
	if rec.Body.String() != `{"ok":true}` {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestServeHTTP_NoClient(t *testing.T) {
	h, _ := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestServeHTTP_RequestTimeout(t *testing.T) {
	h, reg := newTestHandler()
	sess := session.NewSession("client", 1, "10.0.0.1:1", 0)
	_ = reg.Bind(sess, session.PolicyRejectNew)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", rec.Code)
	}
}

func TestServeHTTP_DisconnectMidFlight(t *testing.T) {
	h, reg := newTestHandler()
	h.RequestTimeout = 5 * time.Second
	sess := session.NewSession("client", 1, "10.0.0.1:1", 0)
	_ = reg.Bind(sess, session.PolicyRejectNew)

	go func() {
		<-sess.Outbound
		time.Sleep(20 * time.Millisecond)
		sess.Terminate("transport_killed")
	}()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}

func TestServeHTTP_BodyTooLarge(t *testing.T) {
	h, reg := newTestHandler()
	sess := session.NewSession("client", 1, "10.0.0.1:1", 0)
	_ = reg.Bind(sess, session.PolicyRejectNew)

	oversized := bytes.Repeat([]byte("a"), MaxBodySize+1)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(oversized))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}

func TestServeHTTP_HopByHopHeadersStripped(t *testing.T) {
	h, reg := newTestHandler()
	h.RequestTimeout = 5 * time.Second
	sess := session.NewSession("client", 1, "10.0.0.1:1", 0)
	_ = reg.Bind(sess, session.PolicyRejectNew)

	go func() {
		encoded := <-sess.Outbound
		msg, _ := protocol.Decode(encoded)
		for _, hd := range msg.HTTPRequest.Headers {
			if hd.Name == "Connection" || hd.Name == "Keep-Alive" {
				t.Errorf("hop-by-hop header %q leaked through to tunnel request", hd.Name)
			}
		}
		resp, _ := protocol.Encode(protocol.HTTPResponseMessage(protocol.HTTPResponse{
			CorrelationID: msg.HTTPRequest.CorrelationID,
			Status:        200,
			Headers:       []protocol.Header{{Name: "Connection", Value: "keep-alive"}},
		}))
		decoded, _ := protocol.Decode(resp)
		h.Dispatch.Deliver(sess, *decoded.HTTPResponse)
	}()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Keep-Alive", "timeout=5")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Header().Get("Connection") != "" {
		t.Errorf("hop-by-hop header leaked back into response")
	}
}
