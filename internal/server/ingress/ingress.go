// Package ingress is the net/http adapter in front of the Dispatcher
// (spec.md §4.8): it buffers the inbound request, calls
// Dispatcher.Forward, and translates the outcome to a status code.
package ingress

import (
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/hass-tunnel/ha-tunnel/internal/clientip"
	"github.com/hass-tunnel/ha-tunnel/internal/protocol"
	"github.com/hass-tunnel/ha-tunnel/internal/server/dispatcher"
)

// MaxBodySize is the buffered-body cap; requests larger than this are
// rejected with 413 before ever reaching the Dispatcher.
const MaxBodySize = protocol.MaxMessageSize

// hopByHopHeaders are stripped before a request crosses the tunnel,
// per RFC 7230 §6.1.
var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// Handler adapts http.Handler onto a Dispatcher.
type Handler struct {
	Dispatch       *dispatcher.Dispatcher
	Logger         *zap.Logger
	ClientTimeout  time.Duration
	RequestTimeout time.Duration

	// ProxyMode and TrustedProxies configure the client-IP extractor
	// used to populate HttpRequest.SourceIP. ProxyMode defaults to
	// clientip.ProxyModeNone (the direct connection address) when unset.
	ProxyMode      clientip.ProxyMode
	TrustedProxies []net.IP
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := readBounded(r.Body, MaxBodySize)
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	req := protocol.HTTPRequest{
		Method:   r.Method,
		Path:     r.URL.Path,
		Query:    r.URL.RawQuery,
		Headers:  stripHopByHop(r.Header),
		Body:     body,
		SourceIP: clientip.Extract(r.Header, r.RemoteAddr, h.ProxyMode, h.TrustedProxies),
	}

	resp, err := h.Dispatch.Forward(r.Context(), req, h.ClientTimeout, h.RequestTimeout)
	if err != nil {
		h.writeError(w, err)
		return
	}

	for _, hd := range resp.Headers {
		if hopByHopHeaders[http.CanonicalHeaderKey(hd.Name)] {
			continue
		}
		w.Header().Add(hd.Name, hd.Value)
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(resp.Body) > 0 {
		w.Write(resp.Body)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	dispErr, ok := err.(*dispatcher.Error)
	if !ok {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	switch dispErr.Kind {
	case dispatcher.KindNoClient:
		http.Error(w, "no_client", http.StatusServiceUnavailable)
	case dispatcher.KindBusy:
		w.Header().Set("Retry-After", "1")
		http.Error(w, "busy", http.StatusServiceUnavailable)
	case dispatcher.KindTimeout:
		http.Error(w, "timeout", http.StatusGatewayTimeout)
	case dispatcher.KindDisconnected:
		http.Error(w, "disconnected", http.StatusBadGateway)
	case dispatcher.KindOversize:
		http.Error(w, "oversize", http.StatusBadGateway)
	case dispatcher.KindShutdown:
		http.Error(w, "shutdown", http.StatusServiceUnavailable)
	default:
		h.Logger.Warn("unmapped dispatcher error kind", zap.String("kind", string(dispErr.Kind)))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func stripHopByHop(src http.Header) []protocol.Header {
	var out []protocol.Header
	for name, values := range src {
		if hopByHopHeaders[http.CanonicalHeaderKey(name)] {
			continue
		}
		for _, v := range values {
			out = append(out, protocol.Header{Name: name, Value: v})
		}
	}
	return out
}

// readBounded reads at most limit+1 bytes from r, returning an error
// if the body exceeds limit.
func readBounded(r io.Reader, limit int64) ([]byte, error) {
	limited := io.LimitReader(r, limit+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	if len(data) == 0 {
		return nil, nil
	}
	return data, nil
}

var errBodyTooLarge = &bodyTooLargeError{}

type bodyTooLargeError struct{}

func (*bodyTooLargeError) Error() string { return "ingress: request body exceeds " + strconv.Itoa(MaxBodySize) + " bytes" }
