// Package forwarder turns a tunneled HttpRequest into a call against
// the local Home Assistant instance and turns the result back into an
// HttpResponse (spec.md §4.6).
package forwarder

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hass-tunnel/ha-tunnel/internal/pool"
	"github.com/hass-tunnel/ha-tunnel/internal/protocol"
)

// DefaultConcurrency is N from spec.md §4.6: the cap on in-flight
// local requests before additional work fails fast with 503.
const DefaultConcurrency = 64

// hopByHopHeaders mirrors the ingress adapter's set; both directions
// of the tunnel strip the same RFC 7230 §6.1 header names.
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

// Forwarder relays tunneled requests to a local HA server over plain
// net/http, bounding concurrency with a worker pool instead of one
// goroutine per request.
type Forwarder struct {
	haServer  string
	haTimeout time.Duration
	client    *http.Client
	pool      *pool.WorkerPool
	logger    *zap.Logger
}

// New constructs a Forwarder targeting haServer (e.g.
// "http://localhost:8123"), with a bounded concurrency of workers and
// a FIFO queue depth of queueSize beyond that.
func New(haServer string, haTimeout time.Duration, workers, queueSize int, logger *zap.Logger) *Forwarder {
	if workers <= 0 {
		workers = DefaultConcurrency
	}
	return &Forwarder{
		haServer:  haServer,
		haTimeout: haTimeout,
		client:    &http.Client{},
		pool:      pool.NewWorkerPool(workers, queueSize),
		logger:    logger,
	}
}

// Submit enqueues req for forwarding and calls onDone exactly once,
// from a pool worker goroutine, with the resulting HttpResponse.
// Submit reports false without calling onDone if the pool's queue is
// full — the caller (the connector) is responsible for sending an
// immediate 503 in that case, per spec.md §4.6's fail-fast cap.
func (f *Forwarder) Submit(req protocol.HTTPRequest, onDone func(protocol.HTTPResponse)) bool {
	return f.pool.TrySubmit(func() {
		onDone(f.do(req))
	})
}

// Close drains the worker pool.
func (f *Forwarder) Close() { f.pool.Close() }

func (f *Forwarder) do(req protocol.HTTPRequest) protocol.HTTPResponse {
	ctx, cancel := context.WithTimeout(context.Background(), f.haTimeout)
	defer cancel()

	url := f.haServer + req.Path
	if req.Query != "" {
		url += "?" + req.Query
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, bytes.NewReader(req.Body))
	if err != nil {
		f.logger.Warn("failed to build local request", zap.Error(err))
		return protocol.HTTPResponse{CorrelationID: req.CorrelationID, Status: http.StatusBadGateway}
	}

	for _, hd := range req.Headers {
		if hopByHopHeaders[http.CanonicalHeaderKey(hd.Name)] {
			continue
		}
		httpReq.Header.Add(hd.Name, hd.Value)
	}
	if req.SourceIP != "" {
		httpReq.Header.Set("X-Forwarded-For", req.SourceIP)
		httpReq.Header.Set("X-Real-IP", req.SourceIP)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return protocol.HTTPResponse{CorrelationID: req.CorrelationID, Status: http.StatusGatewayTimeout}
		}
		f.logger.Debug("local request failed", zap.Error(err))
		return protocol.HTTPResponse{CorrelationID: req.CorrelationID, Status: http.StatusBadGateway}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		f.logger.Debug("failed to read local response body", zap.Error(err))
		return protocol.HTTPResponse{CorrelationID: req.CorrelationID, Status: http.StatusBadGateway}
	}

	return protocol.HTTPResponse{
		CorrelationID: req.CorrelationID,
		Status:        resp.StatusCode,
		Headers:       stripHopByHop(resp.Header),
		Body:          body,
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
