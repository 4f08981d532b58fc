package forwarder

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hass-tunnel/ha-tunnel/internal/protocol"
)

func waitFor(t *testing.T, ch <-chan protocol.HTTPResponse) protocol.HTTPResponse {
	t.Helper()
	select {
	case resp := <-ch:
		return resp
	case <-time.After(2 * time.Second):
		t.Fatal("onDone not called within 2s")
		return protocol.HTTPResponse{}
	}
}

func TestSubmit_HappyPath(t *testing.T) {
	ha := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Connection") != "" {
			t.Errorf("hop-by-hop header leaked into local request")
		}
		w.Header().Set("X-Custom", "yes")
		w.WriteHeader(201)
		w.Write([]byte("created"))
	}))
	defer ha.Close()

	f := New(ha.URL, time.Second, 4, 4, zap.NewNop())
	defer f.Close()

	respCh := make(chan protocol.HTTPResponse, 1)
	ok := f.Submit(protocol.HTTPRequest{
		Method:  "GET",
		Path:    "/api/states",
		Headers: []protocol.Header{{Name: "Connection", Value: "keep-alive"}},
	}, func(r protocol.HTTPResponse) { respCh <- r })
	if !ok {
		t.Fatal("Submit() = false, want true")
	}

	resp := waitFor(t, respCh)
	if resp.Status != 201 || string(resp.Body) != "created" {
		t.Errorf("resp = %+v", resp)
	}
	found := false
	for _, hd := range resp.Headers {
		if hd.Name == "X-Custom" && hd.Value == "yes" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected X-Custom header to survive, headers=%+v", resp.Headers)
	}
}

func TestSubmit_TimeoutYields504(t *testing.T) {
	ha := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(200)
	}))
	defer ha.Close()

	f := New(ha.URL, 20*time.Millisecond, 4, 4, zap.NewNop())
	defer f.Close()

	respCh := make(chan protocol.HTTPResponse, 1)
	f.Submit(protocol.HTTPRequest{Method: "GET", Path: "/"}, func(r protocol.HTTPResponse) { respCh <- r })

	resp := waitFor(t, respCh)
	if resp.Status != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", resp.Status)
	}
}

func TestSubmit_ConnectFailureYields502(t *testing.T) {
	f := New("http://127.0.0.1:1", time.Second, 4, 4, zap.NewNop())
	defer f.Close()

	respCh := make(chan protocol.HTTPResponse, 1)
	f.Submit(protocol.HTTPRequest{Method: "GET", Path: "/"}, func(r protocol.HTTPResponse) { respCh <- r })

	resp := waitFor(t, respCh)
	if resp.Status != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.Status)
	}
}

func TestSubmit_ConcurrencyCapFailsFast(t *testing.T) {
	release := make(chan struct{})
	ha := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(200)
	}))
	defer ha.Close()

	f := New(ha.URL, 5*time.Second, 1, 1, zap.NewNop())
	defer func() { close(release); f.Close() }()

	var wg sync.WaitGroup
	results := make([]bool, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.Submit(protocol.HTTPRequest{Method: "GET", Path: "/"}, func(protocol.HTTPResponse) {})
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, ok := range results {
		if ok {
			accepted++
		}
	}
	if accepted >= 4 {
		t.Errorf("accepted = %d of 4, want at least one rejection once pool+queue saturate", accepted)
	}
}

func TestSubmit_SourceIPSetsForwardedHeaders(t *testing.T) {
	var gotXFF, gotXRI string
	ha := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotXFF = r.Header.Get("X-Forwarded-For")
		gotXRI = r.Header.Get("X-Real-IP")
		w.WriteHeader(200)
	}))
	defer ha.Close()

	f := New(ha.URL, time.Second, 4, 4, zap.NewNop())
	defer f.Close()

	respCh := make(chan protocol.HTTPResponse, 1)
	f.Submit(protocol.HTTPRequest{Method: "GET", Path: "/", SourceIP: "203.0.113.9"}, func(r protocol.HTTPResponse) { respCh <- r })
	waitFor(t, respCh)

	if gotXFF != "203.0.113.9" || gotXRI != "203.0.113.9" {
		t.Errorf("X-Forwarded-For=%q X-Real-IP=%q, want 203.0.113.9", gotXFF, gotXRI)
	}
}
