package reconnect

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hass-tunnel/ha-tunnel/internal/client/connector"
)

func TestSupervisor_JitterStaysWithinBounds(t *testing.T) {
	s := &Supervisor{logger: zap.NewNop(), rand: rand.New(rand.NewSource(1))}

	base := 10 * time.Second
	for i := 0; i < 1000; i++ {
		got := s.jitter(base)
		if got < 8*time.Second || got > 12*time.Second {
			t.Fatalf("jitter(%v) = %v, out of ±20%% bounds", base, got)
		}
	}
}

func TestSupervisor_JitterNeverNegative(t *testing.T) {
	s := &Supervisor{logger: zap.NewNop(), rand: rand.New(rand.NewSource(2))}
	if got := s.jitter(0); got < 0 {
		t.Errorf("jitter(0) = %v, want >= 0", got)
	}
}

func TestIsFatalMisconfiguration(t *testing.T) {
	cases := []struct {
		outcome connector.Outcome
		want    bool
	}{
		{connector.OutcomeBadSecret, true},
		{connector.OutcomeUnsupportedVersion, true},
		{connector.OutcomeTransportError, false},
		{connector.OutcomeServerClosed, false},
		{connector.OutcomeHeartbeatTimeout, false},
	}
	for _, tc := range cases {
		if got := isFatalMisconfiguration(tc.outcome); got != tc.want {
			t.Errorf("isFatalMisconfiguration(%v) = %v, want %v", tc.outcome, got, tc.want)
		}
	}
}

func TestSupervisor_RunReturnsWhenContextAlreadyCanceled(t *testing.T) {
	conn := connector.New("ws://127.0.0.1:1/tunnel", "client", "secret", nil, time.Minute, zap.NewNop())
	s := New(conn, time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() { s.Run(ctx); close(done) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return promptly when ctx already canceled")
	}
}
