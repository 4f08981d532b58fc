// Package reconnect implements the client's reconnect supervisor
// (spec.md §4.7): bounded-constant jittered backoff between connection
// attempts, with a longer cooldown after outcomes that mean retrying
// immediately cannot possibly help (a rejected secret or an
// unsupported protocol version).
package reconnect

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/hass-tunnel/ha-tunnel/internal/client/connector"
)

// CooldownMultiplier is the "×6" longer wait spec.md §4.7 requires
// after bad_secret or unsupported_version, rather than retrying at the
// ordinary interval into a connection that cannot succeed.
const CooldownMultiplier = 6

// jitterFraction is the ±20% jitter applied to every wait.
const jitterFraction = 0.2

// Supervisor repeatedly runs a Connector, waiting between attempts.
type Supervisor struct {
	conn     *connector.Connector
	interval time.Duration
	logger   *zap.Logger
	rand     *rand.Rand
}

// New constructs a Supervisor that reconnects conn every interval
// (already clamped to [1,300]s by client config), plus jitter.
func New(conn *connector.Connector, interval time.Duration, logger *zap.Logger) *Supervisor {
	return &Supervisor{
		conn:     conn,
		interval: interval,
		logger:   logger,
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run loops Connector.Run until ctx is canceled, sleeping between
// attempts per the outcome of the previous one.
func (s *Supervisor) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		outcome := s.conn.Run(ctx)
		if outcome == connector.OutcomeShutdown {
			return
		}

		s.logger.Info("tunnel connection ended", zap.String("outcome", string(outcome)))

		wait := s.interval
		if isFatalMisconfiguration(outcome) {
			wait = s.interval * CooldownMultiplier
			s.logger.Warn("cooling down after non-retryable outcome", zap.String("outcome", string(outcome)), zap.Duration("cooldown", wait))
		}

		select {
		case <-time.After(s.jitter(wait)):
		case <-ctx.Done():
			return
		}
	}
}

// jitter returns d adjusted by up to ±jitterFraction, never negative.
func (s *Supervisor) jitter(d time.Duration) time.Duration {
	delta := float64(d) * jitterFraction * (2*s.rand.Float64() - 1)
	adjusted := time.Duration(float64(d) + delta)
	if adjusted < 0 {
		return 0
	}
	return adjusted
}

func isFatalMisconfiguration(o connector.Outcome) bool {
	return o == connector.OutcomeBadSecret || o == connector.OutcomeUnsupportedVersion
}
