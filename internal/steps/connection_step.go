package steps

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sentinel-labs/taskconsumer/internal/broker"
	"github.com/sentinel-labs/taskconsumer/internal/metrics"
)

// ConnectionStep establishes the broker connection with bounded retry
// and failover (spec §4.2). It has no declared dependencies — everything
// else in the graph depends on it.
type ConnectionStep struct{}

func (ConnectionStep) Name() string        { return "connection" }
func (ConnectionStep) Requires() []string  { return nil }
func (ConnectionStep) Last() bool          { return false }
func (ConnectionStep) DelayShutdown() bool { return false }

func (ConnectionStep) Create(parent any) error {
	h := parent.(Host)
	conn := h.NewConnection()
	h.SetConnection(conn)
	return nil
}

// Start blocks until connected or terminally failed (spec §4.2).
func (ConnectionStep) Start(parent any) error {
	h := parent.(Host)
	conn := h.Connection()
	log := h.Logger()
	settings := h.Settings()

	if !settings.BrokerConnectionRetry {
		if err := conn.Connect(); err != nil {
			return fmt.Errorf("steps: connect: %w", err)
		}
		return nil
	}

	policy := broker.RetryPolicy{
		MaxAttempts: settings.BrokerConnectionMaxTries,
		Backoff:     broker.DefaultBackoff(secondsToDuration(1), secondsToDuration(30)),
		OnAttempt:   func() bool { return !h.MaybeShutdown() },
		OnError: func(err error, interval time.Duration, willFailover bool) {
			metrics.ConnectionRetriesTotal.Inc()
			msg := fmt.Sprintf("Trying again in %s...", interval)
			if willFailover {
				msg = "Will retry using next failover..."
			}
			log.Error("consumer: Cannot connect to broker",
				zap.String("uri", conn.AsURI()),
				zap.Error(err),
				zap.String("next_step", msg),
			)
		},
	}

	if err := broker.EnsureConnection(conn, policy); err != nil {
		return fmt.Errorf("steps: ensure connection: %w", err)
	}
	return nil
}

func (ConnectionStep) Stop(parent any) error {
	// Stop is the resumable pause: it deliberately leaves the
	// connection open (spec §9 open question).
	return nil
}

func (ConnectionStep) Shutdown(parent any, force bool) error {
	h := parent.(Host)
	conn := h.Connection()
	if conn == nil {
		return nil
	}
	return conn.Close()
}
