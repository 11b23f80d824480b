package bridge

import (
	"context"
	"log/slog"
	"time"

	"github.com/terpasaurus/pulse-bridge/internal/metrics"
)

// StateConfig configures the sensor state update job.
type StateConfig struct {
	// API provides the latest readings from the Pulse cloud.
	API API

	// Publisher receives the retained state messages.
	Publisher MessagePublisher

	// Registry supplies the hub inventory from the discovery job.
	Registry *Registry

	// Builder maps readings to topics and payloads.
	Builder *Builder

	// Interval is how often a state cycle runs.
	Interval time.Duration

	// Metrics records counters; may be nil.
	Metrics *metrics.Metrics

	// Logger for structured logging.
	Logger *slog.Logger
}

// StateUpdater fetches the latest reading for every discovered sensor
// on a fine interval and publishes one retained message per
// measurement. Missing or partial data for one sensor never blocks the
// others; the next tick is the retry.
type StateUpdater struct {
	cfg StateConfig
}

// NewStateUpdater creates the state update job.
func NewStateUpdater(cfg StateConfig) *StateUpdater {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &StateUpdater{cfg: cfg}
}

// Start runs state cycles until ctx is cancelled. It blocks. The first
// cycle runs immediately; before discovery has populated the registry
// it is a no-op.
func (s *StateUpdater) Start(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunCycle(ctx)
		}
	}
}

// RunCycle executes one state update pass over the discovered hubs.
func (s *StateUpdater) RunCycle(ctx context.Context) {
	start := time.Now()
	defer func() {
		s.cfg.Metrics.ObserveCycle("state", time.Since(start))
	}()

	hubs := s.cfg.Registry.Snapshot()
	if len(hubs) == 0 {
		s.cfg.Logger.Debug("state: no hubs discovered yet, skipping cycle")
		return
	}

	var published int
	for _, hub := range hubs {
		if ctx.Err() != nil {
			return
		}

		msg := s.cfg.Builder.HubStatusMessage(hub.ID)
		if err := s.publish(ctx, msg); err != nil {
			s.cfg.Logger.Warn("state: publishing hub status failed",
				"hub_id", hub.ID, "topic", msg.Topic, "error", err)
		} else {
			published++
		}

		for _, dev := range hub.SensorDevices {
			if ctx.Err() != nil {
				return
			}
			published += s.updateSensor(ctx, dev.ID)
		}
	}

	s.cfg.Logger.Debug("state cycle complete",
		"hubs", len(hubs), "messages", published, "elapsed", time.Since(start).Truncate(time.Millisecond))
}

// updateSensor fetches one sensor's latest reading and publishes its
// measurements. Returns the number of messages published.
func (s *StateUpdater) updateSensor(ctx context.Context, sensorID int) int {
	data, err := s.cfg.API.SensorRecentData(ctx, sensorID)
	if err != nil {
		s.cfg.Metrics.APIRequest("recent-data", "error")
		s.cfg.Logger.Warn("state: fetching sensor data failed, skipping",
			"sensor_id", sensorID, "error", err)
		return 0
	}
	s.cfg.Metrics.APIRequest("recent-data", "ok")

	msgs, err := s.cfg.Builder.StateMessages(sensorID, data)
	if err != nil {
		s.cfg.Logger.Error("state: building state messages failed",
			"sensor_id", sensorID, "error", err)
		return 0
	}

	published := 0
	for _, msg := range msgs {
		if err := s.publish(ctx, msg); err != nil {
			s.cfg.Logger.Warn("state: publish failed",
				"sensor_id", sensorID, "topic", msg.Topic, "error", err)
			continue
		}
		published++
	}
	return published
}

func (s *StateUpdater) publish(ctx context.Context, msg Message) error {
	if err := s.cfg.Publisher.Publish(ctx, msg.Topic, msg.Payload, msg.Retain); err != nil {
		s.cfg.Metrics.PublishError()
		return err
	}
	s.cfg.Metrics.Publish("state")
	return nil
}
