package bridge

import (
	"context"
	"log/slog"
	"time"

	"github.com/terpasaurus/pulse-bridge/internal/metrics"
	"github.com/terpasaurus/pulse-bridge/internal/pulse"
)

// API is the slice of the Pulse client the jobs consume. Defined here
// so tests can substitute a mock without an HTTP server.
type API interface {
	HubIDs(ctx context.Context) ([]int, error)
	Hub(ctx context.Context, hubID int) (*pulse.Hub, error)
	SensorRecentData(ctx context.Context, sensorID int) (*pulse.LatestSensorData, error)
}

// MessagePublisher is the slice of the MQTT publisher the jobs
// consume. Keeps the bridge package decoupled from the mqtt package.
type MessagePublisher interface {
	Publish(ctx context.Context, topic string, payload []byte, retain bool) error
}

// DiscoveryConfig configures the hub/sensor discovery job.
type DiscoveryConfig struct {
	// API provides hub and sensor data from the Pulse cloud.
	API API

	// Publisher receives the retained discovery messages.
	Publisher MessagePublisher

	// Registry receives the discovered hub inventory for the state job.
	Registry *Registry

	// Builder maps API records to topics and payloads.
	Builder *Builder

	// Interval is how often a discovery cycle runs.
	Interval time.Duration

	// Metrics records counters; may be nil.
	Metrics *metrics.Metrics

	// Logger for structured logging.
	Logger *slog.Logger
}

// Discovery lists the account's hubs and sensors on a coarse interval
// and publishes one retained discovery descriptor per device. Cycles
// are idempotent: identical inventory produces byte-identical retained
// payloads, so republication is a no-op update in Home Assistant.
type Discovery struct {
	cfg DiscoveryConfig
}

// NewDiscovery creates the discovery job.
func NewDiscovery(cfg DiscoveryConfig) *Discovery {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Discovery{cfg: cfg}
}

// Start runs discovery cycles until ctx is cancelled. It blocks. The
// first cycle runs immediately so devices appear without waiting a
// full interval.
func (d *Discovery) Start(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	d.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.RunCycle(ctx)
		}
	}
}

// RunCycle executes one discovery pass. A failure on one hub or sensor
// is logged and skipped; the rest of the inventory is still processed.
// Also invoked by the MQTT on-connect hook so retained descriptors are
// restored after a broker restart.
func (d *Discovery) RunCycle(ctx context.Context) {
	start := time.Now()
	defer func() {
		d.cfg.Metrics.ObserveCycle("discovery", time.Since(start))
	}()

	hubIDs, err := d.cfg.API.HubIDs(ctx)
	if err != nil {
		d.cfg.Metrics.APIRequest("hubs/ids", "error")
		d.cfg.Logger.Warn("discovery: listing hubs failed", "error", err)
		return
	}
	d.cfg.Metrics.APIRequest("hubs/ids", "ok")

	if len(hubIDs) == 0 {
		d.cfg.Logger.Warn("discovery: no hubs on account, nothing to publish")
		return
	}

	var hubs, sensors int
	for _, hubID := range hubIDs {
		if ctx.Err() != nil {
			return
		}
		n, ok := d.discoverHub(ctx, hubID)
		if ok {
			hubs++
			sensors += n
		}
	}

	d.cfg.Logger.Info("discovery cycle complete",
		"hubs", hubs, "sensors", sensors, "elapsed", time.Since(start).Truncate(time.Millisecond))
}

// discoverHub publishes the descriptor for one hub and each of its
// sensors. Returns the number of sensor descriptors published and
// whether the hub itself was processed.
func (d *Discovery) discoverHub(ctx context.Context, hubID int) (int, bool) {
	hub, err := d.cfg.API.Hub(ctx, hubID)
	if err != nil {
		d.cfg.Metrics.APIRequest("hubs", "error")
		d.cfg.Logger.Warn("discovery: fetching hub failed, skipping",
			"hub_id", hubID, "error", err)
		return 0, false
	}
	d.cfg.Metrics.APIRequest("hubs", "ok")

	msg, err := d.cfg.Builder.HubDescriptor(hub)
	if err != nil {
		d.cfg.Logger.Error("discovery: building hub descriptor failed",
			"hub_id", hubID, "error", err)
		return 0, false
	}
	if err := d.publish(ctx, msg); err != nil {
		d.cfg.Logger.Warn("discovery: publishing hub descriptor failed",
			"hub_id", hubID, "topic", msg.Topic, "error", err)
		return 0, false
	}

	// The hub is registered for state updates even if some of its
	// sensors fail below; they'll be retried next cycle.
	d.cfg.Registry.Store(hub)

	published := 0
	for _, dev := range hub.SensorDevices {
		if ctx.Err() != nil {
			return published, true
		}
		if d.discoverSensor(ctx, hub, dev) {
			published++
		}
	}
	return published, true
}

// discoverSensor publishes the descriptor for one sensor device. The
// latest reading supplies the measurement parameters that become the
// device's components.
func (d *Discovery) discoverSensor(ctx context.Context, hub *pulse.Hub, dev pulse.SensorDevice) bool {
	data, err := d.cfg.API.SensorRecentData(ctx, dev.ID)
	if err != nil {
		d.cfg.Metrics.APIRequest("recent-data", "error")
		d.cfg.Logger.Warn("discovery: fetching sensor data failed, skipping",
			"sensor_id", dev.ID, "hub_id", hub.ID, "error", err)
		return false
	}
	d.cfg.Metrics.APIRequest("recent-data", "ok")

	msg, err := d.cfg.Builder.SensorDescriptor(hub, dev, data)
	if err != nil {
		d.cfg.Logger.Error("discovery: building sensor descriptor failed",
			"sensor_id", dev.ID, "error", err)
		return false
	}
	if err := d.publish(ctx, msg); err != nil {
		d.cfg.Logger.Warn("discovery: publishing sensor descriptor failed",
			"sensor_id", dev.ID, "topic", msg.Topic, "error", err)
		return false
	}

	d.cfg.Logger.Debug("discovery: descriptor published",
		"sensor_id", dev.ID, "type", data.SensorType.String(), "topic", msg.Topic)
	return true
}

func (d *Discovery) publish(ctx context.Context, msg Message) error {
	if err := d.cfg.Publisher.Publish(ctx, msg.Topic, msg.Payload, msg.Retain); err != nil {
		d.cfg.Metrics.PublishError()
		return err
	}
	d.cfg.Metrics.Publish("discovery")
	return nil
}
