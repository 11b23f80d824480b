package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/terpasaurus/pulse-bridge/internal/config"
)

// Publisher manages the MQTT connection and exposes a retained-publish
// primitive to the polling jobs. It publishes availability birth/will
// messages and invokes the OnConnect hook on every (re-)connect.
type Publisher struct {
	cfg        config.MQTTConfig
	instanceID string
	logger     *slog.Logger
	onUp       func(ctx context.Context)
	cm         *autopaho.ConnectionManager
}

// New creates a Publisher but does not connect. Call [Publisher.Start]
// to begin the connection. instanceID (see [LoadOrCreateInstanceID])
// keeps the broker client ID stable and unique per install.
func New(cfg config.MQTTConfig, instanceID string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:        cfg,
		instanceID: instanceID,
		logger:     logger,
	}
}

// OnConnect registers a hook invoked after every successful broker
// (re-)connection, after the availability birth message is published.
// Must be called before Start.
func (p *Publisher) OnConnect(f func(ctx context.Context)) {
	p.onUp = f
}

// Start connects to the MQTT broker. It returns once the connection
// manager is running; autopaho keeps retrying in the background if the
// broker is unreachable. The connection lives until ctx is cancelled
// or [Publisher.Stop] is called.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	availTopic := p.AvailabilityTopic()

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   availTopic,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.publishAvailability(ctx, cm, "online")
			if p.onUp != nil {
				p.onUp(ctx)
			}
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: p.clientID(),
		},
	}

	// Enable TLS for mqtts:// or ssl:// schemes.
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm

	// Wait for the initial connection so the first discovery cycle has
	// a live broker to publish to.
	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// Log but don't fail — autopaho will keep retrying in the background.
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	return nil
}

// Stop gracefully disconnects by publishing an "offline" availability
// message before closing the MQTT connection. The provided context
// controls how long to wait for the publish and disconnect to complete.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	p.publishAvailability(ctx, p.cm, "offline")
	return p.cm.Disconnect(ctx)
}

// AwaitConnection blocks until the MQTT broker connection is
// established or ctx expires.
func (p *Publisher) AwaitConnection(ctx context.Context) error {
	if p.cm == nil {
		return fmt.Errorf("mqtt publisher not started")
	}
	return p.cm.AwaitConnection(ctx)
}

// Publish sends one message at QoS 1. Discovery and state messages are
// all retained so Home Assistant can restore them on restart.
func (p *Publisher) Publish(ctx context.Context, topic string, payload []byte, retain bool) error {
	if p.cm == nil {
		return fmt.Errorf("mqtt publisher not started")
	}
	if _, err := p.cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     1,
		Retain:  retain,
	}); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// clientID derives the broker client ID from the device name and the
// first instance ID segment. Two installs sharing a broker must not
// collide, or the broker will cycle their sessions.
func (p *Publisher) clientID() string {
	id := p.instanceID
	if i := strings.IndexByte(id, '-'); i > 0 {
		id = id[:i]
	}
	if id == "" {
		return p.cfg.DeviceName
	}
	return p.cfg.DeviceName + "-" + id
}

// AvailabilityTopic returns the topic carrying the bridge's retained
// online/offline status.
func (p *Publisher) AvailabilityTopic() string {
	return p.cfg.StatePrefix + "/" + p.cfg.DeviceName + "/availability"
}

func (p *Publisher) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   p.AvailabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed",
			"status", status, "error", err)
	} else {
		p.logger.Info("mqtt availability published", "status", status)
	}
}
