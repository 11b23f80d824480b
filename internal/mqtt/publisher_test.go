package mqtt

import (
	"testing"

	"github.com/terpasaurus/pulse-bridge/internal/config"
)

func TestAvailabilityTopic(t *testing.T) {
	p := New(config.MQTTConfig{
		DeviceName:  "pulse-bridge",
		StatePrefix: "pulseapp",
	}, "", nil)

	if got := p.AvailabilityTopic(); got != "pulseapp/pulse-bridge/availability" {
		t.Errorf("AvailabilityTopic() = %q", got)
	}
}

func TestClientID(t *testing.T) {
	tests := []struct {
		name       string
		instanceID string
		want       string
	}{
		{"uuid", "0198b4c2-1111-7000-8000-aabbccddeeff", "pulse-bridge-0198b4c2"},
		{"no dashes", "deadbeef", "pulse-bridge-deadbeef"},
		{"empty", "", "pulse-bridge"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(config.MQTTConfig{DeviceName: "pulse-bridge"}, tt.instanceID, nil)
			if got := p.clientID(); got != tt.want {
				t.Errorf("clientID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStartRejectsBadBrokerURL(t *testing.T) {
	p := New(config.MQTTConfig{Broker: "://not-a-url"}, "", nil)
	if err := p.Start(t.Context()); err == nil {
		t.Fatal("Start() should reject an unparseable broker URL")
	}
}

func TestPublishBeforeStart(t *testing.T) {
	p := New(config.MQTTConfig{}, "", nil)
	if err := p.Publish(t.Context(), "t", nil, false); err == nil {
		t.Fatal("Publish() before Start() should error")
	}
}
