package bridge

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/terpasaurus/pulse-bridge/internal/pulse"
)

// mockAPI serves canned hub and sensor data, with per-ID error
// injection for failure isolation tests.
type mockAPI struct {
	hubIDs    []int
	hubIDsErr error
	hubs      map[int]*pulse.Hub
	hubErrs   map[int]error
	data      map[int]*pulse.LatestSensorData
	dataErrs  map[int]error
}

func (m *mockAPI) HubIDs(_ context.Context) ([]int, error) {
	if m.hubIDsErr != nil {
		return nil, m.hubIDsErr
	}
	return m.hubIDs, nil
}

func (m *mockAPI) Hub(_ context.Context, hubID int) (*pulse.Hub, error) {
	if err := m.hubErrs[hubID]; err != nil {
		return nil, err
	}
	hub, ok := m.hubs[hubID]
	if !ok {
		return nil, pulse.ErrNotFound
	}
	return hub, nil
}

func (m *mockAPI) SensorRecentData(_ context.Context, sensorID int) (*pulse.LatestSensorData, error) {
	if err := m.dataErrs[sensorID]; err != nil {
		return nil, err
	}
	data, ok := m.data[sensorID]
	if !ok {
		return nil, pulse.ErrNotFound
	}
	return data, nil
}

type publishedMsg struct {
	topic   string
	payload []byte
	retain  bool
}

// mockPublisher records every publish.
type mockPublisher struct {
	mu   sync.Mutex
	msgs []publishedMsg
}

func (m *mockPublisher) Publish(_ context.Context, topic string, payload []byte, retain bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(payload))
	copy(cp, payload)
	m.msgs = append(m.msgs, publishedMsg{topic, cp, retain})
	return nil
}

func (m *mockPublisher) published() []publishedMsg {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]publishedMsg, len(m.msgs))
	copy(cp, m.msgs)
	return cp
}

func (m *mockPublisher) byTopic() map[string][]byte {
	out := make(map[string][]byte)
	for _, msg := range m.published() {
		out[msg.topic] = msg.payload
	}
	return out
}

func reading(sensorType pulse.SensorType, sensorID int, params ...string) *pulse.LatestSensorData {
	values := make([]pulse.DataPointValue, len(params))
	for i, p := range params {
		values[i] = pulse.DataPointValue{ParamName: p, ParamValue: float64(i) + 0.5, MeasuringUnit: "u"}
	}
	return &pulse.LatestSensorData{
		SensorType: sensorType,
		DeviceType: pulse.DeviceSensor,
		Name:       "sensor",
		DataPoint: pulse.DataPoint{
			SensorID:        sensorID,
			CreatedAt:       pulse.Timestamp{Time: time.Date(2026, 8, 20, 14, 30, 0, 0, time.UTC)},
			DataPointValues: values,
		},
	}
}

func discoveryFixture() (*mockAPI, *mockPublisher, *Registry, *Discovery) {
	api := &mockAPI{
		hubIDs: []int{42},
		hubs: map[int]*pulse.Hub{
			42: {
				ID: 42, Name: "Veg Room Hub", MACAddress: "AABBCCDDEEFF",
				SensorDevices: []pulse.SensorDevice{
					{HubID: 42, ID: 900, SensorType: pulse.SensorTHV1},
					{HubID: 42, ID: 901, SensorType: pulse.SensorVWC1},
				},
			},
		},
		data: map[int]*pulse.LatestSensorData{
			900: reading(pulse.SensorTHV1, 900, "Temperature", "Humidity"),
			901: reading(pulse.SensorVWC1, 901, "Water Content"),
		},
	}
	pub := &mockPublisher{}
	reg := NewRegistry()
	d := NewDiscovery(DiscoveryConfig{
		API:       api,
		Publisher: pub,
		Registry:  reg,
		Builder:   NewBuilder("homeassistant", "pulseapp"),
		Interval:  time.Hour, // won't tick in tests
	})
	return api, pub, reg, d
}

func TestDiscovery_PublishesHubPlusSensors(t *testing.T) {
	// A hub with N sensors yields exactly N+1 descriptors.
	_, pub, reg, d := discoveryFixture()

	d.RunCycle(context.Background())

	msgs := pub.published()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 descriptors (hub + 2 sensors), got %d", len(msgs))
	}
	for _, msg := range msgs {
		if !msg.retain {
			t.Errorf("descriptor on %s not retained", msg.topic)
		}
		if !strings.HasSuffix(msg.topic, "/config") {
			t.Errorf("unexpected topic %q", msg.topic)
		}
	}

	topics := pub.byTopic()
	for _, want := range []string{
		"homeassistant/device/pulseapp_hub_42/config",
		"homeassistant/device/pulseapp_thv1_900/config",
		"homeassistant/device/pulseapp_vwc1_901/config",
	} {
		if _, ok := topics[want]; !ok {
			t.Errorf("missing descriptor on %q", want)
		}
	}

	if reg.Len() != 1 {
		t.Errorf("registry has %d hubs, want 1", reg.Len())
	}
}

func TestDiscovery_RepublishIsByteIdentical(t *testing.T) {
	_, pub, _, d := discoveryFixture()

	d.RunCycle(context.Background())
	first := pub.byTopic()

	d.RunCycle(context.Background())
	msgs := pub.published()

	// Second cycle republished each topic with identical bytes.
	for _, msg := range msgs[3:] {
		if !bytes.Equal(first[msg.topic], msg.payload) {
			t.Errorf("republish on %s changed payload:\n%s\n%s",
				msg.topic, first[msg.topic], msg.payload)
		}
	}
}

func TestDiscovery_SensorFailureIsolated(t *testing.T) {
	api, pub, reg, d := discoveryFixture()
	api.dataErrs = map[int]error{900: pulse.ErrUnauthorized}

	d.RunCycle(context.Background())

	topics := pub.byTopic()
	if _, ok := topics["homeassistant/device/pulseapp_thv1_900/config"]; ok {
		t.Error("failed sensor should not have been published")
	}
	if _, ok := topics["homeassistant/device/pulseapp_vwc1_901/config"]; !ok {
		t.Error("healthy sensor missing: one sensor's failure blocked another")
	}
	if _, ok := topics["homeassistant/device/pulseapp_hub_42/config"]; !ok {
		t.Error("hub descriptor missing")
	}
	// The hub is still registered so the state job can retry.
	if reg.Len() != 1 {
		t.Errorf("registry has %d hubs, want 1", reg.Len())
	}
}

func TestDiscovery_HubFailureIsolated(t *testing.T) {
	api, pub, _, d := discoveryFixture()
	api.hubIDs = []int{41, 42}
	api.hubErrs = map[int]error{41: pulse.ErrUnauthorized}

	d.RunCycle(context.Background())

	topics := pub.byTopic()
	if _, ok := topics["homeassistant/device/pulseapp_hub_42/config"]; !ok {
		t.Error("healthy hub missing: one hub's failure blocked another")
	}
}

func TestDiscovery_ListFailureSkipsCycle(t *testing.T) {
	api, pub, _, d := discoveryFixture()
	api.hubIDsErr = pulse.ErrUnauthorized

	d.RunCycle(context.Background())

	if n := len(pub.published()); n != 0 {
		t.Errorf("expected no publishes when listing fails, got %d", n)
	}
}
