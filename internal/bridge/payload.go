package bridge

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/terpasaurus/pulse-bridge/internal/buildinfo"
	"github.com/terpasaurus/pulse-bridge/internal/pulse"
)

// manufacturer appears on every device page in Home Assistant.
const manufacturer = "Pulse Labs, Inc."

// Origin identifies the software that produced a discovery message, so
// HA logs have context about the source of retained config payloads.
type Origin struct {
	Name       string `json:"name"`
	SWVersion  string `json:"sw_version"`
	SupportURL string `json:"support_url,omitempty"`
}

// DeviceInfo is the HA device registry block shared by all components
// of one physical device.
type DeviceInfo struct {
	Identifiers  []string   `json:"identifiers"`
	Name         string     `json:"name"`
	Manufacturer string     `json:"manufacturer"`
	Model        string     `json:"model"`
	ModelID      string     `json:"model_id,omitempty"`
	ViaDevice    string     `json:"via_device,omitempty"`
	Connections  [][]string `json:"connections,omitempty"`
}

// Component is one entity within a device-based discovery payload.
type Component struct {
	Platform          string `json:"platform"`
	Name              string `json:"name"`
	UniqueID          string `json:"unique_id"`
	ObjectID          string `json:"object_id,omitempty"`
	StateTopic        string `json:"state_topic"`
	UnitOfMeasurement string `json:"unit_of_measurement,omitempty"`
	DeviceClass       string `json:"device_class,omitempty"`
	ValueTemplate     string `json:"value_template,omitempty"`
}

// DiscoveryPayload is a device-based HA MQTT discovery message: one
// device block plus all of its component entities. Marshaling is
// deterministic (struct field order plus sorted map keys), so
// identical input data always produces byte-identical payloads and
// republishing is an idempotent update.
type DiscoveryPayload struct {
	Origin     Origin               `json:"origin"`
	Device     DeviceInfo           `json:"device"`
	Components map[string]Component `json:"components"`
}

// Message is one MQTT message ready to hand to the publisher.
type Message struct {
	Topic   string
	Payload []byte
	Retain  bool
}

// Builder maps Pulse API records to discovery and state messages. All
// methods are pure: no I/O, no retained state, deterministic output.
type Builder struct {
	discoveryPrefix string
	statePrefix     string
	origin          Origin
}

// NewBuilder creates a Builder. Both prefixes must be non-empty; the
// conventional values are "homeassistant" and "pulseapp".
func NewBuilder(discoveryPrefix, statePrefix string) *Builder {
	return &Builder{
		discoveryPrefix: discoveryPrefix,
		statePrefix:     statePrefix,
		origin: Origin{
			Name:       "Pulse Bridge",
			SWVersion:  buildinfo.Version,
			SupportURL: "https://github.com/terpasaurus/pulse-bridge",
		},
	}
}

// HubDescriptor builds the retained discovery message for a hub. The
// hub is registered as a device with its MAC connection and a single
// binary_sensor component reflecting bridge-side liveness.
func (b *Builder) HubDescriptor(hub *pulse.Hub) (Message, error) {
	uid := HubUniqueID(hub.ID)

	payload := DiscoveryPayload{
		Origin: b.origin,
		Device: DeviceInfo{
			Identifiers:  []string{uid},
			Name:         hub.Name,
			Manufacturer: manufacturer,
			Model:        "Pulse Hub",
			ModelID:      "Hub",
			Connections:  [][]string{{"mac", FormatMAC(hub.MACAddress)}},
		},
		Components: map[string]Component{
			uid + "_status": {
				Platform:   "binary_sensor",
				Name:       hub.Name,
				UniqueID:   uid + "_status",
				StateTopic: StateTopic(b.statePrefix, uid, "status"),
			},
		},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal hub %d descriptor: %w", hub.ID, err)
	}
	return Message{
		Topic:   ConfigTopic(b.discoveryPrefix, uid),
		Payload: data,
		Retain:  true,
	}, nil
}

// SensorDescriptor builds the retained discovery message for one
// sensor device. The latest reading supplies the set of measurement
// parameters, which become the device's sensor components. The sensor
// is linked to its hub through via_device.
func (b *Builder) SensorDescriptor(hub *pulse.Hub, dev pulse.SensorDevice, data *pulse.LatestSensorData) (Message, error) {
	uid := SensorUniqueID(data.SensorType, dev.ID)

	components := make(map[string]Component, len(data.DataPoint.DataPointValues))
	for _, m := range data.DataPoint.DataPointValues {
		compID := uid + "_" + NormalizeParam(m.ParamName)
		components[compID] = Component{
			Platform:          "sensor",
			Name:              m.ParamName,
			UniqueID:          compID,
			ObjectID:          compID,
			StateTopic:        StateTopic(b.statePrefix, uid, m.ParamName),
			UnitOfMeasurement: m.MeasuringUnit,
			DeviceClass:       pulse.DeviceClassForParam(m.ParamName),
			ValueTemplate:     "{{ value_json.value }}",
		}
	}

	payload := DiscoveryPayload{
		Origin: b.origin,
		Device: DeviceInfo{
			Identifiers:  []string{uid},
			Name:         data.Name,
			Manufacturer: manufacturer,
			Model:        "Pulse " + data.SensorType.String() + " Sensor",
			ModelID:      data.SensorType.String(),
			ViaDevice:    HubUniqueID(hub.ID),
		},
		Components: components,
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal sensor %d descriptor: %w", dev.ID, err)
	}
	return Message{
		Topic:   ConfigTopic(b.discoveryPrefix, uid),
		Payload: raw,
		Retain:  true,
	}, nil
}

// statePayload is the JSON body published per measurement. The
// discovery components extract Value via their value_template; Unit
// and MeasuredAt carry provenance for anyone reading the raw topic.
type statePayload struct {
	Value      float64 `json:"value"`
	Unit       string  `json:"unit"`
	MeasuredAt string  `json:"measured_at"`
}

// StateMessages maps one sensor reading to its per-measurement state
// messages, one per parameter.
func (b *Builder) StateMessages(sensorID int, data *pulse.LatestSensorData) ([]Message, error) {
	uid := SensorUniqueID(data.SensorType, sensorID)
	measuredAt := data.DataPoint.CreatedAt.UTC().Format(time.RFC3339)

	msgs := make([]Message, 0, len(data.DataPoint.DataPointValues))
	for _, m := range data.DataPoint.DataPointValues {
		raw, err := json.Marshal(statePayload{
			Value:      m.ParamValue,
			Unit:       m.MeasuringUnit,
			MeasuredAt: measuredAt,
		})
		if err != nil {
			return nil, fmt.Errorf("marshal state for sensor %d param %q: %w", sensorID, m.ParamName, err)
		}
		msgs = append(msgs, Message{
			Topic:   StateTopic(b.statePrefix, uid, m.ParamName),
			Payload: raw,
			Retain:  true,
		})
	}
	return msgs, nil
}

// HubStatusMessage returns the liveness message for a hub's
// binary_sensor component. The state job publishes it every cycle.
func (b *Builder) HubStatusMessage(hubID int) Message {
	uid := HubUniqueID(hubID)
	return Message{
		Topic:   StateTopic(b.statePrefix, uid, "status"),
		Payload: []byte("ON"),
		Retain:  true,
	}
}
