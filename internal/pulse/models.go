// Package pulse is a client for the Pulse Grow cloud REST API. It
// fetches the account's hub inventory and the most recent readings for
// each attached sensor device.
package pulse

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DeviceType identifies the hardware family of a Pulse device, as
// defined by the Pulse API.
type DeviceType int

const (
	DevicePulseOne  DeviceType = 0
	DevicePulsePro  DeviceType = 1
	DeviceHub       DeviceType = 2
	DeviceSensor    DeviceType = 3
	DeviceControl   DeviceType = 4
	DevicePulseZero DeviceType = 5
	DeviceUnknown   DeviceType = -1
)

var deviceTypeNames = map[DeviceType]string{
	DevicePulseOne:  "Pulse One",
	DevicePulsePro:  "Pulse Pro",
	DeviceHub:       "Hub",
	DeviceSensor:    "Sensor",
	DeviceControl:   "Control",
	DevicePulseZero: "Pulse Zero",
	DeviceUnknown:   "Unknown",
}

func (d DeviceType) String() string {
	if name, ok := deviceTypeNames[d]; ok {
		return name
	}
	return fmt.Sprintf("DeviceType(%d)", int(d))
}

// UnmarshalJSON maps numeric values the API may add in the future to
// DeviceUnknown rather than failing the whole record.
func (d *DeviceType) UnmarshalJSON(data []byte) error {
	var v int
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if _, ok := deviceTypeNames[DeviceType(v)]; !ok {
		*d = DeviceUnknown
		return nil
	}
	*d = DeviceType(v)
	return nil
}

// SensorType identifies the sensor model attached to a hub port, as
// defined by the Pulse API. Several values are educated guesses — the
// API docs only enumerate a subset, and the three VWC variants map to
// different soil moisture probes (Acclima, Terralink, TEROS 12).
type SensorType int

const (
	SensorHub   SensorType = 0  // the hub itself
	SensorVWC1  SensorType = 1  // Acclima TDR 310W soil moisture
	SensorTHV1  SensorType = 2  // temperature / humidity / VPD
	SensorPH10  SensorType = 3  // pH
	SensorEC1   SensorType = 4  // electrical conductivity
	SensorVWC12 SensorType = 5  // TEROS 12 retrofit soil moisture
	SensorPAR1  SensorType = 8  // PAR light
	SensorVWC2  SensorType = 9  // Terralink soil moisture
	SensorORP1  SensorType = 10 // redox potential
	SensorTHC1  SensorType = 11 // CO2 / temperature / humidity / lux
	SensorTDO1  SensorType = 12 // dissolved oxygen
	SensorVWC3  SensorType = 13 // Terralink retrofit soil moisture

	SensorUnknown SensorType = -1
)

var sensorTypeNames = map[SensorType]string{
	SensorHub:     "HUB",
	SensorVWC1:    "VWC1",
	SensorTHV1:    "THV1",
	SensorPH10:    "PH10",
	SensorEC1:     "EC1",
	SensorVWC12:   "VWC12",
	SensorPAR1:    "PAR1",
	SensorVWC2:    "VWC2",
	SensorORP1:    "ORP1",
	SensorTHC1:    "THC1",
	SensorTDO1:    "TDO1",
	SensorVWC3:    "VWC3",
	SensorUnknown: "UNKNOWN",
}

func (s SensorType) String() string {
	if name, ok := sensorTypeNames[s]; ok {
		return name
	}
	return fmt.Sprintf("SensorType(%d)", int(s))
}

// Slug returns the lowercase type name used in device unique IDs and
// topic paths (e.g. "thv1").
func (s SensorType) Slug() string {
	return strings.ToLower(s.String())
}

// UnmarshalJSON maps unrecognized numeric values to SensorUnknown so a
// new sensor model on the account doesn't break decoding.
func (s *SensorType) UnmarshalJSON(data []byte) error {
	var v int
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if _, ok := sensorTypeNames[SensorType(v)]; !ok {
		*s = SensorUnknown
		return nil
	}
	*s = SensorType(v)
	return nil
}

// Timestamp wraps time.Time to accept the API's timestamp format,
// which omits the timezone offset on some endpoints. Naive timestamps
// are interpreted as UTC.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}

// DataPointValue is a single measurement within a sensor reading.
type DataPointValue struct {
	ParamName     string  `json:"ParamName"`
	ParamValue    float64 `json:"ParamValue"`
	MeasuringUnit string  `json:"MeasuringUnit"`
}

// TriggeredThreshold is an active or resolved alert attached to a
// reading. The bridge does not publish these yet; they are decoded so
// a future alarm entity can surface them.
type TriggeredThreshold struct {
	ID                 int        `json:"id"`
	CreatedAt          Timestamp  `json:"createdAt"`
	ResolvedAt         *Timestamp `json:"resolvedAt"`
	Resolved           bool       `json:"resolved"`
	ThresholdID        int        `json:"thresholdId"`
	DeviceID           int        `json:"deviceId"`
	DeviceName         string     `json:"deviceName"`
	LowOrHigh          bool       `json:"lowOrHigh"`
	LowThresholdValue  float64    `json:"lowThresholdValue"`
	HighThresholdValue float64    `json:"highThresholdValue"`
	TriggeringValue    string     `json:"triggeringValue"`
}

// DataPoint is the most recent set of measurements for one sensor.
type DataPoint struct {
	DataPointValues     []DataPointValue     `json:"dataPointValues"`
	TriggeredThresholds []TriggeredThreshold `json:"triggeredThresholds"`
	SensorID            int                  `json:"sensorId"`
	CreatedAt           Timestamp            `json:"createdAt"`
}

// LatestSensorData is the response from GET /sensors/{id}/recent-data.
type LatestSensorData struct {
	SensorType SensorType `json:"sensorType"`
	DeviceType DeviceType `json:"deviceType"`
	Name       string     `json:"name"`
	DataPoint  DataPoint  `json:"dataPointDto"`
}

// HubThreshold is an alert rule configured on a hub.
type HubThreshold struct {
	HubID              int      `json:"hubId"`
	ThresholdType      int      `json:"thresholdType"`
	ID                 int      `json:"id"`
	NotificationActive bool     `json:"notificationActive"`
	LowThresholdValue  *float64 `json:"lowThresholdValue"`
	HighThresholdValue *float64 `json:"highThresholdValue"`
	Delay              string   `json:"delay"` // "00:03:00"
	Day                *string  `json:"day"`
}

// SensorDevice is a sensor attached to a hub, as listed in the hub
// details response.
type SensorDevice struct {
	HubID            int        `json:"hubId"`
	ParSensorSubtype *string    `json:"parSensorSubtype"`
	DeviceType       DeviceType `json:"deviceType"`
	SensorType       SensorType `json:"sensorType"`
	ID               int        `json:"id"`
	DisplayOrder     int        `json:"displayOrder"`
	Name             string     `json:"name"`
	GrowID           int        `json:"growId"`
	Hidden           bool       `json:"hidden"`
}

// Hub is the response from GET /hubs/{id}: one gateway device and its
// attached sensors.
type Hub struct {
	ID            int            `json:"id"`
	Name          string         `json:"name"`
	HubThresholds []HubThreshold `json:"hubThresholds"`
	Hidden        bool           `json:"hidden"`
	MACAddress    string         `json:"macAddress"`
	GrowID        int            `json:"growId"`
	SensorDevices []SensorDevice `json:"sensorDevices"`
}

// DeviceClassForParam maps a Pulse measurement parameter name to the
// matching Home Assistant sensor device class, or "" when HA has no
// compatible class (the entity then renders without one).
func DeviceClassForParam(paramName string) string {
	switch paramName {
	case "Humidity":
		return "humidity"
	case "Temperature":
		return "temperature"
	case "Water Content":
		return "moisture"
	case "VPD":
		return "pressure"
	default:
		return ""
	}
}
