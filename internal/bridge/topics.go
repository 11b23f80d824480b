package bridge

import (
	"strconv"
	"strings"

	"github.com/terpasaurus/pulse-bridge/internal/pulse"
)

// uniqueIDPrefix namespaces every unique ID this bridge mints, keeping
// them collision-free against other Home Assistant integrations.
const uniqueIDPrefix = "pulseapp"

// NormalizeParam converts a Pulse parameter name ("Water Content") to
// the token used in topic paths and value templates ("water_content").
func NormalizeParam(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, " ", "_"))
}

// HubUniqueID returns the deterministic unique ID for a hub. Repeated
// discovery publishes for the same hub always carry the same ID, so
// Home Assistant updates the existing device instead of duplicating it.
func HubUniqueID(hubID int) string {
	return uniqueIDPrefix + "_hub_" + strconv.Itoa(hubID)
}

// SensorUniqueID returns the deterministic unique ID for a sensor
// device, derived from its type and vendor-assigned ID.
func SensorUniqueID(t pulse.SensorType, sensorID int) string {
	return uniqueIDPrefix + "_" + t.Slug() + "_" + strconv.Itoa(sensorID)
}

// ConfigTopic returns the HA device discovery topic for a unique ID.
func ConfigTopic(discoveryPrefix, uniqueID string) string {
	return discoveryPrefix + "/device/" + uniqueID + "/config"
}

// StateTopic returns the topic carrying one measurement's current
// value. It is a pure function of the unique ID and parameter name.
func StateTopic(statePrefix, uniqueID, paramName string) string {
	return statePrefix + "/" + uniqueID + "/" + NormalizeParam(paramName)
}

// FormatMAC renders a bare MAC string from the API ("AABBCCDDEEFF") in
// the colon-separated form Home Assistant expects for device
// connections. Strings that already contain separators are returned
// unchanged.
func FormatMAC(raw string) string {
	if strings.ContainsAny(raw, ":-") {
		return raw
	}
	var b strings.Builder
	for i := 0; i < len(raw); i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		end := i + 2
		if end > len(raw) {
			end = len(raw)
		}
		b.WriteString(raw[i:end])
	}
	return b.String()
}
