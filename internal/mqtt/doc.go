// Package mqtt manages the broker connection for the bridge.
//
// It uses Eclipse Paho v2's [autopaho] package for connection
// management with automatic reconnection. A will message ensures the
// bridge's availability topic transitions to "offline" on unexpected
// disconnects, and a birth message ("online") is published on every
// (re-)connect. The polling jobs publish through [Publisher.Publish];
// an optional OnConnect hook lets the discovery job republish its
// retained descriptors after a reconnect, in case the broker lost its
// retained state.
package mqtt
