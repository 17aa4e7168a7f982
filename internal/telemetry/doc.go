// Package telemetry publishes Home Assistant MQTT discovery messages and
// build-event state updates so a buildbridge server appears as a native HA
// device with availability tracking.
//
// The publisher uses Eclipse Paho v2's autopaho package for connection
// management with automatic reconnection. On every (re-)connect it
// publishes retained discovery config payloads for each sensor entity and
// a birth message ("online") to the availability topic. A will message
// ensures the availability topic transitions to "offline" on unexpected
// disconnects.
//
// Telemetry subscribes to the dispatcher's event stream the same way any
// other client does — by submitting a ListenToEvents request through the
// RequestQueue and draining the resulting dispatch.Client's event channel.
// It never calls back into the dispatcher.
package telemetry
