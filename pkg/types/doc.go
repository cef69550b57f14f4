// Package types defines shared Go types used by both the simulator and the
// monitor. These are the canonical in-memory representations of battery
// telemetry and derived health data, separate from the MQTT wire format.
package types
