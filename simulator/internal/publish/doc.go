// Package publish delivers telemetry samples to the MQTT broker, JSON
// encoded, reconnecting with exponential backoff when the connection drops.
package publish
