// Package ingest validates raw telemetry payloads and feeds them into the
// pipeline from the MQTT telemetry topic. Malformed payloads are dropped,
// counted, and logged — they never reach the aggregator and never stop the
// stream.
package ingest
