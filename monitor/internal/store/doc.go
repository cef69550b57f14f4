// Package store keeps the in-memory SoH history the REST API and websocket
// feed serve from. History is capped per device and idle devices are evicted
// by a background TTL loop; durable persistence is a downstream consumer's
// concern, not the monitor's.
package store
