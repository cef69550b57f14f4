// Package api serves the read-only REST surface of the monitor: fleet
// health, per-device SoH history, degradation forecasts, and recent alerts,
// all backed by the in-memory cycle store.
package api
