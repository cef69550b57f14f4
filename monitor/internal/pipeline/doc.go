// Package pipeline wires the monitor's stages together and enforces the
// ordering model: one single-threaded worker per device consumes that
// device's samples in arrival order, while devices run fully in parallel
// with no shared accumulator state. A completed cycle flows through feature
// extraction, SoH scoring, and alert evaluation before the next cycle's
// samples are processed, so per-device completion order matches arrival
// order. Shutdown flushes every open accumulator before the workers exit.
package pipeline
