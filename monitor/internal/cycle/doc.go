// Package cycle implements the stateful heart of the monitor: the per-device
// cycle aggregator and the feature extractor. The aggregator consumes an
// ordered stream of telemetry samples, infers cycle boundaries from changes
// of the cycle_id field, and rolls up per-cycle running statistics. The
// extractor converts a closed accumulator into the fixed feature vector the
// SoH model expects.
package cycle
