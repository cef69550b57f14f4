package types

import "time"

// Severity levels carried by an AlertDecision.
const (
	SeverityNone    = "none"
	SeverityWarning = "warning"
)

// TelemetrySample is one validated battery reading. Timestamps are float64
// seconds on the device's own clock (the wire field is `timestamp_s`);
// within a cycle they are expected, but not guaranteed, to be monotonic.
// A sample is immutable once created.
type TelemetrySample struct {
	DeviceID           string
	CycleID            int64
	TimestampS         float64
	Voltage            float64
	Current            float64
	Temperature        float64
	InternalResistance float64
}

// CycleFeatures is the fixed feature vector derived from one completed
// discharge cycle — the exact inputs the SoH model was trained on.
type CycleFeatures struct {
	// AvgResistance is the mean internal resistance over the cycle, in ohms.
	AvgResistance float64 `json:"avg_resistance"`

	// AvgVoltage is the mean terminal voltage over the cycle, in volts.
	AvgVoltage float64 `json:"avg_voltage"`

	// DurationS is last timestamp minus first timestamp, in seconds.
	// Never negative: non-monotonic streams are clamped to 0.
	DurationS float64 `json:"duration_s"`

	// SampleCount is the number of samples folded into the cycle, always >= 1.
	SampleCount int `json:"sample_count"`
}

// CompletedCycle pairs a closed cycle's identity with its derived features.
// It is handed downstream by value; nothing retains a reference to the
// accumulator it came from.
type CompletedCycle struct {
	DeviceID string        `json:"device_id"`
	CycleID  int64         `json:"cycle_id"`
	Features CycleFeatures `json:"features"`
}

// SoHEstimate is the model's health estimate for one completed cycle.
// SoH is a fraction, nominally in [0, 1] but deliberately not clamped —
// a degenerate model output is reported as-is rather than rejected.
type SoHEstimate struct {
	DeviceID   string    `json:"device_id"`
	CycleID    int64     `json:"cycle_id"`
	SoH        float64   `json:"soh"`
	CapacityAh float64   `json:"capacity_ah"`
	ComputedAt time.Time `json:"computed_at"`
}

// AlertDecision is the maintenance verdict for one cycle's estimate.
// Severity is SeverityWarning iff SoH is strictly below the threshold the
// decision was evaluated against; SeverityNone otherwise.
type AlertDecision struct {
	DeviceID string  `json:"device_id"`
	CycleID  int64   `json:"cycle_id"`
	Severity string  `json:"severity"`
	SoH      float64 `json:"soh"`
	Reason   string  `json:"reason"`
}
