package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/celltwin/celltwin/pkg/types"
)

// ErrMalformedSample rejects a telemetry payload that fails validation.
// The caller must drop (and log/count) the sample rather than forward it.
var ErrMalformedSample = errors.New("malformed sample")

// RawSample is the wire shape of one telemetry message, as published by the
// battery simulator and real devices alike. Numeric fields are pointers so
// an absent field is distinguishable from a zero reading.
type RawSample struct {
	DeviceID           string   `json:"device_id"`
	CycleID            *int64   `json:"cycle_id"`
	TimestampS         *float64 `json:"timestamp_s"`
	Voltage            *float64 `json:"voltage"`
	Current            *float64 `json:"current"`
	Temperature        *float64 `json:"temperature"`
	InternalResistance *float64 `json:"internal_resistance"`
}

// Normalize validates a raw payload and converts it to a TelemetrySample.
// All numeric fields must be present and finite, cycle_id must be
// non-negative, and device_id must be non-empty. No side effects beyond
// validation.
func Normalize(raw RawSample) (types.TelemetrySample, error) {
	if raw.DeviceID == "" {
		return types.TelemetrySample{}, fmt.Errorf("device_id is empty: %w", ErrMalformedSample)
	}
	if raw.CycleID == nil {
		return types.TelemetrySample{}, fmt.Errorf("cycle_id is missing: %w", ErrMalformedSample)
	}
	if *raw.CycleID < 0 {
		return types.TelemetrySample{}, fmt.Errorf("cycle_id %d is negative: %w", *raw.CycleID, ErrMalformedSample)
	}

	fields := []struct {
		name string
		val  *float64
	}{
		{"timestamp_s", raw.TimestampS},
		{"voltage", raw.Voltage},
		{"current", raw.Current},
		{"temperature", raw.Temperature},
		{"internal_resistance", raw.InternalResistance},
	}
	for _, f := range fields {
		if f.val == nil {
			return types.TelemetrySample{}, fmt.Errorf("%s is missing: %w", f.name, ErrMalformedSample)
		}
		if math.IsNaN(*f.val) || math.IsInf(*f.val, 0) {
			return types.TelemetrySample{}, fmt.Errorf("%s is not finite: %w", f.name, ErrMalformedSample)
		}
	}

	return types.TelemetrySample{
		DeviceID:           raw.DeviceID,
		CycleID:            *raw.CycleID,
		TimestampS:         *raw.TimestampS,
		Voltage:            *raw.Voltage,
		Current:            *raw.Current,
		Temperature:        *raw.Temperature,
		InternalResistance: *raw.InternalResistance,
	}, nil
}

// Decode parses a JSON telemetry payload and normalizes it.
func Decode(payload []byte) (types.TelemetrySample, error) {
	var raw RawSample
	if err := json.Unmarshal(payload, &raw); err != nil {
		return types.TelemetrySample{}, fmt.Errorf("decode json: %v: %w", err, ErrMalformedSample)
	}
	return Normalize(raw)
}
