package cycle

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/celltwin/celltwin/pkg/types"
)

// ErrEmptyCycle is returned when feature extraction is asked for an
// accumulator holding zero samples. The aggregator never closes an empty
// cycle, so seeing this error indicates an aggregator bug — callers should
// surface it loudly rather than swallow it.
var ErrEmptyCycle = errors.New("empty cycle")

// Extract converts a closed accumulator into the feature vector the SoH
// model expects. Averages are arithmetic means over the cycle's samples;
// duration is last minus first timestamp in seconds.
//
// If the stream violated timestamp monotonicity within the cycle, the
// duration is clamped to 0 and a warning is logged.
func Extract(acc *Accumulator) (types.CompletedCycle, error) {
	if acc == nil || acc.SampleCount == 0 {
		return types.CompletedCycle{}, fmt.Errorf("extract features: %w", ErrEmptyCycle)
	}

	n := float64(acc.SampleCount)
	duration := acc.LastTS - acc.FirstTS
	if duration < 0 {
		slog.Warn("cycle: non-monotonic timestamps — clamping duration to 0",
			"device", acc.DeviceID,
			"cycle", acc.CycleID,
			"first_ts", acc.FirstTS,
			"last_ts", acc.LastTS,
		)
		duration = 0
	}

	return types.CompletedCycle{
		DeviceID: acc.DeviceID,
		CycleID:  acc.CycleID,
		Features: types.CycleFeatures{
			AvgResistance: acc.ResistanceSum / n,
			AvgVoltage:    acc.VoltageSum / n,
			DurationS:     duration,
			SampleCount:   acc.SampleCount,
		},
	}, nil
}
