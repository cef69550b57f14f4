package alerts

import (
	"fmt"

	"github.com/celltwin/celltwin/pkg/types"
)

// Evaluate thresholds one cycle's SoH estimate into an AlertDecision.
// Severity escalates to warning iff the SoH is strictly below threshold —
// an estimate exactly at the threshold stays at severity none.
//
// Known limitation: every cycle is evaluated independently. There is no
// hysteresis or debouncing across cycles, so an estimate oscillating around
// the threshold produces alternating decisions.
func Evaluate(est types.SoHEstimate, threshold float64) types.AlertDecision {
	d := types.AlertDecision{
		DeviceID: est.DeviceID,
		CycleID:  est.CycleID,
		SoH:      est.SoH,
	}

	if est.SoH < threshold {
		d.Severity = types.SeverityWarning
		d.Reason = fmt.Sprintf("SoH %.4f below maintenance threshold %.2f — schedule battery service",
			est.SoH, threshold)
	} else {
		d.Severity = types.SeverityNone
		d.Reason = fmt.Sprintf("SoH %.4f at or above maintenance threshold %.2f", est.SoH, threshold)
	}
	return d
}
