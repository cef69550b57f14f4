package api

import (
	"time"

	"github.com/celltwin/celltwin/monitor/internal/store"
)

// FleetSnapshot is the full fleet view streamed to WebSocket clients: the
// latest cycle per device plus recent warnings.
type FleetSnapshot struct {
	Devices     []DeviceResponse `json:"devices"`
	Alerts      []AlertResponse  `json:"alerts"`
	GeneratedAt string           `json:"generated_at"` // RFC3339
}

// BuildFleet assembles a FleetSnapshot from the store's current state.
func BuildFleet(st *store.Store) FleetSnapshot {
	ids := st.Devices()
	snap := FleetSnapshot{
		Devices:     make([]DeviceResponse, 0, len(ids)),
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}
	for _, id := range ids {
		if rec, ok := st.Latest(id); ok {
			snap.Devices = append(snap.Devices, toDeviceResponse(rec))
		}
	}

	recs := st.RecentAlerts(20)
	snap.Alerts = make([]AlertResponse, 0, len(recs))
	for _, rec := range recs {
		snap.Alerts = append(snap.Alerts, AlertResponse{
			DeviceID: rec.DeviceID,
			CycleID:  rec.CycleID,
			SoH:      rec.Decision.SoH,
			Reason:   rec.Decision.Reason,
			FiredAt:  rec.RecordedAt.UTC().Format(time.RFC3339),
		})
	}
	return snap
}
