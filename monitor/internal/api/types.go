package api

import "github.com/celltwin/celltwin/pkg/types"

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	State         string  `json:"state"`
	DeviceCount   int     `json:"device_count"`
	HealthyCount  int     `json:"healthy_count"`
	WarningCount  int     `json:"warning_count"`
	UnscoredCount int     `json:"unscored_count"`
	FleetAvgSoH   float64 `json:"fleet_avg_soh"`
}

// DeviceResponse is one device entry in GET /api/v1/devices or
// GET /api/v1/devices/{id}.
type DeviceResponse struct {
	DeviceID   string              `json:"device_id"`
	CycleID    int64               `json:"cycle_id"`
	Features   types.CycleFeatures `json:"features"`
	SoH        *float64            `json:"soh,omitempty"`
	CapacityAh *float64            `json:"capacity_ah,omitempty"`
	Severity   string              `json:"severity,omitempty"`
	RecordedAt string              `json:"recorded_at"` // RFC3339
}

// HistoryResponse is the payload for GET /api/v1/devices/{id}/history.
type HistoryResponse struct {
	DeviceID string           `json:"device_id"`
	Cycles   []DeviceResponse `json:"cycles"`
}

// ForecastResponse is the payload for GET /api/v1/devices/{id}/forecast.
type ForecastResponse struct {
	DeviceID          string  `json:"device_id"`
	Threshold         float64 `json:"threshold"`
	Stable            bool    `json:"stable"`
	DegRatePerCycle   float64 `json:"deg_rate_per_cycle"`
	RemainingCycles   int64   `json:"remaining_cycles"`
	EstimatedEndCycle int64   `json:"estimated_end_cycle"`
}

// AlertResponse is one warning entry in GET /api/v1/alerts.
type AlertResponse struct {
	DeviceID string  `json:"device_id"`
	CycleID  int64   `json:"cycle_id"`
	SoH      float64 `json:"soh"`
	Reason   string  `json:"reason"`
	FiredAt  string  `json:"fired_at"` // RFC3339
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
