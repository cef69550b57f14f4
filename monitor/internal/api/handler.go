package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/celltwin/celltwin/monitor/internal/store"
	"github.com/celltwin/celltwin/pkg/types"
)

// Handler is the HTTP handler for all /api/v1/* endpoints.
// It reads fleet state from the cycle store and returns JSON responses.
type Handler struct {
	store     *store.Store
	threshold func() float64 // live alert threshold, survives config reload
	mux       *http.ServeMux
}

// New creates a Handler wired to the given store and registers all routes.
// threshold reports the current alert threshold; forecasts extrapolate
// against it.
func New(st *store.Store, threshold func() float64) http.Handler {
	h := &Handler{store: st, threshold: threshold, mux: http.NewServeMux()}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/devices", h.listDevices)
	h.mux.HandleFunc("/api/v1/devices/", h.device) // subtree — extracts {id} and subresource
	h.mux.HandleFunc("/api/v1/alerts", h.alerts)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health — fleet-wide SoH summary.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	devices := h.store.Devices()
	resp := HealthResponse{DeviceCount: len(devices)}

	if len(devices) == 0 {
		resp.State = "unknown"
		jsonResp(w, http.StatusOK, resp)
		return
	}

	var sohSum float64
	var scored int
	for _, id := range devices {
		rec, ok := h.store.Latest(id)
		if !ok || rec.Estimate == nil {
			resp.UnscoredCount++
			continue
		}
		scored++
		sohSum += rec.Estimate.SoH
		if rec.Decision != nil && rec.Decision.Severity == types.SeverityWarning {
			resp.WarningCount++
		} else {
			resp.HealthyCount++
		}
	}
	if scored > 0 {
		resp.FleetAvgSoH = sohSum / float64(scored)
	}
	resp.State = fleetState(resp.WarningCount, scored)
	jsonResp(w, http.StatusOK, resp)
}

// listDevices returns GET /api/v1/devices — the latest cycle per device.
func (h *Handler) listDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ids := h.store.Devices()
	out := make([]DeviceResponse, 0, len(ids))
	for _, id := range ids {
		if rec, ok := h.store.Latest(id); ok {
			out = append(out, toDeviceResponse(rec))
		}
	}
	jsonResp(w, http.StatusOK, out)
}

// device dispatches GET /api/v1/devices/{id}[/history|/forecast].
func (h *Handler) device(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/devices/")
	if rest == "" {
		// Redirect bare /api/v1/devices/ to list handler.
		h.listDevices(w, r)
		return
	}

	id, sub, _ := strings.Cut(rest, "/")
	switch sub {
	case "":
		h.getDevice(w, id)
	case "history":
		h.getHistory(w, id)
	case "forecast":
		h.getForecast(w, id)
	default:
		jsonErr(w, http.StatusNotFound, "not found")
	}
}

// getDevice returns GET /api/v1/devices/{id} — the device's latest cycle.
func (h *Handler) getDevice(w http.ResponseWriter, id string) {
	rec, ok := h.store.Latest(id)
	if !ok {
		jsonErr(w, http.StatusNotFound, "device not found")
		return
	}
	jsonResp(w, http.StatusOK, toDeviceResponse(rec))
}

// getHistory returns GET /api/v1/devices/{id}/history — all retained cycles,
// oldest first.
func (h *Handler) getHistory(w http.ResponseWriter, id string) {
	hist := h.store.History(id)
	if hist == nil {
		jsonErr(w, http.StatusNotFound, "device not found")
		return
	}
	out := HistoryResponse{DeviceID: id, Cycles: make([]DeviceResponse, 0, len(hist))}
	for _, rec := range hist {
		out.Cycles = append(out.Cycles, toDeviceResponse(rec))
	}
	jsonResp(w, http.StatusOK, out)
}

// getForecast returns GET /api/v1/devices/{id}/forecast — cycles remaining
// until the alert threshold, extrapolated from the SoH trend.
func (h *Handler) getForecast(w http.ResponseWriter, id string) {
	threshold := h.threshold()
	fc, err := h.store.Forecast(id, threshold)
	switch {
	case errors.Is(err, store.ErrUnknownDevice):
		jsonErr(w, http.StatusNotFound, "device not found")
		return
	case errors.Is(err, store.ErrNotEnoughData):
		jsonErr(w, http.StatusUnprocessableEntity, "not enough scored cycles for a forecast")
		return
	case err != nil:
		jsonErr(w, http.StatusInternalServerError, "forecast failed")
		return
	}

	jsonResp(w, http.StatusOK, ForecastResponse{
		DeviceID:          id,
		Threshold:         threshold,
		Stable:            fc.Stable,
		DegRatePerCycle:   fc.DegRatePerCycle,
		RemainingCycles:   fc.RemainingCycles,
		EstimatedEndCycle: fc.EstimatedEndCycle,
	})
}

// alerts returns GET /api/v1/alerts — recent warnings across the fleet,
// newest first.
func (h *Handler) alerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	recs := h.store.RecentAlerts(50)
	out := make([]AlertResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, AlertResponse{
			DeviceID: rec.DeviceID,
			CycleID:  rec.CycleID,
			SoH:      rec.Decision.SoH,
			Reason:   rec.Decision.Reason,
			FiredAt:  rec.RecordedAt.UTC().Format(time.RFC3339),
		})
	}
	jsonResp(w, http.StatusOK, out)
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

// fleetState summarizes the fleet: degraded once any device warns, unknown
// when nothing has been scored yet.
func fleetState(warnings, scored int) string {
	switch {
	case scored == 0:
		return "unknown"
	case warnings > 0:
		return "degraded"
	default:
		return "healthy"
	}
}

// toDeviceResponse maps a store.Record to its JSON representation.
func toDeviceResponse(rec store.Record) DeviceResponse {
	out := DeviceResponse{
		DeviceID:   rec.DeviceID,
		CycleID:    rec.CycleID,
		Features:   rec.Features,
		RecordedAt: rec.RecordedAt.UTC().Format(time.RFC3339),
	}
	if rec.Estimate != nil {
		soh := rec.Estimate.SoH
		cap := rec.Estimate.CapacityAh
		out.SoH = &soh
		out.CapacityAh = &cap
	}
	if rec.Decision != nil {
		out.Severity = rec.Decision.Severity
	}
	return out
}
