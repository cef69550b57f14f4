package store

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/celltwin/celltwin/pkg/types"
)

// Errors returned by Forecast.
var (
	ErrUnknownDevice = errors.New("unknown device")
	ErrNotEnoughData = errors.New("not enough history for a forecast")
)

// forecastMinRecords is the minimum number of scored cycles required before
// a degradation trend is extrapolated.
const forecastMinRecords = 5

// Record is everything the monitor retains about one completed cycle.
// Estimate and Decision are nil when the predictor was unavailable for that
// cycle — the features are kept regardless.
type Record struct {
	DeviceID   string               `json:"device_id"`
	CycleID    int64                `json:"cycle_id"`
	Features   types.CycleFeatures  `json:"features"`
	Estimate   *types.SoHEstimate   `json:"estimate,omitempty"`
	Decision   *types.AlertDecision `json:"decision,omitempty"`
	RecordedAt time.Time            `json:"recorded_at"`
}

// Forecast is a linear extrapolation of a device's SoH trend: how many more
// cycles until the maintenance threshold is reached.
type Forecast struct {
	// Stable is true when the observed trend is flat or improving
	// (measurement noise) — no end-of-life cycle can be estimated.
	Stable bool `json:"stable"`

	// DegRatePerCycle is the average SoH lost per cycle.
	DegRatePerCycle float64 `json:"deg_rate_per_cycle"`

	// RemainingCycles is the estimated number of cycles until the
	// threshold is crossed. Zero when Stable.
	RemainingCycles int64 `json:"remaining_cycles"`

	// EstimatedEndCycle is the cycle id at which the threshold is expected
	// to be crossed. Zero when Stable.
	EstimatedEndCycle int64 `json:"estimated_end_cycle"`
}

type deviceHistory struct {
	records   []Record // oldest first
	updatedAt time.Time
}

// Store is a thread-safe per-device history of completed cycles. A
// background goroutine (Run) evicts devices that have not completed a cycle
// within the configured TTL; a TTL of zero disables eviction.
type Store struct {
	mu        sync.RWMutex
	devices   map[string]*deviceHistory
	maxCycles int
	ttl       time.Duration
	now       func() time.Time // injectable for deterministic tests
}

// New creates a Store keeping at most maxCycles records per device.
func New(maxCycles int, ttl time.Duration) *Store {
	return &Store{
		devices:   make(map[string]*deviceHistory),
		maxCycles: maxCycles,
		ttl:       ttl,
		now:       time.Now,
	}
}

// Put appends a record to its device's history, discarding the oldest
// record once the cap is reached.
func (s *Store) Put(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.devices[rec.DeviceID]
	if !ok {
		h = &deviceHistory{}
		s.devices[rec.DeviceID] = h
	}
	h.records = append(h.records, rec)
	if len(h.records) > s.maxCycles {
		h.records = h.records[len(h.records)-s.maxCycles:]
	}
	h.updatedAt = s.now()
}

// Latest returns the most recent record for the device.
func (s *Store) Latest(deviceID string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.devices[deviceID]
	if !ok || len(h.records) == 0 {
		return Record{}, false
	}
	return h.records[len(h.records)-1], true
}

// History returns a copy of the device's records, oldest first.
func (s *Store) History(deviceID string) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.devices[deviceID]
	if !ok {
		return nil
	}
	out := make([]Record, len(h.records))
	copy(out, h.records)
	return out
}

// Devices returns the ids of all tracked devices, sorted.
func (s *Store) Devices() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.devices))
	for id := range s.devices {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Count returns the number of tracked devices.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.devices)
}

// RecentAlerts returns up to limit warning decisions across all devices,
// newest first.
func (s *Store) RecentAlerts(limit int) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for _, h := range s.devices {
		for _, rec := range h.records {
			if rec.Decision != nil && rec.Decision.Severity == types.SeverityWarning {
				out = append(out, rec)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RecordedAt.After(out[j].RecordedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Forecast extrapolates the device's SoH trend linearly and estimates the
// cycle at which it crosses threshold. It compares the oldest and newest
// scored records to derive an average degradation rate per cycle.
func (s *Store) Forecast(deviceID string, threshold float64) (Forecast, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.devices[deviceID]
	if !ok {
		return Forecast{}, ErrUnknownDevice
	}

	var scored []Record
	for _, rec := range h.records {
		if rec.Estimate != nil {
			scored = append(scored, rec)
		}
	}
	if len(scored) < forecastMinRecords {
		return Forecast{}, ErrNotEnoughData
	}

	first, last := scored[0], scored[len(scored)-1]
	totalCycles := last.CycleID - first.CycleID
	if totalCycles == 0 {
		return Forecast{}, ErrNotEnoughData
	}

	degRate := (first.Estimate.SoH - last.Estimate.SoH) / float64(totalCycles)
	if degRate <= 0 {
		// Battery "improving" according to the data — measurement noise.
		return Forecast{Stable: true, DegRatePerCycle: degRate}, nil
	}

	remainingSoH := last.Estimate.SoH - threshold
	remaining := int64(remainingSoH / degRate)
	if remaining < 0 {
		remaining = 0
	}

	return Forecast{
		DegRatePerCycle:   degRate,
		RemainingCycles:   remaining,
		EstimatedEndCycle: last.CycleID + remaining,
	}, nil
}

// Evict removes devices whose last completed cycle is older than now minus
// TTL. It returns the number of devices removed.
func (s *Store) Evict(now time.Time) int {
	if s.ttl <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-s.ttl)
	removed := 0
	for id, h := range s.devices {
		if !h.updatedAt.After(cutoff) {
			delete(s.devices, id)
			removed++
		}
	}
	return removed
}

// Run starts the background TTL eviction loop. It ticks at half the TTL
// interval (minimum 1 second). Run blocks until ctx is cancelled; it returns
// immediately when eviction is disabled.
func (s *Store) Run(ctx context.Context) {
	if s.ttl <= 0 {
		return
	}
	interval := s.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Evict(now); n > 0 {
				slog.Debug("store: evicted idle devices", "count", n)
			}
		}
	}
}
