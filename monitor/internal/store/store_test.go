package store

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/celltwin/celltwin/pkg/types"
)

// fixedClock returns a func() time.Time that always returns t.
func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func scoredRecord(device string, cycleID int64, soh float64) Record {
	return Record{
		DeviceID: device,
		CycleID:  cycleID,
		Features: types.CycleFeatures{AvgResistance: 0.11, AvgVoltage: 3.6, DurationS: 300, SampleCount: 3},
		Estimate: &types.SoHEstimate{DeviceID: device, CycleID: cycleID, SoH: soh},
	}
}

func TestPutAndLatest(t *testing.T) {
	st := New(100, time.Hour)
	st.Put(scoredRecord("B0005", 1, 0.95))
	st.Put(scoredRecord("B0005", 2, 0.94))

	rec, ok := st.Latest("B0005")
	if !ok {
		t.Fatal("Latest: expected record, got none")
	}
	if rec.CycleID != 2 || rec.Estimate.SoH != 0.94 {
		t.Errorf("Latest: got cycle %d soh %g", rec.CycleID, rec.Estimate.SoH)
	}
}

func TestLatest_Missing(t *testing.T) {
	st := New(100, time.Hour)
	if _, ok := st.Latest("unknown"); ok {
		t.Fatal("Latest on empty store: expected false")
	}
}

func TestHistory_CappedOldestFirst(t *testing.T) {
	st := New(3, time.Hour)
	for i := int64(1); i <= 5; i++ {
		st.Put(scoredRecord("B0005", i, 1.0-float64(i)*0.01))
	}

	hist := st.History("B0005")
	if len(hist) != 3 {
		t.Fatalf("History: got %d records, want 3 (capped)", len(hist))
	}
	if hist[0].CycleID != 3 || hist[2].CycleID != 5 {
		t.Errorf("History order: got cycles [%d..%d], want [3..5]", hist[0].CycleID, hist[2].CycleID)
	}
}

func TestPut_UnscoredRecordKept(t *testing.T) {
	// Predictor outage: features are retained without estimate/decision.
	st := New(100, time.Hour)
	st.Put(Record{DeviceID: "B0005", CycleID: 9,
		Features: types.CycleFeatures{AvgResistance: 0.2, SampleCount: 4}})

	rec, ok := st.Latest("B0005")
	if !ok {
		t.Fatal("Latest: expected record")
	}
	if rec.Estimate != nil || rec.Decision != nil {
		t.Errorf("unscored record: got estimate %v decision %v", rec.Estimate, rec.Decision)
	}
	if rec.Features.SampleCount != 4 {
		t.Errorf("features: got %+v", rec.Features)
	}
}

func TestDevices_Sorted(t *testing.T) {
	st := New(100, time.Hour)
	st.Put(scoredRecord("B0007", 1, 0.9))
	st.Put(scoredRecord("B0005", 1, 0.9))

	devs := st.Devices()
	if len(devs) != 2 || devs[0] != "B0005" || devs[1] != "B0007" {
		t.Errorf("Devices: got %v", devs)
	}
}

func TestRecentAlerts(t *testing.T) {
	st := New(100, time.Hour)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	warn := scoredRecord("B0005", 10, 0.75)
	warn.Decision = &types.AlertDecision{DeviceID: "B0005", CycleID: 10, Severity: types.SeverityWarning, SoH: 0.75}
	warn.RecordedAt = base

	ok := scoredRecord("B0005", 11, 0.85)
	ok.Decision = &types.AlertDecision{DeviceID: "B0005", CycleID: 11, Severity: types.SeverityNone, SoH: 0.85}
	ok.RecordedAt = base.Add(time.Minute)

	warn2 := scoredRecord("B0006", 4, 0.70)
	warn2.Decision = &types.AlertDecision{DeviceID: "B0006", CycleID: 4, Severity: types.SeverityWarning, SoH: 0.70}
	warn2.RecordedAt = base.Add(2 * time.Minute)

	st.Put(warn)
	st.Put(ok)
	st.Put(warn2)

	got := st.RecentAlerts(10)
	if len(got) != 2 {
		t.Fatalf("RecentAlerts: got %d, want 2", len(got))
	}
	if got[0].DeviceID != "B0006" {
		t.Errorf("newest first: got %s", got[0].DeviceID)
	}

	if limited := st.RecentAlerts(1); len(limited) != 1 {
		t.Errorf("RecentAlerts(1): got %d", len(limited))
	}
}

func TestForecast_LinearTrend(t *testing.T) {
	st := New(100, time.Hour)
	// SoH falls 1/64 per cycle: 1.0 at cycle 10 down to 0.9375 at cycle 14.
	for i := int64(0); i < 5; i++ {
		st.Put(scoredRecord("B0005", 10+i, 1.0-0.015625*float64(i)))
	}

	fc, err := st.Forecast("B0005", 0.80)
	if err != nil {
		t.Fatalf("Forecast: %v", err)
	}
	if fc.Stable {
		t.Fatal("Forecast: unexpectedly stable")
	}
	if math.Abs(fc.DegRatePerCycle-0.015625) > 1e-12 {
		t.Errorf("DegRatePerCycle: got %g, want 0.015625", fc.DegRatePerCycle)
	}
	// 0.1375 remaining to the threshold at 1/64 per cycle → 8 whole cycles.
	if fc.RemainingCycles != 8 {
		t.Errorf("RemainingCycles: got %d, want 8", fc.RemainingCycles)
	}
	if fc.EstimatedEndCycle != 22 {
		t.Errorf("EstimatedEndCycle: got %d, want 22", fc.EstimatedEndCycle)
	}
}

func TestForecast_StableTrend(t *testing.T) {
	st := New(100, time.Hour)
	for i := int64(0); i < 5; i++ {
		st.Put(scoredRecord("B0005", int64(1+i), 0.90+0.001*float64(i)))
	}

	fc, err := st.Forecast("B0005", 0.80)
	if err != nil {
		t.Fatalf("Forecast: %v", err)
	}
	if !fc.Stable {
		t.Errorf("improving trend: got %+v, want stable", fc)
	}
}

func TestForecast_NotEnoughData(t *testing.T) {
	st := New(100, time.Hour)
	st.Put(scoredRecord("B0005", 1, 0.95))

	if _, err := st.Forecast("B0005", 0.80); !errors.Is(err, ErrNotEnoughData) {
		t.Errorf("got err %v, want ErrNotEnoughData", err)
	}
	if _, err := st.Forecast("nobody", 0.80); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("got err %v, want ErrUnknownDevice", err)
	}
}

func TestForecast_SkipsUnscoredRecords(t *testing.T) {
	st := New(100, time.Hour)
	for i := int64(0); i < 5; i++ {
		st.Put(scoredRecord("B0005", 1+i, 0.95-0.01*float64(i)))
	}
	// An unscored record (predictor outage) in the middle must not break
	// the trend computation.
	st.Put(Record{DeviceID: "B0005", CycleID: 6})
	st.Put(scoredRecord("B0005", 7, 0.89))

	fc, err := st.Forecast("B0005", 0.80)
	if err != nil {
		t.Fatalf("Forecast: %v", err)
	}
	if fc.Stable {
		t.Error("Forecast: unexpectedly stable")
	}
}

func TestEvict_RemovesIdleDevices(t *testing.T) {
	base := time.Now()
	st := New(100, 5*time.Minute)

	st.now = fixedClock(base.Add(-10 * time.Minute))
	st.Put(scoredRecord("idle", 1, 0.9))

	st.now = fixedClock(base)
	st.Put(scoredRecord("live", 1, 0.9))

	if removed := st.Evict(base); removed != 1 {
		t.Errorf("Evict: removed %d, want 1", removed)
	}
	if st.Count() != 1 {
		t.Errorf("Count after evict: got %d, want 1", st.Count())
	}
	if _, ok := st.Latest("live"); !ok {
		t.Error("live device evicted")
	}
}

func TestEvict_DisabledWithZeroTTL(t *testing.T) {
	base := time.Now()
	st := New(100, 0)
	st.now = fixedClock(base.Add(-24 * time.Hour))
	st.Put(scoredRecord("old", 1, 0.9))

	if removed := st.Evict(base); removed != 0 {
		t.Errorf("Evict with ttl=0: removed %d, want 0", removed)
	}
}
