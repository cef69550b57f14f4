package pipeline

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/celltwin/celltwin/monitor/internal/alerts"
	"github.com/celltwin/celltwin/monitor/internal/config"
	"github.com/celltwin/celltwin/monitor/internal/metrics"
	"github.com/celltwin/celltwin/monitor/internal/predict"
	"github.com/celltwin/celltwin/monitor/internal/store"
	"github.com/celltwin/celltwin/pkg/types"
)

// capacityPredictor returns a fixed capacity for every cycle.
type capacityPredictor struct{ capacity float64 }

func (p capacityPredictor) Predict(context.Context, types.CycleFeatures) (float64, error) {
	return p.capacity, nil
}

// faultyPredictor always fails.
type faultyPredictor struct{}

func (faultyPredictor) Predict(context.Context, types.CycleFeatures) (float64, error) {
	return 0, errors.New("model artifact corrupt")
}

func newTestPipeline(t *testing.T, p predict.Predictor, threshold float64) (*Pipeline, *store.Store, *metrics.Registry) {
	t.Helper()
	scorer := predict.NewScorer(p, config.PredictorConfig{
		Timeout:             time.Second,
		ReferenceCapacityAh: 1.85,
	})
	st := store.New(100, 0)
	reg := metrics.NewRegistry()
	pl := New(scorer, alerts.NewNotifier(nil), st, Options{
		Threshold:  threshold,
		QueueSize:  64,
		MaxDevices: 4,
	}, reg)
	return pl, st, reg
}

func sample(device string, cycle int64, ts, voltage, resistance float64) types.TelemetrySample {
	return types.TelemetrySample{
		DeviceID:           device,
		CycleID:            cycle,
		TimestampS:         ts,
		Voltage:            voltage,
		Current:            -1.2,
		Temperature:        31.0,
		InternalResistance: resistance,
	}
}

// A full discharge cycle followed by the next cycle's first sample must
// produce one scored, alert-evaluated record with the closed cycle's stats.
func TestPipeline_EndToEnd(t *testing.T) {
	// 1.3875 Ah / 1.85 Ah reference = SoH 0.75, below the 0.80 threshold.
	pl, st, _ := newTestPipeline(t, capacityPredictor{capacity: 1.3875}, 0.80)

	pl.Submit(sample("B0005", 5, 0, 3.7, 0.10))
	pl.Submit(sample("B0005", 5, 150, 3.6, 0.12))
	pl.Submit(sample("B0005", 5, 300, 3.5, 0.11))
	pl.Submit(sample("B0005", 6, 310, 3.7, 0.10)) // boundary: closes cycle 5
	pl.Close()

	// Close flushes cycle 6 too; the closed cycle 5 comes first.
	hist := st.History("B0005")
	if len(hist) != 2 {
		t.Fatalf("history length = %d, want 2 (closed cycle 5 + flushed cycle 6)", len(hist))
	}
	rec := hist[0]

	if rec.CycleID != 5 {
		t.Fatalf("CycleID = %d, want 5", rec.CycleID)
	}
	f := rec.Features
	if math.Abs(f.AvgResistance-0.11) > 1e-9 {
		t.Errorf("AvgResistance = %v, want 0.11", f.AvgResistance)
	}
	if math.Abs(f.AvgVoltage-3.6) > 1e-9 {
		t.Errorf("AvgVoltage = %v, want 3.6", f.AvgVoltage)
	}
	if f.DurationS != 300 {
		t.Errorf("DurationS = %v, want 300", f.DurationS)
	}
	if f.SampleCount != 3 {
		t.Errorf("SampleCount = %d, want 3", f.SampleCount)
	}

	if rec.Estimate == nil {
		t.Fatal("record has no SoH estimate")
	}
	if math.Abs(rec.Estimate.SoH-0.75) > 1e-9 {
		t.Errorf("SoH = %v, want 0.75", rec.Estimate.SoH)
	}
	if rec.Decision == nil {
		t.Fatal("record has no alert decision")
	}
	if rec.Decision.Severity != types.SeverityWarning {
		t.Errorf("Severity = %q, want %q", rec.Decision.Severity, types.SeverityWarning)
	}
}

// Shutdown must flush every open accumulator: a device with an open cycle
// emits exactly one record, a device never seen emits none.
func TestPipeline_ShutdownFlush(t *testing.T) {
	pl, st, _ := newTestPipeline(t, capacityPredictor{capacity: 1.7}, 0.80)

	pl.Submit(sample("B0005", 1, 0, 3.7, 0.10))
	pl.Submit(sample("B0005", 1, 10, 3.6, 0.10))
	pl.Close()

	hist := st.History("B0005")
	if len(hist) != 1 {
		t.Fatalf("history length = %d, want 1 flushed cycle", len(hist))
	}
	if hist[0].CycleID != 1 || hist[0].Features.SampleCount != 2 {
		t.Errorf("flushed record = cycle %d with %d samples, want cycle 1 with 2",
			hist[0].CycleID, hist[0].Features.SampleCount)
	}

	if _, ok := st.Latest("B0006"); ok {
		t.Error("unexpected record for a device that sent nothing")
	}
}

// Submitting after Close must be a silent no-op.
func TestPipeline_SubmitAfterClose(t *testing.T) {
	pl, st, _ := newTestPipeline(t, capacityPredictor{capacity: 1.7}, 0.80)
	pl.Close()

	pl.Submit(sample("B0005", 1, 0, 3.7, 0.10))
	pl.Close() // second Close must not panic

	if _, ok := st.Latest("B0005"); ok {
		t.Error("sample submitted after Close reached the store")
	}
}

// A failed prediction still records the cycle's features, without an
// estimate or a decision, and the failure is counted.
func TestPipeline_PredictorFailureRetainsFeatures(t *testing.T) {
	pl, st, reg := newTestPipeline(t, faultyPredictor{}, 0.80)

	pl.Submit(sample("B0005", 1, 0, 3.7, 0.10))
	pl.Submit(sample("B0005", 1, 60, 3.6, 0.11))
	pl.Submit(sample("B0005", 2, 70, 3.7, 0.10)) // closes cycle 1
	pl.Close()

	hist := st.History("B0005")
	if len(hist) != 2 {
		t.Fatalf("history length = %d, want 2", len(hist))
	}
	for _, rec := range hist {
		if rec.Estimate != nil || rec.Decision != nil {
			t.Errorf("cycle %d: expected unscored record, got estimate=%v decision=%v",
				rec.CycleID, rec.Estimate, rec.Decision)
		}
		if rec.Features.SampleCount == 0 {
			t.Errorf("cycle %d: features lost", rec.CycleID)
		}
	}

	if got := reg.Counter("predictions_failed_total", "").Value(); got != 2 {
		t.Errorf("predictions_failed_total = %v, want 2", got)
	}
}

// Stale samples are dropped and counted without disturbing the open cycle.
func TestPipeline_StaleSamplesCounted(t *testing.T) {
	pl, st, reg := newTestPipeline(t, capacityPredictor{capacity: 1.7}, 0.80)

	pl.Submit(sample("B0005", 5, 0, 3.7, 0.10))
	pl.Submit(sample("B0005", 3, 1, 3.7, 0.10)) // stale: stream already advanced past 3
	pl.Submit(sample("B0005", 5, 60, 3.6, 0.11))
	pl.Close()

	hist := st.History("B0005")
	if len(hist) != 1 || hist[0].Features.SampleCount != 2 {
		t.Fatalf("history = %+v, want one cycle with 2 samples", hist)
	}
	if got := reg.Counter("samples_stale_total", "").Value(); got != 1 {
		t.Errorf("samples_stale_total = %v, want 1", got)
	}
}

// Devices past MaxDevices are dropped; tracked devices keep flowing.
func TestPipeline_DeviceLimit(t *testing.T) {
	scorer := predict.NewScorer(capacityPredictor{capacity: 1.7}, config.PredictorConfig{
		Timeout:             time.Second,
		ReferenceCapacityAh: 1.85,
	})
	st := store.New(100, 0)
	reg := metrics.NewRegistry()
	pl := New(scorer, alerts.NewNotifier(nil), st, Options{
		Threshold:  0.80,
		QueueSize:  8,
		MaxDevices: 1,
	}, reg)

	pl.Submit(sample("B0005", 1, 0, 3.7, 0.10))
	pl.Submit(sample("B0006", 1, 0, 3.7, 0.10)) // over the limit
	pl.Close()

	if _, ok := st.Latest("B0006"); ok {
		t.Error("sample for over-limit device reached the store")
	}
	if got := reg.Counter("samples_dropped_device_limit_total", "").Value(); got != 1 {
		t.Errorf("samples_dropped_device_limit_total = %v, want 1", got)
	}
	if got := reg.Gauge("devices_tracked", "").Value(); got != 1 {
		t.Errorf("devices_tracked = %v, want 1", got)
	}
}

// Two devices with interleaved samples stay independent.
func TestPipeline_DeviceIsolation(t *testing.T) {
	pl, st, _ := newTestPipeline(t, capacityPredictor{capacity: 1.7}, 0.80)

	pl.Submit(sample("B0005", 1, 0, 3.7, 0.10))
	pl.Submit(sample("B0006", 9, 0, 3.8, 0.20))
	pl.Submit(sample("B0005", 2, 10, 3.7, 0.10)) // closes B0005 cycle 1
	pl.Submit(sample("B0006", 9, 10, 3.8, 0.20))
	pl.Close()

	a := st.History("B0005")
	b := st.History("B0006")
	if len(a) != 2 { // cycle 1 closed + cycle 2 flushed
		t.Errorf("B0005 history = %d records, want 2", len(a))
	}
	if len(b) != 1 || b[0].CycleID != 9 || b[0].Features.SampleCount != 2 {
		t.Fatalf("B0006 history = %+v, want one cycle 9 with 2 samples", b)
	}
	if math.Abs(b[0].Features.AvgResistance-0.20) > 1e-9 {
		t.Errorf("B0006 AvgResistance = %v, want 0.20", b[0].Features.AvgResistance)
	}
}

func TestPipeline_SetThreshold(t *testing.T) {
	pl, st, _ := newTestPipeline(t, capacityPredictor{capacity: 1.7}, 0.80)
	// 1.7 / 1.85 ≈ 0.9189 — healthy at 0.80, warning at 0.95.
	pl.SetThreshold(0.95)

	pl.Submit(sample("B0005", 1, 0, 3.7, 0.10))
	pl.Submit(sample("B0005", 2, 10, 3.7, 0.10)) // closes cycle 1
	pl.Close()

	hist := st.History("B0005")
	if len(hist) == 0 {
		t.Fatal("no history recorded")
	}
	if hist[0].Decision == nil || hist[0].Decision.Severity != types.SeverityWarning {
		t.Errorf("decision = %+v, want warning under raised threshold", hist[0].Decision)
	}
}
