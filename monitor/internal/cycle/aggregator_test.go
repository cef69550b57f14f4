package cycle

import (
	"errors"
	"math"
	"testing"

	"github.com/celltwin/celltwin/pkg/types"
)

func sample(device string, cycleID int64, ts, resistance, voltage float64) types.TelemetrySample {
	return types.TelemetrySample{
		DeviceID:           device,
		CycleID:            cycleID,
		TimestampS:         ts,
		Voltage:            voltage,
		Current:            -1.2,
		Temperature:        24.5,
		InternalResistance: resistance,
	}
}

func mustIngest(t *testing.T, agg *Aggregator, s types.TelemetrySample) *Accumulator {
	t.Helper()
	closed, err := agg.Ingest(s)
	if err != nil {
		t.Fatalf("Ingest(%s/%d): %v", s.DeviceID, s.CycleID, err)
	}
	return closed
}

func TestIngest_ConstantCycleAccumulates(t *testing.T) {
	agg := NewAggregator()
	resistances := []float64{0.10, 0.12, 0.11, 0.13}
	for i, r := range resistances {
		if closed := mustIngest(t, agg, sample("B0005", 1, float64(i*100), r, 3.7)); closed != nil {
			t.Fatalf("sample %d: unexpected cycle close", i)
		}
	}

	acc := agg.Flush("B0005")
	if acc == nil {
		t.Fatal("Flush: expected open accumulator")
	}
	if acc.SampleCount != len(resistances) {
		t.Errorf("SampleCount: got %d, want %d", acc.SampleCount, len(resistances))
	}
	wantSum := 0.10 + 0.12 + 0.11 + 0.13
	if math.Abs(acc.ResistanceSum-wantSum) > 1e-12 {
		t.Errorf("ResistanceSum: got %g, want %g", acc.ResistanceSum, wantSum)
	}
	if acc.FirstTS != 0 || acc.LastTS != 300 {
		t.Errorf("timestamp bounds: got [%g, %g], want [0, 300]", acc.FirstTS, acc.LastTS)
	}
}

func TestIngest_BoundaryClosesExactlyOnce(t *testing.T) {
	agg := NewAggregator()
	mustIngest(t, agg, sample("B0005", 1, 0, 0.10, 3.7))
	mustIngest(t, agg, sample("B0005", 1, 100, 0.12, 3.6))

	// First sample of cycle 2 closes cycle 1 before the new cycle
	// starts accumulating.
	closed := mustIngest(t, agg, sample("B0005", 2, 5, 0.20, 3.9))
	if closed == nil {
		t.Fatal("expected cycle 1 to close on cycle_id transition")
	}
	if closed.CycleID != 1 {
		t.Errorf("closed CycleID: got %d, want 1", closed.CycleID)
	}
	// Closed stats derive only from pre-transition samples.
	if closed.SampleCount != 2 {
		t.Errorf("closed SampleCount: got %d, want 2", closed.SampleCount)
	}
	if math.Abs(closed.ResistanceSum-0.22) > 1e-12 {
		t.Errorf("closed ResistanceSum: got %g, want 0.22", closed.ResistanceSum)
	}

	// The boundary sample itself opened cycle 2.
	acc := agg.Flush("B0005")
	if acc == nil || acc.CycleID != 2 || acc.SampleCount != 1 {
		t.Fatalf("open accumulator after transition: got %+v", acc)
	}
}

func TestIngest_StaleCycleRejected(t *testing.T) {
	agg := NewAggregator()
	mustIngest(t, agg, sample("B0005", 3, 0, 0.10, 3.7))
	mustIngest(t, agg, sample("B0005", 3, 50, 0.12, 3.6))

	_, err := agg.Ingest(sample("B0005", 2, 60, 0.50, 3.0))
	if !errors.Is(err, ErrStaleCycle) {
		t.Fatalf("Ingest stale cycle: got err %v, want ErrStaleCycle", err)
	}

	// Open accumulator is unaffected by the rejected sample.
	acc := agg.Flush("B0005")
	if acc == nil || acc.SampleCount != 2 {
		t.Fatalf("accumulator after stale reject: got %+v", acc)
	}
	if math.Abs(acc.ResistanceSum-0.22) > 1e-12 {
		t.Errorf("ResistanceSum: got %g, want 0.22", acc.ResistanceSum)
	}
}

func TestIngest_StaleAfterClose(t *testing.T) {
	// lastSeen survives a cycle close: a replay of the closed cycle's id
	// after the next cycle opened is still stale.
	agg := NewAggregator()
	mustIngest(t, agg, sample("B0005", 1, 0, 0.10, 3.7))
	mustIngest(t, agg, sample("B0005", 2, 10, 0.11, 3.7))

	if _, err := agg.Ingest(sample("B0005", 1, 20, 0.10, 3.7)); !errors.Is(err, ErrStaleCycle) {
		t.Fatalf("replayed closed cycle id: got err %v, want ErrStaleCycle", err)
	}
}

func TestIngest_DuplicateAccumulatesTwice(t *testing.T) {
	// The aggregator does not deduplicate: identical deliveries with an
	// unchanged cycle_id each count. Dedup is the transport's concern.
	agg := NewAggregator()
	s := sample("B0005", 1, 100, 0.10, 3.7)
	mustIngest(t, agg, s)
	mustIngest(t, agg, s)

	acc := agg.Flush("B0005")
	if acc.SampleCount != 2 {
		t.Errorf("SampleCount after duplicate: got %d, want 2", acc.SampleCount)
	}
	if math.Abs(acc.ResistanceSum-0.20) > 1e-12 {
		t.Errorf("ResistanceSum: got %g, want 0.20", acc.ResistanceSum)
	}
}

func TestIngest_DevicesIndependent(t *testing.T) {
	agg := NewAggregator()
	mustIngest(t, agg, sample("B0005", 5, 0, 0.10, 3.7))
	mustIngest(t, agg, sample("B0006", 1, 0, 0.30, 3.5))

	// A low cycle id on one device never affects another.
	if _, err := agg.Ingest(sample("B0006", 1, 10, 0.31, 3.4)); err != nil {
		t.Fatalf("B0006 ingest: %v", err)
	}
	if n := agg.OpenCount(); n != 2 {
		t.Errorf("OpenCount: got %d, want 2", n)
	}

	a5 := agg.Flush("B0005")
	a6 := agg.Flush("B0006")
	if a5.CycleID != 5 || a5.SampleCount != 1 {
		t.Errorf("B0005 accumulator: got %+v", a5)
	}
	if a6.CycleID != 1 || a6.SampleCount != 2 {
		t.Errorf("B0006 accumulator: got %+v", a6)
	}
}

func TestFlush_NoOpenCycle(t *testing.T) {
	agg := NewAggregator()
	if acc := agg.Flush("nobody"); acc != nil {
		t.Errorf("Flush without open cycle: got %+v, want nil", acc)
	}
}

func TestFlush_Terminal(t *testing.T) {
	agg := NewAggregator()
	mustIngest(t, agg, sample("B0005", 1, 0, 0.10, 3.7))

	if acc := agg.Flush("B0005"); acc == nil || acc.SampleCount != 1 {
		t.Fatalf("first Flush: got %+v", acc)
	}
	// Second flush: cycle already closed.
	if acc := agg.Flush("B0005"); acc != nil {
		t.Errorf("second Flush: got %+v, want nil", acc)
	}
}

func TestOpenDevices(t *testing.T) {
	agg := NewAggregator()
	mustIngest(t, agg, sample("a", 1, 0, 0.1, 3.7))
	mustIngest(t, agg, sample("b", 1, 0, 0.1, 3.7))

	devs := agg.OpenDevices()
	if len(devs) != 2 {
		t.Fatalf("OpenDevices: got %v, want 2 entries", devs)
	}
	seen := map[string]bool{}
	for _, d := range devs {
		seen[d] = true
	}
	if !seen["a"] || !seen["b"] {
		t.Errorf("OpenDevices: got %v, want a and b", devs)
	}
}
