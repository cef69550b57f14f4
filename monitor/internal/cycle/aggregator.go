package cycle

import (
	"errors"
	"fmt"

	"github.com/celltwin/celltwin/pkg/types"
)

// ErrStaleCycle rejects a sample whose cycle_id is lower than the highest
// cycle_id already seen for its device. The stream is assumed to deliver
// non-decreasing cycle ids per device at least once; the aggregator drops
// late arrivals rather than attempting reordering.
var ErrStaleCycle = errors.New("stale cycle id")

// Accumulator is the mutable per-(device, cycle) running state. At most one
// accumulator is open per device at a time; it is created on the first sample
// of a new cycle_id and destroyed when the cycle closes.
type Accumulator struct {
	DeviceID      string
	CycleID       int64
	SampleCount   int
	ResistanceSum float64
	VoltageSum    float64
	FirstTS       float64
	LastTS        float64
}

// fold adds one sample's readings to the running sums. FirstTS is the
// timestamp of the first sample in arrival order and LastTS of the most
// recent one; a non-monotonic stream can therefore produce LastTS < FirstTS,
// which feature extraction clamps.
func (a *Accumulator) fold(s types.TelemetrySample) {
	if a.SampleCount == 0 {
		a.FirstTS = s.TimestampS
	}
	a.LastTS = s.TimestampS
	a.SampleCount++
	a.ResistanceSum += s.InternalResistance
	a.VoltageSum += s.Voltage
}

// Aggregator maintains the open accumulator for each device it has seen and
// detects cycle boundaries. The only closure signal in the stream is the
// cycle_id field changing value — cycles are never closed on elapsed time or
// sample count.
//
// An Aggregator is NOT safe for concurrent use. Callers must serialize all
// access; the pipeline does so by giving each device worker its own
// single-threaded consumer loop.
//
// The aggregator does not deduplicate: a sample delivered twice with an
// unchanged cycle_id accumulates twice. Deduplication, if wanted, belongs to
// the transport layer.
type Aggregator struct {
	open     map[string]*Accumulator
	lastSeen map[string]int64
}

// NewAggregator returns an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		open:     make(map[string]*Accumulator),
		lastSeen: make(map[string]int64),
	}
}

// Ingest folds one sample into the device's open accumulator.
//
// If the sample's cycle_id differs from the open accumulator's, the open
// cycle is closed first and returned; the new cycle then begins accumulating
// with this sample. The returned accumulator is detached — the caller owns
// it and the aggregator keeps no reference.
//
// A cycle_id lower than the highest previously seen for the device is
// rejected with ErrStaleCycle and mutates nothing.
func (a *Aggregator) Ingest(s types.TelemetrySample) (*Accumulator, error) {
	if last, ok := a.lastSeen[s.DeviceID]; ok && s.CycleID < last {
		return nil, fmt.Errorf("device %s cycle %d (last seen %d): %w",
			s.DeviceID, s.CycleID, last, ErrStaleCycle)
	}

	var closed *Accumulator
	acc, ok := a.open[s.DeviceID]
	if ok && acc.CycleID != s.CycleID {
		closed = acc
		ok = false
	}
	if !ok {
		acc = &Accumulator{DeviceID: s.DeviceID, CycleID: s.CycleID}
		a.open[s.DeviceID] = acc
	}

	acc.fold(s)
	a.lastSeen[s.DeviceID] = s.CycleID
	return closed, nil
}

// Flush force-closes the device's open cycle, returning its accumulator, or
// nil when the device has no open cycle. Used at stream shutdown so a
// partially-accumulated cycle is not silently dropped.
func (a *Aggregator) Flush(deviceID string) *Accumulator {
	acc, ok := a.open[deviceID]
	if !ok {
		return nil
	}
	delete(a.open, deviceID)
	return acc
}

// OpenDevices returns the device ids that currently have an open cycle.
func (a *Aggregator) OpenDevices() []string {
	out := make([]string, 0, len(a.open))
	for id := range a.open {
		out = append(out, id)
	}
	return out
}

// OpenCount returns the number of currently open accumulators.
func (a *Aggregator) OpenCount() int {
	return len(a.open)
}
