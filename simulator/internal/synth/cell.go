package synth

import (
	"math/rand"

	"github.com/celltwin/celltwin/pkg/types"
)

// Params tunes the aging model. Zero values fall back to the defaults of a
// fresh 18650-class cell.
type Params struct {
	// SamplesPerCycle is how many telemetry samples one discharge cycle
	// produces (default 30).
	SamplesPerCycle int

	// SampleIntervalS is the simulated seconds between samples (default 10).
	SampleIntervalS float64

	// InitialCapacityAh is the cell's starting capacity (default 1.85).
	InitialCapacityAh float64

	// FadePerCycle is the fraction of the remaining capacity lost each
	// cycle (default 0.0008).
	FadePerCycle float64

	// BaseResistance is the fresh-cell internal resistance in ohm
	// (default 0.055).
	BaseResistance float64

	// ResistanceGrowthPerCycle is the absolute ohm added per cycle
	// (default 0.00012).
	ResistanceGrowthPerCycle float64

	// NoiseFrac scales the Gaussian noise applied to each measurement
	// (default 0.01).
	NoiseFrac float64
}

func (p Params) withDefaults() Params {
	if p.SamplesPerCycle <= 0 {
		p.SamplesPerCycle = 30
	}
	if p.SampleIntervalS <= 0 {
		p.SampleIntervalS = 10
	}
	if p.InitialCapacityAh <= 0 {
		p.InitialCapacityAh = 1.85
	}
	if p.FadePerCycle <= 0 {
		p.FadePerCycle = 0.0008
	}
	if p.BaseResistance <= 0 {
		p.BaseResistance = 0.055
	}
	if p.ResistanceGrowthPerCycle <= 0 {
		p.ResistanceGrowthPerCycle = 0.00012
	}
	if p.NoiseFrac <= 0 {
		p.NoiseFrac = 0.01
	}
	return p
}

// Cell is one simulated battery. Next advances the simulation by one sample;
// the cycle id increments automatically every SamplesPerCycle samples. Not
// safe for concurrent use.
type Cell struct {
	deviceID string
	params   Params
	rng      *rand.Rand

	cycleID    int64
	sampleIdx  int
	ts         float64
	capacityAh float64
	resistance float64
}

// NewCell creates a simulated cell. Identical seeds produce identical
// telemetry streams.
func NewCell(deviceID string, seed int64, params Params) *Cell {
	p := params.withDefaults()
	return &Cell{
		deviceID:   deviceID,
		params:     p,
		rng:        rand.New(rand.NewSource(seed)), //nolint:gosec // simulation, not crypto
		capacityAh: p.InitialCapacityAh,
		resistance: p.BaseResistance,
	}
}

// CapacityAh returns the cell's current (faded) capacity.
func (c *Cell) CapacityAh() float64 { return c.capacityAh }

// Next produces the next telemetry sample, aging the cell at each cycle
// boundary.
func (c *Cell) Next() types.TelemetrySample {
	p := c.params

	// Position within the discharge, 0 at full charge, 1 at cutoff.
	depth := float64(c.sampleIdx) / float64(p.SamplesPerCycle)

	// Terminal voltage sags from 4.2 V to 3.0 V across the discharge, and
	// sits lower overall as the cell ages.
	agePenalty := 0.3 * (1 - c.capacityAh/p.InitialCapacityAh)
	voltage := 4.2 - 1.2*depth - agePenalty
	voltage *= 1 + c.noise()

	// Constant-current discharge at roughly 1C.
	current := -c.capacityAh * (1 + c.noise())

	temperature := 30.0 + 4.0*depth + 2.0*c.noise()

	resistance := c.resistance * (1 + c.noise())

	s := types.TelemetrySample{
		DeviceID:           c.deviceID,
		CycleID:            c.cycleID,
		TimestampS:         c.ts,
		Voltage:            voltage,
		Current:            current,
		Temperature:        temperature,
		InternalResistance: resistance,
	}

	c.ts += p.SampleIntervalS
	c.sampleIdx++
	if c.sampleIdx >= p.SamplesPerCycle {
		c.sampleIdx = 0
		c.cycleID++
		// Age the cell: fade capacity, grow resistance.
		c.capacityAh *= 1 - p.FadePerCycle
		c.resistance += p.ResistanceGrowthPerCycle
	}
	return s
}

// noise returns a Gaussian perturbation scaled by NoiseFrac.
func (c *Cell) noise() float64 {
	return c.rng.NormFloat64() * c.params.NoiseFrac
}
