package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/celltwin/celltwin/monitor/internal/alerts"
	"github.com/celltwin/celltwin/monitor/internal/cycle"
	"github.com/celltwin/celltwin/monitor/internal/metrics"
	"github.com/celltwin/celltwin/monitor/internal/predict"
	"github.com/celltwin/celltwin/monitor/internal/store"
	"github.com/celltwin/celltwin/pkg/types"
)

// Pipeline routes validated samples to per-device workers and runs the
// completion path (extract → score → evaluate → record → notify) when a
// cycle closes. Safe for concurrent use by multiple submitters.
type Pipeline struct {
	scorer   *predict.Scorer
	notifier *alerts.Notifier
	store    *store.Store

	queueSize  int
	maxDevices int

	// threshold is the live alert threshold, stored as float64 bits so
	// config hot-reload can swap it without locking the workers.
	threshold atomic.Uint64

	mu      sync.Mutex
	workers map[string]*worker
	closed  bool
	wg      sync.WaitGroup

	staleSamples    *metrics.Counter
	queueDropped    *metrics.Counter
	deviceDropped   *metrics.Counter
	cyclesCompleted *metrics.Counter
	emptyCycles     *metrics.Counter
	failedPredicts  *metrics.Counter
	clampedCycles   *metrics.Counter
	devicesTracked  *metrics.Gauge
}

// Options configures a Pipeline.
type Options struct {
	Threshold  float64
	QueueSize  int
	MaxDevices int
}

// New creates a Pipeline. Workers are spawned lazily, one per device id,
// up to MaxDevices.
func New(scorer *predict.Scorer, notifier *alerts.Notifier, st *store.Store,
	opts Options, reg *metrics.Registry) *Pipeline {

	p := &Pipeline{
		scorer:     scorer,
		notifier:   notifier,
		store:      st,
		queueSize:  opts.QueueSize,
		maxDevices: opts.MaxDevices,
		workers:    make(map[string]*worker),

		staleSamples:    reg.Counter("samples_stale_total", "Samples rejected for out-of-order cycle ids."),
		queueDropped:    reg.Counter("samples_dropped_queue_full_total", "Samples dropped because a device queue was full."),
		deviceDropped:   reg.Counter("samples_dropped_device_limit_total", "Samples dropped because the device limit was reached."),
		cyclesCompleted: reg.Counter("cycles_completed_total", "Discharge cycles closed and processed."),
		emptyCycles:     reg.Counter("empty_cycles_total", "Closed cycles with zero samples — indicates an aggregator bug."),
		failedPredicts:  reg.Counter("predictions_failed_total", "Completed cycles whose SoH prediction timed out or faulted."),
		clampedCycles:   reg.Counter("cycles_duration_clamped_total", "Cycles whose non-monotonic duration was clamped to zero."),
		devicesTracked:  reg.Gauge("devices_tracked", "Devices with an active pipeline worker."),
	}
	p.SetThreshold(opts.Threshold)
	return p
}

// SetThreshold updates the live alert threshold (config hot-reload).
func (p *Pipeline) SetThreshold(t float64) {
	p.threshold.Store(math.Float64bits(t))
}

// Threshold returns the current alert threshold.
func (p *Pipeline) Threshold() float64 {
	return math.Float64frombits(p.threshold.Load())
}

// Submit hands one validated sample to its device's worker, creating the
// worker on first sight of the device. Submit never blocks: when the
// device's queue is full the sample is dropped and counted, and when the
// device limit is reached samples for new devices are dropped and counted.
// After Close, Submit is a no-op.
func (p *Pipeline) Submit(s types.TelemetrySample) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	w, ok := p.workers[s.DeviceID]
	if !ok {
		if len(p.workers) >= p.maxDevices {
			p.deviceDropped.Inc()
			slog.Warn("pipeline: device limit reached — dropping sample",
				"device", s.DeviceID, "max_devices", p.maxDevices)
			return
		}
		w = &worker{
			device: s.DeviceID,
			ch:     make(chan types.TelemetrySample, p.queueSize),
			agg:    cycle.NewAggregator(),
		}
		p.workers[s.DeviceID] = w
		p.devicesTracked.Set(float64(len(p.workers)))
		p.wg.Add(1)
		go p.runWorker(w)
		slog.Info("pipeline: tracking new device", "device", s.DeviceID)
	}

	select {
	case w.ch <- s:
	default:
		p.queueDropped.Inc()
		slog.Warn("pipeline: device queue full — dropping sample",
			"device", s.DeviceID, "queue_cap", cap(w.ch))
	}
}

// Run blocks until ctx is cancelled, then closes the pipeline: every worker
// drains its queue, flushes its open accumulator, and exits. Run returns
// once all final cycles have been processed.
func (p *Pipeline) Run(ctx context.Context) {
	<-ctx.Done()
	p.Close()
}

// Close stops accepting samples and waits for the workers to drain and
// flush. Safe to call more than once.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.wg.Wait()
		return
	}
	p.closed = true
	for _, w := range p.workers {
		close(w.ch)
	}
	p.mu.Unlock()

	p.wg.Wait()
	slog.Info("pipeline: all device workers flushed")
}

// worker owns one device's aggregation state. Only its goroutine touches
// the aggregator, which is what makes the unsynchronized cycle.Aggregator
// safe here.
type worker struct {
	device string
	ch     chan types.TelemetrySample
	agg    *cycle.Aggregator
}

func (p *Pipeline) runWorker(w *worker) {
	defer p.wg.Done()

	for s := range w.ch {
		p.ingest(w, s)
	}

	// Channel closed — shutdown. Flush the open cycle so partially
	// accumulated data is not silently dropped.
	if acc := w.agg.Flush(w.device); acc != nil {
		slog.Info("pipeline: flushing open cycle at shutdown",
			"device", w.device, "cycle", acc.CycleID, "samples", acc.SampleCount)
		p.complete(acc)
	}
}

func (p *Pipeline) ingest(w *worker, s types.TelemetrySample) {
	closed, err := w.agg.Ingest(s)
	if err != nil {
		if errors.Is(err, cycle.ErrStaleCycle) {
			p.staleSamples.Inc()
			slog.Debug("pipeline: dropping stale sample", "err", err)
			return
		}
		slog.Error("pipeline: ingest failed", "device", w.device, "err", err)
		return
	}
	if closed != nil {
		p.complete(closed)
	}
}

// complete runs a closed accumulator through the remainder of the pipeline.
// Prediction failures still record the cycle's features; they never stop
// the stream.
func (p *Pipeline) complete(acc *cycle.Accumulator) {
	if acc.SampleCount > 0 && acc.LastTS < acc.FirstTS {
		p.clampedCycles.Inc()
	}

	cc, err := cycle.Extract(acc)
	if err != nil {
		// The aggregator never closes an empty cycle; reaching this
		// branch means the aggregator is broken. Count and shout.
		p.emptyCycles.Inc()
		slog.Error("pipeline: closed cycle had no samples — aggregator bug",
			"device", acc.DeviceID, "cycle", acc.CycleID, "err", err)
		return
	}
	p.cyclesCompleted.Inc()

	slog.Info("pipeline: cycle completed",
		"device", cc.DeviceID,
		"cycle", cc.CycleID,
		"samples", cc.Features.SampleCount,
		"avg_resistance", cc.Features.AvgResistance,
		"duration_s", cc.Features.DurationS,
	)

	rec := store.Record{
		DeviceID:   cc.DeviceID,
		CycleID:    cc.CycleID,
		Features:   cc.Features,
		RecordedAt: time.Now(),
	}

	est, err := p.scorer.Score(context.Background(), cc)
	if err != nil {
		p.failedPredicts.Inc()
		slog.Error("pipeline: prediction unavailable — features retained without estimate",
			"device", cc.DeviceID, "cycle", cc.CycleID, "err", err)
		p.store.Put(rec)
		return
	}

	dec := alerts.Evaluate(est, p.Threshold())
	rec.Estimate = &est
	rec.Decision = &dec
	p.store.Put(rec)

	slog.Info("pipeline: cycle scored",
		"device", est.DeviceID,
		"cycle", est.CycleID,
		"soh", est.SoH,
		"capacity_ah", est.CapacityAh,
		"severity", dec.Severity,
	)

	p.notifier.Notify(dec)
}
