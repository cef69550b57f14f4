package predict

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/celltwin/celltwin/monitor/internal/config"
	"github.com/celltwin/celltwin/pkg/types"
)

// ErrUnavailable reports a prediction that could not be obtained — a timeout
// or a fault in the scoring collaborator. The completed cycle's features are
// still recorded upstream; no retry is attempted, so a sustained predictor
// outage cannot build an unbounded backlog.
var ErrUnavailable = errors.New("predictor unavailable")

// Predictor maps a cycle's feature vector to a predicted capacity in Ah.
// Implementations must be deterministic for identical input and total for
// well-formed features; they may block, which is why the Scorer bounds them.
type Predictor interface {
	Predict(ctx context.Context, f types.CycleFeatures) (float64, error)
}

// Scorer wraps a Predictor with a call timeout and converts predicted
// capacity to a SoH estimate against the reference capacity.
type Scorer struct {
	predictor   Predictor
	timeout     time.Duration
	refCapacity float64
	now         func() time.Time // injectable for deterministic tests
}

// NewScorer builds a Scorer from the predictor configuration.
func NewScorer(p Predictor, cfg config.PredictorConfig) *Scorer {
	return &Scorer{
		predictor:   p,
		timeout:     cfg.Timeout,
		refCapacity: cfg.ReferenceCapacityAh,
		now:         time.Now,
	}
}

// Score predicts the SoH estimate for one completed cycle. The underlying
// predictor call is bounded by the configured timeout; on expiry the call is
// abandoned (not awaited) and ErrUnavailable is returned.
//
// The SoH fraction is capacity / reference capacity, reported as-is — a
// degenerate model output outside [0, 1] is tolerated, not clamped.
func (s *Scorer) Score(ctx context.Context, cc types.CompletedCycle) (types.SoHEstimate, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type outcome struct {
		capacity float64
		err      error
	}
	done := make(chan outcome, 1)
	go func() {
		capacity, err := s.predictor.Predict(callCtx, cc.Features)
		done <- outcome{capacity, err}
	}()

	select {
	case <-callCtx.Done():
		return types.SoHEstimate{}, fmt.Errorf("predict %s/%d: %v: %w",
			cc.DeviceID, cc.CycleID, callCtx.Err(), ErrUnavailable)
	case out := <-done:
		if out.err != nil {
			return types.SoHEstimate{}, fmt.Errorf("predict %s/%d: %v: %w",
				cc.DeviceID, cc.CycleID, out.err, ErrUnavailable)
		}
		return types.SoHEstimate{
			DeviceID:   cc.DeviceID,
			CycleID:    cc.CycleID,
			SoH:        out.capacity / s.refCapacity,
			CapacityAh: out.capacity,
			ComputedAt: s.now(),
		}, nil
	}
}

// New builds the configured Predictor implementation.
func New(cfg config.PredictorConfig) (Predictor, error) {
	switch cfg.Mode {
	case "linear":
		if cfg.ModelPath == "" {
			return DefaultLinearModel(), nil
		}
		return LoadLinearModel(cfg.ModelPath)
	case "http":
		return NewHTTPScorer(cfg.Endpoint, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("predictor mode %q unknown", cfg.Mode)
	}
}
