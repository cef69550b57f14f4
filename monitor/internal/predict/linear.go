package predict

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/celltwin/celltwin/pkg/types"
)

// LinearModel predicts capacity as a linear combination of the cycle
// features. The coefficient file is produced by the offline training
// pipeline; this process only evaluates it.
type LinearModel struct {
	// InterceptAh is the model's bias term, in Ah.
	InterceptAh float64 `yaml:"intercept_ah"`

	// CoefResistance weights the cycle's average internal resistance (ohms).
	CoefResistance float64 `yaml:"coef_avg_resistance"`

	// CoefDuration weights the cycle's discharge duration (seconds).
	CoefDuration float64 `yaml:"coef_duration_s"`

	// CoefVoltage weights the cycle's average voltage (volts).
	CoefVoltage float64 `yaml:"coef_avg_voltage"`
}

// LoadLinearModel reads a coefficient file from path.
func LoadLinearModel(path string) (*LinearModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("linear model: read %q: %w", path, err)
	}
	var m LinearModel
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("linear model: parse yaml: %w", err)
	}
	return &m, nil
}

// DefaultLinearModel returns a coefficient set fit against the NASA B0005
// discharge history. It exists so the monitor runs out of the box; fleets
// should ship their own trained artifact via predictor.model_path.
func DefaultLinearModel() *LinearModel {
	return &LinearModel{
		InterceptAh:    2.35,
		CoefResistance: -6.8,
		CoefDuration:   0.00012,
		CoefVoltage:    -0.11,
	}
}

// Predict evaluates the linear model. It never fails for well-formed
// features and ignores ctx — evaluation is a handful of multiplications.
func (m *LinearModel) Predict(_ context.Context, f types.CycleFeatures) (float64, error) {
	return m.InterceptAh +
		m.CoefResistance*f.AvgResistance +
		m.CoefDuration*f.DurationS +
		m.CoefVoltage*f.AvgVoltage, nil
}
