package solver

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/microdata-io/weight-calibrator/pkg/core"
)

// Engine is the common interface of all calibration engines.
type Engine interface {
	// Calibrate solves for adjusted weights reproducing the constraint
	// targets. It never mutates its inputs. Non-convergence is reported via
	// CalibrationResult.Success; errors are reserved for malformed inputs.
	Calibrate(originalWeights []float64, constraints []core.Constraint) (*core.CalibrationResult, error)
}

// Strategy is an enumeration of the available calibration engines
type Strategy int

// enumeration of Strategy
const (
	EntropyStrategy Strategy = iota
	RakingStrategy
	DescentStrategy
)

// ParseStrategy maps a configuration string to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "", "entropy":
		return EntropyStrategy, nil
	case "raking":
		return RakingStrategy, nil
	case "descent", "gradient":
		return DescentStrategy, nil
	default:
		return 0, fmt.Errorf("unknown calibration strategy %q", s)
	}
}

func (s Strategy) String() string {
	switch s {
	case EntropyStrategy:
		return "entropy"
	case RakingStrategy:
		return "raking"
	case DescentStrategy:
		return "descent"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// Config bundles per-engine settings. Zero values mean defaults.
type Config struct {
	Entropy EntropyConfig
	Raking  RakingConfig
	Descent DescentConfig
	Logger  *zap.Logger
}

// New is a factory that creates a calibration Engine for the given strategy.
func New(strategy Strategy, cfg Config) (Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	switch strategy {
	case EntropyStrategy:
		return NewEntropyCalibrator(cfg.Entropy, logger), nil
	case RakingStrategy:
		return NewRakingCalibrator(cfg.Raking, logger), nil
	case DescentStrategy:
		return NewDescentCalibrator(cfg.Descent, logger)
	default:
		return nil, fmt.Errorf("unsupported calibration strategy: %v", strategy)
	}
}
