package solver

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/microdata-io/weight-calibrator/pkg/core"
)

// DescentConfig holds configuration for the DescentCalibrator.
type DescentConfig struct {
	// Epochs is the fixed optimization budget.
	Epochs int

	// LearningRate is the Adam step size.
	LearningRate float64

	// Backend selects the optimizer implementation; BackendAuto prefers Adam.
	Backend BackendKind

	// TargetTolerance is the max absolute relative error (with the +1
	// denominator offset) every constraint must satisfy for Success.
	TargetTolerance float64
}

func (c DescentConfig) withDefaults() DescentConfig {
	if c.Epochs == 0 {
		c.Epochs = 500
	}
	if c.LearningRate == 0 {
		c.LearningRate = 0.3
	}
	if c.Backend == "" {
		c.Backend = BackendAuto
	}
	if c.TargetTolerance == 0 {
		c.TargetTolerance = 0.05
	}
	return c
}

// DescentCalibrator minimizes grouped mean squared relative error directly
// over log-weights with a first-order optimizer. Optimizing log(weight)
// rather than the weight itself guarantees positivity without explicit bound
// constraints. Grouping keeps a geography with many fine-grained constraints
// (fifty states) from dominating a geography with one (national).
type DescentCalibrator struct {
	cfg     DescentConfig
	backend descentBackend
	logger  *zap.Logger
}

// NewDescentCalibrator creates a DescentCalibrator, selecting the optimizer
// backend once at construction.
func NewDescentCalibrator(cfg DescentConfig, logger *zap.Logger) (*DescentCalibrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	backend, err := newDescentBackend(cfg.Backend, cfg)
	if err != nil {
		return nil, err
	}
	return &DescentCalibrator{cfg: cfg, backend: backend, logger: logger}, nil
}

// Calibrate implements Engine.
func (d *DescentCalibrator) Calibrate(originalWeights []float64, constraints []core.Constraint) (*core.CalibrationResult, error) {
	if err := core.ValidateInputs(originalWeights, constraints); err != nil {
		return nil, fmt.Errorf("descent calibration: %w", err)
	}

	n := len(originalWeights)
	m := len(constraints)
	a, y := constraintMatrix(constraints, n)

	groups := make([]string, m)
	for j, c := range constraints {
		groups[j] = c.Group
		if groups[j] == "" {
			groups[j] = "default"
		}
	}
	obj := newGroupedObjective(a, y, groups)

	d.logger.Info("Gradient-descent calibration",
		zap.Int("records", n),
		zap.Int("constraints", m),
		zap.String("backend", d.backend.Name()))

	logWeights := make([]float64, n)
	for i, w := range originalWeights {
		logWeights[i] = math.Log(w + weightFloor)
	}

	loss, iterations, converged := d.backend.Minimize(obj, logWeights)

	calibrated := make([]float64, n)
	for i := range logWeights {
		calibrated[i] = math.Exp(logWeights[i])
	}

	original := make([]float64, n)
	copy(original, originalWeights)
	before := diagnoseOffset(original, constraints)
	after := diagnoseOffset(calibrated, constraints)
	maxErr := core.MaxAbsError(after)

	success := converged && maxErr < d.cfg.TargetTolerance
	message := fmt.Sprintf("final loss %.6g after %d epochs (%s backend)", loss, iterations, d.backend.Name())
	if !success {
		message = fmt.Sprintf("max relative error %.4f exceeds tolerance %.4f; %s",
			maxErr, d.cfg.TargetTolerance, message)
	}

	d.logger.Info("Gradient-descent calibration finished",
		zap.Bool("success", success),
		zap.Float64("loss", loss),
		zap.Float64("maxRelError", maxErr),
		zap.Int("epochs", iterations))

	return &core.CalibrationResult{
		OriginalWeights:   original,
		CalibratedWeights: calibrated,
		AdjustmentFactors: adjustmentFactors(calibrated, original),
		Before:            before,
		After:             after,
		Success:           success,
		Message:           message,
		Divergence:        loss,
		Iterations:        iterations,
	}, nil
}

// diagnoseOffset evaluates constraints with the descent engine's relative
// error convention: (achieved − target)/(target + 1).
func diagnoseOffset(weights []float64, constraints []core.Constraint) []core.Diagnostic {
	out := make([]core.Diagnostic, len(constraints))
	for i, c := range constraints {
		achieved := c.Achieved(weights)
		out[i] = core.Diagnostic{
			Variable: c.Variable,
			Group:    c.Group,
			Target:   c.TargetValue,
			Achieved: achieved,
			RelError: (achieved - c.TargetValue) / (c.TargetValue + 1),
		}
	}
	return out
}
