package solver

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/microdata-io/weight-calibrator/pkg/core"
)

// RakingConfig holds configuration for the RakingCalibrator.
type RakingConfig struct {
	// MaxIterations caps the number of full constraint sweeps.
	MaxIterations int

	// Damping moves each per-constraint correction only partway toward the
	// exact ratio: ratio = 1 + Damping*(target/achieved - 1).
	Damping float64

	// RatioMin and RatioMax clip the per-iteration ratio so one constraint
	// cannot overcorrect in a single step.
	RatioMin float64
	RatioMax float64

	// MaxAdjustment bounds the cumulative weight against the original:
	// after each sweep weights are clipped to
	// [original/MaxAdjustment, original*MaxAdjustment].
	MaxAdjustment float64

	// Tolerance is the max absolute relative error under which the sweep
	// loop stops.
	Tolerance float64
}

func (c RakingConfig) withDefaults() RakingConfig {
	if c.MaxIterations == 0 {
		c.MaxIterations = 100
	}
	if c.Damping == 0 {
		c.Damping = 0.5
	}
	if c.RatioMin == 0 {
		c.RatioMin = 0.8
	}
	if c.RatioMax == 0 {
		c.RatioMax = 1.25
	}
	if c.MaxAdjustment == 0 {
		c.MaxAdjustment = 3.0
	}
	if c.Tolerance == 0 {
		c.Tolerance = 0.05
	}
	return c
}

// RakingCalibrator implements iterative proportional fitting: each sweep
// rescales the weights toward every constraint in turn, with damping and
// clipping. It converges more slowly and less precisely than the entropy
// engine but tolerates ill-conditioned constraint sets, which makes it a
// useful fallback and cross-check.
type RakingCalibrator struct {
	cfg    RakingConfig
	logger *zap.Logger
}

// NewRakingCalibrator creates a RakingCalibrator, filling config defaults.
func NewRakingCalibrator(cfg RakingConfig, logger *zap.Logger) *RakingCalibrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RakingCalibrator{cfg: cfg.withDefaults(), logger: logger}
}

// applies reports whether record i belongs to the constraint's subset:
// exactly indicator==1 for count constraints, indicator!=0 for amount
// constraints (negative covariates are members too).
func applies(c core.Constraint, i int) bool {
	if c.Type == core.TargetCount {
		return c.Indicator[i] == 1
	}
	return c.Indicator[i] != 0
}

// Calibrate implements Engine.
func (r *RakingCalibrator) Calibrate(originalWeights []float64, constraints []core.Constraint) (*core.CalibrationResult, error) {
	if err := core.ValidateInputs(originalWeights, constraints); err != nil {
		return nil, fmt.Errorf("raking calibration: %w", err)
	}

	n := len(originalWeights)
	original := make([]float64, n)
	copy(original, originalWeights)
	weights := make([]float64, n)
	copy(weights, originalWeights)

	r.logger.Info("Raking calibration",
		zap.Int("records", n),
		zap.Int("constraints", len(constraints)))

	before := core.Diagnose(original, constraints)

	converged := false
	iterations := 0
	maxErr := math.Inf(1)
	for iter := 0; iter < r.cfg.MaxIterations; iter++ {
		iterations = iter + 1

		for _, c := range constraints {
			achieved := c.Achieved(weights)
			if c.TargetValue == 0 || achieved == 0 {
				continue
			}
			raw := c.TargetValue / achieved
			ratio := 1 + r.cfg.Damping*(raw-1)
			ratio = clamp(ratio, r.cfg.RatioMin, r.cfg.RatioMax)
			for i := 0; i < n; i++ {
				if applies(c, i) {
					weights[i] *= ratio
				}
			}
		}

		// Keep the cumulative adjustment within bounds of the original.
		for i := 0; i < n; i++ {
			weights[i] = clamp(weights[i], original[i]/r.cfg.MaxAdjustment, original[i]*r.cfg.MaxAdjustment)
		}

		maxErr = core.MaxAbsError(core.Diagnose(weights, constraints))
		if maxErr < r.cfg.Tolerance {
			converged = true
			break
		}
	}

	message := fmt.Sprintf("converged after %d iterations", iterations)
	if !converged {
		message = fmt.Sprintf("did not converge after %d iterations: max relative error %.4f",
			iterations, maxErr)
	}

	after := core.Diagnose(weights, constraints)
	kl := klDivergence(weights, original)
	r.logger.Info("Raking calibration finished",
		zap.Bool("success", converged),
		zap.Int("iterations", iterations),
		zap.Float64("maxRelError", maxErr),
		zap.Float64("klDivergence", kl))

	return &core.CalibrationResult{
		OriginalWeights:   original,
		CalibratedWeights: weights,
		AdjustmentFactors: adjustmentFactors(weights, original),
		Before:            before,
		After:             after,
		Success:           converged,
		Message:           message,
		Divergence:        kl,
		Iterations:        iterations,
	}, nil
}
