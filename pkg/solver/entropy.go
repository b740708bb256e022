package solver

import (
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/microdata-io/weight-calibrator/pkg/core"
)

// EntropyConfig holds configuration for the EntropyCalibrator.
type EntropyConfig struct {
	// MinRatio and MaxRatio bound the final weight adjustment factor.
	MinRatio float64
	MaxRatio float64

	// MaxIterations caps the L-BFGS major iterations.
	MaxIterations int

	// Tolerance is the absolute function-convergence tolerance of the dual.
	Tolerance float64

	// GradientTolerance stops the optimizer once the largest constraint
	// violation (the dual gradient) falls below it.
	GradientTolerance float64

	// TargetTolerance is the max absolute relative error every constraint
	// must satisfy for the run to count as successful.
	TargetTolerance float64

	// LogAdjClip bounds the log-adjustment term before exponentiation
	// during optimization, preventing overflow.
	LogAdjClip float64
}

func (c EntropyConfig) withDefaults() EntropyConfig {
	if c.MinRatio == 0 {
		c.MinRatio = 0.2
	}
	if c.MaxRatio == 0 {
		c.MaxRatio = 5.0
	}
	if c.MaxIterations == 0 {
		c.MaxIterations = 200
	}
	if c.Tolerance == 0 {
		c.Tolerance = 1e-8
	}
	if c.GradientTolerance == 0 {
		c.GradientTolerance = 1e-6
	}
	if c.TargetTolerance == 0 {
		c.TargetTolerance = 0.05
	}
	if c.LogAdjClip == 0 {
		c.LogAdjClip = 10
	}
	return c
}

// EntropyCalibrator solves min_w sum_i w_i*log(w_i/w0_i) subject to A·w = y
// through the convex dual: instead of the n weights it optimizes the m
// Lagrange multipliers (m is typically two to three orders of magnitude
// smaller than n). The dual objective is
//
//	sum_i w0_i*exp((Aᵀλ)_i) − λ·y
//
// whose gradient is exactly achieved − target per constraint, so the
// optimization signal doubles as the diagnostic.
type EntropyCalibrator struct {
	cfg    EntropyConfig
	logger *zap.Logger
}

// NewEntropyCalibrator creates an EntropyCalibrator, filling config defaults.
func NewEntropyCalibrator(cfg EntropyConfig, logger *zap.Logger) *EntropyCalibrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EntropyCalibrator{cfg: cfg.withDefaults(), logger: logger}
}

// Calibrate implements Engine.
func (e *EntropyCalibrator) Calibrate(originalWeights []float64, constraints []core.Constraint) (*core.CalibrationResult, error) {
	if err := core.ValidateInputs(originalWeights, constraints); err != nil {
		return nil, fmt.Errorf("entropy calibration: %w", err)
	}

	n := len(originalWeights)
	m := len(constraints)
	a, y := constraintMatrix(constraints, n)

	e.logger.Info("Entropy calibration",
		zap.Int("records", n),
		zap.Int("constraints", m))

	// weightsFor applies w = w0 ⊙ exp(clip(Aᵀλ)) into dst, returning the sum.
	weightsFor := func(dst, lambda []float64, clip float64) float64 {
		lv := mat.NewVecDense(m, lambda)
		var adj mat.VecDense
		adj.MulVec(a.T(), lv)
		sum := 0.0
		for i := 0; i < n; i++ {
			dst[i] = originalWeights[i] * math.Exp(clamp(adj.AtVec(i), -clip, clip))
			sum += dst[i]
		}
		return sum
	}

	w := make([]float64, n)
	problem := optimize.Problem{
		Func: func(lambda []float64) float64 {
			return weightsFor(w, lambda, e.cfg.LogAdjClip) - floats.Dot(lambda, y)
		},
		Grad: func(grad, lambda []float64) {
			weightsFor(w, lambda, e.cfg.LogAdjClip)
			wv := mat.NewVecDense(n, w)
			var achieved mat.VecDense
			achieved.MulVec(a, wv)
			for j := 0; j < m; j++ {
				grad[j] = achieved.AtVec(j) - y[j]
			}
		},
	}

	settings := &optimize.Settings{
		MajorIterations:   e.cfg.MaxIterations,
		GradientThreshold: e.cfg.GradientTolerance,
		Converger: &optimize.FunctionConverge{
			Absolute:   e.cfg.Tolerance,
			Iterations: 20,
		},
	}

	lambda := make([]float64, m) // zeros: no adjustment
	converged := false
	stalled := false
	iterations := 0
	message := ""

	result, err := optimize.Minimize(problem, lambda, settings, &optimize.LBFGS{})
	switch {
	case result == nil:
		message = fmt.Sprintf("optimizer failed: %v", err)
	default:
		copy(lambda, result.X)
		iterations = result.Stats.MajorIterations
		switch result.Status {
		case optimize.GradientThreshold, optimize.FunctionConvergence,
			optimize.FunctionThreshold, optimize.StepConvergence:
			converged = true
			message = fmt.Sprintf("converged: %v", result.Status)
		default:
			// The linesearch gives up when the dual is already flat at the
			// optimum. Keep the returned point and judge it by its realized
			// constraint errors below.
			stalled = true
			if err != nil {
				message = fmt.Sprintf("optimizer stopped early: %v", err)
			} else {
				message = fmt.Sprintf("optimizer stopped early: %v", result.Status)
			}
		}
	}

	// Final weights: ratio additionally clipped to the configured bounds.
	calibrated := make([]float64, n)
	lv := mat.NewVecDense(m, lambda)
	var adj mat.VecDense
	adj.MulVec(a.T(), lv)
	logMin, logMax := math.Log(e.cfg.MinRatio), math.Log(e.cfg.MaxRatio)
	for i := 0; i < n; i++ {
		calibrated[i] = originalWeights[i] * math.Exp(clamp(adj.AtVec(i), logMin, logMax))
	}

	before := core.Diagnose(originalWeights, constraints)
	after := core.Diagnose(calibrated, constraints)
	maxErr := core.MaxAbsError(after)

	if stalled && maxErr < e.cfg.TargetTolerance {
		converged = true
		message = fmt.Sprintf("converged at stall point: max relative error %.2g", maxErr)
	}

	// Convergence of the optimizer alone is not enough: if the ratio bounds
	// bind, constraints can still be violated past tolerance.
	success := converged && maxErr < e.cfg.TargetTolerance
	if converged && !success {
		message = fmt.Sprintf("converged but max relative error %.4f exceeds tolerance %.4f",
			maxErr, e.cfg.TargetTolerance)
	}

	kl := klDivergence(calibrated, originalWeights)
	e.logger.Info("Entropy calibration finished",
		zap.Bool("success", success),
		zap.Int("iterations", iterations),
		zap.Float64("maxRelError", maxErr),
		zap.Float64("klDivergence", kl))

	original := make([]float64, n)
	copy(original, originalWeights)
	return &core.CalibrationResult{
		OriginalWeights:   original,
		CalibratedWeights: calibrated,
		AdjustmentFactors: adjustmentFactors(calibrated, original),
		Before:            before,
		After:             after,
		Success:           success,
		Message:           message,
		Divergence:        kl,
		Iterations:        iterations,
	}, nil
}
