// Package solver implements the weight-calibration engines.
//
// All engines solve the same problem: given a vector of positive survey
// weights and a set of linear constraints (pkg/core), find adjusted weights
// whose weighted aggregates reproduce the constraint targets while staying
// close to the original weights.
//
// Key Components:
//
//   - Engine: the common calibration interface
//   - EntropyCalibrator: the canonical engine; minimizes KL divergence from
//     the original weights via its convex dual, optimizing one Lagrange
//     multiplier per constraint with L-BFGS
//   - RakingCalibrator: iterative proportional fitting with damping and
//     clipping; slower and less precise, but more robust to ill-conditioned
//     (correlated or overlapping) constraint sets
//   - DescentCalibrator: first-order minimization of grouped squared
//     relative error over log-weights; supports national plus sub-national
//     constraint groups with group-wise loss normalization
//
// Example usage:
//
//	engine, err := solver.New(solver.EntropyStrategy, solver.Config{Logger: logger})
//	if err != nil {
//	    return err
//	}
//	result, err := engine.Calibrate(weights, constraints)
//	if err != nil {
//	    return err
//	}
//	if !result.Success {
//	    logger.Warn("calibration did not converge", zap.String("message", result.Message))
//	}
//
// A failed convergence is reported through CalibrationResult.Success, never
// as an error: the best-effort weights are always returned and callers must
// inspect the flag. Errors are reserved for malformed inputs (mismatched
// indicator lengths, non-positive initial weights, empty constraint lists).
//
// The engines are single-threaded, synchronous and deterministic: the same
// inputs produce the same calibrated weights.
package solver
