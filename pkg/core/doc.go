// Package core provides the domain model shared by the calibration engines.
//
// The types in this package describe the calibration problem independently of
// any particular algorithm or storage backend:
//
//   - Target: an administrative total as published by a statistical agency
//     (a count of returns, a total amount, or a rate), keyed by geography,
//     variable, bracket and period.
//   - Constraint: one linear constraint over the microdata — a per-record
//     indicator vector together with the target value the weighted sum of
//     that vector must reproduce.
//   - CalibrationResult: the immutable outcome of one calibration run,
//     holding both weight vectors and per-constraint diagnostics.
//
// Engines in pkg/solver consume []Constraint and produce a
// *CalibrationResult; they never mutate their inputs. The caller decides
// whether and how to write calibrated weights back to the record store.
package core
