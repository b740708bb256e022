package core

import (
	"math"
	"sort"
)

// TargetType says whether a target is a population count, a monetary amount,
// or a rate.
type TargetType string

const (
	TargetCount  TargetType = "count"
	TargetAmount TargetType = "amount"
	TargetRate   TargetType = "rate"
)

// Target is one administrative total as stored by a target source.
type Target struct {
	// Name is a stable identifier, conventionally "<geo>/<variable>/<bracket>".
	Name string `yaml:"name"`

	// GeographicID is "US" for national targets, a 2-digit state FIPS code
	// for state targets, and a longer code for sub-state geographies.
	GeographicID string `yaml:"geographic_id"`

	// Variable is the measured quantity, e.g. "returns" or "agi".
	Variable string `yaml:"variable"`

	// Bracket is the covariate bracket label, or "all" for unbracketed totals.
	Bracket string `yaml:"bracket"`

	// Period is the reference period, e.g. "2021".
	Period string `yaml:"period,omitempty"`

	// Value is the administrative total. Negative totals occur (net losses).
	Value float64 `yaml:"value"`

	Type TargetType `yaml:"type"`
}

// Constraint is one linear calibration constraint: the weighted sum of
// Indicator over all records must reproduce TargetValue.
type Constraint struct {
	// Indicator has one entry per record: 0/1 membership for count
	// constraints, the per-record magnitude for amount constraints.
	Indicator []float64

	// TargetValue is the administrative total to reproduce.
	TargetValue float64

	// Variable identifies the constraint in diagnostics; not used in the math.
	Variable string

	Type TargetType

	// Tolerance is the allowed fractional deviation (0.05 = 5%). It is
	// diagnostic metadata: engines judge success against their configured
	// target tolerance, not per constraint.
	Tolerance float64

	// Group is the loss-normalization bucket used by the gradient-descent
	// engine. Empty for engines that do not group.
	Group string

	// Stratum is a human-readable description of the population subgroup.
	Stratum string
}

// Achieved returns the weighted sum of the constraint indicator.
func (c Constraint) Achieved(weights []float64) float64 {
	sum := 0.0
	for i, v := range c.Indicator {
		if v != 0 {
			sum += weights[i] * v
		}
	}
	return sum
}

// RelativeError returns (achieved - target) / target, or exactly 0 when the
// target is 0 so that zero targets never produce NaN or Inf.
func (c Constraint) RelativeError(weights []float64) float64 {
	if c.TargetValue == 0 {
		return 0
	}
	return (c.Achieved(weights) - c.TargetValue) / c.TargetValue
}

// Diagnostic reports one constraint's achieved value against its target.
type Diagnostic struct {
	Variable string
	Group    string
	Target   float64
	Achieved float64
	RelError float64
}

// Diagnose evaluates every constraint under the given weights.
func Diagnose(weights []float64, constraints []Constraint) []Diagnostic {
	out := make([]Diagnostic, len(constraints))
	for i, c := range constraints {
		out[i] = Diagnostic{
			Variable: c.Variable,
			Group:    c.Group,
			Target:   c.TargetValue,
			Achieved: c.Achieved(weights),
			RelError: c.RelativeError(weights),
		}
	}
	return out
}

// SortByAbsError orders diagnostics worst-first for offender reporting.
func SortByAbsError(diags []Diagnostic) {
	sort.SliceStable(diags, func(i, j int) bool {
		return math.Abs(diags[i].RelError) > math.Abs(diags[j].RelError)
	})
}

// MaxAbsError returns the largest absolute relative error, 0 for no diagnostics.
func MaxAbsError(diags []Diagnostic) float64 {
	maxErr := 0.0
	for _, d := range diags {
		if e := math.Abs(d.RelError); e > maxErr {
			maxErr = e
		}
	}
	return maxErr
}

// CalibrationResult is the immutable outcome of one calibration run.
type CalibrationResult struct {
	OriginalWeights   []float64
	CalibratedWeights []float64

	// AdjustmentFactors is CalibratedWeights / OriginalWeights, entrywise.
	AdjustmentFactors []float64

	// Before and After hold per-constraint diagnostics evaluated under the
	// original and calibrated weights respectively, in constraint order.
	Before []Diagnostic
	After  []Diagnostic

	// Success means the engine converged and every constraint is within
	// tolerance. A false value is a report, not an error: the best-effort
	// weights are still populated.
	Success bool
	Message string

	// Divergence is the engine's scalar quality metric: realized KL
	// divergence for the entropy and raking engines, final grouped loss for
	// the gradient-descent engine.
	Divergence float64

	// Iterations is the number of optimizer iterations or sweeps consumed.
	Iterations int
}
