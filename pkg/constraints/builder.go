package constraints

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/microdata-io/weight-calibrator/pkg/core"
)

const (
	// DefaultMinObservations is the smallest member count a bracket needs
	// before it yields a constraint. Smaller strata are statistically
	// unstable: a single outlier record could swing the calibrated total.
	DefaultMinObservations = 100

	// DefaultTolerance is the allowed fractional deviation per constraint.
	DefaultTolerance = 0.05
)

// Options configures constraint building.
type Options struct {
	MinObservations int
	Tolerance       float64
	Logger          *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.MinObservations == 0 {
		o.MinObservations = DefaultMinObservations
	}
	if o.Tolerance == 0 {
		o.Tolerance = DefaultTolerance
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// TargetSet holds per-bracket national targets for a single covariate:
// counts of records per bracket and, optionally, the covariate total per
// bracket.
type TargetSet struct {
	// CountVariable and AmountVariable name the measured quantities,
	// e.g. "returns" and "agi". They prefix constraint variable labels.
	CountVariable  string
	AmountVariable string

	Counts  map[string]float64
	Amounts map[string]float64
}

// Build derives calibration constraints from a covariate vector and a
// per-bracket target set. Every record is assigned to exactly one bracket;
// brackets with a known count target and at least MinObservations members
// yield a count constraint, plus an amount constraint when the bracket has a
// nonzero amount target. Output order follows the bracket table, so repeated
// runs produce identical constraint lists.
//
// Build is a pure function of its inputs apart from logging.
func Build(covariate []float64, table *BracketTable, targets TargetSet, opts Options) []core.Constraint {
	opts = opts.withDefaults()
	n := len(covariate)
	labels := table.AssignAll(covariate)

	var out []core.Constraint
	for _, b := range table.Brackets {
		countTarget, hasCount := targets.Counts[b.Name]
		if !hasCount {
			continue
		}

		indicator := make([]float64, n)
		members := 0
		for i, label := range labels {
			if label == b.Name {
				indicator[i] = 1
				members++
			}
		}

		if members < opts.MinObservations {
			opts.Logger.Info("Skipping bracket with too few observations",
				zap.String("bracket", b.Name),
				zap.Int("observations", members),
				zap.Int("minObservations", opts.MinObservations))
			continue
		}

		out = append(out, core.Constraint{
			Indicator:   indicator,
			TargetValue: countTarget,
			Variable:    fmt.Sprintf("%s_%s", targets.CountVariable, b.Name),
			Type:        core.TargetCount,
			Tolerance:   opts.Tolerance,
			Stratum:     fmt.Sprintf("Records with %s in %s", table.Covariate, b.Name),
		})

		amountTarget, hasAmount := targets.Amounts[b.Name]
		if !hasAmount || amountTarget == 0 {
			// Zero amounts (the zero/undefined bracket) would produce an
			// all-zero indicator, which constrains nothing.
			continue
		}
		amount := make([]float64, n)
		nonzero := 0
		for i, label := range labels {
			if label == b.Name && covariate[i] != 0 {
				amount[i] = covariate[i]
				nonzero++
			}
		}
		if nonzero == 0 {
			opts.Logger.Info("Skipping degenerate amount constraint",
				zap.String("bracket", b.Name))
			continue
		}
		out = append(out, core.Constraint{
			Indicator:   amount,
			TargetValue: amountTarget,
			Variable:    fmt.Sprintf("%s_%s", targets.AmountVariable, b.Name),
			Type:        core.TargetAmount,
			Tolerance:   opts.Tolerance,
			Stratum:     fmt.Sprintf("Total %s for %s in %s", targets.AmountVariable, table.Covariate, b.Name),
		})
	}

	opts.Logger.Info("Built constraints",
		zap.Int("constraints", len(out)),
		zap.Int("records", n),
		zap.String("bracketTable", table.Version))
	return out
}
