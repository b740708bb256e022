package constraints

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/microdata-io/weight-calibrator/pkg/core"
)

// geoLevel buckets a geographic identifier: 0 national, 1 state (2-digit
// FIPS), 2 anything finer (county, district, ZIP).
func geoLevel(geoID string) int {
	switch {
	case geoID == "US":
		return 0
	case len(geoID) == 2:
		return 1
	default:
		return 2
	}
}

// BuildGrouped derives one constraint per target from a full target list
// spanning multiple geographic levels, for the gradient-descent engine.
// Each constraint is tagged with a group derived from its (geographic level,
// variable) pair, so that during loss normalization fifty state constraints
// weigh the same as one national constraint.
//
// geography holds the per-record geographic code ("US"-level targets match
// every record). Count targets get a 0/1 indicator, amount targets the
// covariate masked to matching records.
func BuildGrouped(covariate []float64, geography []string, table *BracketTable, targets []core.Target, opts Options) ([]core.Constraint, error) {
	opts = opts.withDefaults()
	n := len(covariate)
	if len(geography) != 0 && len(geography) != n {
		return nil, fmt.Errorf("geography length %d does not match record count %d", len(geography), n)
	}
	labels := table.AssignAll(covariate)

	out := make([]core.Constraint, 0, len(targets))
	for _, t := range targets {
		indicator := make([]float64, n)
		members := 0
		for i := 0; i < n; i++ {
			if t.GeographicID != "US" {
				if len(geography) == 0 || geography[i] != t.GeographicID {
					continue
				}
			}
			if t.Bracket != "all" && labels[i] != t.Bracket {
				continue
			}
			switch t.Type {
			case core.TargetAmount:
				indicator[i] = covariate[i]
			default:
				indicator[i] = 1
			}
			members++
		}

		if members == 0 {
			opts.Logger.Info("Target matches no records",
				zap.String("target", t.Name))
		}

		out = append(out, core.Constraint{
			Indicator:   indicator,
			TargetValue: t.Value,
			Variable:    t.Name,
			Type:        t.Type,
			Tolerance:   opts.Tolerance,
			Group:       fmt.Sprintf("%d/%s", geoLevel(t.GeographicID), t.Variable),
			Stratum:     fmt.Sprintf("%s %s %s", t.GeographicID, t.Variable, t.Bracket),
		})
	}

	opts.Logger.Info("Built grouped constraints",
		zap.Int("constraints", len(out)),
		zap.Int("records", n))
	return out, nil
}
