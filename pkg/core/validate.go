package core

import "fmt"

// ValidateInputs checks the fatal preconditions shared by every engine:
// a non-empty constraint list, strictly positive initial weights (the KL
// objective is undefined otherwise), and indicator vectors whose length
// matches the record count.
func ValidateInputs(weights []float64, constraints []Constraint) error {
	if len(constraints) == 0 {
		return fmt.Errorf("no constraints to calibrate to")
	}
	if len(weights) == 0 {
		return fmt.Errorf("empty weight vector")
	}
	for i, w := range weights {
		if w <= 0 {
			return fmt.Errorf("initial weight at index %d must be > 0, got %g", i, w)
		}
	}
	for _, c := range constraints {
		if len(c.Indicator) != len(weights) {
			return fmt.Errorf("constraint %q: indicator length %d does not match record count %d",
				c.Variable, len(c.Indicator), len(weights))
		}
	}
	return nil
}
