package solver

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/microdata-io/weight-calibrator/pkg/core"
)

// weightFloor guards the logarithms in the KL computation against exact
// zeros.
const weightFloor = 1e-10

// constraintMatrix assembles the m x n matrix A whose rows are the
// constraint indicators, and the length-m target vector y.
func constraintMatrix(constraints []core.Constraint, n int) (*mat.Dense, []float64) {
	m := len(constraints)
	a := mat.NewDense(m, n, nil)
	y := make([]float64, m)
	for j, c := range constraints {
		a.SetRow(j, c.Indicator)
		y[j] = c.TargetValue
	}
	return a, y
}

// klDivergence returns sum_i w_i * log(w_i / w0_i) with a small positive
// floor on both vectors.
func klDivergence(w, w0 []float64) float64 {
	sum := 0.0
	for i := range w {
		wi := math.Max(w[i], weightFloor)
		w0i := math.Max(w0[i], weightFloor)
		sum += wi * math.Log(wi/w0i)
	}
	return sum
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// adjustmentFactors returns w / w0 entrywise.
func adjustmentFactors(w, w0 []float64) []float64 {
	out := make([]float64, len(w))
	for i := range w {
		out[i] = w[i] / w0[i]
	}
	return out
}
