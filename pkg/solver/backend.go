package solver

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// BackendKind selects the optimizer behind the gradient-descent engine.
type BackendKind string

const (
	// BackendAuto picks the preferred backend available at construction.
	BackendAuto BackendKind = "auto"

	// BackendAdam is the first-order adaptive optimizer.
	BackendAdam BackendKind = "adam"

	// BackendLBFGS is the bounded quasi-Newton fallback computing the same
	// objective with its closed-form gradient.
	BackendLBFGS BackendKind = "lbfgs"
)

// descentBackend minimizes a groupedObjective over log-weights. Both
// implementations share the objective/gradient contract; the choice is made
// once at engine construction, never per call.
type descentBackend interface {
	Name() string
	Minimize(obj *groupedObjective, logWeights []float64) (loss float64, iterations int, converged bool)
}

// newDescentBackend is the backend factory.
func newDescentBackend(kind BackendKind, cfg DescentConfig) (descentBackend, error) {
	switch kind {
	case BackendAuto, BackendAdam, "":
		return &adamBackend{
			epochs:       cfg.Epochs,
			learningRate: cfg.LearningRate,
		}, nil
	case BackendLBFGS:
		return &lbfgsBackend{maxIterations: cfg.Epochs}, nil
	default:
		return nil, fmt.Errorf("unsupported descent backend: %q", kind)
	}
}

// groupedObjective is the grouped mean squared relative error over
// log-weights:
//
//	loss = mean over groups of ( mean within group of ((A·exp(logw) − y)/(y+1))² )
//
// The +1 denominator offset smooths small-magnitude and zero targets; it is
// part of the objective's definition, not a numerical guard.
type groupedObjective struct {
	a       *mat.Dense // m x n constraint matrix
	targets []float64  // length m

	// normWeight[j] = 1/(size of j's group * number of groups), so every
	// group contributes equally to the loss regardless of how many
	// constraints it contains.
	normWeight []float64
}

func newGroupedObjective(a *mat.Dense, targets []float64, groups []string) *groupedObjective {
	m := len(targets)
	sizes := make(map[string]int, m)
	for _, g := range groups {
		sizes[g]++
	}
	nGroups := len(sizes)
	norm := make([]float64, m)
	for j, g := range groups {
		norm[j] = 1.0 / (float64(sizes[g]) * float64(nGroups))
	}
	return &groupedObjective{a: a, targets: targets, normWeight: norm}
}

// estimates computes A·exp(logw), writing exp(logw) into w.
func (o *groupedObjective) estimates(logWeights, w []float64) *mat.VecDense {
	for i := range logWeights {
		w[i] = math.Exp(logWeights[i])
	}
	var est mat.VecDense
	est.MulVec(o.a, mat.NewVecDense(len(w), w))
	return &est
}

func (o *groupedObjective) loss(logWeights []float64) float64 {
	w := make([]float64, len(logWeights))
	est := o.estimates(logWeights, w)
	loss := 0.0
	for j, y := range o.targets {
		r := (est.AtVec(j) - y) / (y + 1)
		loss += r * r * o.normWeight[j]
	}
	return loss
}

// grad writes the gradient of the loss with respect to log-weights into dst:
// chain rule through w = exp(logw) gives (Aᵀ r) ⊙ w with
// r_j = 2·normWeight_j·(est_j − y_j)/(y_j+1)².
func (o *groupedObjective) grad(dst, logWeights []float64) {
	n := len(logWeights)
	w := make([]float64, n)
	est := o.estimates(logWeights, w)

	m := len(o.targets)
	residual := make([]float64, m)
	for j, y := range o.targets {
		residual[j] = 2 * o.normWeight[j] * (est.AtVec(j) - y) / ((y + 1) * (y + 1))
	}

	var g mat.VecDense
	g.MulVec(o.a.T(), mat.NewVecDense(m, residual))
	for i := 0; i < n; i++ {
		dst[i] = g.AtVec(i) * w[i]
	}
}

// lbfgsBackend runs gonum's L-BFGS on the shared objective.
type lbfgsBackend struct {
	maxIterations int
}

func (b *lbfgsBackend) Name() string { return string(BackendLBFGS) }

func (b *lbfgsBackend) Minimize(obj *groupedObjective, logWeights []float64) (float64, int, bool) {
	problem := optimize.Problem{
		Func: obj.loss,
		Grad: obj.grad,
	}
	settings := &optimize.Settings{
		MajorIterations:   b.maxIterations,
		GradientThreshold: 1e-8,
	}
	result, err := optimize.Minimize(problem, logWeights, settings, &optimize.LBFGS{})
	if result == nil {
		return obj.loss(logWeights), 0, false
	}
	copy(logWeights, result.X)
	converged := err == nil
	switch result.Status {
	case optimize.GradientThreshold, optimize.FunctionConvergence,
		optimize.FunctionThreshold, optimize.StepConvergence:
		// keep converged
	default:
		converged = false
	}
	return result.F, result.Stats.MajorIterations, converged
}
