package solver

import "math"

// adamBackend is a plain Adam implementation over the shared objective.
// Initialization is deterministic (the caller passes log of the initial
// weights), so repeated runs on identical inputs produce identical results.
type adamBackend struct {
	epochs       int
	learningRate float64
}

const (
	adamBeta1   = 0.9
	adamBeta2   = 0.999
	adamEpsilon = 1e-8
)

func (b *adamBackend) Name() string { return string(BackendAdam) }

func (b *adamBackend) Minimize(obj *groupedObjective, logWeights []float64) (float64, int, bool) {
	n := len(logWeights)
	grad := make([]float64, n)
	m1 := make([]float64, n) // first-moment estimate
	m2 := make([]float64, n) // second-moment estimate

	for epoch := 1; epoch <= b.epochs; epoch++ {
		obj.grad(grad, logWeights)

		bias1 := 1 - math.Pow(adamBeta1, float64(epoch))
		bias2 := 1 - math.Pow(adamBeta2, float64(epoch))
		for i := 0; i < n; i++ {
			m1[i] = adamBeta1*m1[i] + (1-adamBeta1)*grad[i]
			m2[i] = adamBeta2*m2[i] + (1-adamBeta2)*grad[i]*grad[i]
			mHat := m1[i] / bias1
			vHat := m2[i] / bias2
			logWeights[i] -= b.learningRate * mHat / (math.Sqrt(vHat) + adamEpsilon)
		}
	}

	// Adam runs its full epoch budget; success is judged against the
	// target tolerance by the engine, not here.
	return obj.loss(logWeights), b.epochs, true
}
