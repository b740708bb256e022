package solver

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/microdata-io/weight-calibrator/pkg/core"
)

func TestGroupedObjectiveLoss(t *testing.T) {
	// Two groups: group "a" has two constraints, group "b" has one. The loss
	// is the mean of per-group means, so "b"'s single constraint carries as
	// much weight as both of "a"'s together.
	a := mat.NewDense(3, 2, []float64{
		1, 1,
		1, 0,
		0, 1,
	})
	targets := []float64{4, 1, 1}
	obj := newGroupedObjective(a, targets, []string{"a", "a", "b"})

	logw := []float64{math.Log(1), math.Log(1)} // weights (1, 1)
	// estimates: (2, 1, 1); relative errors: (-2/5, 0, 0)
	want := ((math.Pow(-2.0/5.0, 2)+0)/2 + 0) / 2
	assert.InDelta(t, want, obj.loss(logw), 1e-12)
}

func TestGroupedObjectiveGradientMatchesFiniteDifference(t *testing.T) {
	a := mat.NewDense(3, 4, []float64{
		1, 1, 0, 0,
		0, 5000, 10000, 0,
		1, 1, 1, 1,
	})
	targets := []float64{3, 20000, 5}
	obj := newGroupedObjective(a, targets, []string{"0/returns", "0/agi", "1/returns"})

	logw := []float64{0.1, -0.2, 0.3, 0.05}
	grad := make([]float64, 4)
	obj.grad(grad, logw)

	const h = 1e-6
	for i := range logw {
		up := append([]float64(nil), logw...)
		dn := append([]float64(nil), logw...)
		up[i] += h
		dn[i] -= h
		numeric := (obj.loss(up) - obj.loss(dn)) / (2 * h)
		assert.InDeltaf(t, numeric, grad[i], 1e-4*math.Max(1, math.Abs(numeric)),
			"gradient component %d", i)
	}
}

func TestDescentAlreadySatisfied(t *testing.T) {
	n := 1000
	weights := onesVector(n)
	cs := []core.Constraint{countConstraint("total", n, 1000)}

	engine, err := NewDescentCalibrator(DescentConfig{Backend: BackendLBFGS}, nil)
	require.NoError(t, err)
	res, err := engine.Calibrate(weights, cs)
	require.NoError(t, err)

	assert.True(t, res.Success, "message: %s", res.Message)
	assert.InDelta(t, 0, res.Divergence, 1e-6)
	for i, w := range res.CalibratedWeights {
		assert.InDeltaf(t, 1.0, w, 1e-6, "weight %d", i)
	}
}

func TestDescentAdamScaleUp(t *testing.T) {
	// Adam holds a constant step size, so it settles into a small
	// oscillation around the optimum rather than converging to machine
	// precision; assert a loose band.
	n := 100
	weights := onesVector(n)
	cs := []core.Constraint{countConstraint("total", n, 200)}

	engine, err := NewDescentCalibrator(DescentConfig{Backend: BackendAdam}, nil)
	require.NoError(t, err)
	res, err := engine.Calibrate(weights, cs)
	require.NoError(t, err)

	assert.Less(t, core.MaxAbsError(res.After), 0.1, "message: %s", res.Message)
	for i, w := range res.CalibratedWeights {
		assert.InDeltaf(t, 2.0, w, 0.3, "weight %d", i)
		assert.Greaterf(t, w, 0.0, "weight %d", i)
	}
}

func TestDescentUniformScaleUpLBFGS(t *testing.T) {
	n := 50
	weights := onesVector(n)
	cs := []core.Constraint{countConstraint("total", n, 100)}

	engine, err := NewDescentCalibrator(DescentConfig{Backend: BackendLBFGS}, nil)
	require.NoError(t, err)
	res, err := engine.Calibrate(weights, cs)
	require.NoError(t, err)

	require.True(t, res.Success, "message: %s", res.Message)
	for i, w := range res.CalibratedWeights {
		assert.InDeltaf(t, 2.0, w, 0.05, "weight %d", i)
	}
}

func TestDescentPositivityAndDeterminism(t *testing.T) {
	n := 400
	weights := make([]float64, n)
	income := make([]float64, n)
	geoCount := make([]float64, n)
	for i := range weights {
		weights[i] = 1 + float64(i%4)*0.25
		income[i] = float64((i % 10) * 10000)
		if i < 100 {
			geoCount[i] = 1
		}
	}
	cs := []core.Constraint{
		{Indicator: onesVector(n), TargetValue: 800, Variable: "US/returns/all", Type: core.TargetCount, Group: "0/returns", Tolerance: 0.05},
		{Indicator: income, TargetValue: 3e7, Variable: "US/agi/all", Type: core.TargetAmount, Group: "0/agi", Tolerance: 0.05},
		{Indicator: geoCount, TargetValue: 180, Variable: "06/returns/all", Type: core.TargetCount, Group: "1/returns", Tolerance: 0.05},
	}

	engine, err := NewDescentCalibrator(DescentConfig{Backend: BackendAdam}, nil)
	require.NoError(t, err)

	res, err := engine.Calibrate(weights, cs)
	require.NoError(t, err)

	// Log-space optimization guarantees positivity without bound constraints.
	for i, w := range res.CalibratedWeights {
		assert.Greaterf(t, w, 0.0, "weight %d", i)
	}

	// Deterministic initialization makes repeated runs identical.
	res2, err := engine.Calibrate(weights, cs)
	require.NoError(t, err)
	assert.Equal(t, res.CalibratedWeights, res2.CalibratedWeights)
}

func TestDescentOffsetErrorConvention(t *testing.T) {
	// The descent engine's diagnostics use the (target + 1) denominator, so
	// even a zero target yields a finite error.
	n := 10
	weights := onesVector(n)
	zero := make([]float64, n)
	zero[0] = 1
	cs := []core.Constraint{
		countConstraint("total", n, 10),
		{Indicator: zero, TargetValue: 0, Variable: "zero_target", Type: core.TargetCount, Tolerance: 0.5},
	}

	engine, err := NewDescentCalibrator(DescentConfig{Epochs: 1, LearningRate: 1e-9}, nil)
	require.NoError(t, err)
	res, err := engine.Calibrate(weights, cs)
	require.NoError(t, err)

	for _, d := range res.Before {
		if d.Variable == "zero_target" {
			// (1 - 0) / (0 + 1) = 1, not NaN and not 0/0.
			assert.InDelta(t, 1.0, d.RelError, 1e-9)
		}
		if d.Variable == "total" {
			// (10 - 10) / 11 = 0.
			assert.InDelta(t, 0.0, d.RelError, 1e-9)
		}
	}
}

func TestDescentBackendSelection(t *testing.T) {
	tests := []struct {
		kind    BackendKind
		want    string
		wantErr bool
	}{
		{kind: BackendAuto, want: "adam"},
		{kind: BackendAdam, want: "adam"},
		{kind: BackendLBFGS, want: "lbfgs"},
		{kind: "tensor", wantErr: true},
	}
	for _, tt := range tests {
		engine, err := NewDescentCalibrator(DescentConfig{Backend: tt.kind}, nil)
		if tt.wantErr {
			assert.Error(t, err)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, engine.backend.Name())
	}
}

func TestDescentSortedWorstOffenders(t *testing.T) {
	n := 100
	weights := onesVector(n)
	half := make([]float64, n)
	for i := 0; i < 50; i++ {
		half[i] = 1
	}
	cs := []core.Constraint{
		countConstraint("near", n, 101),
		{Indicator: half, TargetValue: 500, Variable: "far", Type: core.TargetCount, Tolerance: 0.05},
	}

	engine, err := NewDescentCalibrator(DescentConfig{Epochs: 1, LearningRate: 1e-9}, nil)
	require.NoError(t, err)
	res, err := engine.Calibrate(weights, cs)
	require.NoError(t, err)

	diags := append([]core.Diagnostic(nil), res.After...)
	core.SortByAbsError(diags)
	assert.Equal(t, "far", diags[0].Variable)
}
