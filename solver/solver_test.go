package solver

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/neurogo/spikeglm/core/param"
	"github.com/neurogo/spikeglm/core/tensor"
	"github.com/neurogo/spikeglm/pkg/errors"
)

// quadLoss is a separable quadratic in the flat parameter layout,
// 0.5 * sum_i weight_i * (x_i - target_i)^2. Its minimizers under each
// penalty have closed forms, which makes solver behavior checkable without
// reference fixtures.
type quadLoss struct {
	target []float64
	weight []float64
}

func (q quadLoss) wi(i int) float64 {
	if q.weight == nil {
		return 1
	}
	return q.weight[i]
}

func (q quadLoss) Value(p param.Params, _ *tensor.Array3, _ *mat.Dense) float64 {
	x := p.Flatten()
	sum := 0.0
	for i := range x {
		d := x[i] - q.target[i]
		sum += 0.5 * q.wi(i) * d * d
	}
	return sum
}

func (q quadLoss) Gradient(grad []float64, p param.Params, _ *tensor.Array3, _ *mat.Dense) {
	x := p.Flatten()
	for i := range x {
		grad[i] += q.wi(i) * (x[i] - q.target[i])
	}
}

func quadProblem(neurons, features int, target []float64) (quadLoss, param.Params, *tensor.Array3, *mat.Dense) {
	loss := quadLoss{target: target}
	init := param.Unflatten(make([]float64, param.FlatLen(neurons, features)), neurons, features)
	X := tensor.New(1, neurons, features)
	y := mat.NewDense(1, neurons, nil)
	return loss, init, X, y
}

func TestUnregularizedConvergesToMinimum(t *testing.T) {
	target := []float64{1.5, -2, 0.5, 3}
	loss, init, X, y := quadProblem(1, 3, target)

	s, err := NewUnRegularizedSolver(BFGS)
	require.NoError(t, err)
	runner, err := s.InstantiateSolver(loss)
	require.NoError(t, err)

	fitted, state, err := runner(init, X, y)
	require.NoError(t, err)
	assert.True(t, state.Converged)
	assert.InDeltaSlice(t, target, fitted.Flatten(), 1e-6)
	assert.InDelta(t, 0.0, state.Objective, 1e-10)
}

func TestGradientSolversAgree(t *testing.T) {
	target := []float64{0.8, -1.2, 2.0, -0.4}

	results := map[Name][]float64{}
	for _, name := range []Name{GradientDescent, BFGS, LBFGS, NonlinearCG} {
		loss, init, X, y := quadProblem(1, 3, target)
		s, err := NewUnRegularizedSolver(name, WithSolverOptions(Options{"tol": 1e-10, "maxiter": 10000}))
		require.NoError(t, err)
		runner, err := s.InstantiateSolver(loss)
		require.NoError(t, err)
		fitted, _, err := runner(init, X, y)
		require.NoError(t, err, "solver %s", name)
		results[name] = fitted.Flatten()
	}

	ref := results[BFGS]
	for name, got := range results {
		assert.InDeltaSlice(t, ref, got, 1e-6, "solver %s disagrees with BFGS", name)
	}
}

func TestScipyMinimizeMethodDispatch(t *testing.T) {
	target := []float64{1, 1}
	loss, init, X, y := quadProblem(1, 1, target)

	s, err := NewUnRegularizedSolver(ScipyMinimize, WithSolverOptions(Options{"method": "LBFGS"}))
	require.NoError(t, err)
	runner, err := s.InstantiateSolver(loss)
	require.NoError(t, err)
	fitted, _, err := runner(init, X, y)
	require.NoError(t, err)
	assert.InDeltaSlice(t, target, fitted.Flatten(), 1e-6)

	s, err = NewUnRegularizedSolver(ScipyMinimize, WithSolverOptions(Options{"method": "Powell"}))
	require.NoError(t, err, "the method value is checked at dispatch, not at construction")
	runner, err = s.InstantiateSolver(loss)
	require.NoError(t, err)
	_, _, err = runner(init, X, y)
	assert.Error(t, err, "unsupported method surfaces at run time")
}

func TestRidgeClosedForm(t *testing.T) {
	// minimizing 0.5*(x-t)^2 + 0.5*s*x^2 gives x = t/(1+s) for
	// coefficients; intercepts stay unpenalized at t
	target := []float64{2.0, -4.0, 1.0}
	strength := 3.0
	loss, init, X, y := quadProblem(1, 2, target)

	s, err := NewRidgeSolver(BFGS, WithRegularizerStrength(strength),
		WithSolverOptions(Options{"tol": 1e-12}))
	require.NoError(t, err)
	runner, err := s.InstantiateSolver(loss)
	require.NoError(t, err)

	fitted, state, err := runner(init, X, y)
	require.NoError(t, err)
	assert.True(t, state.Converged)
	assert.InDelta(t, 2.0/(1+strength), fitted.Coef.At(0, 0), 1e-6)
	assert.InDelta(t, -4.0/(1+strength), fitted.Coef.At(0, 1), 1e-6)
	assert.InDelta(t, 1.0, fitted.Intercept.AtVec(0), 1e-6)
}

func TestRidgeStationarity(t *testing.T) {
	target := []float64{1.1, -0.7, 0.3, 2.2}
	strength := 0.5
	loss, init, X, y := quadProblem(1, 3, target)

	s, err := NewRidgeSolver(LBFGS, WithRegularizerStrength(strength))
	require.NoError(t, err)
	runner, err := s.InstantiateSolver(loss)
	require.NoError(t, err)
	fitted, _, err := runner(init, X, y)
	require.NoError(t, err)

	// at the solution the penalized gradient vanishes
	grad := make([]float64, param.FlatLen(1, 3))
	loss.Gradient(grad, fitted, X, y)
	for j := 0; j < 3; j++ {
		grad[j] += strength * fitted.Coef.At(0, j)
	}
	for i, g := range grad {
		assert.InDelta(t, 0.0, g, 1e-6, "gradient component %d", i)
	}
}

func TestLassoClosedForm(t *testing.T) {
	// the lasso minimizer of the unit quadratic is the soft threshold of
	// the target at the regularizer strength
	target := []float64{2.0, 0.3, -1.5, 4.0}
	strength := 0.5
	loss, init, X, y := quadProblem(1, 3, target)

	s, err := NewLassoSolver(ProximalGradient, WithRegularizerStrength(strength))
	require.NoError(t, err)
	runner, err := s.InstantiateSolver(loss)
	require.NoError(t, err)

	fitted, state, err := runner(init, X, y)
	require.NoError(t, err)
	assert.True(t, state.Converged)
	assert.InDelta(t, 1.5, fitted.Coef.At(0, 0), 1e-6)
	assert.Equal(t, 0.0, fitted.Coef.At(0, 1), "sub-threshold coefficient is exactly zero")
	assert.InDelta(t, -1.0, fitted.Coef.At(0, 2), 1e-6)
	assert.InDelta(t, 4.0, fitted.Intercept.AtVec(0), 1e-6, "intercepts are not penalized")
}

func TestLassoKKTConditions(t *testing.T) {
	target := []float64{1.7, 0.2, -0.9, 0.6}
	strength := 0.4
	loss, init, X, y := quadProblem(1, 3, target)

	s, err := NewLassoSolver(ProximalGradient, WithRegularizerStrength(strength),
		WithSolverOptions(Options{"tol": 1e-10}))
	require.NoError(t, err)
	runner, err := s.InstantiateSolver(loss)
	require.NoError(t, err)
	fitted, _, err := runner(init, X, y)
	require.NoError(t, err)

	grad := make([]float64, param.FlatLen(1, 3))
	loss.Gradient(grad, fitted, X, y)
	for j := 0; j < 3; j++ {
		w := fitted.Coef.At(0, j)
		if w == 0 {
			assert.LessOrEqual(t, math.Abs(grad[j]), strength+1e-6,
				"zero coordinate %d violates the subgradient bound", j)
		} else {
			sign := 1.0
			if w < 0 {
				sign = -1.0
			}
			assert.InDelta(t, -sign*strength, grad[j], 1e-6,
				"active coordinate %d violates stationarity", j)
		}
	}
}

func TestGroupLassoClosedForm(t *testing.T) {
	// group 0 covers features 0,1 and group 1 covers feature 2;
	// each block shrinks by 1 - strength*sqrt(size)/||target_block||,
	// snapping to zero when the factor is negative
	mask, err := NewMask(2, 3, []float64{1, 1, 0, 0, 0, 1})
	require.NoError(t, err)
	target := []float64{3.0, 4.0, 0.2, 1.0}
	strength := 1.0
	loss, init, X, y := quadProblem(1, 3, target)

	s, err := NewGroupLassoSolver(ProximalGradient, mask, WithRegularizerStrength(strength))
	require.NoError(t, err)
	runner, err := s.InstantiateSolver(loss)
	require.NoError(t, err)

	fitted, state, err := runner(init, X, y)
	require.NoError(t, err)
	assert.True(t, state.Converged)

	shrink := 1 - strength*math.Sqrt2/5 // ||(3,4)|| = 5
	assert.InDelta(t, 3*shrink, fitted.Coef.At(0, 0), 1e-6)
	assert.InDelta(t, 4*shrink, fitted.Coef.At(0, 1), 1e-6)
	assert.Equal(t, 0.0, fitted.Coef.At(0, 2), "a group below its threshold is exactly zero")
	assert.InDelta(t, 1.0, fitted.Intercept.AtVec(0), 1e-6)
}

func TestGroupLassoRunnerChecksMaskWidth(t *testing.T) {
	mask, err := NewMask(1, 5, []float64{1, 1, 0, 0, 0})
	require.NoError(t, err)
	s, err := NewGroupLassoSolver(ProximalGradient, mask)
	require.NoError(t, err)

	loss, init, X, y := quadProblem(1, 3, []float64{1, 1, 1, 1})
	runner, err := s.InstantiateSolver(loss)
	require.NoError(t, err)
	_, _, err = runner(init, X, y)
	require.Error(t, err)
	var se *errors.InputShapeError
	assert.True(t, errors.As(err, &se))
}

func TestBoundedSolversProjectOntoBox(t *testing.T) {
	target := []float64{-2.0, 0.5, 3.0, -1.0}
	for _, name := range []Name{ScipyBoundedMinimize, LBFGSB} {
		loss, init, X, y := quadProblem(1, 3, target)
		s, err := NewUnRegularizedSolver(name, WithSolverOptions(Options{"lower": 0.0, "upper": 1.0}))
		require.NoError(t, err)
		runner, err := s.InstantiateSolver(loss)
		require.NoError(t, err)

		fitted, _, err := runner(init, X, y)
		require.NoError(t, err, "solver %s", name)
		assert.InDeltaSlice(t, []float64{0, 0.5, 1, 0}, fitted.Flatten(), 1e-6, "solver %s", name)
	}
}

func TestIterationLimitWarnsNotFails(t *testing.T) {
	var warned []error
	errors.SetWarningHandler(func(w error) { warned = append(warned, w) })
	defer errors.SetWarningHandler(func(w error) {})

	// badly scaled quadratic with a budget too small to converge
	loss := quadLoss{
		target: []float64{1, 1, 1, 1},
		weight: []float64{1e6, 1, 1e-6, 1},
	}
	init := param.Unflatten(make([]float64, 4), 1, 3)
	X := tensor.New(1, 1, 3)
	y := mat.NewDense(1, 1, nil)

	s, err := NewUnRegularizedSolver(GradientDescent,
		WithSolverOptions(Options{"tol": 1e-14, "maxiter": 2}))
	require.NoError(t, err)
	runner, err := s.InstantiateSolver(loss)
	require.NoError(t, err)

	_, state, err := runner(init, X, y)
	require.NoError(t, err, "an exhausted budget is not a failure")
	assert.False(t, state.Converged)

	require.Len(t, warned, 1)
	var cw *errors.ConvergenceWarning
	assert.True(t, errors.As(warned[0], &cw))
	assert.Equal(t, string(GradientDescent), cw.Solver)
}

func TestProximalWithoutAcceleration(t *testing.T) {
	target := []float64{1.0, -2.0, 0.1, 0.5}
	loss, init, X, y := quadProblem(1, 3, target)

	s, err := NewLassoSolver(ProximalGradient, WithRegularizerStrength(0.2),
		WithSolverOptions(Options{"acceleration": false, "stepsize": 0.5}))
	require.NoError(t, err)
	runner, err := s.InstantiateSolver(loss)
	require.NoError(t, err)

	fitted, state, err := runner(init, X, y)
	require.NoError(t, err)
	assert.True(t, state.Converged)
	assert.InDelta(t, 0.8, fitted.Coef.At(0, 0), 1e-6)
	assert.InDelta(t, -1.8, fitted.Coef.At(0, 1), 1e-6)
	assert.Equal(t, 0.0, fitted.Coef.At(0, 2))
}
