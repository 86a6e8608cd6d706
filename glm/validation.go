package glm

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/neurogo/spikeglm/core/param"
	"github.com/neurogo/spikeglm/core/tensor"
	"github.com/neurogo/spikeglm/observation"
	"github.com/neurogo/spikeglm/pkg/errors"
)

// The validators below are pure and stateless; fit and simulate share them.
// They run before any numeric work so a failure never leaves the estimator
// partially mutated.

func checkFiniteMatrix(op, name string, m mat.Matrix) error {
	r, c := m.Dims()
	var bad []float64
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := m.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				bad = append(bad, v)
				if len(bad) >= 5 {
					return errors.NewNumericalInstabilityError(op, name, bad)
				}
			}
		}
	}
	if len(bad) > 0 {
		return errors.NewNumericalInstabilityError(op, name, bad)
	}
	return nil
}

func checkFiniteTensor(op, name string, a *tensor.Array3) error {
	var bad []float64
	for _, v := range a.Data() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			bad = append(bad, v)
			if len(bad) >= 5 {
				break
			}
		}
	}
	if len(bad) > 0 {
		return errors.NewNumericalInstabilityError(op, name, bad)
	}
	return nil
}

func checkFiniteVec(op, name string, v *mat.VecDense) error {
	var bad []float64
	for i := 0; i < v.Len(); i++ {
		x := v.AtVec(i)
		if math.IsNaN(x) || math.IsInf(x, 0) {
			bad = append(bad, x)
			if len(bad) >= 5 {
				break
			}
		}
	}
	if len(bad) > 0 {
		return errors.NewNumericalInstabilityError(op, name, bad)
	}
	return nil
}

// validateInputs checks presence, finiteness, and the time-axis and
// neuron-axis agreement between the design tensor and the counts.
func validateInputs(op string, X *tensor.Array3, y *mat.Dense) error {
	if X == nil {
		return errors.NewValidationError("X", "must be a 3D design tensor of shape (n_timebins, n_neurons, n_features)", nil)
	}
	if y == nil {
		return errors.NewValidationError("y", "must be a 2D count matrix of shape (n_timebins, n_neurons)", nil)
	}
	xt, xn, xf := X.Dims()
	if xt == 0 || xn == 0 || xf == 0 {
		return errors.Wrapf(errors.ErrEmptyData, "%s: X has shape (%d, %d, %d)", op, xt, xn, xf)
	}
	yt, yn := y.Dims()
	if xt != yt {
		return errors.NewDimensionError(op, xt, yt, "timebins")
	}
	if xn != yn {
		return errors.NewDimensionError(op, xn, yn, "neurons")
	}
	if err := checkFiniteTensor(op, "X", X); err != nil {
		return err
	}
	return checkFiniteMatrix(op, "y", y)
}

// validateDesign checks a design tensor alone against stored parameter
// dimensions; predict uses it after fit.
func validateDesign(op string, X *tensor.Array3, neurons, features int) error {
	if X == nil {
		return errors.NewValidationError("X", "must be a 3D design tensor of shape (n_timebins, n_neurons, n_features)", nil)
	}
	_, xn, xf := X.Dims()
	if xn != neurons {
		return errors.NewDimensionError(op, neurons, xn, "neurons")
	}
	if xf != features {
		return errors.NewDimensionError(op, features, xf, "features")
	}
	return checkFiniteTensor(op, "X", X)
}

// validateParams checks the parameter pair against the design tensor: the
// neuron counts must agree and the coefficient feature count must match the
// tensor's trailing axis. Parameter entries must be finite.
func validateParams(op string, p param.Params, X *tensor.Array3) error {
	if err := p.Validate(); err != nil {
		return err
	}
	_, xn, xf := X.Dims()
	pn, pf := p.Dims()
	if pn != xn {
		return errors.NewDimensionError(op, xn, pn, "neurons")
	}
	if pf != xf {
		return errors.NewDimensionError(op, xf, pf, "features")
	}
	if err := checkFiniteMatrix(op, "coefficients", p.Coef); err != nil {
		return err
	}
	return checkFiniteVec(op, "intercepts", p.Intercept)
}

// defaultInitParams builds the starting point when the caller supplies none:
// zero coefficients and intercepts at the log of the per-neuron mean count,
// which centers the initial rate on the empirical mean. Means are floored
// at machine epsilon so silent neurons still yield a finite start.
func defaultInitParams(X *tensor.Array3, y *mat.Dense) param.Params {
	_, n, f := X.Dims()
	t, _ := y.Dims()

	coef := mat.NewDense(n, f, nil)
	intercept := mat.NewVecDense(n, nil)
	for j := 0; j < n; j++ {
		mean := 0.0
		for i := 0; i < t; i++ {
			mean += y.At(i, j)
		}
		mean /= float64(t)
		if mean < observation.FloatEps {
			mean = observation.FloatEps
		}
		intercept.SetVec(j, math.Log(mean))
	}
	return param.Params{Coef: coef, Intercept: intercept}
}
