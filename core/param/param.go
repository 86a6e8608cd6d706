// Package param defines the model parameter pair shared by the estimator
// and the solver layer, together with the flat-vector layout contract the
// iterative optimizers operate on.
package param

import (
	"gonum.org/v1/gonum/mat"

	"github.com/neurogo/spikeglm/pkg/errors"
)

// Params is an ordered pair of GLM parameters: per-neuron coefficients and
// intercepts. Coef has shape (n_neurons, n_features) and Intercept has
// length n_neurons; the leading dimensions must agree.
type Params struct {
	Coef      *mat.Dense
	Intercept *mat.VecDense
}

// New validates the pair and returns it. Errors follow the validation
// taxonomy: nil elements are reported as validation failures, mismatched
// leading dimensions as dimension errors.
func New(coef *mat.Dense, intercept *mat.VecDense) (Params, error) {
	p := Params{Coef: coef, Intercept: intercept}
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

// Validate checks that both elements are present and that the neuron
// dimensions agree.
func (p Params) Validate() error {
	if p.Coef == nil {
		return errors.NewValidationError("params", "coefficients must be a numeric matrix of shape (n_neurons, n_features)", nil)
	}
	if p.Intercept == nil {
		return errors.NewValidationError("params", "intercepts must be a numeric vector of shape (n_neurons,)", nil)
	}
	cn, _ := p.Coef.Dims()
	bn := p.Intercept.Len()
	if cn != bn {
		return errors.NewDimensionError("params", cn, bn, "neurons")
	}
	return nil
}

// Dims returns the neuron and feature counts.
func (p Params) Dims() (neurons, features int) {
	neurons, features = p.Coef.Dims()
	return neurons, features
}

// Flatten serializes the parameters as coefficients in row-major order
// followed by intercepts. This is the layout the solvers optimize over.
func (p Params) Flatten() []float64 {
	n, f := p.Dims()
	x := make([]float64, n*f+n)
	for i := 0; i < n; i++ {
		for j := 0; j < f; j++ {
			x[i*f+j] = p.Coef.At(i, j)
		}
	}
	for i := 0; i < n; i++ {
		x[n*f+i] = p.Intercept.AtVec(i)
	}
	return x
}

// Unflatten rebuilds a Params from the flat layout produced by Flatten.
func Unflatten(x []float64, neurons, features int) Params {
	coef := mat.NewDense(neurons, features, nil)
	intercept := mat.NewVecDense(neurons, nil)
	for i := 0; i < neurons; i++ {
		for j := 0; j < features; j++ {
			coef.Set(i, j, x[i*features+j])
		}
		intercept.SetVec(i, x[neurons*features+i])
	}
	return Params{Coef: coef, Intercept: intercept}
}

// FlatLen returns the length of the flat layout for the given dimensions.
func FlatLen(neurons, features int) int {
	return neurons*features + neurons
}

// Clone returns a deep copy.
func (p Params) Clone() Params {
	return Params{
		Coef:      mat.DenseCopyOf(p.Coef),
		Intercept: mat.VecDenseCopyOf(p.Intercept),
	}
}
