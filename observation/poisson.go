// Package observation implements the observation (noise) models of the GLM.
// An observation model owns the likelihood family: negative log-likelihood,
// residual deviance, scale estimation, sampling, and the inverse-link
// function that maps linear predictors into the family's parameter domain.
package observation

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/neurogo/spikeglm/pkg/errors"
)

// FloatEps is the float64 machine epsilon. Predicted rates are floored at
// this value before logarithms so the likelihood stays finite.
const FloatEps = 2.220446049250313e-16

// Model is the observation-model contract consumed by the GLM estimator.
type Model interface {
	// NegativeLogLikelihood returns the mean negative log-likelihood of y
	// under the predicted rate, up to a parameter-independent constant.
	NegativeLogLikelihood(rate, y mat.Matrix) float64

	// Sample draws one observation per (time bin, neuron) cell from the
	// family parameterized by rate, using the supplied deterministic
	// source. The same source state yields the same draws.
	Sample(src rand.Source, rate mat.Matrix) *mat.Dense

	// ResidualDeviance returns the elementwise residual deviance of the
	// observed counts given the predicted rate.
	ResidualDeviance(rate, counts mat.Matrix) *mat.Dense

	// EstimateScale sets the dispersion scale from the predicted rate.
	EstimateScale(rate mat.Matrix)

	// PseudoR2 scores the predicted rate against a constant-rate null
	// model.
	PseudoR2(rate, y mat.Matrix) float64

	// InverseLink returns the model's inverse-link function.
	InverseLink() Link

	// Scale returns the dispersion scale.
	Scale() float64
}

// Poisson models spike counts as Poisson draws with rate given by the
// inverse link of the linear predictor. The dispersion scale of the Poisson
// family is fixed at 1.
type Poisson struct {
	invLink Link
	scale   float64
}

// PoissonOption configures a Poisson model at construction.
type PoissonOption func(*Poisson)

// WithInverseLink replaces the default exponential inverse link.
func WithInverseLink(link Link) PoissonOption {
	return func(p *Poisson) { p.invLink = link }
}

// NewPoisson creates a Poisson observation model. The inverse link is
// validated; construction fails if it breaks the link contract.
func NewPoisson(opts ...PoissonOption) (*Poisson, error) {
	p := &Poisson{invLink: ExpLink, scale: 1.0}
	for _, opt := range opts {
		opt(p)
	}
	if err := checkLink(p.invLink); err != nil {
		return nil, err
	}
	return p, nil
}

// SetInverseLink replaces the inverse link, re-validating the contract.
// On failure the previous link is kept.
func (p *Poisson) SetInverseLink(link Link) error {
	if err := checkLink(link); err != nil {
		return err
	}
	p.invLink = link
	return nil
}

// InverseLink returns the model's inverse-link function.
func (p *Poisson) InverseLink() Link {
	return p.invLink
}

// Scale returns the dispersion scale.
func (p *Poisson) Scale() float64 {
	return p.scale
}

// NegativeLogLikelihood computes the Poisson negative log-likelihood up to
// the constant log(y!) term:
//
//	mean over cells of rate - y*log(rate)
//
// with the rate floored at FloatEps before the logarithm.
func (p *Poisson) NegativeLogLikelihood(rate, y mat.Matrix) float64 {
	r, c := rate.Dims()
	sum := 0.0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			lam := rate.At(i, j)
			if lam < FloatEps {
				lam = FloatEps
			}
			sum += lam - y.At(i, j)*math.Log(lam)
		}
	}
	return sum / float64(r*c)
}

// Sample draws one Poisson count per cell. Rates at or below zero draw
// zero, matching the degenerate Poisson(0) distribution.
func (p *Poisson) Sample(src rand.Source, rate mat.Matrix) *mat.Dense {
	r, c := rate.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			lam := rate.At(i, j)
			if lam <= 0 {
				continue
			}
			out.Set(i, j, distuv.Poisson{Lambda: lam, Src: src}.Rand())
		}
	}
	return out
}

// ResidualDeviance computes the elementwise Poisson residual deviance
//
//	2*(y*log(y/rate) - (y - rate))
//
// with the ratio floored at FloatEps so zero counts contribute no log term.
func (p *Poisson) ResidualDeviance(rate, counts mat.Matrix) *mat.Dense {
	r, c := rate.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			y := counts.At(i, j)
			lam := rate.At(i, j)
			ratio := y / lam
			if ratio < FloatEps {
				ratio = FloatEps
			}
			out.Set(i, j, 2*(y*math.Log(ratio)-(y-lam)))
		}
	}
	return out
}

// EstimateScale fixes the scale at exactly 1.0; the Poisson family has unit
// dispersion regardless of the predicted rate.
func (p *Poisson) EstimateScale(_ mat.Matrix) {
	p.scale = 1.0
}

// PseudoR2 computes (nullDeviance - residDeviance) / nullDeviance, where
// the null model predicts the grand mean of y in every cell. Both deviances
// aggregate the squared per-cell residual-deviance terms rather than the
// terms themselves; callers comparing against textbook deviance ratios
// should account for the squaring.
func (p *Poisson) PseudoR2(rate, y mat.Matrix) float64 {
	r, c := y.Dims()

	resid := p.ResidualDeviance(rate, y)
	residDeviance := 0.0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			d := resid.At(i, j)
			residDeviance += d * d
		}
	}

	mean := 0.0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			mean += y.At(i, j)
		}
	}
	mean /= float64(r * c)

	nullRate := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			nullRate.Set(i, j, mean)
		}
	}
	null := p.ResidualDeviance(nullRate, y)
	nullDeviance := 0.0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			d := null.At(i, j)
			nullDeviance += d * d
		}
	}

	return (nullDeviance - residDeviance) / nullDeviance
}

var _ Model = (*Poisson)(nil)

// CheckFiniteRate validates that every predicted rate is finite, reporting
// the first offenders if not.
func CheckFiniteRate(op string, rate mat.Matrix) error {
	r, c := rate.Dims()
	var bad []float64
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := rate.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				bad = append(bad, v)
				if len(bad) >= 5 {
					return errors.NewNumericalInstabilityError(op, "predicted_rate", bad)
				}
			}
		}
	}
	if len(bad) > 0 {
		return errors.NewNumericalInstabilityError(op, "predicted_rate", bad)
	}
	return nil
}
