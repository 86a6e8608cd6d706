package observation

import (
	"math"

	"gonum.org/v1/gonum/diff/fd"

	"github.com/neurogo/spikeglm/pkg/errors"
)

// Link is an inverse-link function: it maps the unconstrained linear
// predictor to the domain of the observation distribution's parameter.
// F is applied elementwise. Deriv is optional; when nil the derivative is
// taken numerically with gonum/diff/fd.
type Link struct {
	F     func(float64) float64
	Deriv func(float64) float64
}

// ExpLink is the canonical inverse link for the Poisson rate.
var ExpLink = Link{F: math.Exp, Deriv: math.Exp}

// SoftplusLink maps the predictor to (0, inf) with sub-exponential growth.
var SoftplusLink = Link{
	F:     func(z float64) float64 { return math.Log1p(math.Exp(z)) },
	Deriv: func(z float64) float64 { return 1 / (1 + math.Exp(-z)) },
}

// Derivative evaluates the link derivative at z, numerically if no closed
// form was supplied.
func (l Link) Derivative(z float64) float64 {
	if l.Deriv != nil {
		return l.Deriv(z)
	}
	return fd.Derivative(l.F, z, nil)
}

// checkLink validates the inverse-link contract. Each check mirrors one
// requirement on the function: it must be present, produce real values on a
// vector probe and on a scalar probe, and admit a finite one-step
// derivative evaluation. The returned error names the failed check.
func checkLink(link Link) error {
	if link.F == nil {
		return errors.NewValidationError("inverse_link_function",
			"must be a non-nil function", nil)
	}

	probe := []float64{1.0, 2.0, 3.0}
	for _, z := range probe {
		if v := link.F(z); math.IsNaN(v) {
			return errors.NewValidationError("inverse_link_function",
				"must return a real value for every element of a vector input", z)
		}
	}

	if v := link.F(1.0); math.IsNaN(v) {
		return errors.NewValidationError("inverse_link_function",
			"must return a real value for scalar input", 1.0)
	}

	d := link.Derivative(1.0)
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return errors.NewValidationError("inverse_link_function",
			"must be differentiable: a one-step derivative evaluation returned a non-finite value", d)
	}
	return nil
}
