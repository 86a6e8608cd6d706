package glm

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/neurogo/spikeglm/core/parallel"
	"github.com/neurogo/spikeglm/core/param"
	"github.com/neurogo/spikeglm/core/tensor"
	"github.com/neurogo/spikeglm/observation"
)

// neurons at or below this count are processed without goroutines
const parallelNeuronThreshold = 4

// ratesFor evaluates the predicted rate matrix: for every (time, neuron)
// cell the inverse link of the feature contraction plus the intercept.
// Chunked across the neuron axis; chunks share no mutable state.
func ratesFor(link observation.Link, p param.Params, X *tensor.Array3) *mat.Dense {
	t, n, _ := X.Dims()
	out := mat.NewDense(t, n, nil)
	parallel.ParallelizeWithThreshold(n, parallelNeuronThreshold, func(start, end int) {
		for j := start; j < end; j++ {
			w := p.Coef.RawRowView(j)
			b := p.Intercept.AtVec(j)
			for i := 0; i < t; i++ {
				z := b + floats.Dot(X.FeatureRow(i, j), w)
				out.Set(i, j, link.F(z))
			}
		}
	})
	return out
}

// poissonLoss binds an observation model's mean negative log-likelihood to
// the solver layer's Loss contract. The gradient is the analytic chain rule
// through the inverse link; when the link carries no closed-form derivative
// the link falls back to a numerical one.
type poissonLoss struct {
	obs observation.Model
}

func (l poissonLoss) Value(p param.Params, X *tensor.Array3, y *mat.Dense) float64 {
	rates := ratesFor(l.obs.InverseLink(), p, X)
	return l.obs.NegativeLogLikelihood(rates, y)
}

func (l poissonLoss) Gradient(grad []float64, p param.Params, X *tensor.Array3, y *mat.Dense) {
	t, n, f := X.Dims()
	link := l.obs.InverseLink()
	scale := 1.0 / float64(t*n)

	// Both the coefficient block and the intercept block partition by
	// neuron, so chunks never write the same index.
	parallel.ParallelizeWithThreshold(n, parallelNeuronThreshold, func(start, end int) {
		for j := start; j < end; j++ {
			w := p.Coef.RawRowView(j)
			b := p.Intercept.AtVec(j)
			for i := 0; i < t; i++ {
				row := X.FeatureRow(i, j)
				z := b + floats.Dot(row, w)
				rate := link.F(z)
				if rate < observation.FloatEps {
					rate = observation.FloatEps
				}
				d := (1 - y.At(i, j)/rate) * link.Derivative(z) * scale
				for k := 0; k < f; k++ {
					grad[j*f+k] += d * row[k]
				}
				grad[n*f+j] += d
			}
		}
	})
}
