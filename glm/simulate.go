package glm

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/neurogo/spikeglm/core/param"
	"github.com/neurogo/spikeglm/core/tensor"
	"github.com/neurogo/spikeglm/observation"
	"github.com/neurogo/spikeglm/pkg/errors"
)

// SimulateOption configures a Simulate call.
type SimulateOption func(*simulateConfig)

type simulateConfig struct {
	initY    *mat.Dense
	coupling *tensor.Array3
}

// WithRecurrent enables the autoregressive loop. initY is the spike history
// seeding the rolling window, shape (window, n_neurons) with the most
// recent bin last. coupling is the filter tensor, shape
// (window, n_neurons, n_neurons): coupling[l][recv][src] weights the spike
// of src at lag l+1 bins in the past in the predictor of recv.
func WithRecurrent(initY *mat.Dense, coupling *tensor.Array3) SimulateOption {
	return func(c *simulateConfig) {
		c.initY = initY
		c.coupling = coupling
	}
}

// deriveKey maps (key, step) to an independent stream seed with the
// splitmix64 finalizer, so every simulated time bin consumes a fresh
// sub-key and no key is ever reused across steps.
func deriveKey(key uint64, step int) uint64 {
	x := key + (uint64(step)+1)*0x9e3779b97f4a7c15
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}

// Simulate draws spike counts from the fitted model over the feedforward
// design tensor, shape (n_timebins, n_neurons, n_features). It returns the
// sampled counts and the predicted rates, both (n_timebins, n_neurons).
//
// Without options the draw is purely feed-forward. With WithRecurrent the
// rate at every step adds the contraction of the rolling spike window with
// the coupling filters, the step's counts are drawn, appended to the
// window, and the window slides; the rate at time t therefore depends only
// on inputs and spikes strictly before t. The same key yields the same
// sequence.
func (g *GLM) Simulate(key uint64, feedforward *tensor.Array3, opts ...SimulateOption) (counts, rates *mat.Dense, err error) {
	const op = "GLM.Simulate"
	if err := g.state.RequireFitted("GLM", "Simulate"); err != nil {
		return nil, nil, err
	}
	_, n, f := g.state.Dimensions()
	if err := validateDesign(op, feedforward, n, f); err != nil {
		return nil, nil, err
	}

	var cfg simulateConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	p := param.Params{Coef: g.coef, Intercept: g.intercept}
	if cfg.coupling == nil && cfg.initY == nil {
		rates := ratesFor(g.obs.InverseLink(), p, feedforward)
		if err := observation.CheckFiniteRate(op, rates); err != nil {
			return nil, nil, err
		}
		counts := g.obs.Sample(rand.NewSource(key), rates)
		return counts, rates, nil
	}

	if cfg.coupling == nil || cfg.initY == nil {
		return nil, nil, errors.NewValidationError("recurrent",
			"recurrent simulation needs both an initial spike window and a coupling filter tensor", nil)
	}
	window, cr, cs := cfg.coupling.Dims()
	if cr != n || cs != n {
		return nil, nil, errors.NewInputShapeError(op, "coupling",
			[]int{window, n, n}, []int{window, cr, cs})
	}
	hw, hn := cfg.initY.Dims()
	if hw != window || hn != n {
		return nil, nil, errors.NewInputShapeError(op, "init_y",
			[]int{window, n}, []int{hw, hn})
	}
	if err := checkFiniteTensor(op, "coupling", cfg.coupling); err != nil {
		return nil, nil, err
	}
	if err := checkFiniteMatrix(op, "init_y", cfg.initY); err != nil {
		return nil, nil, err
	}

	t, _, _ := feedforward.Dims()
	link := g.obs.InverseLink()
	counts = mat.NewDense(t, n, nil)
	rates = mat.NewDense(t, n, nil)

	// rolling window, oldest bin first
	hist := mat.DenseCopyOf(cfg.initY)
	stepRate := mat.NewDense(1, n, nil)

	for i := 0; i < t; i++ {
		for j := 0; j < n; j++ {
			z := g.intercept.AtVec(j) +
				floats.Dot(feedforward.FeatureRow(i, j), g.coef.RawRowView(j))
			// lag l reads the window bin l+1 steps in the past
			for l := 0; l < window; l++ {
				past := hist.RawRowView(window - 1 - l)
				for s := 0; s < n; s++ {
					z += cfg.coupling.At(l, j, s) * past[s]
				}
			}
			stepRate.Set(0, j, link.F(z))
		}
		if err := observation.CheckFiniteRate(op, stepRate); err != nil {
			return nil, nil, err
		}

		draw := g.obs.Sample(rand.NewSource(deriveKey(key, i)), stepRate)
		for j := 0; j < n; j++ {
			rates.Set(i, j, stepRate.At(0, j))
			counts.Set(i, j, draw.At(0, j))
		}

		// slide: drop the oldest bin, append the fresh draw
		for w := 0; w < window-1; w++ {
			hist.SetRow(w, hist.RawRowView(w+1))
		}
		hist.SetRow(window-1, draw.RawRowView(0))
	}
	return counts, rates, nil
}

// BasisEvaluator is the external basis-function collaborator: Evaluate
// returns the basis values over a grid as an (n_basis, len(grid)) matrix.
type BasisEvaluator interface {
	Evaluate(grid []float64) (*mat.Dense, error)
}

// ProjectCouplingFilters expands per-pair basis weights into the coupling
// filter tensor Simulate consumes. weights has shape
// (n_basis, n_neurons, n_neurons); the result has shape
// (window, n_neurons, n_neurons) with
// filter[l][recv][src] = sum_b basis[b][l] * weights[b][recv][src],
// the basis evaluated on a uniform grid over [0, 1) of length window.
func ProjectCouplingFilters(basis BasisEvaluator, weights *tensor.Array3, window int) (*tensor.Array3, error) {
	const op = "glm.ProjectCouplingFilters"
	if basis == nil {
		return nil, errors.NewValidationError("basis", "must be a non-nil basis evaluator", nil)
	}
	if weights == nil {
		return nil, errors.NewValidationError("weights", "must be a 3D weight tensor of shape (n_basis, n_neurons, n_neurons)", nil)
	}
	if window < 1 {
		return nil, errors.NewValidationError("window", "must be >= 1", window)
	}
	nBasis, recv, src := weights.Dims()
	if recv != src {
		return nil, errors.NewInputShapeError(op, "weights",
			[]int{nBasis, recv, recv}, []int{nBasis, recv, src})
	}

	grid := make([]float64, window)
	for i := range grid {
		grid[i] = float64(i) / float64(window)
	}
	b, err := basis.Evaluate(grid)
	if err != nil {
		return nil, errors.Wrap(err, "spikeglm: basis evaluation failed")
	}
	br, bc := b.Dims()
	if br != nBasis || bc != window {
		return nil, errors.NewInputShapeError(op, "basis values",
			[]int{nBasis, window}, []int{br, bc})
	}

	out := tensor.New(window, recv, recv)
	for l := 0; l < window; l++ {
		for r := 0; r < recv; r++ {
			for s := 0; s < recv; s++ {
				v := 0.0
				for k := 0; k < nBasis; k++ {
					v += b.At(k, l) * weights.At(k, r, s)
				}
				out.Set(l, r, s, v)
			}
		}
	}
	return out, nil
}
