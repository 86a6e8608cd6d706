package solver

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/neurogo/spikeglm/core/param"
	"github.com/neurogo/spikeglm/core/tensor"
	"github.com/neurogo/spikeglm/pkg/errors"
	"github.com/neurogo/spikeglm/pkg/log"
)

// proxOp applies a proximal step in place on the flat parameter layout.
// step is the gradient step size of the surrounding iteration.
type proxOp func(x []float64, step float64, neurons, features int)

// softThresholdProx is the L1 proximal operator. Coefficients shrink toward
// zero by strength*step and cross it exactly; intercepts pass through
// unregularized.
func softThresholdProx(strength float64) proxOp {
	return func(x []float64, step float64, neurons, features int) {
		thr := strength * step
		for i := 0; i < neurons*features; i++ {
			switch {
			case x[i] > thr:
				x[i] -= thr
			case x[i] < -thr:
				x[i] += thr
			default:
				x[i] = 0
			}
		}
	}
}

// groupLassoProx is the group-L2 proximal operator. For each neuron and
// each group in the mask, the coefficient block shrinks by a factor
// determined by its L2 norm, or snaps to exact zero when the norm falls
// below the threshold. Features assigned to no group pass through.
func groupLassoProx(mask *mat.Dense, strength float64) proxOp {
	groups, maskFeatures := mask.Dims()
	sizes := maskGroupSizes(mask)
	return func(x []float64, step float64, neurons, features int) {
		if features != maskFeatures {
			// validated upstream; nothing sensible to do here
			return
		}
		for i := 0; i < neurons; i++ {
			base := i * features
			for g := 0; g < groups; g++ {
				if sizes[g] == 0 {
					continue
				}
				norm := 0.0
				for f := 0; f < features; f++ {
					if mask.At(g, f) == 1 {
						v := x[base+f]
						norm += v * v
					}
				}
				norm = math.Sqrt(norm)
				thr := strength * step * math.Sqrt(float64(sizes[g]))
				if norm <= thr {
					for f := 0; f < features; f++ {
						if mask.At(g, f) == 1 {
							x[base+f] = 0
						}
					}
					continue
				}
				scale := 1 - thr/norm
				for f := 0; f < features; f++ {
					if mask.At(g, f) == 1 {
						x[base+f] *= scale
					}
				}
			}
		}
	}
}

// boxProjectionProx clamps every parameter into [lower, upper]. It is the
// proximal operator of the box indicator used by the bounded solvers.
func boxProjectionProx(lower, upper float64) proxOp {
	return func(x []float64, _ float64, _, _ int) {
		for i := range x {
			if x[i] < lower {
				x[i] = lower
			} else if x[i] > upper {
				x[i] = upper
			}
		}
	}
}

// runProximal builds a Runner around the proximal-gradient engine: FISTA
// with optional Nesterov acceleration and backtracking line search.
//
// smoothPenalty/smoothPenaltyGrad carry any differentiable penalty (ridge
// under the bounded solvers); nonSmoothPenalty is the term the prox step
// enforces and enters only the reported objective.
func runProximal(name Name, s settings, loss Loss,
	smoothPenalty func(param.Params) float64,
	smoothPenaltyGrad func(grad []float64, p param.Params),
	nonSmoothPenalty func(param.Params) float64,
	prox proxOp) Runner {

	return func(init param.Params, X *tensor.Array3, y *mat.Dense) (param.Params, *State, error) {
		neurons, features := init.Dims()
		dim := param.FlatLen(neurons, features)

		smooth := func(x []float64) float64 {
			p := param.Unflatten(x, neurons, features)
			return loss.Value(p, X, y) + smoothPenalty(p)
		}
		smoothGrad := func(grad, x []float64) {
			for i := range grad {
				grad[i] = 0
			}
			p := param.Unflatten(x, neurons, features)
			loss.Gradient(grad, p, X, y)
			smoothPenaltyGrad(grad, p)
		}

		x := init.Flatten()
		v := make([]float64, dim)
		copy(v, x)
		xPrev := make([]float64, dim)
		grad := make([]float64, dim)
		cand := make([]float64, dim)
		diff := make([]float64, dim)

		step := s.stepsize
		backtrack := step <= 0
		if backtrack {
			step = 1.0
		}
		tMom := 1.0
		converged := false
		iters := 0

		for k := 0; k < s.maxiter; k++ {
			iters = k + 1
			smoothGrad(grad, v)
			fv := smooth(v)

			// one proximal step from the extrapolated point, shrinking the
			// step until the quadratic upper bound holds
			for {
				for i := range cand {
					cand[i] = v[i] - step*grad[i]
				}
				prox(cand, step, neurons, features)
				if !backtrack {
					break
				}
				floats.SubTo(diff, cand, v)
				quad := fv + floats.Dot(grad, diff) + floats.Dot(diff, diff)/(2*step)
				if smooth(cand) <= quad+1e-15 || step < 1e-12 {
					break
				}
				step *= 0.5
			}

			floats.SubTo(diff, cand, v)
			residual := floats.Norm(diff, 2) / step

			copy(xPrev, x)
			copy(x, cand)

			if residual <= s.tol {
				converged = true
				break
			}

			if s.acceleration {
				tNext := (1 + math.Sqrt(1+4*tMom*tMom)) / 2
				beta := (tMom - 1) / tNext
				for i := range v {
					v[i] = x[i] + beta*(x[i]-xPrev[i])
				}
				// restart momentum when the extrapolation points uphill
				floats.SubTo(diff, x, xPrev)
				if floats.Dot(grad, diff) > 0 {
					copy(v, x)
					tNext = 1.0
				}
				tMom = tNext
			} else {
				copy(v, x)
			}
		}

		fitted := param.Unflatten(x, neurons, features)
		state := &State{
			Iterations: iters,
			Objective:  smooth(x) + nonSmoothPenalty(fitted),
			Converged:  converged,
		}
		if !converged {
			errors.Warn(errors.NewConvergenceWarning(string(name), iters, state.Objective))
		}

		log.GetLoggerWithName("solver").Debug("proximal solve finished",
			log.SolverKey, string(name),
			log.IterationKey, state.Iterations,
			log.LossKey, state.Objective,
			log.ConvergedKey, state.Converged,
		)

		return fitted, state, nil
	}
}
