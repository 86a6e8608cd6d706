// Package solver couples regularization schemes to optimization routines.
//
// A regularizer (unregularized, ridge, lasso, group lasso) owns a solver
// name, validated against the regularizer's allow-list, plus solver options
// validated against the option keys the named routine accepts. Instantiating
// a solver binds the loss to the chosen routine and returns a Runner with a
// uniform calling contract. Smooth routines dispatch to gonum/optimize;
// ProximalGradient and the box-bounded routines run the in-package
// proximal-gradient engine.
package solver

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/neurogo/spikeglm/core/param"
	"github.com/neurogo/spikeglm/core/tensor"
	"github.com/neurogo/spikeglm/pkg/errors"
	"github.com/neurogo/spikeglm/pkg/log"
)

// Name identifies one optimization routine. Each name binds to exactly one
// iterative algorithm; the dispatch is a pure lookup with no per-method
// logic elsewhere.
type Name string

// Enumerated solver names.
const (
	GradientDescent      Name = "GradientDescent"
	BFGS                 Name = "BFGS"
	LBFGS                Name = "LBFGS"
	ScipyMinimize        Name = "ScipyMinimize"
	NonlinearCG          Name = "NonlinearCG"
	ScipyBoundedMinimize Name = "ScipyBoundedMinimize"
	LBFGSB               Name = "LBFGSB"
	ProximalGradient     Name = "ProximalGradient"
)

// gradientSolvers are the smooth, unconstrained-capable routines allowed
// for regularizers whose penalty is differentiable.
var gradientSolvers = []Name{
	GradientDescent,
	BFGS,
	LBFGS,
	ScipyMinimize,
	NonlinearCG,
	ScipyBoundedMinimize,
	LBFGSB,
}

// proximalSolvers are the routines that support a proximal step, required
// by non-smooth penalties.
var proximalSolvers = []Name{ProximalGradient}

// Options carries configuration for the underlying routine, keyed by option
// name. Keys are validated against the accepted set of the target routine;
// unknown keys are rejected at construction and on every mutation.
type Options map[string]interface{}

// acceptedOptions maps each solver name to the option keys its routine
// accepts.
var acceptedOptions = map[Name]map[string]bool{
	GradientDescent:      {"tol": true, "maxiter": true},
	BFGS:                 {"tol": true, "maxiter": true},
	LBFGS:                {"tol": true, "maxiter": true},
	NonlinearCG:          {"tol": true, "maxiter": true},
	ScipyMinimize:        {"tol": true, "maxiter": true, "method": true},
	ScipyBoundedMinimize: {"tol": true, "maxiter": true, "stepsize": true, "lower": true, "upper": true},
	LBFGSB:               {"tol": true, "maxiter": true, "stepsize": true, "lower": true, "upper": true},
	ProximalGradient:     {"tol": true, "maxiter": true, "stepsize": true, "acceleration": true},
}

// validateOptions rejects any key the named routine does not accept.
func validateOptions(name Name, opts Options) error {
	accepted, ok := acceptedOptions[name]
	if !ok {
		return errors.NewValueError("solver", fmt.Sprintf("unknown solver name %q", name))
	}
	var unknown []string
	for k := range opts {
		if !accepted[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return errors.NewUnknownOptionError(string(name), unknown)
	}
	return nil
}

// settings is the parsed, typed form of Options.
type settings struct {
	tol          float64
	maxiter      int
	method       string
	stepsize     float64 // 0 means backtracking line search
	acceleration bool
	lower, upper float64
}

func defaultSettings() settings {
	return settings{
		tol:          1e-8,
		maxiter:      5000,
		method:       "BFGS",
		stepsize:     0,
		acceleration: true,
		lower:        math.Inf(-1),
		upper:        math.Inf(1),
	}
}

func parseSettings(name Name, opts Options) (settings, error) {
	s := defaultSettings()
	for k, v := range opts {
		switch k {
		case "tol":
			f, ok := toFloat(v)
			if !ok || f <= 0 {
				return s, errors.NewValidationError("solver_options.tol", "must be a positive number", v)
			}
			s.tol = f
		case "maxiter":
			f, ok := toFloat(v)
			if !ok || f < 1 {
				return s, errors.NewValidationError("solver_options.maxiter", "must be a positive integer", v)
			}
			s.maxiter = int(f)
		case "method":
			str, ok := v.(string)
			if !ok {
				return s, errors.NewValidationError("solver_options.method", "must be a string", v)
			}
			s.method = str
		case "stepsize":
			f, ok := toFloat(v)
			if !ok || f < 0 {
				return s, errors.NewValidationError("solver_options.stepsize", "must be a non-negative number", v)
			}
			s.stepsize = f
		case "acceleration":
			b, ok := v.(bool)
			if !ok {
				return s, errors.NewValidationError("solver_options.acceleration", "must be a bool", v)
			}
			s.acceleration = b
		case "lower":
			f, ok := toFloat(v)
			if !ok {
				return s, errors.NewValidationError("solver_options.lower", "must be a number", v)
			}
			s.lower = f
		case "upper":
			f, ok := toFloat(v)
			if !ok {
				return s, errors.NewValidationError("solver_options.upper", "must be a number", v)
			}
			s.upper = f
		}
	}
	if s.lower > s.upper {
		return s, errors.NewValidationError("solver_options", "lower bound exceeds upper bound", [2]float64{s.lower, s.upper})
	}
	return s, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// Loss is the smooth part of the fitting objective, bound to the model's
// observation likelihood by the estimator. Gradient accumulates into grad,
// which has the flat layout of param.Params.
type Loss interface {
	Value(p param.Params, X *tensor.Array3, y *mat.Dense) float64
	Gradient(grad []float64, p param.Params, X *tensor.Array3, y *mat.Dense)
}

// State carries convergence diagnostics from a completed run.
type State struct {
	Iterations int
	Objective  float64
	Converged  bool
}

// Runner executes the configured iterative algorithm from the given initial
// parameters and returns the fitted parameters with diagnostics.
type Runner func(init param.Params, X *tensor.Array3, y *mat.Dense) (param.Params, *State, error)

// methodFor maps a solver name (and parsed settings) to the gonum/optimize
// method implementing it. Only the smooth names appear here; the proximal
// and bounded names run the in-package engine.
func methodFor(name Name, s settings) (optimize.Method, error) {
	switch name {
	case GradientDescent:
		return &optimize.GradientDescent{}, nil
	case BFGS:
		return &optimize.BFGS{}, nil
	case LBFGS:
		return &optimize.LBFGS{}, nil
	case NonlinearCG:
		return &optimize.CG{}, nil
	case ScipyMinimize:
		switch s.method {
		case "BFGS":
			return &optimize.BFGS{}, nil
		case "CG":
			return &optimize.CG{}, nil
		case "LBFGS":
			return &optimize.LBFGS{}, nil
		case "GradientDescent":
			return &optimize.GradientDescent{}, nil
		case "NelderMead":
			return &optimize.NelderMead{}, nil
		default:
			return nil, errors.NewValueError("solver",
				fmt.Sprintf("method %q is not supported by ScipyMinimize", s.method))
		}
	default:
		return nil, errors.NewValueError("solver", fmt.Sprintf("no gradient method bound to solver %q", name))
	}
}

// runGradient builds a Runner around gonum/optimize for a smooth objective:
// loss plus a differentiable penalty.
func runGradient(name Name, s settings, loss Loss,
	penalty func(param.Params) float64,
	penaltyGrad func(grad []float64, p param.Params)) Runner {

	return func(init param.Params, X *tensor.Array3, y *mat.Dense) (param.Params, *State, error) {
		neurons, features := init.Dims()

		problem := optimize.Problem{
			Func: func(x []float64) float64 {
				p := param.Unflatten(x, neurons, features)
				return loss.Value(p, X, y) + penalty(p)
			},
			Grad: func(grad, x []float64) {
				for i := range grad {
					grad[i] = 0
				}
				p := param.Unflatten(x, neurons, features)
				loss.Gradient(grad, p, X, y)
				penaltyGrad(grad, p)
			},
		}

		method, err := methodFor(name, s)
		if err != nil {
			return param.Params{}, nil, err
		}

		opts := &optimize.Settings{
			GradientThreshold: s.tol,
			MajorIterations:   s.maxiter,
		}

		result, err := optimize.Minimize(problem, init.Flatten(), opts, method)
		// a linesearch that stalls at the numerical floor still carries a
		// near-optimal iterate; keep it and report non-convergence, the
		// same as an exhausted iteration budget
		stalled := err != nil && result != nil && errors.Is(err, optimize.ErrLinesearcherFailure)
		if err != nil && !stalled {
			return param.Params{}, nil, errors.Wrapf(err, "solver %s failed", name)
		}
		if !stalled && result.Status != optimize.IterationLimit {
			if serr := result.Status.Err(); serr != nil {
				return param.Params{}, nil, errors.Wrapf(serr, "solver %s failed", name)
			}
		}

		state := &State{
			Iterations: result.Stats.MajorIterations,
			Objective:  result.F,
			Converged:  !stalled && result.Status != optimize.IterationLimit,
		}
		if !state.Converged {
			errors.Warn(errors.NewConvergenceWarning(string(name), state.Iterations, state.Objective))
		}

		log.GetLoggerWithName("solver").Debug("gradient solve finished",
			log.SolverKey, string(name),
			log.IterationKey, state.Iterations,
			log.LossKey, state.Objective,
			log.ConvergedKey, state.Converged,
		)

		return param.Unflatten(result.X, neurons, features), state, nil
	}
}
