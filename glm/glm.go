// Package glm implements the Poisson generalized linear model estimator for
// neural spike-count data. A GLM couples an observation model (likelihood
// family and inverse link) with a regularization scheme and drives the
// solver layer to fit per-neuron coefficients and intercepts from a 3D
// design tensor, then exposes prediction, scoring, and autoregressive
// simulation of spiking activity.
package glm

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/neurogo/spikeglm/core/model"
	"github.com/neurogo/spikeglm/core/param"
	"github.com/neurogo/spikeglm/core/tensor"
	"github.com/neurogo/spikeglm/observation"
	"github.com/neurogo/spikeglm/pkg/errors"
	"github.com/neurogo/spikeglm/pkg/log"
	"github.com/neurogo/spikeglm/solver"
)

// ScoreType selects the metric computed by Score.
type ScoreType int

const (
	// ScorePseudoR2 is the deviance-based pseudo-R2 against a
	// constant-rate null model.
	ScorePseudoR2 ScoreType = iota

	// ScoreNegLogLikelihood is the mean negative log-likelihood, up to a
	// parameter-independent constant.
	ScoreNegLogLikelihood
)

// GLM is a Poisson generalized linear model over a population of neurons.
// The zero value is not usable; construct with New. A GLM starts unfitted:
// Predict, Score, and Simulate fail with a NotFittedError until Fit
// succeeds. Each successful Fit fully overwrites the stored parameters.
//
// A GLM instance is exclusively owned by its caller; concurrent mutation of
// a shared instance is not supported.
type GLM struct {
	obs    observation.Model
	reg    solver.Regularizer
	state  *model.StateManager
	logger log.Logger

	coef      *mat.Dense
	intercept *mat.VecDense
	lastState solver.State
}

// Option configures a GLM at construction.
type Option func(*GLM) error

// WithObservationModel replaces the default Poisson observation model.
func WithObservationModel(obs observation.Model) Option {
	return func(g *GLM) error {
		if obs == nil {
			return errors.NewValidationError("observation_model", "must be non-nil", nil)
		}
		g.obs = obs
		return nil
	}
}

// WithRegularizer replaces the default unregularized scheme.
func WithRegularizer(reg solver.Regularizer) Option {
	return func(g *GLM) error {
		if reg == nil {
			return errors.NewValidationError("regularizer", "must be non-nil", nil)
		}
		g.reg = reg
		return nil
	}
}

// New creates a GLM. Without options it uses a Poisson observation model
// with the exponential inverse link and an unregularized gradient-descent
// solver.
func New(opts ...Option) (*GLM, error) {
	g := &GLM{
		state:  model.NewStateManager(),
		logger: log.GetLoggerWithName("GLM"),
	}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, err
		}
	}
	if g.obs == nil {
		obs, err := observation.NewPoisson()
		if err != nil {
			return nil, err
		}
		g.obs = obs
	}
	if g.reg == nil {
		reg, err := solver.NewUnRegularizedSolver(solver.GradientDescent)
		if err != nil {
			return nil, err
		}
		g.reg = reg
	}
	return g, nil
}

// ObservationModel returns the model's observation model.
func (g *GLM) ObservationModel() observation.Model { return g.obs }

// Regularizer returns the model's regularization scheme.
func (g *GLM) Regularizer() solver.Regularizer { return g.reg }

// IsFitted reports whether a fit has completed.
func (g *GLM) IsFitted() bool { return g.state.IsFitted() }

// Params returns a deep copy of the fitted parameters. It fails with a
// NotFittedError before the first successful Fit.
func (g *GLM) Params() (param.Params, error) {
	if err := g.state.RequireFitted("GLM", "Params"); err != nil {
		return param.Params{}, err
	}
	return param.Params{Coef: g.coef, Intercept: g.intercept}.Clone(), nil
}

// SolverState returns the convergence diagnostics of the last fit.
func (g *GLM) SolverState() (solver.State, error) {
	if err := g.state.RequireFitted("GLM", "SolverState"); err != nil {
		return solver.State{}, err
	}
	return g.lastState, nil
}

// FitOption configures a single Fit call.
type FitOption func(*fitConfig)

type fitConfig struct {
	init    param.Params
	hasInit bool
}

// WithInitParams supplies the optimizer starting point instead of the
// default zero-coefficient, log-mean-intercept initialization.
func WithInitParams(p param.Params) FitOption {
	return func(c *fitConfig) {
		c.init = p
		c.hasInit = true
	}
}

// Fit estimates coefficients and intercepts from the design tensor X of
// shape (n_timebins, n_neurons, n_features) and the spike counts y of
// shape (n_timebins, n_neurons). All validation happens before any solver
// iteration; on failure the previously stored parameters are untouched.
func (g *GLM) Fit(X *tensor.Array3, y *mat.Dense, opts ...FitOption) error {
	const op = "GLM.Fit"

	var cfg fitConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := validateInputs(op, X, y); err != nil {
		return err
	}
	t, n, f := X.Dims()

	var init param.Params
	if cfg.hasInit {
		if err := validateParams(op, cfg.init, X); err != nil {
			return err
		}
		init = cfg.init.Clone()
	} else {
		init = defaultInitParams(X, y)
	}

	g.logger.Debug("starting fit",
		log.OperationKey, op,
		log.SolverKey, string(g.reg.SolverName()),
		log.RegularizerKey, g.reg.Scheme(),
		log.TimeBinsKey, t,
		log.NeuronsKey, n,
		log.FeaturesKey, f,
	)

	loss := poissonLoss{obs: g.obs}
	runner, err := g.reg.InstantiateSolver(loss)
	if err != nil {
		return err
	}

	fitted, st, err := runner(init, X, y)
	if err != nil {
		return err
	}
	if err := checkFiniteMatrix(op, "coefficients", fitted.Coef); err != nil {
		return err
	}
	if err := checkFiniteVec(op, "intercepts", fitted.Intercept); err != nil {
		return err
	}

	g.coef = mat.DenseCopyOf(fitted.Coef)
	g.intercept = mat.VecDenseCopyOf(fitted.Intercept)
	g.lastState = *st
	g.state.SetDimensions(t, n, f)
	g.state.SetFitted()

	g.obs.EstimateScale(ratesFor(g.obs.InverseLink(), fitted, X))

	g.logger.Info("fit complete",
		log.OperationKey, op,
		log.SolverKey, string(g.reg.SolverName()),
		log.IterationKey, st.Iterations,
		log.LossKey, st.Objective,
		log.ConvergedKey, st.Converged,
	)
	return nil
}

// Predict returns the predicted firing rate for every (time bin, neuron)
// cell of X: the inverse link of the per-neuron feature contraction plus
// intercept. Pure; no estimator state changes.
func (g *GLM) Predict(X *tensor.Array3) (*mat.Dense, error) {
	const op = "GLM.Predict"
	if err := g.state.RequireFitted("GLM", "Predict"); err != nil {
		return nil, err
	}
	_, n, f := g.state.Dimensions()
	if err := validateDesign(op, X, n, f); err != nil {
		return nil, err
	}
	rates := ratesFor(g.obs.InverseLink(), param.Params{Coef: g.coef, Intercept: g.intercept}, X)
	if err := observation.CheckFiniteRate(op, rates); err != nil {
		return nil, err
	}
	return rates, nil
}

// Score evaluates the fitted model on (X, y) using the selected metric.
func (g *GLM) Score(X *tensor.Array3, y *mat.Dense, scoreType ScoreType) (float64, error) {
	const op = "GLM.Score"
	if err := g.state.RequireFitted("GLM", "Score"); err != nil {
		return math.NaN(), err
	}
	if err := validateInputs(op, X, y); err != nil {
		return math.NaN(), err
	}
	_, n, f := g.state.Dimensions()
	if err := validateDesign(op, X, n, f); err != nil {
		return math.NaN(), err
	}

	rates := ratesFor(g.obs.InverseLink(), param.Params{Coef: g.coef, Intercept: g.intercept}, X)
	switch scoreType {
	case ScorePseudoR2:
		return g.obs.PseudoR2(rates, y), nil
	case ScoreNegLogLikelihood:
		return g.obs.NegativeLogLikelihood(rates, y), nil
	default:
		return math.NaN(), errors.NewValueError(op, "unknown score type; use ScorePseudoR2 or ScoreNegLogLikelihood")
	}
}
