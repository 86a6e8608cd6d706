package solver

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/neurogo/spikeglm/core/param"
	"github.com/neurogo/spikeglm/core/tensor"
	"github.com/neurogo/spikeglm/pkg/errors"
)

// Regularizer is the contract the GLM estimator consumes: a regularization
// scheme bound to a validated solver choice, able to produce a Runner for a
// given loss.
type Regularizer interface {
	// Scheme names the regularization scheme ("UnRegularized", "Ridge",
	// "Lasso", "GroupLasso").
	Scheme() string

	// SolverName returns the currently selected solver.
	SolverName() Name

	// AllowedSolvers returns the solver allow-list for this scheme.
	AllowedSolvers() []Name

	// RegularizerStrength returns the penalty weight.
	RegularizerStrength() float64

	// Penalty evaluates the scheme's penalty term at p.
	Penalty(p param.Params) float64

	// InstantiateSolver validates the loss and binds it to the selected
	// routine, returning a ready-to-call Runner.
	InstantiateSolver(loss Loss) (Runner, error)
}

// base carries the state shared by all regularizer schemes. All mutation
// re-validates: an invalid solver name or option set can never be stored.
type base struct {
	scheme   string
	allowed  []Name
	name     Name
	opts     Options
	strength float64
}

func newBase(scheme string, allowed []Name, name Name, strength float64) (base, error) {
	b := base{scheme: scheme, allowed: allowed, strength: strength, opts: Options{}}
	if err := b.SetSolverName(name); err != nil {
		return base{}, err
	}
	return b, nil
}

// Scheme names the regularization scheme.
func (b *base) Scheme() string { return b.scheme }

// SolverName returns the currently selected solver.
func (b *base) SolverName() Name { return b.name }

// AllowedSolvers returns a copy of the scheme's solver allow-list.
func (b *base) AllowedSolvers() []Name {
	return append([]Name(nil), b.allowed...)
}

// SetSolverName selects a solver, validating it against the allow-list and
// re-validating any stored options against the new solver's accepted keys.
func (b *base) SetSolverName(name Name) error {
	ok := false
	for _, a := range b.allowed {
		if a == name {
			ok = true
			break
		}
	}
	if !ok {
		return errors.NewValueError("solver",
			fmt.Sprintf("solver %q not allowed for %s regularization; allowed solvers are %v", name, b.scheme, b.allowed))
	}
	if err := validateOptions(name, b.opts); err != nil {
		return err
	}
	b.name = name
	return nil
}

// Options returns a copy of the stored solver options.
func (b *base) Options() Options {
	out := make(Options, len(b.opts))
	for k, v := range b.opts {
		out[k] = v
	}
	return out
}

// SetOptions replaces the solver options, rejecting keys the selected
// solver does not accept and values that do not parse.
func (b *base) SetOptions(opts Options) error {
	if err := validateOptions(b.name, opts); err != nil {
		return err
	}
	if _, err := parseSettings(b.name, opts); err != nil {
		return err
	}
	stored := make(Options, len(opts))
	for k, v := range opts {
		stored[k] = v
	}
	b.opts = stored
	return nil
}

// RegularizerStrength returns the penalty weight.
func (b *base) RegularizerStrength() float64 { return b.strength }

// SetRegularizerStrength sets the penalty weight; it must be finite and
// non-negative.
func (b *base) SetRegularizerStrength(s float64) error {
	if math.IsNaN(s) || math.IsInf(s, 0) || s < 0 {
		return errors.NewValidationError("regularizer_strength", "must be a finite value >= 0", s)
	}
	b.strength = s
	return nil
}

func (b *base) parsedSettings() (settings, error) {
	return parseSettings(b.name, b.opts)
}

func (b *base) checkLoss(loss Loss) error {
	if loss == nil {
		return errors.Wrapf(errors.ErrNilLoss, "%s regularization", b.scheme)
	}
	return nil
}

// Option configures a regularizer at construction.
type Option func(*base) error

// WithSolverOptions supplies options for the underlying routine. Keys are
// validated against the selected solver.
func WithSolverOptions(opts Options) Option {
	return func(b *base) error { return b.SetOptions(opts) }
}

// WithRegularizerStrength sets the penalty weight.
func WithRegularizerStrength(s float64) Option {
	return func(b *base) error { return b.SetRegularizerStrength(s) }
}

func zeroPenalty(param.Params) float64        { return 0 }
func zeroPenaltyGrad([]float64, param.Params) {}

func applyOpts(b *base, opts []Option) error {
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return err
		}
	}
	return nil
}

// ===========================================================================
//
//	UnRegularized
//
// ===========================================================================

// UnRegularizedSolver fits without a penalty. Any gradient-family solver is
// allowed.
type UnRegularizedSolver struct {
	base
}

// NewUnRegularizedSolver creates an unregularized scheme bound to the named
// solver.
func NewUnRegularizedSolver(name Name, opts ...Option) (*UnRegularizedSolver, error) {
	b, err := newBase("UnRegularized", gradientSolvers, name, 0)
	if err != nil {
		return nil, err
	}
	s := &UnRegularizedSolver{base: b}
	if err := applyOpts(&s.base, opts); err != nil {
		return nil, err
	}
	return s, nil
}

// Penalty is identically zero.
func (s *UnRegularizedSolver) Penalty(param.Params) float64 { return 0 }

// InstantiateSolver binds the loss to the selected routine.
func (s *UnRegularizedSolver) InstantiateSolver(loss Loss) (Runner, error) {
	if err := s.checkLoss(loss); err != nil {
		return nil, err
	}
	cfg, err := s.parsedSettings()
	if err != nil {
		return nil, err
	}
	if s.name == ScipyBoundedMinimize || s.name == LBFGSB {
		return runProximal(s.name, cfg, loss, zeroPenalty, zeroPenaltyGrad,
			zeroPenalty, boxProjectionProx(cfg.lower, cfg.upper)), nil
	}
	return runGradient(s.name, cfg, loss, zeroPenalty, zeroPenaltyGrad), nil
}

var _ Regularizer = (*UnRegularizedSolver)(nil)

// ===========================================================================
//
//	Ridge
//
// ===========================================================================

// RidgeSolver adds a squared-L2 penalty on the coefficients. The penalty is
// smooth, so the allow-list matches the unregularized one.
type RidgeSolver struct {
	base
}

// NewRidgeSolver creates a ridge scheme with default strength 1.0.
func NewRidgeSolver(name Name, opts ...Option) (*RidgeSolver, error) {
	b, err := newBase("Ridge", gradientSolvers, name, 1.0)
	if err != nil {
		return nil, err
	}
	s := &RidgeSolver{base: b}
	if err := applyOpts(&s.base, opts); err != nil {
		return nil, err
	}
	return s, nil
}

// Penalty returns strength/2 * sum(coef^2). The half factor follows the
// reference Poisson-regression convention, so that strength plays the role
// of the reference's alpha against the mean negative log-likelihood.
func (s *RidgeSolver) Penalty(p param.Params) float64 {
	n, f := p.Dims()
	sum := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < f; j++ {
			v := p.Coef.At(i, j)
			sum += v * v
		}
	}
	return 0.5 * s.strength * sum
}

func (s *RidgeSolver) penaltyGrad(grad []float64, p param.Params) {
	n, f := p.Dims()
	for i := 0; i < n; i++ {
		for j := 0; j < f; j++ {
			grad[i*f+j] += s.strength * p.Coef.At(i, j)
		}
	}
}

// InstantiateSolver binds the loss plus the ridge penalty to the selected
// routine.
func (s *RidgeSolver) InstantiateSolver(loss Loss) (Runner, error) {
	if err := s.checkLoss(loss); err != nil {
		return nil, err
	}
	cfg, err := s.parsedSettings()
	if err != nil {
		return nil, err
	}
	if s.name == ScipyBoundedMinimize || s.name == LBFGSB {
		return runProximal(s.name, cfg, loss, s.Penalty, s.penaltyGrad,
			zeroPenalty, boxProjectionProx(cfg.lower, cfg.upper)), nil
	}
	return runGradient(s.name, cfg, loss, s.Penalty, s.penaltyGrad), nil
}

var _ Regularizer = (*RidgeSolver)(nil)

// ===========================================================================
//
//	Lasso
//
// ===========================================================================

// LassoSolver adds an L1 penalty on the coefficients. The penalty is not
// differentiable at zero, so only the proximal-gradient routine is allowed.
type LassoSolver struct {
	base
}

// NewLassoSolver creates a lasso scheme with default strength 1.0.
func NewLassoSolver(name Name, opts ...Option) (*LassoSolver, error) {
	b, err := newBase("Lasso", proximalSolvers, name, 1.0)
	if err != nil {
		return nil, err
	}
	s := &LassoSolver{base: b}
	if err := applyOpts(&s.base, opts); err != nil {
		return nil, err
	}
	return s, nil
}

// Penalty returns strength * sum(|coef|).
func (s *LassoSolver) Penalty(p param.Params) float64 {
	n, f := p.Dims()
	sum := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < f; j++ {
			sum += math.Abs(p.Coef.At(i, j))
		}
	}
	return s.strength * sum
}

// InstantiateSolver binds the loss and the soft-thresholding proximal step
// to the proximal-gradient routine.
func (s *LassoSolver) InstantiateSolver(loss Loss) (Runner, error) {
	if err := s.checkLoss(loss); err != nil {
		return nil, err
	}
	cfg, err := s.parsedSettings()
	if err != nil {
		return nil, err
	}
	return runProximal(s.name, cfg, loss, zeroPenalty, zeroPenaltyGrad,
		s.Penalty, softThresholdProx(s.strength)), nil
}

var _ Regularizer = (*LassoSolver)(nil)

// ===========================================================================
//
//	GroupLasso
//
// ===========================================================================

// GroupLassoSolver adds a group-L2 penalty defined by a binary mask of
// shape (n_groups, n_features). Only the proximal-gradient routine is
// allowed. The mask is validated at construction and again on every
// mutation.
type GroupLassoSolver struct {
	base
	mask *mat.Dense
}

// NewGroupLassoSolver creates a group-lasso scheme over the given mask with
// default strength 1.0.
func NewGroupLassoSolver(name Name, mask *mat.Dense, opts ...Option) (*GroupLassoSolver, error) {
	b, err := newBase("GroupLasso", proximalSolvers, name, 1.0)
	if err != nil {
		return nil, err
	}
	if err := ValidateMask(mask); err != nil {
		return nil, err
	}
	s := &GroupLassoSolver{base: b, mask: mat.DenseCopyOf(mask)}
	if err := applyOpts(&s.base, opts); err != nil {
		return nil, err
	}
	return s, nil
}

// Mask returns a copy of the group-assignment mask.
func (s *GroupLassoSolver) Mask() *mat.Dense {
	return mat.DenseCopyOf(s.mask)
}

// SetMask replaces the mask, re-validating the group invariants. On failure
// the previous mask is kept.
func (s *GroupLassoSolver) SetMask(mask *mat.Dense) error {
	if err := ValidateMask(mask); err != nil {
		return err
	}
	s.mask = mat.DenseCopyOf(mask)
	return nil
}

// Penalty returns strength * sum over neurons and groups of
// sqrt(group_size) * ||coef_group||_2.
func (s *GroupLassoSolver) Penalty(p param.Params) float64 {
	n, f := p.Dims()
	groups, maskF := s.mask.Dims()
	if maskF != f {
		return math.NaN()
	}
	sizes := maskGroupSizes(s.mask)
	sum := 0.0
	for i := 0; i < n; i++ {
		for g := 0; g < groups; g++ {
			if sizes[g] == 0 {
				continue
			}
			norm := 0.0
			for j := 0; j < f; j++ {
				if s.mask.At(g, j) == 1 {
					v := p.Coef.At(i, j)
					norm += v * v
				}
			}
			sum += math.Sqrt(float64(sizes[g])) * math.Sqrt(norm)
		}
	}
	return s.strength * sum
}

// InstantiateSolver binds the loss and the block shrink-or-zero proximal
// step to the proximal-gradient routine. The returned Runner checks that
// the mask's feature count matches the parameters it is given.
func (s *GroupLassoSolver) InstantiateSolver(loss Loss) (Runner, error) {
	if err := s.checkLoss(loss); err != nil {
		return nil, err
	}
	if err := ValidateMask(s.mask); err != nil {
		return nil, err
	}
	cfg, err := s.parsedSettings()
	if err != nil {
		return nil, err
	}
	mask := s.mask
	inner := runProximal(s.name, cfg, loss, zeroPenalty, zeroPenaltyGrad,
		s.Penalty, groupLassoProx(mask, s.strength))

	return func(init param.Params, X *tensor.Array3, y *mat.Dense) (param.Params, *State, error) {
		_, features := init.Dims()
		groups, maskF := mask.Dims()
		if maskF != features {
			return param.Params{}, nil, errors.NewInputShapeError("GroupLasso", "mask",
				[]int{groups, features}, []int{groups, maskF})
		}
		return inner(init, X, y)
	}, nil
}

var _ Regularizer = (*GroupLassoSolver)(nil)
