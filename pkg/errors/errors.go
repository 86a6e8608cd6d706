// Package errors provides the error and warning system shared by all
// spikeglm components. Validation failures are reported through a small set
// of typed errors so that callers can distinguish shape problems from
// domain problems from state problems, and every constructor attaches a
// stack trace via cockroachdb/errors.
package errors

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// ===========================================================================
//
//	Global warning handling
//
// ===========================================================================

var (
	warningMutex   sync.Mutex
	warningHandler = func(w error) {
		log.Printf("spikeglm warning: %v\n", w)
	}
)

// SetWarningHandler overrides how non-fatal warnings (such as
// ConvergenceWarning) are delivered. The default handler writes to the
// standard logger.
func SetWarningHandler(handler func(w error)) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	warningHandler = handler
}

// Warn delivers a warning to the configured handler. Warnings never abort
// the operation that raised them.
func Warn(w error) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	if warningHandler != nil {
		warningHandler(w)
	}
}

// ===========================================================================
//
//	Warning types
//
// ===========================================================================

// ConvergenceWarning is raised when an iterative solver stops on its
// iteration budget rather than on its tolerance.
type ConvergenceWarning struct {
	Solver     string
	Iterations int
	Objective  float64
}

func (w *ConvergenceWarning) Error() string {
	return fmt.Sprintf("%s did not converge within %d iterations (objective %g). Consider increasing maxiter or loosening tol.",
		w.Solver, w.Iterations, w.Objective)
}

// MarshalZerologObject adds the structured warning fields to a zerolog event.
func (w *ConvergenceWarning) MarshalZerologObject(e *zerolog.Event) {
	e.Str("solver", w.Solver).
		Int("iterations", w.Iterations).
		Float64("objective", w.Objective).
		Str("type", "ConvergenceWarning")
}

// NewConvergenceWarning creates a new ConvergenceWarning.
func NewConvergenceWarning(solver string, iterations int, objective float64) *ConvergenceWarning {
	return &ConvergenceWarning{Solver: solver, Iterations: iterations, Objective: objective}
}

// ===========================================================================
//
//	Structured error types
//
// ===========================================================================

// NotFittedError is returned when Predict, Score or Simulate is called on a
// model whose Fit has not completed successfully.
type NotFittedError struct {
	ModelName string
	Method    string
}

func (e *NotFittedError) Error() string {
	return fmt.Sprintf("spikeglm: %s: this model is not fitted yet. Call Fit() before using %s()", e.ModelName, e.Method)
}

// MarshalZerologObject adds the structured error fields to a zerolog event.
func (e *NotFittedError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("model_name", e.ModelName).
		Str("method", e.Method).
		Str("type", "NotFittedError")
}

// NewNotFittedError creates a new NotFittedError with a stack trace.
func NewNotFittedError(modelName, method string) error {
	err := &NotFittedError{ModelName: modelName, Method: method}
	return errors.WithStack(err)
}

// DimensionError reports a rank or axis-length mismatch on a single axis.
type DimensionError struct {
	Op       string
	Expected int
	Got      int
	Axis     string // "rank", "timebins", "neurons", "features", "groups"
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("spikeglm: %s: dimension mismatch on %s. Expected %d, got %d", e.Op, e.Axis, e.Expected, e.Got)
}

// MarshalZerologObject adds the structured error fields to a zerolog event.
func (e *DimensionError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Op).
		Int("expected", e.Expected).
		Int("got", e.Got).
		Str("axis", e.Axis).
		Str("type", "DimensionError")
}

// NewDimensionError creates a new DimensionError with a stack trace.
func NewDimensionError(op string, expected, got int, axis string) error {
	err := &DimensionError{Op: op, Expected: expected, Got: got, Axis: axis}
	return errors.WithStack(err)
}

// InputShapeError reports a full-shape mismatch between an input array and
// what the model parameters require.
type InputShapeError struct {
	Op       string
	Name     string // offending array
	Expected []int
	Got      []int
}

func (e *InputShapeError) Error() string {
	return fmt.Sprintf("spikeglm: %s: input %q has shape %v, expected %v", e.Op, e.Name, e.Got, e.Expected)
}

// MarshalZerologObject adds the structured error fields to a zerolog event.
func (e *InputShapeError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Op).
		Str("input", e.Name).
		Ints("expected", e.Expected).
		Ints("got", e.Got).
		Str("type", "InputShapeError")
}

// NewInputShapeError creates a new InputShapeError with a stack trace.
func NewInputShapeError(op, name string, expected, got []int) error {
	err := &InputShapeError{Op: op, Name: name, Expected: expected, Got: got}
	return errors.WithStack(err)
}

// ValidationError reports a parameter that failed a validation rule, such
// as an inverse-link function violating one of its contract checks or a
// mask entry outside {0, 1}.
type ValidationError struct {
	ParamName string
	Reason    string
	Value     interface{}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("spikeglm: validation failed for parameter %q: %s (got: %v)", e.ParamName, e.Reason, e.Value)
}

// MarshalZerologObject adds the structured error fields to a zerolog event.
func (e *ValidationError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("param_name", e.ParamName).
		Str("reason", e.Reason).
		Interface("value", e.Value).
		Str("type", "ValidationError")
}

// NewValidationError creates a new ValidationError with a stack trace.
func NewValidationError(param, reason string, value interface{}) error {
	err := &ValidationError{ParamName: param, Reason: reason, Value: value}
	return errors.WithStack(err)
}

// ValueError reports an argument whose value is not acceptable for the
// operation, such as a solver name outside a regularizer's allow-list.
type ValueError struct {
	Op      string
	Message string
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("spikeglm: %s: %s", e.Op, e.Message)
}

// NewValueError creates a new ValueError with a stack trace.
func NewValueError(op, message string) error {
	err := &ValueError{Op: op, Message: message}
	return errors.WithStack(err)
}

// UnknownOptionError reports solver option keys that the selected
// optimization routine does not accept.
type UnknownOptionError struct {
	Solver string
	Keys   []string
}

func (e *UnknownOptionError) Error() string {
	keys := append([]string(nil), e.Keys...)
	sort.Strings(keys)
	return fmt.Sprintf("spikeglm: options {%s} are not accepted by solver %s", strings.Join(keys, ", "), e.Solver)
}

// MarshalZerologObject adds the structured error fields to a zerolog event.
func (e *UnknownOptionError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("solver", e.Solver).
		Strs("keys", e.Keys).
		Str("type", "UnknownOptionError")
}

// NewUnknownOptionError creates a new UnknownOptionError with a stack trace.
func NewUnknownOptionError(solver string, keys []string) error {
	err := &UnknownOptionError{Solver: solver, Keys: keys}
	return errors.WithStack(err)
}

// NumericalInstabilityError reports NaN, Inf, or other numerically invalid
// values detected in an input array or during optimization.
type NumericalInstabilityError struct {
	Operation string
	Name      string // offending array
	Values    []float64
}

func (e *NumericalInstabilityError) Error() string {
	valStr := ""
	for i, v := range e.Values {
		if i > 0 {
			valStr += ", "
		}
		if i >= 5 {
			valStr += "..."
			break
		}
		valStr += fmt.Sprintf("%.6g", v)
	}
	return fmt.Sprintf("spikeglm: %s: input %q contains non-finite entries. Values: [%s]", e.Operation, e.Name, valStr)
}

// MarshalZerologObject adds the structured error fields to a zerolog event.
func (e *NumericalInstabilityError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Operation).
		Str("input", e.Name).
		Floats64("values", e.Values).
		Str("type", "NumericalInstabilityError")
}

// NewNumericalInstabilityError creates a new NumericalInstabilityError.
func NewNumericalInstabilityError(operation, name string, values []float64) error {
	err := &NumericalInstabilityError{Operation: operation, Name: name, Values: values}
	return errors.WithStack(err)
}

// ===========================================================================
//
//	cockroachdb/errors wrappers
//
// ===========================================================================

// Is reports whether err matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Wrap wraps an error with a message.
func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// New creates a new error with a stack trace.
func New(message string) error {
	return errors.New(message)
}

// Newf creates a new formatted error with a stack trace.
func Newf(format string, args ...interface{}) error {
	return errors.Newf(format, args...)
}

// WithStack annotates err with a stack trace.
func WithStack(err error) error {
	return errors.WithStack(err)
}

// ===========================================================================
//
//	Common error variables
//
// ===========================================================================

var (
	// ErrEmptyData is returned when an input array has zero extent.
	ErrEmptyData = New("empty data")

	// ErrNilLoss is returned when a solver is instantiated without a loss.
	ErrNilLoss = New("loss function must not be nil")
)
