// Attribute keys shared by all spikeglm logging call sites. Using a fixed
// vocabulary keeps fit/predict/simulate logs filterable.

package log

// Model and operation context.
const (
	// ModelNameKey identifies the estimator type, e.g. "GLM".
	ModelNameKey = "model.name"

	// OperationKey is the operation being performed: "fit", "predict",
	// "score", "simulate".
	OperationKey = "ml.operation"

	// ComponentKey identifies the package emitting the record.
	ComponentKey = "ml.component"

	// SolverKey is the solver name driving the current fit.
	SolverKey = "solver.name"

	// RegularizerKey is the regularization scheme of the current fit.
	RegularizerKey = "solver.regularizer"
)

// Data shape.
const (
	// TimeBinsKey is the number of time bins in the design tensor.
	TimeBinsKey = "data.timebins"

	// NeuronsKey is the number of neurons.
	NeuronsKey = "data.neurons"

	// FeaturesKey is the number of features per neuron.
	FeaturesKey = "data.features"
)

// Optimization progress.
const (
	// IterationKey is the iteration count of an iterative solve.
	IterationKey = "opt.iterations"

	// LossKey is the objective value.
	LossKey = "opt.loss"

	// ConvergedKey records whether the solve hit its tolerance.
	ConvergedKey = "opt.converged"
)
