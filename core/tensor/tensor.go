// Package tensor provides the dense three-dimensional design tensor used by
// the GLM estimator. gonum/mat covers vectors and matrices; the design
// matrix X has shape (n_timebins, n_neurons, n_features) and needs one more
// axis.
package tensor

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/neurogo/spikeglm/pkg/errors"
)

// Array3 is a dense row-major tensor of shape (t, n, f): time bins, neurons,
// features. The element (i, j, k) lives at data[(i*n+j)*f+k].
type Array3 struct {
	data    []float64
	t, n, f int
}

// New allocates a zeroed Array3 with the given dimensions.
func New(t, n, f int) *Array3 {
	if t < 0 || n < 0 || f < 0 {
		panic("tensor: negative dimension")
	}
	return &Array3{data: make([]float64, t*n*f), t: t, n: n, f: f}
}

// NewFromSlice wraps data as an Array3 without copying. The slice length
// must equal t*n*f.
func NewFromSlice(data []float64, t, n, f int) (*Array3, error) {
	if len(data) != t*n*f {
		return nil, errors.NewInputShapeError("tensor.NewFromSlice", "data",
			[]int{t * n * f}, []int{len(data)})
	}
	return &Array3{data: data, t: t, n: n, f: f}, nil
}

// Dims returns the tensor dimensions (time bins, neurons, features).
func (a *Array3) Dims() (t, n, f int) {
	return a.t, a.n, a.f
}

// At returns the element at (i, j, k).
func (a *Array3) At(i, j, k int) float64 {
	return a.data[(i*a.n+j)*a.f+k]
}

// Set assigns the element at (i, j, k).
func (a *Array3) Set(i, j, k int, v float64) {
	a.data[(i*a.n+j)*a.f+k] = v
}

// Data returns the backing slice. Mutating it mutates the tensor.
func (a *Array3) Data() []float64 {
	return a.data
}

// NeuronMatrix copies the (t, f) slab for neuron j into a dense matrix.
func (a *Array3) NeuronMatrix(j int) *mat.Dense {
	m := mat.NewDense(a.t, a.f, nil)
	for i := 0; i < a.t; i++ {
		for k := 0; k < a.f; k++ {
			m.Set(i, k, a.At(i, j, k))
		}
	}
	return m
}

// FeatureRow returns the feature vector at time bin i for neuron j as a
// slice sharing the tensor's backing storage.
func (a *Array3) FeatureRow(i, j int) []float64 {
	off := (i*a.n + j) * a.f
	return a.data[off : off+a.f]
}

// IsFinite reports whether every entry is finite (no NaN, no Inf).
func (a *Array3) IsFinite() bool {
	for _, v := range a.data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the tensor.
func (a *Array3) Clone() *Array3 {
	data := make([]float64, len(a.data))
	copy(data, a.data)
	return &Array3{data: data, t: a.t, n: a.n, f: a.f}
}
