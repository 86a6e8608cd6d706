package solver

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/neurogo/spikeglm/pkg/errors"
)

// NewMask validates raw group-assignment data and builds the mask matrix.
// A mask has one row per group and one column per feature; entry (g, f) is
// 1 when feature f belongs to group g. Zero rows are rejected here, before
// matrix construction, since an empty group set has no valid matrix form.
func NewMask(groups, features int, data []float64) (*mat.Dense, error) {
	if groups < 1 {
		return nil, errors.NewValueError("mask",
			fmt.Sprintf("empty mask provided. Mask has %d groups; at least one group is required", groups))
	}
	if features < 1 {
		return nil, errors.NewValueError("mask",
			fmt.Sprintf("mask has %d feature columns; at least one is required", features))
	}
	if data != nil && len(data) != groups*features {
		return nil, errors.NewInputShapeError("mask", "data",
			[]int{groups * features}, []int{len(data)})
	}
	m := mat.NewDense(groups, features, data)
	if err := ValidateMask(m); err != nil {
		return nil, err
	}
	return m, nil
}

// ValidateMask enforces the group-mask invariants: the mask is a non-nil
// two-dimensional binary matrix with at least one group, entries exactly 0
// or 1, and every feature assigned to at most one group. Violations are
// reported as value/validation errors naming the offending entry or
// features.
func ValidateMask(mask *mat.Dense) error {
	if mask == nil {
		return errors.NewValidationError("mask",
			"must be a 2-dimensional binary matrix of shape (n_groups, n_features)", nil)
	}
	groups, features := mask.Dims()
	if groups < 1 {
		return errors.NewValueError("mask",
			fmt.Sprintf("empty mask provided. Mask has %d groups; at least one group is required", groups))
	}

	for g := 0; g < groups; g++ {
		for f := 0; f < features; f++ {
			v := mask.At(g, f)
			if v != 0 && v != 1 {
				return errors.NewValueError("mask",
					fmt.Sprintf("mask elements must be 0s and 1s; entry (%d, %d) is %v", g, f, v))
			}
		}
	}

	var overlapping []int
	for f := 0; f < features; f++ {
		sum := 0.0
		for g := 0; g < groups; g++ {
			sum += mask.At(g, f)
		}
		if sum > 1 {
			overlapping = append(overlapping, f)
		}
	}
	if len(overlapping) > 0 {
		return errors.NewValueError("mask",
			fmt.Sprintf("incorrect group assignment. Features %v are assigned to more than one group; each feature must belong to at most one", overlapping))
	}
	return nil
}

// maskGroupSizes returns the number of features in each group.
func maskGroupSizes(mask *mat.Dense) []int {
	groups, features := mask.Dims()
	sizes := make([]int, groups)
	for g := 0; g < groups; g++ {
		for f := 0; f < features; f++ {
			if mask.At(g, f) == 1 {
				sizes[g]++
			}
		}
	}
	return sizes
}
