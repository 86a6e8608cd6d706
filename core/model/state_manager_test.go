package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurogo/spikeglm/pkg/errors"
)

func TestStateManagerLifecycle(t *testing.T) {
	s := NewStateManager()
	assert.False(t, s.IsFitted())

	err := s.RequireFitted("GLM", "Predict")
	require.Error(t, err)
	var nf *errors.NotFittedError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "GLM", nf.ModelName)
	assert.Equal(t, "Predict", nf.Method)

	s.SetDimensions(100, 4, 7)
	s.SetFitted()
	assert.True(t, s.IsFitted())
	assert.NoError(t, s.RequireFitted("GLM", "Predict"))

	tb, n, f := s.Dimensions()
	assert.Equal(t, 100, tb)
	assert.Equal(t, 4, n)
	assert.Equal(t, 7, f)

	s.Reset()
	assert.False(t, s.IsFitted())
	tb, n, f = s.Dimensions()
	assert.Zero(t, tb)
	assert.Zero(t, n)
	assert.Zero(t, f)
}
