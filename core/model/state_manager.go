// Package model provides fitted-state management for estimators.
package model

import (
	"sync"

	"github.com/neurogo/spikeglm/pkg/errors"
)

// StateManager tracks whether an estimator has been fitted and the data
// dimensions seen at fit time. Estimators hold one by composition rather
// than by embedding a base estimator.
type StateManager struct {
	fitted bool
	mu     sync.RWMutex

	neurons  int
	features int
	timeBins int
}

// NewStateManager creates an unfitted StateManager.
func NewStateManager() *StateManager {
	return &StateManager{}
}

// IsFitted reports whether the model has been fitted.
func (s *StateManager) IsFitted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fitted
}

// SetFitted marks the model as fitted.
func (s *StateManager) SetFitted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fitted = true
}

// Reset returns the state to unfitted and clears recorded dimensions.
func (s *StateManager) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fitted = false
	s.neurons = 0
	s.features = 0
	s.timeBins = 0
}

// SetDimensions records the data dimensions seen during fitting.
func (s *StateManager) SetDimensions(timeBins, neurons, features int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeBins = timeBins
	s.neurons = neurons
	s.features = features
}

// Dimensions returns the data dimensions recorded during fitting.
func (s *StateManager) Dimensions() (timeBins, neurons, features int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.timeBins, s.neurons, s.features
}

// RequireFitted returns a NotFittedError naming the model and method if the
// model has not been fitted.
func (s *StateManager) RequireFitted(modelName, method string) error {
	if !s.IsFitted() {
		return errors.NewNotFittedError(modelName, method)
	}
	return nil
}
