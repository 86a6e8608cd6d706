// Package spikeglm provides generalized linear models for neural
// spike-count data.
//
// The module fits Poisson-observation GLMs to time-series design tensors,
// optionally with ridge, lasso, or group-lasso regularization, and can
// simulate autoregressive spiking activity from fitted parameters.
//
// Packages:
//
//	glm          GLM estimator: Fit, Predict, Score, Simulate
//	observation  observation (noise) models and inverse-link functions
//	solver       regularizers, proximal operators, and solver dispatch
//	core/tensor  dense 3D design tensors
//	core/param   the coefficient/intercept parameter pair
//	pkg/errors   error taxonomy and convergence warnings
//	pkg/log      structured logging
package spikeglm
