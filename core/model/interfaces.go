// Package model provides the shared interfaces and state helpers for estimators.
package model

import (
	"gonum.org/v1/gonum/mat"
)

// Scorer is the interface for models that can compute a score.
type Scorer interface {
	// Score returns the coefficient of determination R^2 of the prediction.
	Score(X mat.Matrix, y mat.Matrix) (float64, error)
}

// Regressor combines interfaces for regression models.
type Regressor interface {
	Estimator
	Predictor
	Scorer
}

// ParameterGetter is the interface for models that expose their hyperparameters
// under scikit-learn names (n_estimators, random_state, ...).
type ParameterGetter interface {
	GetParams() map[string]interface{}
}

// FeatureImportancer is the interface for models that report impurity-based
// feature importances, normalized to sum to one.
type FeatureImportancer interface {
	FeatureImportances() ([]float64, error)
}
