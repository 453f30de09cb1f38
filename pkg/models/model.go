// Package models implements the pre-trained classifiers served by the
// gateway: a logistic regression and a decision tree, both deserialized
// from JSON artifacts written by the offline trainer.
//
// Classifiers are immutable after parsing and safe for concurrent use.
// Inference is deterministic: identical feature vectors always yield
// identical probabilities.
package models

// Classifier scores a feature vector and returns the probability of the
// positive class (survival). Implementations must be pure functions over
// their loaded parameters.
type Classifier interface {
	Name() string
	PredictProba(features []float64) (float64, error)
}

// Label converts a survival probability to its label at the 0.5 decision
// boundary.
func Label(probability float64) string {
	if probability >= 0.5 {
		return "survived"
	}
	return "did_not_survive"
}
