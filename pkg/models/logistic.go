package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// LogisticModel is a binary logistic-regression classifier: a linear score
// over the feature vector passed through a sigmoid.
//
// The artifact stores weights by position, matching the feature-column
// manifest order. The weight count is validated against every prediction.
type LogisticModel struct {
	bias    float64
	weights []float64
}

// ParseLogistic deserializes a logistic-regression artifact:
//
//	{"bias": -0.42, "weights": [0.81, -2.13, ...]}
func ParseLogistic(data []byte) (*LogisticModel, error) {
	var raw struct {
		Bias    float64   `json:"bias"`
		Weights []float64 `json:"weights"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode logistic model: %w", err)
	}
	if len(raw.Weights) == 0 {
		return nil, errors.New("logistic model has no weights")
	}
	for i, w := range raw.Weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("logistic weight %d is not finite", i)
		}
	}

	return &LogisticModel{bias: raw.Bias, weights: raw.Weights}, nil
}

func (m *LogisticModel) Name() string { return "logistic_regression" }

// NumFeatures returns the expected feature-vector length.
func (m *LogisticModel) NumFeatures() int { return len(m.weights) }

// PredictProba computes sigmoid(bias + w·x).
func (m *LogisticModel) PredictProba(features []float64) (float64, error) {
	if len(features) != len(m.weights) {
		return 0, fmt.Errorf("logistic model expects %d features, got %d", len(m.weights), len(features))
	}

	score := m.bias
	for i, w := range m.weights {
		score += w * features[i]
	}

	return 1 / (1 + math.Exp(-score)), nil
}
