package models

import (
	"encoding/json"
	"fmt"
)

// TreeModel is a binary decision tree stored as a flattened node array.
// Internal nodes route on feature <= threshold; leaves carry the positive
// class probability observed in training.
type TreeModel struct {
	nodes []treeNode
}

type treeNode struct {
	// Feature is the index into the feature vector, or -1 for a leaf.
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	// Value is the leaf probability of the positive class.
	Value float64 `json:"value"`
}

func (n treeNode) leaf() bool { return n.Feature < 0 }

// ParseTree deserializes a decision-tree artifact:
//
//	{"nodes": [{"feature": 1, "threshold": 0.5, "left": 1, "right": 2, "value": 0},
//	           {"feature": -1, "value": 0.19}, ...]}
//
// Node 0 is the root. Child indices and leaf probabilities are validated so
// traversal cannot escape the array or loop back onto an ancestor.
func ParseTree(data []byte) (*TreeModel, error) {
	var raw struct {
		Nodes []treeNode `json:"nodes"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode decision tree: %w", err)
	}
	if len(raw.Nodes) == 0 {
		return nil, fmt.Errorf("decision tree has no nodes")
	}

	for i, n := range raw.Nodes {
		if n.leaf() {
			if n.Value < 0 || n.Value > 1 {
				return nil, fmt.Errorf("tree node %d: leaf value %v outside [0,1]", i, n.Value)
			}
			continue
		}
		// Children must point strictly forward in the array. This both
		// bounds-checks and rules out cycles.
		if n.Left <= i || n.Left >= len(raw.Nodes) {
			return nil, fmt.Errorf("tree node %d: invalid left child %d", i, n.Left)
		}
		if n.Right <= i || n.Right >= len(raw.Nodes) {
			return nil, fmt.Errorf("tree node %d: invalid right child %d", i, n.Right)
		}
	}

	return &TreeModel{nodes: raw.Nodes}, nil
}

func (m *TreeModel) Name() string { return "decision_tree" }

// PredictProba walks the tree from the root to a leaf.
func (m *TreeModel) PredictProba(features []float64) (float64, error) {
	idx := 0
	for {
		n := m.nodes[idx]
		if n.leaf() {
			return n.Value, nil
		}
		if n.Feature >= len(features) {
			return 0, fmt.Errorf("decision tree references feature %d, vector has %d", n.Feature, len(features))
		}
		if features[n.Feature] <= n.Threshold {
			idx = n.Left
		} else {
			idx = n.Right
		}
	}
}
