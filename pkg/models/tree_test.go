package models

import "testing"

// twoLevelTree splits on feature 1 (sex), then on feature 0 (pclass) for
// the female branch.
const twoLevelTree = `{"nodes": [
	{"feature": 1, "threshold": 0.5, "left": 1, "right": 4},
	{"feature": 0, "threshold": 2.5, "left": 2, "right": 3},
	{"feature": -1, "value": 0.95},
	{"feature": -1, "value": 0.5},
	{"feature": -1, "value": 0.19}
]}`

func TestParseTree(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{
			name: "valid tree",
			data: twoLevelTree,
		},
		{
			name: "single leaf",
			data: `{"nodes": [{"feature": -1, "value": 0.62}]}`,
		},
		{
			name:    "no nodes",
			data:    `{"nodes": []}`,
			wantErr: true,
		},
		{
			name:    "leaf value above one",
			data:    `{"nodes": [{"feature": -1, "value": 1.5}]}`,
			wantErr: true,
		},
		{
			name:    "leaf value negative",
			data:    `{"nodes": [{"feature": -1, "value": -0.1}]}`,
			wantErr: true,
		},
		{
			name: "child out of bounds",
			data: `{"nodes": [
				{"feature": 0, "threshold": 1, "left": 1, "right": 9},
				{"feature": -1, "value": 0.5}
			]}`,
			wantErr: true,
		},
		{
			name: "backward child creates cycle",
			data: `{"nodes": [
				{"feature": 0, "threshold": 1, "left": 1, "right": 2},
				{"feature": 0, "threshold": 2, "left": 0, "right": 2},
				{"feature": -1, "value": 0.5}
			]}`,
			wantErr: true,
		},
		{
			name: "self-referencing child",
			data: `{"nodes": [
				{"feature": 0, "threshold": 1, "left": 0, "right": 1},
				{"feature": -1, "value": 0.5}
			]}`,
			wantErr: true,
		},
		{
			name:    "not json",
			data:    `nodes`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTree([]byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTree() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTreeModel_PredictProba(t *testing.T) {
	m, err := ParseTree([]byte(twoLevelTree))
	if err != nil {
		t.Fatalf("ParseTree() error = %v", err)
	}

	tests := []struct {
		name     string
		features []float64
		want     float64
	}{
		{
			name:     "female upper class",
			features: []float64{1, 0},
			want:     0.95,
		},
		{
			name:     "female third class",
			features: []float64{3, 0},
			want:     0.5,
		},
		{
			name:     "male",
			features: []float64{3, 1},
			want:     0.19,
		},
		{
			name:     "boundary routes left",
			features: []float64{2.5, 0.5},
			want:     0.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.PredictProba(tt.features)
			if err != nil {
				t.Fatalf("PredictProba() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("PredictProba(%v) = %v, want %v", tt.features, got, tt.want)
			}
		})
	}
}

func TestTreeModel_PredictProba_ShortVector(t *testing.T) {
	m, err := ParseTree([]byte(twoLevelTree))
	if err != nil {
		t.Fatalf("ParseTree() error = %v", err)
	}

	if _, err := m.PredictProba([]float64{1}); err == nil {
		t.Error("PredictProba() with missing feature index should fail")
	}
}
