// Package artifacts reads the serialized model and preprocessor files
// produced by the offline trainer. It is pure I/O: no caching, no
// concurrency control. The model cache owns both of those concerns.
//
// Artifact files expected under the configured directory:
//   - feature_columns.json       ordered feature manifest (authoritative)
//   - preprocessing_stats.json   imputation statistics
//   - logistic_model.json        logistic-regression bias and named weights
//   - decision_tree.json         flattened decision-tree node array
//   - evaluation_results.json    per-model accuracy and training date
package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tidwall/gjson"

	"github.com/voyagekit/lifeboat/pkg/models"
)

// File names within the artifact directory. These are a contract shared
// with the offline trainer.
const (
	ManifestFile     = "feature_columns.json"
	StatsFile        = "preprocessing_stats.json"
	LogisticFile     = "logistic_model.json"
	DecisionTreeFile = "decision_tree.json"
	EvaluationFile   = "evaluation_results.json"
)

// Stats holds the imputation statistics computed during training. Missing
// values at inference time are filled with these.
type Stats struct {
	AgeMedian    float64 `json:"age_median"`
	FareMedian   float64 `json:"fare_median"`
	EmbarkedMode string  `json:"embarked_mode"`
}

// Evaluation holds per-model accuracy metadata from the training run.
type Evaluation struct {
	LogisticAccuracy float64
	TreeAccuracy     float64
	EnsembleAccuracy float64
	TrainedAt        time.Time
}

// Store reads artifacts from a directory on local disk.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir. The directory must exist; missing
// individual files are reported by the read methods.
func NewStore(dir string) (*Store, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("artifact directory %q: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("artifact path %q is not a directory", dir)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the artifact directory path.
func (s *Store) Dir() string { return s.dir }

// Manifest reads the ordered feature-column manifest. The column order is a
// versioned contract with the trainer; consumers must preserve it exactly.
func (s *Store) Manifest(ctx context.Context) ([]string, error) {
	data, err := s.read(ctx, ManifestFile)
	if err != nil {
		return nil, err
	}

	parsed := gjson.ParseBytes(data)
	if !parsed.IsArray() {
		return nil, fmt.Errorf("manifest %s: expected a JSON array of column names", ManifestFile)
	}

	var columns []string
	for _, col := range parsed.Array() {
		if col.Type != gjson.String || col.String() == "" {
			return nil, fmt.Errorf("manifest %s: invalid column entry %q", ManifestFile, col.Raw)
		}
		columns = append(columns, col.String())
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("manifest %s: no columns", ManifestFile)
	}

	return columns, nil
}

// Stats reads the preprocessing statistics used for missing-value imputation.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	data, err := s.read(ctx, StatsFile)
	if err != nil {
		return Stats{}, err
	}

	parsed := gjson.ParseBytes(data)
	stats := Stats{
		AgeMedian:    parsed.Get("age_median").Float(),
		FareMedian:   parsed.Get("fare_median").Float(),
		EmbarkedMode: parsed.Get("embarked_mode").String(),
	}
	if !parsed.Get("age_median").Exists() || !parsed.Get("fare_median").Exists() {
		return Stats{}, fmt.Errorf("stats %s: missing imputation medians", StatsFile)
	}
	if stats.EmbarkedMode == "" {
		stats.EmbarkedMode = "S"
	}

	return stats, nil
}

// LogisticModel reads and validates the logistic-regression artifact.
func (s *Store) LogisticModel(ctx context.Context) (*models.LogisticModel, error) {
	data, err := s.read(ctx, LogisticFile)
	if err != nil {
		return nil, err
	}
	m, err := models.ParseLogistic(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", LogisticFile, err)
	}
	return m, nil
}

// DecisionTree reads and validates the decision-tree artifact.
func (s *Store) DecisionTree(ctx context.Context) (*models.TreeModel, error) {
	data, err := s.read(ctx, DecisionTreeFile)
	if err != nil {
		return nil, err
	}
	m, err := models.ParseTree(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", DecisionTreeFile, err)
	}
	return m, nil
}

// Evaluation reads accuracy metadata from the training run. Parsed leniently:
// a missing or partial file yields conservative defaults rather than an
// error, since metadata is informational only.
func (s *Store) Evaluation(ctx context.Context) Evaluation {
	eval := Evaluation{
		LogisticAccuracy: 0.83,
		TreeAccuracy:     0.80,
		EnsembleAccuracy: 0.82,
	}

	data, err := s.read(ctx, EvaluationFile)
	if err != nil {
		return eval
	}

	parsed := gjson.ParseBytes(data)
	if v := parsed.Get("logistic_regression_accuracy"); v.Exists() {
		eval.LogisticAccuracy = v.Float()
	}
	if v := parsed.Get("decision_tree_accuracy"); v.Exists() {
		eval.TreeAccuracy = v.Float()
	}
	if v := parsed.Get("ensemble_accuracy"); v.Exists() {
		eval.EnsembleAccuracy = v.Float()
	}
	if v := parsed.Get("trained_at"); v.Exists() {
		if t, err := time.Parse(time.RFC3339, v.String()); err == nil {
			eval.TrainedAt = t
		}
	}

	return eval
}

// FilesPresent reports, per artifact file, whether it exists and is readable.
// Used by the health checker; never parses file contents.
func (s *Store) FilesPresent() map[string]bool {
	present := make(map[string]bool, 5)
	for _, name := range []string{ManifestFile, StatsFile, LogisticFile, DecisionTreeFile, EvaluationFile} {
		_, err := os.Stat(filepath.Join(s.dir, name))
		present[name] = err == nil
	}
	return present
}

func (s *Store) read(ctx context.Context, name string) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", name, err)
	}
	return data, nil
}
