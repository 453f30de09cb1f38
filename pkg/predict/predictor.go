// Package predict composes the feature transformer and the lazily loaded
// classifiers into an ensemble prediction.
//
// The ensemble requires both members: if either model fails to load the
// whole prediction fails. There is no partial or best-effort result.
package predict

import (
	"context"
	"fmt"
	"math"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/voyagekit/lifeboat/pkg/artifacts"
	"github.com/voyagekit/lifeboat/pkg/features"
	"github.com/voyagekit/lifeboat/pkg/mlcache"
	"github.com/voyagekit/lifeboat/pkg/models"
)

// Artifact keys registered with the model cache.
const (
	KeyPreprocessor = "preprocessor"
	KeyLogistic     = "logistic_regression"
	KeyTree         = "decision_tree"
)

// ModelKeys are the classifier keys required for an ensemble prediction.
var ModelKeys = []string{KeyLogistic, KeyTree}

// Loaders builds the cache loader table over an artifact store. The
// preprocessor key yields a *features.Transformer; model keys yield
// models.Classifier implementations.
func Loaders(store *artifacts.Store) map[string]mlcache.LoadFunc {
	return map[string]mlcache.LoadFunc{
		KeyPreprocessor: func(ctx context.Context) (any, error) {
			manifest, err := store.Manifest(ctx)
			if err != nil {
				return nil, err
			}
			stats, err := store.Stats(ctx)
			if err != nil {
				return nil, err
			}
			return features.NewTransformer(manifest, stats)
		},
		KeyLogistic: func(ctx context.Context) (any, error) {
			return store.LogisticModel(ctx)
		},
		KeyTree: func(ctx context.Context) (any, error) {
			return store.DecisionTree(ctx)
		},
	}
}

// ModelResult is one classifier's contribution to the ensemble.
type ModelResult struct {
	Probability float64 `json:"probability"`
	Label       string  `json:"label"`
}

// EnsembleResult is the combined prediction.
type EnsembleResult struct {
	Probability     float64 `json:"probability"`
	Label           string  `json:"label"`
	Confidence      float64 `json:"confidence"`
	ConfidenceLevel string  `json:"confidence_level"`
}

// Result is the full prediction payload returned to clients.
type Result struct {
	PerModel map[string]ModelResult `json:"per_model"`
	Ensemble EnsembleResult         `json:"ensemble"`
}

// Predictor orchestrates transform → model fetch → ensemble assembly.
type Predictor struct {
	cache *mlcache.Cache
}

// New creates a predictor over the given model cache. The cache must have
// the preprocessor and both model keys registered.
func New(cache *mlcache.Cache) *Predictor {
	return &Predictor{cache: cache}
}

// Predict runs the full inference path for one passenger. It is
// deterministic: identical input always yields an identical result.
func (p *Predictor) Predict(ctx context.Context, passenger features.Passenger) (Result, error) {
	h, err := p.cache.Get(ctx, KeyPreprocessor)
	if err != nil {
		return Result{}, err
	}
	transformer, ok := h.(*features.Transformer)
	if !ok {
		return Result{}, fmt.Errorf("unexpected preprocessor handle type %T", h)
	}

	vector, err := transformer.Transform(passenger)
	if err != nil {
		return Result{}, err
	}

	// Both models may trigger a first-use load; fetch them in parallel so
	// cold starts pay one load latency, not two.
	perModel := make(map[string]ModelResult, len(ModelKeys))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, key := range ModelKeys {
		g.Go(func() error {
			mh, err := p.cache.Get(gctx, key)
			if err != nil {
				return err
			}
			clf, ok := mh.(models.Classifier)
			if !ok {
				return fmt.Errorf("unexpected model handle type %T for %s", mh, key)
			}

			prob, err := clf.PredictProba(vector)
			if err != nil {
				return fmt.Errorf("model %s: %w", key, err)
			}

			mu.Lock()
			perModel[key] = ModelResult{Probability: prob, Label: models.Label(prob)}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	sum := 0.0
	for _, r := range perModel {
		sum += r.Probability
	}
	ensembleProb := sum / float64(len(perModel))

	return Result{
		PerModel: perModel,
		Ensemble: EnsembleResult{
			Probability:     ensembleProb,
			Label:           models.Label(ensembleProb),
			Confidence:      Confidence(ensembleProb),
			ConfidenceLevel: ConfidenceLevel(ensembleProb),
		},
	}, nil
}

// Confidence is the normalized distance of a probability from the 0.5
// decision boundary, in [0, 1].
func Confidence(probability float64) float64 {
	return math.Abs(probability-0.5) * 2
}

// ConfidenceLevel buckets confidence. The boundaries are a policy constant:
// low < 0.4 <= medium < 0.8 <= high.
func ConfidenceLevel(probability float64) string {
	c := Confidence(probability)
	switch {
	case c < 0.4:
		return "low"
	case c < 0.8:
		return "medium"
	default:
		return "high"
	}
}
