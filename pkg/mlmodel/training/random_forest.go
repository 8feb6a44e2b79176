package training

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/mimir-aip/battery-soh/pkg/models"
)

// RandomForestTrainer fits a bagged ensemble of regression trees
type RandomForestTrainer struct {
	config       models.RandomForestConfig
	configured   bool
	featureNames []string

	trees      []*treeNode
	width      int
	importance []float64
}

// NewRandomForestTrainer creates a new random forest trainer
func NewRandomForestTrainer(featureNames []string) *RandomForestTrainer {
	return &RandomForestTrainer{featureNames: featureNames}
}

// Configure applies random forest hyperparameters
func (t *RandomForestTrainer) Configure(params models.Hyperparameters) error {
	if params.RandomForest == nil {
		return fmt.Errorf("%w: random_forest", ErrNotConfigured)
	}
	cfg := params.RandomForest.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid random forest config: %w", err)
	}
	t.Dispose()
	t.config = cfg
	t.configured = true
	return nil
}

// Config returns the effective hyperparameters
func (t *RandomForestTrainer) Config() models.RandomForestConfig {
	return t.config
}

// Train builds every tree on its own bootstrap sample and feature subset
func (t *RandomForestTrainer) Train(ctx context.Context, features [][]float64, targets []float64) error {
	if !t.configured {
		return &TrainingError{Model: models.ModelTypeRandomForest, Err: ErrNotConfigured}
	}
	width, err := checkTrainingData(models.ModelTypeRandomForest, features, targets)
	if err != nil {
		return err
	}
	subset, err := models.FeatureSubsetSize(t.config.MaxFeatures, width)
	if err != nil {
		return &TrainingError{Model: models.ModelTypeRandomForest, Err: err}
	}

	trees := make([]*treeNode, t.config.NEstimators)
	importances := make([][]float64, t.config.NEstimators)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range trees {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewSource(t.config.Seed + int64(i)))
			builder := &regressionTreeBuilder{
				maxDepth:        t.config.MaxDepth,
				minSamplesSplit: t.config.MinSamplesSplit,
				candidates:      rng.Perm(width)[:subset],
				importance:      make([]float64, width),
			}
			trees[i] = builder.build(features, targets, t.sample(rng, len(targets)))
			importances[i] = builder.importance
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	total := make([]float64, width)
	for _, imp := range importances {
		for j, v := range imp {
			total[j] += v
		}
	}

	t.trees = trees
	t.width = width
	t.importance = total
	return nil
}

// sample draws a bootstrap sample of row indices
func (t *RandomForestTrainer) sample(rng *rand.Rand, n int) []int {
	idx := make([]int, n)
	if t.config.Replacement != nil && !*t.config.Replacement {
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	for i := range idx {
		idx[i] = rng.Intn(n)
	}
	return idx
}

// Predict averages the predictions of every tree
func (t *RandomForestTrainer) Predict(ctx context.Context, features [][]float64) ([]float64, error) {
	if t.trees == nil {
		return nil, notTrained(models.ModelTypeRandomForest)
	}
	if err := checkPredictionData(models.ModelTypeRandomForest, features, t.width); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	predictions := make([]float64, len(features))
	for i, row := range features {
		sum := 0.0
		for _, tree := range t.trees {
			sum += tree.predict(row)
		}
		predictions[i] = sum / float64(len(t.trees))
	}
	return predictions, nil
}

// FeatureImportance returns the normalized SSE reduction attributed to each feature
func (t *RandomForestTrainer) FeatureImportance() map[string]float64 {
	if t.importance == nil {
		return nil
	}
	return normalizeImportance(t.importance, t.featureNames)
}

// Depth returns the deepest tree in the trained forest
func (t *RandomForestTrainer) Depth() int {
	depth := 0
	for _, tree := range t.trees {
		if d := tree.depth(); d > depth {
			depth = d
		}
	}
	return depth
}

// Dispose drops the trained trees
func (t *RandomForestTrainer) Dispose() {
	t.trees = nil
	t.importance = nil
	t.width = 0
}

// GetType returns the model type
func (t *RandomForestTrainer) GetType() models.ModelType {
	return models.ModelTypeRandomForest
}
