package training

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/mimir-aip/battery-soh/pkg/models"
)

// XGBoostTrainer fits second-order gradient boosted regression trees on squared error
type XGBoostTrainer struct {
	config       models.XGBoostConfig
	configured   bool
	featureNames []string

	baseScore float64
	trees     []*treeNode
	width     int
	gain      []float64
}

// NewXGBoostTrainer creates a new gradient boosting trainer
func NewXGBoostTrainer(featureNames []string) *XGBoostTrainer {
	return &XGBoostTrainer{featureNames: featureNames}
}

// Configure applies boosting hyperparameters
func (t *XGBoostTrainer) Configure(params models.Hyperparameters) error {
	if params.XGBoost == nil {
		return fmt.Errorf("%w: xgboost", ErrNotConfigured)
	}
	cfg := params.XGBoost.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid xgboost config: %w", err)
	}
	t.Dispose()
	t.config = cfg
	t.configured = true
	return nil
}

// Config returns the effective hyperparameters
func (t *XGBoostTrainer) Config() models.XGBoostConfig {
	return t.config
}

// Train adds one tree per boosting round, each fitted to the current gradients.
// For squared error the gradient is (prediction - target) and the hessian is 1.
func (t *XGBoostTrainer) Train(ctx context.Context, features [][]float64, targets []float64) error {
	if !t.configured {
		return &TrainingError{Model: models.ModelTypeXGBoost, Err: ErrNotConfigured}
	}
	width, err := checkTrainingData(models.ModelTypeXGBoost, features, targets)
	if err != nil {
		return err
	}

	n := len(targets)
	base := stat.Mean(targets, nil)
	pred := make([]float64, n)
	for i := range pred {
		pred[i] = base
	}
	grad := make([]float64, n)
	hess := make([]float64, n)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
		hess[i] = 1
	}

	builder := &boostTreeBuilder{
		cfg:  t.config,
		gain: make([]float64, width),
	}
	trees := make([]*treeNode, 0, t.config.NEstimators)
	for round := 0; round < t.config.NEstimators; round++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for i := range grad {
			grad[i] = pred[i] - targets[i]
		}
		tree := builder.build(features, grad, hess, idx)
		for i, row := range features {
			pred[i] += tree.predict(row)
		}
		trees = append(trees, tree)
	}

	t.baseScore = base
	t.trees = trees
	t.width = width
	t.gain = builder.gain
	return nil
}

// Predict sums the base score and every tree's shrunken output
func (t *XGBoostTrainer) Predict(ctx context.Context, features [][]float64) ([]float64, error) {
	if t.trees == nil {
		return nil, notTrained(models.ModelTypeXGBoost)
	}
	if err := checkPredictionData(models.ModelTypeXGBoost, features, t.width); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]float64, len(features))
	for i, row := range features {
		v := t.baseScore
		for _, tree := range t.trees {
			v += tree.predict(row)
		}
		out[i] = v
	}
	return out, nil
}

// FeatureImportance returns normalized total split gain per feature
func (t *XGBoostTrainer) FeatureImportance() map[string]float64 {
	if t.gain == nil {
		return nil
	}
	return normalizeImportance(t.gain, t.featureNames)
}

// Dispose drops the boosted trees
func (t *XGBoostTrainer) Dispose() {
	t.trees = nil
	t.gain = nil
	t.width = 0
}

// GetType returns the model type
func (t *XGBoostTrainer) GetType() models.ModelType {
	return models.ModelTypeXGBoost
}

// boostTreeBuilder grows one tree on gradient statistics. Leaf values already
// include the eta shrinkage.
type boostTreeBuilder struct {
	cfg  models.XGBoostConfig
	gain []float64
}

func (b *boostTreeBuilder) build(X [][]float64, grad, hess []float64, idx []int) *treeNode {
	return b.buildTree(X, grad, hess, idx, 0)
}

func (b *boostTreeBuilder) leafWeight(G, H float64) float64 {
	return -G / (H + b.cfg.Lambda) * b.cfg.LearningRate
}

func (b *boostTreeBuilder) score(G, H float64) float64 {
	return G * G / (H + b.cfg.Lambda)
}

func (b *boostTreeBuilder) buildTree(X [][]float64, grad, hess []float64, idx []int, depth int) *treeNode {
	var G, H float64
	for _, i := range idx {
		G += grad[i]
		H += hess[i]
	}
	if depth >= b.cfg.MaxDepth || len(idx) < 2 || H < 2*b.cfg.MinChildWeight {
		return leaf(b.leafWeight(G, H))
	}

	parent := b.score(G, H)
	bestFeature, bestThreshold, bestGain := -1, 0.0, 0.0
	sorted := make([]int, len(idx))
	for feature := range X[0] {
		sortByFeature(sorted, idx, X, feature)
		var GL, HL float64
		for k := 0; k < len(sorted)-1; k++ {
			GL += grad[sorted[k]]
			HL += hess[sorted[k]]
			cur, next := X[sorted[k]][feature], X[sorted[k+1]][feature]
			if cur == next {
				continue
			}
			GR, HR := G-GL, H-HL
			if HL < b.cfg.MinChildWeight || HR < b.cfg.MinChildWeight {
				continue
			}
			gain := 0.5*(b.score(GL, HL)+b.score(GR, HR)-parent) - b.cfg.Gamma
			if gain > bestGain {
				bestFeature, bestThreshold, bestGain = feature, (cur+next)/2, gain
			}
		}
	}
	if bestFeature < 0 {
		return leaf(b.leafWeight(G, H))
	}
	b.gain[bestFeature] += bestGain

	left, right := partition(X, idx, bestFeature, bestThreshold)
	return &treeNode{
		Feature:   bestFeature,
		Threshold: bestThreshold,
		Left:      b.buildTree(X, grad, hess, left, depth+1),
		Right:     b.buildTree(X, grad, hess, right, depth+1),
	}
}
