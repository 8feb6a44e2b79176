package training

import (
	"context"
	"fmt"

	"github.com/mimir-aip/battery-soh/pkg/models"
)

// Trainer interface defines the contract every regression model adapter follows
type Trainer interface {
	// Configure applies the hyperparameters for this trainer's model family.
	// It must be called before Train and resets any trained state.
	Configure(params models.Hyperparameters) error

	// Train fits the model to the rows and targets
	Train(ctx context.Context, features [][]float64, targets []float64) error

	// Predict returns one prediction per row
	Predict(ctx context.Context, features [][]float64) ([]float64, error)

	// Dispose releases the trained state; the trainer behaves as untrained afterwards
	Dispose()

	// GetType returns the model type this trainer handles
	GetType() models.ModelType
}

// FeatureImportancer is implemented by tree ensembles
type FeatureImportancer interface {
	FeatureImportance() map[string]float64
}

// TrainerFactory creates trainers for different model types
type TrainerFactory struct {
	constructors map[models.ModelType]func() Trainer
	featureNames []string
}

// NewTrainerFactory creates a new trainer factory.
// featureNames label importance scores; nil falls back to positional names.
func NewTrainerFactory(featureNames []string) *TrainerFactory {
	f := &TrainerFactory{
		constructors: make(map[models.ModelType]func() Trainer),
		featureNames: featureNames,
	}

	f.constructors[models.ModelTypeRandomForest] = func() Trainer { return NewRandomForestTrainer(f.featureNames) }
	f.constructors[models.ModelTypeELM] = func() Trainer { return NewELMTrainer() }
	f.constructors[models.ModelTypeLSTM] = func() Trainer { return NewLSTMTrainer() }
	f.constructors[models.ModelTypeXGBoost] = func() Trainer { return NewXGBoostTrainer(f.featureNames) }
	f.constructors[models.ModelTypeSVR] = func() Trainer { return NewSVRTrainer() }

	return f
}

// GetTrainer returns a fresh, configured trainer for a model type
func (f *TrainerFactory) GetTrainer(modelType models.ModelType, params models.Hyperparameters) (Trainer, error) {
	newTrainer, ok := f.constructors[modelType]
	if !ok {
		return nil, fmt.Errorf("no trainer available for model type: %s", modelType)
	}
	trainer := newTrainer()
	if err := trainer.Configure(params); err != nil {
		return nil, err
	}
	return trainer, nil
}

func featureName(names []string, i int) string {
	if i < len(names) && names[i] != "" {
		return names[i]
	}
	return fmt.Sprintf("f%d", i)
}
