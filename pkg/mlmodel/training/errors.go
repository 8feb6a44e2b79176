package training

import (
	"errors"
	"fmt"

	"github.com/mimir-aip/battery-soh/pkg/models"
)

var (
	// ErrInvalidInput is returned for empty, ragged or mismatched feature/target data
	ErrInvalidInput = errors.New("invalid input")
	// ErrModelNotTrained is returned by Predict before a successful Train
	ErrModelNotTrained = errors.New("model not trained")
	// ErrDiverged is returned when learned parameters become non-finite
	ErrDiverged = errors.New("solver diverged")
	// ErrNotConfigured is returned when a trainer receives hyperparameters for another family
	ErrNotConfigured = errors.New("missing hyperparameters")
)

// TrainingError is an adapter-specific fit failure
type TrainingError struct {
	Model models.ModelType
	Err   error
}

func (e *TrainingError) Error() string {
	return fmt.Sprintf("%s training failed: %v", e.Model, e.Err)
}

func (e *TrainingError) Unwrap() error { return e.Err }

// PredictionError is a failure to produce predictions
type PredictionError struct {
	Model  models.ModelType
	Reason error
}

func (e *PredictionError) Error() string {
	return fmt.Sprintf("%s prediction failed: %v", e.Model, e.Reason)
}

func (e *PredictionError) Unwrap() error { return e.Reason }

func trainingErr(model models.ModelType, format string, args ...interface{}) error {
	return &TrainingError{Model: model, Err: fmt.Errorf(format, args...)}
}

func notTrained(model models.ModelType) error {
	return &PredictionError{Model: model, Reason: ErrModelNotTrained}
}

// checkTrainingData validates the shape of a training set and returns its feature arity
func checkTrainingData(model models.ModelType, features [][]float64, targets []float64) (int, error) {
	if len(features) == 0 || len(targets) == 0 {
		return 0, trainingErr(model, "%w: empty training data", ErrInvalidInput)
	}
	if len(features) != len(targets) {
		return 0, trainingErr(model, "%w: %d feature rows but %d targets", ErrInvalidInput, len(features), len(targets))
	}
	width, err := rowWidth(features)
	if err != nil {
		return 0, &TrainingError{Model: model, Err: err}
	}
	return width, nil
}

// checkPredictionData validates rows against the arity seen during training
func checkPredictionData(model models.ModelType, features [][]float64, width int) error {
	for i, row := range features {
		if len(row) != width {
			return &PredictionError{
				Model:  model,
				Reason: fmt.Errorf("%w: row %d has %d features, expected %d", ErrInvalidInput, i, len(row), width),
			}
		}
	}
	return nil
}

func rowWidth(features [][]float64) (int, error) {
	width := len(features[0])
	if width == 0 {
		return 0, fmt.Errorf("%w: rows have no features", ErrInvalidInput)
	}
	for i, row := range features {
		if len(row) != width {
			return 0, fmt.Errorf("%w: row %d has %d features, expected %d", ErrInvalidInput, i, len(row), width)
		}
	}
	return width, nil
}
