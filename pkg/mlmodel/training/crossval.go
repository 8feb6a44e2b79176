package training

import (
	"context"
	"fmt"
	"time"

	"github.com/mimir-aip/battery-soh/pkg/models"
)

// FoldBounds returns the half-open [start, end) range of every validation fold.
// Folds are contiguous with size floor(n/k); the n mod k trailing rows are never held out.
func FoldBounds(n, k int) ([][2]int, error) {
	if k < 2 {
		return nil, fmt.Errorf("%w: need at least 2 folds, got %d", ErrInvalidInput, k)
	}
	size := n / k
	if size == 0 {
		return nil, fmt.Errorf("%w: %d rows cannot be split into %d folds", ErrInvalidInput, n, k)
	}
	bounds := make([][2]int, k)
	for i := range bounds {
		bounds[i] = [2]int{i * size, (i + 1) * size}
	}
	return bounds, nil
}

// CrossValidate runs k-fold validation with the given trainer and returns one MetricSet per fold.
// The trainer is retrained for every fold, so its previous state is discarded.
func CrossValidate(ctx context.Context, trainer Trainer, features [][]float64, targets []float64, k int) ([]models.MetricSet, error) {
	if len(features) != len(targets) {
		return nil, fmt.Errorf("%w: %d feature rows but %d targets", ErrInvalidInput, len(features), len(targets))
	}
	bounds, err := FoldBounds(len(targets), k)
	if err != nil {
		return nil, err
	}

	results := make([]models.MetricSet, 0, k)
	for _, b := range bounds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start, end := b[0], b[1]

		trainX := make([][]float64, 0, len(features)-(end-start))
		trainY := make([]float64, 0, len(targets)-(end-start))
		trainX = append(append(trainX, features[:start]...), features[end:]...)
		trainY = append(append(trainY, targets[:start]...), targets[end:]...)

		began := time.Now()
		if err := trainer.Train(ctx, trainX, trainY); err != nil {
			return nil, err
		}
		predicted, err := trainer.Predict(ctx, features[start:end])
		if err != nil {
			return nil, err
		}
		elapsed := time.Since(began)

		m, err := ComputeMetrics(predicted, targets[start:end])
		if err != nil {
			return nil, err
		}
		m.ComputationTime = float64(elapsed.Microseconds()) / 1000
		results = append(results, m)
	}
	return results, nil
}
