package training

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/mimir-aip/battery-soh/pkg/models"
)

// DegenerateR2 is reported when the actual series is constant but the fit is not exact
var DegenerateR2 = math.Inf(-1)

// ComputeMetrics calculates regression error statistics for predicted against actual.
// Errors are signed as predicted minus actual. ComputationTime is left for the caller.
func ComputeMetrics(predicted, actual []float64) (models.MetricSet, error) {
	if len(predicted) == 0 || len(actual) == 0 {
		return models.MetricSet{}, fmt.Errorf("%w: empty sequence", ErrInvalidInput)
	}
	if len(predicted) != len(actual) {
		return models.MetricSet{}, fmt.Errorf("%w: %d predictions for %d actual values", ErrInvalidInput, len(predicted), len(actual))
	}

	errs := Residuals(predicted, actual)
	n := float64(len(errs))

	var sumSquared, sumAbs, maxAbs float64
	for _, e := range errs {
		sumSquared += e * e
		abs := math.Abs(e)
		sumAbs += abs
		if abs > maxAbs {
			maxAbs = abs
		}
	}

	meanActual := stat.Mean(actual, nil)
	totalSS := 0.0
	for _, y := range actual {
		totalSS += (y - meanActual) * (y - meanActual)
	}

	return models.MetricSet{
		RMSE:     math.Sqrt(sumSquared / n),
		MAE:      sumAbs / n,
		MaxError: maxAbs,
		StdDev:   stat.PopStdDev(errs, nil),
		R2Score:  models.Score(r2(sumSquared, totalSS)),
	}, nil
}

func r2(residualSS, totalSS float64) float64 {
	if totalSS == 0 {
		if residualSS == 0 {
			return 1
		}
		return DegenerateR2
	}
	return 1 - residualSS/totalSS
}

// Residuals returns predicted[i] - actual[i]
func Residuals(predicted, actual []float64) []float64 {
	errs := make([]float64, len(predicted))
	floats.SubTo(errs, predicted, actual)
	return errs
}

// AggregateFolds combines cross-validation results. RMSE, MAE, StdDev, R² and
// computation time are averaged; MaxError keeps the worst fold.
func AggregateFolds(folds []models.MetricSet) models.MetricSet {
	if len(folds) == 0 {
		return models.MetricSet{}
	}
	n := float64(len(folds))
	agg := models.MetricSet{MaxError: math.Inf(-1)}
	var r2Sum float64
	for _, f := range folds {
		agg.RMSE += f.RMSE / n
		agg.MAE += f.MAE / n
		agg.StdDev += f.StdDev / n
		agg.ComputationTime += f.ComputationTime / n
		r2Sum += float64(f.R2Score)
		agg.MaxError = math.Max(agg.MaxError, f.MaxError)
	}
	agg.R2Score = models.Score(r2Sum / n)
	return agg
}

// Accuracy is the range-normalized fit quality on a 0-100 scale:
// 100 * (1 - rmse/range), clamped, and 100 when the actual range is zero.
func Accuracy(predicted, actual []float64) (float64, error) {
	m, err := ComputeMetrics(predicted, actual)
	if err != nil {
		return 0, err
	}
	spread := floats.Max(actual) - floats.Min(actual)
	if spread == 0 {
		return 100, nil
	}
	return math.Max(0, math.Min(100, 100*(1-m.RMSE/spread))), nil
}
