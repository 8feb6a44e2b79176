package training

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimir-aip/battery-soh/pkg/models"
)

func TestComputeMetrics(t *testing.T) {
	t.Run("perfect fit", func(t *testing.T) {
		m, err := ComputeMetrics([]float64{1, 2, 3}, []float64{1, 2, 3})
		require.NoError(t, err)
		assert.Equal(t, 0.0, m.RMSE)
		assert.Equal(t, 0.0, m.MAE)
		assert.Equal(t, 0.0, m.MaxError)
		assert.Equal(t, 0.0, m.StdDev)
		assert.Equal(t, models.Score(1), m.R2Score)
	})

	t.Run("known values", func(t *testing.T) {
		m, err := ComputeMetrics([]float64{1, 2, 3}, []float64{1, 2, 5})
		require.NoError(t, err)
		assert.InDelta(t, math.Sqrt(4.0/3.0), m.RMSE, 1e-12)
		assert.InDelta(t, 2.0/3.0, m.MAE, 1e-12)
		assert.InDelta(t, 2.0, m.MaxError, 1e-12)
		assert.InDelta(t, math.Sqrt(8.0/9.0), m.StdDev, 1e-12)
		assert.InDelta(t, 1-36.0/78.0, float64(m.R2Score), 1e-12)
	})

	t.Run("constant actual", func(t *testing.T) {
		m, err := ComputeMetrics([]float64{4, 6}, []float64{5, 5})
		require.NoError(t, err)
		assert.True(t, math.IsInf(float64(m.R2Score), -1))

		m, err = ComputeMetrics([]float64{5, 5}, []float64{5, 5})
		require.NoError(t, err)
		assert.Equal(t, models.Score(1), m.R2Score)
	})

	t.Run("invalid input", func(t *testing.T) {
		_, err := ComputeMetrics([]float64{1, 2}, []float64{1})
		assert.ErrorIs(t, err, ErrInvalidInput)

		_, err = ComputeMetrics(nil, nil)
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestComputeMetricsProperties(t *testing.T) {
	X, y := syntheticData(60, 3)
	predicted := make([]float64, len(y))
	for i := range y {
		predicted[i] = y[i] + X[i][2] - 0.5
	}

	m, err := ComputeMetrics(predicted, y)
	require.NoError(t, err)
	assert.LessOrEqual(t, m.MAE, m.RMSE+1e-12)
	assert.LessOrEqual(t, m.RMSE, m.MaxError+1e-12)
	assert.LessOrEqual(t, float64(m.R2Score), 1.0)
	assert.GreaterOrEqual(t, m.StdDev, 0.0)
}

func TestAggregateFolds(t *testing.T) {
	folds := []models.MetricSet{
		{RMSE: 1, MAE: 0.5, MaxError: 3, StdDev: 0.2, R2Score: 0.9, ComputationTime: 10},
		{RMSE: 3, MAE: 1.5, MaxError: 7, StdDev: 0.4, R2Score: 0.7, ComputationTime: 30},
	}

	agg := AggregateFolds(folds)
	assert.InDelta(t, 2.0, agg.RMSE, 1e-12)
	assert.InDelta(t, 1.0, agg.MAE, 1e-12)
	assert.InDelta(t, 7.0, agg.MaxError, 1e-12)
	assert.InDelta(t, 0.3, agg.StdDev, 1e-12)
	assert.InDelta(t, 0.8, float64(agg.R2Score), 1e-12)
	assert.InDelta(t, 20.0, agg.ComputationTime, 1e-12)

	assert.Equal(t, models.MetricSet{}, AggregateFolds(nil))
}

func TestAccuracy(t *testing.T) {
	acc, err := Accuracy([]float64{10, 20, 30}, []float64{10, 20, 30})
	require.NoError(t, err)
	assert.Equal(t, 100.0, acc)

	acc, err = Accuracy([]float64{50, 50}, []float64{50, 50})
	require.NoError(t, err)
	assert.Equal(t, 100.0, acc)

	acc, err = Accuracy([]float64{0, 100}, []float64{100, 0})
	require.NoError(t, err)
	assert.Equal(t, 0.0, acc)

	acc, err = Accuracy([]float64{1, 9}, []float64{0, 10})
	require.NoError(t, err)
	assert.InDelta(t, 90.0, acc, 1e-9)
}

func TestScoreJSON(t *testing.T) {
	m := models.MetricSet{RMSE: 1, R2Score: models.Score(DegenerateR2)}
	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"r2Score":null`)

	var decoded models.MetricSet
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, math.IsInf(float64(decoded.R2Score), -1))
}
