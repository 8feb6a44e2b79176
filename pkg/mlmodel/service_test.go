package mlmodel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimir-aip/battery-soh/pkg/dataset"
	"github.com/mimir-aip/battery-soh/pkg/models"
)

func quietLogger() *logrus.Logger {
	logger, _ := test.NewNullLogger()
	return logger
}

func generatedDataset(t *testing.T, rows int) *models.Dataset {
	t.Helper()
	csvText, err := dataset.NewGenerator(11).GenerateCSV(rows, false)
	require.NoError(t, err)
	ds, err := dataset.ParseAndValidate(csvText)
	require.NoError(t, err)
	return ds
}

func smallForest() Option {
	return WithForestConfig(models.RandomForestConfig{NEstimators: 10, MaxDepth: 6, MaxFeatures: "sqrt"}.WithDefaults())
}

func TestTrainAndPredict(t *testing.T) {
	svc := NewService(smallForest(), WithLogger(quietLogger()))
	defer svc.Close()

	ds := generatedDataset(t, 80)
	metrics, err := svc.Train(context.Background(), ds.Features, ds.Targets)
	require.NoError(t, err)
	assert.Equal(t, 7, metrics.Features)
	assert.Equal(t, 10, metrics.Trees)
	assert.Equal(t, 6, metrics.MaxDepth)
	assert.GreaterOrEqual(t, metrics.Accuracy, 0.0)
	assert.LessOrEqual(t, metrics.Accuracy, 100.0)
	assert.Equal(t, metrics, svc.Metrics())

	predictions, err := svc.Predict(context.Background(), ds.Features[:3])
	require.NoError(t, err)
	require.Len(t, predictions, 3)
	for _, p := range predictions {
		assert.GreaterOrEqual(t, p.RemainingLife, 0.0)
		assert.InDelta(t, (100-p.Health)/100, p.DegradationRate, 1e-9)
	}
}

func TestPredictErrors(t *testing.T) {
	svc := NewService(smallForest(), WithLogger(quietLogger()))
	defer svc.Close()

	_, err := svc.Predict(context.Background(), [][]float64{{1, 2, 3, 4, 5, 6, 7}})
	assert.ErrorIs(t, err, ErrModelNotTrained)

	ds := generatedDataset(t, 40)
	_, err = svc.Train(context.Background(), ds.Features, ds.Targets)
	require.NoError(t, err)

	_, err = svc.Predict(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidPredictionData)

	_, err = svc.Predict(context.Background(), [][]float64{{1, 2}})
	var workerErr *WorkerError
	assert.True(t, errors.As(err, &workerErr))
}

func TestTrainFailureIsPrefixed(t *testing.T) {
	svc := NewService(smallForest(), WithLogger(quietLogger()))
	defer svc.Close()

	_, err := svc.Train(context.Background(), [][]float64{{1}, {2}}, []float64{1})
	var workerErr *WorkerError
	require.True(t, errors.As(err, &workerErr))
	assert.Contains(t, workerErr.Message, "Training failed: ")
	assert.Nil(t, svc.Metrics())
}

func TestEnrich(t *testing.T) {
	p := enrich(80, 90)
	assert.Equal(t, 80.0, p.Health)
	assert.InDelta(t, 800, p.RemainingLife, 1e-9)
	assert.InDelta(t, 0.2, p.DegradationRate, 1e-9)
	assert.InDelta(t, 72, p.ConfidenceScore, 1e-9)

	p = enrich(120, 50)
	assert.InDelta(t, 50, p.ConfidenceScore, 1e-9)

	p = enrich(-5, 50)
	assert.Equal(t, 0.0, p.RemainingLife)
}

func TestTrainTimeoutResetsState(t *testing.T) {
	var calls int32
	handler := func(ctx context.Context, req *WorkerRequest) *WorkerResponse {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil // withhold the first reply
		}
		return &WorkerResponse{Kind: MessageTrained, Metrics: &models.ModelMetrics{Accuracy: 50, Features: 1}}
	}

	svc := NewService(
		WithWorkerHandler(handler),
		WithTrainTimeout(50*time.Millisecond),
		WithLogger(quietLogger()),
	)
	defer svc.Close()

	_, err := svc.Train(context.Background(), [][]float64{{1}}, []float64{1})
	assert.ErrorIs(t, err, ErrTrainingTimeout)
	assert.False(t, svc.IsTraining())

	metrics, err := svc.Train(context.Background(), [][]float64{{1}}, []float64{1})
	require.NoError(t, err)
	assert.Equal(t, 50.0, metrics.Accuracy)
}

func TestAlreadyTraining(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	handler := func(ctx context.Context, req *WorkerRequest) *WorkerResponse {
		close(started)
		<-release
		return &WorkerResponse{Kind: MessageTrained, Metrics: &models.ModelMetrics{}}
	}

	svc := NewService(WithWorkerHandler(handler), WithLogger(quietLogger()))
	defer svc.Close()

	errc := make(chan error, 1)
	go func() {
		_, err := svc.Train(context.Background(), [][]float64{{1}}, []float64{1})
		errc <- err
	}()

	<-started
	_, err := svc.Train(context.Background(), [][]float64{{1}}, []float64{1})
	assert.ErrorIs(t, err, ErrAlreadyTraining)

	close(release)
	assert.NoError(t, <-errc)
}

func TestTrainCancellationReachesWorker(t *testing.T) {
	cancelled := make(chan struct{})
	handler := func(ctx context.Context, req *WorkerRequest) *WorkerResponse {
		<-ctx.Done()
		close(cancelled)
		return nil
	}

	svc := NewService(WithWorkerHandler(handler), WithLogger(quietLogger()))
	defer svc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := svc.Train(ctx, [][]float64{{1}}, []float64{1})
	assert.ErrorIs(t, err, context.Canceled)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("worker never observed cancellation")
	}
}

func TestPredictTimeout(t *testing.T) {
	handler := func(ctx context.Context, req *WorkerRequest) *WorkerResponse {
		if req.Kind == MessageTrain {
			return &WorkerResponse{Kind: MessageTrained, Metrics: &models.ModelMetrics{Accuracy: 90}}
		}
		return nil
	}

	svc := NewService(
		WithWorkerHandler(handler),
		WithPredictTimeout(30*time.Millisecond),
		WithLogger(quietLogger()),
	)
	defer svc.Close()

	_, err := svc.Train(context.Background(), [][]float64{{1}}, []float64{1})
	require.NoError(t, err)

	_, err = svc.Predict(context.Background(), [][]float64{{1}})
	assert.ErrorIs(t, err, ErrPredictionTimeout)
}

func TestLoadAndTrainValidation(t *testing.T) {
	svc := NewService(smallForest(), WithLogger(quietLogger()))
	defer svc.Close()

	csvText := "voltage,current,temperature,cycles,age_days,charge_time,discharge_time,health\n" +
		"3.7,2.0,25,100,300,60,120,150\n"
	_, err := svc.LoadAndTrain(context.Background(), csvText)

	var verr *dataset.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Messages, "Row 1: Health must be between 0 and 100")
}

func TestClosedService(t *testing.T) {
	svc := NewService(smallForest(), WithLogger(quietLogger()))
	svc.Close()
	svc.Close()

	_, err := svc.Train(context.Background(), [][]float64{{1}}, []float64{1})
	assert.ErrorIs(t, err, ErrServiceClosed)
}
