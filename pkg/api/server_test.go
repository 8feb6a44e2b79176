package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimir-aip/battery-soh/pkg/dataset"
	"github.com/mimir-aip/battery-soh/pkg/mlmodel"
	"github.com/mimir-aip/battery-soh/pkg/models"
	"github.com/mimir-aip/battery-soh/pkg/queue"
	"github.com/mimir-aip/battery-soh/pkg/scheduler"
)

const header = "voltage,current,temperature,cycles,age_days,charge_time,discharge_time,health\n"

type testEnv struct {
	server    *Server
	queue     *queue.Queue
	trainer   *mlmodel.Service
	schedules *scheduler.Service
}

func quietLogger() *logrus.Logger {
	logger, _ := test.NewNullLogger()
	return logger
}

func newTestEnv(t *testing.T, opts ...mlmodel.Option) *testEnv {
	t.Helper()
	logger := quietLogger()
	q := queue.NewQueue()
	opts = append([]mlmodel.Option{
		mlmodel.WithLogger(logger),
		mlmodel.WithForestConfig(models.RandomForestConfig{NEstimators: 5, MaxDepth: 4, MaxFeatures: "sqrt"}),
	}, opts...)
	trainer := mlmodel.NewService(opts...)
	t.Cleanup(trainer.Close)
	schedules := scheduler.NewService(q, logger)

	return &testEnv{
		server:    NewServer(q, trainer, schedules, "0", logger),
		queue:     q,
		trainer:   trainer,
		schedules: schedules,
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func generatedCSV(t *testing.T, rows int) string {
	t.Helper()
	text, err := dataset.NewGenerator(8).GenerateCSV(rows, false)
	require.NoError(t, err)
	return text
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")

	rec = env.do(t, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ready")
}

func TestSubmitEvaluation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/evaluations?priority=3", generatedCSV(t, 40))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var task models.EvaluationTask
	decode(t, rec, &task)
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, models.EvaluationTaskStatusQueued, task.Status)
	assert.Equal(t, 40, task.Rows)
	assert.Equal(t, 3, task.Priority)
	assert.NotContains(t, rec.Body.String(), "features", "datasets are not echoed")

	rec = env.do(t, http.MethodGet, "/api/evaluations/"+task.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/evaluations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		QueueLength int64                    `json:"queue_length"`
		Tasks       []*models.EvaluationTask `json:"tasks"`
	}
	decode(t, rec, &list)
	assert.Equal(t, int64(1), list.QueueLength)
	assert.Len(t, list.Tasks, 1)

	rec = env.do(t, http.MethodDelete, "/api/evaluations/"+task.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodDelete, "/api/evaluations/"+task.ID, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSubmitEvaluationRejectsInvalidDataset(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/evaluations", header+"3.7,1.2,25,10,30,42,110,150\n")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body struct {
		Kind       string   `json:"kind"`
		Violations []string `json:"violations"`
	}
	decode(t, rec, &body)
	assert.Equal(t, string(dataset.RowViolations), body.Kind)
	assert.Equal(t, []string{"Row 1: Health must be between 0 and 100"}, body.Violations)
	assert.Equal(t, int64(0), env.queue.QueueLength())

	rec = env.do(t, http.MethodPost, "/api/evaluations?priority=high", generatedCSV(t, 5))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEvaluationNotFound(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/evaluations/nope", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, "/api/evaluations/nope", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, env.do(t, http.MethodPut, "/api/evaluations", "").Code)
}

func TestModelTrainPredictMetrics(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/model/metrics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/model/predict", `{"features":[[3.7,1.2,25,10,30,42,110]]}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/model/train", generatedCSV(t, 80))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var metrics models.ModelMetrics
	decode(t, rec, &metrics)
	assert.Equal(t, 7, metrics.Features)
	assert.Equal(t, 5, metrics.Trees)

	rec = env.do(t, http.MethodPost, "/api/model/predict", `{"features":[[3.7,1.2,25,10,30,42,110],[3.4,1.1,30,400,1200,60,150]]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		Predictions []models.HealthPrediction `json:"predictions"`
	}
	decode(t, rec, &out)
	require.Len(t, out.Predictions, 2)
	for _, p := range out.Predictions {
		assert.InDelta(t, (100-p.Health)/100, p.DegradationRate, 1e-9)
	}

	rec = env.do(t, http.MethodGet, "/api/model/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestModelTrainRejectsInvalidDataset(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/model/train", "voltage,health\n3.7,90\n")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Missing required columns")

	rec = env.do(t, http.MethodPost, "/api/model/predict", `{"features":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/model/predict", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, http.StatusMethodNotAllowed, env.do(t, http.MethodGet, "/api/model/train", "").Code)
}

func TestModelTrainTimeout(t *testing.T) {
	silent := func(ctx context.Context, req *mlmodel.WorkerRequest) *mlmodel.WorkerResponse {
		<-ctx.Done()
		return nil
	}
	env := newTestEnv(t, mlmodel.WithWorkerHandler(silent), mlmodel.WithTrainTimeout(20*time.Millisecond))

	rec := env.do(t, http.MethodPost, "/api/model/train", generatedCSV(t, 10))
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestWriteServiceErrorStatusCodes(t *testing.T) {
	h := NewModelHandler(nil, quietLogger())
	tests := []struct {
		err  error
		code int
	}{
		{mlmodel.ErrAlreadyTraining, http.StatusConflict},
		{mlmodel.ErrModelNotTrained, http.StatusConflict},
		{mlmodel.ErrTrainingTimeout, http.StatusGatewayTimeout},
		{mlmodel.ErrPredictionTimeout, http.StatusGatewayTimeout},
		{&mlmodel.WorkerError{Message: "Training failed: boom"}, http.StatusUnprocessableEntity},
		{mlmodel.ErrServiceClosed, http.StatusServiceUnavailable},
		{&dataset.ValidationError{Kind: dataset.EmptyDataset}, http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", mlmodel.ErrAlreadyTraining), http.StatusConflict},
		{errors.New("unexpected"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.writeServiceError(rec, tt.err)
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestWriteJSONResponseEncodeFailure(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()

	rec := httptest.NewRecorder()
	writeJSONResponse(rec, http.StatusOK, map[string]float64{"rmse": math.NaN()})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body map[string]string
	decode(t, rec, &body)
	assert.Equal(t, "error", body["status"])

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "Failed to encode JSON response", entry.Message)
}

func TestSchedules(t *testing.T) {
	env := newTestEnv(t)
	path := filepath.Join(t.TempDir(), "battery.csv")
	require.NoError(t, dataset.NewGenerator(2).WriteFile(path, 20, false))

	rec := env.do(t, http.MethodPost, "/api/schedules", fmt.Sprintf(`{"schedule":"0 3 * * *","dataset_path":%q}`, path))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created models.ScheduledEvaluation
	decode(t, rec, &created)
	assert.Equal(t, path, created.DatasetPath)
	require.NotNil(t, created.NextRun)

	rec = env.do(t, http.MethodGet, "/api/schedules", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []models.ScheduledEvaluation
	decode(t, rec, &list)
	assert.Len(t, list, 1)

	rec = env.do(t, http.MethodGet, "/api/schedules/"+created.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/schedules", `{"schedule":"every day","dataset_path":"x.csv"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/schedules", `{"schedule":"@daily"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/schedules/"+created.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(t, http.MethodDelete, "/api/schedules/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
