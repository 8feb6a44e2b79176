package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimir-aip/battery-soh/pkg/models"
	"github.com/mimir-aip/battery-soh/pkg/queue"
)

func enqueue(t *testing.T, q *queue.Queue, id string, ds *models.Dataset) {
	t.Helper()
	require.NoError(t, q.Enqueue(&models.EvaluationTask{ID: id, Source: "test", Dataset: ds}))
}

func oneRow() *models.Dataset {
	return &models.Dataset{Features: [][]float64{{1, 2}}, Targets: []float64{90}}
}

func TestRunnerProcessNext(t *testing.T) {
	tests := []struct {
		name      string
		evaluator stubEvaluator
		dataset   *models.Dataset
		timeout   time.Duration
		status    models.EvaluationTaskStatus
	}{
		{"completed", stubEvaluator{}, oneRow(), 0, models.EvaluationTaskStatusCompleted},
		{"failed", stubEvaluator{err: errors.New("boom")}, oneRow(), 0, models.EvaluationTaskStatusFailed},
		{"no rows", stubEvaluator{}, &models.Dataset{}, 0, models.EvaluationTaskStatusFailed},
		{"timeout", stubEvaluator{block: true}, oneRow(), 20 * time.Millisecond, models.EvaluationTaskStatusTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := queue.NewQueue()
			enqueue(t, q, "task", tt.dataset)
			runner := NewRunner(q, tt.evaluator, time.Millisecond, tt.timeout, quietLogger())

			processed, err := runner.ProcessNext(context.Background())
			require.NoError(t, err)
			assert.True(t, processed)

			task, err := q.GetTask("task")
			require.NoError(t, err)
			assert.Equal(t, tt.status, task.Status)
			assert.NotNil(t, task.StartedAt)
			assert.NotNil(t, task.CompletedAt)
			if tt.status == models.EvaluationTaskStatusCompleted {
				assert.Equal(t, "run-stub", task.Result.RunID)
			} else {
				assert.NotEmpty(t, task.ErrorMessage)
			}
		})
	}
}

func TestRunnerProcessNextEmptyQueue(t *testing.T) {
	runner := NewRunner(queue.NewQueue(), stubEvaluator{}, 0, 0, quietLogger())
	processed, err := runner.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestRunnerRunDrainsQueue(t *testing.T) {
	q := queue.NewQueue()
	enqueue(t, q, "a", oneRow())
	enqueue(t, q, "b", oneRow())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	runner := NewRunner(q, stubEvaluator{}, 5*time.Millisecond, time.Second, quietLogger())
	go func() {
		runner.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		for _, id := range []string{"a", "b"} {
			task, err := q.GetTask(id)
			if err != nil || task.Status != models.EvaluationTaskStatusCompleted {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runner did not stop after cancellation")
	}
}

func TestRunnerWithPipelineService(t *testing.T) {
	q := queue.NewQueue()
	enqueue(t, q, "real", generated(t, 50))
	runner := NewRunner(q, newTestService(t, smallConfig()), time.Millisecond, time.Minute, quietLogger())

	processed, err := runner.ProcessNext(context.Background())
	require.NoError(t, err)
	require.True(t, processed)

	task, err := q.GetTask("real")
	require.NoError(t, err)
	require.Equal(t, models.EvaluationTaskStatusCompleted, task.Status)
	assert.Len(t, task.Result.RandomForest, 2)
	assert.Nil(t, task.Dataset)
}
