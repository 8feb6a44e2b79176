package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimir-aip/battery-soh/pkg/models"
)

func newTask(id string, priority int) *models.EvaluationTask {
	return &models.EvaluationTask{ID: id, Priority: priority, Source: "test"}
}

// TestEnqueueDequeue tests basic queue operations
func TestEnqueueDequeue(t *testing.T) {
	q := NewQueue()

	require.NoError(t, q.Enqueue(newTask("task-1", 1)))
	assert.Equal(t, int64(1), q.QueueLength())

	task, err := q.Dequeue()
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "task-1", task.ID)
	assert.Equal(t, models.EvaluationTaskStatusQueued, task.Status)
	assert.False(t, task.SubmittedAt.IsZero())

	task, err = q.Dequeue()
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestPriorityOrder(t *testing.T) {
	q := NewQueue()
	require.NoError(t, q.Enqueue(newTask("low", 0)))
	require.NoError(t, q.Enqueue(newTask("high", 5)))
	require.NoError(t, q.Enqueue(newTask("low-2", 0)))

	var order []string
	for {
		task, err := q.Dequeue()
		require.NoError(t, err)
		if task == nil {
			break
		}
		order = append(order, task.ID)
	}
	assert.Equal(t, []string{"high", "low", "low-2"}, order)
}

func TestEnqueueRejectsDuplicates(t *testing.T) {
	q := NewQueue()
	require.NoError(t, q.Enqueue(newTask("dup", 0)))
	assert.Error(t, q.Enqueue(newTask("dup", 0)))
	assert.Error(t, q.Enqueue(&models.EvaluationTask{}))
}

func TestStatusTransitions(t *testing.T) {
	q := NewQueue()
	task := newTask("task-2", 0)
	task.Dataset = &models.Dataset{Targets: []float64{1}}
	require.NoError(t, q.Enqueue(task))
	_, err := q.Dequeue()
	require.NoError(t, err)

	require.NoError(t, q.UpdateTaskStatus("task-2", models.EvaluationTaskStatusExecuting, ""))
	got, err := q.GetTask("task-2")
	require.NoError(t, err)
	require.NotNil(t, got.StartedAt)

	bundle := &models.ResultsBundle{RunID: "run-1", CompletedAt: time.Now()}
	require.NoError(t, q.Complete("task-2", bundle))

	got, err = q.GetTask("task-2")
	require.NoError(t, err)
	assert.Equal(t, models.EvaluationTaskStatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, "run-1", got.Result.RunID)
	assert.Nil(t, got.Dataset)

	assert.Error(t, q.UpdateTaskStatus("task-2", models.EvaluationTaskStatusFailed, "late"))
	assert.Error(t, q.UpdateTaskStatus("missing", models.EvaluationTaskStatusFailed, ""))
}

func TestCancelSkipsTask(t *testing.T) {
	q := NewQueue()
	require.NoError(t, q.Enqueue(newTask("a", 0)))
	require.NoError(t, q.Enqueue(newTask("b", 0)))
	require.NoError(t, q.Cancel("a"))

	task, err := q.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, "b", task.ID)

	got, err := q.GetTask("a")
	require.NoError(t, err)
	assert.Equal(t, models.EvaluationTaskStatusCancelled, got.Status)
	assert.Error(t, q.Cancel("a"))
}

func TestQueueLengthExcludesCancelled(t *testing.T) {
	q := NewQueue()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(newTask(id, 0)))
	}
	require.NoError(t, q.Cancel("b"))
	assert.Equal(t, int64(2), q.QueueLength())

	var order []string
	for {
		task, err := q.Dequeue()
		require.NoError(t, err)
		if task == nil {
			break
		}
		order = append(order, task.ID)
	}
	assert.Equal(t, []string{"a", "c"}, order)
	assert.Equal(t, int64(0), q.QueueLength())
	assert.Len(t, q.ListTasks(), 3)
}

func TestListTasks(t *testing.T) {
	q := NewQueue()
	older := newTask("older", 0)
	older.SubmittedAt = time.Now().Add(-time.Minute)
	require.NoError(t, q.Enqueue(older))
	require.NoError(t, q.Enqueue(newTask("newer", 0)))

	tasks := q.ListTasks()
	require.Len(t, tasks, 2)
	assert.Equal(t, "newer", tasks[0].ID)
}
