package queue

import (
	"container/heap"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mimir-aip/battery-soh/pkg/models"
)

// Queue is an in-memory priority queue of evaluation tasks
type Queue struct {
	mu    sync.RWMutex
	pq    *PriorityQueue
	tasks map[string]*models.EvaluationTask
	seq   int64
}

// NewQueue creates a new in-memory queue instance
func NewQueue() *Queue {
	pq := make(PriorityQueue, 0)
	heap.Init(&pq)

	return &Queue{
		pq:    &pq,
		tasks: make(map[string]*models.EvaluationTask),
	}
}

// Enqueue adds a task to the queue. Higher Priority runs first; equal priorities run in submission order.
func (q *Queue) Enqueue(task *models.EvaluationTask) error {
	if task == nil || task.ID == "" {
		return fmt.Errorf("task ID is required")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.tasks[task.ID]; exists {
		return fmt.Errorf("task already queued: %s", task.ID)
	}
	if task.SubmittedAt.IsZero() {
		task.SubmittedAt = time.Now().UTC()
	}
	task.Status = models.EvaluationTaskStatusQueued

	q.seq++
	heap.Push(q.pq, &PriorityQueueItem{
		TaskID:   task.ID,
		Priority: task.Priority,
		Seq:      q.seq,
	})
	q.tasks[task.ID] = task

	return nil
}

// Dequeue pops the next task, or returns nil when the queue is empty.
// The task stays tracked for status lookups; callers get a copy.
func (q *Queue) Dequeue() (*models.EvaluationTask, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.pq.Len() > 0 {
		item := heap.Pop(q.pq).(*PriorityQueueItem)
		task, ok := q.tasks[item.TaskID]
		if !ok {
			return nil, fmt.Errorf("task data not found: %s", item.TaskID)
		}
		// cancelled while waiting
		if task.Status != models.EvaluationTaskStatusQueued {
			continue
		}
		snapshot := *task
		return &snapshot, nil
	}
	return nil, nil
}

// GetTask returns a snapshot of a task by ID
func (q *Queue) GetTask(taskID string) (*models.EvaluationTask, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("task not found: %s", taskID)
	}
	snapshot := *task
	return &snapshot, nil
}

// UpdateTaskStatus moves a task to a new status and stamps its timestamps
func (q *Queue) UpdateTaskStatus(taskID string, status models.EvaluationTaskStatus, errorMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return fmt.Errorf("task not found: %s", taskID)
	}
	return setStatus(task, status, errorMsg)
}

func setStatus(task *models.EvaluationTask, status models.EvaluationTaskStatus, errorMsg string) error {
	if task.Status.IsTerminal() {
		return fmt.Errorf("task %s already %s", task.ID, task.Status)
	}

	task.Status = status
	if errorMsg != "" {
		task.ErrorMessage = errorMsg
	}

	now := time.Now().UTC()
	switch {
	case status == models.EvaluationTaskStatusExecuting:
		task.StartedAt = &now
	case status.IsTerminal():
		task.CompletedAt = &now
		task.Dataset = nil
	}
	return nil
}

// Complete stores the result of a finished task
func (q *Queue) Complete(taskID string, result *models.ResultsBundle) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return fmt.Errorf("task not found: %s", taskID)
	}
	if err := setStatus(task, models.EvaluationTaskStatusCompleted, ""); err != nil {
		return err
	}
	task.Result = result
	return nil
}

// Cancel marks a queued task cancelled and drops it from the heap
func (q *Queue) Cancel(taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return fmt.Errorf("task not found: %s", taskID)
	}
	if task.Status != models.EvaluationTaskStatusQueued {
		return fmt.Errorf("task %s is %s and cannot be cancelled", taskID, task.Status)
	}
	if err := setStatus(task, models.EvaluationTaskStatusCancelled, "cancelled before execution"); err != nil {
		return err
	}
	for _, item := range *q.pq {
		if item.TaskID == taskID {
			heap.Remove(q.pq, item.index)
			break
		}
	}
	return nil
}

// QueueLength returns the number of tasks waiting in the heap
func (q *Queue) QueueLength() int64 {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return int64(q.pq.Len())
}

// ListTasks returns snapshots of every tracked task, newest first
func (q *Queue) ListTasks() []*models.EvaluationTask {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]*models.EvaluationTask, 0, len(q.tasks))
	for _, task := range q.tasks {
		snapshot := *task
		out = append(out, &snapshot)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.After(out[j].SubmittedAt)
	})
	return out
}

// PriorityQueueItem represents an item in the priority queue
type PriorityQueueItem struct {
	TaskID   string
	Priority int
	Seq      int64 // submission order
	index    int   // Index in heap
}

// PriorityQueue implements heap.Interface
type PriorityQueue []*PriorityQueueItem

func (pq PriorityQueue) Len() int { return len(pq) }

func (pq PriorityQueue) Less(i, j int) bool {
	if pq[i].Priority != pq[j].Priority {
		return pq[i].Priority > pq[j].Priority
	}
	return pq[i].Seq < pq[j].Seq
}

func (pq PriorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *PriorityQueue) Push(x interface{}) {
	n := len(*pq)
	item := x.(*PriorityQueueItem)
	item.index = n
	*pq = append(*pq, item)
}

func (pq *PriorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil  // avoid memory leak
	item.index = -1 // for safety
	*pq = old[0 : n-1]
	return item
}
