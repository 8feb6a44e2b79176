package models

import "time"

// EvaluationTaskStatus represents the current status of an evaluation task
type EvaluationTaskStatus string

const (
	EvaluationTaskStatusQueued    EvaluationTaskStatus = "queued"
	EvaluationTaskStatusExecuting EvaluationTaskStatus = "executing"
	EvaluationTaskStatusCompleted EvaluationTaskStatus = "completed"
	EvaluationTaskStatusFailed    EvaluationTaskStatus = "failed"
	EvaluationTaskStatusTimeout   EvaluationTaskStatus = "timeout"
	EvaluationTaskStatusCancelled EvaluationTaskStatus = "cancelled"
)

// IsTerminal reports whether no further transitions can happen
func (s EvaluationTaskStatus) IsTerminal() bool {
	switch s {
	case EvaluationTaskStatusCompleted, EvaluationTaskStatusFailed,
		EvaluationTaskStatusTimeout, EvaluationTaskStatusCancelled:
		return true
	}
	return false
}

// EvaluationTask is one queued comparison run over a dataset
type EvaluationTask struct {
	ID           string               `json:"task_id"`
	Status       EvaluationTaskStatus `json:"status"`
	Priority     int                  `json:"priority"`
	Source       string               `json:"source"` // api, schedule or cli
	SubmittedAt  time.Time            `json:"submitted_at"`
	StartedAt    *time.Time           `json:"started_at,omitempty"`
	CompletedAt  *time.Time           `json:"completed_at,omitempty"`
	Rows         int                  `json:"rows"`
	ErrorMessage string               `json:"error_message,omitempty"`
	Result       *ResultsBundle       `json:"result,omitempty"`

	Dataset *Dataset `json:"-"`
}

// ScheduledEvaluation is a cron entry that periodically re-evaluates a dataset file
type ScheduledEvaluation struct {
	ID          string     `json:"id"`
	Schedule    string     `json:"schedule"`
	DatasetPath string     `json:"dataset_path"`
	CreatedAt   time.Time  `json:"created_at"`
	LastRun     *time.Time `json:"last_run,omitempty"`
	NextRun     *time.Time `json:"next_run,omitempty"`
	LastTaskID  string     `json:"last_task_id,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

// ScheduleCreateRequest represents a request to schedule periodic evaluation
type ScheduleCreateRequest struct {
	Schedule    string `json:"schedule"`
	DatasetPath string `json:"dataset_path"`
}

// Validate checks if the ScheduleCreateRequest is valid
func (r *ScheduleCreateRequest) Validate() error {
	if r.Schedule == "" {
		return errRequired("schedule")
	}
	if r.DatasetPath == "" {
		return errRequired("dataset_path")
	}
	return nil
}
