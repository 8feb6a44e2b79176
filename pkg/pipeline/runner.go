package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mimir-aip/battery-soh/pkg/models"
	"github.com/mimir-aip/battery-soh/pkg/queue"
)

// Evaluator trains and scores every configured model on a dataset
type Evaluator interface {
	TrainAndEvaluate(ctx context.Context, features [][]float64, targets []float64) (*models.ResultsBundle, error)
}

// Runner drains the evaluation queue one task at a time
type Runner struct {
	queue        *queue.Queue
	evaluator    Evaluator
	pollInterval time.Duration
	timeout      time.Duration
	logger       logrus.FieldLogger
}

// NewRunner creates a queue runner. A zero timeout means evaluations are bounded only by ctx.
func NewRunner(q *queue.Queue, evaluator Evaluator, pollInterval, timeout time.Duration, logger logrus.FieldLogger) *Runner {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Runner{
		queue:        q,
		evaluator:    evaluator,
		pollInterval: pollInterval,
		timeout:      timeout,
		logger:       logger,
	}
}

// Run polls the queue until ctx is cancelled
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	r.logger.WithField("poll_interval", r.pollInterval).Info("Evaluation runner started")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Evaluation runner stopped")
			return
		case <-ticker.C:
			// drain everything that is ready before waiting for the next tick
			for {
				processed, err := r.ProcessNext(ctx)
				if err != nil {
					r.logger.WithError(err).Error("Failed to process evaluation task")
				}
				if !processed || ctx.Err() != nil {
					break
				}
			}
		}
	}
}

// ProcessNext runs the next queued task, if any. It reports whether a task was taken.
func (r *Runner) ProcessNext(ctx context.Context) (bool, error) {
	task, err := r.queue.Dequeue()
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	log := r.logger.WithFields(logrus.Fields{"task_id": task.ID, "source": task.Source})
	if err := r.queue.UpdateTaskStatus(task.ID, models.EvaluationTaskStatusExecuting, ""); err != nil {
		return true, err
	}
	if task.Dataset == nil || task.Dataset.Len() == 0 {
		return true, r.queue.UpdateTaskStatus(task.ID, models.EvaluationTaskStatusFailed, ErrEmptyDataset.Error())
	}

	runCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	log.WithField("rows", task.Dataset.Len()).Info("Executing evaluation task")
	bundle, err := r.evaluator.TrainAndEvaluate(runCtx, task.Dataset.Features, task.Dataset.Targets)
	switch {
	case err == nil:
		log.WithFields(logrus.Fields{"run_id": bundle.RunID, "failures": len(bundle.Failures)}).Info("Evaluation task completed")
		return true, r.queue.Complete(task.ID, bundle)
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		log.WithField("timeout", r.timeout).Warn("Evaluation task timed out")
		return true, r.queue.UpdateTaskStatus(task.ID, models.EvaluationTaskStatusTimeout,
			fmt.Sprintf("evaluation exceeded %s", r.timeout))
	case ctx.Err() != nil:
		return true, r.queue.UpdateTaskStatus(task.ID, models.EvaluationTaskStatusCancelled, "runner stopped")
	default:
		log.WithError(err).Error("Evaluation task failed")
		return true, r.queue.UpdateTaskStatus(task.ID, models.EvaluationTaskStatusFailed, err.Error())
	}
}
