package scheduler

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/mimir-aip/battery-soh/pkg/dataset"
	"github.com/mimir-aip/battery-soh/pkg/models"
	"github.com/mimir-aip/battery-soh/pkg/queue"
)

// Service periodically re-evaluates dataset files by enqueueing evaluation tasks
type Service struct {
	mu          sync.RWMutex
	queue       *queue.Queue
	cron        *cron.Cron
	jobs        map[string]cron.EntryID // Maps schedule ID to cron entry ID
	evaluations map[string]*models.ScheduledEvaluation
	logger      logrus.FieldLogger
}

// NewService creates a new scheduler service
func NewService(q *queue.Queue, logger logrus.FieldLogger) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{
		queue:       q,
		cron:        cron.New(),
		jobs:        make(map[string]cron.EntryID),
		evaluations: make(map[string]*models.ScheduledEvaluation),
		logger:      logger,
	}
}

// Start starts the scheduler
func (s *Service) Start() {
	s.cron.Start()
	s.logger.Info("Evaluation scheduler started")
}

// Stop stops the scheduler and waits for running jobs
func (s *Service) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("Evaluation scheduler stopped")
}

// Schedule registers a standard five-field cron spec that evaluates datasetPath on every tick
func (s *Service) Schedule(spec, datasetPath string) (*models.ScheduledEvaluation, error) {
	req := &models.ScheduleCreateRequest{Schedule: spec, DatasetPath: datasetPath}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}

	evaluation := &models.ScheduledEvaluation{
		ID:          uuid.New().String(),
		Schedule:    spec,
		DatasetPath: datasetPath,
		CreatedAt:   time.Now().UTC(),
	}
	id := evaluation.ID

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[id] = s.cron.Schedule(schedule, cron.FuncJob(func() {
		if _, err := s.Execute(id); err != nil {
			s.logger.WithError(err).WithField("schedule_id", id).Error("Scheduled evaluation failed")
		}
	}))
	s.evaluations[id] = evaluation

	s.logger.WithFields(logrus.Fields{
		"schedule_id": id,
		"schedule":    spec,
		"dataset":     datasetPath,
	}).Info("Scheduled dataset evaluation")

	return s.snapshot(evaluation), nil
}

// Execute loads the dataset of a schedule and enqueues an evaluation task for it
func (s *Service) Execute(id string) (*models.EvaluationTask, error) {
	s.mu.RLock()
	evaluation, ok := s.evaluations[id]
	var path string
	if ok {
		path = evaluation.DatasetPath
	}
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("schedule not found: %s", id)
	}

	task, err := s.enqueue(path)

	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	evaluation.LastRun = &now
	if err != nil {
		evaluation.LastError = err.Error()
		return nil, err
	}
	evaluation.LastError = ""
	evaluation.LastTaskID = task.ID
	return task, nil
}

func (s *Service) enqueue(path string) (*models.EvaluationTask, error) {
	ds, err := dataset.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load dataset %s: %w", path, err)
	}
	task := &models.EvaluationTask{
		ID:      uuid.New().String(),
		Source:  "schedule",
		Rows:    ds.Len(),
		Dataset: ds,
	}
	if err := s.queue.Enqueue(task); err != nil {
		return nil, fmt.Errorf("failed to enqueue evaluation: %w", err)
	}
	s.logger.WithFields(logrus.Fields{"task_id": task.ID, "dataset": path, "rows": task.Rows}).Info("Enqueued scheduled evaluation")
	return task, nil
}

// Get returns a scheduled evaluation by ID
func (s *Service) Get(id string) (*models.ScheduledEvaluation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	evaluation, ok := s.evaluations[id]
	if !ok {
		return nil, fmt.Errorf("schedule not found: %s", id)
	}
	return s.snapshot(evaluation), nil
}

// List lists all scheduled evaluations with their next run times, oldest first
func (s *Service) List() []*models.ScheduledEvaluation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.ScheduledEvaluation, 0, len(s.evaluations))
	for _, evaluation := range s.evaluations {
		out = append(out, s.snapshot(evaluation))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Remove unschedules an evaluation
func (s *Service) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryID, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("schedule not found: %s", id)
	}
	s.cron.Remove(entryID)
	delete(s.jobs, id)
	delete(s.evaluations, id)

	s.logger.WithField("schedule_id", id).Info("Removed scheduled evaluation")
	return nil
}

// snapshot copies an evaluation and fills NextRun. Callers hold s.mu.
func (s *Service) snapshot(evaluation *models.ScheduledEvaluation) *models.ScheduledEvaluation {
	out := *evaluation
	out.NextRun = nil
	if entryID, ok := s.jobs[evaluation.ID]; ok {
		entry := s.cron.Entry(entryID)
		next := entry.Next
		if next.IsZero() && entry.Schedule != nil {
			// the cron loop has not started yet
			next = entry.Schedule.Next(time.Now())
		}
		if !next.IsZero() {
			next = next.UTC()
			out.NextRun = &next
		}
	}
	return &out
}
