package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mimir-aip/battery-soh/pkg/dataset"
	"github.com/mimir-aip/battery-soh/pkg/mlmodel"
	"github.com/mimir-aip/battery-soh/pkg/models"
	"github.com/mimir-aip/battery-soh/pkg/queue"
	"github.com/mimir-aip/battery-soh/pkg/scheduler"
)

// Server provides HTTP API endpoints
type Server struct {
	queue  *queue.Queue
	port   string
	mux    *http.ServeMux
	http   *http.Server
	logger logrus.FieldLogger
}

// NewServer creates a new API server. The model and schedule routes are registered only when their services are given.
func NewServer(q *queue.Queue, trainer *mlmodel.Service, schedules *scheduler.Service, port string, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Server{
		queue:  q,
		port:   port,
		mux:    http.NewServeMux(),
		logger: logger,
	}

	s.registerRoutes()
	if trainer != nil {
		h := NewModelHandler(trainer, logger)
		s.mux.HandleFunc("/api/model/train", h.HandleTrain)
		s.mux.HandleFunc("/api/model/predict", h.HandlePredict)
		s.mux.HandleFunc("/api/model/metrics", h.HandleMetrics)
	}
	if schedules != nil {
		h := NewScheduleHandler(schedules)
		s.mux.HandleFunc("/api/schedules", h.HandleSchedules)
		s.mux.HandleFunc("/api/schedules/", h.HandleSchedule)
	}
	return s
}

// registerRoutes sets up the HTTP routes
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/ready", s.handleReady)
	s.mux.HandleFunc("/api/evaluations", s.handleEvaluations)
	s.mux.HandleFunc("/api/evaluations/", s.handleEvaluationByID)
}

// Handler exposes the route multiplexer
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves HTTP until Shutdown is called
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%s", s.port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.WithField("addr", addr).Info("Starting API server")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleReady handles readiness check requests
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": "queue unavailable"})
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"status":       "ready",
		"queue_length": s.queue.QueueLength(),
	})
}

// handleEvaluations handles evaluation submission (POST) and listing (GET)
func (s *Server) handleEvaluations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleEvaluationSubmission(w, r)
	case http.MethodGet:
		s.handleEvaluationList(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleEvaluationSubmission validates an uploaded CSV dataset and queues it for evaluation
func (s *Server) handleEvaluationSubmission(w http.ResponseWriter, r *http.Request) {
	csvText, ok := readCSVBody(w, r)
	if !ok {
		return
	}

	priority := 0
	if p := r.URL.Query().Get("priority"); p != "" {
		var err error
		if priority, err = strconv.Atoi(p); err != nil {
			writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid priority: %q", p))
			return
		}
	}

	ds, err := dataset.ParseAndValidate(csvText)
	if err != nil {
		if verr, ok := asValidationError(err); ok {
			writeValidationError(w, verr)
			return
		}
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	task := &models.EvaluationTask{
		ID:       uuid.New().String(),
		Priority: priority,
		Source:   "api",
		Rows:     ds.Len(),
		Dataset:  ds,
	}
	if err := s.queue.Enqueue(task); err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, fmt.Sprintf("Failed to enqueue evaluation: %v", err))
		return
	}
	s.logger.WithFields(logrus.Fields{"task_id": task.ID, "rows": task.Rows}).Info("Evaluation submitted")

	snapshot, err := s.queue.GetTask(task.ID)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSONResponse(w, http.StatusAccepted, snapshot)
}

// handleEvaluationList reports the queue length and tracked tasks
func (s *Server) handleEvaluationList(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"queue_length": s.queue.QueueLength(),
		"tasks":        s.queue.ListTasks(),
	})
}

// handleEvaluationByID handles task-specific requests
func (s *Server) handleEvaluationByID(w http.ResponseWriter, r *http.Request) {
	// Extract task ID from path (e.g., /api/evaluations/{id})
	taskID := strings.TrimPrefix(r.URL.Path, "/api/evaluations/")
	if taskID == "" || strings.Contains(taskID, "/") {
		writeErrorResponse(w, http.StatusNotFound, "Evaluation not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		task, err := s.queue.GetTask(taskID)
		if err != nil {
			writeErrorResponse(w, http.StatusNotFound, fmt.Sprintf("Evaluation not found: %v", err))
			return
		}
		writeJSONResponse(w, http.StatusOK, task)
	case http.MethodDelete:
		if _, err := s.queue.GetTask(taskID); err != nil {
			writeErrorResponse(w, http.StatusNotFound, fmt.Sprintf("Evaluation not found: %v", err))
			return
		}
		if err := s.queue.Cancel(taskID); err != nil {
			writeErrorResponse(w, http.StatusConflict, err.Error())
			return
		}
		writeJSONResponse(w, http.StatusOK, map[string]string{"status": "cancelled", "task_id": taskID})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
