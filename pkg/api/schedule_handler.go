package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/mimir-aip/battery-soh/pkg/models"
	"github.com/mimir-aip/battery-soh/pkg/scheduler"
)

// ScheduleHandler handles schedule-related HTTP requests
type ScheduleHandler struct {
	service *scheduler.Service
}

// NewScheduleHandler creates a new schedule handler
func NewScheduleHandler(service *scheduler.Service) *ScheduleHandler {
	return &ScheduleHandler{
		service: service,
	}
}

// HandleSchedules handles schedule list and create operations
func (h *ScheduleHandler) HandleSchedules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSONResponse(w, http.StatusOK, h.service.List())
	case http.MethodPost:
		h.handleCreate(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleSchedule handles individual schedule operations
func (h *ScheduleHandler) HandleSchedule(w http.ResponseWriter, r *http.Request) {
	// Extract schedule ID from path
	scheduleID := strings.TrimPrefix(r.URL.Path, "/api/schedules/")
	if idx := strings.Index(scheduleID, "/"); idx != -1 {
		scheduleID = scheduleID[:idx]
	}

	switch r.Method {
	case http.MethodGet:
		evaluation, err := h.service.Get(scheduleID)
		if err != nil {
			writeErrorResponse(w, http.StatusNotFound, err.Error())
			return
		}
		writeJSONResponse(w, http.StatusOK, evaluation)
	case http.MethodDelete:
		if err := h.service.Remove(scheduleID); err != nil {
			writeErrorResponse(w, http.StatusNotFound, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleCreate registers a periodic dataset evaluation
func (h *ScheduleHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req models.ScheduleCreateRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid request: %v", err))
		return
	}

	evaluation, err := h.service.Schedule(req.Schedule, req.DatasetPath)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Failed to create schedule: %v", err))
		return
	}
	writeJSONResponse(w, http.StatusCreated, evaluation)
}
