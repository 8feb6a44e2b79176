package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/mimir-aip/battery-soh/pkg/mlmodel"
	"github.com/mimir-aip/battery-soh/pkg/models"
)

// ModelHandler exposes the background training worker over HTTP
type ModelHandler struct {
	service *mlmodel.Service
	logger  logrus.FieldLogger
}

// NewModelHandler creates a new model handler
func NewModelHandler(service *mlmodel.Service, logger logrus.FieldLogger) *ModelHandler {
	return &ModelHandler{
		service: service,
		logger:  logger,
	}
}

// HandleTrain handles POST /api/model/train with a CSV body
func (h *ModelHandler) HandleTrain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	csvText, ok := readCSVBody(w, r)
	if !ok {
		return
	}

	metrics, err := h.service.LoadAndTrain(r.Context(), csvText)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, metrics)
}

// HandlePredict handles POST /api/model/predict
func (h *ModelHandler) HandlePredict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req models.PredictionRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid request: %v", err))
		return
	}

	predictions, err := h.service.Predict(r.Context(), req.Features)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"predictions": predictions})
}

// HandleMetrics handles GET /api/model/metrics
func (h *ModelHandler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	metrics := h.service.Metrics()
	if metrics == nil {
		writeErrorResponse(w, http.StatusNotFound, mlmodel.ErrModelNotTrained.Error())
		return
	}
	writeJSONResponse(w, http.StatusOK, metrics)
}

// writeServiceError maps worker errors onto status codes
func (h *ModelHandler) writeServiceError(w http.ResponseWriter, err error) {
	if verr, ok := asValidationError(err); ok {
		writeValidationError(w, verr)
		return
	}

	var workerErr *mlmodel.WorkerError
	switch {
	case errors.Is(err, mlmodel.ErrAlreadyTraining), errors.Is(err, mlmodel.ErrModelNotTrained):
		writeErrorResponse(w, http.StatusConflict, err.Error())
	case errors.Is(err, mlmodel.ErrTrainingTimeout), errors.Is(err, mlmodel.ErrPredictionTimeout):
		writeErrorResponse(w, http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, mlmodel.ErrInvalidPredictionData), errors.As(err, &workerErr):
		writeErrorResponse(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, mlmodel.ErrServiceClosed):
		writeErrorResponse(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.logger.WithError(err).Error("Model request failed")
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
	}
}
