package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/mimir-aip/battery-soh/pkg/dataset"
)

// maxBodyBytes bounds uploaded CSV and JSON bodies
const maxBodyBytes = 32 << 20

// writeJSONResponse writes a JSON response with the given status code.
// Values that cannot be encoded turn into a 500.
func writeJSONResponse(w http.ResponseWriter, statusCode int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		logrus.WithError(err).WithField("status", statusCode).Error("Failed to encode JSON response")
		statusCode = http.StatusInternalServerError
		body = []byte(`{"error":"failed to encode response","status":"error"}`)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(append(body, '\n')); err != nil {
		logrus.WithError(err).Debug("Failed to write JSON response")
	}
}

// writeErrorResponse writes an error response with the given status code and message
func writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	writeJSONResponse(w, statusCode, map[string]any{
		"error":  message,
		"status": "error",
	})
}

// writeValidationError reports every dataset problem in one 400 response
func writeValidationError(w http.ResponseWriter, err *dataset.ValidationError) {
	writeJSONResponse(w, http.StatusBadRequest, map[string]any{
		"error":      err.Error(),
		"status":     "error",
		"kind":       err.Kind,
		"violations": err.Messages,
	})
}

// readCSVBody validates an uploaded CSV body. It writes the error response itself and reports success.
func readCSVBody(w http.ResponseWriter, r *http.Request) (string, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Failed to read request body: %v", err))
		return "", false
	}
	return string(body), true
}

// decodeJSONBody decodes a JSON request body, writing a 400 on failure
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return false
	}
	return true
}

// asValidationError unwraps a dataset validation failure
func asValidationError(err error) (*dataset.ValidationError, bool) {
	var verr *dataset.ValidationError
	ok := errors.As(err, &verr)
	return verr, ok
}
