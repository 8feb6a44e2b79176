package models

import "fmt"

// Column names of the battery dataset, in feature order followed by the target
const (
	ColumnVoltage       = "voltage"
	ColumnCurrent       = "current"
	ColumnTemperature   = "temperature"
	ColumnCycles        = "cycles"
	ColumnAgeDays       = "age_days"
	ColumnChargeTime    = "charge_time"
	ColumnDischargeTime = "discharge_time"
	ColumnHealth        = "health"
	ColumnNotes         = "notes"
)

// FeatureColumns are the model inputs in row order
var FeatureColumns = []string{
	ColumnVoltage,
	ColumnCurrent,
	ColumnTemperature,
	ColumnCycles,
	ColumnAgeDays,
	ColumnChargeTime,
	ColumnDischargeTime,
}

// RequiredColumns are the columns every dataset must provide
var RequiredColumns = append(append([]string{}, FeatureColumns...), ColumnHealth)

// Dataset is a validated feature matrix with its health targets
type Dataset struct {
	Features     [][]float64 `json:"features"`
	Targets      []float64   `json:"targets"`
	FeatureNames []string    `json:"feature_names"`
	Notes        []string    `json:"notes,omitempty"`
}

// Len returns the number of rows
func (d *Dataset) Len() int {
	return len(d.Targets)
}

// PredictionRequest represents a request to score feature rows with the trained worker model
type PredictionRequest struct {
	Features [][]float64 `json:"features"`
}

// Validate checks if the PredictionRequest is valid
func (r *PredictionRequest) Validate() error {
	if len(r.Features) == 0 {
		return errRequired("features")
	}
	width := len(r.Features[0])
	for i, row := range r.Features {
		if len(row) != width {
			return fmt.Errorf("features row %d has %d values, expected %d", i+1, len(row), width)
		}
	}
	return nil
}

// ModelMetrics summarizes the worker's trained forest
type ModelMetrics struct {
	Accuracy float64 `json:"accuracy"`
	Features int     `json:"features"`
	Trees    int     `json:"trees"`
	MaxDepth int     `json:"maxDepth"`
}

// HealthPrediction is a predicted health value enriched with derived battery indicators
type HealthPrediction struct {
	Health          float64 `json:"health"`
	RemainingLife   float64 `json:"remainingLife"` // days
	DegradationRate float64 `json:"degradationRate"`
	ConfidenceScore float64 `json:"confidenceScore"`
}

func errRequired(field string) error {
	return fmt.Errorf("%s is required", field)
}
