package models

import (
	"encoding/json"
	"math"
	"time"
)

// Score is a metric value that may legitimately be non-finite.
// Non-finite scores encode as JSON null and decode back to negative infinity.
type Score float64

// MarshalJSON implements json.Marshaler
func (s Score) MarshalJSON() ([]byte, error) {
	v := float64(s)
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

// UnmarshalJSON implements json.Unmarshaler
func (s *Score) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = Score(math.Inf(-1))
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = Score(v)
	return nil
}

// MetricSet holds the error statistics of one prediction pass
type MetricSet struct {
	RMSE            float64 `json:"rmse"`
	MAE             float64 `json:"mae"`
	MaxError        float64 `json:"maxError"`
	StdDev          float64 `json:"stdDev"`
	R2Score         Score   `json:"r2Score"`
	ComputationTime float64 `json:"computationTime"` // milliseconds
}

// ModelResult is the evaluation record of one trained model
type ModelResult struct {
	MetricSet
	Model     ModelType `json:"model"`
	Predicted []float64 `json:"predicted"`
	Errors    []float64 `json:"errors"`

	// Model-specific metadata
	Trees             int                `json:"trees,omitempty"`
	MaxDepth          int                `json:"maxDepth,omitempty"`
	HiddenNodes       int                `json:"hiddenNodes,omitempty"`
	Activation        Activation         `json:"activation,omitempty"`
	Units             int                `json:"units,omitempty"`
	Kernel            Kernel             `json:"kernel,omitempty"`
	SupportVectors    int                `json:"supportVectors,omitempty"`
	FeatureImportance map[string]float64 `json:"featureImportance,omitempty"`
	Folds             []MetricSet        `json:"folds,omitempty"`
}

// LearningCurvePoint is the loss of one training epoch
type LearningCurvePoint struct {
	Epoch          int     `json:"epoch"`
	TrainingLoss   float64 `json:"training_loss"`
	ValidationLoss float64 `json:"validation_loss"`
}

// AdapterFailure records a model family that could not be evaluated
type AdapterFailure struct {
	Model   ModelType `json:"model"`
	Stage   string    `json:"stage"`            // configure, train, cross_validate or predict
	Config  int       `json:"config,omitempty"` // 1-based forest configuration, 0 otherwise
	Message string    `json:"message"`
}

// ResultsBundle collects every model result of one pipeline invocation
type ResultsBundle struct {
	RunID        string           `json:"runId"`
	RandomForest []ModelResult    `json:"randomForest"`
	ELM          *ModelResult     `json:"elm"`
	LSTM         *ModelResult     `json:"lstm"`
	XGBoost      *ModelResult     `json:"xgboost"`
	SVR          *ModelResult     `json:"svr"`
	Failures     []AdapterFailure `json:"failures,omitempty"`
	StartedAt    time.Time        `json:"startedAt"`
	CompletedAt  time.Time        `json:"completedAt"`
}

// Results returns the single-result families keyed by model type, skipping failed ones
func (b *ResultsBundle) Results() map[ModelType]*ModelResult {
	out := make(map[ModelType]*ModelResult)
	for typ, r := range map[ModelType]*ModelResult{
		ModelTypeELM:     b.ELM,
		ModelTypeLSTM:    b.LSTM,
		ModelTypeXGBoost: b.XGBoost,
		ModelTypeSVR:     b.SVR,
	} {
		if r != nil {
			out[typ] = r
		}
	}
	return out
}

// RunSummary aggregates RMSE across repeated runs
type RunSummary struct {
	Runs      int                `json:"runs"`
	RMSEMean  map[string]float64 `json:"rmseMean"`
	RMSEStd   map[string]float64 `json:"rmseStd"`
	Failures  map[string]int     `json:"failures,omitempty"`
	BestModel string             `json:"bestModel"`
}
