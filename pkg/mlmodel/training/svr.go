package training

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/mimir-aip/battery-soh/pkg/models"
)

// SVRTrainer is epsilon-insensitive support vector regression solved in the dual
// by coordinate descent over the signed coefficients β ∈ [-C, C].
type SVRTrainer struct {
	config     models.SVRConfig
	configured bool

	scaler  *standardScaler
	vectors [][]float64 // scaled support vectors
	raw     [][]float64 // support vectors in input units
	coef    []float64
	offset  float64
	width   int
	passes  int
}

// NewSVRTrainer creates a new support vector regression trainer
func NewSVRTrainer() *SVRTrainer {
	return &SVRTrainer{}
}

// Configure applies SVR hyperparameters
func (t *SVRTrainer) Configure(params models.Hyperparameters) error {
	if params.SVR == nil {
		return fmt.Errorf("%w: svr", ErrNotConfigured)
	}
	cfg := params.SVR.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid svr config: %w", err)
	}
	t.Dispose()
	t.config = cfg
	t.configured = true
	return nil
}

// Config returns the effective hyperparameters
func (t *SVRTrainer) Config() models.SVRConfig {
	return t.config
}

// Train minimizes ½βᵀKβ - yᵀβ + ε‖β‖₁ on centered targets.
// Each coordinate step is a soft-threshold followed by a clip to the box.
func (t *SVRTrainer) Train(ctx context.Context, features [][]float64, targets []float64) error {
	if !t.configured {
		return &TrainingError{Model: models.ModelTypeSVR, Err: ErrNotConfigured}
	}
	width, err := checkTrainingData(models.ModelTypeSVR, features, targets)
	if err != nil {
		return err
	}

	scaler := fitScaler(features)
	X := scaler.transform(features)
	offset := stat.Mean(targets, nil)
	y := make([]float64, len(targets))
	for i, v := range targets {
		y[i] = v - offset
	}

	n := len(X)
	K := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			K.SetSym(i, j, t.kernel(X[i], X[j]))
		}
	}

	beta := make([]float64, n)
	f := make([]float64, n) // f = Kβ
	C, eps := t.config.C, t.config.Epsilon
	passes := 0
	for ; passes < t.config.MaxPasses; passes++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		maxStep := 0.0
		for i := 0; i < n; i++ {
			kii := K.At(i, i)
			if kii <= 0 {
				continue
			}
			g := f[i] - y[i]
			z := kii*beta[i] - g
			next := math.Max(-C, math.Min(C, softThreshold(z, eps)/kii))
			delta := next - beta[i]
			if delta == 0 {
				continue
			}
			beta[i] = next
			for j := 0; j < n; j++ {
				f[j] += delta * K.At(i, j)
			}
			maxStep = math.Max(maxStep, math.Abs(delta))
		}
		if math.IsNaN(maxStep) {
			return &TrainingError{Model: models.ModelTypeSVR, Err: ErrDiverged}
		}
		if maxStep < t.config.Tolerance {
			passes++
			break
		}
	}

	t.vectors, t.raw, t.coef = nil, nil, nil
	for i, b := range beta {
		if b != 0 {
			t.vectors = append(t.vectors, X[i])
			t.raw = append(t.raw, features[i])
			t.coef = append(t.coef, b)
		}
	}
	t.scaler = scaler
	t.offset = offset
	t.width = width
	t.passes = passes
	return nil
}

func softThreshold(z, eps float64) float64 {
	switch {
	case z > eps:
		return z - eps
	case z < -eps:
		return z + eps
	}
	return 0
}

func (t *SVRTrainer) kernel(a, b []float64) float64 {
	switch t.config.Kernel {
	case models.KernelLinear:
		return floats.Dot(a, b)
	case models.KernelPolynomial:
		return math.Pow(t.config.Gamma*floats.Dot(a, b)+t.config.Coef0, float64(t.config.Degree))
	default:
		d := floats.Distance(a, b, 2)
		return math.Exp(-t.config.Gamma * d * d)
	}
}

// Predict evaluates Σβᵢ K(xᵢ, x) plus the target offset
func (t *SVRTrainer) Predict(ctx context.Context, features [][]float64) ([]float64, error) {
	if t.scaler == nil {
		return nil, notTrained(models.ModelTypeSVR)
	}
	if err := checkPredictionData(models.ModelTypeSVR, features, t.width); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	X := t.scaler.transform(features)
	out := make([]float64, len(X))
	for i, x := range X {
		v := t.offset
		for k, sv := range t.vectors {
			v += t.coef[k] * t.kernel(sv, x)
		}
		out[i] = v
	}
	return out, nil
}

// SupportVectors returns the training rows with non-zero coefficients
func (t *SVRTrainer) SupportVectors() [][]float64 {
	out := make([][]float64, len(t.raw))
	for i, row := range t.raw {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

// Passes returns how many coordinate descent sweeps the last Train used
func (t *SVRTrainer) Passes() int {
	return t.passes
}

// Dispose drops the support vectors
func (t *SVRTrainer) Dispose() {
	t.scaler = nil
	t.vectors = nil
	t.raw = nil
	t.coef = nil
	t.width = 0
	t.passes = 0
}

// GetType returns the model type
func (t *SVRTrainer) GetType() models.ModelType {
	return models.ModelTypeSVR
}
