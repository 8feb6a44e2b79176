package training

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/mimir-aip/battery-soh/pkg/models"
)

// ELMTrainer is a single hidden layer network whose input weights stay at their
// random initialization; only the hidden-to-output weights are learned.
type ELMTrainer struct {
	config     models.ELMConfig
	configured bool

	inputWeights  *mat.Dense    // in x hidden
	bias          *mat.VecDense // hidden
	outputWeights *mat.VecDense // hidden
	scaler        *standardScaler
	inputNodes    int
}

// NewELMTrainer creates a new extreme learning machine trainer
func NewELMTrainer() *ELMTrainer {
	return &ELMTrainer{}
}

// Configure applies ELM hyperparameters
func (t *ELMTrainer) Configure(params models.Hyperparameters) error {
	if params.ELM == nil {
		return fmt.Errorf("%w: elm", ErrNotConfigured)
	}
	cfg := params.ELM.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid elm config: %w", err)
	}
	t.Dispose()
	t.config = cfg
	t.configured = true
	return nil
}

// Config returns the effective hyperparameters
func (t *ELMTrainer) Config() models.ELMConfig {
	return t.config
}

// initialize draws the fixed input weights, scaled by sqrt(2/in), and the bias
func (t *ELMTrainer) initialize(inputNodes int) {
	rng := rand.New(rand.NewSource(t.config.Seed))
	hidden := t.config.HiddenNodes
	scale := math.Sqrt(2 / float64(inputNodes))

	w := make([]float64, inputNodes*hidden)
	for i := range w {
		w[i] = rng.NormFloat64() * scale
	}
	b := make([]float64, hidden)
	for i := range b {
		b[i] = rng.NormFloat64()
	}

	t.inputWeights = mat.NewDense(inputNodes, hidden, w)
	t.bias = mat.NewVecDense(hidden, b)
	t.inputNodes = inputNodes
}

// Train solves (HᵀH + λI)β = Hᵀy for the output weights
func (t *ELMTrainer) Train(ctx context.Context, features [][]float64, targets []float64) error {
	if !t.configured {
		return &TrainingError{Model: models.ModelTypeELM, Err: ErrNotConfigured}
	}
	width, err := checkTrainingData(models.ModelTypeELM, features, targets)
	if err != nil {
		return err
	}
	if t.inputWeights == nil || t.inputNodes != width {
		t.initialize(width)
	}

	t.scaler = fitScaler(features)
	H := t.hiddenOutput(t.scaler.transform(features))
	y := mat.NewVecDense(len(targets), append([]float64(nil), targets...))

	hidden := t.config.HiddenNodes
	var gram mat.SymDense
	gram.SymOuterK(1, H.T())
	for i := 0; i < hidden; i++ {
		gram.SetSym(i, i, gram.At(i, i)+t.config.Lambda)
	}
	var hty mat.VecDense
	hty.MulVec(H.T(), y)

	var beta *mat.VecDense
	solved := false
	if t.config.Solver == "cholesky" {
		beta, solved = solveCholesky(&gram, &hty)
	}
	if !solved {
		beta, err = solveGradient(ctx, &gram, &hty, t.config.Iterations, t.config.LearningRate, t.config.Seed)
		if err != nil {
			return err
		}
	}
	for i := 0; i < beta.Len(); i++ {
		if v := beta.AtVec(i); math.IsNaN(v) || math.IsInf(v, 0) {
			t.outputWeights = nil
			return &TrainingError{Model: models.ModelTypeELM, Err: ErrDiverged}
		}
	}

	t.outputWeights = beta
	return nil
}

// hiddenOutput computes act(XW + b)
func (t *ELMTrainer) hiddenOutput(rows [][]float64) *mat.Dense {
	X := toMatrix(rows)
	var H mat.Dense
	H.Mul(X, t.inputWeights)
	act := activation(t.config.Activation)
	H.Apply(func(_, j int, v float64) float64 {
		return act(v + t.bias.AtVec(j))
	}, &H)
	return &H
}

// solveCholesky reports false when the regularized Gram matrix is not positive definite
func solveCholesky(gram *mat.SymDense, rhs *mat.VecDense) (*mat.VecDense, bool) {
	var chol mat.Cholesky
	if ok := chol.Factorize(gram); !ok {
		return nil, false
	}
	var beta mat.VecDense
	if err := chol.SolveVecTo(&beta, rhs); err != nil {
		return nil, false
	}
	return &beta, true
}

// solveGradient runs fixed-step gradient descent on the normal equations
func solveGradient(ctx context.Context, gram *mat.SymDense, rhs *mat.VecDense, iterations int, lr float64, seed int64) (*mat.VecDense, error) {
	n := rhs.Len()
	rng := rand.New(rand.NewSource(seed + 1))
	start := make([]float64, n)
	for i := range start {
		start[i] = rng.NormFloat64()
	}
	beta := mat.NewVecDense(n, start)

	// ‖G‖₁ bounds the largest eigenvalue of G
	step := lr / math.Max(1, mat.Norm(gram, 1))
	var residual mat.VecDense
	for i := 0; i < iterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		residual.MulVec(gram, beta)
		residual.SubVec(&residual, rhs)
		beta.AddScaledVec(beta, -step, &residual)
	}
	return beta, nil
}

// Predict evaluates act(XW + b)β
func (t *ELMTrainer) Predict(ctx context.Context, features [][]float64) ([]float64, error) {
	if t.outputWeights == nil {
		return nil, notTrained(models.ModelTypeELM)
	}
	if err := checkPredictionData(models.ModelTypeELM, features, t.inputNodes); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(features) == 0 {
		return []float64{}, nil
	}

	H := t.hiddenOutput(t.scaler.transform(features))
	var out mat.VecDense
	out.MulVec(H, t.outputWeights)
	return mat.Col(nil, 0, &out), nil
}

// Dispose releases the weight matrices
func (t *ELMTrainer) Dispose() {
	if t.inputWeights != nil {
		t.inputWeights.Zero()
	}
	t.inputWeights = nil
	t.bias = nil
	t.outputWeights = nil
	t.scaler = nil
	t.inputNodes = 0
}

// GetType returns the model type
func (t *ELMTrainer) GetType() models.ModelType {
	return models.ModelTypeELM
}

func activation(name models.Activation) func(float64) float64 {
	switch name {
	case models.ActivationSigmoid:
		return func(x float64) float64 { return 1 / (1 + math.Exp(-x)) }
	case models.ActivationTanh:
		return math.Tanh
	default:
		return func(x float64) float64 { return math.Max(0.01*x, x) }
	}
}

// Matrix helpers using gonum
func toMatrix(data [][]float64) *mat.Dense {
	rows := len(data)
	cols := len(data[0])
	flat := make([]float64, rows*cols)
	for i, row := range data {
		copy(flat[i*cols:(i+1)*cols], row)
	}
	return mat.NewDense(rows, cols, flat)
}
