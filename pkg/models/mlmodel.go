package models

import (
	"fmt"
	"math"
	"strconv"
)

// ModelType represents the family of a regression model
type ModelType string

const (
	ModelTypeRandomForest ModelType = "random_forest"
	ModelTypeELM          ModelType = "elm"
	ModelTypeLSTM         ModelType = "lstm"
	ModelTypeXGBoost      ModelType = "xgboost"
	ModelTypeSVR          ModelType = "svr"
)

// AllModelTypes lists the model families in evaluation order
var AllModelTypes = []ModelType{
	ModelTypeRandomForest,
	ModelTypeELM,
	ModelTypeLSTM,
	ModelTypeXGBoost,
	ModelTypeSVR,
}

// Activation is the hidden layer activation used by the ELM
type Activation string

const (
	ActivationSigmoid   Activation = "sigmoid"
	ActivationLeakyReLU Activation = "leakyReLU"
	ActivationTanh      Activation = "tanh"
)

// Kernel is the SVR kernel function
type Kernel string

const (
	KernelRBF        Kernel = "RBF"
	KernelLinear     Kernel = "LINEAR"
	KernelPolynomial Kernel = "POLYNOMIAL"
)

// ObjectiveSquaredError is the only boosting objective supported
const ObjectiveSquaredError = "reg:squarederror"

// RandomForestConfig holds hyperparameters for a bagged regression forest
type RandomForestConfig struct {
	NEstimators     int    `json:"nEstimators" yaml:"n_estimators"`
	MaxDepth        int    `json:"maxDepth" yaml:"max_depth"`
	MinSamplesSplit int    `json:"minSamplesSplit,omitempty" yaml:"min_samples_split,omitempty"`
	MaxFeatures     string `json:"maxFeatures,omitempty" yaml:"max_features,omitempty"` // "sqrt", "log2", "all" or a fraction
	Seed            int64  `json:"seed,omitempty" yaml:"seed,omitempty"`
	Replacement     *bool  `json:"replacement,omitempty" yaml:"replacement,omitempty"`
}

// WithDefaults returns a copy with zero fields replaced by defaults
func (c RandomForestConfig) WithDefaults() RandomForestConfig {
	if c.NEstimators == 0 {
		c.NEstimators = 25
	}
	if c.MaxDepth == 0 {
		c.MaxDepth = 10
	}
	if c.MinSamplesSplit == 0 {
		c.MinSamplesSplit = 2
	}
	if c.MaxFeatures == "" {
		c.MaxFeatures = "0.8"
	}
	if c.Seed == 0 {
		c.Seed = 42
	}
	if c.Replacement == nil {
		replacement := true
		c.Replacement = &replacement
	}
	return c
}

// Validate checks if the RandomForestConfig is valid
func (c RandomForestConfig) Validate() error {
	if c.NEstimators < 1 {
		return fmt.Errorf("n_estimators must be positive, got %d", c.NEstimators)
	}
	if c.MaxDepth < 1 {
		return fmt.Errorf("max_depth must be positive, got %d", c.MaxDepth)
	}
	if c.MinSamplesSplit < 2 {
		return fmt.Errorf("min_samples_split must be at least 2, got %d", c.MinSamplesSplit)
	}
	if _, err := FeatureSubsetSize(c.MaxFeatures, 1); err != nil {
		return err
	}
	return nil
}

// FeatureSubsetSize resolves a max_features setting against n available features
func FeatureSubsetSize(maxFeatures string, n int) (int, error) {
	var size int
	switch maxFeatures {
	case "", "all":
		size = n
	case "sqrt":
		size = int(math.Sqrt(float64(n)))
	case "log2":
		size = int(math.Log2(float64(n)))
	default:
		frac, err := strconv.ParseFloat(maxFeatures, 64)
		if err != nil || frac <= 0 || frac > 1 {
			return 0, fmt.Errorf("invalid max_features: %q", maxFeatures)
		}
		size = int(frac * float64(n))
	}
	if size < 1 {
		size = 1
	}
	if size > n {
		size = n
	}
	return size, nil
}

// ELMConfig holds hyperparameters for an extreme learning machine
type ELMConfig struct {
	HiddenNodes  int        `json:"hiddenNodes" yaml:"hidden_nodes"`
	Activation   Activation `json:"activationFunction" yaml:"activation"`
	Lambda       float64    `json:"lambda,omitempty" yaml:"lambda,omitempty"`
	Solver       string     `json:"solver,omitempty" yaml:"solver,omitempty"` // "cholesky" or "gradient"
	Iterations   int        `json:"iterations,omitempty" yaml:"iterations,omitempty"`
	LearningRate float64    `json:"learningRate,omitempty" yaml:"learning_rate,omitempty"`
	Seed         int64      `json:"seed,omitempty" yaml:"seed,omitempty"`
}

// WithDefaults returns a copy with zero fields replaced by defaults
func (c ELMConfig) WithDefaults() ELMConfig {
	if c.HiddenNodes == 0 {
		c.HiddenNodes = 100
	}
	if c.Activation == "" {
		c.Activation = ActivationLeakyReLU
	}
	if c.Lambda == 0 {
		c.Lambda = 0.001
	}
	if c.Solver == "" {
		c.Solver = "cholesky"
	}
	if c.Iterations == 0 {
		c.Iterations = 100
	}
	if c.LearningRate == 0 {
		c.LearningRate = 0.01
	}
	if c.Seed == 0 {
		c.Seed = 42
	}
	return c
}

// Validate checks if the ELMConfig is valid
func (c ELMConfig) Validate() error {
	if c.HiddenNodes < 1 {
		return fmt.Errorf("hidden_nodes must be positive, got %d", c.HiddenNodes)
	}
	switch c.Activation {
	case ActivationSigmoid, ActivationLeakyReLU, ActivationTanh:
	default:
		return fmt.Errorf("invalid activation: %s", c.Activation)
	}
	if c.Lambda < 0 {
		return fmt.Errorf("lambda must not be negative")
	}
	if c.Solver != "cholesky" && c.Solver != "gradient" {
		return fmt.Errorf("invalid solver: %s", c.Solver)
	}
	if c.Iterations < 1 || c.LearningRate <= 0 {
		return fmt.Errorf("gradient solver needs positive iterations and learning_rate")
	}
	return nil
}

// LSTMConfig holds hyperparameters for the sequence model
type LSTMConfig struct {
	InputShape      [2]int   `json:"inputShape" yaml:"input_shape"` // [timesteps, features per step]
	Units           int      `json:"units" yaml:"units"`
	Epochs          int      `json:"epochs,omitempty" yaml:"epochs,omitempty"`
	LearningRate    float64  `json:"learningRate,omitempty" yaml:"learning_rate,omitempty"`
	BatchSize       int      `json:"batchSize,omitempty" yaml:"batch_size,omitempty"`
	ValidationSplit *float64 `json:"validationSplit,omitempty" yaml:"validation_split,omitempty"` // nil means 0.2, 0 disables validation
	Shuffle         *bool    `json:"shuffle,omitempty" yaml:"shuffle,omitempty"`
	Seed            int64    `json:"seed,omitempty" yaml:"seed,omitempty"`
}

// WithDefaults returns a copy with zero fields replaced by defaults
func (c LSTMConfig) WithDefaults() LSTMConfig {
	if c.InputShape == [2]int{} {
		c.InputShape = [2]int{10, 4}
	}
	if c.Units == 0 {
		c.Units = 64
	}
	if c.Epochs == 0 {
		c.Epochs = 50
	}
	if c.LearningRate == 0 {
		c.LearningRate = 0.001
	}
	if c.BatchSize == 0 {
		c.BatchSize = 32
	}
	if c.ValidationSplit == nil {
		split := 0.2
		c.ValidationSplit = &split
	}
	if c.Shuffle == nil {
		shuffle := true
		c.Shuffle = &shuffle
	}
	if c.Seed == 0 {
		c.Seed = 42
	}
	return c
}

// Validate checks if the LSTMConfig is valid
func (c LSTMConfig) Validate() error {
	if c.InputShape[0] < 1 || c.InputShape[1] < 1 {
		return fmt.Errorf("input_shape must be positive, got %v", c.InputShape)
	}
	if c.Units < 1 {
		return fmt.Errorf("units must be positive, got %d", c.Units)
	}
	if c.Epochs < 1 {
		return fmt.Errorf("epochs must be positive, got %d", c.Epochs)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning_rate must be positive")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.ValidationSplit != nil && (*c.ValidationSplit < 0 || *c.ValidationSplit >= 1) {
		return fmt.Errorf("validation_split must be in [0, 1), got %g", *c.ValidationSplit)
	}
	return nil
}

// XGBoostConfig holds hyperparameters for gradient boosted trees
type XGBoostConfig struct {
	MaxDepth       int     `json:"maxDepth,omitempty" yaml:"max_depth,omitempty"`
	LearningRate   float64 `json:"learningRate,omitempty" yaml:"learning_rate,omitempty"` // eta
	NEstimators    int     `json:"nEstimators,omitempty" yaml:"n_estimators,omitempty"`   // boosting rounds
	Objective      string  `json:"objective,omitempty" yaml:"objective,omitempty"`
	Lambda         float64 `json:"lambda,omitempty" yaml:"lambda,omitempty"`
	Gamma          float64 `json:"gamma,omitempty" yaml:"gamma,omitempty"`
	MinChildWeight float64 `json:"minChildWeight,omitempty" yaml:"min_child_weight,omitempty"`
}

// WithDefaults returns a copy with zero fields replaced by defaults
func (c XGBoostConfig) WithDefaults() XGBoostConfig {
	if c.MaxDepth == 0 {
		c.MaxDepth = 6
	}
	if c.LearningRate == 0 {
		c.LearningRate = 0.3
	}
	if c.NEstimators == 0 {
		c.NEstimators = 100
	}
	if c.Objective == "" {
		c.Objective = ObjectiveSquaredError
	}
	if c.Lambda == 0 {
		c.Lambda = 1
	}
	if c.MinChildWeight == 0 {
		c.MinChildWeight = 1
	}
	return c
}

// Validate checks if the XGBoostConfig is valid
func (c XGBoostConfig) Validate() error {
	if c.MaxDepth < 1 {
		return fmt.Errorf("max_depth must be positive, got %d", c.MaxDepth)
	}
	if c.LearningRate <= 0 || c.LearningRate > 1 {
		return fmt.Errorf("learning_rate must be in (0, 1], got %g", c.LearningRate)
	}
	if c.NEstimators < 1 {
		return fmt.Errorf("n_estimators must be positive, got %d", c.NEstimators)
	}
	if c.Objective != ObjectiveSquaredError {
		return fmt.Errorf("unsupported objective: %s", c.Objective)
	}
	if c.Lambda < 0 || c.Gamma < 0 || c.MinChildWeight < 0 {
		return fmt.Errorf("lambda, gamma and min_child_weight must not be negative")
	}
	return nil
}

// SVRConfig holds hyperparameters for epsilon support vector regression
type SVRConfig struct {
	Kernel    Kernel  `json:"kernel,omitempty" yaml:"kernel,omitempty"`
	C         float64 `json:"C,omitempty" yaml:"c,omitempty"`
	Gamma     float64 `json:"gamma,omitempty" yaml:"gamma,omitempty"`
	Epsilon   float64 `json:"epsilon,omitempty" yaml:"epsilon,omitempty"`
	Degree    int     `json:"degree,omitempty" yaml:"degree,omitempty"`
	Coef0     float64 `json:"coef0,omitempty" yaml:"coef0,omitempty"`
	Tolerance float64 `json:"tolerance,omitempty" yaml:"tolerance,omitempty"`
	MaxPasses int     `json:"maxPasses,omitempty" yaml:"max_passes,omitempty"`
}

// WithDefaults returns a copy with zero fields replaced by defaults
func (c SVRConfig) WithDefaults() SVRConfig {
	if c.Kernel == "" {
		c.Kernel = KernelRBF
	}
	if c.C == 0 {
		c.C = 1.0
	}
	if c.Gamma == 0 {
		c.Gamma = 0.1
	}
	if c.Epsilon == 0 {
		c.Epsilon = 0.1
	}
	if c.Degree == 0 {
		c.Degree = 3
	}
	if c.Tolerance == 0 {
		c.Tolerance = 1e-4
	}
	if c.MaxPasses == 0 {
		c.MaxPasses = 500
	}
	return c
}

// Validate checks if the SVRConfig is valid
func (c SVRConfig) Validate() error {
	switch c.Kernel {
	case KernelRBF, KernelLinear, KernelPolynomial:
	default:
		return fmt.Errorf("invalid kernel: %s", c.Kernel)
	}
	if c.C <= 0 {
		return fmt.Errorf("C must be positive, got %g", c.C)
	}
	if c.Gamma <= 0 {
		return fmt.Errorf("gamma must be positive, got %g", c.Gamma)
	}
	if c.Epsilon < 0 {
		return fmt.Errorf("epsilon must not be negative")
	}
	if c.Degree < 1 {
		return fmt.Errorf("degree must be positive, got %d", c.Degree)
	}
	if c.Tolerance <= 0 || c.MaxPasses < 1 {
		return fmt.Errorf("tolerance and max_passes must be positive")
	}
	return nil
}

// Hyperparameters carries the configuration for exactly one model family
type Hyperparameters struct {
	RandomForest *RandomForestConfig `json:"randomForest,omitempty" yaml:"random_forest,omitempty"`
	ELM          *ELMConfig          `json:"elm,omitempty" yaml:"elm,omitempty"`
	LSTM         *LSTMConfig         `json:"lstm,omitempty" yaml:"lstm,omitempty"`
	XGBoost      *XGBoostConfig      `json:"xgboost,omitempty" yaml:"xgboost,omitempty"`
	SVR          *SVRConfig          `json:"svr,omitempty" yaml:"svr,omitempty"`
}

// PipelineConfig holds the full configuration of a comparison run
type PipelineConfig struct {
	RandomForest         []RandomForestConfig `json:"rfConfigurations" yaml:"random_forest"`
	ELM                  ELMConfig            `json:"elmConfiguration" yaml:"elm"`
	LSTM                 LSTMConfig           `json:"lstmConfiguration" yaml:"lstm"`
	XGBoost              XGBoostConfig        `json:"xgboostConfiguration" yaml:"xgboost"`
	SVR                  SVRConfig            `json:"svrConfiguration" yaml:"svr"`
	CrossValidationFolds int                  `json:"crossValidationFolds" yaml:"cross_validation_folds"`
	Runs                 int                  `json:"runs" yaml:"runs"`
}

// DefaultPipelineConfig returns the standard four-forest comparison setup
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		RandomForest: []RandomForestConfig{
			{NEstimators: 25, MaxDepth: 10},
			{NEstimators: 50, MaxDepth: 10},
			{NEstimators: 75, MaxDepth: 10},
			{NEstimators: 100, MaxDepth: 10},
		},
		CrossValidationFolds: 5,
		Runs:                 5,
	}.WithDefaults()
}

// WithDefaults fills every nested model configuration
func (c PipelineConfig) WithDefaults() PipelineConfig {
	forests := make([]RandomForestConfig, len(c.RandomForest))
	for i, rf := range c.RandomForest {
		forests[i] = rf.WithDefaults()
	}
	c.RandomForest = forests
	c.ELM = c.ELM.WithDefaults()
	c.LSTM = c.LSTM.WithDefaults()
	c.XGBoost = c.XGBoost.WithDefaults()
	c.SVR = c.SVR.WithDefaults()
	if c.CrossValidationFolds == 0 {
		c.CrossValidationFolds = 5
	}
	if c.Runs == 0 {
		c.Runs = 1
	}
	return c
}

// Validate checks if the PipelineConfig is valid
func (c PipelineConfig) Validate() error {
	if len(c.RandomForest) == 0 {
		return fmt.Errorf("at least one random_forest configuration is required")
	}
	for i, rf := range c.RandomForest {
		if err := rf.Validate(); err != nil {
			return fmt.Errorf("random_forest[%d]: %w", i, err)
		}
	}
	if err := c.ELM.Validate(); err != nil {
		return fmt.Errorf("elm: %w", err)
	}
	if err := c.LSTM.Validate(); err != nil {
		return fmt.Errorf("lstm: %w", err)
	}
	if err := c.XGBoost.Validate(); err != nil {
		return fmt.Errorf("xgboost: %w", err)
	}
	if err := c.SVR.Validate(); err != nil {
		return fmt.Errorf("svr: %w", err)
	}
	if c.CrossValidationFolds < 2 {
		return fmt.Errorf("cross_validation_folds must be at least 2, got %d", c.CrossValidationFolds)
	}
	if c.Runs < 1 {
		return fmt.Errorf("runs must be positive, got %d", c.Runs)
	}
	return nil
}
