package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mimir-aip/battery-soh/pkg/mlmodel/training"
	"github.com/mimir-aip/battery-soh/pkg/models"
)

// ErrEmptyDataset is returned when there is nothing to train on
var ErrEmptyDataset = errors.New("empty dataset")

// ErrNonFiniteOutput is recorded when a model predicts or scores NaN or Inf
var ErrNonFiniteOutput = errors.New("model produced non-finite output")

const failureHint = "check dataset format"

// Failure stages
const (
	StageConfigure     = "configure"
	StageCrossValidate = "cross_validate"
	StageTrain         = "train"
	StagePredict       = "predict"
)

// TrainerSource hands out configured trainers
type TrainerSource interface {
	GetTrainer(modelType models.ModelType, params models.Hyperparameters) (training.Trainer, error)
}

// Service runs the model comparison over a dataset
type Service struct {
	config   models.PipelineConfig
	logger   logrus.FieldLogger
	failFast bool
	trainers TrainerSource
}

// Option configures a Service
type Option func(*Service)

// WithFailFast aborts the run on the first adapter failure instead of recording it
func WithFailFast(failFast bool) Option {
	return func(s *Service) { s.failFast = failFast }
}

// WithLogger sets the logger
func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithTrainerSource replaces the default trainer factory
func WithTrainerSource(src TrainerSource) Option {
	return func(s *Service) { s.trainers = src }
}

// NewService creates a pipeline service for a configuration
func NewService(cfg models.PipelineConfig, opts ...Option) (*Service, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	s := &Service{
		config: cfg,
		logger: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the effective configuration
func (s *Service) Config() models.PipelineConfig {
	return s.config
}

// stageError marks the step of an adapter evaluation that failed
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return fmt.Sprintf("%s: %v", e.stage, e.err) }
func (e *stageError) Unwrap() error { return e.err }

func atStage(stage string, err error) error {
	if err == nil {
		return nil
	}
	return &stageError{stage: stage, err: err}
}

// TrainAndEvaluate trains every configured model on the dataset and collects their metrics
func (s *Service) TrainAndEvaluate(ctx context.Context, features [][]float64, targets []float64) (*models.ResultsBundle, error) {
	return s.evaluate(ctx, s.config, features, targets)
}

func (s *Service) evaluate(ctx context.Context, cfg models.PipelineConfig, features [][]float64, targets []float64) (*models.ResultsBundle, error) {
	if len(features) == 0 || len(targets) == 0 {
		return nil, fmt.Errorf("%w: no rows", ErrEmptyDataset)
	}
	if len(features) != len(targets) {
		return nil, fmt.Errorf("%w: %d feature rows but %d targets", ErrEmptyDataset, len(features), len(targets))
	}

	factory := s.trainers
	if factory == nil {
		var names []string
		if len(features[0]) == len(models.FeatureColumns) {
			names = models.FeatureColumns
		}
		factory = training.NewTrainerFactory(names)
	}

	bundle := &models.ResultsBundle{
		RunID:        uuid.New().String(),
		RandomForest: make([]models.ModelResult, 0, len(cfg.RandomForest)),
		StartedAt:    time.Now().UTC(),
	}
	log := s.logger.WithField("run_id", bundle.RunID)
	log.WithFields(logrus.Fields{"rows": len(targets), "forests": len(cfg.RandomForest)}).Info("Starting model evaluation")

	for i, rf := range cfg.RandomForest {
		modelLog := log.WithFields(logrus.Fields{"model": models.ModelTypeRandomForest, "config": i + 1})
		modelLog.WithFields(logrus.Fields{"trees": rf.NEstimators, "max_depth": rf.MaxDepth}).Info("Training random forest")

		result, err := s.evaluateForest(ctx, factory, rf, cfg.CrossValidationFolds, features, targets)
		if err != nil {
			if err := s.recordFailure(ctx, bundle, modelLog, models.ModelTypeRandomForest, i+1, err); err != nil {
				return nil, err
			}
			continue
		}
		modelLog.WithFields(logrus.Fields{"rmse": result.RMSE, "r2": float64(result.R2Score)}).Info("Random forest evaluated")
		bundle.RandomForest = append(bundle.RandomForest, *result)
	}

	singles := []struct {
		model  models.ModelType
		params models.Hyperparameters
		target **models.ModelResult
	}{
		{models.ModelTypeELM, models.Hyperparameters{ELM: &cfg.ELM}, &bundle.ELM},
		{models.ModelTypeLSTM, models.Hyperparameters{LSTM: &cfg.LSTM}, &bundle.LSTM},
		{models.ModelTypeXGBoost, models.Hyperparameters{XGBoost: &cfg.XGBoost}, &bundle.XGBoost},
		{models.ModelTypeSVR, models.Hyperparameters{SVR: &cfg.SVR}, &bundle.SVR},
	}
	for _, step := range singles {
		modelLog := log.WithField("model", step.model)
		modelLog.Info("Training model")

		result, err := s.evaluateOnce(ctx, factory, step.model, step.params, modelLog, features, targets)
		if err != nil {
			if err := s.recordFailure(ctx, bundle, modelLog, step.model, 0, err); err != nil {
				return nil, err
			}
			continue
		}
		modelLog.WithFields(logrus.Fields{
			"rmse":     result.RMSE,
			"r2":       float64(result.R2Score),
			"train_ms": result.ComputationTime,
		}).Info("Model evaluated")
		*step.target = result
	}

	bundle.CompletedAt = time.Now().UTC()
	log.WithFields(logrus.Fields{
		"failures": len(bundle.Failures),
		"duration": bundle.CompletedAt.Sub(bundle.StartedAt),
	}).Info("Model evaluation completed")
	return bundle, nil
}

// recordFailure isolates an adapter error into the bundle. It returns an error only
// when the run must abort: on cancellation, or in fail-fast mode.
func (s *Service) recordFailure(ctx context.Context, bundle *models.ResultsBundle, log logrus.FieldLogger, model models.ModelType, config int, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	stage := StageTrain
	var se *stageError
	if errors.As(err, &se) {
		stage = se.stage
		err = se.err
	}
	if s.failFast {
		return fmt.Errorf("%s %s failed: %w", model, stage, err)
	}

	log.WithError(err).WithField("stage", stage).Warn("Model evaluation failed")
	bundle.Failures = append(bundle.Failures, models.AdapterFailure{
		Model:   model,
		Stage:   stage,
		Config:  config,
		Message: fmt.Sprintf("%v (%s)", err, failureHint),
	})
	return nil
}

// evaluateForest cross-validates one forest configuration, then refits on every row
// to produce the full-data predictions.
func (s *Service) evaluateForest(ctx context.Context, factory TrainerSource, cfg models.RandomForestConfig, folds int, X [][]float64, y []float64) (*models.ModelResult, error) {
	trainer, err := factory.GetTrainer(models.ModelTypeRandomForest, models.Hyperparameters{RandomForest: &cfg})
	if err != nil {
		return nil, atStage(StageConfigure, err)
	}
	defer trainer.Dispose()

	foldMetrics, err := training.CrossValidate(ctx, trainer, X, y, folds)
	if err != nil {
		return nil, atStage(StageCrossValidate, err)
	}
	if err := trainer.Train(ctx, X, y); err != nil {
		return nil, atStage(StageTrain, err)
	}
	predicted, err := trainer.Predict(ctx, X)
	if err != nil {
		return nil, atStage(StagePredict, err)
	}

	agg := training.AggregateFolds(foldMetrics)
	if err := checkFinite(predicted, agg); err != nil {
		return nil, atStage(StagePredict, err)
	}

	result := &models.ModelResult{
		MetricSet: agg,
		Model:     models.ModelTypeRandomForest,
		Predicted: predicted,
		Errors:    training.Residuals(predicted, y),
		Trees:     cfg.NEstimators,
		MaxDepth:  cfg.MaxDepth,
		Folds:     foldMetrics,
	}
	if fi, ok := trainer.(training.FeatureImportancer); ok {
		result.FeatureImportance = fi.FeatureImportance()
	}
	return result, nil
}

// evaluateOnce trains on the full dataset and scores the fit on the same rows
func (s *Service) evaluateOnce(ctx context.Context, factory TrainerSource, model models.ModelType, params models.Hyperparameters, log logrus.FieldLogger, X [][]float64, y []float64) (*models.ModelResult, error) {
	trainer, err := factory.GetTrainer(model, params)
	if err != nil {
		return nil, atStage(StageConfigure, err)
	}
	defer trainer.Dispose()
	if lstm, ok := trainer.(*training.LSTMTrainer); ok {
		lstm.SetLogger(log)
	}

	start := time.Now()
	if err := trainer.Train(ctx, X, y); err != nil {
		return nil, atStage(StageTrain, err)
	}
	elapsed := time.Since(start)

	predicted, err := trainer.Predict(ctx, X)
	if err != nil {
		return nil, atStage(StagePredict, err)
	}
	metrics, err := training.ComputeMetrics(predicted, y)
	if err != nil {
		return nil, atStage(StagePredict, err)
	}
	if err := checkFinite(predicted, metrics); err != nil {
		return nil, atStage(StagePredict, err)
	}
	metrics.ComputationTime = float64(elapsed.Microseconds()) / 1000

	result := &models.ModelResult{
		MetricSet: metrics,
		Model:     model,
		Predicted: predicted,
		Errors:    training.Residuals(predicted, y),
	}
	describe(result, trainer)
	return result, nil
}

// checkFinite rejects results that cannot be reported. R² is exempt since it is
// undefined for a constant target and encodes as null.
func checkFinite(predicted []float64, m models.MetricSet) error {
	for i, v := range predicted {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: prediction %d is %v", ErrNonFiniteOutput, i+1, v)
		}
	}
	for name, v := range map[string]float64{"rmse": m.RMSE, "mae": m.MAE, "maxError": m.MaxError, "stdDev": m.StdDev} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s is %v", ErrNonFiniteOutput, name, v)
		}
	}
	return nil
}

// describe copies model-specific metadata from a trained adapter
func describe(result *models.ModelResult, trainer training.Trainer) {
	switch t := trainer.(type) {
	case *training.ELMTrainer:
		cfg := t.Config()
		result.HiddenNodes = cfg.HiddenNodes
		result.Activation = cfg.Activation
	case *training.LSTMTrainer:
		result.Units = t.Config().Units
	case *training.XGBoostTrainer:
		cfg := t.Config()
		result.Trees = cfg.NEstimators
		result.MaxDepth = cfg.MaxDepth
		result.FeatureImportance = t.FeatureImportance()
	case *training.SVRTrainer:
		result.Kernel = t.Config().Kernel
		result.SupportVectors = len(t.SupportVectors())
	}
}

// EvaluateRuns repeats the evaluation Runs times with per-run seeds and summarizes RMSE
func (s *Service) EvaluateRuns(ctx context.Context, ds *models.Dataset) ([]*models.ResultsBundle, *models.RunSummary, error) {
	if ds == nil || ds.Len() == 0 {
		return nil, nil, fmt.Errorf("%w: no rows", ErrEmptyDataset)
	}

	bundles := make([]*models.ResultsBundle, 0, s.config.Runs)
	for run := 0; run < s.config.Runs; run++ {
		s.logger.WithFields(logrus.Fields{"run": run + 1, "runs": s.config.Runs}).Info("Starting evaluation run")
		bundle, err := s.evaluate(ctx, seeded(s.config, int64(run)), ds.Features, ds.Targets)
		if err != nil {
			return nil, nil, fmt.Errorf("run %d: %w", run+1, err)
		}
		bundles = append(bundles, bundle)
	}
	return bundles, Summarize(bundles), nil
}

// seeded offsets every stochastic model's seed by run
func seeded(cfg models.PipelineConfig, run int64) models.PipelineConfig {
	if run == 0 {
		return cfg
	}
	forests := make([]models.RandomForestConfig, len(cfg.RandomForest))
	for i, rf := range cfg.RandomForest {
		rf.Seed += run * 1000
		forests[i] = rf
	}
	cfg.RandomForest = forests
	cfg.ELM.Seed += run
	cfg.LSTM.Seed += run
	return cfg
}
