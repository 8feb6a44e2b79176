package mlmodel

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mimir-aip/battery-soh/pkg/dataset"
	"github.com/mimir-aip/battery-soh/pkg/mlmodel/training"
	"github.com/mimir-aip/battery-soh/pkg/models"
)

const (
	DefaultTrainTimeout   = 30 * time.Second
	DefaultPredictTimeout = 10 * time.Second
)

var (
	ErrAlreadyTraining       = errors.New("training already in progress")
	ErrTrainingTimeout       = errors.New("training timed out")
	ErrPredictionTimeout     = errors.New("prediction timed out")
	ErrModelNotTrained       = errors.New("model not trained")
	ErrInvalidPredictionData = errors.New("invalid prediction data")
	ErrServiceClosed         = errors.New("training service closed")
)

// WorkerError is a failure reported by the worker goroutine
type WorkerError struct {
	Message string
}

func (e *WorkerError) Error() string { return e.Message }

// MessageKind identifies a request or reply exchanged with the worker
type MessageKind string

const (
	MessageTrain       MessageKind = "train"
	MessagePredict     MessageKind = "predict"
	MessageTrained     MessageKind = "trained"
	MessagePredictions MessageKind = "predictions"
	MessageError       MessageKind = "error"
)

// WorkerRequest is a message sent to the worker
type WorkerRequest struct {
	Kind     MessageKind
	Features [][]float64
	Labels   []float64
}

// WorkerResponse is the worker's reply to one request
type WorkerResponse struct {
	Kind    MessageKind
	Metrics *models.ModelMetrics
	Values  []float64
	Message string
}

// WorkerHandler processes one request on the worker goroutine.
// Returning nil sends no reply, leaving the caller to time out.
type WorkerHandler func(ctx context.Context, req *WorkerRequest) *WorkerResponse

type envelope struct {
	ctx   context.Context
	req   *WorkerRequest
	reply chan *WorkerResponse
}

// Service is the interactive training service. A single worker goroutine owns
// the random forest; callers talk to it through request/reply messages.
type Service struct {
	requests chan envelope
	done     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once

	handler        WorkerHandler
	forest         models.RandomForestConfig
	trainTimeout   time.Duration
	predictTimeout time.Duration
	logger         logrus.FieldLogger

	mu         sync.Mutex
	isTraining bool
	metrics    *models.ModelMetrics
}

// Option configures a Service
type Option func(*Service)

// WithTrainTimeout bounds how long Train waits for the worker
func WithTrainTimeout(d time.Duration) Option {
	return func(s *Service) { s.trainTimeout = d }
}

// WithPredictTimeout bounds how long Predict waits for the worker
func WithPredictTimeout(d time.Duration) Option {
	return func(s *Service) { s.predictTimeout = d }
}

// WithForestConfig overrides the worker forest hyperparameters
func WithForestConfig(cfg models.RandomForestConfig) Option {
	return func(s *Service) { s.forest = cfg }
}

// WithWorkerHandler replaces the worker's message handler
func WithWorkerHandler(h WorkerHandler) Option {
	return func(s *Service) { s.handler = h }
}

// WithLogger sets the logger
func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Service) { s.logger = logger }
}

// DefaultForestConfig is the worker forest: 100 trees of depth 10 on sqrt(n) features
func DefaultForestConfig() models.RandomForestConfig {
	return models.RandomForestConfig{
		NEstimators:     100,
		MaxDepth:        10,
		MinSamplesSplit: 2,
		MaxFeatures:     "sqrt",
	}.WithDefaults()
}

// NewService creates the training service and starts its worker goroutine
func NewService(opts ...Option) *Service {
	s := &Service{
		requests:       make(chan envelope),
		done:           make(chan struct{}),
		forest:         DefaultForestConfig(),
		trainTimeout:   DefaultTrainTimeout,
		predictTimeout: DefaultPredictTimeout,
		logger:         logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.handler == nil {
		s.handler = newForestWorker(s.forest, s.logger).handle
	}

	s.wg.Add(1)
	go s.run()
	return s
}

func (s *Service) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case env := <-s.requests:
			if resp := s.handler(env.ctx, env.req); resp != nil {
				env.reply <- resp
			}
		}
	}
}

// send delivers a request and waits for its reply or for ctx to end
func (s *Service) send(ctx context.Context, req *WorkerRequest) (*WorkerResponse, error) {
	env := envelope{ctx: ctx, req: req, reply: make(chan *WorkerResponse, 1)}
	select {
	case s.requests <- env:
	case <-s.done:
		return nil, ErrServiceClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case resp := <-env.reply:
		return resp, nil
	case <-s.done:
		return nil, ErrServiceClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Train fits the worker forest. Only one training request may be in flight.
func (s *Service) Train(ctx context.Context, features [][]float64, labels []float64) (*models.ModelMetrics, error) {
	s.mu.Lock()
	if s.isTraining {
		s.mu.Unlock()
		return nil, ErrAlreadyTraining
	}
	s.isTraining = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.isTraining = false
		s.mu.Unlock()
	}()

	reqCtx, cancel := context.WithTimeout(ctx, s.trainTimeout)
	defer cancel()

	start := time.Now()
	resp, err := s.send(reqCtx, &WorkerRequest{Kind: MessageTrain, Features: features, Labels: labels})
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			s.logger.WithField("timeout", s.trainTimeout).Warn("Worker training timed out")
			return nil, ErrTrainingTimeout
		}
		return nil, err
	}

	switch resp.Kind {
	case MessageTrained:
		s.mu.Lock()
		s.metrics = resp.Metrics
		s.mu.Unlock()
		s.logger.WithFields(logrus.Fields{
			"rows":     len(labels),
			"accuracy": resp.Metrics.Accuracy,
			"duration": time.Since(start),
		}).Info("Worker model trained")
		return resp.Metrics, nil
	case MessageError:
		return nil, &WorkerError{Message: resp.Message}
	default:
		return nil, &WorkerError{Message: fmt.Sprintf("unexpected worker reply: %s", resp.Kind)}
	}
}

// LoadAndTrain validates CSV text and trains the worker on it
func (s *Service) LoadAndTrain(ctx context.Context, csvText string) (*models.ModelMetrics, error) {
	ds, err := dataset.ParseAndValidate(csvText)
	if err != nil {
		return nil, err
	}
	return s.Train(ctx, ds.Features, ds.Targets)
}

// Predict scores feature rows with the trained forest and derives battery indicators
func (s *Service) Predict(ctx context.Context, features [][]float64) ([]models.HealthPrediction, error) {
	metrics := s.Metrics()
	if metrics == nil {
		return nil, ErrModelNotTrained
	}
	if len(features) == 0 {
		return nil, ErrInvalidPredictionData
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.predictTimeout)
	defer cancel()

	resp, err := s.send(reqCtx, &WorkerRequest{Kind: MessagePredict, Features: features})
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrPredictionTimeout
		}
		return nil, err
	}

	switch resp.Kind {
	case MessagePredictions:
		out := make([]models.HealthPrediction, len(resp.Values))
		for i, h := range resp.Values {
			out[i] = enrich(h, metrics.Accuracy)
		}
		return out, nil
	case MessageError:
		return nil, &WorkerError{Message: resp.Message}
	default:
		return nil, &WorkerError{Message: fmt.Sprintf("unexpected worker reply: %s", resp.Kind)}
	}
}

func enrich(health, accuracy float64) models.HealthPrediction {
	return models.HealthPrediction{
		Health:          health,
		RemainingLife:   math.Max(0, health/100*1000),
		DegradationRate: (100 - health) / 100,
		ConfidenceScore: accuracy * math.Min(1, health/100),
	}
}

// Metrics returns the metrics of the last successful training, or nil
func (s *Service) Metrics() *models.ModelMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.metrics == nil {
		return nil
	}
	m := *s.metrics
	return &m
}

// IsTraining reports whether a train request is in flight
func (s *Service) IsTraining() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isTraining
}

// Close stops the worker goroutine
func (s *Service) Close() {
	s.once.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
}

// forestWorker is the state owned by the worker goroutine
type forestWorker struct {
	config  models.RandomForestConfig
	logger  logrus.FieldLogger
	trainer *training.RandomForestTrainer
}

func newForestWorker(cfg models.RandomForestConfig, logger logrus.FieldLogger) *forestWorker {
	return &forestWorker{config: cfg, logger: logger}
}

func (w *forestWorker) handle(ctx context.Context, req *WorkerRequest) *WorkerResponse {
	switch req.Kind {
	case MessageTrain:
		metrics, err := w.train(ctx, req.Features, req.Labels)
		if err != nil {
			return &WorkerResponse{Kind: MessageError, Message: "Training failed: " + err.Error()}
		}
		return &WorkerResponse{Kind: MessageTrained, Metrics: metrics}
	case MessagePredict:
		if w.trainer == nil {
			return &WorkerResponse{Kind: MessageError, Message: ErrModelNotTrained.Error()}
		}
		values, err := w.trainer.Predict(ctx, req.Features)
		if err != nil {
			return &WorkerResponse{Kind: MessageError, Message: err.Error()}
		}
		return &WorkerResponse{Kind: MessagePredictions, Values: values}
	default:
		return &WorkerResponse{Kind: MessageError, Message: fmt.Sprintf("unknown message type: %s", req.Kind)}
	}
}

// train replaces the current forest only when the new one fits successfully
func (w *forestWorker) train(ctx context.Context, features [][]float64, labels []float64) (*models.ModelMetrics, error) {
	cfg := w.config
	trainer := training.NewRandomForestTrainer(models.FeatureColumns)
	if err := trainer.Configure(models.Hyperparameters{RandomForest: &cfg}); err != nil {
		return nil, err
	}
	if err := trainer.Train(ctx, features, labels); err != nil {
		return nil, err
	}
	fitted, err := trainer.Predict(ctx, features)
	if err != nil {
		return nil, err
	}
	accuracy, err := training.Accuracy(fitted, labels)
	if err != nil {
		return nil, err
	}

	if w.trainer != nil {
		w.trainer.Dispose()
	}
	w.trainer = trainer
	return &models.ModelMetrics{
		Accuracy: accuracy,
		Features: len(features[0]),
		Trees:    cfg.NEstimators,
		MaxDepth: cfg.MaxDepth,
	}, nil
}
