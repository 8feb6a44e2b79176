package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mimir-aip/battery-soh/pkg/api"
	"github.com/mimir-aip/battery-soh/pkg/config"
	"github.com/mimir-aip/battery-soh/pkg/logging"
	"github.com/mimir-aip/battery-soh/pkg/mlmodel"
	"github.com/mimir-aip/battery-soh/pkg/pipeline"
	"github.com/mimir-aip/battery-soh/pkg/queue"
	"github.com/mimir-aip/battery-soh/pkg/scheduler"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	log := logging.Component(logger, "orchestrator")
	log.WithField("environment", cfg.Environment).Info("Starting battery health orchestrator")

	pipelineCfg, err := config.LoadPipelineConfig(cfg.PipelineConfig)
	if err != nil {
		log.WithError(err).Fatal("Failed to load pipeline config")
	}

	// Initialize in-memory evaluation queue
	q := queue.NewQueue()

	evaluator, err := pipeline.NewService(pipelineCfg, pipeline.WithLogger(logging.Component(logger, "pipeline")))
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize pipeline service")
	}

	trainer := mlmodel.NewService(
		mlmodel.WithTrainTimeout(cfg.TrainTimeout),
		mlmodel.WithPredictTimeout(cfg.PredictTimeout),
		mlmodel.WithLogger(logging.Component(logger, "worker")),
	)
	defer trainer.Close()

	schedulerService := scheduler.NewService(q, logging.Component(logger, "scheduler"))
	if cfg.Schedule != "" {
		if _, err := schedulerService.Schedule(cfg.Schedule, cfg.ScheduleDataset); err != nil {
			log.WithError(err).Fatal("Failed to register configured schedule")
		}
	}
	schedulerService.Start()
	defer schedulerService.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := pipeline.NewRunner(q, evaluator, cfg.QueuePollInterval, cfg.EvaluationTimeout, logging.Component(logger, "runner"))
	runnerDone := make(chan struct{})
	go func() {
		runner.Run(ctx)
		close(runnerDone)
	}()

	server := api.NewServer(q, trainer, schedulerService, cfg.Port, logging.Component(logger, "api"))
	go func() {
		if err := server.Start(); err != nil {
			log.WithError(err).Fatal("Failed to start API server")
		}
	}()

	log.Info("Orchestrator started successfully")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down orchestrator...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("API server shutdown failed")
	}
	cancel()
	<-runnerDone
}
