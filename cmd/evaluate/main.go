package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/mimir-aip/battery-soh/pkg/config"
	"github.com/mimir-aip/battery-soh/pkg/dataset"
	"github.com/mimir-aip/battery-soh/pkg/logging"
	"github.com/mimir-aip/battery-soh/pkg/models"
	"github.com/mimir-aip/battery-soh/pkg/pipeline"
	"github.com/mimir-aip/battery-soh/pkg/report"
)

// evaluation is the JSON document written by --output
type evaluation struct {
	Config  models.PipelineConfig   `json:"config"`
	Runs    []*models.ResultsBundle `json:"runs"`
	Summary *models.RunSummary      `json:"summary"`
}

func main() {
	// Parse command-line flags
	dataFlag := flag.String("data", dataset.DefaultOutputFile, "CSV dataset to evaluate")
	configFlag := flag.String("config", "", "YAML or JSON pipeline configuration (defaults when empty)")
	runsFlag := flag.Int("runs", 0, "Number of evaluation runs (overrides the config)")
	foldsFlag := flag.Int("folds", 0, "Cross-validation folds (overrides the config)")
	outputFlag := flag.String("output", "", "Write the results JSON to this file instead of stdout")
	failFastFlag := flag.Bool("fail-fast", false, "Abort on the first model failure")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	// stdout carries the results document
	logger.SetOutput(os.Stderr)

	if err := run(logger, *dataFlag, *configFlag, *runsFlag, *foldsFlag, *outputFlag, *failFastFlag); err != nil {
		logger.WithError(err).Error("Evaluation failed")
		os.Exit(1)
	}
}

func run(logger *logrus.Logger, dataPath, configPath string, runs, folds int, outputPath string, failFast bool) error {
	pipelineCfg, err := config.LoadPipelineConfig(configPath)
	if err != nil {
		return err
	}
	if runs > 0 {
		pipelineCfg.Runs = runs
	}
	if folds > 0 {
		pipelineCfg.CrossValidationFolds = folds
	}

	ds, err := dataset.LoadFile(dataPath)
	if err != nil {
		var verr *dataset.ValidationError
		if errors.As(err, &verr) {
			for _, msg := range verr.Messages {
				logger.WithField("dataset", dataPath).Warn(msg)
			}
		}
		return err
	}
	logger.WithFields(logrus.Fields{"dataset": dataPath, "rows": ds.Len()}).Info("Loaded dataset")

	svc, err := pipeline.NewService(pipelineCfg,
		pipeline.WithLogger(logging.Component(logger, "pipeline")),
		pipeline.WithFailFast(failFast),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bundles, summary, err := svc.EvaluateRuns(ctx, ds)
	if err != nil {
		return err
	}

	for i, bundle := range bundles {
		fmt.Fprintf(os.Stderr, "Run %d (%s)\n%s\n", i+1, bundle.RunID, report.Results(bundle))
	}
	fmt.Fprintln(os.Stderr, report.Summary(summary))

	doc, err := json.MarshalIndent(evaluation{Config: svc.Config(), Runs: bundles, Summary: summary}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	if outputPath == "" {
		_, err = os.Stdout.Write(append(doc, '\n'))
		return err
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(outputPath, doc, 0644); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}
	logger.WithField("output", outputPath).Info("Results written")
	return nil
}
