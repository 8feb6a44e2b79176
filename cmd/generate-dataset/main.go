package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mimir-aip/battery-soh/pkg/dataset"
	"github.com/mimir-aip/battery-soh/pkg/logging"
)

func main() {
	logger := logging.New(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	os.Exit(run(os.Args[1:], os.Stdout, logger))
}

// run generates a dataset from command-line arguments and returns the exit status
func run(args []string, stdout io.Writer, logger *logrus.Logger) int {
	fs := flag.NewFlagSet("generate-dataset", flag.ContinueOnError)
	fs.SetOutput(stdout)
	count := fs.Int("count", 100, "Number of rows to generate")
	output := fs.String("output", dataset.DefaultOutputFile, "Output CSV file")
	comments := fs.Bool("comments", false, "Add a notes column describing each row's battery condition")
	seed := fs.Int64("seed", 0, "Random seed (defaults to the current time)")
	fs.Usage = func() {
		fmt.Fprintln(stdout, "Usage: generate-dataset [--count N] [--output path] [--comments] [--seed N]")
		fmt.Fprintln(stdout, "Generates a synthetic battery health CSV dataset.")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}
	if fs.NArg() > 0 {
		logger.Errorf("Unexpected argument: %s", fs.Arg(0))
		return 1
	}
	if *count <= 0 {
		logger.Errorf("--count must be greater than 0, got %d", *count)
		return 1
	}
	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}

	if err := dataset.NewGenerator(*seed).WriteFile(*output, *count, *comments); err != nil {
		logger.WithError(err).Error("Failed to generate dataset")
		return 1
	}

	logger.WithFields(logrus.Fields{
		"rows":     *count,
		"output":   *output,
		"comments": *comments,
	}).Info("Dataset generated")
	return 0
}
