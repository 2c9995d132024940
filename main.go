package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/Arghost/urban-crime-analytics/config"
	"github.com/Arghost/urban-crime-analytics/internal/pipeline"
	"github.com/Arghost/urban-crime-analytics/internal/window"
	"github.com/Arghost/urban-crime-analytics/logger"
	"github.com/Arghost/urban-crime-analytics/processor"
	"github.com/Arghost/urban-crime-analytics/reader"
	"github.com/Arghost/urban-crime-analytics/writer"
)

func main() {
	os.Exit(run())
}

func run() int {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	runDateFlag := flag.String("run-date", "", "Run date in YYYY-MM-DD format (defaults to today)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [YYYY-MM-DD]\n\nIngest last month's crime records into S3 as raw CSV.\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	runDate, err := resolveRunDate(*runDateFlag, flag.Args(), time.Now())
	if err != nil {
		log.WithError(err).Error("invalid arguments")
		flag.Usage()
		return 2
	}

	configPath := config.ResolvePath()
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{"config_path": configPath}).Error("Failed to load configuration")
		return 1
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		return 1
	}

	log.WithFields(logger.Fields{
		"service":     cfg.Ingest.Name,
		"version":     cfg.Ingest.Version,
		"environment": config.AppEnvironment(),
		"run_date":    runDate.Format(window.RunDateLayout),
	}).Info("starting ingestion")

	ctx := context.Background()

	if cfg.Metrics.CloudWatch {
		logger.InitCloudWatch(ctx, cfg.Storage.S3.Region, cfg.Metrics.Namespace)
	}

	s3Writer, err := writer.NewS3Writer(ctx, cfg)
	if err != nil {
		log.WithComponent("main").WithError(err).Error("failed to create S3 writer")
		return 1
	}

	p := pipeline.New(cfg, reader.NewSocrataReader(cfg), processor.NewCSVEncoder(), s3Writer)
	res, err := p.Run(ctx, runDate)

	logger.LogRunReport(ctx, log, logger.Fields{
		"run_id":   res.RunID,
		"key":      res.Key,
		"uploaded": res.Uploaded,
		"duration": res.Duration.String(),
	})

	switch {
	case err == nil:
		log.WithFields(logger.Fields{"uri": s3Writer.URI(res.Key)}).Info("ingestion finished")
	case errors.Is(err, processor.ErrNoRecords):
		log.WithFields(logger.Fields{"window": res.Window.String()}).Info("No records for this month window; exiting.")
	default:
		log.WithComponent("main").WithError(err).Error("ingestion failed")
	}
	return exitCode(err)
}

// exitCode maps a run outcome to the process status. An empty window is a
// clean exit.
func exitCode(err error) int {
	if err == nil || errors.Is(err, processor.ErrNoRecords) {
		return 0
	}
	return 1
}

// resolveRunDate accepts the date either as -run-date or as the single
// positional argument.
func resolveRunDate(flagValue string, args []string, now time.Time) (time.Time, error) {
	if len(args) > 1 {
		return time.Time{}, fmt.Errorf("expected at most one argument, got %d", len(args))
	}
	value := flagValue
	if len(args) == 1 {
		if value != "" && value != args[0] {
			return time.Time{}, fmt.Errorf("run date given twice: %q and %q", value, args[0])
		}
		value = args[0]
	}
	return window.ParseRunDate(value, now)
}
