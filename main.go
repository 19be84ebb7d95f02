package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"vnflow/config"
	"vnflow/logger"
	"vnflow/models"
	"vnflow/pipeline"
	"vnflow/reader/vnstock"
	"vnflow/schema"
	"vnflow/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	startDate := flag.String("start", "", "Start of the trading date window (YYYY-MM-DD)")
	endDate := flag.String("end", "", "End of the trading date window (YYYY-MM-DD)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Vnflow.Name,
		"version": cfg.Vnflow.Version,
	}).Info("starting vnflow")

	start, end, err := dateWindow(*startDate, *endDate)
	if err != nil {
		log.WithError(err).Error("Invalid date window")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Logging.CloudWatchEnabled {
		logger.InitCloudWatch(cfg.Storage.S3.Region, cfg.Logging.CloudWatchNamespace)
		logger.StartReport(ctx, log, 30*time.Second)
	}

	registry, err := schema.LoadDir(cfg.Schema.Dir)
	if err != nil {
		log.WithError(err).Error("Failed to load schema registry")
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.WithFields(logger.Fields{"signal": sig.String()}).Warn("shutdown signal received")
		cancel()
	}()

	client := vnstock.NewClient(cfg.Source.Vnstock)
	symbols, err := client.FetchSymbols(ctx)
	if err != nil {
		log.WithError(err).Error("Failed to fetch symbol listing")
		os.Exit(1)
	}

	raw, err := client.FetchHistory(ctx, symbols, start, end)
	if err != nil {
		log.WithError(err).Error("Failed to fetch price history")
		os.Exit(1)
	}

	runner := pipeline.NewRunner(cfg, registry)
	result, err := runner.Run(ctx, raw)
	if err != nil {
		var stageErr *pipeline.StageError
		if errors.As(err, &stageErr) {
			log.WithError(err).WithFields(logger.Fields{
				"run_id": result.RunID,
				"stage":  stageErr.Stage,
				"table":  stageErr.Table,
			}).Error("pipeline run failed")
		} else {
			log.WithError(err).Error("pipeline run failed")
		}
		logger.LogFinalReport(ctx, log)
		os.Exit(1)
	}

	if cfg.Storage.S3.Enabled {
		s3Writer, err := writer.NewS3Writer(cfg)
		if err != nil {
			log.WithError(err).Error("Failed to initialize S3 writer")
			os.Exit(1)
		}
		keys, err := s3Writer.PersistRun(ctx, raw, result.Silver, result.Gold, end)
		if err != nil {
			log.WithError(err).WithFields(logger.Fields{"written": len(keys)}).Error("Failed to persist run")
			os.Exit(1)
		}
	}

	logRunSummary(log, result)
	logger.LogFinalReport(ctx, log)
}

// dateWindow defaults to yesterday's single trading day when no flags are
// given; the daily scheduler runs it that way.
func dateWindow(startStr, endStr string) (time.Time, time.Time, error) {
	yesterday := time.Now().UTC().AddDate(0, 0, -1).Truncate(24 * time.Hour)
	start, end := yesterday, yesterday

	var err error
	if startStr != "" {
		if start, err = time.Parse("2006-01-02", startStr); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	if endStr != "" {
		if end, err = time.Parse("2006-01-02", endStr); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, errors.New("end date precedes start date")
	}
	return start, end, nil
}

func logRunSummary(log *logger.Log, result *pipeline.Result) {
	rejectedByReason := map[models.RejectReason]int{}
	for reason, n := range result.CleanerStats.ByReason {
		rejectedByReason[reason] = n
	}
	log.WithComponent("main").WithFields(logger.Fields{
		"run_id":     result.RunID,
		"safe":       result.Safe,
		"silver":     len(result.Silver),
		"rejected":   rejectedByReason,
		"daily":      len(result.Gold.Daily),
		"monthly":    len(result.Gold.Monthly),
		"yearly":     len(result.Gold.Yearly),
		"dim_date":   len(result.Gold.DimDate),
		"dim_symbol": len(result.Gold.DimSymbol),
		"duration":   result.Finished.Sub(result.Started).String(),
	}).Info("run complete")
}
