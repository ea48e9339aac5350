package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bollette/internal/amqp"
	"bollette/internal/cli"
	"bollette/internal/log"
	"bollette/internal/observability/metrics"
	"bollette/internal/services"
	gsheet "bollette/internal/sheets/google"
	"bollette/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentWorker)
	cfg := cli.LoadAndValidateWorkerConfig(logger)

	logger.Info("Starting bollette-worker")
	metrics.Init()

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath, cfg.Location())
	defer repo.Close()

	mirror, err := gsheet.New(context.Background(), gsheet.Options{
		SpreadsheetID: cfg.GoogleSpreadsheetID,
		SheetName:     cfg.GoogleSheetName,
		ClientJSON:    cfg.GoogleOAuthClientJSON,
		ClientFile:    cfg.GoogleOAuthClientFile,
		TokenJSON:     cfg.GoogleOAuthTokenJSON,
		TokenFile:     cfg.GoogleOAuthTokenFile,
	})
	if err != nil {
		logger.Error("Failed to initialize Google Sheets client", "error", err)
		os.Exit(1)
	}
	logger.Info("Google Sheets client initialized",
		"spreadsheet_id", cfg.GoogleSpreadsheetID,
		"sheet", cfg.GoogleSheetName)

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	syncWorker := worker.NewSyncWorker(repo, mirror)
	processor := services.NewSyncProcessor(syncWorker, services.SyncProcessorConfig{
		PollInterval:      cfg.SyncInterval,
		BatchSize:         cfg.SyncBatchSize,
		StartupMultiplier: services.DefaultSyncProcessorConfig().StartupMultiplier,
	})

	var metricsSrv *http.Server
	if cfg.WorkerMetricsPort != "" {
		r := chi.NewRouter()
		r.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{
			Addr:              ":" + cfg.WorkerMetricsPort,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server error", "error", err, "port", cfg.WorkerMetricsPort)
			}
		}()
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := processor.Stop(ctx); err != nil {
			logger.LogError(ctx, "Sync processor stop error", err, log.OpShutdown)
		}
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(ctx)
		}
	})

	if err := processor.Start(ctx); err != nil {
		logger.Error("Failed to start sync processor", "error", err)
		os.Exit(1)
	}

	go func() {
		if err := amqpClient.Consume(ctx, syncWorker); err != nil && !errors.Is(err, context.Canceled) {
			logger.LogError(ctx, "Message consumption failed", err, log.OpSync)
		}
	}()

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker shutdown complete")
}
