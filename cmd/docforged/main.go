package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/docforge/docforge/constants"
	"github.com/docforge/docforge/internal/artifacts"
	"github.com/docforge/docforge/internal/common"
	"github.com/docforge/docforge/internal/dispatch"
	"github.com/docforge/docforge/internal/engine"
	"github.com/docforge/docforge/internal/export"
	"github.com/docforge/docforge/internal/jobs"
	"github.com/docforge/docforge/internal/llm"
	"github.com/docforge/docforge/internal/server"
	"github.com/docforge/docforge/internal/sweeper"
	"github.com/docforge/docforge/internal/worker"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open job store", "driver", cfg.Database.Driver, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("store close failed", "error", err)
		}
	}()

	if err := store.Ping(ctx); err != nil {
		logger.Error("failed to ping job store", "error", err)
		os.Exit(1)
	}

	ops := jobs.NewOperations(store, logger, cfg.Worker.MaxRetries)

	transport := newTransport(cfg, logger)
	dispatcher := dispatch.NewDispatcher(transport, ops, logger)

	artifactStore := artifacts.NewFSStore(cfg.Engine.ArtifactDir, logger)
	registry := buildRegistry(cfg, logger)

	backoff := worker.Backoff{Base: cfg.Worker.BackoffBase, Max: cfg.Worker.BackoffMax}
	executor := worker.NewExecutor(ops, registry, dispatcher, artifactStore, backoff, logger)
	transport.Start(ctx, executor.Execute)

	sw := sweeper.New(ops, artifactStore, sweeper.WindowsFromConfig(cfg.Retention), cfg.Retention.BatchSize, logger)
	if err := sw.Schedule(cfg.Retention.Schedule); err != nil {
		logger.Error("failed to schedule retention sweep", "spec", cfg.Retention.Schedule, "error", err)
		os.Exit(1)
	}

	exporter := export.NewService(ops, logger)
	handler := server.NewHandler(ops, dispatcher, exporter, store)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	srv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           server.RequestIDMiddleware(server.LoggingMiddleware(logger, mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("docforged listening", "addr", cfg.Server.HTTPAddr, "driver", cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown failed", "error", err)
		}
		sw.Stop()
		transport.Shutdown(shutdownCtx)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func openStore(ctx context.Context, cfg *common.Config, logger *slog.Logger) (jobs.Store, error) {
	switch cfg.Database.Driver {
	case "sqlite":
		return jobs.NewSQLiteStore(cfg.Database.DSN, cfg.Database.LockTimeout, logger)
	default:
		return jobs.NewPostgresStore(ctx, jobs.PostgresConfig{
			DSN:             cfg.Database.DSN,
			MaxConns:        cfg.Database.MaxConns,
			MinConns:        cfg.Database.MinConns,
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
			MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
			DialTimeout:     cfg.Database.DialTimeout,
			LockTimeout:     cfg.Database.LockTimeout,
		}, logger)
	}
}

func newTransport(cfg *common.Config, logger *slog.Logger) dispatch.Transport {
	if cfg.Dispatch.RedisAddr != "" {
		return dispatch.NewRedisQueue(cfg.Dispatch.RedisAddr, logger,
			dispatch.WithRedisWorkers(cfg.Worker.Count),
			dispatch.WithPollInterval(cfg.Dispatch.PollInterval),
			dispatch.WithRedisProcessTimeout(cfg.Worker.ProcessTimeout),
		)
	}
	return dispatch.NewChannelQueue(logger,
		dispatch.WithWorkers(cfg.Worker.Count),
		dispatch.WithQueueSize(cfg.Worker.QueueSize),
		dispatch.WithProcessTimeout(cfg.Worker.ProcessTimeout),
	)
}

func buildRegistry(cfg *common.Config, logger *slog.Logger) *engine.Registry {
	runner := engine.NewRunner(logger)

	registry := engine.NewRegistry()
	registry.Register(constants.JobTypeCompress,
		engine.NewCompressEngine(cfg.Engine.Ghostscript, cfg.Engine.ArtifactDir, runner, logger))
	registry.Register(constants.JobTypeConvert,
		engine.NewConvertEngine(cfg.Engine.HeicConverter, cfg.Engine.ArtifactDir, runner, logger))
	registry.Register(constants.JobTypeOCR,
		engine.NewOCREngine(engine.OCRConfig{
			Tesseract:   cfg.Engine.Tesseract,
			Pdftotext:   cfg.Engine.Pdftotext,
			Pdftoppm:    cfg.Engine.Pdftoppm,
			TessdataDir: cfg.Engine.TessdataDir,
			Language:    cfg.Engine.Language,
			DPI:         cfg.Engine.DPI,
			MaxPages:    cfg.Engine.MaxPages,
			ArtifactDir: cfg.Engine.ArtifactDir,
		}, runner, logger))

	var client *llm.Client
	if cfg.LLM.APIKey != "" {
		client = llm.NewClient(llm.Config{
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.LLM.Model,
			APIKey:      cfg.LLM.APIKey,
			Temperature: cfg.LLM.Temperature,
			Timeout:     cfg.LLM.Timeout,
		}, logger)
	} else {
		logger.Warn("OPENAI_API_KEY is empty, extraction jobs will fail as environment errors")
	}
	registry.Register(constants.JobTypeExtractInvoice,
		engine.NewExtractEngine(constants.JobTypeExtractInvoice, client, cfg.Engine.Pdftotext, runner, logger))
	registry.Register(constants.JobTypeExtractStatement,
		engine.NewExtractEngine(constants.JobTypeExtractStatement, client, cfg.Engine.Pdftotext, runner, logger))

	return registry
}
