// Copyright (C) 2025 Nirman AI (deveshjha247@gmail.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

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

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/deveshjha247/Nirman/config"
	"github.com/deveshjha247/Nirman/controller"
	"github.com/deveshjha247/Nirman/events"
	"github.com/deveshjha247/Nirman/genai"
	"github.com/deveshjha247/Nirman/handlers"
	"github.com/deveshjha247/Nirman/learning"
	"github.com/deveshjha247/Nirman/observability"
	"github.com/deveshjha247/Nirman/planner"
	"github.com/deveshjha247/Nirman/renderer"
	"github.com/deveshjha247/Nirman/routes"
	"github.com/deveshjha247/Nirman/scheduler"
	"github.com/deveshjha247/Nirman/storage/badgerstore"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the build engine server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(ctx context.Context, cfg config.Config) error {
	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enabled {
		cleanup, err := initTracer(ctx, cfg.Tracing.Endpoint)
		if err != nil {
			return err
		}
		defer cleanup(context.Background())
	}
	observability.InitMetrics()

	db, err := openDatabase(cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	store := badgerstore.NewStore(db)
	bus := events.NewBus(events.WithLogger(logger))
	emitter := events.NewEmitter(store, bus)
	tracker := learning.NewTracker(store, logger)
	router := genai.NewRouter(buildBackends(cfg.Providers, logger))

	ctrl, err := controller.New(controller.Config{
		Store:    store,
		Emitter:  emitter,
		Bus:      bus,
		Planner:  planner.New(router, store, logger),
		Renderer: renderer.New(router, logger),
		Tracker:  tracker,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	routes.SetupRoutes(engine, handlers.NewAPI(ctrl, store, bus, logger))

	server := &http.Server{Addr: cfg.Server.Addr, Handler: engine}

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = scheduler.New(logger, scheduler.LearningJobs(
			store, logger, cfg.Scheduler.HourlyInterval, cfg.Scheduler.NightInterval)...)
		if err != nil {
			return err
		}
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer sched.Stop()
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("server listening", slog.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		// In-flight pipelines finish their current job before exit.
		ctrl.Wait()
		return nil
	})
	return group.Wait()
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.JSON {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func openDatabase(cfg config.StorageConfig, logger *slog.Logger) (*badgerstore.DB, error) {
	dbCfg := badgerstore.DefaultConfig()
	dbCfg.Path = cfg.Path
	dbCfg.InMemory = cfg.InMemory
	dbCfg.SyncWrites = cfg.SyncWrites
	dbCfg.GCInterval = cfg.GCInterval
	dbCfg.Logger = logger
	return badgerstore.OpenDB(dbCfg)
}

// buildBackends wires the generation providers whose credentials are
// present. Unwired providers resolve to erroring backends, which the
// planner and renderer absorb via their deterministic fallbacks.
func buildBackends(cfg config.ProvidersConfig, logger *slog.Logger) map[string]genai.Generator {
	backends := make(map[string]genai.Generator)
	if cfg.OpenAIEnabled {
		gen, err := genai.NewOpenAIGenerator(genai.ModelFor(genai.ProviderOpenAI))
		if err != nil {
			logger.Warn("openai backend unavailable, builds will use fallbacks",
				slog.String("error", err.Error()))
		} else {
			backends[genai.ProviderOpenAI] = gen
		}
	}
	return backends
}

func initTracer(ctx context.Context, endpoint string) (func(context.Context), error) {
	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("nirman")))
	if err != nil {
		return nil, err
	}
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(traceExporter)))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}
