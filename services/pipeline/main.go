// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/LabInsights/services/pipeline/agents"
	"github.com/AleutianAI/LabInsights/services/pipeline/blobstore"
	"github.com/AleutianAI/LabInsights/services/pipeline/bus"
	"github.com/AleutianAI/LabInsights/services/pipeline/config"
	"github.com/AleutianAI/LabInsights/services/pipeline/engine"
	"github.com/AleutianAI/LabInsights/services/pipeline/middleware"
	"github.com/AleutianAI/LabInsights/services/pipeline/observability"
	"github.com/AleutianAI/LabInsights/services/pipeline/routes"
	"github.com/AleutianAI/LabInsights/services/pipeline/store"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
)

const serviceName = "pipeline-service"

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "labinsights-otel-collector:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("FATAL: invalid configuration: %v", err)
	}

	// --- Init the tracer ---
	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	metrics := observability.InitMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	records, err := store.OpenSQLite(cfg.DSN)
	if err != nil {
		log.Fatalf("FATAL: could not open record store at %s: %v", cfg.DSN, err)
	}
	defer records.Close()

	// Signed URLs must outlive the pipeline deadline so a retry attempt
	// late in the window can still fetch the original.
	var gcsOpts []option.ClientOption
	if cfg.GCSCredentialsFile != "" {
		gcsOpts = append(gcsOpts, option.WithCredentialsFile(cfg.GCSCredentialsFile))
	}
	objects, err := blobstore.NewGCS(ctx, cfg.GCSBucket, 2*cfg.Deadline, gcsOpts...)
	if err != nil {
		log.Fatalf("FATAL: could not create GCS store for bucket %s: %v", cfg.GCSBucket, err)
	}

	events := bus.New(bus.WithDropObserver(func(string) {
		metrics.RecordDroppedEvent()
	}))

	pipelines := engine.New(
		records,
		agents.NewMistralOCR(cfg.OCRBaseURL, cfg.OCRAPIKey, cfg.OCRModel),
		agents.NewLLMExtraction(cfg.LLMAPIKey, cfg.LLMBaseURL, cfg.LLMModel),
		agents.NewLLMInsight(cfg.LLMAPIKey, cfg.LLMBaseURL, cfg.LLMModel),
		events,
		metrics,
		engine.Config{Deadline: cfg.Deadline},
	)
	watchdog := engine.NewWatchdog(records, events, pipelines, metrics,
		cfg.SweepInterval, cfg.StuckThreshold)

	router := gin.Default()
	router.Use(otelgin.Middleware(serviceName))
	if len(cfg.CORSOrigins) > 0 {
		router.Use(middleware.CORS(cfg.CORSOrigins))
	}
	routes.SetupRoutes(router, records, objects, pipelines, events, metrics)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("starting pipeline server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		watchdog.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
		if err := pipelines.Shutdown(shutdownCtx); err != nil {
			slog.Error("pipeline shutdown failed", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
	slog.Info("pipeline service stopped")
}
