// Copyright (C) 2025 Aegis Labs (dev@aegis-sec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/aegis-sec/aegis/services/adaptive"
	"github.com/aegis-sec/aegis/services/audit"
	"github.com/aegis-sec/aegis/services/classifier"
	"github.com/aegis-sec/aegis/services/consensus"
	"github.com/aegis-sec/aegis/services/gatekeeper/middleware"
	"github.com/aegis-sec/aegis/services/gatekeeper/observability"
	"github.com/aegis-sec/aegis/services/gatekeeper/routes"
	"github.com/aegis-sec/aegis/services/pii_engine"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "aegis-otel-collector:4317"
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
		resource.WithAttributes(semconv.ServiceNameKey.String("gatekeeper-service")))
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

func buildScanner() *pii_engine.Scanner {
	var opts []pii_engine.Option
	if raw := os.Getenv("PII_ENTITIES"); raw != "" {
		opts = append(opts, pii_engine.WithEntities(strings.Split(raw, ",")))
	}
	if level := os.Getenv("PII_MIN_CONFIDENCE"); level != "" {
		switch pii_engine.ConfidenceLevel(level) {
		case pii_engine.Low, pii_engine.Medium, pii_engine.High:
			opts = append(opts, pii_engine.WithMinConfidence(pii_engine.ConfidenceLevel(level)))
		default:
			slog.Warn("PII_MIN_CONFIDENCE is invalid, using medium", "value", level)
		}
	}
	scanner, err := pii_engine.NewScanner(opts...)
	if err != nil {
		log.Fatalf("FATAL: Could not initialize the PII scanner: %v", err)
	}
	return scanner
}

func main() {
	port := os.Getenv("GATEKEEPER_PORT")
	if port == "" {
		port = "8321"
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// --- Init the tracer ---
	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	scanner := buildScanner()
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	pipelineOpts := []consensus.Option{}
	if os.Getenv("LEGACY_CLASSIFIER_URL") != "" {
		legacy, err := classifier.NewSequenceClient()
		if err != nil {
			log.Fatalf("Failed to initialize the legacy classifier client: %v", err)
		}
		pipelineOpts = append(pipelineOpts, consensus.WithLegacyClassifier(legacy))
	} else {
		slog.Info("LEGACY_CLASSIFIER_URL not set, the legacy classifier reports NOT_RUN")
	}

	// Adaptive classifier: registry file + file watcher for hot promotion.
	registryPath := os.Getenv("ADAPTER_REGISTRY_PATH")
	if registryPath == "" {
		registryPath = "/data/model_registry.json"
		slog.Warn("ADAPTER_REGISTRY_PATH not set, defaulting", "path", registryPath)
	}
	state := adaptive.NewState()
	registry := adaptive.NewRegistry(registryPath,
		os.Getenv("INFERENCE_SERVER_URL"), os.Getenv("INFERENCE_API_KEY"), state,
		adaptive.WithReloadObserver(func(err error) {
			status := "success"
			if err != nil {
				status = "error"
			}
			metrics.AdapterReloadsTotal.WithLabelValues(status).Inc()
		}))
	if err := registry.Reload(context.Background()); err != nil {
		slog.Warn("Initial adapter registry load failed, the adaptive classifier starts unavailable", "error", err)
	}
	go func() {
		if err := adaptive.NewWatcher(registry).Run(context.Background()); err != nil {
			slog.Error("Adapter registry watcher stopped", "error", err)
		}
	}()
	adaptiveClassifier := adaptive.NewClassifier(state)
	pipelineOpts = append(pipelineOpts, consensus.WithAdaptiveClassifier(adaptiveClassifier))

	if ms, err := strconv.Atoi(os.Getenv("CLASSIFIER_TIMEOUT_MS")); err == nil && ms > 0 {
		pipelineOpts = append(pipelineOpts, consensus.WithClassifierTimeout(time.Duration(ms)*time.Millisecond))
	}
	if os.Getenv("SKIP_CLASSIFIERS_ON_PII_BLOCK") == "true" {
		pipelineOpts = append(pipelineOpts, consensus.WithSkipOnPIIBlock(true))
	}
	pipeline := consensus.NewPipeline(scanner, pipelineOpts...)

	trainer, err := adaptive.NewTrainerClient()
	if err != nil {
		log.Fatalf("Failed to initialize the trainer client: %v", err)
	}

	var store *audit.Store
	if auditPath := os.Getenv("AUDIT_DB_PATH"); auditPath != "" {
		store, err = audit.Open(audit.DefaultConfig(auditPath))
		if err != nil {
			log.Fatalf("FATAL: Could not open the audit store: %v", err)
		}
		defer store.Close()
	} else {
		slog.Info("AUDIT_DB_PATH not set. Running in lightweight mode (no audit persistence).")
	}

	maxPerHour := 4.0
	if v, err := strconv.ParseFloat(os.Getenv("RETRAIN_MAX_PER_HOUR"), 64); err == nil && v > 0 {
		maxPerHour = v
	}
	limiter := rate.NewLimiter(rate.Limit(maxPerHour/3600.0), 1)

	router := gin.Default()
	router.Use(otelgin.Middleware("gatekeeper-service"))

	routes.SetupRoutes(router, routes.Deps{
		Pipeline:       pipeline,
		Store:          store,
		Trainer:        trainer,
		AdapterVersion: adaptiveClassifier.Version,
		Metrics:        metrics,
		RetrainLimiter: limiter,
		APIKey:         middleware.APIKeyFromEnv(),
		LegacyEnabled:  os.Getenv("LEGACY_CLASSIFIER_URL") != "",
	})

	log.Println("Starting the gatekeeper server on port ", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
