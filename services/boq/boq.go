// Copyright (C) 2025 Girderworks (engineering@girderworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package boq provides the core boqd service.
//
// This package contains the main service type that coordinates all
// components: HTTP routing, the LLM-backed agent runner, the pipeline
// orchestrator, embedded storage, and observability infrastructure.
//
// # Usage
//
//	cfg := boq.Config{Port: 8060, LLMBackend: "ollama"}
//	svc, err := boq.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package boq

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/girderworks/boqd/services/agents"
	"github.com/girderworks/boqd/services/boq/janitor"
	"github.com/girderworks/boqd/services/boq/observability"
	"github.com/girderworks/boqd/services/boq/pipeline"
	"github.com/girderworks/boqd/services/boq/routes"
	"github.com/girderworks/boqd/services/boq/storage"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the boqd service.
//
// # Description
//
// Service abstracts the service lifecycle, enabling testing and alternative
// implementations. Only essential lifecycle methods are exposed.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and should
// only be called once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	Run() error

	// Router returns the underlying Gin engine for testing.
	//
	// # Assumptions
	//
	//   - Caller will not modify the router
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds boqd configuration options. All fields are optional with
// defaults applied by New().
type Config struct {
	// Port is the HTTP server port. Default: 8060
	Port int

	// LLMBackend specifies the LLM provider.
	// Valid values: "openai", "ollama". Default: "ollama"
	LLMBackend string

	// DataDir is the directory for the embedded BadgerDB store.
	// Default: "./data/boqd"
	DataDir string

	// UploadDir is the staging directory for submitted documents.
	// Default: "./data/uploads"
	UploadDir string

	// MaxValidations is the generate→validate iteration ceiling.
	// Default: 3
	MaxValidations int

	// RunAttempts is the outer whole-run retry budget.
	// Default: 3
	RunAttempts int

	// RetryDelay is the fixed wait between run attempts.
	// Default: 60s
	RetryDelay time.Duration

	// AgentsConfigPath is the optional agents.yaml path for stage tuning.
	// If empty or missing, built-in defaults are used.
	AgentsConfigPath string

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "boqd-otel-collector:4317"
	OTelEndpoint string

	// DisableMetrics turns off Prometheus pipeline metrics.
	// Metrics are on by default.
	DisableMetrics bool

	// GinMode sets the Gin framework mode.
	// Valid values: "debug", "release", "test"
	// Default: uses GIN_MODE env var or "debug"
	GinMode string
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after New()
// returns.
type service struct {
	config        Config
	router        *gin.Engine
	llmClient     agents.LLMClient
	store         *storage.Store
	orchestrator  *pipeline.Orchestrator
	janitor       *janitor.Janitor
	tracerCleanup func(context.Context)
}

var _ Service = (*service)(nil)

// =============================================================================
// Constructor
// =============================================================================

// New creates a new boqd Service with the given configuration.
//
// # Description
//
// New initializes all service components:
//  1. Applies default configuration for missing values
//  2. Initializes OpenTelemetry tracing
//  3. Initializes Prometheus metrics
//  4. Opens the embedded BadgerDB store
//  5. Creates the LLM client based on backend type
//  6. Builds the agent runner and pipeline orchestrator
//  7. Sets up HTTP routes
//
// # Inputs
//
//   - cfg: Service configuration. Zero values use defaults.
//
// # Outputs
//
//   - Service: Ready-to-run boqd service
//   - error: Non-nil if initialization fails
//
// # Assumptions
//
//   - Environment variables are set for the chosen LLM provider
//   - The OTel collector is reachable at the configured endpoint
func New(cfg Config) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
	}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	if !s.config.DisableMetrics {
		observability.InitMetrics()
		slog.Info("Initialized Prometheus metrics for the pipeline")
	}

	if err := s.initStore(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	if err := s.initLLMClient(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	if err := s.initPipeline(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	s.initRouter()

	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until shutdown or error. Cleanup is
// automatic on return.
func (s *service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Starting boqd server", "port", s.config.Port)

	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 8060
	}
	if cfg.LLMBackend == "" {
		cfg.LLMBackend = "ollama"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data/boqd"
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = "./data/uploads"
	}
	if cfg.MaxValidations == 0 {
		cfg.MaxValidations = pipeline.DefaultMaxValidations
	}
	if cfg.RunAttempts == 0 {
		cfg.RunAttempts = pipeline.DefaultRetryPolicy().MaxAttempts
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = pipeline.DefaultRetryPolicy().Delay
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "boqd-otel-collector:4317"
	}

	return cfg
}

// initTracer initializes OpenTelemetry distributed tracing.
//
// # Limitations
//
//   - Uses an insecure gRPC connection (appropriate for internal networks)
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("boqd-service")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}

	return cleanup, nil
}

// initStore opens the embedded BadgerDB store and prepares the upload
// staging directory.
func (s *service) initStore() error {
	if err := os.MkdirAll(s.config.UploadDir, 0750); err != nil {
		return fmt.Errorf("create upload directory %s: %w", s.config.UploadDir, err)
	}

	store, err := storage.Open(storage.DefaultConfig(s.config.DataDir))
	if err != nil {
		return err
	}
	s.store = store
	slog.Info("Opened embedded store", "path", s.config.DataDir)

	s.janitor = janitor.New(janitor.DefaultConfig(s.config.UploadDir), nil)
	if err := s.janitor.Start(context.Background()); err != nil {
		slog.Warn("Staging janitor failed to start", "error", err)
		// Not fatal: runs still delete their own uploads.
		s.janitor = nil
	}
	return nil
}

// initLLMClient creates the LLM provider client for the configured backend.
func (s *service) initLLMClient() error {
	var err error

	switch s.config.LLMBackend {
	case "openai":
		s.llmClient, err = agents.NewOpenAIClient()
		slog.Info("Using OpenAI LLM backend")
	case "ollama":
		s.llmClient, err = agents.NewOllamaClient()
		slog.Info("Using Ollama LLM backend")
	default:
		slog.Warn("Unknown LLM backend, defaulting to ollama", "backend", s.config.LLMBackend)
		s.llmClient, err = agents.NewOllamaClient()
	}

	return err
}

// initPipeline builds the agent runner and the orchestrator over it.
func (s *service) initPipeline() error {
	runnerCfg, err := agents.LoadRunnerConfig(s.config.AgentsConfigPath)
	if err != nil {
		return err
	}

	runner := agents.NewRunner(s.llmClient, runnerCfg, s.config.MaxValidations)
	s.orchestrator = pipeline.NewOrchestrator(s.store, runner, pipeline.Config{
		MaxValidations: s.config.MaxValidations,
		Retry: pipeline.RetryPolicy{
			MaxAttempts: s.config.RunAttempts,
			Delay:       s.config.RetryDelay,
		},
	})
	return nil
}

// initRouter sets up the Gin HTTP router with all routes.
func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("boqd-service"))

	routes.SetupRoutes(s.router, s.store, s.orchestrator, s.llmClient, s.config.UploadDir)
}

// cleanup releases all resources held by the service.
func (s *service) cleanup() {
	if s.janitor != nil {
		s.janitor.Stop()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			slog.Warn("Store close error", "error", err)
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}
