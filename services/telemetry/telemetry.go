// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry wires the trace intake core (internal/intake,
// internal/predictor, internal/schema, internal/subscription) to an HTTP
// server. It is the only package in this module that owns a process
// lifecycle: hot/durable store construction, the idle-expiry sweeper, and
// the gin router all start and stop here.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/AleutianAI/pbartrace/internal/clockid"
	"github.com/AleutianAI/pbartrace/internal/durable"
	"github.com/AleutianAI/pbartrace/internal/hotstore"
	"github.com/AleutianAI/pbartrace/internal/intake"
	"github.com/AleutianAI/pbartrace/internal/predictor"
	"github.com/AleutianAI/pbartrace/internal/schema"
	"github.com/AleutianAI/pbartrace/internal/subscription"
	"github.com/AleutianAI/pbartrace/pkg/extensions"
	"github.com/AleutianAI/pbartrace/pkg/logging"
	"github.com/AleutianAI/pbartrace/services/telemetry/observability"
	"github.com/AleutianAI/pbartrace/services/telemetry/routes"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
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

// Service is the telemetry ingest service's process lifecycle contract.
//
// # Thread Safety
//
// Run blocks and must be called at most once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until it stops or errors.
	Run() error

	// Router returns the configured gin.Engine, for integration tests.
	Router() *gin.Engine
}

// Config holds telemetry service configuration. Zero values use the
// defaults applied by applyConfigDefaults.
type Config struct {
	// Port is the HTTP server port. Default: 8090.
	Port int

	// DataDir is the badger database directory. Ignored when UseBadger
	// is false. Default: "./data/pbartrace".
	DataDir string

	// UseBadger selects the persisted badger hot store over the
	// in-memory one. Default: false (in-memory, single process).
	UseBadger bool

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "pbartrace-otel-collector:4317".
	OTelEndpoint string

	// EnableMetrics enables the /metrics Prometheus endpoint. Default: true.
	EnableMetrics bool

	// GinMode sets the gin framework mode ("debug", "release", "test").
	// Default: "release".
	GinMode string

	// IdleSweepInterval is how often the idle-expiry sweeper scans the
	// hot store for stale traces (§4.D). Default: 1 minute.
	IdleSweepInterval time.Duration
}

// Options bundles the external collaborators §1 places out of scope for
// the core (entitlement checks, usage accounting, authentication). Nil
// fields fall back to the package no-op defaults, matching the "open
// source uses no-op extensions" posture of the rest of this module.
type Options struct {
	Auth        extensions.AuthProvider
	Entitlement intake.EntitlementChecker
	Usage       intake.UsageReporter
}

func defaultOptions() Options {
	return Options{
		Auth:        extensions.NopAuthProvider{},
		Entitlement: extensions.NopEntitlementChecker{},
		Usage:       extensions.NopUsageReporter{},
	}
}

type service struct {
	config Config
	opts   Options

	router *gin.Engine

	hot          hotstore.Store
	durableStore durable.Store
	schemaStore  schema.Store
	registry     *schema.Registry
	engine       *predictor.Engine
	machine      *intake.Machine
	sweeper      *intake.IdleSweeper
	fabric       *subscription.Fabric
	clock        clockid.Clock

	metrics       *observability.Metrics
	logger        *logging.Logger
	tracerCleanup func(context.Context)
	sweeperCancel context.CancelFunc
}

// New constructs a Service backed by schemaStore (the bar/step CRUD
// surface, external to this core — see internal/schema.MemoryStore for a
// single-node stand-in). opts may be nil to use every no-op default.
func New(cfg Config, schemaStore schema.Store, opts *Options) (Service, error) {
	s := &service{
		config:      applyConfigDefaults(cfg),
		schemaStore: schemaStore,
		logger: logging.New(logging.Config{
			Level:   logging.LevelInfo,
			Service: "pbartrace-ingest",
			JSON:    true,
		}),
	}
	// A handful of deep call sites (e.g. the websocket upgrade path in
	// handlers/stream.go) log through the package-level slog functions
	// rather than threading a *logging.Logger all the way down; route
	// those through the same structured logger so output stays uniform.
	slog.SetDefault(s.logger.Slog())

	if opts != nil {
		s.opts = *opts
	} else {
		s.opts = defaultOptions()
	}
	if s.opts.Auth == nil {
		s.opts.Auth = extensions.NopAuthProvider{}
	}
	if s.opts.Entitlement == nil {
		s.opts.Entitlement = extensions.NopEntitlementChecker{}
	}
	if s.opts.Usage == nil {
		s.opts.Usage = extensions.NopUsageReporter{}
	}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	if s.config.EnableMetrics {
		s.metrics = observability.InitMetrics()
		s.logger.Info("initialized prometheus metrics")
	}

	if err := s.initStores(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize stores: %w", err)
	}

	s.clock = clockid.NewSystemClock()
	s.registry = schema.NewRegistry(s.schemaStore)
	s.engine = predictor.NewEngine(s.durableStore)
	s.machine = intake.NewMachine(s.registry, s.hot, s.durableStore, s.engine, s.clock)
	s.machine.Entitlement = s.opts.Entitlement
	s.machine.Usage = s.opts.Usage
	s.fabric = subscription.NewFabric(s.hot)

	s.sweeper = intake.NewIdleSweeper(s.hot, s.registry, s.clock)
	if s.config.IdleSweepInterval > 0 {
		s.sweeper.Interval = s.config.IdleSweepInterval
	}
	sweepCtx, cancel := context.WithCancel(context.Background())
	s.sweeperCancel = cancel
	s.sweeper.Start(sweepCtx)

	s.initRouter()

	return s, nil
}

func (s *service) initStores() error {
	if s.config.UseBadger {
		badgerStore, err := hotstore.OpenBadgerStore(s.config.DataDir)
		if err != nil {
			return fmt.Errorf("opening badger hot store at %q: %w", s.config.DataDir, err)
		}
		s.hot = badgerStore
	} else {
		s.hot = hotstore.NewMemoryStore()
	}
	s.durableStore = durable.NewMemoryStore()
	return nil
}

// Run starts the HTTP server and blocks until it stops or errors.
func (s *service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf(":%d", s.config.Port)
	s.logger.Info("starting pbartrace ingest service", "port", s.config.Port)

	return s.router.Run(addr)
}

// Router returns the configured gin.Engine.
func (s *service) Router() *gin.Engine {
	return s.router
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 8090
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data/pbartrace"
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "pbartrace-otel-collector:4317"
	}
	if cfg.GinMode == "" {
		cfg.GinMode = "release"
	}
	if cfg.IdleSweepInterval == 0 {
		cfg.IdleSweepInterval = time.Minute
	}
	cfg.EnableMetrics = true
	return cfg
}

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
		resource.WithAttributes(semconv.ServiceNameKey.String("pbartrace-ingest")))
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
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			s.logger.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}

	return cleanup, nil
}

func (s *service) initRouter() {
	gin.SetMode(s.config.GinMode)
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("pbartrace-ingest"))

	if s.config.EnableMetrics {
		s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	routes.SetupRoutes(s.router, routes.Deps{
		Machine:  s.machine,
		Registry: s.registry,
		Engine:   s.engine,
		Fabric:   s.fabric,
		Hot:      s.hot,
		Auth:     s.opts.Auth,
		Metrics:  s.metrics,
	})
}

func (s *service) cleanup() {
	if s.sweeperCancel != nil {
		s.sweeperCancel()
	}
	if s.sweeper != nil {
		s.sweeper.Stop()
	}
	if s.hot != nil {
		if err := s.hot.Close(); err != nil {
			s.logger.Warn("hot store close error", "error", err)
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
	if s.logger != nil {
		if err := s.logger.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "pbartrace-ingest: log close error: %v\n", err)
		}
	}
}

var _ Service = (*service)(nil)
