package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/gatehouse/pkg/bootstrap"
	"github.com/platinummonkey/gatehouse/pkg/config"
	"github.com/platinummonkey/gatehouse/pkg/hierarchy"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout)
	ctx := context.Background()

	tp, err := observability.InitOTel(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		return err
	}

	router := mux.NewRouter()
	observability.RegisterHealthRoutes(router, observability.NewHealthChecker(app.DB, app.Redis, version))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(router, app.Registry)
	}

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:      otelhttp.NewHandler(router, "gatehouse-maintenance"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Maintenance.PathVerifySchedule, func() {
		verifyPaths(app.Folders, logger)
	}); err != nil {
		app.Close()
		return fmt.Errorf("invalid path verify schedule: %w", err)
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc("scheduler", func(ctx context.Context) error {
		select {
		case <-scheduler.Stop().Done():
			return nil
		case <-ctx.Done():
			return fmt.Errorf("path verification still running: %w", ctx.Err())
		}
	})
	shutdown.RegisterShutdownFunc("app", func(context.Context) error {
		return app.Close()
	})
	shutdown.RegisterShutdownFunc("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, tp, logger)
	})

	if cfg.Maintenance.RunOnStart {
		go verifyPaths(app.Folders, logger)
	}
	scheduler.Start()

	go func() {
		logger.Infof("Ops server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Ops server failed")
		}
	}()

	logger.WithField("schedule", cfg.Maintenance.PathVerifySchedule).Info("Maintenance worker started")
	return shutdown.WaitForShutdown()
}

func verifyPaths(walker *hierarchy.Walker, logger *observability.Logger) {
	repaired, err := walker.VerifyPaths(context.Background())
	if err != nil {
		logger.WithError(err).Error("Path verification failed")
		return
	}
	logger.WithField("repaired", repaired).Info("Path verification finished")
}
