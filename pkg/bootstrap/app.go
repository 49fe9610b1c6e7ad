package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatehouse/pkg/access"
	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/config"
	"github.com/platinummonkey/gatehouse/pkg/decisioncache"
	"github.com/platinummonkey/gatehouse/pkg/hierarchy"
	"github.com/platinummonkey/gatehouse/pkg/membership"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/storage/postgres"
)

// App holds every wired component
type App struct {
	Config   *config.Config
	Logger   *observability.Logger
	DB       *sql.DB
	Redis    *redis.Client
	Cache    access.DecisionCache
	Registry *prometheus.Registry
	Metrics  *observability.Metrics
	AuditLog *audit.DBLogger
	Rules    *access.SQLRuleStore
	Members  *membership.Store
	Folders  *hierarchy.Walker
	Service  *access.Service

	closers []func() error
}

// New connects to PostgreSQL and builds the application on it
func New(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*App, error) {
	db, err := postgres.Open(ctx, postgres.ConnectionConfig{
		URL:         cfg.Database.URL,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		Timeout:     cfg.Database.Timeout,
		MaxLifetime: cfg.Database.MaxLifetime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	})
	if err != nil {
		return nil, err
	}
	logger.Infof("Connected to %s", postgres.Redact(cfg.Database.URL))

	app, err := Build(ctx, db, cfg, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	app.closers = append(app.closers, db.Close)
	return app, nil
}

// Build wires the application on an open database. The caller keeps
// ownership of db; Close does not close it.
func Build(ctx context.Context, db *sql.DB, cfg *config.Config, logger *observability.Logger) (*App, error) {
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	if cfg.Database.AutoMigrate {
		if err := access.RunMigrations(ctx, db); err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	observability.RegisterDBStats(registry, db, "gatehouse")

	cache, client, err := decisioncache.New(ctx, cfg.Cache.DecisionCache())
	if err != nil {
		return nil, fmt.Errorf("failed to create decision cache: %w", err)
	}

	app := &App{
		Config:   cfg,
		Logger:   logger,
		DB:       db,
		Redis:    client,
		Cache:    cache,
		Registry: registry,
		Metrics:  metrics,
	}
	if closer, ok := cache.(io.Closer); ok {
		app.closers = append(app.closers, closer.Close)
	}
	if client != nil {
		app.closers = append(app.closers, client.Close)
	}

	dbAudit, err := audit.NewDBLogger(db)
	if err != nil {
		if closeErr := app.Close(); closeErr != nil {
			logger.WithError(closeErr).Warn("Failed to release cache after setup error")
		}
		return nil, err
	}
	app.AuditLog = dbAudit
	auditLog := audit.NewMultiLogger(audit.NewSlogLogger(logger), dbAudit)

	app.Rules = access.NewSQLRuleStore(db)
	gens := access.NewGenerations(cfg.Cache.MaxEntries)
	app.Members = membership.NewStore(db, membership.Config{
		Cache:       cache,
		Generations: gens,
		Audit:       auditLog,
		Logger:      logger,
	})
	app.Folders = hierarchy.NewWalker(hierarchy.NewSQLFolderStore(db), hierarchy.WalkerConfig{
		MaxDepth: cfg.Hierarchy.MaxDepth,
		Logger:   WalkerLogger(logger.Level()),
		Metrics:  metrics,
		Audit:    auditLog,
	})
	app.Service = access.NewService(app.Rules, app.Members, access.ServiceConfig{
		Cache:       cache,
		CacheTTL:    cfg.Cache.TTL,
		Generations: gens,
		Ancestry:    app.Folders,
		Owners:      app.Folders,
		Audit:       auditLog,
		Logger:      logger,
		Metrics:     metrics,
	})

	logger.WithFields(map[string]interface{}{
		"cache_backend": cfg.Cache.Backend,
		"cache_ttl":     cfg.Cache.TTL.String(),
	}).Info("Access service ready")
	return app, nil
}

// Close releases the cache, the Redis client and, for apps from New, the database
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WalkerLogger returns a JSON logrus logger at the given level for the folder walker
func WalkerLogger(level observability.LogLevel) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	switch level {
	case observability.DebugLevel:
		logger.SetLevel(logrus.DebugLevel)
	case observability.WarnLevel:
		logger.SetLevel(logrus.WarnLevel)
	case observability.ErrorLevel:
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}
	return logger
}
