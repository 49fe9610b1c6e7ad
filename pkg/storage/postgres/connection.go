package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// DefaultDriver is the database/sql driver registered by lib/pq
const DefaultDriver = "postgres"

// ConnectionConfig holds database connection configuration
type ConnectionConfig struct {
	URL string
	// DriverName defaults to DefaultDriver
	DriverName  string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// Open connects to the database, configures the pool and verifies the
// connection with a ping bounded by cfg.Timeout.
func Open(ctx context.Context, cfg ConnectionConfig) (*sql.DB, error) {
	if cfg.DriverName == "" {
		cfg.DriverName = DefaultDriver
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	db, err := sql.Open(cfg.DriverName, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection to %s: %w", Redact(cfg.URL), err)
	}

	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MinConns)
	db.SetConnMaxLifetime(cfg.MaxLifetime)
	db.SetConnMaxIdleTime(cfg.MaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", Redact(cfg.URL), err)
	}
	return db, nil
}

// Redact hides the password of a connection URL so it can be logged
func Redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.User == nil {
		return rawURL
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
