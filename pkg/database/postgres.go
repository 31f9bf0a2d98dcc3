package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"github.com/richxcame/konversi/pkg/config"
	"github.com/richxcame/konversi/pkg/resilience"
)

const (
	DriverPgx = "pgx"
	DriverPQ  = "postgres"
)

// NewPostgresDB opens a PostgreSQL connection pool through database/sql using
// the driver named in cfg.
func NewPostgresDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	db, err := open(cfg)
	if err != nil {
		return nil, err
	}

	configurePool(db, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := ping(ctx, db, connectRetryConfig()); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return db, nil
}

// the database container often comes up after the service
func connectRetryConfig() resilience.RetryConfig {
	cfg := resilience.AggressiveRetryConfig()
	cfg.Name = "postgres_connect"
	return cfg
}

func ping(ctx context.Context, db *sql.DB, retry resilience.RetryConfig) error {
	_, err := resilience.Retry(ctx, retry, func(ctx context.Context) (interface{}, error) {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return nil, db.PingContext(pingCtx)
	})
	return err
}

func open(cfg *config.DatabaseConfig) (*sql.DB, error) {
	dsn := cfg.DSN()

	switch cfg.Driver {
	case DriverPgx, "":
		connConfig, err := pgx.ParseConfig(dsn)
		if err != nil {
			return nil, fmt.Errorf("unable to parse database config: %w", err)
		}
		return stdlib.OpenDB(*connConfig), nil
	case DriverPQ:
		db, err := sql.Open(DriverPQ, dsn)
		if err != nil {
			return nil, fmt.Errorf("unable to open database: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func configurePool(db *sql.DB, cfg *config.DatabaseConfig) {
	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 10
	}
	minConns := cfg.MinConns
	if minConns < 0 || minConns > maxConns {
		minConns = maxConns
	}

	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(minConns)
	db.SetConnMaxIdleTime(5 * time.Minute)
}

// Close closes the database connection pool
func Close(db *sql.DB) {
	if db != nil {
		db.Close()
	}
}
