// Package config loads the API's external connections from the
// environment: Postgres (with embedded goose migrations), ClickHouse, and
// Neo4j.
package config

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver with database/sql
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var EmbedMigrations embed.FS

// PostgresConfig holds the PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string
	Port     string
	Database string
	Username string
	Password string
	SSLMode  string

	// RunMigrations applies embedded goose migrations on connect.
	RunMigrations bool
}

// PostgresConfigFromEnv reads POSTGRES_* variables. Database, user, and
// password are required; the rest default.
func PostgresConfigFromEnv() (PostgresConfig, error) {
	cfg := PostgresConfig{
		Host:          os.Getenv("POSTGRES_HOST"),
		Port:          os.Getenv("POSTGRES_PORT"),
		Database:      os.Getenv("POSTGRES_DB"),
		Username:      os.Getenv("POSTGRES_USER"),
		Password:      os.Getenv("POSTGRES_PASSWORD"),
		SSLMode:       os.Getenv("POSTGRES_SSLMODE"),
		RunMigrations: os.Getenv("POSTGRES_RUN_MIGRATIONS") == "true",
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == "" {
		cfg.Port = "5432"
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}
	if cfg.Database == "" {
		return cfg, errors.New("POSTGRES_DB is required")
	}
	if cfg.Username == "" {
		return cfg, errors.New("POSTGRES_USER is required")
	}
	if cfg.Password == "" {
		return cfg, errors.New("POSTGRES_PASSWORD is required")
	}
	return cfg, nil
}

func (cfg PostgresConfig) connString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode,
	)
}

// NewPostgresPool connects, pings, and optionally migrates the database.
func NewPostgresPool(ctx context.Context, log *slog.Logger, cfg PostgresConfig) (*pgxpool.Pool, error) {
	log.Info("connecting to PostgreSQL",
		"host", cfg.Host, "port", cfg.Port, "database", cfg.Database, "username", cfg.Username)

	poolConfig, err := pgxpool.ParseConfig(cfg.connString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	if cfg.RunMigrations {
		if err := MigratePostgres(log, cfg.connString()); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return pool, nil
}

// MigratePostgres applies the embedded goose migrations.
func MigratePostgres(log *slog.Logger, connStr string) error {
	log.Info("running PostgreSQL migrations")

	goose.SetBaseFS(EmbedMigrations)

	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info("PostgreSQL migrations completed")
	return nil
}
