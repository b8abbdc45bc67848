package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/matheusmosca/bookstore-reservations/internal/config"
)

var (
	//go:embed schema.sql
	schemaSQL string

	//go:embed seed.sql
	seedSQL string
)

const connectAttempts = 30

// InitDB opens the pool and waits for the database to accept connections.
func InitDB(ctx context.Context, cfg config.Database) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// Configure connection pool
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Wait for database to be ready
	for i := 0; i < connectAttempts; i++ {
		if err := pool.Ping(ctx); err == nil {
			log.Info().Str("host", cfg.Host).Str("database", cfg.Name).Msg("connected to database")
			return pool, nil
		}
		log.Info().Int("attempt", i+1).Int("of", connectAttempts).Msg("waiting for database")

		select {
		case <-ctx.Done():
			pool.Close()
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}

	pool.Close()
	return nil, fmt.Errorf("failed to connect to database after %d attempts", connectAttempts)
}

// Migrate creates the tables when they do not exist
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Seed loads the sample catalog. Existing rows are kept.
func Seed(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, seedSQL); err != nil {
		return fmt.Errorf("failed to seed database: %w", err)
	}
	log.Info().Msg("database seeded")
	return nil
}
