package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/exp/slog"

	"tether/internal/app/server/config"
	"tether/internal/infrastructure/migration"
)

type Storage struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// New connects to the server database and brings its schema up to date.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Storage, error) {
	log = log.With("component", "postgres")

	mg := migration.NewMigration(cfg.DB.Migrations, cfg.DB.DatabaseURI, migration.DefaultEngine)
	version, err := mg.Up()
	if err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}
	log.Info("schema up to date", "version", version)

	pool, err := pgxpool.New(ctx, cfg.DB.DatabaseURI)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Storage{pool: pool, log: log}, nil
}

func (s *Storage) Close() error {
	s.pool.Close()
	return nil
}

func (s *Storage) Pool() *pgxpool.Pool {
	return s.pool
}

// Ping is used by the health endpoint.
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
