package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/kkkkikiki/promo/internal/config"
)

const schema = `
CREATE TABLE IF NOT EXISTS agents (
	id   TEXT PRIMARY KEY,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS promo_codes (
	id          BIGINT PRIMARY KEY,
	code        TEXT NOT NULL UNIQUE,
	prefix      TEXT NOT NULL,
	sequence    INTEGER NOT NULL,
	status      TEXT NOT NULL DEFAULT 'Unassigned',
	agent_id    TEXT,
	agent_name  TEXT,
	redemptions INTEGER NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL,
	assigned_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_promo_codes_status ON promo_codes (status);
CREATE INDEX IF NOT EXISTS idx_promo_codes_agent ON promo_codes (agent_id);

CREATE TABLE IF NOT EXISTS redemptions (
	id             TEXT PRIMARY KEY,
	code_id        BIGINT NOT NULL REFERENCES promo_codes (id),
	code           TEXT NOT NULL,
	agent_id       TEXT NOT NULL,
	customer_name  TEXT NOT NULL,
	customer_phone TEXT NOT NULL,
	redeemed_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_redemptions_redeemed_at ON redemptions (redeemed_at DESC);
CREATE INDEX IF NOT EXISTS idx_redemptions_agent ON redemptions (agent_id, redeemed_at DESC);
`

// DB holds database connections
type DB struct {
	Postgres *sqlx.DB
}

// NewDB creates new database connections using config
func NewDB(ctx context.Context, cfg *config.Config, log *zap.Logger) (*DB, error) {
	postgres, err := sqlx.Connect("postgres", cfg.Database.GetDatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	postgres.SetMaxOpenConns(cfg.Database.MaxConns)
	postgres.SetMaxIdleConns(cfg.Database.MinConns)
	postgres.SetConnMaxLifetime(time.Hour)

	if err := postgres.PingContext(ctx); err != nil {
		_ = postgres.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	log.Info("connected to PostgreSQL",
		zap.String("host", cfg.Database.Host),
		zap.String("database", cfg.Database.Name),
	)

	return &DB{
		Postgres: postgres,
	}, nil
}

// EnsureSchema creates the tables the registry needs if they are missing
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.Postgres.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Ping checks the connection for the health endpoint
func (db *DB) Ping(ctx context.Context) error {
	return db.Postgres.PingContext(ctx)
}

// Close closes all database connections
func (db *DB) Close() error {
	if err := db.Postgres.Close(); err != nil {
		return fmt.Errorf("failed to close PostgreSQL: %w", err)
	}

	return nil
}
