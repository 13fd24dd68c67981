package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// migrations contains all database migrations in order. These are the
// explicit schema and constraint declarations the access-control layer
// relies on; in particular, the partial unique index on user shares and the
// unique index on link tokens back the upsert and token-retry paths.
var migrations = []struct {
	Version string
	SQL     string
}{
	{
		Version: "000001_create_principals",
		SQL: `
			CREATE TABLE IF NOT EXISTS principals (
				id            VARCHAR(36)  PRIMARY KEY,
				username      VARCHAR(64)  NOT NULL UNIQUE,
				password_hash VARCHAR(255) NOT NULL,
				created_at    TIMESTAMPTZ  NOT NULL DEFAULT NOW()
			);
		`,
	},
	{
		Version: "000002_create_files",
		SQL: `
			CREATE TABLE IF NOT EXISTS files (
				id            VARCHAR(36)  PRIMARY KEY,
				owner_id      VARCHAR(36)  NOT NULL REFERENCES principals(id),
				name          VARCHAR(255) NOT NULL,
				content_type  VARCHAR(128) NOT NULL,
				size          BIGINT       NOT NULL,
				original_size BIGINT,
				encoding      VARCHAR(16)  NOT NULL DEFAULT 'identity',
				storage_path  VARCHAR(255) NOT NULL,
				compressed    BOOLEAN      NOT NULL DEFAULT FALSE,
				created_at    TIMESTAMPTZ  NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_files_owner ON files(owner_id, created_at DESC);
		`,
	},
	{
		Version: "000003_create_shares",
		SQL: `
			CREATE TABLE IF NOT EXISTS shares (
				id         VARCHAR(36) PRIMARY KEY,
				file_id    VARCHAR(36) NOT NULL REFERENCES files(id) ON DELETE CASCADE,
				owner_id   VARCHAR(36) NOT NULL REFERENCES principals(id),
				kind       VARCHAR(8)  NOT NULL CHECK (kind IN ('user', 'link')),
				target_id  VARCHAR(36) REFERENCES principals(id),
				link_token VARCHAR(64),
				permission VARCHAR(16) NOT NULL DEFAULT 'view',
				expires_at TIMESTAMPTZ,
				active     BOOLEAN     NOT NULL DEFAULT TRUE,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE UNIQUE INDEX IF NOT EXISTS idx_shares_user_unique
				ON shares(file_id, target_id) WHERE kind = 'user';
			CREATE UNIQUE INDEX IF NOT EXISTS idx_shares_link_token
				ON shares(link_token) WHERE link_token IS NOT NULL;
			CREATE INDEX IF NOT EXISTS idx_shares_file ON shares(file_id);
			CREATE INDEX IF NOT EXISTS idx_shares_expires_at ON shares(expires_at);
		`,
	},
	{
		Version: "000004_create_audit_log",
		SQL: `
			CREATE TABLE IF NOT EXISTS audit_log (
				id          BIGSERIAL    PRIMARY KEY,
				actor_id    VARCHAR(36)  NOT NULL,
				action      VARCHAR(16)  NOT NULL,
				file_id     VARCHAR(36),
				share_id    VARCHAR(36),
				detail      TEXT         NOT NULL DEFAULT '',
				ip          VARCHAR(64)  NOT NULL DEFAULT '',
				user_agent  VARCHAR(255) NOT NULL DEFAULT '',
				recorded_at TIMESTAMPTZ  NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_audit_file ON audit_log(file_id, recorded_at DESC, id DESC);
			CREATE INDEX IF NOT EXISTS idx_audit_actor ON audit_log(actor_id, recorded_at DESC, id DESC);
		`,
	},
}

// DB wraps a pgxpool connection pool and provides health checks and migrations.
type DB struct {
	Pool *pgxpool.Pool
}

// New creates a new database connection pool.
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("connected to database")
	return &DB{Pool: pool}, nil
}

// RunMigrations applies all pending database migrations in order.
func (db *DB) RunMigrations(ctx context.Context) error {
	// Create migrations tracking table
	_, err := db.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	for _, m := range migrations {
		// Check if already applied
		var exists bool
		err := db.Pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)",
			m.Version,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check migration status for %s: %w", m.Version, err)
		}
		if exists {
			continue
		}

		// Execute migration in a transaction
		tx, err := db.Pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %s: %w", m.Version, err)
		}

		if _, err := tx.Exec(ctx, m.SQL); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("failed to execute migration %s: %w", m.Version, err)
		}

		if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.Version); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("failed to record migration %s: %w", m.Version, err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("failed to commit migration %s: %w", m.Version, err)
		}

		slog.Info("applied migration", "version", m.Version)
	}

	return nil
}

// HealthCheck verifies the database connection is alive.
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505). The share store's constraints are the
// authoritative backstop for token and user-share uniqueness.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
