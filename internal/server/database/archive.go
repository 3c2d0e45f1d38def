// Package database provides the optional Postgres archive for share access
// logs. The in-memory log in the share registry stays authoritative for the
// API; the archive only gives operators history beyond the 30-day in-memory
// window and across restarts. The service runs fine without it.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"roomdrop/internal/server/share"
)

// migrations contains all database migrations in order.
var migrations = []struct {
	Version string
	SQL     string
}{
	{
		Version: "000001_create_share_access_log",
		SQL: `
			CREATE TABLE IF NOT EXISTS share_access_log (
				id                BIGSERIAL    PRIMARY KEY,
				share_id          VARCHAR(10)  NOT NULL,
				accessed_at       TIMESTAMPTZ  NOT NULL,
				ip_address        VARCHAR(64)  NOT NULL,
				user_agent        TEXT         NOT NULL DEFAULT '',
				success           BOOLEAN      NOT NULL,
				error_code        VARCHAR(40)  NOT NULL DEFAULT '',
				bytes_transferred BIGINT       NOT NULL DEFAULT 0
			);
			CREATE INDEX IF NOT EXISTS idx_share_access_log_share_id ON share_access_log(share_id);
			CREATE INDEX IF NOT EXISTS idx_share_access_log_accessed_at ON share_access_log(accessed_at);
		`,
	},
}

// recordTimeout bounds each archival insert so a slow database can never
// back-pressure the download path.
const recordTimeout = 5 * time.Second

// Archive wraps a pgxpool connection pool. It implements share.AccessSink.
type Archive struct {
	pool *pgxpool.Pool
}

// New creates a new archive connection pool and applies migrations.
func New(ctx context.Context, databaseURL string) (*Archive, error) {
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

	a := &Archive{pool: pool}
	if err := a.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	slog.Info("access-log archive connected")
	return a, nil
}

// runMigrations applies all pending migrations in order.
func (a *Archive) runMigrations(ctx context.Context) error {
	_, err := a.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	for _, m := range migrations {
		var exists bool
		err := a.pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)",
			m.Version,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check migration status for %s: %w", m.Version, err)
		}
		if exists {
			continue
		}

		tx, err := a.pool.Begin(ctx)
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

// Record archives one access-log entry. Best-effort and asynchronous: the
// caller (the registry, under its lock) is never blocked and failures are
// only logged.
func (a *Archive) Record(entry share.AccessEntry) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()

		_, err := a.pool.Exec(ctx, `
			INSERT INTO share_access_log (
				share_id, accessed_at, ip_address, user_agent,
				success, error_code, bytes_transferred
			) VALUES ($1, $2, $3, $4, $5, $6, $7)
		`,
			entry.ShareID,
			entry.Timestamp,
			entry.IPAddress,
			entry.UserAgent,
			entry.Success,
			string(entry.ErrorCode),
			entry.BytesTransferred,
		)
		if err != nil {
			slog.Error("failed to archive access log entry",
				"share_id", entry.ShareID,
				"error", err,
			)
		}
	}()
}

// Purge deletes archived entries older than the cutoff and returns the
// number of rows removed.
func (a *Archive) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := a.pool.Exec(ctx,
		"DELETE FROM share_access_log WHERE accessed_at < $1", olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to purge archive: %w", err)
	}
	return tag.RowsAffected(), nil
}

// HealthCheck verifies the database connection is alive.
func (a *Archive) HealthCheck(ctx context.Context) error {
	return a.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (a *Archive) Close() {
	a.pool.Close()
}
