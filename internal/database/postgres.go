// Package database implements the optional Postgres-backed session audit log.
//
// Only session lifecycle rows are stored; live events are never persisted.
package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const sessionsSchema = `
CREATE TABLE IF NOT EXISTS live_sessions (
	session_id     TEXT PRIMARY KEY,
	room_id        BIGINT NOT NULL,
	anchor_name    TEXT NOT NULL,
	anchor_open_id TEXT NOT NULL DEFAULT '',
	started_at     TIMESTAMPTZ NOT NULL,
	ended_at       TIMESTAMPTZ
)`

// Connect opens a pgx pool and verifies the connection.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// Migrate creates the session audit schema if it does not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, sessionsSchema); err != nil {
		return fmt.Errorf("failed to create live_sessions table: %w", err)
	}
	return nil
}
