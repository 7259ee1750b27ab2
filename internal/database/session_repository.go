package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yzbtdiy/VtuberAgent/internal/live"
)

// SessionRepo records session lifecycle rows. It implements live.Recorder.
type SessionRepo struct {
	pool *pgxpool.Pool
}

func NewSessionRepo(pool *pgxpool.Pool) *SessionRepo {
	return &SessionRepo{pool: pool}
}

// RecordStart inserts a row for a freshly started session. Restarting with a
// session id the platform reissued overwrites the stale row.
func (r *SessionRepo) RecordStart(ctx context.Context, info live.SessionInfo) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO live_sessions (session_id, room_id, anchor_name, anchor_open_id, started_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id) DO UPDATE
		SET room_id = EXCLUDED.room_id,
		    anchor_name = EXCLUDED.anchor_name,
		    anchor_open_id = EXCLUDED.anchor_open_id,
		    started_at = EXCLUDED.started_at,
		    ended_at = NULL`,
		info.SessionID, info.RoomID, info.AnchorName, info.AnchorOpenID, info.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record session start: %w", err)
	}
	return nil
}

// RecordEnd stamps the end time on a session row.
func (r *SessionRepo) RecordEnd(ctx context.Context, sessionID string, endedAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE live_sessions SET ended_at = $2 WHERE session_id = $1`,
		sessionID, endedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record session end: %w", err)
	}
	return nil
}
