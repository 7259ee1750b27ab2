package live

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/yzbtdiy/VtuberAgent/internal/bus"
	"github.com/yzbtdiy/VtuberAgent/internal/errors"
	"github.com/yzbtdiy/VtuberAgent/internal/metrics"
)

// Recorder persists session lifecycle records. Implementations record the
// lifecycle only, never individual events.
type Recorder interface {
	RecordStart(ctx context.Context, info SessionInfo) error
	RecordEnd(ctx context.Context, sessionID string, endedAt time.Time) error
}

// ManagerConfig carries the per-process live configuration.
type ManagerConfig struct {
	Credentials       Credentials
	Host              string
	IdentityCode      string
	HeartbeatInterval time.Duration
}

// Manager enforces the at-most-one-active-session invariant by owning the
// single session handle. Its methods are not safe for concurrent callers;
// callers must serialize Start/Stop themselves.
type Manager struct {
	client       *Client
	clock        clockwork.Clock
	dispatcher   *Dispatcher
	recorder     Recorder // optional
	identityCode string
	heartbeat    time.Duration

	session *Session // nil == idle
}

// NewManager creates a Manager publishing to b and, when queue is non-nil,
// pushing events onto the application consumer queue.
func NewManager(cfg ManagerConfig, b *bus.Bus, queue chan<- Event, clock clockwork.Clock, recorder Recorder) *Manager {
	return &Manager{
		client:       NewClient(cfg.Credentials, cfg.Host, clock),
		clock:        clock,
		dispatcher:   NewDispatcher(b, queue),
		recorder:     recorder,
		identityCode: cfg.IdentityCode,
		heartbeat:    cfg.HeartbeatInterval,
	}
}

// Start registers a session with the open platform and spawns the event
// loop. identityCode overrides the configured default when non-empty.
// Not idempotent: an active session must be stopped first.
func (m *Manager) Start(ctx context.Context, identityCode string) (SessionInfo, error) {
	if m.session != nil {
		return SessionInfo{}, errors.ConflictError("a live session is already active, stop it first")
	}

	code := identityCode
	if code == "" {
		code = m.identityCode
	}
	if code == "" {
		return SessionInfo{}, errors.ConfigError("identity code is required")
	}

	data, err := m.client.Start(ctx, code)
	if err != nil {
		return SessionInfo{}, err
	}

	if len(data.WebsocketInfo.WssLink) == 0 {
		return SessionInfo{}, errors.APIError("start returned no socket endpoints", 0)
	}
	wsURL := data.WebsocketInfo.WssLink[0]

	anchorName := data.AnchorInfo.Uname
	if anchorName == "" {
		anchorName = "Unknown"
	}
	info := SessionInfo{
		SessionID:    data.GameInfo.GameID,
		RoomID:       data.AnchorInfo.RoomID,
		AnchorName:   anchorName,
		AnchorOpenID: data.AnchorInfo.OpenID,
		StartedAt:    m.clock.Now(),
	}

	session, err := startSession(ctx, m.client, m.dispatcher, m.clock, wsURL, data.WebsocketInfo.AuthBody, info, m.heartbeat)
	if err != nil {
		return SessionInfo{}, err
	}

	m.session = session
	metrics.SessionsStartedTotal.Inc()
	slog.Info("Live session started",
		"session_id", info.SessionID,
		"room_id", info.RoomID,
		"anchor", info.AnchorName,
	)

	if m.recorder != nil {
		if err := m.recorder.RecordStart(ctx, info); err != nil {
			slog.Warn("Failed to record session start", "error", err)
		}
	}

	return info, nil
}

// Stop signals the active session and waits for it to unwind. Idempotent:
// with no active session it returns (nil, nil). The returned error is the
// session's terminal transport error, if it failed. When ctx expires before
// the loop unwinds, the session stays owned: a later Stop or Abort can still
// reach it, and Start keeps refusing until it is gone.
func (m *Manager) Stop(ctx context.Context) (*SessionInfo, error) {
	if m.session == nil {
		return nil, nil
	}

	session := m.session
	info := session.Info()

	err := session.Stop(ctx)
	if err != nil && err == ctx.Err() {
		return &info, err
	}

	m.session = nil
	metrics.SessionState.Set(0)

	if m.recorder != nil {
		if recErr := m.recorder.RecordEnd(ctx, info.SessionID, m.clock.Now()); recErr != nil {
			slog.Warn("Failed to record session end", "error", recErr)
		}
	}

	slog.Info("Live session stopped", "session_id", info.SessionID)
	return &info, err
}

// Status returns the current session snapshot and state, or (nil, 0) when
// idle. Pure read, never blocks.
func (m *Manager) Status() (*SessionInfo, State) {
	if m.session == nil {
		return nil, 0
	}
	info := m.session.Info()
	return &info, m.session.State()
}

// Abort hard-kills the active session without waiting for the event loop to
// unwind. The graceful end call is only guaranteed on a clean Stop; an
// aborted upstream session expires via the server heartbeat timeout.
func (m *Manager) Abort() {
	if m.session == nil {
		return
	}
	m.session.Abort()
	m.session = nil
	metrics.SessionState.Set(0)
}
