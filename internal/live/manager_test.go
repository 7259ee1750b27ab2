package live

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yzbtdiy/VtuberAgent/internal/bus"
	apperrors "github.com/yzbtdiy/VtuberAgent/internal/errors"
)

// fakeRecorder captures lifecycle records.
type fakeRecorder struct {
	mu     sync.Mutex
	starts []SessionInfo
	ends   []string
}

func (r *fakeRecorder) RecordStart(_ context.Context, info SessionInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts = append(r.starts, info)
	return nil
}

func (r *fakeRecorder) RecordEnd(_ context.Context, sessionID string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ends = append(r.ends, sessionID)
	return nil
}

func newTestManager(t *testing.T, identityCode string, wssLinks []string) (*Manager, *fakeRecorder) {
	t.Helper()

	push := newPushServer(t)
	if wssLinks == nil {
		wssLinks = []string{push.wsURL()}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v2/app/start", func(w http.ResponseWriter, r *http.Request) {
		links := `[]`
		if len(wssLinks) > 0 {
			links = fmt.Sprintf(`["%s"]`, wssLinks[0])
		}
		fmt.Fprintf(w, `{"code":0,"message":"ok","data":{"game_info":{"game_id":"g-1"},"websocket_info":{"auth_body":"auth","wss_link":%s},"anchor_info":{"room_id":42,"uname":"anchor","open_id":"open-1"}}}`, links)
	})
	mux.HandleFunc("/v2/app/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":0,"message":"ok"}`)
	})
	mux.HandleFunc("/v2/app/end", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":0,"message":"ok"}`)
	})
	rest := httptest.NewServer(mux)
	t.Cleanup(rest.Close)

	b := bus.New()
	t.Cleanup(b.Close)
	recorder := &fakeRecorder{}

	m := NewManager(ManagerConfig{
		Credentials:       testCreds,
		Host:              rest.URL,
		IdentityCode:      identityCode,
		HeartbeatInterval: time.Hour,
	}, b, make(chan Event, 16), clockwork.NewRealClock(), recorder)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = m.Stop(ctx)
	})
	return m, recorder
}

func TestManager_StartReturnsSessionInfo(t *testing.T) {
	m, recorder := newTestManager(t, "ABC123", nil)

	info, err := m.Start(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, "g-1", info.SessionID)
	assert.Equal(t, int64(42), info.RoomID)
	assert.Equal(t, "anchor", info.AnchorName)
	assert.Equal(t, "open-1", info.AnchorOpenID)
	assert.False(t, info.StartedAt.IsZero())

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	require.Len(t, recorder.starts, 1)
	assert.Equal(t, "g-1", recorder.starts[0].SessionID)
}

func TestManager_DoubleStartFails(t *testing.T) {
	m, _ := newTestManager(t, "ABC123", nil)

	first, err := m.Start(context.Background(), "")
	require.NoError(t, err)

	_, err = m.Start(context.Background(), "")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.TypeConflict))

	// The first session is untouched.
	status, state := m.Status()
	require.NotNil(t, status)
	assert.Equal(t, first.SessionID, status.SessionID)
	assert.NotEqual(t, StateClosed, state)
}

func TestManager_MissingIdentityCode(t *testing.T) {
	m, _ := newTestManager(t, "", nil)

	_, err := m.Start(context.Background(), "")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.TypeConfig))
}

func TestManager_IdentityCodeOverride(t *testing.T) {
	m, _ := newTestManager(t, "", nil)

	_, err := m.Start(context.Background(), "OVERRIDE")
	require.NoError(t, err)
}

func TestManager_EmptySocketListFails(t *testing.T) {
	m, _ := newTestManager(t, "ABC123", []string{})

	_, err := m.Start(context.Background(), "")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.TypeAPI))

	status, _ := m.Status()
	assert.Nil(t, status)
}

func TestManager_StopIsIdempotent(t *testing.T) {
	m, recorder := newTestManager(t, "ABC123", nil)

	info, err := m.Stop(context.Background())
	require.NoError(t, err)
	assert.Nil(t, info, "stop with no session returns no session, not an error")

	_, err = m.Start(context.Background(), "")
	require.NoError(t, err)

	info, err = m.Stop(context.Background())
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "g-1", info.SessionID)

	recorder.mu.Lock()
	assert.Equal(t, []string{"g-1"}, recorder.ends)
	recorder.mu.Unlock()

	// And again.
	info, err = m.Stop(context.Background())
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestManager_StatusReflectsLifecycle(t *testing.T) {
	m, _ := newTestManager(t, "ABC123", nil)

	status, state := m.Status()
	assert.Nil(t, status)
	assert.Equal(t, State(0), state)

	_, err := m.Start(context.Background(), "")
	require.NoError(t, err)

	status, _ = m.Status()
	require.NotNil(t, status)
	assert.Equal(t, "g-1", status.SessionID)

	_, err = m.Stop(context.Background())
	require.NoError(t, err)

	status, _ = m.Status()
	assert.Nil(t, status)
}

func TestManager_TimedOutStopRetainsSession(t *testing.T) {
	push := newPushServer(t)
	release := make(chan struct{})
	var endCalls atomic.Int64

	mux := http.NewServeMux()
	mux.HandleFunc("/v2/app/start", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"code":0,"message":"ok","data":{"game_info":{"game_id":"g-1"},"websocket_info":{"auth_body":"auth","wss_link":["%s"]},"anchor_info":{"room_id":42,"uname":"anchor","open_id":"open-1"}}}`, push.wsURL())
	})
	mux.HandleFunc("/v2/app/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":0,"message":"ok"}`)
	})
	mux.HandleFunc("/v2/app/end", func(w http.ResponseWriter, r *http.Request) {
		// The first end call hangs until released, pinning the loop in its
		// shutdown phase.
		if endCalls.Add(1) == 1 {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}
		fmt.Fprint(w, `{"code":0,"message":"ok"}`)
	})
	rest := httptest.NewServer(mux)
	t.Cleanup(rest.Close)
	t.Cleanup(func() { close(release) })

	b := bus.New()
	t.Cleanup(b.Close)

	m := NewManager(ManagerConfig{
		Credentials:       testCreds,
		Host:              rest.URL,
		IdentityCode:      "ABC123",
		HeartbeatInterval: time.Hour,
	}, b, make(chan Event, 16), clockwork.NewRealClock(), nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = m.Stop(ctx)
	})

	_, err := m.Start(context.Background(), "")
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	info, err := m.Stop(cancelled)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, info)

	// The half-stopped session still owns the slot, so a new session cannot
	// run alongside the old loop.
	_, err = m.Start(context.Background(), "")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.TypeConflict))

	status, _ := m.Status()
	require.NotNil(t, status, "the session handle must survive a timed-out stop")
	assert.Equal(t, "g-1", status.SessionID)

	// Abort still reaches the live loop and frees the slot.
	m.Abort()
	status, _ = m.Status()
	assert.Nil(t, status)

	_, err = m.Start(context.Background(), "")
	require.NoError(t, err)
}

func TestManager_StartAfterStop(t *testing.T) {
	m, _ := newTestManager(t, "ABC123", nil)

	_, err := m.Start(context.Background(), "")
	require.NoError(t, err)
	_, err = m.Stop(context.Background())
	require.NoError(t, err)

	_, err = m.Start(context.Background(), "")
	require.NoError(t, err)
}
