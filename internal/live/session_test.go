package live

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yzbtdiy/VtuberAgent/internal/bus"
)

// pushServer is a fake open-platform push endpoint.
type pushServer struct {
	srv      *httptest.Server
	path     atomic.Value // string, last upgraded request path
	conns    chan *websocket.Conn
	received chan Packet
}

func newPushServer(t *testing.T) *pushServer {
	t.Helper()
	ps := &pushServer{
		conns:    make(chan *websocket.Conn, 4),
		received: make(chan Packet, 64),
	}
	upgrader := websocket.Upgrader{}

	ps.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ps.path.Store(r.URL.Path)
		ps.conns <- conn
		for {
			msgType, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msgType != websocket.BinaryMessage {
				continue
			}
			packets, err := DecodePackets(payload)
			if err != nil {
				continue
			}
			for _, p := range packets {
				ps.received <- p
			}
		}
	}))
	t.Cleanup(ps.srv.Close)
	return ps
}

func (ps *pushServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ps.srv.URL, "http")
}

func (ps *pushServer) nextPacket(t *testing.T) Packet {
	t.Helper()
	select {
	case p := <-ps.received:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for packet from client")
		return Packet{}
	}
}

func (ps *pushServer) conn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-ps.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client connection")
		return nil
	}
}

// restServer is a fake lifecycle API counting heartbeat/end calls.
type restServer struct {
	srv        *httptest.Server
	heartbeats atomic.Int64
	ends       atomic.Int64
}

func newRESTServer(t *testing.T) *restServer {
	t.Helper()
	rs := &restServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/app/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		rs.heartbeats.Add(1)
		fmt.Fprint(w, `{"code":0,"message":"ok"}`)
	})
	mux.HandleFunc("/v2/app/end", func(w http.ResponseWriter, r *http.Request) {
		rs.ends.Add(1)
		fmt.Fprint(w, `{"code":0,"message":"ok"}`)
	})
	rs.srv = httptest.NewServer(mux)
	t.Cleanup(rs.srv.Close)
	return rs
}

type sessionFixture struct {
	push    *pushServer
	rest    *restServer
	clock   *clockwork.FakeClock
	bus     *bus.Bus
	queue   chan Event
	session *Session
}

func startTestSession(t *testing.T, wsURL string, apiInterval time.Duration) *sessionFixture {
	t.Helper()

	push := newPushServer(t)
	if wsURL == "" {
		wsURL = push.wsURL()
	}
	rest := newRESTServer(t)
	clock := clockwork.NewFakeClockAt(time.Unix(1700000000, 0))

	b := bus.New()
	t.Cleanup(b.Close)
	queue := make(chan Event, 16)

	client := NewClient(testCreds, rest.srv.URL, clock)
	dispatcher := NewDispatcher(b, queue)

	info := SessionInfo{SessionID: "g-1", RoomID: 42, AnchorName: "anchor", StartedAt: clock.Now()}
	session, err := startSession(context.Background(), client, dispatcher, clock, wsURL, `{"auth":"body"}`, info, apiInterval)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = session.Stop(ctx)
	})

	return &sessionFixture{push: push, rest: rest, clock: clock, bus: b, queue: queue, session: session}
}

func waitForState(t *testing.T, s *Session, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return s.State() == want },
		2*time.Second, 5*time.Millisecond, "expected state %s, got %s", want, s.State())
}

func TestSession_AppendsSubPath(t *testing.T) {
	f := startTestSession(t, "", 30*time.Second)
	f.push.conn(t)
	assert.Equal(t, "/sub", f.push.path.Load())
	waitForState(t, f.session, StateListening)
}

func TestEnsureSubPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"wss://host/path", "wss://host/path/sub"},
		{"wss://host/path/", "wss://host/path/sub"},
		{"wss://host/path/sub", "wss://host/path/sub"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ensureSubPath(tt.in))
	}
}

func TestSession_SendsAuthFrameFirst(t *testing.T) {
	f := startTestSession(t, "", 30*time.Second)

	p := f.push.nextPacket(t)
	assert.Equal(t, OpAuth, p.Operation)
	assert.JSONEq(t, `{"auth":"body"}`, string(p.Body))
}

func TestSession_SocketHeartbeatOnTick(t *testing.T) {
	f := startTestSession(t, "", time.Hour)
	f.push.nextPacket(t) // auth
	waitForState(t, f.session, StateListening)

	// Both loop tickers must exist before advancing the clock.
	f.clock.BlockUntil(2)
	f.clock.Advance(wsHeartbeatInterval)

	p := f.push.nextPacket(t)
	assert.Equal(t, OpHeartbeat, p.Operation)
	assert.Empty(t, p.Body)
}

func TestSession_RestHeartbeatOnTick(t *testing.T) {
	f := startTestSession(t, "", 7*time.Second)
	waitForState(t, f.session, StateListening)

	f.clock.BlockUntil(2)
	f.clock.Advance(7 * time.Second)

	require.Eventually(t, func() bool { return f.rest.heartbeats.Load() == 1 },
		2*time.Second, 5*time.Millisecond)
}

func TestSession_InboundEventsDispatchedInOrder(t *testing.T) {
	f := startTestSession(t, "", time.Hour)
	waitForState(t, f.session, StateListening)
	conn := f.push.conn(t)

	for i := 0; i < 3; i++ {
		body := fmt.Sprintf(`{"cmd":"EVT_%d","data":{}}`, i)
		frame := EncodePacket(OpSendEvent, []byte(body))
		require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, frame))
	}

	for i := 0; i < 3; i++ {
		select {
		case event := <-f.queue:
			assert.Equal(t, fmt.Sprintf("EVT_%d", i), event.Cmd)
			assert.Equal(t, json.RawMessage(`{}`), event.Data)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestSession_StopCallsEndExactlyOnce(t *testing.T) {
	f := startTestSession(t, "", time.Hour)
	waitForState(t, f.session, StateListening)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.session.Stop(ctx))

	assert.Equal(t, StateClosed, f.session.State())
	assert.Equal(t, int64(1), f.rest.ends.Load())

	// A second stop finds the loop already unwound and does not call end again.
	require.NoError(t, f.session.Stop(ctx))
	assert.Equal(t, int64(1), f.rest.ends.Load())
}

func TestSession_ServerCloseEndsLoopCleanly(t *testing.T) {
	f := startTestSession(t, "", time.Hour)
	waitForState(t, f.session, StateListening)
	conn := f.push.conn(t)

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	require.NoError(t, conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)))

	waitForState(t, f.session, StateClosed)
	assert.NoError(t, f.session.terminalErr())
	assert.Equal(t, int64(1), f.rest.ends.Load())
}

func TestSession_AbruptDisconnectIsTerminalFailure(t *testing.T) {
	f := startTestSession(t, "", time.Hour)
	waitForState(t, f.session, StateListening)
	conn := f.push.conn(t)

	// Kill the TCP connection without a close handshake.
	require.NoError(t, conn.Close())

	waitForState(t, f.session, StateFailed)
	assert.Error(t, f.session.terminalErr())
	// The end call still runs best effort.
	assert.Equal(t, int64(1), f.rest.ends.Load())
}

func TestStartSession_HandshakeFailure(t *testing.T) {
	rest := newRESTServer(t)
	clock := clockwork.NewFakeClockAt(time.Unix(1700000000, 0))
	client := NewClient(testCreds, rest.srv.URL, clock)
	dispatcher := NewDispatcher(bus.New(), nil)

	_, err := startSession(context.Background(), client, dispatcher, clock,
		"ws://127.0.0.1:1/none", "auth", SessionInfo{SessionID: "g-1"}, time.Hour)
	require.Error(t, err)
	assert.Equal(t, int64(0), rest.ends.Load())
}
