package live

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/yzbtdiy/VtuberAgent/internal/errors"
	"github.com/yzbtdiy/VtuberAgent/internal/metrics"
)

// State is the lifecycle state of a Session.
type State int32

const (
	StateStarting State = iota + 1
	StateConnected
	StateListening
	StateShuttingDown
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateConnected:
		return "connected"
	case StateListening:
		return "listening"
	case StateShuttingDown:
		return "shutting_down"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "idle"
	}
}

const (
	// The push socket expects a protocol heartbeat every 20 seconds
	// regardless of the configured REST heartbeat interval.
	wsHeartbeatInterval = 20 * time.Second

	// endCallTimeout bounds the best-effort end call during shutdown.
	endCallTimeout = 10 * time.Second

	subPathSuffix = "/sub"
)

// Session owns one socket connection to the push service and runs the event
// loop in a single goroutine. The socket write half is exclusively owned by
// that goroutine.
type Session struct {
	info       SessionInfo
	client     *Client
	dispatcher *Dispatcher
	clock      clockwork.Clock
	conn       *websocket.Conn

	apiHeartbeatInterval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
	state  atomic.Int32

	mu  sync.Mutex
	err error // terminal transport error, set before done is closed
}

// startSession dials the push socket, sends the AUTH frame, and spawns the
// event loop. Any failure here aborts before a handle is returned.
func startSession(ctx context.Context, client *Client, dispatcher *Dispatcher, clock clockwork.Clock, wsURL, authBody string, info SessionInfo, apiHeartbeatInterval time.Duration) (*Session, error) {
	s := &Session{
		info:                 info,
		client:               client,
		dispatcher:           dispatcher,
		clock:                clock,
		apiHeartbeatInterval: apiHeartbeatInterval,
		done:                 make(chan struct{}),
	}
	s.setState(StateStarting)

	url := ensureSubPath(wsURL)
	slog.Info("Connecting to live push socket", "url", url)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		s.setState(StateFailed)
		return nil, errors.ConnectError("websocket handshake failed", err).
			WithContext("url", url)
	}
	s.conn = conn
	s.setState(StateConnected)

	// Auth is fire-and-forget: a rejected auth surfaces later as a protocol
	// anomaly on the stream, not as a blocking handshake step.
	if err := conn.WriteMessage(websocket.BinaryMessage, EncodePacket(OpAuth, []byte(authBody))); err != nil {
		conn.Close()
		s.setState(StateFailed)
		return nil, errors.TransportError("failed to send auth frame", err)
	}
	metrics.FramesSentTotal.WithLabelValues("auth").Inc()

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.run(loopCtx)

	return s, nil
}

// Info returns the immutable session snapshot.
func (s *Session) Info() SessionInfo {
	return s.info
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(state State) {
	s.state.Store(int32(state))
	metrics.SessionState.Set(float64(state))
}

// Stop signals cancellation and waits for the loop to reach its terminal
// state. It returns the session's terminal transport error, if any.
func (s *Session) Stop(ctx context.Context) error {
	s.cancel()
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.terminalErr()
}

// Abort tears the session down without waiting. The best-effort end call is
// not guaranteed to run; a leaked upstream session expires via the server's
// heartbeat timeout. Only for teardown-without-graceful-shutdown.
func (s *Session) Abort() {
	s.cancel()
	s.conn.Close()
}

// Done is closed when the event loop has fully unwound.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) terminalErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	s.setState(StateListening)

	frames := make(chan []byte, 16)
	readErr := make(chan error, 1)
	go s.readPump(ctx, frames, readErr)

	wsTicker := s.clock.NewTicker(wsHeartbeatInterval)
	defer wsTicker.Stop()
	apiTicker := s.clock.NewTicker(s.apiHeartbeatInterval)
	defer apiTicker.Stop()

	var terminal error

loop:
	for {
		select {
		case <-wsTicker.Chan():
			if err := s.conn.WriteMessage(websocket.BinaryMessage, EncodePacket(OpHeartbeat, nil)); err != nil {
				// The read side surfaces a dead socket; keep looping.
				metrics.HeartbeatFailuresTotal.WithLabelValues("ws").Inc()
				slog.Warn("Failed to send socket heartbeat", "error", err)
				continue
			}
			metrics.HeartbeatsSentTotal.WithLabelValues("ws").Inc()
			metrics.FramesSentTotal.WithLabelValues("heartbeat").Inc()

		case <-apiTicker.Chan():
			hbCtx, hbCancel := context.WithTimeout(ctx, requestTimeout)
			err := s.client.Heartbeat(hbCtx, s.info.SessionID)
			hbCancel()
			if err != nil {
				metrics.HeartbeatFailuresTotal.WithLabelValues("api").Inc()
				slog.Warn("Project heartbeat failed", "error", err)
				continue
			}
			metrics.HeartbeatsSentTotal.WithLabelValues("api").Inc()

		case payload := <-frames:
			s.dispatcher.HandlePayload(payload)

		case err := <-readErr:
			if err != nil && !isCleanClose(err) {
				terminal = errors.TransportError("socket read failed", err)
				slog.Warn("Live socket read failed", "error", err)
			} else {
				slog.Info("Live socket closed by server")
			}
			break loop

		case <-ctx.Done():
			slog.Info("Shutdown signal received, leaving live session")
			break loop
		}
	}

	s.setState(StateShuttingDown)
	s.conn.Close()

	// Best-effort teardown; only guaranteed on a clean stop.
	endCtx, endCancel := context.WithTimeout(context.Background(), endCallTimeout)
	defer endCancel()
	if err := s.client.End(endCtx, s.info.SessionID); err != nil {
		slog.Warn("End call failed", "session_id", s.info.SessionID, "error", err)
	}

	s.mu.Lock()
	s.err = terminal
	s.mu.Unlock()

	if terminal != nil {
		s.setState(StateFailed)
	} else {
		s.setState(StateClosed)
	}
}

// readPump forwards inbound binary frames to the event loop. It exits on the
// first read error or when ctx is cancelled while the loop is no longer
// draining frames.
func (s *Session) readPump(ctx context.Context, frames chan<- []byte, readErr chan<- error) {
	for {
		msgType, payload, err := s.conn.ReadMessage()
		if err != nil {
			readErr <- err
			return
		}
		switch msgType {
		case websocket.BinaryMessage:
			select {
			case frames <- payload:
			case <-ctx.Done():
				return
			}
		case websocket.TextMessage:
			slog.Debug("Ignoring text message on push socket", "bytes", len(payload))
		}
	}
}

func isCleanClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

// ensureSubPath appends the fixed subscription path if the returned socket
// URL does not already carry it.
func ensureSubPath(wsURL string) string {
	if strings.HasSuffix(wsURL, subPathSuffix) {
		return wsURL
	}
	if strings.HasSuffix(wsURL, "/") {
		return wsURL + "sub"
	}
	return wsURL + subPathSuffix
}
