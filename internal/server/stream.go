package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/yzbtdiy/VtuberAgent/internal/metrics"
)

const streamWriteTimeout = 5 * time.Second

var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The stream is consumed by local UIs and tooling; origin policy is
	// enforced upstream when the server is exposed.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleEventStream upgrades the connection and forwards every fan-out bus
// envelope to the client until it disconnects or the bus closes.
func (s *Server) handleEventStream(c echo.Context) error {
	conn, err := streamUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return nil // Upgrade already wrote the error response
	}

	sub, unsubscribe := s.bus.Subscribe(64)
	defer unsubscribe()

	metrics.StreamClientsConnected.Inc()
	defer metrics.StreamClientsConnected.Dec()
	slog.Debug("Event stream client connected", "remote", conn.RemoteAddr().String())

	// Reader goroutine: drains client frames and signals disconnect.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer conn.Close()
	for {
		select {
		case env, ok := <-sub:
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(streamWriteTimeout))
				return nil
			}
			data, err := json.Marshal(env)
			if err != nil {
				slog.Error("Failed to marshal stream envelope", "event", env.Event, "error", err)
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				slog.Debug("Event stream write failed, dropping client", "error", err)
				return nil
			}
			metrics.StreamMessagesSentTotal.Inc()
		case <-clientGone:
			slog.Debug("Event stream client disconnected")
			return nil
		}
	}
}
