package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/yzbtdiy/VtuberAgent/internal/errors"
	"github.com/yzbtdiy/VtuberAgent/internal/live"
)

type startRequest struct {
	IdentityCode string `json:"identity_code"`
}

type statusResponse struct {
	Active  bool              `json:"active"`
	State   string            `json:"state,omitempty"`
	Session *live.SessionInfo `json:"session,omitempty"`
}

type stopResponse struct {
	Status        string            `json:"status"`
	Session       *live.SessionInfo `json:"session,omitempty"`
	TerminalError string            `json:"terminal_error,omitempty"`
}

func (s *Server) handleLiveStart(c echo.Context) error {
	var req startRequest
	// An empty body is fine, binding skips it; the configured identity code
	// is the default then.
	if err := c.Bind(&req); err != nil {
		return errors.ConfigError("malformed request body")
	}

	s.mu.Lock()
	info, err := s.manager.Start(c.Request().Context(), req.IdentityCode)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, statusResponse{
		Active:  true,
		State:   live.StateListening.String(),
		Session: &info,
	})
}

func (s *Server) handleLiveStop(c echo.Context) error {
	s.mu.Lock()
	info, err := s.manager.Stop(c.Request().Context())
	s.mu.Unlock()

	if info == nil {
		return c.JSON(http.StatusOK, stopResponse{Status: "no_session"})
	}

	resp := stopResponse{Status: "stopped", Session: info}
	if err != nil {
		// The session's terminal transport error is reported, not a failure
		// of the stop itself.
		resp.TerminalError = err.Error()
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleLiveStatus(c echo.Context) error {
	s.mu.Lock()
	info, state := s.manager.Status()
	s.mu.Unlock()

	if info == nil {
		return c.JSON(http.StatusOK, statusResponse{Active: false})
	}
	return c.JSON(http.StatusOK, statusResponse{
		Active:  true,
		State:   state.String(),
		Session: info,
	})
}
