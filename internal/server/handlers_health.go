package server

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/yzbtdiy/VtuberAgent/internal/platform/version"
)

func (s *Server) handleLiveness(c echo.Context) error {
	uptime := time.Since(s.startTime).Seconds()
	return c.JSON(200, map[string]any{
		"status": "ok",
		"uptime": uptime,
	})
}

func (s *Server) handleReadiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	for name, check := range s.checks {
		if err := check.Ping(ctx); err != nil {
			return c.JSON(503, map[string]any{
				"status":       "unhealthy",
				"failed_check": name,
				"error":        err.Error(),
			})
		}
	}

	return c.JSON(200, map[string]any{
		"status":  "ready",
		"version": version.Get(),
	})
}
