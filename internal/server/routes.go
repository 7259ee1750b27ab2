package server

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	// Observability endpoints
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Live session lifecycle
	s.echo.POST("/api/live/start", s.handleLiveStart)
	s.echo.POST("/api/live/stop", s.handleLiveStop)
	s.echo.GET("/api/live/status", s.handleLiveStatus)

	// Event stream for external consumers (UI overlays etc.)
	s.echo.GET("/ws/events", s.handleEventStream)
}
