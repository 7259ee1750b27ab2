package server

import (
	"context"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/yzbtdiy/VtuberAgent/internal/bus"
	"github.com/yzbtdiy/VtuberAgent/internal/errors"
	"github.com/yzbtdiy/VtuberAgent/internal/live"
	"github.com/yzbtdiy/VtuberAgent/internal/platform/correlation"
)

// healthChecker is a dependency that can report its own liveness.
type healthChecker interface {
	Ping(ctx context.Context) error
}

type Server struct {
	echo      *echo.Echo
	bus       *bus.Bus
	startTime time.Time

	// The manager's Start/Stop contract requires callers to serialize;
	// concurrent HTTP requests are serialized here.
	mu      sync.Mutex
	manager *live.Manager

	checks map[string]healthChecker
}

// NewServer wires the HTTP control and stream surface. redis and postgres
// checkers may be nil when those integrations are disabled.
func NewServer(manager *live.Manager, b *bus.Bus, redis, postgres healthChecker) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(correlationMiddleware())
	e.Use(errors.Middleware())

	srv := &Server{
		echo:      e,
		bus:       b,
		startTime: time.Now(),
		manager:   manager,
		checks:    make(map[string]healthChecker),
	}
	if redis != nil {
		srv.checks["redis"] = redis
	}
	if postgres != nil {
		srv.checks["postgres"] = postgres
	}

	srv.registerRoutes()
	return srv
}

// Start begins serving on the given port. Blocks until shutdown.
func (s *Server) Start(port string) error {
	return s.echo.Start(":" + port)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// correlationMiddleware attaches a fresh correlation id to every request
// context so downstream log records carry it.
func correlationMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := correlation.WithID(c.Request().Context(), correlation.NewID())
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}
