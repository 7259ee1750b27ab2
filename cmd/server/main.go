package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/yzbtdiy/VtuberAgent/internal/bus"
	"github.com/yzbtdiy/VtuberAgent/internal/database"
	"github.com/yzbtdiy/VtuberAgent/internal/live"
	"github.com/yzbtdiy/VtuberAgent/internal/platform/config"
	"github.com/yzbtdiy/VtuberAgent/internal/platform/logging"
	"github.com/yzbtdiy/VtuberAgent/internal/platform/version"
	"github.com/yzbtdiy/VtuberAgent/internal/redis"
	"github.com/yzbtdiy/VtuberAgent/internal/server"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(cfg *config.Config) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := database.Migrate(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return pool
}

func setupRedis(cfg *config.Config) *redis.Client {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := redis.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

// drainEvents consumes the manager's event queue until it is closed. It is
// the in-process consumer; external consumers subscribe via the bus.
func drainEvents(queue <-chan live.Event) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for event := range queue {
			slog.Debug("Event consumed", "cmd", event.Cmd, "size", len(event.Data))
		}
	}()
	return done
}

func runGracefulShutdown(srv *server.Server, manager *live.Manager, relay *redis.Relay, b *bus.Bus, queue chan live.Event) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		stopCtx, cancelStop := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancelStop()
		if _, err := manager.Stop(stopCtx); err != nil {
			if stopCtx.Err() != nil {
				slog.Error("Session stop timed out, aborting", "error", err)
				manager.Abort()
			} else {
				slog.Warn("Session ended with error", "error", err)
			}
		}

		if relay != nil {
			relay.Close()
		}
		b.Close()
		close(queue)

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	info := version.Get()
	slog.Info("Application starting",
		"env", cfg.AppEnv,
		"port", cfg.Port,
		"version", info.Version,
		"commit", info.Commit,
	)

	b := bus.New()
	queue := make(chan live.Event, cfg.EventQueueSize)
	consumerDone := drainEvents(queue)

	var (
		redisClient *redis.Client
		relay       *redis.Relay
	)
	if cfg.RedisURL != "" {
		redisClient = setupRedis(cfg)
		defer func() { _ = redisClient.Close() }()
		relay = redis.NewRelay(redisClient, redis.DefaultChannel, b)
	}

	var (
		pool     *pgxpool.Pool
		recorder live.Recorder
	)
	if cfg.DatabaseURL != "" {
		pool = setupDB(cfg)
		defer pool.Close()
		recorder = database.NewSessionRepo(pool)
	}

	manager := live.NewManager(live.ManagerConfig{
		Credentials: live.Credentials{
			AccessKey:    cfg.BiliAccessKey,
			AccessSecret: cfg.BiliAccessSecret,
			AppID:        cfg.BiliAppID,
		},
		Host:              cfg.BiliAPIHost,
		IdentityCode:      cfg.BiliIdentityCode,
		HeartbeatInterval: cfg.HeartbeatInterval,
	}, b, queue, clock, recorder)

	// Pass nil explicitly to avoid typed-nil interface values.
	var redisCheck, postgresCheck interface {
		Ping(ctx context.Context) error
	}
	if redisClient != nil {
		redisCheck = redisClient
	}
	if pool != nil {
		postgresCheck = pool
	}
	srv := server.NewServer(manager, b, redisCheck, postgresCheck)

	done := runGracefulShutdown(srv, manager, relay, b, queue)

	slog.Info("Server listening", "port", cfg.Port)
	if err := srv.Start(cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
	<-consumerDone
	slog.Info("Shutdown complete")
}
