package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/manpreetbhatti/huddle/internal/api"
	"github.com/manpreetbhatti/huddle/internal/config"
	"github.com/manpreetbhatti/huddle/internal/db"
	"github.com/manpreetbhatti/huddle/internal/journal"
	"github.com/manpreetbhatti/huddle/internal/ratelimit"
	"github.com/manpreetbhatti/huddle/internal/ws"
)

func main() {
	// .env is optional outside development
	_ = godotenv.Load()

	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	cfg, err := config.Load(bootLogger, "huddle")
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		bootLogger.Error("build logger", "err", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.New(cfg.DB.Path, logger)
	if err != nil {
		return err
	}
	defer database.Close()

	activity := journal.New(database, journal.Config{
		QueueSize:     cfg.Journal.QueueSize,
		Retention:     cfg.Journal.Retention,
		PruneInterval: cfg.Journal.PruneInterval,
	}, logger)
	activity.Start()
	defer activity.Stop()

	hub := ws.NewHub(logger, ws.WithJournal(activity))
	hubCtx, stopHub := context.WithCancel(context.Background())
	go hub.Run(hubCtx)
	defer func() {
		stopHub()
		<-hub.Done()
	}()

	var upgrades *ratelimit.ClientLimiters
	if n := cfg.WS.UpgradesPerMinute; n > 0 {
		upgrades = ratelimit.NewClientLimiters(float64(n)/60, n)
		defer upgrades.Stop()
	}

	wsHandler := ws.NewHandler(hub, ws.Options{
		MaxMessageSize:    cfg.WS.MaxMessageSize,
		SendBuffer:        cfg.WS.SendBuffer,
		MessagesPerSecond: cfg.WS.MessagesPerSecond,
		MessageBurst:      cfg.WS.MessageBurst,
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		Upgrades:          upgrades,
	}, logger)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           api.NewRouter(api.New(hub, database, logger), wsHandler, cfg.Server.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("huddle server starting", "addr", srv.Addr, "db", cfg.DB.Path,
			"endpoints", []string{"/ws", "/health", "/metrics", "/api/stats", "/api/rooms", "/api/rooms/{code}", "/api/sessions"})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// hijacked websocket connections are closed by the hub, not by Shutdown
	return srv.Shutdown(shutdownCtx)
}
