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

	"relay-backend/internal/config"
	"relay-backend/internal/httpserver"
	"relay-backend/internal/logging"
	"relay-backend/internal/relay"
	"relay-backend/internal/storage"
	"relay-backend/internal/ws"
)

const tokenSweepInterval = time.Hour

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString("config error: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		_, _ = os.Stderr.WriteString("log init error: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Info("starting", "httpAddr", cfg.HTTPAddr, "database", storage.RedactedDatabaseURL(cfg.DatabaseURL))

	store, err := storage.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}

	engine := relay.NewEngine(logger, store)
	dispatcher := relay.NewDispatcher(logger, engine)
	wsManager := ws.NewManager(logger, engine, dispatcher)
	handler := httpserver.NewHandler(logger, store, wsManager)

	go sweepExpiredTokens(ctx, logger, store)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          logging.StdLogger(logger),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("listening", "httpAddr", cfg.HTTPAddr)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			os.Exit(1)
		}
	}

	wsManager.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}

	// No identity survives a restart as online.
	if err := store.MarkAllCharactersOffline(shutdownCtx, time.Now().UnixMilli()); err != nil {
		logger.Error("offline sweep error", "error", err)
	}

	if err := store.Close(); err != nil {
		logger.Error("db close error", "error", err)
	}

	logger.Info("stopped")
}

func sweepExpiredTokens(ctx context.Context, logger *slog.Logger, store *storage.Store) {
	ticker := time.NewTicker(tokenSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.CleanExpiredTokens(ctx, time.Now().UnixMilli())
			if err != nil {
				logger.Warn("token sweep failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("expired tokens removed", "count", n)
			}
		}
	}
}
