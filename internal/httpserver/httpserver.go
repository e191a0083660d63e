package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"relay-backend/internal/ws"
)

type Store interface {
	Ready(ctx context.Context) error
}

// NewHandler mounts the health endpoints and the websocket upgrade path.
// Everything else rides the socket; there is no REST surface.
func NewHandler(logger *slog.Logger, store Store, wsManager *ws.Manager) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, `{"status":"ok","connections":%d,"identities":%d}`,
			wsManager.ConnectionCount(), wsManager.IdentityCount())
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := store.Ready(r.Context()); err != nil {
			logger.Warn("ready check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	mux.Handle("/ws", wsManager.Handler())

	return chain(
		mux,
		recoverMiddleware(logger),
		requestLogMiddleware(logger),
		corsMiddleware(),
	)
}
