// Package logging builds the process-wide structured logger. Components
// derive children with logger.With("component", ...), so every line carries
// the service name and its origin.
package logging

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
)

// New returns a JSON slog logger writing to stdout at the given level.
func New(level string) (*slog.Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler).With("service", "relay-backend"), nil
}

// StdLogger adapts the slog handler for net/http's ErrorLog, which still
// wants a *log.Logger.
func StdLogger(logger *slog.Logger) *log.Logger {
	return slog.NewLogLogger(logger.Handler(), slog.LevelError)
}

func parseLevel(level string) (slog.Level, error) {
	level = strings.TrimSpace(level)
	switch strings.ToLower(level) {
	case "":
		return slog.LevelInfo, nil
	case "warning":
		return slog.LevelWarn, nil
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return 0, fmt.Errorf("unknown LOG_LEVEL %q (expected debug|info|warn|error)", level)
	}
	return lvl, nil
}
