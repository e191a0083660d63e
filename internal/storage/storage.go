// Package storage persists every durable record the relay routes through:
// accounts and their tokens, identity handles, the friend graph, queued
// offline messages and group history. Queries are written once with `?`
// placeholders and rebound per driver, so the same code runs on the embedded
// sqlite driver (the zero-config default, sqlite::memory:) and on postgres.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

type Store struct {
	db     *sql.DB
	driver string
	logger *slog.Logger
}

// Open connects to the database named by databaseURL, applies per-driver
// tuning, verifies it answers queries and creates any missing tables. The URL
// scheme picks the driver: sqlite (modernc, embedded) or postgres/postgresql
// (pgx).
func Open(ctx context.Context, databaseURL string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	u, err := url.Parse(strings.TrimSpace(databaseURL))
	if err != nil || u.Scheme == "" {
		return nil, fmt.Errorf("invalid DATABASE_URL %q", databaseURL)
	}

	driverName, dsn, err := resolveDriver(u, databaseURL)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}

	if driverName == "sqlite" {
		// A single shared connection: :memory: databases and PRAGMAs are
		// per-connection state, and one writer avoids SQLITE_BUSY churn.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	s := &Store{
		db:     db,
		driver: driverName,
		logger: logger.With("component", "storage"),
	}

	setupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if driverName == "sqlite" {
		// Runs on the one pooled connection, so it sticks.
		if _, err := db.ExecContext(setupCtx, "PRAGMA foreign_keys = ON;"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}

	if err := s.Ready(setupCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(setupCtx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	s.logger.Info("storage ready", "driver", driverName)
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ready reports whether the database currently answers queries. Backs the
// readiness endpoint and the open-time check.
func (s *Store) Ready(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("storage not open")
	}
	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return err
	}
	if one != 1 {
		return fmt.Errorf("SELECT 1 returned %d", one)
	}
	return nil
}

// resolveDriver maps the URL scheme to a registered driver and its DSN.
// sqlite accepts sqlite::memory:, sqlite:relay.db and sqlite:///var/lib/relay.db;
// postgres URLs are handed to pgx untouched.
func resolveDriver(u *url.URL, raw string) (driver, dsn string, _ error) {
	switch strings.ToLower(u.Scheme) {
	case "sqlite":
		switch {
		case u.Opaque != "":
			return "sqlite", u.Opaque, nil
		case u.Path != "":
			return "sqlite", u.Path, nil
		default:
			return "", "", fmt.Errorf("sqlite DATABASE_URL %q names no database", raw)
		}
	case "postgres", "postgresql":
		return "pgx", raw, nil
	default:
		return "", "", fmt.Errorf("DATABASE_URL scheme %q not supported (sqlite or postgres)", u.Scheme)
	}
}

// RedactedDatabaseURL is the connection string made safe for logs: any
// userinfo password is masked, everything else passes through.
func RedactedDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparseable>"
	}
	if u.User != nil {
		if _, has := u.User.Password(); has {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
		}
	}
	return u.String()
}
