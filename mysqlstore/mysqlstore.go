// Package mysqlstore provides a MySQL session storage implementation.
//
// MySQLStore allows storing, retrieving, and destroying sessions keyed by
// session id. Each row has an expiration time resolved from the store TTL
// or the session's cookie hint, and the store supports periodic cleanup of
// expired sessions.
package mysqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/bluescreen10/cqlsession/internal/expiry"
	"github.com/bluescreen10/cqlsession/session"
)

var _ session.Store = (*MySQLStore)(nil)

type MySQLStore struct {
	db     *sql.DB
	ttl    int
	codec  session.Codec
	logger *slog.Logger
}

type config func(*MySQLStore)

// WithTTL sets a lifetime in seconds overriding the session hint.
func WithTTL(seconds int) config {
	return config(func(s *MySQLStore) {
		s.ttl = seconds
	})
}

// WithLogger sets the logger used by the periodic cleanup.
func WithLogger(logger *slog.Logger) config {
	return config(func(s *MySQLStore) {
		s.logger = logger
	})
}

// New creates a MySQLStore. If the sessions table doesn't exist it is
// created.
func New(ctx context.Context, db *sql.DB, cfgs ...config) (*MySQLStore, error) {
	s := &MySQLStore{db: db, codec: session.JSONCodec{}}

	for _, cfg := range cfgs {
		cfg(s)
	}

	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if err := createTable(ctx, db); err != nil {
		return nil, err
	}
	return s, nil
}

// Get retrieves the session associated with the given id. Expired and
// empty rows are reported as not found.
func (s *MySQLStore) Get(ctx context.Context, id string) (*session.Record, bool, error) {

	stmt := "SELECT data FROM sessions WHERE token = ? AND UTC_TIMESTAMP(6) < expires_at"
	row := s.db.QueryRowContext(ctx, stmt, id)

	var data []byte
	err := row.Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("getting session: %w", err)
	}

	if len(data) == 0 {
		return nil, false, nil
	}

	rec, err := s.codec.Decode(data)
	if err != nil {
		return nil, false, fmt.Errorf("decoding session: %w", err)
	}
	if rec == nil {
		return nil, false, nil
	}
	return rec, true, nil
}

// Set stores the session under the given id. If a row with the same id
// already exists, it is overwritten.
func (s *MySQLStore) Set(ctx context.Context, id string, rec *session.Record) error {
	data, err := s.codec.Encode(rec)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}

	expiresAt := expiry.Deadline(time.Now(), s.ttl, rec)
	stmt := "INSERT INTO sessions(token, data, expires_at) VALUES (?, ?, ?) ON DUPLICATE KEY UPDATE data = VALUES(data), expires_at = VALUES(expires_at)"
	if _, err := s.db.ExecContext(ctx, stmt, id, data, expiresAt.UTC()); err != nil {
		return fmt.Errorf("setting session: %w", err)
	}
	return nil
}

// Destroy removes the session associated with the given id.
func (s *MySQLStore) Destroy(ctx context.Context, id string) error {
	stmt := "DELETE FROM sessions WHERE token = ?"
	if _, err := s.db.ExecContext(ctx, stmt, id); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// PeriodicCleanUp runs a loop that periodically deletes expired sessions.
// The cleanup runs every interval duration until a value is received on
// the stop channel, at which point the loop returns.
//
// Example usage:
//
//	stop := make(chan struct{})
//	go store.PeriodicCleanUp(time.Minute, stop)
//	...
//	close(stop) // stop the cleanup
func (s *MySQLStore) PeriodicCleanUp(interval time.Duration, stop <-chan (struct{})) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.deleteExpired()
		case <-stop:
			return
		}
	}
}

// deleteExpired removes all expired rows.
func (s *MySQLStore) deleteExpired() {
	res, err := s.db.Exec("DELETE FROM sessions WHERE UTC_TIMESTAMP(6) > expires_at")
	if err != nil {
		s.logger.Error("deleting expired sessions", "error", err)
		return
	}
	n, _ := res.RowsAffected()
	s.logger.Debug("deleted expired sessions", "rows", n)
}

func createTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS sessions (
			token VARCHAR(128) COLLATE utf8mb4_bin PRIMARY KEY,
			data MEDIUMBLOB NOT NULL,
			expires_at TIMESTAMP(6) NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	_, err = db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS sessions_expires_at_idx ON sessions (expires_at)`)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}
