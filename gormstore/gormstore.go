// Package gormstore provides a gorm session storage implementation.
//
// GORMStore allows storing, retrieving, and destroying sessions keyed by
// session id. Each row has an expiration time resolved from the store TTL
// or the session's cookie hint, and the store supports periodic cleanup of
// expired sessions.
package gormstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bluescreen10/cqlsession/internal/expiry"
	"github.com/bluescreen10/cqlsession/session"
)

var _ session.Store = (*GORMStore)(nil)

// GORMStore is a gorm backed storage for sessions.
type GORMStore struct {
	db     *gorm.DB
	ttl    int
	codec  session.Codec
	logger *slog.Logger
	now    func() time.Time
}

// row represents a single stored session, containing the encoded data
// and its expiration time.
type row struct {
	Token     string `gorm:"primaryKey;size:128"`
	Data      []byte
	ExpiresAt time.Time `gorm:"index"`
}

func (row) TableName() string {
	return "sessions"
}

type config func(*GORMStore)

func utcNow() time.Time {
	return time.Now().UTC()
}

// WithTTL sets a lifetime in seconds overriding the session hint.
func WithTTL(seconds int) config {
	return config(func(s *GORMStore) {
		s.ttl = seconds
	})
}

// WithLogger sets the logger used by the periodic cleanup.
func WithLogger(logger *slog.Logger) config {
	return config(func(s *GORMStore) {
		s.logger = logger
	})
}

// WithClock sets the function used to read the current time.
func WithClock(now func() time.Time) config {
	return config(func(s *GORMStore) {
		s.now = now
	})
}

// New creates and returns a new GORMStore instance.
// If the sessions table doesn't exists it is created.
func New(db *gorm.DB, cfgs ...config) (*GORMStore, error) {
	s := &GORMStore{db: db, codec: session.JSONCodec{}, now: utcNow}

	for _, cfg := range cfgs {
		cfg(s)
	}

	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if err := db.AutoMigrate(&row{}); err != nil {
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	return s, nil
}

// Get retrieves the session associated with the given id. Expired and
// empty rows are reported as not found.
func (s *GORMStore) Get(ctx context.Context, id string) (*session.Record, bool, error) {
	r := &row{}
	tx := s.db.WithContext(ctx).Where("token = ? AND expires_at > ?", id, s.now()).Limit(1).Find(r)
	if tx.Error != nil {
		return nil, false, fmt.Errorf("getting session: %w", tx.Error)
	}
	if tx.RowsAffected == 0 || len(r.Data) == 0 {
		return nil, false, nil
	}

	rec, err := s.codec.Decode(r.Data)
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
func (s *GORMStore) Set(ctx context.Context, id string, rec *session.Record) error {
	data, err := s.codec.Encode(rec)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}

	r := &row{Token: id, Data: data, ExpiresAt: expiry.Deadline(s.now(), s.ttl, rec)}
	tx := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "expires_at"}),
	}).Create(r)
	if tx.Error != nil {
		return fmt.Errorf("setting session: %w", tx.Error)
	}
	return nil
}

// Destroy removes the session associated with the given id.
func (s *GORMStore) Destroy(ctx context.Context, id string) error {
	tx := s.db.WithContext(ctx).Delete(&row{}, "token = ?", id)
	if tx.Error != nil {
		return fmt.Errorf("deleting session: %w", tx.Error)
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
func (s *GORMStore) PeriodicCleanUp(interval time.Duration, stop <-chan (struct{})) {
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
func (s *GORMStore) deleteExpired() {
	tx := s.db.Delete(&row{}, "expires_at <= ?", s.now())
	if tx.Error != nil {
		s.logger.Error("deleting expired sessions", "error", tx.Error)
		return
	}
	s.logger.Debug("deleted expired sessions", "rows", tx.RowsAffected)
}
