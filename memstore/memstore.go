// Package memstore provides an in-memory session storage implementation.
//
// Memstore allows storing, retrieving, and destroying sessions keyed by
// session id. Records are kept encoded, exactly as a remote store would
// keep them, and expire after the lifetime resolved from the store TTL or
// the session's cookie hint. Expired records are dropped lazily on Get and
// by an optional periodic cleanup.
//
// This package is suitable for single-process applications or testing
// scenarios. It is not persistent and does not share state across
// processes.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bluescreen10/cqlsession/internal/expiry"
	"github.com/bluescreen10/cqlsession/session"
)

var _ session.Store = (*Memstore)(nil)

// Memstore is an in-memory storage for sessions.
// It is safe for concurrent use by multiple goroutines.
type Memstore struct {
	sessions sync.Map
	ttl      int
	codec    session.Codec
	now      func() time.Time
}

// record represents a single stored session, containing the encoded data
// and its expiration time.
type record struct {
	expiresAt time.Time
	data      []byte
}

type config func(*Memstore)

// WithTTL sets a lifetime in seconds overriding the session hint.
func WithTTL(seconds int) config {
	return config(func(m *Memstore) {
		m.ttl = seconds
	})
}

// WithCodec sets the codec used to encode records. (default JSON)
func WithCodec(codec session.Codec) config {
	return config(func(m *Memstore) {
		m.codec = codec
	})
}

// WithClock sets the function used to read the current time.
func WithClock(now func() time.Time) config {
	return config(func(m *Memstore) {
		m.now = now
	})
}

// New creates and returns a new Memstore instance.
func New(cfgs ...config) *Memstore {
	m := &Memstore{
		codec: session.JSONCodec{},
		now:   time.Now,
	}

	for _, cfg := range cfgs {
		cfg(m)
	}

	return m
}

// Get retrieves the session associated with the given id. If the record
// has expired, it is automatically deleted and Get reports not found.
func (m *Memstore) Get(ctx context.Context, id string) (*session.Record, bool, error) {
	r, ok := m.sessions.Load(id)

	if !ok {
		return nil, false, nil
	}

	rec := r.(record)
	if !m.now().Before(rec.expiresAt) {
		m.sessions.CompareAndDelete(id, r)
		return nil, false, nil
	}

	if len(rec.data) == 0 {
		return nil, false, nil
	}

	sess, err := m.codec.Decode(rec.data)
	if err != nil {
		return nil, false, fmt.Errorf("decoding session: %w", err)
	}
	if sess == nil {
		return nil, false, nil
	}

	return sess, true, nil
}

// Set stores the session under the given id. If a record with the same id
// already exists, it is overwritten.
func (m *Memstore) Set(ctx context.Context, id string, sess *session.Record) error {
	data, err := m.codec.Encode(sess)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}

	rec := record{expiresAt: expiry.Deadline(m.now(), m.ttl, sess), data: data}
	m.sessions.Store(id, rec)
	return nil
}

// Destroy removes the session associated with the given id. If the id
// does not exist, this is a no-op.
func (m *Memstore) Destroy(ctx context.Context, id string) error {
	m.sessions.Delete(id)
	return nil
}

// Count returns the number of records held, expired or not.
func (m *Memstore) Count() int {
	n := 0
	m.sessions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
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
func (m *Memstore) PeriodicCleanUp(interval time.Duration, stop <-chan (struct{})) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.deleteExpired()
		case <-stop:
			return
		}
	}
}

// deleteExpired removes all expired records from the Memstore.
func (m *Memstore) deleteExpired() {
	now := m.now()
	m.sessions.Range(func(key, value any) bool {
		rec := value.(record)
		if !now.Before(rec.expiresAt) {
			m.sessions.CompareAndDelete(key, value)
		}
		return true
	})
}
