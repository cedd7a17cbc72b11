// Package cassandrastore provides a Cassandra session storage implementation.
//
// Store keeps one row per session in a two column table
// (id text PRIMARY KEY, session text). The session column holds the encoded
// record and every write carries a TTL, so expiry is enforced by Cassandra
// itself: the store never scans or sweeps the table.
//
// The table is created when the store is constructed. Creation is
// idempotent, so several processes may start against the same table at
// once.
package cassandrastore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/gocql/gocql"

	"github.com/bluescreen10/cqlsession/internal/expiry"
	"github.com/bluescreen10/cqlsession/session"
)

// DefaultTable is the table used when no table name is configured.
const DefaultTable = "connect_session"

// MaxTTL is the largest TTL, in seconds, Cassandra accepts (20 years).
const MaxTTL = 630720000

const (
	createTableTemplate = `CREATE TABLE IF NOT EXISTS %s (id text PRIMARY KEY, session text)`
	getQueryTemplate    = `SELECT session FROM %s WHERE id = ?`
	setQueryTemplate    = `UPDATE %s USING TTL ? SET session = ? WHERE id = ?`
	deleteQueryTemplate = `DELETE FROM %s WHERE id = ?`
)

var (
	// ErrSchema is returned by New when the session table cannot be
	// created. A store is never returned alongside it.
	ErrSchema = errors.New("cassandrastore: schema initialization failed")

	// ErrTableName reports a table name that is not a valid, optionally
	// keyspace qualified, unquoted CQL identifier.
	ErrTableName = errors.New("invalid table name")

	// ErrTTL is returned by New when the configured TTL exceeds MaxTTL.
	ErrTTL = errors.New("cassandrastore: ttl exceeds maximum")
)

// tableName matches [keyspace.]table with unquoted identifiers.
var tableName = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9_]{0,47}\.)?[A-Za-z][A-Za-z0-9_]{0,47}$`)

var _ session.Store = (*Store)(nil)

// Store is a Cassandra backed storage for sessions. It holds no mutable
// state and is safe for concurrent use.
type Store struct {
	client Client
	table  string
	ttl    int
	read   gocql.Consistency
	write  gocql.Consistency
	codec  session.Codec
	logger *slog.Logger

	getQuery    string
	setQuery    string
	deleteQuery string
}

// Option configures a Store.
type Option func(*Store)

// WithTable sets the session table, optionally qualified with a keyspace.
// (default "connect_session")
func WithTable(table string) Option {
	return func(s *Store) {
		s.table = table
	}
}

// WithTTL sets a lifetime in seconds applied to every write, overriding the
// max-age hint carried by the session. Zero or less leaves it unset. Values
// above MaxTTL make New fail.
func WithTTL(seconds int) Option {
	return func(s *Store) {
		s.ttl = seconds
	}
}

// WithReadConsistency sets the consistency level of reads. (default ONE)
func WithReadConsistency(c gocql.Consistency) Option {
	return func(s *Store) {
		s.read = c
	}
}

// WithWriteConsistency sets the consistency level of writes and deletes.
// (default ANY)
func WithWriteConsistency(c gocql.Consistency) Option {
	return func(s *Store) {
		s.write = c
	}
}

// WithCodec sets the codec used to encode records. (default JSON)
func WithCodec(codec session.Codec) Option {
	return func(s *Store) {
		s.codec = codec
	}
}

// WithLogger sets the logger. (default discards)
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a Store on top of client and makes sure the session table
// exists. Any failure other than the table already existing is returned
// wrapped in ErrSchema.
func New(ctx context.Context, client Client, opts ...Option) (*Store, error) {
	s := &Store{
		client: client,
		table:  DefaultTable,
		read:   gocql.One,
		write:  gocql.Any,
		codec:  session.JSONCodec{},
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if s.ttl > MaxTTL {
		return nil, fmt.Errorf("%w: %d > %d", ErrTTL, s.ttl, MaxTTL)
	}

	if !tableName.MatchString(s.table) {
		return nil, fmt.Errorf("%w: %w %q", ErrSchema, ErrTableName, s.table)
	}

	s.getQuery = fmt.Sprintf(getQueryTemplate, s.table)
	s.setQuery = fmt.Sprintf(setQueryTemplate, s.table)
	s.deleteQuery = fmt.Sprintf(deleteQueryTemplate, s.table)

	if err := s.createTable(ctx); err != nil {
		return nil, err
	}

	return s, nil
}

// NewFromSession creates a Store from a connected gocql session.
func NewFromSession(ctx context.Context, sess *gocql.Session, opts ...Option) (*Store, error) {
	return New(ctx, NewClient(sess), opts...)
}

// Table returns the name of the session table.
func (s *Store) Table() string {
	return s.table
}

// Get retrieves the session stored under id. Zero rows, more than one row,
// an empty payload or a null record are all reported as not found. A payload that fails to
// decode is an error wrapping session.ErrMalformed.
func (s *Store) Get(ctx context.Context, id string) (*session.Record, bool, error) {
	rows, err := s.client.Select(ctx, Statement{
		CQL:         s.getQuery,
		Values:      []any{id},
		Consistency: s.read,
		Idempotent:  true,
	})
	if err != nil {
		return nil, false, fmt.Errorf("getting session: %w", err)
	}

	if len(rows) != 1 {
		if len(rows) > 1 {
			s.logger.WarnContext(ctx, "primary key lookup returned several rows", "table", s.table, "rows", len(rows))
		}
		return nil, false, nil
	}

	if rows[0] == "" {
		return nil, false, nil
	}

	rec, err := s.codec.Decode([]byte(rows[0]))
	if err != nil {
		return nil, false, fmt.Errorf("decoding session: %w", err)
	}
	if rec == nil {
		return nil, false, nil
	}

	return rec, true, nil
}

// Set stores rec under id with a TTL, overwriting any existing row. A TTL
// derived from the cookie hint is capped at MaxTTL.
func (s *Store) Set(ctx context.Context, id string, rec *session.Record) error {
	data, err := s.codec.Encode(rec)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}

	err = s.client.Exec(ctx, Statement{
		CQL:         s.setQuery,
		Values:      []any{min(expiry.Seconds(s.ttl, rec), MaxTTL), string(data), id},
		Consistency: s.write,
		Idempotent:  true,
	})
	if err != nil {
		return fmt.Errorf("setting session: %w", err)
	}
	return nil
}

// Destroy removes the session stored under id. Removing a missing session
// is not an error.
func (s *Store) Destroy(ctx context.Context, id string) error {
	err := s.client.Exec(ctx, Statement{
		CQL:         s.deleteQuery,
		Values:      []any{id},
		Consistency: s.write,
		Idempotent:  true,
	})
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

func (s *Store) createTable(ctx context.Context) error {
	err := s.client.Exec(ctx, Statement{
		CQL:         fmt.Sprintf(createTableTemplate, s.table),
		Consistency: gocql.One,
	})
	if err != nil && !alreadyExists(err) {
		return fmt.Errorf("%w: failed to create table %s: %w", ErrSchema, s.table, err)
	}

	s.logger.DebugContext(ctx, "session table ready", "table", s.table, "existed", err != nil)
	return nil
}

// alreadyExists reports whether err is the error returned to the loser of a
// concurrent table creation.
func alreadyExists(err error) bool {
	var ae *gocql.RequestErrAlreadyExists
	if errors.As(err, &ae) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "already exist")
}
