// Package redisstore provides a redis session storage implementation.
//
// RedisStore allows storing, retrieving, and destroying sessions keyed by
// session id. Each key carries a native redis expiry resolved from the
// store TTL or the session's cookie hint, so no cleanup is needed.
package redisstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/bluescreen10/cqlsession/internal/expiry"
	"github.com/bluescreen10/cqlsession/session"
)

var _ session.Store = (*RedisStore)(nil)

// RedisStore is a redis backed storage for sessions.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    int
	codec  session.Codec
}

type config func(*RedisStore)

// WithPrefix sets the prefix prepended to every key. (default "session:")
func WithPrefix(prefix string) config {
	return config(func(s *RedisStore) {
		s.prefix = prefix
	})
}

// WithTTL sets a lifetime in seconds overriding the session hint.
func WithTTL(seconds int) config {
	return config(func(s *RedisStore) {
		s.ttl = seconds
	})
}

// WithCodec sets the codec used to encode records. (default JSON)
func WithCodec(codec session.Codec) config {
	return config(func(s *RedisStore) {
		s.codec = codec
	})
}

// New creates and returns a new RedisStore instance. The client is not
// closed by the store.
func New(rdb redis.UniversalClient, cfgs ...config) *RedisStore {
	s := &RedisStore{
		rdb:    rdb,
		prefix: "session:",
		codec:  session.JSONCodec{},
	}

	for _, cfg := range cfgs {
		cfg(s)
	}

	return s
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

// Get retrieves the session associated with the given id. Missing and
// empty values are both reported as not found.
func (s *RedisStore) Get(ctx context.Context, id string) (*session.Record, bool, error) {
	data, err := s.rdb.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
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

// Set stores the session under the given id with an expiry. If a key with
// the same id already exists, it is overwritten.
func (s *RedisStore) Set(ctx context.Context, id string, rec *session.Record) error {
	data, err := s.codec.Encode(rec)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}

	if err := s.rdb.Set(ctx, s.key(id), data, expiry.Duration(s.ttl, rec)).Err(); err != nil {
		return fmt.Errorf("setting session: %w", err)
	}
	return nil
}

// Destroy removes the session associated with the given id. If the id
// does not exist, this is a no-op.
func (s *RedisStore) Destroy(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}
