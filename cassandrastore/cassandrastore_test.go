package cassandrastore_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gocql/gocql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bluescreen10/cqlsession/cassandrastore"
	"github.com/bluescreen10/cqlsession/session"
	"github.com/bluescreen10/cqlsession/session/storetest"
)

// fakeClient is an in-memory stand-in for a Cassandra table. It records every
// statement it runs. The exec and sel hooks, when set, replace the default
// behaviour.
type fakeClient struct {
	mu      sync.Mutex
	rows    map[string]string
	ttls    map[string]int
	created bool
	stmts   []cassandrastore.Statement

	exec func(cassandrastore.Statement) error
	sel  func(cassandrastore.Statement) ([]string, error)
}

func newFakeClient() *fakeClient {
	return &fakeClient{rows: map[string]string{}, ttls: map[string]int{}}
}

func (c *fakeClient) Exec(_ context.Context, stmt cassandrastore.Statement) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stmts = append(c.stmts, stmt)

	if c.exec != nil {
		return c.exec(stmt)
	}

	switch {
	case strings.HasPrefix(stmt.CQL, "CREATE TABLE"):
		c.created = true
	case strings.HasPrefix(stmt.CQL, "UPDATE"):
		id := stmt.Values[2].(string)
		c.rows[id] = stmt.Values[1].(string)
		c.ttls[id] = stmt.Values[0].(int)
	case strings.HasPrefix(stmt.CQL, "DELETE"):
		delete(c.rows, stmt.Values[0].(string))
	}
	return nil
}

func (c *fakeClient) Select(_ context.Context, stmt cassandrastore.Statement) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stmts = append(c.stmts, stmt)

	if c.sel != nil {
		return c.sel(stmt)
	}

	v, ok := c.rows[stmt.Values[0].(string)]
	if !ok {
		return nil, nil
	}
	return []string{v}, nil
}

func (c *fakeClient) last() cassandrastore.Statement {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stmts[len(c.stmts)-1]
}

var _ cassandrastore.Client = (*fakeClient)(nil)

func newStore(t *testing.T, client *fakeClient, opts ...cassandrastore.Option) *cassandrastore.Store {
	t.Helper()
	s, err := cassandrastore.New(context.Background(), client, opts...)
	require.NoError(t, err)
	return s
}

func TestCompliance(t *testing.T) {
	client := newFakeClient()
	s := newStore(t, client)

	storetest.RunComplianceTest(t, s, &storetest.Options{
		Cleanup: func() {
			client.mu.Lock()
			defer client.mu.Unlock()
			client.rows = map[string]string{}
		},
	})
}

func TestNewCreatesTable(t *testing.T) {
	client := newFakeClient()
	s := newStore(t, client)

	assert.True(t, client.created)
	assert.Equal(t, "connect_session", s.Table())
	assert.Equal(t,
		"CREATE TABLE IF NOT EXISTS connect_session (id text PRIMARY KEY, session text)",
		client.stmts[0].CQL)
}

func TestNewToleratesAlreadyExists(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"driver error", &gocql.RequestErrAlreadyExists{Table: "connect_session"}},
		{"server message", errors.New("Cannot add already existing column family \"connect_session\"")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newFakeClient()
			client.exec = func(cassandrastore.Statement) error { return tt.err }

			s, err := cassandrastore.New(context.Background(), client)
			require.NoError(t, err)
			assert.NotNil(t, s)
		})
	}
}

func TestNewSchemaFailureIsFatal(t *testing.T) {
	cause := errors.New("no host available")
	client := newFakeClient()
	client.exec = func(cassandrastore.Statement) error { return cause }

	s, err := cassandrastore.New(context.Background(), client)
	assert.Nil(t, s)
	assert.ErrorIs(t, err, cassandrastore.ErrSchema)
	assert.ErrorIs(t, err, cause)
}

func TestNewRejectsInvalidTableName(t *testing.T) {
	for _, name := range []string{"", "1sessions", "sessions; DROP TABLE users", "ks.", "a.b.c", `"quoted"`} {
		t.Run(name, func(t *testing.T) {
			client := newFakeClient()

			s, err := cassandrastore.New(context.Background(), client, cassandrastore.WithTable(name))
			assert.Nil(t, s)
			assert.ErrorIs(t, err, cassandrastore.ErrSchema)
			assert.ErrorIs(t, err, cassandrastore.ErrTableName)
			assert.Empty(t, client.stmts, "no statement may reach the cluster")
		})
	}
}

func TestConcurrentConstruction(t *testing.T) {
	client := newFakeClient()
	var once sync.Once
	// The first CREATE wins, every other one loses the race.
	client.exec = func(stmt cassandrastore.Statement) error {
		var err error = &gocql.RequestErrAlreadyExists{Table: "shared"}
		once.Do(func() { err = nil })
		return err
	}

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = cassandrastore.New(context.Background(), client, cassandrastore.WithTable("shared"))
		}()
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
}

func TestQueries(t *testing.T) {
	client := newFakeClient()
	s := newStore(t, client, cassandrastore.WithTable("app.sessions"))
	ctx := context.Background()

	_, _, err := s.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "SELECT session FROM app.sessions WHERE id = ?", client.last().CQL)
	assert.Equal(t, []any{"abc"}, client.last().Values)

	require.NoError(t, s.Set(ctx, "abc", storetest.Record()))
	assert.Equal(t, "UPDATE app.sessions USING TTL ? SET session = ? WHERE id = ?", client.last().CQL)
	assert.Equal(t, "abc", client.last().Values[2])

	require.NoError(t, s.Destroy(ctx, "abc"))
	assert.Equal(t, "DELETE FROM app.sessions WHERE id = ?", client.last().CQL)
	assert.Equal(t, []any{"abc"}, client.last().Values)
}

func TestConsistency(t *testing.T) {
	ctx := context.Background()

	t.Run("defaults", func(t *testing.T) {
		client := newFakeClient()
		s := newStore(t, client)

		_, _, _ = s.Get(ctx, "abc")
		assert.Equal(t, gocql.One, client.last().Consistency)

		require.NoError(t, s.Set(ctx, "abc", storetest.Record()))
		assert.Equal(t, gocql.Any, client.last().Consistency)

		require.NoError(t, s.Destroy(ctx, "abc"))
		assert.Equal(t, gocql.Any, client.last().Consistency)
	})

	t.Run("configured", func(t *testing.T) {
		client := newFakeClient()
		s := newStore(t, client,
			cassandrastore.WithReadConsistency(gocql.LocalQuorum),
			cassandrastore.WithWriteConsistency(gocql.EachQuorum),
		)

		_, _, _ = s.Get(ctx, "abc")
		assert.Equal(t, gocql.LocalQuorum, client.last().Consistency)

		require.NoError(t, s.Set(ctx, "abc", storetest.Record()))
		assert.Equal(t, gocql.EachQuorum, client.last().Consistency)

		require.NoError(t, s.Destroy(ctx, "abc"))
		assert.Equal(t, gocql.EachQuorum, client.last().Consistency)
	})
}

func TestTTL(t *testing.T) {
	ctx := context.Background()
	withMaxAge := func(ms int64) *session.Record {
		return &session.Record{Cookie: session.Cookie{MaxAge: &ms}}
	}

	t.Run("configured ttl wins", func(t *testing.T) {
		client := newFakeClient()
		s := newStore(t, client, cassandrastore.WithTTL(30))

		require.NoError(t, s.Set(ctx, "abc", withMaxAge(5000)))
		assert.Equal(t, 30, client.ttls["abc"])
	})

	t.Run("max age is floored", func(t *testing.T) {
		client := newFakeClient()
		s := newStore(t, client)

		require.NoError(t, s.Set(ctx, "abc", withMaxAge(12345)))
		assert.Equal(t, 12, client.ttls["abc"])
	})

	t.Run("sub-second max age is raised to one", func(t *testing.T) {
		client := newFakeClient()
		s := newStore(t, client)

		require.NoError(t, s.Set(ctx, "abc", withMaxAge(999)))
		assert.Equal(t, 1, client.ttls["abc"])
	})

	t.Run("expired max age is raised to one", func(t *testing.T) {
		client := newFakeClient()
		s := newStore(t, client)

		require.NoError(t, s.Set(ctx, "abc", withMaxAge(-5000)))
		assert.Equal(t, 1, client.ttls["abc"])
	})

	t.Run("max age is capped", func(t *testing.T) {
		client := newFakeClient()
		s := newStore(t, client)

		require.NoError(t, s.Set(ctx, "abc", withMaxAge(int64(cassandrastore.MaxTTL+3600)*1000)))
		assert.Equal(t, cassandrastore.MaxTTL, client.ttls["abc"])
	})

	t.Run("configured ttl above maximum is rejected", func(t *testing.T) {
		client := newFakeClient()

		s, err := cassandrastore.New(ctx, client, cassandrastore.WithTTL(cassandrastore.MaxTTL+1))
		assert.Nil(t, s)
		assert.ErrorIs(t, err, cassandrastore.ErrTTL)
		assert.Empty(t, client.stmts)
	})

	t.Run("one day by default", func(t *testing.T) {
		client := newFakeClient()
		s := newStore(t, client)

		require.NoError(t, s.Set(ctx, "abc", &session.Record{}))
		assert.Equal(t, 86400, client.ttls["abc"])
	})
}

func TestGetAbsentAndEmptyAreEquivalent(t *testing.T) {
	client := newFakeClient()
	s := newStore(t, client)
	ctx := context.Background()

	client.rows["empty"] = ""

	missing, foundMissing, errMissing := s.Get(ctx, "missing")
	empty, foundEmpty, errEmpty := s.Get(ctx, "empty")

	assert.NoError(t, errMissing)
	assert.NoError(t, errEmpty)
	assert.False(t, foundMissing)
	assert.False(t, foundEmpty)
	assert.Nil(t, missing)
	assert.Nil(t, empty)
}

func TestGetSeveralRowsIsNotFound(t *testing.T) {
	client := newFakeClient()
	client.sel = func(cassandrastore.Statement) ([]string, error) {
		return []string{`{"values":{"a":1}}`, `{"values":{"a":2}}`}, nil
	}
	s := newStore(t, client)

	rec, found, err := s.Get(context.Background(), "abc")
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, rec)
}

func TestGetDecodeFailure(t *testing.T) {
	client := newFakeClient()
	s := newStore(t, client)
	client.rows["abc"] = "{not json"

	rec, found, err := s.Get(context.Background(), "abc")
	assert.ErrorIs(t, err, session.ErrMalformed)
	assert.False(t, found)
	assert.Nil(t, rec)
}

func TestGetNullPayloadIsNotFound(t *testing.T) {
	client := newFakeClient()
	s := newStore(t, client)
	client.rows["abc"] = "null"

	rec, found, err := s.Get(context.Background(), "abc")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, rec)
}

func TestGetTrailingDataIsMalformed(t *testing.T) {
	client := newFakeClient()
	s := newStore(t, client)
	client.rows["abc"] = `{"values":{}}}`

	_, found, err := s.Get(context.Background(), "abc")
	assert.ErrorIs(t, err, session.ErrMalformed)
	assert.False(t, found)
}

func TestLargeIntegersSurvive(t *testing.T) {
	client := newFakeClient()
	s := newStore(t, client)
	ctx := context.Background()

	rec := storetest.Record()
	rec.Values["uid"] = int64(9007199254740993)
	require.NoError(t, s.Set(ctx, "abc", rec))

	got, found, err := s.Get(ctx, "abc")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, json.Number("9007199254740993"), got.Values["uid"])
}

func TestQueryFailuresSurface(t *testing.T) {
	cause := errors.New("timeout")
	ctx := context.Background()

	client := newFakeClient()
	s := newStore(t, client)
	client.exec = func(cassandrastore.Statement) error { return cause }
	client.sel = func(cassandrastore.Statement) ([]string, error) { return nil, cause }

	_, _, err := s.Get(ctx, "abc")
	assert.ErrorIs(t, err, cause)

	err = s.Set(ctx, "abc", storetest.Record())
	assert.ErrorIs(t, err, cause)

	err = s.Destroy(ctx, "abc")
	assert.ErrorIs(t, err, cause)
}

func TestSetNilRecord(t *testing.T) {
	client := newFakeClient()
	s := newStore(t, client)

	err := s.Set(context.Background(), "abc", nil)
	assert.Error(t, err)
	_, ok := client.rows["abc"]
	assert.False(t, ok)
}

func TestCodecOption(t *testing.T) {
	client := newFakeClient()
	codec := &countingCodec{}
	s := newStore(t, client, cassandrastore.WithCodec(codec))
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "abc", storetest.Record()))
	_, found, err := s.Get(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 1, codec.encoded)
	assert.Equal(t, 1, codec.decoded)
}

type countingCodec struct {
	session.JSONCodec
	encoded, decoded int
}

func (c *countingCodec) Encode(rec *session.Record) ([]byte, error) {
	c.encoded++
	return c.JSONCodec.Encode(rec)
}

func (c *countingCodec) Decode(data []byte) (*session.Record, error) {
	c.decoded++
	return c.JSONCodec.Decode(data)
}

func TestSetDoesNotBlockOtherIDs(t *testing.T) {
	client := newFakeClient()
	s := newStore(t, client)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Set(ctx, id, storetest.Record()))
		}()
	}
	wg.Wait()

	for _, id := range []string{"a", "b", "c", "d"} {
		_, found, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.True(t, found, id)
	}
}
