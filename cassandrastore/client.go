package cassandrastore

import (
	"context"

	"github.com/gocql/gocql"
)

// Statement is a single parameterized CQL statement together with the
// consistency level it must run at.
type Statement struct {
	CQL         string
	Values      []any
	Consistency gocql.Consistency
	Idempotent  bool
}

// Client is the subset of a Cassandra driver the store needs. The store
// never closes it; the caller owns the underlying connection.
type Client interface {
	// Exec runs a statement that returns no rows.
	Exec(ctx context.Context, stmt Statement) error

	// Select runs a query selecting a single text column and returns the
	// value of that column for every row. Null values are returned as "".
	Select(ctx context.Context, stmt Statement) ([]string, error)
}

var _ Client = (*SessionClient)(nil)

// SessionClient is a Client backed by a connected *gocql.Session. Queries
// with bind markers are prepared and cached by the driver.
type SessionClient struct {
	session *gocql.Session
}

// NewClient wraps a connected gocql session.
func NewClient(session *gocql.Session) *SessionClient {
	return &SessionClient{session: session}
}

func (c *SessionClient) query(ctx context.Context, stmt Statement) *gocql.Query {
	return c.session.Query(stmt.CQL, stmt.Values...).
		WithContext(ctx).
		Consistency(stmt.Consistency).
		Idempotent(stmt.Idempotent)
}

// Exec implements Client.
func (c *SessionClient) Exec(ctx context.Context, stmt Statement) error {
	return c.query(ctx, stmt).Exec()
}

// Select implements Client.
func (c *SessionClient) Select(ctx context.Context, stmt Statement) ([]string, error) {
	scanner := c.query(ctx, stmt).Iter().Scanner()

	var (
		rows    []string
		scanErr error
	)
	for scanner.Next() {
		var v string
		if scanErr = scanner.Scan(&v); scanErr != nil {
			break
		}
		rows = append(rows, v)
	}

	// Err releases the iterator and must always be called.
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if scanErr != nil {
		return nil, scanErr
	}
	return rows, nil
}
