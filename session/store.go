package session

import (
	"context"
	"time"
)

// Store defines the interface for session storage backends. A Store
// persists, retrieves and removes session records by session id.
// Implementations may keep records in memory, in a database, in a cache or
// in any other storage system, and are responsible for expiring them.
type Store interface {
	// Get retrieves the record associated with the given id. It returns
	// the record, a boolean indicating whether the session was found, and
	// an error if the lookup failed. A stored record with an empty payload
	// is reported as not found.
	Get(ctx context.Context, id string) (rec *Record, found bool, err error)

	// Set stores the record under the given id, overwriting any existing
	// record. The expiration is derived from the record's cookie hint or
	// from the store's own configuration.
	Set(ctx context.Context, id string, rec *Record) error

	// Destroy removes the record associated with the given id. It must not
	// return an error if the session does not exist.
	Destroy(ctx context.Context, id string) error
}

// Record is the persisted form of a session.
type Record struct {
	Cookie    Cookie         `json:"cookie"`
	CreatedAt time.Time      `json:"createdAt"`
	Values    map[string]any `json:"values,omitempty"`
}

// Cookie carries the cookie metadata stored alongside the session values.
type Cookie struct {
	// MaxAge is the remaining lifetime of the session in milliseconds.
	// Stores use it as the expiration hint when they have no configured TTL.
	MaxAge *int64 `json:"maxAge,omitempty"`

	Path     string `json:"path,omitempty"`
	Domain   string `json:"domain,omitempty"`
	Secure   bool   `json:"secure,omitempty"`
	HttpOnly bool   `json:"httpOnly,omitempty"`
}

// WithMaxAge sets the max-age hint to d, truncated to milliseconds.
func (c *Cookie) WithMaxAge(d time.Duration) {
	ms := d.Milliseconds()
	c.MaxAge = &ms
}
