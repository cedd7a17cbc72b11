// Package storetest provides a compliance suite for session.Store
// implementations.
package storetest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bluescreen10/cqlsession/session"
)

// Options tune the compliance run for a backend.
type Options struct {
	// Cleanup resets the store to an empty state. It is called before each
	// subtest.
	Cleanup func()

	// Advance moves the backend's notion of time forward. Expiry is only
	// tested when it is set.
	Advance func(d time.Duration)
}

// Record returns a record whose values survive a JSON round trip unchanged.
func Record() *session.Record {
	rec := &session.Record{
		CreatedAt: time.Date(2024, 5, 17, 9, 30, 0, 123000000, time.UTC),
		Cookie:    session.Cookie{Path: "/", HttpOnly: true},
		Values: map[string]any{
			"user_id": json.Number("42"),
			"name":    "ada",
			"admin":   true,
			"roles":   []any{"reader", "writer"},
			"prefs":   map[string]any{"theme": "dark"},
		},
	}
	rec.Cookie.WithMaxAge(time.Hour)
	return rec
}

// RunComplianceTest runs the standard suite of tests against store to check
// it honours the session.Store contract.
func RunComplianceTest(t *testing.T, store session.Store, opts *Options) {
	if opts == nil {
		opts = &Options{}
	}
	reset := func() {
		if opts.Cleanup != nil {
			opts.Cleanup()
		}
	}
	reset()
	t.Cleanup(reset)

	ctx := context.Background()

	t.Run("SetGetDestroy", func(t *testing.T) {
		reset()
		want := Record()

		require.NoError(t, store.Set(ctx, "sess-1", want))

		got, found, err := store.Get(ctx, "sess-1")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, want, got)

		require.NoError(t, store.Destroy(ctx, "sess-1"))

		got, found, err = store.Get(ctx, "sess-1")
		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, got)
	})

	t.Run("GetNotFound", func(t *testing.T) {
		reset()

		got, found, err := store.Get(ctx, "never-written")
		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, got)
	})

	t.Run("Overwrite", func(t *testing.T) {
		reset()
		first := Record()
		second := Record()
		second.Values = map[string]any{"user_id": json.Number("7")}

		require.NoError(t, store.Set(ctx, "sess-2", first))
		require.NoError(t, store.Set(ctx, "sess-2", second))

		got, found, err := store.Get(ctx, "sess-2")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, second, got)
	})

	t.Run("DestroyMissing", func(t *testing.T) {
		reset()

		require.NoError(t, store.Destroy(ctx, "never-written"))

		_, found, err := store.Get(ctx, "never-written")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("Expiry", func(t *testing.T) {
		if opts.Advance == nil {
			t.Skip("store does not support advancing time")
		}
		reset()

		rec := Record()
		rec.Cookie.WithMaxAge(2 * time.Second)
		require.NoError(t, store.Set(ctx, "sess-3", rec))

		opts.Advance(3 * time.Second)

		_, found, err := store.Get(ctx, "sess-3")
		require.NoError(t, err)
		assert.False(t, found)
	})
}
