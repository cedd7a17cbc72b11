// Package session provides a middleware-based session management system
// for HTTP servers in Go. It supports cookie-based sessions, idle timeouts,
// configurable persistence, and pluggable storage backends.
//
// Usage:
//
//	package main
//
//	import (
//	    "context"
//	    "fmt"
//	    "net/http"
//	    "time"
//
//	    "github.com/bluescreen10/cqlsession/cassandrastore"
//	    "github.com/bluescreen10/cqlsession/session"
//	)
//
//	func main() {
//	    store, err := cassandrastore.NewFromSession(context.Background(), cqlSession)
//	    if err != nil {
//	        panic(err)
//	    }
//	    mgr := session.NewManager(store, session.WithLifetime(2*time.Hour))
//
//	    mux := http.NewServeMux()
//	    mux.Handle("/", mgr.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
//	        sess := mgr.Get(r)
//	        count := sess.GetInt("count")
//	        count++
//	        sess.Set("count", count)
//	        fmt.Fprintf(w, "You have visited %d times\n", count)
//	    })))
//
//	    http.ListenAndServe(":8080", mux)
//	}
//
// designed heavily inspired by: https://github.com/alexedwards/scs
package session

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// responseWriter wraps http.ResponseWriter to intercept writes
// and ensure the session is saved before any headers or body are written.
type responseWriter struct {
	http.ResponseWriter
	ctx       context.Context
	mngr      *Manager
	sess      *Session
	isWritten bool
}

// Write saves the session before writing the response body if it hasn't
// already been saved.
func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.isWritten {
		w.isWritten = true
		w.mngr.save(w.ctx, w.ResponseWriter, w.sess)
	}
	return w.ResponseWriter.Write(b)
}

// WriteHeader saves the session before writing the response headers
// if it hasn't already been saved.
func (w *responseWriter) WriteHeader(statusCode int) {
	if !w.isWritten {
		w.isWritten = true
		w.mngr.save(w.ctx, w.ResponseWriter, w.sess)
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

// Manager manages HTTP sessions using a Store backend and session options.
type Manager struct {
	store             Store
	lifetime          time.Duration
	idleTimeout       time.Duration
	cookieName        string
	cookiePath        string
	cookieDomain      string
	cookieSecure      bool
	cookieHttpOnly    bool
	cookiePartitioned bool
	cookieSameSite    http.SameSite
	cookiePersisted   bool
	logger            *slog.Logger
}

// ctxKey scopes the request context value to a single Manager.
type ctxKey struct{ m *Manager }

type config func(*Manager)

// WithLifetime sets the lifetime of the session. (default 24hr.)
func WithLifetime(lifetime time.Duration) config {
	return config(func(m *Manager) {
		m.lifetime = lifetime
	})
}

// WithIdleTimeout sets the idle timeout for the session. (default no timeout.)
func WithIdleTimeout(timeout time.Duration) config {
	return config(func(m *Manager) {
		m.idleTimeout = timeout
	})
}

// WithName sets the cookie name for the session. (default "session_id".)
func WithName(name string) config {
	return config(func(m *Manager) {
		m.cookieName = name
	})
}

// WithPath sets the cookie path. (default "/".)
func WithPath(path string) config {
	return config(func(m *Manager) {
		m.cookiePath = path
	})
}

// WithDomain sets the cookie domain. (default "".)
func WithDomain(domain string) config {
	return config(func(m *Manager) {
		m.cookieDomain = domain
	})
}

// WithSecure sets the Secure flag on the cookie. (default false)
func WithSecure(secure bool) config {
	return config(func(m *Manager) {
		m.cookieSecure = secure
	})
}

// WithHttpOnly sets the HttpOnly flag on the cookie. (default true)
func WithHttpOnly(httpOnly bool) config {
	return config(func(m *Manager) {
		m.cookieHttpOnly = httpOnly
	})
}

// WithPartitioned sets the Partitioned flag on the cookie. (default false)
func WithPartitioned(partitioned bool) config {
	return config(func(m *Manager) {
		m.cookiePartitioned = partitioned
	})
}

// WithSameSite sets the SameSite policy for the cookie. (default Lax)
func WithSameSite(sameSite http.SameSite) config {
	return config(func(m *Manager) {
		m.cookieSameSite = sameSite
	})
}

// WithPersisted sets whether the cookie is persisted. (default true)
func WithPersisted(persisted bool) config {
	return config(func(m *Manager) {
		m.cookiePersisted = persisted
	})
}

// WithLogger sets the logger used to report failures to save sessions.
// (default discards)
func WithLogger(logger *slog.Logger) config {
	return config(func(m *Manager) {
		m.logger = logger
	})
}

// Handler wraps an http.Handler and provides load-and-save session functionality.
// It ensures that the session is loaded from the store and saved after the request.
func (m *Manager) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Vary", "Cookie")

		var token string
		cookie, err := r.Cookie(m.cookieName)
		if err == nil {
			token = cookie.Value
		}
		sess, err := m.load(r.Context(), token)
		if err != nil {
			m.logger.ErrorContext(r.Context(), "loading session", "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		sr := r.WithContext(context.WithValue(r.Context(), ctxKey{m}, sess))
		sw := &responseWriter{ResponseWriter: w, ctx: r.Context(), mngr: m, sess: sess}
		next.ServeHTTP(sw, sr)

		if !sw.isWritten {
			m.save(r.Context(), w, sess)
		}
	})
}

// Get retrieves the current session from the request context. It always
// returns a valid session object, never nil.
func (m *Manager) Get(r *http.Request) *Session {
	sess, ok := r.Context().Value(ctxKey{m}).(*Session)
	if !ok {
		return newSession()
	}
	return sess
}

// load retrieves a session from the store by token. If the token is empty
// or the session is not found, a new session is created. A payload that
// cannot be decoded is an error, not a fresh session.
func (m *Manager) load(ctx context.Context, token string) (*Session, error) {

	if token == "" {
		return newSession(), nil
	}

	rec, found, err := m.store.Get(ctx, token)
	if err != nil {
		return nil, err
	}

	if !found {
		return newSession(), nil
	}

	return fromRecord(token, rec), nil
}

// save persists the session to the store and updates the HTTP cookie.
// Destroyed sessions are deleted from the store and expired cookies are set.
// On failure no cookie is written.
func (m *Manager) save(ctx context.Context, w http.ResponseWriter, sess *Session) error {
	if sess.isDestroyed {
		err := m.store.Destroy(ctx, sess.id)
		if err != nil {
			m.logger.ErrorContext(ctx, "destroying session", "error", err)
			return err
		}
		m.writeCookie(w, sess.id, time.Time{})
		return nil
	}

	expiresAt := sess.createdAt.Add(m.lifetime)

	if sess.isModified {
		rec := m.record(sess, expiresAt)
		err := m.store.Set(ctx, sess.id, rec)
		if err != nil {
			m.logger.ErrorContext(ctx, "saving session", "error", err)
			return err
		}
		sess.isModified = false
	}

	if m.idleTimeout > 0 {
		idleExpires := time.Now().Add(m.idleTimeout)
		if idleExpires.Before(expiresAt) {
			expiresAt = idleExpires
		}
	}
	m.writeCookie(w, sess.id, expiresAt)
	return nil
}

// record builds the stored form of sess. The cookie max-age hint is the
// time left until the absolute lifetime ends.
func (m *Manager) record(sess *Session, expiresAt time.Time) *Record {
	rec := &Record{
		CreatedAt: sess.createdAt,
		Values:    sess.values,
		Cookie: Cookie{
			Path:     m.cookiePath,
			Domain:   m.cookieDomain,
			Secure:   m.cookieSecure,
			HttpOnly: m.cookieHttpOnly,
		},
	}
	rec.Cookie.WithMaxAge(time.Until(expiresAt))
	return rec
}

// writeCookie sets or expires the session cookie on the HTTP response.
func (m *Manager) writeCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	cookie := &http.Cookie{
		Value:       token,
		Name:        m.cookieName,
		Domain:      m.cookieDomain,
		HttpOnly:    m.cookieHttpOnly,
		Path:        m.cookiePath,
		SameSite:    m.cookieSameSite,
		Secure:      m.cookieSecure,
		Partitioned: m.cookiePartitioned,
	}

	if expiresAt.IsZero() {
		cookie.Expires = time.Unix(1, 0)
		cookie.MaxAge = -1
	} else if m.cookiePersisted {
		cookie.Expires = time.Unix(expiresAt.Unix()+1, 0)
		cookie.MaxAge = int(time.Until(expiresAt).Seconds() + 1)
	}

	http.SetCookie(w, cookie)
}

// NewManager creates a new session Manager with a Store and optional configuration.
func NewManager(store Store, cfgs ...config) *Manager {
	mngr := &Manager{
		lifetime:        24 * time.Hour,
		cookieName:      "session_id",
		cookiePath:      "/",
		cookieHttpOnly:  true,
		cookieSameSite:  http.SameSiteLaxMode,
		cookiePersisted: true,
		store:           store,
	}

	for _, cfg := range cfgs {
		cfg(mngr)
	}

	if mngr.logger == nil {
		mngr.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return mngr
}
