// Package logger provides an HTTP middleware for logging server activity.
// Each request produces one structured log record carrying the HTTP
// status, latency, client IP, request method, request path and whether the
// request carried a session cookie.
//
// Usage:
//
//	mux := http.NewServeMux()
//	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
//		w.Write([]byte("Hello, world!"))
//	})
//
//	l := logger.New(
//	    logger.WithLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil))),
//	    logger.WithSessionCookie("session_id"),
//	)
//
//	http.ListenAndServe(":8080", l.Handler(mux))
package logger

import (
	"log/slog"
	"net"
	"net/http"
	"time"
)

// responseWriter wraps http.ResponseWriter to capture the response status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code before delegating to the underlying ResponseWriter.
// It implements the http.ResponseWriter interface.
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Logger is a middleware that captures request details and writes one
// log record per request.
type Logger struct {
	logger        *slog.Logger
	level         slog.Level
	sessionCookie string
}

type config func(*Logger)

// WithLogger sets the destination logger. (default slog.Default())
func WithLogger(logger *slog.Logger) config {
	return config(func(l *Logger) {
		l.logger = logger
	})
}

// WithLevel sets the level of successful requests. Responses with a 5xx
// status are always logged at error level. (default info)
func WithLevel(level slog.Level) config {
	return config(func(l *Logger) {
		l.level = level
	})
}

// WithSessionCookie names the session cookie whose presence is reported.
// The cookie value itself is never logged.
func WithSessionCookie(name string) config {
	return config(func(l *Logger) {
		l.sessionCookie = name
	})
}

// Handler wraps an http.Handler and logs requests. It records start time,
// response status code, latency, client IP, HTTP method, and path.
func (l *Logger) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{w, http.StatusOK}
		next.ServeHTTP(rw, r)

		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}

		attrs := []slog.Attr{
			slog.Int("status", rw.statusCode),
			slog.Duration("latency", time.Since(start)),
			slog.String("ip", ip),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		}

		if l.sessionCookie != "" {
			_, err := r.Cookie(l.sessionCookie)
			attrs = append(attrs, slog.Bool("session", err == nil))
		}

		level := l.level
		if rw.statusCode >= http.StatusInternalServerError {
			level = slog.LevelError
		}

		l.logger.LogAttrs(r.Context(), level, "request", attrs...)
	})
}

// New creates a new Logger middleware with optional configuration.
func New(cfgs ...config) *Logger {
	lgr := &Logger{
		logger: slog.Default(),
		level:  slog.LevelInfo,
	}

	for _, cfg := range cfgs {
		cfg(lgr)
	}

	return lgr
}
