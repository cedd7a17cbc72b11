// Package metrics instruments a session.Store with Prometheus metrics.
//
// Usage:
//
//	store, _ := cassandrastore.NewFromSession(ctx, cqlSession)
//	instrumented, err := metrics.Instrument(store, "cassandra", prometheus.DefaultRegisterer)
//	mgr := session.NewManager(instrumented)
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bluescreen10/cqlsession/session"
)

// Operation results used as the "result" label.
const (
	ResultHit   = "hit"
	ResultMiss  = "miss"
	ResultOK    = "ok"
	ResultError = "error"
)

// Collectors groups the metrics shared by every instrumented store. A
// single Collectors may back several stores told apart by the "backend"
// label.
type Collectors struct {
	Operations *prometheus.CounterVec
	Duration   *prometheus.HistogramVec
}

// NewCollectors creates the collectors and registers them with reg. If
// they are already registered the existing collectors are reused.
func NewCollectors(reg prometheus.Registerer) (*Collectors, error) {
	c := &Collectors{
		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "session_store_operations_total",
				Help: "Total number of session store operations by result",
			},
			[]string{"backend", "operation", "result"},
		),
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "session_store_operation_duration_seconds",
				Help:    "Latency of session store operations",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
			[]string{"backend", "operation"},
		),
	}

	ops, err := register(reg, c.Operations)
	if err != nil {
		return nil, err
	}
	dur, err := register(reg, c.Duration)
	if err != nil {
		return nil, err
	}
	c.Operations, c.Duration = ops, dur
	return c, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

var _ session.Store = (*Store)(nil)

// Store wraps a session.Store and records the outcome and latency of every
// call.
type Store struct {
	next    session.Store
	backend string
	c       *Collectors
}

// Instrument wraps next with metrics registered on reg.
func Instrument(next session.Store, backend string, reg prometheus.Registerer) (*Store, error) {
	c, err := NewCollectors(reg)
	if err != nil {
		return nil, err
	}
	return Wrap(next, backend, c), nil
}

// Wrap wraps next with existing collectors.
func Wrap(next session.Store, backend string, c *Collectors) *Store {
	return &Store{next: next, backend: backend, c: c}
}

func (s *Store) observe(op string, start time.Time, result string) {
	s.c.Duration.WithLabelValues(s.backend, op).Observe(time.Since(start).Seconds())
	s.c.Operations.WithLabelValues(s.backend, op, result).Inc()
}

// Get implements session.Store.
func (s *Store) Get(ctx context.Context, id string) (*session.Record, bool, error) {
	start := time.Now()
	rec, found, err := s.next.Get(ctx, id)

	result := ResultHit
	switch {
	case err != nil:
		result = ResultError
	case !found:
		result = ResultMiss
	}
	s.observe("get", start, result)

	return rec, found, err
}

// Set implements session.Store.
func (s *Store) Set(ctx context.Context, id string, rec *session.Record) error {
	start := time.Now()
	err := s.next.Set(ctx, id, rec)
	s.observe("set", start, resultOf(err))
	return err
}

// Destroy implements session.Store.
func (s *Store) Destroy(ctx context.Context, id string) error {
	start := time.Now()
	err := s.next.Destroy(ctx, id)
	s.observe("destroy", start, resultOf(err))
	return err
}

func resultOf(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}
