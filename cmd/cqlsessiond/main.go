// Command cqlsessiond serves a small visit counter backed by a session
// store. It exists to exercise the stores end to end against a real
// cluster.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gocql/gocql"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/bluescreen10/cqlsession/cassandrastore"
	"github.com/bluescreen10/cqlsession/logger"
	"github.com/bluescreen10/cqlsession/memstore"
	"github.com/bluescreen10/cqlsession/metrics"
	"github.com/bluescreen10/cqlsession/redisstore"
	"github.com/bluescreen10/cqlsession/session"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := defaultConfig()
	var configFile string

	cmd := &cobra.Command{
		Use:           "cqlsessiond",
		Short:         "Serve a session-backed visit counter",
		Long:          `cqlsessiond serves a visit counter whose sessions live in Cassandra, Redis or memory, and exposes store metrics on /metrics.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configFile != "" {
				fileCfg := defaultConfig()
				if err := loadConfig(configFile, &fileCfg); err != nil {
					return err
				}
				overrideChanged(cmd, &fileCfg, &cfg)
				cfg = fileCfg
			}

			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&configFile, "config", "c", "", "YAML config file")
	f.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP listen address")
	f.StringVar(&cfg.Backend, "backend", cfg.Backend, "session backend: cassandra, redis or memory")
	f.StringSliceVar(&cfg.Hosts, "hosts", cfg.Hosts, "Cassandra contact points")
	f.StringVar(&cfg.Keyspace, "keyspace", cfg.Keyspace, "Cassandra keyspace")
	f.StringVar(&cfg.Table, "table", cfg.Table, "session table name")
	f.IntVar(&cfg.TTL, "ttl", cfg.TTL, "fixed session TTL in seconds (0 derives it from the cookie)")
	f.StringVar(&cfg.ReadConsistency, "read-consistency", cfg.ReadConsistency, "consistency level for reads")
	f.StringVar(&cfg.WriteConsistency, "write-consistency", cfg.WriteConsistency, "consistency level for writes and deletes")
	f.DurationVar(&cfg.ConnectTimeout, "connect-timeout", cfg.ConnectTimeout, "Cassandra connect timeout")
	f.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address")
	f.StringVar(&cfg.CookieName, "cookie-name", cfg.CookieName, "session cookie name")
	f.DurationVar(&cfg.Lifetime, "lifetime", cfg.Lifetime, "session lifetime")
	f.BoolVar(&cfg.Secure, "secure", cfg.Secure, "mark the session cookie Secure")
	f.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: text or json")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")

	return cmd
}

// overrideChanged copies every flag set explicitly on the command line from
// flags into dst.
func overrideChanged(cmd *cobra.Command, dst, flags *Config) {
	set := map[string]func(){
		"addr":              func() { dst.Addr = flags.Addr },
		"backend":           func() { dst.Backend = flags.Backend },
		"hosts":             func() { dst.Hosts = flags.Hosts },
		"keyspace":          func() { dst.Keyspace = flags.Keyspace },
		"table":             func() { dst.Table = flags.Table },
		"ttl":               func() { dst.TTL = flags.TTL },
		"read-consistency":  func() { dst.ReadConsistency = flags.ReadConsistency },
		"write-consistency": func() { dst.WriteConsistency = flags.WriteConsistency },
		"connect-timeout":   func() { dst.ConnectTimeout = flags.ConnectTimeout },
		"redis-addr":        func() { dst.RedisAddr = flags.RedisAddr },
		"cookie-name":       func() { dst.CookieName = flags.CookieName },
		"lifetime":          func() { dst.Lifetime = flags.Lifetime },
		"secure":            func() { dst.Secure = flags.Secure },
		"log-format":        func() { dst.LogFormat = flags.LogFormat },
		"log-level":         func() { dst.LogLevel = flags.LogLevel },
	}

	for name, apply := range set {
		if cmd.Flags().Changed(name) {
			apply()
		}
	}
}

func run(ctx context.Context, cfg Config) error {
	log := cfg.newLogger()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	instrumented, err := metrics.Instrument(store, cfg.Backend, reg)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	mgr := session.NewManager(instrumented,
		session.WithName(cfg.CookieName),
		session.WithLifetime(cfg.Lifetime),
		session.WithSecure(cfg.Secure),
		session.WithLogger(log),
	)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/", mgr.Handler(counter(mgr)))
	mux.Handle("POST /logout", mgr.Handler(logout(mgr)))

	access := logger.New(logger.WithLogger(log), logger.WithSessionCookie(cfg.CookieName))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           access.Handler(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", srv.Addr, "backend", cfg.Backend)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil

	case <-ctx.Done():
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown did not complete", "error", err)
			return srv.Close()
		}
		return nil
	}
}

// openStore builds the configured backend. The returned func releases its
// connections.
func openStore(ctx context.Context, cfg Config, log *slog.Logger) (session.Store, func(), error) {
	switch cfg.Backend {
	case backendMemory:
		stop := make(chan struct{})
		store := memstore.New(memstore.WithTTL(cfg.TTL))
		go store.PeriodicCleanUp(time.Minute, stop)
		return store, func() { close(stop) }, nil

	case backendRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return redisstore.New(rdb, redisstore.WithTTL(cfg.TTL)), func() { rdb.Close() }, nil
	}

	levels, err := cfg.consistencies()
	if err != nil {
		return nil, nil, err
	}

	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Keyspace = cfg.Keyspace
	cluster.ConnectTimeout = cfg.ConnectTimeout
	cluster.Consistency = levels[0]

	cqlSession, err := cluster.CreateSession()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to cassandra: %w", err)
	}

	store, err := cassandrastore.NewFromSession(ctx, cqlSession,
		cassandrastore.WithTable(cfg.Table),
		cassandrastore.WithTTL(cfg.TTL),
		cassandrastore.WithReadConsistency(levels[0]),
		cassandrastore.WithWriteConsistency(levels[1]),
		cassandrastore.WithLogger(log),
	)
	if err != nil {
		cqlSession.Close()
		return nil, nil, err
	}

	return store, cqlSession.Close, nil
}

func counter(mgr *session.Manager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := mgr.Get(r)
		count := sess.GetInt("count") + 1
		sess.Set("count", count)
		fmt.Fprintf(w, "You have visited %d times\n", count)
	})
}

func logout(mgr *session.Manager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mgr.Get(r).Destroy()
		w.WriteHeader(http.StatusNoContent)
	})
}
