package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"gopkg.in/yaml.v3"

	"github.com/bluescreen10/cqlsession/cassandrastore"
)

// Config holds the daemon settings. Values come from, in increasing order
// of precedence, defaults, environment variables, the YAML config file and
// command line flags.
type Config struct {
	Addr    string `yaml:"addr"`
	Backend string `yaml:"backend"`

	Hosts            []string      `yaml:"hosts"`
	Keyspace         string        `yaml:"keyspace"`
	Table            string        `yaml:"table"`
	TTL              int           `yaml:"ttl"`
	ReadConsistency  string        `yaml:"readConsistency"`
	WriteConsistency string        `yaml:"writeConsistency"`
	ConnectTimeout   time.Duration `yaml:"connectTimeout"`

	RedisAddr string `yaml:"redisAddr"`

	CookieName string        `yaml:"cookieName"`
	Lifetime   time.Duration `yaml:"lifetime"`
	Secure     bool          `yaml:"secure"`

	LogFormat string `yaml:"logFormat"`
	LogLevel  string `yaml:"logLevel"`
}

const (
	backendCassandra = "cassandra"
	backendMemory    = "memory"
	backendRedis     = "redis"
)

// defaultConfig returns the defaults overlaid with environment variables.
func defaultConfig() Config {
	return Config{
		Addr:             getEnv("CQLSESSION_ADDR", ":8080"),
		Backend:          getEnv("CQLSESSION_BACKEND", backendCassandra),
		Hosts:            getEnvAsSlice("CQLSESSION_HOSTS", ",", []string{"127.0.0.1"}),
		Keyspace:         getEnv("CQLSESSION_KEYSPACE", "sessions"),
		Table:            getEnv("CQLSESSION_TABLE", cassandrastore.DefaultTable),
		TTL:              getEnvAsInt("CQLSESSION_TTL", 0),
		ReadConsistency:  getEnv("CQLSESSION_READ_CONSISTENCY", "ONE"),
		WriteConsistency: getEnv("CQLSESSION_WRITE_CONSISTENCY", "ANY"),
		ConnectTimeout:   getEnvAsDuration("CQLSESSION_CONNECT_TIMEOUT", 10*time.Second),
		RedisAddr:        getEnv("CQLSESSION_REDIS_ADDR", "127.0.0.1:6379"),
		CookieName:       getEnv("CQLSESSION_COOKIE_NAME", "session_id"),
		Lifetime:         getEnvAsDuration("CQLSESSION_LIFETIME", 24*time.Hour),
		Secure:           getEnvAsBool("CQLSESSION_SECURE", false),
		LogFormat:        getEnv("CQLSESSION_LOG_FORMAT", "text"),
		LogLevel:         getEnv("CQLSESSION_LOG_LEVEL", "info"),
	}
}

// loadConfig reads a YAML file on top of cfg. Keys missing from the file
// keep their current value.
func loadConfig(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return nil
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	switch c.Backend {
	case backendCassandra:
		if len(c.Hosts) == 0 {
			return fmt.Errorf("at least one cassandra host is required")
		}
		if c.Keyspace == "" {
			return fmt.Errorf("keyspace is required")
		}
		if c.TTL > cassandrastore.MaxTTL {
			return fmt.Errorf("ttl %d exceeds the cassandra maximum of %d", c.TTL, cassandrastore.MaxTTL)
		}
		if _, err := c.consistencies(); err != nil {
			return err
		}
	case backendMemory, backendRedis:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}

	if c.Lifetime <= 0 {
		return fmt.Errorf("lifetime must be positive")
	}

	if _, err := c.level(); err != nil {
		return err
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}

	return nil
}

// consistencies parses the read and write consistency names.
func (c *Config) consistencies() ([2]gocql.Consistency, error) {
	var out [2]gocql.Consistency

	for i, name := range []string{c.ReadConsistency, c.WriteConsistency} {
		level, err := gocql.ParseConsistencyWrapper(strings.ToUpper(name))
		if err != nil {
			return out, fmt.Errorf("invalid consistency %q: %w", name, err)
		}
		out[i] = level
	}

	return out, nil
}

func (c *Config) level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return level, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// newLogger builds the process logger from the log settings.
func (c *Config) newLogger() *slog.Logger {
	level, _ := c.level()
	opts := &slog.HandlerOptions{Level: level}

	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt gets an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsSlice gets an environment variable as a slice or returns a default value
func getEnvAsSlice(key, sep string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	var out []string
	for _, v := range strings.Split(valueStr, sep) {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
