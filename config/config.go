// Package config reads service settings from the environment. A .env file in
// the working directory is loaded first when present; real environment
// variables win over it.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverTables   = "tables"
	DriverPostgres = "postgres"
)

// Event sinks.
const (
	SinkNone  = "none"
	SinkQueue = "queue"
	SinkRedis = "redis"
)

// Config is the full service configuration.
type Config struct {
	Port        string
	Debug       bool
	LogFormat   string
	CORSOrigins []string

	JWTSecret     string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Auth0Domain   string
	Auth0Audience string

	StorageDriver    string
	StorageConn      string
	ListsTable       string
	TasksTable       string
	UsersTable       string
	TokensTable      string
	DatabaseURL      string
	RedisConn        string
	DeduperTTL       time.Duration
	ScopeLockTTL     time.Duration
	UserCacheTTL     time.Duration
	TasksPageSize    int
	EventsSink       string
	EventsQueue      string
	EventsChannel    string
	EventsWorkers    int
	EventsBuffer     int
	EventsHandoff    time.Duration
	EventsTimeout    time.Duration
	ShutdownTimeout  time.Duration
	RequestBodyLimit string
}

// Load reads .env (if any) and the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from lookup.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	e := env{lookup: lookup}
	cfg := Config{
		Port:          e.String("PORT", "3000"),
		Debug:         e.Bool("DEBUG", false),
		LogFormat:     e.String("LOG_FORMAT", "text"),
		CORSOrigins:   e.List("CORS_ORIGINS", []string{"http://localhost:5173"}),
		JWTSecret:     e.String("JWT_SECRET", "dev-secret"),
		AccessTTL:     e.Duration("ACCESS_TTL", 15*time.Minute),
		RefreshTTL:    e.Duration("REFRESH_TTL", 30*24*time.Hour),
		Auth0Domain:   e.String("AUTH0_DOMAIN", ""),
		Auth0Audience: e.String("AUTH0_AUDIENCE", ""),

		StorageDriver:    strings.ToLower(e.String("STORAGE_DRIVER", DriverMemory)),
		StorageConn:      e.String("STORAGE_CONNECTION_STRING", ""),
		ListsTable:       e.String("LISTS_TABLE", "Lists"),
		TasksTable:       e.String("TASKS_TABLE", "Tasks"),
		UsersTable:       e.String("USERS_TABLE", "Users"),
		TokensTable:      e.String("TOKENS_TABLE", "RefreshTokens"),
		DatabaseURL:      e.String("DATABASE_URL", ""),
		RedisConn:        e.String("REDIS_CONNECTION_STRING", ""),
		DeduperTTL:       e.Duration("DEDUPER_TTL", 24*time.Hour),
		ScopeLockTTL:     e.Duration("SCOPE_LOCK_TTL", 10*time.Second),
		UserCacheTTL:     e.Duration("USER_CACHE_TTL", 5*time.Minute),
		TasksPageSize:    e.Int("TASKS_PAGE_SIZE", 20),
		EventsSink:       strings.ToLower(e.String("EVENTS_SINK", SinkNone)),
		EventsQueue:      e.String("EVENTS_QUEUE", "board-events"),
		EventsChannel:    e.String("EVENTS_CHANNEL", "board-events"),
		EventsWorkers:    e.Int("EVENTS_WORKERS", 8),
		EventsBuffer:     e.Int("EVENTS_BUFFER", 1024),
		EventsHandoff:    e.Duration("EVENTS_HANDOFF_TIMEOUT", 15*time.Millisecond),
		EventsTimeout:    e.Duration("EVENTS_TIMEOUT", 30*time.Second),
		ShutdownTimeout:  e.Duration("SHUTDOWN_TIMEOUT", 10*time.Second),
		RequestBodyLimit: e.String("REQUEST_BODY_LIMIT", "64K"),
	}
	if len(e.errs) > 0 {
		return Config{}, errors.Join(e.errs...)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.StorageDriver {
	case DriverMemory:
	case DriverTables:
		if c.StorageConn == "" {
			return errors.New("missing storage config: STORAGE_CONNECTION_STRING")
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("missing storage config: DATABASE_URL")
		}
	default:
		return fmt.Errorf("invalid STORAGE_DRIVER %q", c.StorageDriver)
	}
	switch c.EventsSink {
	case SinkNone:
	case SinkQueue:
		if c.StorageConn == "" {
			return errors.New("EVENTS_SINK=queue needs STORAGE_CONNECTION_STRING")
		}
	case SinkRedis:
		if c.RedisConn == "" {
			return errors.New("EVENTS_SINK=redis needs REDIS_CONNECTION_STRING")
		}
	default:
		return fmt.Errorf("invalid EVENTS_SINK %q", c.EventsSink)
	}
	if (c.Auth0Domain == "") != (c.Auth0Audience == "") {
		return errors.New("missing Auth0 config: set both AUTH0_DOMAIN and AUTH0_AUDIENCE")
	}
	if c.TasksPageSize <= 0 {
		return errors.New("invalid TASKS_PAGE_SIZE: must be greater than zero")
	}
	if c.EventsWorkers <= 0 {
		return errors.New("invalid EVENTS_WORKERS: must be greater than zero")
	}
	return nil
}

// RedisOptions parses a redis:// URL or an Azure-style
// "host:port,password=...,ssl=True" connection string.
func RedisOptions(conn string) (*redis.Options, error) {
	if conn == "" {
		return nil, errors.New("empty redis connection string")
	}
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts, nil
}

type env struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *env) raw(name string) (string, bool) {
	v, ok := e.lookup(name)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *env) String(name, def string) string {
	if v, ok := e.raw(name); ok {
		return v
	}
	return def
}

func (e *env) Int(name string, def int) int {
	v, ok := e.raw(name)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid %s: %w", name, err))
		return def
	}
	return n
}

func (e *env) Bool(name string, def bool) bool {
	v, ok := e.raw(name)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid %s: %w", name, err))
		return def
	}
	return b
}

func (e *env) Duration(name string, def time.Duration) time.Duration {
	v, ok := e.raw(name)
	if !ok {
		return def
	}
	d, err := ParseDuration(v)
	if err != nil || d <= 0 {
		if err == nil {
			err = errors.New("must be positive")
		}
		e.errs = append(e.errs, fmt.Errorf("invalid %s: %w", name, err))
		return def
	}
	return d
}

func (e *env) List(name string, def []string) []string {
	v, ok := e.raw(name)
	if !ok {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// ParseDuration accepts everything time.ParseDuration does plus a whole
// number of days such as "30d".
func ParseDuration(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("time: invalid duration %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}
