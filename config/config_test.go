package config

import (
	"strings"
	"testing"
	"time"
)

func lookupFrom(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaults(t *testing.T) {
	cfg, err := FromEnv(lookupFrom(nil))
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if cfg.Port != "3000" || cfg.JWTSecret != "dev-secret" || cfg.StorageDriver != DriverMemory {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.AccessTTL != 15*time.Minute || cfg.RefreshTTL != 30*24*time.Hour {
		t.Fatalf("unexpected token ttls: %v %v", cfg.AccessTTL, cfg.RefreshTTL)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "http://localhost:5173" {
		t.Fatalf("unexpected cors origins: %v", cfg.CORSOrigins)
	}
	if cfg.TasksPageSize != 20 || cfg.EventsSink != SinkNone {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestOverrides(t *testing.T) {
	cfg, err := FromEnv(lookupFrom(map[string]string{
		"PORT":                    "8080",
		"DEBUG":                   "true",
		"CORS_ORIGINS":            "https://a.example, https://b.example,",
		"REFRESH_TTL":             "7d",
		"ACCESS_TTL":              "90s",
		"STORAGE_DRIVER":          "Postgres",
		"DATABASE_URL":            "postgres://localhost/board",
		"TASKS_PAGE_SIZE":         "50",
		"EVENTS_SINK":             "redis",
		"REDIS_CONNECTION_STRING": "localhost:6379",
	}))
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if !cfg.Debug || cfg.Port != "8080" || cfg.StorageDriver != DriverPostgres || cfg.TasksPageSize != 50 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.RefreshTTL != 7*24*time.Hour || cfg.AccessTTL != 90*time.Second {
		t.Fatalf("unexpected ttls: %v %v", cfg.RefreshTTL, cfg.AccessTTL)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins: %v", cfg.CORSOrigins)
	}
}

func TestInvalidValues(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"bad int", map[string]string{"TASKS_PAGE_SIZE": "ten"}, "TASKS_PAGE_SIZE"},
		{"zero page size", map[string]string{"TASKS_PAGE_SIZE": "0"}, "TASKS_PAGE_SIZE"},
		{"bad duration", map[string]string{"ACCESS_TTL": "soon"}, "ACCESS_TTL"},
		{"negative duration", map[string]string{"DEDUPER_TTL": "-1h"}, "DEDUPER_TTL"},
		{"bad bool", map[string]string{"DEBUG": "maybe"}, "DEBUG"},
		{"unknown driver", map[string]string{"STORAGE_DRIVER": "mongo"}, "STORAGE_DRIVER"},
		{"tables without connection", map[string]string{"STORAGE_DRIVER": "tables"}, "STORAGE_CONNECTION_STRING"},
		{"postgres without url", map[string]string{"STORAGE_DRIVER": "postgres"}, "DATABASE_URL"},
		{"redis sink without redis", map[string]string{"EVENTS_SINK": "redis"}, "REDIS_CONNECTION_STRING"},
		{"half auth0", map[string]string{"AUTH0_DOMAIN": "tenant.auth0.com"}, "Auth0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromEnv(lookupFrom(tc.env))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %s, got %v", tc.want, err)
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"15m": 15 * time.Minute,
		"30d": 30 * 24 * time.Hour,
		"1h":  time.Hour,
	}
	for in, want := range cases {
		got, err := ParseDuration(in)
		if err != nil || got != want {
			t.Fatalf("ParseDuration(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseDuration("xd"); err == nil {
		t.Fatalf("expected error for xd")
	}
}

func TestRedisOptions(t *testing.T) {
	opts, err := RedisOptions("redis://:pw@cache:6380/2")
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if opts.Addr != "cache:6380" || opts.Password != "pw" || opts.DB != 2 {
		t.Fatalf("unexpected url options: %+v", opts)
	}

	opts, err = RedisOptions("board.redis.cache.windows.net:6380,password=secret,ssl=True,abortConnect=False")
	if err != nil {
		t.Fatalf("parse azure string: %v", err)
	}
	if opts.Addr != "board.redis.cache.windows.net:6380" || opts.Password != "secret" || opts.TLSConfig == nil {
		t.Fatalf("unexpected azure options: %+v", opts)
	}

	if _, err := RedisOptions(""); err == nil {
		t.Fatalf("expected error for empty string")
	}
}
