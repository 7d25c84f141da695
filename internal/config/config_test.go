package config

import (
	"reflect"
	"strings"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "KV_BACKEND", "KV_PREFIX", "SQLITE_PATH",
		"BLUEPRINT_DB_HOST", "BLUEPRINT_DB_PORT", "BLUEPRINT_DB_DATABASE",
		"BLUEPRINT_DB_USERNAME", "BLUEPRINT_DB_PASSWORD", "BLUEPRINT_DB_SCHEMA",
		"NATS_URL", "NATS_BUCKET", "JWT_SECRET", "FETCH_CONCURRENCY",
		"TRACING_ENABLED", "CORS_ALLOWED_ORIGINS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.Backend != BackendMemory {
		t.Errorf("Backend = %q, want memory", cfg.Backend)
	}
	if cfg.KVPrefix != "todos" {
		t.Errorf("KVPrefix = %q, want todos", cfg.KVPrefix)
	}
	if cfg.FetchConcurrency != 32 {
		t.Errorf("FetchConcurrency = %d, want 32", cfg.FetchConcurrency)
	}
	if cfg.TracingEnabled {
		t.Error("TracingEnabled should default to false")
	}
	if want := []string{"https://*", "http://*"}; !reflect.DeepEqual(cfg.AllowedOrigins, want) {
		t.Errorf("AllowedOrigins = %v, want %v", cfg.AllowedOrigins, want)
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("KV_BACKEND", "NATS")
	t.Setenv("NATS_BUCKET", "todos_prod")
	t.Setenv("FETCH_CONCURRENCY", "4")
	t.Setenv("TRACING_ENABLED", "true")
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != 9090 || cfg.Backend != BackendNATS || cfg.NATS.Bucket != "todos_prod" {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.FetchConcurrency != 4 || !cfg.TracingEnabled || cfg.JWTSecret != "s3cret" {
		t.Errorf("unexpected config: %+v", cfg)
	}
}

func TestLoadInvalidPortFallsBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "not-a-port")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want fallback 8080", cfg.Port)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"unknown backend", map[string]string{"KV_BACKEND": "redis"}, "KV_BACKEND"},
		{"prefix with separator", map[string]string{"KV_PREFIX": "a:b"}, "KV_PREFIX"},
		{"bad concurrency", map[string]string{"FETCH_CONCURRENCY": "0"}, "FETCH_CONCURRENCY"},
		{"bad tracing flag", map[string]string{"TRACING_ENABLED": "maybe"}, "TRACING_ENABLED"},
		{"postgres without host", map[string]string{"KV_BACKEND": "postgres"}, "BLUEPRINT_DB_HOST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil {
				t.Fatal("Load() error = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load() error = %v, want mention of %s", err, tt.want)
			}
		})
	}
}

func TestPostgresDSN(t *testing.T) {
	p := Postgres{Host: "db", Port: "5432", Database: "todos", Username: "u", Password: "p", Schema: "app"}
	want := "host=db user=u password=p dbname=todos port=5432 sslmode=disable search_path=app"
	if got := p.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}
