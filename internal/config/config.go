// Package config reads process configuration from the environment. A .env
// file in the working directory is loaded first, if present.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	_ "github.com/joho/godotenv/autoload"
)

const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendNATS     = "nats"
)

type Postgres struct {
	Host     string
	Port     string
	Database string
	Username string
	Password string
	Schema   string
}

// DSN builds a key/value connection string for gorm's postgres driver.
func (p Postgres) DSN() string {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		p.Host, p.Username, p.Password, p.Database, p.Port)
	if p.Schema != "" {
		dsn += " search_path=" + p.Schema
	}
	return dsn
}

type NATS struct {
	URL    string
	Bucket string
}

type Config struct {
	Port     int
	Backend  string
	KVPrefix string

	SQLitePath string
	Postgres   Postgres
	NATS       NATS

	// JWTSecret enables bearer-token identity when non-empty.
	JWTSecret        string
	FetchConcurrency int
	TracingEnabled   bool
	AllowedOrigins   []string
}

// Load reads the environment. PORT falls back to 8080 with a warning; every
// other malformed value is an error.
func Load() (*Config, error) {
	cfg := &Config{
		Port:       8080,
		Backend:    getEnv("KV_BACKEND", BackendMemory),
		KVPrefix:   getEnv("KV_PREFIX", "todos"),
		SQLitePath: getEnv("SQLITE_PATH", "todos.db"),
		Postgres: Postgres{
			Host:     os.Getenv("BLUEPRINT_DB_HOST"),
			Port:     getEnv("BLUEPRINT_DB_PORT", "5432"),
			Database: os.Getenv("BLUEPRINT_DB_DATABASE"),
			Username: os.Getenv("BLUEPRINT_DB_USERNAME"),
			Password: os.Getenv("BLUEPRINT_DB_PASSWORD"),
			Schema:   os.Getenv("BLUEPRINT_DB_SCHEMA"),
		},
		NATS: NATS{
			URL:    getEnv("NATS_URL", "nats://127.0.0.1:4222"),
			Bucket: getEnv("NATS_BUCKET", "todos"),
		},
		JWTSecret:      os.Getenv("JWT_SECRET"),
		AllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "https://*,http://*")),
	}

	if portStr := os.Getenv("PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil || port <= 0 {
			log.Printf("Warning: Invalid PORT environment variable '%s'. Using default 8080.", portStr)
		} else {
			cfg.Port = port
		}
	}

	cfg.Backend = strings.ToLower(cfg.Backend)
	switch cfg.Backend {
	case BackendMemory, BackendSQLite, BackendPostgres, BackendNATS:
	default:
		return nil, fmt.Errorf("KV_BACKEND %q: want one of memory, sqlite, postgres, nats", cfg.Backend)
	}

	if strings.TrimSpace(cfg.KVPrefix) == "" || strings.Contains(cfg.KVPrefix, ":") {
		return nil, fmt.Errorf("KV_PREFIX %q: must be non-empty and contain no ':'", cfg.KVPrefix)
	}

	n, err := strconv.Atoi(getEnv("FETCH_CONCURRENCY", "32"))
	if err != nil || n <= 0 {
		return nil, fmt.Errorf("FETCH_CONCURRENCY: must be a positive integer")
	}
	cfg.FetchConcurrency = n

	if v := os.Getenv("TRACING_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("TRACING_ENABLED %q: %w", v, err)
		}
		cfg.TracingEnabled = enabled
	}

	if cfg.Backend == BackendPostgres && (cfg.Postgres.Host == "" || cfg.Postgres.Database == "") {
		return nil, fmt.Errorf("postgres backend needs BLUEPRINT_DB_HOST and BLUEPRINT_DB_DATABASE")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
