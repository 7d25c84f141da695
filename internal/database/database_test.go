package database

import (
	"context"
	"flag"
	"log"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Tomlord1122/todo-kv/internal/config"
	"github.com/Tomlord1122/todo-kv/internal/kv"
	"github.com/Tomlord1122/todo-kv/internal/kv/kvtest"
)

// testConfig is filled in by TestMain once the container is up. It stays
// zero when Docker is unavailable, and the tests skip.
var testConfig config.Postgres

func mustStartPostgresContainer() (func(context.Context, ...testcontainers.TerminateOption) error, error) {
	var (
		dbName = "database"
		dbPwd  = "password"
		dbUser = "user"
	)

	dbContainer, err := postgres.Run(
		context.Background(),
		"postgres:16-alpine",
		postgres.WithDatabase(dbName),
		postgres.WithUsername(dbUser),
		postgres.WithPassword(dbPwd),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return nil, err
	}

	dbHost, err := dbContainer.Host(context.Background())
	if err != nil {
		return dbContainer.Terminate, err
	}
	dbPort, err := dbContainer.MappedPort(context.Background(), "5432/tcp")
	if err != nil {
		return dbContainer.Terminate, err
	}

	testConfig = config.Postgres{
		Host:     dbHost,
		Port:     dbPort.Port(),
		Database: dbName,
		Username: dbUser,
		Password: dbPwd,
	}
	return dbContainer.Terminate, nil
}

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() || os.Getenv("SKIP_CONTAINER_TESTS") != "" {
		os.Exit(m.Run())
	}

	teardown, err := mustStartPostgresContainer()
	if err != nil {
		log.Printf("could not start postgres container, postgres tests will skip: %v", err)
		testConfig = config.Postgres{}
	}

	code := m.Run()

	if teardown != nil {
		if err := teardown(context.Background()); err != nil {
			log.Printf("could not teardown postgres container: %v", err)
		}
	}
	os.Exit(code)
}

func newTestService(t *testing.T) Service {
	t.Helper()
	if testConfig.Host == "" {
		t.Skip("postgres container not available")
	}
	srv, err := New(testConfig)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv
}

func TestNew(t *testing.T) {
	srv := newTestService(t)
	defer srv.Close()
	if srv.GetDB() == nil {
		t.Fatal("GetDB() returned nil")
	}
}

func TestHealth(t *testing.T) {
	srv := newTestService(t)
	defer srv.Close()

	stats := srv.Health()
	if stats["status"] != "up" {
		t.Fatalf("expected status to be up, got %s (%s)", stats["status"], stats["error"])
	}
	if _, ok := stats["error"]; ok {
		t.Fatalf("expected error not to be present")
	}
	if stats["message"] != "It's healthy" {
		t.Fatalf("expected message to be 'It's healthy', got %s", stats["message"])
	}
}

func TestKVStoreHealthCountsEntries(t *testing.T) {
	srv := newTestService(t)
	store, err := NewKVStore(srv)
	if err != nil {
		t.Fatalf("NewKVStore() error = %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.db.Exec("DELETE FROM kv_entries").Error; err != nil {
		t.Fatalf("truncate kv_entries: %v", err)
	}
	for _, key := range []string{"todos:a", "todos:user:u1"} {
		if err := store.Put(ctx, key, []byte("{}")); err != nil {
			t.Fatalf("Put(%s) error = %v", key, err)
		}
	}

	stats := store.Health()
	if stats["status"] != "up" {
		t.Fatalf("status = %s (%s)", stats["status"], stats["error"])
	}
	if stats["kv_entries"] != "2" {
		t.Errorf("kv_entries = %q, want 2", stats["kv_entries"])
	}
	if stats["database"] == "" {
		t.Error("database name missing from health stats")
	}
}

func TestKVStoreContract(t *testing.T) {
	srv := newTestService(t)
	store, err := NewKVStore(srv)
	if err != nil {
		t.Fatalf("NewKVStore() error = %v", err)
	}
	defer store.Close()

	// Subtests share one table; clear it so each starts empty.
	kvtest.RunStoreContract(t, func(t *testing.T) kv.Store {
		if err := store.db.Exec("DELETE FROM kv_entries").Error; err != nil {
			t.Fatalf("truncate kv_entries: %v", err)
		}
		return store
	})

	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}
