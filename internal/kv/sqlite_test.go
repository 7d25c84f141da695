package kv_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/Tomlord1122/todo-kv/internal/kv"
	"github.com/Tomlord1122/todo-kv/internal/kv/kvtest"
)

func openTestSQLite(t *testing.T) *kv.SQLiteStore {
	t.Helper()
	s, err := kv.OpenSQLite(filepath.Join(t.TempDir(), "kv-test.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStoreContract(t *testing.T) {
	kvtest.RunStoreContract(t, func(t *testing.T) kv.Store {
		return openTestSQLite(t)
	})
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	ctx := context.Background()

	s, err := kv.OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	if err := s.Put(ctx, "todos:a", []byte("persisted")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	_ = s.Close()

	s, err = kv.OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()

	got, err := s.Get(ctx, "todos:a")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "persisted" {
		t.Errorf("Get() = %q", got)
	}
	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}
