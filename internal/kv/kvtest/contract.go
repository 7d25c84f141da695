// Package kvtest holds the behaviour every kv backend must share, as a
// reusable test suite.
package kvtest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Tomlord1122/todo-kv/internal/kv"
)

// RunStoreContract exercises the Store contract against fresh stores built
// by newStore. If the store also implements kv.VersionedStore, the
// versioned contract runs too.
func RunStoreContract(t *testing.T, newStore func(t *testing.T) kv.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("get missing key", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.Get(ctx, "todos:missing"); !errors.Is(err, kv.ErrNotFound) {
			t.Fatalf("Get() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("put then get", func(t *testing.T) {
		s := newStore(t)
		if err := s.Put(ctx, "todos:a", []byte(`{"id":"a"}`)); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		got, err := s.Get(ctx, "todos:a")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if string(got) != `{"id":"a"}` {
			t.Errorf("Get() = %q", got)
		}
	})

	t.Run("put overwrites", func(t *testing.T) {
		s := newStore(t)
		mustPut(t, s, "todos:user:u1", `["a"]`)
		mustPut(t, s, "todos:user:u1", `["a","b"]`)
		got, err := s.Get(ctx, "todos:user:u1")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if string(got) != `["a","b"]` {
			t.Errorf("Get() = %q, want last write", got)
		}
	})

	t.Run("keys with separators are distinct", func(t *testing.T) {
		s := newStore(t)
		mustPut(t, s, "todos:user:u1", "index")
		mustPut(t, s, "todos:user", "record")
		got, err := s.Get(ctx, "todos:user:u1")
		if err != nil || string(got) != "index" {
			t.Errorf("Get(index) = %q, %v", got, err)
		}
	})

	t.Run("delete", func(t *testing.T) {
		s := newStore(t)
		mustPut(t, s, "todos:a", "x")
		if err := s.Delete(ctx, "todos:a"); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if _, err := s.Get(ctx, "todos:a"); !errors.Is(err, kv.ErrNotFound) {
			t.Errorf("Get() after Delete error = %v, want ErrNotFound", err)
		}
		if err := s.Delete(ctx, "todos:never"); err != nil {
			t.Errorf("Delete() missing key error = %v, want nil", err)
		}
	})

	t.Run("concurrent puts on distinct keys", func(t *testing.T) {
		s := newStore(t)
		var wg sync.WaitGroup
		errs := make(chan error, 20)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				key := "todos:c" + string(rune('a'+i))
				errs <- s.Put(ctx, key, []byte(key))
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("concurrent Put() error = %v", err)
			}
		}
	})

	sample := newStore(t)
	if _, ok := sample.(kv.VersionedStore); !ok {
		return
	}

	t.Run("versioned", func(t *testing.T) {
		RunVersionedContract(t, func(t *testing.T) kv.VersionedStore {
			return newStore(t).(kv.VersionedStore)
		})
	})
}

// RunVersionedContract covers compare-and-swap semantics.
func RunVersionedContract(t *testing.T, newStore func(t *testing.T) kv.VersionedStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing key has revision zero", func(t *testing.T) {
		s := newStore(t)
		_, rev, err := s.GetVersioned(ctx, "todos:user:u1")
		if !errors.Is(err, kv.ErrNotFound) || rev != 0 {
			t.Fatalf("GetVersioned() = rev %d, err %v; want 0, ErrNotFound", rev, err)
		}
	})

	t.Run("create only when absent", func(t *testing.T) {
		s := newStore(t)
		if err := s.PutIfVersion(ctx, "todos:user:u1", []byte(`["a"]`), 0); err != nil {
			t.Fatalf("PutIfVersion(0) error = %v", err)
		}
		if err := s.PutIfVersion(ctx, "todos:user:u1", []byte(`["b"]`), 0); !errors.Is(err, kv.ErrConflict) {
			t.Fatalf("second PutIfVersion(0) error = %v, want ErrConflict", err)
		}
	})

	t.Run("update with current revision", func(t *testing.T) {
		s := newStore(t)
		mustPut(t, s, "todos:user:u1", `["a"]`)
		_, rev, err := s.GetVersioned(ctx, "todos:user:u1")
		if err != nil || rev == 0 {
			t.Fatalf("GetVersioned() = rev %d, err %v", rev, err)
		}
		if err := s.PutIfVersion(ctx, "todos:user:u1", []byte(`["a","b"]`), rev); err != nil {
			t.Fatalf("PutIfVersion(current) error = %v", err)
		}
		if err := s.PutIfVersion(ctx, "todos:user:u1", []byte(`["stale"]`), rev); !errors.Is(err, kv.ErrConflict) {
			t.Fatalf("PutIfVersion(stale) error = %v, want ErrConflict", err)
		}
		got, newRev, err := s.GetVersioned(ctx, "todos:user:u1")
		if err != nil {
			t.Fatalf("GetVersioned() error = %v", err)
		}
		if string(got) != `["a","b"]` {
			t.Errorf("value = %q, want the non-stale write", got)
		}
		if newRev <= rev {
			t.Errorf("revision did not grow: %d -> %d", rev, newRev)
		}
	})

	t.Run("plain put bumps revision", func(t *testing.T) {
		s := newStore(t)
		mustPut(t, s, "todos:x", "1")
		_, rev, _ := s.GetVersioned(ctx, "todos:x")
		mustPut(t, s, "todos:x", "2")
		if err := s.PutIfVersion(ctx, "todos:x", []byte("3"), rev); !errors.Is(err, kv.ErrConflict) {
			t.Errorf("PutIfVersion() after Put error = %v, want ErrConflict", err)
		}
	})

	t.Run("recreate after delete", func(t *testing.T) {
		s := newStore(t)
		mustPut(t, s, "todos:x", "1")
		if err := s.Delete(ctx, "todos:x"); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		_, rev, err := s.GetVersioned(ctx, "todos:x")
		if !errors.Is(err, kv.ErrNotFound) {
			t.Fatalf("GetVersioned() after Delete error = %v", err)
		}
		if err := s.PutIfVersion(ctx, "todos:x", []byte("2"), rev); err != nil {
			t.Errorf("PutIfVersion() after Delete error = %v", err)
		}
	})
}

func mustPut(t *testing.T, s kv.Store, key, value string) {
	t.Helper()
	if err := s.Put(context.Background(), key, []byte(value)); err != nil {
		t.Fatalf("Put(%q) error = %v", key, err)
	}
}
