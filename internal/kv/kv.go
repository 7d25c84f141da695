// Package kv defines the key-value store contract the todo repository is
// built on, along with the in-process, SQLite and NATS JetStream backends.
//
// A Store offers only get/put/delete on exact keys. Values are opaque bytes;
// serialization belongs to the caller. Backends that can compare-and-swap
// also implement VersionedStore.
package kv

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New("key not found")
	// ErrConflict is returned by PutIfVersion when the stored revision
	// differs from the expected one.
	ErrConflict = errors.New("revision conflict")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store closed")
)

type Store interface {
	// Get returns ErrNotFound if the key doesn't exist.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put stores value under key, overwriting any previous value.
	Put(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	Close() error
}

// VersionedStore adds optimistic concurrency on top of Store. Revisions are
// positive and grow on every write of a key; revision 0 stands for "absent".
type VersionedStore interface {
	Store
	// GetVersioned returns the value and its current revision, or
	// ErrNotFound with revision 0.
	GetVersioned(ctx context.Context, key string) ([]byte, uint64, error)
	// PutIfVersion writes value only if the key's revision still equals rev.
	// rev 0 means the key must not exist. Returns ErrConflict otherwise.
	PutIfVersion(ctx context.Context, key string, value []byte, rev uint64) error
}

// Pinger is implemented by backends that can report liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}
