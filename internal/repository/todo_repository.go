package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/Tomlord1122/todo-kv/internal/domain"
	"github.com/Tomlord1122/todo-kv/internal/kv"
)

// maxIndexAttempts bounds the compare-and-swap loop on a user index.
const maxIndexAttempts = 8

// ErrIndexContention is returned when an index kept changing under every
// compare-and-swap attempt.
var ErrIndexContention = errors.New("user index contention")

// TodoRepository maps todo records and per-user index lists onto a kv.Store.
//
// Keys:
//
//	<prefix>:<id>             the JSON-encoded todo record
//	<prefix>:user:<userID>    the JSON array of the user's todo ids
//
// Record ids must be UUIDs. Anything else, such as "user:<userID>", is
// rejected before a key is built, so the two families never meet.
type TodoRepository interface {
	PutRecord(ctx context.Context, todo *domain.Todo) error
	// GetRecord returns domain.ErrTodoNotFound if the record is absent or id
	// is not a UUID.
	GetRecord(ctx context.Context, id string) (*domain.Todo, error)
	DeleteRecord(ctx context.Context, id string) error

	// GetIndex returns an empty slice if the user has no index yet.
	GetIndex(ctx context.Context, userID string) ([]string, error)
	// UpdateIndex applies fn to the current index and writes the result back.
	// fn may run more than once when the store supports compare-and-swap and
	// a concurrent writer wins; only the last result is written.
	UpdateIndex(ctx context.Context, userID string, fn func(ids []string) []string) error
}

type kvTodoRepository struct {
	store  kv.Store
	prefix string
}

// NewKVTodoRepository creates a repository rooted at prefix. The prefix is
// reserved for this repository within store.
func NewKVTodoRepository(store kv.Store, prefix string) TodoRepository {
	return &kvTodoRepository{store: store, prefix: prefix}
}

func RecordKey(prefix, id string) string {
	return prefix + ":" + id
}

func IndexKey(prefix, userID string) string {
	return prefix + ":user:" + userID
}

// ErrInvalidID is returned when a record is written under an id that is not
// a UUID.
var ErrInvalidID = errors.New("todo id is not a UUID")

func validID(id string) bool {
	return uuid.Validate(id) == nil
}

func (r *kvTodoRepository) PutRecord(ctx context.Context, todo *domain.Todo) error {
	if !validID(todo.ID) {
		return fmt.Errorf("%w: %q", ErrInvalidID, todo.ID)
	}
	data, err := json.Marshal(todo)
	if err != nil {
		return fmt.Errorf("encode todo %s: %w", todo.ID, err)
	}
	return r.store.Put(ctx, RecordKey(r.prefix, todo.ID), data)
}

func (r *kvTodoRepository) GetRecord(ctx context.Context, id string) (*domain.Todo, error) {
	if !validID(id) {
		return nil, domain.ErrTodoNotFound
	}
	data, err := r.store.Get(ctx, RecordKey(r.prefix, id))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, domain.ErrTodoNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeTodo(id, data)
}

func decodeTodo(id string, data []byte) (*domain.Todo, error) {
	var todo domain.Todo
	if err := json.Unmarshal(data, &todo); err != nil {
		return nil, fmt.Errorf("%w: todo %s: %v", domain.ErrCorrupt, id, err)
	}
	if todo.ID == "" || todo.UserID == "" {
		return nil, fmt.Errorf("%w: todo %s: missing id or owner", domain.ErrCorrupt, id)
	}
	if todo.Tags == nil {
		todo.Tags = []string{}
	}
	if todo.Priority == "" {
		todo.Priority = domain.PriorityMedium
	}
	if !todo.Priority.Valid() {
		return nil, fmt.Errorf("%w: todo %s: unknown priority %q", domain.ErrCorrupt, id, todo.Priority)
	}
	return &todo, nil
}

func (r *kvTodoRepository) DeleteRecord(ctx context.Context, id string) error {
	if !validID(id) {
		return domain.ErrTodoNotFound
	}
	return r.store.Delete(ctx, RecordKey(r.prefix, id))
}

func (r *kvTodoRepository) GetIndex(ctx context.Context, userID string) ([]string, error) {
	data, err := r.store.Get(ctx, IndexKey(r.prefix, userID))
	if errors.Is(err, kv.ErrNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeIndex(userID, data)
}

func decodeIndex(userID string, data []byte) ([]string, error) {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("%w: index for user %s: %v", domain.ErrCorrupt, userID, err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func encodeIndex(ids []string) ([]byte, error) {
	if ids == nil {
		ids = []string{}
	}
	return json.Marshal(ids)
}

func (r *kvTodoRepository) UpdateIndex(ctx context.Context, userID string, fn func(ids []string) []string) error {
	vs, ok := r.store.(kv.VersionedStore)
	if !ok {
		ids, err := r.GetIndex(ctx, userID)
		if err != nil {
			return err
		}
		data, err := encodeIndex(fn(ids))
		if err != nil {
			return err
		}
		return r.store.Put(ctx, IndexKey(r.prefix, userID), data)
	}

	key := IndexKey(r.prefix, userID)
	for attempt := 0; attempt < maxIndexAttempts; attempt++ {
		ids := []string{}
		data, rev, err := vs.GetVersioned(ctx, key)
		switch {
		case errors.Is(err, kv.ErrNotFound):
		case err != nil:
			return err
		default:
			if ids, err = decodeIndex(userID, data); err != nil {
				return err
			}
		}

		data, err = encodeIndex(fn(slices.Clone(ids)))
		if err != nil {
			return err
		}
		err = vs.PutIfVersion(ctx, key, data, rev)
		if err == nil {
			return nil
		}
		if !errors.Is(err, kv.ErrConflict) {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: user %s after %d attempts", ErrIndexContention, userID, maxIndexAttempts)
}
