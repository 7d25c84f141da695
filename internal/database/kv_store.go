package database

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Tomlord1122/todo-kv/internal/kv"
)

// KVEntry is one row of the kv_entries table.
type KVEntry struct {
	Key       string `gorm:"primaryKey;column:key"`
	Value     []byte `gorm:"not null"`
	Revision  uint64 `gorm:"not null"`
	UpdatedAt time.Time
}

func (KVEntry) TableName() string {
	return "kv_entries"
}

// KVStore implements kv.VersionedStore on top of a Postgres table.
type KVStore struct {
	svc Service
	db  *gorm.DB
}

// NewKVStore migrates kv_entries and returns a store bound to svc's pool.
// Closing the store closes the pool.
func NewKVStore(svc Service) (*KVStore, error) {
	db := svc.GetDB()
	if err := db.AutoMigrate(&KVEntry{}); err != nil {
		return nil, fmt.Errorf("migrate kv_entries: %w", err)
	}
	return &KVStore{svc: svc, db: db}, nil
}

func (s *KVStore) Get(ctx context.Context, key string) ([]byte, error) {
	v, _, err := s.GetVersioned(ctx, key)
	return v, err
}

func (s *KVStore) GetVersioned(ctx context.Context, key string) ([]byte, uint64, error) {
	var entry KVEntry
	err := s.db.WithContext(ctx).Where("key = ?", key).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, 0, kv.ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("get %q: %w", key, err)
	}
	return entry.Value, entry.Revision, nil
}

func (s *KVStore) Put(ctx context.Context, key string, value []byte) error {
	entry := KVEntry{Key: key, Value: value, Revision: 1, UpdatedAt: time.Now()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"value":      gorm.Expr("excluded.value"),
			"revision":   gorm.Expr("kv_entries.revision + 1"),
			"updated_at": gorm.Expr("excluded.updated_at"),
		}),
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	return nil
}

func (s *KVStore) PutIfVersion(ctx context.Context, key string, value []byte, rev uint64) error {
	var result *gorm.DB
	if rev == 0 {
		entry := KVEntry{Key: key, Value: value, Revision: 1, UpdatedAt: time.Now()}
		result = s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&entry)
	} else {
		result = s.db.WithContext(ctx).Model(&KVEntry{}).
			Where("key = ? AND revision = ?", key, rev).
			Updates(map[string]interface{}{
				"value":      value,
				"revision":   gorm.Expr("revision + 1"),
				"updated_at": time.Now(),
			})
	}
	if result.Error != nil {
		return fmt.Errorf("conditional put %q: %w", key, result.Error)
	}
	if result.RowsAffected != 1 {
		return kv.ErrConflict
	}
	return nil
}

func (s *KVStore) Delete(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Where("key = ?", key).Delete(&KVEntry{}).Error; err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

func (s *KVStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Health extends the pool statistics of the underlying Service with the
// number of stored keys.
func (s *KVStore) Health() map[string]string {
	stats := s.svc.Health()
	if stats["status"] != "up" {
		return stats
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var entries int64
	if err := s.db.WithContext(ctx).Model(&KVEntry{}).Count(&entries).Error; err != nil {
		stats["status"] = "down"
		stats["error"] = "kv_entries unreadable"
		log.Printf("count kv_entries: %v", err)
		return stats
	}
	stats["kv_entries"] = strconv.FormatInt(entries, 10)
	return stats
}

func (s *KVStore) Close() error {
	return s.svc.Close()
}
