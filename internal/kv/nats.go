package kv

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSConfig configures the JetStream Key-Value backend.
type NATSConfig struct {
	// URL is the NATS server URL. Default: nats.DefaultURL.
	URL string
	// Bucket is the KV bucket name. Default: "todos".
	Bucket string
	// Name is an optional connection name.
	Name string
	// Storage selects file or memory storage for the bucket. Default: file.
	Storage jetstream.StorageType
	// Replicas is the bucket replication factor. Default: 1.
	Replicas int
	// Timeout bounds connection setup and bucket creation. Default: 5s.
	Timeout time.Duration
}

// NATSStore maps Store onto a JetStream KV bucket. JetStream keys only allow
// [-/_=.a-zA-Z0-9], so keys are base64url-encoded on the wire.
type NATSStore struct {
	nc     *nats.Conn
	bucket jetstream.KeyValue
}

func OpenNATS(ctx context.Context, cfg NATSConfig) (*NATSStore, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	bucket := cfg.Bucket
	if bucket == "" {
		bucket = "todos"
	}
	replicas := cfg.Replicas
	if replicas <= 0 {
		replicas = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	nc, err := nats.Connect(url, nats.Timeout(timeout), func(o *nats.Options) error {
		if cfg.Name != "" {
			o.Name = cfg.Name
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	kvb, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:   bucket,
		History:  1,
		Storage:  cfg.Storage,
		Replicas: replicas,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("open bucket %q: %w", bucket, err)
	}

	return &NATSStore{nc: nc, bucket: kvb}, nil
}

func encodeNATSKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

func (s *NATSStore) Get(ctx context.Context, key string) ([]byte, error) {
	v, _, err := s.GetVersioned(ctx, key)
	return v, err
}

func (s *NATSStore) GetVersioned(ctx context.Context, key string) ([]byte, uint64, error) {
	entry, err := s.bucket.Get(ctx, encodeNATSKey(key))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("get %q: %w", key, err)
	}
	return entry.Value(), entry.Revision(), nil
}

func (s *NATSStore) Put(ctx context.Context, key string, value []byte) error {
	if _, err := s.bucket.Put(ctx, encodeNATSKey(key), value); err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	return nil
}

func (s *NATSStore) PutIfVersion(ctx context.Context, key string, value []byte, rev uint64) error {
	var err error
	if rev == 0 {
		_, err = s.bucket.Create(ctx, encodeNATSKey(key), value)
	} else {
		_, err = s.bucket.Update(ctx, encodeNATSKey(key), value, rev)
	}
	if err == nil {
		return nil
	}
	if isNATSRevisionMismatch(err) {
		return ErrConflict
	}
	return fmt.Errorf("conditional put %q: %w", key, err)
}

func isNATSRevisionMismatch(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

func (s *NATSStore) Delete(ctx context.Context, key string) error {
	if err := s.bucket.Delete(ctx, encodeNATSKey(key)); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

func (s *NATSStore) Ping(ctx context.Context) error {
	if status := s.nc.Status(); status != nats.CONNECTED {
		return fmt.Errorf("nats connection %s", status)
	}
	// FlushWithContext requires a deadline.
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
	}
	return s.nc.FlushWithContext(ctx)
}

func (s *NATSStore) Close() error {
	s.nc.Close()
	return nil
}
