package kv_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	natssrv "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Tomlord1122/todo-kv/internal/kv"
	"github.com/Tomlord1122/todo-kv/internal/kv/kvtest"
)

func runTestJetStreamServer(t *testing.T) *natssrv.Server {
	t.Helper()

	opts := &natssrv.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
	}
	s, err := natssrv.NewServer(opts)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	go s.Start()
	if !s.ReadyForConnections(5 * time.Second) {
		s.Shutdown()
		t.Fatalf("nats server not ready")
	}
	t.Cleanup(s.Shutdown)
	return s
}

func TestNATSStoreContract(t *testing.T) {
	srv := runTestJetStreamServer(t)
	var buckets atomic.Int64

	kvtest.RunStoreContract(t, func(t *testing.T) kv.Store {
		s, err := kv.OpenNATS(context.Background(), kv.NATSConfig{
			URL:     srv.ClientURL(),
			Bucket:  fmt.Sprintf("todos_test_%d", buckets.Add(1)),
			Storage: jetstream.MemoryStorage,
		})
		if err != nil {
			t.Fatalf("OpenNATS() error = %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestNATSStorePing(t *testing.T) {
	srv := runTestJetStreamServer(t)
	s, err := kv.OpenNATS(context.Background(), kv.NATSConfig{URL: srv.ClientURL(), Storage: jetstream.MemoryStorage})
	if err != nil {
		t.Fatalf("OpenNATS() error = %v", err)
	}
	defer s.Close()

	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

func TestOpenNATSUnreachable(t *testing.T) {
	_, err := kv.OpenNATS(context.Background(), kv.NATSConfig{
		URL:     "nats://127.0.0.1:1",
		Timeout: 200 * time.Millisecond,
	})
	if err == nil {
		t.Fatal("OpenNATS() against a closed port should fail")
	}
}
