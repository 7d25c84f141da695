package kv

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Tomlord1122/todo-kv/internal/metrics"
)

const tracerName = "github.com/Tomlord1122/todo-kv/internal/kv"

// Instrument wraps store so that every operation is counted, timed and
// traced. The returned Store implements VersionedStore whenever store does.
func Instrument(store Store, backend string, m *metrics.Metrics) Store {
	base := &instrumented{
		inner:   store,
		backend: backend,
		metrics: m,
		tracer:  otel.Tracer(tracerName),
	}
	if vs, ok := store.(VersionedStore); ok {
		return &instrumentedVersioned{instrumented: base, versioned: vs}
	}
	return base
}

type instrumented struct {
	inner   Store
	backend string
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

func (s *instrumented) observe(ctx context.Context, op, key string, fn func(context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, "kv."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("kv.backend", s.backend),
			attribute.String("kv.key", key),
		),
	)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	result := resultLabel(err)
	s.metrics.RecordKVOperation(s.backend, op, result, time.Since(start))

	if result == "error" {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}

func (s *instrumented) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.observe(ctx, "get", key, func(ctx context.Context) error {
		var err error
		value, err = s.inner.Get(ctx, key)
		return err
	})
	return value, err
}

func (s *instrumented) Put(ctx context.Context, key string, value []byte) error {
	return s.observe(ctx, "put", key, func(ctx context.Context) error {
		return s.inner.Put(ctx, key, value)
	})
}

func (s *instrumented) Delete(ctx context.Context, key string) error {
	return s.observe(ctx, "delete", key, func(ctx context.Context) error {
		return s.inner.Delete(ctx, key)
	})
}

func (s *instrumented) Ping(ctx context.Context) error {
	p, ok := s.inner.(Pinger)
	if !ok {
		return nil
	}
	return p.Ping(ctx)
}

func (s *instrumented) Close() error {
	return s.inner.Close()
}

type instrumentedVersioned struct {
	*instrumented
	versioned VersionedStore
}

func (s *instrumentedVersioned) GetVersioned(ctx context.Context, key string) ([]byte, uint64, error) {
	var (
		value []byte
		rev   uint64
	)
	err := s.observe(ctx, "get_versioned", key, func(ctx context.Context) error {
		var err error
		value, rev, err = s.versioned.GetVersioned(ctx, key)
		return err
	})
	return value, rev, err
}

func (s *instrumentedVersioned) PutIfVersion(ctx context.Context, key string, value []byte, rev uint64) error {
	return s.observe(ctx, "put_if_version", key, func(ctx context.Context) error {
		return s.versioned.PutIfVersion(ctx, key, value, rev)
	})
}
