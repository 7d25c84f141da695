package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/Tomlord1122/todo-kv/internal/domain"
	"github.com/Tomlord1122/todo-kv/internal/repository"
)

const tracerName = "github.com/Tomlord1122/todo-kv/internal/service"

// TodoService defines the operations for managing a user's todos.
type TodoService interface {
	// CreateTodo writes the record and then appends its id to the owner's
	// index. A reader that sees the id in the index can always load it.
	CreateTodo(ctx context.Context, req domain.CreateTodoRequest) (*domain.Todo, error)

	// GetTodo returns domain.ErrTodoNotFound if no record exists.
	GetTodo(ctx context.Context, id string) (*domain.Todo, error)

	// UpdateTodo merges a patch over the record. The owner never changes and
	// the index is not touched.
	UpdateTodo(ctx context.Context, id string, req domain.UpdateTodoRequest) (*domain.Todo, error)

	// ToggleTodo flips completed through UpdateTodo.
	ToggleTodo(ctx context.Context, id string) (*domain.Todo, error)

	// DeleteTodo removes the id from the owner's index and then deletes the
	// record. It returns domain.ErrForbidden if userID is not the owner.
	DeleteTodo(ctx context.Context, userID, id string) error

	// GetUserTodos lists the user's todos, newest first. filters may be nil.
	GetUserTodos(ctx context.Context, userID string, filters *domain.TodoFilters) ([]domain.Todo, error)

	// SearchTodos matches query case-insensitively against task and tags.
	SearchTodos(ctx context.Context, userID, query string) ([]domain.Todo, error)

	GetTodosStats(ctx context.Context, userID string) (*domain.TodoStats, error)

	// RepairUserIndex drops index entries that point at missing records,
	// at records of another user, or that repeat an earlier entry.
	RepairUserIndex(ctx context.Context, userID string) (*domain.RepairReport, error)
}

// Options tunes a todoService. Zero values select defaults.
type Options struct {
	// FetchConcurrency caps parallel record reads in GetUserTodos.
	FetchConcurrency int
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
	// NewID mints todo ids, which must be UUIDs. Defaults to uuid.NewString.
	NewID func() string
}

type todoService struct {
	repo             repository.TodoRepository
	fetchConcurrency int
	now              func() time.Time
	newID            func() string
	tracer           trace.Tracer
}

func NewTodoService(repo repository.TodoRepository, opts Options) TodoService {
	s := &todoService{
		repo:             repo,
		fetchConcurrency: opts.FetchConcurrency,
		now:              opts.Now,
		newID:            opts.NewID,
		tracer:           otel.Tracer(tracerName),
	}
	if s.fetchConcurrency <= 0 {
		s.fetchConcurrency = 32
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

func (s *todoService) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "TodoService."+name, trace.WithAttributes(attrs...))
}

// endSpan records err on span unless it is an expected outcome.
func endSpan(span trace.Span, err error) {
	if err != nil && !errors.Is(err, domain.ErrTodoNotFound) && !errors.Is(err, domain.ErrValidation) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *todoService) CreateTodo(ctx context.Context, req domain.CreateTodoRequest) (todo *domain.Todo, err error) {
	ctx, span := s.startSpan(ctx, "CreateTodo", attribute.String("todo.user_id", req.UserID))
	defer func() { endSpan(span, err) }()

	task := strings.TrimSpace(req.Task)
	if task == "" {
		return nil, domain.ErrEmptyTask
	}
	if strings.TrimSpace(req.UserID) == "" {
		return nil, domain.ErrMissingUser
	}
	priority, err := domain.ParsePriority(string(req.Priority))
	if err != nil {
		return nil, err
	}

	now := s.now()
	newTodo := &domain.Todo{
		ID:        s.newID(),
		Task:      task,
		Completed: false,
		UserID:    req.UserID,
		CreatedAt: now,
		UpdatedAt: now,
		DueDate:   req.DueDate,
		Priority:  priority,
		Tags:      domain.NormalizeTags(req.Tags),
	}

	if err := s.repo.PutRecord(ctx, newTodo); err != nil {
		return nil, fmt.Errorf("store todo %s: %w", newTodo.ID, err)
	}
	err = s.repo.UpdateIndex(ctx, newTodo.UserID, func(ids []string) []string {
		return append(ids, newTodo.ID)
	})
	if err != nil {
		// The record stays behind, unreachable through listing.
		log.Printf("Error indexing todo %s for user %s: %v", newTodo.ID, newTodo.UserID, err)
		return nil, fmt.Errorf("index todo %s: %w", newTodo.ID, err)
	}

	span.SetAttributes(attribute.String("todo.id", newTodo.ID))
	return newTodo, nil
}

func (s *todoService) GetTodo(ctx context.Context, id string) (todo *domain.Todo, err error) {
	ctx, span := s.startSpan(ctx, "GetTodo", attribute.String("todo.id", id))
	defer func() { endSpan(span, err) }()

	return s.repo.GetRecord(ctx, id)
}

func (s *todoService) UpdateTodo(ctx context.Context, id string, req domain.UpdateTodoRequest) (todo *domain.Todo, err error) {
	ctx, span := s.startSpan(ctx, "UpdateTodo", attribute.String("todo.id", id))
	defer func() { endSpan(span, err) }()

	existing, err := s.repo.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Task != nil {
		task := strings.TrimSpace(*req.Task)
		if task == "" {
			return nil, domain.ErrEmptyTask
		}
		existing.Task = task
	}
	if req.Completed != nil {
		existing.Completed = *req.Completed
	}
	if req.DueDate != nil {
		due := *req.DueDate
		existing.DueDate = &due
	}
	if req.Priority != nil {
		priority, err := domain.ParsePriority(string(*req.Priority))
		if err != nil {
			return nil, err
		}
		existing.Priority = priority
	}
	if req.Tags != nil {
		existing.Tags = domain.NormalizeTags(*req.Tags)
	}

	existing.UpdatedAt = s.nextUpdatedAt(existing.UpdatedAt)

	if err := s.repo.PutRecord(ctx, existing); err != nil {
		return nil, fmt.Errorf("store todo %s: %w", id, err)
	}
	return existing, nil
}

// nextUpdatedAt returns now, nudged past prev so updatedAt always advances
// even on a coarse clock.
func (s *todoService) nextUpdatedAt(prev time.Time) time.Time {
	now := s.now()
	if !now.After(prev) {
		now = prev.Add(time.Nanosecond)
	}
	return now
}

func (s *todoService) ToggleTodo(ctx context.Context, id string) (*domain.Todo, error) {
	existing, err := s.GetTodo(ctx, id)
	if err != nil {
		return nil, err
	}
	completed := !existing.Completed
	return s.UpdateTodo(ctx, id, domain.UpdateTodoRequest{Completed: &completed})
}

func (s *todoService) DeleteTodo(ctx context.Context, userID, id string) (err error) {
	ctx, span := s.startSpan(ctx, "DeleteTodo",
		attribute.String("todo.id", id),
		attribute.String("todo.user_id", userID),
	)
	defer func() { endSpan(span, err) }()

	existing, err := s.repo.GetRecord(ctx, id)
	if err != nil {
		return err
	}
	if existing.UserID != userID {
		return fmt.Errorf("%w: todo %s", domain.ErrForbidden, id)
	}

	// Index first: a reader must never find an id whose record is gone.
	err = s.repo.UpdateIndex(ctx, existing.UserID, func(ids []string) []string {
		return slices.DeleteFunc(ids, func(v string) bool { return v == id })
	})
	if err != nil {
		return fmt.Errorf("unindex todo %s: %w", id, err)
	}
	if err := s.repo.DeleteRecord(ctx, id); err != nil {
		return fmt.Errorf("delete todo %s: %w", id, err)
	}
	return nil
}

func (s *todoService) GetUserTodos(ctx context.Context, userID string, filters *domain.TodoFilters) (todos []domain.Todo, err error) {
	ctx, span := s.startSpan(ctx, "GetUserTodos", attribute.String("todo.user_id", userID))
	defer func() { endSpan(span, err) }()

	_, records, err := s.loadIndexed(ctx, userID)
	if err != nil {
		return nil, err
	}

	todos = make([]domain.Todo, 0, len(records))
	for _, todo := range records {
		if todo != nil && matchesFilters(todo, filters) {
			todos = append(todos, *todo)
		}
	}

	slices.SortStableFunc(todos, func(a, b domain.Todo) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	span.SetAttributes(attribute.Int("todo.count", len(todos)))
	return todos, nil
}

// loadIndexed fetches every record listed in the user's index concurrently.
// The result is positional: entry i belongs to index position i and is nil if
// the record is missing.
func (s *todoService) loadIndexed(ctx context.Context, userID string) ([]string, []*domain.Todo, error) {
	ids, err := s.repo.GetIndex(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("load index for user %s: %w", userID, err)
	}

	records := make([]*domain.Todo, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fetchConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			todo, err := s.repo.GetRecord(gctx, id)
			if errors.Is(err, domain.ErrTodoNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			records[i] = todo
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return ids, records, nil
}

func (s *todoService) SearchTodos(ctx context.Context, userID, query string) ([]domain.Todo, error) {
	todos, err := s.GetUserTodos(ctx, userID, nil)
	if err != nil {
		return nil, err
	}

	term := strings.ToLower(query)
	results := make([]domain.Todo, 0, len(todos))
	for _, todo := range todos {
		if matchesQuery(&todo, term) {
			results = append(results, todo)
		}
	}
	return results, nil
}

func (s *todoService) GetTodosStats(ctx context.Context, userID string) (*domain.TodoStats, error) {
	todos, err := s.GetUserTodos(ctx, userID, nil)
	if err != nil {
		return nil, err
	}

	stats := &domain.TodoStats{Total: len(todos)}
	for _, todo := range todos {
		if todo.Completed {
			stats.Completed++
		}
		switch todo.Priority {
		case domain.PriorityLow:
			stats.ByPriority.Low++
		case domain.PriorityHigh:
			stats.ByPriority.High++
		default:
			stats.ByPriority.Medium++
		}
	}
	stats.Pending = stats.Total - stats.Completed
	return stats, nil
}

func (s *todoService) RepairUserIndex(ctx context.Context, userID string) (report *domain.RepairReport, err error) {
	ctx, span := s.startSpan(ctx, "RepairUserIndex", attribute.String("todo.user_id", userID))
	defer func() { endSpan(span, err) }()

	ids, records, err := s.loadIndexed(ctx, userID)
	if err != nil {
		return nil, err
	}

	drop := make(map[string]string, len(ids))
	for i, id := range ids {
		switch {
		case records[i] == nil:
			drop[id] = "dangling"
		case records[i].UserID != userID:
			drop[id] = "foreign"
		}
	}

	report = &domain.RepairReport{
		UserID:     userID,
		Dangling:   []string{},
		Foreign:    []string{},
		Duplicates: []string{},
	}
	err = s.repo.UpdateIndex(ctx, userID, func(current []string) []string {
		report.Kept = 0
		report.Dangling = report.Dangling[:0]
		report.Foreign = report.Foreign[:0]
		report.Duplicates = report.Duplicates[:0]

		seen := make(map[string]struct{}, len(current))
		kept := make([]string, 0, len(current))
		for _, id := range current {
			if _, dup := seen[id]; dup {
				report.Duplicates = append(report.Duplicates, id)
				continue
			}
			seen[id] = struct{}{}
			switch drop[id] {
			case "dangling":
				report.Dangling = append(report.Dangling, id)
			case "foreign":
				report.Foreign = append(report.Foreign, id)
			default:
				kept = append(kept, id)
			}
		}
		report.Kept = len(kept)
		return kept
	})
	if err != nil {
		return nil, fmt.Errorf("repair index for user %s: %w", userID, err)
	}

	if removed := report.Removed(); removed > 0 {
		log.Printf("Repaired index for user %s: removed %d entries", userID, removed)
	}
	return report, nil
}
