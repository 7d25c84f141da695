package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrTodoNotFound is returned when no record exists for a todo id.
	ErrTodoNotFound = errors.New("todo not found")
	// ErrForbidden is returned when the acting user does not own the todo.
	ErrForbidden = errors.New("todo does not belong to user")
	// ErrCorrupt marks a stored value that could not be decoded.
	ErrCorrupt = errors.New("stored data is corrupt")

	// ErrValidation is the parent of every input validation error.
	ErrValidation      = errors.New("validation failed")
	ErrEmptyTask       = fmt.Errorf("%w: task is required", ErrValidation)
	ErrMissingUser     = fmt.Errorf("%w: user ID is required", ErrValidation)
	ErrInvalidPriority = fmt.Errorf("%w: priority must be one of low, medium, high", ErrValidation)
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ParsePriority maps an input string to a Priority. The empty string yields
// the default, medium.
func ParsePriority(s string) (Priority, error) {
	switch p := Priority(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PriorityMedium, nil
	case PriorityLow, PriorityMedium, PriorityHigh:
		return p, nil
	default:
		return "", ErrInvalidPriority
	}
}

func (p Priority) Valid() bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}

// Todo is the persisted record. The JSON form is both the wire format and
// the stored value.
type Todo struct {
	ID        string     `json:"id"`
	Task      string     `json:"task"`
	Completed bool       `json:"completed"`
	UserID    string     `json:"userId"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DueDate   *time.Time `json:"dueDate,omitempty"`
	Priority  Priority   `json:"priority"`
	Tags      []string   `json:"tags"`
}

// CreateTodoRequest holds the data needed to create a new todo.
type CreateTodoRequest struct {
	Task     string     `json:"task"`
	UserID   string     `json:"userId"`
	DueDate  *time.Time `json:"dueDate"`
	Priority Priority   `json:"priority"`
	Tags     []string   `json:"tags"`
}

// UpdateTodoRequest is a partial patch. Nil fields are left untouched.
// It carries no owner field.
type UpdateTodoRequest struct {
	Task      *string    `json:"task"`
	Completed *bool      `json:"completed"`
	DueDate   *time.Time `json:"dueDate"`
	Priority  *Priority  `json:"priority"`
	Tags      *[]string  `json:"tags"`
}

// TodoFilters are conjunctive; zero-valued fields do not filter.
type TodoFilters struct {
	Completed *bool
	Priority  Priority
	Tags      []string
	DueBefore *time.Time
	DueAfter  *time.Time
}

type PriorityBreakdown struct {
	Low    int `json:"low"`
	Medium int `json:"medium"`
	High   int `json:"high"`
}

type TodoStats struct {
	Total      int               `json:"total"`
	Completed  int               `json:"completed"`
	Pending    int               `json:"pending"`
	ByPriority PriorityBreakdown `json:"byPriority"`
}

// RepairReport describes what RepairUserIndex removed from an index.
type RepairReport struct {
	UserID     string   `json:"userId"`
	Kept       int      `json:"kept"`
	Dangling   []string `json:"dangling"`
	Foreign    []string `json:"foreign"`
	Duplicates []string `json:"duplicates"`
}

func (r *RepairReport) Removed() int {
	return len(r.Dangling) + len(r.Foreign) + len(r.Duplicates)
}

// NormalizeTags trims tags and drops empties and repeats, keeping first
// occurrence order. The result is never nil.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}
