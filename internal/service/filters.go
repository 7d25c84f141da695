package service

import (
	"slices"
	"strings"

	"github.com/Tomlord1122/todo-kv/internal/domain"
)

// matchesFilters reports whether todo passes every set clause of f. A todo
// without a due date passes both due bounds.
func matchesFilters(todo *domain.Todo, f *domain.TodoFilters) bool {
	if f == nil {
		return true
	}
	if f.Completed != nil && todo.Completed != *f.Completed {
		return false
	}
	if f.Priority != "" && todo.Priority != f.Priority {
		return false
	}
	if len(f.Tags) > 0 && !slices.ContainsFunc(f.Tags, func(tag string) bool {
		return slices.Contains(todo.Tags, tag)
	}) {
		return false
	}
	if todo.DueDate != nil {
		if f.DueBefore != nil && todo.DueDate.After(*f.DueBefore) {
			return false
		}
		if f.DueAfter != nil && todo.DueDate.Before(*f.DueAfter) {
			return false
		}
	}
	return true
}

// matchesQuery expects term already lower-cased.
func matchesQuery(todo *domain.Todo, term string) bool {
	if strings.Contains(strings.ToLower(todo.Task), term) {
		return true
	}
	return slices.ContainsFunc(todo.Tags, func(tag string) bool {
		return strings.Contains(strings.ToLower(tag), term)
	})
}
