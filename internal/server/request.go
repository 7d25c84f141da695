package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Tomlord1122/todo-kv/internal/domain"
)

const maxBodyBytes = 1 << 20

// decodeJSONBody decodes a single JSON object into dst. On failure it writes
// the error response and returns false.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	err := decoder.Decode(dst)
	if err == nil {
		if decoder.More() {
			respondWithError(w, http.StatusBadRequest, "Request body must only contain a single JSON object")
			return false
		}
		return true
	}

	var syntaxError *json.SyntaxError
	var unmarshalTypeError *json.UnmarshalTypeError
	var maxBytesError *http.MaxBytesError
	var timeParseError *time.ParseError
	switch {
	case errors.As(err, &syntaxError):
		msg := fmt.Sprintf("Request body contains badly-formed JSON (at position %d)", syntaxError.Offset)
		respondWithError(w, http.StatusBadRequest, msg)
	case errors.Is(err, io.ErrUnexpectedEOF):
		respondWithError(w, http.StatusBadRequest, "Request body contains badly-formed JSON")
	case errors.As(err, &unmarshalTypeError):
		msg := fmt.Sprintf("Request body contains an invalid value for the %q field (at position %d)", unmarshalTypeError.Field, unmarshalTypeError.Offset)
		respondWithError(w, http.StatusBadRequest, msg)
	case errors.As(err, &timeParseError):
		respondWithError(w, http.StatusBadRequest, "Request body contains an invalid timestamp, expected RFC 3339")
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		fieldName := strings.TrimPrefix(err.Error(), "json: unknown field ")
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Request body contains unknown field %s", fieldName))
	case errors.Is(err, io.EOF):
		respondWithError(w, http.StatusBadRequest, "Request body must not be empty")
	case errors.As(err, &maxBytesError):
		respondWithError(w, http.StatusRequestEntityTooLarge, "Request body must not be larger than 1MB")
	default:
		logRequestError(r, "decoding request body", err)
		respondWithError(w, http.StatusInternalServerError, "Error processing request")
	}
	return false
}

// parseTodoFilters reads the list query parameters. Unset parameters do not
// filter; malformed ones are validation errors.
func parseTodoFilters(q url.Values) (*domain.TodoFilters, error) {
	filters := &domain.TodoFilters{}

	if v := strings.TrimSpace(q.Get("completed")); v != "" {
		completed, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("%w: completed must be true or false", domain.ErrValidation)
		}
		filters.Completed = &completed
	}

	if v := strings.TrimSpace(q.Get("priority")); v != "" {
		priority, err := domain.ParsePriority(v)
		if err != nil {
			return nil, err
		}
		filters.Priority = priority
	}

	if v := q.Get("tags"); v != "" {
		if tags := domain.NormalizeTags(strings.Split(v, ",")); len(tags) > 0 {
			filters.Tags = tags
		}
	}

	var err error
	if filters.DueBefore, err = parseDateBound(q, "dueBefore"); err != nil {
		return nil, err
	}
	if filters.DueAfter, err = parseDateBound(q, "dueAfter"); err != nil {
		return nil, err
	}
	return filters, nil
}

// parseDateBound accepts RFC 3339 or a bare date, read as midnight UTC.
func parseDateBound(q url.Values, name string) (*time.Time, error) {
	v := strings.TrimSpace(q.Get(name))
	if v == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.DateOnly} {
		if t, err := time.Parse(layout, v); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%w: %s must be an RFC 3339 timestamp or YYYY-MM-DD", domain.ErrValidation, name)
}
