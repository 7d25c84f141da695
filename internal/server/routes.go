package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/Tomlord1122/todo-kv/internal/auth"
	"github.com/Tomlord1122/todo-kv/internal/domain"
	"github.com/Tomlord1122/todo-kv/internal/kv"
)

// envelope is the body of every /api/todos response.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

func (s *Server) RegisterRoutes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(s.metricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", auth.HeaderUserID},
		ExposedHeaders:   []string{"Link", middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/h", s.HelloWorldHandler)
	r.Get("/health", s.healthHandler)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api/todos", func(r chi.Router) {
		r.Use(s.identityMiddleware)
		r.Get("/", s.listTodosHandler)
		r.Post("/", s.createTodoHandler)
		r.Get("/search", s.searchTodosHandler)
		r.Get("/stats", s.statsHandler)
		r.Post("/repair", s.repairIndexHandler)
		r.Get("/{id}", s.getTodoHandler)
		r.Patch("/{id}", s.updateTodoHandler)
		r.Patch("/{id}/toggle", s.toggleTodoHandler)
		r.Delete("/{id}", s.deleteTodoHandler)
	})

	return r
}

// metricsMiddleware records every request under its chi route pattern, so
// /api/todos/{id} is one series no matter how many ids are requested.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	if s.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.RecordHTTPRequest(r.Method, route, status, time.Since(start))
	})
}

func (s *Server) HelloWorldHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, envelope{Success: true, Message: "Todo API is running!"})
}

type healthReporter interface {
	Health() map[string]string
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	healthStats := s.storeHealth(r.Context())
	if status, ok := healthStats["status"]; ok && status == "down" {
		respondWithJSON(w, http.StatusServiceUnavailable, healthStats)
		return
	}
	respondWithJSON(w, http.StatusOK, healthStats)
}

func (s *Server) storeHealth(ctx context.Context) map[string]string {
	if h, ok := s.store.(healthReporter); ok {
		stats := h.Health()
		stats["backend"] = s.backend
		return stats
	}

	stats := map[string]string{"backend": s.backend}
	if p, ok := s.store.(kv.Pinger); ok {
		ctx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			log.Printf("Store health check failed (%s): %v", s.backend, err)
			stats["status"] = "down"
			stats["error"] = "store unreachable"
			return stats
		}
	}
	stats["status"] = "up"
	stats["message"] = "It's healthy"
	return stats
}

// identityMiddleware stores the caller's id in the request context when one
// is supplied. A bearer token that fails verification is rejected outright.
// A missing identity is left to requireUser.
func (s *Server) identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := s.identity.Resolve(r)
		switch {
		case errors.Is(err, auth.ErrInvalidToken):
			logRequestError(r, "verifying bearer token", err)
			respondWithError(w, http.StatusUnauthorized, "Invalid or expired bearer token")
			return
		case err == nil:
			r = r.WithContext(auth.WithUserID(r.Context(), userID))
		}
		next.ServeHTTP(w, r)
	})
}

// requireUser returns the caller's id. Without one it writes a 401 when
// bearer tokens are enabled and a 400 otherwise.
func (s *Server) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := auth.UserID(r.Context())
	switch {
	case ok:
	case s.identity.TokensEnabled():
		w.Header().Set("WWW-Authenticate", "Bearer")
		respondWithError(w, http.StatusUnauthorized, "Bearer token is required")
	default:
		respondWithError(w, http.StatusBadRequest, "User ID is required (X-User-ID header or userId query parameter)")
	}
	return userID, ok
}

func (s *Server) listTodosHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	filters, err := parseTodoFilters(r.URL.Query())
	if err != nil {
		respondWithError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	todos, err := s.todoService.GetUserTodos(r.Context(), userID, filters)
	if err != nil {
		respondWithServiceError(w, r, "GetUserTodos", "Failed to retrieve todos", err)
		return
	}
	respondWithData(w, http.StatusOK, todos)
}

func (s *Server) searchTodosHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		respondWithError(w, http.StatusBadRequest, "Search query parameter 'q' is required")
		return
	}

	todos, err := s.todoService.SearchTodos(r.Context(), userID, query)
	if err != nil {
		respondWithServiceError(w, r, "SearchTodos", "Failed to search todos", err)
		return
	}
	respondWithData(w, http.StatusOK, todos)
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	stats, err := s.todoService.GetTodosStats(r.Context(), userID)
	if err != nil {
		respondWithServiceError(w, r, "GetTodosStats", "Failed to compute todo statistics", err)
		return
	}
	respondWithData(w, http.StatusOK, stats)
}

func (s *Server) repairIndexHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	report, err := s.todoService.RepairUserIndex(r.Context(), userID)
	if err != nil {
		respondWithServiceError(w, r, "RepairUserIndex", "Failed to repair todo index", err)
		return
	}
	respondWithData(w, http.StatusOK, report)
}

func (s *Server) createTodoHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	var req domain.CreateTodoRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	req.UserID = userID

	todo, err := s.todoService.CreateTodo(r.Context(), req)
	if err != nil {
		respondWithServiceError(w, r, "CreateTodo", "Failed to create todo", err)
		return
	}
	respondWithData(w, http.StatusCreated, todo)
}

func (s *Server) getTodoHandler(w http.ResponseWriter, r *http.Request) {
	todo, err := s.todoService.GetTodo(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondWithServiceError(w, r, "GetTodo", "Failed to retrieve todo", err)
		return
	}
	respondWithData(w, http.StatusOK, todo)
}

func (s *Server) updateTodoHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateTodoRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	todo, err := s.todoService.UpdateTodo(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		respondWithServiceError(w, r, "UpdateTodo", "Failed to update todo", err)
		return
	}
	respondWithData(w, http.StatusOK, todo)
}

func (s *Server) toggleTodoHandler(w http.ResponseWriter, r *http.Request) {
	todo, err := s.todoService.ToggleTodo(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondWithServiceError(w, r, "ToggleTodo", "Failed to toggle todo", err)
		return
	}
	respondWithData(w, http.StatusOK, todo)
}

func (s *Server) deleteTodoHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	err := s.todoService.DeleteTodo(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		respondWithServiceError(w, r, "DeleteTodo", "Failed to delete todo", err)
		return
	}
	respondWithJSON(w, http.StatusOK, envelope{Success: true, Message: "Todo deleted successfully"})
}

// respondWithServiceError maps service errors onto status codes. Anything
// unclassified is logged and answered with fallback.
func respondWithServiceError(w http.ResponseWriter, r *http.Request, op, fallback string, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		respondWithError(w, http.StatusBadRequest, validationMessage(err))
	case errors.Is(err, domain.ErrTodoNotFound):
		respondWithError(w, http.StatusNotFound, "Todo not found")
	case errors.Is(err, domain.ErrForbidden):
		respondWithError(w, http.StatusForbidden, "You do not have permission to modify this todo")
	default:
		logRequestError(r, "calling "+op+" service", err)
		respondWithError(w, http.StatusInternalServerError, fallback)
	}
}

// validationMessage drops the generic "validation failed: " lead-in.
func validationMessage(err error) string {
	return strings.TrimPrefix(err.Error(), domain.ErrValidation.Error()+": ")
}

func logRequestError(r *http.Request, what string, err error) {
	log.Printf("[%s] Error %s: %v", middleware.GetReqID(r.Context()), what, err)
}

func respondWithData(w http.ResponseWriter, code int, data any) {
	respondWithJSON(w, code, envelope{Success: true, Data: data})
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, envelope{Success: false, Error: message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Error marshaling JSON response: %v", err)
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"success":false,"error":"Internal server error preparing response"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}
