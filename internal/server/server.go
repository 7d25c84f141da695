package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/Tomlord1122/todo-kv/internal/auth"
	"github.com/Tomlord1122/todo-kv/internal/config"
	"github.com/Tomlord1122/todo-kv/internal/kv"
	"github.com/Tomlord1122/todo-kv/internal/metrics"
	"github.com/Tomlord1122/todo-kv/internal/service"
)

type Server struct {
	port           int
	backend        string
	allowedOrigins []string

	todoService service.TodoService
	store       kv.Store
	identity    *auth.Resolver
	metrics     *metrics.Metrics
}

// NewServer wires the HTTP surface. store is only used for health checks;
// todoService owns all data access. m may be nil.
func NewServer(cfg *config.Config, todoService service.TodoService, store kv.Store, m *metrics.Metrics) *http.Server {
	appServer := &Server{
		port:           cfg.Port,
		backend:        cfg.Backend,
		allowedOrigins: cfg.AllowedOrigins,
		todoService:    todoService,
		store:          store,
		identity:       auth.NewResolver(cfg.JWTSecret),
		metrics:        m,
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", appServer.port),
		Handler:      appServer.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return server
}
