// Package api exposes the task CRUD surface over HTTP. It is the only
// caller of the scheduler's registration and immediate-execution
// operations.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/securecookie"
	"github.com/rs/zerolog"

	"autoai/internal/db"
	"autoai/internal/scheduler"
	"autoai/internal/secrets"
)

// Server is the HTTP API server.
type Server struct {
	db            *db.DB
	scheduler     *scheduler.Scheduler
	codec         *secrets.Codec
	sessions      *securecookie.SecureCookie
	adminPassword string
	log           zerolog.Logger
	router        chi.Router
}

// NewServer wires the API against the store, scheduler and credential
// codec. encryptionKey seeds the session-cookie signing key.
func NewServer(database *db.DB, sched *scheduler.Scheduler, codec *secrets.Codec, adminPassword, encryptionKey string, log zerolog.Logger) *Server {
	s := &Server{
		db:            database,
		scheduler:     sched,
		codec:         codec,
		sessions:      newSessionCodec(encryptionKey),
		adminPassword: adminPassword,
		log:           log.With().Str("component", "api").Logger(),
		router:        chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Public
	r.Get("/health", s.HealthCheck)
	r.Post("/login", s.Login)
	r.Post("/logout", s.Logout)

	// Everything under /api requires a session.
	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)

		r.Get("/api/tasks", s.ListTasks)
		r.Post("/api/tasks", s.CreateTask)
		r.Get("/api/tasks/{id}", s.GetTask)
		r.Put("/api/tasks/{id}", s.UpdateTask)
		r.Delete("/api/tasks/{id}", s.DeleteTask)
		r.Post("/api/tasks/{id}/run", s.RunTask)
		r.Get("/api/tasks/{id}/logs", s.ListTaskLogs)
	})
}

// Router returns the chi router for use with http.Server.
func (s *Server) Router() http.Handler {
	return s.router
}
