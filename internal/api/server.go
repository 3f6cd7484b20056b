// Package api provides the HTTP API server for the planner.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/quantumlife/planner/internal/conflict"
	"github.com/quantumlife/planner/internal/core"
	"github.com/quantumlife/planner/internal/events"
	"github.com/quantumlife/planner/internal/logging"
	"github.com/quantumlife/planner/internal/notifications"
	"github.com/quantumlife/planner/internal/oauthflow"
	"github.com/quantumlife/planner/internal/syncer"
)

var log = logging.Component("api")

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server

	syncer   *syncer.Syncer
	events   *events.Store
	resolver *conflict.Resolver
	flow     *oauthflow.Controller
	notices  *notifications.Service
	hub      *notifications.Hub
	loc      *time.Location

	staticDir string
}

// Config for the server
type Config struct {
	Host          string
	Port          int
	Syncer        *syncer.Syncer
	Events        *events.Store
	Resolver      *conflict.Resolver
	Flow          *oauthflow.Controller
	Notifications *notifications.Service
	Location      *time.Location

	// StaticDir, when set, is served at / for the web client.
	StaticDir string
}

// New creates a new API server
func New(cfg Config) *Server {
	s := &Server{
		syncer:    cfg.Syncer,
		events:    cfg.Events,
		resolver:  cfg.Resolver,
		flow:      cfg.Flow,
		notices:   cfg.Notifications,
		loc:       cfg.Location,
		staticDir: cfg.StaticDir,
	}
	if s.notices != nil {
		s.hub = notifications.NewHub(s.notices)
	}
	if s.loc == nil {
		s.loc = time.Local
	}

	s.setupRouter()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRouter configures all routes
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// A sync cycle can page through both providers
		r.Use(middleware.Timeout(2 * time.Minute))

		// Connections
		r.Get("/oauth/{provider}/start", s.handleOAuthStart)
		r.Get("/oauth/callback", s.handleOAuthCallback)
		r.Get("/connections", s.handleListConnections)
		r.Delete("/connections/{provider}", s.handleDisconnect)

		// Settings and sync
		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handleUpdateSettings)
		r.Post("/sync", s.handleSync)
		r.Post("/feed/import", s.handleImportFeed)
		r.Get("/status", s.handleStatus)
		r.Get("/notices", s.handleGetNotices)

		// Events
		r.Get("/events", s.handleListEvents)
		r.Post("/events", s.handleCreateEvent)
		r.Post("/events/fit", s.handleFit)
		r.Get("/events.ics", s.handleExportICS)
		r.Get("/events/{eventID}", s.handleGetEvent)
		r.Put("/events/{eventID}", s.handleUpdateEvent)
		r.Delete("/events/{eventID}", s.handleDeleteEvent)
		r.Get("/agenda", s.handleAgenda)
		r.Get("/blocked", s.handleBlocked)
	})

	// WebSocket
	if s.hub != nil {
		r.Handle("/ws", s.hub)
	}

	if s.staticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(s.staticDir)))
	} else {
		r.Get("/", func(w http.ResponseWriter, req *http.Request) {
			s.respondJSON(w, http.StatusOK, map[string]string{"service": "planner"})
		})
	}

	s.router = r
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr is the listen address
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Info("API server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// --- Response helpers ---

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// respondErr maps a domain error to its status code
func (s *Server) respondErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.WithError(err).Error("request failed")
	}
	s.respondError(w, status, core.UserMessage(err))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrEventNotFound), errors.Is(err, core.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrReadOnlyEvent):
		return http.StatusForbidden
	case errors.Is(err, core.ErrNoAvailableSlot), errors.Is(err, core.ErrNotConnected):
		return http.StatusConflict
	case errors.Is(err, core.ErrFeedParse):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrInvalidEvent),
		errors.Is(err, core.ErrUnknownProvider),
		errors.Is(err, core.ErrMissingClientConfiguration),
		errors.Is(err, core.ErrExpiredOrTamperedState),
		errors.Is(err, core.ErrProviderDenied),
		errors.Is(err, syncer.ErrInvalidPreferences),
		errors.Is(err, syncer.ErrNoFeedURL):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrTokenExchangeFailed),
		errors.Is(err, core.ErrTokenRefreshFailed),
		errors.Is(err, core.ErrProviderFetch):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// decodeJSON reads a JSON body of at most 1 MiB
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	return json.NewDecoder(r.Body).Decode(dst)
}
