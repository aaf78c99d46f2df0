package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.io/infrasutra/batchmail/internal/auth"
	"github.io/infrasutra/batchmail/internal/config"
	"github.io/infrasutra/batchmail/internal/job"
	"github.io/infrasutra/batchmail/internal/library"
	"github.io/infrasutra/batchmail/internal/profile"
	"github.io/infrasutra/batchmail/internal/smtpserver"
	"github.io/infrasutra/batchmail/internal/sse"
	"github.io/infrasutra/batchmail/internal/store"
	"github.io/infrasutra/batchmail/internal/stream"
)

// Runner executes send jobs.
type Runner interface {
	Run(ctx context.Context, req job.Request, sink stream.Sink) (job.Summary, error)
	NewID() string
}

// History is the read side of the job store.
type History interface {
	Ping(ctx context.Context) error
	ListJobs(ctx context.Context, sort string, offset, limit int) ([]store.Job, int, error)
	GetJob(ctx context.Context, id string) (store.Job, []store.Outcome, error)
	FailedRecipients(ctx context.Context, id string) ([]string, error)
}

type Deps struct {
	Profiles *profile.Store
	Library  *library.Library
	Jobs     Runner
	History  History
	Auth     *auth.Manager
	Hub      *sse.Hub
	// Inbox is nil when the capture server is disabled.
	Inbox *smtpserver.Inbox
}

type Server struct {
	cfg      config.Config
	admin    auth.Admin
	profiles *profile.Store
	library  *library.Library
	jobs     Runner
	history  History
	auth     *auth.Manager
	hub      *sse.Hub
	inbox    *smtpserver.Inbox
	logger   *slog.Logger
	router   chi.Router
}

func NewServer(cfg config.Config, deps Deps, logger *slog.Logger) *Server {
	server := &Server{
		cfg:      cfg,
		admin:    auth.Admin{Email: cfg.AdminEmail, Password: cfg.AdminPassword},
		profiles: deps.Profiles,
		library:  deps.Library,
		jobs:     deps.Jobs,
		history:  deps.History,
		auth:     deps.Auth,
		hub:      deps.Hub,
		inbox:    deps.Inbox,
		logger:   logger,
	}
	server.router = server.routes()
	return server
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.limitBody)

		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/logout", s.handleLogout)
		r.Get("/auth/me", s.handleMe)

		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)

			r.Get("/env", s.handleEnv)
			r.Post("/env/upload", s.handleEnvUpload)
			r.Post("/env/active", s.handleEnvActive)
			r.Post("/env/variant", s.handleEnvVariant)
			r.Post("/env/clear", s.handleEnvClear)

			r.Get("/templates", s.handleTemplates)
			r.Get("/templates/{id}", s.handleTemplate)

			r.Post("/attachments", s.handleAttachments)
			r.Post("/preview", s.handlePreview)
			r.Post("/preview/batches", s.handlePreviewBatches)

			r.Post("/send", s.handleSend)
			r.Post("/send/stream", s.handleSendStream)

			r.Get("/jobs", s.handleJobs)
			r.Get("/jobs/{id}", s.handleJob)
			r.Get("/jobs/{id}/failed", s.handleJobFailed)
			r.Get("/jobs/{id}/events", s.handleJobEvents)

			if s.inbox != nil {
				r.Get("/capture/messages", s.handleCaptureMessages)
				r.Delete("/capture/messages", s.handleCaptureClear)
			}
		})
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.MaxRequestBytes > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxRequestBytes)
		}
		next.ServeHTTP(w, r)
	})
}

type errorResponse struct {
	OK      bool     `json:"ok"`
	Error   string   `json:"error"`
	Fields  []string `json:"fields,omitempty"`
	Missing []string `json:"missing,omitempty"`
}

func (s *Server) fail(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, errorResponse{Error: message})
}

// respondError maps job start failures onto responses.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	var invalid *job.ValidationError
	var missing *profile.MissingError
	switch {
	case errors.As(err, &invalid):
		s.respondJSON(w, http.StatusBadRequest, errorResponse{
			Error:  "missing required fields",
			Fields: invalid.Fields,
		})
	case errors.As(err, &missing):
		s.respondJSON(w, http.StatusInternalServerError, errorResponse{
			Error:   "sender credentials missing",
			Missing: missing.Fields,
		})
	default:
		s.logger.Error("request failed", "error", err)
		s.fail(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeJSON reads the request body into dst and writes the error response
// itself when that fails.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.fail(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		s.fail(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondText(w, http.StatusOK, "ok")
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.history.Ping(r.Context()); err != nil {
		s.logger.Warn("readiness check failed", "error", err)
		s.respondText(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	s.respondText(w, http.StatusOK, "ready")
}

func (s *Server) respondText(w http.ResponseWriter, status int, payload string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(payload))
}
