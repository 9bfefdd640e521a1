// Package server exposes the HTTP surface: synchronous and asynchronous operation
// endpoints, job lookup, and health checks.
package server

import (
	"context"
	"net/http"
	"strings"

	"job-coordinator/pkg/dispatch"
	"job-coordinator/pkg/job"
	"job-coordinator/pkg/operation"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

type Dispatcher interface {
	Run(ctx context.Context, req operation.Request) (*dispatch.Outcome, error)
	Submit(ctx context.Context, req operation.Request) (string, error)
}

type Jobs interface {
	Get(ctx context.Context, id string) (*job.Job, error)
	RequestCancel(ctx context.Context, id string) (*job.Job, error)
	Ping(ctx context.Context) error
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	AppName      string
	Version      string
	APIPrefix    string
	MaxBodyBytes int64
}

type Server struct {
	opts     Options
	dispatch Dispatcher
	jobs     Jobs
	cache    Pinger
	log      logrus.FieldLogger
	snapshot func(ctx context.Context) map[string]any
}

// New builds the router. cache may be nil when no cache is configured.
func New(opts Options, d Dispatcher, jobs Jobs, cache Pinger, log logrus.FieldLogger) http.Handler {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 10 << 20
	}
	opts.APIPrefix = "/" + strings.Trim(opts.APIPrefix, "/")
	if opts.AppName == "" {
		opts.AppName = "job-coordinator"
	}
	s := &Server{
		opts:     opts,
		dispatch: d,
		jobs:     jobs,
		cache:    cache,
		log:      log.WithField("component", "http"),
		snapshot: hostSnapshot,
	}
	return s.routes()
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(s.recoverer)
	r.Use(processTime)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Get("/", s.handleRoot)
	r.Route("/health", s.healthRoutes)

	r.Route(s.opts.APIPrefix, func(r chi.Router) {
		r.Route("/health", s.healthRoutes)
		r.Route("/ai/{kind}", func(r chi.Router) {
			r.Use(s.limitBody)
			r.Post("/", s.handleSync)
			r.Post("/async", s.handleAsync)
		})
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Delete("/jobs/{id}", s.handleCancelJob)
	})
	return r
}

func (s *Server) healthRoutes(r chi.Router) {
	r.Get("/", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Get("/live", s.handleLive)
	r.Get("/metrics", s.handleHostMetrics)
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Welcome to " + s.opts.AppName,
		"version": s.opts.Version,
		"health":  s.opts.APIPrefix + "/health",
	})
}
