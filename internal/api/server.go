package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/webship/internal/broadcast"
	"git.home.luguber.info/inful/webship/internal/build"
	"git.home.luguber.info/inful/webship/internal/foundation/errors"
	"git.home.luguber.info/inful/webship/internal/metrics"
	"git.home.luguber.info/inful/webship/internal/queue"
	"git.home.luguber.info/inful/webship/internal/store"
)

// Scheduler is the part of the build scheduler the API drives.
type Scheduler interface {
	RegisterApplication(ctx context.Context, app *build.Application) (*build.Build, error)
	Submit(ctx context.Context, appID string, opts queue.SubmitOptions) (*build.Build, error)
	Cancel(ctx context.Context, buildID string) (*build.Build, error)
	Stats() queue.Stats
}

// Store is the read and edit surface of the record store.
type Store interface {
	GetApplication(ctx context.Context, id string) (*build.Application, error)
	ListApplications(ctx context.Context) ([]build.Application, error)
	UpdateApplication(ctx context.Context, id string, upd store.ApplicationUpdate) (*build.Application, error)
	GetBuild(ctx context.Context, id string) (*build.Build, error)
	ListBuilds(ctx context.Context, appID string, limit int) ([]build.Build, error)
	Logs(ctx context.Context, buildID string) ([]build.LogLine, error)
	Ping(ctx context.Context) error
}

// Broadcaster hands out replaying event subscriptions.
type Broadcaster interface {
	Subscribe(ctx context.Context, appID string) (*broadcast.Subscription, error)
}

// Sites resolves the live directory of a published application.
type Sites interface {
	SiteDir(slug string) string
}

// Options configure the listener and the ambient endpoints.
type Options struct {
	Addr string
	// Heartbeat is the keep-alive interval for SSE comments and WebSocket pings.
	Heartbeat   time.Duration
	HealthPath  string
	MetricsPath string
	// Gatherer serves /metrics; nil disables the endpoint.
	Gatherer prom.Gatherer
}

// Server represents the API server.
type Server struct {
	Addr       string
	opts       Options
	scheduler  Scheduler
	store      Store
	hub        Broadcaster
	sites      Sites
	errAdapter *errors.HTTPErrorAdapter
	router     *chi.Mux
	server     *http.Server
}

// NewServer creates a new API server.
func NewServer(opts Options, scheduler Scheduler, st Store, hub Broadcaster, sites Sites) *Server {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 15 * time.Second
	}
	if opts.HealthPath == "" {
		opts.HealthPath = "/health"
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}
	s := &Server{
		Addr:       opts.Addr,
		opts:       opts,
		scheduler:  scheduler,
		store:      st,
		hub:        hub,
		sites:      sites,
		errAdapter: errors.NewHTTPErrorAdapter(slog.Default()),
		router:     chi.NewRouter(),
	}

	s.setupRoutes()

	// No WriteTimeout: event streams stay open for the life of a subscription.
	s.server = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)

	s.router.Get(s.opts.HealthPath, s.handleHealth)
	if s.opts.Gatherer != nil {
		s.router.Method(http.MethodGet, s.opts.MetricsPath, metrics.HTTPHandler(s.opts.Gatherer))
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			r.Post("/apps", s.handleCreateApp)
			r.Get("/apps", s.handleListApps)
			r.Get("/apps/{appID}", s.handleGetApp)
			r.Patch("/apps/{appID}", s.handleUpdateApp)
			r.Post("/apps/{appID}/builds", s.handleSubmitBuild)
			r.Get("/apps/{appID}/builds", s.handleListBuilds)

			r.Get("/builds/{buildID}", s.handleGetBuild)
			r.Get("/builds/{buildID}/logs", s.handleBuildLogs)
			r.Post("/builds/{buildID}/cancel", s.handleCancelBuild)
		})

		// Streams are long-lived and must not inherit the request timeout.
		r.Get("/apps/{appID}/events", s.handleEvents)
		r.Get("/apps/{appID}/ws", s.handleWebSocket)
	})

	s.router.Get("/sites/{slug}", s.handleSiteRedirect)
	s.router.Get("/sites/{slug}/*", s.handleSite)
}

// Handler exposes the router, mainly for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Start starts the API server. It returns http.ErrServerClosed after Shutdown.
func (s *Server) Start() error {
	slog.Info("HTTP API listening", slog.String("addr", s.Addr))
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Response represents a standard API response.
type Response struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
}

// Error writes a classified error as a JSON payload with the mapped status code.
func (s *Server) Error(w http.ResponseWriter, r *http.Request, err error) {
	s.errAdapter.WriteErrorResponse(w, r, err)
}

// Success writes a success response.
func (s *Server) Success(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(Response{Success: true, Data: data})
}

type healthResponse struct {
	Status string      `json:"status"`
	Queue  queue.Stats `json:"queue"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "healthy", Queue: s.scheduler.Stats()}
	code := http.StatusOK
	if err := s.store.Ping(r.Context()); err != nil {
		slog.Warn("Health check failed", slog.String("error", err.Error()))
		resp.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

// requestLogger logs one line per request through slog.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			slog.Debug("HTTP request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", middleware.GetReqID(r.Context())))
		}()
		next.ServeHTTP(ww, r)
	})
}
