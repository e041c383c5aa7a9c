// Package api exposes the ScanVault service over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dharsanguruparan/ScanVault/internal/blob"
	"github.com/dharsanguruparan/ScanVault/internal/identity"
	"github.com/dharsanguruparan/ScanVault/internal/metrics"
	"github.com/dharsanguruparan/ScanVault/internal/model"
	"github.com/dharsanguruparan/ScanVault/internal/report"
	"github.com/dharsanguruparan/ScanVault/internal/service"
)

// Service is the role-gated application surface the handlers call.
type Service interface {
	Authorize(ctx context.Context, p model.Principal, c service.Capability) (model.Role, error)
	Whoami(ctx context.Context, p model.Principal) (*service.Identity, error)
	SubmitScan(ctx context.Context, p model.Principal, sub service.Submission) (*model.ScanRecord, error)
	FetchReviewFeed(ctx context.Context, p model.Principal) ([]model.ScanRecord, error)
	ExportReport(ctx context.Context, p model.Principal, scanID string) (*report.Document, error)
}

// ReadinessChecker reports whether backing stores are reachable.
type ReadinessChecker interface {
	CheckReady(ctx context.Context) error
}

// Options configure the HTTP layer.
type Options struct {
	Address         string
	MaxImageBytes   int64
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	// Blobs serves file-store addresses under blob.RoutePrefix; nil when
	// images live in S3.
	Blobs http.Handler
	Ready ReadinessChecker
}

// Server exposes HTTP endpoints for capture, review and export.
type Server struct {
	opts    Options
	svc     Service
	auth    identity.Authenticator
	logger  *slog.Logger
	handler http.Handler
	server  *http.Server
	once    sync.Once
}

// New constructs a Server.
func New(svc Service, auth identity.Authenticator, opts Options, logger *slog.Logger) *Server {
	if opts.MaxImageBytes <= 0 {
		opts.MaxImageBytes = 10 << 20
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		opts:   opts,
		svc:    svc,
		auth:   auth,
		logger: logger.With("component", "api"),
	}
}

// Handler returns the routed handler, building it on first use.
func (s *Server) Handler() http.Handler {
	s.once.Do(func() {
		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.RealIP)
		r.Use(s.logRequests)
		r.Use(metrics.Middleware)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.opts.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			ExposedHeaders: []string{"Content-Disposition", "X-Report-Image"},
			MaxAge:         300,
		}))

		r.Get("/healthz", s.handleHealth)
		r.Get("/readyz", s.handleReady)
		r.Handle("/metrics", promhttp.Handler())
		if s.opts.Blobs != nil {
			r.Handle(blob.RoutePrefix+"*", s.opts.Blobs)
		}

		r.Route("/api/v1", func(r chi.Router) {
			r.Use(s.authenticate)
			r.Get("/me", s.handleMe)
			r.Post("/scans", s.handleSubmit)
			r.Get("/scans", s.handleFeed)
			r.Get("/scans/{id}/report", s.handleReport)
		})
		s.handler = r
	})
	return s.handler
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.opts.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.logger.Info("api listening", slog.String("address", s.opts.Address))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
