package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bollette/internal/backend"
	"bollette/internal/log"
	"bollette/internal/middleware/ratelimit"
	"bollette/internal/middleware/security"
	"bollette/internal/middleware/trace"
)

// Options tunes the server. Zero values select defaults.
type Options struct {
	// RateLimitPerMinute caps requests per client address.
	RateLimitPerMinute int
	// MaxBodyBytes caps JSON and backup request bodies.
	MaxBodyBytes int64
	// RequestTimeout bounds every handler through its context.
	RequestTimeout time.Duration
	// Now is the clock used for default windows.
	Now func() time.Time
}

const (
	defaultMaxBodyBytes   = 10 << 20
	defaultRequestTimeout = 30 * time.Second
)

type Server struct {
	http.Server
	backend  *backend.Backend
	logger   *log.Logger
	limiter  *ratelimit.Limiter
	detector *security.Detector
	tracer   *trace.Middleware

	maxBodyBytes int64
	now          func() time.Time
	started      time.Time

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// http.Server.
func NewServer(addr string, be *backend.Backend, logger *log.Logger, opts Options) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = log.FromContext(context.Background())
	}
	logger = logger.WithComponent(log.ComponentHTTP)

	detector := security.NewDetector()
	s := &Server{
		backend:      be,
		logger:       logger,
		limiter:      ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RateLimitPerMinute}),
		detector:     detector,
		tracer:       trace.NewMiddleware(detector.ExtractClientIP),
		maxBodyBytes: opts.MaxBodyBytes,
		now:          opts.Now,
		started:      time.Now(),
	}

	r := chi.NewRouter()
	r.Use(log.Middleware(logger))
	r.Use(s.tracer.Middleware)
	r.Use(chimiddleware.Recoverer)
	r.Use(security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware)
	r.Use(detector.Middleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NotFoundError("not found").Write(w)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		ErrorResponse(http.StatusMethodNotAllowed, "method not allowed").Write(w)
	})

	// Probes and metrics are not rate limited.
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(s.limiter.Middleware(detector.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
			ErrorResponse(http.StatusTooManyRequests, "rate limit exceeded").Write(w)
		}))
		r.Use(chimiddleware.Timeout(opts.RequestTimeout))

		r.Route("/bills", func(r chi.Router) {
			r.Get("/", s.handleListBills)
			r.Post("/", s.handleCreateBill)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetBill)
				r.Put("/", s.handleUpdateBill)
				r.Delete("/", s.handleDeleteBill)
				r.Get("/balance", s.handleGetBalance)
				r.Post("/payments", s.handleAddPayment)
				r.Get("/export", s.handleExportBill)
			})
		})

		r.Get("/statistics", s.handleStatistics)
		r.Get("/statistics/export", s.handleExportStatistics)

		r.Get("/backup", s.handleBackup)
		r.Post("/backup/restore", s.handleRestore)
	})

	s.Server = http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Minute,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}
	return s
}

// limitBody caps the request body at the configured size.
func (s *Server) limitBody(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
}

// fail writes err and logs server-side failures.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if StatusFor(err) >= http.StatusInternalServerError {
		log.FromContext(r.Context()).LogError(r.Context(), "Request failed", err, op)
	}
	ErrorFor(err).Write(w)
}

// Shutdown gracefully shuts down the server and the rate limiter.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
