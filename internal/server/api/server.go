// Package api serves the ledger's HTTP surface: stats queries, session
// login, credential administration, health and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/coder/quartz"
	"github.com/dmitrijs2005/codetime/internal/common"
	"github.com/dmitrijs2005/codetime/internal/ledger"
	"github.com/dmitrijs2005/codetime/internal/logging"
	"github.com/dmitrijs2005/codetime/internal/ratelimit"
	"github.com/dmitrijs2005/codetime/internal/server/auth"
	"github.com/dmitrijs2005/codetime/internal/server/metrics"
	"github.com/dmitrijs2005/codetime/internal/server/models"
	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 5 * time.Second

// TokenAdmin manages credentials. Only the durable backend has one.
type TokenAdmin interface {
	Rotate(ctx context.Context, userID, label string) (string, *models.Token, error)
	List(ctx context.Context, userID string) ([]models.Token, error)
	Revoke(ctx context.Context, userID, tokenID string) error
}

// Options wires the server. Tokens, Metrics, Gatherer and Heartbeat are
// optional.
type Options struct {
	Address   string
	Ledger    ledger.Ledger
	Tokens    TokenAdmin
	Sessions  *auth.Sessions
	Limiter   *ratelimit.Limiter
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer
	Heartbeat http.Handler
	WSPath    string
	WSActive  func() int
	Version   string
	Clock     quartz.Clock
	Logger    logging.Logger
}

type Server struct {
	address   string
	ledger    ledger.Ledger
	tokens    TokenAdmin
	sessions  *auth.Sessions
	limiter   *ratelimit.Limiter
	metrics   *metrics.Metrics
	gatherer  prometheus.Gatherer
	heartbeat http.Handler
	wsPath    string
	wsActive  func() int
	version   string
	clock     quartz.Clock
	logger    logging.Logger
	handler   http.Handler
}

func NewServer(o Options) *Server {
	if o.Clock == nil {
		o.Clock = quartz.NewReal()
	}
	if o.Logger == nil {
		o.Logger = logging.Nop{}
	}
	if o.Limiter == nil {
		o.Limiter = ratelimit.New(o.Clock, nil)
	}
	if o.WSPath == "" {
		o.WSPath = "/ws"
	}
	if o.Version == "" {
		o.Version = "dev"
	}

	s := &Server{
		address:   o.Address,
		ledger:    o.Ledger,
		tokens:    o.Tokens,
		sessions:  o.Sessions,
		limiter:   o.Limiter,
		metrics:   o.Metrics,
		gatherer:  o.Gatherer,
		heartbeat: o.Heartbeat,
		wsPath:    o.WSPath,
		wsActive:  o.WSActive,
		version:   o.Version,
		clock:     o.Clock,
		logger:    o.Logger.With("module", "http_server"),
	}
	s.handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID, s.recoverer)

	// websocket upgrades need the raw ResponseWriter
	if s.heartbeat != nil {
		r.Handle(s.wsPath, s.heartbeat)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.observe)

		if s.gatherer != nil {
			r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
		}

		r.Route("/api", func(r chi.Router) {
			r.Use(s.rateLimit)

			r.Get("/health", s.health)
			r.Post("/session", s.createSession)

			r.Group(func(r chi.Router) {
				r.Use(s.requireUser)
				r.Get("/stats/summary", s.summary)
				r.Get("/stats/daily", s.daily)
				r.Get("/projects", s.projects)
			})

			r.Route("/token", func(r chi.Router) {
				r.Use(s.requireTokenAdmin, s.requireSession)
				r.Post("/rotate", s.rotateToken)
				r.Get("/list", s.listTokens)
				r.Post("/revoke", s.revokeToken)
			})
		})
	})

	return r
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

// fail writes err and reports internal failures.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if common.CodeOf(err) == common.CodeInternal {
		s.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		sentry.CaptureException(err)
	}
	writeError(w, err)
}

// Run listens on the configured address until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

func (s *Server) Serve(ctx context.Context, listen net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	done := make(chan error, 1)
	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		done <- srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return <-done
}
