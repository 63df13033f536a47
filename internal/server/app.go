// Package server assembles the ledger service: backend selection, rate
// limiting, metrics, the HTTP and websocket surface and the optional gRPC
// listener, and runs them until a termination signal arrives.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/quartz"
	"github.com/dmitrijs2005/codetime/internal/dbx"
	"github.com/dmitrijs2005/codetime/internal/ledger"
	"github.com/dmitrijs2005/codetime/internal/logging"
	"github.com/dmitrijs2005/codetime/internal/ratelimit"
	"github.com/dmitrijs2005/codetime/internal/server/api"
	"github.com/dmitrijs2005/codetime/internal/server/auth"
	"github.com/dmitrijs2005/codetime/internal/server/config"
	"github.com/dmitrijs2005/codetime/internal/server/heartbeat"
	"github.com/dmitrijs2005/codetime/internal/server/metrics"
	"github.com/dmitrijs2005/codetime/internal/server/observability"
	"github.com/dmitrijs2005/codetime/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/codetime/internal/server/services"
	"github.com/dmitrijs2005/codetime/internal/timex"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	gs "github.com/dmitrijs2005/codetime/internal/server/grpc"
)

const sweepInterval = time.Minute

// seams for tests
var (
	openDB         = repomanager.OpenDB
	newRepoManager = repomanager.NewPostgresRepositoryManager
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	clock   quartz.Clock
	db      *sql.DB
	ledger  ledger.Ledger
	limiter *ratelimit.Limiter
	http    *api.Server
	grpc    *gs.GRPCServer
}

// NewApp validates c and builds every component. A non-empty DatabaseDSN
// selects the durable backend and applies pending migrations.
func NewApp(ctx context.Context, c *config.Config, version string, logger logging.Logger) (*App, error) {
	if logger == nil {
		logger = logging.NewJSON(os.Stdout, c.LogLevel)
	}
	clock := quartz.NewReal()

	policy, err := ledger.ParsePolicy(c.Policy)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	loc, err := timex.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if c.SessionSecret == "" {
		return nil, fmt.Errorf("config: session secret is empty")
	}
	if c.SessionSecret == config.DefaultSessionSecret {
		if c.DatabaseDSN != "" {
			return nil, fmt.Errorf("config: default session secret is not allowed with a database")
		}
		logger.Warn(ctx, "using the default session secret, set SESSION_SECRET outside development")
	}

	if err := observability.InitSentry(c.SentryDSN, c.AppEnv, version); err != nil {
		return nil, fmt.Errorf("sentry init error: %w", err)
	}

	app := &App{config: c, logger: logger, clock: clock}

	opts := ledger.Options{Policy: policy, Clock: clock, Location: loc}

	var tokens api.TokenAdmin
	if c.DatabaseDSN == "" {
		app.ledger = ledger.NewMemory(opts)
		logger.Warn(ctx, "no database configured, usage is kept in memory only")
	} else {
		db, err := openDB(ctx, c.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("db init error: %w", err)
		}
		rm := newRepoManager()
		if err := rm.RunMigrations(ctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrations error: %w", err)
		}
		tx := dbx.NewSQLTransactor(db, nil)
		ts := services.NewTokenService(tx, rm, c, logger)
		app.db = db
		app.ledger = services.NewUsageLedger(tx, rm, ts, opts)
		tokens = ts
	}

	if c.DevTokenAuto {
		logger.Warn(ctx, "unknown credentials will auto-provision users; do not enable in production")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	app.limiter = ratelimit.New(clock, ratelimit.Limits{
		ratelimit.ChannelRequest:   c.RateHTTPPerMin,
		ratelimit.ChannelHeartbeat: c.RateWSPerMin,
	}, ratelimit.WithRejectHook(func(ch ratelimit.Channel) {
		m.Rejected(string(ch))
	}))

	hb := heartbeat.NewHandler(heartbeat.Options{
		Ledger:  app.ledger,
		Limiter: app.limiter,
		Metrics: m,
		Clock:   clock,
		MaxSkew: c.HeartbeatMaxSkew,
		Logger:  logger,
	})

	app.http = api.NewServer(api.Options{
		Address:   c.HTTPAddr,
		Ledger:    app.ledger,
		Tokens:    tokens,
		Sessions:  auth.NewSessions(c.SessionSecret, c.SessionTTL, clock),
		Limiter:   app.limiter,
		Metrics:   m,
		Gatherer:  registry,
		Heartbeat: hb,
		WSPath:    c.WSPath,
		WSActive:  hb.Active,
		Version:   version,
		Clock:     clock,
		Logger:    logger,
	})

	if c.GRPCAddr != "" {
		app.grpc = gs.NewGRPCServer(c.GRPCAddr, logger, app.ledger, app.limiter, clock, c.HeartbeatMaxSkew)
	}

	logger.Info(ctx, "ledger ready",
		"backend", app.ledger.Backend(),
		"policy", policy.String(),
		"timezone", loc.String(),
	)

	return app, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run serves until ctx is cancelled, a signal arrives or a listener fails.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")
	app.initSignalHandler(cancelFunc)

	defer observability.FlushSentry()
	defer app.close(ctx)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		app.limiter.Run(gctx, sweepInterval)
		return nil
	})

	g.Go(func() error {
		return app.http.Run(gctx)
	})

	if app.grpc != nil {
		g.Go(func() error {
			return app.grpc.Run(gctx)
		})
	}

	err := g.Wait()
	if err != nil {
		app.logger.Error(ctx, "server stopped", "error", err)
	}
	app.logger.Info(ctx, "App stopped")
	return err
}

func (app *App) close(ctx context.Context) {
	if app.db == nil {
		return
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close error", "error", err)
	}
}
