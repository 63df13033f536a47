// Package ctl implements ledgerctl, the operator CLI: schema migrations,
// user and credential administration and daily usage exports.
package ctl

import (
	"context"
	"database/sql"
	"io"
	"os"
	"time"

	"github.com/dmitrijs2005/codetime/internal/dbx"
	"github.com/dmitrijs2005/codetime/internal/logging"
	"github.com/dmitrijs2005/codetime/internal/server/config"
	"github.com/dmitrijs2005/codetime/internal/server/export"
	"github.com/dmitrijs2005/codetime/internal/server/models"
	"github.com/dmitrijs2005/codetime/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/codetime/internal/server/services"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// Admin is the credential administration surface.
type Admin interface {
	CreateUser(ctx context.Context, userName string) (*models.User, error)
	UserByName(ctx context.Context, userName string) (*models.User, error)
	Rotate(ctx context.Context, userID, label string) (string, *models.Token, error)
	List(ctx context.Context, userID string) ([]models.Token, error)
	Revoke(ctx context.Context, userID, tokenID string) error
}

// Store is an open durable backend.
type Store interface {
	Migrate(ctx context.Context) error
	Admin() Admin
	Usage() export.UsageSource
	Close() error
}

// Deps are the command's collaborators. Zero fields get production values.
type Deps struct {
	Config     *config.Config
	Logger     logging.Logger
	OpenStore  func(ctx context.Context, cfg *config.Config) (Store, error)
	NewPutter  func(ctx context.Context, cfg *config.Config) (export.ObjectPutter, error)
	IsTerminal func(w io.Writer) bool
	Now        func() time.Time
}

func (d *Deps) defaults() {
	if d.Config == nil {
		d.Config = config.LoadEnvConfig()
	}
	if d.Logger == nil {
		d.Logger = logging.NewJSON(os.Stderr, d.Config.LogLevel)
	}
	if d.OpenStore == nil {
		d.OpenStore = openPostgres
	}
	if d.NewPutter == nil {
		d.NewPutter = func(ctx context.Context, cfg *config.Config) (export.ObjectPutter, error) {
			return export.NewS3Client(ctx, cfg)
		}
	}
	if d.IsTerminal == nil {
		d.IsTerminal = isTerminal
	}
	if d.Now == nil {
		d.Now = time.Now
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// NewRootCommand builds the ledgerctl command tree.
func NewRootCommand(d Deps) *cobra.Command {
	d.defaults()

	var dsn, configPath string

	root := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Administer the usage ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if dsn != "" {
				d.Config.DatabaseDSN = dsn
			}
		},
	}
	root.PersistentFlags().StringVar(&dsn, "dsn", "", "PostgreSQL DSN (overrides DATABASE_DSN)")
	// parsed by the config loader before cobra runs; declared so it is accepted
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to JSON config file")

	root.AddCommand(
		newMigrateCommand(&d),
		newUserCommand(&d),
		newTokenCommand(&d),
		newExportCommand(&d),
	)
	return root
}

// withStore opens the store, runs fn and closes it.
func withStore(ctx context.Context, d *Deps, fn func(Store) error) error {
	if d.Config.DatabaseDSN == "" {
		return errNoDSN
	}
	s, err := d.OpenStore(ctx, d.Config)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			d.Logger.Warn(ctx, "db close error", "error", cerr)
		}
	}()
	return fn(s)
}

type pgStore struct {
	db *sql.DB
	rm repomanager.RepositoryManager
	ts *services.TokenService
}

// openPostgres skips migrations; run "ledgerctl migrate" first.
func openPostgres(ctx context.Context, cfg *config.Config) (Store, error) {
	db, err := repomanager.OpenDB(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	rm := repomanager.NewPostgresRepositoryManager()
	ts := services.NewTokenService(dbx.NewSQLTransactor(db, nil), rm, cfg, logging.Nop{})
	return &pgStore{db: db, rm: rm, ts: ts}, nil
}

func (s *pgStore) Migrate(ctx context.Context) error { return s.rm.RunMigrations(ctx, s.db) }
func (s *pgStore) Admin() Admin                      { return s.ts }
func (s *pgStore) Usage() export.UsageSource         { return s.rm.Usage(s.db) }
func (s *pgStore) Close() error                      { return s.db.Close() }
