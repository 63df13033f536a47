package ctl

import (
	"errors"
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/dmitrijs2005/codetime/internal/ledger"
	"github.com/dmitrijs2005/codetime/internal/server/export"
	"github.com/dmitrijs2005/codetime/internal/timex"
	"github.com/spf13/cobra"
)

var errNoDSN = errors.New("no database configured: set DATABASE_DSN or pass --dsn")

func newMigrateCommand(d *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), d, func(s Store) error {
				if err := s.Migrate(cmd.Context()); err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			})
		},
	}
}

func newUserCommand(d *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "create <username>",
		Short: "Create a user (no-op if it exists)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), d, func(s Store) error {
				u, err := s.Admin().CreateUser(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", u.ID, u.UserName)
				return nil
			})
		},
	})
	return cmd
}

func newTokenCommand(d *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage bearer credentials",
	}

	var label string
	rotate := &cobra.Command{
		Use:   "rotate <username>",
		Short: "Issue a new credential; it is printed once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), d, func(s Store) error {
				u, err := s.Admin().UserByName(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("user %q: %w", args[0], err)
				}
				secret, t, err := s.Admin().Rotate(cmd.Context(), u.ID, label)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if d.IsTerminal(out) {
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "token %s issued; copy it now, it will not be shown again\n", t.ID)
				}
				_, _ = fmt.Fprintln(out, secret)
				return nil
			})
		},
	}
	rotate.Flags().StringVar(&label, "label", "", "free-form label shown in token lists")

	list := &cobra.Command{
		Use:   "list <username>",
		Short: "List credentials",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), d, func(s Store) error {
				u, err := s.Admin().UserByName(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("user %q: %w", args[0], err)
				}
				tokens, err := s.Admin().List(cmd.Context(), u.ID)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				_, _ = fmt.Fprintln(tw, "ID\tLABEL\tCREATED\tREVOKED")
				for _, t := range tokens {
					revoked := "-"
					if t.Revoked() {
						revoked = t.RevokedAt.UTC().Format("2006-01-02 15:04")
					}
					_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.ID, t.Label, t.CreatedAt.UTC().Format("2006-01-02 15:04"), revoked)
				}
				return tw.Flush()
			})
		},
	}

	revoke := &cobra.Command{
		Use:   "revoke <username> <token-id>",
		Short: "Revoke a credential",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), d, func(s Store) error {
				u, err := s.Admin().UserByName(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("user %q: %w", args[0], err)
				}
				if err := s.Admin().Revoke(cmd.Context(), u.ID, args[1]); err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "revoked", args[1])
				return nil
			})
		},
	}

	cmd.AddCommand(rotate, list, revoke)
	return cmd
}

func newExportCommand(d *Deps) *cobra.Command {
	var date, outDir string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Upload one day's totals for all users to object storage",
		Long: `Upload one day's per-user, per-project totals as JSON to the
configured S3 bucket under daily/<date>.json. Defaults to yesterday in the
configured timezone. With --out-dir the document is written to a local
directory instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := exportDate(d, date)
			if err != nil {
				return err
			}
			var putter export.ObjectPutter
			dest := "s3://" + d.Config.S3Bucket + "/"
			if outDir != "" {
				putter = export.DirPutter{Root: outDir}
				dest = filepath.Clean(outDir) + string(filepath.Separator)
			} else {
				putter, err = d.NewPutter(cmd.Context(), d.Config)
				if err != nil {
					return err
				}
			}
			return withStore(cmd.Context(), d, func(s Store) error {
				e := export.New(s.Usage(), putter, d.Config.S3Bucket, d.Logger)
				key, n, err := e.Export(cmd.Context(), day)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "exported %d rows to %s%s\n", n, dest, key)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "day to export, YYYY-MM-DD")
	cmd.Flags().StringVar(&outDir, "out-dir", "", "write to this directory instead of S3")
	return cmd
}

func exportDate(d *Deps, s string) (ledger.Date, error) {
	if s != "" {
		day, err := ledger.ParseDate(s)
		if err != nil {
			return ledger.Date{}, fmt.Errorf("--date: %w", err)
		}
		return day, nil
	}
	loc, err := timex.LoadLocation(d.Config.Timezone)
	if err != nil {
		return ledger.Date{}, err
	}
	return ledger.DateOf(d.Now().In(loc)).AddDays(-1), nil
}
