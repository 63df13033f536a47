package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrijs2005/codetime/internal/common"
	"github.com/dmitrijs2005/codetime/internal/dbx"
	"github.com/dmitrijs2005/codetime/internal/ledger"
	"github.com/dmitrijs2005/codetime/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/codetime/internal/server/repositories/usage"
)

// CredentialResolver maps a bearer credential to a user id.
type CredentialResolver interface {
	Resolve(ctx context.Context, credential string) (string, error)
}

// UsageLedger is the durable ledger.Ledger. Every AddMinute runs in a
// single transaction: project upsert, dedup and daily increment commit or
// roll back together.
type UsageLedger struct {
	tx          dbx.Transactor
	repomanager repomanager.RepositoryManager
	resolver    CredentialResolver
	dedup       ledger.Deduplicator
	opts        ledger.Options
}

var _ ledger.Ledger = (*UsageLedger)(nil)

var rangeDates = ledger.RangeDates

func NewUsageLedger(tx dbx.Transactor, m repomanager.RepositoryManager, resolver CredentialResolver, opts ledger.Options) *UsageLedger {
	opts = opts.Normalize()
	return &UsageLedger{
		tx:          tx,
		repomanager: m,
		resolver:    resolver,
		dedup:       ledger.NewDeduplicator(opts.Policy),
		opts:        opts,
	}
}

// txMinuteStore binds the usage repository to one transaction and one
// project id so the Deduplicator can work in project names.
type txMinuteStore struct {
	repo      usage.Repository
	projectID int64
}

func (s txMinuteStore) ClaimMinute(ctx context.Context, userID string, minute ledger.MinuteIndex, project string) (string, error) {
	owner, err := s.repo.ClaimMinute(ctx, userID, int64(minute), s.projectID)
	if err != nil {
		return "", err
	}
	if owner == s.projectID {
		return project, nil
	}
	return "#" + strconv.FormatInt(owner, 10), nil
}

func (s txMinuteStore) InsertMinute(ctx context.Context, userID, _ string, minute ledger.MinuteIndex) (bool, error) {
	return s.repo.InsertMinute(ctx, userID, s.projectID, int64(minute))
}

func (l *UsageLedger) AddMinute(ctx context.Context, userID, project string, minute ledger.MinuteIndex) (bool, error) {
	if userID == "" {
		return false, common.ErrorUnauthorized
	}
	if err := ledger.ValidateProjectName(project); err != nil {
		return false, err
	}
	date := minute.Date(l.opts.Location).String()

	counted, err := dbx.InTxValue(ctx, l.tx, func(ctx context.Context, tx dbx.DBTX) (bool, error) {
		projectID, err := l.repomanager.Projects(tx).Ensure(ctx, userID, project)
		if err != nil {
			return false, err
		}

		repo := l.repomanager.Usage(tx)
		counted, err := l.dedup.Admit(ctx, txMinuteStore{repo: repo, projectID: projectID}, userID, project, minute)
		if err != nil || !counted {
			return false, err
		}
		if err := repo.IncrementDaily(ctx, userID, projectID, date); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return false, fmt.Errorf("add minute: %w", err)
	}
	return counted, nil
}

func (l *UsageLedger) totals(ctx context.Context, userID string, from, to ledger.Date, project string) ([]ledger.DailyTotal, error) {
	rows, err := l.repomanager.Usage(l.tx.DB()).DailyTotals(ctx, userID, from.String(), to.String(), project)
	if err != nil {
		return nil, fmt.Errorf("daily totals: %w", err)
	}
	return rows, nil
}

func (l *UsageLedger) Summarize(ctx context.Context, userID, rangeName, project string) (ledger.Summary, error) {
	if rangeName == "" {
		return ledger.Summary{}, ledger.ErrRangeRequired
	}
	dates, ok := rangeDates(rangeName, l.opts.Clock.Now(), l.opts.Location)
	if !ok {
		return ledger.Summary{}, ledger.ErrUnresolvedRange
	}
	if len(dates) == 0 {
		return ledger.BuildSummary(nil, nil), nil
	}

	rows, err := l.totals(ctx, userID, dates[0], dates[len(dates)-1], project)
	if err != nil {
		return ledger.Summary{}, err
	}
	return ledger.BuildSummary(dates, rows), nil
}

func (l *UsageLedger) DailyRange(ctx context.Context, userID string, from, to ledger.Date, project string) (ledger.DailySeries, error) {
	if err := ledger.ValidateSpan(from, to); err != nil {
		return ledger.DailySeries{}, err
	}
	if to.Before(from) {
		return ledger.BuildSeries(from, to, nil), nil
	}
	rows, err := l.totals(ctx, userID, from, to, project)
	if err != nil {
		return ledger.DailySeries{}, err
	}
	return ledger.BuildSeries(from, to, rows), nil
}

func (l *UsageLedger) ListProjects(ctx context.Context, userID, rangeName string) ([]string, error) {
	repo := l.repomanager.Projects(l.tx.DB())

	var (
		names []string
		err   error
	)
	if rangeName == "" {
		names, err = repo.ListNames(ctx, userID)
	} else {
		dates, ok := rangeDates(rangeName, l.opts.Clock.Now(), l.opts.Location)
		if !ok || len(dates) == 0 {
			return []string{}, nil
		}
		names, err = repo.ListActiveNames(ctx, userID, dates[0].String(), dates[len(dates)-1].String())
	}
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

func (l *UsageLedger) ResolveUser(ctx context.Context, credential string) (string, error) {
	return l.resolver.Resolve(ctx, credential)
}

func (l *UsageLedger) Policy() ledger.Policy      { return l.dedup.Policy() }
func (l *UsageLedger) Location() *time.Location { return l.opts.Location }
func (l *UsageLedger) Backend() string          { return ledger.BackendPostgres }
