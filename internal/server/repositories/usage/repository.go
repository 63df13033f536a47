package usage

import (
	"context"

	"github.com/dmitrijs2005/codetime/internal/ledger"
	"github.com/dmitrijs2005/codetime/internal/server/models"
)

type Repository interface {
	// ClaimMinute records projectID as owner of (userID, minute) unless an
	// owner exists, and returns the owner.
	ClaimMinute(ctx context.Context, userID string, minute int64, projectID int64) (int64, error)
	// InsertMinute reports whether the minute record was newly inserted.
	InsertMinute(ctx context.Context, userID string, projectID int64, minute int64) (bool, error)
	IncrementDaily(ctx context.Context, userID string, projectID int64, date string) error
	// DailyTotals returns rows between from and to inclusive, optionally
	// for one project name ("" means all).
	DailyTotals(ctx context.Context, userID, from, to, project string) ([]ledger.DailyTotal, error)
	// DailyUsageOn returns every user's totals for one date.
	DailyUsageOn(ctx context.Context, date string) ([]models.DailyUsage, error)
}
