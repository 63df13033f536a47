// Package ledger turns activity heartbeats into per-minute usage records
// and daily per-project totals, and answers range summaries over them.
//
// Two backends satisfy Ledger: Memory, which keeps everything in process,
// and the Postgres-backed ledger in internal/server/services. Both bucket
// minutes into calendar dates using one configured *time.Location.
package ledger

import (
	"context"
	"time"

	"github.com/coder/quartz"
	"github.com/dmitrijs2005/codetime/internal/common"
)

// Backend names reported by Ledger.Backend.
const (
	BackendMemory   = "in-memory"
	BackendPostgres = "postgres"
)

// ErrUnresolvedRange is returned by Summarize for an unknown range name.
// It is a validation error; callers with an optional range treat it as an
// empty result.
var ErrUnresolvedRange = common.NewError(common.CodeValidation, "unknown range")

// ErrRangeRequired is returned when a mandatory range is missing.
var ErrRangeRequired = common.NewError(common.CodeValidation, "range is required")

// Ledger is the usage ledger facade.
type Ledger interface {
	// AddMinute records a heartbeat for (user, project, minute) and reports
	// whether it produced a newly counted minute. Duplicates and minutes
	// already owned by another project are not errors.
	AddMinute(ctx context.Context, userID, project string, minute MinuteIndex) (bool, error)

	// Summarize aggregates a symbolic range for a user, optionally
	// restricted to one project.
	Summarize(ctx context.Context, userID, rangeName, project string) (Summary, error)

	// DailyRange returns the zero-filled series from from to to inclusive.
	DailyRange(ctx context.Context, userID string, from, to Date, project string) (DailySeries, error)

	// ListProjects returns the user's project names, ascending. With a
	// range name, only projects with minutes in that range are listed.
	ListProjects(ctx context.Context, userID, rangeName string) ([]string, error)

	// ResolveUser maps a bearer credential to a user id.
	ResolveUser(ctx context.Context, credential string) (string, error)

	Policy() Policy
	Location() *time.Location
	Backend() string
}

// Options configures a backend. Zero values get defaults.
type Options struct {
	Policy   Policy
	Clock    quartz.Clock
	Location *time.Location
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = quartz.NewReal()
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	return o
}

// Normalize fills defaults. Backends outside this package call it.
func (o Options) Normalize() Options {
	return o.withDefaults()
}

// RangeDates resolves rangeName at now and lists its dates in loc.
func RangeDates(rangeName string, now time.Time, loc *time.Location) ([]Date, bool) {
	iv, ok := Resolve(rangeName, now, loc)
	if !ok {
		return nil, false
	}
	return iv.Dates(loc), true
}
