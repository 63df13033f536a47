package ledger

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/codetime/internal/common"
)

// Memory is the transient backend. State is partitioned per user; each
// partition has its own lock, so unrelated users never contend.
type Memory struct {
	dedup Deduplicator
	opts  Options
	users sync.Map // userID -> *userBucket
}

var _ Ledger = (*Memory)(nil)

// NewMemory builds an empty transient ledger.
func NewMemory(opts Options) *Memory {
	opts = opts.withDefaults()
	return &Memory{dedup: NewDeduplicator(opts.Policy), opts: opts}
}

type projectMinute struct {
	project string
	minute  MinuteIndex
}

type projectDate struct {
	project string
	date    Date
}

type userBucket struct {
	mu       sync.Mutex
	minutes  map[projectMinute]struct{}
	claims   map[MinuteIndex]string
	daily    map[projectDate]int
	projects map[string]struct{}
}

func (m *Memory) bucket(userID string) *userBucket {
	if b, ok := m.users.Load(userID); ok {
		return b.(*userBucket)
	}
	b, _ := m.users.LoadOrStore(userID, &userBucket{
		minutes:  make(map[projectMinute]struct{}),
		claims:   make(map[MinuteIndex]string),
		daily:    make(map[projectDate]int),
		projects: make(map[string]struct{}),
	})
	return b.(*userBucket)
}

// lockedBucket exposes a bucket to the Deduplicator while its lock is held.
type lockedBucket struct {
	b *userBucket
}

func (l lockedBucket) ClaimMinute(_ context.Context, _ string, minute MinuteIndex, project string) (string, error) {
	if owner, ok := l.b.claims[minute]; ok {
		return owner, nil
	}
	l.b.claims[minute] = project
	return project, nil
}

func (l lockedBucket) InsertMinute(_ context.Context, _ string, project string, minute MinuteIndex) (bool, error) {
	k := projectMinute{project: project, minute: minute}
	if _, ok := l.b.minutes[k]; ok {
		return false, nil
	}
	l.b.minutes[k] = struct{}{}
	return true, nil
}

func (m *Memory) AddMinute(ctx context.Context, userID, project string, minute MinuteIndex) (bool, error) {
	if userID == "" {
		return false, common.ErrorUnauthorized
	}
	if err := ValidateProjectName(project); err != nil {
		return false, err
	}

	b := m.bucket(userID)
	b.mu.Lock()
	defer b.mu.Unlock()

	b.projects[project] = struct{}{}

	counted, err := m.dedup.Admit(ctx, lockedBucket{b: b}, userID, project, minute)
	if err != nil || !counted {
		return false, err
	}
	b.daily[projectDate{project: project, date: minute.Date(m.opts.Location)}]++
	return true, nil
}

// rows snapshots the daily totals of userID, optionally for one project.
func (m *Memory) rows(userID, project string) []DailyTotal {
	v, ok := m.users.Load(userID)
	if !ok {
		return nil
	}
	b := v.(*userBucket)
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]DailyTotal, 0, len(b.daily))
	for k, n := range b.daily {
		if project != "" && k.project != project {
			continue
		}
		out = append(out, DailyTotal{Project: k.project, Date: k.date, Minutes: n})
	}
	return out
}

func (m *Memory) Summarize(ctx context.Context, userID, rangeName, project string) (Summary, error) {
	if rangeName == "" {
		return Summary{}, ErrRangeRequired
	}
	dates, ok := RangeDates(rangeName, m.opts.Clock.Now(), m.opts.Location)
	if !ok {
		return Summary{}, ErrUnresolvedRange
	}
	return BuildSummary(dates, m.rows(userID, project)), nil
}

func (m *Memory) DailyRange(ctx context.Context, userID string, from, to Date, project string) (DailySeries, error) {
	if err := ValidateSpan(from, to); err != nil {
		return DailySeries{}, err
	}
	return BuildSeries(from, to, m.rows(userID, project)), nil
}

func (m *Memory) ListProjects(ctx context.Context, userID, rangeName string) ([]string, error) {
	if rangeName != "" {
		dates, ok := RangeDates(rangeName, m.opts.Clock.Now(), m.opts.Location)
		if !ok {
			return []string{}, nil
		}
		s := BuildSummary(dates, m.rows(userID, ""))
		out := make([]string, 0, len(s.ByProject))
		for _, p := range s.ByProject {
			if p.Minutes > 0 {
				out = append(out, p.Project)
			}
		}
		sort.Strings(out)
		return out, nil
	}

	v, ok := m.users.Load(userID)
	if !ok {
		return []string{}, nil
	}
	b := v.(*userBucket)
	b.mu.Lock()
	out := make([]string, 0, len(b.projects))
	for p := range b.projects {
		out = append(out, p)
	}
	b.mu.Unlock()
	sort.Strings(out)
	return out, nil
}

// ResolveUser treats the credential itself as the user id.
func (m *Memory) ResolveUser(ctx context.Context, credential string) (string, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return "", common.ErrorUnauthorized
	}
	return credential, nil
}

func (m *Memory) Policy() Policy            { return m.dedup.Policy() }
func (m *Memory) Location() *time.Location { return m.opts.Location }
func (m *Memory) Backend() string          { return BackendMemory }
