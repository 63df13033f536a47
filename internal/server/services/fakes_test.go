package services

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/dmitrijs2005/codetime/internal/common"
	"github.com/dmitrijs2005/codetime/internal/dbx"
	"github.com/dmitrijs2005/codetime/internal/ledger"
	"github.com/dmitrijs2005/codetime/internal/server/models"
	"github.com/dmitrijs2005/codetime/internal/server/repositories/projects"
	"github.com/dmitrijs2005/codetime/internal/server/repositories/tokens"
	"github.com/dmitrijs2005/codetime/internal/server/repositories/usage"
	"github.com/dmitrijs2005/codetime/internal/server/repositories/users"
)

// fakeDB emulates the unique constraints of the schema in memory.
// Transactions are serialized and roll back by restoring a snapshot.
type fakeDB struct {
	txMu sync.Mutex
	mu   sync.Mutex
	st   *fakeState

	failIncrement error
	failFind      error
}

type claimKey struct {
	user   string
	minute int64
}

type minuteKey struct {
	user      string
	projectID int64
	minute    int64
}

type dailyKey struct {
	user      string
	projectID int64
	date      string
}

type fakeState struct {
	seq         int64
	projects    map[string]map[string]int64
	projectName map[int64]string
	claims      map[claimKey]int64
	minutes     map[minuteKey]struct{}
	daily       map[dailyKey]int
	users       map[string]models.User
	tokens      []models.Token
}

func newFakeDB() *fakeDB {
	return &fakeDB{st: &fakeState{
		projects:    map[string]map[string]int64{},
		projectName: map[int64]string{},
		claims:      map[claimKey]int64{},
		minutes:     map[minuteKey]struct{}{},
		daily:       map[dailyKey]int{},
		users:       map[string]models.User{},
	}}
}

func (s *fakeState) clone() *fakeState {
	c := &fakeState{
		seq:         s.seq,
		projects:    make(map[string]map[string]int64, len(s.projects)),
		projectName: make(map[int64]string, len(s.projectName)),
		claims:      make(map[claimKey]int64, len(s.claims)),
		minutes:     make(map[minuteKey]struct{}, len(s.minutes)),
		daily:       make(map[dailyKey]int, len(s.daily)),
		users:       make(map[string]models.User, len(s.users)),
		tokens:      append([]models.Token(nil), s.tokens...),
	}
	for u, m := range s.projects {
		cm := make(map[string]int64, len(m))
		for k, v := range m {
			cm[k] = v
		}
		c.projects[u] = cm
	}
	for k, v := range s.projectName {
		c.projectName[k] = v
	}
	for k, v := range s.claims {
		c.claims[k] = v
	}
	for k := range s.minutes {
		c.minutes[k] = struct{}{}
	}
	for k, v := range s.daily {
		c.daily[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	return c
}

func (f *fakeDB) next() int64 {
	f.st.seq++
	return f.st.seq
}

type fakeTransactor struct {
	db *fakeDB
}

func (t fakeTransactor) DB() dbx.DBTX { return nil }

func (t fakeTransactor) InTx(ctx context.Context, fn dbx.TxFunc) error {
	t.db.txMu.Lock()
	defer t.db.txMu.Unlock()

	t.db.mu.Lock()
	snapshot := t.db.st.clone()
	t.db.mu.Unlock()

	if err := fn(ctx, nil); err != nil {
		t.db.mu.Lock()
		t.db.st = snapshot
		t.db.mu.Unlock()
		return err
	}
	return nil
}

type fakeRepoManager struct {
	db *fakeDB
}

func (m fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m fakeRepoManager) Users(dbx.DBTX) users.Repository              { return fakeUsers{m.db} }
func (m fakeRepoManager) Tokens(dbx.DBTX) tokens.Repository            { return fakeTokens{m.db} }
func (m fakeRepoManager) Projects(dbx.DBTX) projects.Repository        { return fakeProjects{m.db} }
func (m fakeRepoManager) Usage(dbx.DBTX) usage.Repository              { return fakeUsage{m.db} }

type fakeUsers struct{ db *fakeDB }

func (r fakeUsers) Create(ctx context.Context, userName string) (*models.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.st.users[userName]; ok {
		return nil, errors.New("duplicate username")
	}
	u := models.User{ID: "uid-" + strconv.FormatInt(r.db.next(), 10), UserName: userName, CreatedAt: time.Now()}
	r.db.st.users[userName] = u
	return &u, nil
}

func (r fakeUsers) GetOrCreate(ctx context.Context, userName string) (*models.User, error) {
	r.db.mu.Lock()
	u, ok := r.db.st.users[userName]
	r.db.mu.Unlock()
	if ok {
		return &u, nil
	}
	return r.Create(ctx, userName)
}

func (r fakeUsers) GetByUserName(ctx context.Context, userName string) (*models.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	u, ok := r.db.st.users[userName]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &u, nil
}

type fakeTokens struct{ db *fakeDB }

func (r fakeTokens) Create(ctx context.Context, userID, digest, label string) (*models.Token, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, t := range r.db.st.tokens {
		if t.Digest == digest {
			return nil, errors.New("duplicate token_hash")
		}
	}
	t := models.Token{
		ID:        "tok-" + strconv.FormatInt(r.db.next(), 10),
		UserID:    userID,
		Digest:    digest,
		Label:     label,
		CreatedAt: time.Now(),
	}
	r.db.st.tokens = append(r.db.st.tokens, t)
	return &t, nil
}

func (r fakeTokens) FindActive(ctx context.Context, digest string) (*models.Token, error) {
	if r.db.failFind != nil {
		return nil, r.db.failFind
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, t := range r.db.st.tokens {
		if t.Digest == digest && !t.Revoked() {
			t := t
			return &t, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r fakeTokens) ListByUser(ctx context.Context, userID string) ([]models.Token, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := []models.Token{}
	for _, t := range r.db.st.tokens {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r fakeTokens) Revoke(ctx context.Context, userID, tokenID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for i, t := range r.db.st.tokens {
		if t.ID == tokenID && t.UserID == userID {
			if t.RevokedAt == nil {
				now := time.Now()
				r.db.st.tokens[i].RevokedAt = &now
			}
			return nil
		}
	}
	return common.ErrorNotFound
}

type fakeProjects struct{ db *fakeDB }

func (r fakeProjects) Ensure(ctx context.Context, userID, name string) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	m, ok := r.db.st.projects[userID]
	if !ok {
		m = map[string]int64{}
		r.db.st.projects[userID] = m
	}
	if id, ok := m[name]; ok {
		return id, nil
	}
	id := r.db.next()
	m[name] = id
	r.db.st.projectName[id] = name
	return id, nil
}

func (r fakeProjects) ListNames(ctx context.Context, userID string) ([]string, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := []string{}
	for name := range r.db.st.projects[userID] {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (r fakeProjects) ListActiveNames(ctx context.Context, userID, from, to string) ([]string, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	seen := map[string]struct{}{}
	for k, n := range r.db.st.daily {
		if k.user == userID && k.date >= from && k.date <= to && n > 0 {
			seen[r.db.st.projectName[k.projectID]] = struct{}{}
		}
	}
	out := []string{}
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

type fakeUsage struct{ db *fakeDB }

func (r fakeUsage) ClaimMinute(ctx context.Context, userID string, minute int64, projectID int64) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	k := claimKey{user: userID, minute: minute}
	if owner, ok := r.db.st.claims[k]; ok {
		return owner, nil
	}
	r.db.st.claims[k] = projectID
	return projectID, nil
}

func (r fakeUsage) InsertMinute(ctx context.Context, userID string, projectID int64, minute int64) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	k := minuteKey{user: userID, projectID: projectID, minute: minute}
	if _, ok := r.db.st.minutes[k]; ok {
		return false, nil
	}
	r.db.st.minutes[k] = struct{}{}
	return true, nil
}

func (r fakeUsage) IncrementDaily(ctx context.Context, userID string, projectID int64, date string) error {
	if r.db.failIncrement != nil {
		return r.db.failIncrement
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.st.daily[dailyKey{user: userID, projectID: projectID, date: date}]++
	return nil
}

func (r fakeUsage) DailyTotals(ctx context.Context, userID, from, to, project string) ([]ledger.DailyTotal, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := []ledger.DailyTotal{}
	for k, n := range r.db.st.daily {
		name := r.db.st.projectName[k.projectID]
		if k.user != userID || k.date < from || k.date > to {
			continue
		}
		if project != "" && name != project {
			continue
		}
		d, err := ledger.ParseDate(k.date)
		if err != nil {
			return nil, err
		}
		out = append(out, ledger.DailyTotal{Project: name, Date: d, Minutes: n})
	}
	return out, nil
}

func (r fakeUsage) DailyUsageOn(ctx context.Context, date string) ([]models.DailyUsage, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	day, err := time.Parse(time.DateOnly, date)
	if err != nil {
		return nil, err
	}
	out := []models.DailyUsage{}
	for k, n := range r.db.st.daily {
		if k.date == date {
			out = append(out, models.DailyUsage{UserID: k.user, Project: r.db.st.projectName[k.projectID], Date: day, Minutes: n})
		}
	}
	return out, nil
}
