// Package ledgertest holds the behavioural contract every ledger.Ledger
// backend must satisfy. Backends call Run from their own tests.
package ledgertest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/dmitrijs2005/codetime/internal/common"
	"github.com/dmitrijs2005/codetime/internal/ledger"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory builds a fresh, empty backend for one test.
type Factory func(t *testing.T, opts ledger.Options) ledger.Ledger

// Now is the instant the mock clock is set to: 2024-03-10 15:30 UTC.
var Now = time.Date(2024, 3, 10, 15, 30, 0, 0, time.UTC)

func newLedger(t *testing.T, f Factory, p ledger.Policy, loc *time.Location) ledger.Ledger {
	t.Helper()
	clk := quartz.NewMock(t)
	clk.Set(Now)
	if loc == nil {
		loc = time.UTC
	}
	return f(t, ledger.Options{Policy: p, Clock: clk, Location: loc})
}

func date(t *testing.T, s string) ledger.Date {
	t.Helper()
	d, err := ledger.ParseDate(s)
	require.NoError(t, err)
	return d
}

// Run executes the whole contract against f.
func Run(t *testing.T, f Factory) {
	t.Run("Idempotence", func(t *testing.T) { testIdempotence(t, f) })
	t.Run("ExclusivePolicy", func(t *testing.T) { testExclusive(t, f) })
	t.Run("AllowMultiPolicy", func(t *testing.T) { testAllowMulti(t, f) })
	t.Run("EndToEndSummary", func(t *testing.T) { testEndToEnd(t, f) })
	t.Run("ZeroFilledDailyRange", func(t *testing.T) { testZeroFill(t, f) })
	t.Run("DailyRangeReversedIsEmpty", func(t *testing.T) { testReversedRange(t, f) })
	t.Run("DailyRangeSpanCapped", func(t *testing.T) { testSpanCapped(t, f) })
	t.Run("DailyRangeProjectFilter", func(t *testing.T) { testDailyRangeFilter(t, f) })
	t.Run("RangeValidation", func(t *testing.T) { testRangeValidation(t, f) })
	t.Run("Last7dSeries", func(t *testing.T) { testLast7d(t, f) })
	t.Run("YesterdayIsSeparate", func(t *testing.T) { testYesterday(t, f) })
	t.Run("ProjectNameValidation", func(t *testing.T) { testProjectValidation(t, f) })
	t.Run("ListProjects", func(t *testing.T) { testListProjects(t, f) })
	t.Run("UserIsolation", func(t *testing.T) { testUserIsolation(t, f) })
	t.Run("ConcurrentDuplicates", func(t *testing.T) { testConcurrentDuplicates(t, f) })
	t.Run("ConcurrentExclusiveClaims", func(t *testing.T) { testConcurrentExclusive(t, f) })
	t.Run("DayBoundaryFollowsLocation", func(t *testing.T) { testDayBoundary(t, f) })
	t.Run("EmptyCredentialUnauthorized", func(t *testing.T) { testEmptyCredential(t, f) })
}

func testIdempotence(t *testing.T, f Factory) {
	l := newLedger(t, f, ledger.PolicyExclusive, nil)
	ctx := context.Background()
	m := ledger.MinuteOf(Now)

	for i := 0; i < 5; i++ {
		counted, err := l.AddMinute(ctx, "u1", "demo", m)
		require.NoError(t, err)
		assert.Equal(t, i == 0, counted, "attempt %d", i)
	}

	s, err := l.Summarize(ctx, "u1", ledger.RangeToday, "")
	require.NoError(t, err)
	assert.Equal(t, 1, s.TotalMinutes)
}

func testExclusive(t *testing.T, f Factory) {
	l := newLedger(t, f, ledger.PolicyExclusive, nil)
	ctx := context.Background()
	m := ledger.MinuteOf(Now)

	counted, err := l.AddMinute(ctx, "u1", "alpha", m)
	require.NoError(t, err)
	assert.True(t, counted)

	counted, err = l.AddMinute(ctx, "u1", "beta", m)
	require.NoError(t, err, "a claimed minute is not an error")
	assert.False(t, counted)

	counted, err = l.AddMinute(ctx, "u1", "alpha", m)
	require.NoError(t, err)
	assert.False(t, counted, "same project in the same minute is a duplicate")

	counted, err = l.AddMinute(ctx, "u1", "beta", m+1)
	require.NoError(t, err)
	assert.True(t, counted, "next minute is free again")

	s, err := l.Summarize(ctx, "u1", ledger.RangeToday, "")
	require.NoError(t, err)
	assert.Equal(t, 2, s.TotalMinutes)
	want := []ledger.ProjectMinutes{{Project: "alpha", Minutes: 1}, {Project: "beta", Minutes: 1}}
	if diff := cmp.Diff(want, s.ByProject); diff != "" {
		t.Errorf("byProject mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, ledger.PolicyExclusive, l.Policy())
}

func testAllowMulti(t *testing.T, f Factory) {
	l := newLedger(t, f, ledger.PolicyAllowMulti, nil)
	ctx := context.Background()
	m := ledger.MinuteOf(Now)

	for _, p := range []string{"alpha", "beta"} {
		counted, err := l.AddMinute(ctx, "u1", p, m)
		require.NoError(t, err)
		assert.True(t, counted, p)
	}
	counted, err := l.AddMinute(ctx, "u1", "beta", m)
	require.NoError(t, err)
	assert.False(t, counted)

	s, err := l.Summarize(ctx, "u1", ledger.RangeToday, "")
	require.NoError(t, err)
	assert.Equal(t, 2, s.TotalMinutes)
	assert.Len(t, s.ByProject, 2)
	assert.Equal(t, ledger.PolicyAllowMulti, l.Policy())
}

func testEndToEnd(t *testing.T, f Factory) {
	l := newLedger(t, f, ledger.PolicyExclusive, nil)
	ctx := context.Background()
	m := ledger.MinuteOf(Now)

	_, err := l.AddMinute(ctx, "u1", "demo", m-10)
	require.NoError(t, err)
	_, err = l.AddMinute(ctx, "u1", "demo", m)
	require.NoError(t, err)

	s, err := l.Summarize(ctx, "u1", ledger.RangeToday, "")
	require.NoError(t, err)

	want := ledger.Summary{
		TotalMinutes: 2,
		ByProject:    []ledger.ProjectMinutes{{Project: "demo", Minutes: 2}},
		Daily:        []ledger.DayMinutes{{Date: date(t, "2024-03-10"), Minutes: 2}},
	}
	if diff := cmp.Diff(want, s); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}

	filtered, err := l.Summarize(ctx, "u1", ledger.RangeToday, "other")
	require.NoError(t, err)
	assert.Equal(t, 0, filtered.TotalMinutes)
	assert.Empty(t, filtered.ByProject)
	assert.Len(t, filtered.Daily, 1)
}

func testZeroFill(t *testing.T, f Factory) {
	l := newLedger(t, f, ledger.PolicyExclusive, nil)

	got, err := l.DailyRange(context.Background(), "u1", date(t, "2024-01-01"), date(t, "2024-01-03"), "demo")
	require.NoError(t, err)

	want := ledger.DailySeries{
		Range: ledger.DateRange{From: date(t, "2024-01-01"), To: date(t, "2024-01-03")},
		Series: []ledger.DayMinutes{
			{Date: date(t, "2024-01-01")},
			{Date: date(t, "2024-01-02")},
			{Date: date(t, "2024-01-03")},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("series mismatch (-want +got):\n%s", diff)
	}
}

func testReversedRange(t *testing.T, f Factory) {
	l := newLedger(t, f, ledger.PolicyExclusive, nil)

	got, err := l.DailyRange(context.Background(), "u1", date(t, "2024-01-03"), date(t, "2024-01-01"), "")
	require.NoError(t, err)
	assert.Empty(t, got.Series)
}

func testSpanCapped(t *testing.T, f Factory) {
	l := newLedger(t, f, ledger.PolicyExclusive, nil)
	ctx := context.Background()
	from := date(t, "2024-01-01")

	got, err := l.DailyRange(ctx, "u1", from, from.AddDays(ledger.MaxSpanDays-1), "")
	require.NoError(t, err)
	assert.Len(t, got.Series, ledger.MaxSpanDays)

	_, err = l.DailyRange(ctx, "u1", from, from.AddDays(ledger.MaxSpanDays), "")
	require.ErrorIs(t, err, ledger.ErrSpanTooLong)
	assert.Equal(t, common.CodeValidation, common.CodeOf(err))
}

func testDailyRangeFilter(t *testing.T, f Factory) {
	l := newLedger(t, f, ledger.PolicyAllowMulti, nil)
	ctx := context.Background()
	m := ledger.MinuteOf(Now)
	day := 24 * 60

	for _, add := range []struct {
		project string
		minute  ledger.MinuteIndex
	}{
		{"alpha", m}, {"alpha", m + 1}, {"beta", m}, {"alpha", m - ledger.MinuteIndex(2*day)},
	} {
		_, err := l.AddMinute(ctx, "u1", add.project, add.minute)
		require.NoError(t, err)
	}

	all, err := l.DailyRange(ctx, "u1", date(t, "2024-03-08"), date(t, "2024-03-10"), "")
	require.NoError(t, err)
	assert.Equal(t, []ledger.DayMinutes{
		{Date: date(t, "2024-03-08"), Minutes: 1},
		{Date: date(t, "2024-03-09"), Minutes: 0},
		{Date: date(t, "2024-03-10"), Minutes: 3},
	}, all.Series)

	beta, err := l.DailyRange(ctx, "u1", date(t, "2024-03-08"), date(t, "2024-03-10"), "beta")
	require.NoError(t, err)
	assert.Equal(t, []ledger.DayMinutes{
		{Date: date(t, "2024-03-08"), Minutes: 0},
		{Date: date(t, "2024-03-09"), Minutes: 0},
		{Date: date(t, "2024-03-10"), Minutes: 1},
	}, beta.Series)
}

func testRangeValidation(t *testing.T, f Factory) {
	l := newLedger(t, f, ledger.PolicyExclusive, nil)
	ctx := context.Background()

	_, err := l.Summarize(ctx, "u1", "bogus", "")
	require.Error(t, err)
	assert.Equal(t, common.CodeValidation, common.CodeOf(err))
	assert.ErrorIs(t, err, ledger.ErrUnresolvedRange)

	_, err = l.Summarize(ctx, "u1", "", "")
	require.Error(t, err)
	assert.Equal(t, common.CodeValidation, common.CodeOf(err))
}

func testLast7d(t *testing.T, f Factory) {
	l := newLedger(t, f, ledger.PolicyExclusive, nil)

	s, err := l.Summarize(context.Background(), "u1", ledger.RangeLast7d, "")
	require.NoError(t, err)
	require.Len(t, s.Daily, 7)
	assert.Equal(t, date(t, "2024-03-04"), s.Daily[0].Date)
	assert.Equal(t, date(t, "2024-03-10"), s.Daily[6].Date)
	assert.Equal(t, 0, s.TotalMinutes)
}

func testYesterday(t *testing.T, f Factory) {
	l := newLedger(t, f, ledger.PolicyExclusive, nil)
	ctx := context.Background()

	_, err := l.AddMinute(ctx, "u1", "demo", ledger.MinuteOf(Now.Add(-24*time.Hour)))
	require.NoError(t, err)

	today, err := l.Summarize(ctx, "u1", ledger.RangeToday, "")
	require.NoError(t, err)
	assert.Equal(t, 0, today.TotalMinutes)

	yesterday, err := l.Summarize(ctx, "u1", ledger.RangeYesterday, "")
	require.NoError(t, err)
	assert.Equal(t, 1, yesterday.TotalMinutes)
	assert.Equal(t, []ledger.DayMinutes{{Date: date(t, "2024-03-09"), Minutes: 1}}, yesterday.Daily)

	last3d, err := l.Summarize(ctx, "u1", ledger.RangeLast3d, "")
	require.NoError(t, err)
	assert.Equal(t, 1, last3d.TotalMinutes)
	assert.Len(t, last3d.Daily, 3)
}

func testProjectValidation(t *testing.T, f Factory) {
	l := newLedger(t, f, ledger.PolicyExclusive, nil)
	ctx := context.Background()
	m := ledger.MinuteOf(Now)

	long := make([]byte, 101)
	for i := range long {
		long[i] = 'a'
	}
	for _, bad := range []string{"", string(long), "has space", "semi;colon"} {
		_, err := l.AddMinute(ctx, "u1", bad, m)
		require.Error(t, err, bad)
		assert.Equal(t, common.CodeInvalidPayload, common.CodeOf(err), bad)
	}

	for _, good := range []string{"proj-1", "a_b.c", string(long[:100])} {
		_, err := l.AddMinute(ctx, "u1", good, m)
		assert.NoError(t, err, good)
	}
}

func testListProjects(t *testing.T, f Factory) {
	l := newLedger(t, f, ledger.PolicyExclusive, nil)
	ctx := context.Background()
	m := ledger.MinuteOf(Now)

	_, err := l.AddMinute(ctx, "u1", "zeta", m)
	require.NoError(t, err)
	_, err = l.AddMinute(ctx, "u1", "alpha", m) // loses the minute to zeta
	require.NoError(t, err)
	_, err = l.AddMinute(ctx, "u1", "old", m-ledger.MinuteIndex(3*24*60))
	require.NoError(t, err)

	all, err := l.ListProjects(ctx, "u1", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "old", "zeta"}, all)

	today, err := l.ListProjects(ctx, "u1", ledger.RangeToday)
	require.NoError(t, err)
	assert.Equal(t, []string{"zeta"}, today)

	bogus, err := l.ListProjects(ctx, "u1", "bogus")
	require.NoError(t, err)
	assert.Empty(t, bogus)

	none, err := l.ListProjects(ctx, "nobody", "")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testUserIsolation(t *testing.T, f Factory) {
	l := newLedger(t, f, ledger.PolicyExclusive, nil)
	ctx := context.Background()
	m := ledger.MinuteOf(Now)

	c1, err := l.AddMinute(ctx, "u1", "demo", m)
	require.NoError(t, err)
	c2, err := l.AddMinute(ctx, "u2", "other", m)
	require.NoError(t, err)
	assert.True(t, c1)
	assert.True(t, c2, "claims are per user")

	s, err := l.Summarize(ctx, "u2", ledger.RangeToday, "")
	require.NoError(t, err)
	assert.Equal(t, []ledger.ProjectMinutes{{Project: "other", Minutes: 1}}, s.ByProject)
}

func testConcurrentDuplicates(t *testing.T, f Factory) {
	l := newLedger(t, f, ledger.PolicyAllowMulti, nil)
	ctx := context.Background()
	m := ledger.MinuteOf(Now)

	var counted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := l.AddMinute(ctx, "u1", "demo", m)
			assert.NoError(t, err)
			if ok {
				counted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, counted.Load())
	s, err := l.Summarize(ctx, "u1", ledger.RangeToday, "")
	require.NoError(t, err)
	assert.Equal(t, 1, s.TotalMinutes)
}

func testConcurrentExclusive(t *testing.T, f Factory) {
	l := newLedger(t, f, ledger.PolicyExclusive, nil)
	ctx := context.Background()
	m := ledger.MinuteOf(Now)

	projects := []string{"a", "b", "c", "d"}
	var counted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			ok, err := l.AddMinute(ctx, "u1", p, m)
			assert.NoError(t, err)
			if ok {
				counted.Add(1)
			}
		}(projects[i%len(projects)])
	}
	wg.Wait()

	assert.EqualValues(t, 1, counted.Load())
	s, err := l.Summarize(ctx, "u1", ledger.RangeToday, "")
	require.NoError(t, err)
	assert.Equal(t, 1, s.TotalMinutes)
	assert.Len(t, s.ByProject, 1)
}

func testDayBoundary(t *testing.T, f Factory) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	l := newLedger(t, f, ledger.PolicyExclusive, loc)
	ctx := context.Background()

	// 22:30 UTC on the 9th is 01:30 on the 10th in UTC+3.
	m := ledger.MinuteOf(time.Date(2024, 3, 9, 22, 30, 0, 0, time.UTC))
	_, err := l.AddMinute(ctx, "u1", "demo", m)
	require.NoError(t, err)

	got, err := l.DailyRange(ctx, "u1", date(t, "2024-03-09"), date(t, "2024-03-10"), "")
	require.NoError(t, err)
	assert.Equal(t, []ledger.DayMinutes{
		{Date: date(t, "2024-03-09"), Minutes: 0},
		{Date: date(t, "2024-03-10"), Minutes: 1},
	}, got.Series)
	assert.Equal(t, loc, l.Location())
}

func testEmptyCredential(t *testing.T, f Factory) {
	l := newLedger(t, f, ledger.PolicyExclusive, nil)

	_, err := l.ResolveUser(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, common.CodeUnauthorized, common.CodeOf(err))
}
