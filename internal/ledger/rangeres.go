package ledger

import (
	"time"

	"github.com/dmitrijs2005/codetime/internal/common"
)

// Symbolic range names accepted by Resolve.
const (
	RangeToday     = "today"
	RangeYesterday = "yesterday"
	RangeLast3d    = "last3d"
	RangeLast7d    = "last7d"
)

// Interval is a half-open [Start, End) span of instants.
type Interval struct {
	Start time.Time
	End   time.Time
}

type rangeOffsets struct {
	start, end int
}

var symbolicRanges = map[string]rangeOffsets{
	RangeToday:     {start: 0, end: 1},
	RangeYesterday: {start: -1, end: 0},
	RangeLast3d:    {start: -2, end: 1},
	RangeLast7d:    {start: -6, end: 1},
}

// Resolve maps a symbolic range to an interval anchored at midnight of
// now's date in loc. The second result is false for unknown names.
func Resolve(name string, now time.Time, loc *time.Location) (Interval, bool) {
	off, ok := symbolicRanges[name]
	if !ok {
		return Interval{}, false
	}
	today := DateOf(now.In(loc))
	return Interval{
		Start: today.AddDays(off.start).Midnight(loc),
		End:   today.AddDays(off.end).Midnight(loc),
	}, true
}

// IsRange reports whether name is a known symbolic range.
func IsRange(name string) bool {
	_, ok := symbolicRanges[name]
	return ok
}

// Dates lists, ascending, every calendar date in loc whose midnight lies
// in the interval.
func (iv Interval) Dates(loc *time.Location) []Date {
	if !iv.Start.Before(iv.End) {
		return nil
	}
	first := DateOf(iv.Start.In(loc))
	if first.Midnight(loc).Before(iv.Start) {
		first = first.AddDays(1)
	}
	var out []Date
	for d := first; d.Midnight(loc).Before(iv.End); d = d.AddDays(1) {
		out = append(out, d)
	}
	return out
}

// Days is the width of the interval in calendar days of loc.
func (iv Interval) Days(loc *time.Location) int {
	return len(iv.Dates(loc))
}

// MaxSpanDays caps explicit from..to ranges, inclusive.
const MaxSpanDays = 366

// ErrSpanTooLong is returned by DailyRange for ranges wider than MaxSpanDays.
var ErrSpanTooLong = common.NewError(common.CodeValidation, "range too long")

// ValidateSpan rejects from..to ranges wider than MaxSpanDays. A reversed
// range is valid and empty.
func ValidateSpan(from, to Date) error {
	if !to.Before(from) && from.AddDays(MaxSpanDays-1).Before(to) {
		return ErrSpanTooLong
	}
	return nil
}

// ExpandDates returns every date from from to to inclusive, ascending.
// It is empty when to is before from.
func ExpandDates(from, to Date) []Date {
	if to.Before(from) {
		return nil
	}
	var out []Date
	for d := from; !d.After(to); d = d.AddDays(1) {
		out = append(out, d)
	}
	return out
}
