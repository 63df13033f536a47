package ledger

import (
	"encoding/json"
	"fmt"
	"time"
)

// MinuteIndex is floor(epoch milliseconds / 60000), the dedup granularity.
type MinuteIndex int64

const msPerMinute = int64(time.Minute / time.Millisecond)

// MinuteOf returns the minute index containing t.
func MinuteOf(t time.Time) MinuteIndex {
	return MinuteFromMillis(t.UnixMilli())
}

// MinuteFromMillis floors ms/60000, rounding toward negative infinity.
func MinuteFromMillis(ms int64) MinuteIndex {
	m := ms / msPerMinute
	if ms%msPerMinute < 0 {
		m--
	}
	return MinuteIndex(m)
}

// Time is the instant the minute starts.
func (m MinuteIndex) Time() time.Time {
	return time.UnixMilli(int64(m) * msPerMinute)
}

// Date is the calendar day the minute falls on in loc.
func (m MinuteIndex) Date(loc *time.Location) Date {
	return DateOf(m.Time().In(loc))
}

// Date is a calendar date without a zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

const dateLayout = "2006-01-02"

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses a strict YYYY-MM-DD date.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return DateOf(t), nil
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// Midnight is the first instant of d in loc.
func (d Date) Midnight(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// AddDays moves d by n calendar days.
func (d Date) AddDays(n int) Date {
	return DateOf(time.Date(d.Year, d.Month, d.Day+n, 0, 0, 0, 0, time.UTC))
}

// Compare returns -1, 0 or +1.
func (d Date) Compare(o Date) int {
	switch {
	case d.Year != o.Year:
		return cmpInt(d.Year, o.Year)
	case d.Month != o.Month:
		return cmpInt(int(d.Month), int(o.Month))
	}
	return cmpInt(d.Day, o.Day)
}

func (d Date) Before(o Date) bool { return d.Compare(o) < 0 }
func (d Date) After(o Date) bool  { return d.Compare(o) > 0 }

// Time is d at UTC midnight, the form stored in DATE columns.
func (d Date) Time() time.Time {
	return d.Midnight(time.UTC)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
