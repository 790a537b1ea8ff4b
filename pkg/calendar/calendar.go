// Package calendar defines the trading-calendar oracle consumed by the
// screener and backtest packages, together with a frozen in-memory
// implementation fed from a pre-fetched session list.
package calendar

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrNoSession indicates the calendar has no session satisfying the query,
// e.g. asking for the previous close before the first known session.
var ErrNoSession = errors.New("calendar: no such session")

// Calendar answers open/closed questions about exchange trading sessions.
// Implementations must treat dates at day granularity in the exchange zone.
type Calendar interface {
	// IsOpen reports whether the exchange trades on the given date.
	IsOpen(date time.Time) bool
	// PrevClose returns the last trading date strictly before date.
	PrevClose(date time.Time) (time.Time, error)
	// LastSessions returns the n trading dates up to and including end (if
	// end is a session), oldest first.
	LastSessions(end time.Time, n int) ([]time.Time, error)
	// Sessions returns all trading dates within [from, to], oldest first.
	Sessions(from, to time.Time) []time.Time
	// SessionOpen and SessionClose return the session boundary timestamps
	// for a trading date.
	SessionOpen(date time.Time) time.Time
	SessionClose(date time.Time) time.Time
}

// Static is a Calendar backed by an explicit list of open dates. The session
// clock is fixed; TWSE trades 09:00–13:30 local time.
type Static struct {
	loc       *time.Location
	openClock time.Duration
	closClock time.Duration
	days      []time.Time // normalized to midnight in loc, ascending
	index     map[time.Time]int
}

// NewStatic builds a frozen calendar from open dates. Duplicate dates are
// collapsed; input order does not matter.
func NewStatic(loc *time.Location, open, close time.Duration, dates []time.Time) (*Static, error) {
	if loc == nil {
		loc = time.UTC
	}
	if close <= open {
		return nil, fmt.Errorf("calendar: close %s not after open %s", close, open)
	}
	index := make(map[time.Time]int, len(dates))
	days := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		day := Normalize(d, loc)
		if _, ok := index[day]; ok {
			continue
		}
		index[day] = 0
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	for i, d := range days {
		index[d] = i
	}
	return &Static{loc: loc, openClock: open, closClock: close, days: days, index: index}, nil
}

// Normalize truncates a timestamp to midnight of its calendar day in loc.
func Normalize(ts time.Time, loc *time.Location) time.Time {
	t := ts.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func (c *Static) IsOpen(date time.Time) bool {
	_, ok := c.index[Normalize(date, c.loc)]
	return ok
}

func (c *Static) PrevClose(date time.Time) (time.Time, error) {
	day := Normalize(date, c.loc)
	i := sort.Search(len(c.days), func(i int) bool { return !c.days[i].Before(day) })
	if i == 0 {
		return time.Time{}, fmt.Errorf("%w: before %s", ErrNoSession, day.Format("2006-01-02"))
	}
	return c.days[i-1], nil
}

func (c *Static) LastSessions(end time.Time, n int) ([]time.Time, error) {
	if n <= 0 {
		return nil, fmt.Errorf("calendar: n must be positive, got %d", n)
	}
	day := Normalize(end, c.loc)
	i := sort.Search(len(c.days), func(i int) bool { return c.days[i].After(day) })
	if i < n {
		return nil, fmt.Errorf("%w: want %d sessions up to %s, have %d",
			ErrNoSession, n, day.Format("2006-01-02"), i)
	}
	out := make([]time.Time, n)
	copy(out, c.days[i-n:i])
	return out, nil
}

func (c *Static) Sessions(from, to time.Time) []time.Time {
	lo := Normalize(from, c.loc)
	hi := Normalize(to, c.loc)
	i := sort.Search(len(c.days), func(i int) bool { return !c.days[i].Before(lo) })
	j := sort.Search(len(c.days), func(i int) bool { return c.days[i].After(hi) })
	if i >= j {
		return nil
	}
	out := make([]time.Time, j-i)
	copy(out, c.days[i:j])
	return out
}

func (c *Static) SessionOpen(date time.Time) time.Time {
	return Normalize(date, c.loc).Add(c.openClock)
}

func (c *Static) SessionClose(date time.Time) time.Time {
	return Normalize(date, c.loc).Add(c.closClock)
}
