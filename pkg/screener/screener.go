// Package screener narrows an exchange universe down to candidate
// instruments by ANDing named metric filters against a reference date.
//
// Filters are pure with respect to the universe: they never reorder or
// mutate it, so metric columns align by instrument identity and the
// candidate set preserves universe order.
package screener

import (
	"context"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"stockbot/pkg/calendar"
)

// Instrument is one row of the exchange universe.
type Instrument struct {
	ID   string // stable identity, the join key for every metric column
	Code string // exchange ticker code
	Name string // display name
}

// Universe is the frozen instrument set a pipeline pass runs against.
type Universe []Instrument

// Column is the result of one filter pass: a predicate and a metric value
// per instrument, keyed by instrument ID. An instrument absent from the
// maps had no usable data and never matches.
type Column struct {
	Name  string
	Pass  map[string]bool
	Value map[string]float64
}

// Filter computes one named metric column for a universe at a reference
// date. Implementations must leave the universe untouched and must isolate
// per-instrument data gaps (omit the instrument) instead of failing the
// whole pass.
type Filter interface {
	Name() string
	Apply(ctx context.Context, universe Universe, ref time.Time) (Column, error)
}

// Candidate is a universe row that passed every filter, annotated with all
// contributing metric values keyed by filter name.
type Candidate struct {
	Instrument
	Metrics map[string]float64
}

// Pipeline ANDs an ordered set of filters over a universe.
type Pipeline struct {
	cal     calendar.Calendar
	filters []Filter
}

// NewPipeline validates the filter set up front: at least one filter, and
// no duplicate column names.
func NewPipeline(cal calendar.Calendar, filters ...Filter) (*Pipeline, error) {
	if cal == nil {
		return nil, fmt.Errorf("screener: calendar is required")
	}
	if len(filters) == 0 {
		return nil, fmt.Errorf("screener: at least one filter is required")
	}
	seen := make(map[string]bool, len(filters))
	for _, f := range filters {
		if f == nil {
			return nil, fmt.Errorf("screener: nil filter")
		}
		if seen[f.Name()] {
			return nil, fmt.Errorf("screener: duplicate filter name %q", f.Name())
		}
		seen[f.Name()] = true
	}
	return &Pipeline{cal: cal, filters: filters}, nil
}

// Apply runs every filter and intersects their predicates. A reference date
// on which the exchange is closed short-circuits to an empty candidate set.
// Row order of the result matches universe order restricted to matches.
func (p *Pipeline) Apply(ctx context.Context, universe Universe, ref time.Time) ([]Candidate, error) {
	if !p.cal.IsOpen(ref) {
		logx.WithContext(ctx).Infof("screener: %s is not a trading date, empty candidate set",
			ref.Format("2006-01-02"))
		return nil, nil
	}

	columns := make([]Column, 0, len(p.filters))
	for _, f := range p.filters {
		col, err := f.Apply(ctx, universe, ref)
		if err != nil {
			return nil, fmt.Errorf("screener: filter %s: %w", f.Name(), err)
		}
		columns = append(columns, col)
	}

	var out []Candidate
	for _, inst := range universe {
		matched := true
		for _, col := range columns {
			if !col.Pass[inst.ID] {
				matched = false
				break
			}
		}
		if !matched {
			continue
		}
		metrics := make(map[string]float64, len(columns))
		for _, col := range columns {
			if v, ok := col.Value[inst.ID]; ok {
				metrics[col.Name] = v
			}
		}
		out = append(out, Candidate{Instrument: inst, Metrics: metrics})
	}
	return out, nil
}
