// Package kbar aggregates ordered tick streams into fixed-interval OHLCV
// bars and resamples pre-aggregated daily bars into coarser intervals.
package kbar

import (
	"errors"
	"time"
)

// ErrEmptyInput indicates aggregation was requested over zero input rows,
// which usually means a misconfigured time range upstream.
var ErrEmptyInput = errors.New("kbar: empty input")

// Tick is a single trade print with the best quote at that moment.
// Ticks are ordered by TS; duplicates at the same timestamp are allowed.
type Tick struct {
	TS        time.Time
	Price     float64
	Volume    int64
	BidPrice  float64
	BidVolume int64
	AskPrice  float64
	AskVolume int64
}

// Bar is one OHLCV aggregate over the half-open interval [Start, Start+interval).
type Bar struct {
	Start  time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// Aggregate buckets ticks into half-open intervals anchored at origin.
// Buckets with no ticks are omitted. Ticks must arrive in non-decreasing
// timestamp order; within a bucket first/last are taken in input order.
func Aggregate(ticks []Tick, origin time.Time, interval time.Duration) ([]Bar, error) {
	if interval <= 0 {
		return nil, errors.New("kbar: interval must be positive")
	}
	if len(ticks) == 0 {
		return nil, ErrEmptyInput
	}

	bars := make([]Bar, 0, len(ticks)/4+1)
	var cur *Bar
	var curIdx int64
	haveCur := false

	for _, tk := range ticks {
		idx := bucketIndex(tk.TS, origin, interval)
		if !haveCur || idx != curIdx {
			if haveCur {
				bars = append(bars, *cur)
			}
			start := origin.Add(time.Duration(idx) * interval)
			cur = &Bar{
				Start:  start,
				Open:   tk.Price,
				High:   tk.Price,
				Low:    tk.Price,
				Close:  tk.Price,
				Volume: tk.Volume,
			}
			curIdx = idx
			haveCur = true
			continue
		}
		if tk.Price > cur.High {
			cur.High = tk.Price
		}
		if tk.Price < cur.Low {
			cur.Low = tk.Price
		}
		cur.Close = tk.Price
		cur.Volume += tk.Volume
	}
	bars = append(bars, *cur)
	return bars, nil
}

// Resample folds pre-aggregated bars (typically daily summaries) into a
// coarser interval using the same first/last/max/min/sum rules. It exists so
// multi-day bars are derived from daily records instead of raw ticks.
func Resample(daily []Bar, origin time.Time, interval time.Duration) ([]Bar, error) {
	if interval <= 0 {
		return nil, errors.New("kbar: interval must be positive")
	}
	if len(daily) == 0 {
		return nil, ErrEmptyInput
	}

	bars := make([]Bar, 0, len(daily))
	var cur *Bar
	var curIdx int64
	haveCur := false

	for _, d := range daily {
		idx := bucketIndex(d.Start, origin, interval)
		if !haveCur || idx != curIdx {
			if haveCur {
				bars = append(bars, *cur)
			}
			merged := d
			merged.Start = origin.Add(time.Duration(idx) * interval)
			cur = &merged
			curIdx = idx
			haveCur = true
			continue
		}
		if d.High > cur.High {
			cur.High = d.High
		}
		if d.Low < cur.Low {
			cur.Low = d.Low
		}
		cur.Close = d.Close
		cur.Volume += d.Volume
	}
	bars = append(bars, *cur)
	return bars, nil
}

// bucketIndex floors toward negative infinity so ticks before origin still
// land in well-defined buckets.
func bucketIndex(ts, origin time.Time, interval time.Duration) int64 {
	d := ts.Sub(origin)
	idx := int64(d / interval)
	if d < 0 && d%interval != 0 {
		idx--
	}
	return idx
}

// Closes extracts the close-price series from a bar slice.
func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}
