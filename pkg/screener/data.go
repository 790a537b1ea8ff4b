package screener

import (
	"context"
	"errors"
	"time"

	"stockbot/pkg/kbar"
)

// ErrDataUnavailable indicates a store has no rows for the requested
// instrument/date key. Filters recover from it by excluding the instrument
// from the current column; it never aborts a pipeline pass.
var ErrDataUnavailable = errors.New("screener: data unavailable")

// Investor classes tracked by the exchange's institutional-flow report.
const (
	InvestorForeign = "foreign_dealer"
	InvestorTrust   = "investment_trust"
	InvestorDealer  = "local_dealer_proprietary"
)

// InvestorClasses lists every known class in report order.
var InvestorClasses = []string{InvestorForeign, InvestorTrust, InvestorDealer}

// DailySummary is one instrument's end-of-day aggregate.
type DailySummary struct {
	Date         time.Time
	Open         float64
	High         float64
	Low          float64
	Close        float64
	Volume       int64 // traded shares
	Value        int64 // traded value in quote currency
	Transactions int64
}

// Bar converts the summary to a daily OHLCV bar anchored at the date.
func (s DailySummary) Bar() kbar.Bar {
	return kbar.Bar{
		Start:  s.Date,
		Open:   s.Open,
		High:   s.High,
		Low:    s.Low,
		Close:  s.Close,
		Volume: s.Volume,
	}
}

// MarketData is the read-only store filters query. Implementations return
// ErrDataUnavailable (possibly wrapped) when a key has no rows.
type MarketData interface {
	// DailySummaries returns summaries for trading dates within [from, to],
	// ordered by date ascending.
	DailySummaries(ctx context.Context, instrumentID string, from, to time.Time) ([]DailySummary, error)
	// InvestorNetVolumes returns, for each requested date in order, the net
	// bought volume (buy minus sell) summed across the given investor
	// classes for that session.
	InvestorNetVolumes(ctx context.Context, instrumentID string, dates []time.Time, classes []string) ([]int64, error)
}

// summaryOn fetches the single summary for one trading date.
func summaryOn(ctx context.Context, store MarketData, instrumentID string, date time.Time) (DailySummary, error) {
	rows, err := store.DailySummaries(ctx, instrumentID, date, date)
	if err != nil {
		return DailySummary{}, err
	}
	if len(rows) == 0 {
		return DailySummary{}, ErrDataUnavailable
	}
	return rows[0], nil
}
