// Package crawler defines the raw market-summary fetcher contract and an
// exchange-code registry resolving fetcher implementations from
// configuration. Fetchers fill the market store when it has no cached rows
// for a requested date; storing their output must be idempotent upstream.
package crawler

import (
	"context"
	"time"
)

// DailyRow is one instrument's end-of-day report as published by the
// exchange. Prices are zero when the exchange reports no trade.
type DailyRow struct {
	Code          string
	Name          string
	Volume        int64
	Transactions  int64
	Value         int64
	Open          float64
	High          float64
	Low           float64
	Close         float64
	BestBidPrice  float64
	BestBidVolume int64
	BestAskPrice  float64
	BestAskVolume int64
}

// Fetcher retrieves raw exchange reports over the wire.
type Fetcher interface {
	// DailySummaries fetches the full market report for one trading date.
	DailySummaries(ctx context.Context, date time.Time) ([]DailyRow, error)
	// InstrumentName resolves an instrument code to its display name.
	InstrumentName(ctx context.Context, code string) (string, error)
}
