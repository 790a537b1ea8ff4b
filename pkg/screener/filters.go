package screener

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"stockbot/pkg/calendar"
	"stockbot/pkg/indicators"
	"stockbot/pkg/kbar"
)

// skippable reports whether a per-instrument error should exclude just that
// instrument rather than abort the filter pass.
func skippable(err error) bool {
	return errors.Is(err, ErrDataUnavailable) ||
		errors.Is(err, indicators.ErrInsufficientLookback) ||
		errors.Is(err, calendar.ErrNoSession) ||
		errors.Is(err, kbar.ErrEmptyInput)
}

// evalColumn runs eval per instrument, recording skips and collecting the
// column. Non-skippable errors abort the pass.
func evalColumn(ctx context.Context, name string, universe Universe,
	eval func(inst Instrument) (float64, bool, error)) (Column, error) {

	col := Column{
		Name:  name,
		Pass:  make(map[string]bool, len(universe)),
		Value: make(map[string]float64, len(universe)),
	}
	for _, inst := range universe {
		value, pass, err := eval(inst)
		if err != nil {
			if skippable(err) {
				logx.WithContext(ctx).Infof("screener: %s excluded from %s: %v", inst.Code, name, err)
				continue
			}
			return Column{}, err
		}
		col.Pass[inst.ID] = pass
		col.Value[inst.ID] = value
	}
	return col, nil
}

// PriceFilter passes instruments whose closing price on the reference date
// lies within [Min, Max].
type PriceFilter struct {
	Store MarketData
	Min   float64
	Max   float64
}

func (f PriceFilter) Name() string { return "closing_price" }

func (f PriceFilter) Apply(ctx context.Context, universe Universe, ref time.Time) (Column, error) {
	if f.Max < f.Min {
		return Column{}, fmt.Errorf("screener: price filter max %.2f below min %.2f", f.Max, f.Min)
	}
	return evalColumn(ctx, f.Name(), universe, func(inst Instrument) (float64, bool, error) {
		s, err := summaryOn(ctx, f.Store, inst.ID, ref)
		if err != nil {
			return 0, false, err
		}
		return s.Close, s.Close >= f.Min && s.Close <= f.Max, nil
	})
}

// TradeVolumeFilter passes instruments whose traded share volume on the
// reference date meets the threshold.
type TradeVolumeFilter struct {
	Store     MarketData
	MinVolume int64
}

func (f TradeVolumeFilter) Name() string { return "trade_volume" }

func (f TradeVolumeFilter) Apply(ctx context.Context, universe Universe, ref time.Time) (Column, error) {
	return evalColumn(ctx, f.Name(), universe, func(inst Instrument) (float64, bool, error) {
		s, err := summaryOn(ctx, f.Store, inst.ID, ref)
		if err != nil {
			return 0, false, err
		}
		return float64(s.Volume), s.Volume >= f.MinVolume, nil
	})
}

// PriceChangeRateFilter passes instruments whose closing price rose by more
// than MinRate against the session TradingDays sessions earlier. The base
// session is resolved by walking the calendar's session list backwards from
// the reference date.
type PriceChangeRateFilter struct {
	Store       MarketData
	Cal         calendar.Calendar
	MinRate     float64
	TradingDays int
}

func (f PriceChangeRateFilter) Name() string { return "price_change_rate" }

func (f PriceChangeRateFilter) Apply(ctx context.Context, universe Universe, ref time.Time) (Column, error) {
	if f.TradingDays <= 0 {
		return Column{}, fmt.Errorf("screener: price change rate needs positive trading days, got %d", f.TradingDays)
	}
	sessions, err := f.Cal.LastSessions(ref, f.TradingDays+1)
	if err != nil {
		return Column{}, err
	}
	base := sessions[0]
	return evalColumn(ctx, f.Name(), universe, func(inst Instrument) (float64, bool, error) {
		cur, err := summaryOn(ctx, f.Store, inst.ID, ref)
		if err != nil {
			return 0, false, err
		}
		prev, err := summaryOn(ctx, f.Store, inst.ID, base)
		if err != nil {
			return 0, false, err
		}
		if prev.Close == 0 {
			return 0, false, fmt.Errorf("%w: zero base close on %s", ErrDataUnavailable, base.Format("2006-01-02"))
		}
		rate := (cur.Close - prev.Close) / prev.Close
		return rate, rate > f.MinRate, nil
	})
}

// VolumeChangeRateFilter is the volume analogue of PriceChangeRateFilter.
type VolumeChangeRateFilter struct {
	Store       MarketData
	Cal         calendar.Calendar
	MinRate     float64
	TradingDays int
}

func (f VolumeChangeRateFilter) Name() string { return "volume_change_rate" }

func (f VolumeChangeRateFilter) Apply(ctx context.Context, universe Universe, ref time.Time) (Column, error) {
	if f.TradingDays <= 0 {
		return Column{}, fmt.Errorf("screener: volume change rate needs positive trading days, got %d", f.TradingDays)
	}
	sessions, err := f.Cal.LastSessions(ref, f.TradingDays+1)
	if err != nil {
		return Column{}, err
	}
	base := sessions[0]
	return evalColumn(ctx, f.Name(), universe, func(inst Instrument) (float64, bool, error) {
		cur, err := summaryOn(ctx, f.Store, inst.ID, ref)
		if err != nil {
			return 0, false, err
		}
		prev, err := summaryOn(ctx, f.Store, inst.ID, base)
		if err != nil {
			return 0, false, err
		}
		if prev.Volume == 0 {
			return 0, false, fmt.Errorf("%w: zero base volume on %s", ErrDataUnavailable, base.Format("2006-01-02"))
		}
		rate := (float64(cur.Volume) - float64(prev.Volume)) / float64(prev.Volume)
		return rate, rate > f.MinRate, nil
	})
}

// amplitude computes (maxHigh - minLow) / (maxHigh + minLow) over summaries.
func amplitude(rows []DailySummary) (float64, error) {
	if len(rows) == 0 {
		return 0, ErrDataUnavailable
	}
	maxHigh, minLow := rows[0].High, rows[0].Low
	for _, r := range rows[1:] {
		if r.High > maxHigh {
			maxHigh = r.High
		}
		if r.Low < minLow {
			minLow = r.Low
		}
	}
	if maxHigh+minLow == 0 {
		return 0, fmt.Errorf("%w: degenerate price range", ErrDataUnavailable)
	}
	return (maxHigh - minLow) / (maxHigh + minLow), nil
}

// AmplitudeFilter passes instruments whose normalized price swing over
// [From, To] meets the threshold.
type AmplitudeFilter struct {
	Store        MarketData
	From         time.Time
	To           time.Time
	MinAmplitude float64
}

func (f AmplitudeFilter) Name() string { return "amplitude" }

func (f AmplitudeFilter) Apply(ctx context.Context, universe Universe, _ time.Time) (Column, error) {
	if f.To.Before(f.From) {
		return Column{}, fmt.Errorf("screener: amplitude range %s..%s is inverted",
			f.From.Format("2006-01-02"), f.To.Format("2006-01-02"))
	}
	return evalColumn(ctx, f.Name(), universe, func(inst Instrument) (float64, bool, error) {
		rows, err := f.Store.DailySummaries(ctx, inst.ID, f.From, f.To)
		if err != nil {
			return 0, false, err
		}
		amp, err := amplitude(rows)
		if err != nil {
			return 0, false, err
		}
		return amp, amp >= f.MinAmplitude, nil
	})
}

// YearlyAmplitudeFilter requires the amplitude threshold to hold for every
// one of the Years consecutive calendar years ending with the reference
// date's year. The reported metric is the mean amplitude across years.
type YearlyAmplitudeFilter struct {
	Store        MarketData
	Years        int
	MinAmplitude float64
}

func (f YearlyAmplitudeFilter) Name() string { return "yearly_amplitude" }

func (f YearlyAmplitudeFilter) Apply(ctx context.Context, universe Universe, ref time.Time) (Column, error) {
	if f.Years <= 0 {
		return Column{}, fmt.Errorf("screener: yearly amplitude needs positive years, got %d", f.Years)
	}
	return evalColumn(ctx, f.Name(), universe, func(inst Instrument) (float64, bool, error) {
		total := 0.0
		pass := true
		for i := f.Years - 1; i >= 0; i-- {
			year := ref.Year() - i
			from := time.Date(year, 1, 1, 0, 0, 0, 0, ref.Location())
			to := time.Date(year, 12, 31, 0, 0, 0, 0, ref.Location())
			rows, err := f.Store.DailySummaries(ctx, inst.ID, from, to)
			if err != nil {
				return 0, false, err
			}
			amp, err := amplitude(rows)
			if err != nil {
				return 0, false, err
			}
			total += amp
			if amp < f.MinAmplitude {
				pass = false
			}
		}
		return total / float64(f.Years), pass, nil
	})
}

// InvestorContinuousBuyFilter passes instruments whose selected investor
// classes were net buyers in every one of the last TradingDays sessions.
// The metric is the grand total net volume across those sessions.
type InvestorContinuousBuyFilter struct {
	Store       MarketData
	Cal         calendar.Calendar
	Investors   []string
	TradingDays int
}

func (f InvestorContinuousBuyFilter) Name() string { return "investor_net_buy" }

func (f InvestorContinuousBuyFilter) Apply(ctx context.Context, universe Universe, ref time.Time) (Column, error) {
	if f.TradingDays <= 0 {
		return Column{}, fmt.Errorf("screener: continuous buy needs positive trading days, got %d", f.TradingDays)
	}
	if len(f.Investors) == 0 {
		return Column{}, fmt.Errorf("screener: continuous buy needs at least one investor class")
	}
	dates, err := f.Cal.LastSessions(ref, f.TradingDays)
	if err != nil {
		return Column{}, err
	}
	return evalColumn(ctx, f.Name(), universe, func(inst Instrument) (float64, bool, error) {
		nets, err := f.Store.InvestorNetVolumes(ctx, inst.ID, dates, f.Investors)
		if err != nil {
			return 0, false, err
		}
		if len(nets) != len(dates) {
			return 0, false, fmt.Errorf("%w: %d of %d sessions reported", ErrDataUnavailable, len(nets), len(dates))
		}
		var total int64
		pass := true
		for _, net := range nets {
			if net <= 0 {
				pass = false
			}
			total += net
		}
		return float64(total), pass, nil
	})
}

// dailySnapshots loads enough daily history before ref to warm up the
// indicator config and returns the defined snapshots.
func dailySnapshots(ctx context.Context, store MarketData, cal calendar.Calendar,
	inst Instrument, ref time.Time, lookback int, cfg indicators.Config) ([]indicators.Snapshot, error) {

	sessions, err := cal.LastSessions(ref, lookback)
	if err != nil {
		return nil, err
	}
	rows, err := store.DailySummaries(ctx, inst.ID, sessions[0], ref)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrDataUnavailable
	}
	bars := make([]kbar.Bar, len(rows))
	for i, r := range rows {
		bars[i] = r.Bar()
	}
	return indicators.Fill(bars, cfg)
}

// RSIFilter passes instruments whose latest daily RSI lies within [Min, Max].
type RSIFilter struct {
	Store    MarketData
	Cal      calendar.Calendar
	Min      float64
	Max      float64
	Lookback int // sessions of history loaded before ref for warm-up
	Config   indicators.Config
}

func (f RSIFilter) Name() string { return "rsi" }

func (f RSIFilter) Apply(ctx context.Context, universe Universe, ref time.Time) (Column, error) {
	if err := f.Config.Validate(); err != nil {
		return Column{}, err
	}
	lookback := f.Lookback
	if lookback <= 0 {
		lookback = defaultIndicatorLookback(f.Config)
	}
	return evalColumn(ctx, f.Name(), universe, func(inst Instrument) (float64, bool, error) {
		snaps, err := dailySnapshots(ctx, f.Store, f.Cal, inst, ref, lookback, f.Config)
		if err != nil {
			return 0, false, err
		}
		rsi := snaps[len(snaps)-1].RSI
		return rsi, rsi >= f.Min && rsi <= f.Max, nil
	})
}

// MACDSignalFilter passes instruments whose daily MACD histogram crossed
// from non-positive to positive between the two latest snapshots. The
// metric is the latest histogram value.
type MACDSignalFilter struct {
	Store    MarketData
	Cal      calendar.Calendar
	Lookback int
	Config   indicators.Config
}

func (f MACDSignalFilter) Name() string { return "macd_signal" }

func (f MACDSignalFilter) Apply(ctx context.Context, universe Universe, ref time.Time) (Column, error) {
	if err := f.Config.Validate(); err != nil {
		return Column{}, err
	}
	lookback := f.Lookback
	if lookback <= 0 {
		lookback = defaultIndicatorLookback(f.Config)
	}
	return evalColumn(ctx, f.Name(), universe, func(inst Instrument) (float64, bool, error) {
		snaps, err := dailySnapshots(ctx, f.Store, f.Cal, inst, ref, lookback, f.Config)
		if err != nil {
			return 0, false, err
		}
		if len(snaps) < 2 {
			return 0, false, fmt.Errorf("%w: need two defined snapshots", indicators.ErrInsufficientLookback)
		}
		prev := snaps[len(snaps)-2].MACDHist
		curr := snaps[len(snaps)-1].MACDHist
		return curr, prev <= 0 && curr > 0, nil
	})
}

// defaultIndicatorLookback sizes the history window so the slowest
// indicator has room to warm up with margin for data gaps.
func defaultIndicatorLookback(cfg indicators.Config) int {
	warmup := cfg.MACDSlow + cfg.MACDSignal
	if cfg.RSIPeriod+1 > warmup {
		warmup = cfg.RSIPeriod + 1
	}
	return warmup * 2
}
