package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"stockbot/pkg/calendar"
	"stockbot/pkg/indicators"
	"stockbot/pkg/screener"
)

// SweepConfig parameterizes the conservative-candidate sweep: a grid search
// over investor-class subsets and continuous-buy windows, anchored on the
// daily MACD signal crossing.
type SweepConfig struct {
	// Investors is the class pool; every non-empty subset is tried.
	Investors []string
	// MinTradingDays..MaxTradingDays is the continuous-buy window grid.
	MinTradingDays int
	MaxTradingDays int
	// HorizonDays is how far past the pick date the outcome looks for the
	// highest traded price.
	HorizonDays int
	Indicators  indicators.Config
}

// DefaultSweepConfig reproduces the historical sweep: all three investor
// classes, windows of 2 through 9 sessions, a 30-day outcome horizon.
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		Investors:      screener.InvestorClasses,
		MinTradingDays: 2,
		MaxTradingDays: 9,
		HorizonDays:    30,
		Indicators:     indicators.DefaultConfig(),
	}
}

func (c SweepConfig) validate() error {
	if len(c.Investors) == 0 {
		return fmt.Errorf("backtest: sweep needs at least one investor class")
	}
	if c.MinTradingDays <= 0 || c.MaxTradingDays < c.MinTradingDays {
		return fmt.Errorf("backtest: bad sweep window grid %d..%d", c.MinTradingDays, c.MaxTradingDays)
	}
	if c.HorizonDays <= 0 {
		return fmt.Errorf("backtest: sweep horizon must be positive, got %d", c.HorizonDays)
	}
	return c.Indicators.Validate()
}

// SweepRecord is one pick of the sweep with its realized outcome.
type SweepRecord struct {
	Date             time.Time
	InstrumentID     string
	Code             string
	Investors        []string
	ContinuousDays   int
	HighestInHorizon float64
}

// ConservativeSweep evaluates, for every session in [from, to] walked newest
// first, every investor-subset x window combination whose continuous-buy
// predicate holds together with the MACD signal crossing, and records the
// highest price each pick reached within the horizon. Per-date failures are
// logged and skipped.
func ConservativeSweep(ctx context.Context, store screener.MarketData, cal calendar.Calendar,
	universe screener.Universe, from, to time.Time, cfg SweepConfig) ([]SweepRecord, error) {

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	var out []SweepRecord
	sessions := cal.Sessions(from, to)
	for i := len(sessions) - 1; i >= 0; i-- {
		date := sessions[i]
		ref, err := cal.PrevClose(date)
		if err != nil {
			logx.WithContext(ctx).Infof("backtest: sweep %s: %v", date.Format("2006-01-02"), err)
			continue
		}

		macdFilter := screener.MACDSignalFilter{Store: store, Cal: cal, Config: cfg.Indicators}
		macdCol, err := macdFilter.Apply(ctx, universe, ref)
		if err != nil {
			logx.WithContext(ctx).Errorf("backtest: sweep %s macd filter: %v", date.Format("2006-01-02"), err)
			continue
		}

		for days := cfg.MinTradingDays; days <= cfg.MaxTradingDays; days++ {
			for mask := 1; mask < 1<<len(cfg.Investors); mask++ {
				investors := subset(cfg.Investors, mask)
				buyFilter := screener.InvestorContinuousBuyFilter{
					Store: store, Cal: cal, Investors: investors, TradingDays: days,
				}
				buyCol, err := buyFilter.Apply(ctx, universe, ref)
				if err != nil {
					logx.WithContext(ctx).Errorf("backtest: sweep %s buy filter: %v",
						date.Format("2006-01-02"), err)
					continue
				}
				for _, inst := range universe {
					if !macdCol.Pass[inst.ID] || !buyCol.Pass[inst.ID] {
						continue
					}
					highest, err := highestHigh(ctx, store, inst.ID, date, cfg.HorizonDays)
					if err != nil {
						logx.WithContext(ctx).Infof("backtest: sweep outcome %s on %s: %v",
							inst.Code, date.Format("2006-01-02"), err)
						continue
					}
					out = append(out, SweepRecord{
						Date:             date,
						InstrumentID:     inst.ID,
						Code:             inst.Code,
						Investors:        investors,
						ContinuousDays:   days,
						HighestInHorizon: highest,
					})
				}
			}
		}
		logx.WithContext(ctx).Infof("backtest: sweep done for %s", date.Format("2006-01-02"))
	}
	return out, nil
}

func subset(pool []string, mask int) []string {
	var out []string
	for i, v := range pool {
		if mask&(1<<i) != 0 {
			out = append(out, v)
		}
	}
	return out
}

func highestHigh(ctx context.Context, store screener.MarketData, instrumentID string, from time.Time, horizonDays int) (float64, error) {
	rows, err := store.DailySummaries(ctx, instrumentID, from, from.AddDate(0, 0, horizonDays))
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, screener.ErrDataUnavailable
	}
	highest := rows[0].High
	for _, r := range rows[1:] {
		if r.High > highest {
			highest = r.High
		}
	}
	return highest, nil
}
