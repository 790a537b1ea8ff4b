package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"stockbot/internal/cli"
	"stockbot/internal/config"
	"stockbot/internal/svc"
	"stockbot/pkg/backtest"
	"stockbot/pkg/calendar"
	"stockbot/pkg/journal"
	"stockbot/pkg/screener"
	signalpkg "stockbot/pkg/signal"
)

var (
	configFile   = flag.String("f", "etc/stockbot.yaml", "config file")
	fromFlag     = flag.String("from", "", "first simulated session YYYY-MM-DD")
	toFlag       = flag.String("to", "", "last simulated session YYYY-MM-DD (default -from)")
	exchangeFlag = flag.String("exchange", "", "exchange code (default from exchange config)")
	lookbackFlag = flag.Int("lookback", 120, "calendar days of history before -from backing the calendar")
	sweepFlag    = flag.Bool("sweep", false, "run the conservative candidate sweep instead of the day-trade replay")
	journalFlag  = flag.String("journal", "", "directory for run journal files (empty disables)")
)

func main() {
	flag.Parse()
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg := config.MustLoad(*configFile)
	cli.LogConfigSummary(cfg)

	svcCtx := svc.NewServiceContext(*cfg)
	if svcCtx.Store == nil {
		log.Fatal("[daytrade] postgres dsn is required")
	}

	exchange := *exchangeFlag
	if exchange == "" {
		exchange = svcCtx.DefaultExchange
	}
	if exchange == "" {
		log.Fatal("[daytrade] no exchange selected and no default configured")
	}

	loc := cfg.Location()
	from, to, err := dateRange(*fromFlag, *toFlag, loc)
	if err != nil {
		log.Fatalf("[daytrade] bad date range: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	days, err := svcCtx.Store.TradingDays(ctx, exchange, from.AddDate(0, 0, -*lookbackFlag), to)
	if err != nil {
		log.Fatalf("[daytrade] load trading days: %v", err)
	}
	cal, err := calendar.NewStatic(loc, cfg.SessionOpen(), cfg.SessionClose(), days)
	if err != nil {
		log.Fatalf("[daytrade] build calendar: %v", err)
	}

	universe, err := svcCtx.Store.Universe(ctx, exchange)
	if err != nil {
		log.Fatalf("[daytrade] load universe: %v", err)
	}
	log.Printf("[daytrade] %s universe holds %d instruments", exchange, len(universe))

	if *sweepFlag {
		runSweep(ctx, cfg, svcCtx, cal, universe, from, to)
		return
	}

	pipeline, err := screener.NewPipeline(cal,
		screener.PriceFilter{
			Store: svcCtx.Store,
			Min:   cfg.Screener.PriceMin,
			Max:   cfg.Screener.PriceMax,
		},
		screener.TradeVolumeFilter{
			Store:     svcCtx.Store,
			MinVolume: int64(cfg.Screener.MinTradeVolume),
		},
		screener.PriceChangeRateFilter{
			Store:       svcCtx.Store,
			Cal:         cal,
			MinRate:     cfg.Screener.MinChangeRate,
			TradingDays: cfg.Screener.ChangeRateDays,
		},
	)
	if err != nil {
		log.Fatalf("[daytrade] build pipeline: %v", err)
	}

	mem := backtest.NewMemoryRecorder()
	engine := &backtest.Engine{
		Candidates: &pipelineSource{pipeline: pipeline, universe: universe, cal: cal},
		Ticks:      svcCtx.Store,
		Cal:        cal,
		Recorder:   backtest.LogRecorder{Next: multiRecorder{mem, svcCtx.Store}},

		Strategy:   cfg.StrategyParams(),
		Indicators: cfg.IndicatorConfig(),

		BarInterval:    cfg.BarInterval(),
		WarmupSessions: cfg.Backtest.WarmupSessions,
		Parallelism:    cfg.Backtest.Parallelism,
	}

	result, err := engine.Run(ctx, from, to)
	if err != nil {
		log.Fatalf("[daytrade] run: %v", err)
	}

	log.Printf("[daytrade] run %s: %d session(s), %d trade(s)",
		result.RunID, len(result.Sessions), result.Trades)
	for _, session := range result.Sessions {
		log.Printf("[daytrade] %s: candidates=%d trades=%d skips=%d",
			session.Date.Format("2006-01-02"), session.Candidates, session.Trades, len(session.Skips))
		for _, skip := range session.Skips {
			log.Printf("  - skipped %s: %s", skip.Code, skip.Reason)
		}
	}

	if *journalFlag != "" {
		path, err := journal.NewWriter(*journalFlag).WriteRun(runRecord(result, mem, from, to))
		if err != nil {
			log.Printf("[daytrade] Warning: write journal: %v", err)
		} else {
			log.Printf("[daytrade] journal written to %s", path)
		}
	}
}

// runRecord flattens an engine result and its trade stream into journal form.
func runRecord(result *backtest.Result, mem *backtest.MemoryRecorder, from, to time.Time) *journal.RunRecord {
	rec := &journal.RunRecord{
		RunID:   result.RunID.String(),
		From:    from.Format("2006-01-02"),
		To:      to.Format("2006-01-02"),
		Success: true,
	}
	for _, session := range result.Sessions {
		s := journal.SessionRecord{
			Date:       session.Date.Format("2006-01-02"),
			Candidates: session.Candidates,
			Trades:     session.Trades,
		}
		for _, skip := range session.Skips {
			s.Skips = append(s.Skips, fmt.Sprintf("%s: %s", skip.Code, skip.Reason))
		}
		rec.Sessions = append(rec.Sessions, s)
	}
	for _, trade := range mem.Trades() {
		rec.Trades = append(rec.Trades, journal.TradeRecord{
			InstrumentID: trade.InstrumentID,
			Timestamp:    trade.TS,
			Side:         trade.Side(),
			Price:        trade.Price,
			Volume:       trade.Volume,
		})
	}
	return rec
}

// multiRecorder fans one trade out to every recorder in order.
type multiRecorder []backtest.Recorder

func (m multiRecorder) Record(ctx context.Context, trade signalpkg.Trade) error {
	for _, r := range m {
		if err := r.Record(ctx, trade); err != nil {
			return err
		}
	}
	return nil
}

func runSweep(ctx context.Context, cfg *config.Config, svcCtx *svc.ServiceContext,
	cal calendar.Calendar, universe screener.Universe, from, to time.Time) {

	sweepCfg := backtest.DefaultSweepConfig()
	sweepCfg.Indicators = cfg.IndicatorConfig()

	records, err := backtest.ConservativeSweep(ctx, svcCtx.Store, cal, universe, from, to, sweepCfg)
	if err != nil {
		log.Fatalf("[daytrade] sweep: %v", err)
	}

	log.Printf("[daytrade] sweep produced %d record(s)", len(records))
	for _, rec := range records {
		fmt.Printf("%s\t%s\tinvestors=%s\tdays=%d\thighest=%.2f\n",
			rec.Date.Format("2006-01-02"), rec.Code,
			strings.Join(rec.Investors, "+"), rec.ContinuousDays, rec.HighestInHorizon)
	}
}

// pipelineSource screens each session against the previous close so the
// simulated morning only sees data that existed at the time.
type pipelineSource struct {
	pipeline *screener.Pipeline
	universe screener.Universe
	cal      calendar.Calendar
}

func (p *pipelineSource) Candidates(ctx context.Context, date time.Time) ([]screener.Candidate, error) {
	ref, err := p.cal.PrevClose(date)
	if err != nil {
		return nil, err
	}
	return p.pipeline.Apply(ctx, p.universe, ref)
}

func dateRange(rawFrom, rawTo string, loc *time.Location) (time.Time, time.Time, error) {
	if rawFrom == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("-from is required")
	}
	from, err := time.ParseInLocation("2006-01-02", rawFrom, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to := from
	if rawTo != "" {
		if to, err = time.ParseInLocation("2006-01-02", rawTo, loc); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("-to %s precedes -from %s", rawTo, rawFrom)
	}
	return from, to, nil
}
