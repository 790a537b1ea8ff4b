package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stockbot/internal/cli"
	"stockbot/internal/config"
	"stockbot/internal/svc"
	"stockbot/pkg/calendar"
	"stockbot/pkg/screener"
)

var (
	configFile   = flag.String("f", "etc/stockbot.yaml", "config file")
	dateFlag     = flag.String("date", "", "reference date YYYY-MM-DD (default today, exchange time)")
	exchangeFlag = flag.String("exchange", "", "exchange code (default from exchange config)")
	lookbackFlag = flag.Int("lookback", 120, "calendar days of history backing the trading calendar")
)

func main() {
	flag.Parse()
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg := config.MustLoad(*configFile)
	cli.LogConfigSummary(cfg)

	svcCtx := svc.NewServiceContext(*cfg)
	if svcCtx.Store == nil {
		log.Fatal("[screen] postgres dsn is required")
	}

	exchange := *exchangeFlag
	if exchange == "" {
		exchange = svcCtx.DefaultExchange
	}
	if exchange == "" {
		log.Fatal("[screen] no exchange selected and no default configured")
	}

	loc := cfg.Location()
	date, err := referenceDate(*dateFlag, loc)
	if err != nil {
		log.Fatalf("[screen] bad -date: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Fetch-through: make sure the reference date's report is stored before
	// screening. A closed market is not fatal; the pipeline reports it.
	if err := svcCtx.Store.EnsureDailySummaries(ctx, exchange, date); err != nil {
		log.Printf("[screen] Warning: ensure report for %s: %v", date.Format("2006-01-02"), err)
	}

	from := date.AddDate(0, 0, -*lookbackFlag)
	days, err := svcCtx.Store.TradingDays(ctx, exchange, from, date)
	if err != nil {
		log.Fatalf("[screen] load trading days: %v", err)
	}
	cal, err := calendar.NewStatic(loc, cfg.SessionOpen(), cfg.SessionClose(), days)
	if err != nil {
		log.Fatalf("[screen] build calendar: %v", err)
	}

	universe, err := svcCtx.Store.Universe(ctx, exchange)
	if err != nil {
		log.Fatalf("[screen] load universe: %v", err)
	}
	log.Printf("[screen] %s universe holds %d instruments", exchange, len(universe))

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
		log.Fatalf("[screen] build pipeline: %v", err)
	}

	candidates, err := pipeline.Apply(ctx, universe, date)
	if err != nil {
		log.Fatalf("[screen] screen %s: %v", date.Format("2006-01-02"), err)
	}

	log.Printf("[screen] %d candidate(s) on %s", len(candidates), date.Format("2006-01-02"))
	for _, cand := range candidates {
		fmt.Printf("%s\t%s\tclose=%.2f\tvolume=%.0f\tchange=%.2f%%\n",
			cand.Code, cand.Name,
			cand.Metrics["closing_price"],
			cand.Metrics["trade_volume"],
			cand.Metrics["price_change_rate"]*100)
	}
}

func referenceDate(raw string, loc *time.Location) (time.Time, error) {
	if raw == "" {
		return calendar.Normalize(time.Now(), loc), nil
	}
	t, err := time.ParseInLocation("2006-01-02", raw, loc)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}
