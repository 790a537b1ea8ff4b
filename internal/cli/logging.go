package cli

import (
	"fmt"
	"strings"

	"github.com/zeromicro/go-zero/core/logx"

	"stockbot/internal/config"
	"stockbot/pkg/confkit"
)

// ConfigSummaryLines returns human readable lines describing the loaded app config.
func ConfigSummaryLines(cfg *config.Config) []string {
	if cfg == nil {
		return []string{"Configuration: <nil>"}
	}

	lines := []string{
		fmt.Sprintf("Environment: %s", cfg.Env),
		fmt.Sprintf("Postgres: %s", presence(cfg.Postgres.DSN != "")),
		fmt.Sprintf("Redis: %s", presence(strings.TrimSpace(cfg.Redis.Host) != "")),
		fmt.Sprintf("TTL (short/medium/long): %ds / %ds / %ds", cfg.TTL.Short, cfg.TTL.Medium, cfg.TTL.Long),
		fmt.Sprintf("Session: %s %s-%s", cfg.Session.Timezone, cfg.Session.Open, cfg.Session.Close),
		fmt.Sprintf("Screener: price [%v, %v], volume >= %v, change rate >= %v over %d session(s)",
			cfg.Screener.PriceMin, cfg.Screener.PriceMax, cfg.Screener.MinTradeVolume,
			cfg.Screener.MinChangeRate, cfg.Screener.ChangeRateDays),
		fmt.Sprintf("Strategy: RSI %v/%v window %d, lot %d, continuous=%t",
			cfg.Strategy.RSIFloor, cfg.Strategy.RSICeiling, cfg.Strategy.Window,
			cfg.Strategy.LotSize, cfg.Strategy.Continuous),
		fmt.Sprintf("Indicators: RSI %d, MACD %d/%d/%d",
			cfg.Indicators.RSIPeriod, cfg.Indicators.MACDFast, cfg.Indicators.MACDSlow, cfg.Indicators.MACDSignal),
		fmt.Sprintf("Backtest: bar %s, warmup %d session(s), parallelism %d",
			cfg.Backtest.BarInterval, cfg.Backtest.WarmupSessions, cfg.Backtest.Parallelism),
		sectionLine("Exchange config", cfg.Exchanges),
	}

	return lines
}

// LogConfigSummary emits the configuration summary using logx.
func LogConfigSummary(cfg *config.Config) {
	lines := ConfigSummaryLines(cfg)
	if len(lines) == 0 {
		return
	}
	logx.Info("configuration summary")
	for _, line := range lines {
		logx.Infof("config • %s", line)
	}
}

func presence(ok bool) string {
	if ok {
		return "configured"
	}
	return "not configured"
}

func sectionLine[T any](name string, section confkit.Section[T]) string {
	switch {
	case strings.TrimSpace(section.File) != "":
		return fmt.Sprintf("%s: %s", name, section.File)
	case section.Value != nil:
		return fmt.Sprintf("%s: inline", name)
	default:
		return fmt.Sprintf("%s: not configured", name)
	}
}
