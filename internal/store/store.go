// Package store is the Postgres-backed market data layer. It serves the
// screener and backtest collaborator interfaces from the daily_summaries,
// institutional_net_volumes and price_ticks tables, caching responses via
// the go-zero cache layer, and fills gaps by fetching whole-market reports
// from the exchange crawlers with idempotent upserts.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/stores/cache"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"stockbot/pkg/crawler"
	"stockbot/pkg/kbar"
	"stockbot/pkg/screener"
	"stockbot/pkg/signal"
)

var _ screener.MarketData = (*Store)(nil)

// TTLs bundles cache durations in seconds.
type TTLs struct {
	Short  int
	Medium int
	Long   int
}

// Store loads market data from Postgres and caches responses. The cache and
// fetcher map are both optional; without them the store degrades to plain
// database reads.
type Store struct {
	conn     sqlx.SqlConn
	cache    cache.Cache
	fetchers map[string]crawler.Fetcher
	ttls     TTLs
}

func New(conn sqlx.SqlConn, cache cache.Cache, fetchers map[string]crawler.Fetcher, ttls TTLs) *Store {
	return &Store{conn: conn, cache: cache, fetchers: fetchers, ttls: ttls}
}

// helper: get from redis into v
func (s *Store) getCache(ctx context.Context, key string, v interface{}) (bool, error) {
	if s.cache == nil {
		return false, nil
	}
	if err := s.cache.GetCtx(ctx, key, v); err != nil {
		if s.cache.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// helper: set redis from v
func (s *Store) setCache(ctx context.Context, key string, ttl int, v interface{}) {
	if s.cache == nil || ttl <= 0 {
		return
	}
	expire := time.Duration(ttl) * time.Second
	if err := s.cache.SetWithExpireCtx(ctx, key, v, expire); err != nil {
		logx.WithContext(ctx).Errorf("set cache %s: %v", key, err)
	}
}

// ================= Instruments =================

type instrumentRow struct {
	ID   string `db:"id"`
	Code string `db:"code"`
	Name string `db:"name"`
}

// Universe lists all instruments of an exchange in code order.
func (s *Store) Universe(ctx context.Context, exchange string) (screener.Universe, error) {
	key := fmt.Sprintf("stockbot:universe:%s", exchange)
	var cached screener.Universe
	if ok, _ := s.getCache(ctx, key, &cached); ok {
		return cached, nil
	}

	const q = `SELECT id, code, name FROM instruments WHERE exchange = $1 ORDER BY code`
	var rows []instrumentRow
	if err := s.conn.QueryRowsCtx(ctx, &rows, q, exchange); err != nil {
		return nil, fmt.Errorf("store: load universe %s: %w", exchange, err)
	}

	universe := make(screener.Universe, 0, len(rows))
	for _, row := range rows {
		universe = append(universe, screener.Instrument{ID: row.ID, Code: row.Code, Name: row.Name})
	}
	s.setCache(ctx, key, s.ttls.Long, universe)
	return universe, nil
}

// TradingDays lists the distinct report dates of an exchange within
// [from, to], oldest first. The result seeds the static trading calendar.
func (s *Store) TradingDays(ctx context.Context, exchange string, from, to time.Time) ([]time.Time, error) {
	key := fmt.Sprintf("stockbot:days:%s:%s:%s", exchange, dateKey(from), dateKey(to))
	var cached []time.Time
	if ok, _ := s.getCache(ctx, key, &cached); ok {
		return cached, nil
	}

	const q = `SELECT DISTINCT d.date FROM daily_summaries d
		JOIN instruments i ON i.id = d.instrument_id
		WHERE i.exchange = $1 AND d.date BETWEEN $2 AND $3
		ORDER BY d.date`
	var days []time.Time
	if err := s.conn.QueryRowsCtx(ctx, &days, q, exchange, from, to); err != nil {
		return nil, fmt.Errorf("store: load trading days %s: %w", exchange, err)
	}
	s.setCache(ctx, key, s.ttls.Medium, days)
	return days, nil
}

// ================= Daily summaries =================

type summaryRow struct {
	Date         time.Time `db:"date"`
	Open         float64   `db:"open"`
	High         float64   `db:"high"`
	Low          float64   `db:"low"`
	Close        float64   `db:"close"`
	Volume       int64     `db:"volume"`
	Value        int64     `db:"value"`
	Transactions int64     `db:"transactions"`
}

// DailySummaries implements screener.MarketData.
func (s *Store) DailySummaries(ctx context.Context, instrumentID string, from, to time.Time) ([]screener.DailySummary, error) {
	key := fmt.Sprintf("stockbot:summaries:%s:%s:%s", instrumentID, dateKey(from), dateKey(to))
	var cached []screener.DailySummary
	if ok, _ := s.getCache(ctx, key, &cached); ok {
		return cached, nil
	}

	const q = `SELECT date, open, high, low, close, volume, value, transactions
		FROM daily_summaries
		WHERE instrument_id = $1 AND date BETWEEN $2 AND $3
		ORDER BY date`
	var rows []summaryRow
	if err := s.conn.QueryRowsCtx(ctx, &rows, q, instrumentID, from, to); err != nil {
		return nil, fmt.Errorf("store: load summaries %s: %w", instrumentID, err)
	}

	out := make([]screener.DailySummary, 0, len(rows))
	for _, row := range rows {
		out = append(out, screener.DailySummary{
			Date:         row.Date,
			Open:         row.Open,
			High:         row.High,
			Low:          row.Low,
			Close:        row.Close,
			Volume:       row.Volume,
			Value:        row.Value,
			Transactions: row.Transactions,
		})
	}
	s.setCache(ctx, key, s.ttls.Long, out)
	return out, nil
}

// ================= Institutional investors =================

type investorRow struct {
	Class     string `db:"investor_class"`
	NetVolume int64  `db:"net_volume"`
}

// InvestorNetVolumes implements screener.MarketData. A date with no investor
// rows at all reports ErrDataUnavailable so filters can skip the instrument.
func (s *Store) InvestorNetVolumes(ctx context.Context, instrumentID string, dates []time.Time, classes []string) ([]int64, error) {
	wanted := make(map[string]bool, len(classes))
	for _, c := range classes {
		wanted[c] = true
	}

	out := make([]int64, 0, len(dates))
	for _, date := range dates {
		rows, err := s.investorRowsOn(ctx, instrumentID, date)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, fmt.Errorf("%w: no investor data for %s on %s",
				screener.ErrDataUnavailable, instrumentID, dateKey(date))
		}
		var net int64
		for _, row := range rows {
			if wanted[row.Class] {
				net += row.NetVolume
			}
		}
		out = append(out, net)
	}
	return out, nil
}

func (s *Store) investorRowsOn(ctx context.Context, instrumentID string, date time.Time) ([]investorRow, error) {
	key := fmt.Sprintf("stockbot:investors:%s:%s", instrumentID, dateKey(date))
	var cached []investorRow
	if ok, _ := s.getCache(ctx, key, &cached); ok {
		return cached, nil
	}

	const q = `SELECT investor_class, net_volume FROM institutional_net_volumes
		WHERE instrument_id = $1 AND date = $2
		ORDER BY investor_class`
	var rows []investorRow
	if err := s.conn.QueryRowsCtx(ctx, &rows, q, instrumentID, date); err != nil {
		return nil, fmt.Errorf("store: load investor rows %s: %w", instrumentID, err)
	}
	s.setCache(ctx, key, s.ttls.Long, rows)
	return rows, nil
}

// ================= Ticks =================

type tickRow struct {
	TS     time.Time `db:"ts"`
	Price  float64   `db:"price"`
	Volume int64     `db:"volume"`
}

// Ticks implements backtest.TickSource. Tick history is append-only, so
// these rows cache on the long tier.
func (s *Store) Ticks(ctx context.Context, instrumentID string, from, to time.Time) ([]kbar.Tick, error) {
	key := fmt.Sprintf("stockbot:ticks:%s:%d:%d", instrumentID, from.Unix(), to.Unix())
	var cached []kbar.Tick
	if ok, _ := s.getCache(ctx, key, &cached); ok {
		return cached, nil
	}

	const q = `SELECT ts, price, volume FROM price_ticks
		WHERE instrument_id = $1 AND ts BETWEEN $2 AND $3
		ORDER BY ts`
	var rows []tickRow
	if err := s.conn.QueryRowsCtx(ctx, &rows, q, instrumentID, from, to); err != nil {
		return nil, fmt.Errorf("store: load ticks %s: %w", instrumentID, err)
	}

	ticks := make([]kbar.Tick, 0, len(rows))
	for _, row := range rows {
		ticks = append(ticks, kbar.Tick{TS: row.TS, Price: row.Price, Volume: row.Volume})
	}
	s.setCache(ctx, key, s.ttls.Long, ticks)
	return ticks, nil
}

// ================= Trade records =================

// Record implements backtest.Recorder. The insert is idempotent on
// (run_id, instrument_id, ts) so re-running a backtest cannot duplicate rows.
func (s *Store) Record(ctx context.Context, trade signal.Trade) error {
	const q = `INSERT INTO backtest_trades (run_id, instrument_id, ts, price, volume)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (run_id, instrument_id, ts) DO NOTHING`
	if _, err := s.conn.ExecCtx(ctx, q, trade.RunID.String(), trade.InstrumentID,
		trade.TS, trade.Price, trade.Volume); err != nil {
		return fmt.Errorf("store: record trade: %w", err)
	}
	return nil
}

// ================= Fetch-through =================

// EnsureDailySummaries makes sure the store holds the exchange's report for
// one date, fetching and upserting it when absent. A closed-market date
// surfaces the fetcher's no-data error.
func (s *Store) EnsureDailySummaries(ctx context.Context, exchange string, date time.Time) error {
	count, err := s.summaryCount(ctx, exchange, date)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	fetcher, ok := s.fetchers[exchange]
	if !ok {
		return fmt.Errorf("store: no fetcher configured for exchange %s", exchange)
	}
	rows, err := fetcher.DailySummaries(ctx, date)
	if err != nil {
		return fmt.Errorf("store: fetch %s report for %s: %w", exchange, dateKey(date), err)
	}
	logx.WithContext(ctx).Infof("store: fetched %d rows from %s for %s", len(rows), exchange, dateKey(date))
	return s.upsertDailySummaries(ctx, exchange, date, rows)
}

func (s *Store) summaryCount(ctx context.Context, exchange string, date time.Time) (int, error) {
	const q = `SELECT COUNT(*) FROM daily_summaries d
		JOIN instruments i ON i.id = d.instrument_id
		WHERE i.exchange = $1 AND d.date = $2`
	var count int
	if err := s.conn.QueryRowCtx(ctx, &count, q, exchange, date); err != nil {
		return 0, fmt.Errorf("store: count summaries %s: %w", exchange, err)
	}
	return count, nil
}

// upsertDailySummaries stores a fetched report inside one transaction.
// Instruments upsert by (exchange, code); summary rows never overwrite.
func (s *Store) upsertDailySummaries(ctx context.Context, exchange string, date time.Time, rows []crawler.DailyRow) error {
	const instrumentQ = `INSERT INTO instruments (id, exchange, code, name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (exchange, code) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`
	const summaryQ = `INSERT INTO daily_summaries
		(instrument_id, date, open, high, low, close, volume, value, transactions)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (instrument_id, date) DO NOTHING`

	return s.conn.TransactCtx(ctx, func(ctx context.Context, session sqlx.Session) error {
		for _, row := range rows {
			var instrumentID string
			err := session.QueryRowCtx(ctx, &instrumentID, instrumentQ,
				uuid.NewString(), exchange, row.Code, row.Name)
			if err != nil {
				return fmt.Errorf("upsert instrument %s: %w", row.Code, err)
			}
			_, err = session.ExecCtx(ctx, summaryQ, instrumentID, date,
				row.Open, row.High, row.Low, row.Close,
				row.Volume, row.Value, row.Transactions)
			if err != nil {
				return fmt.Errorf("upsert summary %s: %w", row.Code, err)
			}
		}
		return nil
	})
}

func dateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
