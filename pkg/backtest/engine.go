// Package backtest replays historical tick data through the signal state
// machine for every candidate instrument of every simulated session.
package backtest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/mr"

	"stockbot/pkg/calendar"
	"stockbot/pkg/indicators"
	"stockbot/pkg/kbar"
	"stockbot/pkg/screener"
	"stockbot/pkg/signal"
)

// CandidateSource yields the day's screened instrument set. It is the
// operator-level collaborator in front of the screener pipeline.
type CandidateSource interface {
	Candidates(ctx context.Context, date time.Time) ([]screener.Candidate, error)
}

// TickSource returns ordered ticks for an instrument within [from, to].
type TickSource interface {
	Ticks(ctx context.Context, instrumentID string, from, to time.Time) ([]kbar.Tick, error)
}

// Recorder consumes trade records. The engine calls it from a single
// goroutine, in candidate order, append-only.
type Recorder interface {
	Record(ctx context.Context, trade signal.Trade) error
}

// StrategyParams are the signal knobs shared by every instrument of a run;
// the per-session cutoff is filled in by the engine.
type StrategyParams struct {
	RSIFloor   float64
	RSICeiling float64
	Window     int
	LotSize    int64
	Policy     signal.Policy
}

// DefaultStrategyParams mirrors the day-trade defaults: RSI 30/70 over the
// last 3 snapshots, 1000-share board lots, one round trip per session.
func DefaultStrategyParams() StrategyParams {
	return StrategyParams{RSIFloor: 30, RSICeiling: 70, Window: 3, LotSize: 1000, Policy: signal.SingleRoundTrip}
}

func (p StrategyParams) signalConfig(cutoff time.Time) signal.Config {
	return signal.Config{
		RSIFloor:   p.RSIFloor,
		RSICeiling: p.RSICeiling,
		Window:     p.Window,
		LotSize:    p.LotSize,
		Cutoff:     cutoff,
		Policy:     p.Policy,
	}
}

// Skip explains why one instrument was left out of a session.
type Skip struct {
	InstrumentID string
	Code         string
	Reason       string
}

// SessionReport summarizes one simulated session.
type SessionReport struct {
	Date       time.Time
	Candidates int
	Trades     int
	Skips      []Skip
}

// Result aggregates a whole run.
type Result struct {
	RunID    uuid.UUID
	Sessions []SessionReport
	Trades   int
}

// Engine wires the candidate source, tick source, calendar, indicator
// configuration and recorder into a deterministic replay loop.
type Engine struct {
	Candidates CandidateSource
	Ticks      TickSource
	Cal        calendar.Calendar
	Recorder   Recorder

	Strategy   StrategyParams
	Indicators indicators.Config

	// BarInterval is the intraday aggregation interval (default one minute).
	BarInterval time.Duration
	// WarmupSessions is how many prior sessions of ticks feed indicator
	// warm-up before the simulated session (default one).
	WarmupSessions int
	// Parallelism bounds concurrent instrument replays within a session.
	// Trade emission stays in candidate order regardless (default four).
	Parallelism int

	// RunID stamps every trade record. Zero means a fresh id per Run.
	RunID uuid.UUID
}

func (e *Engine) validate() error {
	if e.Candidates == nil || e.Ticks == nil || e.Cal == nil || e.Recorder == nil {
		return fmt.Errorf("backtest: engine not fully configured")
	}
	if err := e.Indicators.Validate(); err != nil {
		return err
	}
	// probe the strategy params with a placeholder cutoff
	return e.Strategy.signalConfig(time.Unix(0, 1)).Validate()
}

func (e *Engine) barInterval() time.Duration {
	if e.BarInterval > 0 {
		return e.BarInterval
	}
	return time.Minute
}

func (e *Engine) warmupSessions() int {
	if e.WarmupSessions > 0 {
		return e.WarmupSessions
	}
	return 1
}

func (e *Engine) parallelism() int {
	if e.Parallelism > 0 {
		return e.Parallelism
	}
	return 4
}

// Run simulates every trading session within [from, to] inclusive.
// Per-session and per-instrument failures are isolated, logged, and
// reported; they never abort the rest of the run.
func (e *Engine) Run(ctx context.Context, from, to time.Time) (*Result, error) {
	if err := e.validate(); err != nil {
		return nil, err
	}
	runID := e.RunID
	if runID == uuid.Nil {
		runID = uuid.New()
	}
	res := &Result{RunID: runID}
	for _, session := range e.Cal.Sessions(from, to) {
		report, err := e.runSession(ctx, runID, session)
		if err != nil {
			logx.WithContext(ctx).Errorf("backtest: session %s failed: %v",
				session.Format("2006-01-02"), err)
			continue
		}
		res.Sessions = append(res.Sessions, *report)
		res.Trades += report.Trades
	}
	return res, nil
}

type instrumentOutcome struct {
	idx    int
	trades []signal.Trade
	skip   *Skip
}

func (e *Engine) runSession(ctx context.Context, runID uuid.UUID, session time.Time) (*SessionReport, error) {
	report := &SessionReport{Date: session}

	cands, err := e.Candidates.Candidates(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("candidates: %w", err)
	}
	report.Candidates = len(cands)
	if len(cands) == 0 {
		logx.WithContext(ctx).Infof("backtest: no candidates on %s, skipping session",
			session.Format("2006-01-02"))
		return report, nil
	}

	outcomes, err := mr.MapReduce(func(source chan<- int) {
		for i := range cands {
			source <- i
		}
	}, func(idx int, writer mr.Writer[instrumentOutcome], cancel func(error)) {
		trades, skip := e.replayInstrument(ctx, runID, session, cands[idx])
		writer.Write(instrumentOutcome{idx: idx, trades: trades, skip: skip})
	}, func(pipe <-chan instrumentOutcome, writer mr.Writer[[]instrumentOutcome], cancel func(error)) {
		var all []instrumentOutcome
		for item := range pipe {
			all = append(all, item)
		}
		writer.Write(all)
	}, mr.WithContext(ctx), mr.WithWorkers(e.parallelism()))
	if err != nil {
		return nil, err
	}

	// Emission happens sequentially in candidate order so identical inputs
	// always produce an identical record stream.
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].idx < outcomes[j].idx })
	for _, out := range outcomes {
		if out.skip != nil {
			report.Skips = append(report.Skips, *out.skip)
			continue
		}
		for _, trade := range out.trades {
			if err := e.Recorder.Record(ctx, trade); err != nil {
				return nil, fmt.Errorf("record trade: %w", err)
			}
			report.Trades++
		}
	}
	return report, nil
}

// replayInstrument drives one fresh state machine over one session's ticks.
func (e *Engine) replayInstrument(ctx context.Context, runID uuid.UUID, session time.Time, cand screener.Candidate) ([]signal.Trade, *Skip) {
	skip := func(reason string, err error) *Skip {
		logx.WithContext(ctx).Infof("backtest: %s skipped on %s: %s: %v",
			cand.Code, session.Format("2006-01-02"), reason, err)
		return &Skip{InstrumentID: cand.ID, Code: cand.Code, Reason: fmt.Sprintf("%s: %v", reason, err)}
	}

	warmup, err := e.Cal.LastSessions(session, e.warmupSessions()+1)
	if err != nil {
		return nil, skip("warmup sessions", err)
	}
	warmOpen := e.Cal.SessionOpen(warmup[0])
	sessionOpen := e.Cal.SessionOpen(session)
	sessionClose := e.Cal.SessionClose(session)

	ticks, err := e.Ticks.Ticks(ctx, cand.ID, warmOpen, sessionClose)
	if err != nil {
		return nil, skip("load ticks", err)
	}

	interval := e.barInterval()
	bars, err := kbar.Aggregate(ticks, warmOpen, interval)
	if err != nil {
		return nil, skip("aggregate", err)
	}
	snaps, err := indicators.Fill(bars, e.Indicators)
	if err != nil {
		return nil, skip("indicators", err)
	}

	machine, err := signal.New(runID, cand.ID, e.Strategy.signalConfig(sessionClose))
	if err != nil {
		logx.WithContext(ctx).Errorf("backtest: %s machine config: %v", cand.Code, err)
		return nil, &Skip{InstrumentID: cand.ID, Code: cand.Code, Reason: err.Error()}
	}

	var trades []signal.Trade
	var lastPrice float64
	for _, tick := range ticks {
		if tick.TS.Before(sessionOpen) {
			continue
		}
		lastPrice = tick.Price
		visible := indicators.Truncate(snaps, tick.TS, interval)
		if trade := machine.OnTick(tick, visible); trade != nil {
			trades = append(trades, *trade)
		}
	}

	// Forced liquidation: an exhausted stream with an open position exits
	// through the machine's own cutoff path at the last seen price.
	if machine.State() == signal.Long {
		if trade := machine.OnTick(kbar.Tick{TS: sessionClose, Price: lastPrice}, nil); trade != nil {
			trades = append(trades, *trade)
		}
	}
	return trades, nil
}
