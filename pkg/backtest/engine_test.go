package backtest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"stockbot/pkg/calendar"
	"stockbot/pkg/indicators"
	"stockbot/pkg/kbar"
	"stockbot/pkg/screener"
	"stockbot/pkg/signal"
)

var taipei = time.FixedZone("Asia/Taipei", 8*3600)

type fakeCandidates struct {
	byDate map[time.Time][]screener.Candidate
	errOn  map[time.Time]error
}

func (f *fakeCandidates) Candidates(_ context.Context, date time.Time) ([]screener.Candidate, error) {
	if err, ok := f.errOn[date]; ok {
		return nil, err
	}
	return f.byDate[date], nil
}

type fakeTicks struct {
	byInst map[string][]kbar.Tick
}

func (f *fakeTicks) Ticks(_ context.Context, id string, from, to time.Time) ([]kbar.Tick, error) {
	var out []kbar.Tick
	for _, tk := range f.byInst[id] {
		if tk.TS.Before(from) || tk.TS.After(to) {
			continue
		}
		out = append(out, tk)
	}
	return out, nil
}

// smallConfig keeps indicator warm-up short enough to hand-compute.
func smallConfig() indicators.Config {
	return indicators.Config{RSIPeriod: 2, MACDFast: 2, MACDSlow: 3, MACDSignal: 2}
}

// twoDayScenario builds a prior warm-up session with steadily falling
// prices and a simulated session that opens lower and then rallies.
//
// With 2/3/2 EMAs the MACD histogram sits at zero through the decline and
// first turns positive on the second session bar, while the RSI minimum of
// the recent window is still 0, so the machine enters on the 09:02 tick at
// price 24. The rally never produces a downward crossing, leaving the
// position open for forced liquidation at the session close.
func twoDayScenario(t *testing.T) (calendar.Calendar, *fakeTicks, *fakeCandidates, time.Time) {
	t.Helper()
	day1 := time.Date(2021, 3, 4, 0, 0, 0, 0, taipei)
	day2 := time.Date(2021, 3, 5, 0, 0, 0, 0, taipei)
	cal, err := calendar.NewStatic(taipei, 9*time.Hour, 13*time.Hour+30*time.Minute, []time.Time{day1, day2})
	require.NoError(t, err)

	var ticks []kbar.Tick
	add := func(day time.Time, minute int, price float64) {
		ticks = append(ticks, kbar.Tick{
			TS:     day.Add(9*time.Hour + time.Duration(minute)*time.Minute),
			Price:  price,
			Volume: 10,
		})
	}
	for i := 0; i < 10; i++ {
		add(day1, i, 30-float64(i)) // 30 .. 21
	}
	for i := 0; i < 8; i++ {
		add(day2, i, 20+2*float64(i)) // 20 .. 34
	}

	tickSrc := &fakeTicks{byInst: map[string][]kbar.Tick{"s1": ticks}}
	candSrc := &fakeCandidates{byDate: map[time.Time][]screener.Candidate{
		day2: {{Instrument: screener.Instrument{ID: "s1", Code: "2330", Name: "TSMC"}}},
	}}
	return cal, tickSrc, candSrc, day2
}

func TestRunEntryAndForcedLiquidation(t *testing.T) {
	cal, ticks, cands, day2 := twoDayScenario(t)
	rec := NewMemoryRecorder()
	e := &Engine{
		Candidates: cands,
		Ticks:      ticks,
		Cal:        cal,
		Recorder:   rec,
		Strategy:   DefaultStrategyParams(),
		Indicators: smallConfig(),
		RunID:      uuid.MustParse("00000000-0000-0000-0000-000000000001"),
	}

	res, err := e.Run(context.Background(), day2, day2)
	require.NoError(t, err)
	require.Equal(t, 2, res.Trades)
	require.Len(t, res.Sessions, 1)
	require.Equal(t, 1, res.Sessions[0].Candidates)
	require.Empty(t, res.Sessions[0].Skips)

	trades := rec.Trades()
	require.Len(t, trades, 2)

	buy := trades[0]
	require.Equal(t, "buy", buy.Side())
	require.Equal(t, int64(10_000), buy.Volume)
	require.Equal(t, 24.0, buy.Price)
	require.Equal(t, day2.Add(9*time.Hour+2*time.Minute), buy.TS)

	sell := trades[1]
	require.Equal(t, "sell", sell.Side())
	require.Equal(t, int64(-10_000), sell.Volume)
	require.Equal(t, 34.0, sell.Price, "liquidated at the last seen price")
	require.Equal(t, day2.Add(13*time.Hour+30*time.Minute), sell.TS, "at the session cutoff")
}

func TestRunIsDeterministic(t *testing.T) {
	runID := uuid.MustParse("00000000-0000-0000-0000-000000000002")
	runOnce := func() []signal.Trade {
		cal, ticks, cands, day2 := twoDayScenario(t)
		rec := NewMemoryRecorder()
		e := &Engine{
			Candidates: cands, Ticks: ticks, Cal: cal, Recorder: rec,
			Strategy: DefaultStrategyParams(), Indicators: smallConfig(),
			RunID: runID, Parallelism: 8,
		}
		_, err := e.Run(context.Background(), day2, day2)
		require.NoError(t, err)
		return rec.Trades()
	}
	first := runOnce()
	second := runOnce()
	require.Equal(t, first, second, "identical inputs must replay identically")
	require.NotEmpty(t, first)
}

func TestRunSkipsInstrumentWithoutData(t *testing.T) {
	cal, ticks, cands, day2 := twoDayScenario(t)
	// second candidate has no tick history at all
	cands.byDate[day2] = append(cands.byDate[day2],
		screener.Candidate{Instrument: screener.Instrument{ID: "s2", Code: "2317"}})

	rec := NewMemoryRecorder()
	e := &Engine{
		Candidates: cands, Ticks: ticks, Cal: cal, Recorder: rec,
		Strategy: DefaultStrategyParams(), Indicators: smallConfig(),
	}
	res, err := e.Run(context.Background(), day2, day2)
	require.NoError(t, err, "a data gap never aborts the run")
	require.Len(t, res.Sessions, 1)
	require.Len(t, res.Sessions[0].Skips, 1)
	require.Equal(t, "s2", res.Sessions[0].Skips[0].InstrumentID)
	require.Equal(t, 2, res.Trades, "the healthy instrument still trades")
}

func TestRunIsolatesSessionFailures(t *testing.T) {
	cal, ticks, cands, day2 := twoDayScenario(t)
	day1 := time.Date(2021, 3, 4, 0, 0, 0, 0, taipei)
	cands.errOn = map[time.Time]error{day1: fmt.Errorf("universe provider down")}

	rec := NewMemoryRecorder()
	e := &Engine{
		Candidates: cands, Ticks: ticks, Cal: cal, Recorder: rec,
		Strategy: DefaultStrategyParams(), Indicators: smallConfig(),
	}
	res, err := e.Run(context.Background(), day1, day2)
	require.NoError(t, err)
	require.Len(t, res.Sessions, 1, "failed session dropped, good session kept")
	require.Equal(t, day2, res.Sessions[0].Date)
}

func TestRunEmptyCandidates(t *testing.T) {
	cal, ticks, _, day2 := twoDayScenario(t)
	rec := NewMemoryRecorder()
	e := &Engine{
		Candidates: &fakeCandidates{}, Ticks: ticks, Cal: cal, Recorder: rec,
		Strategy: DefaultStrategyParams(), Indicators: smallConfig(),
	}
	res, err := e.Run(context.Background(), day2, day2)
	require.NoError(t, err)
	require.Len(t, res.Sessions, 1)
	require.Zero(t, res.Trades)
	require.Empty(t, rec.Trades())
}

func TestEngineValidation(t *testing.T) {
	_, err := (&Engine{}).Run(context.Background(), time.Now(), time.Now())
	require.Error(t, err)

	cal, ticks, cands, _ := twoDayScenario(t)
	e := &Engine{
		Candidates: cands, Ticks: ticks, Cal: cal, Recorder: NewMemoryRecorder(),
		Strategy:   StrategyParams{RSIFloor: 80, RSICeiling: 70, Window: 3, LotSize: 1000},
		Indicators: smallConfig(),
	}
	_, err = e.Run(context.Background(), time.Now(), time.Now())
	require.Error(t, err, "strategy misconfiguration fails fast")
}
