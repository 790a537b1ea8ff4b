package screener

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stockbot/pkg/calendar"
	"stockbot/pkg/indicators"
)

var taipei = time.FixedZone("Asia/Taipei", 8*3600)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, taipei)
}

// fakeStore serves canned summaries and investor flows.
type fakeStore struct {
	summaries map[string][]DailySummary          // instrument -> rows ascending by date
	investor  map[string]map[time.Time]map[string]int64 // instrument -> date -> class -> net
}

func (s *fakeStore) DailySummaries(_ context.Context, id string, from, to time.Time) ([]DailySummary, error) {
	rows, ok := s.summaries[id]
	if !ok {
		return nil, fmt.Errorf("%w: instrument %s", ErrDataUnavailable, id)
	}
	var out []DailySummary
	for _, r := range rows {
		if r.Date.Before(from) || r.Date.After(to) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *fakeStore) InvestorNetVolumes(_ context.Context, id string, dates []time.Time, classes []string) ([]int64, error) {
	byDate, ok := s.investor[id]
	if !ok {
		return nil, fmt.Errorf("%w: instrument %s", ErrDataUnavailable, id)
	}
	out := make([]int64, 0, len(dates))
	for _, d := range dates {
		byClass, ok := byDate[d]
		if !ok {
			return nil, fmt.Errorf("%w: %s on %s", ErrDataUnavailable, id, d.Format("2006-01-02"))
		}
		var net int64
		for _, c := range classes {
			net += byClass[c]
		}
		out = append(out, net)
	}
	return out, nil
}

func newCalendar(t *testing.T, dates ...time.Time) calendar.Calendar {
	t.Helper()
	cal, err := calendar.NewStatic(taipei, 9*time.Hour, 13*time.Hour+30*time.Minute, dates)
	require.NoError(t, err)
	return cal
}

func TestPriceChangeRateExample(t *testing.T) {
	ref := day(2021, 3, 4)
	base := day(2021, 3, 3)
	cal := newCalendar(t, base, ref)
	store := &fakeStore{summaries: map[string][]DailySummary{
		"s1": {
			{Date: base, Close: 25, High: 25.5, Low: 24.5, Volume: 1000},
			{Date: ref, Close: 27, High: 27.5, Low: 26, Volume: 1200},
		},
	}}
	universe := Universe{{ID: "s1", Code: "2330", Name: "TSMC"}}

	filter := PriceChangeRateFilter{Store: store, Cal: cal, MinRate: 0.04, TradingDays: 1}
	col, err := filter.Apply(context.Background(), universe, ref)
	require.NoError(t, err)
	require.True(t, col.Pass["s1"])
	require.InDelta(t, 0.08, col.Value["s1"], 1e-9)
}

func TestInvestorContinuousBuy(t *testing.T) {
	d1, d2 := day(2021, 3, 3), day(2021, 3, 4)
	cal := newCalendar(t, d1, d2)
	universe := Universe{{ID: "s1", Code: "2330"}}

	store := &fakeStore{investor: map[string]map[time.Time]map[string]int64{
		"s1": {
			d1: {InvestorForeign: 500},
			d2: {InvestorForeign: 300},
		},
	}}
	filter := InvestorContinuousBuyFilter{
		Store: store, Cal: cal,
		Investors: []string{InvestorForeign}, TradingDays: 2,
	}
	col, err := filter.Apply(context.Background(), universe, d2)
	require.NoError(t, err)
	require.True(t, col.Pass["s1"])
	require.Equal(t, 800.0, col.Value["s1"])

	// one negative session fails the predicate even if the total is positive
	store.investor["s1"][d2] = map[string]int64{InvestorForeign: -1}
	col, err = filter.Apply(context.Background(), universe, d2)
	require.NoError(t, err)
	require.False(t, col.Pass["s1"])
	require.Equal(t, 499.0, col.Value["s1"])
}

func TestPipelineImpossibleThreshold(t *testing.T) {
	ref := day(2021, 3, 4)
	cal := newCalendar(t, ref)
	store := &fakeStore{summaries: map[string][]DailySummary{
		"s1": {{Date: ref, Close: 27, Volume: 1000}},
	}}
	universe := Universe{{ID: "s1", Code: "2330"}}

	p, err := NewPipeline(cal, PriceFilter{Store: store, Min: 10_000_000, Max: 20_000_000})
	require.NoError(t, err)
	cands, err := p.Apply(context.Background(), universe, ref)
	require.NoError(t, err, "an impossible threshold is an empty result, never an error")
	require.Empty(t, cands)
}

func TestPipelineNonTradingDate(t *testing.T) {
	cal := newCalendar(t, day(2021, 3, 4))
	store := &fakeStore{}
	p, err := NewPipeline(cal, PriceFilter{Store: store, Min: 5, Max: 30})
	require.NoError(t, err)

	cands, err := p.Apply(context.Background(), Universe{{ID: "s1"}}, day(2021, 3, 6))
	require.NoError(t, err)
	require.Empty(t, cands)
}

func TestPipelineMissingDataExcludes(t *testing.T) {
	ref := day(2021, 3, 4)
	cal := newCalendar(t, ref)
	store := &fakeStore{summaries: map[string][]DailySummary{
		"s1": {{Date: ref, Close: 20, Volume: 60_000_000}},
		// s2 has no rows at all
	}}
	universe := Universe{
		{ID: "s1", Code: "2330"},
		{ID: "s2", Code: "2317"},
	}
	p, err := NewPipeline(cal,
		PriceFilter{Store: store, Min: 5, Max: 30},
		TradeVolumeFilter{Store: store, MinVolume: 50_000_000},
	)
	require.NoError(t, err)
	cands, err := p.Apply(context.Background(), universe, ref)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	require.Equal(t, "s1", cands[0].ID)
	require.Equal(t, 20.0, cands[0].Metrics["closing_price"])
	require.Equal(t, 60_000_000.0, cands[0].Metrics["trade_volume"])
}

func TestPipelineStableOrder(t *testing.T) {
	ref := day(2021, 3, 4)
	cal := newCalendar(t, ref)
	store := &fakeStore{summaries: map[string][]DailySummary{}}
	universe := make(Universe, 0, 6)
	for i := 0; i < 6; i++ {
		id := fmt.Sprintf("s%d", i)
		universe = append(universe, Instrument{ID: id, Code: id})
		store.summaries[id] = []DailySummary{{Date: ref, Close: float64(10 + i), Volume: 100}}
	}
	p, err := NewPipeline(cal, PriceFilter{Store: store, Min: 11, Max: 14})
	require.NoError(t, err)
	cands, err := p.Apply(context.Background(), universe, ref)
	require.NoError(t, err)
	require.Len(t, cands, 4)
	for i, c := range cands {
		require.Equal(t, fmt.Sprintf("s%d", i+1), c.ID, "universe order preserved")
	}
}

func TestPipelineDuplicateFilterNames(t *testing.T) {
	cal := newCalendar(t, day(2021, 3, 4))
	store := &fakeStore{}
	_, err := NewPipeline(cal,
		PriceFilter{Store: store, Min: 5, Max: 30},
		PriceFilter{Store: store, Min: 1, Max: 2},
	)
	require.Error(t, err)
}

func TestAmplitudeFilter(t *testing.T) {
	from, to := day(2021, 1, 4), day(2021, 1, 6)
	store := &fakeStore{summaries: map[string][]DailySummary{
		"s1": {
			{Date: from, High: 12, Low: 9},
			{Date: day(2021, 1, 5), High: 14, Low: 10},
			{Date: to, High: 13, Low: 8},
		},
	}}
	universe := Universe{{ID: "s1", Code: "2330"}}

	// (14 - 8) / (14 + 8) = 0.2727...
	filter := AmplitudeFilter{Store: store, From: from, To: to, MinAmplitude: 0.25}
	col, err := filter.Apply(context.Background(), universe, to)
	require.NoError(t, err)
	require.True(t, col.Pass["s1"])
	require.InDelta(t, 6.0/22.0, col.Value["s1"], 1e-9)

	filter.MinAmplitude = 0.30
	col, err = filter.Apply(context.Background(), universe, to)
	require.NoError(t, err)
	require.False(t, col.Pass["s1"])
}

func TestYearlyAmplitudeFilter(t *testing.T) {
	store := &fakeStore{summaries: map[string][]DailySummary{
		"s1": {
			{Date: day(2020, 6, 1), High: 20, Low: 10}, // amp (20-10)/(20+10) = 1/3
			{Date: day(2021, 6, 1), High: 30, Low: 10}, // amp (30-10)/(30+10) = 1/2
		},
	}}
	universe := Universe{{ID: "s1", Code: "2330"}}
	filter := YearlyAmplitudeFilter{Store: store, Years: 2, MinAmplitude: 0.3}
	col, err := filter.Apply(context.Background(), universe, day(2021, 12, 31))
	require.NoError(t, err)
	require.True(t, col.Pass["s1"], "every year clears the threshold")
	require.InDelta(t, (1.0/3.0+0.5)/2, col.Value["s1"], 1e-9)

	// one failing year fails the predicate, mean is still reported
	filter.MinAmplitude = 0.4
	col, err = filter.Apply(context.Background(), universe, day(2021, 12, 31))
	require.NoError(t, err)
	require.False(t, col.Pass["s1"])
}

func TestRSIFilterAndMACDSignalFilter(t *testing.T) {
	// 80 consecutive sessions with a gently rising close.
	dates := make([]time.Time, 80)
	rows := make([]DailySummary, 80)
	px := 100.0
	base := day(2021, 1, 4)
	for i := range dates {
		dates[i] = base.AddDate(0, 0, i)
		if i%5 == 4 {
			px -= 0.7
		} else {
			px += 1.0
		}
		rows[i] = DailySummary{Date: dates[i], Open: px, High: px + 0.5, Low: px - 0.5, Close: px, Volume: 100}
	}
	cal := newCalendar(t, dates...)
	store := &fakeStore{summaries: map[string][]DailySummary{"s1": rows}}
	universe := Universe{{ID: "s1", Code: "2330"}}
	ref := dates[len(dates)-1]

	rsiFilter := RSIFilter{Store: store, Cal: cal, Min: 0, Max: 100, Config: indicators.DefaultConfig()}
	col, err := rsiFilter.Apply(context.Background(), universe, ref)
	require.NoError(t, err)
	require.True(t, col.Pass["s1"])
	require.Greater(t, col.Value["s1"], 50.0, "uptrend keeps RSI above midline")

	macdFilter := MACDSignalFilter{Store: store, Cal: cal, Config: indicators.DefaultConfig()}
	col, err = macdFilter.Apply(context.Background(), universe, ref)
	require.NoError(t, err)
	_, ok := col.Pass["s1"]
	require.True(t, ok, "instrument evaluated, predicate depends on the crossing")
}
