package indicators

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stockbot/pkg/kbar"
)

func rampBars(n int, start time.Time, step time.Duration) []kbar.Bar {
	bars := make([]kbar.Bar, n)
	px := 100.0
	for i := range bars {
		// gentle zig-zag so gains and losses both occur
		if i%5 == 4 {
			px -= 0.7
		} else {
			px += 1.0
		}
		bars[i] = kbar.Bar{Start: start.Add(time.Duration(i) * step), Open: px, High: px + 0.5, Low: px - 0.5, Close: px, Volume: 10}
	}
	return bars
}

func TestFillDefinedTail(t *testing.T) {
	start := time.Date(2021, 3, 5, 9, 0, 0, 0, time.UTC)
	bars := rampBars(60, start, time.Minute)

	snaps, err := Fill(bars, DefaultConfig())
	require.NoError(t, err)
	require.NotEmpty(t, snaps)
	// MACD signal is the binding warm-up: the slow EMA defines at index 25,
	// the signal EMA 8 slots later, so index 33 is the first defined slot.
	require.Len(t, snaps, 60-33)
	require.Equal(t, bars[33].Start, snaps[0].Start)
	// snapshots keep their bar fields
	require.Equal(t, bars[59].Close, snaps[len(snaps)-1].Close)
}

func TestFillInsufficientLookback(t *testing.T) {
	start := time.Date(2021, 3, 5, 9, 0, 0, 0, time.UTC)
	_, err := Fill(rampBars(10, start, time.Minute), DefaultConfig())
	require.ErrorIs(t, err, ErrInsufficientLookback)

	_, err = Fill(nil, DefaultConfig())
	require.ErrorIs(t, err, ErrInsufficientLookback)
}

func TestFillConfigValidation(t *testing.T) {
	start := time.Date(2021, 3, 5, 9, 0, 0, 0, time.UTC)
	bars := rampBars(60, start, time.Minute)

	_, err := Fill(bars, Config{RSIPeriod: -1, MACDFast: 12, MACDSlow: 26, MACDSignal: 9})
	require.Error(t, err)

	_, err = Fill(bars, Config{RSIPeriod: 14, MACDFast: 26, MACDSlow: 12, MACDSignal: 9})
	require.Error(t, err, "fast period at or above slow period is rejected")
}

func TestFillRangeWindow(t *testing.T) {
	start := time.Date(2021, 3, 5, 9, 0, 0, 0, time.UTC)
	bars := rampBars(80, start, time.Minute)

	from := start.Add(50 * time.Minute)
	to := start.Add(70 * time.Minute)
	snaps, err := FillRange(bars, from, to, DefaultConfig())
	require.NoError(t, err)
	require.Len(t, snaps, 21)
	require.Equal(t, from, snaps[0].Start)
	require.Equal(t, to, snaps[len(snaps)-1].Start)

	// warm-up history before the window must not leak into the result
	_, err = FillRange(bars, start, start.Add(5*time.Minute), DefaultConfig())
	require.ErrorIs(t, err, ErrInsufficientLookback)
}

func TestTruncateNoLookAhead(t *testing.T) {
	start := time.Date(2021, 3, 5, 9, 0, 0, 0, time.UTC)
	bars := rampBars(60, start, time.Minute)
	snaps, err := Fill(bars, DefaultConfig())
	require.NoError(t, err)

	// A tick inside the latest bar's interval must not see that bar.
	lastStart := snaps[len(snaps)-1].Start
	visible := Truncate(snaps, lastStart.Add(30*time.Second), time.Minute)
	require.Len(t, visible, len(snaps)-1)

	// At exactly the interval end the bar becomes visible.
	visible = Truncate(snaps, lastStart.Add(time.Minute), time.Minute)
	require.Len(t, visible, len(snaps))

	require.Empty(t, Truncate(snaps, snaps[0].Start, time.Minute))
}
