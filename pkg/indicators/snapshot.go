package indicators

import (
	"errors"
	"fmt"
	"math"
	"time"

	"stockbot/pkg/kbar"
)

// ErrInsufficientLookback indicates fewer bars than the indicator warm-up
// requires, so no snapshot in the requested window has defined values.
var ErrInsufficientLookback = errors.New("indicators: insufficient lookback")

// Config carries the indicator periods. The zero value is not valid; use
// DefaultConfig or fill every field.
type Config struct {
	RSIPeriod  int
	MACDFast   int
	MACDSlow   int
	MACDSignal int
}

// DefaultConfig returns the conventional 14/12/26/9 parameter set.
func DefaultConfig() Config {
	return Config{RSIPeriod: 14, MACDFast: 12, MACDSlow: 26, MACDSignal: 9}
}

func (c Config) Validate() error {
	if c.RSIPeriod <= 0 {
		return fmt.Errorf("indicators: rsi period must be positive, got %d", c.RSIPeriod)
	}
	if c.MACDFast <= 0 || c.MACDSlow <= 0 || c.MACDSignal <= 0 {
		return fmt.Errorf("indicators: macd periods must be positive, got %d/%d/%d",
			c.MACDFast, c.MACDSlow, c.MACDSignal)
	}
	if c.MACDFast >= c.MACDSlow {
		return fmt.Errorf("indicators: macd fast period %d must be below slow period %d",
			c.MACDFast, c.MACDSlow)
	}
	return nil
}

// Snapshot is a bar enriched with indicator values. Snapshots returned by
// Fill always have every indicator field defined; there is no partially
// filled snapshot.
type Snapshot struct {
	kbar.Bar
	RSI        float64
	MACD       float64
	MACDSignal float64
	MACDHist   float64
}

// Fill computes indicators over the full bar series and returns only the
// bars whose indicator values are all defined (the warm-up head is dropped).
// Returns ErrInsufficientLookback when the series is too short to define a
// single snapshot.
func Fill(bars []kbar.Bar, cfg Config) ([]Snapshot, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: no bars", ErrInsufficientLookback)
	}
	closes := kbar.Closes(bars)
	rsi := RSI(closes, cfg.RSIPeriod)
	macd, signal, hist := MACD(closes, cfg.MACDFast, cfg.MACDSlow, cfg.MACDSignal)

	out := make([]Snapshot, 0, len(bars))
	for i, b := range bars {
		if math.IsNaN(rsi[i]) || math.IsNaN(macd[i]) || math.IsNaN(signal[i]) || math.IsNaN(hist[i]) {
			continue
		}
		out = append(out, Snapshot{
			Bar:        b,
			RSI:        rsi[i],
			MACD:       macd[i],
			MACDSignal: signal[i],
			MACDHist:   hist[i],
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %d bars, need more for warm-up", ErrInsufficientLookback, len(bars))
	}
	return out, nil
}

// FillRange computes indicators over the full series (the caller supplies
// enough history before from for warm-up) and returns only snapshots whose
// bar start falls within [from, to].
func FillRange(bars []kbar.Bar, from, to time.Time, cfg Config) ([]Snapshot, error) {
	snaps, err := Fill(bars, cfg)
	if err != nil {
		return nil, err
	}
	out := make([]Snapshot, 0, len(snaps))
	for _, s := range snaps {
		if s.Start.Before(from) || s.Start.After(to) {
			continue
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no defined snapshot in [%s, %s]",
			ErrInsufficientLookback, from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	return out, nil
}

// Truncate returns the prefix of snaps whose interval has fully closed by
// cutoff, i.e. Start+interval <= cutoff. A bar still forming at cutoff is
// not visible to the caller.
func Truncate(snaps []Snapshot, cutoff time.Time, interval time.Duration) []Snapshot {
	n := len(snaps)
	for n > 0 && snaps[n-1].Start.Add(interval).After(cutoff) {
		n--
	}
	return snaps[:n]
}
