// Package signal implements the per-instrument Flat/Long decision machine
// that turns tick prices plus indicator snapshots into buy and sell records.
//
// The machine is purely reactive: it holds no clock, produces at most one
// trade per tick, and given the same tick and snapshot sequence it always
// yields the same records.
package signal

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"stockbot/pkg/indicators"
	"stockbot/pkg/kbar"
)

// State is the machine's position state.
type State int

const (
	Flat State = iota
	Long
)

func (s State) String() string {
	if s == Long {
		return "long"
	}
	return "flat"
}

// Policy selects what happens after the first exit.
type Policy int

const (
	// SingleRoundTrip allows exactly one entry and one exit per session;
	// after the exit the machine ignores further ticks.
	SingleRoundTrip Policy = iota
	// Continuous allows re-entry after an exit for the rest of the session.
	Continuous
)

// Config parameterizes one machine instance.
type Config struct {
	RSIFloor   float64       // entry: recent-window RSI minimum must dip below this
	RSICeiling float64       // exit: recent-window RSI maximum must rise above this
	Window     int           // how many recent snapshots the RSI extremes consider
	LotSize    int64         // shares per traded unit (TWSE board lot: 1000)
	Cutoff     time.Time     // hard exit timestamp, usually session close
	Policy     Policy
}

// DefaultConfig mirrors the day-trade strategy thresholds.
func DefaultConfig(cutoff time.Time) Config {
	return Config{
		RSIFloor:   30,
		RSICeiling: 70,
		Window:     3,
		LotSize:    1000,
		Cutoff:     cutoff,
		Policy:     SingleRoundTrip,
	}
}

func (c Config) Validate() error {
	if c.Window <= 0 {
		return fmt.Errorf("signal: window must be positive, got %d", c.Window)
	}
	if c.LotSize <= 0 {
		return fmt.Errorf("signal: lot size must be positive, got %d", c.LotSize)
	}
	if c.RSIFloor >= c.RSICeiling {
		return fmt.Errorf("signal: rsi floor %.1f must be below ceiling %.1f", c.RSIFloor, c.RSICeiling)
	}
	if c.Cutoff.IsZero() {
		return fmt.Errorf("signal: cutoff timestamp is required")
	}
	return nil
}

// Trade is one immutable buy/sell record. Volume is signed: positive buys,
// negative sells.
type Trade struct {
	RunID        uuid.UUID
	InstrumentID string
	TS           time.Time
	Price        float64
	Volume       int64
}

// Side renders the record direction.
func (t Trade) Side() string {
	if t.Volume > 0 {
		return "buy"
	}
	return "sell"
}

// Machine is one instrument's decision process for one run. Not safe for
// concurrent use; drive it from a single replay goroutine.
type Machine struct {
	cfg          Config
	runID        uuid.UUID
	instrumentID string

	state      State
	position   int64
	entryPrice float64
	entryTS    time.Time
	done       bool
}

// New builds a machine in the Flat state.
func New(runID uuid.UUID, instrumentID string, cfg Config) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if instrumentID == "" {
		return nil, fmt.Errorf("signal: instrument id is required")
	}
	return &Machine{cfg: cfg, runID: runID, instrumentID: instrumentID}, nil
}

func (m *Machine) State() State    { return m.state }
func (m *Machine) Position() int64 { return m.position }

// OnTick advances the machine by one tick. snaps must already be truncated
// to snapshots whose interval closed at or before the tick timestamp; the
// machine never peeks past what it is handed. Returns a trade record when a
// transition fires, nil otherwise.
func (m *Machine) OnTick(tick kbar.Tick, snaps []indicators.Snapshot) *Trade {
	if m.done {
		return nil
	}

	atCutoff := !tick.TS.Before(m.cfg.Cutoff)
	entry, exit := false, atCutoff
	if len(snaps) > 1 {
		minRSI, maxRSI := rsiExtremes(snaps, m.cfg.Window)
		prevHist := snaps[len(snaps)-2].MACDHist
		currHist := snaps[len(snaps)-1].MACDHist
		entry = minRSI < m.cfg.RSIFloor && prevHist <= 0 && currHist > 0
		exit = exit || (maxRSI > m.cfg.RSICeiling && prevHist >= 0 && currHist < 0)
	}

	switch {
	case m.state == Flat && entry && !atCutoff:
		volume := tick.Volume * m.cfg.LotSize
		if volume <= 0 {
			return nil
		}
		m.state = Long
		m.position = volume
		m.entryPrice = tick.Price
		m.entryTS = tick.TS
		return m.record(tick.TS, tick.Price, volume)

	case m.state == Long && exit:
		volume := -m.position
		m.state = Flat
		m.position = 0
		m.entryPrice = 0
		m.entryTS = time.Time{}
		if m.cfg.Policy == SingleRoundTrip {
			m.done = true
		}
		return m.record(tick.TS, tick.Price, volume)
	}
	return nil
}

func (m *Machine) record(ts time.Time, price float64, volume int64) *Trade {
	return &Trade{
		RunID:        m.runID,
		InstrumentID: m.instrumentID,
		TS:           ts,
		Price:        price,
		Volume:       volume,
	}
}

// rsiExtremes returns min and max RSI over the last window snapshots.
func rsiExtremes(snaps []indicators.Snapshot, window int) (float64, float64) {
	start := len(snaps) - window
	if start < 0 {
		start = 0
	}
	min, max := snaps[start].RSI, snaps[start].RSI
	for _, s := range snaps[start+1:] {
		if s.RSI < min {
			min = s.RSI
		}
		if s.RSI > max {
			max = s.RSI
		}
	}
	return min, max
}
