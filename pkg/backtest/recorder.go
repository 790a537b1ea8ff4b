package backtest

import (
	"context"
	"sync"

	"github.com/zeromicro/go-zero/core/logx"

	"stockbot/pkg/signal"
)

// MemoryRecorder buffers trade records in memory. Safe for concurrent use.
type MemoryRecorder struct {
	mu     sync.Mutex
	trades []signal.Trade
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (r *MemoryRecorder) Record(_ context.Context, trade signal.Trade) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trades = append(r.trades, trade)
	return nil
}

// Trades returns a copy of the recorded stream in emission order.
func (r *MemoryRecorder) Trades() []signal.Trade {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]signal.Trade, len(r.trades))
	copy(out, r.trades)
	return out
}

// LogRecorder forwards each record to another recorder after logging it in
// the day-trade console format.
type LogRecorder struct {
	Next Recorder
}

func (r LogRecorder) Record(ctx context.Context, trade signal.Trade) error {
	volume := trade.Volume
	if volume < 0 {
		volume = -volume
	}
	logx.WithContext(ctx).Infof("[%s] %s %d %s at %.2f",
		trade.TS.Format("2006-01-02 15:04:05"), trade.Side(), volume, trade.InstrumentID, trade.Price)
	if r.Next == nil {
		return nil
	}
	return r.Next.Record(ctx, trade)
}
