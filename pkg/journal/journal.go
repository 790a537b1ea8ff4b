// Package journal persists backtest runs to disk as JSON files so a run can
// be audited after its console output is gone.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// TradeRecord is one emitted trade in journal form.
type TradeRecord struct {
	InstrumentID string    `json:"instrument_id"`
	Timestamp    time.Time `json:"timestamp"`
	Side         string    `json:"side"`
	Price        float64   `json:"price"`
	Volume       int64     `json:"volume"`
}

// SessionRecord summarizes one simulated session.
type SessionRecord struct {
	Date       string   `json:"date"`
	Candidates int      `json:"candidates"`
	Trades     int      `json:"trades"`
	Skips      []string `json:"skips,omitempty"`
}

// RunRecord captures an end-to-end backtest run for audit and analysis.
type RunRecord struct {
	Timestamp    time.Time       `json:"timestamp"`
	RunID        string          `json:"run_id"`
	From         string          `json:"from"`
	To           string          `json:"to"`
	Sessions     []SessionRecord `json:"sessions,omitempty"`
	Trades       []TradeRecord   `json:"trades,omitempty"`
	Success      bool            `json:"success"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Extra        map[string]any  `json:"extra,omitempty"`
}

// Writer persists run records to a directory as JSON files (journal style).
type Writer struct {
	dir   string
	seq   int
	nowFn func() time.Time
}

// NewWriter constructs a journal writer.
func NewWriter(dir string) *Writer {
	if dir == "" {
		dir = "journal"
	}
	_ = os.MkdirAll(dir, 0o755)
	return &Writer{dir: dir, nowFn: time.Now}
}

// WriteRun writes a run record to a timestamped JSON file and returns its
// path. Files are created exclusively, so a name already taken by another
// writer in the same second bumps the sequence instead of overwriting.
func (w *Writer) WriteRun(rec *RunRecord) (string, error) {
	if rec == nil {
		return "", fmt.Errorf("journal: nil record")
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = w.nowFn()
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", err
	}
	stamp := rec.Timestamp.UTC().Format("20060102_150405")
	for {
		w.seq++
		path := filepath.Join(w.dir, fmt.Sprintf("run_%s_%05d.json", stamp, w.seq))
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			return "", err
		}
		if err := f.Close(); err != nil {
			return "", err
		}
		return path, nil
	}
}
