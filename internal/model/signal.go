package model

import (
	"encoding/json"
	"time"
)

// TimestampLayout is the wall-clock layout recorded with every signal.
// Kept at second precision in local time to match the existing signal
// history database.
const TimestampLayout = "2006-01-02 15:04:05"

// Label is the outcome of classifying one candle window.
type Label string

const (
	LabelBuy    Label = "BUY"
	LabelSell   Label = "SELL"
	LabelHold   Label = "HOLD"
	LabelNoData Label = "No Data" // empty window; recorded, not an error
)

// Actionable reports whether the label is a trade instruction rather than
// an informational outcome.
func (l Label) Actionable() bool { return l == LabelBuy || l == LabelSell }

// Signal is one immutable entry of the signal log: what was decided, and
// when it was recorded. Signals are append-only and never updated.
type Signal struct {
	Timestamp string `json:"timestamp"` // TimestampLayout, local time
	Label     Label  `json:"signal"`
}

// NewSignal stamps a label with the given wall-clock time.
func NewSignal(label Label, at time.Time) Signal {
	return Signal{Timestamp: at.Format(TimestampLayout), Label: label}
}

// JSON encodes the signal for the broadcast and publish paths.
func (s *Signal) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}
