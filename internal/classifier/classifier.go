// Package classifier turns one fetched candle window into a trading label.
//
// The rules form a strict priority chain: they are evaluated top to bottom
// and the first match wins. All comparisons are exact float64 equality on
// the values the data API returned. No tolerance is applied, so two prices
// that differ in the last decimal are simply not equal. The rule set and
// its ordering are load-bearing; reordering changes the output.
package classifier

import "signal-recorder/internal/model"

// Classify maps a candle window to a label.
//
// The first candle of the window supplies open/high/low; the last candle
// supplies the previous close. On a single-row window the two candles are
// the same row, which makes the prevClose comparisons self-referential.
// That is intentional and matches the recorded history this log continues.
func Classify(w model.Window) model.Label {
	if w.Empty() {
		return model.LabelNoData
	}

	first := w.First()
	open, high, low := first.Open, first.High, first.Low
	prevClose := w.Last().Close

	switch {
	case open == low && prevClose == open:
		return model.LabelBuy
	case open == low:
		return model.LabelBuy
	case prevClose == high:
		return model.LabelSell
	case open == high:
		return model.LabelSell
	case prevClose == open && open == high:
		// never matches: open == high is already claimed two cases up.
		// Kept so the chain reads in the historical rule order.
		return model.LabelSell
	case low == prevClose:
		return model.LabelBuy
	default:
		return model.LabelHold
	}
}
