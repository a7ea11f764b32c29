package model

import (
	"encoding/json"
	"time"
)

// Candle represents one interval OHLC candle as returned by the broker's
// historical-data API. Prices stay float64: the classifier compares the
// exact values the API reports, so no paise conversion happens here.
type Candle struct {
	TS     time.Time `json:"ts"` // bucket start time (exchange local)
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// JSON encodes the candle, swallowing the marshal error: the struct has
// no unmarshalable fields.
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// Window is the ordered candle set returned by a single historical fetch.
// Classification reads the first row's open/high/low and the last row's
// close, so order must be preserved exactly as fetched.
type Window []Candle

// Empty reports whether the fetch returned no rows.
func (w Window) Empty() bool { return len(w) == 0 }

// First returns the first candle of the window. Zero value when empty.
func (w Window) First() Candle {
	if len(w) == 0 {
		return Candle{}
	}
	return w[0]
}

// Last returns the last candle of the window. Zero value when empty.
func (w Window) Last() Candle {
	if len(w) == 0 {
		return Candle{}
	}
	return w[len(w)-1]
}
