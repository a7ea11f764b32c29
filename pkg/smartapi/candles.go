package smartapi

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// apiTimeLayout is the fromdate/todate format the historical endpoint
// expects (minute precision, exchange local time).
const apiTimeLayout = "2006-01-02 15:04"

// CandleParams selects one historical window.
type CandleParams struct {
	Exchange    string // e.g. NSE
	SymbolToken string // instrument token, e.g. 3045
	Interval    string // e.g. FIFTEEN_MINUTE
	From        time.Time
	To          time.Time
}

// Candle is one row of historical data, exactly as the API reports it.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}

// GetCandleData fetches the window described by p. An empty window is a
// normal outcome (nil slice, nil error): the backend reports success with
// no rows when nothing traded in the requested range.
func (c *Client) GetCandleData(ctx context.Context, p CandleParams) ([]Candle, error) {
	env, err := c.post(ctx, "api.candle.data", map[string]string{
		"exchange":    p.Exchange,
		"symboltoken": p.SymbolToken,
		"interval":    p.Interval,
		"fromdate":    p.From.Format(apiTimeLayout),
		"todate":      p.To.Format(apiTimeLayout),
	})
	if err != nil {
		return nil, err
	}
	return parseCandleRows(env.Data)
}

// parseCandleRows decodes the API's row format:
// [["2021-02-08T09:15:00+05:30", open, high, low, close, volume], ...]
func parseCandleRows(data json.RawMessage) ([]Candle, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var rows [][]any
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("smartapi: parse candle rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	candles := make([]Candle, 0, len(rows))
	for i, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("smartapi: candle row %d: want 6 fields, got %d", i, len(row))
		}
		tsStr, ok := row[0].(string)
		if !ok {
			return nil, fmt.Errorf("smartapi: candle row %d: timestamp is %T, want string", i, row[0])
		}
		ts, err := time.Parse(time.RFC3339, tsStr)
		if err != nil {
			return nil, fmt.Errorf("smartapi: candle row %d: parse timestamp %q: %w", i, tsStr, err)
		}

		nums := make([]float64, 5)
		for j := 1; j <= 5; j++ {
			f, ok := row[j].(float64)
			if !ok {
				return nil, fmt.Errorf("smartapi: candle row %d field %d: %T is not a number", i, j, row[j])
			}
			nums[j-1] = f
		}

		candles = append(candles, Candle{
			Timestamp: ts,
			Open:      nums[0],
			High:      nums[1],
			Low:       nums[2],
			Close:     nums[3],
			Volume:    int64(nums[4]),
		})
	}
	return candles, nil
}
