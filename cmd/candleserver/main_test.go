package main

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"signal-recorder/internal/markethours"
)

func TestQuantize(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{812.512, 812.50},
		{812.53, 812.55},
		{100.00, 100.00},
		{2945.026, 2945.05},
		{0.024, 0.00},
	}
	for _, tc := range cases {
		if got := quantize(tc.in); got != tc.want {
			t.Errorf("quantize(%v): got %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestGenCandle_Deterministic(t *testing.T) {
	bucket := time.Date(2026, 2, 26, 10, 30, 0, 0, markethours.IST)

	a := genCandle("3045", bucket)
	b := genCandle("3045", bucket)
	if !reflect.DeepEqual(a, b) {
		t.Errorf("same token and bucket produced different rows:\n%v\n%v", a, b)
	}

	// Base prices 812.50 and 2945.00 walk within ±2%, so the opens of
	// different tokens can never coincide.
	other := genCandle("2885", bucket)
	if a[1].(float64) == other[1].(float64) {
		t.Errorf("different tokens share an open: %v", a[1])
	}
}

func TestGenCandle_RowShape(t *testing.T) {
	bucket := time.Date(2026, 2, 26, 9, 30, 0, 0, markethours.IST)

	for i := 0; i < 10; i++ {
		row := genCandle("99926000", bucket.Add(time.Duration(i)*15*time.Minute))
		if len(row) != 6 {
			t.Fatalf("row length: got %d, want 6", len(row))
		}

		ts, ok := row[0].(string)
		if !ok {
			t.Fatalf("row[0] is %T, want string", row[0])
		}
		if _, err := time.Parse(time.RFC3339, ts); err != nil {
			t.Errorf("timestamp %q is not RFC3339: %v", ts, err)
		}

		open := row[1].(float64)
		high := row[2].(float64)
		low := row[3].(float64)
		clos := row[4].(float64)
		if low > open || low > clos || high < open || high < clos || low > high {
			t.Errorf("OHLC out of order: o=%v h=%v l=%v c=%v", open, high, low, clos)
		}
		for _, p := range []float64{open, high, low, clos} {
			if math.Abs(p*20-math.Round(p*20)) > 1e-9 {
				t.Errorf("price %v is off the 0.05 tick grid", p)
			}
		}

		vol := row[5].(int64)
		if vol < 10_000 || vol >= 500_000 {
			t.Errorf("volume %d outside [10000, 500000)", vol)
		}
	}
}

func TestFirstBucket(t *testing.T) {
	day := time.Date(2026, 2, 26, 0, 0, 0, 0, markethours.IST)
	at := func(hh, mm int) time.Time {
		return day.Add(time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute)
	}

	cases := []struct {
		name string
		t    time.Time
		span time.Duration
		want time.Time
	}{
		{"at_open", at(9, 15), 15 * time.Minute, at(9, 15)},
		{"before_open", at(8, 0), 15 * time.Minute, at(9, 15)},
		{"mid_interval_rounds_up", at(9, 16), 15 * time.Minute, at(9, 30)},
		{"on_boundary", at(10, 0), 15 * time.Minute, at(10, 0)},
		{"five_minute_grid", at(9, 22), 5 * time.Minute, at(9, 25)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := firstBucket(tc.t, tc.span); !got.Equal(tc.want) {
				t.Errorf("firstBucket(%v, %v): got %v, want %v", tc.t, tc.span, got, tc.want)
			}
		})
	}
}

type candleEnvelope struct {
	Status    bool            `json:"status"`
	ErrorCode string          `json:"errorcode"`
	Data      json.RawMessage `json:"data"`
}

// candleReq posts one getCandleData request and decodes the envelope.
func candleReq(t *testing.T, h http.HandlerFunc, body map[string]string) candleEnvelope {
	t.Helper()
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/rest/secure/angelbroking/historical/v1/getCandleData",
		bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	h(rec, req)

	var env candleEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("response is not an envelope: %v\nraw: %s", err, rec.Body.String())
	}
	return env
}

func TestHandleCandles_SessionWindow(t *testing.T) {
	h := handleCandles(false)
	body := map[string]string{
		"exchange":    "NSE",
		"symboltoken": "3045",
		"interval":    "FIFTEEN_MINUTE",
		"fromdate":    "2026-02-26 10:00",
		"todate":      "2026-02-26 11:00",
	}

	env := candleReq(t, h, body)
	if !env.Status {
		t.Fatalf("status false, data: %s", env.Data)
	}

	var rows [][]any
	if err := json.Unmarshal(env.Data, &rows); err != nil {
		t.Fatalf("data is not a row array: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("rows: got %d, want 5 (10:00 through 11:00)", len(rows))
	}
	if ts := rows[0][0].(string); ts != "2026-02-26T10:00:00+05:30" {
		t.Errorf("first bucket: got %q", ts)
	}

	// The same request must return byte-identical rows.
	again := candleReq(t, h, body)
	if !bytes.Equal(env.Data, again.Data) {
		t.Error("identical requests returned different windows")
	}
}

func TestHandleCandles_OffHoursEmpty(t *testing.T) {
	h := handleCandles(false)
	env := candleReq(t, h, map[string]string{
		"exchange":    "NSE",
		"symboltoken": "3045",
		"interval":    "FIFTEEN_MINUTE",
		"fromdate":    "2026-02-28 10:00", // Saturday
		"todate":      "2026-02-28 11:00",
	})
	if !env.Status {
		t.Fatal("status false for an off-hours window")
	}

	// Empty means [], not null: the recorder classifies it as "No Data".
	var rows [][]any
	if err := json.Unmarshal(env.Data, &rows); err != nil {
		t.Fatalf("data is not a row array: %v", err)
	}
	if rows == nil || len(rows) != 0 {
		t.Errorf("off-hours rows: got %v, want empty array", rows)
	}
	if len(env.Data) == 0 || env.Data[0] != '[' {
		t.Errorf("off-hours data should be a JSON array, got %s", env.Data)
	}
}

func TestHandleCandles_AlwaysOpenIgnoresCalendar(t *testing.T) {
	h := handleCandles(true)
	env := candleReq(t, h, map[string]string{
		"exchange":    "NSE",
		"symboltoken": "3045",
		"interval":    "FIFTEEN_MINUTE",
		"fromdate":    "2026-02-28 10:00", // Saturday
		"todate":      "2026-02-28 11:00",
	})
	if !env.Status {
		t.Fatal("status false")
	}
	var rows [][]any
	if err := json.Unmarshal(env.Data, &rows); err != nil {
		t.Fatalf("data is not a row array: %v", err)
	}
	if len(rows) != 5 {
		t.Errorf("always-open rows: got %d, want 5", len(rows))
	}
}

func TestHandleCandles_BadRequest(t *testing.T) {
	h := handleCandles(false)

	cases := []struct {
		name string
		body map[string]string
	}{
		{"bad_interval", map[string]string{
			"interval": "SEVEN_MINUTE", "fromdate": "2026-02-26 10:00", "todate": "2026-02-26 11:00",
		}},
		{"bad_fromdate", map[string]string{
			"interval": "FIFTEEN_MINUTE", "fromdate": "26-02-2026", "todate": "2026-02-26 11:00",
		}},
		{"bad_todate", map[string]string{
			"interval": "FIFTEEN_MINUTE", "fromdate": "2026-02-26 10:00", "todate": "later",
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := candleReq(t, h, tc.body)
			if env.Status {
				t.Error("expected status false")
			}
			if env.ErrorCode != "AB1004" {
				t.Errorf("errorcode: got %q, want AB1004", env.ErrorCode)
			}
		})
	}
}
