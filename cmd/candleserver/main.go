// cmd/candleserver is the staging candle simulator.
//
// It speaks the SmartAPI HTTP contract for the routes the recorder uses
// (login, logout, token renewal, profile, historical candles) so sigserver
// can run with STAGING_MODE=true and no broker account. Candles are a
// random walk quantized to 0.05 ticks, seeded per token and bucket, so
// repeated requests for the same window return identical rows and a check
// re-run classifies the same way.
//
// The simulator does not enforce authentication: candle requests work
// without a login, which is what the staging source does.
//
// Config (env vars):
//
//	CANDLE_SERVER_ADDR : listen address (default ":9100")
//	SIM_ALWAYS_OPEN    : "true" serves candles outside market hours too
package main

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log"
	"math"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"time"

	"signal-recorder/internal/markethours"
)

const reqTimeLayout = "2006-01-02 15:04"

// intervalSpans mirrors the broker's interval names.
var intervalSpans = map[string]time.Duration{
	"ONE_MINUTE":     time.Minute,
	"THREE_MINUTE":   3 * time.Minute,
	"FIVE_MINUTE":    5 * time.Minute,
	"TEN_MINUTE":     10 * time.Minute,
	"FIFTEEN_MINUTE": 15 * time.Minute,
	"THIRTY_MINUTE":  30 * time.Minute,
	"ONE_HOUR":       time.Hour,
	"ONE_DAY":        24 * time.Hour,
}

// basePrices anchors the walk per token (rupees).
var basePrices = map[string]float64{
	"3045":     812.50,   // SBIN
	"2885":     2945.00,  // RELIANCE
	"99926000": 24350.00, // NIFTY 50
}

// ─── Envelope helpers ─────────────────────────────────────────────────────────

func writeData(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":    true,
		"message":   "SUCCESS",
		"errorcode": "",
		"data":      data,
	})
}

func writeErr(w http.ResponseWriter, errorcode, message string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":    false,
		"message":   message,
		"errorcode": errorcode,
		"data":      nil,
	})
}

// ─── Session routes ───────────────────────────────────────────────────────────

var stagingTokens = map[string]string{
	"jwtToken":     "staging-jwt-token",
	"refreshToken": "staging-refresh-token",
	"feedToken":    "staging-feed-token",
}

func handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ClientCode string `json:"clientcode"`
	}
	json.NewDecoder(r.Body).Decode(&body)
	log.Printf("[candleserver] login: %s", body.ClientCode)
	writeData(w, stagingTokens)
}

func handleLogout(w http.ResponseWriter, _ *http.Request) {
	log.Println("[candleserver] logout")
	writeData(w, "logged out")
}

func handleTokens(w http.ResponseWriter, _ *http.Request) {
	writeData(w, stagingTokens)
}

func handleProfile(w http.ResponseWriter, _ *http.Request) {
	writeData(w, map[string]string{
		"clientcode": "STAGING",
		"name":       "Staging User",
		"email":      "staging@localhost",
	})
}

// ─── Candle generation ────────────────────────────────────────────────────────

// quantize snaps a price to the 0.05 tick grid. Equality rules downstream
// only ever fire on quantized prices.
func quantize(p float64) float64 {
	return math.Round(p*20) / 20
}

func basePrice(token string) float64 {
	if p, ok := basePrices[token]; ok {
		return p
	}
	return 1000.00
}

func tokenSeed(token string) int64 {
	h := fnv.New32a()
	h.Write([]byte(token))
	return int64(h.Sum32())
}

// genCandle produces one OHLC row for a bucket. The RNG is seeded from
// token and bucket start so the same request always gets the same row.
func genCandle(token string, bucket time.Time) []any {
	rng := rand.New(rand.NewSource(tokenSeed(token) ^ bucket.Unix()))
	base := basePrice(token)

	open := quantize(base * (1 + (rng.Float64()-0.5)*0.04))
	high, low, price := open, open, open
	for i := 0; i < 6; i++ {
		price = quantize(price * (1 + (rng.Float64()-0.5)*0.004))
		if price > high {
			high = price
		}
		if price < low {
			low = price
		}
	}
	vol := int64(rng.Intn(490_000) + 10_000)

	return []any{bucket.Format(time.RFC3339), open, high, low, price, vol}
}

// firstBucket aligns t up to the next interval boundary measured from that
// day's market open, matching how the broker buckets intraday candles.
func firstBucket(t time.Time, span time.Duration) time.Time {
	open := markethours.TodayOpen(t)
	off := t.Sub(open)
	if off <= 0 {
		return open
	}
	k := off / span
	if off%span != 0 {
		k++
	}
	return open.Add(k * span)
}

func handleCandles(alwaysOpen bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Exchange    string `json:"exchange"`
			SymbolToken string `json:"symboltoken"`
			Interval    string `json:"interval"`
			FromDate    string `json:"fromdate"`
			ToDate      string `json:"todate"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, "AB1004", "invalid request body")
			return
		}

		span, ok := intervalSpans[strings.ToUpper(req.Interval)]
		if !ok {
			writeErr(w, "AB1004", fmt.Sprintf("invalid interval %q", req.Interval))
			return
		}
		from, err := time.ParseInLocation(reqTimeLayout, req.FromDate, markethours.IST)
		if err != nil {
			writeErr(w, "AB1004", fmt.Sprintf("invalid fromdate %q", req.FromDate))
			return
		}
		to, err := time.ParseInLocation(reqTimeLayout, req.ToDate, markethours.IST)
		if err != nil {
			writeErr(w, "AB1004", fmt.Sprintf("invalid todate %q", req.ToDate))
			return
		}

		rows := [][]any{}
		for bucket := firstBucket(from, span); !bucket.After(to); bucket = bucket.Add(span) {
			if !alwaysOpen && !markethours.IsMarketOpen(bucket) {
				continue
			}
			rows = append(rows, genCandle(req.SymbolToken, bucket))
		}

		log.Printf("[candleserver] candles %s:%s %s %s..%s -> %d rows",
			req.Exchange, req.SymbolToken, req.Interval, req.FromDate, req.ToDate, len(rows))
		writeData(w, rows)
	}
}

// ─── main ─────────────────────────────────────────────────────────────────────

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[candleserver] starting candle simulator...")

	addr := envOrDefault("CANDLE_SERVER_ADDR", ":9100")
	alwaysOpen := strings.EqualFold(os.Getenv("SIM_ALWAYS_OPEN"), "true")
	if alwaysOpen {
		log.Println("[candleserver] SIM_ALWAYS_OPEN: serving candles around the clock")
	}

	http.HandleFunc("/rest/auth/angelbroking/user/v1/loginByPassword", handleLogin)
	http.HandleFunc("/rest/secure/angelbroking/user/v1/logout", handleLogout)
	http.HandleFunc("/rest/auth/angelbroking/jwt/v1/generateTokens", handleTokens)
	http.HandleFunc("/rest/secure/angelbroking/user/v1/getProfile", handleProfile)
	http.HandleFunc("/rest/secure/angelbroking/historical/v1/getCandleData", handleCandles(alwaysOpen))
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"candleserver"}`)
	})

	log.Printf("[candleserver] ✅ listening on %s", addr)
	log.Printf("[candleserver] market status: %s", markethours.StatusString(time.Now()))
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("[candleserver] server error: %v", err)
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
