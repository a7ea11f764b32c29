package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"signal-recorder/internal/markethours"
	"signal-recorder/internal/metrics"
	"signal-recorder/internal/model"
	"signal-recorder/internal/recorder"
	"signal-recorder/internal/siglog"
)

// checkTimeLayout is the minute-precision layout accepted by the check
// endpoint for the window start. Parsed in local time, like the recorder's
// own timestamps.
const checkTimeLayout = "2006-01-02 15:04"

// API bundles the dependencies of the REST surface.
type API struct {
	Hub      *Hub
	Recorder *recorder.Service
	Log      *siglog.Store
	Health   *metrics.HealthStatus

	// Instrument is checked when a request names no token.
	Instrument model.Instrument
	Start      time.Time
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// Register mounts all gateway routes on mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("/ws", a.Hub.HandleWS)
	mux.HandleFunc("/api/signals/check", a.handleCheck)
	mux.HandleFunc("/api/signals", a.handleSignals)
	mux.HandleFunc("/api/signals/latest", a.handleLatest)
	mux.HandleFunc("/api/market", a.handleMarket)
	mux.HandleFunc("/api/metrics", a.handleMetrics)
	mux.HandleFunc("/health", a.handleHealth)
}

type checkRequest struct {
	Token    string `json:"token"`
	Exchange string `json:"exchange"`
	At       string `json:"at"` // checkTimeLayout, local; empty means now
}

type checkResponse struct {
	Signal       model.Signal `json:"signal"`
	WindowRows   int          `json:"window_rows"`
	MarketOpen   bool         `json:"market_open"`
	MarketStatus string       `json:"market_status"`
}

// handleCheck runs one check: fetch, classify, record. The response carries
// the recorded signal; market state is annotation only and never blocks the
// check (an off-hours fetch comes back empty and records "No Data").
func (a *API) handleCheck(w http.ResponseWriter, r *http.Request) {
	SetCORS(w)
	w.Header().Set("Content-Type", "application/json")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"POST only"}`, http.StatusMethodNotAllowed)
		return
	}

	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}

	inst := a.Instrument
	if req.Token != "" {
		inst.Token = req.Token
	}
	if req.Exchange != "" {
		inst.Exchange = req.Exchange
	}

	at := time.Now()
	if req.At != "" {
		parsed, err := time.ParseInLocation(checkTimeLayout, req.At, time.Local)
		if err != nil {
			http.Error(w, `{"error":"at must use layout 2006-01-02 15:04"}`, http.StatusBadRequest)
			return
		}
		at = parsed
	}

	start := time.Now()
	res, err := a.Recorder.Check(r.Context(), recorder.CheckRequest{Instrument: inst, At: at})
	if a.Hub != nil && a.Hub.Latency != nil {
		a.Hub.Latency.Record(time.Since(start))
	}
	if err != nil {
		log.Printf("[gateway] check failed for %s: %v", inst.Key(), err)
		code := http.StatusBadGateway
		if errors.Is(err, recorder.ErrSessionDead) {
			code = http.StatusServiceUnavailable
		}
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}

	now := time.Now()
	json.NewEncoder(w).Encode(checkResponse{
		Signal:       res.Signal,
		WindowRows:   len(res.Window),
		MarketOpen:   markethours.IsMarketOpen(now),
		MarketStatus: markethours.StatusString(now),
	})
}

// handleSignals returns the full signal history in insertion order.
func (a *API) handleSignals(w http.ResponseWriter, r *http.Request) {
	SetCORS(w)
	w.Header().Set("Content-Type", "application/json")

	sigs, err := a.Log.List()
	if err != nil {
		log.Printf("[gateway] signal list failed: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	if sigs == nil {
		sigs = []model.Signal{}
	}
	json.NewEncoder(w).Encode(sigs)
}

// handleLatest returns the most recent signal, 404 when none exist.
func (a *API) handleLatest(w http.ResponseWriter, r *http.Request) {
	SetCORS(w)
	w.Header().Set("Content-Type", "application/json")

	sig, ok, err := a.Log.Latest()
	if err != nil {
		log.Printf("[gateway] latest signal failed: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "no signals recorded"})
		return
	}
	json.NewEncoder(w).Encode(sig)
}

// handleMarket reports the trading session state.
func (a *API) handleMarket(w http.ResponseWriter, r *http.Request) {
	SetCORS(w)
	w.Header().Set("Content-Type", "application/json")

	now := time.Now()
	resp := map[string]interface{}{
		"open":        markethours.IsMarketOpen(now),
		"trading_day": markethours.IsTradingDay(now),
		"status":      markethours.StatusString(now),
		"ts":          now.Format(time.RFC3339),
	}
	if name := markethours.HolidayName(now); name != "" {
		resp["holiday"] = name
	}
	if !markethours.IsMarketOpen(now) {
		resp["next_open"] = markethours.NextOpen(now).Format(time.RFC3339)
	}
	json.NewEncoder(w).Encode(resp)
}

// metricsResponse flattens the system snapshot with check latency and
// feed stats.
type metricsResponse struct {
	SystemMetrics
	CheckSamples int     `json:"check_samples"`
	CheckP50Ms   float64 `json:"check_p50_ms"`
	CheckP95Ms   float64 `json:"check_p95_ms"`
	CheckP99Ms   float64 `json:"check_p99_ms"`
	WSClients    int     `json:"ws_clients"`
}

// handleMetrics serves a JSON snapshot of process load and check latency.
func (a *API) handleMetrics(w http.ResponseWriter, r *http.Request) {
	SetCORS(w)
	w.Header().Set("Content-Type", "application/json")

	resp := metricsResponse{SystemMetrics: CollectMetrics(a.Start)}
	if a.Hub != nil {
		resp.WSClients = a.Hub.ClientCount()
		if a.Hub.Latency != nil {
			s := a.Hub.Latency.Summary()
			resp.CheckSamples = s.Count
			resp.CheckP50Ms, resp.CheckP95Ms, resp.CheckP99Ms = s.P50, s.P95, s.P99
		}
	}
	json.NewEncoder(w).Encode(resp)
}

// handleHealth exposes the shared health status on the gateway port.
func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	SetCORS(w)
	a.Health.ServeHTTP(w, r)
}
