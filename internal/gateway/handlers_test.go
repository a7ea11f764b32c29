package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"signal-recorder/internal/metrics"
	"signal-recorder/internal/model"
	"signal-recorder/internal/recorder"
	"signal-recorder/internal/siglog"
)

type stubSource struct {
	window model.Window
	err    error
}

func (s *stubSource) FetchWindow(context.Context, model.Instrument, time.Time) (model.Window, error) {
	return s.window, s.err
}

// buyWindow classifies BUY: first row open == low.
func buyWindow() model.Window {
	return model.Window{
		{TS: time.Date(2026, 2, 26, 10, 45, 0, 0, time.Local), Open: 100, High: 105, Low: 100, Close: 103, Volume: 500},
		{TS: time.Date(2026, 2, 26, 11, 0, 0, 0, time.Local), Open: 103, High: 104, Low: 101, Close: 101, Volume: 400},
	}
}

func newTestAPI(t *testing.T, src recorder.CandleSource) (*API, *siglog.Store) {
	t.Helper()
	store := siglog.New(filepath.Join(t.TempDir(), "signals.db"))
	health := metrics.NewHealthStatus()
	health.SetSQLiteOK(true)
	return &API{
		Hub:        NewHub(),
		Recorder:   recorder.New(src, store),
		Log:        store,
		Health:     health,
		Instrument: model.Instrument{Token: "3045", Exchange: "NSE"},
		Start:      time.Now(),
	}, store
}

func newTestServer(t *testing.T, src recorder.CandleSource) (*httptest.Server, *API, *siglog.Store) {
	t.Helper()
	a, store := newTestAPI(t, src)
	mux := http.NewServeMux()
	a.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, a, store
}

func TestHandleCheck_RecordsSignal(t *testing.T) {
	srv, _, store := newTestServer(t, &stubSource{window: buyWindow()})

	resp, err := http.Post(srv.URL+"/api/signals/check", "application/json",
		strings.NewReader(`{"at":"2026-02-26 10:45"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}

	var got checkResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Signal.Label != model.LabelBuy {
		t.Errorf("label: got %q, want BUY", got.Signal.Label)
	}
	if got.WindowRows != 2 {
		t.Errorf("window_rows: got %d, want 2", got.WindowRows)
	}
	if got.MarketStatus == "" {
		t.Error("market_status is empty")
	}

	sigs, err := store.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sigs) != 1 {
		t.Fatalf("log rows: got %d, want 1", len(sigs))
	}
	if sigs[0] != got.Signal {
		t.Errorf("logged %+v, response %+v", sigs[0], got.Signal)
	}
}

func TestHandleCheck_EmptyBodyUsesDefaults(t *testing.T) {
	srv, _, store := newTestServer(t, &stubSource{}) // empty window -> No Data

	resp, err := http.Post(srv.URL+"/api/signals/check", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}

	var got checkResponse
	json.NewDecoder(resp.Body).Decode(&got)
	if got.Signal.Label != model.LabelNoData {
		t.Errorf("label: got %q, want No Data", got.Signal.Label)
	}

	if n, _ := store.Count(); n != 1 {
		t.Errorf("log rows: got %d, want 1", n)
	}
}

func TestHandleCheck_BadTimestamp(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubSource{window: buyWindow()})

	resp, err := http.Post(srv.URL+"/api/signals/check", "application/json",
		strings.NewReader(`{"at":"26-02-2026 10:45"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", resp.StatusCode)
	}
}

func TestHandleCheck_MethodNotAllowed(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubSource{})

	resp, err := http.Get(srv.URL + "/api/signals/check")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", resp.StatusCode)
	}
}

func TestHandleCheck_FetchFailure(t *testing.T) {
	srv, _, store := newTestServer(t, &stubSource{err: errors.New("api down")})

	resp, err := http.Post(srv.URL+"/api/signals/check", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status: got %d, want 502", resp.StatusCode)
	}

	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if !strings.Contains(body["error"], "api down") {
		t.Errorf("error body: got %q", body["error"])
	}

	if n, _ := store.Count(); n != 0 {
		t.Errorf("log rows after failed check: got %d, want 0", n)
	}
}

func TestHandleCheck_DeadSessionUnavailable(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubSource{err: recorder.ErrSessionDead})

	resp, err := http.Post(srv.URL+"/api/signals/check", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status: got %d, want 503", resp.StatusCode)
	}
}

func TestHandleSignals_EmptyAndOrdered(t *testing.T) {
	srv, _, store := newTestServer(t, &stubSource{})

	resp, err := http.Get(srv.URL + "/api/signals")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var empty []model.Signal
	json.NewDecoder(resp.Body).Decode(&empty)
	resp.Body.Close()
	if len(empty) != 0 {
		t.Fatalf("empty log: got %d rows", len(empty))
	}

	want := []model.Signal{
		{Timestamp: "2026-02-26 10:45:07", Label: model.LabelBuy},
		{Timestamp: "2026-02-26 11:00:12", Label: model.LabelHold},
		{Timestamp: "2026-02-26 11:15:03", Label: model.LabelSell},
	}
	for _, sig := range want {
		if err := store.Append(sig); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	resp, err = http.Get(srv.URL + "/api/signals")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var got []model.Signal
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("rows: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("row %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestHandleLatest(t *testing.T) {
	srv, _, store := newTestServer(t, &stubSource{})

	resp, err := http.Get(srv.URL + "/api/signals/latest")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("empty log status: got %d, want 404", resp.StatusCode)
	}

	store.Append(model.Signal{Timestamp: "2026-02-26 10:45:07", Label: model.LabelBuy})
	store.Append(model.Signal{Timestamp: "2026-02-26 11:00:12", Label: model.LabelSell})

	resp, err = http.Get(srv.URL + "/api/signals/latest")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}

	var got model.Signal
	json.NewDecoder(resp.Body).Decode(&got)
	if got.Label != model.LabelSell {
		t.Errorf("latest label: got %q, want SELL", got.Label)
	}
}

func TestHandleMarket(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubSource{})

	resp, err := http.Get(srv.URL + "/api/market")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}

	var got map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"open", "trading_day", "status", "ts"} {
		if _, ok := got[key]; !ok {
			t.Errorf("missing key %q in %v", key, got)
		}
	}
	if got["status"] == "" {
		t.Error("status is empty")
	}
}

func TestHandleMetrics_TracksCheckLatency(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubSource{window: buyWindow()})

	if _, err := http.Post(srv.URL+"/api/signals/check", "application/json", nil); err != nil {
		t.Fatalf("post: %v", err)
	}

	resp, err := http.Get(srv.URL + "/api/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var got metricsResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.CheckSamples < 1 {
		t.Errorf("check_samples: got %d, want >= 1", got.CheckSamples)
	}
	if got.WSClients != 0 {
		t.Errorf("ws_clients: got %d, want 0", got.WSClients)
	}
	if got.Goroutines <= 0 {
		t.Errorf("goroutines: got %d, want > 0", got.Goroutines)
	}
}

func TestHandleHealth(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubSource{})

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}

	var got struct {
		Status   string `json:"status"`
		SQLiteOK bool   `json:"sqlite_ok"`
	}
	json.NewDecoder(resp.Body).Decode(&got)
	if got.Status != "healthy" {
		t.Errorf("status: got %q, want healthy", got.Status)
	}
	if !got.SQLiteOK {
		t.Error("sqlite_ok: got false, want true")
	}
}
