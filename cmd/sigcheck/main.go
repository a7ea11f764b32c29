// cmd/sigcheck runs one signal check from the command line, or lists the
// recorded log. It uses the same configuration as sigserver, including
// STAGING_MODE, so a check recorded here lands in the same signal log.
//
// Usage:
//
//	go run ./cmd/sigcheck -at "2026-02-26 10:45"
//	go run ./cmd/sigcheck -token 2885 -exchange NSE
//	go run ./cmd/sigcheck -list
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"signal-recorder/config"
	"signal-recorder/internal/logger"
	"signal-recorder/internal/markethours"
	"signal-recorder/internal/model"
	"signal-recorder/internal/recorder"
	"signal-recorder/internal/session"
	"signal-recorder/internal/siglog"
	"signal-recorder/pkg/smartapi"
)

const atLayout = "2006-01-02 15:04"

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	token := flag.String("token", "", "Instrument token (default: DEFAULT_TOKEN)")
	exchange := flag.String("exchange", "", "Exchange (default: DEFAULT_EXCHANGE)")
	at := flag.String("at", "", `Window start, "2006-01-02 15:04" local (default: now)`)
	dbPath := flag.String("db", "", "Signal log path (default: SQLITE_PATH)")
	list := flag.Bool("list", false, "Print every recorded signal and exit")
	flag.Parse()

	cfg := config.Load()
	logger.Init("sigcheck", logger.ParseLevel(cfg.LogLevel))

	path := cfg.SQLitePath
	if *dbPath != "" {
		path = *dbPath
	}
	store := siglog.New(path)

	if *list {
		sigs, err := store.List()
		if err != nil {
			log.Fatalf("[sigcheck] list failed: %v", err)
		}
		if len(sigs) == 0 {
			fmt.Println("no signals recorded")
			return
		}
		for i, s := range sigs {
			fmt.Printf("%4d  %s  %s\n", i+1, s.Timestamp, s.Label)
		}
		return
	}

	inst := model.Instrument{Token: cfg.DefaultToken, Exchange: cfg.DefaultExchange}
	if *token != "" {
		inst.Token = *token
	}
	if *exchange != "" {
		inst.Exchange = *exchange
	}

	atTime := time.Now()
	if *at != "" {
		t, err := time.ParseInLocation(atLayout, *at, time.Local)
		if err != nil {
			log.Fatalf("[sigcheck] bad -at %q: %v", *at, err)
		}
		atTime = t
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var source recorder.CandleSource
	var sess *session.Session
	if cfg.Staging {
		if cfg.CandleAPIURL == "" {
			log.Fatalf("[sigcheck] STAGING_MODE requires CANDLE_API_URL (run cmd/candleserver)")
		}
		client := smartapi.NewClient(smartapi.Config{APIKey: "staging", RootURL: cfg.CandleAPIURL})
		source = &recorder.APISource{Client: client, Interval: cfg.Interval, Span: cfg.IntervalSpan()}
	} else {
		s, err := session.Login(ctx, session.Credentials{
			APIKey:     cfg.AngelAPIKey,
			ClientCode: cfg.AngelClientCode,
			Password:   cfg.AngelPassword,
			TOTPSecret: cfg.AngelTOTPSecret,
		})
		if err != nil {
			log.Fatalf("[sigcheck] broker login failed: %v", err)
		}
		sess = s
		source = &recorder.SessionSource{Session: sess, Interval: cfg.Interval, Span: cfg.IntervalSpan()}
	}

	svc := recorder.New(source, store)
	res, err := svc.Check(ctx, recorder.CheckRequest{Instrument: inst, At: atTime})
	if err != nil {
		log.Fatalf("[sigcheck] check failed: %v", err)
	}

	for _, c := range res.Window {
		fmt.Printf("  %s  O=%.2f H=%.2f L=%.2f C=%.2f V=%d\n",
			c.TS.Format(atLayout), c.Open, c.High, c.Low, c.Close, c.Volume)
	}
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Printf("║  SIGNAL: %-27s ║\n", res.Signal.Label)
	fmt.Printf("║  recorded at %-23s ║\n", res.Signal.Timestamp)
	fmt.Printf("║  window rows: %-22d ║\n", len(res.Window))
	fmt.Println("╚══════════════════════════════════════╝")
	fmt.Printf("market: %s\n", markethours.StatusString(atTime))

	if sess != nil {
		if err := sess.Logout(context.Background()); err != nil {
			log.Printf("[sigcheck] logout failed: %v", err)
		}
	}
}
