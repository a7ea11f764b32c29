// cmd/sigserver is the signal recorder service.
//
// It serves the check API, classifies one candle window per check, records
// every outcome in the durable signal log, and streams recorded signals to
// websocket clients, the Redis live feed, and notification channels.
//
// Modes:
//
//	production: logs into Angel One with TOTP and fetches real candles
//	staging:    STAGING_MODE=true, fetches from cmd/candleserver, no login
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"signal-recorder/config"
	"signal-recorder/internal/bus"
	"signal-recorder/internal/gateway"
	"signal-recorder/internal/logger"
	"signal-recorder/internal/markethours"
	"signal-recorder/internal/metrics"
	"signal-recorder/internal/model"
	"signal-recorder/internal/notification"
	"signal-recorder/internal/recorder"
	"signal-recorder/internal/session"
	"signal-recorder/internal/siglog"
	redisstore "signal-recorder/internal/store/redis"
	"signal-recorder/pkg/smartapi"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[sigserver] starting signal recorder...")

	cfg := config.Load()
	logger.Init("sigserver", logger.ParseLevel(cfg.LogLevel))

	if cfg.Staging {
		log.Println("[sigserver] *** STAGING MODE *** candle simulator feed, no broker login")
	}

	start := time.Now()

	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	health.SessionRequired = !cfg.Staging
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Durable signal log. Nothing runs without it.
	if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("[sigserver] create data dir: %v", err)
		}
	}
	store := siglog.New(cfg.SQLitePath)
	if err := store.Ping(); err != nil {
		log.Fatalf("[sigserver] signal log unusable: %v", err)
	}
	health.SetSQLiteOK(true)

	// Live publisher is optional. The log is authoritative, so a missing
	// Redis only degrades health, it never blocks checks.
	var pub *redisstore.Publisher
	var rdb *goredis.Client
	if cfg.RedisAddr != "" {
		health.SetRedisEnabled(true)
		p, err := redisstore.NewPublisher(redisstore.PublisherConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			log.Printf("[sigserver] WARNING: redis init failed: %v (continuing without live feed)", err)
		} else {
			pub = p
			rdb = p.Client()
			health.SetRedisConnected(true)
			pub.OnPublish = func() { prom.RedisPublishes.Inc() }
			pub.OnFailure = func(error) { prom.RedisPublishFailures.Inc() }
			pub.Breaker().OnStateChange = func(from, to redisstore.State) {
				log.Printf("[sigserver] redis breaker %s -> %s", from, to)
				prom.RedisBreakerState.Set(float64(to))
				if to == redisstore.StateOpen {
					prom.RedisBreakerTrips.Inc()
				}
			}
		}
	}

	health.StartLivenessChecker(ctx, rdb, store.Ping, 10*time.Second)

	// Candle source: simulator in staging, broker session otherwise.
	var source recorder.CandleSource
	var sess *session.Session
	if cfg.Staging {
		if cfg.CandleAPIURL == "" {
			log.Fatalf("[sigserver] STAGING_MODE requires CANDLE_API_URL (run cmd/candleserver)")
		}
		client := smartapi.NewClient(smartapi.Config{APIKey: "staging", RootURL: cfg.CandleAPIURL})
		source = &recorder.APISource{Client: client, Interval: cfg.Interval, Span: cfg.IntervalSpan()}
		log.Printf("[sigserver] candle source: %s (%s)", cfg.CandleAPIURL, cfg.Interval)
	} else {
		s, err := session.Login(ctx, session.Credentials{
			APIKey:     cfg.AngelAPIKey,
			ClientCode: cfg.AngelClientCode,
			Password:   cfg.AngelPassword,
			TOTPSecret: cfg.AngelTOTPSecret,
		})
		if err != nil {
			log.Fatalf("[sigserver] broker login failed: %v", err)
		}
		sess = s
		health.SetSessionAlive(true)
		prom.SessionAlive.Set(1)
		log.Printf("[sigserver] 🔑 logged in as %s", cfg.AngelClientCode)
		source = &recorder.SessionSource{Session: sess, Interval: cfg.Interval, Span: cfg.IntervalSpan()}
	}

	// Fan-out bus: each delivery path gets its own subscription and loses
	// only its own copy when it falls behind.
	sigBus := bus.New[model.Signal](64)
	sigBus.OnDrop = func(idx int) {
		prom.BusDropsTotal.WithLabelValues(strconv.Itoa(idx)).Inc()
	}

	hub := gateway.NewHub()
	hub.OnClientCount = func(n int) { prom.WSClients.Set(float64(n)) }
	hub.OnMessageSent = func() { prom.WSMessagesSent.Inc() }
	go hub.Run(ctx, sigBus.Subscribe())
	go hub.StartMetricsBroadcast(ctx, start, 2*time.Second)

	notifiers := []notification.Notifier{notification.NewLogNotifier()}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		notifiers = append(notifiers, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
		log.Println("[sigserver] telegram notifier enabled")
	}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(cfg.WebhookURL))
		log.Println("[sigserver] webhook notifier enabled")
	}
	pump := notification.NewPump(notifiers...)
	pump.OnSent = func(channel string) { prom.NotificationsSent.WithLabelValues(channel).Inc() }
	go pump.Run(ctx, sigBus.Subscribe())

	if pub != nil {
		go pub.Run(ctx, sigBus.Subscribe())
	}

	// Bus saturation gauges, sampled every 5s.
	channelNames := []string{"websocket", "notify", "redis"}
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for i, st := range sigBus.ChannelStats() {
					name := "extra"
					if i < len(channelNames) {
						name = channelNames[i]
					}
					if st.Cap > 0 {
						prom.ChannelSaturationPct.WithLabelValues(name).Set(float64(st.Len) / float64(st.Cap) * 100)
					}
				}
			}
		}
	}()

	// Ambient state gauges: market hours, and session liveness in
	// production.
	go func() {
		update := func() {
			open := markethours.IsMarketOpen(time.Now())
			health.SetMarketOpen(open)
			if open {
				prom.MarketState.Set(1)
			} else {
				prom.MarketState.Set(0)
			}
			if sess != nil {
				alive := sess.Alive()
				health.SetSessionAlive(alive)
				if alive {
					prom.SessionAlive.Set(1)
				} else {
					prom.SessionAlive.Set(0)
				}
			}
		}
		update()
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				update()
			}
		}
	}()

	svc := recorder.New(source, store)
	svc.Bus = sigBus
	svc.OnChecked = func(label model.Label, fetchDur, appendDur time.Duration) {
		prom.ChecksTotal.WithLabelValues(string(label)).Inc()
		prom.FetchDur.Observe(fetchDur.Seconds())
		prom.AppendDur.Observe(appendDur.Seconds())
		health.SetLastSignalAt(time.Now())
	}
	svc.OnFailure = func(stage string, err error) {
		prom.CheckFailures.WithLabelValues(stage).Inc()
		go pump.Broadcast(ctx, notification.FailureAlert(stage, err))
	}

	api := &gateway.API{
		Hub:        hub,
		Recorder:   svc,
		Log:        store,
		Health:     health,
		Instrument: model.Instrument{Token: cfg.DefaultToken, Exchange: cfg.DefaultExchange},
		Start:      start,
	}
	mux := http.NewServeMux()
	api.Register(mux)
	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		log.Printf("[sigserver] 📡 api listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[sigserver] api server error: %v", err)
		}
	}()

	log.Println("╔════════════════════════════════════════════╗")
	if cfg.Staging {
		log.Println("║  SIGNAL RECORDER READY  (staging mode)     ║")
	} else {
		log.Println("║  SIGNAL RECORDER READY  (production)       ║")
	}
	log.Println("╚════════════════════════════════════════════╝")
	log.Printf("[sigserver] default instrument %s:%s, interval %s",
		cfg.DefaultExchange, cfg.DefaultToken, cfg.Interval)
	log.Printf("[sigserver] market status: %s", markethours.StatusString(time.Now()))

	<-sigCh
	log.Println("[sigserver] shutdown signal received...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	srv.Shutdown(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)
	if pub != nil {
		pub.Close()
	}
	if sess != nil {
		if err := sess.Logout(shutdownCtx); err != nil {
			log.Printf("[sigserver] logout failed: %v", err)
		}
	}
	log.Println("[sigserver] shutdown complete.")
}
