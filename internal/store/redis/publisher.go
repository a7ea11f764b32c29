// Package redis mirrors recorded signals into Redis for live consumers.
// The SQLite log stays the record of truth; everything here is best effort
// and sits off the check path behind a circuit breaker.
package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	"signal-recorder/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	streamKey  = "signals:log"
	latestKey  = "signals:latest"
	pubsubChan = "pub:signals"

	// Bounded mirror of the durable log, not authoritative.
	streamMaxLen     = 4096
	defaultLatestTTL = 30 * time.Minute

	defaultBreakerThreshold = 5
	defaultBreakerCooldown  = 10 * time.Second
)

// PublisherConfig configures the Redis publisher.
type PublisherConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int

	BreakerThreshold int           // consecutive failures before the breaker opens
	BreakerCooldown  time.Duration // wait before the half-open probe
}

// Publisher writes signals to Redis behind a circuit breaker.
type Publisher struct {
	client  *goredis.Client
	breaker *Breaker

	// Callbacks (optional)
	OnPublish func()          // called after each successful pipeline
	OnFailure func(err error) // called on pipeline errors and breaker rejections
}

// NewPublisher creates a Publisher and pings the server.
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	threshold := cfg.BreakerThreshold
	if threshold <= 0 {
		threshold = defaultBreakerThreshold
	}
	cooldown := cfg.BreakerCooldown
	if cooldown <= 0 {
		cooldown = defaultBreakerCooldown
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Publisher{
		client:  client,
		breaker: NewBreaker(threshold, cooldown),
	}, nil
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// Breaker returns the circuit breaker so callers can watch state changes.
func (p *Publisher) Breaker() *Breaker { return p.breaker }

// Run reads signals from ch and publishes them until ctx is cancelled or
// ch is closed. Failed publishes are dropped, never retried: the signal is
// already durable in SQLite before it reaches this channel.
func (p *Publisher) Run(ctx context.Context, ch <-chan model.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-ch:
			if !ok {
				return
			}
			p.Publish(ctx, sig)
		}
	}
}

// Publish pipelines XADD + SET + PUBLISH for one signal through the breaker.
func (p *Publisher) Publish(ctx context.Context, sig model.Signal) {
	err := p.breaker.Do(func() error {
		jsonData := string(sig.JSON())

		pipe := p.client.Pipeline()
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: streamKey,
			MaxLen: streamMaxLen,
			Approx: true,
			Values: map[string]interface{}{"data": jsonData},
		})
		pipe.Set(ctx, latestKey, jsonData, defaultLatestTTL)
		pipe.Publish(ctx, pubsubChan, jsonData)

		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil {
		if err != ErrBreakerOpen {
			log.Printf("[redis] publish pipeline error for %s: %v", sig.Timestamp, err)
		}
		if p.OnFailure != nil {
			p.OnFailure(err)
		}
		return
	}
	if p.OnPublish != nil {
		p.OnPublish()
	}
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
