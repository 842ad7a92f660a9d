// Package cache mirrors served prices and mutation events into Redis for
// dashboards and downstream consumers. It sits outside the read path: a
// Redis outage never affects a price read, and nothing is ever read back
// from Redis to answer one.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/driftwoodfi/oracled/internal/oracle"
)

// Config holds publisher settings.
type Config struct {
	Addr      string
	Password  string
	DB        int
	Channel   string
	KeyPrefix string
	Timeout   time.Duration
}

// Publisher is an oracle.EventSink that also mirrors price readings.
type Publisher struct {
	client  *redis.Client
	channel string
	prefix  string
	timeout time.Duration
	log     zerolog.Logger
}

// NewPublisher dials Redis with the given config.
func NewPublisher(cfg Config, log zerolog.Logger) *Publisher {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewPublisherWithClient(client, cfg, log)
}

// NewPublisherWithClient wraps an existing client; tests inject a mock.
func NewPublisherWithClient(client *redis.Client, cfg Config, log zerolog.Logger) *Publisher {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 500 * time.Millisecond
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "oracled"
	}
	channel := cfg.Channel
	if channel == "" {
		channel = "oracled.events"
	}
	return &Publisher{
		client:  client,
		channel: channel,
		prefix:  prefix,
		timeout: timeout,
		log:     log,
	}
}

// Publish implements oracle.EventSink: every mutation goes out on the
// events channel. Failures are logged and dropped.
func (p *Publisher) Publish(ev oracle.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.log.Error().Err(err).Str("event_id", ev.ID).Msg("marshal event for redis")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		p.log.Warn().Err(err).Str("event_id", ev.ID).Msg("redis event publish failed")
	}
}

// readingSnapshot is the JSON shape stored under the price key.
type readingSnapshot struct {
	Asset      string    `json:"asset"`
	Price      string    `json:"price"`
	IsAlive    bool      `json:"is_alive"`
	ObservedAt time.Time `json:"observed_at"`
}

// SnapshotReading stores the latest served reading under a stable key.
func (p *Publisher) SnapshotReading(asset oracle.Asset, reading oracle.PriceReading, at time.Time) {
	snap := readingSnapshot{
		Asset:      string(asset),
		Price:      reading.Price.Dec(),
		IsAlive:    reading.IsAlive,
		ObservedAt: at,
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		p.log.Error().Err(err).Str("asset", string(asset)).Msg("marshal reading for redis")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	key := p.prefix + ":price:" + string(asset)
	if err := p.client.Set(ctx, key, payload, 0).Err(); err != nil {
		p.log.Warn().Err(err).Str("asset", string(asset)).Msg("redis snapshot failed")
	}
}

// Close releases the client.
func (p *Publisher) Close() error { return p.client.Close() }
