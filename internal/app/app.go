// Package app wires configuration into a running oracled instance: feed
// clients, adapters, composite combiners, the aggregator, event sinks, and
// the HTTP server.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"github.com/driftwoodfi/oracled/internal/auth"
	"github.com/driftwoodfi/oracled/internal/cache"
	"github.com/driftwoodfi/oracled/internal/config"
	httpapi "github.com/driftwoodfi/oracled/internal/interfaces/http"
	"github.com/driftwoodfi/oracled/internal/metrics"
	"github.com/driftwoodfi/oracled/internal/oracle"
	"github.com/driftwoodfi/oracled/internal/oracle/feed"
	"github.com/driftwoodfi/oracled/internal/persistence"
)

// bootstrapActor names the identity used for configuration-driven wiring at
// startup, so audit events distinguish boot-time setup from operator action.
const bootstrapActor = "bootstrap"

// App holds every wired component for the lifetime of the process.
type App struct {
	Config     *config.Config
	Log        zerolog.Logger
	Aggregator *oracle.Aggregator
	Sources    map[string]oracle.PriceSource
	Adapters   map[string]*oracle.Adapter
	Thresholds map[string]*oracle.ThresholdedAdapter
	Composites map[string]*oracle.CompositeAdapter
	Metrics    *metrics.Registry
	Bus        *oracle.Bus
	Server     *httpapi.Server

	publisher *cache.Publisher
	db        *persistence.Manager
	audit     *persistence.Sink
}

// New builds the full component graph from a validated config. It connects
// to postgres and redis when enabled, then assembles the price topology in
// dependency order: sinks, feeds, adapters, composites, aggregator, routes.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	a := &App{
		Config:     cfg,
		Log:        log,
		Sources:    make(map[string]oracle.PriceSource),
		Adapters:   make(map[string]*oracle.Adapter),
		Thresholds: make(map[string]*oracle.ThresholdedAdapter),
		Composites: make(map[string]*oracle.CompositeAdapter),
		Metrics:    metrics.New(),
		Bus:        oracle.NewBus(),
	}

	db, err := persistence.NewManager(ctx, persistence.Config{
		Enabled:         cfg.Database.Enabled,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Database.ConnMaxLifetime) * time.Second,
		QueryTimeout:    time.Duration(cfg.Database.QueryTimeoutSecs) * time.Second,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	a.db = db

	sinks := oracle.Sinks{
		oracle.LogSink{Log: log},
		a.Metrics,
		a.Bus,
	}
	if db.Enabled() {
		a.audit = persistence.NewSink(db.Repos().Audit, log)
		sinks = append(sinks, a.audit)
	}
	if cfg.Redis.Enabled {
		a.publisher = cache.NewPublisher(cache.Config{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Channel:   cfg.Redis.Channel,
			KeyPrefix: cfg.Redis.KeyPrefix,
			Timeout:   time.Duration(cfg.Redis.TimeoutMS) * time.Millisecond,
		}, log)
		sinks = append(sinks, a.publisher)
	}

	boot := auth.NewContext(bootstrapActor, auth.RoleOracleManager)

	for _, spec := range cfg.Oracle.Adapters {
		if err := a.buildAdapter(spec, sinks, boot); err != nil {
			return nil, err
		}
	}
	for _, spec := range cfg.Oracle.Composites {
		if err := a.buildComposite(spec, sinks, boot); err != nil {
			return nil, err
		}
	}

	a.Aggregator = oracle.NewAggregator(oracle.AggregatorConfig{
		Decimals:           cfg.Oracle.Decimals,
		OverrideExpiration: cfg.OverrideExpiration(),
		Events:             sinks,
		Reads:              a.Metrics,
		Log:                log,
	})
	for _, route := range cfg.Oracle.Routes {
		source, ok := a.Sources[route.Source]
		if !ok {
			return nil, fmt.Errorf("route %s: unknown source %q", route.Asset, route.Source)
		}
		if err := a.Aggregator.SetOracle(boot, oracle.Asset(route.Asset), source); err != nil {
			return nil, fmt.Errorf("route %s: %w", route.Asset, err)
		}
	}

	keys, err := buildKeyring(cfg.Auth)
	if err != nil {
		return nil, err
	}

	a.Server = httpapi.NewServer(httpapi.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSecs) * time.Second,
	}, httpapi.Deps{
		Aggregator: a.Aggregator,
		Sources:    a.Sources,
		Adapters:   a.Adapters,
		Thresholds: a.Thresholds,
		Metrics:    a.Metrics,
		Bus:        a.Bus,
		Publisher:  a.publisher,
		DB:         a.db,
		Keys:       keys,
		Log:        log,
	})
	return a, nil
}

func (a *App) buildAdapter(spec config.AdapterSpec, sinks oracle.EventSink, boot auth.Context) error {
	adapter := oracle.NewAdapter(oracle.AdapterConfig{
		Name:           spec.Name,
		Decimals:       a.Config.Oracle.Decimals,
		Heartbeat:      spec.Heartbeat(),
		StaleTimeLimit: spec.StaleTimeLimit(),
		Events:         sinks,
		Log:            a.Log.With().Str("adapter", spec.Name).Logger(),
	})

	for _, fs := range spec.Feeds {
		f, err := a.buildFeed(fs)
		if err != nil {
			return fmt.Errorf("adapter %s: %w", spec.Name, err)
		}
		if err := adapter.SetFeed(boot, oracle.Asset(fs.Asset), f); err != nil {
			return fmt.Errorf("adapter %s asset %s: %w", spec.Name, fs.Asset, err)
		}
	}
	a.Adapters[spec.Name] = adapter

	// Adapters without thresholds are registered bare; ones with
	// thresholds are registered behind the clamping decorator.
	if len(spec.Thresholds) == 0 {
		a.Sources[spec.Name] = adapter
		return nil
	}

	thresholded := oracle.NewThresholdedAdapter(oracle.ThresholdedAdapterConfig{
		Name:   spec.Name,
		Inner:  adapter,
		Events: sinks,
		Log:    a.Log.With().Str("adapter", spec.Name).Logger(),
	})
	for _, th := range spec.Thresholds {
		cfg, err := parseThreshold(&th.ThresholdValues)
		if err != nil {
			return fmt.Errorf("adapter %s asset %s: %w", spec.Name, th.Asset, err)
		}
		if err := thresholded.SetThresholdConfig(boot, oracle.Asset(th.Asset), cfg); err != nil {
			return fmt.Errorf("adapter %s asset %s: %w", spec.Name, th.Asset, err)
		}
	}
	a.Thresholds[spec.Name] = thresholded
	a.Sources[spec.Name] = thresholded
	return nil
}

func (a *App) buildComposite(spec config.CompositeSpec, sinks oracle.EventSink, boot auth.Context) error {
	combiner := oracle.NewCompositeAdapter(oracle.CompositeAdapterConfig{
		Name:           spec.Name,
		Decimals:       a.Config.Oracle.Decimals,
		Heartbeat:      spec.Heartbeat(),
		StaleTimeLimit: spec.StaleTimeLimit(),
		Events:         sinks,
		Log:            a.Log.With().Str("composite", spec.Name).Logger(),
	})

	for _, cf := range spec.Feeds {
		feed1, err := a.buildFeed(cf.Feed1)
		if err != nil {
			return fmt.Errorf("composite %s asset %s: %w", spec.Name, cf.Asset, err)
		}
		feed2, err := a.buildFeed(cf.Feed2)
		if err != nil {
			return fmt.Errorf("composite %s asset %s: %w", spec.Name, cf.Asset, err)
		}
		primary, err := parseThreshold(cf.PrimaryThreshold)
		if err != nil {
			return fmt.Errorf("composite %s asset %s: %w", spec.Name, cf.Asset, err)
		}
		secondary, err := parseThreshold(cf.SecondaryThreshold)
		if err != nil {
			return fmt.Errorf("composite %s asset %s: %w", spec.Name, cf.Asset, err)
		}

		reg := oracle.CompositeFeedRegistration{
			Feed1:              feed1,
			Feed2:              feed2,
			PrimaryThreshold:   primary,
			SecondaryThreshold: secondary,
		}
		if err := combiner.AddCompositeFeed(boot, oracle.Asset(cf.Asset), reg); err != nil {
			return fmt.Errorf("composite %s asset %s: %w", spec.Name, cf.Asset, err)
		}
	}

	a.Composites[spec.Name] = combiner
	a.Sources[spec.Name] = combiner
	return nil
}

func (a *App) buildFeed(spec config.FeedSpec) (feed.Feed, error) {
	vendor, err := feed.ParseVendor(spec.Vendor)
	if err != nil {
		return nil, err
	}
	defaults := a.Config.Feeds
	return feed.NewClient(feed.ClientConfig{
		Address:        spec.Address,
		Vendor:         vendor,
		URL:            spec.URL,
		Decimals:       spec.Decimals,
		RequestTimeout: time.Duration(defaults.RequestTimeoutMS) * time.Millisecond,
		RateLimitRPS:   defaults.RPS,
		RateBurst:      defaults.Burst,
		UserAgent:      defaults.UserAgent,
		Breaker: feed.BreakerConfig{
			MaxRequests:         defaults.Breaker.MaxRequests,
			Interval:            time.Duration(defaults.Breaker.IntervalSecs) * time.Second,
			Timeout:             time.Duration(defaults.Breaker.TimeoutSecs) * time.Second,
			ConsecutiveFailures: defaults.Breaker.ConsecutiveFailures,
		},
		Metrics: a.Metrics.FeedCallback(),
	})
}

func parseThreshold(tv *config.ThresholdValues) (oracle.ThresholdConfig, error) {
	if tv == nil || (tv.LowerThreshold == "" && tv.FixedPrice == "") {
		return oracle.ThresholdConfig{}, nil
	}
	lower, err := uint256.FromDecimal(tv.LowerThreshold)
	if err != nil {
		return oracle.ThresholdConfig{}, fmt.Errorf("lower_threshold: %w", err)
	}
	fixed, err := uint256.FromDecimal(tv.FixedPrice)
	if err != nil {
		return oracle.ThresholdConfig{}, fmt.Errorf("fixed_price: %w", err)
	}
	return oracle.ThresholdConfig{LowerThresholdInBase: lower, FixedPriceInBase: fixed}, nil
}

func buildKeyring(cfg config.AuthConfig) (map[string]auth.Context, error) {
	keys := make(map[string]auth.Context, len(cfg.APIKeys))
	for _, spec := range cfg.APIKeys {
		roles := make([]auth.Role, 0, len(spec.Roles))
		for _, raw := range spec.Roles {
			role, err := auth.ParseRole(raw)
			if err != nil {
				return nil, fmt.Errorf("api key for %s: %w", spec.Actor, err)
			}
			roles = append(roles, role)
		}
		keys[spec.Key] = auth.NewContext(spec.Actor, roles...)
	}
	return keys, nil
}

// Run serves HTTP until the context is cancelled, then shuts down cleanly.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- a.Server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		a.Log.Error().Err(err).Msg("http shutdown")
	}
	a.Close()
	return nil
}

// Close releases external connections. Safe to call more than once only for
// components that tolerate it; Run calls it exactly once.
func (a *App) Close() {
	if a.audit != nil {
		a.audit.Close()
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.Log.Warn().Err(err).Msg("redis close")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.Log.Warn().Err(err).Msg("database close")
		}
	}
}
