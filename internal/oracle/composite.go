package oracle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"github.com/driftwoodfi/oracled/internal/auth"
	"github.com/driftwoodfi/oracled/internal/oracle/feed"
)

// CompositeFeedRegistration defines a two-hop price: the derived price is
// rebase(thresholded(feed1)) * rebase(thresholded(feed2)) / baseUnit.
// Either threshold may be the disabled zero value.
type CompositeFeedRegistration struct {
	Feed1              feed.Feed
	Feed2              feed.Feed
	PrimaryThreshold   ThresholdConfig
	SecondaryThreshold ThresholdConfig
}

// CompositeAdapterConfig configures a composite combiner instance. The
// heartbeat parameters apply to both legs of every registration.
type CompositeAdapterConfig struct {
	Name           string
	Decimals       uint8
	Heartbeat      time.Duration
	StaleTimeLimit time.Duration
	Clock          Clock
	Events         EventSink
	Log            zerolog.Logger
}

// CompositeAdapter derives prices through an intermediate currency, e.g.
// asset/intermediate * intermediate/base. A derived price is only as fresh
// as its weakest leg.
type CompositeAdapter struct {
	mu            sync.RWMutex
	name          string
	decimals      uint8
	baseUnit      *uint256.Int
	heartbeat     time.Duration
	staleLimit    time.Duration
	registrations map[Asset]CompositeFeedRegistration
	clock         Clock
	events        EventSink
	log           zerolog.Logger
}

// NewCompositeAdapter creates a combiner with no registrations.
func NewCompositeAdapter(cfg CompositeAdapterConfig) *CompositeAdapter {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &CompositeAdapter{
		name:          cfg.Name,
		decimals:      cfg.Decimals,
		baseUnit:      BaseUnit(cfg.Decimals),
		heartbeat:     cfg.Heartbeat,
		staleLimit:    cfg.StaleTimeLimit,
		registrations: make(map[Asset]CompositeFeedRegistration),
		clock:         clock,
		events:        cfg.Events,
		log:           cfg.Log,
	}
}

// Name returns the combiner's registry name.
func (c *CompositeAdapter) Name() string { return c.name }

// BaseCurrencyUnit returns 10^decimals for this combiner.
func (c *CompositeAdapter) BaseCurrencyUnit() *uint256.Int {
	return new(uint256.Int).Set(c.baseUnit)
}

// AddCompositeFeed registers or replaces the composite pair for an asset.
func (c *CompositeAdapter) AddCompositeFeed(ac auth.Context, asset Asset, reg CompositeFeedRegistration) error {
	if err := auth.RequireAny(ac, auth.RoleOracleManager); err != nil {
		return err
	}
	if reg.Feed1 == nil || reg.Feed2 == nil {
		return fmt.Errorf("composite %s asset %s: both feeds are required", c.name, asset)
	}
	for _, th := range []ThresholdConfig{reg.PrimaryThreshold, reg.SecondaryThreshold} {
		if th.Enabled() && (th.FixedPriceInBase == nil || th.FixedPriceInBase.IsZero()) {
			return ErrInvalidThresholdConfig
		}
	}

	c.mu.Lock()
	c.registrations[asset] = reg
	c.mu.Unlock()

	publish(c.events, newEvent(EventCompositeFeedAdded, asset, ac.Actor(), c.now(), map[string]any{
		"adapter":             c.name,
		"feed1":               reg.Feed1.Address(),
		"feed2":               reg.Feed2.Address(),
		"primary_threshold":   thresholdData(reg.PrimaryThreshold),
		"secondary_threshold": thresholdData(reg.SecondaryThreshold),
	}))
	return nil
}

// RemoveCompositeFeed clears the registration, resetting every field to its
// zero value.
func (c *CompositeAdapter) RemoveCompositeFeed(ac auth.Context, asset Asset) error {
	if err := auth.RequireAny(ac, auth.RoleOracleManager); err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.registrations, asset)
	c.mu.Unlock()

	publish(c.events, newEvent(EventCompositeFeedRemoved, asset, ac.Actor(), c.now(), map[string]any{
		"adapter": c.name,
	}))
	return nil
}

// GetPriceInfo reads both legs, thresholds each independently, and
// multiplies them down to one derived price. IsAlive is the conjunction of
// the legs' freshness.
func (c *CompositeAdapter) GetPriceInfo(ctx context.Context, asset Asset) (PriceReading, error) {
	c.mu.RLock()
	reg, ok := c.registrations[asset]
	heartbeat, staleLimit := c.heartbeat, c.staleLimit
	c.mu.RUnlock()

	if !ok {
		return PriceReading{}, fmt.Errorf("composite %s asset %s: %w", c.name, asset, ErrFeedNotSet)
	}

	now := c.now()
	leg1, err := readLeg(ctx, reg.Feed1, c.decimals, heartbeat, staleLimit, now)
	if err != nil {
		return PriceReading{}, fmt.Errorf("composite %s asset %s leg1: %w", c.name, asset, err)
	}
	leg2, err := readLeg(ctx, reg.Feed2, c.decimals, heartbeat, staleLimit, now)
	if err != nil {
		return PriceReading{}, fmt.Errorf("composite %s asset %s leg2: %w", c.name, asset, err)
	}

	p1 := ApplyThreshold(leg1.Price, reg.PrimaryThreshold)
	p2 := ApplyThreshold(leg2.Price, reg.SecondaryThreshold)

	price, err := mulDiv(p1, p2, c.baseUnit)
	if err != nil {
		return PriceReading{}, fmt.Errorf("composite %s asset %s: %w", c.name, asset, err)
	}

	return PriceReading{Price: price, IsAlive: leg1.IsAlive && leg2.IsAlive}, nil
}

// GetAssetPrice reads via GetPriceInfo and rejects non-fresh readings.
func (c *CompositeAdapter) GetAssetPrice(ctx context.Context, asset Asset) (*uint256.Int, error) {
	reading, err := c.GetPriceInfo(ctx, asset)
	if err != nil {
		return nil, err
	}
	if !reading.IsAlive {
		return nil, fmt.Errorf("composite %s asset %s: %w", c.name, asset, ErrPriceIsStale)
	}
	return reading.Price, nil
}

func (c *CompositeAdapter) now() time.Time { return c.clock() }

func thresholdData(cfg ThresholdConfig) map[string]any {
	if !cfg.Enabled() {
		return map[string]any{"enabled": false}
	}
	return map[string]any{
		"enabled":         true,
		"lower_threshold": cfg.LowerThresholdInBase.Dec(),
		"fixed_price":     cfg.FixedPriceInBase.Dec(),
	}
}
