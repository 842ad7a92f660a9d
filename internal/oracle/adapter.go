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

// AdapterConfig configures one source adapter instance. Heartbeat and
// StaleTimeLimit are instance-wide: they apply to every asset the adapter
// serves.
type AdapterConfig struct {
	Name           string
	Decimals       uint8
	Heartbeat      time.Duration
	StaleTimeLimit time.Duration
	Clock          Clock
	Events         EventSink
	Log            zerolog.Logger
}

// Adapter translates one family of external feeds into PriceReadings,
// deciding staleness locally: a reading is alive while
// updatedAt + heartbeat + staleTimeLimit is strictly after now.
type Adapter struct {
	mu         sync.RWMutex
	name       string
	decimals   uint8
	baseUnit   *uint256.Int
	heartbeat  time.Duration
	staleLimit time.Duration
	feeds      map[Asset]feed.Feed
	clock      Clock
	events     EventSink
	log        zerolog.Logger
}

// NewAdapter creates an adapter with no feeds registered.
func NewAdapter(cfg AdapterConfig) *Adapter {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Adapter{
		name:       cfg.Name,
		decimals:   cfg.Decimals,
		baseUnit:   BaseUnit(cfg.Decimals),
		heartbeat:  cfg.Heartbeat,
		staleLimit: cfg.StaleTimeLimit,
		feeds:      make(map[Asset]feed.Feed),
		clock:      clock,
		events:     cfg.Events,
		log:        cfg.Log,
	}
}

// Name returns the adapter's registry name.
func (a *Adapter) Name() string { return a.name }

// BaseCurrencyUnit returns 10^decimals for this adapter.
func (a *Adapter) BaseCurrencyUnit() *uint256.Int {
	return new(uint256.Int).Set(a.baseUnit)
}

// SetFeed stores, overwrites, or (with a nil feed) removes the feed for an
// asset. The feed's liveness is not probed at registration time.
func (a *Adapter) SetFeed(ac auth.Context, asset Asset, f feed.Feed) error {
	if err := auth.RequireAny(ac, auth.RoleOracleManager); err != nil {
		return err
	}

	a.mu.Lock()
	if f == nil {
		delete(a.feeds, asset)
	} else {
		a.feeds[asset] = f
	}
	a.mu.Unlock()

	if f == nil {
		publish(a.events, newEvent(EventFeedRemoved, asset, ac.Actor(), a.clock(), map[string]any{
			"adapter": a.name,
		}))
		return nil
	}
	publish(a.events, newEvent(EventFeedSet, asset, ac.Actor(), a.clock(), map[string]any{
		"adapter":       a.name,
		"feed":          f.Address(),
		"feed_decimals": f.Decimals(),
	}))
	return nil
}

// SetFeedHeartbeat updates the expected publication interval. Takes effect
// immediately for all subsequent reads on every asset of this adapter.
func (a *Adapter) SetFeedHeartbeat(ac auth.Context, heartbeat time.Duration) error {
	if err := auth.RequireAny(ac, auth.RoleOracleManager); err != nil {
		return err
	}

	a.mu.Lock()
	a.heartbeat = heartbeat
	a.mu.Unlock()

	publish(a.events, newEvent(EventHeartbeatUpdated, "", ac.Actor(), a.clock(), map[string]any{
		"adapter":           a.name,
		"heartbeat_seconds": heartbeat.Seconds(),
	}))
	return nil
}

// SetHeartbeatStaleTimeLimit updates the grace buffer added on top of the
// heartbeat before a reading counts as stale.
func (a *Adapter) SetHeartbeatStaleTimeLimit(ac auth.Context, limit time.Duration) error {
	if err := auth.RequireAny(ac, auth.RoleOracleManager); err != nil {
		return err
	}

	a.mu.Lock()
	a.staleLimit = limit
	a.mu.Unlock()

	publish(a.events, newEvent(EventStaleTimeLimitUpdated, "", ac.Actor(), a.clock(), map[string]any{
		"adapter":                  a.name,
		"stale_time_limit_seconds": limit.Seconds(),
	}))
	return nil
}

// GetPriceInfo reads the registered feed and computes freshness from the
// current clock. Staleness does not fail the call; a missing feed or a
// failed upstream read does.
func (a *Adapter) GetPriceInfo(ctx context.Context, asset Asset) (PriceReading, error) {
	a.mu.RLock()
	f, ok := a.feeds[asset]
	heartbeat, staleLimit := a.heartbeat, a.staleLimit
	a.mu.RUnlock()

	if !ok {
		return PriceReading{}, fmt.Errorf("adapter %s asset %s: %w", a.name, asset, ErrFeedNotSet)
	}
	return readLeg(ctx, f, a.decimals, heartbeat, staleLimit, a.clock())
}

// GetAssetPrice reads via GetPriceInfo and rejects non-fresh readings.
func (a *Adapter) GetAssetPrice(ctx context.Context, asset Asset) (*uint256.Int, error) {
	reading, err := a.GetPriceInfo(ctx, asset)
	if err != nil {
		return nil, err
	}
	if !reading.IsAlive {
		return nil, fmt.Errorf("adapter %s asset %s: %w", a.name, asset, ErrPriceIsStale)
	}
	return reading.Price, nil
}

// Feeds returns the current asset registrations, for health reporting.
func (a *Adapter) Feeds() map[Asset]string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[Asset]string, len(a.feeds))
	for asset, f := range a.feeds {
		out[asset] = f.Address()
	}
	return out
}

// readLeg performs one feed read shared by plain and composite adapters:
// floor negative answers to zero, rebase from the feed's native decimals,
// and compute freshness. The staleness comparison is strict: a reading
// exactly at the threshold is stale.
func readLeg(ctx context.Context, f feed.Feed, toDecimals uint8, heartbeat, staleLimit time.Duration, now time.Time) (PriceReading, error) {
	round, err := f.LatestRoundData(ctx)
	if err != nil {
		return PriceReading{}, err
	}

	answer := round.Answer
	if answer == nil || answer.Sign() < 0 {
		answer = nil
	}

	native := uint256.NewInt(0)
	if answer != nil {
		converted, overflow := uint256.FromBig(answer)
		if overflow {
			return PriceReading{}, fmt.Errorf("feed %s: %w", f.Address(), ErrPriceOverflow)
		}
		native = converted
	}

	price, err := RebasePrice(native, f.Decimals(), toDecimals)
	if err != nil {
		return PriceReading{}, fmt.Errorf("feed %s: %w", f.Address(), err)
	}

	alive := round.UpdatedAt.Add(heartbeat + staleLimit).After(now)
	return PriceReading{Price: price, IsAlive: alive}, nil
}
