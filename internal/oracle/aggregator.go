package oracle

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"github.com/driftwoodfi/oracled/internal/auth"
)

// DefaultOverrideExpiration is the override lifetime applied when none is
// configured and the caller gives no explicit expiry.
const DefaultOverrideExpiration = 24 * time.Hour

// AggregatorConfig configures the root aggregator.
type AggregatorConfig struct {
	Decimals           uint8
	OverrideExpiration time.Duration // 0 means DefaultOverrideExpiration
	Clock              Clock
	Events             EventSink
	Reads              ReadObserver
	Log                zerolog.Logger
}

// Aggregator is the per-asset registry of the current authoritative price
// source, plus the freeze/override escape hatch. Every asset is in one of
// two states: Normal (price comes from the registered source) or Frozen
// (source lookup is bypassed and only a manual, time-bounded override can
// answer reads).
type Aggregator struct {
	mu          sync.RWMutex
	decimals    uint8
	baseUnit    *uint256.Int
	sources     map[Asset]PriceSource
	sourceNames map[Asset]string
	frozen      map[Asset]bool
	overrides   map[Asset]PriceOverride
	overrideTTL time.Duration
	clock       Clock
	events      EventSink
	reads       ReadObserver
	log         zerolog.Logger
}

// Named is implemented by sources that carry a registry name; used only
// for events and health output.
type Named interface {
	Name() string
}

// NewAggregator creates an aggregator with an empty registry.
func NewAggregator(cfg AggregatorConfig) *Aggregator {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	ttl := cfg.OverrideExpiration
	if ttl <= 0 {
		ttl = DefaultOverrideExpiration
	}
	return &Aggregator{
		decimals:    cfg.Decimals,
		baseUnit:    BaseUnit(cfg.Decimals),
		sources:     make(map[Asset]PriceSource),
		sourceNames: make(map[Asset]string),
		frozen:      make(map[Asset]bool),
		overrides:   make(map[Asset]PriceOverride),
		overrideTTL: ttl,
		clock:       clock,
		events:      cfg.Events,
		reads:       cfg.Reads,
		log:         cfg.Log,
	}
}

// Decimals returns the aggregator's declared price decimal count.
func (g *Aggregator) Decimals() uint8 { return g.decimals }

// BaseCurrencyUnit returns 10^decimals for this aggregator.
func (g *Aggregator) BaseCurrencyUnit() *uint256.Int {
	return new(uint256.Int).Set(g.baseUnit)
}

// SetOracle registers source as the authoritative oracle for an asset. The
// source's base-currency unit must match the aggregator's; a mismatch is
// rejected here so it can never corrupt downstream valuations at read
// time. The mapping is untouched on rejection.
func (g *Aggregator) SetOracle(ac auth.Context, asset Asset, source PriceSource) error {
	if err := auth.RequireAny(ac, auth.RoleOracleManager); err != nil {
		return err
	}
	if source == nil {
		return fmt.Errorf("asset %s: source is required", asset)
	}
	if source.BaseCurrencyUnit().Cmp(g.baseUnit) != 0 {
		return fmt.Errorf("asset %s: source unit %s vs aggregator unit %s: %w",
			asset, source.BaseCurrencyUnit().Dec(), g.baseUnit.Dec(), ErrUnexpectedBaseUnit)
	}

	name := ""
	if named, ok := source.(Named); ok {
		name = named.Name()
	}

	g.mu.Lock()
	g.sources[asset] = source
	g.sourceNames[asset] = name
	g.mu.Unlock()

	publish(g.events, newEvent(EventOracleSet, asset, ac.Actor(), g.clock(), map[string]any{
		"source": name,
	}))
	return nil
}

// RemoveOracle clears the asset's source mapping.
func (g *Aggregator) RemoveOracle(ac auth.Context, asset Asset) error {
	if err := auth.RequireAny(ac, auth.RoleOracleManager); err != nil {
		return err
	}

	g.mu.Lock()
	delete(g.sources, asset)
	delete(g.sourceNames, asset)
	g.mu.Unlock()

	publish(g.events, newEvent(EventOracleRemoved, asset, ac.Actor(), g.clock(), nil))
	return nil
}

// FreezeAsset transitions an asset from Normal to Frozen. Until an
// override is supplied, every read of the asset fails loudly with
// ErrNoPriceOverride rather than falling through to the automated source.
func (g *Aggregator) FreezeAsset(ac auth.Context, asset Asset) error {
	if err := auth.RequireAny(ac, auth.RoleGuardian); err != nil {
		return err
	}

	g.mu.Lock()
	if g.frozen[asset] {
		g.mu.Unlock()
		return fmt.Errorf("asset %s: %w", asset, ErrAssetAlreadyFrozen)
	}
	g.frozen[asset] = true
	g.mu.Unlock()

	publish(g.events, newEvent(EventAssetFrozen, asset, ac.Actor(), g.clock(), map[string]any{
		"frozen": true,
	}))
	return nil
}

// UnfreezeAsset transitions an asset from Frozen back to Normal and clears
// any stored override, so a later freeze can never resurface a stale
// override price.
func (g *Aggregator) UnfreezeAsset(ac auth.Context, asset Asset) error {
	if err := auth.RequireAny(ac, auth.RoleGuardian); err != nil {
		return err
	}

	g.mu.Lock()
	if !g.frozen[asset] {
		g.mu.Unlock()
		return fmt.Errorf("asset %s: %w", asset, ErrAssetNotFrozen)
	}
	delete(g.frozen, asset)
	_, hadOverride := g.overrides[asset]
	delete(g.overrides, asset)
	g.mu.Unlock()

	publish(g.events, newEvent(EventAssetUnfrozen, asset, ac.Actor(), g.clock(), map[string]any{
		"frozen":           false,
		"override_cleared": hadOverride,
	}))
	return nil
}

// SetPriceOverride stores an override expiring after the aggregator-wide
// default lifetime.
func (g *Aggregator) SetPriceOverride(ac auth.Context, asset Asset, price *uint256.Int) error {
	g.mu.RLock()
	ttl := g.overrideTTL
	g.mu.RUnlock()
	return g.SetPriceOverrideUntil(ac, asset, price, g.clock().Add(ttl))
}

// SetPriceOverrideUntil stores an override with an explicit expiry. The
// asset must be frozen and the expiry strictly in the future.
func (g *Aggregator) SetPriceOverrideUntil(ac auth.Context, asset Asset, price *uint256.Int, expiresAt time.Time) error {
	if err := auth.RequireAny(ac, auth.RoleOracleManager, auth.RoleGuardian); err != nil {
		return err
	}
	if price == nil || price.IsZero() {
		return fmt.Errorf("asset %s: %w", asset, ErrInvalidOverridePrice)
	}
	now := g.clock()
	if !expiresAt.After(now) {
		return fmt.Errorf("asset %s expiry %s at %s: %w",
			asset, expiresAt.Format(time.RFC3339), now.Format(time.RFC3339), ErrInvalidExpirationTime)
	}

	stored := PriceOverride{Price: new(uint256.Int).Set(price), ExpiresAt: expiresAt}

	g.mu.Lock()
	if !g.frozen[asset] {
		g.mu.Unlock()
		return fmt.Errorf("asset %s: %w", asset, ErrAssetNotFrozen)
	}
	g.overrides[asset] = stored
	g.mu.Unlock()

	publish(g.events, newEvent(EventPriceOverrideSet, asset, ac.Actor(), now, map[string]any{
		"price":      stored.Price.Dec(),
		"expires_at": stored.ExpiresAt,
	}))
	return nil
}

// ClearPriceOverride removes any stored override, regardless of freeze
// state.
func (g *Aggregator) ClearPriceOverride(ac auth.Context, asset Asset) error {
	if err := auth.RequireAny(ac, auth.RoleOracleManager, auth.RoleGuardian); err != nil {
		return err
	}

	g.mu.Lock()
	delete(g.overrides, asset)
	g.mu.Unlock()

	publish(g.events, newEvent(EventPriceOverrideCleared, asset, ac.Actor(), g.clock(), nil))
	return nil
}

// SetOverrideExpirationTime changes the default lifetime used by future
// overrides set without an explicit expiry. Existing overrides keep the
// expiry they were stored with.
func (g *Aggregator) SetOverrideExpirationTime(ac auth.Context, ttl time.Duration) error {
	if err := auth.RequireAny(ac, auth.RoleOracleManager); err != nil {
		return err
	}
	if ttl <= 0 {
		return fmt.Errorf("override lifetime %s: %w", ttl, ErrInvalidExpirationTime)
	}

	g.mu.Lock()
	g.overrideTTL = ttl
	g.mu.Unlock()

	publish(g.events, newEvent(EventOverrideExpirationUpdated, "", ac.Actor(), g.clock(), map[string]any{
		"override_expiration_seconds": ttl.Seconds(),
	}))
	return nil
}

// GetPriceInfo resolves the asset's price. Frozen assets answer only from
// a valid override, and an override reading is never reported fresh:
// every caller is forced to consciously handle the degraded-trust case.
// Normal assets delegate to the registered source verbatim; the aggregator
// does not reinterpret the source's staleness verdict.
func (g *Aggregator) GetPriceInfo(ctx context.Context, asset Asset) (PriceReading, error) {
	g.mu.RLock()
	frozen := g.frozen[asset]
	override, hasOverride := g.overrides[asset]
	source, hasSource := g.sources[asset]
	g.mu.RUnlock()

	if frozen {
		if hasOverride && override.Valid(g.clock()) {
			g.observe(asset, ReadOutcomeOverride, false)
			return PriceReading{Price: new(uint256.Int).Set(override.Price), IsAlive: false}, nil
		}
		g.observe(asset, ReadOutcomeNoOverride, false)
		return PriceReading{}, fmt.Errorf("asset %s: %w", asset, ErrNoPriceOverride)
	}

	if !hasSource {
		g.observe(asset, ReadOutcomeNoOracle, false)
		return PriceReading{}, fmt.Errorf("asset %s: %w", asset, ErrOracleNotSet)
	}

	reading, err := source.GetPriceInfo(ctx, asset)
	if err != nil {
		g.observe(asset, ReadOutcomeSourceErr, false)
		return PriceReading{}, err
	}
	g.observe(asset, ReadOutcomeOK, reading.IsAlive)
	return reading, nil
}

// GetAssetPrice resolves the asset's price and rejects any reading that is
// not fresh, whatever the reason. Collaborators that can degrade
// gracefully use GetPriceInfo instead.
func (g *Aggregator) GetAssetPrice(ctx context.Context, asset Asset) (*uint256.Int, error) {
	reading, err := g.GetPriceInfo(ctx, asset)
	if err != nil {
		return nil, err
	}
	if !reading.IsAlive {
		return nil, fmt.Errorf("asset %s: %w", asset, ErrPriceNotAlive)
	}
	return reading.Price, nil
}

// IsFrozen reports the asset's state.
func (g *Aggregator) IsFrozen(asset Asset) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.frozen[asset]
}

// AssetStatus summarizes one asset's registry entry for health output.
type AssetStatus struct {
	Asset       Asset      `json:"asset"`
	Source      string     `json:"source,omitempty"`
	Frozen      bool       `json:"frozen"`
	HasOverride bool       `json:"has_override"`
	OverrideExp *time.Time `json:"override_expires_at,omitempty"`
}

// Assets returns the status of every known asset, sorted for stable
// output.
func (g *Aggregator) Assets() []AssetStatus {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := make(map[Asset]struct{}, len(g.sources))
	for asset := range g.sources {
		seen[asset] = struct{}{}
	}
	for asset := range g.frozen {
		seen[asset] = struct{}{}
	}
	for asset := range g.overrides {
		seen[asset] = struct{}{}
	}

	statuses := make([]AssetStatus, 0, len(seen))
	for asset := range seen {
		status := AssetStatus{
			Asset:  asset,
			Source: g.sourceNames[asset],
			Frozen: g.frozen[asset],
		}
		if override, ok := g.overrides[asset]; ok {
			status.HasOverride = true
			exp := override.ExpiresAt
			status.OverrideExp = &exp
		}
		statuses = append(statuses, status)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Asset < statuses[j].Asset })
	return statuses
}

// FrozenCount returns the number of currently frozen assets.
func (g *Aggregator) FrozenCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.frozen)
}

func (g *Aggregator) observe(asset Asset, outcome string, alive bool) {
	if g.reads != nil {
		g.reads.ObserveRead(asset, outcome, alive)
	}
}
