package oracle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"github.com/driftwoodfi/oracled/internal/auth"
)

// ApplyThreshold clamps a raw price to the config's fixed price once it is
// at or above the lower bound. Below the bound the raw price passes through
// untouched, so a genuine depeg is still reported truthfully. A disabled
// config is the identity.
func ApplyThreshold(raw *uint256.Int, cfg ThresholdConfig) *uint256.Int {
	if !cfg.Enabled() {
		return raw
	}
	if raw.Cmp(cfg.LowerThresholdInBase) >= 0 {
		return new(uint256.Int).Set(cfg.FixedPriceInBase)
	}
	return raw
}

// ThresholdedAdapterConfig configures a thresholding decorator around an
// inner price source.
type ThresholdedAdapterConfig struct {
	Name   string
	Inner  PriceSource
	Clock  Clock
	Events EventSink
	Log    zerolog.Logger
}

// ThresholdedAdapter decorates a price source with per-asset soft-peg
// clamping. Aliveness passes through unmodified; only the price can change.
type ThresholdedAdapter struct {
	mu         sync.RWMutex
	name       string
	inner      PriceSource
	thresholds map[Asset]ThresholdConfig
	clock      Clock
	events     EventSink
	log        zerolog.Logger
}

// NewThresholdedAdapter wraps inner with an empty threshold table.
func NewThresholdedAdapter(cfg ThresholdedAdapterConfig) *ThresholdedAdapter {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &ThresholdedAdapter{
		name:       cfg.Name,
		inner:      cfg.Inner,
		thresholds: make(map[Asset]ThresholdConfig),
		clock:      clock,
		events:     cfg.Events,
		log:        cfg.Log,
	}
}

// Name returns the decorator's registry name.
func (t *ThresholdedAdapter) Name() string { return t.name }

// BaseCurrencyUnit reports the inner source's unit: thresholding never
// changes the decimal scale.
func (t *ThresholdedAdapter) BaseCurrencyUnit() *uint256.Int {
	return t.inner.BaseCurrencyUnit()
}

// SetThresholdConfig attaches a clamp to one asset, last-write-wins. Both
// fields must be set together; a zero lower bound disables clamping and is
// rejected here in favor of RemoveThresholdConfig.
func (t *ThresholdedAdapter) SetThresholdConfig(ac auth.Context, asset Asset, cfg ThresholdConfig) error {
	if err := auth.RequireAny(ac, auth.RoleOracleManager); err != nil {
		return err
	}
	if !cfg.Enabled() || cfg.FixedPriceInBase == nil || cfg.FixedPriceInBase.IsZero() {
		return ErrInvalidThresholdConfig
	}

	stored := ThresholdConfig{
		LowerThresholdInBase: new(uint256.Int).Set(cfg.LowerThresholdInBase),
		FixedPriceInBase:     new(uint256.Int).Set(cfg.FixedPriceInBase),
	}

	t.mu.Lock()
	t.thresholds[asset] = stored
	t.mu.Unlock()

	publish(t.events, newEvent(EventThresholdSet, asset, ac.Actor(), t.clock(), map[string]any{
		"adapter":         t.name,
		"lower_threshold": stored.LowerThresholdInBase.Dec(),
		"fixed_price":     stored.FixedPriceInBase.Dec(),
	}))
	return nil
}

// RemoveThresholdConfig resets the asset to pass-through.
func (t *ThresholdedAdapter) RemoveThresholdConfig(ac auth.Context, asset Asset) error {
	if err := auth.RequireAny(ac, auth.RoleOracleManager); err != nil {
		return err
	}

	t.mu.Lock()
	delete(t.thresholds, asset)
	t.mu.Unlock()

	publish(t.events, newEvent(EventThresholdRemoved, asset, ac.Actor(), t.clock(), map[string]any{
		"adapter": t.name,
	}))
	return nil
}

// ThresholdConfigFor returns the active config for an asset, if any.
func (t *ThresholdedAdapter) ThresholdConfigFor(asset Asset) (ThresholdConfig, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cfg, ok := t.thresholds[asset]
	return cfg, ok
}

// GetPriceInfo reads the inner source and applies the asset's clamp.
func (t *ThresholdedAdapter) GetPriceInfo(ctx context.Context, asset Asset) (PriceReading, error) {
	reading, err := t.inner.GetPriceInfo(ctx, asset)
	if err != nil {
		return PriceReading{}, err
	}

	t.mu.RLock()
	cfg, ok := t.thresholds[asset]
	t.mu.RUnlock()

	if ok {
		reading.Price = ApplyThreshold(reading.Price, cfg)
	}
	return reading, nil
}

// GetAssetPrice reads via GetPriceInfo and rejects non-fresh readings.
func (t *ThresholdedAdapter) GetAssetPrice(ctx context.Context, asset Asset) (*uint256.Int, error) {
	reading, err := t.GetPriceInfo(ctx, asset)
	if err != nil {
		return nil, err
	}
	if !reading.IsAlive {
		return nil, fmt.Errorf("adapter %s asset %s: %w", t.name, asset, ErrPriceIsStale)
	}
	return reading.Price, nil
}
