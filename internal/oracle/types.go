// Package oracle implements the price oracle aggregation core: feed-backed
// source adapters, soft-peg thresholding, composite (two-hop) pricing, and
// the per-asset aggregator with its freeze/override state machine.
package oracle

import (
	"context"
	"time"

	"github.com/holiman/uint256"
)

// Asset identifies a priced asset. Callers typically use the on-chain
// token address or a canonical symbol; the core treats it as an opaque key.
type Asset string

// PriceReading is the universal value returned by every price-capable
// component. IsAlive=false never implies Price is garbage: it is still the
// best-known (possibly stale) value, and the caller chooses whether to
// trust it.
type PriceReading struct {
	Price   *uint256.Int `json:"price"`
	IsAlive bool         `json:"is_alive"`
}

// PriceSource is the uniform read surface shared by plain adapters,
// thresholded adapters, composite adapters, and the aggregator itself.
type PriceSource interface {
	// BaseCurrencyUnit returns 10^decimals for the decimal count this
	// source reports prices in. Checked once at registration against the
	// aggregator's own unit, never at read time.
	BaseCurrencyUnit() *uint256.Int

	// GetPriceInfo returns the current reading without gating on
	// freshness. It fails only for configuration-missing or transport
	// conditions, never for staleness.
	GetPriceInfo(ctx context.Context, asset Asset) (PriceReading, error)

	// GetAssetPrice returns the current price, failing when the reading
	// is not fresh.
	GetAssetPrice(ctx context.Context, asset Asset) (*uint256.Int, error)
}

// ThresholdConfig optionally clamps a price to a fixed value once the raw
// price reaches a configured floor. The zero value (both fields nil or
// zero) is the sentinel for "no thresholding"; both fields are set
// together.
type ThresholdConfig struct {
	LowerThresholdInBase *uint256.Int `json:"lower_threshold_in_base"`
	FixedPriceInBase     *uint256.Int `json:"fixed_price_in_base"`
}

// Enabled reports whether this config actually thresholds anything.
func (c ThresholdConfig) Enabled() bool {
	return c.LowerThresholdInBase != nil && !c.LowerThresholdInBase.IsZero()
}

// PriceOverride is a manually supplied, time-bounded price for a frozen
// asset. A stored override with a zero price is treated as absent.
type PriceOverride struct {
	Price     *uint256.Int `json:"price"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// Valid reports whether the override is usable at the given instant.
func (o PriceOverride) Valid(now time.Time) bool {
	return o.Price != nil && !o.Price.IsZero() && o.ExpiresAt.After(now)
}

// Clock supplies the current time to staleness and expiry checks. Tests
// inject a fixed or advancing clock; production uses time.Now.
type Clock func() time.Time

// ReadObserver receives read outcomes for instrumentation. Implementations
// must not block.
type ReadObserver interface {
	ObserveRead(asset Asset, outcome string, alive bool)
}

// Read outcome labels reported to ReadObserver.
const (
	ReadOutcomeOK         = "ok"
	ReadOutcomeOverride   = "override"
	ReadOutcomeNoOracle   = "no_oracle"
	ReadOutcomeNoOverride = "no_override"
	ReadOutcomeSourceErr  = "source_error"
)
