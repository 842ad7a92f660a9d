package oracle

import "errors"

// Failure conditions surfaced by the oracle core. Callers branch on these
// with errors.Is rather than matching message text.
var (
	// ErrFeedNotSet is returned by an adapter read when no feed is
	// registered for the asset.
	ErrFeedNotSet = errors.New("feed not set for asset")

	// ErrOracleNotSet is returned by the aggregator when no source is
	// registered for the asset.
	ErrOracleNotSet = errors.New("oracle not set for asset")

	// ErrPriceIsStale is returned by an adapter's GetAssetPrice when the
	// underlying feed reading failed its heartbeat check.
	ErrPriceIsStale = errors.New("price is stale")

	// ErrPriceNotAlive is returned by the aggregator's GetAssetPrice when
	// the resulting reading is not fresh, regardless of why. Distinct from
	// ErrPriceIsStale: the aggregator's gate also covers the frozen path,
	// where a reading is never reported fresh.
	ErrPriceNotAlive = errors.New("price not alive")

	// ErrAssetAlreadyFrozen is returned by FreezeAsset on a frozen asset.
	ErrAssetAlreadyFrozen = errors.New("asset already frozen")

	// ErrAssetNotFrozen is returned by UnfreezeAsset and SetPriceOverride
	// when the asset is not frozen.
	ErrAssetNotFrozen = errors.New("asset not frozen")

	// ErrNoPriceOverride is returned when reading a frozen asset without a
	// valid (non-zero, unexpired) override. Freezing without supplying an
	// override makes every read fail loudly instead of falling through to
	// a stale automated source.
	ErrNoPriceOverride = errors.New("no price override for frozen asset")

	// ErrInvalidExpirationTime is returned when an explicit override
	// expiry is not strictly in the future.
	ErrInvalidExpirationTime = errors.New("override expiration not in the future")

	// ErrInvalidOverridePrice is returned when an override price of zero
	// is supplied. A zero price would be indistinguishable from "no
	// override" in storage, so it is rejected at the write boundary.
	ErrInvalidOverridePrice = errors.New("override price must be non-zero")

	// ErrInvalidThresholdConfig is returned when a threshold config does
	// not set both fields to non-zero values. Disabling goes through
	// RemoveThresholdConfig, not a zeroed Set.
	ErrInvalidThresholdConfig = errors.New("threshold config requires non-zero lower threshold and fixed price")

	// ErrUnexpectedBaseUnit is returned by SetOracle when the candidate
	// source reports prices in a different base-currency unit than the
	// aggregator.
	ErrUnexpectedBaseUnit = errors.New("source base currency unit mismatch")

	// ErrPriceOverflow is returned when a rebase or composite
	// multiplication exceeds 256 bits.
	ErrPriceOverflow = errors.New("price arithmetic overflow")
)
