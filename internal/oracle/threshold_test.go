package oracle

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/driftwoodfi/oracled/internal/auth"
	"github.com/driftwoodfi/oracled/internal/oracle/feed"
)

func TestApplyThreshold(t *testing.T) {
	peg := ThresholdConfig{
		LowerThresholdInBase: uint256.MustFromDecimal("990000000000000000"),  // 0.99e18
		FixedPriceInBase:     uint256.MustFromDecimal("1000000000000000000"), // 1.00e18
	}

	tests := []struct {
		name string
		raw  string
		cfg  ThresholdConfig
		want string
	}{
		{name: "disabled_config_is_identity", raw: "1020000000000000000", cfg: ThresholdConfig{}, want: "1020000000000000000"},
		{name: "above_threshold_clamps_to_fixed", raw: "1020000000000000000", cfg: peg, want: "1000000000000000000"},
		{name: "exactly_at_threshold_clamps", raw: "990000000000000000", cfg: peg, want: "1000000000000000000"},
		{name: "below_threshold_passes_through", raw: "950000000000000000", cfg: peg, want: "950000000000000000"},
		{name: "zero_price_passes_through", raw: "0", cfg: peg, want: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ApplyThreshold(uint256.MustFromDecimal(tt.raw), tt.cfg)
			require.Equal(t, uint256.MustFromDecimal(tt.want), got)
		})
	}
}

func newPeggedAdapter(t *testing.T, clock *testClock) (*ThresholdedAdapter, *feed.Static) {
	t.Helper()
	inner := NewAdapter(AdapterConfig{
		Name:      "chainlink",
		Decimals:  18,
		Heartbeat: time.Hour,
		Clock:     clock.Now,
	})
	f := feed.NewStatic("0xusds", 18, big.NewInt(0), clock.Now())
	require.NoError(t, inner.SetFeed(manager(), "USDS", f))

	wrapped := NewThresholdedAdapter(ThresholdedAdapterConfig{
		Name:  "chainlink-pegged",
		Inner: inner,
		Clock: clock.Now,
	})
	require.NoError(t, wrapped.SetThresholdConfig(manager(), "USDS", ThresholdConfig{
		LowerThresholdInBase: uint256.MustFromDecimal("990000000000000000"),
		FixedPriceInBase:     uint256.MustFromDecimal("1000000000000000000"),
	}))
	return wrapped, f
}

func TestThresholdedAdapter_ClampsOnlyAtOrAbovePeg(t *testing.T) {
	clock := newTestClock()
	wrapped, f := newPeggedAdapter(t, clock)

	// 1.02 clamps to exactly 1.00.
	f.Publish(mustBig(t, "1020000000000000000"), clock.Now())
	reading, err := wrapped.GetPriceInfo(context.Background(), "USDS")
	require.NoError(t, err)
	require.Equal(t, uint256.MustFromDecimal("1000000000000000000"), reading.Price)
	require.True(t, reading.IsAlive)

	// 0.95 is reported truthfully: the depeg must stay visible.
	f.Publish(mustBig(t, "950000000000000000"), clock.Now())
	reading, err = wrapped.GetPriceInfo(context.Background(), "USDS")
	require.NoError(t, err)
	require.Equal(t, uint256.MustFromDecimal("950000000000000000"), reading.Price)
}

func TestThresholdedAdapter_AlivenessPassesThrough(t *testing.T) {
	clock := newTestClock()
	wrapped, f := newPeggedAdapter(t, clock)

	f.Publish(mustBig(t, "1020000000000000000"), clock.Now().Add(-48*time.Hour))
	reading, err := wrapped.GetPriceInfo(context.Background(), "USDS")
	require.NoError(t, err)
	require.False(t, reading.IsAlive)
	// The clamp still applies to the stale value.
	require.Equal(t, uint256.MustFromDecimal("1000000000000000000"), reading.Price)

	_, err = wrapped.GetAssetPrice(context.Background(), "USDS")
	require.ErrorIs(t, err, ErrPriceIsStale)
}

func TestThresholdedAdapter_RemoveRestoresPassThrough(t *testing.T) {
	clock := newTestClock()
	wrapped, f := newPeggedAdapter(t, clock)

	require.NoError(t, wrapped.RemoveThresholdConfig(manager(), "USDS"))
	f.Publish(mustBig(t, "1020000000000000000"), clock.Now())

	reading, err := wrapped.GetPriceInfo(context.Background(), "USDS")
	require.NoError(t, err)
	require.Equal(t, uint256.MustFromDecimal("1020000000000000000"), reading.Price)
}

func TestThresholdedAdapter_RejectsPartialConfig(t *testing.T) {
	clock := newTestClock()
	wrapped, _ := newPeggedAdapter(t, clock)

	err := wrapped.SetThresholdConfig(manager(), "USDS", ThresholdConfig{
		LowerThresholdInBase: uint256.MustFromDecimal("990000000000000000"),
	})
	require.ErrorIs(t, err, ErrInvalidThresholdConfig)

	err = wrapped.SetThresholdConfig(manager(), "USDS", ThresholdConfig{})
	require.ErrorIs(t, err, ErrInvalidThresholdConfig)
}

func TestThresholdedAdapter_MutatorsRequireManagerRole(t *testing.T) {
	clock := newTestClock()
	wrapped, _ := newPeggedAdapter(t, clock)

	err := wrapped.SetThresholdConfig(guardian(), "USDS", ThresholdConfig{
		LowerThresholdInBase: uint256.NewInt(1),
		FixedPriceInBase:     uint256.NewInt(1),
	})
	var authErr *auth.UnauthorizedError
	require.ErrorAs(t, err, &authErr)
	require.Error(t, wrapped.RemoveThresholdConfig(guardian(), "USDS"))
}

func mustBig(t *testing.T, dec string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(dec, 10)
	require.True(t, ok)
	return v
}
