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

func newTestComposite(clock *testClock, decimals uint8) *CompositeAdapter {
	return NewCompositeAdapter(CompositeAdapterConfig{
		Name:           "composite",
		Decimals:       decimals,
		Heartbeat:      time.Hour,
		StaleTimeLimit: 30 * time.Minute,
		Clock:          clock.Now,
	})
}

func TestComposite_DerivedPrice(t *testing.T) {
	clock := newTestClock()
	composite := newTestComposite(clock, 8)

	// 2.0 * 3.0 at 8 decimals derives 6.0.
	feed1 := feed.NewStatic("0xleg1", 8, big.NewInt(200_000_000), clock.Now())
	feed2 := feed.NewStatic("0xleg2", 8, big.NewInt(300_000_000), clock.Now())
	require.NoError(t, composite.AddCompositeFeed(manager(), "sFRAX", CompositeFeedRegistration{
		Feed1: feed1,
		Feed2: feed2,
	}))

	reading, err := composite.GetPriceInfo(context.Background(), "sFRAX")
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(600_000_000), reading.Price)
	require.True(t, reading.IsAlive)
}

func TestComposite_AliveIsConjunction(t *testing.T) {
	fresh := time.Duration(0)
	stale := 48 * time.Hour

	tests := []struct {
		name      string
		age1      time.Duration
		age2      time.Duration
		wantAlive bool
	}{
		{name: "both_fresh", age1: fresh, age2: fresh, wantAlive: true},
		{name: "leg1_stale", age1: stale, age2: fresh, wantAlive: false},
		{name: "leg2_stale", age1: fresh, age2: stale, wantAlive: false},
		{name: "both_stale", age1: stale, age2: stale, wantAlive: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newTestClock()
			composite := newTestComposite(clock, 8)
			feed1 := feed.NewStatic("0xleg1", 8, big.NewInt(200_000_000), clock.Now().Add(-tt.age1))
			feed2 := feed.NewStatic("0xleg2", 8, big.NewInt(300_000_000), clock.Now().Add(-tt.age2))
			require.NoError(t, composite.AddCompositeFeed(manager(), "sFRAX", CompositeFeedRegistration{
				Feed1: feed1,
				Feed2: feed2,
			}))

			reading, err := composite.GetPriceInfo(context.Background(), "sFRAX")
			require.NoError(t, err)
			require.Equal(t, tt.wantAlive, reading.IsAlive)
			require.Equal(t, uint256.NewInt(600_000_000), reading.Price)

			if !tt.wantAlive {
				_, err = composite.GetAssetPrice(context.Background(), "sFRAX")
				require.ErrorIs(t, err, ErrPriceIsStale)
			}
		})
	}
}

func TestComposite_ThresholdsPerLeg(t *testing.T) {
	clock := newTestClock()
	composite := newTestComposite(clock, 18)

	// Leg1 is a pegged stable trading at 1.01, clamped to 1.00; leg2 is an
	// exchange rate of 1.05 left untouched.
	feed1 := feed.NewStatic("0xstable", 18, mustBig(t, "1010000000000000000"), clock.Now())
	feed2 := feed.NewStatic("0xrate", 18, mustBig(t, "1050000000000000000"), clock.Now())
	require.NoError(t, composite.AddCompositeFeed(manager(), "sUSDS", CompositeFeedRegistration{
		Feed1: feed1,
		Feed2: feed2,
		PrimaryThreshold: ThresholdConfig{
			LowerThresholdInBase: uint256.MustFromDecimal("990000000000000000"),
			FixedPriceInBase:     uint256.MustFromDecimal("1000000000000000000"),
		},
	}))

	reading, err := composite.GetPriceInfo(context.Background(), "sUSDS")
	require.NoError(t, err)
	require.Equal(t, uint256.MustFromDecimal("1050000000000000000"), reading.Price)
}

func TestComposite_RebasesLegDecimals(t *testing.T) {
	clock := newTestClock()
	composite := newTestComposite(clock, 18)

	// An 8-decimal Chainlink leg and an 18-decimal leg compose at 18.
	feed1 := feed.NewStatic("0xleg1", 8, big.NewInt(200_000_000), clock.Now())
	feed2 := feed.NewStatic("0xleg2", 18, mustBig(t, "3000000000000000000"), clock.Now())
	require.NoError(t, composite.AddCompositeFeed(manager(), "pair", CompositeFeedRegistration{
		Feed1: feed1,
		Feed2: feed2,
	}))

	reading, err := composite.GetPriceInfo(context.Background(), "pair")
	require.NoError(t, err)
	require.Equal(t, uint256.MustFromDecimal("6000000000000000000"), reading.Price)
}

func TestComposite_DivisionFloors(t *testing.T) {
	clock := newTestClock()
	composite := newTestComposite(clock, 8)

	// 1.5 * 0.333333333 floors at the last decimal place.
	feed1 := feed.NewStatic("0xleg1", 8, big.NewInt(150_000_000), clock.Now())
	feed2 := feed.NewStatic("0xleg2", 8, big.NewInt(33_333_333), clock.Now())
	require.NoError(t, composite.AddCompositeFeed(manager(), "pair", CompositeFeedRegistration{
		Feed1: feed1,
		Feed2: feed2,
	}))

	reading, err := composite.GetPriceInfo(context.Background(), "pair")
	require.NoError(t, err)
	// 150000000 * 33333333 / 100000000 = 49999999.5 -> 49999999
	require.Equal(t, uint256.NewInt(49_999_999), reading.Price)
}

func TestComposite_FeedNotSet(t *testing.T) {
	clock := newTestClock()
	composite := newTestComposite(clock, 8)

	_, err := composite.GetPriceInfo(context.Background(), "missing")
	require.ErrorIs(t, err, ErrFeedNotSet)
}

func TestComposite_RemoveClearsRegistration(t *testing.T) {
	clock := newTestClock()
	composite := newTestComposite(clock, 8)
	feed1 := feed.NewStatic("0xleg1", 8, big.NewInt(1), clock.Now())
	feed2 := feed.NewStatic("0xleg2", 8, big.NewInt(1), clock.Now())
	require.NoError(t, composite.AddCompositeFeed(manager(), "pair", CompositeFeedRegistration{
		Feed1: feed1,
		Feed2: feed2,
	}))
	require.NoError(t, composite.RemoveCompositeFeed(manager(), "pair"))

	_, err := composite.GetPriceInfo(context.Background(), "pair")
	require.ErrorIs(t, err, ErrFeedNotSet)
}

func TestComposite_MutatorsRequireManagerRole(t *testing.T) {
	clock := newTestClock()
	composite := newTestComposite(clock, 8)
	feed1 := feed.NewStatic("0xleg1", 8, big.NewInt(1), clock.Now())
	feed2 := feed.NewStatic("0xleg2", 8, big.NewInt(1), clock.Now())

	var authErr *auth.UnauthorizedError
	err := composite.AddCompositeFeed(guardian(), "pair", CompositeFeedRegistration{Feed1: feed1, Feed2: feed2})
	require.ErrorAs(t, err, &authErr)
	require.Error(t, composite.RemoveCompositeFeed(guardian(), "pair"))
}
