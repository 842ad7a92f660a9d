package cache

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/driftwoodfi/oracled/internal/oracle"
)

func TestPublisher_EventGoesToChannel(t *testing.T) {
	client, mock := redismock.NewClientMock()
	pub := NewPublisherWithClient(client, Config{Channel: "oracled.events"}, zerolog.Nop())

	ev := oracle.Event{
		ID:    "ev-1",
		Type:  oracle.EventAssetFrozen,
		Asset: "DAI",
		Actor: "guardian",
		At:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	payload, err := json.Marshal(ev)
	require.NoError(t, err)

	mock.ExpectPublish("oracled.events", payload).SetVal(1)
	pub.Publish(ev)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPublisher_SnapshotReading(t *testing.T) {
	client, mock := redismock.NewClientMock()
	pub := NewPublisherWithClient(client, Config{KeyPrefix: "oracled"}, zerolog.Nop())

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reading := oracle.PriceReading{Price: uint256.NewInt(200_000_000_000), IsAlive: true}
	payload, err := json.Marshal(readingSnapshot{
		Asset:      "WETH",
		Price:      "200000000000",
		IsAlive:    true,
		ObservedAt: at,
	})
	require.NoError(t, err)

	mock.ExpectSet("oracled:price:WETH", payload, 0).SetVal("OK")
	pub.SnapshotReading("WETH", reading, at)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPublisher_RedisFailureIsSwallowed(t *testing.T) {
	client, mock := redismock.NewClientMock()
	pub := NewPublisherWithClient(client, Config{}, zerolog.Nop())

	// No expectation set: the publish errors, and the caller never sees it.
	pub.Publish(oracle.Event{ID: "ev-2", Type: oracle.EventOracleSet})
	_ = mock
}
