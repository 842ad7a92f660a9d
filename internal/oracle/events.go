package oracle

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EventType labels a state mutation in the oracle core.
type EventType string

const (
	EventFeedSet                   EventType = "feed_set"
	EventFeedRemoved               EventType = "feed_removed"
	EventHeartbeatUpdated          EventType = "heartbeat_updated"
	EventStaleTimeLimitUpdated     EventType = "stale_time_limit_updated"
	EventThresholdSet              EventType = "threshold_set"
	EventThresholdRemoved          EventType = "threshold_removed"
	EventCompositeFeedAdded        EventType = "composite_feed_added"
	EventCompositeFeedRemoved      EventType = "composite_feed_removed"
	EventOracleSet                 EventType = "oracle_set"
	EventOracleRemoved             EventType = "oracle_removed"
	EventAssetFrozen               EventType = "asset_frozen"
	EventAssetUnfrozen             EventType = "asset_unfrozen"
	EventPriceOverrideSet          EventType = "price_override_set"
	EventPriceOverrideCleared      EventType = "price_override_cleared"
	EventOverrideExpirationUpdated EventType = "override_expiration_updated"
)

// Event records one state mutation. Data carries the full new state for the
// touched key, not a diff, so consumers never need to reconstruct history.
type Event struct {
	ID    string         `json:"id"`
	Type  EventType      `json:"type"`
	Asset Asset          `json:"asset,omitempty"`
	Actor string         `json:"actor,omitempty"`
	At    time.Time      `json:"at"`
	Data  map[string]any `json:"data,omitempty"`
}

// EventSink consumes mutation events. Implementations must be safe for
// concurrent use and must not block the mutating call.
type EventSink interface {
	Publish(ev Event)
}

func newEvent(typ EventType, asset Asset, actor string, at time.Time, data map[string]any) Event {
	return Event{
		ID:    uuid.NewString(),
		Type:  typ,
		Asset: asset,
		Actor: actor,
		At:    at,
		Data:  data,
	}
}

// publish is a nil-safe helper used by all components.
func publish(sink EventSink, ev Event) {
	if sink != nil {
		sink.Publish(ev)
	}
}

// Sinks fans one event out to several sinks in order.
type Sinks []EventSink

func (s Sinks) Publish(ev Event) {
	for _, sink := range s {
		if sink != nil {
			sink.Publish(ev)
		}
	}
}

// LogSink writes every event as a structured log line.
type LogSink struct {
	Log zerolog.Logger
}

func (s LogSink) Publish(ev Event) {
	s.Log.Info().
		Str("event_id", ev.ID).
		Str("event", string(ev.Type)).
		Str("asset", string(ev.Asset)).
		Str("actor", ev.Actor).
		Time("at", ev.At).
		Fields(ev.Data).
		Msg("oracle state change")
}

// Bus is an in-process fan-out of events to subscribers, used by the
// websocket stream endpoint. Slow subscribers drop events instead of
// blocking mutators.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a new subscriber. The returned cancel func must be
// called to release the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber with room in its buffer.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
