package persistence

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/driftwoodfi/oracled/internal/oracle"
)

// Sink writes oracle events to the audit store without blocking mutators:
// events queue onto a buffered channel drained by one worker. When the
// queue is full the event is dropped and logged; audit is best-effort by
// contract.
type Sink struct {
	repo  AuditRepo
	queue chan oracle.Event
	done  chan struct{}
	log   zerolog.Logger
}

// NewSink starts the drain worker.
func NewSink(repo AuditRepo, log zerolog.Logger) *Sink {
	s := &Sink{
		repo:  repo,
		queue: make(chan oracle.Event, 256),
		done:  make(chan struct{}),
		log:   log,
	}
	go s.drain()
	return s
}

// Publish implements oracle.EventSink.
func (s *Sink) Publish(ev oracle.Event) {
	select {
	case s.queue <- ev:
	default:
		s.log.Warn().Str("event_id", ev.ID).Msg("audit queue full, dropping event")
	}
}

// Close stops the worker after flushing queued events.
func (s *Sink) Close() {
	close(s.queue)
	<-s.done
}

func (s *Sink) drain() {
	defer close(s.done)
	for ev := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := s.repo.Insert(ctx, AuditRecord{
			ID:    ev.ID,
			Type:  string(ev.Type),
			Asset: string(ev.Asset),
			Actor: ev.Actor,
			At:    ev.At,
			Data:  ev.Data,
		})
		cancel()
		if err != nil {
			s.log.Error().Err(err).Str("event_id", ev.ID).Msg("audit insert failed")
		}
	}
}
