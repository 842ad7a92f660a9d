// Package feed wraps external price feed families (Chainlink-compatible
// round data, API3 dAPIs, Redstone classic feeds, Tellor) behind one
// read interface consumed by the oracle adapters.
package feed

import (
	"context"
	"math/big"
	"sync"
	"time"
)

// RoundData is the raw value read from an external feed: the native signed
// answer at the feed's own decimal count, and when it was last published.
type RoundData struct {
	Answer    *big.Int
	UpdatedAt time.Time
}

// Feed is one registered external price source. Implementations own their
// transport (HTTP, in-memory) and report answers at their native decimals.
type Feed interface {
	// Address identifies the feed for registration and audit events.
	Address() string

	// Decimals returns the feed's native decimal count.
	Decimals() uint8

	// LatestRoundData reads the most recent published answer. A transport
	// or parse failure fails the whole read; there is no cached fallback.
	LatestRoundData(ctx context.Context) (RoundData, error)
}

// Static is an in-memory feed with a settable answer, used in tests and
// for config-pinned prices.
type Static struct {
	mu        sync.RWMutex
	addr      string
	decimals  uint8
	answer    *big.Int
	updatedAt time.Time
	err       error
}

// NewStatic creates a static feed publishing the given answer.
func NewStatic(addr string, decimals uint8, answer *big.Int, updatedAt time.Time) *Static {
	return &Static{
		addr:      addr,
		decimals:  decimals,
		answer:    new(big.Int).Set(answer),
		updatedAt: updatedAt,
	}
}

func (s *Static) Address() string { return s.addr }

func (s *Static) Decimals() uint8 { return s.decimals }

// Publish replaces the feed's answer and publication time.
func (s *Static) Publish(answer *big.Int, updatedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answer = new(big.Int).Set(answer)
	s.updatedAt = updatedAt
	s.err = nil
}

// Fail makes every subsequent read return err until the next Publish.
func (s *Static) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *Static) LatestRoundData(ctx context.Context) (RoundData, error) {
	if err := ctx.Err(); err != nil {
		return RoundData{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return RoundData{}, s.err
	}
	return RoundData{Answer: new(big.Int).Set(s.answer), UpdatedAt: s.updatedAt}, nil
}
