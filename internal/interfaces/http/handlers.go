package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/driftwoodfi/oracled/internal/oracle"
)

type priceResponse struct {
	Asset string `json:"asset"`
	Price string `json:"price"`
}

type priceInfoResponse struct {
	Asset   string `json:"asset"`
	Price   string `json:"price"`
	IsAlive bool   `json:"is_alive"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func (s *Server) handleAssetPrice(w http.ResponseWriter, r *http.Request) {
	asset := oracle.Asset(mux.Vars(r)["asset"])

	price, err := s.deps.Aggregator.GetAssetPrice(r.Context(), asset)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.snapshot(asset, oracle.PriceReading{Price: price, IsAlive: true})
	s.writeJSON(w, http.StatusOK, priceResponse{Asset: string(asset), Price: price.Dec()})
}

func (s *Server) handlePriceInfo(w http.ResponseWriter, r *http.Request) {
	asset := oracle.Asset(mux.Vars(r)["asset"])

	reading, err := s.deps.Aggregator.GetPriceInfo(r.Context(), asset)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.snapshot(asset, reading)
	s.writeJSON(w, http.StatusOK, priceInfoResponse{
		Asset:   string(asset),
		Price:   reading.Price.Dec(),
		IsAlive: reading.IsAlive,
	})
}

func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"assets": s.deps.Aggregator.Assets(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"status":        "ok",
		"frozen_assets": s.deps.Aggregator.FrozenCount(),
		"time":          time.Now().UTC(),
	}

	status := http.StatusOK
	if s.deps.DB != nil && s.deps.DB.Enabled() {
		if err := s.deps.DB.Health(r.Context()); err != nil {
			health["status"] = "degraded"
			health["database"] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			health["database"] = "ok"
		}
	}

	s.writeJSON(w, status, health)
}

func (s *Server) handleMetricsSummary(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Metrics.Snapshot()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	asset := mux.Vars(r)["asset"]

	records, err := s.deps.DB.Repos().Audit.ListByAsset(r.Context(), asset, 100)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"events": records})
}

// snapshot mirrors a served reading to Redis when a publisher is wired.
func (s *Server) snapshot(asset oracle.Asset, reading oracle.PriceReading) {
	if s.deps.Publisher != nil {
		s.deps.Publisher.SnapshotReading(asset, reading, time.Now().UTC())
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error().Err(err).Msg("encode response")
	}
}

// writeError maps core error kinds onto HTTP statuses: missing
// configuration is 404, staleness and missing overrides are 503 (the data
// plane is degraded, not the request), state-machine misuse and bad inputs
// are 409/400.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	kind := ""

	switch {
	case errors.Is(err, oracle.ErrOracleNotSet):
		status, kind = http.StatusNotFound, "oracle_not_set"
	case errors.Is(err, oracle.ErrFeedNotSet):
		status, kind = http.StatusNotFound, "feed_not_set"
	case errors.Is(err, oracle.ErrPriceNotAlive):
		status, kind = http.StatusServiceUnavailable, "price_not_alive"
	case errors.Is(err, oracle.ErrPriceIsStale):
		status, kind = http.StatusServiceUnavailable, "price_is_stale"
	case errors.Is(err, oracle.ErrNoPriceOverride):
		status, kind = http.StatusServiceUnavailable, "no_price_override"
	case errors.Is(err, oracle.ErrAssetAlreadyFrozen):
		status, kind = http.StatusConflict, "asset_already_frozen"
	case errors.Is(err, oracle.ErrAssetNotFrozen):
		status, kind = http.StatusConflict, "asset_not_frozen"
	case errors.Is(err, oracle.ErrInvalidExpirationTime):
		status, kind = http.StatusBadRequest, "invalid_expiration_time"
	case errors.Is(err, oracle.ErrInvalidOverridePrice):
		status, kind = http.StatusBadRequest, "invalid_override_price"
	case errors.Is(err, oracle.ErrInvalidThresholdConfig):
		status, kind = http.StatusBadRequest, "invalid_threshold_config"
	case errors.Is(err, oracle.ErrUnexpectedBaseUnit):
		status, kind = http.StatusUnprocessableEntity, "unexpected_base_unit"
	case isUnauthorized(err):
		status, kind = http.StatusForbidden, "unauthorized"
	}

	s.writeJSON(w, status, errorResponse{Error: err.Error(), Kind: kind})
}
