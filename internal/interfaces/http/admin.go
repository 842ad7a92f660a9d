package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/holiman/uint256"

	"github.com/driftwoodfi/oracled/internal/auth"
	"github.com/driftwoodfi/oracled/internal/oracle"
)

type ctxKey int

const authCtxKey ctxKey = 0

// apiKeyMiddleware resolves X-API-Key into an auth.Context. Unknown keys
// are rejected here; role checks stay in the core.
func (s *Server) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		ac, ok := s.deps.Keys[key]
		if !ok {
			s.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unknown api key", Kind: "unknown_api_key"})
			return
		}

		ctx := context.WithValue(r.Context(), authCtxKey, ac)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) authFrom(r *http.Request) auth.Context {
	ac, _ := r.Context().Value(authCtxKey).(auth.Context)
	return ac
}

func isUnauthorized(err error) bool {
	var ue *auth.UnauthorizedError
	return errors.As(err, &ue)
}

type setOracleRequest struct {
	Asset  string `json:"asset"`
	Source string `json:"source"`
}

func (s *Server) handleSetOracle(w http.ResponseWriter, r *http.Request) {
	var req setOracleRequest
	if !s.decode(w, r, &req) {
		return
	}

	source, ok := s.deps.Sources[req.Source]
	if !ok {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown source: " + req.Source, Kind: "unknown_source"})
		return
	}

	if err := s.deps.Aggregator.SetOracle(s.authFrom(r), oracle.Asset(req.Asset), source); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRemoveOracle(w http.ResponseWriter, r *http.Request) {
	asset := oracle.Asset(mux.Vars(r)["asset"])
	if err := s.deps.Aggregator.RemoveOracle(s.authFrom(r), asset); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleFreeze(w http.ResponseWriter, r *http.Request) {
	asset := oracle.Asset(mux.Vars(r)["asset"])
	if err := s.deps.Aggregator.FreezeAsset(s.authFrom(r), asset); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "frozen"})
}

func (s *Server) handleUnfreeze(w http.ResponseWriter, r *http.Request) {
	asset := oracle.Asset(mux.Vars(r)["asset"])
	if err := s.deps.Aggregator.UnfreezeAsset(s.authFrom(r), asset); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "unfrozen"})
}

type setOverrideRequest struct {
	Asset string `json:"asset"`
	Price string `json:"price"`
	// ExpiresAt is optional; empty means the configured default TTL.
	ExpiresAt string `json:"expires_at,omitempty"`
}

func (s *Server) handleSetOverride(w http.ResponseWriter, r *http.Request) {
	var req setOverrideRequest
	if !s.decode(w, r, &req) {
		return
	}

	price, err := uint256.FromDecimal(req.Price)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid price: " + err.Error(), Kind: "invalid_override_price"})
		return
	}

	ac := s.authFrom(r)
	asset := oracle.Asset(req.Asset)

	if req.ExpiresAt == "" {
		err = s.deps.Aggregator.SetPriceOverride(ac, asset, price)
	} else {
		var expiresAt time.Time
		expiresAt, err = time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid expires_at: " + err.Error(), Kind: "invalid_expiration_time"})
			return
		}
		err = s.deps.Aggregator.SetPriceOverrideUntil(ac, asset, price, expiresAt)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleClearOverride(w http.ResponseWriter, r *http.Request) {
	asset := oracle.Asset(mux.Vars(r)["asset"])
	if err := s.deps.Aggregator.ClearPriceOverride(s.authFrom(r), asset); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type overrideExpirationRequest struct {
	ExpirationSecs int64 `json:"expiration_secs"`
}

func (s *Server) handleOverrideExpiration(w http.ResponseWriter, r *http.Request) {
	var req overrideExpirationRequest
	if !s.decode(w, r, &req) {
		return
	}

	ttl := time.Duration(req.ExpirationSecs) * time.Second
	if err := s.deps.Aggregator.SetOverrideExpirationTime(s.authFrom(r), ttl); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type durationRequest struct {
	Secs int64 `json:"secs"`
}

func (s *Server) handleAdapterHeartbeat(w http.ResponseWriter, r *http.Request) {
	adapter, ok := s.deps.Adapters[mux.Vars(r)["name"]]
	if !ok {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown adapter", Kind: "unknown_adapter"})
		return
	}

	var req durationRequest
	if !s.decode(w, r, &req) {
		return
	}

	if err := adapter.SetFeedHeartbeat(s.authFrom(r), time.Duration(req.Secs)*time.Second); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAdapterStaleLimit(w http.ResponseWriter, r *http.Request) {
	adapter, ok := s.deps.Adapters[mux.Vars(r)["name"]]
	if !ok {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown adapter", Kind: "unknown_adapter"})
		return
	}

	var req durationRequest
	if !s.decode(w, r, &req) {
		return
	}

	if err := adapter.SetHeartbeatStaleTimeLimit(s.authFrom(r), time.Duration(req.Secs)*time.Second); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type thresholdRequest struct {
	Asset              string `json:"asset"`
	LowerThresholdBase string `json:"lower_threshold_in_base"`
	FixedPriceBase     string `json:"fixed_price_in_base"`
}

func (s *Server) handleSetThreshold(w http.ResponseWriter, r *http.Request) {
	wrapped, ok := s.deps.Thresholds[mux.Vars(r)["name"]]
	if !ok {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "adapter has no threshold layer", Kind: "unknown_adapter"})
		return
	}

	var req thresholdRequest
	if !s.decode(w, r, &req) {
		return
	}

	lower, err := uint256.FromDecimal(req.LowerThresholdBase)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid lower threshold: " + err.Error(), Kind: "invalid_threshold_config"})
		return
	}
	fixed, err := uint256.FromDecimal(req.FixedPriceBase)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid fixed price: " + err.Error(), Kind: "invalid_threshold_config"})
		return
	}

	cfg := oracle.ThresholdConfig{LowerThresholdInBase: lower, FixedPriceInBase: fixed}
	if err := wrapped.SetThresholdConfig(s.authFrom(r), oracle.Asset(req.Asset), cfg); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRemoveThreshold(w http.ResponseWriter, r *http.Request) {
	wrapped, ok := s.deps.Thresholds[mux.Vars(r)["name"]]
	if !ok {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "adapter has no threshold layer", Kind: "unknown_adapter"})
		return
	}

	if err := wrapped.RemoveThresholdConfig(s.authFrom(r), oracle.Asset(mux.Vars(r)["asset"])); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, into any) bool {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error(), Kind: "bad_request"})
		return false
	}
	return true
}
