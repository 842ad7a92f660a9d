package http

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/driftwoodfi/oracled/internal/auth"
	"github.com/driftwoodfi/oracled/internal/metrics"
	"github.com/driftwoodfi/oracled/internal/oracle"
	"github.com/driftwoodfi/oracled/internal/oracle/feed"
)

const (
	managerKey  = "test-manager-key"
	guardianKey = "test-guardian-key"
)

func newTestServer(t *testing.T) (*Server, *oracle.Aggregator, *feed.Static) {
	t.Helper()

	reg := metrics.New()
	adapter := oracle.NewAdapter(oracle.AdapterConfig{
		Name:           "chainlink",
		Decimals:       18,
		Heartbeat:      time.Hour,
		StaleTimeLimit: 15 * time.Minute,
		Log:            zerolog.Nop(),
	})

	ethFeed := feed.NewStatic("0xfeed", 8, big.NewInt(200_000_000_000), time.Now())
	manager := auth.NewContext("ops", auth.RoleOracleManager)
	require.NoError(t, adapter.SetFeed(manager, "ETH", ethFeed))

	thresholded := oracle.NewThresholdedAdapter(oracle.ThresholdedAdapterConfig{
		Name:  "chainlink",
		Inner: adapter,
		Log:   zerolog.Nop(),
	})

	agg := oracle.NewAggregator(oracle.AggregatorConfig{
		Decimals: 18,
		Reads:    reg,
		Log:      zerolog.Nop(),
	})
	require.NoError(t, agg.SetOracle(manager, "ETH", thresholded))

	srv := NewServer(DefaultServerConfig(), Deps{
		Aggregator: agg,
		Sources:    map[string]oracle.PriceSource{"chainlink": thresholded},
		Adapters:   map[string]*oracle.Adapter{"chainlink": adapter},
		Thresholds: map[string]*oracle.ThresholdedAdapter{"chainlink": thresholded},
		Metrics:    reg,
		Bus:        oracle.NewBus(),
		Keys: map[string]auth.Context{
			managerKey:  auth.NewContext("ops", auth.RoleOracleManager),
			guardianKey: auth.NewContext("watch", auth.RoleGuardian),
		},
		Log: zerolog.Nop(),
	})
	return srv, agg, ethFeed
}

func doJSON(t *testing.T, handler http.Handler, method, path, key string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestGetPrice(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv.Router(), http.MethodGet, "/v1/price/ETH", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp priceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "ETH", resp.Asset)
	// 2000 * 10^8 at 8 feed decimals rebased to 18.
	require.Equal(t, "2000000000000000000000", resp.Price)
}

func TestGetPriceUnknownAsset(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv.Router(), http.MethodGet, "/v1/price/XYZ", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "oracle_not_set", resp.Kind)
}

func TestGetPriceStaleFeed(t *testing.T) {
	srv, _, ethFeed := newTestServer(t)

	ethFeed.Publish(big.NewInt(200_000_000_000), time.Now().Add(-2*time.Hour))

	rec := doJSON(t, srv.Router(), http.MethodGet, "/v1/price/ETH", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "price_not_alive", resp.Kind)

	// price-info still serves the reading, flagged not alive.
	rec = doJSON(t, srv.Router(), http.MethodGet, "/v1/price-info/ETH", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var info priceInfoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	require.False(t, info.IsAlive)
}

func TestAdminRequiresKey(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv.Router(), http.MethodPost, "/v1/admin/freeze/ETH", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, srv.Router(), http.MethodPost, "/v1/admin/freeze/ETH", "bogus", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminRoleEnforced(t *testing.T) {
	srv, _, _ := newTestServer(t)

	// Freezing needs the guardian role; the manager key is rejected.
	rec := doJSON(t, srv.Router(), http.MethodPost, "/v1/admin/freeze/ETH", managerKey, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "unauthorized", resp.Kind)
}

func TestFreezeOverrideWorkflow(t *testing.T) {
	srv, _, _ := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/v1/admin/freeze/ETH", guardianKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Frozen without an override: reads degrade.
	rec = doJSON(t, router, http.MethodGet, "/v1/price-info/ETH", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var errResp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	require.Equal(t, "no_price_override", errResp.Kind)

	// Double freeze conflicts.
	rec = doJSON(t, router, http.MethodPost, "/v1/admin/freeze/ETH", guardianKey, nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/v1/admin/override", guardianKey, setOverrideRequest{
		Asset: "ETH",
		Price: "1500000000000000000000",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// Override serves the pinned price but is never alive.
	rec = doJSON(t, router, http.MethodGet, "/v1/price-info/ETH", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var info priceInfoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	require.Equal(t, "1500000000000000000000", info.Price)
	require.False(t, info.IsAlive)

	rec = doJSON(t, router, http.MethodPost, "/v1/admin/unfreeze/ETH", guardianKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/v1/price/ETH", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestOverrideValidation(t *testing.T) {
	srv, _, _ := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/v1/admin/freeze/ETH", guardianKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/v1/admin/override", guardianKey, setOverrideRequest{
		Asset: "ETH",
		Price: "0",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "invalid_override_price", resp.Kind)

	rec = doJSON(t, router, http.MethodPost, "/v1/admin/override", guardianKey, setOverrideRequest{
		Asset:     "ETH",
		Price:     "100",
		ExpiresAt: time.Now().Add(-time.Hour).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "invalid_expiration_time", resp.Kind)
}

func TestSetThresholdEndpoint(t *testing.T) {
	srv, _, ethFeed := newTestServer(t)
	router := srv.Router()

	// Clamp anything at or above 0.995 to exactly 1.0 (18 decimals).
	rec := doJSON(t, router, http.MethodPost, "/v1/admin/adapters/chainlink/threshold", managerKey, thresholdRequest{
		Asset:              "ETH",
		LowerThresholdBase: "995000000000000000",
		FixedPriceBase:     "1000000000000000000",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	ethFeed.Publish(big.NewInt(99_800_000), time.Now()) // 0.998 at 8 decimals

	rec = doJSON(t, router, http.MethodGet, "/v1/price/ETH", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp priceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "1000000000000000000", resp.Price)

	rec = doJSON(t, router, http.MethodDelete, "/v1/admin/adapters/chainlink/threshold/ETH", managerKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/v1/price/ETH", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "998000000000000000", resp.Price)
}

func TestSetOracleEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/v1/admin/oracle", managerKey, setOracleRequest{
		Asset:  "WETH",
		Source: "chainlink",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/v1/admin/oracle", managerKey, setOracleRequest{
		Asset:  "WETH",
		Source: "nope",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, http.MethodDelete, "/v1/admin/oracle/WETH", managerKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthAndAssets(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv.Router(), http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv.Router(), http.MethodGet, "/v1/assets", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Assets []oracle.AssetStatus `json:"assets"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Assets, 1)
}

func TestMetricsSummary(t *testing.T) {
	srv, _, _ := newTestServer(t)

	doJSON(t, srv.Router(), http.MethodGet, "/v1/price/ETH", "", nil)

	rec := doJSON(t, srv.Router(), http.MethodGet, "/v1/metrics-summary", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var snap map[string]float64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.NotEmpty(t, snap)
}
