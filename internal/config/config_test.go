package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleConfig = `
server:
  port: 9090

log:
  level: debug

oracle:
  decimals: 8
  override_expiration_secs: 3600
  adapters:
    - name: chainlink
      heartbeat_secs: 86400
      stale_time_limit_secs: 1800
      feeds:
        - asset: WETH
          address: "0x5f4e"
          vendor: chainlink
          url: https://feeds.example.com/weth-usd
      thresholds:
        - asset: USDS
          lower_threshold: "99000000"
          fixed_price: "100000000"
  composites:
    - name: composite
      heartbeat_secs: 86400
      feeds:
        - asset: sFRAX
          feed1:
            address: "0xaaa"
            vendor: chainlink
            url: https://feeds.example.com/sfrax-frax
          feed2:
            address: "0xbbb"
            vendor: chainlink
            url: https://feeds.example.com/frax-usd
          secondary_threshold:
            lower_threshold: "99000000"
            fixed_price: "100000000"
  routes:
    - asset: WETH
      source: chainlink
    - asset: sFRAX
      source: composite

auth:
  api_keys:
    - key: testkey
      actor: ops@driftwood
      roles: [oracle_manager, guardian]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "oracled.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "127.0.0.1", cfg.Server.Host) // default
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, uint8(8), cfg.Oracle.Decimals)
	require.Equal(t, 3600, cfg.Oracle.OverrideExpirationSecs)

	require.Len(t, cfg.Oracle.Adapters, 1)
	adapter := cfg.Oracle.Adapters[0]
	require.Equal(t, "chainlink", adapter.Name)
	require.Equal(t, 86400, adapter.HeartbeatSecs)
	require.Len(t, adapter.Feeds, 1)
	require.Equal(t, "WETH", adapter.Feeds[0].Asset)
	require.Len(t, adapter.Thresholds, 1)
	require.Equal(t, "99000000", adapter.Thresholds[0].LowerThreshold)

	require.Len(t, cfg.Oracle.Composites, 1)
	comp := cfg.Oracle.Composites[0]
	require.Len(t, comp.Feeds, 1)
	require.Nil(t, comp.Feeds[0].PrimaryThreshold)
	require.NotNil(t, comp.Feeds[0].SecondaryThreshold)

	require.Len(t, cfg.Oracle.Routes, 2)
	require.Len(t, cfg.Auth.APIKeys, 1)
	require.Equal(t, []string{"oracle_manager", "guardian"}, cfg.Auth.APIKeys[0].Roles)

	// Defaults fill the untouched sections.
	require.Equal(t, 2.0, cfg.Feeds.RPS)
	require.Equal(t, "oracled.events", cfg.Redis.Channel)
	require.False(t, cfg.Database.Enabled)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "duplicate_source_name", mutate: func(c *Config) {
			c.Oracle.Composites[0].Name = "chainlink"
		}},
		{name: "route_to_unknown_source", mutate: func(c *Config) {
			c.Oracle.Routes[0].Source = "missing"
		}},
		{name: "adapter_without_heartbeat", mutate: func(c *Config) {
			c.Oracle.Adapters[0].HeartbeatSecs = 0
		}},
		{name: "feed_without_url", mutate: func(c *Config) {
			c.Oracle.Adapters[0].Feeds[0].URL = ""
		}},
		{name: "threshold_missing_fixed_price", mutate: func(c *Config) {
			c.Oracle.Adapters[0].Thresholds[0].FixedPrice = ""
		}},
		{name: "api_key_without_roles", mutate: func(c *Config) {
			c.Auth.APIKeys[0].Roles = nil
		}},
		{name: "database_enabled_without_dsn", mutate: func(c *Config) {
			c.Database.Enabled = true
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, sampleConfig))
			require.NoError(t, err)
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
