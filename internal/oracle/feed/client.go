package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Vendor names a supported external feed family.
type Vendor string

const (
	VendorChainlink Vendor = "chainlink"
	VendorAPI3      Vendor = "api3"
	VendorRedstone  Vendor = "redstone"
	VendorTellor    Vendor = "tellor"
)

// DefaultDecimals returns the decimal count a vendor publishes at when the
// feed config does not pin one explicitly.
func DefaultDecimals(v Vendor) uint8 {
	switch v {
	case VendorChainlink, VendorRedstone:
		return 8
	default:
		return 18
	}
}

// ParseVendor maps a config string to a known Vendor.
func ParseVendor(s string) (Vendor, error) {
	switch Vendor(s) {
	case VendorChainlink, VendorAPI3, VendorRedstone, VendorTellor:
		return Vendor(s), nil
	default:
		return "", fmt.Errorf("unknown feed vendor %q", s)
	}
}

// MetricsCallback is invoked after every upstream request.
type MetricsCallback func(vendor Vendor, address string, duration time.Duration, err error)

// BreakerConfig tunes the per-feed circuit breaker.
type BreakerConfig struct {
	MaxRequests         uint32        `yaml:"max_requests"`
	Interval            time.Duration `yaml:"interval"`
	Timeout             time.Duration `yaml:"timeout"`
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"`
}

// ClientConfig configures one HTTP-backed feed.
type ClientConfig struct {
	Address        string
	Vendor         Vendor
	URL            string
	Decimals       uint8 // 0 means the vendor default
	RequestTimeout time.Duration
	RateLimitRPS   float64
	RateBurst      int
	UserAgent      string
	Breaker        BreakerConfig
	HTTPClient     *http.Client // optional, injected in tests
	Metrics        MetricsCallback
}

// Client reads one external feed over HTTP with rate limiting and circuit
// breaking, so a flapping upstream cannot stall or hammer the read path.
type Client struct {
	cfg      ClientConfig
	decimals uint8
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
}

// NewClient builds a feed client, applying conservative defaults for any
// unset transport knobs.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("feed %s: url is required", cfg.Address)
	}
	if _, err := ParseVendor(string(cfg.Vendor)); err != nil {
		return nil, fmt.Errorf("feed %s: %w", cfg.Address, err)
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 2.0
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = 2
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "oracled/1.0"
	}
	if cfg.Breaker.ConsecutiveFailures == 0 {
		cfg.Breaker.ConsecutiveFailures = 5
	}
	if cfg.Breaker.Timeout == 0 {
		cfg.Breaker.Timeout = 30 * time.Second
	}
	if cfg.Breaker.MaxRequests == 0 {
		cfg.Breaker.MaxRequests = 1
	}

	decimals := cfg.Decimals
	if decimals == 0 {
		decimals = DefaultDecimals(cfg.Vendor)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}

	failures := cfg.Breaker.ConsecutiveFailures
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Address,
		MaxRequests: cfg.Breaker.MaxRequests,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("feed", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("feed breaker state change")
		},
	})

	return &Client{
		cfg:      cfg,
		decimals: decimals,
		http:     httpClient,
		breaker:  breaker,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateBurst),
	}, nil
}

func (c *Client) Address() string { return c.cfg.Address }

func (c *Client) Decimals() uint8 { return c.decimals }

// BreakerState exposes the current circuit state for health reporting.
func (c *Client) BreakerState() gobreaker.State { return c.breaker.State() }

// LatestRoundData fetches and decodes the vendor payload. The call waits
// for rate-limit headroom, then runs through the circuit breaker.
func (c *Client) LatestRoundData(ctx context.Context) (RoundData, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return RoundData{}, fmt.Errorf("feed %s rate limit wait: %w", c.cfg.Address, err)
	}

	start := time.Now()
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetch(ctx)
	})
	if c.cfg.Metrics != nil {
		c.cfg.Metrics(c.cfg.Vendor, c.cfg.Address, time.Since(start), err)
	}
	if err != nil {
		return RoundData{}, fmt.Errorf("feed %s: %w", c.cfg.Address, err)
	}
	return result.(RoundData), nil
}

func (c *Client) fetch(ctx context.Context) (RoundData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return RoundData{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return RoundData{}, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return RoundData{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return RoundData{}, fmt.Errorf("read body: %w", err)
	}

	round, err := decodeRound(c.cfg.Vendor, body)
	if err != nil {
		return RoundData{}, fmt.Errorf("decode %s payload: %w", c.cfg.Vendor, err)
	}
	return round, nil
}

// decodeRound parses one vendor payload into RoundData.
func decodeRound(vendor Vendor, body []byte) (RoundData, error) {
	switch vendor {
	case VendorChainlink:
		var p struct {
			Answer    flexNumber `json:"answer"`
			UpdatedAt int64       `json:"updatedAt"`
		}
		if err := json.Unmarshal(body, &p); err != nil {
			return RoundData{}, err
		}
		answer, err := parseAnswer(p.Answer)
		if err != nil {
			return RoundData{}, err
		}
		return RoundData{Answer: answer, UpdatedAt: time.Unix(p.UpdatedAt, 0)}, nil

	case VendorAPI3:
		var p struct {
			Value     flexNumber `json:"value"`
			Timestamp int64       `json:"timestamp"`
		}
		if err := json.Unmarshal(body, &p); err != nil {
			return RoundData{}, err
		}
		answer, err := parseAnswer(p.Value)
		if err != nil {
			return RoundData{}, err
		}
		return RoundData{Answer: answer, UpdatedAt: time.Unix(p.Timestamp, 0)}, nil

	case VendorRedstone:
		// Redstone gateways report millisecond timestamps.
		var p struct {
			Value     flexNumber `json:"value"`
			Timestamp int64       `json:"timestamp"`
		}
		if err := json.Unmarshal(body, &p); err != nil {
			return RoundData{}, err
		}
		answer, err := parseAnswer(p.Value)
		if err != nil {
			return RoundData{}, err
		}
		return RoundData{Answer: answer, UpdatedAt: time.UnixMilli(p.Timestamp)}, nil

	case VendorTellor:
		var p struct {
			Value              flexNumber `json:"value"`
			TimestampRetrieved int64       `json:"timestampRetrieved"`
		}
		if err := json.Unmarshal(body, &p); err != nil {
			return RoundData{}, err
		}
		answer, err := parseAnswer(p.Value)
		if err != nil {
			return RoundData{}, err
		}
		return RoundData{Answer: answer, UpdatedAt: time.Unix(p.TimestampRetrieved, 0)}, nil

	default:
		return RoundData{}, fmt.Errorf("unknown vendor %q", vendor)
	}
}

// flexNumber accepts integer answers serialized either as JSON numbers or
// as decimal strings (common for values beyond float64 precision).
type flexNumber string

func (n *flexNumber) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*n = flexNumber(s)
		return nil
	}
	*n = flexNumber(b)
	return nil
}

func parseAnswer(n flexNumber) (*big.Int, error) {
	s := string(n)
	if s == "" || s == "null" {
		return nil, fmt.Errorf("missing answer")
	}
	answer, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("non-integer answer %q", s)
	}
	return answer, nil
}
