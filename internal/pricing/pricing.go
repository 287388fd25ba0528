// Package pricing converts the settlement currency into a display fiat
// currency using CoinGecko spot prices.
package pricing

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/poolspy/internal/version"
)

// DefaultEndpoint is the public CoinGecko API.
const DefaultEndpoint = "https://api.coingecko.com"

// cacheTTL controls how often prices are refreshed.
const cacheTTL = 30 * time.Minute

// Config configures the price lookup.
type Config struct {
	// Enabled adds a fiat earnings column to the report.
	Enabled bool `yaml:"enabled"`

	// Fiat is the display currency, e.g. "usd".
	// Defaults to "usd".
	Fiat string `yaml:"fiat"`

	// Endpoint is the CoinGecko base URL.
	Endpoint string `yaml:"endpoint"`

	// Timeout for price requests.
	// Defaults to 5s.
	Timeout time.Duration `yaml:"timeout"`
}

type cached struct {
	price   float64
	fetched time.Time
}

// Service looks up BTC spot prices with a small in-process cache.
type Service struct {
	log    logrus.FieldLogger
	cfg    Config
	client *http.Client
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]cached
}

// NewService creates a price service.
func NewService(log logrus.FieldLogger, cfg Config) *Service {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}

	if cfg.Fiat == "" {
		cfg.Fiat = "usd"
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	return &Service{
		log:    log.WithField("component", "pricing"),
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		now:    time.Now,
		cache:  make(map[string]cached, 1),
	}
}

// Fiat returns the configured display currency.
func (s *Service) Fiat() string {
	return strings.ToLower(strings.TrimSpace(s.cfg.Fiat))
}

// BTCPrice returns the price of one BTC in the configured fiat currency.
func (s *Service) BTCPrice(ctx context.Context) (float64, error) {
	fiat := s.Fiat()
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.cache[fiat]; ok && now.Sub(c.fetched) < cacheTTL {
		return c.price, nil
	}

	price, err := s.fetch(ctx, fiat)
	if err != nil {
		return 0, err
	}

	s.cache[fiat] = cached{price: price, fetched: now}

	s.log.WithFields(logrus.Fields{
		"fiat":  fiat,
		"price": price,
	}).Debug("Fetched BTC price")

	return price, nil
}

func (s *Service) fetch(ctx context.Context, fiat string) (float64, error) {
	query := url.Values{}
	query.Set("ids", "bitcoin")
	query.Set("vs_currencies", fiat)

	u := s.cfg.Endpoint + "/api/v3/simple/price?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, fmt.Errorf("creating price request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("requesting price: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("price http status %s", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("reading price response: %w", err)
	}

	var body map[string]map[string]float64
	if err := sonic.Unmarshal(data, &body); err != nil {
		return 0, fmt.Errorf("decoding price response: %w", err)
	}

	price, ok := body["bitcoin"][fiat]
	if !ok {
		return 0, fmt.Errorf("price response missing bitcoin/%s", fiat)
	}

	if price <= 0 {
		return 0, fmt.Errorf("non-positive %s price %v", fiat, price)
	}

	return price, nil
}
