// Package rates serves crypto network fee estimates and fiat exchange
// rates from an upstream market-data API, behind a short-lived cache.
package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Config holds rates adapter configuration.
type Config struct {
	BaseURL  string        `envconfig:"RATES_BASE_URL" default:"https://api.rates.example"`
	APIKey   string        `envconfig:"RATES_API_KEY"`
	Timeout  time.Duration `envconfig:"RATES_TIMEOUT" default:"10s"`
	CacheTTL time.Duration `envconfig:"RATES_CACHE_TTL" default:"5m"`
}

// Adapter fetches fee estimates and exchange rates. Responses are
// cached for CacheTTL; lookups within the window never hit the
// upstream API.
type Adapter struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time

	mu        sync.Mutex
	fees      map[string]cachedFee
	fx        map[string]float64
	fxFetched time.Time
}

type cachedFee struct {
	feeMinor  int64
	fetchedAt time.Time
}

// NewAdapter creates a rates adapter.
func NewAdapter(cfg Config, logger *slog.Logger) *Adapter {
	return &Adapter{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger.With("component", "providers.rates"),
		now:    time.Now,
		fees:   make(map[string]cachedFee),
	}
}

type feeResponse struct {
	Network  string `json:"network"`
	FeeMinor int64  `json:"fee_minor"`
}

type fxResponse struct {
	Base  string             `json:"base"`
	Rates map[string]float64 `json:"rates"`
}

// EstimateNetworkFee returns the current payout fee estimate for a
// network, in minor units of the settlement currency.
func (a *Adapter) EstimateNetworkFee(ctx context.Context, network string) (int64, error) {
	a.mu.Lock()
	if cached, ok := a.fees[network]; ok && a.now().Sub(cached.fetchedAt) < a.config.CacheTTL {
		a.mu.Unlock()
		return cached.feeMinor, nil
	}
	a.mu.Unlock()

	var resp feeResponse
	if err := a.get(ctx, "/v1/network-fees/"+network, &resp); err != nil {
		return 0, err
	}

	a.mu.Lock()
	a.fees[network] = cachedFee{feeMinor: resp.FeeMinor, fetchedAt: a.now()}
	a.mu.Unlock()

	return resp.FeeMinor, nil
}

// ExchangeRates returns fiat exchange rates keyed by currency code.
func (a *Adapter) ExchangeRates(ctx context.Context) (map[string]float64, error) {
	a.mu.Lock()
	if a.fx != nil && a.now().Sub(a.fxFetched) < a.config.CacheTTL {
		rates := a.fx
		a.mu.Unlock()
		return rates, nil
	}
	a.mu.Unlock()

	var resp fxResponse
	if err := a.get(ctx, "/v1/exchange-rates?base=CAD", &resp); err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.fx = resp.Rates
	a.fxFetched = a.now()
	a.mu.Unlock()

	return resp.Rates, nil
}

func (a *Adapter) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.config.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.config.APIKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("rates api error: status=%d body=%s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
