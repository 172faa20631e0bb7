package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/R3E-Network/staking_ledger/internal/app/domain/pricefeed"
	"github.com/R3E-Network/staking_ledger/pkg/logger"
)

// Fetcher retrieves prices for a feed. Prices are returned as integers scaled
// by 10^feed.Decimals.
type Fetcher interface {
	Fetch(ctx context.Context, feed pricefeed.Feed) (*big.Int, string, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, feed pricefeed.Feed) (*big.Int, string, error)

func (f FetcherFunc) Fetch(ctx context.Context, feed pricefeed.Feed) (*big.Int, string, error) {
	if f == nil {
		return nil, "", errors.New("fetcher not configured")
	}
	return f(ctx, feed)
}

// StaticFetcher serves fixed prices keyed by pair. It stands in for mock
// aggregators in local deployments.
type StaticFetcher struct {
	mu     sync.RWMutex
	prices map[string]*big.Int
}

func NewStaticFetcher() *StaticFetcher {
	return &StaticFetcher{prices: make(map[string]*big.Int)}
}

// Set fixes the price returned for pair.
func (f *StaticFetcher) Set(pair string, price *big.Int) {
	f.mu.Lock()
	f.prices[strings.ToUpper(pair)] = new(big.Int).Set(price)
	f.mu.Unlock()
}

func (f *StaticFetcher) Fetch(_ context.Context, feed pricefeed.Feed) (*big.Int, string, error) {
	f.mu.RLock()
	price, ok := f.prices[strings.ToUpper(feed.Pair)]
	f.mu.RUnlock()
	if !ok {
		return nil, "", fmt.Errorf("no static price for %s", feed.Pair)
	}
	return new(big.Int).Set(price), "static", nil
}

// HTTPFetcher queries an HTTP endpoint with base/quote query parameters and
// extracts the price from the JSON body with a gjson path.
type HTTPFetcher struct {
	client    *http.Client
	endpoint  *url.URL
	apiKey    string
	pricePath string
	log       *logger.Logger
}

// NewHTTPFetcher builds a fetcher for endpoint. apiKey, when set, is sent as
// a bearer token.
func NewHTTPFetcher(client *http.Client, endpoint, apiKey string, log *logger.Logger) (*HTTPFetcher, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = logger.NewDefault("pricefeed-fetcher")
	}
	parsed, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("endpoint %q must be absolute", endpoint)
	}
	return &HTTPFetcher{
		client:    client,
		endpoint:  parsed,
		apiKey:    strings.TrimSpace(apiKey),
		pricePath: "price",
		log:       log,
	}, nil
}

// WithPricePath overrides the gjson path used to read the price.
func (f *HTTPFetcher) WithPricePath(path string) *HTTPFetcher {
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		f.pricePath = trimmed
	}
	return f
}

func (f *HTTPFetcher) Fetch(ctx context.Context, feed pricefeed.Feed) (*big.Int, string, error) {
	u := *f.endpoint
	q := u.Query()
	q.Set("base", feed.BaseAsset)
	q.Set("quote", feed.QuoteAsset)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Accept", "application/json")
	if f.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.apiKey)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("price endpoint returned %d", resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return nil, "", errors.New("price endpoint returned invalid json")
	}

	result := gjson.GetBytes(body, f.pricePath)
	if !result.Exists() {
		return nil, "", fmt.Errorf("price path %q missing from response", f.pricePath)
	}
	price, err := ScalePrice(result.String(), feed.Decimals)
	if err != nil {
		return nil, "", err
	}

	source := gjson.GetBytes(body, "source").String()
	if source == "" {
		source = f.endpoint.Host
	}
	f.log.WithField("pair", feed.Pair).
		WithField("price", price.String()).
		Debug("price fetched")
	return price, source, nil
}

// ScalePrice converts a decimal string such as "0.9998" into an integer
// scaled by 10^decimals, truncating any further digits.
func ScalePrice(raw string, decimals uint8) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("parse price %q: %w", raw, err)
	}
	if !d.IsPositive() {
		return nil, fmt.Errorf("price %q must be positive", raw)
	}
	scaled := d.Shift(int32(decimals)).Truncate(0)
	if !scaled.IsPositive() {
		return nil, fmt.Errorf("price %q underflows %d decimals", raw, decimals)
	}
	return scaled.BigInt(), nil
}
