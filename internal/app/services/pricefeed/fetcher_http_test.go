package pricefeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	domain "github.com/R3E-Network/staking_ledger/internal/app/domain/pricefeed"
)

func TestHTTPFetcher(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("base") != "DAI" || r.URL.Query().Get("quote") != "USD" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token" {
			t.Errorf("expected auth header, got %q", got)
		}
		w.Write([]byte(`{"data": {"price": "0.9998"}, "source": "test"}`))
	}))
	defer server.Close()

	fetcher, err := NewHTTPFetcher(server.Client(), server.URL, "token", nil)
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	fetcher.WithPricePath("data.price")

	price, source, err := fetcher.Fetch(context.Background(), domain.Feed{BaseAsset: "DAI", QuoteAsset: "USD", Decimals: 8})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if price.Int64() != 99980000 || source != "test" {
		t.Fatalf("unexpected result price=%v source=%s", price, source)
	}
}

func TestHTTPFetcherErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("base") {
		case "BAD":
			w.WriteHeader(http.StatusBadGateway)
		case "MISSING":
			w.Write([]byte(`{"other": 1}`))
		default:
			w.Write([]byte(`{"price": -3}`))
		}
	}))
	defer server.Close()

	fetcher, err := NewHTTPFetcher(server.Client(), server.URL, "", nil)
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	for _, base := range []string{"BAD", "MISSING", "NEG"} {
		if _, _, err := fetcher.Fetch(context.Background(), domain.Feed{BaseAsset: base, QuoteAsset: "USD", Decimals: 8}); err == nil {
			t.Fatalf("expected error for %s", base)
		}
	}

	if _, err := NewHTTPFetcher(nil, "relative/path", "", nil); err == nil {
		t.Fatalf("expected relative endpoint to be rejected")
	}
}

func TestScalePrice(t *testing.T) {
	cases := []struct {
		raw      string
		decimals uint8
		want     string
	}{
		{"2000", 18, "2000000000000000000000"},
		{"0.9998", 8, "99980000"},
		{"1.123456789", 8, "112345678"},
	}
	for _, tc := range cases {
		got, err := ScalePrice(tc.raw, tc.decimals)
		if err != nil {
			t.Fatalf("scale %s: %v", tc.raw, err)
		}
		if got.String() != tc.want {
			t.Fatalf("scale %s/%d: want %s got %s", tc.raw, tc.decimals, tc.want, got)
		}
	}
	if _, err := ScalePrice("0.000000001", 8); err == nil {
		t.Fatalf("expected underflow error")
	}
}
