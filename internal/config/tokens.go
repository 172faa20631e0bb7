package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Bootstrap describes feeds, token registrations and balance provisioning
// applied when the daemon starts.
type Bootstrap struct {
	Feeds  []FeedSpec  `yaml:"feeds"`
	Tokens []TokenSpec `yaml:"tokens"`
	Mints  []MintSpec  `yaml:"mints"`
}

// FeedSpec declares a price feed. StaticPrice, when set, is a decimal price
// served without an external source.
type FeedSpec struct {
	Base        string `yaml:"base"`
	Quote       string `yaml:"quote"`
	Decimals    uint8  `yaml:"decimals"`
	Interval    string `yaml:"interval"`
	StaticPrice string `yaml:"static_price"`
}

// Pair returns the BASE/QUOTE name of the feed.
func (f FeedSpec) Pair() string {
	return strings.ToUpper(strings.TrimSpace(f.Base)) + "/" + strings.ToUpper(strings.TrimSpace(f.Quote))
}

// TokenSpec registers a stakeable token. Approved defaults to true.
type TokenSpec struct {
	Token    string `yaml:"token"`
	Rate     string `yaml:"rate"`
	Oracle   string `yaml:"oracle"`
	Approved *bool  `yaml:"approved"`
}

// MintSpec tops holder's balance of token up to Amount.
type MintSpec struct {
	Token  string `yaml:"token"`
	Holder string `yaml:"holder"`
	Amount string `yaml:"amount"`
}

// LoadBootstrap reads and validates a bootstrap file.
func LoadBootstrap(path string) (*Bootstrap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tokens file: %w", err)
	}

	var b Bootstrap
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to parse tokens file: %w", err)
	}

	for i, feed := range b.Feeds {
		if strings.TrimSpace(feed.Base) == "" || strings.TrimSpace(feed.Quote) == "" {
			return nil, fmt.Errorf("feed %d: base and quote are required", i)
		}
	}
	for _, tok := range b.Tokens {
		if strings.TrimSpace(tok.Token) == "" {
			return nil, fmt.Errorf("token entry without a token name")
		}
		if _, err := ParseAmount(tok.Rate); err != nil {
			return nil, fmt.Errorf("token %s: rate: %w", tok.Token, err)
		}
	}
	for _, mint := range b.Mints {
		if strings.TrimSpace(mint.Token) == "" || strings.TrimSpace(mint.Holder) == "" {
			return nil, fmt.Errorf("mint entries need token and holder")
		}
		if _, err := ParseAmount(mint.Amount); err != nil {
			return nil, fmt.Errorf("mint %s/%s: amount: %w", mint.Token, mint.Holder, err)
		}
	}
	return &b, nil
}

// ParseAmount parses a non-negative integer written in decimal or
// scientific notation ("60", "1e24", "2.5e18").
func ParseAmount(raw string) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("amount %q must be non-negative", raw)
	}
	if !d.Equal(d.Truncate(0)) {
		return nil, fmt.Errorf("amount %q must be a whole number", raw)
	}
	return d.BigInt(), nil
}
