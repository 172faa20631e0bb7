package staking

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	domain "github.com/R3E-Network/staking_ledger/internal/app/domain/staking"
	"github.com/R3E-Network/staking_ledger/internal/app/storage"
)

// PriceSource returns the latest reading of the oracle identified by ref.
type PriceSource interface {
	LatestPrice(ctx context.Context, ref string) (*big.Int, uint8, error)
}

// OracleAdapter resolves a token's oracle reference through the registry and
// reads the price from the source. Every call goes to the source.
type OracleAdapter struct {
	registry storage.RegistryStore
	source   PriceSource
}

func NewOracleAdapter(registry storage.RegistryStore, source PriceSource) *OracleAdapter {
	return &OracleAdapter{registry: registry, source: source}
}

// CurrentPrice returns the token's unit price. Tokens without an oracle
// reference, a missing source and non-positive readings all yield
// ErrOracleUnavailable.
func (a *OracleAdapter) CurrentPrice(ctx context.Context, token string) (domain.Price, error) {
	entry, err := a.registry.GetToken(ctx, token)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.Price{}, fmt.Errorf("token %s is not registered: %w", token, ErrOracleUnavailable)
	}
	if err != nil {
		return domain.Price{}, err
	}
	if !entry.Priced() || a.source == nil {
		return domain.Price{}, fmt.Errorf("token %s has no oracle: %w", token, ErrOracleUnavailable)
	}

	value, decimals, err := a.source.LatestPrice(ctx, entry.OracleRef)
	if err != nil {
		return domain.Price{}, fmt.Errorf("%w: %s: %v", ErrOracleUnavailable, entry.OracleRef, err)
	}
	if value == nil || value.Sign() <= 0 {
		return domain.Price{}, fmt.Errorf("oracle %s returned a non-positive price: %w", entry.OracleRef, ErrOracleUnavailable)
	}
	return domain.Price{Value: new(big.Int).Set(value), Decimals: decimals}, nil
}
