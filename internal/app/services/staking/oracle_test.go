package staking

import (
	"context"
	"errors"
	"math/big"
	"testing"

	domain "github.com/R3E-Network/staking_ledger/internal/app/domain/staking"
	"github.com/R3E-Network/staking_ledger/internal/app/storage/memory"
)

type priceFunc func(ctx context.Context, ref string) (*big.Int, uint8, error)

func (f priceFunc) LatestPrice(ctx context.Context, ref string) (*big.Int, uint8, error) {
	return f(ctx, ref)
}

func TestOracleAdapterCurrentPrice(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	if _, err := store.UpsertToken(ctx, domain.TokenEntry{Token: "DAI", Rate: big.NewInt(1), OracleRef: "dai-feed", Approved: true}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := store.UpsertToken(ctx, domain.TokenEntry{Token: "RAW", Rate: big.NewInt(1), Approved: true}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	reading := big.NewInt(99980000)
	var calls int
	adapter := NewOracleAdapter(store, priceFunc(func(_ context.Context, ref string) (*big.Int, uint8, error) {
		calls++
		if ref != "dai-feed" {
			t.Fatalf("unexpected ref %q", ref)
		}
		return reading, 8, nil
	}))

	price, err := adapter.CurrentPrice(ctx, "DAI")
	if err != nil {
		t.Fatalf("current price: %v", err)
	}
	if price.Value.Int64() != 99980000 || price.Decimals != 8 {
		t.Fatalf("unexpected price %+v", price)
	}
	if _, err := adapter.CurrentPrice(ctx, "DAI"); err != nil || calls != 2 {
		t.Fatalf("expected every call to reach the source, calls=%d err=%v", calls, err)
	}

	reading = big.NewInt(0)
	if _, err := adapter.CurrentPrice(ctx, "DAI"); !errors.Is(err, ErrOracleUnavailable) {
		t.Fatalf("expected non-positive price to be unavailable, got %v", err)
	}
	if _, err := adapter.CurrentPrice(ctx, "RAW"); !errors.Is(err, ErrOracleUnavailable) {
		t.Fatalf("expected unpriced token to be unavailable, got %v", err)
	}
	if _, err := adapter.CurrentPrice(ctx, "NONE"); !errors.Is(err, ErrOracleUnavailable) {
		t.Fatalf("expected unknown token to be unavailable, got %v", err)
	}

	if _, err := NewOracleAdapter(store, nil).CurrentPrice(ctx, "DAI"); !errors.Is(err, ErrOracleUnavailable) {
		t.Fatalf("expected missing source to be unavailable, got %v", err)
	}
}

func TestCheckedMath(t *testing.T) {
	ceiling := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	if _, err := addChecked(ceiling, big.NewInt(1)); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected add overflow, got %v", err)
	}
	if sum, err := addChecked(ceiling, nil); err != nil || sum.Cmp(ceiling) != 0 {
		t.Fatalf("unexpected add result %v %v", sum, err)
	}
	if _, err := mulChecked(ceiling, big.NewInt(2)); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected mul overflow, got %v", err)
	}
	if product, err := mulChecked(big.NewInt(0), ceiling); err != nil || product.Sign() != 0 {
		t.Fatalf("unexpected mul result %v %v", product, err)
	}
	if _, err := mulChecked(big.NewInt(-1), big.NewInt(1)); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected negative operand to be rejected, got %v", err)
	}
	value, err := scaleDown(big.NewInt(10), big.NewInt(99980000), 8)
	if err != nil || value.Int64() != 9 {
		t.Fatalf("expected truncating division, got %v %v", value, err)
	}
}
