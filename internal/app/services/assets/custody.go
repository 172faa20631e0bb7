package assets

import (
	"context"
	"math/big"
)

// CustodyAdapter moves assets between users and a single custody holder. The
// custody account pulls deposits through the allowance users grant it and
// pays out with plain transfers.
type CustodyAdapter struct {
	Ledger  *Service
	Custody string
}

// NewCustodyAdapter binds ledger to the custody holder.
func NewCustodyAdapter(ledger *Service, custody string) *CustodyAdapter {
	return &CustodyAdapter{Ledger: ledger, Custody: custody}
}

// Debit pulls amount of token from holder into custody.
func (a *CustodyAdapter) Debit(ctx context.Context, holder, token string, amount *big.Int) error {
	_, err := a.Ledger.TransferFrom(ctx, a.Custody, token, holder, a.Custody, amount)
	return err
}

// Credit pays amount of token out of custody to holder.
func (a *CustodyAdapter) Credit(ctx context.Context, holder, token string, amount *big.Int) error {
	_, err := a.Ledger.Transfer(ctx, token, a.Custody, holder, amount)
	return err
}
