package storage

import (
	"context"
	"errors"
	"math/big"

	"github.com/R3E-Network/staking_ledger/internal/app/domain/asset"
	"github.com/R3E-Network/staking_ledger/internal/app/domain/pricefeed"
	"github.com/R3E-Network/staking_ledger/internal/app/domain/staking"
)

var (
	// ErrNotFound is returned when a keyed record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a write would violate a uniqueness rule.
	ErrConflict = errors.New("record conflict")
)

// RegistryStore persists the token registry.
type RegistryStore interface {
	UpsertToken(ctx context.Context, entry staking.TokenEntry) (staking.TokenEntry, error)
	GetToken(ctx context.Context, token string) (staking.TokenEntry, error)
	ListTokens(ctx context.Context) ([]staking.TokenEntry, error)
}

// LedgerStore persists stake balances, open positions and pending rewards.
// Every method is atomic on its own.
type LedgerStore interface {
	GetStakeBalance(ctx context.Context, user, token string) (*big.Int, error)
	ListOpenPositions(ctx context.Context, user, token string) ([]staking.Position, error)

	// OpenPosition records pos and adds pos.Amount to the balance, returning
	// the new balance. A position with the same amount already open for
	// (user, token) yields ErrConflict.
	OpenPosition(ctx context.Context, pos staking.Position) (*big.Int, error)

	// SettleUnstake deletes pos, subtracts its amount from the balance and
	// adds reward to the pending reward. It returns the new balance and
	// pending reward. A missing position yields ErrNotFound.
	SettleUnstake(ctx context.Context, pos staking.Position, reward *big.Int) (*big.Int, *big.Int, error)

	// RevertUnstake undoes a SettleUnstake for the same arguments.
	RevertUnstake(ctx context.Context, pos staking.Position, reward *big.Int) error

	GetPendingReward(ctx context.Context, user, token string) (*big.Int, error)
	// TakePendingReward zeroes the pending reward and returns what it held.
	TakePendingReward(ctx context.Context, user, token string) (*big.Int, error)
	AddPendingReward(ctx context.Context, user, token string, delta *big.Int) (*big.Int, error)
}

// AssetStore persists fungible asset balances, allowances and transfers.
type AssetStore interface {
	GetAssetBalance(ctx context.Context, token, holder string) (*big.Int, error)
	GetAllowance(ctx context.Context, token, holder, spender string) (*big.Int, error)
	SetAllowance(ctx context.Context, allowance asset.Allowance) error

	// ApplyTransfer moves tr.Amount atomically. Mints have an empty From.
	// Allowance-backed transfers consume the spender's allowance and fail
	// with asset.ErrNotApproved when it is short; a short source balance
	// fails with asset.ErrInsufficientFunds.
	ApplyTransfer(ctx context.Context, tr asset.Transfer) (asset.Transfer, error)
	ListTransfers(ctx context.Context, token, holder string) ([]asset.Transfer, error)
}

// PriceFeedStore persists price feed definitions and snapshots.
type PriceFeedStore interface {
	CreatePriceFeed(ctx context.Context, feed pricefeed.Feed) (pricefeed.Feed, error)
	UpdatePriceFeed(ctx context.Context, feed pricefeed.Feed) (pricefeed.Feed, error)
	GetPriceFeed(ctx context.Context, id string) (pricefeed.Feed, error)
	ListPriceFeeds(ctx context.Context) ([]pricefeed.Feed, error)

	CreatePriceSnapshot(ctx context.Context, snap pricefeed.Snapshot) (pricefeed.Snapshot, error)
	ListPriceSnapshots(ctx context.Context, feedID string) ([]pricefeed.Snapshot, error)
	LatestPriceSnapshot(ctx context.Context, feedID string) (pricefeed.Snapshot, error)
}
