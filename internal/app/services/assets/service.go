package assets

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/R3E-Network/staking_ledger/internal/app/domain/asset"
	"github.com/R3E-Network/staking_ledger/internal/app/storage"
	"github.com/R3E-Network/staking_ledger/pkg/logger"
)

// Service is a fungible asset ledger with allowance semantics. It backs the
// staking engine's debit/credit capability.
type Service struct {
	store storage.AssetStore
	log   *logger.Logger
}

// New constructs an asset ledger service.
func New(store storage.AssetStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("assets")
	}
	return &Service{store: store, log: log}
}

// Mint creates amount units of token in holder's balance.
func (s *Service) Mint(ctx context.Context, token, holder string, amount *big.Int) (asset.Transfer, error) {
	token, holder = normalise(token), strings.TrimSpace(holder)
	if err := requireParties(token, holder); err != nil {
		return asset.Transfer{}, err
	}
	if err := requirePositive(amount); err != nil {
		return asset.Transfer{}, err
	}

	tr, err := s.store.ApplyTransfer(ctx, asset.Transfer{
		Kind:   asset.TransferMint,
		Token:  token,
		To:     holder,
		Amount: new(big.Int).Set(amount),
	})
	if err != nil {
		return asset.Transfer{}, err
	}
	s.log.WithField("token", token).
		WithField("holder", holder).
		WithField("amount", amount.String()).
		Info("asset minted")
	return tr, nil
}

// Transfer moves amount of token from one holder to another.
func (s *Service) Transfer(ctx context.Context, token, from, to string, amount *big.Int) (asset.Transfer, error) {
	token, from, to = normalise(token), strings.TrimSpace(from), strings.TrimSpace(to)
	if err := requireParties(token, from, to); err != nil {
		return asset.Transfer{}, err
	}
	if err := requirePositive(amount); err != nil {
		return asset.Transfer{}, err
	}
	return s.store.ApplyTransfer(ctx, asset.Transfer{
		Kind:   asset.TransferDirect,
		Token:  token,
		From:   from,
		To:     to,
		Amount: new(big.Int).Set(amount),
	})
}

// Approve sets the amount spender may move out of holder's balance. A zero
// amount revokes the allowance.
func (s *Service) Approve(ctx context.Context, token, holder, spender string, amount *big.Int) error {
	token, holder, spender = normalise(token), strings.TrimSpace(holder), strings.TrimSpace(spender)
	if err := requireParties(token, holder, spender); err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("allowance must be non-negative: %w", asset.ErrInvalidTransfer)
	}
	if err := s.store.SetAllowance(ctx, asset.Allowance{
		Token:   token,
		Holder:  holder,
		Spender: spender,
		Amount:  new(big.Int).Set(amount),
	}); err != nil {
		return err
	}
	s.log.WithField("token", token).
		WithField("holder", holder).
		WithField("spender", spender).
		WithField("amount", amount.String()).
		Info("allowance set")
	return nil
}

// TransferFrom moves amount of token from `from` to `to` on behalf of spender,
// consuming spender's allowance.
func (s *Service) TransferFrom(ctx context.Context, spender, token, from, to string, amount *big.Int) (asset.Transfer, error) {
	token, spender = normalise(token), strings.TrimSpace(spender)
	from, to = strings.TrimSpace(from), strings.TrimSpace(to)
	if err := requireParties(token, spender, from, to); err != nil {
		return asset.Transfer{}, err
	}
	if err := requirePositive(amount); err != nil {
		return asset.Transfer{}, err
	}
	return s.store.ApplyTransfer(ctx, asset.Transfer{
		Kind:    asset.TransferDelegate,
		Token:   token,
		From:    from,
		To:      to,
		Spender: spender,
		Amount:  new(big.Int).Set(amount),
	})
}

// BalanceOf returns holder's balance of token.
func (s *Service) BalanceOf(ctx context.Context, token, holder string) (*big.Int, error) {
	return s.store.GetAssetBalance(ctx, normalise(token), strings.TrimSpace(holder))
}

// Allowance returns what spender may still move out of holder's balance.
func (s *Service) Allowance(ctx context.Context, token, holder, spender string) (*big.Int, error) {
	return s.store.GetAllowance(ctx, normalise(token), strings.TrimSpace(holder), strings.TrimSpace(spender))
}

// History lists transfers of token touching holder. Empty filters match all.
func (s *Service) History(ctx context.Context, token, holder string) ([]asset.Transfer, error) {
	return s.store.ListTransfers(ctx, normalise(token), strings.TrimSpace(holder))
}

func normalise(token string) string {
	return strings.ToUpper(strings.TrimSpace(token))
}

func requireParties(values ...string) error {
	for _, v := range values {
		if v == "" {
			return fmt.Errorf("token and holders are required: %w", asset.ErrInvalidTransfer)
		}
	}
	return nil
}

func requirePositive(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("amount must be positive: %w", asset.ErrInvalidTransfer)
	}
	return nil
}
