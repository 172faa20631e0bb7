package staking

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	domain "github.com/R3E-Network/staking_ledger/internal/app/domain/staking"
	"github.com/R3E-Network/staking_ledger/internal/app/storage"
)

// SetTokensData registers token with its reward rate and oracle reference and
// approves it for staking. Only the owner may call it.
func (s *Service) SetTokensData(ctx context.Context, caller, token string, rate *big.Int, oracleRef string) (entry domain.TokenEntry, err error) {
	start := time.Now()
	token = normaliseToken(token)
	defer func() { s.observe("set_tokens_data", token, start, err) }()

	if caller != s.owner {
		return domain.TokenEntry{}, ErrUnauthorized
	}
	if token == "" {
		return domain.TokenEntry{}, fmt.Errorf("token is required")
	}
	if rate == nil || rate.Sign() < 0 {
		return domain.TokenEntry{}, fmt.Errorf("rate must be non-negative: %w", ErrInvalidAmount)
	}
	if _, err := toUint256(rate); err != nil {
		return domain.TokenEntry{}, err
	}

	ctx, unlock, err := s.acquire(ctx, registryLockKey)
	if err != nil {
		return domain.TokenEntry{}, err
	}
	defer unlock()

	entry, err = s.registry.UpsertToken(ctx, domain.TokenEntry{
		Token:     token,
		Rate:      new(big.Int).Set(rate),
		OracleRef: oracleRef,
		Approved:  true,
	})
	if err != nil {
		return domain.TokenEntry{}, err
	}
	s.log.WithField("token", token).
		WithField("rate", rate.String()).
		WithField("oracle_ref", oracleRef).
		Info("token data set")
	return entry, nil
}

// ChangeTokenApproval flips the approved flag of token. Only the owner may
// call it. Flipping an unregistered token creates an unpriced entry with a
// zero rate.
func (s *Service) ChangeTokenApproval(ctx context.Context, caller, token string) (entry domain.TokenEntry, err error) {
	start := time.Now()
	token = normaliseToken(token)
	defer func() { s.observe("change_token_approval", token, start, err) }()

	if caller != s.owner {
		return domain.TokenEntry{}, ErrUnauthorized
	}
	if token == "" {
		return domain.TokenEntry{}, fmt.Errorf("token is required")
	}

	ctx, unlock, err := s.acquire(ctx, registryLockKey)
	if err != nil {
		return domain.TokenEntry{}, err
	}
	defer unlock()

	current, err := s.registry.GetToken(ctx, token)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		current = domain.TokenEntry{Token: token, Rate: new(big.Int)}
		s.log.WithField("token", token).Warn("approval changed on unregistered token; it has no rate or oracle")
	case err != nil:
		return domain.TokenEntry{}, err
	}

	current.Approved = !current.Approved
	entry, err = s.registry.UpsertToken(ctx, current)
	if err != nil {
		return domain.TokenEntry{}, err
	}
	s.log.WithField("token", token).
		WithField("approved", entry.Approved).
		Info("token approval changed")
	return entry, nil
}

// Token returns the registry entry for token.
func (s *Service) Token(ctx context.Context, token string) (domain.TokenEntry, error) {
	return s.registry.GetToken(ctx, normaliseToken(token))
}

// ListTokens returns every registry entry.
func (s *Service) ListTokens(ctx context.Context) ([]domain.TokenEntry, error) {
	return s.registry.ListTokens(ctx)
}

// TokenToRate returns token's reward rate, zero when unregistered.
func (s *Service) TokenToRate(ctx context.Context, token string) (*big.Int, error) {
	entry, err := s.lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	return orZero(entry.Rate), nil
}

// TokenToPriceFeed returns token's oracle reference, empty when unregistered.
func (s *Service) TokenToPriceFeed(ctx context.Context, token string) (string, error) {
	entry, err := s.lookup(ctx, token)
	if err != nil {
		return "", err
	}
	return entry.OracleRef, nil
}

// TokenIsApproved reports whether token may currently be staked.
func (s *Service) TokenIsApproved(ctx context.Context, token string) (bool, error) {
	entry, err := s.lookup(ctx, token)
	if err != nil {
		return false, err
	}
	return entry.Approved, nil
}

// lookup returns the zero entry for unregistered tokens.
func (s *Service) lookup(ctx context.Context, token string) (domain.TokenEntry, error) {
	token = normaliseToken(token)
	entry, err := s.registry.GetToken(ctx, token)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.TokenEntry{Token: token, Rate: new(big.Int)}, nil
	}
	return entry, err
}
