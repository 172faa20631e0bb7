package staking

import (
	"context"
	"fmt"
	"math/big"
	"time"

	domain "github.com/R3E-Network/staking_ledger/internal/app/domain/staking"
	"github.com/R3E-Network/staking_ledger/internal/app/locks"
)

// ClaimRewards pays the caller's whole pending reward for token in the reward
// asset and returns the amount paid.
func (s *Service) ClaimRewards(ctx context.Context, caller, token string) (paid *big.Int, err error) {
	start := time.Now()
	token = normaliseToken(token)
	defer func() { s.observe("claim", token, start, err) }()

	if caller, err = requireCaller(caller); err != nil {
		return nil, err
	}

	ctx, unlock, err := s.acquire(ctx, locks.Key(caller, token))
	if err != nil {
		return nil, err
	}
	defer unlock()

	paid, err = s.ledger.TakePendingReward(ctx, caller, token)
	if err != nil {
		return nil, err
	}
	if paid.Sign() <= 0 {
		return nil, ErrNoRewardPending
	}

	if err := s.assets.Credit(ctx, caller, s.rewardToken, paid); err != nil {
		if _, restoreErr := s.ledger.AddPendingReward(ctx, caller, token, paid); restoreErr != nil {
			s.log.WithError(restoreErr).
				WithField("user", caller).
				WithField("token", token).
				WithField("amount", paid.String()).
				Error("restore pending reward after failed payout did not complete")
		}
		return nil, fmt.Errorf("pay %s %s: %w", paid, s.rewardToken, err)
	}

	s.log.WithField("user", caller).
		WithField("token", token).
		WithField("reward_token", s.rewardToken).
		WithField("amount", paid.String()).
		Info("reward claimed")
	return paid, nil
}

// TokenToUserReward returns user's pending reward accrued on token.
func (s *Service) TokenToUserReward(ctx context.Context, token, user string) (*big.Int, error) {
	return s.ledger.GetPendingReward(ctx, user, normaliseToken(token))
}

// GetUserBalanceValue prices the caller's staked balance of token with the
// token's oracle.
func (s *Service) GetUserBalanceValue(ctx context.Context, caller, token string) (domain.Valuation, error) {
	token = normaliseToken(token)
	caller, err := requireCaller(caller)
	if err != nil {
		return domain.Valuation{}, err
	}

	balance, err := s.ledger.GetStakeBalance(ctx, caller, token)
	if err != nil {
		return domain.Valuation{}, err
	}
	if balance.Sign() <= 0 {
		return domain.Valuation{}, ErrNoBalance
	}

	price, err := s.oracle.CurrentPrice(ctx, token)
	if err != nil {
		return domain.Valuation{}, err
	}
	value, err := scaleDown(balance, price.Value, price.Decimals)
	if err != nil {
		return domain.Valuation{}, err
	}
	return domain.Valuation{
		User:    caller,
		Token:   token,
		Balance: balance,
		Price:   price,
		Value:   value,
	}, nil
}
