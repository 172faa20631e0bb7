package staking

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	domain "github.com/R3E-Network/staking_ledger/internal/app/domain/staking"
	"github.com/R3E-Network/staking_ledger/internal/app/locks"
	"github.com/R3E-Network/staking_ledger/internal/app/storage"
)

// StakeToken moves amount of token from caller into custody and opens a
// position stamped with the current time. It returns the caller's new staked
// balance of token.
func (s *Service) StakeToken(ctx context.Context, caller, token string, amount *big.Int) (balance *big.Int, err error) {
	start := time.Now()
	token = normaliseToken(token)
	defer func() { s.observe("stake", token, start, err) }()

	if caller, err = requireCaller(caller); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if _, err := toUint256(amount); err != nil {
		return nil, err
	}

	entry, err := s.registry.GetToken(ctx, token)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && !entry.Approved) {
		return nil, ErrTokenNotApproved
	}
	if err != nil {
		return nil, err
	}

	ctx, unlock, err := s.acquire(ctx, locks.Key(caller, token))
	if err != nil {
		return nil, err
	}
	defer unlock()

	open, err := s.ledger.ListOpenPositions(ctx, caller, token)
	if err != nil {
		return nil, err
	}
	if findPosition(open, amount) >= 0 {
		return nil, ErrDuplicateStake
	}
	current, err := s.ledger.GetStakeBalance(ctx, caller, token)
	if err != nil {
		return nil, err
	}
	if _, err := addChecked(current, amount); err != nil {
		return nil, err
	}

	if err := s.assets.Debit(ctx, caller, token, amount); err != nil {
		return nil, fmt.Errorf("debit %s %s: %w", amount, token, err)
	}

	pos := domain.Position{
		ID:       uuid.NewString(),
		User:     caller,
		Token:    token,
		Amount:   new(big.Int).Set(amount),
		StakedAt: s.clock.Now().UTC(),
	}
	balance, err = s.ledger.OpenPosition(ctx, pos)
	if err != nil {
		if creditErr := s.assets.Credit(ctx, caller, token, amount); creditErr != nil {
			s.log.WithError(creditErr).
				WithField("user", caller).
				WithField("token", token).
				WithField("amount", amount.String()).
				Error("refund after failed stake did not complete")
		}
		if errors.Is(err, storage.ErrConflict) {
			return nil, ErrDuplicateStake
		}
		return nil, err
	}

	s.log.WithField("user", caller).
		WithField("token", token).
		WithField("amount", amount.String()).
		WithField("position_id", pos.ID).
		Info("stake opened")
	return balance, nil
}

// UnstakeToken closes the caller's open position of exactly amount once the
// lock has elapsed, returns the staked assets and accrues amount*rate of
// reward. It returns the new staked balance and the reward accrued.
func (s *Service) UnstakeToken(ctx context.Context, caller, token string, amount *big.Int) (balance, reward *big.Int, err error) {
	start := time.Now()
	token = normaliseToken(token)
	defer func() { s.observe("unstake", token, start, err) }()

	if caller, err = requireCaller(caller); err != nil {
		return nil, nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, nil, ErrInvalidAmount
	}

	ctx, unlock, err := s.acquire(ctx, locks.Key(caller, token))
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	current, err := s.ledger.GetStakeBalance(ctx, caller, token)
	if err != nil {
		return nil, nil, err
	}
	if amount.Cmp(current) > 0 {
		return nil, nil, ErrInsufficientBalance
	}

	open, err := s.ledger.ListOpenPositions(ctx, caller, token)
	if err != nil {
		return nil, nil, err
	}
	idx := findPosition(open, amount)
	if idx < 0 {
		return nil, nil, ErrNoSuchStake
	}
	pos := open[idx]
	if now := s.clock.Now(); now.Before(pos.UnlocksAt(s.lock)) {
		return nil, nil, fmt.Errorf("unlocks at %s: %w", pos.UnlocksAt(s.lock).Format(time.RFC3339), ErrLockNotElapsed)
	}

	rate, err := s.TokenToRate(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	reward, err = mulChecked(amount, rate)
	if err != nil {
		return nil, nil, err
	}
	pending, err := s.ledger.GetPendingReward(ctx, caller, token)
	if err != nil {
		return nil, nil, err
	}
	if _, err := addChecked(pending, reward); err != nil {
		return nil, nil, err
	}

	balance, _, err = s.ledger.SettleUnstake(ctx, pos, reward)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, ErrNoSuchStake
	}
	if err != nil {
		return nil, nil, err
	}

	if err := s.assets.Credit(ctx, caller, token, amount); err != nil {
		if revertErr := s.ledger.RevertUnstake(ctx, pos, reward); revertErr != nil {
			s.log.WithError(revertErr).
				WithField("user", caller).
				WithField("token", token).
				WithField("position_id", pos.ID).
				Error("revert after failed unstake credit did not complete")
		}
		return nil, nil, fmt.Errorf("credit %s %s: %w", amount, token, err)
	}

	s.log.WithField("user", caller).
		WithField("token", token).
		WithField("amount", amount.String()).
		WithField("reward", reward.String()).
		WithField("position_id", pos.ID).
		Info("stake closed")
	return balance, reward, nil
}

// TokenToUserBalance returns user's staked balance of token.
func (s *Service) TokenToUserBalance(ctx context.Context, token, user string) (*big.Int, error) {
	return s.ledger.GetStakeBalance(ctx, user, normaliseToken(token))
}

// StakingTime returns when user's open position of amount in token was
// opened, or the zero time when there is none.
func (s *Service) StakingTime(ctx context.Context, user, token string, amount *big.Int) (time.Time, error) {
	open, err := s.ledger.ListOpenPositions(ctx, user, normaliseToken(token))
	if err != nil {
		return time.Time{}, err
	}
	if idx := findPosition(open, amount); idx >= 0 {
		return open[idx].StakedAt, nil
	}
	return time.Time{}, nil
}

// ListPositions returns user's open positions in token.
func (s *Service) ListPositions(ctx context.Context, user, token string) ([]domain.Position, error) {
	return s.ledger.ListOpenPositions(ctx, user, normaliseToken(token))
}

// Summary collects user's balance, pending reward and open positions in token.
func (s *Service) Summary(ctx context.Context, user, token string) (domain.Summary, error) {
	token = normaliseToken(token)
	balance, err := s.ledger.GetStakeBalance(ctx, user, token)
	if err != nil {
		return domain.Summary{}, err
	}
	pending, err := s.ledger.GetPendingReward(ctx, user, token)
	if err != nil {
		return domain.Summary{}, err
	}
	positions, err := s.ledger.ListOpenPositions(ctx, user, token)
	if err != nil {
		return domain.Summary{}, err
	}
	return domain.Summary{
		User:          user,
		Token:         token,
		Balance:       balance,
		PendingReward: pending,
		Positions:     positions,
	}, nil
}

func findPosition(open []domain.Position, amount *big.Int) int {
	if amount == nil {
		return -1
	}
	for i, pos := range open {
		if pos.Amount.Cmp(amount) == 0 {
			return i
		}
	}
	return -1
}
