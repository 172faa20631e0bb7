package staking

import "errors"

var (
	ErrUnauthorized        = errors.New("caller is not authorized")
	ErrTokenNotApproved    = errors.New("token is not approved for staking")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrDuplicateStake      = errors.New("a stake of this amount is already open")
	ErrNoSuchStake         = errors.New("no open stake of this amount")
	ErrLockNotElapsed      = errors.New("lock period has not elapsed")
	ErrInsufficientBalance = errors.New("amount exceeds staked balance")
	ErrNoRewardPending     = errors.New("no reward pending")
	ErrNoBalance           = errors.New("no staked balance")
	ErrOracleUnavailable   = errors.New("price oracle unavailable")
	ErrOverflow            = errors.New("arithmetic overflow")
)
