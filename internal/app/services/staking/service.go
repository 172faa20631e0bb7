package staking

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/R3E-Network/staking_ledger/internal/app/domain/asset"
	"github.com/R3E-Network/staking_ledger/internal/app/locks"
	"github.com/R3E-Network/staking_ledger/internal/app/metrics"
	"github.com/R3E-Network/staking_ledger/internal/app/storage"
	"github.com/R3E-Network/staking_ledger/pkg/logger"
)

// DefaultLockDuration is the holding period applied when Options leaves it unset.
const DefaultLockDuration = 30 * 24 * time.Hour

const registryLockKey = "registry"

// AssetCapability moves fungible assets between holders and the engine's
// custody. Debit needs an allowance granted by holder beforehand.
type AssetCapability interface {
	Debit(ctx context.Context, holder, token string, amount *big.Int) error
	Credit(ctx context.Context, holder, token string, amount *big.Int) error
}

// Options fixes the engine's identity and policy at construction.
type Options struct {
	// Owner is the only caller allowed to mutate the token registry.
	Owner string
	// RewardToken is the asset rewards are paid in.
	RewardToken  string
	LockDuration time.Duration
}

// Service is the staking and reward engine.
type Service struct {
	owner       string
	rewardToken string
	lock        time.Duration

	registry storage.RegistryStore
	ledger   storage.LedgerStore
	assets   AssetCapability
	oracle   *OracleAdapter
	locker   locks.Locker
	clock    Clock
	log      *logger.Logger
}

// New constructs the engine. prices may be nil, in which case valuations fail
// with ErrOracleUnavailable.
func New(opts Options, registry storage.RegistryStore, ledger storage.LedgerStore, assets AssetCapability, prices PriceSource, log *logger.Logger) (*Service, error) {
	opts.Owner = strings.TrimSpace(opts.Owner)
	opts.RewardToken = normaliseToken(opts.RewardToken)
	if opts.Owner == "" {
		return nil, fmt.Errorf("owner is required")
	}
	if opts.RewardToken == "" {
		return nil, fmt.Errorf("reward token is required")
	}
	if registry == nil || ledger == nil || assets == nil {
		return nil, fmt.Errorf("registry, ledger and asset capability are required")
	}
	if opts.LockDuration <= 0 {
		opts.LockDuration = DefaultLockDuration
	}
	if log == nil {
		log = logger.NewDefault("staking")
	}
	return &Service{
		owner:       opts.Owner,
		rewardToken: opts.RewardToken,
		lock:        opts.LockDuration,
		registry:    registry,
		ledger:      ledger,
		assets:      assets,
		oracle:      NewOracleAdapter(registry, prices),
		locker:      locks.NewKeyedMutex(),
		clock:       SystemClock,
		log:         log,
	}, nil
}

// WithLocker replaces the in-process locker, e.g. with a redis locker shared
// by several replicas.
func (s *Service) WithLocker(locker locks.Locker) {
	if locker != nil {
		s.locker = locker
	}
}

// WithClock replaces the time source.
func (s *Service) WithClock(clock Clock) {
	if clock != nil {
		s.clock = clock
	}
}

// Owner returns the registry owner.
func (s *Service) Owner() string { return s.owner }

// RewardToken returns the asset rewards are paid in.
func (s *Service) RewardToken() string { return s.rewardToken }

// LockDuration returns the holding period.
func (s *Service) LockDuration() time.Duration { return s.lock }

// Oracle exposes the price adapter used for valuations.
func (s *Service) Oracle() *OracleAdapter { return s.oracle }

// acquire serialises work on key and detaches the returned context from the
// caller's cancellation so a started mutation always runs to completion.
func (s *Service) acquire(ctx context.Context, key string) (context.Context, func(), error) {
	unlock, err := s.locker.Lock(ctx, key)
	if err != nil {
		return nil, nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	return context.WithoutCancel(ctx), unlock, nil
}

func (s *Service) observe(operation, token string, start time.Time, err error) {
	metrics.RecordStakingOperation(operation, token, outcome(err), time.Since(start))
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	for _, known := range []struct {
		err  error
		name string
	}{
		{ErrUnauthorized, "unauthorized"},
		{ErrTokenNotApproved, "token_not_approved"},
		{ErrInvalidAmount, "invalid_amount"},
		{ErrDuplicateStake, "duplicate_stake"},
		{ErrNoSuchStake, "no_such_stake"},
		{ErrLockNotElapsed, "lock_not_elapsed"},
		{ErrInsufficientBalance, "insufficient_balance"},
		{ErrNoRewardPending, "no_reward_pending"},
		{ErrNoBalance, "no_balance"},
		{ErrOracleUnavailable, "oracle_unavailable"},
		{ErrOverflow, "overflow"},
		{asset.ErrInsufficientFunds, "insufficient_funds"},
		{asset.ErrNotApproved, "not_approved"},
	} {
		if errors.Is(err, known.err) {
			return known.name
		}
	}
	return "error"
}

func normaliseToken(token string) string {
	return strings.ToUpper(strings.TrimSpace(token))
}

func requireCaller(caller string) (string, error) {
	caller = strings.TrimSpace(caller)
	if caller == "" {
		return "", fmt.Errorf("caller identity is required: %w", ErrUnauthorized)
	}
	return caller, nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
