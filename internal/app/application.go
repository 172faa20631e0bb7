package app

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/R3E-Network/staking_ledger/internal/app/locks"
	assetsvc "github.com/R3E-Network/staking_ledger/internal/app/services/assets"
	pricefeedsvc "github.com/R3E-Network/staking_ledger/internal/app/services/pricefeed"
	stakingsvc "github.com/R3E-Network/staking_ledger/internal/app/services/staking"
	"github.com/R3E-Network/staking_ledger/internal/app/storage"
	"github.com/R3E-Network/staking_ledger/internal/app/storage/memory"
	"github.com/R3E-Network/staking_ledger/internal/app/system"
	"github.com/R3E-Network/staking_ledger/internal/config"
	"github.com/R3E-Network/staking_ledger/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Registry   storage.RegistryStore
	Ledger     storage.LedgerStore
	Assets     storage.AssetStore
	PriceFeeds storage.PriceFeedStore
}

// Options configures the staking engine and its collaborators.
type Options struct {
	Owner        string
	Custody      string
	RewardToken  string
	LockDuration time.Duration

	// Locker serialises mutations; nil keeps the in-process locker.
	Locker locks.Locker
	// Fetcher supplies external prices; nil serves prices registered on
	// Application.StaticPrices.
	Fetcher pricefeedsvc.Fetcher
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger
	custody string

	Assets       *assetsvc.Service
	PriceFeeds   *pricefeedsvc.Service
	Staking      *stakingsvc.Service
	Refresher    *pricefeedsvc.Refresher
	StaticPrices *pricefeedsvc.StaticFetcher
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Registry == nil {
		stores.Registry = mem
	}
	if stores.Ledger == nil {
		stores.Ledger = mem
	}
	if stores.Assets == nil {
		stores.Assets = mem
	}
	if stores.PriceFeeds == nil {
		stores.PriceFeeds = mem
	}

	opts.Custody = strings.TrimSpace(opts.Custody)
	if opts.Custody == "" {
		return nil, errors.New("custody account is required")
	}

	manager := system.NewManager()

	assetService := assetsvc.New(stores.Assets, log.Named("assets"))
	priceFeedService := pricefeedsvc.New(stores.PriceFeeds, log.Named("pricefeed"))

	stakingService, err := stakingsvc.New(stakingsvc.Options{
		Owner:        opts.Owner,
		RewardToken:  opts.RewardToken,
		LockDuration: opts.LockDuration,
	}, stores.Registry, stores.Ledger, assetsvc.NewCustodyAdapter(assetService, opts.Custody), priceFeedService, log.Named("staking"))
	if err != nil {
		return nil, fmt.Errorf("build staking service: %w", err)
	}
	if opts.Locker != nil {
		stakingService.WithLocker(opts.Locker)
	}

	static := pricefeedsvc.NewStaticFetcher()
	refresher := pricefeedsvc.NewRefresher(priceFeedService, log.Named("pricefeed-runner"))
	if opts.Fetcher != nil {
		refresher.WithFetcher(opts.Fetcher)
	} else {
		log.Warn("no external price source configured; serving static prices only")
		refresher.WithFetcher(static)
	}

	if err := manager.Register(refresher); err != nil {
		return nil, fmt.Errorf("register %s: %w", refresher.Name(), err)
	}

	return &Application{
		manager:      manager,
		log:          log,
		custody:      opts.Custody,
		Assets:       assetService,
		PriceFeeds:   priceFeedService,
		Staking:      stakingService,
		Refresher:    refresher,
		StaticPrices: static,
	}, nil
}

// Custody returns the account holding staked principal and reward reserves.
func (a *Application) Custody() string { return a.custody }

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}

// Bootstrap applies a token bootstrap document: feeds are created when
// missing and seeded with their static price, tokens are registered by the
// owner and balances are topped up to the configured amounts. Applying the
// same document twice leaves the state unchanged.
func (a *Application) Bootstrap(ctx context.Context, b *config.Bootstrap) error {
	if b == nil {
		return nil
	}

	for _, spec := range b.Feeds {
		if err := a.ensureFeed(ctx, spec); err != nil {
			return fmt.Errorf("feed %s: %w", spec.Pair(), err)
		}
	}

	for _, spec := range b.Mints {
		if err := a.topUp(ctx, spec); err != nil {
			return fmt.Errorf("mint %s to %s: %w", spec.Token, spec.Holder, err)
		}
	}

	owner := a.Staking.Owner()
	for _, spec := range b.Tokens {
		rate, err := config.ParseAmount(spec.Rate)
		if err != nil {
			return fmt.Errorf("token %s: %w", spec.Token, err)
		}
		entry, err := a.Staking.SetTokensData(ctx, owner, spec.Token, rate, spec.Oracle)
		if err != nil {
			return fmt.Errorf("register token %s: %w", spec.Token, err)
		}
		want := spec.Approved == nil || *spec.Approved
		if entry.Approved != want {
			if _, err := a.Staking.ChangeTokenApproval(ctx, owner, spec.Token); err != nil {
				return fmt.Errorf("approve token %s: %w", spec.Token, err)
			}
		}
	}

	a.log.WithField("feeds", len(b.Feeds)).
		WithField("tokens", len(b.Tokens)).
		WithField("mints", len(b.Mints)).
		Info("bootstrap applied")
	return nil
}

func (a *Application) ensureFeed(ctx context.Context, spec config.FeedSpec) error {
	feed, err := a.PriceFeeds.FindFeed(ctx, spec.Pair())
	switch {
	case errors.Is(err, storage.ErrNotFound):
		feed, err = a.PriceFeeds.CreateFeed(ctx, spec.Base, spec.Quote, spec.Decimals, spec.Interval)
		if err != nil {
			return err
		}
	case err != nil:
		return err
	}

	if strings.TrimSpace(spec.StaticPrice) == "" {
		return nil
	}
	price, err := pricefeedsvc.ScalePrice(spec.StaticPrice, feed.Decimals)
	if err != nil {
		return err
	}
	a.StaticPrices.Set(feed.Pair, price)
	_, err = a.PriceFeeds.RecordSnapshot(ctx, feed.ID, price, "static", time.Now().UTC())
	return err
}

func (a *Application) topUp(ctx context.Context, spec config.MintSpec) error {
	target, err := config.ParseAmount(spec.Amount)
	if err != nil {
		return err
	}
	held, err := a.Assets.BalanceOf(ctx, spec.Token, spec.Holder)
	if err != nil {
		return err
	}
	missing := new(big.Int).Sub(target, held)
	if missing.Sign() <= 0 {
		return nil
	}
	_, err = a.Assets.Mint(ctx, spec.Token, spec.Holder, missing)
	return err
}
