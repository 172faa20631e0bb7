package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/staking_ledger/internal/app/domain/pricefeed"
	"github.com/R3E-Network/staking_ledger/internal/app/storage"
	"github.com/R3E-Network/staking_ledger/pkg/logger"
)

const defaultUpdateInterval = "@every 1m"

// Service manages price feed definitions and price snapshots.
type Service struct {
	store storage.PriceFeedStore
	log   *logger.Logger
}

// New constructs a price feed service.
func New(store storage.PriceFeedStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("pricefeed")
	}
	return &Service{
		store: store,
		log:   log,
	}
}

// CreateFeed registers a new price feed definition. Prices recorded against
// the feed are integers scaled by 10^decimals.
func (s *Service) CreateFeed(ctx context.Context, baseAsset, quoteAsset string, decimals uint8, updateInterval string) (pricefeed.Feed, error) {
	baseAsset = strings.TrimSpace(baseAsset)
	quoteAsset = strings.TrimSpace(quoteAsset)
	updateInterval = strings.TrimSpace(updateInterval)

	if baseAsset == "" || quoteAsset == "" {
		return pricefeed.Feed{}, fmt.Errorf("base_asset and quote_asset are required")
	}
	if updateInterval == "" {
		updateInterval = defaultUpdateInterval
	}
	if _, err := cron.ParseStandard(updateInterval); err != nil {
		return pricefeed.Feed{}, fmt.Errorf("invalid update_interval %q: %w", updateInterval, err)
	}

	pair := strings.ToUpper(baseAsset) + "/" + strings.ToUpper(quoteAsset)

	existing, err := s.store.ListPriceFeeds(ctx)
	if err != nil {
		return pricefeed.Feed{}, err
	}
	for _, feed := range existing {
		if strings.EqualFold(feed.Pair, pair) {
			return pricefeed.Feed{}, fmt.Errorf("price feed for pair %s already exists", pair)
		}
	}

	feed := pricefeed.Feed{
		BaseAsset:      strings.ToUpper(baseAsset),
		QuoteAsset:     strings.ToUpper(quoteAsset),
		Pair:           pair,
		Decimals:       decimals,
		UpdateInterval: updateInterval,
		Active:         true,
	}
	feed, err = s.store.CreatePriceFeed(ctx, feed)
	if err != nil {
		return pricefeed.Feed{}, err
	}
	s.log.WithField("feed_id", feed.ID).
		WithField("pair", feed.Pair).
		WithField("decimals", feed.Decimals).
		Info("price feed created")
	return feed, nil
}

// UpdateFeed updates mutable fields on a feed.
func (s *Service) UpdateFeed(ctx context.Context, feedID string, interval *string, decimals *uint8) (pricefeed.Feed, error) {
	feed, err := s.store.GetPriceFeed(ctx, feedID)
	if err != nil {
		return pricefeed.Feed{}, err
	}

	if interval != nil {
		trimmed := strings.TrimSpace(*interval)
		if trimmed == "" {
			return pricefeed.Feed{}, fmt.Errorf("update_interval cannot be empty")
		}
		if _, err := cron.ParseStandard(trimmed); err != nil {
			return pricefeed.Feed{}, fmt.Errorf("invalid update_interval %q: %w", trimmed, err)
		}
		feed.UpdateInterval = trimmed
	}
	if decimals != nil {
		feed.Decimals = *decimals
	}

	feed, err = s.store.UpdatePriceFeed(ctx, feed)
	if err != nil {
		return pricefeed.Feed{}, err
	}
	s.log.WithField("feed_id", feed.ID).
		WithField("pair", feed.Pair).
		Info("price feed updated")
	return feed, nil
}

// SetActive toggles the active flag.
func (s *Service) SetActive(ctx context.Context, feedID string, active bool) (pricefeed.Feed, error) {
	feed, err := s.store.GetPriceFeed(ctx, feedID)
	if err != nil {
		return pricefeed.Feed{}, err
	}
	if feed.Active == active {
		return feed, nil
	}

	feed.Active = active
	feed, err = s.store.UpdatePriceFeed(ctx, feed)
	if err != nil {
		return pricefeed.Feed{}, err
	}

	s.log.WithField("feed_id", feed.ID).
		WithField("active", active).
		Info("price feed state changed")
	return feed, nil
}

// RecordSnapshot stores a price observation scaled to the feed's decimals.
func (s *Service) RecordSnapshot(ctx context.Context, feedID string, price *big.Int, source string, collectedAt time.Time) (pricefeed.Snapshot, error) {
	if price == nil || price.Sign() <= 0 {
		return pricefeed.Snapshot{}, fmt.Errorf("price must be positive")
	}
	source = strings.TrimSpace(source)
	if source == "" {
		source = "manual"
	}

	feed, err := s.store.GetPriceFeed(ctx, feedID)
	if err != nil {
		return pricefeed.Snapshot{}, err
	}

	snap := pricefeed.Snapshot{
		FeedID:      feed.ID,
		Price:       new(big.Int).Set(price),
		Decimals:    feed.Decimals,
		Source:      source,
		CollectedAt: collectedAt.UTC(),
	}
	if collectedAt.IsZero() {
		snap.CollectedAt = time.Now().UTC()
	}
	return s.store.CreatePriceSnapshot(ctx, snap)
}

// LatestPrice returns the most recent price recorded for the feed identified
// by ref, which is either a feed ID or a pair such as "DAI/USD".
func (s *Service) LatestPrice(ctx context.Context, ref string) (*big.Int, uint8, error) {
	feed, err := s.resolve(ctx, ref)
	if err != nil {
		return nil, 0, err
	}
	if !feed.Active {
		return nil, 0, fmt.Errorf("price feed %s is inactive", feed.Pair)
	}
	snap, err := s.store.LatestPriceSnapshot(ctx, feed.ID)
	if err != nil {
		return nil, 0, err
	}
	return snap.Price, snap.Decimals, nil
}

// FindFeed looks a feed up by ID or pair.
func (s *Service) FindFeed(ctx context.Context, ref string) (pricefeed.Feed, error) {
	return s.resolve(ctx, ref)
}

func (s *Service) resolve(ctx context.Context, ref string) (pricefeed.Feed, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return pricefeed.Feed{}, fmt.Errorf("price feed reference is required")
	}
	feed, err := s.store.GetPriceFeed(ctx, ref)
	if err == nil {
		return feed, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return pricefeed.Feed{}, err
	}

	feeds, err := s.store.ListPriceFeeds(ctx)
	if err != nil {
		return pricefeed.Feed{}, err
	}
	for _, feed := range feeds {
		if strings.EqualFold(feed.Pair, ref) {
			return feed, nil
		}
	}
	return pricefeed.Feed{}, fmt.Errorf("price feed %s: %w", ref, storage.ErrNotFound)
}

// ListFeeds returns every configured feed.
func (s *Service) ListFeeds(ctx context.Context) ([]pricefeed.Feed, error) {
	return s.store.ListPriceFeeds(ctx)
}

// ListSnapshots returns recorded prices for a feed.
func (s *Service) ListSnapshots(ctx context.Context, feedID string) ([]pricefeed.Snapshot, error) {
	return s.store.ListPriceSnapshots(ctx, feedID)
}

// GetFeed retrieves a single feed by identifier.
func (s *Service) GetFeed(ctx context.Context, feedID string) (pricefeed.Feed, error) {
	return s.store.GetPriceFeed(ctx, feedID)
}
