package pricefeed

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/staking_ledger/internal/app/domain/pricefeed"
	"github.com/R3E-Network/staking_ledger/internal/app/metrics"
	"github.com/R3E-Network/staking_ledger/internal/app/system"
	"github.com/R3E-Network/staking_ledger/pkg/logger"
)

var _ system.Service = (*Refresher)(nil)

type scheduled struct {
	entry    cron.EntryID
	interval string
}

// Refresher schedules a fetch for every active feed on the feed's own
// UpdateInterval. Feed definitions are re-read on syncSpec so feeds created,
// paused or rescheduled at runtime are picked up without a restart.
type Refresher struct {
	service  *Service
	log      *logger.Logger
	syncSpec string
	timeout  time.Duration
	fetcher  Fetcher

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	jobs    map[string]scheduled
	running bool
}

// NewRefresher creates a lifecycle-managed price feed refresher.
func NewRefresher(service *Service, log *logger.Logger) *Refresher {
	if log == nil {
		log = logger.NewDefault("pricefeed-runner")
	}
	return &Refresher{
		service:  service,
		log:      log,
		syncSpec: "@every 30s",
		timeout:  5 * time.Second,
		jobs:     make(map[string]scheduled),
	}
}

// WithFetcher assigns the fetcher used to retrieve external prices.
func (r *Refresher) WithFetcher(fetcher Fetcher) {
	r.mu.Lock()
	r.fetcher = fetcher
	r.mu.Unlock()
}

func (r *Refresher) Name() string { return "pricefeed-refresher" }

func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	cronLog := cron.PrintfLogger(r.log)
	c := cron.New(cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)))
	runCtx, cancel := context.WithCancel(ctx)
	if _, err := c.AddFunc(r.syncSpec, func() { r.sync(runCtx) }); err != nil {
		r.mu.Unlock()
		cancel()
		return err
	}
	r.cron = c
	r.cancel = cancel
	r.running = true
	r.mu.Unlock()

	r.sync(runCtx)
	c.Start()

	r.log.Info("price feed refresher started")
	return nil
}

func (r *Refresher) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	c := r.cron
	cancel := r.cancel
	r.running = false
	r.cron = nil
	r.cancel = nil
	r.jobs = make(map[string]scheduled)
	r.mu.Unlock()

	cancel()
	done := c.Stop()

	select {
	case <-done.Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	r.log.Info("price feed refresher stopped")
	return nil
}

// sync reconciles cron entries with the stored feed definitions.
func (r *Refresher) sync(ctx context.Context) {
	if r.service == nil {
		return
	}
	listCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	feeds, err := r.service.ListFeeds(listCtx)
	if err != nil {
		r.log.WithError(err).Warn("price feed sync failed")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron == nil {
		return
	}

	wanted := make(map[string]pricefeed.Feed, len(feeds))
	for _, feed := range feeds {
		if feed.Active {
			wanted[feed.ID] = feed
		}
	}

	for id, job := range r.jobs {
		feed, ok := wanted[id]
		if ok && feed.UpdateInterval == job.interval {
			continue
		}
		r.cron.Remove(job.entry)
		delete(r.jobs, id)
	}

	for id, feed := range wanted {
		if _, ok := r.jobs[id]; ok {
			continue
		}
		feedID := feed.ID
		entry, err := r.cron.AddFunc(feed.UpdateInterval, func() { r.refreshFeed(ctx, feedID) })
		if err != nil {
			r.log.WithError(err).
				WithField("feed_id", feed.ID).
				WithField("interval", feed.UpdateInterval).
				Warn("schedule price feed failed")
			continue
		}
		r.jobs[id] = scheduled{entry: entry, interval: feed.UpdateInterval}
	}
}

// refreshFeed fetches and records one price for feedID.
func (r *Refresher) refreshFeed(ctx context.Context, feedID string) {
	r.mu.Lock()
	fetcher := r.fetcher
	r.mu.Unlock()
	if fetcher == nil || r.service == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	feed, err := r.service.GetFeed(ctx, feedID)
	if err != nil {
		r.log.WithError(err).WithField("feed_id", feedID).Warn("load price feed failed")
		return
	}
	if !feed.Active {
		return
	}

	price, source, err := fetcher.Fetch(ctx, feed)
	if err != nil {
		metrics.RecordPriceRefresh(feed.Pair, false)
		r.log.WithError(err).
			WithField("feed_id", feed.ID).
			Warn("price fetch failed")
		return
	}
	if _, err := r.service.RecordSnapshot(ctx, feed.ID, price, source, time.Now()); err != nil {
		metrics.RecordPriceRefresh(feed.Pair, false)
		r.log.WithError(err).
			WithField("feed_id", feed.ID).
			Warn("record price snapshot failed")
		return
	}
	metrics.RecordPriceRefresh(feed.Pair, true)
}

// scheduledFeeds reports how many feeds currently have a cron entry.
func (r *Refresher) scheduledFeeds() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}
