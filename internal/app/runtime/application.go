package runtime

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	app "github.com/R3E-Network/staking_ledger/internal/app"
	"github.com/R3E-Network/staking_ledger/internal/app/httpapi"
	"github.com/R3E-Network/staking_ledger/internal/app/locks"
	pricefeedsvc "github.com/R3E-Network/staking_ledger/internal/app/services/pricefeed"
	"github.com/R3E-Network/staking_ledger/internal/app/storage/postgres"
	"github.com/R3E-Network/staking_ledger/internal/config"
	"github.com/R3E-Network/staking_ledger/internal/middleware"
	"github.com/R3E-Network/staking_ledger/internal/platform/migrations"
	"github.com/R3E-Network/staking_ledger/pkg/logger"
)

const limiterIdle = 10 * time.Minute

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg        *config.Config
	log        *logger.Logger
	app        *app.Application
	httpServer *http.Server
	limiter    *middleware.RateLimiter
	db         *sql.DB
	redis      *redis.Client
}

// NewApplication constructs the daemon from cfg: stores, locker and price
// source are chosen from the configured backends and the token bootstrap
// file, when set, is applied before the server is built.
func NewApplication(ctx context.Context, cfg *config.Config) (*Application, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}

	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})

	rt := &Application{cfg: cfg, log: log}
	ok := false
	defer func() {
		if !ok {
			rt.closeBackends()
		}
	}()

	stores, err := rt.buildStores(ctx)
	if err != nil {
		return nil, fmt.Errorf("configure stores: %w", err)
	}

	opts := app.Options{
		Owner:        cfg.Staking.Owner,
		Custody:      cfg.Staking.Custody,
		RewardToken:  cfg.Staking.RewardToken,
		LockDuration: cfg.Staking.LockDuration(),
	}
	if opts.Locker, err = rt.buildLocker(ctx); err != nil {
		return nil, fmt.Errorf("configure locker: %w", err)
	}
	if opts.Fetcher, err = buildFetcher(cfg.PriceFeed, log); err != nil {
		return nil, fmt.Errorf("configure price fetcher: %w", err)
	}

	application, err := app.New(stores, opts, log.Named("app"))
	if err != nil {
		return nil, err
	}

	if path := strings.TrimSpace(cfg.Staking.TokensFile); path != "" {
		bootstrap, err := config.LoadBootstrap(path)
		if err != nil {
			return nil, err
		}
		if err := application.Bootstrap(ctx, bootstrap); err != nil {
			return nil, fmt.Errorf("apply token bootstrap: %w", err)
		}
	}

	handler, limiter := httpapi.NewServerHandler(application, httpapi.ServerOptions{
		JWTSecret:      cfg.Auth.JWTSecret,
		RateLimitRPS:   cfg.RateLimit.RPS,
		RateLimitBurst: cfg.RateLimit.Burst,
	}, log.Named("httpapi"))

	rt.app = application
	rt.limiter = limiter
	rt.httpServer = &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	ok = true
	return rt, nil
}

// App exposes the composed application.
func (a *Application) App() *app.Application { return a.app }

// Handler returns the HTTP handler served by Run.
func (a *Application) Handler() http.Handler { return a.httpServer.Handler }

// Run starts background services and the HTTP server and blocks until the
// context is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if a.limiter != nil {
		go a.sweepLimiters(ctx)
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the HTTP server, the background services and the
// backend connections.
func (a *Application) Shutdown(ctx context.Context) error {
	timeout := a.cfg.HTTP.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var errs []error
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}
	if err := a.app.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("services: %w", err))
	}
	a.closeBackends()
	return errors.Join(errs...)
}

func (a *Application) sweepLimiters(ctx context.Context) {
	ticker := time.NewTicker(limiterIdle)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.limiter.Cleanup(limiterIdle)
		}
	}
}

// buildStores returns postgres-backed stores when a DSN is configured and
// leaves them nil (in-memory) otherwise.
func (a *Application) buildStores(ctx context.Context) (app.Stores, error) {
	if strings.TrimSpace(a.cfg.Database.DSN) == "" {
		a.log.Warn("DATABASE_DSN not set; using in-memory stores")
		return app.Stores{}, nil
	}

	db, err := openDatabase(ctx, a.cfg.Database)
	if err != nil {
		return app.Stores{}, err
	}
	a.db = db

	if err := migrations.Apply(ctx, db); err != nil {
		return app.Stores{}, fmt.Errorf("apply migrations: %w", err)
	}

	store := postgres.New(db)
	return app.Stores{
		Registry:   store,
		Ledger:     store,
		Assets:     store,
		PriceFeeds: store,
	}, nil
}

// buildLocker returns a redis locker when REDIS_ADDR is set so replicas
// share one set of per-key locks; nil keeps the in-process locker.
func (a *Application) buildLocker(ctx context.Context) (locks.Locker, error) {
	if strings.TrimSpace(a.cfg.Redis.Addr) == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	a.redis = client

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return locks.NewRedisLocker(client, "", a.log.Named("locks")), nil
}

func buildFetcher(cfg config.PriceFeedConfig, log *logger.Logger) (pricefeedsvc.Fetcher, error) {
	endpoint := strings.TrimSpace(cfg.FetchURL)
	if endpoint == "" {
		return nil, nil
	}
	if log == nil {
		log = logger.NewDefault("runtime")
	}
	fetcher, err := pricefeedsvc.NewHTTPFetcher(&http.Client{Timeout: 10 * time.Second}, endpoint, cfg.FetchKey, log.Named("pricefeed-fetcher"))
	if err != nil {
		return nil, err
	}
	if path := strings.TrimSpace(cfg.PricePath); path != "" {
		fetcher = fetcher.WithPricePath(path)
	}
	return fetcher, nil
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func (a *Application) closeBackends() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
		a.db = nil
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("error closing redis connection")
		}
		a.redis = nil
	}
}
