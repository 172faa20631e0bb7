package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/R3E-Network/staking_ledger/internal/app/domain/asset"
	"github.com/R3E-Network/staking_ledger/internal/app/domain/pricefeed"
	"github.com/R3E-Network/staking_ledger/internal/app/domain/staking"
	"github.com/R3E-Network/staking_ledger/internal/app/storage"
)

const uniqueViolation = "23505"

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.RegistryStore = (*Store)(nil)
var _ storage.LedgerStore = (*Store)(nil)
var _ storage.AssetStore = (*Store)(nil)
var _ storage.PriceFeedStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "postgres")}
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// --- RegistryStore ----------------------------------------------------------

type tokenRow struct {
	Token     string    `db:"token"`
	Rate      string    `db:"rate"`
	OracleRef string    `db:"oracle_ref"`
	Approved  bool      `db:"approved"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r tokenRow) entry() (staking.TokenEntry, error) {
	rate, err := parseNumeric(r.Rate)
	if err != nil {
		return staking.TokenEntry{}, err
	}
	return staking.TokenEntry{
		Token:     r.Token,
		Rate:      rate,
		OracleRef: r.OracleRef,
		Approved:  r.Approved,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}, nil
}

func (s *Store) UpsertToken(ctx context.Context, entry staking.TokenEntry) (staking.TokenEntry, error) {
	now := time.Now().UTC()
	var row tokenRow
	err := s.db.GetContext(ctx, &row, `
		INSERT INTO staking_tokens (token, rate, oracle_ref, approved, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (token) DO UPDATE
		SET rate = EXCLUDED.rate, oracle_ref = EXCLUDED.oracle_ref,
		    approved = EXCLUDED.approved, updated_at = EXCLUDED.updated_at
		RETURNING token, rate, oracle_ref, approved, created_at, updated_at
	`, entry.Token, numeric(entry.Rate), entry.OracleRef, entry.Approved, now)
	if err != nil {
		return staking.TokenEntry{}, err
	}
	return row.entry()
}

func (s *Store) GetToken(ctx context.Context, token string) (staking.TokenEntry, error) {
	var row tokenRow
	err := s.db.GetContext(ctx, &row, `
		SELECT token, rate, oracle_ref, approved, created_at, updated_at
		FROM staking_tokens
		WHERE token = $1
	`, token)
	if errors.Is(err, sql.ErrNoRows) {
		return staking.TokenEntry{}, fmt.Errorf("token %s: %w", token, storage.ErrNotFound)
	}
	if err != nil {
		return staking.TokenEntry{}, err
	}
	return row.entry()
}

func (s *Store) ListTokens(ctx context.Context) ([]staking.TokenEntry, error) {
	var rows []tokenRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT token, rate, oracle_ref, approved, created_at, updated_at
		FROM staking_tokens
		ORDER BY token
	`); err != nil {
		return nil, err
	}
	result := make([]staking.TokenEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := row.entry()
		if err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	return result, nil
}

// --- LedgerStore ------------------------------------------------------------

type positionRow struct {
	ID       string    `db:"id"`
	User     string    `db:"user_id"`
	Token    string    `db:"token"`
	Amount   string    `db:"amount"`
	StakedAt time.Time `db:"staked_at"`
}

func (s *Store) GetStakeBalance(ctx context.Context, user, token string) (*big.Int, error) {
	return s.scalar(ctx, s.db, `
		SELECT amount FROM staking_balances WHERE user_id = $1 AND token = $2
	`, user, token)
}

func (s *Store) ListOpenPositions(ctx context.Context, user, token string) ([]staking.Position, error) {
	var rows []positionRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, user_id, token, amount, staked_at
		FROM staking_positions
		WHERE user_id = $1 AND token = $2
		ORDER BY staked_at, id
	`, user, token); err != nil {
		return nil, err
	}
	result := make([]staking.Position, 0, len(rows))
	for _, row := range rows {
		amount, err := parseNumeric(row.Amount)
		if err != nil {
			return nil, err
		}
		result = append(result, staking.Position{
			ID:       row.ID,
			User:     row.User,
			Token:    row.Token,
			Amount:   amount,
			StakedAt: row.StakedAt,
		})
	}
	return result, nil
}

func (s *Store) OpenPosition(ctx context.Context, pos staking.Position) (*big.Int, error) {
	if pos.ID == "" {
		pos.ID = uuid.NewString()
	}
	var balance *big.Int
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := insertPosition(ctx, tx, pos); err != nil {
			return err
		}
		var err error
		balance, err = s.scalar(ctx, tx, `
			INSERT INTO staking_balances (user_id, token, amount)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id, token) DO UPDATE
			SET amount = staking_balances.amount + EXCLUDED.amount
			RETURNING amount
		`, pos.User, pos.Token, numeric(pos.Amount))
		return err
	})
	if err != nil {
		return nil, err
	}
	return balance, nil
}

func (s *Store) SettleUnstake(ctx context.Context, pos staking.Position, reward *big.Int) (*big.Int, *big.Int, error) {
	var balance, pending *big.Int
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, `
			DELETE FROM staking_positions WHERE id = $1 AND user_id = $2 AND token = $3
		`, pos.ID, pos.User, pos.Token)
		if err != nil {
			return err
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return fmt.Errorf("position %s: %w", pos.ID, storage.ErrNotFound)
		}

		balance, err = s.guarded(ctx, tx, `
			UPDATE staking_balances SET amount = amount - $3
			WHERE user_id = $1 AND token = $2 AND amount >= $3
			RETURNING amount
		`, pos.User, pos.Token, numeric(pos.Amount))
		if err != nil {
			return err
		}
		if balance == nil {
			return fmt.Errorf("balance would go negative for %s/%s", pos.User, pos.Token)
		}

		pending, err = addReward(ctx, s, tx, pos.User, pos.Token, reward)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return balance, pending, nil
}

func (s *Store) RevertUnstake(ctx context.Context, pos staking.Position, reward *big.Int) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := insertPosition(ctx, tx, pos); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO staking_balances (user_id, token, amount)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id, token) DO UPDATE
			SET amount = staking_balances.amount + EXCLUDED.amount
		`, pos.User, pos.Token, numeric(pos.Amount)); err != nil {
			return err
		}
		_, err := addReward(ctx, s, tx, pos.User, pos.Token, new(big.Int).Neg(orZero(reward)))
		return err
	})
}

func (s *Store) GetPendingReward(ctx context.Context, user, token string) (*big.Int, error) {
	return s.scalar(ctx, s.db, `
		SELECT pending FROM staking_rewards WHERE user_id = $1 AND token = $2
	`, user, token)
}

func (s *Store) TakePendingReward(ctx context.Context, user, token string) (*big.Int, error) {
	return s.scalar(ctx, s.db, `
		DELETE FROM staking_rewards WHERE user_id = $1 AND token = $2
		RETURNING pending
	`, user, token)
}

func (s *Store) AddPendingReward(ctx context.Context, user, token string, delta *big.Int) (*big.Int, error) {
	var pending *big.Int
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		pending, err = addReward(ctx, s, tx, user, token, delta)
		return err
	})
	return pending, err
}

func addReward(ctx context.Context, s *Store, tx *sqlx.Tx, user, token string, delta *big.Int) (*big.Int, error) {
	delta = orZero(delta)
	if delta.Sign() >= 0 {
		return s.scalar(ctx, tx, `
			INSERT INTO staking_rewards (user_id, token, pending)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id, token) DO UPDATE
			SET pending = staking_rewards.pending + EXCLUDED.pending
			RETURNING pending
		`, user, token, numeric(delta))
	}
	pending, err := s.guarded(ctx, tx, `
		UPDATE staking_rewards SET pending = pending + $3
		WHERE user_id = $1 AND token = $2 AND pending + $3 >= 0
		RETURNING pending
	`, user, token, numeric(delta))
	if err != nil {
		return nil, err
	}
	if pending == nil {
		return nil, fmt.Errorf("pending reward would go negative for %s/%s", user, token)
	}
	return pending, nil
}

func insertPosition(ctx context.Context, tx *sqlx.Tx, pos staking.Position) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO staking_positions (id, user_id, token, amount, staked_at)
		VALUES ($1, $2, $3, $4, $5)
	`, pos.ID, pos.User, pos.Token, numeric(pos.Amount), pos.StakedAt.UTC())
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("position of %s already open: %w", pos.Amount, storage.ErrConflict)
	}
	return err
}

// --- AssetStore -------------------------------------------------------------

type transferRow struct {
	ID        string    `db:"id"`
	Kind      string    `db:"kind"`
	Token     string    `db:"token"`
	From      string    `db:"from_holder"`
	To        string    `db:"to_holder"`
	Spender   string    `db:"spender"`
	Amount    string    `db:"amount"`
	CreatedAt time.Time `db:"created_at"`
}

func (s *Store) GetAssetBalance(ctx context.Context, token, holder string) (*big.Int, error) {
	return s.scalar(ctx, s.db, `
		SELECT amount FROM asset_balances WHERE token = $1 AND holder = $2
	`, token, holder)
}

func (s *Store) GetAllowance(ctx context.Context, token, holder, spender string) (*big.Int, error) {
	return s.scalar(ctx, s.db, `
		SELECT amount FROM asset_allowances WHERE token = $1 AND holder = $2 AND spender = $3
	`, token, holder, spender)
}

func (s *Store) SetAllowance(ctx context.Context, allowance asset.Allowance) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO asset_allowances (token, holder, spender, amount)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (token, holder, spender) DO UPDATE SET amount = EXCLUDED.amount
	`, allowance.Token, allowance.Holder, allowance.Spender, numeric(allowance.Amount))
	return err
}

func (s *Store) ApplyTransfer(ctx context.Context, tr asset.Transfer) (asset.Transfer, error) {
	if tr.ID == "" {
		tr.ID = uuid.NewString()
	}
	tr.Amount = orZero(tr.Amount)
	tr.CreatedAt = time.Now().UTC()

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if tr.Spender != "" {
			left, err := s.guarded(ctx, tx, `
				UPDATE asset_allowances SET amount = amount - $4
				WHERE token = $1 AND holder = $2 AND spender = $3 AND amount >= $4
				RETURNING amount
			`, tr.Token, tr.From, tr.Spender, numeric(tr.Amount))
			if err != nil {
				return err
			}
			if left == nil {
				return asset.ErrNotApproved
			}
		}
		if tr.From != "" {
			left, err := s.guarded(ctx, tx, `
				UPDATE asset_balances SET amount = amount - $3
				WHERE token = $1 AND holder = $2 AND amount >= $3
				RETURNING amount
			`, tr.Token, tr.From, numeric(tr.Amount))
			if err != nil {
				return err
			}
			if left == nil {
				return asset.ErrInsufficientFunds
			}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO asset_balances (token, holder, amount)
			VALUES ($1, $2, $3)
			ON CONFLICT (token, holder) DO UPDATE
			SET amount = asset_balances.amount + EXCLUDED.amount
		`, tr.Token, tr.To, numeric(tr.Amount)); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO asset_transfers (id, kind, token, from_holder, to_holder, spender, amount, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, tr.ID, string(tr.Kind), tr.Token, tr.From, tr.To, tr.Spender, numeric(tr.Amount), tr.CreatedAt)
		return err
	})
	if err != nil {
		return asset.Transfer{}, err
	}
	return tr, nil
}

func (s *Store) ListTransfers(ctx context.Context, token, holder string) ([]asset.Transfer, error) {
	var rows []transferRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, kind, token, from_holder, to_holder, spender, amount, created_at
		FROM asset_transfers
		WHERE ($1 = '' OR token = $1)
		  AND ($2 = '' OR from_holder = $2 OR to_holder = $2)
		ORDER BY created_at, id
	`, token, holder); err != nil {
		return nil, err
	}
	result := make([]asset.Transfer, 0, len(rows))
	for _, row := range rows {
		amount, err := parseNumeric(row.Amount)
		if err != nil {
			return nil, err
		}
		result = append(result, asset.Transfer{
			ID:        row.ID,
			Kind:      asset.TransferKind(row.Kind),
			Token:     row.Token,
			From:      row.From,
			To:        row.To,
			Spender:   row.Spender,
			Amount:    amount,
			CreatedAt: row.CreatedAt,
		})
	}
	return result, nil
}

// --- PriceFeedStore ---------------------------------------------------------

type feedRow struct {
	ID             string    `db:"id"`
	BaseAsset      string    `db:"base_asset"`
	QuoteAsset     string    `db:"quote_asset"`
	Pair           string    `db:"pair"`
	Decimals       int       `db:"decimals"`
	UpdateInterval string    `db:"update_interval"`
	Active         bool      `db:"active"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (r feedRow) feed() pricefeed.Feed {
	return pricefeed.Feed{
		ID:             r.ID,
		BaseAsset:      r.BaseAsset,
		QuoteAsset:     r.QuoteAsset,
		Pair:           r.Pair,
		Decimals:       uint8(r.Decimals),
		UpdateInterval: r.UpdateInterval,
		Active:         r.Active,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

type snapshotRow struct {
	ID          string    `db:"id"`
	FeedID      string    `db:"feed_id"`
	Price       string    `db:"price"`
	Decimals    int       `db:"decimals"`
	Source      string    `db:"source"`
	CollectedAt time.Time `db:"collected_at"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r snapshotRow) snapshot() (pricefeed.Snapshot, error) {
	price, err := parseNumeric(r.Price)
	if err != nil {
		return pricefeed.Snapshot{}, err
	}
	return pricefeed.Snapshot{
		ID:          r.ID,
		FeedID:      r.FeedID,
		Price:       price,
		Decimals:    uint8(r.Decimals),
		Source:      r.Source,
		CollectedAt: r.CollectedAt,
		CreatedAt:   r.CreatedAt,
	}, nil
}

func (s *Store) CreatePriceFeed(ctx context.Context, feed pricefeed.Feed) (pricefeed.Feed, error) {
	if feed.ID == "" {
		feed.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	feed.CreatedAt = now
	feed.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO price_feeds (id, base_asset, quote_asset, pair, decimals, update_interval, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, feed.ID, feed.BaseAsset, feed.QuoteAsset, feed.Pair, int(feed.Decimals), feed.UpdateInterval, feed.Active, feed.CreatedAt, feed.UpdatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return pricefeed.Feed{}, fmt.Errorf("price feed %s: %w", feed.Pair, storage.ErrConflict)
	}
	if err != nil {
		return pricefeed.Feed{}, err
	}
	return feed, nil
}

func (s *Store) UpdatePriceFeed(ctx context.Context, feed pricefeed.Feed) (pricefeed.Feed, error) {
	existing, err := s.GetPriceFeed(ctx, feed.ID)
	if err != nil {
		return pricefeed.Feed{}, err
	}
	feed.CreatedAt = existing.CreatedAt
	feed.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE price_feeds
		SET decimals = $2, update_interval = $3, active = $4, updated_at = $5
		WHERE id = $1
	`, feed.ID, int(feed.Decimals), feed.UpdateInterval, feed.Active, feed.UpdatedAt)
	if err != nil {
		return pricefeed.Feed{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return pricefeed.Feed{}, fmt.Errorf("price feed %s: %w", feed.ID, storage.ErrNotFound)
	}
	return feed, nil
}

func (s *Store) GetPriceFeed(ctx context.Context, id string) (pricefeed.Feed, error) {
	var row feedRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, base_asset, quote_asset, pair, decimals, update_interval, active, created_at, updated_at
		FROM price_feeds
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return pricefeed.Feed{}, fmt.Errorf("price feed %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return pricefeed.Feed{}, err
	}
	return row.feed(), nil
}

func (s *Store) ListPriceFeeds(ctx context.Context) ([]pricefeed.Feed, error) {
	var rows []feedRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, base_asset, quote_asset, pair, decimals, update_interval, active, created_at, updated_at
		FROM price_feeds
		ORDER BY created_at, id
	`); err != nil {
		return nil, err
	}
	result := make([]pricefeed.Feed, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.feed())
	}
	return result, nil
}

func (s *Store) CreatePriceSnapshot(ctx context.Context, snap pricefeed.Snapshot) (pricefeed.Snapshot, error) {
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	snap.CreatedAt = time.Now().UTC()
	if snap.CollectedAt.IsZero() {
		snap.CollectedAt = snap.CreatedAt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO price_snapshots (id, feed_id, price, decimals, source, collected_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, snap.ID, snap.FeedID, numeric(snap.Price), int(snap.Decimals), snap.Source, snap.CollectedAt, snap.CreatedAt)
	if err != nil {
		return pricefeed.Snapshot{}, err
	}
	return snap, nil
}

func (s *Store) ListPriceSnapshots(ctx context.Context, feedID string) ([]pricefeed.Snapshot, error) {
	var rows []snapshotRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, feed_id, price, decimals, source, collected_at, created_at
		FROM price_snapshots
		WHERE feed_id = $1
		ORDER BY collected_at
	`, feedID); err != nil {
		return nil, err
	}
	result := make([]pricefeed.Snapshot, 0, len(rows))
	for _, row := range rows {
		snap, err := row.snapshot()
		if err != nil {
			return nil, err
		}
		result = append(result, snap)
	}
	return result, nil
}

func (s *Store) LatestPriceSnapshot(ctx context.Context, feedID string) (pricefeed.Snapshot, error) {
	var row snapshotRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, feed_id, price, decimals, source, collected_at, created_at
		FROM price_snapshots
		WHERE feed_id = $1
		ORDER BY collected_at DESC, created_at DESC
		LIMIT 1
	`, feedID)
	if errors.Is(err, sql.ErrNoRows) {
		return pricefeed.Snapshot{}, fmt.Errorf("snapshot for feed %s: %w", feedID, storage.ErrNotFound)
	}
	if err != nil {
		return pricefeed.Snapshot{}, err
	}
	return row.snapshot()
}

// --- helpers ----------------------------------------------------------------

// scalar reads a single NUMERIC column, treating a missing row as zero.
func (s *Store) scalar(ctx context.Context, q sqlx.QueryerContext, query string, args ...any) (*big.Int, error) {
	v, err := s.guarded(ctx, q, query, args...)
	if err != nil || v != nil {
		return v, err
	}
	return new(big.Int), nil
}

// guarded reads a single NUMERIC column returned by a conditional UPDATE and
// yields nil when the condition matched no row.
func (s *Store) guarded(ctx context.Context, q sqlx.QueryerContext, query string, args ...any) (*big.Int, error) {
	var raw string
	err := sqlx.GetContext(ctx, q, &raw, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return parseNumeric(raw)
}

func numeric(v *big.Int) string {
	return orZero(v).String()
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func parseNumeric(raw string) (*big.Int, error) {
	if raw == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(trimFraction(raw), 10)
	if !ok {
		return nil, fmt.Errorf("invalid numeric value %q", raw)
	}
	return v, nil
}

// trimFraction drops a zero fractional part that NUMERIC columns may render.
func trimFraction(raw string) string {
	for i := 0; i < len(raw); i++ {
		if raw[i] == '.' {
			return raw[:i]
		}
	}
	return raw
}
