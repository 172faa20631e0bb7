package memory

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/R3E-Network/staking_ledger/internal/app/domain/asset"
	"github.com/R3E-Network/staking_ledger/internal/app/domain/pricefeed"
	"github.com/R3E-Network/staking_ledger/internal/app/domain/staking"
	"github.com/R3E-Network/staking_ledger/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu     sync.RWMutex
	nextID int64

	tokens    map[string]staking.TokenEntry
	balances  map[string]*big.Int
	positions map[string][]staking.Position
	rewards   map[string]*big.Int

	assetBalances map[string]*big.Int
	allowances    map[string]*big.Int
	transfers     []asset.Transfer

	priceFeeds     map[string]pricefeed.Feed
	priceSnapshots map[string][]pricefeed.Snapshot
}

var _ storage.RegistryStore = (*Store)(nil)
var _ storage.LedgerStore = (*Store)(nil)
var _ storage.AssetStore = (*Store)(nil)
var _ storage.PriceFeedStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:         1,
		tokens:         make(map[string]staking.TokenEntry),
		balances:       make(map[string]*big.Int),
		positions:      make(map[string][]staking.Position),
		rewards:        make(map[string]*big.Int),
		assetBalances:  make(map[string]*big.Int),
		allowances:     make(map[string]*big.Int),
		priceFeeds:     make(map[string]pricefeed.Feed),
		priceSnapshots: make(map[string][]pricefeed.Snapshot),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

func key(parts ...string) string {
	return strings.Join(parts, "\x00")
}

// RegistryStore implementation ------------------------------------------------

func (s *Store) UpsertToken(_ context.Context, entry staking.TokenEntry) (staking.TokenEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := s.tokens[entry.Token]; ok {
		entry.CreatedAt = existing.CreatedAt
	} else {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now
	entry.Rate = cloneInt(entry.Rate)

	s.tokens[entry.Token] = entry
	return cloneToken(entry), nil
}

func (s *Store) GetToken(_ context.Context, token string) (staking.TokenEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.tokens[token]
	if !ok {
		return staking.TokenEntry{}, fmt.Errorf("token %s: %w", token, storage.ErrNotFound)
	}
	return cloneToken(entry), nil
}

func (s *Store) ListTokens(_ context.Context) ([]staking.TokenEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]staking.TokenEntry, 0, len(s.tokens))
	for _, entry := range s.tokens {
		result = append(result, cloneToken(entry))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Token < result[j].Token })
	return result, nil
}

// LedgerStore implementation --------------------------------------------------

func (s *Store) GetStakeBalance(_ context.Context, user, token string) (*big.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneInt(s.balances[key(user, token)]), nil
}

func (s *Store) ListOpenPositions(_ context.Context, user, token string) ([]staking.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	open := s.positions[key(user, token)]
	result := make([]staking.Position, 0, len(open))
	for _, pos := range open {
		result = append(result, clonePosition(pos))
	}
	return result, nil
}

func (s *Store) OpenPosition(_ context.Context, pos staking.Position) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(pos.User, pos.Token)
	for _, open := range s.positions[k] {
		if open.Amount.Cmp(pos.Amount) == 0 {
			return nil, fmt.Errorf("position of %s already open: %w", pos.Amount, storage.ErrConflict)
		}
	}
	if pos.ID == "" {
		pos.ID = s.nextIDLocked()
	}
	s.positions[k] = append(s.positions[k], clonePosition(pos))

	balance := new(big.Int).Add(cloneInt(s.balances[k]), pos.Amount)
	s.balances[k] = balance
	return cloneInt(balance), nil
}

func (s *Store) SettleUnstake(_ context.Context, pos staking.Position, reward *big.Int) (*big.Int, *big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(pos.User, pos.Token)
	idx := indexOfPosition(s.positions[k], pos.ID)
	if idx < 0 {
		return nil, nil, fmt.Errorf("position %s: %w", pos.ID, storage.ErrNotFound)
	}
	balance := new(big.Int).Sub(cloneInt(s.balances[k]), pos.Amount)
	if balance.Sign() < 0 {
		return nil, nil, fmt.Errorf("balance would go negative for %s/%s", pos.User, pos.Token)
	}

	open := s.positions[k]
	s.positions[k] = append(open[:idx:idx], open[idx+1:]...)
	if len(s.positions[k]) == 0 {
		delete(s.positions, k)
	}
	s.balances[k] = balance

	pending := new(big.Int).Add(cloneInt(s.rewards[k]), cloneInt(reward))
	s.rewards[k] = pending
	return cloneInt(balance), cloneInt(pending), nil
}

func (s *Store) RevertUnstake(_ context.Context, pos staking.Position, reward *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(pos.User, pos.Token)
	if indexOfPosition(s.positions[k], pos.ID) >= 0 {
		return fmt.Errorf("position %s still open: %w", pos.ID, storage.ErrConflict)
	}
	pending := new(big.Int).Sub(cloneInt(s.rewards[k]), cloneInt(reward))
	if pending.Sign() < 0 {
		return fmt.Errorf("pending reward would go negative for %s/%s", pos.User, pos.Token)
	}
	s.positions[k] = append(s.positions[k], clonePosition(pos))
	s.balances[k] = new(big.Int).Add(cloneInt(s.balances[k]), pos.Amount)
	s.rewards[k] = pending
	return nil
}

func (s *Store) GetPendingReward(_ context.Context, user, token string) (*big.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneInt(s.rewards[key(user, token)]), nil
}

func (s *Store) TakePendingReward(_ context.Context, user, token string) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(user, token)
	pending := cloneInt(s.rewards[k])
	delete(s.rewards, k)
	return pending, nil
}

func (s *Store) AddPendingReward(_ context.Context, user, token string, delta *big.Int) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(user, token)
	pending := new(big.Int).Add(cloneInt(s.rewards[k]), cloneInt(delta))
	if pending.Sign() < 0 {
		return nil, fmt.Errorf("pending reward would go negative for %s/%s", user, token)
	}
	s.rewards[k] = pending
	return cloneInt(pending), nil
}

// AssetStore implementation ---------------------------------------------------

func (s *Store) GetAssetBalance(_ context.Context, token, holder string) (*big.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneInt(s.assetBalances[key(token, holder)]), nil
}

func (s *Store) GetAllowance(_ context.Context, token, holder, spender string) (*big.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneInt(s.allowances[key(token, holder, spender)]), nil
}

func (s *Store) SetAllowance(_ context.Context, allowance asset.Allowance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(allowance.Token, allowance.Holder, allowance.Spender)
	if allowance.Amount == nil || allowance.Amount.Sign() == 0 {
		delete(s.allowances, k)
		return nil
	}
	s.allowances[k] = cloneInt(allowance.Amount)
	return nil
}

func (s *Store) ApplyTransfer(_ context.Context, tr asset.Transfer) (asset.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	amount := cloneInt(tr.Amount)
	var allowanceKey string
	if tr.Spender != "" {
		allowanceKey = key(tr.Token, tr.From, tr.Spender)
		if cloneInt(s.allowances[allowanceKey]).Cmp(amount) < 0 {
			return asset.Transfer{}, asset.ErrNotApproved
		}
	}
	fromKey := key(tr.Token, tr.From)
	if tr.From != "" && cloneInt(s.assetBalances[fromKey]).Cmp(amount) < 0 {
		return asset.Transfer{}, asset.ErrInsufficientFunds
	}

	if allowanceKey != "" {
		remaining := new(big.Int).Sub(s.allowances[allowanceKey], amount)
		if remaining.Sign() == 0 {
			delete(s.allowances, allowanceKey)
		} else {
			s.allowances[allowanceKey] = remaining
		}
	}
	if tr.From != "" {
		s.assetBalances[fromKey] = new(big.Int).Sub(s.assetBalances[fromKey], amount)
	}
	toKey := key(tr.Token, tr.To)
	s.assetBalances[toKey] = new(big.Int).Add(cloneInt(s.assetBalances[toKey]), amount)

	if tr.ID == "" {
		tr.ID = s.nextIDLocked()
	}
	tr.Amount = amount
	tr.CreatedAt = time.Now().UTC()
	s.transfers = append(s.transfers, tr)
	return cloneTransfer(tr), nil
}

func (s *Store) ListTransfers(_ context.Context, token, holder string) ([]asset.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]asset.Transfer, 0)
	for _, tr := range s.transfers {
		if token != "" && tr.Token != token {
			continue
		}
		if holder != "" && tr.From != holder && tr.To != holder {
			continue
		}
		result = append(result, cloneTransfer(tr))
	}
	return result, nil
}

// PriceFeedStore implementation -----------------------------------------------

func (s *Store) CreatePriceFeed(_ context.Context, feed pricefeed.Feed) (pricefeed.Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if feed.ID == "" {
		feed.ID = s.nextIDLocked()
	} else if _, exists := s.priceFeeds[feed.ID]; exists {
		return pricefeed.Feed{}, fmt.Errorf("price feed %s: %w", feed.ID, storage.ErrConflict)
	}

	now := time.Now().UTC()
	feed.CreatedAt = now
	feed.UpdatedAt = now

	s.priceFeeds[feed.ID] = feed
	return feed, nil
}

func (s *Store) UpdatePriceFeed(_ context.Context, feed pricefeed.Feed) (pricefeed.Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.priceFeeds[feed.ID]
	if !ok {
		return pricefeed.Feed{}, fmt.Errorf("price feed %s: %w", feed.ID, storage.ErrNotFound)
	}

	feed.CreatedAt = original.CreatedAt
	feed.UpdatedAt = time.Now().UTC()

	s.priceFeeds[feed.ID] = feed
	return feed, nil
}

func (s *Store) GetPriceFeed(_ context.Context, id string) (pricefeed.Feed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	feed, ok := s.priceFeeds[id]
	if !ok {
		return pricefeed.Feed{}, fmt.Errorf("price feed %s: %w", id, storage.ErrNotFound)
	}
	return feed, nil
}

func (s *Store) ListPriceFeeds(_ context.Context) ([]pricefeed.Feed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]pricefeed.Feed, 0, len(s.priceFeeds))
	for _, feed := range s.priceFeeds {
		result = append(result, feed)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) CreatePriceSnapshot(_ context.Context, snap pricefeed.Snapshot) (pricefeed.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.priceFeeds[snap.FeedID]; !ok {
		return pricefeed.Snapshot{}, fmt.Errorf("price feed %s: %w", snap.FeedID, storage.ErrNotFound)
	}
	if snap.ID == "" {
		snap.ID = s.nextIDLocked()
	}
	snap.CreatedAt = time.Now().UTC()
	if snap.CollectedAt.IsZero() {
		snap.CollectedAt = snap.CreatedAt
	}
	snap.Price = cloneInt(snap.Price)

	s.priceSnapshots[snap.FeedID] = append(s.priceSnapshots[snap.FeedID], snap)
	return cloneSnapshot(snap), nil
}

func (s *Store) ListPriceSnapshots(_ context.Context, feedID string) ([]pricefeed.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snaps := s.priceSnapshots[feedID]
	result := make([]pricefeed.Snapshot, 0, len(snaps))
	for _, snap := range snaps {
		result = append(result, cloneSnapshot(snap))
	}
	return result, nil
}

func (s *Store) LatestPriceSnapshot(_ context.Context, feedID string) (pricefeed.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snaps := s.priceSnapshots[feedID]
	if len(snaps) == 0 {
		return pricefeed.Snapshot{}, fmt.Errorf("snapshot for feed %s: %w", feedID, storage.ErrNotFound)
	}
	latest := snaps[0]
	for _, snap := range snaps[1:] {
		if !snap.CollectedAt.Before(latest.CollectedAt) {
			latest = snap
		}
	}
	return cloneSnapshot(latest), nil
}

// helpers ---------------------------------------------------------------------

func indexOfPosition(open []staking.Position, id string) int {
	for i, pos := range open {
		if pos.ID == id {
			return i
		}
	}
	return -1
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func cloneToken(entry staking.TokenEntry) staking.TokenEntry {
	entry.Rate = cloneInt(entry.Rate)
	return entry
}

func clonePosition(pos staking.Position) staking.Position {
	pos.Amount = cloneInt(pos.Amount)
	return pos
}

func cloneTransfer(tr asset.Transfer) asset.Transfer {
	tr.Amount = cloneInt(tr.Amount)
	return tr
}

func cloneSnapshot(snap pricefeed.Snapshot) pricefeed.Snapshot {
	snap.Price = cloneInt(snap.Price)
	return snap
}
