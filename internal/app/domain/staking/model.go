package staking

import (
	"math/big"
	"time"
)

// TokenEntry is the registry record for a stakeable token.
type TokenEntry struct {
	Token     string
	Rate      *big.Int
	OracleRef string
	Approved  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Priced reports whether the entry carries an oracle reference.
func (e TokenEntry) Priced() bool { return e.OracleRef != "" }

// Position is one open stake. A user may hold several positions per token but
// at most one per distinct amount.
type Position struct {
	ID       string
	User     string
	Token    string
	Amount   *big.Int
	StakedAt time.Time
}

// UnlocksAt returns the earliest time the position may be unstaked.
func (p Position) UnlocksAt(lock time.Duration) time.Time {
	return p.StakedAt.Add(lock)
}

// Summary is the per (user, token) view of the ledger.
type Summary struct {
	User          string
	Token         string
	Balance       *big.Int
	PendingReward *big.Int
	Positions     []Position
}

// Price is a single oracle reading.
type Price struct {
	Value    *big.Int
	Decimals uint8
}

// Valuation is a staked balance priced in the oracle's quote currency.
// Value is Balance * Price.Value / 10^Price.Decimals.
type Valuation struct {
	User    string
	Token   string
	Balance *big.Int
	Price   Price
	Value   *big.Int
}
