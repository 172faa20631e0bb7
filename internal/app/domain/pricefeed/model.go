package pricefeed

import (
	"math/big"
	"time"
)

// Feed represents a configured price feed definition.
type Feed struct {
	ID             string
	BaseAsset      string
	QuoteAsset     string
	Pair           string
	Decimals       uint8
	UpdateInterval string
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Snapshot captures a recorded price for a feed. Price is an integer scaled
// by 10^Decimals.
type Snapshot struct {
	ID          string
	FeedID      string
	Price       *big.Int
	Decimals    uint8
	Source      string
	CollectedAt time.Time
	CreatedAt   time.Time
}
