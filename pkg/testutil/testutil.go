// Package testutil provides shared test doubles for the staking ledger.
package testutil

import (
	"io"
	"math/big"
	"sync"
	"time"

	"github.com/R3E-Network/staking_ledger/pkg/logger"
)

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock stopped at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// QuietLogger returns a logger that discards its output.
func QuietLogger(component string) *logger.Logger {
	log := logger.NewDefault(component)
	log.SetOutput(io.Discard)
	return log
}

var wei = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Units returns n whole tokens of an 18-decimal asset.
func Units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), wei)
}
