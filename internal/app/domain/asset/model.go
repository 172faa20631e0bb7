package asset

import (
	"errors"
	"math/big"
	"time"
)

var (
	// ErrInsufficientFunds is returned when the source holder cannot cover a transfer.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrNotApproved is returned when a spender's allowance does not cover a transfer.
	ErrNotApproved = errors.New("transfer not approved")
	// ErrInvalidTransfer is returned for malformed requests: missing parties or non-positive amounts.
	ErrInvalidTransfer = errors.New("invalid transfer")
)

// TransferKind classifies ledger movements.
type TransferKind string

const (
	TransferMint     TransferKind = "mint"
	TransferDirect   TransferKind = "transfer"
	TransferDelegate TransferKind = "transfer_from"
)

// Transfer describes a movement of Amount units of Token. Spender is set for
// allowance-backed transfers; From is empty for mints.
type Transfer struct {
	ID        string
	Kind      TransferKind
	Token     string
	From      string
	To        string
	Spender   string
	Amount    *big.Int
	CreatedAt time.Time
}

// Allowance is the amount Spender may move out of Holder's balance.
type Allowance struct {
	Token   string
	Holder  string
	Spender string
	Amount  *big.Int
}
