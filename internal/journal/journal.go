package journal

import (
	"context"
	"math/big"
	"time"
)

// Entry kinds.
const (
	KindLedgerCreate    = "ledger_create"
	KindLedgerDelete    = "ledger_delete"
	KindLedgerDeposit   = "ledger_deposit"
	KindLedgerRefund    = "ledger_refund"
	KindSubAccountSeed  = "subaccount_seed"
	KindSubAccountTopUp = "subaccount_topup"
	KindAcknowledge     = "acknowledge"
)

// Entry statuses.
const (
	StatusSubmitted = "submitted"
	StatusFailed    = "failed"
)

// Entry records one money-moving or authorising remote call.
type Entry struct {
	ID        string    `json:"id"`
	Wallet    string    `json:"wallet"`
	Provider  string    `json:"provider,omitempty"`
	Kind      string    `json:"kind"`
	Amount    *big.Int  `json:"amount,omitempty"`
	Status    string    `json:"status"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Journal is an append-only store of entries.
type Journal interface {
	Record(ctx context.Context, entry Entry) (Entry, error)
	// List returns the newest entries for wallet first. A non-positive limit
	// returns every entry.
	List(ctx context.Context, wallet string, limit int) ([]Entry, error)
}
