// Package store is the durable-consistency boundary: every balance
// mutation goes through its transaction facility, never through
// in-memory updates.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrBetNotSettleable means a cashout targeted a bet whose stored
	// status is no longer PENDING; the whole batch aborts.
	ErrBetNotSettleable = errors.New("store: bet is not pending")
	// ErrInsufficientBalance means a debit would take a user below zero.
	ErrInsufficientBalance = errors.New("store: insufficient balance")
	// ErrRoundNotFound is returned by round lookups.
	ErrRoundNotFound = errors.New("store: round not found")
)

// BetPlacement is one accepted bet headed into a placement transaction.
type BetPlacement struct {
	BetID       string
	RoundID     string
	UserID      string
	Username    string
	Stake       decimal.Decimal
	AutoCashout float64
}

// CashoutSettlement is one cashout headed into a settlement transaction.
type CashoutSettlement struct {
	BetID      string
	UserID     string
	Multiplier float64
	Payout     decimal.Decimal
}

// Ledger settles bet and cashout batches atomically. Each call is one
// database transaction; on error nothing is applied. The returned map
// carries the post-commit balance per user, for the success replies.
type Ledger interface {
	PlaceBets(ctx context.Context, placements []BetPlacement) (map[string]decimal.Decimal, error)
	SettleCashouts(ctx context.Context, settlements []CashoutSettlement) (map[string]decimal.Decimal, error)
}

// RoundRecord is the round analytics document keyed by round id. The
// server seed is only present once the round has ended.
type RoundRecord struct {
	RoundID          string          `json:"round_id"`
	Phase            string          `json:"phase"`
	PlayerCount      int             `json:"player_count"`
	HashedServerSeed string          `json:"hashed_server_seed"`
	ServerSeed       string          `json:"server_seed,omitempty"`
	ClientSeed       string          `json:"client_seed,omitempty"`
	CombinedHash     string          `json:"combined_hash,omitempty"`
	FinalMultiplier  float64         `json:"final_multiplier,omitempty"`
	TotalStake       decimal.Decimal `json:"total_stake"`
	TotalCashout     decimal.Decimal `json:"total_cashout"`
	HouseProfit      decimal.Decimal `json:"house_profit"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// RoundStore persists round analytics. FinalizeRound writes the reveal
// and financial totals in the same transaction that busts the remaining
// pending bets, so a half-settled round can never be recorded as final.
type RoundStore interface {
	SaveRound(ctx context.Context, rec RoundRecord) error
	FinalizeRound(ctx context.Context, rec RoundRecord, bustBetIDs []string) error
	GetRound(ctx context.Context, roundID string) (*RoundRecord, error)
}

// Balances is the thin admin/read surface over user balances.
type Balances interface {
	GetBalance(ctx context.Context, userID string) (decimal.Decimal, error)
	SetBalance(ctx context.Context, userID, username string, balance decimal.Decimal) error
}
