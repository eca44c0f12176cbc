package game

import (
	"github.com/shopspring/decimal"
)

type Phase string

const (
	PhaseBetting   Phase = "BETTING"
	PhasePreparing Phase = "PREPARING"
	PhaseRunning   Phase = "RUNNING"
	PhaseEnd       Phase = "END"
	PhaseError     Phase = "ERROR"
)

type BetStatus string

const (
	BetPending BetStatus = "PENDING"
	BetWon     BetStatus = "WON"
	BetLost    BetStatus = "LOST"
)

// Bet is a single player's wager for the active round. It transitions
// PENDING -> WON or PENDING -> LOST exactly once, never both.
type Bet struct {
	BetID             string           `json:"bet_id"`
	UserID            string           `json:"user_id"`
	Username          string           `json:"username"`
	Stake             decimal.Decimal  `json:"stake"`
	AutoCashout       float64          `json:"auto_cashout,omitempty"`
	CashoutMultiplier float64          `json:"cashout_multiplier,omitempty"`
	Payout            *decimal.Decimal `json:"payout,omitempty"`
	Status            BetStatus        `json:"status"`
}

// TopStaker is a denormalized leaderboard row, one round's lifetime.
type TopStaker struct {
	BetID             string           `json:"bet_id"`
	UserID            string           `json:"user_id"`
	Username          string           `json:"username"`
	Stake             decimal.Decimal  `json:"stake"`
	CashoutMultiplier float64          `json:"cashout_multiplier,omitempty"`
	Payout            *decimal.Decimal `json:"payout,omitempty"`
}

type SeedContribution struct {
	UserID string `json:"user_id"`
	Seed   string `json:"seed"`
}

// Event is the wire envelope for every outbound message.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// Conn is the per-player delivery handle the processors answer on. The
// websocket hub's client satisfies it; tests use an in-memory fake.
type Conn interface {
	Send(v interface{})
}

// Broadcaster pushes an event to every connected client.
type Broadcaster interface {
	Broadcast(event string, data interface{})
}

type PlaceBetRequest struct {
	UserID      string  `json:"user_id"`
	Username    string  `json:"username"`
	Stake       float64 `json:"stake"`
	AutoCashout float64 `json:"auto_cashout,omitempty"`
	ClientSeed  string  `json:"client_seed,omitempty"`
}

type CashoutRequest struct {
	UserID string `json:"user_id"`
	BetID  string `json:"bet_id"`
}

type BatchKind string

const (
	BatchBets     BatchKind = "bets"
	BatchCashouts BatchKind = "cashouts"
)

// SettlementBatch is the message a processor publishes to RoundState after
// its ledger transaction commits. Aggregation order is the channel order.
type SettlementBatch struct {
	Kind BatchKind
	Bets []*Bet
}

// Outbound event names. Broadcast to all clients unless targeted.
const (
	EventBetting           = "betting"
	EventPreparing         = "preparing"
	EventRunning           = "running"
	EventEnd               = "end"
	EventError             = "error"
	EventBetsAccepted      = "bets_accepted"
	EventCashoutsProcessed = "cashouts_processed"
	EventResetLiveStats    = "reset_live_stats"
	EventConnectSnapshot   = "on_connect_snapshot"

	// targeted
	EventBetAccepted     = "bet_accepted"
	EventBetRejected     = "bet_rejected"
	EventCashoutAccepted = "cashout_accepted"
	EventCashoutRejected = "cashout_rejected"
)

type BettingPayload struct {
	CountdownSeconds float64 `json:"countdown_seconds"`
	RoundID          string  `json:"round_id"`
}

type PreparingPayload struct {
	RoundID          string `json:"round_id"`
	HashedServerSeed string `json:"hashed_server_seed"`
}

type RunningPayload struct {
	CurrentMultiplier float64 `json:"current_multiplier"`
}

type EndPayload struct {
	RoundID         string  `json:"round_id"`
	FinalMultiplier float64 `json:"final_multiplier"`
	ServerSeed      string  `json:"server_seed"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type BetsAcceptedPayload struct {
	TotalStake decimal.Decimal `json:"total_stake"`
	TotalBets  int             `json:"total_bets"`
	TopStakers []TopStaker     `json:"top_stakers"`
}

type CashoutsProcessedPayload struct {
	CashoutCount int         `json:"cashout_count"`
	TopStakers   []TopStaker `json:"top_stakers,omitempty"`
}

type ConnectSnapshotPayload struct {
	Phase             Phase       `json:"phase"`
	RoundID           string      `json:"round_id"`
	CurrentMultiplier float64     `json:"current_multiplier"`
	HashedServerSeed  string      `json:"hashed_server_seed,omitempty"`
	TopStakers        []TopStaker `json:"top_stakers"`
	RecentMultipliers []float64   `json:"recent_multipliers"`
}

type BetAcceptedPayload struct {
	BetID   string          `json:"bet_id"`
	Stake   decimal.Decimal `json:"stake"`
	Balance decimal.Decimal `json:"balance"`
}

type BetRejectedPayload struct {
	Reason string `json:"reason"`
}

type CashoutAcceptedPayload struct {
	BetID      string          `json:"bet_id"`
	Multiplier float64         `json:"multiplier"`
	Payout     decimal.Decimal `json:"payout"`
	Balance    decimal.Decimal `json:"balance"`
}

type CashoutRejectedPayload struct {
	BetID  string `json:"bet_id,omitempty"`
	Reason string `json:"reason"`
}
