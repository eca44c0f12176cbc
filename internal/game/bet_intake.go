package game

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gatundu2013/crash-sub000/internal/store"
)

// Rejection reasons surfaced to the originating connection. No state is
// mutated when one of these fires.
const (
	ReasonWindowClosed     = "betting window is closed"
	ReasonStakeOutOfRange  = "stake is out of range"
	ReasonBadAutoCashout   = "auto cashout target is below the minimum"
	ReasonTooManyBets      = "too many concurrent bets"
	ReasonSettlementFailed = "settlement failed, please resubmit"
)

type stagedBet struct {
	betID string
	req   PlaceBetRequest
	stake decimal.Decimal
	conn  Conn
}

// BetIntake accepts, validates, batches and atomically settles new-bet
// requests. Stage is safe to call from any goroutine at any time,
// including while a batch commit is in flight.
type BetIntake struct {
	mu         sync.Mutex
	pending    map[string]*stagedBet
	order      []string
	open       bool
	inProgress bool

	// bets accepted per user this round; decremented only on batch abort
	userCounts map[string]int

	ledger store.Ledger
	state  *RoundState
	cfg    Config
}

func NewBetIntake(cfg Config, ledger store.Ledger, state *RoundState) *BetIntake {
	return &BetIntake{
		pending:    make(map[string]*stagedBet),
		userCounts: make(map[string]int),
		ledger:     ledger,
		state:      state,
		cfg:        cfg,
	}
}

// Stage validates and stages one bet request, then immediately triggers a
// batch attempt. Violations are reported to the connection and staged
// nothing.
func (p *BetIntake) Stage(req PlaceBetRequest, conn Conn) {
	reject := func(reason string) {
		if conn != nil {
			conn.Send(Event{Type: EventBetRejected, Data: BetRejectedPayload{Reason: reason}})
		}
	}

	if req.Stake < p.cfg.MinStake || req.Stake > p.cfg.MaxStake {
		reject(ReasonStakeOutOfRange)
		return
	}
	if req.AutoCashout != 0 && req.AutoCashout < p.cfg.MinAutoCashout {
		reject(ReasonBadAutoCashout)
		return
	}

	p.mu.Lock()
	if !p.open {
		p.mu.Unlock()
		reject(ReasonWindowClosed)
		return
	}
	if p.userCounts[req.UserID] >= p.cfg.MaxBetsPerUser {
		p.mu.Unlock()
		reject(ReasonTooManyBets)
		return
	}
	p.userCounts[req.UserID]++

	betID := uuid.NewString()
	p.pending[betID] = &stagedBet{
		betID: betID,
		req:   req,
		stake: decimal.NewFromFloat(req.Stake).Round(2),
		conn:  conn,
	}
	p.order = append(p.order, betID)
	p.mu.Unlock()

	if req.ClientSeed != "" {
		p.state.AddClientSeed(req.UserID, req.ClientSeed)
	}

	go p.ProcessBatch()
}

// ProcessBatch claims up to BatchSize staged bets FIFO and settles them
// in one ledger transaction. Reentrancy-guarded: a concurrent call while
// a batch is committing is a no-op.
func (p *BetIntake) ProcessBatch() {
	p.mu.Lock()
	if p.inProgress || len(p.order) == 0 {
		p.mu.Unlock()
		return
	}
	p.inProgress = true

	n := len(p.order)
	if n > p.cfg.BatchSize {
		n = p.cfg.BatchSize
	}
	claimed := make([]*stagedBet, 0, n)
	for _, id := range p.order[:n] {
		// removed before any I/O so a second batch can never re-claim
		claimed = append(claimed, p.pending[id])
		delete(p.pending, id)
	}
	p.order = p.order[n:]
	p.mu.Unlock()

	p.settle(claimed)

	p.mu.Lock()
	p.inProgress = false
	backlog := len(p.order) > 0
	p.mu.Unlock()
	if backlog {
		go p.ProcessBatch()
	}
}

func (p *BetIntake) settle(claimed []*stagedBet) {
	placements := make([]store.BetPlacement, 0, len(claimed))
	for _, s := range claimed {
		placements = append(placements, store.BetPlacement{
			BetID:       s.betID,
			RoundID:     p.state.RoundID(),
			UserID:      s.req.UserID,
			Username:    s.req.Username,
			Stake:       s.stake,
			AutoCashout: s.req.AutoCashout,
		})
	}

	balances, err := p.ledger.PlaceBets(context.Background(), placements)
	if err != nil {
		log.Printf("[BETS] Batch of %d aborted: %v", len(claimed), err)
		p.mu.Lock()
		for _, s := range claimed {
			// free the user's slot; they must resubmit
			if p.userCounts[s.req.UserID] > 0 {
				p.userCounts[s.req.UserID]--
			}
		}
		p.mu.Unlock()
		for _, s := range claimed {
			if s.conn != nil {
				s.conn.Send(Event{Type: EventBetRejected, Data: BetRejectedPayload{Reason: ReasonSettlementFailed}})
			}
		}
		return
	}

	bets := make([]*Bet, 0, len(claimed))
	for _, s := range claimed {
		bet := &Bet{
			BetID:       s.betID,
			UserID:      s.req.UserID,
			Username:    s.req.Username,
			Stake:       s.stake,
			AutoCashout: s.req.AutoCashout,
			Status:      BetPending,
		}
		bets = append(bets, bet)
		if s.conn != nil {
			s.conn.Send(Event{Type: EventBetAccepted, Data: BetAcceptedPayload{
				BetID:   s.betID,
				Stake:   s.stake,
				Balance: balances[s.req.UserID],
			}})
		}
	}
	p.state.Publish(SettlementBatch{Kind: BatchBets, Bets: bets})
}

// Run drives the fallback batch interval so staged work is never stuck
// waiting on new arrivals.
func (p *BetIntake) Run(done <-chan struct{}) {
	ticker := time.NewTicker(p.cfg.BatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.ProcessBatch()
		case <-done:
			return
		}
	}
}

// OpenWindow starts accepting stages for a fresh round and clears the
// per-user counters.
func (p *BetIntake) OpenWindow() {
	p.mu.Lock()
	p.open = true
	p.userCounts = make(map[string]int)
	p.mu.Unlock()
}

// CloseWindow stops new staging; already-staged bets still drain through
// ProcessBatch.
func (p *BetIntake) CloseWindow() {
	p.mu.Lock()
	p.open = false
	p.mu.Unlock()
}

// State reports pending work for the lifecycle's drain polling.
func (p *BetIntake) State() (pending int, inProgress bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending), p.inProgress
}
