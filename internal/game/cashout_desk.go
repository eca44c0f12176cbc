package game

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gatundu2013/crash-sub000/internal/store"
)

const (
	ReasonCashoutClosed   = "cashouts are closed"
	ReasonRoundNotRunning = "round is not running"
	ReasonBetNotFound     = "bet not found"
	ReasonBetSettled      = "bet already settled"
	ReasonAlreadyStaged   = "cashout already requested"
	ReasonNotYourBet      = "bet belongs to another user"
	ReasonTooManyCashouts = "too many concurrent cashouts"
)

type stagedCashout struct {
	betID      string
	userID     string
	multiplier float64
	conn       Conn
}

// CashoutDesk is the cashout counterpart of BetIntake: same staging map,
// same reentrancy-guarded batch commit, same window gating. Pending
// entries are keyed by bet id, which makes duplicate cashout requests
// for one bet visible at stage time.
type CashoutDesk struct {
	mu         sync.Mutex
	pending    map[string]*stagedCashout
	order      []string
	open       bool
	inProgress bool

	// bet ids a batch has already claimed this round, so a re-request
	// after the claim but before aggregation catches up is still refused
	claimed map[string]bool
	// cashouts staged per user this round; decremented only on batch abort
	userCounts map[string]int

	ledger store.Ledger
	state  *RoundState
	cfg    Config
}

func NewCashoutDesk(cfg Config, ledger store.Ledger, state *RoundState) *CashoutDesk {
	return &CashoutDesk{
		pending:    make(map[string]*stagedCashout),
		claimed:    make(map[string]bool),
		userCounts: make(map[string]int),
		ledger:     ledger,
		state:      state,
		cfg:        cfg,
	}
}

// Stage validates and stages one manual cashout at the multiplier the
// round currently shows.
func (p *CashoutDesk) Stage(req CashoutRequest, conn Conn) {
	reject := func(reason string) {
		if conn != nil {
			conn.Send(Event{Type: EventCashoutRejected, Data: CashoutRejectedPayload{BetID: req.BetID, Reason: reason}})
		}
	}

	if p.state.Phase() != PhaseRunning {
		reject(ReasonRoundNotRunning)
		return
	}
	bet := p.state.Bet(req.BetID)
	if bet == nil {
		reject(ReasonBetNotFound)
		return
	}
	if bet.UserID != req.UserID {
		reject(ReasonNotYourBet)
		return
	}
	if bet.Status != BetPending {
		reject(ReasonBetSettled)
		return
	}

	multiplier := p.state.Multiplier()

	p.mu.Lock()
	if !p.open {
		p.mu.Unlock()
		reject(ReasonCashoutClosed)
		return
	}
	if p.pending[req.BetID] != nil || p.claimed[req.BetID] {
		p.mu.Unlock()
		reject(ReasonAlreadyStaged)
		return
	}
	if p.userCounts[req.UserID] >= p.cfg.MaxCashoutsPer {
		p.mu.Unlock()
		reject(ReasonTooManyCashouts)
		return
	}
	p.userCounts[req.UserID]++
	p.pending[req.BetID] = &stagedCashout{
		betID:      req.BetID,
		userID:     req.UserID,
		multiplier: multiplier,
		conn:       conn,
	}
	p.order = append(p.order, req.BetID)
	p.mu.Unlock()

	go p.ProcessBatch()
}

// StageAuto stages an auto-triggered cashout at the player's configured
// target multiplier. Called by the lifecycle tick; re-staging the same
// bet across ticks is a silent no-op.
func (p *CashoutDesk) StageAuto(bet *Bet) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open {
		return
	}
	if p.pending[bet.BetID] != nil || p.claimed[bet.BetID] {
		return
	}
	p.pending[bet.BetID] = &stagedCashout{
		betID:      bet.BetID,
		userID:     bet.UserID,
		multiplier: bet.AutoCashout,
	}
	p.order = append(p.order, bet.BetID)
}

// ProcessBatch mirrors BetIntake.ProcessBatch: at-most-once claim, one
// ledger transaction, notify only after commit.
func (p *CashoutDesk) ProcessBatch() {
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
	claimed := make([]*stagedCashout, 0, n)
	for _, id := range p.order[:n] {
		// removed before any I/O so a second batch can never re-claim
		claimed = append(claimed, p.pending[id])
		delete(p.pending, id)
		p.claimed[id] = true
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

func (p *CashoutDesk) settle(claimed []*stagedCashout) {
	settlements := make([]store.CashoutSettlement, 0, len(claimed))
	payouts := make(map[string]decimal.Decimal, len(claimed))
	for _, s := range claimed {
		bet := p.state.Bet(s.betID)
		if bet == nil {
			continue
		}
		payout := bet.Stake.Mul(decimal.NewFromFloat(s.multiplier)).Round(2)
		payouts[s.betID] = payout
		settlements = append(settlements, store.CashoutSettlement{
			BetID:      s.betID,
			UserID:     s.userID,
			Multiplier: s.multiplier,
			Payout:     payout,
		})
	}
	if len(settlements) == 0 {
		return
	}

	balances, err := p.ledger.SettleCashouts(context.Background(), settlements)
	if err != nil {
		log.Printf("[CASHOUTS] Batch of %d aborted: %v", len(claimed), err)
		p.mu.Lock()
		for _, s := range claimed {
			// free the slot; the player may request again
			delete(p.claimed, s.betID)
			if p.userCounts[s.userID] > 0 {
				p.userCounts[s.userID]--
			}
		}
		p.mu.Unlock()
		for _, s := range claimed {
			if s.conn != nil {
				s.conn.Send(Event{Type: EventCashoutRejected, Data: CashoutRejectedPayload{BetID: s.betID, Reason: ReasonSettlementFailed}})
			}
		}
		return
	}

	bets := make([]*Bet, 0, len(claimed))
	for _, s := range claimed {
		bet := p.state.Bet(s.betID)
		if bet == nil {
			continue
		}
		payout := payouts[s.betID]
		bet.Status = BetWon
		bet.CashoutMultiplier = s.multiplier
		bet.Payout = &payout
		bets = append(bets, bet)
		if s.conn != nil {
			s.conn.Send(Event{Type: EventCashoutAccepted, Data: CashoutAcceptedPayload{
				BetID:      s.betID,
				Multiplier: s.multiplier,
				Payout:     payout,
				Balance:    balances[s.userID],
			}})
		}
	}
	p.state.Publish(SettlementBatch{Kind: BatchCashouts, Bets: bets})
}

// Run drives the fallback batch interval.
func (p *CashoutDesk) Run(done <-chan struct{}) {
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
// per-round claim and counter maps.
func (p *CashoutDesk) OpenWindow() {
	p.mu.Lock()
	p.open = true
	p.claimed = make(map[string]bool)
	p.userCounts = make(map[string]int)
	p.mu.Unlock()
}

func (p *CashoutDesk) CloseWindow() {
	p.mu.Lock()
	p.open = false
	p.mu.Unlock()
}

func (p *CashoutDesk) State() (pending int, inProgress bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending), p.inProgress
}
