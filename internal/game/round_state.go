package game

import (
	"log"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RoundState is the single source of truth for the current round. The
// lifecycle writes phase and multiplier; settlement batches arrive on a
// channel and are folded in under one critical section each, so snapshot
// readers never observe a half-updated aggregate.
type RoundState struct {
	mu sync.RWMutex

	roundID           string
	phase             Phase
	currentMultiplier float64
	outcome           *Outcome

	bets         map[string]*Bet
	topStakers   []TopStaker
	contribs     []SeedContribution
	contributors map[string]bool

	totalStake   decimal.Decimal
	totalCashout decimal.Decimal
	cashoutCount int

	history []float64

	cfg       Config
	batchCh   chan SettlementBatch
	unapplied int64
	hub       Broadcaster
}

func NewRoundState(cfg Config, hub Broadcaster) *RoundState {
	s := &RoundState{
		cfg:     cfg,
		hub:     hub,
		batchCh: make(chan SettlementBatch, 64),
	}
	s.resetLocked()
	return s
}

// Publish hands a committed settlement batch to the aggregator.
func (s *RoundState) Publish(batch SettlementBatch) {
	atomic.AddInt64(&s.unapplied, 1)
	s.batchCh <- batch
}

// Run consumes settlement batches until done closes. Aggregation order
// is channel order.
func (s *RoundState) Run(done <-chan struct{}) {
	for {
		select {
		case batch := <-s.batchCh:
			s.Apply(batch)
			atomic.AddInt64(&s.unapplied, -1)
		case <-done:
			return
		}
	}
}

// Drained reports whether every published batch has been folded in. The
// lifecycle checks it alongside the processor drains, so a committed
// settlement can never be busted by the end-of-round pass.
func (s *RoundState) Drained() bool {
	return atomic.LoadInt64(&s.unapplied) == 0
}

// Apply folds one settlement batch into the aggregate and republishes the
// denormalized views.
func (s *RoundState) Apply(batch SettlementBatch) {
	switch batch.Kind {
	case BatchBets:
		s.applyBets(batch.Bets)
	case BatchCashouts:
		s.applyCashouts(batch.Bets)
	default:
		log.Printf("[STATE] Unknown settlement batch kind: %s", batch.Kind)
	}
}

func (s *RoundState) applyBets(bets []*Bet) {
	s.mu.Lock()
	for _, b := range bets {
		s.bets[b.BetID] = b
		s.totalStake = s.totalStake.Add(b.Stake)
		s.insertTopStakerLocked(TopStaker{
			BetID:    b.BetID,
			UserID:   b.UserID,
			Username: b.Username,
			Stake:    b.Stake,
		})
	}
	payload := BetsAcceptedPayload{
		TotalStake: s.totalStake,
		TotalBets:  len(s.bets),
		TopStakers: s.topStakersLocked(),
	}
	s.mu.Unlock()

	s.hub.Broadcast(EventBetsAccepted, payload)
}

func (s *RoundState) applyCashouts(bets []*Bet) {
	s.mu.Lock()
	for _, settled := range bets {
		b, ok := s.bets[settled.BetID]
		if !ok || b.Status != BetPending {
			continue
		}
		b.Status = BetWon
		b.CashoutMultiplier = settled.CashoutMultiplier
		b.Payout = settled.Payout
		if settled.Payout != nil {
			s.totalCashout = s.totalCashout.Add(*settled.Payout)
		}
		s.cashoutCount++
		for i := range s.topStakers {
			if s.topStakers[i].BetID == b.BetID {
				s.topStakers[i].CashoutMultiplier = b.CashoutMultiplier
				s.topStakers[i].Payout = b.Payout
			}
		}
	}
	payload := CashoutsProcessedPayload{
		CashoutCount: s.cashoutCount,
		TopStakers:   s.topStakersLocked(),
	}
	s.mu.Unlock()

	s.hub.Broadcast(EventCashoutsProcessed, payload)
}

// insertTopStakerLocked keeps the leaderboard sorted descending by stake
// and bounded; the smallest entry is evicted when a larger stake arrives.
func (s *RoundState) insertTopStakerLocked(entry TopStaker) {
	s.topStakers = append(s.topStakers, entry)
	sort.SliceStable(s.topStakers, func(i, j int) bool {
		return s.topStakers[i].Stake.GreaterThan(s.topStakers[j].Stake)
	})
	if len(s.topStakers) > s.cfg.MaxTopStakers {
		s.topStakers = s.topStakers[:s.cfg.MaxTopStakers]
	}
}

func (s *RoundState) topStakersLocked() []TopStaker {
	out := make([]TopStaker, len(s.topStakers))
	copy(out, s.topStakers)
	return out
}

// AddClientSeed records a seed contribution for the next outcome. First
// contribution per user wins; later duplicates and overflow past the cap
// are silently dropped.
func (s *RoundState) AddClientSeed(userID, seed string) {
	if !IsValidClientSeed(seed) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.contributors[userID] || len(s.contribs) >= s.cfg.MaxSeedContribs {
		return
	}
	s.contributors[userID] = true
	s.contribs = append(s.contribs, SeedContribution{UserID: userID, Seed: seed})
}

func (s *RoundState) SeedContributions() []SeedContribution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SeedContribution, len(s.contribs))
	copy(out, s.contribs)
	return out
}

// Reset clears all round-scoped state and mints the new round id. It is
// the single authoritative reset point, called at the top of BETTING.
func (s *RoundState) Reset() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	return s.roundID
}

func (s *RoundState) resetLocked() {
	s.roundID = uuid.NewString()
	s.phase = PhaseBetting
	s.currentMultiplier = 1.0
	s.outcome = nil
	s.bets = make(map[string]*Bet)
	s.topStakers = nil
	s.contribs = nil
	s.contributors = make(map[string]bool)
	s.totalStake = decimal.Zero
	s.totalCashout = decimal.Zero
	s.cashoutCount = 0
}

func (s *RoundState) RoundID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roundID
}

func (s *RoundState) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

func (s *RoundState) SetPhase(p Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = p
}

func (s *RoundState) Multiplier() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentMultiplier
}

func (s *RoundState) SetMultiplier(m float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentMultiplier = m
}

func (s *RoundState) SetOutcome(o *Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcome = o
}

func (s *RoundState) Outcome() *Outcome {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.outcome
}

// Bet returns a copy of the bet, or nil if unknown.
func (s *RoundState) Bet(betID string) *Bet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bets[betID]
	if !ok {
		return nil
	}
	cp := *b
	return &cp
}

func (s *RoundState) BetCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bets)
}

// AutoCashoutDue returns pending bets whose auto-cashout target is
// reached at the given multiplier.
func (s *RoundState) AutoCashoutDue(multiplier float64) []*Bet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var due []*Bet
	for _, b := range s.bets {
		if b.Status == BetPending && b.AutoCashout > 0 && b.AutoCashout <= multiplier {
			cp := *b
			due = append(due, &cp)
		}
	}
	return due
}

// MarkRemainingLost busts every still-pending bet and returns them.
func (s *RoundState) MarkRemainingLost() []*Bet {
	s.mu.Lock()
	defer s.mu.Unlock()
	var lost []*Bet
	for _, b := range s.bets {
		if b.Status == BetPending {
			b.Status = BetLost
			cp := *b
			lost = append(lost, &cp)
		}
	}
	return lost
}

func (s *RoundState) Totals() (stake, cashout decimal.Decimal, cashouts int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalStake, s.totalCashout, s.cashoutCount
}

// PushHistory appends a finalized multiplier to the rolling history,
// evicting the oldest entry past the cap.
func (s *RoundState) PushHistory(multiplier float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, multiplier)
	if len(s.history) > s.cfg.HistorySize {
		s.history = s.history[1:]
	}
}

func (s *RoundState) History() []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]float64, len(s.history))
	copy(out, s.history)
	return out
}

// Snapshot builds the payload sent to a freshly connected client.
func (s *RoundState) Snapshot() ConnectSnapshotPayload {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := ConnectSnapshotPayload{
		Phase:             s.phase,
		RoundID:           s.roundID,
		CurrentMultiplier: s.currentMultiplier,
		TopStakers:        s.topStakersLocked(),
	}
	snap.RecentMultipliers = make([]float64, len(s.history))
	copy(snap.RecentMultipliers, s.history)
	if s.outcome != nil {
		snap.HashedServerSeed = s.outcome.HashedServerSeed
	}
	return snap
}
