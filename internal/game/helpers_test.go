package game

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gatundu2013/crash-sub000/internal/store"
)

// fakeHub records broadcasts in order.
type fakeHub struct {
	mu     sync.Mutex
	events []Event
}

func (h *fakeHub) Broadcast(event string, data interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, Event{Type: event, Data: data})
}

func (h *fakeHub) eventsOfType(eventType string) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Event
	for _, e := range h.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// fakeConn records targeted sends.
type fakeConn struct {
	mu       sync.Mutex
	messages []Event
}

func (c *fakeConn) Send(v interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := v.(Event); ok {
		c.messages = append(c.messages, e)
	}
}

func (c *fakeConn) lastType() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.messages) == 0 {
		return ""
	}
	return c.messages[len(c.messages)-1].Type
}

func (c *fakeConn) countType(eventType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.messages {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

// fakeLedger settles in memory and counts settlements per bet, so a
// double-settled claim is detectable.
type fakeLedger struct {
	mu           sync.Mutex
	placeCalls   [][]store.BetPlacement
	cashoutCalls [][]store.CashoutSettlement
	settleCount  map[string]int
	failPlace    bool
	failCashout  bool
	startBalance decimal.Decimal
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		settleCount:  make(map[string]int),
		startBalance: decimal.NewFromInt(1000),
	}
}

func (l *fakeLedger) PlaceBets(_ context.Context, placements []store.BetPlacement) (map[string]decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failPlace {
		return nil, errors.New("ledger unavailable")
	}
	l.placeCalls = append(l.placeCalls, placements)
	balances := make(map[string]decimal.Decimal)
	for _, p := range placements {
		l.settleCount[p.BetID]++
		balances[p.UserID] = l.startBalance.Sub(p.Stake)
	}
	return balances, nil
}

func (l *fakeLedger) SettleCashouts(_ context.Context, settlements []store.CashoutSettlement) (map[string]decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failCashout {
		return nil, errors.New("ledger unavailable")
	}
	l.cashoutCalls = append(l.cashoutCalls, settlements)
	balances := make(map[string]decimal.Decimal)
	for _, c := range settlements {
		l.settleCount[c.BetID]++
		balances[c.UserID] = l.startBalance.Add(c.Payout)
	}
	return balances, nil
}

func (l *fakeLedger) settlements(betID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.settleCount[betID]
}

func (l *fakeLedger) totalPlaced() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, call := range l.placeCalls {
		n += len(call)
	}
	return n
}

// fakeRoundStore keeps round records in memory; saveFailures makes the
// first N writes fail for the retry tests.
type fakeRoundStore struct {
	mu           sync.Mutex
	records      map[string]store.RoundRecord
	bustedIDs    []string
	saveFailures int
	finalCalls   int
}

func newFakeRoundStore() *fakeRoundStore {
	return &fakeRoundStore{records: make(map[string]store.RoundRecord)}
}

func (r *fakeRoundStore) SaveRound(_ context.Context, rec store.RoundRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveFailures > 0 {
		r.saveFailures--
		return errors.New("analytics db unavailable")
	}
	r.records[rec.RoundID] = rec
	return nil
}

func (r *fakeRoundStore) FinalizeRound(_ context.Context, rec store.RoundRecord, bustBetIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finalCalls++
	r.records[rec.RoundID] = rec
	r.bustedIDs = append(r.bustedIDs, bustBetIDs...)
	return nil
}

func (r *fakeRoundStore) GetRound(_ context.Context, roundID string) (*store.RoundRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[roundID]
	if !ok {
		return nil, store.ErrRoundNotFound
	}
	return &rec, nil
}

// testConfig shrinks every timing knob so a full round runs in tens of
// milliseconds.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BettingDuration = 30 * time.Millisecond
	cfg.TickInterval = 2 * time.Millisecond
	cfg.EndHold = time.Millisecond
	cfg.DrainPollInterval = 2 * time.Millisecond
	cfg.BatchInterval = 5 * time.Millisecond
	cfg.GrowthRate = 0.05
	cfg.PersistBackoff = time.Millisecond
	return cfg
}
