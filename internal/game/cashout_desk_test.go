package game

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
)

func newTestDesk(ledger *fakeLedger) (*CashoutDesk, *RoundState, *fakeHub) {
	hub := &fakeHub{}
	cfg := testConfig()
	state := NewRoundState(cfg, hub)
	return NewCashoutDesk(cfg, ledger, state), state, hub
}

func runningStateWithBet(state *RoundState, betID, userID string, stake int64, multiplier float64) {
	state.Apply(SettlementBatch{Kind: BatchBets, Bets: []*Bet{betOf(betID, userID, stake)}})
	state.SetPhase(PhaseRunning)
	state.SetMultiplier(multiplier)
}

func TestCashoutDesk_RoundNotRunning(t *testing.T) {
	ledger := newFakeLedger()
	p, state, _ := newTestDesk(ledger)
	state.Apply(SettlementBatch{Kind: BatchBets, Bets: []*Bet{betOf("b1", "u1", 10)}})
	p.OpenWindow()
	conn := &fakeConn{}

	p.Stage(CashoutRequest{UserID: "u1", BetID: "b1"}, conn)

	if conn.lastType() != EventCashoutRejected {
		t.Error("cashout accepted outside RUNNING")
	}
	if len(ledger.cashoutCalls) != 0 {
		t.Error("ledger touched outside RUNNING")
	}
}

func TestCashoutDesk_Validation(t *testing.T) {
	ledger := newFakeLedger()
	p, state, _ := newTestDesk(ledger)
	runningStateWithBet(state, "b1", "u1", 10, 1.5)
	p.OpenWindow()

	t.Run("unknown bet", func(t *testing.T) {
		conn := &fakeConn{}
		p.Stage(CashoutRequest{UserID: "u1", BetID: "nope"}, conn)
		if conn.lastType() != EventCashoutRejected {
			t.Error("unknown bet accepted")
		}
	})

	t.Run("another user's bet", func(t *testing.T) {
		conn := &fakeConn{}
		p.Stage(CashoutRequest{UserID: "u2", BetID: "b1"}, conn)
		if conn.lastType() != EventCashoutRejected {
			t.Error("foreign bet accepted")
		}
	})

	t.Run("window closed", func(t *testing.T) {
		p.CloseWindow()
		defer func() {
			p.OpenWindow()
			state.SetPhase(PhaseRunning)
		}()
		conn := &fakeConn{}
		p.Stage(CashoutRequest{UserID: "u1", BetID: "b1"}, conn)
		if conn.lastType() != EventCashoutRejected {
			t.Error("closed window accepted a cashout")
		}
	})
}

func TestCashoutDesk_SettlesAtCurrentMultiplier(t *testing.T) {
	ledger := newFakeLedger()
	p, state, _ := newTestDesk(ledger)
	runningStateWithBet(state, "b1", "u1", 10, 1.75)
	p.OpenWindow()
	conn := &fakeConn{}

	p.Stage(CashoutRequest{UserID: "u1", BetID: "b1"}, conn)
	waitForDrain(t, p)
	drainStateBatches(state)

	if conn.countType(EventCashoutAccepted) != 1 {
		t.Fatalf("cashout_accepted = %d, want 1", conn.countType(EventCashoutAccepted))
	}
	bet := state.Bet("b1")
	if bet.Status != BetWon {
		t.Errorf("status = %s, want WON", bet.Status)
	}
	if bet.CashoutMultiplier != 1.75 {
		t.Errorf("cashout multiplier = %v, want 1.75", bet.CashoutMultiplier)
	}
	want := decimal.NewFromFloat(17.5)
	if bet.Payout == nil || !bet.Payout.Equal(want) {
		t.Errorf("payout = %v, want %s", bet.Payout, want)
	}
}

func TestCashoutDesk_DuplicateStageRejected(t *testing.T) {
	ledger := newFakeLedger()
	p, state, _ := newTestDesk(ledger)
	runningStateWithBet(state, "b1", "u1", 10, 2.0)
	p.OpenWindow()

	first := &fakeConn{}
	second := &fakeConn{}
	p.Stage(CashoutRequest{UserID: "u1", BetID: "b1"}, first)
	p.Stage(CashoutRequest{UserID: "u1", BetID: "b1"}, second)
	waitForDrain(t, p)

	if second.countType(EventCashoutRejected) != 1 {
		t.Error("duplicate stage was not rejected")
	}
	if ledger.settlements("b1") != 1 {
		t.Errorf("bet settled %d times, want 1", ledger.settlements("b1"))
	}
}

func TestCashoutDesk_RestageAfterClaimRejected(t *testing.T) {
	ledger := newFakeLedger()
	p, state, _ := newTestDesk(ledger)
	runningStateWithBet(state, "b1", "u1", 10, 2.0)
	p.OpenWindow()

	p.Stage(CashoutRequest{UserID: "u1", BetID: "b1"}, &fakeConn{})
	waitForDrain(t, p)

	// aggregation has not caught up: state still shows the bet PENDING,
	// but the claim must still refuse a second settlement
	conn := &fakeConn{}
	p.Stage(CashoutRequest{UserID: "u1", BetID: "b1"}, conn)
	waitForDrain(t, p)

	if ledger.settlements("b1") != 1 {
		t.Errorf("bet settled %d times, want exactly once", ledger.settlements("b1"))
	}
	if conn.countType(EventCashoutRejected) != 1 {
		t.Error("re-request after claim was not rejected")
	}
}

func TestCashoutDesk_StageAutoIdempotent(t *testing.T) {
	ledger := newFakeLedger()
	p, state, _ := newTestDesk(ledger)
	bet := betOf("b1", "u1", 10)
	bet.AutoCashout = 2.0
	state.Apply(SettlementBatch{Kind: BatchBets, Bets: []*Bet{bet}})
	state.SetPhase(PhaseRunning)
	p.OpenWindow()

	// several ticks observe the same due bet
	p.StageAuto(bet)
	p.StageAuto(bet)
	p.StageAuto(bet)
	waitForDrain(t, p)
	drainStateBatches(state)

	if ledger.settlements("b1") != 1 {
		t.Errorf("auto cashout settled %d times, want 1", ledger.settlements("b1"))
	}
	settled := state.Bet("b1")
	if settled.Status != BetWon {
		t.Errorf("status = %s, want WON", settled.Status)
	}
	want := decimal.NewFromInt(20)
	if settled.Payout == nil || !settled.Payout.Equal(want) {
		t.Errorf("payout = %v, want %s (stake x auto target)", settled.Payout, want)
	}
}

func TestCashoutDesk_BatchAbort(t *testing.T) {
	ledger := newFakeLedger()
	ledger.failCashout = true
	p, state, _ := newTestDesk(ledger)
	runningStateWithBet(state, "b1", "u1", 10, 2.0)
	p.OpenWindow()
	conn := &fakeConn{}

	p.Stage(CashoutRequest{UserID: "u1", BetID: "b1"}, conn)
	waitForDrain(t, p)
	drainStateBatches(state)

	if conn.countType(EventCashoutRejected) != 1 {
		t.Error("aborted batch did not notify the connection")
	}
	if state.Bet("b1").Status != BetPending {
		t.Error("aborted batch mutated round state")
	}

	// the slot is free again once the abort is reported
	ledger.failCashout = false
	p.Stage(CashoutRequest{UserID: "u1", BetID: "b1"}, conn)
	waitForDrain(t, p)
	if ledger.settlements("b1") != 1 {
		t.Errorf("resubmit settled %d times, want 1", ledger.settlements("b1"))
	}
}

func TestCashoutDesk_ConcurrentBatchesClaimOnce(t *testing.T) {
	ledger := newFakeLedger()
	p, state, _ := newTestDesk(ledger)
	hubBets := make([]*Bet, 0, 40)
	for i := 0; i < 40; i++ {
		hubBets = append(hubBets, betOf(userN(i)+"-bet", userN(i), 10))
	}
	state.Apply(SettlementBatch{Kind: BatchBets, Bets: hubBets})
	state.SetPhase(PhaseRunning)
	state.SetMultiplier(1.5)
	p.OpenWindow()

	for _, b := range hubBets {
		p.Stage(CashoutRequest{UserID: b.UserID, BetID: b.BetID}, &fakeConn{})
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.ProcessBatch()
		}()
	}
	wg.Wait()
	waitForDrain(t, p)

	for _, b := range hubBets {
		if n := ledger.settlements(b.BetID); n != 1 {
			t.Errorf("bet %s settled %d times, want exactly once", b.BetID, n)
		}
	}
}
