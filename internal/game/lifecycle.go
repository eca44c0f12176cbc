package game

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/gatundu2013/crash-sub000/internal/store"
)

// processor is the drain surface both batch processors expose.
type processor interface {
	ProcessBatch()
	State() (pending int, inProgress bool)
}

// RoundCache is an optional write-through of round snapshots and the
// multiplier history, served back to reconnecting clients.
type RoundCache interface {
	StoreSnapshot(ctx context.Context, snap ConnectSnapshotPayload) error
	StoreHistory(ctx context.Context, history []float64) error
}

// Lifecycle sequences the phases BETTING -> PREPARING -> RUNNING -> END
// and repeats. It owns the multiplier clock and the intake windows; it
// never blocks on player I/O directly, only on timers and drain polls.
// Any unexpected error is fail-stop: a generic error event goes out and
// the loop halts.
type Lifecycle struct {
	cfg      Config
	state    *RoundState
	bets     *BetIntake
	cashouts *CashoutDesk
	rounds   store.RoundStore
	hub      Broadcaster
	cache    RoundCache
}

func NewLifecycle(cfg Config, state *RoundState, bets *BetIntake, cashouts *CashoutDesk, rounds store.RoundStore, hub Broadcaster, cache RoundCache) *Lifecycle {
	return &Lifecycle{
		cfg:      cfg,
		state:    state,
		bets:     bets,
		cashouts: cashouts,
		rounds:   rounds,
		hub:      hub,
		cache:    cache,
	}
}

// Run drives rounds until ctx is cancelled or a round fails.
func (l *Lifecycle) Run(ctx context.Context) error {
	for {
		if err := l.RunRound(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				log.Println("[GAME] Round loop stopped")
				return err
			}
			l.state.SetPhase(PhaseError)
			l.hub.Broadcast(EventError, ErrorPayload{Message: "something went wrong, the round has been halted"})
			log.Printf("[GAME] Round loop halted: %v", err)
			return err
		}
	}
}

// RunRound plays exactly one round through all four phases.
func (l *Lifecycle) RunRound(ctx context.Context) error {
	if err := l.betting(ctx); err != nil {
		return err
	}
	if err := l.preparing(ctx); err != nil {
		return err
	}
	if err := l.running(ctx); err != nil {
		return err
	}
	return l.end(ctx)
}

func (l *Lifecycle) betting(ctx context.Context) error {
	roundID := l.state.Reset()
	log.Printf("[GAME] === Round %s: betting open ===", roundID)

	l.hub.Broadcast(EventResetLiveStats, struct{}{})
	l.bets.OpenWindow()
	defer l.bets.CloseWindow()

	deadline := time.Now().Add(l.cfg.BettingDuration)
	ticker := time.NewTicker(l.cfg.TickInterval)
	defer ticker.Stop()

	for {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		l.hub.Broadcast(EventBetting, BettingPayload{
			CountdownSeconds: remaining.Seconds(),
			RoundID:          roundID,
		})
		if remaining == 0 {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *Lifecycle) preparing(ctx context.Context) error {
	l.state.SetPhase(PhasePreparing)

	outcome, err := l.generateOutcome()
	if err != nil {
		return err
	}
	l.state.SetOutcome(&outcome)

	// commitment goes out before any multiplier tick; the seed and crash
	// point stay hidden until END
	l.hub.Broadcast(EventPreparing, PreparingPayload{
		RoundID:          l.state.RoundID(),
		HashedServerSeed: outcome.HashedServerSeed,
	})
	l.cacheSnapshot(ctx)

	// every accepted bet must be durably settled before the round runs
	if err := l.waitDrain(ctx, l.bets); err != nil {
		return err
	}

	stake, _, _ := l.state.Totals()
	rec := store.RoundRecord{
		RoundID:          l.state.RoundID(),
		Phase:            string(PhasePreparing),
		PlayerCount:      l.state.BetCount(),
		HashedServerSeed: outcome.HashedServerSeed,
		TotalStake:       stake,
	}
	return l.persistWithRetry(ctx, "initial snapshot", func(ctx context.Context) error {
		return l.rounds.SaveRound(ctx, rec)
	})
}

// generateOutcome derives the round outcome from the seeds accumulated
// during BETTING. Calling it in any other phase is an impossible-state
// error and aborts the round.
func (l *Lifecycle) generateOutcome() (Outcome, error) {
	if phase := l.state.Phase(); phase != PhasePreparing {
		return Outcome{}, fmt.Errorf("outcome generation invoked in phase %s", phase)
	}
	serverSeed, err := GenerateServerSeed()
	if err != nil {
		return Outcome{}, err
	}
	contribs := l.state.SeedContributions()
	outcome := ComputeOutcome(serverSeed, CombineClientSeeds(contribs))
	outcome.Contributions = contribs
	return outcome, nil
}

func (l *Lifecycle) running(ctx context.Context) error {
	outcome := l.state.Outcome()
	if outcome == nil {
		return errors.New("running phase entered without an outcome")
	}
	crashPoint := outcome.FinalMultiplier

	l.state.SetPhase(PhaseRunning)
	l.cashouts.OpenWindow()

	ticker := time.NewTicker(l.cfg.TickInterval)
	defer ticker.Stop()

	multiplier := 1.0
	l.state.SetMultiplier(multiplier)

	for {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}

		next := multiplier + multiplier*l.cfg.GrowthRate

		// auto cashouts settle before the crash comparison, at their own
		// target; a target above the crash point busts like everyone else
		threshold := math.Min(next, crashPoint)
		for _, bet := range l.state.AutoCashoutDue(threshold) {
			l.cashouts.StageAuto(bet)
		}
		l.cashouts.ProcessBatch()

		if next >= crashPoint {
			// the public multiplier never exceeds the true crash point
			return nil
		}

		multiplier = next
		display := math.Floor(next*100) / 100
		l.state.SetMultiplier(display)
		l.hub.Broadcast(EventRunning, RunningPayload{CurrentMultiplier: display})
	}
}

func (l *Lifecycle) end(ctx context.Context) error {
	l.state.SetPhase(PhaseEnd)
	l.cashouts.CloseWindow()

	outcome := l.state.Outcome()
	l.state.SetMultiplier(outcome.FinalMultiplier)
	l.hub.Broadcast(EventEnd, EndPayload{
		RoundID:         l.state.RoundID(),
		FinalMultiplier: outcome.FinalMultiplier,
		ServerSeed:      outcome.ServerSeed,
	})

	// staged cashouts still drain after the window closes
	if err := l.waitDrain(ctx, l.cashouts); err != nil {
		return err
	}

	lost := l.state.MarkRemainingLost()
	bustIDs := make([]string, 0, len(lost))
	for _, b := range lost {
		bustIDs = append(bustIDs, b.BetID)
	}

	stake, cashout, _ := l.state.Totals()
	rec := store.RoundRecord{
		RoundID:          l.state.RoundID(),
		Phase:            string(PhaseEnd),
		PlayerCount:      l.state.BetCount(),
		HashedServerSeed: outcome.HashedServerSeed,
		ServerSeed:       outcome.ServerSeed,
		ClientSeed:       outcome.ClientSeed,
		CombinedHash:     outcome.CombinedHash,
		FinalMultiplier:  outcome.FinalMultiplier,
		TotalStake:       stake,
		TotalCashout:     cashout,
		HouseProfit:      stake.Sub(cashout),
	}
	err := l.persistWithRetry(ctx, "final settlement", func(ctx context.Context) error {
		return l.rounds.FinalizeRound(ctx, rec, bustIDs)
	})
	if err != nil {
		return err
	}

	l.state.PushHistory(outcome.FinalMultiplier)
	l.cacheSnapshot(ctx)
	log.Printf("[GAME] === Round %s ended at %.2fx (%d busted) ===", l.state.RoundID(), outcome.FinalMultiplier, len(lost))

	// let clients render the crash before the next betting window
	select {
	case <-time.After(l.cfg.EndHold):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// waitDrain polls a processor until it reports zero pending work. Each
// poll nudges the batch loop so a drain never depends on new arrivals.
func (l *Lifecycle) waitDrain(ctx context.Context, p processor) error {
	for {
		p.ProcessBatch()
		pending, busy := p.State()
		if pending == 0 && !busy && l.state.Drained() {
			return nil
		}
		select {
		case <-time.After(l.cfg.DrainPollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// persistWithRetry retries a persistence op with exponential backoff.
// Exhausting the attempts is fatal to the round.
func (l *Lifecycle) persistWithRetry(ctx context.Context, what string, op func(context.Context) error) error {
	backoff := l.cfg.PersistBackoff
	var err error
	for attempt := 1; attempt <= l.cfg.PersistMaxAttempts; attempt++ {
		if err = op(ctx); err == nil {
			return nil
		}
		log.Printf("[GAME] Persist %s attempt %d/%d failed: %v", what, attempt, l.cfg.PersistMaxAttempts, err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
	return fmt.Errorf("persist %s: retries exhausted: %w", what, err)
}

func (l *Lifecycle) cacheSnapshot(ctx context.Context) {
	if l.cache == nil {
		return
	}
	if err := l.cache.StoreSnapshot(ctx, l.state.Snapshot()); err != nil {
		log.Printf("[GAME] Snapshot cache write failed: %v", err)
	}
	if err := l.cache.StoreHistory(ctx, l.state.History()); err != nil {
		log.Printf("[GAME] History cache write failed: %v", err)
	}
}
