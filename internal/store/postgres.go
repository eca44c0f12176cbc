package store

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresStore implements Ledger, RoundStore and Balances on one pgx
// pool. Batches are settled with row-level conditions so a bet can never
// be paid twice regardless of what raced in memory.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) PlaceBets(ctx context.Context, placements []BetPlacement) (map[string]decimal.Decimal, error) {
	if len(placements) == 0 {
		return map[string]decimal.Decimal{}, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin place bets: %w", err)
	}
	defer tx.Rollback(ctx)

	// one balance mutation per user, however many bets they staged
	debits := make(map[string]decimal.Decimal)
	for _, p := range placements {
		debits[p.UserID] = debits[p.UserID].Add(p.Stake)
	}

	balances := make(map[string]decimal.Decimal, len(debits))
	for userID, total := range debits {
		var raw string
		err := tx.QueryRow(ctx,
			`UPDATE users SET balance = balance - $1, updated_at = now()
			 WHERE user_id = $2 AND balance >= $1
			 RETURNING balance::text`,
			total.String(), userID,
		).Scan(&raw)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("debit user %s: %w", userID, ErrInsufficientBalance)
		}
		if err != nil {
			return nil, fmt.Errorf("debit user %s: %w", userID, err)
		}
		balance, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("parse balance for %s: %w", userID, err)
		}
		balances[userID] = balance
	}

	for _, p := range placements {
		_, err := tx.Exec(ctx,
			`INSERT INTO bets (bet_id, round_id, user_id, username, stake, auto_cashout, status)
			 VALUES ($1, $2, $3, $4, $5, $6, 'PENDING')`,
			p.BetID, p.RoundID, p.UserID, p.Username, p.Stake.String(), nullableFloat(p.AutoCashout),
		)
		if err != nil {
			return nil, fmt.Errorf("insert bet %s: %w", p.BetID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit place bets: %w", err)
	}
	return balances, nil
}

func (s *PostgresStore) SettleCashouts(ctx context.Context, settlements []CashoutSettlement) (map[string]decimal.Decimal, error) {
	if len(settlements) == 0 {
		return map[string]decimal.Decimal{}, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin settle cashouts: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, c := range settlements {
		tag, err := tx.Exec(ctx,
			`UPDATE bets
			 SET status = 'WON', cashout_multiplier = $1, payout = $2, settled_at = now()
			 WHERE bet_id = $3 AND status = 'PENDING'`,
			c.Multiplier, c.Payout.String(), c.BetID,
		)
		if err != nil {
			return nil, fmt.Errorf("settle bet %s: %w", c.BetID, err)
		}
		if tag.RowsAffected() == 0 {
			return nil, fmt.Errorf("settle bet %s: %w", c.BetID, ErrBetNotSettleable)
		}
	}

	credits := make(map[string]decimal.Decimal)
	for _, c := range settlements {
		credits[c.UserID] = credits[c.UserID].Add(c.Payout)
	}

	balances := make(map[string]decimal.Decimal, len(credits))
	for userID, total := range credits {
		var raw string
		err := tx.QueryRow(ctx,
			`UPDATE users SET balance = balance + $1, updated_at = now()
			 WHERE user_id = $2
			 RETURNING balance::text`,
			total.String(), userID,
		).Scan(&raw)
		if err != nil {
			return nil, fmt.Errorf("credit user %s: %w", userID, err)
		}
		balance, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("parse balance for %s: %w", userID, err)
		}
		balances[userID] = balance
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit settle cashouts: %w", err)
	}
	return balances, nil
}

func (s *PostgresStore) SaveRound(ctx context.Context, rec RoundRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO rounds (round_id, phase, player_count, hashed_server_seed, server_seed,
		                     client_seed, combined_hash, final_multiplier,
		                     total_stake, total_cashout, house_profit)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (round_id) DO UPDATE SET
		   phase = EXCLUDED.phase,
		   player_count = EXCLUDED.player_count,
		   total_stake = EXCLUDED.total_stake,
		   updated_at = now()`,
		rec.RoundID, rec.Phase, rec.PlayerCount, rec.HashedServerSeed, nullableString(rec.ServerSeed),
		nullableString(rec.ClientSeed), nullableString(rec.CombinedHash), nullableFloat(rec.FinalMultiplier),
		rec.TotalStake.String(), rec.TotalCashout.String(), rec.HouseProfit.String(),
	)
	if err != nil {
		return fmt.Errorf("save round %s: %w", rec.RoundID, err)
	}
	return nil
}

// FinalizeRound busts the remaining pending bets and writes the reveal
// plus financial totals in a single transaction.
func (s *PostgresStore) FinalizeRound(ctx context.Context, rec RoundRecord, bustBetIDs []string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin finalize round: %w", err)
	}
	defer tx.Rollback(ctx)

	if len(bustBetIDs) > 0 {
		_, err := tx.Exec(ctx,
			`UPDATE bets SET status = 'LOST', settled_at = now()
			 WHERE bet_id = ANY($1) AND status = 'PENDING'`,
			bustBetIDs,
		)
		if err != nil {
			return fmt.Errorf("bust bets: %w", err)
		}
	}

	_, err = tx.Exec(ctx,
		`UPDATE rounds SET
		   phase = $2, player_count = $3, server_seed = $4, client_seed = $5,
		   combined_hash = $6, final_multiplier = $7,
		   total_stake = $8, total_cashout = $9, house_profit = $10,
		   updated_at = now()
		 WHERE round_id = $1`,
		rec.RoundID, rec.Phase, rec.PlayerCount, rec.ServerSeed, rec.ClientSeed,
		rec.CombinedHash, rec.FinalMultiplier,
		rec.TotalStake.String(), rec.TotalCashout.String(), rec.HouseProfit.String(),
	)
	if err != nil {
		return fmt.Errorf("finalize round %s: %w", rec.RoundID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit finalize round: %w", err)
	}
	log.Printf("[DB] Round %s finalized (%d busted bets)", rec.RoundID, len(bustBetIDs))
	return nil
}

func (s *PostgresStore) GetRound(ctx context.Context, roundID string) (*RoundRecord, error) {
	var (
		rec                              RoundRecord
		serverSeed, clientSeed, combined *string
		finalMultiplier                  *float64
		stake, cashout, profit           string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT round_id, phase, player_count, hashed_server_seed, server_seed,
		        client_seed, combined_hash, final_multiplier,
		        total_stake::text, total_cashout::text, house_profit::text,
		        created_at, updated_at
		 FROM rounds WHERE round_id = $1`,
		roundID,
	).Scan(&rec.RoundID, &rec.Phase, &rec.PlayerCount, &rec.HashedServerSeed, &serverSeed,
		&clientSeed, &combined, &finalMultiplier,
		&stake, &cashout, &profit,
		&rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRoundNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get round %s: %w", roundID, err)
	}

	if serverSeed != nil {
		rec.ServerSeed = *serverSeed
	}
	if clientSeed != nil {
		rec.ClientSeed = *clientSeed
	}
	if combined != nil {
		rec.CombinedHash = *combined
	}
	if finalMultiplier != nil {
		rec.FinalMultiplier = *finalMultiplier
	}
	if rec.TotalStake, err = decimal.NewFromString(stake); err != nil {
		return nil, fmt.Errorf("parse total stake: %w", err)
	}
	if rec.TotalCashout, err = decimal.NewFromString(cashout); err != nil {
		return nil, fmt.Errorf("parse total cashout: %w", err)
	}
	if rec.HouseProfit, err = decimal.NewFromString(profit); err != nil {
		return nil, fmt.Errorf("parse house profit: %w", err)
	}
	return &rec, nil
}

func (s *PostgresStore) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var raw string
	err := s.pool.QueryRow(ctx,
		`SELECT balance::text FROM users WHERE user_id = $1`, userID,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("get balance for %s: %w", userID, err)
	}
	return decimal.NewFromString(raw)
}

func (s *PostgresStore) SetBalance(ctx context.Context, userID, username string, balance decimal.Decimal) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (user_id, username, balance)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE SET balance = EXCLUDED.balance, updated_at = now()`,
		userID, username, balance.String(),
	)
	if err != nil {
		return fmt.Errorf("set balance for %s: %w", userID, err)
	}
	return nil
}

func nullableFloat(f float64) *float64 {
	if f == 0 {
		return nil
	}
	return &f
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
