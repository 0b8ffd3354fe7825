package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tallyfinance/tally/internal/ledger"
)

// PGBudgetStore implements ledger.BudgetStore backed by Postgres.
type PGBudgetStore struct {
	db *sql.DB
}

func NewPGBudgetStore(db *sql.DB) *PGBudgetStore {
	return &PGBudgetStore{db: db}
}

func (s *PGBudgetStore) ActiveBudget(ctx context.Context, userID uuid.UUID) (*ledger.Budget, error) {
	var b ledger.Budget
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, period, amount, active, created_at FROM budgets
		 WHERE user_id = $1 AND active`, userID).
		Scan(&b.ID, &b.UserID, &b.Period, &b.Amount, &b.Active, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active budget: %w", err)
	}
	return &b, nil
}

func (s *PGBudgetStore) Upsert(ctx context.Context, budget *ledger.Budget) error {
	if budget.ID == uuid.Nil {
		budget.ID = ledger.GenNewID()
	}
	if budget.Period == "" {
		budget.Period = ledger.BudgetMonthly
	}
	if budget.CreatedAt.IsZero() {
		budget.CreatedAt = time.Now()
	}
	budget.CreatedAt = budget.CreatedAt.UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("upsert budget: %w", err)
	}
	defer tx.Rollback()

	if budget.Active {
		if _, err := tx.ExecContext(ctx,
			`UPDATE budgets SET active = FALSE WHERE user_id = $1 AND active AND id <> $2`,
			budget.UserID, budget.ID); err != nil {
			return fmt.Errorf("upsert budget: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO budgets (id, user_id, period, amount, active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET period = EXCLUDED.period,
		   amount = EXCLUDED.amount, active = EXCLUDED.active`,
		budget.ID, budget.UserID, budget.Period, budget.Amount, budget.Active, budget.CreatedAt,
	); err != nil {
		return fmt.Errorf("upsert budget: %w", err)
	}
	return tx.Commit()
}
