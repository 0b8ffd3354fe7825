package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tallyfinance/tally/internal/ledger"
)

// SQLiteBudgetStore implements ledger.BudgetStore.
type SQLiteBudgetStore struct {
	db *sql.DB
}

func NewSQLiteBudgetStore(db *sql.DB) *SQLiteBudgetStore {
	return &SQLiteBudgetStore{db: db}
}

func (s *SQLiteBudgetStore) ActiveBudget(ctx context.Context, userID uuid.UUID) (*ledger.Budget, error) {
	var b ledger.Budget
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, period, amount, active, created_at FROM budgets
		 WHERE user_id = ? AND active = 1`, userID).
		Scan(&b.ID, &b.UserID, &b.Period, &b.Amount, &b.Active, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active budget: %w", err)
	}
	return &b, nil
}

func (s *SQLiteBudgetStore) Upsert(ctx context.Context, budget *ledger.Budget) error {
	if budget.ID == uuid.Nil {
		budget.ID = ledger.GenNewID()
	}
	if budget.Period == "" {
		budget.Period = ledger.BudgetMonthly
	}
	if budget.CreatedAt.IsZero() {
		budget.CreatedAt = time.Now()
	}
	budget.CreatedAt = ts(budget.CreatedAt)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("upsert budget: %w", err)
	}
	defer tx.Rollback()

	// The partial unique index allows one active budget per user, so
	// activating this one retires any other first.
	if budget.Active {
		if _, err := tx.ExecContext(ctx,
			`UPDATE budgets SET active = 0 WHERE user_id = ? AND active = 1 AND id <> ?`,
			budget.UserID, budget.ID); err != nil {
			return fmt.Errorf("upsert budget: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO budgets (id, user_id, period, amount, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET period = excluded.period,
		   amount = excluded.amount, active = excluded.active`,
		budget.ID, budget.UserID, budget.Period, budget.Amount, budget.Active, budget.CreatedAt,
	); err != nil {
		return fmt.Errorf("upsert budget: %w", err)
	}
	return tx.Commit()
}
