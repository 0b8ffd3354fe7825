package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tallyfinance/tally/internal/ledger"
)

// SQLiteTransactionStore implements ledger.TransactionStore.
type SQLiteTransactionStore struct {
	db *sql.DB
}

func NewSQLiteTransactionStore(db *sql.DB) *SQLiteTransactionStore {
	return &SQLiteTransactionStore{db: db}
}

func (s *SQLiteTransactionStore) Insert(ctx context.Context, tx *ledger.Transaction) error {
	if tx.ID == uuid.Nil {
		tx.ID = ledger.GenNewID()
	}
	if tx.Kind == "" {
		tx.Kind = ledger.TransactionExpense
	}
	if tx.PostedAt.IsZero() {
		tx.PostedAt = time.Now()
	}
	tx.PostedAt = ts(tx.PostedAt)
	tx.CreatedAt = ts(time.Now())

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transactions (id, user_id, amount, kind, category, category_id,
		 posted_at, payment_method, description, source, correlation_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.UserID, tx.Amount, tx.Kind, tx.Category, nullUUID(tx.CategoryID),
		tx.PostedAt, tx.PaymentMethod, tx.Description, tx.Source, tx.CorrelationID, tx.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (s *SQLiteTransactionStore) MonthBalance(ctx context.Context, userID uuid.UUID, ref time.Time) (*ledger.MonthBalance, error) {
	start, end := ledger.MonthBounds(ref.UTC())

	var b ledger.MonthBalance
	err := s.db.QueryRowContext(ctx,
		`SELECT
		   COALESCE(SUM(CASE WHEN kind = 'income' THEN amount ELSE 0 END), 0),
		   COALESCE(SUM(CASE WHEN kind = 'expense' THEN amount ELSE 0 END), 0),
		   COUNT(*)
		 FROM transactions
		 WHERE user_id = ? AND posted_at >= ? AND posted_at < ?`,
		userID, ts(start), ts(end),
	).Scan(&b.Income, &b.Expense, &b.Count)
	if err != nil {
		return nil, fmt.Errorf("month balance: %w", err)
	}
	b.Net = b.Income - b.Expense
	return &b, nil
}

func (s *SQLiteTransactionStore) SumForBudget(ctx context.Context, userID uuid.UUID, since time.Time) (float64, error) {
	var sum float64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM transactions
		 WHERE user_id = ? AND kind = 'expense' AND posted_at >= ?`,
		userID, ts(since),
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum for budget: %w", err)
	}
	return sum, nil
}

func nullUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return *id
}
