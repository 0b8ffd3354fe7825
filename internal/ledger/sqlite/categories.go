package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tallyfinance/tally/internal/ledger"
)

// SQLiteCategoryStore implements ledger.CategoryStore.
type SQLiteCategoryStore struct {
	db *sql.DB
}

func NewSQLiteCategoryStore(db *sql.DB) *SQLiteCategoryStore {
	return &SQLiteCategoryStore{db: db}
}

func (s *SQLiteCategoryStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]ledger.Category, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, kind, created_at FROM categories
		 WHERE user_id = ? ORDER BY name`, userID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var cats []ledger.Category
	for rows.Next() {
		var c ledger.Category
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &c.Kind, &c.CreatedAt); err != nil {
			return nil, err
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

func (s *SQLiteCategoryStore) Seed(ctx context.Context, userID uuid.UUID, names []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("seed categories: %w", err)
	}
	defer tx.Rollback()

	now := ts(time.Now())
	for _, name := range names {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO categories (id, user_id, name, kind, created_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (user_id, name) DO NOTHING`,
			ledger.GenNewID(), userID, name, ledger.CategoryExpense, now); err != nil {
			return fmt.Errorf("seed category %q: %w", name, err)
		}
	}
	return tx.Commit()
}
