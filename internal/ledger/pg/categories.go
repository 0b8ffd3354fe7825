package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/tallyfinance/tally/internal/ledger"
)

// PGCategoryStore implements ledger.CategoryStore backed by Postgres.
type PGCategoryStore struct {
	db *sql.DB
}

func NewPGCategoryStore(db *sql.DB) *PGCategoryStore {
	return &PGCategoryStore{db: db}
}

func (s *PGCategoryStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]ledger.Category, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, kind, created_at FROM categories
		 WHERE user_id = $1 ORDER BY name`, userID)
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

func (s *PGCategoryStore) Seed(ctx context.Context, userID uuid.UUID, names []string) error {
	if len(names) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO categories (id, user_id, name, kind, created_at)
		 SELECT gen_random_uuid(), $1, unnest($2::text[]), $3, $4
		 ON CONFLICT (user_id, name) DO NOTHING`,
		userID, pq.Array(names), ledger.CategoryExpense, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("seed categories: %w", err)
	}
	return nil
}
