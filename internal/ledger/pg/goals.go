package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tallyfinance/tally/internal/ledger"
)

// PGGoalStore implements ledger.GoalStore backed by Postgres.
type PGGoalStore struct {
	db *sql.DB
}

func NewPGGoalStore(db *sql.DB) *PGGoalStore {
	return &PGGoalStore{db: db}
}

func (s *PGGoalStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]ledger.Goal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, target_amount, saved_amount, status, created_at
		 FROM goals WHERE user_id = $1
		 ORDER BY CASE status WHEN 'active' THEN 0 ELSE 1 END, created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	defer rows.Close()

	var goals []ledger.Goal
	for rows.Next() {
		var g ledger.Goal
		if err := rows.Scan(&g.ID, &g.UserID, &g.Name, &g.TargetAmount,
			&g.SavedAmount, &g.Status, &g.CreatedAt); err != nil {
			return nil, err
		}
		goals = append(goals, g)
	}
	return goals, rows.Err()
}

func (s *PGGoalStore) Upsert(ctx context.Context, goal *ledger.Goal) error {
	if goal.ID == uuid.Nil {
		goal.ID = ledger.GenNewID()
	}
	if goal.Status == "" {
		goal.Status = ledger.GoalActive
	}
	if goal.CreatedAt.IsZero() {
		goal.CreatedAt = time.Now()
	}
	goal.CreatedAt = goal.CreatedAt.UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO goals (id, user_id, name, target_amount, saved_amount, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name,
		   target_amount = EXCLUDED.target_amount, saved_amount = EXCLUDED.saved_amount,
		   status = EXCLUDED.status`,
		goal.ID, goal.UserID, goal.Name, goal.TargetAmount, goal.SavedAmount,
		goal.Status, goal.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert goal: %w", err)
	}
	return nil
}
