package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tallyfinance/tally/internal/ledger"
)

// SQLiteGoalStore implements ledger.GoalStore.
type SQLiteGoalStore struct {
	db *sql.DB
}

func NewSQLiteGoalStore(db *sql.DB) *SQLiteGoalStore {
	return &SQLiteGoalStore{db: db}
}

func (s *SQLiteGoalStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]ledger.Goal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, target_amount, saved_amount, status, created_at
		 FROM goals WHERE user_id = ?
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

func (s *SQLiteGoalStore) Upsert(ctx context.Context, goal *ledger.Goal) error {
	if goal.ID == uuid.Nil {
		goal.ID = ledger.GenNewID()
	}
	if goal.Status == "" {
		goal.Status = ledger.GoalActive
	}
	if goal.CreatedAt.IsZero() {
		goal.CreatedAt = time.Now()
	}
	goal.CreatedAt = ts(goal.CreatedAt)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO goals (id, user_id, name, target_amount, saved_amount, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET name = excluded.name,
		   target_amount = excluded.target_amount, saved_amount = excluded.saved_amount,
		   status = excluded.status`,
		goal.ID, goal.UserID, goal.Name, goal.TargetAmount, goal.SavedAmount,
		goal.Status, goal.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert goal: %w", err)
	}
	return nil
}
