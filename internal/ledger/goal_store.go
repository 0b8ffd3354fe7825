package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Goal statuses.
const (
	GoalActive = "active"
	GoalDone   = "done"
)

// Goal is a savings target ("vacaciones", "pie depto").
type Goal struct {
	ID           uuid.UUID `json:"id"`
	UserID       uuid.UUID `json:"user_id"`
	Name         string    `json:"name"`
	TargetAmount float64   `json:"target_amount"`
	SavedAmount  float64   `json:"saved_amount"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// Progress returns saved/target clamped to [0, 1].
func (g *Goal) Progress() float64 {
	if g.TargetAmount <= 0 {
		return 0
	}
	p := g.SavedAmount / g.TargetAmount
	if p > 1 {
		return 1
	}
	if p < 0 {
		return 0
	}
	return p
}

// GoalStore reads and writes savings goals. ListByUser returns active
// goals first, oldest first within each status.
type GoalStore interface {
	ListByUser(ctx context.Context, userID uuid.UUID) ([]Goal, error)
	Upsert(ctx context.Context, goal *Goal) error
}
