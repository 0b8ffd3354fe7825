package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Category kinds.
const (
	CategoryExpense = "expense"
	CategoryIncome  = "income"
)

// Category is one spending (or income) bucket in a user's ledger.
// Names keep their display casing; matching normalizes on read.
type Category struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

// CategoryStore manages per-user category lists.
//
// Seed inserts the given expense categories, skipping names the user
// already has; it runs once per user right after account linking.
type CategoryStore interface {
	ListByUser(ctx context.Context, userID uuid.UUID) ([]Category, error)
	Seed(ctx context.Context, userID uuid.UUID, names []string) error
}
