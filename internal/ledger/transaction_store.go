package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Transaction kinds. Chat always registers expenses; income rows come
// from the companion app.
const (
	TransactionExpense = "expense"
	TransactionIncome  = "income"
)

// Transaction is one movement in Chilean pesos. Category keeps the
// matched display name even when CategoryID is set, so reads never
// need a join.
type Transaction struct {
	ID            uuid.UUID  `json:"id"`
	UserID        uuid.UUID  `json:"user_id"`
	Amount        float64    `json:"amount"`
	Kind          string     `json:"kind"`
	Category      string     `json:"category"`
	CategoryID    *uuid.UUID `json:"category_id,omitempty"`
	PostedAt      time.Time  `json:"posted_at"`
	PaymentMethod string     `json:"payment_method,omitempty"`
	Description   string     `json:"description,omitempty"`
	Source        string     `json:"source,omitempty"`
	CorrelationID string     `json:"correlation_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// MonthBalance aggregates one calendar month of movements.
type MonthBalance struct {
	Income  float64 `json:"income"`
	Expense float64 `json:"expense"`
	Net     float64 `json:"net"`
	Count   int     `json:"count"`
}

// TransactionStore records movements and answers the two aggregates the
// tools need: the month-to-date balance and the expense total a budget
// period has accumulated.
type TransactionStore interface {
	Insert(ctx context.Context, tx *Transaction) error
	MonthBalance(ctx context.Context, userID uuid.UUID, ref time.Time) (*MonthBalance, error)
	SumForBudget(ctx context.Context, userID uuid.UUID, since time.Time) (float64, error)
}

// MonthBounds returns the half-open [start, end) range of the calendar
// month containing ref, in ref's location.
func MonthBounds(ref time.Time) (start, end time.Time) {
	start = time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, ref.Location())
	return start, start.AddDate(0, 1, 0)
}
