// Package pg backs the ledger with Postgres for multi-replica
// deployments.
package pg

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/tallyfinance/tally/internal/ledger"
)

// OpenDB opens a pooled Postgres connection via the pgx stdlib driver.
func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// NewPGStores creates all ledger stores backed by Postgres. The schema
// must already be migrated.
func NewPGStores(db *sql.DB) *ledger.Ledger {
	return &ledger.Ledger{
		Users:        NewPGUserStore(db),
		Categories:   NewPGCategoryStore(db),
		Transactions: NewPGTransactionStore(db),
		Budgets:      NewPGBudgetStore(db),
		Goals:        NewPGGoalStore(db),
		Messages:     NewPGMessageLog(db),
	}
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "23505")
}
