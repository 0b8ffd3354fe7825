// Package sqlite backs the ledger with a single database file. It is
// the default for single-host deployments and the chat REPL.
package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tallyfinance/tally/internal/ledger"
)

// OpenDB opens the ledger database at path with WAL and a busy
// timeout. Writers are serialized on one connection; modernc's driver
// returns SQLITE_BUSY otherwise.
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// NewSQLiteStores creates all ledger stores backed by one sqlite
// database. The schema must already be migrated.
func NewSQLiteStores(db *sql.DB) *ledger.Ledger {
	return &ledger.Ledger{
		Users:        NewSQLiteUserStore(db),
		Categories:   NewSQLiteCategoryStore(db),
		Transactions: NewSQLiteTransactionStore(db),
		Budgets:      NewSQLiteBudgetStore(db),
		Goals:        NewSQLiteGoalStore(db),
		Messages:     NewSQLiteMessageLog(db),
	}
}

// Timestamps are stored as UTC text by the driver. Truncating to whole
// seconds keeps every stored value fraction-free, which keeps sqlite's
// lexicographic text comparison consistent with time order.
func ts(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}
