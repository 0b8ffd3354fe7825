package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tallyfinance/tally/internal/ledger"
)

// SQLiteMessageLog implements ledger.MessageLog.
type SQLiteMessageLog struct {
	db *sql.DB
}

func NewSQLiteMessageLog(db *sql.DB) *SQLiteMessageLog {
	return &SQLiteMessageLog{db: db}
}

func (s *SQLiteMessageLog) Append(ctx context.Context, entry *ledger.MessageLogEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = ledger.GenNewID()
	}
	entry.CreatedAt = ts(time.Now())

	var debug any
	if len(entry.Debug) > 0 {
		debug = string(entry.Debug)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO message_log (id, user_id, channel, direction, external_id,
		 correlation_id, body, debug, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, nullUUID(entry.UserID), entry.Channel, entry.Direction,
		entry.ExternalID, entry.CorrelationID, entry.Body, debug, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append message log: %w", err)
	}
	return nil
}
