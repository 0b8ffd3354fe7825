package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tallyfinance/tally/internal/ledger"
)

// PGMessageLog implements ledger.MessageLog backed by Postgres.
type PGMessageLog struct {
	db *sql.DB
}

func NewPGMessageLog(db *sql.DB) *PGMessageLog {
	return &PGMessageLog{db: db}
}

func (s *PGMessageLog) Append(ctx context.Context, entry *ledger.MessageLogEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = ledger.GenNewID()
	}
	entry.CreatedAt = time.Now().UTC()

	var debug any
	if len(entry.Debug) > 0 {
		debug = []byte(entry.Debug)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO message_log (id, user_id, channel, direction, external_id,
		 correlation_id, body, debug, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.UserID, entry.Channel, entry.Direction,
		entry.ExternalID, entry.CorrelationID, entry.Body, debug, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append message log: %w", err)
	}
	return nil
}
