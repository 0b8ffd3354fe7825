package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tallyfinance/tally/internal/ledger"
)

// SQLiteUserStore implements ledger.UserStore.
type SQLiteUserStore struct {
	db *sql.DB
}

func NewSQLiteUserStore(db *sql.DB) *SQLiteUserStore {
	return &SQLiteUserStore{db: db}
}

const userSelectCols = `id, display_name, personality_tone, personality_intensity,
	notification_level, unified_balance, default_payment, created_at, updated_at`

func (s *SQLiteUserStore) Create(ctx context.Context, user *ledger.User) error {
	if user.ID == uuid.Nil {
		user.ID = ledger.GenNewID()
	}
	now := ts(time.Now())
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, display_name, personality_tone, personality_intensity,
		 notification_level, unified_balance, default_payment, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.DisplayName, user.PersonalityTone, user.PersonalityIntensity,
		user.NotificationLevel, nullBool(user.UnifiedBalance), user.DefaultPayment, now, now,
	)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *SQLiteUserStore) Get(ctx context.Context, id uuid.UUID) (*ledger.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userSelectCols+` FROM users WHERE id = ?`, id)
	return scanUserRow(row)
}

func (s *SQLiteUserStore) ResolveChannel(ctx context.Context, channel, externalID string) (*ledger.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userSelectCols+` FROM users
		 JOIN channel_links ON channel_links.user_id = users.id
		 WHERE channel_links.channel = ? AND channel_links.external_id = ?`,
		channel, externalID)
	u, err := scanUserRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

func (s *SQLiteUserStore) IssueLinkCode(ctx context.Context, userID uuid.UUID, ttl time.Duration) (string, error) {
	expires := ts(time.Now().Add(ttl))
	// Retry on the rare alphabet collision.
	for attempt := 0; attempt < 3; attempt++ {
		code := ledger.NewLinkCode()
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO link_codes (code, user_id, expires_at) VALUES (?, ?, ?)`,
			code, userID, expires)
		if err == nil {
			return code, nil
		}
		if !isUniqueViolation(err) {
			return "", fmt.Errorf("issue link code: %w", err)
		}
	}
	return "", fmt.Errorf("issue link code: could not find a free code")
}

func (s *SQLiteUserStore) LinkChannel(ctx context.Context, code, channel, externalID string) (*ledger.User, error) {
	code = strings.ToUpper(strings.TrimSpace(code))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("link channel: %w", err)
	}
	defer tx.Rollback()

	var (
		userID  uuid.UUID
		expires time.Time
		usedAt  sql.NullTime
	)
	err = tx.QueryRowContext(ctx,
		`SELECT user_id, expires_at, used_at FROM link_codes WHERE code = ?`, code).
		Scan(&userID, &expires, &usedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrCodeInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("link channel: %w", err)
	}
	if time.Now().After(expires) {
		return nil, ledger.ErrCodeInvalid
	}

	var linkedTo uuid.UUID
	err = tx.QueryRowContext(ctx,
		`SELECT user_id FROM channel_links WHERE channel = ? AND external_id = ?`,
		channel, externalID).Scan(&linkedTo)
	switch {
	case err == nil && linkedTo == userID:
		// Re-link of the same identity to the same account.
		return s.getInTx(ctx, tx, userID)
	case err == nil:
		return nil, ledger.ErrChannelTaken
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("link channel: %w", err)
	}

	if usedAt.Valid {
		return nil, ledger.ErrCodeInvalid
	}

	now := ts(time.Now())
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO channel_links (user_id, channel, external_id, linked_at) VALUES (?, ?, ?, ?)`,
		userID, channel, externalID, now); err != nil {
		return nil, fmt.Errorf("link channel: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE link_codes SET used_at = ? WHERE code = ?`, now, code); err != nil {
		return nil, fmt.Errorf("link channel: %w", err)
	}

	user, err := s.getInTx(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("link channel: %w", err)
	}
	return user, nil
}

func (s *SQLiteUserStore) ListLinks(ctx context.Context) ([]ledger.ChannelLink, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, channel, external_id, linked_at FROM channel_links ORDER BY linked_at`)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	defer rows.Close()

	var links []ledger.ChannelLink
	for rows.Next() {
		var l ledger.ChannelLink
		if err := rows.Scan(&l.UserID, &l.Channel, &l.ExternalID, &l.LinkedAt); err != nil {
			return nil, fmt.Errorf("list links: %w", err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

func (s *SQLiteUserStore) getInTx(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*ledger.User, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+userSelectCols+` FROM users WHERE id = ?`, id)
	return scanUserRow(row)
}

func scanUserRow(row *sql.Row) (*ledger.User, error) {
	var (
		u       ledger.User
		unified sql.NullBool
	)
	err := row.Scan(
		&u.ID, &u.DisplayName, &u.PersonalityTone, &u.PersonalityIntensity,
		&u.NotificationLevel, &unified, &u.DefaultPayment, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if unified.Valid {
		u.UnifiedBalance = &unified.Bool
	}
	return &u, nil
}

func nullBool(b *bool) any {
	if b == nil {
		return nil
	}
	return *b
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
