package ledger

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/google/uuid"
)

// User is an account created in the companion app. Chat channels attach
// to it through link codes; personality and prefs feed the decision
// service's user context.
type User struct {
	ID                   uuid.UUID `json:"id"`
	DisplayName          string    `json:"display_name"`
	PersonalityTone      string    `json:"personality_tone"`
	PersonalityIntensity float64   `json:"personality_intensity"`
	NotificationLevel    string    `json:"notification_level"`
	UnifiedBalance       *bool     `json:"unified_balance,omitempty"`
	DefaultPayment       string    `json:"default_payment,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// ChannelLink ties one platform identity (channel + external id) to a user.
type ChannelLink struct {
	UserID     uuid.UUID `json:"user_id"`
	Channel    string    `json:"channel"`
	ExternalID string    `json:"external_id"`
	LinkedAt   time.Time `json:"linked_at"`
}

// UserStore manages accounts, link codes and channel identities.
//
// ResolveChannel returns (nil, nil) for identities no account has
// claimed. LinkChannel consumes a code: it is idempotent when the same
// identity re-links to the same account, returns ErrCodeInvalid for
// unknown/expired/used codes and ErrChannelTaken when the identity
// already belongs to someone else.
type UserStore interface {
	Create(ctx context.Context, user *User) error
	Get(ctx context.Context, id uuid.UUID) (*User, error)
	ResolveChannel(ctx context.Context, channel, externalID string) (*User, error)
	IssueLinkCode(ctx context.Context, userID uuid.UUID, ttl time.Duration) (string, error)
	LinkChannel(ctx context.Context, code, channel, externalID string) (*User, error)
	ListLinks(ctx context.Context) ([]ChannelLink, error)
}

// Codes are typed by hand on a phone, so the alphabet drops the
// characters people confuse (0/O, 1/I/L).
const linkCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// NewLinkCode returns a fresh 6-character link code.
func NewLinkCode() string {
	buf := make([]byte, 6)
	rand.Read(buf)
	for i, b := range buf {
		buf[i] = linkCodeAlphabet[int(b)%len(linkCodeAlphabet)]
	}
	return string(buf)
}
