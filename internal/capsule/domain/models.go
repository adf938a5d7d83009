package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrSigningKeyMissing = errors.New("signing_key_missing")
	ErrCapsuleNotFound   = errors.New("capsule_not_found")
)

// Capsule is a tamper-evident snapshot of a negotiation commitment. Payload
// holds the canonical JSON bytes that were signed; any change to them after
// signing makes Verify fail.
type Capsule struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	SessionID string       `gorm:"not null;index" json:"session_id"`
	Payload   string       `gorm:"not null" json:"payload"`
	Signature string       `gorm:"not null" json:"signature"`
	KeyID     string       `gorm:"not null" json:"key_id"`
	SignedAt  time.Time    `gorm:"not null" json:"signed_at"`
}

func (Capsule) TableName() string {
	return "negotiation_capsules"
}

type Signer interface {
	// Sign canonicalizes payload, signs its digest, and returns an unsaved
	// capsule row. Pure in-process, no I/O.
	Sign(sessionID string, payload any) (*Capsule, error)
	// Verify checks the signature against the keyring entry named by the
	// capsule's KeyID. Unknown key or mutated payload both return false.
	Verify(capsule *Capsule) bool
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, capsule *Capsule) error
	// LatestBySession returns the most recent capsule, the authoritative
	// commitment for replay.
	LatestBySession(ctx context.Context, db *gorm.DB, sessionID string) (*Capsule, error)
	ListBySession(ctx context.Context, db *gorm.DB, sessionID string) ([]*Capsule, error)
}
