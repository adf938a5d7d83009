package repository

import (
	"context"

	"github.com/tripdeal/bargain/internal/capsule/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, capsule *domain.Capsule) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO negotiation_capsules (id, session_id, payload, signature, key_id, signed_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		capsule.ID,
		capsule.SessionID,
		capsule.Payload,
		capsule.Signature,
		capsule.KeyID,
		capsule.SignedAt,
	).Error
}

func (r *repo) LatestBySession(ctx context.Context, db *gorm.DB, sessionID string) (*domain.Capsule, error) {
	var capsule domain.Capsule
	err := db.WithContext(ctx).Raw(
		`SELECT id, session_id, payload, signature, key_id, signed_at
		 FROM negotiation_capsules
		 WHERE session_id = ?
		 ORDER BY signed_at DESC, id DESC
		 LIMIT 1`,
		sessionID,
	).Scan(&capsule).Error
	if err != nil {
		return nil, err
	}
	if capsule.ID == 0 {
		return nil, nil
	}
	return &capsule, nil
}

func (r *repo) ListBySession(ctx context.Context, db *gorm.DB, sessionID string) ([]*domain.Capsule, error) {
	var capsules []*domain.Capsule
	err := db.WithContext(ctx).Raw(
		`SELECT id, session_id, payload, signature, key_id, signed_at
		 FROM negotiation_capsules
		 WHERE session_id = ?
		 ORDER BY signed_at ASC, id ASC`,
		sessionID,
	).Scan(&capsules).Error
	if err != nil {
		return nil, err
	}
	return capsules, nil
}
