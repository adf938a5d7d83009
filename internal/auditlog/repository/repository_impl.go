package repository

import (
	"context"

	"github.com/tripdeal/bargain/internal/auditlog/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertBatch(ctx context.Context, db *gorm.DB, events []*domain.NegotiationEvent) error {
	if len(events) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(events).Error
}

func (r *repo) ListBySession(ctx context.Context, db *gorm.DB, sessionID string) ([]*domain.NegotiationEvent, error) {
	var events []*domain.NegotiationEvent
	err := db.WithContext(ctx).Raw(
		`SELECT id, session_id, event_type, buyer_offer, counter_price, accepted,
		        true_cost_snapshot, signals, created_at
		 FROM negotiation_events
		 WHERE session_id = ?
		 ORDER BY created_at ASC, id ASC`,
		sessionID,
	).Scan(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}
