package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	EventSessionStarted  = "session_started"
	EventOfferSubmitted  = "offer_submitted"
	EventCounterIssued   = "counter_issued"
	EventOfferAccepted   = "offer_accepted"
	EventOfferRejected   = "offer_rejected"
	EventSessionExpired  = "session_expired"
	EventClientTelemetry = "client_telemetry"
)

// NegotiationEvent is the append-only record of one state transition or one
// client telemetry item. Never updated after insert.
type NegotiationEvent struct {
	ID               snowflake.ID      `gorm:"primaryKey" json:"id"`
	SessionID        string            `gorm:"not null;index" json:"session_id"`
	EventType        string            `gorm:"not null" json:"event_type"`
	BuyerOffer       *float64          `json:"buyer_offer,omitempty"`
	CounterPrice     *float64          `json:"counter_price,omitempty"`
	Accepted         bool              `gorm:"not null;default:false" json:"accepted"`
	TrueCostSnapshot float64           `gorm:"not null" json:"true_cost_snapshot"`
	Signals          datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"signals,omitempty"`
	CreatedAt        time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (NegotiationEvent) TableName() string {
	return "negotiation_events"
}

// Recorder accepts events without blocking the request path. A full queue
// drops the event; negotiation outcomes never depend on audit capacity.
type Recorder interface {
	Record(ctx context.Context, event *NegotiationEvent)
	List(ctx context.Context, sessionID string) ([]*NegotiationEvent, error)
}

type Repository interface {
	InsertBatch(ctx context.Context, db *gorm.DB, events []*NegotiationEvent) error
	ListBySession(ctx context.Context, db *gorm.DB, sessionID string) ([]*NegotiationEvent, error)
}
