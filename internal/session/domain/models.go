package domain

import (
	"time"

	"gorm.io/datatypes"
)

const (
	StatusActive   = "active"
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
	StatusExpired  = "expired"
)

// NegotiationSession is one buyer's bargaining run against one product.
// Pricing facts are snapshotted at creation so later supplier updates
// never move the floor under an in-flight session.
type NegotiationSession struct {
	ID             string            `gorm:"primaryKey" json:"id"`
	BuyerID        string            `gorm:"not null;index" json:"buyer_id"`
	BuyerTier      string            `gorm:"not null" json:"buyer_tier"`
	DeviceClass    string            `json:"device_class,omitempty"`
	ProductKey     string            `gorm:"not null;index" json:"product_key"`
	DisplayedPrice float64           `gorm:"not null" json:"displayed_price"`
	TrueCost       float64           `gorm:"not null" json:"true_cost"`
	MinimumFloor   float64           `gorm:"not null" json:"minimum_floor"`
	Currency       string            `gorm:"not null" json:"currency"`
	InitialOffer   float64           `gorm:"not null" json:"initial_offer"`
	// CurrentOffer is the price currently on the table: the initial offer at
	// start, then each counter as it is issued.
	CurrentOffer   float64           `gorm:"not null" json:"current_offer"`
	FinalPrice     *float64          `json:"final_price,omitempty"`
	PromoCode      *string           `json:"promo_code,omitempty"`
	Status         string            `gorm:"not null;index" json:"status"`
	Signals        datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"signals,omitempty"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
	ExpiresAt      time.Time         `gorm:"not null" json:"expires_at"`
}

func (NegotiationSession) TableName() string {
	return "negotiation_sessions"
}

// Terminal reports whether the session can no longer transition.
func (s *NegotiationSession) Terminal() bool {
	switch s.Status {
	case StatusAccepted, StatusRejected, StatusExpired:
		return true
	}
	return false
}
