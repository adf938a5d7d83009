package domain

import (
	"context"
	"errors"
	"time"

	auditdomain "github.com/tripdeal/bargain/internal/auditlog/domain"
	capsuledomain "github.com/tripdeal/bargain/internal/capsule/domain"
	sessiondomain "github.com/tripdeal/bargain/internal/session/domain"
)

const (
	DecisionAccept  = "accept"
	DecisionReject  = "reject"
	DecisionCounter = "counter"
)

var (
	ErrInvalidBuyer       = errors.New("invalid_buyer")
	ErrInvalidProduct     = errors.New("invalid_product")
	ErrInvalidSessionID   = errors.New("invalid_session_id")
	ErrInvalidOffer       = errors.New("invalid_offer")
	ErrNeverLossViolation = errors.New("never_loss_violation")
	ErrInventoryChanged   = errors.New("inventory_changed")
	ErrSessionExpired     = errors.New("session_expired")
	ErrSessionClosed      = errors.New("session_closed")
)

type BuyerInfo struct {
	ID     string `json:"id"`
	Tier   string `json:"tier"`
	Device string `json:"device"`
}

type StartRequest struct {
	User      BuyerInfo `json:"user"`
	Product   string    `json:"product"`
	PromoCode *string   `json:"promoCode,omitempty"`
}

type OfferView struct {
	Price       float64 `json:"price"`
	Explanation string  `json:"explanation"`
}

type StartResponse struct {
	SessionID     string                `json:"sessionId"`
	InitialOffer  OfferView             `json:"initialOffer"`
	MinFloor      float64               `json:"minFloor"`
	Explain       []string              `json:"explain"`
	SafetyCapsule *capsuledomain.Capsule `json:"safetyCapsule"`
}

type OfferRequest struct {
	SessionID string         `json:"sessionId"`
	UserOffer *float64       `json:"userOffer,omitempty"`
	Signals   map[string]any `json:"signals,omitempty"`
}

type OfferResponse struct {
	Decision      string                 `json:"decision"`
	MinFloor      float64                `json:"minFloor"`
	Explain       []string               `json:"explain"`
	SafetyCapsule *capsuledomain.Capsule `json:"safetyCapsule,omitempty"`
	CounterOffer  *float64               `json:"counterOffer,omitempty"`
	AcceptProb    *float64               `json:"acceptProb,omitempty"`
}

type AcceptRequest struct {
	SessionID string `json:"sessionId"`
}

type PaymentPayload struct {
	SessionID        string    `json:"sessionId"`
	FinalPrice       float64   `json:"finalPrice"`
	Currency         string    `json:"currency"`
	ProductDetails   string    `json:"productDetails"`
	BookingReference string    `json:"bookingReference"`
	ExpiresAt        time.Time `json:"expiresAt"`
}

type AcceptResponse struct {
	PaymentPayload PaymentPayload `json:"paymentPayload"`
}

type ReplayResponse struct {
	Session        *sessiondomain.NegotiationSession `json:"session"`
	Events         []*auditdomain.NegotiationEvent   `json:"events"`
	Capsule        *capsuledomain.Capsule            `json:"capsule,omitempty"`
	SignatureValid bool                              `json:"signatureValid"`
}

type Service interface {
	Start(ctx context.Context, req StartRequest) (*StartResponse, error)
	Offer(ctx context.Context, req OfferRequest) (*OfferResponse, error)
	Accept(ctx context.Context, req AcceptRequest) (*AcceptResponse, error)
	Replay(ctx context.Context, sessionID string) (*ReplayResponse, error)
}
