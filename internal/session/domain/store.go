package domain

import (
	"context"
	"errors"
	"time"

	"github.com/tripdeal/bargain/pkg/db/pagination"
	"gorm.io/gorm"
)

var (
	ErrNotFound     = errors.New("session_not_found")
	ErrSessionBusy  = errors.New("session_busy")
	ErrFloorLowered = errors.New("floor_lowered")
	ErrInvalidState = errors.New("invalid_session_state")
)

// Store is the authoritative access path for live sessions. Reads hit the
// fast cache first; writes go through a per-session lock so concurrent
// offers on one session serialize instead of interleaving.
type Store interface {
	Create(ctx context.Context, session *NegotiationSession) error
	Get(ctx context.Context, id string) (*NegotiationSession, error)
	// Update loads the session, applies mutate under the session lock, and
	// persists the result. Terminal transitions are written through to the
	// durable store before Update returns.
	Update(ctx context.Context, id string, mutate func(*NegotiationSession) error) (*NegotiationSession, error)
}

type ListSessionFilter struct {
	BuyerID    string
	ProductKey string
	Status     string
}

// Repository is the durable record of every session, used for audit review
// and replay after the cache entry has expired.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, session *NegotiationSession) error
	FindByID(ctx context.Context, db *gorm.DB, id string) (*NegotiationSession, error)
	Update(ctx context.Context, db *gorm.DB, session *NegotiationSession) error
	List(ctx context.Context, db *gorm.DB, filter ListSessionFilter, page pagination.Pagination) ([]*NegotiationSession, error)
	// FindExpired returns active sessions whose hold lapsed before cutoff.
	FindExpired(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]*NegotiationSession, error)
}
