package domain

import (
	"context"
	"errors"

	sessiondomain "github.com/tripdeal/bargain/internal/session/domain"
)

var ErrSessionNotActive = errors.New("session_not_active")

// Candidate is one economically feasible counter price. Margin is implied,
// price minus the session's true cost snapshot.
type Candidate struct {
	Price  float64 `json:"price"`
	Margin float64 `json:"margin"`
}

type Engine interface {
	// BuildFeasibleSet samples counter prices in [floor, band top]. Every
	// candidate satisfies price >= floor; an active session always yields
	// at least one candidate.
	BuildFeasibleSet(ctx context.Context, session *sessiondomain.NegotiationSession) ([]Candidate, error)
}
