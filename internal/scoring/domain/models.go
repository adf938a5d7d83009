package domain

import (
	"errors"

	offerdomain "github.com/tripdeal/bargain/internal/offer/domain"
	sessiondomain "github.com/tripdeal/bargain/internal/session/domain"
)

var ErrNoFeasibleOffer = errors.New("no_feasible_offer")

// ScoredCandidate pairs a feasible price with its estimated acceptance
// probability and the expected value used for ranking.
type ScoredCandidate struct {
	offerdomain.Candidate
	AcceptProb    float64 `json:"accept_prob"`
	ExpectedValue float64 `json:"expected_value"`
}

// Signals are opaque buyer hints forwarded by the client. Known keys weight
// the acceptance curve; unknown keys are ignored.
type Signals map[string]any

type Engine interface {
	// ScoreCandidates estimates acceptance probability per candidate. The
	// probability is monotonic non-increasing in price.
	ScoreCandidates(candidates []offerdomain.Candidate, session *sessiondomain.NegotiationSession, signals Signals) []ScoredCandidate
	// PickBest maximizes AcceptProb * Margin, breaking ties toward the
	// lowest price.
	PickBest(scored []ScoredCandidate) (ScoredCandidate, error)
}
