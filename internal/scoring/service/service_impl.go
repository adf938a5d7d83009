package service

import (
	"math"

	"github.com/tripdeal/bargain/internal/config"
	offerdomain "github.com/tripdeal/bargain/internal/offer/domain"
	"github.com/tripdeal/bargain/internal/scoring/domain"
	sessiondomain "github.com/tripdeal/bargain/internal/session/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Acceptance probability bounds. A buyer offered the floor is very likely to
// take it; a buyer offered the full displayed price rarely is.
const (
	probAtFloor = 0.92
	probAtTop   = 0.15
)

type Params struct {
	fx.In

	Cfg config.Config
	Log *zap.Logger
}

type Engine struct {
	cfg config.Config
	log *zap.Logger
}

func New(p Params) domain.Engine {
	return &Engine{
		cfg: p.Cfg,
		log: p.Log.Named("scoring.engine"),
	}
}

func (e *Engine) ScoreCandidates(candidates []offerdomain.Candidate, session *sessiondomain.NegotiationSession, signals domain.Signals) []domain.ScoredCandidate {
	gamma := acceptanceShape(session, signals)

	floor := session.MinimumFloor
	top := math.Max(session.DisplayedPrice, floor)
	span := top - floor

	scored := make([]domain.ScoredCandidate, 0, len(candidates))
	for _, c := range candidates {
		pos := 0.0
		if span > 0 {
			pos = clamp((c.Price-floor)/span, 0, 1)
		}
		prob := probAtTop + (probAtFloor-probAtTop)*math.Pow(1-pos, gamma)
		prob = clamp(prob, 0, 1)
		scored = append(scored, domain.ScoredCandidate{
			Candidate:     c,
			AcceptProb:    round4(prob),
			ExpectedValue: round4(prob * c.Margin),
		})
	}
	return scored
}

func (e *Engine) PickBest(scored []domain.ScoredCandidate) (domain.ScoredCandidate, error) {
	if len(scored) == 0 {
		return domain.ScoredCandidate{}, domain.ErrNoFeasibleOffer
	}

	best := scored[0]
	for _, c := range scored[1:] {
		if c.ExpectedValue > best.ExpectedValue {
			best = c
			continue
		}
		if c.ExpectedValue == best.ExpectedValue && c.Price < best.Price {
			best = c
		}
	}
	return best, nil
}

// acceptanceShape returns the curve exponent. Larger gamma makes the
// probability fall off faster as the price climbs away from the floor.
func acceptanceShape(session *sessiondomain.NegotiationSession, signals domain.Signals) float64 {
	gamma := 1.6

	switch session.BuyerTier {
	case "premium", "gold":
		// Premium buyers convert at higher prices.
		gamma -= 0.4
	case "budget":
		gamma += 0.5
	}

	if session.DeviceClass == "mobile" {
		// Mobile sessions skew impulsive, slightly more price tolerant.
		gamma -= 0.1
	}

	if signals != nil {
		if v, ok := signals["repeat_visits"].(float64); ok && v >= 2 {
			gamma -= 0.2
		}
		if v, ok := signals["abandoned_carts"].(float64); ok && v >= 1 {
			gamma += 0.3
		}
	}

	return clamp(gamma, 0.5, 3)
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
