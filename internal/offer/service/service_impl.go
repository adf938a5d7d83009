package service

import (
	"context"
	"math"
	"math/rand"
	"sort"

	"github.com/tripdeal/bargain/internal/config"
	"github.com/tripdeal/bargain/internal/offer/domain"
	sessiondomain "github.com/tripdeal/bargain/internal/session/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
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
		log: p.Log.Named("offer.engine"),
	}
}

func (e *Engine) BuildFeasibleSet(_ context.Context, session *sessiondomain.NegotiationSession) ([]domain.Candidate, error) {
	if session == nil || session.Status != sessiondomain.StatusActive {
		return nil, domain.ErrSessionNotActive
	}

	floor := session.MinimumFloor
	top := session.DisplayedPrice
	// Once a price is on the table, later counters never climb back above it.
	if session.CurrentOffer > 0 && session.CurrentOffer < top {
		top = session.CurrentOffer
	}

	// A promo code concedes part of the band up front by pulling the top of
	// the counter range toward the floor.
	if session.PromoCode != nil && *session.PromoCode != "" && e.cfg.Negotiation.PromoBandShrink > 0 {
		top -= (top - floor) * e.cfg.Negotiation.PromoBandShrink
	}

	if top <= floor {
		return []domain.Candidate{e.candidate(session, floor)}, nil
	}

	count := e.cfg.Negotiation.CandidateCount
	if count <= 1 {
		count = 2
	}

	step := (top - floor) / float64(count-1)
	seen := make(map[float64]struct{}, count)
	candidates := make([]domain.Candidate, 0, count)
	for i := 0; i < count; i++ {
		price := floor + step*float64(i)
		// Jitter within half a step keeps counters hard to predict while
		// staying inside the band.
		if i > 0 && i < count-1 {
			price += (rand.Float64() - 0.5) * step
		}
		price = math.Min(math.Max(price, floor), top)
		c := e.candidate(session, price)
		if _, dup := seen[c.Price]; dup {
			continue
		}
		seen[c.Price] = struct{}{}
		candidates = append(candidates, c)
	}

	if len(candidates) == 0 {
		candidates = append(candidates, e.candidate(session, floor))
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Price < candidates[j].Price
	})
	return candidates, nil
}

func (e *Engine) candidate(session *sessiondomain.NegotiationSession, price float64) domain.Candidate {
	// Round up to the next cent so rounding can never dip below the floor.
	price = math.Ceil(price*100-1e-9) / 100
	return domain.Candidate{
		Price:  price,
		Margin: roundCents(price - session.TrueCost),
	}
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
