package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tripdeal/bargain/internal/config"
	"github.com/tripdeal/bargain/internal/offer/domain"
	offerservice "github.com/tripdeal/bargain/internal/offer/service"
	sessiondomain "github.com/tripdeal/bargain/internal/session/domain"
	"go.uber.org/zap"
)

func newEngine(shrink float64) domain.Engine {
	cfg := config.Config{}
	cfg.Negotiation.CandidateCount = 8
	cfg.Negotiation.PromoBandShrink = shrink
	return offerservice.New(offerservice.Params{Cfg: cfg, Log: zap.NewNop()})
}

func activeSession() *sessiondomain.NegotiationSession {
	return &sessiondomain.NegotiationSession{
		ID:             "01JSESSION",
		Status:         sessiondomain.StatusActive,
		DisplayedPrice: 250,
		TrueCost:       180,
		MinimumFloor:   198,
	}
}

func TestBuildFeasibleSetRespectsFloorAndBand(t *testing.T) {
	engine := newEngine(0)
	session := activeSession()

	candidates, err := engine.BuildFeasibleSet(context.Background(), session)
	require.NoError(t, err)
	require.NotEmpty(t, candidates)

	for _, c := range candidates {
		assert.GreaterOrEqual(t, c.Price, session.MinimumFloor)
		assert.LessOrEqual(t, c.Price, session.DisplayedPrice+0.01)
		assert.InDelta(t, c.Price-session.TrueCost, c.Margin, 0.011)
	}
}

func TestBuildFeasibleSetFloorOnlyWhenBandCollapses(t *testing.T) {
	engine := newEngine(0)
	session := activeSession()
	session.DisplayedPrice = 190 // below the floor

	candidates, err := engine.BuildFeasibleSet(context.Background(), session)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, session.MinimumFloor, candidates[0].Price)
}

func TestBuildFeasibleSetPromoNarrowsBandTop(t *testing.T) {
	engine := newEngine(0.5)
	session := activeSession()
	promo := "SUMMER24"
	session.PromoCode = &promo

	// Band is [198, 250]; a 0.5 shrink caps counters at 224.
	candidates, err := engine.BuildFeasibleSet(context.Background(), session)
	require.NoError(t, err)
	for _, c := range candidates {
		assert.GreaterOrEqual(t, c.Price, 198.0)
		assert.LessOrEqual(t, c.Price, 224.01)
	}
}

func TestBuildFeasibleSetNeverClimbsAboveCurrentOffer(t *testing.T) {
	engine := newEngine(0)
	session := activeSession()
	session.CurrentOffer = 220 // a counter already issued below the list price

	candidates, err := engine.BuildFeasibleSet(context.Background(), session)
	require.NoError(t, err)
	require.NotEmpty(t, candidates)
	for _, c := range candidates {
		assert.GreaterOrEqual(t, c.Price, session.MinimumFloor)
		assert.LessOrEqual(t, c.Price, 220.01)
	}
}

func TestBuildFeasibleSetRejectsInactiveSession(t *testing.T) {
	engine := newEngine(0)
	session := activeSession()
	session.Status = sessiondomain.StatusAccepted

	_, err := engine.BuildFeasibleSet(context.Background(), session)
	assert.ErrorIs(t, err, domain.ErrSessionNotActive)
}
