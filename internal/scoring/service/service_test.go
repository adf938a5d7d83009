package service_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tripdeal/bargain/internal/config"
	offerdomain "github.com/tripdeal/bargain/internal/offer/domain"
	"github.com/tripdeal/bargain/internal/scoring/domain"
	scoringservice "github.com/tripdeal/bargain/internal/scoring/service"
	sessiondomain "github.com/tripdeal/bargain/internal/session/domain"
	"go.uber.org/zap"
)

func newEngine() domain.Engine {
	return scoringservice.New(scoringservice.Params{Cfg: config.Config{}, Log: zap.NewNop()})
}

func session(tier string) *sessiondomain.NegotiationSession {
	return &sessiondomain.NegotiationSession{
		ID:             "01JSESSION",
		Status:         sessiondomain.StatusActive,
		BuyerTier:      tier,
		DisplayedPrice: 250,
		TrueCost:       180,
		MinimumFloor:   198,
	}
}

func ladder(sess *sessiondomain.NegotiationSession, prices ...float64) []offerdomain.Candidate {
	candidates := make([]offerdomain.Candidate, 0, len(prices))
	for _, p := range prices {
		candidates = append(candidates, offerdomain.Candidate{Price: p, Margin: p - sess.TrueCost})
	}
	return candidates
}

func TestScoreCandidatesMonotonicInPrice(t *testing.T) {
	engine := newEngine()
	sess := session("standard")

	scored := engine.ScoreCandidates(ladder(sess, 198, 210, 225, 240, 250), sess, nil)
	require.Len(t, scored, 5)

	for i := 1; i < len(scored); i++ {
		assert.LessOrEqual(t, scored[i].AcceptProb, scored[i-1].AcceptProb,
			"probability must not rise with price")
	}
	for _, c := range scored {
		assert.GreaterOrEqual(t, c.AcceptProb, 0.0)
		assert.LessOrEqual(t, c.AcceptProb, 1.0)
	}
}

func TestScoreCandidatesPremiumTierToleratesPrice(t *testing.T) {
	engine := newEngine()
	standard := session("standard")
	premium := session("premium")

	mid := 225.0
	stdScore := engine.ScoreCandidates(ladder(standard, mid), standard, nil)[0]
	premScore := engine.ScoreCandidates(ladder(premium, mid), premium, nil)[0]

	assert.Greater(t, premScore.AcceptProb, stdScore.AcceptProb)
}

func TestPickBestMaximizesExpectedValue(t *testing.T) {
	engine := newEngine()

	scored := []domain.ScoredCandidate{
		{Candidate: offerdomain.Candidate{Price: 200, Margin: 20}, AcceptProb: 0.9, ExpectedValue: 18},
		{Candidate: offerdomain.Candidate{Price: 230, Margin: 50}, AcceptProb: 0.5, ExpectedValue: 25},
		{Candidate: offerdomain.Candidate{Price: 250, Margin: 70}, AcceptProb: 0.15, ExpectedValue: 10.5},
	}

	best, err := engine.PickBest(scored)
	require.NoError(t, err)
	assert.Equal(t, 230.0, best.Price)
}

func TestPickBestTieBreaksTowardLowestPrice(t *testing.T) {
	engine := newEngine()

	scored := []domain.ScoredCandidate{
		{Candidate: offerdomain.Candidate{Price: 240, Margin: 60}, AcceptProb: 0.25, ExpectedValue: 15},
		{Candidate: offerdomain.Candidate{Price: 210, Margin: 30}, AcceptProb: 0.5, ExpectedValue: 15},
	}

	best, err := engine.PickBest(scored)
	require.NoError(t, err)
	assert.Equal(t, 210.0, best.Price)
}

func TestPickBestEmptyInput(t *testing.T) {
	engine := newEngine()

	_, err := engine.PickBest(nil)
	assert.ErrorIs(t, err, domain.ErrNoFeasibleOffer)
}
