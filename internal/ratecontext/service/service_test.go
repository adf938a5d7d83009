package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tripdeal/bargain/internal/clock"
	"github.com/tripdeal/bargain/internal/config"
	ratedomain "github.com/tripdeal/bargain/internal/ratecontext/domain"
	ratecontextservice "github.com/tripdeal/bargain/internal/ratecontext/service"
	"go.uber.org/zap"
)

type fakeQuoteSource struct {
	rc    *ratedomain.RateContext
	err   error
	calls int
}

func (f *fakeQuoteSource) Quote(ctx context.Context, productKey string) (*ratedomain.RateContext, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.rc, nil
}

func testConfig() config.Config {
	cfg := config.Config{}
	cfg.Resolver.QuoteTimeout = time.Second
	cfg.Resolver.CacheTTL = time.Minute
	cfg.Negotiation.Currency = "USD"
	return cfg
}

func newResolver(src ratedomain.QuoteSource) ratedomain.Resolver {
	return ratecontextservice.New(ratecontextservice.Params{
		Cfg:    testConfig(),
		Log:    zap.NewNop(),
		Source: src,
	})
}

func TestResolveReturnsQuote(t *testing.T) {
	src := &fakeQuoteSource{rc: &ratedomain.RateContext{
		ProductKey:     "hotel:taj-exotica:deluxe",
		DisplayedPrice: 250,
		TrueCost:       180,
		Currency:       "USD",
		FetchedAt:      time.Now().UTC(),
	}}

	rc, err := newResolver(src).Resolve(context.Background(), "hotel:taj-exotica:deluxe")
	require.NoError(t, err)
	assert.Equal(t, 180.0, rc.TrueCost)
	assert.Equal(t, 250.0, rc.DisplayedPrice)
	assert.Equal(t, 1, src.calls)
}

func TestResolveRejectsEmptyProductKey(t *testing.T) {
	src := &fakeQuoteSource{}

	_, err := newResolver(src).Resolve(context.Background(), "  ")
	assert.ErrorIs(t, err, ratedomain.ErrInvalidProduct)
	assert.Zero(t, src.calls)
}

func TestResolveRejectsNonPositiveTrueCost(t *testing.T) {
	src := &fakeQuoteSource{rc: &ratedomain.RateContext{
		ProductKey:     "flight:bom-dxb",
		DisplayedPrice: 320,
		TrueCost:       0,
	}}

	_, err := newResolver(src).Resolve(context.Background(), "flight:bom-dxb")
	assert.ErrorIs(t, err, ratedomain.ErrInvalidQuote)
}

func TestResolveRejectsDisplayedBelowCost(t *testing.T) {
	src := &fakeQuoteSource{rc: &ratedomain.RateContext{
		ProductKey:     "flight:bom-dxb",
		DisplayedPrice: 90,
		TrueCost:       120,
	}}

	_, err := newResolver(src).Resolve(context.Background(), "flight:bom-dxb")
	assert.ErrorIs(t, err, ratedomain.ErrInvalidQuote)
}

func TestResolveWrapsSourceFailure(t *testing.T) {
	src := &fakeQuoteSource{err: errors.New("supplier down")}

	_, err := newResolver(src).Resolve(context.Background(), "hotel:oberoi:suite")
	assert.ErrorIs(t, err, ratedomain.ErrQuoteUnavailable)
}

func TestStaticQuoteSourceIsDeterministic(t *testing.T) {
	cfg := testConfig()
	src := ratecontextservice.NewQuoteSource(cfg, clock.NewSystemClock())

	first, err := src.Quote(context.Background(), "hotel:leela-palace:deluxe")
	require.NoError(t, err)
	second, err := src.Quote(context.Background(), "hotel:leela-palace:deluxe")
	require.NoError(t, err)

	assert.Equal(t, first.TrueCost, second.TrueCost)
	assert.Equal(t, first.DisplayedPrice, second.DisplayedPrice)
	assert.Greater(t, first.TrueCost, 0.0)
	assert.Greater(t, first.DisplayedPrice, first.TrueCost)
	assert.Equal(t, "USD", first.Currency)
}
