package sweeper_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	auditdomain "github.com/tripdeal/bargain/internal/auditlog/domain"
	"github.com/tripdeal/bargain/internal/clock"
	"github.com/tripdeal/bargain/internal/config"
	sessiondomain "github.com/tripdeal/bargain/internal/session/domain"
	sessionrepo "github.com/tripdeal/bargain/internal/session/repository"
	sessionstore "github.com/tripdeal/bargain/internal/session/store"
	"github.com/tripdeal/bargain/internal/sweeper"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type memoryRecorder struct {
	mu     sync.Mutex
	events []*auditdomain.NegotiationEvent
}

func (r *memoryRecorder) Record(_ context.Context, event *auditdomain.NegotiationEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *memoryRecorder) List(_ context.Context, sessionID string) ([]*auditdomain.NegotiationEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*auditdomain.NegotiationEvent
	for _, e := range r.events {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out, nil
}

type fixture struct {
	db      *gorm.DB
	store   sessiondomain.Store
	sweeper *sweeper.Sweeper
	audit   *memoryRecorder
	clk     *clock.FakeClock
}

func newFixture(t *testing.T) *fixture {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&sessiondomain.NegotiationSession{}))

	cfg := config.Config{}
	cfg.Negotiation.SessionTTL = 30 * time.Minute
	cfg.Negotiation.HoldTTL = 15 * time.Minute
	cfg.Negotiation.WriteQueueSize = 16

	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	repo := sessionrepo.Provide()

	lc := fxtest.NewLifecycle(t)
	store := sessionstore.New(lc, sessionstore.Params{
		Cfg:   cfg,
		Log:   zap.NewNop(),
		DB:    db,
		Repo:  repo,
		Clock: clk,
	})
	lc.RequireStart()
	t.Cleanup(lc.RequireStop)

	audit := &memoryRecorder{}
	sw, err := sweeper.New(sweeper.Params{
		DB:    db,
		Log:   zap.NewNop(),
		Store: store,
		Repo:  repo,
		Audit: audit,
		Clock: clk,
	})
	require.NoError(t, err)

	return &fixture{db: db, store: store, sweeper: sw, audit: audit, clk: clk}
}

func (f *fixture) createSession(t *testing.T) *sessiondomain.NegotiationSession {
	session := &sessiondomain.NegotiationSession{
		BuyerID:        "buyer-1",
		BuyerTier:      "standard",
		ProductKey:     "hotel:taj-exotica:deluxe",
		DisplayedPrice: 250,
		TrueCost:       180,
		MinimumFloor:   198,
		Currency:       "USD",
		InitialOffer:   232.5,
	}
	require.NoError(t, f.store.Create(context.Background(), session))
	return session
}

func TestSweepExpiresLapsedSession(t *testing.T) {
	f := newFixture(t)
	session := f.createSession(t)

	f.clk.Advance(31 * time.Minute)

	expired, err := f.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	got, err := f.store.Get(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, sessiondomain.StatusExpired, got.Status)

	events, err := f.audit.List(context.Background(), session.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, auditdomain.EventSessionExpired, events[0].EventType)
	assert.Equal(t, 180.0, events[0].TrueCostSnapshot)
}

func TestSweepLeavesLiveSessionsAlone(t *testing.T) {
	f := newFixture(t)
	session := f.createSession(t)

	f.clk.Advance(5 * time.Minute)

	expired, err := f.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, expired)

	got, err := f.store.Get(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, sessiondomain.StatusActive, got.Status)
	assert.Empty(t, f.audit.events)
}

func TestSweepSkipsAlreadySettledSession(t *testing.T) {
	f := newFixture(t)
	session := f.createSession(t)

	final := 210.0
	_, err := f.store.Update(context.Background(), session.ID, func(s *sessiondomain.NegotiationSession) error {
		s.Status = sessiondomain.StatusAccepted
		s.FinalPrice = &final
		return nil
	})
	require.NoError(t, err)

	f.clk.Advance(31 * time.Minute)

	expired, err := f.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, expired)

	got, err := f.store.Get(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, sessiondomain.StatusAccepted, got.Status)
}
