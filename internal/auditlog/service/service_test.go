package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tripdeal/bargain/internal/auditlog/domain"
	"github.com/tripdeal/bargain/internal/auditlog/repository"
	auditservice "github.com/tripdeal/bargain/internal/auditlog/service"
	"github.com/tripdeal/bargain/internal/clock"
	"github.com/tripdeal/bargain/internal/config"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to connect database: %v", err)
	}
	if err := db.AutoMigrate(&domain.NegotiationEvent{}); err != nil {
		t.Fatalf("failed to migrate database: %v", err)
	}
	return db
}

func newRecorder(t *testing.T, queueSize int) (domain.Recorder, *fxtest.Lifecycle) {
	cfg := config.Config{}
	cfg.Audit.QueueSize = queueSize
	cfg.Audit.BatchSize = 4
	cfg.Audit.FlushTimeout = 20 * time.Millisecond

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	lc := fxtest.NewLifecycle(t)
	recorder := auditservice.New(lc, auditservice.Params{
		Cfg:   cfg,
		Log:   zap.NewNop(),
		DB:    setupTestDB(t),
		GenID: node,
		Clock: clock.NewSystemClock(),
		Repo:  repository.Provide(),
	})
	return recorder, lc
}

func TestRecordPersistsEventsInBackground(t *testing.T) {
	recorder, lc := newRecorder(t, 64)
	lc.RequireStart()
	t.Cleanup(lc.RequireStop)

	offer := 150.0
	recorder.Record(context.Background(), &domain.NegotiationEvent{
		SessionID:        "01JSESSION",
		EventType:        domain.EventOfferSubmitted,
		BuyerOffer:       &offer,
		TrueCostSnapshot: 100,
	})
	recorder.Record(context.Background(), &domain.NegotiationEvent{
		SessionID:        "01JSESSION",
		EventType:        domain.EventOfferAccepted,
		BuyerOffer:       &offer,
		Accepted:         true,
		TrueCostSnapshot: 100,
	})

	assert.Eventually(t, func() bool {
		events, err := recorder.List(context.Background(), "01JSESSION")
		return err == nil && len(events) == 2
	}, 2*time.Second, 10*time.Millisecond)

	events, err := recorder.List(context.Background(), "01JSESSION")
	require.NoError(t, err)
	assert.Equal(t, domain.EventOfferSubmitted, events[0].EventType)
	assert.Equal(t, domain.EventOfferAccepted, events[1].EventType)
	assert.True(t, events[1].Accepted)
}

func TestRecordDropsInsteadOfBlockingWhenQueueFull(t *testing.T) {
	// Consumer not started, so the queue cannot drain.
	recorder, _ := newRecorder(t, 2)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			recorder.Record(context.Background(), &domain.NegotiationEvent{
				SessionID: "01JSESSION",
				EventType: domain.EventClientTelemetry,
			})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a full queue")
	}
}

func TestShutdownFlushesQueuedEvents(t *testing.T) {
	recorder, lc := newRecorder(t, 64)
	lc.RequireStart()

	recorder.Record(context.Background(), &domain.NegotiationEvent{
		SessionID:        "01JDRAIN",
		EventType:        domain.EventSessionStarted,
		TrueCostSnapshot: 100,
	})

	lc.RequireStop()

	events, err := recorder.List(context.Background(), "01JDRAIN")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
