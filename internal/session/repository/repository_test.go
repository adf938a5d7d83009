package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tripdeal/bargain/internal/session/domain"
	"github.com/tripdeal/bargain/internal/session/repository"
	pkgdb "github.com/tripdeal/bargain/pkg/db"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to connect database: %v", err)
	}
	if err := db.AutoMigrate(&domain.NegotiationSession{}); err != nil {
		t.Fatalf("failed to migrate database: %v", err)
	}
	return db
}

func newSession(status string) *domain.NegotiationSession {
	now := time.Now().UTC()
	return &domain.NegotiationSession{
		ID:             "01J3CB4D5E6F7G8H9JKMNPQRST",
		BuyerID:        "buyer-1",
		BuyerTier:      "standard",
		ProductKey:     "hotel:taj-exotica:deluxe",
		DisplayedPrice: 250,
		TrueCost:       180,
		MinimumFloor:   198,
		Currency:       "USD",
		InitialOffer:   232.5,
		CurrentOffer:   232.5,
		Status:         status,
		Signals:        datatypes.JSONMap{},
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(30 * time.Minute),
	}
}

// An accept can write through before the queued insert for the same session
// has drained. The terminal state must land as a full row, and the late
// insert of the stale active snapshot must not replace it.
func TestUpdateLandsTerminalStateBeforeInsertDrains(t *testing.T) {
	db := setupTestDB(t)
	repo := repository.Provide()

	accepted := newSession(domain.StatusAccepted)
	final := 210.0
	accepted.CurrentOffer = final
	accepted.FinalPrice = &final

	require.NoError(t, repo.Update(context.Background(), db, accepted))

	got, err := repo.FindByID(context.Background(), db, accepted.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.StatusAccepted, got.Status)
	require.NotNil(t, got.FinalPrice)
	assert.Equal(t, 210.0, *got.FinalPrice)

	// The queued insert drains afterwards carrying the pre-accept snapshot.
	stale := newSession(domain.StatusActive)
	err = repo.Insert(context.Background(), db, stale)
	require.Error(t, err)
	assert.True(t, pkgdb.IsDuplicateKeyErr(err))

	got, err = repo.FindByID(context.Background(), db, accepted.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.StatusAccepted, got.Status)
	require.NotNil(t, got.FinalPrice)
	assert.Equal(t, 210.0, *got.FinalPrice)
}

func TestUpdateNeverDowngradesTerminalRow(t *testing.T) {
	db := setupTestDB(t)
	repo := repository.Provide()

	accepted := newSession(domain.StatusAccepted)
	final := 205.0
	accepted.FinalPrice = &final
	require.NoError(t, repo.Insert(context.Background(), db, accepted))

	// A stale async snapshot from before the accept.
	stale := newSession(domain.StatusActive)
	stale.UpdatedAt = time.Now().UTC().Add(time.Second)
	require.NoError(t, repo.Update(context.Background(), db, stale))

	got, err := repo.FindByID(context.Background(), db, accepted.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.StatusAccepted, got.Status)
	require.NotNil(t, got.FinalPrice)
	assert.Equal(t, 205.0, *got.FinalPrice)
}

func TestUpdateAppliesNonTerminalToActiveRow(t *testing.T) {
	db := setupTestDB(t)
	repo := repository.Provide()

	session := newSession(domain.StatusActive)
	require.NoError(t, repo.Insert(context.Background(), db, session))

	session.CurrentOffer = 220
	require.NoError(t, repo.Update(context.Background(), db, session))

	got, err := repo.FindByID(context.Background(), db, session.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.StatusActive, got.Status)
	assert.Equal(t, 220.0, got.CurrentOffer)
}
