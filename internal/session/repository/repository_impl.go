package repository

import (
	"context"
	"time"

	"github.com/tripdeal/bargain/internal/session/domain"
	pkgdb "github.com/tripdeal/bargain/pkg/db"
	"github.com/tripdeal/bargain/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, session *domain.NegotiationSession) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO negotiation_sessions
		 (id, buyer_id, buyer_tier, device_class, product_key, displayed_price, true_cost,
		  minimum_floor, currency, initial_offer, current_offer, final_price, promo_code,
		  status, signals, created_at, updated_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID,
		session.BuyerID,
		session.BuyerTier,
		session.DeviceClass,
		session.ProductKey,
		session.DisplayedPrice,
		session.TrueCost,
		session.MinimumFloor,
		session.Currency,
		session.InitialOffer,
		session.CurrentOffer,
		session.FinalPrice,
		session.PromoCode,
		session.Status,
		session.Signals,
		session.CreatedAt,
		session.UpdatedAt,
		session.ExpiresAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id string) (*domain.NegotiationSession, error) {
	var session domain.NegotiationSession
	err := db.WithContext(ctx).Raw(
		`SELECT id, buyer_id, buyer_tier, device_class, product_key, displayed_price, true_cost,
		        minimum_floor, currency, initial_offer, current_offer, final_price, promo_code,
		        status, signals, created_at, updated_at, expires_at
		 FROM negotiation_sessions WHERE id = ?`,
		id,
	).Scan(&session).Error
	if err != nil {
		return nil, err
	}
	if session.ID == "" {
		return nil, nil
	}
	return &session, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, session *domain.NegotiationSession) error {
	stmt := `UPDATE negotiation_sessions
		 SET status = ?, current_offer = ?, final_price = ?, signals = ?, updated_at = ?
		 WHERE id = ?`
	args := []interface{}{
		session.Status,
		session.CurrentOffer,
		session.FinalPrice,
		session.Signals,
		session.UpdatedAt,
		session.ID,
	}
	// Async snapshots are always non-terminal and may drain after a terminal
	// transition already wrote through; they must never move a settled row
	// back to active.
	if !session.Terminal() {
		stmt += ` AND status = ?`
		args = append(args, domain.StatusActive)
	}

	res := db.WithContext(ctx).Exec(stmt, args...)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 && session.Terminal() {
		// The insert for this session is still queued (or was dropped under
		// pressure). A terminal state cannot be lost, so land the full row
		// now; a late queued insert hits the duplicate key and is ignored.
		if err := r.Insert(ctx, db, session); err != nil && !pkgdb.IsDuplicateKeyErr(err) {
			return err
		}
	}
	return nil
}

func (r *repo) FindExpired(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]*domain.NegotiationSession, error) {
	var sessions []*domain.NegotiationSession
	err := db.WithContext(ctx).Raw(
		`SELECT id, buyer_id, buyer_tier, device_class, product_key, displayed_price, true_cost,
		        minimum_floor, currency, initial_offer, current_offer, final_price, promo_code,
		        status, signals, created_at, updated_at, expires_at
		 FROM negotiation_sessions
		 WHERE status = ? AND expires_at < ?
		 ORDER BY expires_at ASC
		 LIMIT ?`,
		domain.StatusActive,
		cutoff,
		limit,
	).Scan(&sessions).Error
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListSessionFilter, page pagination.Pagination) ([]*domain.NegotiationSession, error) {
	var sessions []*domain.NegotiationSession
	stmt := db.WithContext(ctx).Model(&domain.NegotiationSession{})
	if filter.BuyerID != "" {
		stmt = stmt.Where("buyer_id = ?", filter.BuyerID)
	}
	if filter.ProductKey != "" {
		stmt = stmt.Where("product_key = ?", filter.ProductKey)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if page.PageToken != "" {
		cursor, err := pagination.DecodeCursor(page.PageToken)
		if err != nil {
			return nil, err
		}
		if cursor.ID != "" {
			stmt = stmt.Where("id < ?", cursor.ID)
		}
	}
	limit := page.PageSize
	if limit <= 0 {
		limit = 10
	}
	// One extra row so the caller can tell whether more pages exist.
	err := stmt.
		Order("id desc").
		Limit(limit + 1).
		Find(&sessions).Error
	if err != nil {
		return nil, err
	}
	return sessions, nil
}
