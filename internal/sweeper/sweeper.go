package sweeper

import (
	"context"
	"errors"
	"time"

	auditdomain "github.com/tripdeal/bargain/internal/auditlog/domain"
	"github.com/tripdeal/bargain/internal/clock"
	sessiondomain "github.com/tripdeal/bargain/internal/session/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("sweeper_invalid_config")

// errAlreadySettled means the cached copy of the session moved on between
// the durable scan and the locked read; nothing to do.
var errAlreadySettled = errors.New("already_settled")

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Store sessiondomain.Store
	Repo  sessiondomain.Repository
	Audit auditdomain.Recorder
	Clock clock.Clock
	Cfg   Config `optional:"true"`
}

// Sweeper expires lapsed sessions in the background so the durable store
// converges even when nobody touches a session again after its hold ends.
type Sweeper struct {
	db    *gorm.DB
	log   *zap.Logger
	cfg   Config
	store sessiondomain.Store
	repo  sessiondomain.Repository
	audit auditdomain.Recorder
	clock clock.Clock
}

func New(p Params) (*Sweeper, error) {
	if p.DB == nil || p.Log == nil || p.Store == nil || p.Repo == nil || p.Audit == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Sweeper{
		db:    p.DB,
		log:   p.Log.Named("sweeper"),
		cfg:   p.Cfg.withDefaults(),
		store: p.Store,
		repo:  p.Repo,
		audit: p.Audit,
		clock: p.Clock,
	}, nil
}

// RunOnce expires one batch of lapsed sessions and reports how many it
// transitioned.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	now := s.clock.Now()
	lapsed, err := s.repo.FindExpired(ctx, s.db, now, s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	var expired int
	var errs error
	for _, row := range lapsed {
		session, err := s.store.Update(ctx, row.ID, func(cur *sessiondomain.NegotiationSession) error {
			if cur.Terminal() {
				return errAlreadySettled
			}
			if now.Before(cur.ExpiresAt) {
				return errAlreadySettled
			}
			cur.Status = sessiondomain.StatusExpired
			return nil
		})
		switch {
		case errors.Is(err, errAlreadySettled):
			continue
		case errors.Is(err, sessiondomain.ErrSessionBusy):
			// A live request holds the lock; it will expire the session
			// itself or we pick it up next tick.
			continue
		case err != nil:
			errs = errors.Join(errs, err)
			continue
		}

		expired++
		s.audit.Record(ctx, &auditdomain.NegotiationEvent{
			SessionID:        session.ID,
			EventType:        auditdomain.EventSessionExpired,
			TrueCostSnapshot: session.TrueCost,
		})
	}

	if expired > 0 {
		s.log.Info("expired lapsed sessions", zap.Int("count", expired))
	}
	return expired, errs
}

func (s *Sweeper) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if _, err := s.RunOnce(ctx); err != nil {
			s.log.Warn("sweep failed", zap.Error(err))
		}
	}
}
