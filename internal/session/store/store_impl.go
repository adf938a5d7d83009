package store

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/tripdeal/bargain/internal/clock"
	"github.com/tripdeal/bargain/internal/config"
	"github.com/tripdeal/bargain/internal/session/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	sessionKeyPrefix = "session:neg:"
	lockKeyPrefix    = "session:neg:lock:"
	lockTTL          = 5 * time.Second
)

type Params struct {
	fx.In

	Cfg   config.Config
	Log   *zap.Logger
	DB    *gorm.DB
	Redis *redis.Client `optional:"true"`
	Repo  domain.Repository
	Clock clock.Clock
}

type Store struct {
	cfg    config.Config
	log    *zap.Logger
	db     *gorm.DB
	redis  *redis.Client
	repo   domain.Repository
	clock  clock.Clock
	locker *Locker
	writer *durableWriter

	entropyMu sync.Mutex
	entropy   io.Reader

	// localLocks backs Update when redis is not configured, so a single
	// instance still serializes writers per session.
	localMu    sync.Mutex
	localLocks map[string]*sync.Mutex
}

func New(lc fx.Lifecycle, p Params) domain.Store {
	s := &Store{
		cfg:        p.Cfg,
		log:        p.Log.Named("session.store"),
		db:         p.DB,
		redis:      p.Redis,
		repo:       p.Repo,
		clock:      p.Clock,
		locker:     NewLocker(p.Redis),
		writer:     newDurableWriter(p.DB, p.Repo, p.Log, p.Cfg.Negotiation.WriteQueueSize),
		entropy:    ulid.Monotonic(rand.Reader, 0),
		localLocks: map[string]*sync.Mutex{},
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())
			go s.writer.run(ctx)

			lc.Append(fx.Hook{
				OnStop: func(stopCtx context.Context) error {
					cancel()
					select {
					case <-s.writer.doneCh:
					case <-stopCtx.Done():
					}
					return nil
				},
			})
			return nil
		},
	})

	return s
}

// NewID returns a lexicographically sortable session identifier.
func (s *Store) NewID() string {
	s.entropyMu.Lock()
	defer s.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(s.clock.Now()), s.entropy).String()
}

func (s *Store) Create(ctx context.Context, session *domain.NegotiationSession) error {
	now := s.clock.Now().UTC()
	if session.ID == "" {
		session.ID = s.NewID()
	}
	if session.Status == "" {
		session.Status = domain.StatusActive
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	if session.ExpiresAt.IsZero() {
		session.ExpiresAt = now.Add(s.cfg.Negotiation.SessionTTL)
	}
	if session.Signals == nil {
		session.Signals = datatypes.JSONMap{}
	}

	if err := s.cacheSet(ctx, session); err != nil {
		return err
	}

	if s.redis == nil {
		return s.repo.Insert(ctx, s.db, session)
	}
	s.writer.enqueue(session, true)
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*domain.NegotiationSession, error) {
	if id == "" {
		return nil, domain.ErrNotFound
	}

	if session := s.cacheGet(ctx, id); session != nil {
		return session, nil
	}

	session, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, domain.ErrNotFound
	}
	if !session.Terminal() {
		// Re-prime the cache so the next offer does not hit the database.
		if err := s.cacheSet(ctx, session); err != nil {
			s.log.Warn("session cache reprime failed", zap.Error(err))
		}
	}
	return session, nil
}

func (s *Store) Update(ctx context.Context, id string, mutate func(*domain.NegotiationSession) error) (*domain.NegotiationSession, error) {
	unlock, err := s.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	floorBefore := session.MinimumFloor
	if err := mutate(session); err != nil {
		return nil, err
	}
	if session.ID != id {
		return nil, domain.ErrInvalidState
	}
	// The floor is fixed for the life of the session. A mutation that moves
	// it down is a bug or tampering, never a legitimate transition.
	if session.MinimumFloor < floorBefore {
		return nil, domain.ErrFloorLowered
	}

	session.UpdatedAt = s.clock.Now().UTC()

	if err := s.cacheSet(ctx, session); err != nil {
		return nil, err
	}

	if session.Terminal() || s.redis == nil {
		if err := s.repo.Update(ctx, s.db, session); err != nil {
			return nil, err
		}
		return session, nil
	}

	s.writer.enqueue(session, false)
	return session, nil
}

func (s *Store) acquire(ctx context.Context, id string) (func(), error) {
	if s.locker != nil {
		token, ok, err := s.locker.TryLock(ctx, lockKeyPrefix+id, lockTTL)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, domain.ErrSessionBusy
		}
		return func() {
			if err := s.locker.Release(context.Background(), lockKeyPrefix+id, token); err != nil {
				s.log.Warn("session lock release failed", zap.Error(err))
			}
		}, nil
	}

	s.localMu.Lock()
	mu, ok := s.localLocks[id]
	if !ok {
		mu = &sync.Mutex{}
		s.localLocks[id] = mu
	}
	s.localMu.Unlock()

	if !mu.TryLock() {
		return nil, domain.ErrSessionBusy
	}
	return mu.Unlock, nil
}

func (s *Store) cacheSet(ctx context.Context, session *domain.NegotiationSession) error {
	if s.redis == nil {
		return nil
	}

	raw, err := json.Marshal(session)
	if err != nil {
		return err
	}

	ttl := s.cfg.Negotiation.SessionTTL
	if session.Terminal() {
		// Keep terminal sessions cached long enough for replay, not forever.
		ttl = s.cfg.Negotiation.HoldTTL
	}
	return s.redis.Set(ctx, sessionKeyPrefix+session.ID, raw, ttl).Err()
}

func (s *Store) cacheGet(ctx context.Context, id string) *domain.NegotiationSession {
	if s.redis == nil {
		return nil
	}

	raw, err := s.redis.Get(ctx, sessionKeyPrefix+id).Result()
	if err != nil {
		if err != redis.Nil {
			s.log.Warn("session cache read failed", zap.Error(err))
		}
		return nil
	}

	var session domain.NegotiationSession
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		s.log.Warn("session cache entry corrupt", zap.String("session_id", id), zap.Error(err))
		return nil
	}
	return &session
}
