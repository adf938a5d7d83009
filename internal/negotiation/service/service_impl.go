package service

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	auditdomain "github.com/tripdeal/bargain/internal/auditlog/domain"
	capsuledomain "github.com/tripdeal/bargain/internal/capsule/domain"
	"github.com/tripdeal/bargain/internal/clock"
	"github.com/tripdeal/bargain/internal/config"
	"github.com/tripdeal/bargain/internal/negotiation/domain"
	obsmetrics "github.com/tripdeal/bargain/internal/observability/metrics"
	offerdomain "github.com/tripdeal/bargain/internal/offer/domain"
	ratedomain "github.com/tripdeal/bargain/internal/ratecontext/domain"
	scoringdomain "github.com/tripdeal/bargain/internal/scoring/domain"
	sessiondomain "github.com/tripdeal/bargain/internal/session/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// floorEpsilon absorbs float rounding when comparing prices to the floor.
const floorEpsilon = 1e-9

type Params struct {
	fx.In

	Cfg         config.Config
	Log         *zap.Logger
	DB          *gorm.DB
	GenID       *snowflake.Node
	Clock       clock.Clock
	Resolver    ratedomain.Resolver
	Store       sessiondomain.Store
	Offers      offerdomain.Engine
	Scoring     scoringdomain.Engine
	Signer      capsuledomain.Signer
	CapsuleRepo capsuledomain.Repository
	Audit       auditdomain.Recorder
	Metrics     *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	cfg         config.Config
	log         *zap.Logger
	db          *gorm.DB
	genID       *snowflake.Node
	clock       clock.Clock
	resolver    ratedomain.Resolver
	store       sessiondomain.Store
	offers      offerdomain.Engine
	scoring     scoringdomain.Engine
	signer      capsuledomain.Signer
	capsuleRepo capsuledomain.Repository
	audit       auditdomain.Recorder
	metrics     *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		cfg:         p.Cfg,
		log:         p.Log.Named("negotiation.service"),
		db:          p.DB,
		genID:       p.GenID,
		clock:       p.Clock,
		resolver:    p.Resolver,
		store:       p.Store,
		offers:      p.Offers,
		scoring:     p.Scoring,
		signer:      p.Signer,
		capsuleRepo: p.CapsuleRepo,
		audit:       p.Audit,
		metrics:     p.Metrics,
	}
}

func (s *Service) Start(ctx context.Context, req domain.StartRequest) (*domain.StartResponse, error) {
	if strings.TrimSpace(req.User.ID) == "" {
		return nil, domain.ErrInvalidBuyer
	}
	if strings.TrimSpace(req.Product) == "" {
		return nil, domain.ErrInvalidProduct
	}
	tier := req.User.Tier
	if tier == "" {
		tier = "standard"
	}

	rate, err := s.resolver.Resolve(ctx, req.Product)
	if err != nil {
		return nil, err
	}

	floor := ceilCents(rate.TrueCost * (1 + s.cfg.Negotiation.MarginRate))

	session := &sessiondomain.NegotiationSession{
		BuyerID:        req.User.ID,
		BuyerTier:      tier,
		DeviceClass:    req.User.Device,
		ProductKey:     rate.ProductKey,
		DisplayedPrice: rate.DisplayedPrice,
		TrueCost:       rate.TrueCost,
		MinimumFloor:   floor,
		Currency:       rate.Currency,
		PromoCode:      req.PromoCode,
		Status:         sessiondomain.StatusActive,
	}

	candidates, err := s.offers.BuildFeasibleSet(ctx, session)
	if err != nil {
		return nil, err
	}
	scored := s.scoring.ScoreCandidates(candidates, session, nil)
	best, err := s.scoring.PickBest(scored)
	if err != nil {
		return nil, err
	}
	if err := s.guardFloor(ctx, session, best.Price); err != nil {
		return nil, err
	}

	session.InitialOffer = best.Price
	session.CurrentOffer = best.Price

	if err := s.store.Create(ctx, session); err != nil {
		return nil, err
	}

	capsule, err := s.signCapsule(ctx, session.ID, map[string]any{
		"session_id":      session.ID,
		"buyer_id":        session.BuyerID,
		"product_key":     session.ProductKey,
		"displayed_price": session.DisplayedPrice,
		"initial_offer":   session.InitialOffer,
		"min_floor":       session.MinimumFloor,
		"currency":        session.Currency,
		"created_at":      session.CreatedAt,
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, &auditdomain.NegotiationEvent{
		SessionID:        session.ID,
		EventType:        auditdomain.EventSessionStarted,
		CounterPrice:     &session.InitialOffer,
		TrueCostSnapshot: session.TrueCost,
	})
	s.metrics.RecordSessionStarted(ctx, session.BuyerTier)

	return &domain.StartResponse{
		SessionID: session.ID,
		InitialOffer: domain.OfferView{
			Price:       session.InitialOffer,
			Explanation: fmt.Sprintf("We can start at %.2f", session.InitialOffer),
		},
		MinFloor: session.MinimumFloor,
		Explain: []string{
			fmt.Sprintf("Listed price is %.2f %s", session.DisplayedPrice, session.Currency),
			"Make an offer, or ask us for our best counter",
		},
		SafetyCapsule: capsule,
	}, nil
}

func (s *Service) Offer(ctx context.Context, req domain.OfferRequest) (*domain.OfferResponse, error) {
	if strings.TrimSpace(req.SessionID) == "" {
		return nil, domain.ErrInvalidSessionID
	}
	if req.UserOffer != nil && (*req.UserOffer <= 0 || math.IsNaN(*req.UserOffer) || math.IsInf(*req.UserOffer, 0)) {
		return nil, domain.ErrInvalidOffer
	}

	var (
		resp    *domain.OfferResponse
		event   *auditdomain.NegotiationEvent
		expired bool
	)

	session, err := s.store.Update(ctx, req.SessionID, func(session *sessiondomain.NegotiationSession) error {
		if done, err := s.checkLiveness(session); err != nil {
			return err
		} else if done {
			expired = true
			return nil
		}

		decision, err := s.decide(ctx, session, req)
		if err != nil {
			return err
		}
		resp = decision.response
		event = decision.event
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		s.recordExpiry(ctx, session)
		return nil, domain.ErrSessionExpired
	}

	if resp.Decision == domain.DecisionAccept {
		// Signed after the terminal state committed and the lock released.
		// If the capsule insert fails here the accept itself stands; the
		// buyer retries through Accept, which re-signs from the stored
		// FinalPrice.
		capsule, err := s.signCapsule(ctx, session.ID, map[string]any{
			"session_id":  session.ID,
			"final_price": *session.FinalPrice,
			"currency":    session.Currency,
			"accepted_at": session.UpdatedAt,
		})
		if err != nil {
			return nil, err
		}
		resp.SafetyCapsule = capsule
	} else {
		// Counter and reject responses carry the session-start capsule.
		capsule, err := s.capsuleRepo.LatestBySession(ctx, s.db, session.ID)
		if err == nil {
			resp.SafetyCapsule = capsule
		}
	}

	s.audit.Record(ctx, event)
	s.metrics.RecordDecision(ctx, resp.Decision)
	return resp, nil
}

type decisionOutcome struct {
	response *domain.OfferResponse
	event    *auditdomain.NegotiationEvent
}

// decide applies the transition rules to an active session. It runs under
// the store's per-session lock; mutations it makes are persisted by Update.
func (s *Service) decide(ctx context.Context, session *sessiondomain.NegotiationSession, req domain.OfferRequest) (*decisionOutcome, error) {
	mergeSignals(session, req.Signals)

	// The floor itself is validated before any price is surfaced, whatever
	// the engines claim about candidates.
	if err := s.guardFloor(ctx, session, session.MinimumFloor); err != nil {
		return nil, err
	}

	if req.UserOffer != nil {
		offer := *req.UserOffer

		if offer >= session.MinimumFloor-floorEpsilon &&
			offer-session.TrueCost >= s.cfg.Negotiation.MinAbsoluteProfit-floorEpsilon {
			return s.acceptOffer(ctx, session, offer)
		}

		if offer < session.MinimumFloor-floorEpsilon {
			return s.rejectOffer(session, offer)
		}
		// Offer is at or above the floor but the absolute profit is too
		// thin: counter instead of closing at a near-zero margin.
	}

	return s.counterOffer(ctx, session, req)
}

func (s *Service) acceptOffer(ctx context.Context, session *sessiondomain.NegotiationSession, offer float64) (*decisionOutcome, error) {
	if err := s.guardFloor(ctx, session, offer); err != nil {
		return nil, err
	}

	session.Status = sessiondomain.StatusAccepted
	session.CurrentOffer = offer
	session.FinalPrice = &offer

	prob := 1.0
	buyerOffer := offer
	return &decisionOutcome{
		response: &domain.OfferResponse{
			Decision:   domain.DecisionAccept,
			MinFloor:   session.MinimumFloor,
			Explain:    []string{fmt.Sprintf("Your offer of %.2f is accepted", offer)},
			AcceptProb: &prob,
		},
		event: &auditdomain.NegotiationEvent{
			SessionID:        session.ID,
			EventType:        auditdomain.EventOfferAccepted,
			BuyerOffer:       &buyerOffer,
			Accepted:         true,
			TrueCostSnapshot: session.TrueCost,
			Signals:          session.Signals,
		},
	}, nil
}

func (s *Service) rejectOffer(session *sessiondomain.NegotiationSession, offer float64) (*decisionOutcome, error) {
	session.Status = sessiondomain.StatusRejected

	prob := 0.0
	buyerOffer := offer
	return &decisionOutcome{
		response: &domain.OfferResponse{
			Decision:   domain.DecisionReject,
			MinFloor:   session.MinimumFloor,
			Explain:    []string{fmt.Sprintf("We cannot go as low as %.2f", offer)},
			AcceptProb: &prob,
		},
		event: &auditdomain.NegotiationEvent{
			SessionID:        session.ID,
			EventType:        auditdomain.EventOfferRejected,
			BuyerOffer:       &buyerOffer,
			TrueCostSnapshot: session.TrueCost,
			Signals:          session.Signals,
		},
	}, nil
}

func (s *Service) counterOffer(ctx context.Context, session *sessiondomain.NegotiationSession, req domain.OfferRequest) (*decisionOutcome, error) {
	candidates, err := s.offers.BuildFeasibleSet(ctx, session)
	if err != nil {
		return nil, err
	}
	scored := s.scoring.ScoreCandidates(candidates, session, scoringdomain.Signals(req.Signals))
	best, err := s.scoring.PickBest(scored)
	if err != nil {
		// No feasible counter exists: the session is non-negotiable.
		return s.rejectOffer(session, valueOrZero(req.UserOffer))
	}

	if err := s.guardFloor(ctx, session, best.Price); err != nil {
		return nil, err
	}

	session.CurrentOffer = best.Price

	counter := best.Price
	prob := best.AcceptProb
	explain := []string{fmt.Sprintf("We can do %.2f", counter)}
	if req.UserOffer != nil {
		explain = append([]string{fmt.Sprintf("%.2f is close, but not quite enough", *req.UserOffer)}, explain...)
	}

	return &decisionOutcome{
		response: &domain.OfferResponse{
			Decision:     domain.DecisionCounter,
			MinFloor:     session.MinimumFloor,
			Explain:      explain,
			CounterOffer: &counter,
			AcceptProb:   &prob,
		},
		event: &auditdomain.NegotiationEvent{
			SessionID:        session.ID,
			EventType:        auditdomain.EventCounterIssued,
			BuyerOffer:       req.UserOffer,
			CounterPrice:     &counter,
			TrueCostSnapshot: session.TrueCost,
			Signals:          session.Signals,
		},
	}, nil
}

func (s *Service) Accept(ctx context.Context, req domain.AcceptRequest) (*domain.AcceptResponse, error) {
	if strings.TrimSpace(req.SessionID) == "" {
		return nil, domain.ErrInvalidSessionID
	}

	var (
		final   float64
		expired bool
	)

	session, err := s.store.Update(ctx, req.SessionID, func(session *sessiondomain.NegotiationSession) error {
		switch session.Status {
		case sessiondomain.StatusRejected:
			return domain.ErrSessionClosed
		case sessiondomain.StatusExpired:
			return domain.ErrSessionExpired
		case sessiondomain.StatusAccepted:
			// Already accepted via the offer path; finalize at that price.
			if session.FinalPrice == nil {
				return sessiondomain.ErrInvalidState
			}
			final = *session.FinalPrice
		case sessiondomain.StatusActive:
			if s.clock.Now().After(session.ExpiresAt) {
				session.Status = sessiondomain.StatusExpired
				expired = true
				return nil
			}
			final = session.CurrentOffer
		default:
			return sessiondomain.ErrInvalidState
		}

		// The product must still be purchasable at a cost the stored floor
		// covers. A supplier cost increase since session start voids the
		// agreed price.
		if rate, rerr := s.resolver.Resolve(ctx, session.ProductKey); rerr == nil {
			requiredFloor := rate.TrueCost * (1 + s.cfg.Negotiation.MarginRate)
			if session.MinimumFloor < requiredFloor-floorEpsilon {
				return domain.ErrInventoryChanged
			}
		} else {
			s.log.Warn("rate re-validation unavailable at accept, proceeding on stored snapshot",
				zap.String("session_id", session.ID),
				zap.Error(rerr),
			)
		}

		if err := s.guardFloor(ctx, session, final); err != nil {
			return err
		}

		session.Status = sessiondomain.StatusAccepted
		session.FinalPrice = &final
		session.CurrentOffer = final
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		s.recordExpiry(ctx, session)
		return nil, domain.ErrSessionExpired
	}

	now := s.clock.Now().UTC()
	payload := domain.PaymentPayload{
		SessionID:        session.ID,
		FinalPrice:       final,
		Currency:         session.Currency,
		ProductDetails:   session.ProductKey,
		BookingReference: ulid.Make().String(),
		ExpiresAt:        now.Add(s.cfg.Negotiation.HoldTTL),
	}

	if _, err := s.signCapsule(ctx, session.ID, map[string]any{
		"session_id":        session.ID,
		"final_price":       final,
		"currency":          session.Currency,
		"booking_reference": payload.BookingReference,
		"accepted_at":       now,
	}); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, &auditdomain.NegotiationEvent{
		SessionID:        session.ID,
		EventType:        auditdomain.EventOfferAccepted,
		BuyerOffer:       &final,
		Accepted:         true,
		TrueCostSnapshot: session.TrueCost,
	})
	s.metrics.RecordDecision(ctx, domain.DecisionAccept)

	return &domain.AcceptResponse{PaymentPayload: payload}, nil
}

func (s *Service) Replay(ctx context.Context, sessionID string) (*domain.ReplayResponse, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, domain.ErrInvalidSessionID
	}

	session, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	events, err := s.audit.List(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	capsule, err := s.capsuleRepo.LatestBySession(ctx, s.db, sessionID)
	if err != nil {
		return nil, err
	}

	return &domain.ReplayResponse{
		Session:        session,
		Events:         events,
		Capsule:        capsule,
		SignatureValid: capsule != nil && s.signer.Verify(capsule),
	}, nil
}

// guardFloor is the mandatory never-loss check: the stored floor must still
// cover cost plus margin, and the price about to be surfaced must clear the
// floor. It does not trust the engines that produced the price.
func (s *Service) guardFloor(ctx context.Context, session *sessiondomain.NegotiationSession, price float64) error {
	requiredFloor := session.TrueCost * (1 + s.cfg.Negotiation.MarginRate)

	if session.MinimumFloor < requiredFloor-1e-6 {
		s.log.Error("never-loss guard: stored floor below required floor",
			zap.String("session_id", session.ID),
			zap.Float64("minimum_floor", session.MinimumFloor),
			zap.Float64("required_floor", requiredFloor),
		)
		s.metrics.RecordNeverLossViolation(ctx, "floor_corrupted")
		return domain.ErrNeverLossViolation
	}

	if price < session.MinimumFloor-floorEpsilon {
		s.log.Error("never-loss guard: price below floor",
			zap.String("session_id", session.ID),
			zap.Float64("price", price),
			zap.Float64("minimum_floor", session.MinimumFloor),
		)
		s.metrics.RecordNeverLossViolation(ctx, "price_below_floor")
		return domain.ErrNeverLossViolation
	}

	return nil
}

// checkLiveness reports expiry. done=true means the mutation should commit
// the expired status and the caller returns ErrSessionExpired afterwards.
func (s *Service) checkLiveness(session *sessiondomain.NegotiationSession) (done bool, err error) {
	switch session.Status {
	case sessiondomain.StatusExpired:
		return false, domain.ErrSessionExpired
	case sessiondomain.StatusAccepted, sessiondomain.StatusRejected:
		return false, domain.ErrSessionClosed
	}

	if s.clock.Now().After(session.ExpiresAt) {
		session.Status = sessiondomain.StatusExpired
		return true, nil
	}
	return false, nil
}

func (s *Service) recordExpiry(ctx context.Context, session *sessiondomain.NegotiationSession) {
	if session == nil {
		return
	}
	s.audit.Record(ctx, &auditdomain.NegotiationEvent{
		SessionID:        session.ID,
		EventType:        auditdomain.EventSessionExpired,
		TrueCostSnapshot: session.TrueCost,
	})
}

func (s *Service) signCapsule(ctx context.Context, sessionID string, payload map[string]any) (*capsuledomain.Capsule, error) {
	capsule, err := s.signer.Sign(sessionID, payload)
	if err != nil {
		return nil, err
	}
	capsule.ID = s.genID.Generate()
	if err := s.capsuleRepo.Insert(ctx, s.db, capsule); err != nil {
		return nil, err
	}
	return capsule, nil
}

func mergeSignals(session *sessiondomain.NegotiationSession, signals map[string]any) {
	if len(signals) == 0 {
		return
	}
	if session.Signals == nil {
		session.Signals = datatypes.JSONMap{}
	}
	for k, v := range signals {
		session.Signals[k] = v
	}
}

// ceilCents rounds up to the next cent; the floor must never round down.
func ceilCents(v float64) float64 {
	return math.Ceil(v*100-1e-9) / 100
}

func valueOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
