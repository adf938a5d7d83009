package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/tripdeal/bargain/internal/config"
	obsmetrics "github.com/tripdeal/bargain/internal/observability/metrics"
	ratedomain "github.com/tripdeal/bargain/internal/ratecontext/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const cacheKeyFormat = "rate:ctx:%s"

type Params struct {
	fx.In

	Cfg     config.Config
	Log     *zap.Logger
	Redis   *redis.Client
	Source  ratedomain.QuoteSource
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	cfg     config.Config
	log     *zap.Logger
	redis   *redis.Client
	source  ratedomain.QuoteSource
	metrics *obsmetrics.Metrics
}

func New(p Params) ratedomain.Resolver {
	return &Service{
		cfg:     p.Cfg,
		log:     p.Log.Named("ratecontext.service"),
		redis:   p.Redis,
		source:  p.Source,
		metrics: p.Metrics,
	}
}

func (s *Service) Resolve(ctx context.Context, productKey string) (*ratedomain.RateContext, error) {
	productKey = strings.TrimSpace(productKey)
	if productKey == "" {
		return nil, ratedomain.ErrInvalidProduct
	}

	if cached := s.fromCache(ctx, productKey); cached != nil {
		s.metrics.RecordRateCacheHit(ctx)
		return cached, nil
	}
	s.metrics.RecordRateCacheMiss(ctx)

	quoteCtx, cancel := context.WithTimeout(ctx, s.cfg.Resolver.QuoteTimeout)
	defer cancel()

	rc, err := s.source.Quote(quoteCtx, productKey)
	if err != nil {
		s.log.Warn("quote source failed",
			zap.String("product_key", productKey),
			zap.Error(err),
		)
		return nil, ratedomain.ErrQuoteUnavailable
	}

	if err := validate(rc); err != nil {
		s.log.Error("quote source returned invalid rate context",
			zap.String("product_key", productKey),
			zap.Error(err),
		)
		return nil, err
	}

	s.toCache(ctx, productKey, rc)
	return rc, nil
}

func validate(rc *ratedomain.RateContext) error {
	if rc == nil {
		return ratedomain.ErrInvalidQuote
	}
	// A zero or negative true cost would collapse the floor; treat it as a
	// resolver failure rather than letting it reach the decision machine.
	if rc.TrueCost <= 0 {
		return ratedomain.ErrInvalidQuote
	}
	if rc.DisplayedPrice < rc.TrueCost {
		return ratedomain.ErrInvalidQuote
	}
	return nil
}

func (s *Service) fromCache(ctx context.Context, productKey string) *ratedomain.RateContext {
	if s.redis == nil {
		return nil
	}

	raw, err := s.redis.Get(ctx, fmt.Sprintf(cacheKeyFormat, productKey)).Result()
	if err != nil {
		if err != redis.Nil {
			s.log.Warn("rate context cache read failed", zap.Error(err))
		}
		return nil
	}

	var rc ratedomain.RateContext
	if err := json.Unmarshal([]byte(raw), &rc); err != nil {
		s.log.Warn("rate context cache entry corrupt", zap.Error(err))
		return nil
	}
	if validate(&rc) != nil {
		return nil
	}
	return &rc
}

func (s *Service) toCache(ctx context.Context, productKey string, rc *ratedomain.RateContext) {
	if s.redis == nil {
		return
	}

	raw, err := json.Marshal(rc)
	if err != nil {
		return
	}
	if err := s.redis.Set(ctx, fmt.Sprintf(cacheKeyFormat, productKey), raw, s.cfg.Resolver.CacheTTL).Err(); err != nil {
		s.log.Warn("rate context cache write failed", zap.Error(err))
	}
}
