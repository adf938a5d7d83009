package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/tripdeal/bargain/internal/auditlog/domain"
	"github.com/tripdeal/bargain/internal/clock"
	"github.com/tripdeal/bargain/internal/config"
	obsmetrics "github.com/tripdeal/bargain/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Cfg     config.Config
	Log     *zap.Logger
	DB      *gorm.DB
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    domain.Repository
	Metrics *obsmetrics.Metrics `optional:"true"`
}

// Recorder buffers events on a bounded channel and batch-inserts them in the
// background. Losing events under pressure degrades observability only; it
// never fails a negotiation.
type Recorder struct {
	cfg     config.Config
	log     *zap.Logger
	db      *gorm.DB
	genID   *snowflake.Node
	clock   clock.Clock
	repo    domain.Repository
	metrics *obsmetrics.Metrics

	events chan *domain.NegotiationEvent
	doneCh chan struct{}
}

func New(lc fx.Lifecycle, p Params) domain.Recorder {
	queueSize := p.Cfg.Audit.QueueSize
	if queueSize <= 0 {
		queueSize = 1024
	}

	r := &Recorder{
		cfg:     p.Cfg,
		log:     p.Log.Named("auditlog.service"),
		db:      p.DB,
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		metrics: p.Metrics,
		events:  make(chan *domain.NegotiationEvent, queueSize),
		doneCh:  make(chan struct{}),
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())
			go r.run(ctx)

			lc.Append(fx.Hook{
				OnStop: func(stopCtx context.Context) error {
					cancel()
					select {
					case <-r.doneCh:
					case <-stopCtx.Done():
					}
					return nil
				},
			})
			return nil
		},
	})

	return r
}

func (r *Recorder) Record(ctx context.Context, event *domain.NegotiationEvent) {
	if event == nil {
		return
	}
	if event.ID == 0 {
		event.ID = r.genID.Generate()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = r.clock.Now().UTC()
	}
	if event.Signals == nil {
		event.Signals = datatypes.JSONMap{}
	}

	select {
	case r.events <- event:
	default:
		r.metrics.RecordAuditDropped(ctx, "queue_full")
		r.log.Warn("audit queue full, dropping event",
			zap.String("session_id", event.SessionID),
			zap.String("event_type", event.EventType),
		)
	}
}

func (r *Recorder) List(ctx context.Context, sessionID string) ([]*domain.NegotiationEvent, error) {
	return r.repo.ListBySession(ctx, r.db, sessionID)
}

func (r *Recorder) run(ctx context.Context) {
	defer close(r.doneCh)

	flushEvery := r.cfg.Audit.FlushTimeout
	if flushEvery <= 0 {
		flushEvery = 5 * time.Second
	}
	batchSize := r.cfg.Audit.BatchSize
	if batchSize <= 0 {
		batchSize = 64
	}

	ticker := time.NewTicker(flushEvery)
	defer ticker.Stop()

	batch := make([]*domain.NegotiationEvent, 0, batchSize)
	for {
		select {
		case event := <-r.events:
			batch = append(batch, event)
			if len(batch) >= batchSize {
				batch = r.flush(batch)
			}
		case <-ticker.C:
			batch = r.flush(batch)
		case <-ctx.Done():
			// Final drain so shutdown does not silently discard the tail.
			for {
				select {
				case event := <-r.events:
					batch = append(batch, event)
				default:
					r.flush(batch)
					return
				}
			}
		}
	}
}

func (r *Recorder) flush(batch []*domain.NegotiationEvent) []*domain.NegotiationEvent {
	if len(batch) == 0 {
		return batch
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.repo.InsertBatch(ctx, r.db, batch); err != nil {
		r.metrics.RecordAuditDropped(ctx, "insert_failed")
		r.log.Error("audit batch insert failed",
			zap.Int("batch_size", len(batch)),
			zap.Error(err),
		)
		return batch[:0]
	}

	r.metrics.RecordAuditWritten(ctx, len(batch))
	return batch[:0]
}
