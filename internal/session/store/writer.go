package store

import (
	"context"
	"time"

	"github.com/tripdeal/bargain/internal/session/domain"
	"github.com/tripdeal/bargain/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type writeOp struct {
	session *domain.NegotiationSession
	insert  bool
}

// durableWriter drains session snapshots to the relational store off the
// request path. Terminal transitions bypass it and are written inline.
type durableWriter struct {
	db   *gorm.DB
	repo domain.Repository
	log  *zap.Logger

	ops    chan writeOp
	doneCh chan struct{}
}

func newDurableWriter(db *gorm.DB, repo domain.Repository, log *zap.Logger, queueSize int) *durableWriter {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &durableWriter{
		db:     db,
		repo:   repo,
		log:    log.Named("session.writer"),
		ops:    make(chan writeOp, queueSize),
		doneCh: make(chan struct{}),
	}
}

// enqueue hands a snapshot to the writer. The queue is bounded; when it is
// full the snapshot is dropped because the fast cache already holds the
// current state and a later transition will re-enqueue it.
func (w *durableWriter) enqueue(session *domain.NegotiationSession, insert bool) {
	snapshot := *session
	select {
	case w.ops <- writeOp{session: &snapshot, insert: insert}:
	default:
		w.log.Warn("session write queue full, dropping snapshot",
			zap.String("session_id", session.ID),
			zap.String("status", session.Status),
		)
	}
}

func (w *durableWriter) run(ctx context.Context) {
	defer close(w.doneCh)
	for {
		select {
		case op := <-w.ops:
			w.apply(op)
		case <-ctx.Done():
			w.drain()
			return
		}
	}
}

// drain flushes whatever is still queued at shutdown.
func (w *durableWriter) drain() {
	for {
		select {
		case op := <-w.ops:
			w.apply(op)
		default:
			return
		}
	}
}

func (w *durableWriter) apply(op writeOp) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	if op.insert {
		err = w.repo.Insert(ctx, w.db, op.session)
		if db.IsDuplicateKeyErr(err) {
			// The row landed on an earlier attempt; the next update op
			// carries the current state.
			err = nil
		}
	} else {
		err = w.repo.Update(ctx, w.db, op.session)
	}
	if err != nil {
		w.log.Error("session durable write failed",
			zap.String("session_id", op.session.ID),
			zap.Bool("insert", op.insert),
			zap.Error(err),
		)
	}
}
