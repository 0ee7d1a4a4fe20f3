// Package activity records human-readable audit entries for back-office
// actions. Recording is best-effort: callers never see a failure.
package activity

import (
	"context"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Subject types.
const (
	SubjectOrder   = "order"
	SubjectPayment = "payment"
)

// Entry is one audit log record.
type Entry struct {
	SubjectType string
	SubjectID   int64
	// ActorID is the back-office user who performed the action, if known.
	ActorID     *int64
	Description string
	CreatedAt   time.Time
}

// Recorder accepts entries without reporting failures.
type Recorder interface {
	Record(ctx context.Context, e Entry)
}

// Store persists entries.
type Store interface {
	InsertActivity(ctx context.Context, e Entry) error
}

// Queue is an asynchronous Recorder backed by a bounded buffer drained by
// Run. When the buffer is full, entries are dropped and logged.
type Queue struct {
	store   Store
	entries chan queued
	now     func() time.Time
}

type queued struct {
	entry Entry
	lg    *zap.Logger
}

// NewQueue creates a Queue with the given buffer size.
func NewQueue(store Store, size int) *Queue {
	if size <= 0 {
		size = 1
	}
	return &Queue{
		store:   store,
		entries: make(chan queued, size),
		now:     time.Now,
	}
}

// Record enqueues e without blocking.
func (q *Queue) Record(ctx context.Context, e Entry) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = q.now()
	}
	lg := zctx.From(ctx)
	select {
	case q.entries <- queued{entry: e, lg: lg}:
	default:
		lg.Warn("Activity queue full, dropping entry",
			zap.String("subject_type", e.SubjectType),
			zap.Int64("subject_id", e.SubjectID),
		)
	}
}

// Run writes queued entries until ctx is cancelled, then flushes what is
// already buffered. It always returns nil.
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case item := <-q.entries:
			q.write(context.WithoutCancel(ctx), item)
		case <-ctx.Done():
			q.drain(context.WithoutCancel(ctx))
			return nil
		}
	}
}

func (q *Queue) drain(ctx context.Context) {
	for {
		select {
		case item := <-q.entries:
			q.write(ctx, item)
		default:
			return
		}
	}
}

func (q *Queue) write(ctx context.Context, item queued) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := q.store.InsertActivity(ctx, item.entry); err != nil {
		item.lg.Error("Activity logging failed",
			zap.String("subject_type", item.entry.SubjectType),
			zap.Int64("subject_id", item.entry.SubjectID),
			zap.Error(err),
		)
	}
}
