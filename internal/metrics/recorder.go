package metrics

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/calder-ai/modelgate/internal/store"
	"github.com/calder-ai/modelgate/internal/store/model"
)

// Recorder handles the asynchronous persistence of stat events. Events
// carry operation metadata only; message content never reaches the
// recorder.
type Recorder interface {
	Record(ev *model.StatEvent)
	Start(ctx context.Context)
	// Close stops intake and waits for the worker to flush what is
	// still queued. Call after Start.
	Close()
}

type recorder struct {
	logger    *zap.Logger
	repo      store.Repository
	events    chan *model.StatEvent
	batchSize int
	flushTime time.Duration

	started bool
	done    chan struct{}
}

func NewRecorder(logger *zap.Logger, repo store.Repository) Recorder {
	return &recorder{
		logger:    logger,
		repo:      repo,
		events:    make(chan *model.StatEvent, 4096),
		batchSize: 64,
		flushTime: 2 * time.Second,
		done:      make(chan struct{}),
	}
}

// Record enqueues an event without blocking. Events are dropped with a
// warning when the buffer is full; stats must never stall a request.
func (r *recorder) Record(ev *model.StatEvent) {
	select {
	case r.events <- ev:
	default:
		r.logger.Warn("Stats buffer full, dropping event",
			zap.String("operation", ev.Operation))
	}
}

func (r *recorder) Start(ctx context.Context) {
	r.started = true
	go r.worker(ctx)
}

func (r *recorder) Close() {
	close(r.events)
	if r.started {
		<-r.done
	}
}

func (r *recorder) worker(ctx context.Context) {
	defer close(r.done)

	batch := make([]model.StatEvent, 0, r.batchSize)
	ticker := time.NewTicker(r.flushTime)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := r.repo.Stats().Insert(context.Background(), batch); err != nil {
			r.logger.Error("Failed to persist stat events",
				zap.Int("count", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case ev, ok := <-r.events:
			if !ok {
				flush()
				return
			}
			batch = append(batch, *ev)
			if len(batch) >= r.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			flush()
			return
		}
	}
}

type nopRecorder struct{}

// NewNopRecorder returns a recorder that discards everything. Used when
// stats persistence is disabled and in tests.
func NewNopRecorder() Recorder { return nopRecorder{} }

func (nopRecorder) Record(*model.StatEvent) {}
func (nopRecorder) Start(context.Context)   {}
func (nopRecorder) Close()                  {}
