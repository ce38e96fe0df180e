package outbox

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/healthlink/healthlink/internal/platform/metrics"
)

// Handler receives each pending entry. A nil error marks it delivered.
type Handler interface {
	Handle(ctx context.Context, entry Entry) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, entry Entry) error

func (f HandlerFunc) Handle(ctx context.Context, entry Entry) error { return f(ctx, entry) }

// Deliverer polls the outbox and hands entries to a Handler.
type Deliverer struct {
	store     *Store
	handler   Handler
	logger    zerolog.Logger
	metrics   *metrics.WorkflowMetrics
	batchSize int32
	interval  time.Duration
}

func NewDeliverer(store *Store, handler Handler, logger zerolog.Logger) *Deliverer {
	return &Deliverer{
		store:     store,
		handler:   handler,
		logger:    logger,
		batchSize: 25,
		interval:  2 * time.Second,
	}
}

func (d *Deliverer) WithBatchSize(size int32) *Deliverer {
	if size > 0 {
		d.batchSize = size
	}
	return d
}

func (d *Deliverer) WithInterval(interval time.Duration) *Deliverer {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

func (d *Deliverer) WithMetrics(m *metrics.WorkflowMetrics) *Deliverer {
	d.metrics = m
	return d
}

// Start drains the outbox every interval until ctx is cancelled.
func (d *Deliverer) Start(ctx context.Context) {
	if d.store == nil || d.handler == nil {
		return
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Drain(ctx)
		}
	}
}

// Drain delivers one batch and returns how many entries were delivered.
func (d *Deliverer) Drain(ctx context.Context) int {
	entries, err := d.store.ClaimPending(ctx, d.batchSize)
	if err != nil {
		d.logger.Error().Err(err).Msg("outbox claim failed")
		return 0
	}

	delivered := 0
	for _, entry := range entries {
		if err := d.handler.Handle(ctx, entry); err != nil {
			d.metrics.ObserveEvent(entry.Type, "failed")
			d.logger.Error().Err(err).Str("event_id", entry.ID.String()).Str("type", entry.Type).Msg("outbox delivery failed")
			if err := d.store.MarkFailed(ctx, entry.ID, err); err != nil {
				d.logger.Error().Err(err).Str("event_id", entry.ID.String()).Msg("failed to record outbox failure")
			}
			continue
		}
		ok, err := d.store.MarkDelivered(ctx, entry.ID)
		if err != nil {
			d.logger.Error().Err(err).Str("event_id", entry.ID.String()).Msg("failed to mark outbox delivered")
			continue
		}
		if ok {
			delivered++
			d.metrics.ObserveEvent(entry.Type, "delivered")
			d.logger.Debug().Str("event_id", entry.ID.String()).Str("type", entry.Type).Msg("outbox delivered")
		}
	}
	return delivered
}
