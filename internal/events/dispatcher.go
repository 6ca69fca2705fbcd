package events

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
)

const (
	defaultDispatchInterval = 15 * time.Second
	defaultDispatchBatch    = 100
)

// Sink receives drained outbox events. The default sink logs them;
// deployments that forward events to a broker swap in their own.
type Sink interface {
	Deliver(ctx context.Context, event StoredEvent) error
}

// LogSink writes each event to the service log.
type LogSink struct {
	Log *zap.Logger
}

func (s LogSink) Deliver(_ context.Context, event StoredEvent) error {
	s.Log.Info("points event",
		zap.String("event_id", event.ID.String()),
		zap.String("event_type", event.EventType),
		zap.Any("payload", map[string]any(event.Payload)),
	)
	return nil
}

// Dispatcher drains the outbox on an interval and hands each pending
// event to the sink, marking it published on success.
type Dispatcher struct {
	outbox   *Outbox
	sink     Sink
	log      *zap.Logger
	interval time.Duration
	batch    int
}

func NewDispatcher(outbox *Outbox, sink Sink, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		outbox:   outbox,
		sink:     sink,
		log:      log.Named("events.dispatcher"),
		interval: defaultDispatchInterval,
		batch:    defaultDispatchBatch,
	}
}

// RunForever drains until ctx is canceled.
func (d *Dispatcher) RunForever(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if _, err := d.RunOnce(ctx); err != nil && ctx.Err() == nil {
			d.log.Warn("outbox drain failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce drains at most one batch and returns how many events it
// delivered. An event whose delivery fails stays pending for the next
// sweep; later events in the batch are still attempted.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	pending, err := d.outbox.Unpublished(ctx, d.batch)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	delivered := pending[:0]
	for _, event := range pending {
		if err := d.sink.Deliver(ctx, event); err != nil {
			d.log.Warn("event delivery failed",
				zap.String("event_id", event.ID.String()),
				zap.String("event_type", event.EventType),
				zap.Error(err),
			)
			continue
		}
		delivered = append(delivered, event)
	}
	if len(delivered) == 0 {
		return 0, nil
	}

	ids := make([]snowflake.ID, 0, len(delivered))
	for _, event := range delivered {
		ids = append(ids, event.ID)
	}
	if err := d.outbox.MarkPublished(ctx, ids); err != nil {
		return 0, err
	}
	return len(delivered), nil
}
