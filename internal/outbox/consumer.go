package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"leadrelay/internal/models"
)

// Handler processes one claimed event. Handlers must be idempotent: the
// same event may be delivered more than once under crash-restart semantics.
type Handler func(ctx context.Context, ev models.OutboxEvent) error

// Consumer drains the queue on a schedule. Dispatch is synchronous per
// sweep; concurrency safety comes from the queue's atomic claims, so
// multiple consumers (or instances) can run the same sweep.
type Consumer struct {
	queue    *Queue
	handlers map[string]Handler
	cron     *cron.Cron
	batch    int
}

func NewConsumer(q *Queue) *Consumer {
	return &Consumer{
		queue:    q,
		handlers: make(map[string]Handler),
		cron:     cron.New(),
		batch:    50,
	}
}

// Handle registers the handler for an event type. Unregistered types fail
// their attempts and age out on the backoff curve.
func (c *Consumer) Handle(eventType string, h Handler) {
	c.handlers[eventType] = h
}

// Start schedules a sweep every minute and runs one immediately.
func (c *Consumer) Start() error {
	if _, err := c.cron.AddFunc("* * * * *", func() { c.Sweep(context.Background()) }); err != nil {
		return fmt.Errorf("schedule outbox sweep: %w", err)
	}
	c.cron.Start()
	go c.Sweep(context.Background())
	log.Info().Int("handlers", len(c.handlers)).Msg("Outbox consumer started")
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (c *Consumer) Stop() {
	ctx := c.cron.Stop()
	<-ctx.Done()
}

// Sweep claims due events and dispatches them.
func (c *Consumer) Sweep(ctx context.Context) {
	events, err := c.queue.ClaimDue(time.Now().UTC(), c.batch)
	if err != nil {
		log.Error().Err(err).Msg("Outbox sweep failed to claim events")
		return
	}
	for _, ev := range events {
		c.dispatch(ctx, ev)
	}
	if len(events) > 0 {
		log.Debug().Int("count", len(events)).Msg("Outbox sweep processed events")
	}
}

func (c *Consumer) dispatch(ctx context.Context, ev models.OutboxEvent) {
	h, ok := c.handlers[ev.Type]
	if !ok {
		if err := c.queue.Fail(&ev, fmt.Errorf("no handler registered for type %q", ev.Type)); err != nil {
			log.Error().Err(err).Uint("eventID", ev.ID).Msg("Failed to record missing-handler failure")
		}
		return
	}

	if err := h(ctx, ev); err != nil {
		log.Warn().Err(err).Uint("eventID", ev.ID).Str("type", ev.Type).Int("attempts", ev.Attempts+1).
			Msg("Outbox handler failed, scheduling retry")
		if ferr := c.queue.Fail(&ev, err); ferr != nil {
			log.Error().Err(ferr).Uint("eventID", ev.ID).Msg("Failed to record handler failure")
		}
		return
	}

	if err := c.queue.Complete(ev.ID); err != nil {
		log.Error().Err(err).Uint("eventID", ev.ID).Msg("Failed to mark outbox event processed")
	}
}
