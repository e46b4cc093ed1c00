package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"leadrelay/internal/events"
	"leadrelay/internal/models"
	"leadrelay/internal/outbox"
	"leadrelay/internal/providers"
)

// TypeSendRetry is the outbox event type for deferred re-sends.
const TypeSendRetry = "send_retry"

// Request describes one outbound send. MessageID, when set, points at an
// existing (drafted) message row to update; otherwise the router creates
// the outbound row itself.
type Request struct {
	ThreadID      uint              `json:"threadId"`
	MessageID     uint              `json:"messageId,omitempty"`
	Channel       string            `json:"channel"`
	To            string            `json:"to"`
	Body          string            `json:"body"`
	MediaURLs     []string          `json:"mediaUrls,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CorrelationID string            `json:"correlationId,omitempty"`
}

// DedupeKey lets the outbox index retry events by their natural key.
func (r Request) DedupeKey() string { return r.CorrelationID }

// Router resolves the adapter for a send, invokes it and records the
// outcome: message delivery status, provider health, and a retry event for
// retryable failures.
type Router struct {
	db        *gorm.DB
	queue     *outbox.Queue
	publisher *events.Publisher

	sms       providers.Sender
	email     providers.Sender
	messenger providers.Sender
	dmWebhook providers.Sender
}

func NewRouter(db *gorm.DB, queue *outbox.Queue, publisher *events.Publisher, sms, email, messenger, dmWebhook providers.Sender) *Router {
	return &Router{
		db:        db,
		queue:     queue,
		publisher: publisher,
		sms:       sms,
		email:     email,
		messenger: messenger,
		dmWebhook: dmWebhook,
	}
}

// DMWebhookReady reports whether dm sends will resolve to the generic
// webhook adapter.
func (r *Router) DMWebhookReady() bool {
	return r.dmWebhook != nil && r.dmWebhook.Configured()
}

// adapterFor picks the adapter by channel. The dm channel prefers the
// generic webhook whenever it is configured; the social adapter is the
// fallback.
func (r *Router) adapterFor(channel string) (providers.Sender, error) {
	switch channel {
	case models.ChannelSMS:
		return r.sms, nil
	case models.ChannelEmail:
		return r.email, nil
	case models.ChannelDM:
		if r.dmWebhook != nil && r.dmWebhook.Configured() {
			return r.dmWebhook, nil
		}
		return r.messenger, nil
	default:
		return nil, fmt.Errorf("channel %q has no send adapter", channel)
	}
}

// Deliver performs the send synchronously and records every side effect.
// It never returns a Go error for provider failures; the result value is
// the whole story.
func (r *Router) Deliver(ctx context.Context, req Request) providers.SendResult {
	return r.deliver(ctx, req, true)
}

// deliver runs one send attempt. enqueueRetry is false on the outbox retry
// path, where the event's own backoff schedule governs re-attempts; a fresh
// event there would reset the attempt budget.
func (r *Router) deliver(ctx context.Context, req Request, enqueueRetry bool) providers.SendResult {
	if req.CorrelationID == "" {
		req.CorrelationID = uuid.NewString()
	}

	adapter, err := r.adapterFor(req.Channel)
	if err != nil {
		res := providers.Failure(req.Channel, providers.NotConfigured, fmt.Sprintf("%s_not_configured", req.Channel))
		r.recordMessage(req, res)
		return res
	}

	if req.Channel == models.ChannelEmail {
		if err := providers.ValidateAddress(req.To); err != nil {
			res := providers.Failure(adapter.Name(), providers.Logical, err.Error())
			r.recordMessage(req, res)
			return res
		}
	}

	res := adapter.Send(ctx, req.To, req.Body, req.MediaURLs, req.Metadata)

	r.recordMessage(req, res)
	r.recordHealth(adapter.Name(), res)

	if enqueueRetry && !res.OK && res.Retryable() {
		if _, qerr := r.queue.Enqueue(TypeSendRetry, req); qerr != nil {
			log.Error().Err(qerr).Uint("threadID", req.ThreadID).Msg("Failed to enqueue send retry")
		}
	}

	if r.publisher != nil {
		r.publisher.Publish("delivery_result", map[string]interface{}{
			"threadId":      req.ThreadID,
			"channel":       req.Channel,
			"provider":      res.Provider,
			"ok":            res.OK,
			"kind":          string(res.Kind),
			"detail":        res.Detail,
			"correlationId": req.CorrelationID,
		})
	}

	return res
}

// SentAlready reports whether a prior attempt for the same correlation id
// already went out. Outbox consumers use it to de-duplicate at-least-once
// redeliveries.
func (r *Router) SentAlready(req Request) (bool, error) {
	if req.MessageID != 0 {
		var m models.Message
		if err := r.db.First(&m, req.MessageID).Error; err != nil {
			return false, fmt.Errorf("load message %d: %w", req.MessageID, err)
		}
		return m.DeliveryStatus == models.DeliverySent || m.DeliveryStatus == models.DeliveryDelivered, nil
	}
	if req.CorrelationID == "" {
		return false, nil
	}
	var count int64
	err := r.db.Model(&models.Message{}).
		Where("metadata LIKE ? AND delivery_status IN ?",
			"%"+req.CorrelationID+"%", []string{models.DeliverySent, models.DeliveryDelivered}).
		Count(&count).Error
	return count > 0, err
}

// RetryHandler consumes send_retry outbox events. Idempotent: a replayed
// event whose send already succeeded is completed without a second send.
func (r *Router) RetryHandler(ctx context.Context, ev models.OutboxEvent) error {
	var req Request
	if err := json.Unmarshal([]byte(ev.Payload), &req); err != nil {
		return fmt.Errorf("decode send_retry payload: %w", err)
	}

	sent, err := r.SentAlready(req)
	if err != nil {
		return err
	}
	if sent {
		log.Info().Str("correlationId", req.CorrelationID).Msg("Send already recorded, skipping replayed retry")
		return nil
	}

	res := r.deliver(ctx, req, false)
	if !res.OK && res.Retryable() {
		// Surface the failure so the outbox reschedules this same event on
		// its backoff curve.
		return fmt.Errorf("retry send failed: %s", res.Detail)
	}
	if !res.OK {
		// Permanent failure: stop retrying, the message row records why.
		log.Warn().Str("detail", res.Detail).Uint("threadID", req.ThreadID).Msg("Retry hit a permanent failure, abandoning")
	}
	return nil
}

// recordMessage upserts the message row's delivery outcome. Metadata keeps
// the correlation id so replays can be de-duplicated.
func (r *Router) recordMessage(req Request, res providers.SendResult) {
	status := models.DeliverySent
	if !res.OK {
		status = models.DeliveryFailed
	}

	meta := map[string]string{}
	for k, v := range req.Metadata {
		meta[k] = v
	}
	meta["correlation_id"] = req.CorrelationID
	if res.Detail != "" {
		meta["failure_detail"] = res.Detail
	}
	metaJSON, _ := json.Marshal(meta)

	if req.MessageID != 0 {
		err := r.db.Model(&models.Message{}).
			Where("id = ?", req.MessageID).
			Updates(map[string]interface{}{
				"delivery_status":     status,
				"provider":            res.Provider,
				"provider_message_id": res.ProviderMessageID,
				"metadata":            string(metaJSON),
			}).Error
		if err != nil {
			log.Error().Err(err).Uint("messageID", req.MessageID).Msg("Failed to update message delivery status")
		}
	} else {
		mediaJSON, _ := json.Marshal(req.MediaURLs)
		msg := models.Message{
			ThreadID:          req.ThreadID,
			Direction:         models.DirectionOutbound,
			Channel:           req.Channel,
			Body:              req.Body,
			MediaURLs:         string(mediaJSON),
			DeliveryStatus:    status,
			Provider:          res.Provider,
			ProviderMessageID: res.ProviderMessageID,
			Metadata:          string(metaJSON),
		}
		if err := r.db.Create(&msg).Error; err != nil {
			log.Error().Err(err).Uint("threadID", req.ThreadID).Msg("Failed to create outbound message row")
		}
	}

	now := time.Now().UTC()
	if err := r.db.Model(&models.ConversationThread{}).
		Where("id = ?", req.ThreadID).
		Update("last_message_at", now).Error; err != nil {
		log.Error().Err(err).Uint("threadID", req.ThreadID).Msg("Failed to touch thread activity timestamp")
	}
}

// recordHealth updates the per-provider health row. Last-writer-wins is
// acceptable: this is a monitoring signal.
func (r *Router) recordHealth(provider string, res providers.SendResult) {
	now := time.Now().UTC()
	var h models.ProviderHealth
	if err := r.db.Where(models.ProviderHealth{Provider: provider}).FirstOrCreate(&h).Error; err != nil {
		log.Error().Err(err).Str("provider", provider).Msg("Failed to load provider health row")
		return
	}
	updates := map[string]interface{}{}
	if res.OK {
		updates["last_success_at"] = now
	} else {
		updates["last_failure_at"] = now
		updates["last_failure_detail"] = res.Detail
	}
	if err := r.db.Model(&h).Updates(updates).Error; err != nil {
		log.Error().Err(err).Str("provider", provider).Msg("Failed to update provider health")
	}
}
