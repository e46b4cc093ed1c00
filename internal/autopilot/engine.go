package autopilot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"leadrelay/internal/delivery"
	"leadrelay/internal/models"
	"leadrelay/internal/outbox"
	"leadrelay/internal/providers"
	"leadrelay/internal/thread"
)

// TypeRecheck is the outbox event type for deferred re-evaluations.
const TypeRecheck = "autopilot_recheck"

// Deliverer is the slice of the delivery router the engine needs.
type Deliverer interface {
	Deliver(ctx context.Context, req delivery.Request) providers.SendResult
	// DMWebhookReady reports whether dm sends resolve to the generic
	// webhook adapter, which ignores the platform messaging window.
	DMWebhookReady() bool
}

// Engine loads the automation context at the boundary, runs the pure
// evaluation and applies its side effects: auto-sending eligible drafts,
// flagging expired DM threads and enqueueing deferred rechecks.
type Engine struct {
	db       *gorm.DB
	queue    *outbox.Queue
	router   Deliverer
	threads  *thread.Store
	loc      *time.Location
	defaults Policy
	quietFor func(channel string) string
}

func NewEngine(db *gorm.DB, queue *outbox.Queue, router Deliverer, loc *time.Location, defaults Policy, quietFor func(channel string) string) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	if quietFor == nil {
		quietFor = func(string) string { return "" }
	}
	return &Engine{db: db, queue: queue, router: router, threads: thread.NewStore(db), loc: loc, defaults: defaults, quietFor: quietFor}
}

// RecheckPayload is the outbox payload for a deferred evaluation.
type RecheckPayload struct {
	ThreadID  uint `json:"threadId"`
	MessageID uint `json:"messageId"`
}

// DedupeKey keys recheck events on the draft they evaluate.
func (p RecheckPayload) DedupeKey() string {
	return fmt.Sprintf("recheck:%d:%d", p.ThreadID, p.MessageID)
}

// EvaluateDraft evaluates a pending drafted reply and applies the decision.
// Eligible drafts are sent immediately (escalated to SMS when proposed and
// the DM window is gone); deferred decisions schedule a recheck on the
// outbox rather than busy-polling.
func (e *Engine) EvaluateDraft(ctx context.Context, threadID, messageID uint) (Decision, error) {
	var t models.ConversationThread
	if err := e.db.First(&t, threadID).Error; err != nil {
		return Decision{}, fmt.Errorf("load thread %d: %w", threadID, err)
	}
	var draft models.Message
	if err := e.db.First(&draft, messageID).Error; err != nil {
		return Decision{}, fmt.Errorf("load draft %d: %w", messageID, err)
	}
	if draft.Direction != models.DirectionOutbound || draft.DeliveryStatus != models.DeliveryQueued {
		// Already sent, failed or not a draft; nothing left to decide.
		return blocked("not_a_pending_draft"), nil
	}
	var contact models.Contact
	if err := e.db.First(&contact, t.ContactID).Error; err != nil {
		return Decision{}, fmt.Errorf("load contact %d: %w", t.ContactID, err)
	}

	actx, err := e.buildContext(t, draft, contact)
	if err != nil {
		return Decision{}, err
	}

	now := time.Now().UTC()
	d := Evaluate(actx, now)

	log.Info().
		Uint("threadID", threadID).
		Uint("messageID", messageID).
		Str("channel", t.Channel).
		Str("outcome", string(d.Outcome)).
		Str("reason", d.Reason).
		Bool("escalateToSMS", d.EscalateToSMS).
		Msg("Autopilot evaluated draft")

	switch d.Outcome {
	case OutcomeDeferred:
		next := d.NextCheckAt
		if _, err := e.queue.EnqueueAt(TypeRecheck, RecheckPayload{ThreadID: threadID, MessageID: messageID}, &next); err != nil {
			return d, fmt.Errorf("enqueue autopilot recheck: %w", err)
		}
	case OutcomeBlocked:
		if d.Reason == ReasonDMWindowExpired {
			if err := e.threads.MarkExpired(threadID); err != nil {
				log.Error().Err(err).Uint("threadID", threadID).Msg("Failed to flag expired DM thread")
			}
			if d.EscalateToSMS {
				e.sendDraft(ctx, t, draft, contact, true)
			}
		}
	case OutcomeEligible:
		e.sendDraft(ctx, t, draft, contact, d.EscalateToSMS && t.Expired)
	}

	return d, nil
}

// RecheckHandler consumes autopilot_recheck outbox events. Re-evaluation is
// naturally idempotent: a draft that was sent in the meantime evaluates to
// not_a_pending_draft and the event completes.
func (e *Engine) RecheckHandler(ctx context.Context, ev models.OutboxEvent) error {
	var p RecheckPayload
	if err := json.Unmarshal([]byte(ev.Payload), &p); err != nil {
		return fmt.Errorf("decode autopilot_recheck payload: %w", err)
	}
	_, err := e.EvaluateDraft(ctx, p.ThreadID, p.MessageID)
	return err
}

func (e *Engine) sendDraft(ctx context.Context, t models.ConversationThread, draft models.Message, contact models.Contact, escalateToSMS bool) {
	channel := t.Channel
	to := e.addressFor(t, contact)
	if escalateToSMS {
		channel = models.ChannelSMS
		to = contact.Phone
	}
	if to == "" {
		log.Warn().Uint("threadID", t.ID).Str("channel", channel).Msg("No usable address for auto-send, holding draft")
		return
	}

	var mediaURLs []string
	if draft.MediaURLs != "" {
		_ = json.Unmarshal([]byte(draft.MediaURLs), &mediaURLs)
	}

	res := e.router.Deliver(ctx, delivery.Request{
		ThreadID:  t.ID,
		MessageID: draft.ID,
		Channel:   channel,
		To:        to,
		Body:      draft.Body,
		MediaURLs: mediaURLs,
		Metadata:  map[string]string{"auto_reply": "true"},
	})
	if !res.OK {
		log.Warn().Uint("threadID", t.ID).Str("detail", res.Detail).Msg("Autopilot send failed")
	}
}

func (e *Engine) addressFor(t models.ConversationThread, contact models.Contact) string {
	if t.Address != "" {
		return t.Address
	}
	switch t.Channel {
	case models.ChannelSMS:
		return contact.Phone
	case models.ChannelEmail:
		return contact.Email
	default:
		return ""
	}
}

// buildContext snapshots policy, legacy setting, lead overrides and thread
// history into the pure evaluation's input.
func (e *Engine) buildContext(t models.ConversationThread, draft models.Message, contact models.Contact) (AutomationContext, error) {
	policy := e.defaults
	var row models.SalesAutopilotPolicy
	if err := e.db.First(&row).Error; err == nil {
		policy = Policy{
			Enabled:                      row.Enabled,
			AutoSendAfterMinutes:         row.AutoSendAfterMinutes,
			ActivityWindowMinutes:        row.ActivityWindowMinutes,
			RetryDelayMinutes:            row.RetryDelayMinutes,
			DMSMSFallbackAfterMinutes:    row.DMSMSFallbackAfterMinutes,
			DMMinSilenceBeforeSMSMinutes: row.DMMinSilenceBeforeSMSMinutes,
		}
	}

	legacyMode := ""
	var setting models.AutomationSetting
	if err := e.db.Where("channel = ?", t.Channel).First(&setting).Error; err == nil {
		legacyMode = setting.Mode
	}

	// Lazily created per (lead, channel); absence means no overrides.
	var lead models.LeadAutomationState
	overrides := LeadOverrides{}
	if err := e.db.Where("contact_id = ? AND channel = ?", t.ContactID, t.Channel).First(&lead).Error; err == nil {
		overrides = LeadOverrides{Paused: lead.Paused, DNC: lead.DNC, HumanTakeover: lead.HumanTakeover}
	}

	quiet, err := ParseQuietWindow(e.quietFor(t.Channel))
	if err != nil {
		return AutomationContext{}, err
	}

	return AutomationContext{
		Policy:     policy,
		LegacyMode: legacyMode,
		Lead:       overrides,
		Quiet:      quiet,
		Location:   e.loc,
		Thread: ThreadFacts{
			Channel:            t.Channel,
			LastInboundAt:      t.LastInboundAt,
			LastActivityAt:     t.LastMessageAt,
			InboundCount:       t.InboundCount,
			DraftCreatedAt:     draft.CreatedAt,
			HasPhone:           contact.Phone != "",
			DMWebhookAvailable: t.Channel == models.ChannelDM && e.router.DMWebhookReady(),
		},
	}, nil
}
