package models

import (
	"time"
)

// Channel values carried by threads and messages.
const (
	ChannelSMS   = "sms"
	ChannelEmail = "email"
	ChannelDM    = "dm"
	ChannelCall  = "call"
	ChannelWeb   = "web"
)

// Message directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
	DirectionInternal = "internal"
)

// Message delivery statuses.
const (
	DeliveryQueued    = "queued"
	DeliverySent      = "sent"
	DeliveryDelivered = "delivered"
	DeliveryFailed    = "failed"
)

// Thread statuses. Status is orthogonal to the workflow state and may move
// in any direction.
const (
	StatusOpen    = "open"
	StatusPending = "pending"
	StatusClosed  = "closed"
)

// Legacy per-channel automation modes, consulted only while the global
// autopilot policy is disabled.
const (
	ModeDraft  = "draft"
	ModeAssist = "assist"
	ModeAuto   = "auto"
)

// Contact is a lead's identity. A contact owns zero-or-more conversation
// threads, one per channel in practice.
type Contact struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"index"`
	Phone     string `gorm:"index"`
	Email     string `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ConversationThread is a per-contact-per-channel conversation. The workflow
// state only ever moves forward; status (open/pending/closed) is free-form.
type ConversationThread struct {
	ID        uint   `gorm:"primaryKey"`
	ContactID uint   `gorm:"index"`
	Channel   string `gorm:"index"`
	// Address is the channel-scoped recipient id: phone for sms, email
	// address for email, the platform-scoped user id for dm.
	Address        string
	Status         string `gorm:"index;default:open"`
	State          string `gorm:"index;default:new"`
	StateUpdatedAt time.Time
	LastMessageAt  *time.Time
	LastInboundAt  *time.Time
	// InboundCount counts genuine inbound messages in the current
	// engagement, used by the DM draft-first gate.
	InboundCount int
	// Expired marks a DM thread past the platform's 24h messaging window.
	// Only the webhook/SMS fallback path may reach an expired thread.
	Expired    bool
	AssignedTo string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Message is one inbound, outbound or internal entry on a thread.
// MediaURLs and Metadata are stored as JSON text.
type Message struct {
	ID                uint   `gorm:"primaryKey"`
	ThreadID          uint   `gorm:"index"`
	Direction         string `gorm:"index"`
	Channel           string
	Body              string `gorm:"type:text"`
	MediaURLs         string `gorm:"type:text"`
	DeliveryStatus    string `gorm:"index;default:queued"`
	Provider          string
	ProviderMessageID string `gorm:"index"`
	Metadata          string `gorm:"type:text"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// LeadAutomationState holds per (lead, channel) automation overrides and
// follow-up sequencing. Created lazily, mutated by humans or the follow-up
// sequencer, never deleted.
type LeadAutomationState struct {
	ID             uint   `gorm:"primaryKey"`
	ContactID      uint   `gorm:"uniqueIndex:idx_lead_channel"`
	Channel        string `gorm:"uniqueIndex:idx_lead_channel"`
	Paused         bool
	DNC            bool `gorm:"column:dnc"`
	HumanTakeover  bool
	FollowupState  string
	FollowupStep   int
	NextFollowupAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AutomationSetting is the legacy per-channel mode, superseded whenever the
// autopilot policy row has Enabled=true.
type AutomationSetting struct {
	ID      uint   `gorm:"primaryKey"`
	Channel string `gorm:"uniqueIndex"`
	Mode    string `gorm:"default:draft"`
}

// SalesAutopilotPolicy is the singleton autopilot configuration.
type SalesAutopilotPolicy struct {
	ID                           uint `gorm:"primaryKey"`
	Enabled                      bool
	AutoSendAfterMinutes         int
	ActivityWindowMinutes        int
	RetryDelayMinutes            int
	DMSMSFallbackAfterMinutes    int
	DMMinSilenceBeforeSMSMinutes int
	AgentDisplayName             string
	UpdatedAt                    time.Time
}

// ProviderHealth tracks the last observed outcome per provider key.
// Last-writer-wins; this is a monitoring signal, not a correctness record.
type ProviderHealth struct {
	ID                uint   `gorm:"primaryKey"`
	Provider          string `gorm:"uniqueIndex"`
	LastSuccessAt     *time.Time
	LastFailureAt     *time.Time
	LastFailureDetail string `gorm:"type:text"`
	UpdatedAt         time.Time
}

// OutboxEvent is one durable unit of deferred work, consumed at-least-once.
// NextAttemptAt null means ready now. ClaimedAt/ClaimedBy form the claim
// marker that keeps two workers off the same row.
type OutboxEvent struct {
	ID            uint   `gorm:"primaryKey"`
	Type          string `gorm:"index"`
	Payload       string `gorm:"type:text"`
	Attempts      int
	NextAttemptAt *time.Time `gorm:"index"`
	LastError     string     `gorm:"type:text"`
	ProcessedAt   *time.Time `gorm:"index"`
	ClaimedAt     *time.Time
	ClaimedBy     string
	DedupeKey     string `gorm:"index"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// All returns every model for AutoMigrate.
func All() []interface{} {
	return []interface{}{
		&Contact{},
		&ConversationThread{},
		&Message{},
		&LeadAutomationState{},
		&AutomationSetting{},
		&SalesAutopilotPolicy{},
		&ProviderHealth{},
		&OutboxEvent{},
	}
}
