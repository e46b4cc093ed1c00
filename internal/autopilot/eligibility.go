package autopilot

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"leadrelay/internal/models"
)

// Outcome is the result class of an eligibility evaluation.
type Outcome string

const (
	OutcomeEligible Outcome = "eligible"
	OutcomeDeferred Outcome = "deferred"
	OutcomeBlocked  Outcome = "blocked"
)

// Blocked reasons. Deferred decisions reuse the same names in Reason.
const (
	ReasonDraftMode       = "draft_mode"
	ReasonPaused          = "paused"
	ReasonDNC             = "dnc"
	ReasonHumanTakeover   = "human_takeover"
	ReasonQuietHours      = "quiet_hours"
	ReasonActiveThread    = "active_conversation"
	ReasonDraftTooFresh   = "draft_too_fresh"
	ReasonDMFirstReply    = "dm_first_reply_held"
	ReasonDMWindowExpired = "dm_window_expired"
)

// Decision is the outcome of one eligibility evaluation. Deferred carries
// the next check time; Blocked carries the hard reason. EscalateToSMS is
// the DM-to-SMS fallback proposal and may accompany any outcome.
type Decision struct {
	Outcome       Outcome
	Reason        string
	NextCheckAt   time.Time
	EscalateToSMS bool
}

func eligible() Decision             { return Decision{Outcome: OutcomeEligible} }
func blocked(reason string) Decision { return Decision{Outcome: OutcomeBlocked, Reason: reason} }
func deferred(at time.Time, reason string) Decision {
	return Decision{Outcome: OutcomeDeferred, Reason: reason, NextCheckAt: at}
}

// dmMessagingWindow is the platform-imposed limit after the last inbound
// message beyond which standard DM sends are disallowed.
const dmMessagingWindow = 24 * time.Hour

// Policy is the autopilot timing configuration snapshot.
type Policy struct {
	Enabled                      bool
	AutoSendAfterMinutes         int
	ActivityWindowMinutes        int
	RetryDelayMinutes            int
	DMSMSFallbackAfterMinutes    int
	DMMinSilenceBeforeSMSMinutes int
}

// LeadOverrides are the per (lead, channel) hard switches.
type LeadOverrides struct {
	Paused        bool
	DNC           bool
	HumanTakeover bool
}

// ThreadFacts is the thread history snapshot the decision needs. Loading it
// happens at the boundary; the evaluation itself reads no ambient state.
type ThreadFacts struct {
	Channel        string
	LastInboundAt  *time.Time
	LastActivityAt *time.Time
	InboundCount   int
	DraftCreatedAt time.Time
	HasPhone       bool
	// DMWebhookAvailable means dm sends resolve to the generic webhook
	// transport, which is not bound by the platform messaging window.
	DMWebhookAvailable bool
}

// AutomationContext is everything Evaluate consumes.
type AutomationContext struct {
	Policy     Policy
	LegacyMode string // consulted only when Policy.Enabled is false
	Lead       LeadOverrides
	Quiet      QuietWindow
	Location   *time.Location
	Thread     ThreadFacts
}

// Evaluate decides whether a drafted reply may be auto-sent now. It is a
// pure function of its inputs: ineligibility is never an error, it either
// blocks outright or defers to a later check.
func Evaluate(actx AutomationContext, now time.Time) Decision {
	simplified := false
	if !actx.Policy.Enabled {
		switch actx.LegacyMode {
		case models.ModeAssist, models.ModeAuto:
			simplified = true
		default:
			// Legacy draft mode (or no setting): never auto-send.
			return blocked(ReasonDraftMode)
		}
	}

	// Hard per-lead overrides. DNC and takeover do not defer; a later
	// check changes nothing until a human flips them back.
	switch {
	case actx.Lead.DNC:
		return blocked(ReasonDNC)
	case actx.Lead.Paused:
		return blocked(ReasonPaused)
	case actx.Lead.HumanTakeover:
		return blocked(ReasonHumanTakeover)
	}

	retryDelay := time.Duration(actx.Policy.RetryDelayMinutes) * time.Minute
	if retryDelay <= 0 {
		retryDelay = 15 * time.Minute
	}
	nextCheck := now.Add(retryDelay)

	loc := actx.Location
	if loc == nil {
		loc = time.UTC
	}
	if actx.Quiet.Contains(now.In(loc)) {
		return withEscalation(actx, now, deferred(nextCheck, ReasonQuietHours))
	}

	// Activity window: never interrupt a live back-and-forth.
	activityWindow := time.Duration(actx.Policy.ActivityWindowMinutes) * time.Minute
	if actx.Thread.LastInboundAt != nil && now.Sub(*actx.Thread.LastInboundAt) <= activityWindow {
		return withEscalation(actx, now, deferred(nextCheck, ReasonActiveThread))
	}

	// Draft settle time.
	autoSendAfter := time.Duration(actx.Policy.AutoSendAfterMinutes) * time.Minute
	if now.Sub(actx.Thread.DraftCreatedAt) <= autoSendAfter {
		return withEscalation(actx, now, deferred(nextCheck, ReasonDraftTooFresh))
	}

	// Channel-specific DM gates. The legacy assist/auto path applies the
	// simplified algorithm and skips them.
	if !simplified && actx.Thread.Channel == models.ChannelDM {
		if actx.Thread.LastInboundAt == nil || actx.Thread.InboundCount < 2 {
			// Draft-first: the very first reply on a fresh DM thread is
			// never auto-sent.
			return withEscalation(actx, now, blocked(ReasonDMFirstReply))
		}
		if now.Sub(*actx.Thread.LastInboundAt) > dmMessagingWindow && !actx.Thread.DMWebhookAvailable {
			return withEscalation(actx, now, blocked(ReasonDMWindowExpired))
		}
	}

	return withEscalation(actx, now, eligible())
}

// withEscalation attaches the DM-to-SMS fallback proposal when its timing
// conditions hold and the contact has a usable phone number.
func withEscalation(actx AutomationContext, now time.Time, d Decision) Decision {
	if actx.Thread.Channel != models.ChannelDM || !actx.Thread.HasPhone {
		return d
	}
	if actx.Thread.LastInboundAt == nil {
		return d
	}

	fallbackAfter := time.Duration(actx.Policy.DMSMSFallbackAfterMinutes) * time.Minute
	minSilence := time.Duration(actx.Policy.DMMinSilenceBeforeSMSMinutes) * time.Minute
	if fallbackAfter <= 0 {
		return d
	}

	inboundSilence := now.Sub(*actx.Thread.LastInboundAt)
	if inboundSilence < fallbackAfter {
		return d
	}
	if actx.Thread.LastActivityAt != nil && now.Sub(*actx.Thread.LastActivityAt) < minSilence {
		return d
	}

	d.EscalateToSMS = true
	return d
}

// QuietWindow is a local-time window during which automated sends are
// suppressed. The window may wrap midnight; a zero window never matches.
type QuietWindow struct {
	startMin int
	endMin   int
	set      bool
}

// ParseQuietWindow parses "HH:MM-HH:MM". An empty string yields a window
// that never matches.
func ParseQuietWindow(s string) (QuietWindow, error) {
	if s == "" {
		return QuietWindow{}, nil
	}
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return QuietWindow{}, fmt.Errorf("quiet hours %q: want HH:MM-HH:MM", s)
	}
	start, err := parseClock(parts[0])
	if err != nil {
		return QuietWindow{}, fmt.Errorf("quiet hours %q: %w", s, err)
	}
	end, err := parseClock(parts[1])
	if err != nil {
		return QuietWindow{}, fmt.Errorf("quiet hours %q: %w", s, err)
	}
	return QuietWindow{startMin: start, endMin: end, set: true}, nil
}

func parseClock(s string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("bad clock value %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("bad hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("bad minute in %q", s)
	}
	return h*60 + m, nil
}

// Contains reports whether the local time falls inside the window.
func (w QuietWindow) Contains(local time.Time) bool {
	if !w.set {
		return false
	}
	minute := local.Hour()*60 + local.Minute()
	if w.startMin <= w.endMin {
		return minute >= w.startMin && minute < w.endMin
	}
	// Wraps midnight, e.g. 21:00-08:00.
	return minute >= w.startMin || minute < w.endMin
}
