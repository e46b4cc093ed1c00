package autopilot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadrelay/internal/models"
)

func basePolicy() Policy {
	return Policy{
		Enabled:                      true,
		AutoSendAfterMinutes:         30,
		ActivityWindowMinutes:        10,
		RetryDelayMinutes:            15,
		DMSMSFallbackAfterMinutes:    120,
		DMMinSilenceBeforeSMSMinutes: 30,
	}
}

func smsContext(now time.Time) AutomationContext {
	return AutomationContext{
		Policy:   basePolicy(),
		Location: time.UTC,
		Thread: ThreadFacts{
			Channel:        models.ChannelSMS,
			DraftCreatedAt: now.Add(-40 * time.Minute),
		},
	}
}

func TestEvaluateEligibleSMS(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	d := Evaluate(smsContext(now), now)
	assert.Equal(t, OutcomeEligible, d.Outcome)
	assert.Empty(t, d.Reason)
	assert.False(t, d.EscalateToSMS)
}

func TestEvaluateLegacyDraftModeBlocks(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	actx := smsContext(now)
	actx.Policy.Enabled = false
	actx.LegacyMode = models.ModeDraft

	d := Evaluate(actx, now)
	assert.Equal(t, OutcomeBlocked, d.Outcome)
	assert.Equal(t, ReasonDraftMode, d.Reason)

	// No setting at all behaves the same.
	actx.LegacyMode = ""
	assert.Equal(t, ReasonDraftMode, Evaluate(actx, now).Reason)
}

func TestEvaluateLegacyAutoUsesSimplifiedPath(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	recent := now.Add(-30 * time.Minute)
	actx := AutomationContext{
		Policy:     Policy{AutoSendAfterMinutes: 15, ActivityWindowMinutes: 10, RetryDelayMinutes: 15},
		LegacyMode: models.ModeAuto,
		Location:   time.UTC,
		Thread: ThreadFacts{
			Channel:        models.ChannelDM,
			DraftCreatedAt: now.Add(-20 * time.Minute),
			LastInboundAt:  &recent,
			InboundCount:   1,
		},
	}

	// On the simplified path the first-reply hold does not apply.
	d := Evaluate(actx, now)
	assert.Equal(t, OutcomeEligible, d.Outcome)
}

func TestEvaluateHardOverrides(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

	cases := []struct {
		name   string
		lead   LeadOverrides
		reason string
	}{
		{"dnc", LeadOverrides{DNC: true}, ReasonDNC},
		{"paused", LeadOverrides{Paused: true}, ReasonPaused},
		{"takeover", LeadOverrides{HumanTakeover: true}, ReasonHumanTakeover},
		{"dnc wins over paused", LeadOverrides{DNC: true, Paused: true}, ReasonDNC},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			actx := smsContext(now)
			actx.Lead = tc.lead
			d := Evaluate(actx, now)
			assert.Equal(t, OutcomeBlocked, d.Outcome)
			assert.Equal(t, tc.reason, d.Reason)
		})
	}
}

func TestEvaluateQuietHoursDefers(t *testing.T) {
	now := time.Date(2026, 3, 10, 22, 30, 0, 0, time.UTC)
	actx := smsContext(now)
	var err error
	actx.Quiet, err = ParseQuietWindow("21:00-08:00")
	require.NoError(t, err)

	d := Evaluate(actx, now)
	assert.Equal(t, OutcomeDeferred, d.Outcome)
	assert.Equal(t, ReasonQuietHours, d.Reason)
	assert.Equal(t, now.Add(15*time.Minute), d.NextCheckAt)
}

func TestEvaluateQuietHoursUsesBusinessTimezone(t *testing.T) {
	chicago, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)

	// 03:00 UTC is 21:00 or 22:00 in Chicago depending on DST; either way
	// it falls inside a 21:00-08:00 local quiet window in March (CDT).
	now := time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)
	actx := smsContext(now)
	actx.Location = chicago
	actx.Quiet, err = ParseQuietWindow("21:00-08:00")
	require.NoError(t, err)

	d := Evaluate(actx, now)
	assert.Equal(t, OutcomeDeferred, d.Outcome)
	assert.Equal(t, ReasonQuietHours, d.Reason)
}

func TestEvaluateActiveConversationDefers(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	actx := smsContext(now)
	fiveAgo := now.Add(-5 * time.Minute)
	actx.Thread.LastInboundAt = &fiveAgo

	d := Evaluate(actx, now)
	assert.Equal(t, OutcomeDeferred, d.Outcome)
	assert.Equal(t, ReasonActiveThread, d.Reason)
	assert.Equal(t, now.Add(15*time.Minute), d.NextCheckAt)
}

func TestEvaluateDraftTooFreshDefers(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	actx := smsContext(now)
	actx.Thread.DraftCreatedAt = now.Add(-10 * time.Minute)

	d := Evaluate(actx, now)
	assert.Equal(t, OutcomeDeferred, d.Outcome)
	assert.Equal(t, ReasonDraftTooFresh, d.Reason)
}

func TestEvaluateDraftExactlyAtThresholdDefers(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	actx := smsContext(now)
	actx.Thread.DraftCreatedAt = now.Add(-30 * time.Minute)

	d := Evaluate(actx, now)
	assert.Equal(t, OutcomeDeferred, d.Outcome, "the settle time is exclusive")
}

func TestEvaluateDMFirstReplyHeld(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	inbound := now.Add(-time.Hour)
	actx := smsContext(now)
	actx.Thread.Channel = models.ChannelDM
	actx.Thread.LastInboundAt = &inbound
	actx.Thread.InboundCount = 1

	d := Evaluate(actx, now)
	assert.Equal(t, OutcomeBlocked, d.Outcome)
	assert.Equal(t, ReasonDMFirstReply, d.Reason)

	actx.Thread.InboundCount = 2
	assert.Equal(t, OutcomeEligible, Evaluate(actx, now).Outcome)
}

func TestEvaluateDMWindowExpired(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	stale := now.Add(-25 * time.Hour)
	actx := smsContext(now)
	actx.Thread.Channel = models.ChannelDM
	actx.Thread.LastInboundAt = &stale
	actx.Thread.InboundCount = 3

	d := Evaluate(actx, now)
	assert.Equal(t, OutcomeBlocked, d.Outcome)
	assert.Equal(t, ReasonDMWindowExpired, d.Reason)
}

func TestEvaluateDMExpiredWindowPassesWithWebhookTransport(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	stale := now.Add(-25 * time.Hour)
	actx := smsContext(now)
	actx.Thread.Channel = models.ChannelDM
	actx.Thread.LastInboundAt = &stale
	actx.Thread.InboundCount = 3
	actx.Thread.DMWebhookAvailable = true

	d := Evaluate(actx, now)
	assert.Equal(t, OutcomeEligible, d.Outcome)

	// The second-inbound hold still applies: the webhook only lifts the
	// window gate, not the draft-first rule.
	actx.Thread.InboundCount = 1
	d = Evaluate(actx, now)
	assert.Equal(t, OutcomeBlocked, d.Outcome)
	assert.Equal(t, ReasonDMFirstReply, d.Reason)
}

func TestEvaluateDMEscalationToSMS(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	stale := now.Add(-25 * time.Hour)
	actx := smsContext(now)
	actx.Thread.Channel = models.ChannelDM
	actx.Thread.LastInboundAt = &stale
	actx.Thread.InboundCount = 3
	actx.Thread.HasPhone = true

	d := Evaluate(actx, now)
	assert.Equal(t, OutcomeBlocked, d.Outcome)
	assert.Equal(t, ReasonDMWindowExpired, d.Reason)
	assert.True(t, d.EscalateToSMS)

	// Without a phone number there is nothing to fall back to.
	actx.Thread.HasPhone = false
	assert.False(t, Evaluate(actx, now).EscalateToSMS)
}

func TestEvaluateEscalationRespectsMinSilence(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	stale := now.Add(-25 * time.Hour)
	justNow := now.Add(-10 * time.Minute)
	actx := smsContext(now)
	actx.Thread.Channel = models.ChannelDM
	actx.Thread.LastInboundAt = &stale
	actx.Thread.LastActivityAt = &justNow
	actx.Thread.InboundCount = 3
	actx.Thread.HasPhone = true

	// A human touched the thread minutes ago; hold the SMS fallback.
	d := Evaluate(actx, now)
	assert.False(t, d.EscalateToSMS)

	quiet := now.Add(-45 * time.Minute)
	actx.Thread.LastActivityAt = &quiet
	assert.True(t, Evaluate(actx, now).EscalateToSMS)
}

func TestEvaluateEscalationDisabledWhenUnset(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	stale := now.Add(-25 * time.Hour)
	actx := smsContext(now)
	actx.Policy.DMSMSFallbackAfterMinutes = 0
	actx.Thread.Channel = models.ChannelDM
	actx.Thread.LastInboundAt = &stale
	actx.Thread.InboundCount = 3
	actx.Thread.HasPhone = true

	assert.False(t, Evaluate(actx, now).EscalateToSMS)
}

func TestEvaluateRetryDelayFallsBackTo15Minutes(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	actx := smsContext(now)
	actx.Policy.RetryDelayMinutes = 0
	actx.Thread.DraftCreatedAt = now.Add(-5 * time.Minute)

	d := Evaluate(actx, now)
	assert.Equal(t, OutcomeDeferred, d.Outcome)
	assert.Equal(t, now.Add(15*time.Minute), d.NextCheckAt)
}

func TestParseQuietWindow(t *testing.T) {
	w, err := ParseQuietWindow("21:00-08:00")
	require.NoError(t, err)

	at := func(h, m int) time.Time {
		return time.Date(2026, 3, 10, h, m, 0, 0, time.UTC)
	}
	assert.True(t, w.Contains(at(21, 0)))
	assert.True(t, w.Contains(at(23, 59)))
	assert.True(t, w.Contains(at(3, 15)))
	assert.True(t, w.Contains(at(7, 59)))
	assert.False(t, w.Contains(at(8, 0)))
	assert.False(t, w.Contains(at(12, 0)))
	assert.False(t, w.Contains(at(20, 59)))

	day, err := ParseQuietWindow("09:00-17:00")
	require.NoError(t, err)
	assert.True(t, day.Contains(at(9, 0)))
	assert.True(t, day.Contains(at(16, 59)))
	assert.False(t, day.Contains(at(17, 0)))
	assert.False(t, day.Contains(at(8, 59)))

	empty, err := ParseQuietWindow("")
	require.NoError(t, err)
	assert.False(t, empty.Contains(at(0, 0)))
}

func TestParseQuietWindowRejectsGarbage(t *testing.T) {
	for _, s := range []string{"21:00", "25:00-08:00", "21:00-08:61", "evening", "21-08"} {
		_, err := ParseQuietWindow(s)
		assert.Error(t, err, s)
	}
}
