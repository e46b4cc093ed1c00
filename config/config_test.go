package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "https://api.twilio.com/2010-04-01", cfg.SMSBaseURL)
	assert.Equal(t, 587, cfg.SMTPPort)
	assert.Equal(t, "https://graph.facebook.com/v19.0", cfg.FBGraphBaseURL)
	assert.Equal(t, 30, cfg.AutoSendAfterMinutes)
	assert.Equal(t, 10, cfg.ActivityWindowMinutes)
	assert.Equal(t, "21:00-08:00", cfg.QuietHours)
	assert.Equal(t, "America/Chicago", cfg.BusinessTimezone)
	assert.Equal(t, "8080", cfg.Port)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("SMS_ACCOUNT_ID", "AC123")
	t.Setenv("SMTP_PORT", "465")
	t.Setenv("AUTO_SEND_AFTER_MINUTES", "5")
	t.Setenv("RETRY_DELAY_MINUTES", "not-a-number")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "AC123", cfg.SMSAccountID)
	assert.Equal(t, 465, cfg.SMTPPort)
	assert.Equal(t, 5, cfg.AutoSendAfterMinutes)
	assert.Equal(t, 15, cfg.RetryDelayMinutes, "garbage integers fall back to the default")
}

func TestQuietHoursFor(t *testing.T) {
	cfg := &Config{
		QuietHours:    "21:00-08:00",
		QuietHoursSMS: "20:00-09:00",
	}

	assert.Equal(t, "20:00-09:00", cfg.QuietHoursFor("sms"))
	assert.Equal(t, "21:00-08:00", cfg.QuietHoursFor("email"))
	assert.Equal(t, "21:00-08:00", cfg.QuietHoursFor("dm"))
	assert.Equal(t, "21:00-08:00", cfg.QuietHoursFor("call"))
}
