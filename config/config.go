package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all configuration fields for the application. Each provider
// credential group is independently optional: an incomplete group disables
// only that adapter, and callers see a permanent not-configured failure.
type Config struct {
	// SMS carrier credentials.
	SMSAccountID  string
	SMSAuthSecret string
	SMSFromNumber string
	SMSBaseURL    string

	// SMTP email credentials.
	SMTPHost string
	SMTPPort int
	SMTPUser string
	SMTPPass string
	SMTPFrom string

	// Social-platform (graph) credentials.
	FBSystemToken  string
	FBPageID       string
	FBGraphBaseURL string

	// Generic DM webhook. Takes precedence over the social adapter when set.
	DMWebhookURL   string
	DMWebhookToken string
	DMWebhookFrom  string

	// Automation policy defaults; the persisted policy row overrides these.
	AutoSendAfterMinutes         int
	ActivityWindowMinutes        int
	RetryDelayMinutes            int
	DMSMSFallbackAfterMinutes    int
	DMMinSilenceBeforeSMSMinutes int
	AgentDisplayName             string

	// Quiet hours in business-local time, "HH:MM-HH:MM". The global window
	// applies to every channel unless a per-channel override is set.
	BusinessTimezone string
	QuietHours       string
	QuietHoursSMS    string
	QuietHoursEmail  string
	QuietHoursDM     string

	DatabasePath string
	Port         string
	LogLevel     string
	LogFormat    string

	RabbitMQURL   string
	RabbitMQQueue string
}

// LoadConfig loads configuration from environment variables.
// It attempts to load a .env file if present; real environment variables
// take precedence.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("No .env file found, relying on environment variables")
	}

	cfg := &Config{
		SMSAccountID:  os.Getenv("SMS_ACCOUNT_ID"),
		SMSAuthSecret: os.Getenv("SMS_AUTH_SECRET"),
		SMSFromNumber: os.Getenv("SMS_FROM_NUMBER"),
		SMSBaseURL:    getEnv("SMS_BASE_URL", "https://api.twilio.com/2010-04-01"),

		SMTPHost: os.Getenv("SMTP_HOST"),
		SMTPPort: getEnvInt("SMTP_PORT", 587),
		SMTPUser: os.Getenv("SMTP_USER"),
		SMTPPass: os.Getenv("SMTP_PASS"),
		SMTPFrom: os.Getenv("SMTP_FROM"),

		FBSystemToken:  os.Getenv("FB_SYSTEM_TOKEN"),
		FBPageID:       os.Getenv("FB_PAGE_ID"),
		FBGraphBaseURL: getEnv("FB_GRAPH_BASE_URL", "https://graph.facebook.com/v19.0"),

		DMWebhookURL:   os.Getenv("DM_WEBHOOK_URL"),
		DMWebhookToken: os.Getenv("DM_WEBHOOK_TOKEN"),
		DMWebhookFrom:  os.Getenv("DM_WEBHOOK_FROM"),

		AutoSendAfterMinutes:         getEnvInt("AUTO_SEND_AFTER_MINUTES", 30),
		ActivityWindowMinutes:        getEnvInt("ACTIVITY_WINDOW_MINUTES", 10),
		RetryDelayMinutes:            getEnvInt("RETRY_DELAY_MINUTES", 15),
		DMSMSFallbackAfterMinutes:    getEnvInt("DM_SMS_FALLBACK_AFTER_MINUTES", 1440),
		DMMinSilenceBeforeSMSMinutes: getEnvInt("DM_MIN_SILENCE_BEFORE_SMS_MINUTES", 120),
		AgentDisplayName:             getEnv("AGENT_DISPLAY_NAME", "Assistant"),

		BusinessTimezone: getEnv("BUSINESS_TIMEZONE", "America/Chicago"),
		QuietHours:       getEnv("QUIET_HOURS", "21:00-08:00"),
		QuietHoursSMS:    os.Getenv("QUIET_HOURS_SMS"),
		QuietHoursEmail:  os.Getenv("QUIET_HOURS_EMAIL"),
		QuietHoursDM:     os.Getenv("QUIET_HOURS_DM"),

		DatabasePath: getEnv("DATABASE_PATH", "leadrelay.db"),
		Port:         getEnv("PORT", "8080"),
		LogLevel:     os.Getenv("LOG_LEVEL"),
		LogFormat:    os.Getenv("LOG_FORMAT"),

		RabbitMQURL:   os.Getenv("RABBITMQ_URL"),
		RabbitMQQueue: getEnv("RABBITMQ_QUEUE", "leadrelay_events"),
	}

	log.Info().
		Bool("smsConfigured", cfg.SMSAccountID != "" && cfg.SMSAuthSecret != "" && cfg.SMSFromNumber != "").
		Bool("emailConfigured", cfg.SMTPHost != "" && cfg.SMTPUser != "" && cfg.SMTPPass != "" && cfg.SMTPFrom != "").
		Bool("messengerConfigured", cfg.FBSystemToken != "" && cfg.FBPageID != "").
		Bool("dmWebhookConfigured", cfg.DMWebhookURL != "").
		Msg("Configuration loaded")

	return cfg, nil
}

// QuietHoursFor returns the quiet-hours window for a channel, falling back
// to the global window when no per-channel override is set.
func (c *Config) QuietHoursFor(channel string) string {
	switch channel {
	case "sms":
		if c.QuietHoursSMS != "" {
			return c.QuietHoursSMS
		}
	case "email":
		if c.QuietHoursEmail != "" {
			return c.QuietHoursEmail
		}
	case "dm":
		if c.QuietHoursDM != "" {
			return c.QuietHoursDM
		}
	}
	return c.QuietHours
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid integer in environment, using default")
		return fallback
	}
	return n
}
