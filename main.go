package main

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"leadrelay/config"
	"leadrelay/internal/autopilot"
	"leadrelay/internal/db"
	"leadrelay/internal/delivery"
	"leadrelay/internal/events"
	"leadrelay/internal/handlers"
	"leadrelay/internal/models"
	"leadrelay/internal/outbox"
	"leadrelay/internal/pagetoken"
	"leadrelay/internal/providers"
	"leadrelay/pkg/httputil"
	"leadrelay/pkg/logger"
)

func main() {
	logger.InitLogger()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	conn, err := db.Open(cfg.DatabasePath, models.All()...)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}

	loc, err := time.LoadLocation(cfg.BusinessTimezone)
	if err != nil {
		log.Fatal().Err(err).Str("timezone", cfg.BusinessTimezone).Msg("Invalid business timezone")
	}

	// Provider adapters. Each stays permanently not-configured when its
	// credential group is absent.
	sms := providers.NewSMSProvider(cfg.SMSAccountID, cfg.SMSAuthSecret, cfg.SMSFromNumber, cfg.SMSBaseURL, httputil.NewClient())
	email := providers.NewEmailProvider(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom)

	var tokens pagetoken.Source
	if cfg.FBSystemToken != "" {
		tokens = pagetoken.NewGraphSource(cfg.FBSystemToken, cfg.FBGraphBaseURL, httputil.NewClient())
	}
	messenger := providers.NewMessengerProvider(cfg.FBPageID, cfg.FBGraphBaseURL, tokens, httputil.NewClient())
	dmWebhook := providers.NewWebhookProvider(cfg.DMWebhookURL, cfg.DMWebhookToken, cfg.DMWebhookFrom, httputil.NewClient())

	publisher := events.NewPublisher(cfg.RabbitMQURL, cfg.RabbitMQQueue)
	defer publisher.Close()

	queue := outbox.New(conn)
	router := delivery.NewRouter(conn, queue, publisher, sms, email, messenger, dmWebhook)

	engine := autopilot.NewEngine(conn, queue, router, loc, autopilot.Policy{
		AutoSendAfterMinutes:         cfg.AutoSendAfterMinutes,
		ActivityWindowMinutes:        cfg.ActivityWindowMinutes,
		RetryDelayMinutes:            cfg.RetryDelayMinutes,
		DMSMSFallbackAfterMinutes:    cfg.DMSMSFallbackAfterMinutes,
		DMMinSilenceBeforeSMSMinutes: cfg.DMMinSilenceBeforeSMSMinutes,
	}, cfg.QuietHoursFor)

	consumer := outbox.NewConsumer(queue)
	consumer.Handle(delivery.TypeSendRetry, router.RetryHandler)
	consumer.Handle(autopilot.TypeRecheck, engine.RecheckHandler)
	if err := consumer.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start outbox consumer")
	}
	defer consumer.Stop()

	server := handlers.NewServer(conn, queue, engine)

	log.Info().Str("port", cfg.Port).Msg("Server starting")
	if err := http.ListenAndServe(":"+cfg.Port, server.Routes()); err != nil {
		log.Fatal().Err(err).Msg("Failed to start server")
	}
}
