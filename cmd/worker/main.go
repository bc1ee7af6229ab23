// Worker consumes notification messages from Kafka and hands them to the
// delivery channel. Set KAFKA_BROKERS, NOTIFICATION_KAFKA_TOPIC,
// KAFKA_GROUP_ID, and DELIVERY_WEBHOOK_URL for the email/SMS gateway.
// JWT_SIGNING_KEY is required by config but unused.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"practice-portal/auth/internal/config"
	"practice-portal/auth/internal/notify"
	"practice-portal/auth/internal/platform/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logging.New("info", "", "auth-worker")
		boot.Fatal().Err(err).Msg("config")
	}
	log := logging.New(cfg.LogLevel, cfg.Env, "auth-worker")

	brokers := cfg.KafkaBrokersList()
	if len(brokers) == 0 {
		log.Fatal().Msg("worker: KAFKA_BROKERS is required")
	}

	var deliver notify.Notifier = notify.LogNotifier{Log: log}
	if cfg.DeliveryWebhookURL != "" {
		deliver = notify.NewWebhookNotifier(cfg.DeliveryWebhookURL, cfg.DeliveryAPIKey)
	} else {
		log.Warn().Msg("worker: DELIVERY_WEBHOOK_URL not set; notifications are only logged")
	}
	consumer := notify.NewConsumer(brokers, cfg.NotificationKafkaTopic, cfg.KafkaGroupID, deliver, log)
	defer consumer.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info().
		Str("topic", cfg.NotificationKafkaTopic).
		Str("group", cfg.KafkaGroupID).
		Msg("worker: consuming notifications")
	if err := consumer.Run(ctx); err != nil {
		log.Error().Err(err).Msg("worker: stopped with error")
		return
	}
	log.Info().Msg("worker: stopped")
}
