package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/Domenick1991/signupslots/config"
	"github.com/Domenick1991/signupslots/internal/analytics"
	"github.com/Domenick1991/signupslots/internal/email"
	"github.com/Domenick1991/signupslots/internal/kafka"
	"github.com/Domenick1991/signupslots/internal/logging"
	"github.com/Domenick1991/signupslots/internal/repository"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	kafkaGo "github.com/segmentio/kafka-go"
)

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Pretty)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := repository.Open(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	defer store.Close()

	producer := kafka.NewProducer(cfg.Kafka.Brokers)
	defer producer.Close()

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.NotificationsTopic)
	defer consumer.Close()

	emailSender := email.NewSender()

	go func() {
		if err := consumer.Consume(ctx, func(ctx context.Context, msg kafkaGo.Message) error {
			var event kafka.SlotsBookedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				log.Warn().Err(err).Int64("offset", msg.Offset).Msg("skip undecodable event")
				return nil
			}
			return emailSender.Send(ctx, event)
		}); err != nil {
			log.Error().Err(err).Msg("consumer stopped")
			stop()
		}
	}()

	digest := analytics.NewDigest(store.Forms, store.Slots, producer, cfg.Kafka.AnalyticsTopic)
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Worker.AnalyticsCron, func() {
		sent, err := digest.Run(ctx)
		if err != nil {
			log.Error().Err(err).Msg("analytics digest failed")
			return
		}
		log.Info().Int("forms", sent).Msg("analytics digest published")
	}); err != nil {
		log.Fatal().Err(err).Str("spec", cfg.Worker.AnalyticsCron).Msg("schedule analytics digest")
	}
	scheduler.Start()

	<-ctx.Done()
	log.Info().Msg("shutting down worker")
	<-scheduler.Stop().Done()
}
