package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Domenick1991/signupslots/api"
	"github.com/Domenick1991/signupslots/config"
	slotsapi "github.com/Domenick1991/signupslots/internal/api/slots_service_api"
	"github.com/Domenick1991/signupslots/internal/bootstrap"
	"github.com/Domenick1991/signupslots/internal/cache"
	"github.com/Domenick1991/signupslots/internal/conversation"
	"github.com/Domenick1991/signupslots/internal/kafka"
	"github.com/Domenick1991/signupslots/internal/live"
	"github.com/Domenick1991/signupslots/internal/logging"
	"github.com/Domenick1991/signupslots/internal/repository"
	"github.com/Domenick1991/signupslots/internal/schedule"
	"github.com/Domenick1991/signupslots/internal/service/booking"
	"github.com/Domenick1991/signupslots/internal/service/forms"
	"github.com/Domenick1991/signupslots/internal/service/slots"
	"github.com/rs/zerolog/log"
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
		log.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("open store")
	}
	defer store.Close()

	redisClient := cache.NewRedisClient(cfg.Redis)
	defer redisClient.Close()
	redisCache := cache.NewRedisCache(redisClient, cfg.Scheduling.AvailabilityCacheTTL())
	conversations := conversation.NewStore(redisClient, cfg.Conversation.TTL(), cfg.Conversation.MaxTurns)

	producer := kafka.NewProducer(cfg.Kafka.Brokers)
	defer producer.Close()
	if err := producer.CheckConnection(ctx); err != nil {
		log.Warn().Err(err).Int("publish_retries", cfg.Kafka.PublishRetries).Msg("kafka is not reachable, events will be retried on publish")
	}

	slotOpts := []slots.SlotServiceOption{
		slots.WithCache(redisCache),
		slots.WithEvents(producer, cfg.Kafka.ScheduleTopic),
		slots.WithPublishRetries(cfg.Kafka.PublishRetries),
		slots.WithDefaultTimezone(cfg.Scheduling.DefaultTimezone),
	}
	bookingOpts := []booking.BookingServiceOption{
		booking.WithNotificationsTopic(cfg.Kafka.NotificationsTopic),
		booking.WithPublishRetries(cfg.Kafka.PublishRetries),
	}
	if cfg.MQTT.BrokerURL != "" {
		publisher, err := live.Connect(cfg.MQTT)
		if err != nil {
			log.Warn().Err(err).Msg("live availability updates disabled")
		} else {
			defer publisher.Close()
			slotOpts = append(slotOpts, slots.WithNotifier(publisher))
			bookingOpts = append(bookingOpts, booking.WithNotifier(publisher))
		}
	}

	generator := schedule.NewGenerator(
		schedule.WithMaxHorizonWeeks(cfg.Scheduling.MaxHorizonWeeks),
		schedule.WithAllowedSlotMinutes(cfg.Scheduling.AllowedSlotMinutes),
		schedule.WithDefaultTimezone(cfg.Scheduling.DefaultTimezone),
	)
	slotService := slots.NewSlotService(store.Slots, store.Forms, generator, cfg.Scheduling.MaxSlotsPerForm, slotOpts...)
	bookingService := booking.NewBookingService(
		store.Slots,
		store.Forms,
		store.Registrations,
		redisCache,
		producer,
		cfg.Kafka.BookingTopic,
		bookingOpts...,
	)
	formService := forms.NewFormService(store.Forms, slotService, redisCache, cfg.Scheduling.DefaultTimezone)

	router := api.NewRouter(
		api.RouterConfig{JWTSecret: cfg.Auth.JWTSecret, AllowOrigins: cfg.HTTP.AllowOrigins},
		api.NewFormHandler(formService, slotService),
		api.NewRegistrationHandler(slotService, bookingService),
		api.NewIntentHandler(conversations, formService, slotService),
	)

	if err := bootstrap.Run(ctx, cfg, router, slotsapi.NewServer(slotService, bookingService)); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}
