package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/DEFRA/fcp-sfd-comms-sub000/internal/config"
	"github.com/DEFRA/fcp-sfd-comms-sub000/internal/database/postgres"
	"github.com/DEFRA/fcp-sfd-comms-sub000/internal/database/redis"
	"github.com/DEFRA/fcp-sfd-comms-sub000/internal/event"
	"github.com/DEFRA/fcp-sfd-comms-sub000/internal/provider"
	"github.com/DEFRA/fcp-sfd-comms-sub000/internal/repository"
	"github.com/DEFRA/fcp-sfd-comms-sub000/internal/schema"
	"github.com/DEFRA/fcp-sfd-comms-sub000/internal/services"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg := config.New()

	db, err := postgres.Connect(cfg.PostgresCfg)
	if err != nil {
		slog.Error("Failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := postgres.EnsureSchema(db); err != nil {
		slog.Error("Failed to ensure schema", "error", err)
		os.Exit(1)
	}

	redisClient, err := redis.NewRedisClient(cfg.RedisCfg)
	if err != nil {
		slog.Error("Failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	rabbitConn, err := event.ConnectRabbitMQ(cfg.RabbitMQCfg)
	if err != nil {
		slog.Error("Failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer rabbitConn.Close()

	notifyClient := provider.NewNotifyClient(cfg.ProviderCfg)
	repo := repository.NewNotificationRepository(db)
	publisher := event.NewCommsPublisher(rabbitConn.Channel, cfg.ConsumerCfg.EventsQueue, cfg.ConsumerCfg.QueueName)
	emitter := services.NewEmitterService(publisher)
	retrier := services.NewRetryService(repo, publisher, emitter, cfg.RetryCfg)

	sweepLock := redis.NewSweepLock(redisClient, "comms:status-sweep:lock", uuid.NewString(), cfg.StatusCfg.SweepLockTTL)
	statusService := services.NewStatusService(repo, notifyClient, emitter, retrier, sweepLock, cfg.StatusCfg)
	dispatcher := services.NewDispatchService(repo, notifyClient, emitter, statusService, retrier)
	intake := services.NewIntakeService(schema.New(), repo, emitter, dispatcher)

	consumer, err := event.NewQueueConsumer(rabbitConn.Channel, cfg.ConsumerCfg, intake)
	if err != nil {
		slog.Error("Failed to set up queue consumer", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := consumer.StartConsuming(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("Consumer stopped", "error", err)
		}
	}()

	scheduler := cron.New()
	_, err = scheduler.AddFunc(cfg.StatusCfg.SweepSchedule, func() {
		if err := statusService.Sweep(ctx); err != nil && !errors.Is(err, services.ErrSweepAlreadyRunning) {
			slog.Error("Status sweep failed", "error", err)
		}
	})
	if err != nil {
		slog.Error("Failed to schedule status sweep", "error", err)
		os.Exit(1)
	}
	scheduler.Start()
	defer scheduler.Stop()

	app := fiber.New()
	app.Get("/checkhealth", func(c fiber.Ctx) error {
		return c.Status(fiber.StatusOK).SendString("Comms service is healthy")
	})
	app.Get("/stats", func(c fiber.Ctx) error {
		return c.JSON(publisher.GetStats())
	})

	go func() {
		slog.Info("Starting health endpoint", "port", cfg.Port)
		if err := app.Listen(fmt.Sprintf("0.0.0.0:%s", cfg.Port)); err != nil {
			slog.Error("Health endpoint stopped", "error", err)
		}
	}()

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	<-shutdownChan
	slog.Info("Shutting down comms service")

	cancel()
	<-consumerDone
	if err := app.Shutdown(); err != nil {
		slog.Error("Failed to shut down health endpoint", "error", err)
	}
}
