package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Domenick1991/docbooking/config"
	"github.com/Domenick1991/docbooking/internal/bootstrap"
	"github.com/Domenick1991/docbooking/internal/cache"
	"github.com/Domenick1991/docbooking/internal/domain"
	"github.com/Domenick1991/docbooking/internal/logger"
	"github.com/Domenick1991/docbooking/internal/notify"
	"github.com/Domenick1991/docbooking/internal/payment/esewa"
	"github.com/Domenick1991/docbooking/internal/payment/khalti"
	"github.com/Domenick1991/docbooking/internal/repository"
	"github.com/Domenick1991/docbooking/internal/service/booking"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	zl, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer zl.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		zl.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	redisCache := cache.NewRedisCache(cfg.Redis,
		time.Duration(cfg.Booking.SlotsCacheTTLSeconds)*time.Second,
		time.Duration(cfg.Booking.CallbackMarkerTTLMinutes)*time.Minute,
	)
	defer redisCache.Close()

	publisher, err := bootstrap.NewPublisher(cfg, zl)
	if err != nil {
		zl.Fatal("init event publisher", zap.Error(err))
	}
	defer publisher.Close()

	timeout := time.Duration(cfg.Payment.RequestTimeoutSeconds) * time.Second
	redirects := booking.Redirects{FrontendURL: cfg.Payment.FrontendURL}
	bookingService := booking.NewBookingService(
		repository.NewBookingRepository(pool),
		repository.NewSlotRepository(pool),
		redisCache,
		publisher,
		redirects,
		cfg.Kafka.BookingTopic,
		time.Duration(cfg.Booking.HoldTTLMinutes)*time.Minute,
		booking.WithNotificationsTopic(cfg.Kafka.NotificationsTopic),
		booking.WithGateway(domain.PaymentMethodEsewa, esewa.NewClient(cfg.Payment.Esewa, cfg.Payment.CallbackURL, redirects.Failure("Payment cancelled"), timeout, zl)),
		booking.WithGateway(domain.PaymentMethodKhalti, khalti.NewClient(cfg.Payment.Khalti, cfg.Payment.CallbackURL+"/khalti", timeout, zl)),
		booking.WithLogger(zl),
	)

	subscriber, err := bootstrap.NewNotificationSubscriber(cfg)
	if err != nil {
		zl.Fatal("init notification consumer", zap.Error(err))
	}
	defer subscriber.Close()

	sender := notify.NewSender(zl)
	go func() {
		if err := subscriber.Consume(ctx, sender.Handle); err != nil && ctx.Err() == nil {
			zl.Error("worker consumer stopped", zap.Error(err))
		}
	}()

	ticker := time.NewTicker(time.Duration(cfg.Worker.ReconcileSweepMinutes) * time.Minute)
	defer ticker.Stop()

	zl.Info("worker started", zap.Int("sweep_minutes", cfg.Worker.ReconcileSweepMinutes))
	for {
		select {
		case <-ticker.C:
			settled, err := bookingService.ReconcilePending(ctx)
			if err != nil {
				zl.Error("worker reconcile", zap.Error(err))
				continue
			}
			if len(settled) > 0 {
				zl.Info("worker reconciled bookings", zap.Int("count", len(settled)))
			}
		case <-ctx.Done():
			zl.Info("worker shutting down")
			return
		}
	}
}
