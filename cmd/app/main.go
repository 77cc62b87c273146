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
	"github.com/Domenick1991/docbooking/internal/payment/esewa"
	"github.com/Domenick1991/docbooking/internal/payment/khalti"
	"github.com/Domenick1991/docbooking/internal/repository"
	"github.com/Domenick1991/docbooking/internal/service/booking"
	"github.com/Domenick1991/docbooking/internal/service/slots"
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
	esewaClient := esewa.NewClient(cfg.Payment.Esewa, cfg.Payment.CallbackURL, redirects.Failure("Payment cancelled"), timeout, zl)
	khaltiClient := khalti.NewClient(cfg.Payment.Khalti, cfg.Payment.CallbackURL+"/khalti", timeout, zl)

	slotRepo := repository.NewSlotRepository(pool)
	bookingRepo := repository.NewBookingRepository(pool)
	slotService := slots.NewSlotService(slotRepo, redisCache, zl)
	bookingService := booking.NewBookingService(
		bookingRepo,
		slotRepo,
		redisCache,
		publisher,
		redirects,
		cfg.Kafka.BookingTopic,
		time.Duration(cfg.Booking.HoldTTLMinutes)*time.Minute,
		booking.WithNotificationsTopic(cfg.Kafka.NotificationsTopic),
		booking.WithGateway(domain.PaymentMethodEsewa, esewaClient),
		booking.WithGateway(domain.PaymentMethodKhalti, khaltiClient),
		booking.WithLogger(zl),
	)

	router := bootstrap.NewRouter(pool, slotService, bookingService, zl)
	if err := bootstrap.Run(ctx, cfg, router, zl); err != nil {
		zl.Fatal("server error", zap.Error(err))
	}
}
