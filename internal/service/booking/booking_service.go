package booking

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Domenick1991/docbooking/internal/domain"
	"github.com/Domenick1991/docbooking/internal/events"
	"github.com/Domenick1991/docbooking/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type BookingUseCase interface {
	CreateBooking(ctx context.Context, input CreateBookingInput) (*domain.Booking, error)
	GetBooking(ctx context.Context, id int64) (*domain.Booking, error)
	ListUserBookings(ctx context.Context, userID int64) ([]domain.Booking, error)
	InitiatePayment(ctx context.Context, bookingID int64) (*domain.PaymentInitiation, error)
	HandleCallback(ctx context.Context, data string) (string, error)
	HandleKhaltiCallback(ctx context.Context, purchaseOrderID, pidx string) (string, error)
	CheckStatus(ctx context.Context, bookingID int64) (*domain.Outcome, error)
	ReconcilePending(ctx context.Context) ([]domain.Booking, error)
}

type Cache interface {
	InvalidateSlots(ctx context.Context, doctorID int64) error
	MarkCallbackProcessed(ctx context.Context, transactionRef string, status domain.PaymentStatus) error
	CallbackOutcome(ctx context.Context, transactionRef string) (domain.PaymentStatus, error)
}

type Producer interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
}

// Gateway is the contract every payment adapter satisfies. Verify never
// returns an error: problems talking to the gateway come back as
// domain.VerificationFailed.
type Gateway interface {
	Initiate(ctx context.Context, b *domain.Booking) (*domain.PaymentInitiation, error)
	Verify(ctx context.Context, b *domain.Booking) domain.VerificationStatus
}

type SlotReader interface {
	GetByID(ctx context.Context, id int64) (*domain.Slot, error)
}

type BookingService struct {
	bookings           repository.BookingRepository
	slots              SlotReader
	cache              Cache
	producer           Producer
	gateways           map[domain.PaymentMethod]Gateway
	redirects          Redirects
	bookingTopic       string
	notificationsTopic string
	holdTTL            time.Duration
	log                *zap.Logger
}

type CreateBookingInput struct {
	SlotID         int64                `json:"slot_id"`
	UserID         int64                `json:"user_id"`
	PaymentMethod  domain.PaymentMethod `json:"payment_method"`
	Price          decimal.Decimal      `json:"price"`
	TransactionRef string               `json:"transaction_id"`
}

type BookingServiceOption func(*BookingService)

func WithNotificationsTopic(topic string) BookingServiceOption {
	return func(s *BookingService) {
		s.notificationsTopic = topic
	}
}

func WithGateway(method domain.PaymentMethod, gw Gateway) BookingServiceOption {
	return func(s *BookingService) {
		s.gateways[method] = gw
	}
}

func WithLogger(log *zap.Logger) BookingServiceOption {
	return func(s *BookingService) {
		s.log = log
	}
}

func NewBookingService(
	bookings repository.BookingRepository,
	slots SlotReader,
	cache Cache,
	producer Producer,
	redirects Redirects,
	bookingTopic string,
	holdTTL time.Duration,
	opts ...BookingServiceOption,
) *BookingService {
	service := &BookingService{
		bookings:     bookings,
		slots:        slots,
		cache:        cache,
		producer:     producer,
		gateways:     make(map[domain.PaymentMethod]Gateway),
		redirects:    redirects,
		bookingTopic: bookingTopic,
		holdTTL:      holdTTL,
		log:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

func (s *BookingService) CreateBooking(ctx context.Context, input CreateBookingInput) (*domain.Booking, error) {
	if input.SlotID <= 0 {
		return nil, fmt.Errorf("%w: slot_id must be positive", domain.ErrInvalidBooking)
	}
	if input.UserID <= 0 {
		return nil, fmt.Errorf("%w: user_id must be positive", domain.ErrInvalidBooking)
	}
	if input.Price.IsNegative() {
		return nil, fmt.Errorf("%w: price must not be negative", domain.ErrInvalidBooking)
	}
	method, err := domain.ParsePaymentMethod(string(input.PaymentMethod))
	if err != nil {
		return nil, err
	}

	booking := &domain.Booking{
		SlotID:        input.SlotID,
		UserID:        input.UserID,
		Price:         input.Price,
		PaymentMethod: method,
	}

	switch method {
	case domain.PaymentMethodCash:
		if input.TransactionRef != "" {
			return nil, fmt.Errorf("%w: cash bookings take no transaction reference", domain.ErrInvalidBooking)
		}
		booking.PaymentStatus = domain.PaymentStatusCompleted
	case domain.PaymentMethodEsewa, domain.PaymentMethodKhalti:
		ref := input.TransactionRef
		if ref == "" {
			ref = uuid.NewString()
		}
		booking.TransactionRef = &ref
		booking.PaymentStatus = domain.PaymentStatusPending
	}

	if err := s.bookings.Create(ctx, booking); err != nil {
		s.log.Info("booking.CreateBooking rejected",
			zap.Int64("slot_id", input.SlotID),
			zap.Int64("user_id", input.UserID),
			zap.String("payment_method", string(method)),
			zap.Error(err),
		)
		return nil, err
	}

	s.log.Info("booking.CreateBooking created",
		zap.Int64("booking_id", booking.ID),
		zap.Int64("slot_id", booking.SlotID),
		zap.String("payment_method", string(method)),
		zap.String("payment_status", string(booking.PaymentStatus)),
	)

	s.invalidateSlots(ctx, booking.SlotID)
	s.publish(ctx, events.TypeBookingCreated, booking)
	if booking.PaymentStatus == domain.PaymentStatusCompleted {
		s.publish(ctx, events.TypePaymentCompleted, booking)
	}
	return booking, nil
}

func (s *BookingService) GetBooking(ctx context.Context, id int64) (*domain.Booking, error) {
	return s.bookings.GetByID(ctx, id)
}

func (s *BookingService) ListUserBookings(ctx context.Context, userID int64) ([]domain.Booking, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("%w: user_id must be positive", domain.ErrInvalidBooking)
	}
	return s.bookings.ListByUser(ctx, userID)
}

// InitiatePayment hands a pending gateway booking to its adapter. Gateways that
// issue their own payment id have it stored for later verification.
func (s *BookingService) InitiatePayment(ctx context.Context, bookingID int64) (*domain.PaymentInitiation, error) {
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.PaymentStatus != domain.PaymentStatusPending {
		return nil, fmt.Errorf("%w: booking is %s", domain.ErrInvalidBooking, b.PaymentStatus)
	}
	gw, err := s.gatewayFor(b)
	if err != nil {
		return nil, err
	}

	initiation, err := gw.Initiate(ctx, b)
	if err != nil {
		s.log.Error("booking.InitiatePayment gateway error", zap.Int64("booking_id", b.ID), zap.Error(err))
		return nil, err
	}
	if initiation.GatewayRef != "" {
		if err := s.bookings.SetGatewayRef(ctx, b.ID, initiation.GatewayRef); err != nil {
			return nil, err
		}
	}
	return initiation, nil
}

// CheckStatus verifies a gateway booking on demand and finalizes it the same
// way a callback would.
func (s *BookingService) CheckStatus(ctx context.Context, bookingID int64) (*domain.Outcome, error) {
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !b.PaymentMethod.IsGateway() || b.TxRef() == "" {
		return nil, fmt.Errorf("%w: booking has no gateway payment", domain.ErrInvalidBooking)
	}
	return s.settle(ctx, b)
}

// ReconcilePending fails gateway bookings whose payer never came back within
// the hold period, unless the gateway reports them complete after all.
func (s *BookingService) ReconcilePending(ctx context.Context) ([]domain.Booking, error) {
	stale, err := s.bookings.ListPendingBefore(ctx, time.Now().Add(-s.holdTTL))
	if err != nil {
		return nil, err
	}

	settled := make([]domain.Booking, 0, len(stale))
	for i := range stale {
		b := &stale[i]
		gw, err := s.gatewayFor(b)
		if err != nil {
			s.log.Warn("booking.ReconcilePending no gateway", zap.Int64("booking_id", b.ID), zap.Error(err))
			continue
		}

		status := gw.Verify(ctx, b)
		if !status.IsComplete() {
			status = domain.VerificationStatus("EXPIRED:" + string(status))
		}
		outcome, err := s.finalize(ctx, b, status)
		if err != nil {
			s.log.Error("booking.ReconcilePending finalize", zap.Int64("booking_id", b.ID), zap.Error(err))
			continue
		}
		if outcome.Changed {
			settled = append(settled, *outcome.Booking)
		}
	}

	if len(settled) > 0 {
		s.log.Info("booking.ReconcilePending settled", zap.Int("count", len(settled)))
	}
	return settled, nil
}

// settle verifies a pending booking and applies the result. Bookings that
// already reached a terminal state are reported as they are.
func (s *BookingService) settle(ctx context.Context, b *domain.Booking) (*domain.Outcome, error) {
	if b.PaymentStatus != domain.PaymentStatusPending {
		return &domain.Outcome{Booking: b, Status: statusOf(b), Changed: false}, nil
	}
	gw, err := s.gatewayFor(b)
	if err != nil {
		return nil, err
	}
	return s.finalize(ctx, b, gw.Verify(ctx, b))
}

func (s *BookingService) finalize(ctx context.Context, b *domain.Booking, status domain.VerificationStatus) (*domain.Outcome, error) {
	outcome, err := s.bookings.Finalize(ctx, b.ID, status)
	if err != nil {
		return nil, err
	}
	if !outcome.Changed {
		outcome.Status = statusOf(outcome.Booking)
		return outcome, nil
	}

	final := outcome.Booking
	s.log.Info("booking.finalize payment settled",
		zap.Int64("booking_id", final.ID),
		zap.String("transaction_ref", final.TxRef()),
		zap.String("verification_status", string(status)),
		zap.String("payment_status", string(final.PaymentStatus)),
	)

	if s.cache != nil && final.TxRef() != "" {
		if err := s.cache.MarkCallbackProcessed(ctx, final.TxRef(), final.PaymentStatus); err != nil {
			s.log.Warn("booking.finalize mark processed", zap.String("transaction_ref", final.TxRef()), zap.Error(err))
		}
	}
	s.invalidateSlots(ctx, final.SlotID)
	if final.PaymentStatus == domain.PaymentStatusCompleted {
		s.publish(ctx, events.TypePaymentCompleted, final)
	} else {
		s.publish(ctx, events.TypePaymentFailed, final)
	}
	return outcome, nil
}

func (s *BookingService) gatewayFor(b *domain.Booking) (Gateway, error) {
	switch b.PaymentMethod {
	case domain.PaymentMethodEsewa, domain.PaymentMethodKhalti:
		gw, ok := s.gateways[b.PaymentMethod]
		if !ok {
			return nil, fmt.Errorf("%w: %s gateway not configured", domain.ErrConfiguration, b.PaymentMethod)
		}
		return gw, nil
	case domain.PaymentMethodCash:
		return nil, fmt.Errorf("%w: cash bookings have no gateway", domain.ErrInvalidBooking)
	}
	return nil, domain.ErrUnsupportedPaymentMethod
}

// statusOf reports the verification status a terminal booking was settled with.
func statusOf(b *domain.Booking) domain.VerificationStatus {
	switch b.PaymentStatus {
	case domain.PaymentStatusCompleted:
		return domain.VerificationComplete
	case domain.PaymentStatusFailed:
		if b.FailureReason != nil && *b.FailureReason != "" {
			return domain.VerificationStatus(*b.FailureReason)
		}
		return domain.VerificationFailed
	}
	return domain.VerificationStatus(b.PaymentStatus)
}

func (s *BookingService) invalidateSlots(ctx context.Context, slotID int64) {
	if s.cache == nil || s.slots == nil {
		return
	}
	slot, err := s.slots.GetByID(ctx, slotID)
	if err != nil {
		if !errors.Is(err, domain.ErrSlotNotFound) {
			s.log.Warn("booking.invalidateSlots lookup", zap.Int64("slot_id", slotID), zap.Error(err))
		}
		return
	}
	if err := s.cache.InvalidateSlots(ctx, slot.DoctorID); err != nil {
		s.log.Warn("booking.invalidateSlots", zap.Int64("doctor_id", slot.DoctorID), zap.Error(err))
	}
}

func (s *BookingService) publish(ctx context.Context, eventType string, b *domain.Booking) {
	if s.producer == nil {
		return
	}
	event := events.NewBookingEvent(eventType, b)
	key := strconv.FormatInt(b.ID, 10)
	for _, topic := range []string{s.bookingTopic, s.notificationsTopic} {
		if topic == "" {
			continue
		}
		if err := s.producer.Publish(ctx, topic, key, event); err != nil {
			s.log.Warn("booking.publish failed",
				zap.String("topic", topic),
				zap.String("type", eventType),
				zap.Int64("booking_id", b.ID),
				zap.Error(err),
			)
		}
	}
}

var _ BookingUseCase = (*BookingService)(nil)
