package notify

import (
	"context"
	"encoding/json"

	"github.com/Domenick1991/docbooking/internal/events"
	"go.uber.org/zap"
)

// Sender turns booking events into patient notifications. Delivery happens
// outside this service; the notification is recorded in the log.
type Sender struct {
	log *zap.Logger
}

func NewSender(log *zap.Logger) *Sender {
	return &Sender{log: log}
}

func (s *Sender) Send(ctx context.Context, event events.BookingEvent) error {
	s.log.Info("notify.Send "+subject(event.Type),
		zap.Int64("user_id", event.UserID),
		zap.Int64("booking_id", event.BookingID),
		zap.Int64("slot_id", event.SlotID),
		zap.String("payment_method", event.PaymentMethod),
		zap.String("payment_status", event.PaymentStatus),
		zap.String("price", event.Price),
	)
	return nil
}

// Handle decodes a broker message and sends it. Undecodable messages are
// logged and dropped so they do not block the stream.
func (s *Sender) Handle(ctx context.Context, key string, payload []byte) error {
	var event events.BookingEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		s.log.Warn("notify.Handle decode event", zap.String("key", key), zap.Error(err))
		return nil
	}
	return s.Send(ctx, event)
}

func subject(eventType string) string {
	switch eventType {
	case events.TypeBookingCreated:
		return "appointment requested"
	case events.TypePaymentCompleted:
		return "appointment confirmed"
	case events.TypePaymentFailed:
		return "payment failed"
	}
	return eventType
}
