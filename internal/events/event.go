package events

import (
	"context"
	"time"

	"github.com/Domenick1991/docbooking/internal/domain"
)

const (
	TypeBookingCreated   = "booking_created"
	TypePaymentCompleted = "payment_completed"
	TypePaymentFailed    = "payment_failed"
)

// BookingEvent is the message published on every booking state change.
type BookingEvent struct {
	Type           string    `json:"type"`
	BookingID      int64     `json:"booking_id"`
	SlotID         int64     `json:"slot_id"`
	UserID         int64     `json:"user_id"`
	PaymentMethod  string    `json:"payment_method"`
	PaymentStatus  string    `json:"payment_status"`
	TransactionRef string    `json:"transaction_ref,omitempty"`
	Price          string    `json:"price"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func NewBookingEvent(eventType string, b *domain.Booking) BookingEvent {
	return BookingEvent{
		Type:           eventType,
		BookingID:      b.ID,
		SlotID:         b.SlotID,
		UserID:         b.UserID,
		PaymentMethod:  string(b.PaymentMethod),
		PaymentStatus:  string(b.PaymentStatus),
		TransactionRef: b.TxRef(),
		Price:          b.Price.StringFixed(2),
		OccurredAt:     time.Now().UTC(),
	}
}

// Handler processes one delivered message payload.
type Handler func(ctx context.Context, key string, payload []byte) error
