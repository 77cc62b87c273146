package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentMethodCash   PaymentMethod = "cash"
	PaymentMethodEsewa  PaymentMethod = "esewa"
	PaymentMethodKhalti PaymentMethod = "khalti"
)

func ParsePaymentMethod(s string) (PaymentMethod, error) {
	m := PaymentMethod(s)
	switch m {
	case PaymentMethodCash, PaymentMethodEsewa, PaymentMethodKhalti:
		return m, nil
	}
	return "", ErrUnsupportedPaymentMethod
}

// IsGateway reports whether the method settles through an external payment gateway.
func (m PaymentMethod) IsGateway() bool {
	switch m {
	case PaymentMethodEsewa, PaymentMethodKhalti:
		return true
	case PaymentMethodCash:
		return false
	}
	return false
}

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

type Booking struct {
	ID             int64           `json:"id"`
	SlotID         int64           `json:"slot_id"`
	UserID         int64           `json:"user_id"`
	Price          decimal.Decimal `json:"price"`
	PaymentMethod  PaymentMethod   `json:"payment_method"`
	PaymentStatus  PaymentStatus   `json:"payment_status"`
	TransactionRef *string         `json:"transaction_id,omitempty"`
	GatewayRef     *string         `json:"-"`
	FailureReason  *string         `json:"failure_reason,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func (b *Booking) TxRef() string {
	if b == nil || b.TransactionRef == nil {
		return ""
	}
	return *b.TransactionRef
}

func (b *Booking) GatewayReference() string {
	if b == nil || b.GatewayRef == nil {
		return ""
	}
	return *b.GatewayRef
}

// VerificationStatus is a gateway-reported payment state, normalized so that
// a confirmed payment is always VerificationComplete.
type VerificationStatus string

const (
	VerificationComplete VerificationStatus = "COMPLETE"
	VerificationFailed   VerificationStatus = "FAILED"
)

func (s VerificationStatus) IsComplete() bool {
	return s == VerificationComplete
}

// PaymentInitiation is what a client needs to hand the payer over to a gateway.
// Form gateways fill FormURL/FormData; redirect gateways fill PaymentURL.
type PaymentInitiation struct {
	Method     PaymentMethod     `json:"payment_method"`
	FormURL    string            `json:"form_url,omitempty"`
	FormData   map[string]string `json:"form_data,omitempty"`
	PaymentURL string            `json:"payment_url,omitempty"`
	GatewayRef string            `json:"gateway_ref,omitempty"`
}

// Outcome is the result of finalizing a gateway payment.
type Outcome struct {
	Booking *Booking
	Status  VerificationStatus
	// Changed is false when the booking had already left the pending state.
	Changed bool
}
