package domain

import "errors"

var (
	ErrSlotNotFound             = errors.New("slot not found")
	ErrSlotUnavailable          = errors.New("appointment is not available")
	ErrInvalidSlot              = errors.New("invalid slot")
	ErrBookingNotFound          = errors.New("booking not found")
	ErrInvalidBooking           = errors.New("invalid booking or payment status")
	ErrDuplicateTransaction     = errors.New("transaction id already used")
	ErrUnsupportedPaymentMethod = errors.New("unsupported payment method")
	ErrInvalidCallbackPayload   = errors.New("invalid callback data")
	ErrConfiguration            = errors.New("payment configuration error")
	ErrVerificationFailed       = errors.New("payment verification failed")
)
