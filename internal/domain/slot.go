package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type SlotStatus string

const (
	SlotStatusAvailable SlotStatus = "available"
	SlotStatusBooked    SlotStatus = "booked"
	SlotStatusBreak     SlotStatus = "break"
)

func (s SlotStatus) Valid() bool {
	switch s {
	case SlotStatusAvailable, SlotStatusBooked, SlotStatusBreak:
		return true
	}
	return false
}

// CanTransitionTo reports whether an administrative status change is allowed.
// available -> booked happens only through a confirmed booking, and a booked
// slot never becomes available again.
func (s SlotStatus) CanTransitionTo(next SlotStatus) bool {
	switch next {
	case SlotStatusBreak:
		return true
	case SlotStatusAvailable:
		return s == SlotStatusAvailable || s == SlotStatusBreak
	case SlotStatusBooked:
		return s == SlotStatusBooked
	}
	return false
}

type Slot struct {
	ID            int64               `json:"id"`
	DoctorID      int64               `json:"doctor_id"`
	Date          time.Time           `json:"date"`
	StartTime     string              `json:"start_time"`
	EndTime       string              `json:"end_time"`
	Status        SlotStatus          `json:"status"`
	ServiceCharge decimal.NullDecimal `json:"service_charge"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}
