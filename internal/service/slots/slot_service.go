package slots

import (
	"context"
	"fmt"
	"time"

	"github.com/Domenick1991/docbooking/internal/domain"
	"github.com/Domenick1991/docbooking/internal/repository"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

type SlotUseCase interface {
	Create(ctx context.Context, input CreateSlotInput) (*domain.Slot, error)
	GetByID(ctx context.Context, id int64) (*domain.Slot, error)
	List(ctx context.Context, doctorID int64, availableOnly bool) ([]domain.Slot, error)
	SetStatus(ctx context.Context, id int64, status domain.SlotStatus) (*domain.Slot, error)
	Delete(ctx context.Context, id int64) error
}

type SlotCache interface {
	GetAvailableSlots(ctx context.Context, doctorID int64) ([]domain.Slot, error)
	SetAvailableSlots(ctx context.Context, doctorID int64, slots []domain.Slot) error
	InvalidateSlots(ctx context.Context, doctorID int64) error
}

type CreateSlotInput struct {
	DoctorID      int64             `json:"doctor_id" validate:"required,gt=0"`
	Date          string            `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime     string            `json:"start_time" validate:"required,datetime=15:04"`
	EndTime       string            `json:"end_time" validate:"required,datetime=15:04"`
	Status        domain.SlotStatus `json:"status" validate:"omitempty,oneof=available booked break"`
	ServiceCharge *decimal.Decimal  `json:"service_charge"`
}

type SlotService struct {
	repo     repository.SlotRepository
	cache    SlotCache
	validate *validator.Validate
	log      *zap.Logger
}

func NewSlotService(repo repository.SlotRepository, cache SlotCache, log *zap.Logger) *SlotService {
	return &SlotService{repo: repo, cache: cache, validate: validator.New(), log: log}
}

func (s *SlotService) Create(ctx context.Context, input CreateSlotInput) (*domain.Slot, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSlot, err)
	}
	date, err := time.Parse(dateLayout, input.Date)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSlot, err)
	}
	// HH:MM compares correctly as a string once the format is validated
	if input.EndTime <= input.StartTime {
		return nil, fmt.Errorf("%w: end_time must be after start_time", domain.ErrInvalidSlot)
	}

	slot := &domain.Slot{
		DoctorID:  input.DoctorID,
		Date:      date,
		StartTime: input.StartTime,
		EndTime:   input.EndTime,
		Status:    input.Status,
	}
	if slot.Status == "" {
		slot.Status = domain.SlotStatusAvailable
	}
	if input.ServiceCharge != nil {
		if input.ServiceCharge.IsNegative() {
			return nil, fmt.Errorf("%w: service_charge must not be negative", domain.ErrInvalidSlot)
		}
		slot.ServiceCharge = decimal.NewNullDecimal(*input.ServiceCharge)
	}

	if err := s.repo.Create(ctx, slot); err != nil {
		return nil, err
	}
	s.log.Info("slots.Create created", zap.Int64("slot_id", slot.ID), zap.Int64("doctor_id", slot.DoctorID))
	s.invalidate(ctx, slot.DoctorID)
	return slot, nil
}

func (s *SlotService) GetByID(ctx context.Context, id int64) (*domain.Slot, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns a doctor's slots; doctorID 0 lists every doctor. Available-only
// listings are served from the cache when possible.
func (s *SlotService) List(ctx context.Context, doctorID int64, availableOnly bool) ([]domain.Slot, error) {
	if availableOnly && s.cache != nil {
		if cached, err := s.cache.GetAvailableSlots(ctx, doctorID); err == nil && cached != nil {
			return cached, nil
		}
	}

	slots, err := s.repo.List(ctx, repository.SlotFilter{DoctorID: doctorID, AvailableOnly: availableOnly})
	if err != nil {
		return nil, err
	}
	if availableOnly && s.cache != nil {
		if err := s.cache.SetAvailableSlots(ctx, doctorID, slots); err != nil {
			s.log.Warn("slots.List cache set", zap.Int64("doctor_id", doctorID), zap.Error(err))
		}
	}
	return slots, nil
}

func (s *SlotService) SetStatus(ctx context.Context, id int64, status domain.SlotStatus) (*domain.Slot, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidSlot, status)
	}
	slot, err := s.repo.UpdateStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}
	s.log.Info("slots.SetStatus changed", zap.Int64("slot_id", id), zap.String("status", string(status)))
	s.invalidate(ctx, slot.DoctorID)
	return slot, nil
}

func (s *SlotService) Delete(ctx context.Context, id int64) error {
	slot, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, slot.DoctorID)
	return nil
}

func (s *SlotService) invalidate(ctx context.Context, doctorID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateSlots(ctx, doctorID); err != nil {
		s.log.Warn("slots.invalidate", zap.Int64("doctor_id", doctorID), zap.Error(err))
	}
}

var _ SlotUseCase = (*SlotService)(nil)
