package booking

import (
	"context"
	"sync"
	"time"

	"github.com/Domenick1991/docbooking/internal/domain"
	"github.com/Domenick1991/docbooking/internal/repository"
)

// memStore mimics the Postgres repository: every write touching a slot holds
// that slot's mutex for its whole duration, like SELECT ... FOR UPDATE.
type memStore struct {
	mu        sync.Mutex
	slotLocks map[int64]*sync.Mutex
	slots     map[int64]*domain.Slot
	bookings  map[int64]*domain.Booking
	nextID    int64
}

func newMemStore(slots ...domain.Slot) *memStore {
	s := &memStore{
		slotLocks: make(map[int64]*sync.Mutex),
		slots:     make(map[int64]*domain.Slot),
		bookings:  make(map[int64]*domain.Booking),
	}
	for i := range slots {
		slot := slots[i]
		s.slots[slot.ID] = &slot
	}
	return s
}

func (s *memStore) lockSlot(id int64) func() {
	s.mu.Lock()
	l, ok := s.slotLocks[id]
	if !ok {
		l = &sync.Mutex{}
		s.slotLocks[id] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (s *memStore) slot(id int64) domain.Slot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.slots[id]
}

func (s *memStore) booking(id int64) domain.Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.bookings[id]
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bookings)
}

func (s *memStore) backdate(id int64, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings[id].CreatedAt = s.bookings[id].CreatedAt.Add(-d)
}

func (s *memStore) GetByID(ctx context.Context, id int64) (*domain.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.slots[id]
	if !ok {
		return nil, domain.ErrSlotNotFound
	}
	out := *slot
	return &out, nil
}

// memBookings is the BookingRepository view of memStore.
type memBookings struct {
	*memStore
}

func (r memBookings) Create(ctx context.Context, b *domain.Booking) error {
	unlock := r.lockSlot(b.SlotID)
	defer unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	slot, ok := r.slots[b.SlotID]
	if !ok {
		return domain.ErrSlotNotFound
	}
	if slot.Status != domain.SlotStatusAvailable {
		return domain.ErrSlotUnavailable
	}
	for _, existing := range r.bookings {
		if existing.SlotID == b.SlotID && existing.PaymentStatus != domain.PaymentStatusFailed {
			return domain.ErrSlotUnavailable
		}
		if b.TxRef() != "" && existing.TxRef() == b.TxRef() {
			return domain.ErrDuplicateTransaction
		}
	}

	r.nextID++
	b.ID = r.nextID
	b.CreatedAt = time.Now()
	b.UpdatedAt = b.CreatedAt
	stored := *b
	r.bookings[b.ID] = &stored
	if b.PaymentStatus == domain.PaymentStatusCompleted {
		slot.Status = domain.SlotStatusBooked
	}
	return nil
}

func (r memBookings) GetByID(ctx context.Context, id int64) (*domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return nil, domain.ErrBookingNotFound
	}
	out := *b
	return &out, nil
}

func (r memBookings) GetByTransactionRef(ctx context.Context, ref string) (*domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.bookings {
		if b.TxRef() == ref {
			out := *b
			return &out, nil
		}
	}
	return nil, domain.ErrBookingNotFound
}

func (r memBookings) ListByUser(ctx context.Context, userID int64) ([]domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Booking, 0)
	for _, b := range r.bookings {
		if b.UserID == userID {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (r memBookings) SetGatewayRef(ctx context.Context, id int64, ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return domain.ErrBookingNotFound
	}
	for otherID, other := range r.bookings {
		if otherID != id && other.GatewayReference() == ref {
			return domain.ErrDuplicateTransaction
		}
	}
	b.GatewayRef = &ref
	return nil
}

func (r memBookings) Finalize(ctx context.Context, id int64, status domain.VerificationStatus) (*domain.Outcome, error) {
	r.mu.Lock()
	b, ok := r.bookings[id]
	r.mu.Unlock()
	if !ok {
		return nil, domain.ErrBookingNotFound
	}

	unlock := r.lockSlot(b.SlotID)
	defer unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if b.PaymentStatus != domain.PaymentStatusPending {
		out := *b
		return &domain.Outcome{Booking: &out, Status: status}, nil
	}
	if status.IsComplete() {
		b.PaymentStatus = domain.PaymentStatusCompleted
		b.FailureReason = nil
		if slot := r.slots[b.SlotID]; slot.Status == domain.SlotStatusAvailable {
			slot.Status = domain.SlotStatusBooked
		}
	} else {
		reason := string(status)
		b.PaymentStatus = domain.PaymentStatusFailed
		b.FailureReason = &reason
	}
	b.UpdatedAt = time.Now()
	out := *b
	return &domain.Outcome{Booking: &out, Status: status, Changed: true}, nil
}

func (r memBookings) ListPendingBefore(ctx context.Context, deadline time.Time) ([]domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Booking, 0)
	for _, b := range r.bookings {
		if b.PaymentStatus == domain.PaymentStatusPending && b.PaymentMethod.IsGateway() && !b.CreatedAt.After(deadline) {
			out = append(out, *b)
		}
	}
	return out, nil
}

var _ repository.BookingRepository = memBookings{}
