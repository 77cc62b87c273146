package booking

import (
	"context"
	"encoding/base64"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Domenick1991/docbooking/internal/domain"
	"github.com/Domenick1991/docbooking/internal/events"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Initiate(ctx context.Context, b *domain.Booking) (*domain.PaymentInitiation, error) {
	args := m.Called(ctx, b)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PaymentInitiation), args.Error(1)
}

func (m *MockGateway) Verify(ctx context.Context, b *domain.Booking) domain.VerificationStatus {
	args := m.Called(ctx, b)
	return args.Get(0).(domain.VerificationStatus)
}

type fakeCache struct {
	mu          sync.Mutex
	invalidated []int64
	markers     map[string]domain.PaymentStatus
}

func newFakeCache() *fakeCache {
	return &fakeCache{markers: make(map[string]domain.PaymentStatus)}
}

func (c *fakeCache) InvalidateSlots(ctx context.Context, doctorID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, doctorID)
	return nil
}

func (c *fakeCache) MarkCallbackProcessed(ctx context.Context, ref string, status domain.PaymentStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markers[ref] = status
	return nil
}

func (c *fakeCache) CallbackOutcome(ctx context.Context, ref string) (domain.PaymentStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.markers[ref], nil
}

type published struct {
	topic string
	key   string
	event events.BookingEvent
}

type recordingProducer struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (p *recordingProducer) Publish(ctx context.Context, topic, key string, value interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, published{topic: topic, key: key, event: value.(events.BookingEvent)})
	return p.err
}

func (p *recordingProducer) types(topic string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, m := range p.sent {
		if m.topic == topic {
			out = append(out, m.event.Type)
		}
	}
	return out
}

const frontend = "http://front.local"

type fixture struct {
	store    *memStore
	cache    *fakeCache
	producer *recordingProducer
	esewa    *MockGateway
	khalti   *MockGateway
	service  *BookingService
}

func newFixture(t *testing.T, slots ...domain.Slot) *fixture {
	t.Helper()
	if len(slots) == 0 {
		slots = []domain.Slot{{ID: 1, DoctorID: 7, StartTime: "09:00", EndTime: "09:30", Status: domain.SlotStatusAvailable}}
	}
	f := &fixture{
		store:    newMemStore(slots...),
		cache:    newFakeCache(),
		producer: &recordingProducer{},
		esewa:    &MockGateway{},
		khalti:   &MockGateway{},
	}
	f.service = NewBookingService(
		memBookings{f.store},
		f.store,
		f.cache,
		f.producer,
		Redirects{FrontendURL: frontend},
		"booking_topic",
		15*time.Minute,
		WithNotificationsTopic("notifications_topic"),
		WithGateway(domain.PaymentMethodEsewa, f.esewa),
		WithGateway(domain.PaymentMethodKhalti, f.khalti),
		WithLogger(zap.NewNop()),
	)
	return f
}

func price(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func encodePayload(json string) string {
	return base64.StdEncoding.EncodeToString([]byte(json))
}

func TestBookingService_CreateBooking_Cash(t *testing.T) {
	f := newFixture(t)

	b, err := f.service.CreateBooking(context.Background(), CreateBookingInput{
		SlotID: 1, UserID: 10, PaymentMethod: domain.PaymentMethodCash, Price: price("500.00"),
	})
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusCompleted, b.PaymentStatus)
	assert.Nil(t, b.TransactionRef)
	assert.Equal(t, domain.SlotStatusBooked, f.store.slot(1).Status)
	assert.Equal(t, []int64{7}, f.cache.invalidated)
	assert.Equal(t, []string{events.TypeBookingCreated, events.TypePaymentCompleted}, f.producer.types("booking_topic"))
	assert.Equal(t, []string{events.TypeBookingCreated, events.TypePaymentCompleted}, f.producer.types("notifications_topic"))
}

func TestBookingService_CreateBooking_CashRejectsTransactionRef(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.CreateBooking(context.Background(), CreateBookingInput{
		SlotID: 1, UserID: 10, PaymentMethod: domain.PaymentMethodCash, Price: price("500"), TransactionRef: "TX1",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidBooking)
	assert.Equal(t, 0, f.store.count())
}

func TestBookingService_CreateBooking_GatewayKeepsSlotAvailable(t *testing.T) {
	f := newFixture(t)

	b, err := f.service.CreateBooking(context.Background(), CreateBookingInput{
		SlotID: 1, UserID: 10, PaymentMethod: domain.PaymentMethodEsewa, Price: price("500.00"),
	})
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusPending, b.PaymentStatus)
	require.NotNil(t, b.TransactionRef)
	assert.NotEmpty(t, *b.TransactionRef)
	assert.Equal(t, domain.SlotStatusAvailable, f.store.slot(1).Status)
	assert.Equal(t, []string{events.TypeBookingCreated}, f.producer.types("booking_topic"))
}

func TestBookingService_CreateBooking_KeepsSuppliedRef(t *testing.T) {
	f := newFixture(t)

	b, err := f.service.CreateBooking(context.Background(), CreateBookingInput{
		SlotID: 1, UserID: 10, PaymentMethod: domain.PaymentMethodKhalti, Price: price("500"), TransactionRef: "TX1",
	})
	require.NoError(t, err)
	assert.Equal(t, "TX1", b.TxRef())
}

func TestBookingService_CreateBooking_DuplicateRef(t *testing.T) {
	f := newFixture(t,
		domain.Slot{ID: 1, DoctorID: 7, Status: domain.SlotStatusAvailable},
		domain.Slot{ID: 2, DoctorID: 7, Status: domain.SlotStatusAvailable},
	)
	ctx := context.Background()

	_, err := f.service.CreateBooking(ctx, CreateBookingInput{SlotID: 1, UserID: 10, PaymentMethod: domain.PaymentMethodEsewa, Price: price("500"), TransactionRef: "TX1"})
	require.NoError(t, err)

	_, err = f.service.CreateBooking(ctx, CreateBookingInput{SlotID: 2, UserID: 11, PaymentMethod: domain.PaymentMethodEsewa, Price: price("500"), TransactionRef: "TX1"})
	assert.ErrorIs(t, err, domain.ErrDuplicateTransaction)
}

func TestBookingService_CreateBooking_Validation(t *testing.T) {
	testCases := []struct {
		name     string
		input    CreateBookingInput
		expected error
	}{
		{name: "missing slot", input: CreateBookingInput{UserID: 1, PaymentMethod: domain.PaymentMethodCash, Price: price("1")}, expected: domain.ErrInvalidBooking},
		{name: "missing user", input: CreateBookingInput{SlotID: 1, PaymentMethod: domain.PaymentMethodCash, Price: price("1")}, expected: domain.ErrInvalidBooking},
		{name: "negative price", input: CreateBookingInput{SlotID: 1, UserID: 1, PaymentMethod: domain.PaymentMethodCash, Price: price("-1")}, expected: domain.ErrInvalidBooking},
		{name: "unknown method", input: CreateBookingInput{SlotID: 1, UserID: 1, PaymentMethod: "card", Price: price("1")}, expected: domain.ErrUnsupportedPaymentMethod},
		{name: "unknown slot", input: CreateBookingInput{SlotID: 99, UserID: 1, PaymentMethod: domain.PaymentMethodCash, Price: price("1")}, expected: domain.ErrSlotNotFound},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.service.CreateBooking(context.Background(), tc.input)
			assert.ErrorIs(t, err, tc.expected)
			assert.Equal(t, 0, f.store.count())
		})
	}
}

func TestBookingService_CreateBooking_SlotNotAvailable(t *testing.T) {
	for _, status := range []domain.SlotStatus{domain.SlotStatusBooked, domain.SlotStatusBreak} {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(t, domain.Slot{ID: 1, DoctorID: 7, Status: status})

			for _, method := range []domain.PaymentMethod{domain.PaymentMethodCash, domain.PaymentMethodEsewa} {
				_, err := f.service.CreateBooking(context.Background(), CreateBookingInput{SlotID: 1, UserID: 10, PaymentMethod: method, Price: price("500")})
				assert.ErrorIs(t, err, domain.ErrSlotUnavailable)
			}
			assert.Equal(t, 0, f.store.count())
			assert.Equal(t, status, f.store.slot(1).Status)
		})
	}
}

func runConcurrently(f *fixture, inputs ...CreateBookingInput) []error {
	errs := make([]error, len(inputs))
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := range inputs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = f.service.CreateBooking(context.Background(), inputs[i])
		}(i)
	}
	close(start)
	wg.Wait()
	return errs
}

func assertOneWinner(t *testing.T, errs []error) {
	t.Helper()
	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrSlotUnavailable)
	}
	assert.Equal(t, 1, succeeded)
}

func TestBookingService_CreateBooking_ConcurrentCash(t *testing.T) {
	f := newFixture(t)

	errs := runConcurrently(f,
		CreateBookingInput{SlotID: 1, UserID: 10, PaymentMethod: domain.PaymentMethodCash, Price: price("500.00")},
		CreateBookingInput{SlotID: 1, UserID: 11, PaymentMethod: domain.PaymentMethodCash, Price: price("500.00")},
	)

	assertOneWinner(t, errs)
	assert.Equal(t, 1, f.store.count())
	assert.Equal(t, domain.SlotStatusBooked, f.store.slot(1).Status)
}

func TestBookingService_CreateBooking_ConcurrentGateway(t *testing.T) {
	f := newFixture(t)

	errs := runConcurrently(f,
		CreateBookingInput{SlotID: 1, UserID: 10, PaymentMethod: domain.PaymentMethodEsewa, Price: price("500.00")},
		CreateBookingInput{SlotID: 1, UserID: 11, PaymentMethod: domain.PaymentMethodKhalti, Price: price("500.00")},
	)

	assertOneWinner(t, errs)
	assert.Equal(t, 1, f.store.count())
	assert.Equal(t, domain.SlotStatusAvailable, f.store.slot(1).Status)
}

func createPending(t *testing.T, f *fixture, method domain.PaymentMethod, ref string) *domain.Booking {
	t.Helper()
	b, err := f.service.CreateBooking(context.Background(), CreateBookingInput{
		SlotID: 1, UserID: 10, PaymentMethod: method, Price: price("500.00"), TransactionRef: ref,
	})
	require.NoError(t, err)
	return b
}

func TestBookingService_HandleCallback_Complete(t *testing.T) {
	f := newFixture(t)
	b := createPending(t, f, domain.PaymentMethodEsewa, "TX1")
	f.esewa.On("Verify", mock.Anything, mock.MatchedBy(func(got *domain.Booking) bool {
		return got.TxRef() == "TX1" && got.Price.Equal(price("500"))
	})).Return(domain.VerificationComplete).Once()

	data := encodePayload(`{"transaction_uuid":"TX1","total_amount":"500.00","status":"COMPLETE"}`)
	redirect, err := f.service.HandleCallback(context.Background(), data)

	require.NoError(t, err)
	assert.Equal(t, frontend+"/paymentsuccess?data="+url.QueryEscape(data), redirect)
	assert.Equal(t, domain.PaymentStatusCompleted, f.store.booking(b.ID).PaymentStatus)
	assert.Equal(t, domain.SlotStatusBooked, f.store.slot(1).Status)
	assert.Equal(t, domain.PaymentStatusCompleted, f.cache.markers["TX1"])
	assert.Contains(t, f.producer.types("booking_topic"), events.TypePaymentCompleted)
	f.esewa.AssertExpectations(t)
}

func TestBookingService_HandleCallback_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	b := createPending(t, f, domain.PaymentMethodEsewa, "TX1")
	f.esewa.On("Verify", mock.Anything, mock.Anything).Return(domain.VerificationComplete).Once()

	data := encodePayload(`{"transaction_uuid":"TX1","total_amount":"500.00"}`)
	first, err := f.service.HandleCallback(context.Background(), data)
	require.NoError(t, err)

	// a lost marker still must not trigger a second verification
	delete(f.cache.markers, "TX1")
	second, err := f.service.HandleCallback(context.Background(), data)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, domain.PaymentStatusCompleted, f.store.booking(b.ID).PaymentStatus)
	assert.Equal(t, []string{events.TypeBookingCreated, events.TypePaymentCompleted}, f.producer.types("booking_topic"))
	f.esewa.AssertExpectations(t)
}

func TestBookingService_HandleCallback_NotComplete(t *testing.T) {
	f := newFixture(t)
	b := createPending(t, f, domain.PaymentMethodEsewa, "TX1")
	f.esewa.On("Verify", mock.Anything, mock.Anything).Return(domain.VerificationStatus("PENDING")).Once()

	redirect, err := f.service.HandleCallback(context.Background(), encodePayload(`{"transaction_uuid":"TX1"}`))

	assert.ErrorIs(t, err, domain.ErrVerificationFailed)
	assert.Equal(t, frontend+"/paymentfailure?error=Payment+verification+failed%3A+PENDING", redirect)
	stored := f.store.booking(b.ID)
	assert.Equal(t, domain.PaymentStatusFailed, stored.PaymentStatus)
	require.NotNil(t, stored.FailureReason)
	assert.Equal(t, "PENDING", *stored.FailureReason)
	assert.Equal(t, domain.SlotStatusAvailable, f.store.slot(1).Status)

	// the failed booking no longer holds the slot
	_, err = f.service.CreateBooking(context.Background(), CreateBookingInput{SlotID: 1, UserID: 11, PaymentMethod: domain.PaymentMethodCash, Price: price("500")})
	assert.NoError(t, err)

	// failed is terminal: a replay reports the stored status
	again, err := f.service.HandleCallback(context.Background(), encodePayload(`{"transaction_uuid":"TX1"}`))
	assert.ErrorIs(t, err, domain.ErrVerificationFailed)
	assert.Equal(t, redirect, again)
	f.esewa.AssertExpectations(t)
}

func TestBookingService_HandleCallback_InvalidPayload(t *testing.T) {
	testCases := map[string]string{
		"malformed base64": "%%%not-base64%%%",
		"not json":         encodePayload("not json"),
		"missing ref":      encodePayload(`{"total_amount":"500.00"}`),
		"empty":            "",
	}

	for name, data := range testCases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			b := createPending(t, f, domain.PaymentMethodEsewa, "TX1")

			redirect, err := f.service.HandleCallback(context.Background(), data)

			assert.ErrorIs(t, err, domain.ErrInvalidCallbackPayload)
			assert.Equal(t, frontend+"/paymentfailure?error=Invalid+callback+data", redirect)
			assert.Equal(t, domain.PaymentStatusPending, f.store.booking(b.ID).PaymentStatus)
			f.esewa.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything)
		})
	}
}

func TestBookingService_HandleCallback_SpacesInQueryData(t *testing.T) {
	f := newFixture(t)
	createPending(t, f, domain.PaymentMethodEsewa, "TX1")
	f.esewa.On("Verify", mock.Anything, mock.Anything).Return(domain.VerificationComplete).Once()

	data := encodePayload(`{"transaction_uuid":"TX1","total_amount":"500.00","signed_field_names":">>>"}`)
	require.Contains(t, data, "+")

	_, err := f.service.HandleCallback(context.Background(), strings.ReplaceAll(data, "+", " "))
	assert.NoError(t, err)
}

func TestBookingService_HandleCallback_UnknownBooking(t *testing.T) {
	f := newFixture(t)

	redirect, err := f.service.HandleCallback(context.Background(), encodePayload(`{"transaction_uuid":"nope"}`))

	assert.ErrorIs(t, err, domain.ErrBookingNotFound)
	assert.Equal(t, frontend+"/paymentfailure?error=Booking+not+found", redirect)
}

func TestBookingService_HandleKhaltiCallback(t *testing.T) {
	f := newFixture(t)
	b := createPending(t, f, domain.PaymentMethodKhalti, "TX-K1")
	require.NoError(t, memBookings{f.store}.SetGatewayRef(context.Background(), b.ID, "pidx-1"))

	redirect, err := f.service.HandleKhaltiCallback(context.Background(), "TX-K1", "pidx-other")
	assert.ErrorIs(t, err, domain.ErrInvalidCallbackPayload)
	assert.Contains(t, redirect, "/paymentfailure")

	f.khalti.On("Verify", mock.Anything, mock.MatchedBy(func(got *domain.Booking) bool {
		return got.GatewayReference() == "pidx-1"
	})).Return(domain.VerificationComplete).Once()

	redirect, err = f.service.HandleKhaltiCallback(context.Background(), "TX-K1", "pidx-1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(redirect, frontend+"/paymentsuccess?"))
	assert.Equal(t, domain.PaymentStatusCompleted, f.store.booking(b.ID).PaymentStatus)
	f.khalti.AssertExpectations(t)
}

func TestBookingService_HandleKhaltiCallback_RejectsUnissuedPidx(t *testing.T) {
	f := newFixture(t, domain.Slot{ID: 1, DoctorID: 7, Status: domain.SlotStatusAvailable}, domain.Slot{ID: 2, DoctorID: 7, Status: domain.SlotStatusAvailable})
	paid := createPending(t, f, domain.PaymentMethodKhalti, "TX-A")
	require.NoError(t, memBookings{f.store}.SetGatewayRef(context.Background(), paid.ID, "pidx-PAID"))

	unpaid, err := f.service.CreateBooking(context.Background(), CreateBookingInput{
		SlotID: 2, UserID: 11, PaymentMethod: domain.PaymentMethodKhalti, Price: price("500"), TransactionRef: "TX-B",
	})
	require.NoError(t, err)

	redirect, err := f.service.HandleKhaltiCallback(context.Background(), "TX-B", "pidx-PAID")
	assert.ErrorIs(t, err, domain.ErrInvalidCallbackPayload)
	assert.Equal(t, frontend+"/paymentfailure?error=Invalid+callback+data", redirect)

	got := f.store.booking(unpaid.ID)
	assert.Equal(t, domain.PaymentStatusPending, got.PaymentStatus)
	assert.Nil(t, got.GatewayRef)
	assert.Equal(t, domain.SlotStatusAvailable, f.store.slot(2).Status)
	f.khalti.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything)
}

func TestBookingService_CheckStatus(t *testing.T) {
	t.Run("complete", func(t *testing.T) {
		f := newFixture(t)
		b := createPending(t, f, domain.PaymentMethodEsewa, "TX1")
		f.esewa.On("Verify", mock.Anything, mock.Anything).Return(domain.VerificationComplete).Once()

		outcome, err := f.service.CheckStatus(context.Background(), b.ID)
		require.NoError(t, err)
		assert.True(t, outcome.Changed)
		assert.Equal(t, domain.VerificationComplete, outcome.Status)
		assert.Equal(t, domain.PaymentStatusCompleted, outcome.Booking.PaymentStatus)
		assert.Equal(t, domain.SlotStatusBooked, f.store.slot(1).Status)

		again, err := f.service.CheckStatus(context.Background(), b.ID)
		require.NoError(t, err)
		assert.False(t, again.Changed)
		assert.Equal(t, domain.VerificationComplete, again.Status)
		f.esewa.AssertExpectations(t)
	})

	t.Run("gateway error fails the booking", func(t *testing.T) {
		f := newFixture(t)
		b := createPending(t, f, domain.PaymentMethodEsewa, "TX1")
		f.esewa.On("Verify", mock.Anything, mock.Anything).Return(domain.VerificationFailed).Once()

		outcome, err := f.service.CheckStatus(context.Background(), b.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.VerificationFailed, outcome.Status)
		assert.Equal(t, domain.PaymentStatusFailed, f.store.booking(b.ID).PaymentStatus)
		assert.Equal(t, domain.SlotStatusAvailable, f.store.slot(1).Status)
	})

	t.Run("cash booking", func(t *testing.T) {
		f := newFixture(t)
		b, err := f.service.CreateBooking(context.Background(), CreateBookingInput{SlotID: 1, UserID: 10, PaymentMethod: domain.PaymentMethodCash, Price: price("500")})
		require.NoError(t, err)

		_, err = f.service.CheckStatus(context.Background(), b.ID)
		assert.ErrorIs(t, err, domain.ErrInvalidBooking)
	})

	t.Run("unknown booking", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.service.CheckStatus(context.Background(), 42)
		assert.ErrorIs(t, err, domain.ErrBookingNotFound)
	})
}

func TestBookingService_InitiatePayment(t *testing.T) {
	t.Run("esewa form", func(t *testing.T) {
		f := newFixture(t)
		b := createPending(t, f, domain.PaymentMethodEsewa, "TX1")
		form := &domain.PaymentInitiation{Method: domain.PaymentMethodEsewa, FormURL: "https://rc-epay.esewa.com.np/api/epay/main/v2/form"}
		f.esewa.On("Initiate", mock.Anything, mock.Anything).Return(form, nil).Once()

		out, err := f.service.InitiatePayment(context.Background(), b.ID)
		require.NoError(t, err)
		assert.Equal(t, form, out)
		assert.Nil(t, f.store.booking(b.ID).GatewayRef)
	})

	t.Run("khalti stores pidx", func(t *testing.T) {
		f := newFixture(t)
		b := createPending(t, f, domain.PaymentMethodKhalti, "TX-K1")
		f.khalti.On("Initiate", mock.Anything, mock.Anything).
			Return(&domain.PaymentInitiation{Method: domain.PaymentMethodKhalti, PaymentURL: "https://pay", GatewayRef: "pidx-1"}, nil).Once()

		_, err := f.service.InitiatePayment(context.Background(), b.ID)
		require.NoError(t, err)
		got := f.store.booking(b.ID)
		assert.Equal(t, "pidx-1", got.GatewayReference())
	})

	t.Run("configuration error passes through", func(t *testing.T) {
		f := newFixture(t)
		b := createPending(t, f, domain.PaymentMethodEsewa, "TX1")
		f.esewa.On("Initiate", mock.Anything, mock.Anything).Return(nil, domain.ErrConfiguration).Once()

		_, err := f.service.InitiatePayment(context.Background(), b.ID)
		assert.ErrorIs(t, err, domain.ErrConfiguration)
	})

	t.Run("cash booking", func(t *testing.T) {
		f := newFixture(t)
		b, err := f.service.CreateBooking(context.Background(), CreateBookingInput{SlotID: 1, UserID: 10, PaymentMethod: domain.PaymentMethodCash, Price: price("500")})
		require.NoError(t, err)

		_, err = f.service.InitiatePayment(context.Background(), b.ID)
		assert.ErrorIs(t, err, domain.ErrInvalidBooking)
	})
}

func TestBookingService_ReconcilePending(t *testing.T) {
	f := newFixture(t,
		domain.Slot{ID: 1, DoctorID: 7, Status: domain.SlotStatusAvailable},
		domain.Slot{ID: 2, DoctorID: 7, Status: domain.SlotStatusAvailable},
		domain.Slot{ID: 3, DoctorID: 7, Status: domain.SlotStatusAvailable},
	)
	ctx := context.Background()

	stale, err := f.service.CreateBooking(ctx, CreateBookingInput{SlotID: 1, UserID: 10, PaymentMethod: domain.PaymentMethodEsewa, Price: price("500"), TransactionRef: "OLD"})
	require.NoError(t, err)
	paid, err := f.service.CreateBooking(ctx, CreateBookingInput{SlotID: 2, UserID: 11, PaymentMethod: domain.PaymentMethodEsewa, Price: price("500"), TransactionRef: "PAID"})
	require.NoError(t, err)
	fresh, err := f.service.CreateBooking(ctx, CreateBookingInput{SlotID: 3, UserID: 12, PaymentMethod: domain.PaymentMethodEsewa, Price: price("500"), TransactionRef: "NEW"})
	require.NoError(t, err)
	f.store.backdate(stale.ID, time.Hour)
	f.store.backdate(paid.ID, time.Hour)

	f.esewa.On("Verify", mock.Anything, mock.MatchedBy(func(b *domain.Booking) bool { return b.TxRef() == "OLD" })).Return(domain.VerificationStatus("PENDING")).Once()
	f.esewa.On("Verify", mock.Anything, mock.MatchedBy(func(b *domain.Booking) bool { return b.TxRef() == "PAID" })).Return(domain.VerificationComplete).Once()

	settled, err := f.service.ReconcilePending(ctx)
	require.NoError(t, err)
	assert.Len(t, settled, 2)

	expired := f.store.booking(stale.ID)
	assert.Equal(t, domain.PaymentStatusFailed, expired.PaymentStatus)
	require.NotNil(t, expired.FailureReason)
	assert.Equal(t, "EXPIRED:PENDING", *expired.FailureReason)
	assert.Equal(t, domain.SlotStatusAvailable, f.store.slot(1).Status)

	assert.Equal(t, domain.PaymentStatusCompleted, f.store.booking(paid.ID).PaymentStatus)
	assert.Equal(t, domain.SlotStatusBooked, f.store.slot(2).Status)

	assert.Equal(t, domain.PaymentStatusPending, f.store.booking(fresh.ID).PaymentStatus)
	f.esewa.AssertExpectations(t)
}

func TestBookingService_PublishFailureDoesNotFailBooking(t *testing.T) {
	f := newFixture(t)
	f.producer.err = errors.New("broker down")

	b, err := f.service.CreateBooking(context.Background(), CreateBookingInput{SlotID: 1, UserID: 10, PaymentMethod: domain.PaymentMethodCash, Price: price("500")})
	require.NoError(t, err)
	assert.NotZero(t, b.ID)
}

func TestBookingService_ListUserBookings(t *testing.T) {
	f := newFixture(t)
	createPending(t, f, domain.PaymentMethodEsewa, "TX1")

	list, err := f.service.ListUserBookings(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = f.service.ListUserBookings(context.Background(), 0)
	assert.ErrorIs(t, err, domain.ErrInvalidBooking)
}
