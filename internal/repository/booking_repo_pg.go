package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Domenick1991/docbooking/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type BookingRepository interface {
	// Create inserts the booking while holding the slot row lock. A booking
	// with PaymentStatusCompleted marks the slot booked in the same transaction.
	Create(ctx context.Context, booking *domain.Booking) error
	GetByID(ctx context.Context, id int64) (*domain.Booking, error)
	GetByTransactionRef(ctx context.Context, ref string) (*domain.Booking, error)
	ListByUser(ctx context.Context, userID int64) ([]domain.Booking, error)
	SetGatewayRef(ctx context.Context, id int64, ref string) error
	// Finalize moves a pending booking to completed or failed. Bookings that
	// already left pending are returned unchanged with Outcome.Changed=false.
	Finalize(ctx context.Context, id int64, status domain.VerificationStatus) (*domain.Outcome, error)
	ListPendingBefore(ctx context.Context, deadline time.Time) ([]domain.Booking, error)
}

type PGBookingRepository struct {
	db *pgxpool.Pool
}

func NewBookingRepository(db *pgxpool.Pool) BookingRepository {
	return &PGBookingRepository{db: db}
}

const (
	bookingColumns = `id, slot_id, user_id, price::text, payment_method, payment_status, transaction_ref, gateway_ref, failure_reason, created_at, updated_at`

	uniqueViolation       = "23505"
	transactionRefKey     = "bookings_transaction_ref_key"
	liveSlotBookingIndex  = "bookings_live_slot_idx"
	gatewayRefIndex       = "bookings_gateway_ref_idx"
	liveStatusesCondition = `payment_status IN ('pending', 'completed')`
)

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var (
		b     domain.Booking
		price string
	)
	if err := row.Scan(&b.ID, &b.SlotID, &b.UserID, &price, &b.PaymentMethod, &b.PaymentStatus, &b.TransactionRef, &b.GatewayRef, &b.FailureReason, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("parse price: %w", err)
	}
	b.Price = d
	return &b, nil
}

func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		switch pgErr.ConstraintName {
		case transactionRefKey, gatewayRefIndex:
			return domain.ErrDuplicateTransaction
		case liveSlotBookingIndex:
			return domain.ErrSlotUnavailable
		}
	}
	return err
}

// lockSlot takes the exclusive row lock every booking state change goes through.
func lockSlot(ctx context.Context, tx pgx.Tx, slotID int64) (domain.SlotStatus, error) {
	var status domain.SlotStatus
	if err := tx.QueryRow(ctx, `SELECT status FROM slots WHERE id=$1 FOR UPDATE`, slotID).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrSlotNotFound
		}
		return "", err
	}
	return status, nil
}

func (r *PGBookingRepository) Create(ctx context.Context, booking *domain.Booking) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	status, err := lockSlot(ctx, tx, booking.SlotID)
	if err != nil {
		return err
	}
	if status != domain.SlotStatusAvailable {
		return domain.ErrSlotUnavailable
	}

	var held bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM bookings WHERE slot_id=$1 AND `+liveStatusesCondition+`)`, booking.SlotID).Scan(&held); err != nil {
		return err
	}
	if held {
		return domain.ErrSlotUnavailable
	}

	if err := tx.QueryRow(ctx, `INSERT INTO bookings (slot_id, user_id, price, payment_method, payment_status, transaction_ref)
		VALUES ($1, $2, $3::numeric, $4, $5, $6)
		RETURNING id, created_at, updated_at`,
		booking.SlotID, booking.UserID, booking.Price.StringFixed(2), string(booking.PaymentMethod), string(booking.PaymentStatus), booking.TransactionRef).
		Scan(&booking.ID, &booking.CreatedAt, &booking.UpdatedAt); err != nil {
		return mapWriteError(err)
	}

	if booking.PaymentStatus == domain.PaymentStatusCompleted {
		if _, err := tx.Exec(ctx, `UPDATE slots SET status=$1, updated_at=now() WHERE id=$2`, string(domain.SlotStatusBooked), booking.SlotID); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (r *PGBookingRepository) GetByID(ctx context.Context, id int64) (*domain.Booking, error) {
	b, err := scanBooking(r.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrBookingNotFound
	}
	return b, err
}

func (r *PGBookingRepository) GetByTransactionRef(ctx context.Context, ref string) (*domain.Booking, error) {
	b, err := scanBooking(r.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE transaction_ref=$1`, ref))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrBookingNotFound
	}
	return b, err
}

func (r *PGBookingRepository) ListByUser(ctx context.Context, userID int64) ([]domain.Booking, error) {
	return r.list(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE user_id=$1 ORDER BY created_at DESC`, userID)
}

func (r *PGBookingRepository) ListPendingBefore(ctx context.Context, deadline time.Time) ([]domain.Booking, error) {
	return r.list(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE payment_status=$1 AND payment_method <> $2 AND created_at <= $3 ORDER BY created_at`,
		string(domain.PaymentStatusPending), string(domain.PaymentMethodCash), deadline)
}

func (r *PGBookingRepository) list(ctx context.Context, query string, args ...any) ([]domain.Booking, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bookings := make([]domain.Booking, 0)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, *b)
	}
	return bookings, rows.Err()
}

func (r *PGBookingRepository) SetGatewayRef(ctx context.Context, id int64, ref string) error {
	res, err := r.db.Exec(ctx, `UPDATE bookings SET gateway_ref=$1, updated_at=now() WHERE id=$2`, ref, id)
	if err != nil {
		return mapWriteError(err)
	}
	if res.RowsAffected() == 0 {
		return domain.ErrBookingNotFound
	}
	return nil
}

func (r *PGBookingRepository) Finalize(ctx context.Context, id int64, status domain.VerificationStatus) (*domain.Outcome, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var slotID int64
	if err := tx.QueryRow(ctx, `SELECT slot_id FROM bookings WHERE id=$1`, id).Scan(&slotID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrBookingNotFound
		}
		return nil, err
	}

	// slot first, then booking: the same order Create uses
	slotStatus, err := lockSlot(ctx, tx, slotID)
	if err != nil {
		return nil, err
	}
	current, err := scanBooking(tx.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}
	if current.PaymentStatus != domain.PaymentStatusPending {
		return &domain.Outcome{Booking: current, Status: status, Changed: false}, tx.Commit(ctx)
	}

	var updated *domain.Booking
	if status.IsComplete() {
		updated, err = scanBooking(tx.QueryRow(ctx, `UPDATE bookings SET payment_status=$1, failure_reason=NULL, updated_at=now() WHERE id=$2 RETURNING `+bookingColumns,
			string(domain.PaymentStatusCompleted), id))
		if err != nil {
			return nil, err
		}
		if slotStatus == domain.SlotStatusAvailable {
			if _, err := tx.Exec(ctx, `UPDATE slots SET status=$1, updated_at=now() WHERE id=$2`, string(domain.SlotStatusBooked), slotID); err != nil {
				return nil, err
			}
		}
	} else {
		updated, err = scanBooking(tx.QueryRow(ctx, `UPDATE bookings SET payment_status=$1, failure_reason=$2, updated_at=now() WHERE id=$3 RETURNING `+bookingColumns,
			string(domain.PaymentStatusFailed), string(status), id))
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &domain.Outcome{Booking: updated, Status: status, Changed: true}, nil
}

var _ BookingRepository = (*PGBookingRepository)(nil)
