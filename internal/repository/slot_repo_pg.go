package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/Domenick1991/docbooking/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type SlotFilter struct {
	DoctorID      int64
	AvailableOnly bool
}

type SlotRepository interface {
	Create(ctx context.Context, slot *domain.Slot) error
	GetByID(ctx context.Context, id int64) (*domain.Slot, error)
	List(ctx context.Context, filter SlotFilter) ([]domain.Slot, error)
	UpdateStatus(ctx context.Context, id int64, status domain.SlotStatus) (*domain.Slot, error)
	Delete(ctx context.Context, id int64) error
}

type PGSlotRepository struct {
	db *pgxpool.Pool
}

func NewSlotRepository(db *pgxpool.Pool) SlotRepository {
	return &PGSlotRepository{db: db}
}

const slotColumns = `id, doctor_id, slot_date, to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'), status, service_charge::text, created_at, updated_at`

func scanSlot(row pgx.Row) (*domain.Slot, error) {
	var (
		s      domain.Slot
		charge *string
	)
	if err := row.Scan(&s.ID, &s.DoctorID, &s.Date, &s.StartTime, &s.EndTime, &s.Status, &charge, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	if charge != nil {
		d, err := decimal.NewFromString(*charge)
		if err != nil {
			return nil, fmt.Errorf("parse service charge: %w", err)
		}
		s.ServiceCharge = decimal.NewNullDecimal(d)
	}
	return &s, nil
}

func nullableAmount(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	v := d.Decimal.StringFixed(2)
	return &v
}

func (r *PGSlotRepository) Create(ctx context.Context, slot *domain.Slot) error {
	if slot.Status == "" {
		slot.Status = domain.SlotStatusAvailable
	}
	row := r.db.QueryRow(ctx, `INSERT INTO slots (doctor_id, slot_date, start_time, end_time, status, service_charge)
		VALUES ($1, $2, $3::time, $4::time, $5, $6::numeric)
		RETURNING `+slotColumns,
		slot.DoctorID, slot.Date, slot.StartTime, slot.EndTime, string(slot.Status), nullableAmount(slot.ServiceCharge))
	created, err := scanSlot(row)
	if err != nil {
		return err
	}
	*slot = *created
	return nil
}

func (r *PGSlotRepository) GetByID(ctx context.Context, id int64) (*domain.Slot, error) {
	slot, err := scanSlot(r.db.QueryRow(ctx, `SELECT `+slotColumns+` FROM slots WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSlotNotFound
	}
	return slot, err
}

func (r *PGSlotRepository) List(ctx context.Context, filter SlotFilter) ([]domain.Slot, error) {
	query, args := listSlotsQuery(filter)
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	slots := make([]domain.Slot, 0)
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, *s)
	}
	return slots, rows.Err()
}

// UpdateStatus applies an administrative status change under a row lock so it
// cannot interleave with a booking being created on the same slot.
func (r *PGSlotRepository) UpdateStatus(ctx context.Context, id int64, status domain.SlotStatus) (*domain.Slot, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var current domain.SlotStatus
	if err := tx.QueryRow(ctx, `SELECT status FROM slots WHERE id=$1 FOR UPDATE`, id).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSlotNotFound
		}
		return nil, err
	}
	paid := false
	if current == domain.SlotStatusBreak && status == domain.SlotStatusAvailable {
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM bookings WHERE slot_id=$1 AND payment_status='completed')`, id).Scan(&paid); err != nil {
			return nil, err
		}
	}
	if err := checkTransition(current, status, paid); err != nil {
		return nil, err
	}

	slot, err := scanSlot(tx.QueryRow(ctx, `UPDATE slots SET status=$1, updated_at=now() WHERE id=$2 RETURNING `+slotColumns, string(status), id))
	if err != nil {
		return nil, err
	}
	return slot, tx.Commit(ctx)
}

// checkTransition rejects a status change the slot cannot make. A paid slot on
// break can never reopen.
func checkTransition(current, next domain.SlotStatus, paid bool) error {
	if !current.CanTransitionTo(next) || (paid && next == domain.SlotStatusAvailable) {
		return fmt.Errorf("%w: cannot change status from %s to %s", domain.ErrInvalidSlot, current, next)
	}
	return nil
}

func (r *PGSlotRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.Exec(ctx, `DELETE FROM slots WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return domain.ErrSlotNotFound
	}
	return nil
}

var _ SlotRepository = (*PGSlotRepository)(nil)

// listSlotsQuery builds the List statement. Available means bookable: slots
// held by a pending or completed booking are left out.
func listSlotsQuery(filter SlotFilter) (string, []any) {
	query := `SELECT ` + slotColumns + ` FROM slots WHERE ($1::bigint = 0 OR doctor_id = $1::bigint)`
	args := []any{filter.DoctorID}
	if filter.AvailableOnly {
		query += ` AND status = $2 AND NOT EXISTS (SELECT 1 FROM bookings b WHERE b.slot_id = slots.id AND b.` + liveStatusesCondition + `)`
		args = append(args, string(domain.SlotStatusAvailable))
	}
	query += ` ORDER BY slot_date, start_time`
	return query, args
}
