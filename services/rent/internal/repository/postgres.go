package repository

import (
	"context"
	"database/sql"
	stderrors "errors"

	"github.com/lib/pq"

	"github.com/kyungseok/msa-rental-go/common/database"
	"github.com/kyungseok/msa-rental-go/common/errors"
	"github.com/kyungseok/msa-rental-go/common/outbox"
	"github.com/kyungseok/msa-rental-go/services/rent/internal/domain"
)

const orderColumns = `id, booking_id, game_id, user_id, status, pickup_date, pickup_location,
	return_date, return_location, rental_days, total_amount, penalty_amount, penalty_reason,
	payment_id, payment_status, version, created_at, updated_at`

type postgresOrderRepository struct {
	db *sql.DB
}

// NewPostgresOrderRepository PostgreSQL 주문 레포지토리 생성
func NewPostgresOrderRepository(db *sql.DB) OrderRepository {
	return &postgresOrderRepository{db: db}
}

func (r *postgresOrderRepository) Create(ctx context.Context, order *domain.Order, records ...*outbox.Record) error {
	query := `
		INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, 1, $16, $17)
	`

	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, query,
			order.ID,
			order.BookingID,
			order.GameID,
			order.UserID,
			string(order.Status),
			order.PickupDate,
			order.PickupLocation,
			order.ReturnDate,
			order.ReturnLocation,
			order.RentalDays,
			order.TotalAmount,
			order.PenaltyAmount,
			order.PenaltyReason,
			order.PaymentID,
			string(order.PaymentStatus),
			order.CreatedAt,
			order.UpdatedAt,
		)
		if err != nil {
			var pqErr *pq.Error
			if stderrors.As(err, &pqErr) && pqErr.Code == "23505" {
				return errors.Wrap(errors.ErrCodeConflict, "order for booking already exists", err)
			}
			return errors.Wrap(errors.ErrCodeDatabaseError, "failed to create order", err)
		}
		return insertRecords(ctx, tx, records)
	})
	if err != nil {
		return err
	}

	order.Version = 1
	return nil
}

func (r *postgresOrderRepository) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	return r.findOne(ctx, query, id)
}

func (r *postgresOrderRepository) FindByBookingID(ctx context.Context, bookingID string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE booking_id = $1`
	return r.findOne(ctx, query, bookingID)
}

func (r *postgresOrderRepository) findOne(ctx context.Context, query string, arg string) (*domain.Order, error) {
	order := &domain.Order{}
	var status, paymentStatus string
	var returnDate sql.NullTime

	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&order.ID,
		&order.BookingID,
		&order.GameID,
		&order.UserID,
		&status,
		&order.PickupDate,
		&order.PickupLocation,
		&returnDate,
		&order.ReturnLocation,
		&order.RentalDays,
		&order.TotalAmount,
		&order.PenaltyAmount,
		&order.PenaltyReason,
		&order.PaymentID,
		&paymentStatus,
		&order.Version,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, errors.Newf(errors.ErrCodeNotFound, "order not found: %s", arg)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDatabaseError, "failed to find order", err)
	}

	order.Status = domain.OrderStatus(status)
	order.PaymentStatus = domain.PaymentStatus(paymentStatus)
	if returnDate.Valid {
		t := returnDate.Time
		order.ReturnDate = &t
	}
	return order, nil
}

// Update Optimistic Lock 을 사용한 주문 갱신
func (r *postgresOrderRepository) Update(ctx context.Context, order *domain.Order, records ...*outbox.Record) error {
	query := `
		UPDATE orders
		SET status = $1, return_date = $2, return_location = $3, rental_days = $4, total_amount = $5,
			penalty_amount = $6, penalty_reason = $7, payment_id = $8, payment_status = $9,
			version = version + 1, updated_at = $10
		WHERE id = $11 AND version = $12
	`

	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, query,
			string(order.Status),
			order.ReturnDate,
			order.ReturnLocation,
			order.RentalDays,
			order.TotalAmount,
			order.PenaltyAmount,
			order.PenaltyReason,
			order.PaymentID,
			string(order.PaymentStatus),
			order.UpdatedAt,
			order.ID,
			order.Version,
		)
		if err != nil {
			return errors.Wrap(errors.ErrCodeDatabaseError, "failed to update order", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return errors.Wrap(errors.ErrCodeDatabaseError, "failed to get rows affected", err)
		}
		if rowsAffected == 0 {
			return errors.Newf(errors.ErrCodeConflict, "order %s was modified concurrently", order.ID)
		}
		return insertRecords(ctx, tx, records)
	})
	if err != nil {
		return err
	}

	order.Version++
	return nil
}

func insertRecords(ctx context.Context, tx *sql.Tx, records []*outbox.Record) error {
	for _, record := range records {
		if err := outbox.InsertTx(ctx, tx, record); err != nil {
			return errors.Wrap(errors.ErrCodeDatabaseError, "failed to insert outbox event", err)
		}
	}
	return nil
}
