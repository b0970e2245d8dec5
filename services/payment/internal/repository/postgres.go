package repository

import (
	"context"
	"database/sql"
	stderrors "errors"

	"github.com/lib/pq"

	"github.com/kyungseok/msa-rental-go/common/database"
	"github.com/kyungseok/msa-rental-go/common/errors"
	"github.com/kyungseok/msa-rental-go/common/outbox"
	"github.com/kyungseok/msa-rental-go/services/payment/internal/domain"
)

const paymentColumns = `id, order_id, user_id, amount, method, status, transaction_id, decline_reason,
	receipt_id, version, created_at, updated_at, completed_at`

const refundColumns = `id, payment_id, order_id, user_id, amount, status, reason, decline_reason,
	transaction_id, version, created_at, updated_at, completed_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

type postgresPaymentRepository struct {
	db *sql.DB
}

// NewPostgresPaymentRepository PostgreSQL 결제 레포지토리 생성
func NewPostgresPaymentRepository(db *sql.DB) PaymentRepository {
	return &postgresPaymentRepository{db: db}
}

func (r *postgresPaymentRepository) CreatePayment(ctx context.Context, payment *domain.Payment, records ...*outbox.Record) error {
	query := `
		INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, $10, $11, $12)
	`

	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, query,
			payment.ID,
			payment.OrderID,
			payment.UserID,
			payment.Amount,
			payment.Method,
			string(payment.Status),
			payment.TransactionID,
			payment.DeclineReason,
			payment.ReceiptID,
			payment.CreatedAt,
			payment.UpdatedAt,
			payment.CompletedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return errors.Wrap(errors.ErrCodeConflict, "payment for order already exists", err)
			}
			return errors.Wrap(errors.ErrCodeDatabaseError, "failed to create payment", err)
		}
		return insertRecords(ctx, tx, records)
	})
	if err != nil {
		return err
	}

	payment.Version = 1
	return nil
}

func (r *postgresPaymentRepository) FindPayment(ctx context.Context, id string) (*domain.Payment, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	return scanPayment(row, id)
}

func (r *postgresPaymentRepository) FindPaymentByOrderID(ctx context.Context, orderID string) (*domain.Payment, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE order_id = $1`, orderID)
	return scanPayment(row, "order "+orderID)
}

func (r *postgresPaymentRepository) UpdatePayment(ctx context.Context, payment *domain.Payment, records ...*outbox.Record) error {
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := updatePaymentTx(ctx, tx, payment); err != nil {
			return err
		}
		return insertRecords(ctx, tx, records)
	})
	if err != nil {
		return err
	}

	payment.Version++
	return nil
}

// CreateRefund 결제 행을 잠근 뒤 상태를 확인하고 환불 생성
func (r *postgresPaymentRepository) CreateRefund(ctx context.Context, refund *domain.Refund, records ...*outbox.Record) error {
	query := `
		INSERT INTO refunds (` + refundColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, $10, $11, $12)
	`

	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx, `SELECT status FROM payments WHERE id = $1 FOR UPDATE`, refund.PaymentID).Scan(&status)
		if err == sql.ErrNoRows {
			return errors.Newf(errors.ErrCodeNotFound, "payment not found: %s", refund.PaymentID)
		}
		if err != nil {
			return errors.Wrap(errors.ErrCodeDatabaseError, "failed to lock payment", err)
		}
		if domain.PaymentStatus(status) != domain.PaymentStatusCompleted {
			return errors.Newf(errors.ErrCodePreconditionFailed, "cannot refund payment in status %s", status)
		}

		_, err = tx.ExecContext(ctx, query,
			refund.ID,
			refund.PaymentID,
			refund.OrderID,
			refund.UserID,
			refund.Amount,
			string(refund.Status),
			refund.Reason,
			refund.DeclineReason,
			refund.TransactionID,
			refund.CreatedAt,
			refund.UpdatedAt,
			refund.CompletedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return errors.Wrap(errors.ErrCodeConflict, "refund already in progress", err)
			}
			return errors.Wrap(errors.ErrCodeDatabaseError, "failed to create refund", err)
		}
		return insertRecords(ctx, tx, records)
	})
	if err != nil {
		return err
	}

	refund.Version = 1
	return nil
}

func (r *postgresPaymentRepository) FindRefund(ctx context.Context, id string) (*domain.Refund, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+refundColumns+` FROM refunds WHERE id = $1`, id)
	refund, err := scanRefund(row)
	if err == sql.ErrNoRows {
		return nil, errors.Newf(errors.ErrCodeNotFound, "refund not found: %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDatabaseError, "failed to find refund", err)
	}
	return refund, nil
}

func (r *postgresPaymentRepository) ListRefunds(ctx context.Context, paymentID string) ([]*domain.Refund, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+refundColumns+` FROM refunds WHERE payment_id = $1 ORDER BY created_at`, paymentID)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDatabaseError, "failed to list refunds", err)
	}
	defer rows.Close()

	var refunds []*domain.Refund
	for rows.Next() {
		refund, err := scanRefund(rows)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeDatabaseError, "failed to scan refund", err)
		}
		refunds = append(refunds, refund)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeDatabaseError, "failed to list refunds", err)
	}
	return refunds, nil
}

func (r *postgresPaymentRepository) UpdateRefund(ctx context.Context, refund *domain.Refund, payment *domain.Payment, records ...*outbox.Record) error {
	query := `
		UPDATE refunds
		SET status = $1, decline_reason = $2, transaction_id = $3, updated_at = $4, completed_at = $5,
			version = version + 1
		WHERE id = $6 AND version = $7
	`

	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, query,
			string(refund.Status),
			refund.DeclineReason,
			refund.TransactionID,
			refund.UpdatedAt,
			refund.CompletedAt,
			refund.ID,
			refund.Version,
		)
		if err != nil {
			return errors.Wrap(errors.ErrCodeDatabaseError, "failed to update refund", err)
		}
		if err := checkAffected(result, "refund", refund.ID); err != nil {
			return err
		}

		if payment != nil {
			if err := updatePaymentTx(ctx, tx, payment); err != nil {
				return err
			}
		}
		return insertRecords(ctx, tx, records)
	})
	if err != nil {
		return err
	}

	refund.Version++
	if payment != nil {
		payment.Version++
	}
	return nil
}

func updatePaymentTx(ctx context.Context, tx *sql.Tx, payment *domain.Payment) error {
	query := `
		UPDATE payments
		SET status = $1, transaction_id = $2, decline_reason = $3, receipt_id = $4, updated_at = $5,
			completed_at = $6, version = version + 1
		WHERE id = $7 AND version = $8
	`

	result, err := tx.ExecContext(ctx, query,
		string(payment.Status),
		payment.TransactionID,
		payment.DeclineReason,
		payment.ReceiptID,
		payment.UpdatedAt,
		payment.CompletedAt,
		payment.ID,
		payment.Version,
	)
	if err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to update payment", err)
	}
	return checkAffected(result, "payment", payment.ID)
}

func checkAffected(result sql.Result, entity, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return errors.Newf(errors.ErrCodeConflict, "%s %s was modified concurrently", entity, id)
	}
	return nil
}

func scanPayment(row rowScanner, key string) (*domain.Payment, error) {
	payment := &domain.Payment{}
	var status string
	var completedAt sql.NullTime

	err := row.Scan(
		&payment.ID,
		&payment.OrderID,
		&payment.UserID,
		&payment.Amount,
		&payment.Method,
		&status,
		&payment.TransactionID,
		&payment.DeclineReason,
		&payment.ReceiptID,
		&payment.Version,
		&payment.CreatedAt,
		&payment.UpdatedAt,
		&completedAt,
	)
	if err == sql.ErrNoRows {
		return nil, errors.Newf(errors.ErrCodeNotFound, "payment not found: %s", key)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDatabaseError, "failed to find payment", err)
	}

	payment.Status = domain.PaymentStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		payment.CompletedAt = &t
	}
	return payment, nil
}

func scanRefund(row rowScanner) (*domain.Refund, error) {
	refund := &domain.Refund{}
	var status string
	var completedAt sql.NullTime

	if err := row.Scan(
		&refund.ID,
		&refund.PaymentID,
		&refund.OrderID,
		&refund.UserID,
		&refund.Amount,
		&status,
		&refund.Reason,
		&refund.DeclineReason,
		&refund.TransactionID,
		&refund.Version,
		&refund.CreatedAt,
		&refund.UpdatedAt,
		&completedAt,
	); err != nil {
		return nil, err
	}

	refund.Status = domain.RefundStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		refund.CompletedAt = &t
	}
	return refund, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return stderrors.As(err, &pqErr) && pqErr.Code == "23505"
}

func insertRecords(ctx context.Context, tx *sql.Tx, records []*outbox.Record) error {
	for _, record := range records {
		if err := outbox.InsertTx(ctx, tx, record); err != nil {
			return errors.Wrap(errors.ErrCodeDatabaseError, "failed to insert outbox event", err)
		}
	}
	return nil
}
