package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kyungseok/msa-rental-go/common/database"
	"github.com/kyungseok/msa-rental-go/common/errors"
	"github.com/kyungseok/msa-rental-go/services/payment/internal/domain"
)

// PAYMENT_TEST_DB_DSN 이 설정된 경우에만 실행
func TestPostgresPaymentRepository(t *testing.T) {
	dsn := os.Getenv("PAYMENT_TEST_DB_DSN")
	if dsn == "" {
		t.Skip("PAYMENT_TEST_DB_DSN not set")
	}

	ctx := context.Background()
	db, err := database.Open(ctx, dsn, zap.NewNop())
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, database.Migrate(db, Migrations, "migrations", zap.NewNop()))

	repo := NewPostgresPaymentRepository(db)
	orderID := "O-" + uuid.New().String()

	p, _ := domain.NewPayment(orderID, "U1", 700, "card")
	require.NoError(t, repo.CreatePayment(ctx, p, initiatedRecord(t, p)))

	dup, _ := domain.NewPayment(orderID, "U1", 700, "card")
	assert.True(t, errors.HasCode(repo.CreatePayment(ctx, dup), errors.ErrCodeConflict))

	require.NoError(t, p.Complete("TXN_1", time.Now()))
	require.NoError(t, repo.UpdatePayment(ctx, p))

	refund, _ := domain.NewRefund(p, "U1", 0, "")
	require.NoError(t, repo.CreateRefund(ctx, refund))

	second, _ := domain.NewRefund(p, "U1", 0, "")
	assert.True(t, errors.HasCode(repo.CreateRefund(ctx, second), errors.ErrCodeConflict))

	require.NoError(t, refund.Complete("REF_1", time.Now()))
	require.NoError(t, p.MarkRefunded())
	require.NoError(t, repo.UpdateRefund(ctx, refund, p))

	third, _ := domain.NewRefund(&domain.Payment{ID: p.ID, Status: domain.PaymentStatusCompleted, Amount: 700}, "U1", 0, "")
	assert.True(t, errors.HasCode(repo.CreateRefund(ctx, third), errors.ErrCodePreconditionFailed))

	found, err := repo.FindPaymentByOrderID(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusRefunded, found.Status)
	assert.Equal(t, "TXN_1", found.TransactionID)

	refunds, err := repo.ListRefunds(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, refunds, 1)
}
