package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyungseok/msa-rental-go/common/errors"
)

func newTestOrder() *Order {
	return NewOrder("B1", "G1", "U1", "X", time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), 7, 100)
}

func TestNewOrder(t *testing.T) {
	o := newTestOrder()

	assert.NotEmpty(t, o.ID)
	assert.Equal(t, OrderStatusCreated, o.Status)
	assert.Equal(t, 7, o.RentalDays)
	assert.Equal(t, 700.0, o.TotalAmount)
	assert.Nil(t, o.ReturnDate)
	assert.Equal(t, time.Date(2026, 3, 8, 10, 0, 0, 0, time.UTC), o.DueDate())
}

func TestOrder_StatusOnlyMovesForward(t *testing.T) {
	all := []OrderStatus{OrderStatusCreated, OrderStatusActive, OrderStatusReturned, OrderStatusClosed}
	for i, from := range all {
		for j, to := range all {
			o := &Order{Status: from}
			assert.Equal(t, j == i+1, o.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestOrder_Lifecycle(t *testing.T) {
	o := newTestOrder()

	require.NoError(t, o.ConfirmReceipt("U1"))
	assert.Equal(t, OrderStatusActive, o.Status)
	assert.Nil(t, o.ReturnDate)

	returnedAt := time.Date(2026, 3, 8, 9, 0, 0, 0, time.UTC)
	require.NoError(t, o.Return("U1", "Store A", returnedAt))
	assert.Equal(t, OrderStatusReturned, o.Status)
	require.NotNil(t, o.ReturnDate)
	assert.Equal(t, returnedAt, *o.ReturnDate)

	require.NoError(t, o.Close())
	assert.Equal(t, OrderStatusClosed, o.Status)
	assert.NotNil(t, o.ReturnDate)
}

func TestOrder_Guards(t *testing.T) {
	t.Run("confirm by another user", func(t *testing.T) {
		o := newTestOrder()
		err := o.ConfirmReceipt("U2")
		assert.True(t, errors.HasCode(err, errors.ErrCodeForbidden))
		assert.Equal(t, OrderStatusCreated, o.Status)
	})

	t.Run("confirm twice", func(t *testing.T) {
		o := newTestOrder()
		require.NoError(t, o.ConfirmReceipt("U1"))
		err := o.ConfirmReceipt("U1")
		assert.True(t, errors.HasCode(err, errors.ErrCodePreconditionFailed))
	})

	t.Run("return before receipt", func(t *testing.T) {
		o := newTestOrder()
		err := o.Return("U1", "Store A", time.Now())
		assert.True(t, errors.HasCode(err, errors.ErrCodePreconditionFailed))
		assert.Nil(t, o.ReturnDate)
	})

	t.Run("close before return", func(t *testing.T) {
		o := newTestOrder()
		require.NoError(t, o.ConfirmReceipt("U1"))
		assert.True(t, errors.HasCode(o.Close(), errors.ErrCodePreconditionFailed))
	})
}

func TestOrder_ChargePenaltyReplaces(t *testing.T) {
	o := newTestOrder()

	require.NoError(t, o.ChargePenalty(50, "late"))
	require.NoError(t, o.ChargePenalty(20, "scratched case"))
	assert.Equal(t, 20.0, o.PenaltyAmount)
	assert.Equal(t, "scratched case", o.PenaltyReason)

	err := o.ChargePenalty(-1, "refund")
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidArgument))
	assert.Equal(t, 20.0, o.PenaltyAmount)
}

func TestOrder_Extend(t *testing.T) {
	o := newTestOrder()
	err := o.Extend("U1", 2, 100)
	assert.True(t, errors.HasCode(err, errors.ErrCodePreconditionFailed))

	require.NoError(t, o.ConfirmReceipt("U1"))
	require.NoError(t, o.Extend("U1", 2, 100))
	assert.Equal(t, 9, o.RentalDays)
	assert.Equal(t, 900.0, o.TotalAmount)

	assert.True(t, errors.HasCode(o.Extend("U1", 8, 100), errors.ErrCodeInvalidArgument))
	assert.True(t, errors.HasCode(o.Extend("U2", 1, 100), errors.ErrCodeForbidden))
}

func TestOrder_FoldPaymentNeverRegresses(t *testing.T) {
	o := newTestOrder()

	assert.True(t, o.FoldPayment("p-1", PaymentStatusInitiated))
	assert.True(t, o.FoldPayment("p-1", PaymentStatusCompleted))
	assert.False(t, o.FoldPayment("p-1", PaymentStatusCompleted))
	assert.False(t, o.FoldPayment("p-1", PaymentStatusInitiated))
	assert.False(t, o.FoldPayment("p-1", PaymentStatusDeclined))
	assert.Equal(t, PaymentStatusCompleted, o.PaymentStatus)

	assert.True(t, o.FoldPayment("p-1", PaymentStatusRefunded))
	assert.False(t, o.FoldPayment("p-1", PaymentStatusCompleted))
	assert.Equal(t, PaymentStatusRefunded, o.PaymentStatus)
	assert.Equal(t, "p-1", o.PaymentID)
}

func TestOrder_FoldPaymentAttachesMissingHandle(t *testing.T) {
	o := newTestOrder()

	assert.True(t, o.FoldPayment("p-9", PaymentStatusDeclined))
	assert.Equal(t, "p-9", o.PaymentID)
	assert.False(t, o.FoldPayment("p-other", PaymentStatusDeclined))
	assert.Equal(t, "p-9", o.PaymentID)
}
