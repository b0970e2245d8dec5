package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyungseok/msa-rental-go/common/errors"
	"github.com/kyungseok/msa-rental-go/common/events"
	"github.com/kyungseok/msa-rental-go/common/outbox"
	"github.com/kyungseok/msa-rental-go/services/rent/internal/domain"
)

func newOrder() *domain.Order {
	return domain.NewOrder("B1", "G1", "U1", "X", time.Now(), 7, 100)
}

func receiptRecord(t *testing.T, order *domain.Order) *outbox.Record {
	t.Helper()
	rec, err := outbox.NewRecord(AggregateType, order.ID, events.GameReceiptConfirmedEvent{
		BaseEvent: events.NewBase(events.EventRentGameReceiptConfirmed, order.ID),
		OrderID:   order.ID,
		UserID:    order.UserID,
	})
	require.NoError(t, err)
	return rec
}

func TestMemoryOrderRepository_CreateAndFind(t *testing.T) {
	store := outbox.NewMemoryStore()
	repo := NewMemoryOrderRepository(store)
	ctx := context.Background()

	order := newOrder()
	require.NoError(t, repo.Create(ctx, order, receiptRecord(t, order)))
	assert.Equal(t, int64(1), order.Version)

	found, err := repo.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.BookingID, found.BookingID)

	byBooking, err := repo.FindByBookingID(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, order.ID, byBooking.ID)

	assert.Len(t, store.All(), 1)

	_, err = repo.FindByID(ctx, "missing")
	assert.True(t, errors.HasCode(err, errors.ErrCodeNotFound))
}

func TestMemoryOrderRepository_DuplicateBooking(t *testing.T) {
	store := outbox.NewMemoryStore()
	repo := NewMemoryOrderRepository(store)

	require.NoError(t, repo.Create(context.Background(), newOrder()))
	err := repo.Create(context.Background(), newOrder())
	assert.True(t, errors.HasCode(err, errors.ErrCodeConflict))
}

func TestMemoryOrderRepository_OptimisticLock(t *testing.T) {
	store := outbox.NewMemoryStore()
	repo := NewMemoryOrderRepository(store)
	ctx := context.Background()

	order := newOrder()
	require.NoError(t, repo.Create(ctx, order))

	first, _ := repo.FindByID(ctx, order.ID)
	second, _ := repo.FindByID(ctx, order.ID)

	require.NoError(t, first.ConfirmReceipt("U1"))
	require.NoError(t, repo.Update(ctx, first, receiptRecord(t, first)))
	assert.Equal(t, int64(2), first.Version)

	require.NoError(t, second.ChargePenalty(10, "late"))
	err := repo.Update(ctx, second, receiptRecord(t, second))
	assert.True(t, errors.HasCode(err, errors.ErrCodeConflict))

	// 실패한 갱신은 이벤트를 남기지 않음
	assert.Len(t, store.All(), 1)

	stored, _ := repo.FindByID(ctx, order.ID)
	assert.Equal(t, domain.OrderStatusActive, stored.Status)
	assert.Equal(t, 0.0, stored.PenaltyAmount)
}

func TestMemoryOrderRepository_ReturnsCopies(t *testing.T) {
	repo := NewMemoryOrderRepository(outbox.NewMemoryStore())
	ctx := context.Background()

	order := newOrder()
	require.NoError(t, repo.Create(ctx, order))

	found, _ := repo.FindByID(ctx, order.ID)
	found.Status = domain.OrderStatusClosed

	again, _ := repo.FindByID(ctx, order.ID)
	assert.Equal(t, domain.OrderStatusCreated, again.Status)
}
