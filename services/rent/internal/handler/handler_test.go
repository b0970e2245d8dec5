package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyungseok/msa-rental-go/common/errors"
	"github.com/kyungseok/msa-rental-go/common/events"
	"github.com/kyungseok/msa-rental-go/common/httpapi"
	"github.com/kyungseok/msa-rental-go/common/idempotency"
	"github.com/kyungseok/msa-rental-go/common/logger"
	"github.com/kyungseok/msa-rental-go/common/messaging"
	"github.com/kyungseok/msa-rental-go/common/notifier"
	"github.com/kyungseok/msa-rental-go/common/outbox"
	"github.com/kyungseok/msa-rental-go/common/paymentrpc"
	"github.com/kyungseok/msa-rental-go/services/rent/internal/client"
	"github.com/kyungseok/msa-rental-go/services/rent/internal/domain"
	"github.com/kyungseok/msa-rental-go/services/rent/internal/repository"
	"github.com/kyungseok/msa-rental-go/services/rent/internal/service"
)

type stubBookings struct{}

func (stubBookings) GetBooking(_ context.Context, id string) (*client.Booking, error) {
	if id != "B1" {
		return nil, errors.New(errors.ErrCodeNotFound, "booking not found")
	}
	return &client.Booking{ID: id, GameID: "G1", UserID: "U1", Status: client.BookingStatusConfirmed, PickupDate: time.Now().Add(24 * time.Hour)}, nil
}

type stubUsers struct{}

func (stubUsers) GetUser(_ context.Context, id string) (*client.User, error) {
	return &client.User{ID: id, Email: strings.ToLower(id) + "@example.com"}, nil
}

type stubPayments struct{}

func (stubPayments) InitiatePayment(_ context.Context, req paymentrpc.InitiateRequest) (paymentrpc.InitiateResponse, error) {
	return paymentrpc.InitiateResponse{PaymentID: "pay-" + req.OrderID, Status: "initiated"}, nil
}

type nopRelay struct{}

func (nopRelay) Notify() {}

type recordingScheduler struct {
	mu     sync.Mutex
	orders []string
	err    error
}

func (s *recordingScheduler) ScheduleClose(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.orders = append(s.orders, orderID)
	return nil
}

func newService(t *testing.T) service.OrderService {
	t.Helper()
	store := outbox.NewMemoryStore()
	return service.NewOrderService(service.Dependencies{
		Orders:   repository.NewMemoryOrderRepository(store),
		Bookings: stubBookings{},
		Users:    stubUsers{},
		Payments: stubPayments{},
		Notifier: notifier.NewRecorder(),
		Relay:    nopRelay{},
		Logger:   logger.NewTestLogger(),
	}, service.Options{})
}

func newRouter(svc service.OrderService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := httpapi.NewRouter("rent-service", logger.NewTestLogger(), nil)
	NewHTTPHandler(svc, logger.NewTestLogger()).Register(router)
	return router
}

func newAdminRouter(svc service.OrderService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := httpapi.NewRouter("rent-service", logger.NewTestLogger(), nil)
	NewHTTPHandler(svc, logger.NewTestLogger()).RegisterAdmin(router)
	return router
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeOrder(t *testing.T, rec *httptest.ResponseRecorder) OrderResponse {
	t.Helper()
	var resp OrderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHTTP_OrderLifecycle(t *testing.T) {
	svc := newService(t)
	router := newRouter(svc)
	admin := newAdminRouter(svc)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/orders", CreateOrderRequest{
		BookingID: "B1", UserID: "U1", PickupLocation: "Store A", RentalDays: 7,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeOrder(t, rec)
	assert.Equal(t, "created", created.Status)
	assert.Equal(t, 700.0, created.TotalAmount)
	assert.Equal(t, "pay-"+created.OrderID, created.PaymentID)

	base := "/api/v1/orders/" + created.OrderID

	rec = doJSON(t, router, http.MethodPost, base+"/confirm-receipt", UserRequest{UserID: "U2"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, router, http.MethodPost, base+"/confirm-receipt", UserRequest{UserID: "U1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "active", decodeOrder(t, rec).Status)

	rec = doJSON(t, router, http.MethodPost, base+"/extend", ExtendRequest{UserID: "U1", AdditionalDays: 3})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 10, decodeOrder(t, rec).RentalDays)

	rec = doJSON(t, router, http.MethodPost, base+"/return", ReturnRequest{UserID: "U1", ReturnLocation: "Store B"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	returned := decodeOrder(t, rec)
	assert.Equal(t, "returned", returned.Status)
	assert.NotNil(t, returned.ReturnDate)

	rec = doJSON(t, router, http.MethodPost, base+"/return", ReturnRequest{UserID: "U1", ReturnLocation: "Store B"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, router, http.MethodPost, base+"/penalty", PenaltyRequest{PenaltyAmount: 15, Reason: "scratched disc"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 15.0, decodeOrder(t, rec).PenaltyAmount)

	rec = doJSON(t, router, http.MethodPost, "/internal/v1/orders/"+created.OrderID+"/end", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "system-only route must not be on the public router")

	rec = doJSON(t, admin, http.MethodPost, "/internal/v1/orders/"+created.OrderID+"/end", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "closed", decodeOrder(t, rec).Status)

	rec = doJSON(t, router, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "closed", decodeOrder(t, rec).Status)
}

func TestHTTP_Errors(t *testing.T) {
	router := newRouter(newService(t))

	rec := doJSON(t, router, http.MethodPost, "/api/v1/orders", map[string]interface{}{"booking_id": "B1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/orders", CreateOrderRequest{BookingID: "B1", UserID: "U1", RentalDays: 31})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/orders", CreateOrderRequest{BookingID: "B9", UserID: "U1", RentalDays: 3})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/orders/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	var body httpapi.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(errors.ErrCodeNotFound), body.Code)
}

func publishJSON(t *testing.T, eventType events.EventType, evt interface{}) *messaging.Message {
	t.Helper()
	body, err := json.Marshal(evt)
	require.NoError(t, err)
	return &messaging.Message{EventType: eventType, Body: body}
}

func TestEventHandler_FoldsPaymentEventsOnce(t *testing.T) {
	svc := newService(t)
	idem := idempotency.NewMemoryStore()
	h := NewEventHandler(svc, &recordingScheduler{}, idem, time.Hour, logger.NewTestLogger())
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, service.CreateOrderCommand{BookingID: "B1", UserID: "U1", RentalDays: 2})
	require.NoError(t, err)

	settled := events.PaymentSettledEvent{
		BaseEvent: events.NewBase(events.EventPaymentSuccessful, order.ID),
		PaymentID: order.PaymentID,
		OrderID:   order.ID,
		Status:    "completed",
	}
	msg := publishJSON(t, events.EventPaymentSuccessful, settled)

	require.NoError(t, h.HandleMessage(ctx, msg))
	require.NoError(t, h.HandleMessage(ctx, msg))

	processed, err := idem.IsProcessed(ctx, settled.EventID)
	require.NoError(t, err)
	assert.True(t, processed)

	got, err := svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCompleted, got.PaymentStatus)
}

func TestEventHandler_UnknownOrderIsRetried(t *testing.T) {
	idem := idempotency.NewMemoryStore()
	h := NewEventHandler(newService(t), &recordingScheduler{}, idem, time.Hour, logger.NewTestLogger())

	evt := events.PaymentInitiatedEvent{
		BaseEvent: events.NewBase(events.EventPaymentInitiated, "missing"),
		PaymentID: "P1",
		OrderID:   "missing",
	}
	err := h.HandleMessage(context.Background(), publishJSON(t, events.EventPaymentInitiated, evt))
	require.Error(t, err)
	assert.False(t, messaging.IsPermanent(err))
	assert.True(t, errors.HasCode(err, errors.ErrCodeNotFound))

	processed, _ := idem.IsProcessed(context.Background(), evt.EventID)
	assert.False(t, processed)
}

func TestEventHandler_MalformedIsPermanent(t *testing.T) {
	h := NewEventHandler(newService(t), &recordingScheduler{}, idempotency.NewMemoryStore(), time.Hour, logger.NewTestLogger())

	err := h.HandleMessage(context.Background(), &messaging.Message{
		EventType: events.EventPaymentSuccessful,
		Body:      []byte("{not json"),
	})
	assert.True(t, messaging.IsPermanent(err))
}

func TestEventHandler_GameReturnedSchedulesClose(t *testing.T) {
	scheduler := &recordingScheduler{}
	h := NewEventHandler(newService(t), scheduler, idempotency.NewMemoryStore(), time.Hour, logger.NewTestLogger())

	evt := events.GameReturnedEvent{
		BaseEvent: events.NewBase(events.EventRentGameReturned, "O1"),
		OrderID:   "O1",
		UserID:    "U1",
	}
	msg := publishJSON(t, events.EventRentGameReturned, evt)
	require.NoError(t, h.HandleMessage(context.Background(), msg))
	require.NoError(t, h.HandleMessage(context.Background(), msg))

	assert.Equal(t, []string{"O1"}, scheduler.orders)
}

func TestEventHandler_IgnoresUnknownTypes(t *testing.T) {
	h := NewEventHandler(newService(t), &recordingScheduler{}, idempotency.NewMemoryStore(), time.Hour, logger.NewTestLogger())
	assert.NoError(t, h.HandleMessage(context.Background(), &messaging.Message{EventType: "rent.order.created", Body: []byte("{}")}))
}

func TestSubscriptions(t *testing.T) {
	subs := Subscriptions(5)
	require.Len(t, subs, 2)

	assert.Equal(t, "payment_events", subs[0].Exchange.Name)
	assert.True(t, subs[0].Queue.Durable)
	assert.Contains(t, subs[0].Patterns, "refund.processed")
	assert.Equal(t, 5, subs[0].Prefetch)

	assert.Equal(t, "rent_events", subs[1].Exchange.Name)
	assert.Equal(t, []string{"rent.game.returned"}, subs[1].Patterns)
}
