package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kyungseok/msa-rental-go/common/errors"
)

// BookingStatusConfirmed 주문 생성이 가능한 예약 상태
const BookingStatusConfirmed = "confirmed"

// Booking 예약 정보
type Booking struct {
	ID         string
	GameID     string
	UserID     string
	Status     string
	PickupDate time.Time
}

// User 사용자 정보
type User struct {
	ID        string
	Email     string
	IsBlocked bool
}

// BookingClient 예약 서비스 클라이언트
type BookingClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewBookingClient 예약 서비스 클라이언트 생성
func NewBookingClient(baseURL string, timeout time.Duration) *BookingClient {
	return &BookingClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type bookingResponse struct {
	ID         string       `json:"id"`
	BookingID  string       `json:"booking_id"`
	GameID     string       `json:"game_id"`
	UserID     string       `json:"user_id"`
	Status     string       `json:"status"`
	PickupDate flexibleTime `json:"pickup_date"`
}

// GetBooking 예약 조회
func (c *BookingClient) GetBooking(ctx context.Context, bookingID string) (*Booking, error) {
	var resp bookingResponse
	if err := getJSON(ctx, c.httpClient, fmt.Sprintf("%s/api/v1/bookings/%s", c.baseURL, bookingID), "booking", &resp); err != nil {
		return nil, err
	}

	id := resp.ID
	if id == "" {
		id = resp.BookingID
	}
	return &Booking{
		ID:         id,
		GameID:     resp.GameID,
		UserID:     resp.UserID,
		Status:     resp.Status,
		PickupDate: time.Time(resp.PickupDate),
	}, nil
}

// UserClient 사용자 서비스 클라이언트
type UserClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewUserClient 사용자 서비스 클라이언트 생성
func NewUserClient(baseURL string, timeout time.Duration) *UserClient {
	return &UserClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type userResponse struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	IsBlocked bool   `json:"is_blocked"`
}

// GetUser 사용자 조회
func (c *UserClient) GetUser(ctx context.Context, userID string) (*User, error) {
	var resp userResponse
	if err := getJSON(ctx, c.httpClient, fmt.Sprintf("%s/api/v1/users/%s", c.baseURL, userID), "user", &resp); err != nil {
		return nil, err
	}

	id := resp.ID
	if id == "" {
		id = resp.UserID
	}
	return &User{ID: id, Email: resp.Email, IsBlocked: resp.IsBlocked}, nil
}

func getJSON(ctx context.Context, httpClient *http.Client, url, resource string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidArgument, "failed to build request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return errors.Wrap(errors.ErrCodeUpstreamUnavailable, "failed to call "+resource+" service", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errors.Newf(errors.ErrCodeNotFound, "%s not found", resource)
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Newf(errors.ErrCodeUpstreamUnavailable, "%s service returned status %d", resource, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(errors.ErrCodeUpstreamUnavailable, "failed to decode "+resource+" response", err)
	}
	return nil
}

// flexibleTime 시간대가 없는 ISO-8601 도 허용 (UTC 로 간주)
type flexibleTime time.Time

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

func (t *flexibleTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*t = flexibleTime(time.Time{})
		return nil
	}
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			*t = flexibleTime(parsed.UTC())
			return nil
		}
	}
	return fmt.Errorf("unsupported time format: %q", s)
}
