package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/dukerupert/vanir/internal/billing"
	"github.com/dukerupert/vanir/internal/domain"
)

// mockGateway implements PolarGateway for testing.
type mockGateway struct {
	createCheckoutSessionFunc       func(ctx context.Context, productID, successURL string) (*billing.CheckoutSession, error)
	createCustomerPortalSessionFunc func(ctx context.Context, customerID string) (*billing.CustomerPortalSession, error)
	listProductsFunc                func(ctx context.Context) ([]billing.PolarProduct, error)
}

func (m *mockGateway) CreateCheckoutSession(ctx context.Context, productID, successURL string) (*billing.CheckoutSession, error) {
	if m.createCheckoutSessionFunc != nil {
		return m.createCheckoutSessionFunc(ctx, productID, successURL)
	}
	return nil, errors.New("not implemented")
}

func (m *mockGateway) CreateCustomerPortalSession(ctx context.Context, customerID string) (*billing.CustomerPortalSession, error) {
	if m.createCustomerPortalSessionFunc != nil {
		return m.createCustomerPortalSessionFunc(ctx, customerID)
	}
	return nil, errors.New("not implemented")
}

func (m *mockGateway) ListProducts(ctx context.Context) ([]billing.PolarProduct, error) {
	if m.listProductsFunc != nil {
		return m.listProductsFunc(ctx)
	}
	return nil, errors.New("not implemented")
}

// mockSubscriptionReader implements SubscriptionReader for testing.
type mockSubscriptionReader struct {
	findSubscriptionByUserIDFunc func(ctx context.Context, userID string) (*domain.Subscription, error)
}

func (m *mockSubscriptionReader) FindSubscriptionByUserID(ctx context.Context, userID string) (*domain.Subscription, error) {
	if m.findSubscriptionByUserIDFunc != nil {
		return m.findSubscriptionByUserIDFunc(ctx, userID)
	}
	return nil, errors.New("not implemented")
}

func newTestHandler(gateway *mockGateway) *BillingHandler {
	return NewBillingHandler(gateway, &mockSubscriptionReader{}, "https://app.example.com", zerolog.Nop())
}

func newStatusHandler(reader *mockSubscriptionReader) *BillingHandler {
	return NewBillingHandler(&mockGateway{}, reader, "https://app.example.com", zerolog.Nop())
}

func TestCreateCheckout(t *testing.T) {
	gateway := &mockGateway{
		createCheckoutSessionFunc: func(_ context.Context, productID, successURL string) (*billing.CheckoutSession, error) {
			if productID != "prod_123" {
				t.Errorf("productID = %q", productID)
			}
			if successURL != "https://app.example.com/dashboard" {
				t.Errorf("successURL = %q", successURL)
			}
			return &billing.CheckoutSession{ID: "co_456", URL: "https://polar.sh/checkout/co_456"}, nil
		},
	}
	h := newTestHandler(gateway)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/checkout?productId=prod_123", nil)
	rec := httptest.NewRecorder()

	if err := h.CreateCheckout(e.NewContext(req, rec)); err != nil {
		t.Fatalf("CreateCheckout() error = %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["url"] != "https://polar.sh/checkout/co_456" {
		t.Errorf("url = %q", body["url"])
	}
}

func TestCreateCheckout_MissingProductID(t *testing.T) {
	h := newTestHandler(&mockGateway{})

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/checkout", nil)
	rec := httptest.NewRecorder()

	if err := h.CreateCheckout(e.NewContext(req, rec)); err != nil {
		t.Fatalf("CreateCheckout() error = %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestCreateCheckout_GatewayError(t *testing.T) {
	gateway := &mockGateway{
		createCheckoutSessionFunc: func(context.Context, string, string) (*billing.CheckoutSession, error) {
			return nil, &billing.PolarError{Message: "product not found", StatusCode: 422}
		},
	}
	h := newTestHandler(gateway)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/checkout?productId=prod_missing", nil)
	rec := httptest.NewRecorder()

	if err := h.CreateCheckout(e.NewContext(req, rec)); err != nil {
		t.Fatalf("CreateCheckout() error = %v", err)
	}
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestCreatePortalSession(t *testing.T) {
	gateway := &mockGateway{
		createCustomerPortalSessionFunc: func(_ context.Context, customerID string) (*billing.CustomerPortalSession, error) {
			if customerID != "cus_456" {
				t.Errorf("customerID = %q", customerID)
			}
			return &billing.CustomerPortalSession{CustomerPortalURL: "https://polar.sh/portal/session"}, nil
		},
	}
	h := newTestHandler(gateway)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/portal", nil)
	req.Header.Set(HeaderUserID, "cus_456")
	rec := httptest.NewRecorder()

	if err := h.CreatePortalSession(e.NewContext(req, rec)); err != nil {
		t.Fatalf("CreatePortalSession() error = %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["url"] != "https://polar.sh/portal/session" {
		t.Errorf("url = %q", body["url"])
	}
}

func TestCreatePortalSession_MissingIdentity(t *testing.T) {
	h := newTestHandler(&mockGateway{})

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/portal", nil)
	rec := httptest.NewRecorder()

	if err := h.CreatePortalSession(e.NewContext(req, rec)); err != nil {
		t.Fatalf("CreatePortalSession() error = %v", err)
	}
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestListProducts(t *testing.T) {
	gateway := &mockGateway{
		listProductsFunc: func(context.Context) ([]billing.PolarProduct, error) {
			return []billing.PolarProduct{
				{
					ID:          "prod_123",
					Name:        "Pro Plan",
					IsRecurring: true,
					Prices: []billing.PolarPrice{
						{AmountType: "fixed", PriceAmount: 1900},
					},
				},
				{ID: "prod_free", Name: "Free Plan"},
			}, nil
		},
	}
	h := newTestHandler(gateway)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/products", nil)
	rec := httptest.NewRecorder()

	if err := h.ListProducts(e.NewContext(req, rec)); err != nil {
		t.Fatalf("ListProducts() error = %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body struct {
		Items []productView `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(body.Items))
	}
	if body.Items[0].Price != "$19.00" {
		t.Errorf("price = %q, want $19.00", body.Items[0].Price)
	}
	if body.Items[1].Price != "" {
		t.Errorf("free plan price = %q, want empty", body.Items[1].Price)
	}
}

func TestGetSubscriptionStatus(t *testing.T) {
	periodEnd := time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		sub        *domain.Subscription
		wantActive bool
	}{
		{
			name:       "active",
			sub:        &domain.Subscription{Status: domain.SubscriptionStatusActive, CurrentPeriodEnd: periodEnd},
			wantActive: true,
		},
		{
			name:       "trialing counts as active",
			sub:        &domain.Subscription{Status: domain.SubscriptionStatusTrialing, CurrentPeriodEnd: periodEnd},
			wantActive: true,
		},
		{
			name:       "canceled retains record but not entitlement",
			sub:        &domain.Subscription{Status: domain.SubscriptionStatusCanceled, CancelAtPeriodEnd: true, CurrentPeriodEnd: periodEnd},
			wantActive: false,
		},
		{
			name:       "revoked",
			sub:        &domain.Subscription{Status: domain.SubscriptionStatusRevoked},
			wantActive: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := &mockSubscriptionReader{
				findSubscriptionByUserIDFunc: func(_ context.Context, userID string) (*domain.Subscription, error) {
					if userID != "user_123" {
						t.Errorf("userID = %q", userID)
					}
					return tt.sub, nil
				},
			}
			h := newStatusHandler(reader)

			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/api/subscription", nil)
			req.Header.Set(HeaderUserID, "user_123")
			rec := httptest.NewRecorder()

			if err := h.GetSubscriptionStatus(e.NewContext(req, rec)); err != nil {
				t.Fatalf("GetSubscriptionStatus() error = %v", err)
			}
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}

			var body struct {
				Active bool   `json:"active"`
				Status string `json:"status"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body.Active != tt.wantActive {
				t.Errorf("active = %v, want %v", body.Active, tt.wantActive)
			}
			if body.Status != string(tt.sub.Status) {
				t.Errorf("status = %q, want %q", body.Status, tt.sub.Status)
			}
		})
	}
}

func TestGetSubscriptionStatus_NoSubscription(t *testing.T) {
	reader := &mockSubscriptionReader{
		findSubscriptionByUserIDFunc: func(context.Context, string) (*domain.Subscription, error) {
			return nil, domain.ErrSubscriptionNotFound
		},
	}
	h := newStatusHandler(reader)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/subscription", nil)
	req.Header.Set(HeaderUserID, "user_new")
	rec := httptest.NewRecorder()

	if err := h.GetSubscriptionStatus(e.NewContext(req, rec)); err != nil {
		t.Fatalf("GetSubscriptionStatus() error = %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for users without history", rec.Code)
	}

	var body struct {
		Active bool `json:"active"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Active {
		t.Error("active = true for user without subscriptions")
	}
}

func TestGetSubscriptionStatus_MissingIdentity(t *testing.T) {
	h := newStatusHandler(&mockSubscriptionReader{})

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/subscription", nil)
	rec := httptest.NewRecorder()

	if err := h.GetSubscriptionStatus(e.NewContext(req, rec)); err != nil {
		t.Fatalf("GetSubscriptionStatus() error = %v", err)
	}
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestGetSubscriptionStatus_StoreError(t *testing.T) {
	reader := &mockSubscriptionReader{
		findSubscriptionByUserIDFunc: func(context.Context, string) (*domain.Subscription, error) {
			return nil, domain.Internal(errors.New("connection reset"), "subscription.find", "failed to look up subscription")
		},
	}
	h := newStatusHandler(reader)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/subscription", nil)
	req.Header.Set(HeaderUserID, "user_123")
	rec := httptest.NewRecorder()

	if err := h.GetSubscriptionStatus(e.NewContext(req, rec)); err != nil {
		t.Fatalf("GetSubscriptionStatus() error = %v", err)
	}
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}
