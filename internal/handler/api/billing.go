package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/dukerupert/vanir/internal/billing"
	"github.com/dukerupert/vanir/internal/domain"
	"github.com/dukerupert/vanir/internal/handler"
)

// HeaderUserID identifies the authenticated user on API requests. The user id
// doubles as the Polar customer id; an upstream gateway sets the header after
// authentication.
const HeaderUserID = "X-User-Id"

// PolarGateway is the slice of the Polar API the billing endpoints use.
type PolarGateway interface {
	CreateCheckoutSession(ctx context.Context, productID, successURL string) (*billing.CheckoutSession, error)
	CreateCustomerPortalSession(ctx context.Context, customerID string) (*billing.CustomerPortalSession, error)
	ListProducts(ctx context.Context) ([]billing.PolarProduct, error)
}

// SubscriptionReader is the slice of the store the status endpoint reads.
type SubscriptionReader interface {
	FindSubscriptionByUserID(ctx context.Context, userID string) (*domain.Subscription, error)
}

// BillingHandler exposes checkout, portal, catalog and subscription status
// endpoints backed by the Polar API and the local billing store.
type BillingHandler struct {
	gateway       PolarGateway
	subscriptions SubscriptionReader
	baseURL       string
	validate      *validator.Validate
	logger        zerolog.Logger
}

// NewBillingHandler creates a new billing API handler. baseURL is the public
// origin buyers return to after checkout.
func NewBillingHandler(gateway PolarGateway, subscriptions SubscriptionReader, baseURL string, logger zerolog.Logger) *BillingHandler {
	return &BillingHandler{
		gateway:       gateway,
		subscriptions: subscriptions,
		baseURL:       baseURL,
		validate:      validator.New(),
		logger:        logger.With().Str("component", "api").Logger(),
	}
}

type checkoutQuery struct {
	ProductID string `query:"productId" validate:"required"`
}

// CreateCheckout handles GET /api/checkout?productId=...
// Creates a hosted checkout for the product and returns its URL.
func (h *BillingHandler) CreateCheckout(c echo.Context) error {
	var query checkoutQuery
	if err := c.Bind(&query); err != nil {
		return handler.ErrorResponse(c, domain.Invalid("checkout.create", "invalid query parameters"))
	}
	if err := h.validate.Struct(&query); err != nil {
		return handler.ErrorResponse(c, domain.Invalid("checkout.create", "productId is required"))
	}

	session, err := h.gateway.CreateCheckoutSession(c.Request().Context(), query.ProductID, h.baseURL+"/dashboard")
	if err != nil {
		h.logger.Error().Err(err).Str("product_id", query.ProductID).Msg("failed to create checkout session")
		return handler.ErrorResponse(c, domain.Internal(err, "checkout.create", "failed to create checkout session"))
	}

	return c.JSON(http.StatusOK, map[string]string{"url": session.URL})
}

// CreatePortalSession handles POST /api/portal
// Issues a customer portal link for the authenticated user.
func (h *BillingHandler) CreatePortalSession(c echo.Context) error {
	userID := c.Request().Header.Get(HeaderUserID)
	if userID == "" {
		return handler.ErrorResponse(c, domain.Unauthorized("portal.create", "missing user identity"))
	}

	session, err := h.gateway.CreateCustomerPortalSession(c.Request().Context(), userID)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("failed to create portal session")
		return handler.ErrorResponse(c, domain.Internal(err, "portal.create", "failed to create portal session"))
	}

	return c.JSON(http.StatusOK, map[string]string{"url": session.CustomerPortalURL})
}

// productView is the catalog entry shape returned to clients.
type productView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       string `json:"price"`
	IsRecurring bool   `json:"is_recurring"`
}

// ListProducts handles GET /api/products
// Proxies the live Polar catalog so prices are never stale.
func (h *BillingHandler) ListProducts(c echo.Context) error {
	products, err := h.gateway.ListProducts(c.Request().Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list products")
		return handler.ErrorResponse(c, domain.Internal(err, "product.list", "failed to list products"))
	}

	views := make([]productView, len(products))
	for i, p := range products {
		view := productView{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			IsRecurring: p.IsRecurring,
		}
		if len(p.Prices) > 0 {
			view.Price = billing.FormatPrice(p.Prices[0])
		}
		views[i] = view
	}

	return c.JSON(http.StatusOK, map[string]any{"items": views})
}

// subscriptionStatusView is the subscription summary returned to dashboards.
type subscriptionStatusView struct {
	Active            bool       `json:"active"`
	Status            string     `json:"status,omitempty"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end,omitempty"`
	CurrentPeriodEnd  *time.Time `json:"current_period_end,omitempty"`
}

// GetSubscriptionStatus handles GET /api/subscription
// Reports whether the authenticated user currently holds an active
// entitlement. Users with no subscription history get active=false rather
// than an error.
func (h *BillingHandler) GetSubscriptionStatus(c echo.Context) error {
	userID := c.Request().Header.Get(HeaderUserID)
	if userID == "" {
		return handler.ErrorResponse(c, domain.Unauthorized("subscription.status", "missing user identity"))
	}

	sub, err := h.subscriptions.FindSubscriptionByUserID(c.Request().Context(), userID)
	if err != nil {
		if domain.IsCode(err, domain.ENOTFOUND) {
			return c.JSON(http.StatusOK, subscriptionStatusView{Active: false})
		}
		h.logger.Error().Err(err).Str("user_id", userID).Msg("failed to look up subscription")
		return handler.ErrorResponse(c, domain.Internal(err, "subscription.status", "failed to look up subscription"))
	}

	return c.JSON(http.StatusOK, subscriptionStatusView{
		Active:            domain.HasActiveSubscription(sub.Status),
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		CurrentPeriodEnd:  &sub.CurrentPeriodEnd,
	})
}
