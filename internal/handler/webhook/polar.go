package webhook

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/dukerupert/vanir/internal/billing"
	"github.com/dukerupert/vanir/internal/domain"
	"github.com/dukerupert/vanir/internal/handler"
	"github.com/dukerupert/vanir/internal/telemetry"
)

// Verifier authenticates a raw webhook delivery.
type Verifier interface {
	Verify(payload []byte, headers http.Header) error
}

// Reconciler applies verified events to the billing state.
type Reconciler interface {
	UpsertSubscription(ctx context.Context, sub *billing.SubscriptionData) error
	CancelSubscription(ctx context.Context, sub *billing.SubscriptionData) error
	RevokeSubscription(ctx context.Context, sub *billing.SubscriptionData) error
	RecordOrderPayment(ctx context.Context, order *billing.OrderData) error
	RefundOrderPayment(ctx context.Context, order *billing.OrderData) error
}

// PolarHandler handles Polar webhook events.
type PolarHandler struct {
	verifier   Verifier
	reconciler Reconciler
	metrics    *telemetry.BusinessMetrics
	logger     zerolog.Logger
}

// NewPolarHandler creates a new Polar webhook handler. metrics may be nil.
func NewPolarHandler(verifier Verifier, reconciler Reconciler, metrics *telemetry.BusinessMetrics, logger zerolog.Logger) *PolarHandler {
	return &PolarHandler{
		verifier:   verifier,
		reconciler: reconciler,
		metrics:    metrics,
		logger:     logger.With().Str("component", "webhook").Logger(),
	}
}

// HandleWebhook processes incoming Polar webhook events.
//
// Non-2xx responses are reserved for requests Polar should retry differently:
// bad signatures and unparseable bodies. Once a delivery is authenticated and
// parsed, the handler always acknowledges with 200. Reconciliation failures
// are logged and surfaced through metrics instead of the response, since a
// retry of the same payload would hit the same error.
func (h *PolarHandler) HandleWebhook(c echo.Context) error {
	startTime := time.Now()

	payload, err := io.ReadAll(c.Request().Body)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to read webhook body")
		return handler.ErrorResponse(c, domain.Errorf(domain.EINVALID, "", "Error reading request body"))
	}

	if err := h.verifier.Verify(payload, c.Request().Header); err != nil {
		h.logger.Warn().Err(err).Msg("webhook signature verification failed")
		return handler.ErrorResponse(c, domain.Errorf(domain.EUNAUTHORIZED, "", "Invalid signature"))
	}

	event, err := billing.ParseEvent(payload)
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to parse webhook payload")
		return handler.ErrorResponse(c, domain.Errorf(domain.EINVALID, "", "Invalid payload"))
	}

	h.logger.Info().Str("event_type", event.Type).Msg("webhook event received")
	if h.metrics != nil {
		h.metrics.WebhookReceived.WithLabelValues(event.Type).Inc()
		defer func() {
			h.metrics.WebhookLatency.WithLabelValues(event.Type).Observe(time.Since(startTime).Seconds())
		}()
	}

	ctx := c.Request().Context()

	switch event.Type {
	case "subscription.created", "subscription.updated", "subscription.active", "subscription.uncanceled":
		h.handleSubscriptionUpsert(ctx, event)

	case "subscription.canceled":
		h.handleSubscriptionCanceled(ctx, event)

	case "subscription.revoked":
		h.handleSubscriptionRevoked(ctx, event)

	case "order.created", "order.paid":
		h.handleOrderPaid(ctx, event)

	case "order.refunded":
		h.handleOrderRefunded(ctx, event)

	case "checkout.created", "checkout.updated":
		h.handleCheckout(event)

	case "customer.created", "customer.updated", "customer.deleted":
		h.handleCustomer(event)

	default:
		// Product and benefit events, and anything Polar adds later.
		h.logger.Info().Str("event_type", event.Type).Msg("unhandled event type")
	}

	// Always acknowledge; Polar retries on non-2xx.
	return c.JSON(http.StatusOK, map[string]bool{"received": true})
}

func (h *PolarHandler) handleSubscriptionUpsert(ctx context.Context, event *billing.Event) {
	sub := event.Data.Subscription
	if sub == nil {
		h.fail(event.Type, "missing_payload", nil)
		return
	}

	if err := h.reconciler.UpsertSubscription(ctx, sub); err != nil {
		h.logger.Error().Err(err).
			Str("event_type", event.Type).
			Str("polar_subscription_id", sub.ID).
			Msg("failed to upsert subscription")
		h.fail(event.Type, "store_error", err)
		return
	}
	h.processed(event.Type)
}

func (h *PolarHandler) handleSubscriptionCanceled(ctx context.Context, event *billing.Event) {
	sub := event.Data.Subscription
	if sub == nil {
		h.fail(event.Type, "missing_payload", nil)
		return
	}

	if err := h.reconciler.CancelSubscription(ctx, sub); err != nil {
		h.logger.Error().Err(err).
			Str("polar_subscription_id", sub.ID).
			Msg("failed to cancel subscription")
		h.fail(event.Type, "store_error", err)
		return
	}
	h.processed(event.Type)
}

func (h *PolarHandler) handleSubscriptionRevoked(ctx context.Context, event *billing.Event) {
	sub := event.Data.Subscription
	if sub == nil {
		h.fail(event.Type, "missing_payload", nil)
		return
	}

	if err := h.reconciler.RevokeSubscription(ctx, sub); err != nil {
		h.logger.Error().Err(err).
			Str("polar_subscription_id", sub.ID).
			Msg("failed to revoke subscription")
		h.fail(event.Type, "store_error", err)
		return
	}
	h.processed(event.Type)
}

func (h *PolarHandler) handleOrderPaid(ctx context.Context, event *billing.Event) {
	order := event.Data.Order
	if order == nil {
		h.fail(event.Type, "missing_payload", nil)
		return
	}

	if err := h.reconciler.RecordOrderPayment(ctx, order); err != nil {
		h.logger.Error().Err(err).
			Str("polar_payment_id", order.ID).
			Msg("failed to record payment")
		h.fail(event.Type, "store_error", err)
		return
	}
	h.processed(event.Type)
}

func (h *PolarHandler) handleOrderRefunded(ctx context.Context, event *billing.Event) {
	order := event.Data.Order
	if order == nil {
		h.fail(event.Type, "missing_payload", nil)
		return
	}

	if err := h.reconciler.RefundOrderPayment(ctx, order); err != nil {
		h.logger.Error().Err(err).
			Str("polar_payment_id", order.ID).
			Msg("failed to mark payment refunded")
		h.fail(event.Type, "store_error", err)
		return
	}
	h.processed(event.Type)
}

// handleCheckout logs checkout lifecycle events. Checkouts are not persisted;
// the subscription and order events that follow carry the billable state.
func (h *PolarHandler) handleCheckout(event *billing.Event) {
	logEvent := h.logger.Info().Str("event_type", event.Type)
	if co := event.Data.Checkout; co != nil {
		logEvent = logEvent.Str("checkout_id", co.ID).Str("status", co.Status)
	}
	logEvent.Msg("checkout event")
	h.processed(event.Type)
}

func (h *PolarHandler) handleCustomer(event *billing.Event) {
	logEvent := h.logger.Info().Str("event_type", event.Type)
	if cu := event.Data.Customer; cu != nil {
		logEvent = logEvent.Str("customer_id", cu.ID)
	}
	logEvent.Msg("customer event")
	h.processed(event.Type)
}

func (h *PolarHandler) processed(eventType string) {
	if h.metrics != nil {
		h.metrics.WebhookProcessed.WithLabelValues(eventType).Inc()
	}
}

func (h *PolarHandler) fail(eventType, reason string, err error) {
	if err == nil {
		h.logger.Warn().Str("event_type", eventType).Str("reason", reason).Msg("webhook event dropped")
	}
	if h.metrics != nil {
		h.metrics.WebhookFailed.WithLabelValues(eventType, reason).Inc()
	}
}
