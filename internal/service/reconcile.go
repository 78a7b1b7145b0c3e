package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/dukerupert/vanir/internal/billing"
	"github.com/dukerupert/vanir/internal/domain"
	"github.com/dukerupert/vanir/internal/events"
	"github.com/dukerupert/vanir/internal/telemetry"
)

// Reconciler applies verified Polar events to the local billing state. Every
// operation is idempotent: the provider delivers at-least-once and may replay
// or reorder, so each write is an absolute assertion keyed by the provider
// reference, never an increment.
type Reconciler struct {
	store     domain.BillingStore
	publisher *events.Publisher
	metrics   *telemetry.BusinessMetrics
	logger    zerolog.Logger
}

// NewReconciler creates a Reconciler. publisher and metrics may be nil.
func NewReconciler(store domain.BillingStore, publisher *events.Publisher, metrics *telemetry.BusinessMetrics, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		store:     store,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger.With().Str("component", "reconciler").Logger(),
	}
}

// UpsertSubscription records a subscription lifecycle assertion. Used for
// created, updated, active and uncanceled events: all four carry the full
// subscription snapshot, so the same upsert serves them.
func (r *Reconciler) UpsertSubscription(ctx context.Context, sub *billing.SubscriptionData) error {
	err := r.store.UpsertSubscription(ctx, domain.UpsertSubscriptionParams{
		PolarSubscriptionID: sub.ID,
		PolarCustomerID:     sub.CustomerID,
		UserID:              sub.CustomerID,
		ProductID:           sub.LocalProductID(),
		Status:              domain.SubscriptionStatus(sub.Status),
		CurrentPeriodStart:  sub.CurrentPeriodStart,
		CurrentPeriodEnd:    sub.CurrentPeriodEnd,
		CancelAtPeriodEnd:   sub.CancelAtPeriodEnd,
	})
	if err != nil {
		return err
	}

	if r.metrics != nil {
		r.metrics.SubscriptionsUpserted.WithLabelValues(sub.Status).Inc()
	}
	r.publisher.Publish(events.SubjectSubscriptionUpdated, events.SubscriptionNotice{
		PolarSubscriptionID: sub.ID,
		UserID:              sub.CustomerID,
		Status:              sub.Status,
		CurrentPeriodEnd:    sub.CurrentPeriodEnd,
		CancelAtPeriodEnd:   sub.CancelAtPeriodEnd,
	})

	r.logger.Info().
		Str("polar_subscription_id", sub.ID).
		Str("status", sub.Status).
		Msg("subscription upserted")
	return nil
}

// CancelSubscription stages a cancellation: status becomes canceled and the
// cancel flag is set, but access runs until the period ends. Revocation is a
// separate event.
func (r *Reconciler) CancelSubscription(ctx context.Context, sub *billing.SubscriptionData) error {
	cancelAtPeriodEnd := true
	err := r.store.UpdateSubscriptionStatus(ctx, sub.ID, domain.SubscriptionStatusUpdate{
		Status:            domain.SubscriptionStatusCanceled,
		CancelAtPeriodEnd: &cancelAtPeriodEnd,
	})
	if err != nil {
		if errors.Is(err, domain.ErrSubscriptionNotFound) {
			// Cancellation for a subscription we never saw. The revoked event
			// will arrive with the same id; nothing to do now.
			r.logger.Warn().
				Str("polar_subscription_id", sub.ID).
				Msg("cancel event for unknown subscription, skipping")
			return nil
		}
		return err
	}

	if r.metrics != nil {
		r.metrics.SubscriptionsCanceled.Inc()
	}
	r.publisher.Publish(events.SubjectSubscriptionCanceled, events.SubscriptionNotice{
		PolarSubscriptionID: sub.ID,
		UserID:              sub.CustomerID,
		Status:              string(domain.SubscriptionStatusCanceled),
		CurrentPeriodEnd:    sub.CurrentPeriodEnd,
		CancelAtPeriodEnd:   true,
	})

	r.logger.Info().
		Str("polar_subscription_id", sub.ID).
		Time("access_until", sub.CurrentPeriodEnd).
		Msg("subscription canceled at period end")
	return nil
}

// RevokeSubscription marks a subscription terminal. Access is withdrawn as of
// this event.
func (r *Reconciler) RevokeSubscription(ctx context.Context, sub *billing.SubscriptionData) error {
	err := r.store.UpdateSubscriptionStatus(ctx, sub.ID, domain.SubscriptionStatusUpdate{
		Status: domain.SubscriptionStatusRevoked,
	})
	if err != nil {
		if errors.Is(err, domain.ErrSubscriptionNotFound) {
			r.logger.Warn().
				Str("polar_subscription_id", sub.ID).
				Msg("revoke event for unknown subscription, skipping")
			return nil
		}
		return err
	}

	if r.metrics != nil {
		r.metrics.SubscriptionsRevoked.Inc()
	}
	r.publisher.Publish(events.SubjectSubscriptionRevoked, events.SubscriptionNotice{
		PolarSubscriptionID: sub.ID,
		UserID:              sub.CustomerID,
		Status:              string(domain.SubscriptionStatusRevoked),
	})

	r.logger.Info().
		Str("polar_subscription_id", sub.ID).
		Msg("subscription revoked")
	return nil
}

// RecordOrderPayment records a payment for an order event. The link to a local
// subscription is best-effort: when the order references a subscription we
// have not seen yet, the payment is stored unlinked rather than dropped.
func (r *Reconciler) RecordOrderPayment(ctx context.Context, order *billing.OrderData) error {
	var subscriptionID *int64
	if order.SubscriptionID != "" {
		id, err := r.store.FindSubscriptionByExternalID(ctx, order.SubscriptionID)
		switch {
		case err == nil:
			subscriptionID = &id
		case errors.Is(err, domain.ErrSubscriptionNotFound):
			r.logger.Debug().
				Str("polar_payment_id", order.ID).
				Str("polar_subscription_id", order.SubscriptionID).
				Msg("order references unknown subscription, recording unlinked")
		default:
			return err
		}
	}

	status := domain.PaymentStatus(order.Status)
	if order.Status == "" || order.Status == "paid" {
		status = domain.PaymentStatusSucceeded
	}

	err := r.store.UpsertPayment(ctx, domain.UpsertPaymentParams{
		PolarPaymentID: order.ID,
		UserID:         order.CustomerID,
		SubscriptionID: subscriptionID,
		AmountCents:    order.AmountSubtotalCents,
		Status:         status,
	})
	if err != nil {
		return err
	}

	if r.metrics != nil {
		r.metrics.PaymentsRecorded.WithLabelValues(string(status)).Inc()
		if status == domain.PaymentStatusSucceeded {
			r.metrics.RevenueCollected.Add(float64(order.AmountSubtotalCents))
		}
	}
	r.publisher.Publish(events.SubjectPaymentRecorded, events.PaymentNotice{
		PolarPaymentID: order.ID,
		UserID:         order.CustomerID,
		AmountCents:    order.AmountSubtotalCents,
		Status:         string(status),
	})

	if order.BillingReason == billing.BillingReasonSubscriptionCycle {
		r.logger.Debug().
			Str("polar_payment_id", order.ID).
			Msg("renewal payment recorded")
	}

	r.logger.Info().
		Str("polar_payment_id", order.ID).
		Int32("amount_cents", order.AmountSubtotalCents).
		Str("status", string(status)).
		Msg("payment recorded")
	return nil
}

// RefundOrderPayment marks an existing payment refunded. A refund for an order
// we never recorded is logged and skipped; the provider is authoritative.
func (r *Reconciler) RefundOrderPayment(ctx context.Context, order *billing.OrderData) error {
	err := r.store.UpdatePaymentStatus(ctx, order.ID, domain.PaymentStatusRefunded)
	if err != nil {
		if errors.Is(err, domain.ErrPaymentNotFound) {
			r.logger.Warn().
				Str("polar_payment_id", order.ID).
				Msg("refund event for unknown payment, skipping")
			return nil
		}
		return err
	}

	if r.metrics != nil {
		r.metrics.RefundsIssued.Inc()
	}
	r.publisher.Publish(events.SubjectPaymentRefunded, events.PaymentNotice{
		PolarPaymentID: order.ID,
		UserID:         order.CustomerID,
		AmountCents:    order.AmountSubtotalCents,
		Status:         string(domain.PaymentStatusRefunded),
	})

	r.logger.Info().
		Str("polar_payment_id", order.ID).
		Msg("payment refunded")
	return nil
}
